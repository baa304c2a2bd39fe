package buddies

import (
	"testing"

	logging "github.com/ipfs/go-log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedis/dissent/common"
)

func setUp(level string) {
	if err := logging.SetLogLevel("dissent", level); err != nil {
		panic(err)
	}
}

func nymVector(n int, set ...int) *common.BitVector {
	bv := common.NewBitVector(n)
	for _, idx := range set {
		bv.Set(idx, true)
	}
	return bv
}

func TestMonitorStartsAllOnes(t *testing.T) {
	m := NewMonitor(NewNullPolicy(4), 2)
	for idx := 0; idx < 4; idx++ {
		assert.Equal(t, 4, m.NymAnonymity(idx))
		assert.Equal(t, 4, m.MemberAnonymity(idx))
	}
}

func TestSetActiveNymEliminatesOfflineMembers(t *testing.T) {
	m := NewMonitor(NewNullPolicy(4), 0)
	m.SetOnlineMembers(onlineVector(4, 3))

	m.SetActiveNym(0)
	assert.Equal(t, 3, m.NymAnonymity(0), "offline member eliminated from nym 0")
	assert.Equal(t, 3, m.MemberAnonymity(3), "nym 0 no longer attributable to member 3")
	assert.Equal(t, 4, m.NymAnonymity(1), "inactive nyms untouched")
}

func TestUsedNymMonotonicity(t *testing.T) {
	m := NewMonitor(NewNullPolicy(4), 0)
	m.SetOnlineMembers(onlineVector(4))

	m.SetActiveNyms(nymVector(4, 0, 2))
	assert.Equal(t, 4-2, m.ConservativeAnonymity(1))

	// reactivation cannot clear the used bit
	m.SetActiveNym(0)
	assert.Equal(t, 4-2, m.ConservativeAnonymity(1))
}

func TestShouldRevealNymsMinAnonZero(t *testing.T) {
	m := NewMonitor(NewNullPolicy(4), 0)
	m.SetOnlineMembers(onlineVector(4, 1, 2))

	in := nymVector(4, 0, 1, 2, 3)
	out := m.ShouldRevealNyms(in)
	assert.True(t, in.Equal(out))
}

// Reveal floor: n = 8, minAnon = 3, nyms 0 and 1 already active while
// members 4 and 5 are offline. No reveal may push a member below 3.
func TestRevealFloor(t *testing.T) {
	setUp("error")
	n := 8
	m := NewMonitor(NewNullPolicy(n), 3)

	m.SetOnlineMembers(onlineVector(n, 4, 5))
	m.SetActiveNyms(nymVector(n, 0, 1))

	before := make([]int, n)
	for j := 0; j < n; j++ {
		before[j] = m.MemberAnonymity(j)
	}

	out := m.ShouldRevealNyms(nymVector(n, 0, 1, 2))

	// the result is a subset of the candidates
	assert.True(t, out.Or(nymVector(n, 0, 1, 2)).Equal(nymVector(n, 0, 1, 2)))

	// apply the committed subset and inspect the matrices directly
	m.SetActiveNyms(out)
	for j := 0; j < n; j++ {
		anon := m.MemberAnonymity(j)
		assert.True(t, anon >= 3 || anon == before[j],
			"member %d fell below the floor: %d", j, anon)
	}
}

func TestShouldRevealRollsBackBlockedCandidates(t *testing.T) {
	n := 4
	m := NewMonitor(NewNullPolicy(n), 3)
	m.SetOnlineMembers(onlineVector(n, 3))

	// activating nym 0 leaves member 3 with anonymity 3 == minAnon, so
	// nothing may be revealed that touches member 3 further
	m.SetActiveNym(0)
	assert.Equal(t, 3, m.MemberAnonymity(3))

	out := m.ShouldRevealNyms(nymVector(n, 1, 2))
	assert.Equal(t, 0, out.Count(), "reveals blocked at the floor")
	assert.Equal(t, 3, m.MemberAnonymity(3), "state unchanged by the query")
}

func TestMonitorScores(t *testing.T) {
	n := 4
	m := NewMonitor(NewNullPolicy(n), 0)
	m.SetOnlineMembers(onlineVector(n))

	require.InDelta(t, 4.0, m.MemberScore(0), 1e-9)
	require.InDelta(t, 4.0, m.NymScore(0), 1e-9)

	m.SetOnlineMembers(onlineVector(n, 3))
	m.SetActiveNym(0)
	assert.True(t, m.MemberScore(0) < 4.0)
}
