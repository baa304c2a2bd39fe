package buddies

import (
	"github.com/dedis/dissent/common"
)

// Monitor tracks, per pseudonym and per member, which attributions remain
// possible as pseudonyms become active while members are offline, and
// refuses reveals that would shrink any member's anonymity set below the
// configured floor.
type Monitor struct {
	policy  Policy
	minAnon int

	// memberSet[j][i]: member j is still compatible with pseudonym i.
	memberSet *common.BitMatrix
	// nymSet[i][j]: pseudonym i is still compatible with member j.
	nymSet *common.BitMatrix
	// usedNyms marks pseudonyms that have been active at least once.
	usedNyms *common.BitVector
}

func NewMonitor(policy Policy, minAnon int) *Monitor {
	n := policy.Count()
	return &Monitor{
		policy:    policy,
		minAnon:   minAnon,
		memberSet: common.NewBitMatrixFilled(n, n, true),
		nymSet:    common.NewBitMatrixFilled(n, n, true),
		usedNyms:  common.NewBitVector(n),
	}
}

func (m *Monitor) Count() int {
	return m.policy.Count()
}

func (m *Monitor) SetOnlineMembers(online *common.BitVector) {
	m.policy.SetOnlineMembers(online)
}

func (m *Monitor) UsefulMembers() *common.BitVector {
	return m.policy.UsefulMembers()
}

// SetActiveNym records that pseudonym idx was observed active. Every
// member that is not currently useful cannot have produced it, so those
// pairings are eliminated.
func (m *Monitor) SetActiveNym(idx int) {
	m.usedNyms.Set(idx, true)
	useful := m.policy.UsefulMembers()
	for jdx := 0; jdx < useful.Len(); jdx++ {
		if useful.Get(jdx) {
			continue
		}
		m.memberSet.Set(jdx, idx, false)
		m.nymSet.Set(idx, jdx, false)
	}
}

func (m *Monitor) SetActiveNyms(nyms *common.BitVector) {
	for idx := 0; idx < m.Count(); idx++ {
		if nyms.Get(idx) {
			m.SetActiveNym(idx)
		}
	}
}

// ShouldRevealNyms returns the subset of the candidate pseudonyms that can
// be revealed now without reducing any member's anonymity below the floor.
// Candidates are considered in index order against a working copy of the
// member matrix, so earlier commits constrain later candidates.
func (m *Monitor) ShouldRevealNyms(nyms *common.BitVector) *common.BitVector {
	if m.minAnon == 0 {
		return nyms.Clone()
	}

	n := m.Count()
	memberSet := m.memberSet.Clone()
	useful := m.UsefulMembers()
	rv := common.NewBitVector(nyms.Len())

	for idx := 0; idx < n; idx++ {
		if !nyms.Get(idx) {
			continue
		}

		if m.nymSet.Row(idx).And(useful).Count() < m.minAnon {
			continue
		}

		snapshot := memberSet.Clone()
		bad := false
		for jdx := 0; jdx < n; jdx++ {
			if useful.Get(jdx) {
				continue
			}
			if memberSet.Get(jdx, idx) && memberSet.RowCount(jdx) == m.minAnon {
				bad = true
				break
			}
			memberSet.Set(jdx, idx, false)
		}

		if bad {
			memberSet = snapshot
		} else {
			rv.Set(idx, true)
		}
	}
	return rv
}

// NymAnonymity is the number of members still compatible with pseudonym
// idx.
func (m *Monitor) NymAnonymity(idx int) int {
	return m.nymSet.RowCount(idx)
}

// MemberAnonymity is the number of pseudonyms still attributable to member
// idx.
func (m *Monitor) MemberAnonymity(idx int) int {
	return m.memberSet.RowCount(idx)
}

// ConservativeAnonymity discounts every used pseudonym from the nym
// anonymity of idx.
func (m *Monitor) ConservativeAnonymity(idx int) int {
	return m.NymAnonymity(idx) - m.usedNyms.Count()
}

func (m *Monitor) MemberScore(idx int) float64 {
	total := 0
	for jdx := 0; jdx < m.Count(); jdx++ {
		if !m.nymSet.Get(idx, jdx) {
			continue
		}
		total += m.MemberAnonymity(jdx)
	}
	return float64(total) / float64(m.Count())
}

func (m *Monitor) NymScore(idx int) float64 {
	total := 0
	for jdx := 0; jdx < m.Count(); jdx++ {
		if !m.memberSet.Get(idx, jdx) {
			continue
		}
		total += m.NymAnonymity(jdx)
	}
	return float64(total) / float64(m.Count())
}
