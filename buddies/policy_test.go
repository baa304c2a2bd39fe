package buddies

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/dedis/dissent/common"
)

func onlineVector(n int, offline ...int) *common.BitVector {
	bv := common.NewBitVectorFilled(n, true)
	for _, idx := range offline {
		bv.Set(idx, false)
	}
	return bv
}

func TestNullPolicyUsefulEqualsOnline(t *testing.T) {
	p := NewNullPolicy(6)
	online := onlineVector(6, 2, 4)
	p.SetOnlineMembers(online)

	useful := p.UsefulMembers()
	assert.True(t, useful.Equal(online))
}

func TestStaticPolicyGroupSizes(t *testing.T) {
	// 10 members, sets of 3: one group takes the remainder member
	p := NewStaticPolicy(10, 3, false)

	sizes := map[int]int{}
	for _, gid := range p.members {
		assert.True(t, gid >= 0, "every member must be grouped")
		sizes[gid]++
	}
	assert.Equal(t, 3, len(sizes))
	total := 0
	var below int
	for _, size := range sizes {
		total += size
		assert.True(t, size >= 3, "no group below the set size")
		if size == 4 {
			below++
		}
	}
	assert.Equal(t, 10, total)
	assert.Equal(t, 1, below, "exactly one group absorbs the remainder")
}

func TestStaticPolicyGroupOffline(t *testing.T) {
	p := NewStaticPolicy(6, 3, false)

	// one member of the first group offline takes the whole group out of
	// the useful set
	p.SetOnlineMembers(onlineVector(6, 0))
	useful := p.UsefulMembers()
	groupOf0 := p.members[0]
	for idx := 0; idx < 6; idx++ {
		if p.members[idx] == groupOf0 {
			assert.False(t, useful.Get(idx))
		} else {
			assert.True(t, useful.Get(idx))
		}
	}
}

func TestStaticPolicyOnlineTimesOrder(t *testing.T) {
	// ascending online time ordering puts members 3,4,5 in the first group
	times := []int64{50, 60, 70, 1, 2, 3}
	p := NewStaticPolicyOnlineTimes(6, 3, times)
	assert.Equal(t, p.members[3], p.members[4])
	assert.Equal(t, p.members[4], p.members[5])
	assert.NotEqual(t, p.members[0], p.members[3])
}

func TestStaticPolicySeededPermutationIsDeterministic(t *testing.T) {
	a := NewStaticPolicy(9, 3, true)
	b := NewStaticPolicy(9, 3, true)
	assert.Equal(t, a.members, b.members)
}

func TestDynamicPolicyFirstCallAllocatesBuckets(t *testing.T) {
	p := NewDynamicPolicy(8, 2, false)
	p.SetOnlineMembers(onlineVector(8, 6, 7))

	useful := p.UsefulMembers()
	for idx := 0; idx < 6; idx++ {
		assert.True(t, useful.Get(idx), "online unallocated members are useful")
	}
	assert.False(t, useful.Get(6), "offline unallocated members are never useful")
	assert.False(t, useful.Get(7))
}

func TestDynamicPolicyOfflineGrouping(t *testing.T) {
	p := NewDynamicPolicy(8, 2, false)
	p.SetOnlineMembers(onlineVector(8))

	// member 3 goes offline: it is grouped and padded up to the set size
	p.SetOnlineMembers(onlineVector(8, 3))

	gid := p.members[3]
	assert.True(t, gid >= 0)
	size := 0
	for _, g := range p.members {
		if g == gid {
			size++
		}
	}
	assert.Equal(t, 2, size)

	// the group contains an offline member, so it is not useful
	useful := p.UsefulMembers()
	for idx, g := range p.members {
		if g == gid {
			assert.False(t, useful.Get(idx))
		}
	}
}

func TestDynamicPolicyDrainsSmallPool(t *testing.T) {
	p := NewDynamicPolicy(4, 2, false)
	p.SetOnlineMembers(onlineVector(4, 3))

	// the online pool of 3 is below 2*setSize, so a departure drains the
	// whole pool into a single group
	p.SetOnlineMembers(onlineVector(4, 0, 3))

	gid := p.members[0]
	assert.True(t, gid >= 0)
	assert.Equal(t, gid, p.members[1])
	assert.Equal(t, gid, p.members[2])
	assert.Equal(t, offlineUnallocated, p.members[3])
}

func TestDynamicPolicyOnlineRegrouping(t *testing.T) {
	p := NewDynamicPolicy(8, 2, false)
	p.SetOnlineMembers(onlineVector(8, 4, 5, 6, 7))

	// two offline members come back: they form a fresh group
	p.SetOnlineMembers(onlineVector(8, 6, 7))
	gid := p.members[4]
	assert.True(t, gid >= 0)
	assert.Equal(t, gid, p.members[5])

	useful := p.UsefulMembers()
	assert.True(t, useful.Get(4))
	assert.True(t, useful.Get(5))
}

func TestDynamicPolicyAdvancesOnlineTimes(t *testing.T) {
	clock := clockwork.NewFakeClock()
	times := []int64{0, 0, 0, 0}
	p := NewDynamicPolicyOnlineTimes(4, 2, times, clock)

	p.SetOnlineMembers(onlineVector(4, 3))
	clock.Advance(10 * time.Second)
	p.SetOnlineMembers(onlineVector(4, 3))

	assert.Equal(t, int64(10000), p.onlineTimes[0])
	assert.Equal(t, int64(0), p.onlineTimes[3], "offline members accrue nothing")
}
