package buddies

import (
	"sort"

	"github.com/dedis/dissent/common"
)

// StaticPolicy partitions members once, at construction, into groups of at
// least setSize. Assignments never change afterwards.
type StaticPolicy struct {
	*basePolicy
}

var _ Policy = (*StaticPolicy)(nil)

// NewStaticPolicy organizes members by id order, or by a seeded
// pseudorandom permutation when random is set.
func NewStaticPolicy(count, setSize int, random bool) *StaticPolicy {
	p := &StaticPolicy{basePolicy: newBasePolicy(count)}
	p.update = func() {}

	order := make([]int, count)
	for idx := range order {
		order[idx] = idx
	}
	if random {
		seed := common.WriteUint32(nil, uint32(count))
		seed = common.WriteUint32(seed, uint32(setSize))
		common.RandomPermutation(order, common.NewStreamRng(common.SeedDigest(seed)))
	}
	p.organize(order, setSize)
	return p
}

// NewStaticPolicyOnlineTimes organizes members by ascending online time.
// onlineTimes is indexed by member id.
func NewStaticPolicyOnlineTimes(count, setSize int, onlineTimes []int64) *StaticPolicy {
	p := &StaticPolicy{basePolicy: newBasePolicy(count)}
	p.update = func() {}
	p.organize(orderByTime(onlineTimes), setSize)
	return p
}

func orderByTime(onlineTimes []int64) []int {
	order := make([]int, len(onlineTimes))
	for idx := range order {
		order[idx] = idx
	}
	sort.SliceStable(order, func(i, j int) bool {
		return onlineTimes[order[i]] < onlineTimes[order[j]]
	})
	return order
}

// organize distributes the remainder by enlarging the leading groups by
// one member each; no group ends up smaller than setSize.
func (p *StaticPolicy) organize(order []int, setSize int) {
	groups := len(order) / setSize
	if groups == 0 {
		groups = 1
	}
	min := setSize + (len(order)%setSize)/groups
	extra := (len(order) % setSize) % groups

	var group []int
	for _, idx := range order {
		group = append(group, idx)
		p.setMemberGroup(idx, p.totalGroups())
		target := min
		if extra > 0 {
			target = min + 1
		}
		if len(group) == target {
			if extra > 0 {
				extra--
			}
			p.appendGroup(group)
			group = nil
		}
	}
	if len(group) > 0 {
		p.appendGroup(group)
	}
}
