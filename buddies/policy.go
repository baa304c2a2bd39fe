// Package buddies partitions the members of an anonymity session into
// buddy groups and accounts for how much anonymity each pseudonym and
// member retains as members churn.
package buddies

import (
	"github.com/dedis/dissent/common"
)

// Sentinel buckets for members not yet assigned to a group.
const (
	onlineUnallocated  = -1
	offlineUnallocated = -2
)

// Policy partitions members into buddy groups. Implementations decide when
// and how groups form; the base bookkeeping of member buckets and group
// online state is shared.
type Policy interface {
	// SetOnlineMembers records which members are online at this interval
	// and lets the policy update its grouping.
	SetOnlineMembers(online *common.BitVector)
	// UsefulMembers returns the members currently capable of contributing:
	// online-unallocated members and members of fully-online groups.
	UsefulMembers() *common.BitVector
	// Count returns the number of members.
	Count() int
	// OnlineMembers returns the most recent online vector.
	OnlineMembers() *common.BitVector
}

// basePolicy carries the shared group bookkeeping. Variants embed it and
// install their regrouping hook via the update field.
type basePolicy struct {
	count         int
	groups        [][]int
	members       []int // member -> group index or sentinel bucket
	online        []bool
	onlineMembers *common.BitVector
	update        func()
}

func newBasePolicy(count int) *basePolicy {
	members := make([]int, count)
	for idx := range members {
		members[idx] = onlineUnallocated
	}
	return &basePolicy{
		count:         count,
		members:       members,
		onlineMembers: common.NewBitVector(count),
	}
}

func (p *basePolicy) SetOnlineMembers(online *common.BitVector) {
	p.onlineMembers = online.Clone()
	p.update()

	for idx := range p.groups {
		p.online[idx] = true
		for _, member := range p.groups[idx] {
			if !p.onlineMembers.Get(member) {
				p.online[idx] = false
				break
			}
		}
	}
}

func (p *basePolicy) UsefulMembers() *common.BitVector {
	useful := common.NewBitVector(p.count)
	for idx := 0; idx < p.count; idx++ {
		gid := p.members[idx]
		useful.Set(idx, gid != offlineUnallocated && (gid == onlineUnallocated || p.online[gid]))
	}
	return useful
}

func (p *basePolicy) Count() int {
	return p.count
}

func (p *basePolicy) OnlineMembers() *common.BitVector {
	return p.onlineMembers.Clone()
}

// appendGroup adds a group, returning its index. Indexes are assigned
// incrementally, so totalGroups is also the next group index.
func (p *basePolicy) appendGroup(group []int) int {
	idx := len(p.groups)
	p.groups = append(p.groups, group)
	p.online = append(p.online, false)
	return idx
}

func (p *basePolicy) totalGroups() int {
	return len(p.groups)
}

func (p *basePolicy) setMemberGroup(uid, gid int) {
	p.members[uid] = gid
}
