package identity

import (
	"sort"

	"github.com/pkg/errors"
	"go.dedis.ch/protobuf"

	"github.com/dedis/dissent/crypto"
)

// SubgroupPolicy selects how a group's server subgroup is derived.
type SubgroupPolicy int32

const (
	CompleteGroup SubgroupPolicy = iota
	FixedSubgroup
	ManagedSubgroup
	DisabledGroup
)

// FixedSubgroupSize bounds the subgroup under the FixedSubgroup policy.
const FixedSubgroupSize = 10

func (p SubgroupPolicy) String() string {
	switch p {
	case CompleteGroup:
		return "CompleteGroup"
	case FixedSubgroup:
		return "FixedSubgroup"
	case ManagedSubgroup:
		return "ManagedSubgroup"
	case DisabledGroup:
		return "DisabledGroup"
	}
	return "Unknown"
}

// ParseSubgroupPolicy maps the configuration name back to a policy.
func ParseSubgroupPolicy(name string) (SubgroupPolicy, error) {
	switch name {
	case "CompleteGroup":
		return CompleteGroup, nil
	case "FixedSubgroup":
		return FixedSubgroup, nil
	case "ManagedSubgroup":
		return ManagedSubgroup, nil
	case "DisabledGroup":
		return DisabledGroup, nil
	}
	return DisabledGroup, errors.Errorf("unknown subgroup policy %q", name)
}

// Group is an immutable, sorted roster of public identities plus a leader
// and a subgroup policy. Groups are values: membership changes go through
// AddGroupMember / RemoveGroupMember, which return new groups.
type Group struct {
	roster   []PublicIdentity
	index    map[crypto.Id]int
	leader   crypto.Id
	policy   SubgroupPolicy
	subgroup *Group
}

// NewGroup builds a group from roster (any input order), deriving the
// subgroup from the policy. Under ManagedSubgroup, pass the subgroup
// roster explicitly.
func NewGroup(roster []PublicIdentity, leader crypto.Id, policy SubgroupPolicy, subgroup ...[]PublicIdentity) Group {
	sorted := make([]PublicIdentity, len(roster))
	copy(sorted, roster)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Compare(sorted[j]) < 0
	})

	index := make(map[crypto.Id]int, len(sorted))
	for idx, ident := range sorted {
		index[ident.Id] = idx
	}

	g := Group{
		roster: sorted,
		index:  index,
		leader: leader,
		policy: policy,
	}

	var sub Group
	switch policy {
	case DisabledGroup:
		sub = emptyGroup()
	case FixedSubgroup:
		size := len(sorted)
		if size > FixedSubgroupSize {
			size = FixedSubgroupSize
		}
		sub = NewGroup(sorted[:size], leader, DisabledGroup)
	case ManagedSubgroup:
		var sg []PublicIdentity
		if len(subgroup) > 0 {
			sg = subgroup[0]
		}
		sub = NewGroup(sg, leader, DisabledGroup)
	default:
		sub = NewGroup(sorted, leader, DisabledGroup)
	}
	g.subgroup = &sub
	return g
}

func emptyGroup() Group {
	sub := Group{index: map[crypto.Id]int{}, policy: DisabledGroup}
	return sub
}

func (g Group) Count() int {
	return len(g.roster)
}

func (g Group) Leader() crypto.Id {
	return g.leader
}

func (g Group) Policy() SubgroupPolicy {
	return g.policy
}

// Subgroup returns the derived (or managed) server subgroup. The subgroup
// of a subgroup is always empty.
func (g Group) Subgroup() Group {
	if g.subgroup == nil {
		return emptyGroup()
	}
	return *g.subgroup
}

// Roster returns a copy of the sorted roster.
func (g Group) Roster() []PublicIdentity {
	out := make([]PublicIdentity, len(g.roster))
	copy(out, g.roster)
	return out
}

func (g Group) Contains(id crypto.Id) bool {
	_, ok := g.index[id]
	return ok
}

// GetIndex returns the roster position of id, or -1.
func (g Group) GetIndex(id crypto.Id) int {
	if idx, ok := g.index[id]; ok {
		return idx
	}
	return -1
}

// GetId returns the id at roster position idx, or the zero id.
func (g Group) GetId(idx int) crypto.Id {
	if idx < 0 || idx >= len(g.roster) {
		return crypto.ZeroId
	}
	return g.roster[idx].Id
}

// GetIdentity returns the identity at roster position idx.
func (g Group) GetIdentity(idx int) (PublicIdentity, bool) {
	if idx < 0 || idx >= len(g.roster) {
		return PublicIdentity{}, false
	}
	return g.roster[idx], true
}

// Next returns the id following id in roster order, or the zero id.
func (g Group) Next(id crypto.Id) crypto.Id {
	return g.GetId(g.GetIndex(id) + 1)
}

// Previous returns the id preceding id in roster order, or the zero id.
func (g Group) Previous(id crypto.Id) crypto.Id {
	idx := g.GetIndex(id)
	if idx < 0 {
		return crypto.ZeroId
	}
	return g.GetId(idx - 1)
}

// GetKey returns the verification key of id, or nil if unknown.
func (g Group) GetKey(id crypto.Id) crypto.PubKey {
	idx := g.GetIndex(id)
	if idx < 0 {
		return nil
	}
	return g.roster[idx].VerKey
}

// GetDhKey returns the public DH component of id, or nil if unknown.
func (g Group) GetDhKey(id crypto.Id) []byte {
	idx := g.GetIndex(id)
	if idx < 0 {
		return nil
	}
	return g.roster[idx].DhKey
}

// Equal compares rosters in order, leader, policy and subgroups.
func (g Group) Equal(other Group) bool {
	if len(g.roster) != len(other.roster) {
		return false
	}
	for idx := range g.roster {
		if !g.roster[idx].Equal(other.roster[idx]) {
			return false
		}
	}
	if g.leader != other.leader || g.policy != other.policy {
		return false
	}
	sg, osg := g.Subgroup(), other.Subgroup()
	if sg.Count() == 0 && osg.Count() == 0 {
		return true
	}
	if g.policy == DisabledGroup {
		return true
	}
	return sg.Equal(osg)
}

// AddGroupMember returns a new group with ident appended. Under
// ManagedSubgroup, subgroup controls whether ident joins the subgroup too.
func AddGroupMember(group Group, ident PublicIdentity, subgroup bool) Group {
	if group.Contains(ident.Id) {
		return group
	}
	roster := append(group.Roster(), ident)
	if group.policy == ManagedSubgroup {
		sg := group.Subgroup().Roster()
		if subgroup {
			sg = append(sg, ident)
		}
		return NewGroup(roster, group.leader, group.policy, sg)
	}
	return NewGroup(roster, group.leader, group.policy)
}

// RemoveGroupMember returns a new group without id.
func RemoveGroupMember(group Group, id crypto.Id) Group {
	idx := group.GetIndex(id)
	if idx < 0 {
		return group
	}
	roster := group.Roster()
	roster = append(roster[:idx], roster[idx+1:]...)
	if group.policy == ManagedSubgroup {
		sg := group.Subgroup().Roster()
		if sgIdx := group.Subgroup().GetIndex(id); sgIdx >= 0 {
			sg = append(sg[:sgIdx], sg[sgIdx+1:]...)
		}
		return NewGroup(roster, group.leader, group.policy, sg)
	}
	return NewGroup(roster, group.leader, group.policy)
}

type wireGroup struct {
	Roster   [][]byte
	Leader   []byte
	Policy   int32
	Subgroup [][]byte
}

// Marshal serializes the group for the wire.
func (g Group) Marshal() ([]byte, error) {
	w := wireGroup{
		Leader: g.leader.Bytes(),
		Policy: int32(g.policy),
	}
	for _, ident := range g.roster {
		b, err := ident.Marshal()
		if err != nil {
			return nil, err
		}
		w.Roster = append(w.Roster, b)
	}
	if g.policy == ManagedSubgroup {
		for _, ident := range g.Subgroup().roster {
			b, err := ident.Marshal()
			if err != nil {
				return nil, err
			}
			w.Subgroup = append(w.Subgroup, b)
		}
	}
	return protobuf.Encode(&w)
}

// UnmarshalGroup parses the form produced by Marshal.
func UnmarshalGroup(b []byte) (Group, error) {
	var w wireGroup
	if err := protobuf.Decode(b, &w); err != nil {
		return Group{}, err
	}
	leader, err := crypto.IdFromBytes(w.Leader)
	if err != nil {
		return Group{}, err
	}
	roster := make([]PublicIdentity, 0, len(w.Roster))
	for _, ib := range w.Roster {
		ident, err := UnmarshalPublicIdentity(ib)
		if err != nil {
			return Group{}, err
		}
		roster = append(roster, ident)
	}
	policy := SubgroupPolicy(w.Policy)
	if policy == ManagedSubgroup {
		sg := make([]PublicIdentity, 0, len(w.Subgroup))
		for _, ib := range w.Subgroup {
			ident, err := UnmarshalPublicIdentity(ib)
			if err != nil {
				return Group{}, err
			}
			sg = append(sg, ident)
		}
		return NewGroup(roster, leader, policy, sg), nil
	}
	return NewGroup(roster, leader, policy), nil
}
