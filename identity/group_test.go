package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedis/dissent/crypto"
)

func makeIdentities(t *testing.T, count int) []PublicIdentity {
	out := make([]PublicIdentity, count)
	for idx := range out {
		priv, err := NewPrivateIdentity(false)
		require.NoError(t, err)
		out[idx] = priv.Public()
	}
	return out
}

func TestGroupDeterminism(t *testing.T) {
	roster := makeIdentities(t, 8)
	leader := roster[0].Id

	reversed := make([]PublicIdentity, len(roster))
	for idx := range roster {
		reversed[len(roster)-1-idx] = roster[idx]
	}

	a := NewGroup(roster, leader, CompleteGroup)
	b := NewGroup(reversed, leader, CompleteGroup)
	assert.True(t, a.Equal(b))

	c := NewGroup(roster, leader, FixedSubgroup)
	assert.False(t, a.Equal(c))
}

func TestGroupLookup(t *testing.T) {
	roster := makeIdentities(t, 5)
	group := NewGroup(roster, roster[0].Id, CompleteGroup)

	for _, ident := range roster {
		idx := group.GetIndex(ident.Id)
		assert.True(t, idx >= 0)
		assert.Equal(t, ident.Id, group.GetId(idx))
		assert.True(t, group.Contains(ident.Id))
	}

	assert.Equal(t, -1, group.GetIndex(crypto.NewId()))
	assert.True(t, group.GetId(99).IsZero())

	first := group.GetId(0)
	second := group.GetId(1)
	assert.Equal(t, second, group.Next(first))
	assert.Equal(t, first, group.Previous(second))
	assert.True(t, group.Previous(first).IsZero())
}

func TestGroupAddRemove(t *testing.T) {
	roster := makeIdentities(t, 4)
	group := NewGroup(roster[:3], roster[0].Id, CompleteGroup)

	grown := AddGroupMember(group, roster[3], false)
	assert.Equal(t, 4, grown.Count())
	assert.Equal(t, 3, group.Count(), "groups are values; the original must not change")

	again := AddGroupMember(grown, roster[3], false)
	assert.True(t, grown.Equal(again))

	shrunk := RemoveGroupMember(grown, roster[3].Id)
	assert.True(t, group.Equal(shrunk))

	missing := RemoveGroupMember(group, crypto.NewId())
	assert.True(t, group.Equal(missing))
}

func TestFixedSubgroupTakesFirstTen(t *testing.T) {
	roster := makeIdentities(t, 12)
	group := NewGroup(roster, roster[0].Id, FixedSubgroup)

	sub := group.Subgroup()
	assert.Equal(t, 10, sub.Count())
	for idx := 0; idx < 10; idx++ {
		assert.Equal(t, group.GetId(idx), sub.GetId(idx))
	}
	assert.Equal(t, DisabledGroup, sub.Policy())
	assert.Equal(t, 0, sub.Subgroup().Count())
}

func TestManagedSubgroup(t *testing.T) {
	roster := makeIdentities(t, 6)
	sg := roster[:2]
	group := NewGroup(roster, roster[0].Id, ManagedSubgroup, sg)
	assert.Equal(t, 2, group.Subgroup().Count())

	// removal drops the member from the subgroup as well
	shrunk := RemoveGroupMember(group, sg[0].Id)
	assert.Equal(t, 5, shrunk.Count())
	assert.Equal(t, 1, shrunk.Subgroup().Count())

	// addition into the subgroup is explicit
	extra, err := NewPrivateIdentity(true)
	assert.NoError(t, err)
	grown := AddGroupMember(shrunk, extra.Public(), true)
	assert.Equal(t, 2, grown.Subgroup().Count())
}

func TestCompleteGroupSubgroupIsWholeRoster(t *testing.T) {
	roster := makeIdentities(t, 4)
	group := NewGroup(roster, roster[0].Id, CompleteGroup)
	assert.Equal(t, 4, group.Subgroup().Count())
}

func TestGroupMarshalRoundTrip(t *testing.T) {
	roster := makeIdentities(t, 5)
	for _, policy := range []SubgroupPolicy{CompleteGroup, FixedSubgroup, ManagedSubgroup} {
		var group Group
		if policy == ManagedSubgroup {
			group = NewGroup(roster, roster[1].Id, policy, roster[:2])
		} else {
			group = NewGroup(roster, roster[1].Id, policy)
		}
		b, err := group.Marshal()
		require.NoError(t, err)
		back, err := UnmarshalGroup(b)
		require.NoError(t, err)
		assert.True(t, group.Equal(back), "policy %s", policy)
	}
}

func TestPublicIdentityOrdering(t *testing.T) {
	roster := makeIdentities(t, 2)
	a, b := roster[0], roster[1]
	if a.Compare(b) > 0 {
		a, b = b, a
	}
	assert.True(t, a.Compare(b) < 0)
	assert.True(t, b.Compare(a) > 0)
	assert.Equal(t, 0, a.Compare(a))
}

func TestSubgroupPolicyNames(t *testing.T) {
	for _, policy := range []SubgroupPolicy{CompleteGroup, FixedSubgroup, ManagedSubgroup, DisabledGroup} {
		parsed, err := ParseSubgroupPolicy(policy.String())
		assert.NoError(t, err)
		assert.Equal(t, policy, parsed)
	}
	_, err := ParseSubgroupPolicy("NotAPolicy")
	assert.Error(t, err)
}
