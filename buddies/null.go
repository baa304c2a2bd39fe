package buddies

// NullPolicy makes each member its own buddy: useful == online.
type NullPolicy struct {
	*basePolicy
}

func NewNullPolicy(count int) *NullPolicy {
	p := &NullPolicy{basePolicy: newBasePolicy(count)}
	p.update = p.updateBuddies
	return p
}

var _ Policy = (*NullPolicy)(nil)

func (p *NullPolicy) updateBuddies() {
	online := p.onlineMembers
	for idx := 0; idx < p.count; idx++ {
		if online.Get(idx) {
			p.setMemberGroup(idx, onlineUnallocated)
		} else {
			p.setMemberGroup(idx, offlineUnallocated)
		}
	}
}
