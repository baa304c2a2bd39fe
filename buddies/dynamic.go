package buddies

import (
	"sort"

	"github.com/jonboulle/clockwork"

	"github.com/dedis/dissent/common"
)

// DynamicPolicy forms buddy groups as members churn: members observed
// going offline are grouped together (padded from the online pool when
// needed, least accumulated online time first when online times are
// tracked), and members coming back online are regrouped in
// chunks of setSize.
type DynamicPolicy struct {
	*basePolicy

	setSize     int
	random      bool
	onlineTimes []int64 // ms per member; nil when timing is unused
	lastTime    int64
	clock       clockwork.Clock

	configured bool
	onlineSet  map[int]bool
	offlineSet map[int]bool
	lastOnline *common.BitVector
}

var _ Policy = (*DynamicPolicy)(nil)

// NewDynamicPolicy orders padding members by id, or by a seeded
// pseudorandom permutation when random is set.
func NewDynamicPolicy(count, setSize int, random bool) *DynamicPolicy {
	return newDynamicPolicy(count, setSize, random, nil, clockwork.NewRealClock())
}

// NewDynamicPolicyOnlineTimes orders padding members by ascending online
// time, advancing each member's counter between updates.
func NewDynamicPolicyOnlineTimes(count, setSize int, onlineTimes []int64, clock clockwork.Clock) *DynamicPolicy {
	times := make([]int64, len(onlineTimes))
	copy(times, onlineTimes)
	return newDynamicPolicy(count, setSize, false, times, clock)
}

func newDynamicPolicy(count, setSize int, random bool, onlineTimes []int64, clock clockwork.Clock) *DynamicPolicy {
	p := &DynamicPolicy{
		basePolicy:  newBasePolicy(count),
		setSize:     setSize,
		random:      random,
		onlineTimes: onlineTimes,
		clock:       clock,
		onlineSet:   make(map[int]bool),
		offlineSet:  make(map[int]bool),
	}
	p.update = p.updateBuddies
	return p
}

func (p *DynamicPolicy) updateBuddies() {
	ctime := p.clock.Now().UnixMilli()
	diff := ctime - p.lastTime
	p.lastTime = ctime

	online := p.onlineMembers
	if !p.configured {
		for idx := 0; idx < p.count; idx++ {
			if online.Get(idx) {
				p.onlineSet[idx] = true
				p.setMemberGroup(idx, onlineUnallocated)
			} else {
				p.offlineSet[idx] = true
				p.setMemberGroup(idx, offlineUnallocated)
			}
		}
		if len(p.onlineSet) < p.setSize {
			common.Logger.Warnf("dynamic policy: only %d members online at start, below set size %d",
				len(p.onlineSet), p.setSize)
		}
		p.configured = true
		p.lastOnline = online.Clone()
		return
	}

	if len(p.onlineSet) == 0 && len(p.offlineSet) == 0 {
		return
	}

	if p.onlineTimes != nil {
		for idx := 0; idx < p.count; idx++ {
			if online.Get(idx) && p.lastOnline.Get(idx) {
				p.onlineTimes[idx] += diff
			}
		}
	}

	var nowOffline []int
	for _, uid := range sortedKeys(p.onlineSet) {
		if !online.Get(uid) {
			nowOffline = append(nowOffline, uid)
		}
	}
	p.buildOfflineGroup(nowOffline)

	var nowOnline []int
	for _, uid := range sortedKeys(p.offlineSet) {
		if online.Get(uid) {
			nowOnline = append(nowOnline, uid)
		}
	}
	p.buildOnlineGroup(nowOnline)

	p.lastOnline = online.Clone()
}

// buildOfflineGroup groups the members that just went offline, padding up
// to setSize from the online pool. When the pool is close to exhausted the
// whole pool is drained into the group, even if the result is smaller than
// setSize.
func (p *DynamicPolicy) buildOfflineGroup(nowOffline []int) {
	if len(nowOffline) == 0 {
		return
	}

	var group []int
	switch {
	case len(p.onlineSet) < 2*p.setSize:
		group = sortedKeys(p.onlineSet)
		if len(group) < p.setSize {
			common.Logger.Warnf("dynamic policy: draining %d-member pool into a group below set size %d",
				len(group), p.setSize)
		}
	case len(nowOffline) == p.setSize:
		group = nowOffline
	default:
		order := p.paddingOrder()
		group = append(group, nowOffline...)
		offline := make(map[int]bool, len(nowOffline))
		for _, uid := range nowOffline {
			offline[uid] = true
		}
		for _, uid := range order {
			if len(group) >= p.setSize {
				break
			}
			if offline[uid] {
				continue
			}
			group = append(group, uid)
		}
	}

	gid := p.appendGroup(group)
	for _, uid := range group {
		p.setMemberGroup(uid, gid)
		delete(p.onlineSet, uid)
	}
}

// paddingOrder ranks the online pool for padding: by accumulated online
// time when available, by a random permutation when configured, by id
// otherwise.
func (p *DynamicPolicy) paddingOrder() []int {
	order := sortedKeys(p.onlineSet)
	if p.onlineTimes != nil {
		sort.SliceStable(order, func(i, j int) bool {
			return p.onlineTimes[order[i]] < p.onlineTimes[order[j]]
		})
	} else if p.random {
		seed := common.WriteUint32(nil, uint32(p.count))
		seed = common.WriteUint32(seed, uint32(p.setSize))
		common.RandomPermutation(order, common.NewStreamRng(common.SeedDigest(seed)))
	}
	return order
}

// buildOnlineGroup chunks returning members into groups of setSize; the
// last chunk absorbs the remainder when it is at most 2*setSize.
func (p *DynamicPolicy) buildOnlineGroup(nowOnline []int) {
	if len(nowOnline) < p.setSize {
		return
	}

	group := nowOnline
	rest := []int(nil)
	if len(nowOnline) > 2*p.setSize {
		group = nowOnline[:p.setSize]
		rest = nowOnline[p.setSize:]
	}

	gid := p.appendGroup(group)
	for _, uid := range group {
		p.setMemberGroup(uid, gid)
		delete(p.offlineSet, uid)
	}
	if rest != nil {
		p.buildOnlineGroup(rest)
	}
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for uid := range set {
		out = append(out, uid)
	}
	sort.Ints(out)
	return out
}
