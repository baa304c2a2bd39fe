package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.dedis.ch/protobuf"

	"github.com/dedis/dissent/anonymity"
	"github.com/dedis/dissent/common"
	"github.com/dedis/dissent/crypto"
	"github.com/dedis/dissent/identity"
	"github.com/dedis/dissent/identity/auth"
	"github.com/dedis/dissent/messaging"
)

// Join-burst absorption and log-off quarantine windows.
const (
	InitialPeerJoinDelay      = 30 * time.Second
	RoundRunningPeerJoinDelay = 600 * time.Second
	LogOffCheckPeriod         = 60 * time.Second
	LogOffPeriod              = 600 * time.Second
)

// Leader authenticates and admits members, decides when to run a round,
// and drives the prepare -> begin handshake.
type Leader struct {
	mtx sync.Mutex

	group   identity.Group
	ident   identity.PrivateIdentity
	net     messaging.Network
	session *Session
	auth    auth.Authenticator
	clock   clockwork.Clock

	started bool
	stopped bool

	logOffMonitor bool
	logOffTimes   map[crypto.Id]time.Time

	roundIdx         uint64
	registeredPeers  map[crypto.Id]bool
	unpreparedPeers  map[crypto.Id]bool
	preparedPeers    []crypto.Id
	lastRegistration time.Time

	prepareTimerArmed bool
	prepareTimer      clockwork.Timer
	logOffTimer       clockwork.Timer

	roundCreateTime time.Time
	roundStartTime  time.Time
}

// LeaderOption customizes a Leader.
type LeaderOption func(*Leader)

// WithLeaderClock substitutes the wall clock, letting tests drive timers.
func WithLeaderClock(clock clockwork.Clock) LeaderOption {
	return func(l *Leader) {
		l.clock = clock
	}
}

// WithLogOffMonitor toggles the rejoin quarantine.
func WithLogOffMonitor(enabled bool) LeaderOption {
	return func(l *Leader) {
		l.logOffMonitor = enabled
	}
}

func NewLeader(group identity.Group, ident identity.PrivateIdentity,
	net messaging.Network, session *Session, authenticator auth.Authenticator,
	opts ...LeaderOption) *Leader {
	l := &Leader{
		group:           group,
		ident:           ident,
		net:             net,
		session:         session,
		auth:            authenticator,
		clock:           clockwork.NewRealClock(),
		logOffMonitor:   true,
		logOffTimes:     make(map[crypto.Id]time.Time),
		registeredPeers: make(map[crypto.Id]bool),
		unpreparedPeers: make(map[crypto.Id]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	session.OnRoundFinished(l.handleRoundFinished)
	return l
}

func (l *Leader) SessionId() crypto.Id {
	return l.session.SessionId()
}

func (l *Leader) Group() identity.Group {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.group
}

// Start installs the leader RPC handlers and the periodic log-off sweep.
func (l *Leader) Start() {
	l.mtx.Lock()
	if l.started || l.stopped {
		l.mtx.Unlock()
		return
	}
	l.started = true
	l.mtx.Unlock()

	common.Logger.Debugf("%s session leader started: %s", l.ident.Id, l.SessionId())

	l.net.Register(MethodRegister, l.HandleRegister)
	l.net.Register(MethodChallengeRequest, l.HandleChallengeRequest)
	l.net.Register(MethodChallengeResponse, l.HandleChallengeResponse)
	l.net.Register(MethodPrepared, l.HandlePrepared)
	l.net.Register(MethodDisconnect, l.LinkDisconnect)

	l.scheduleLogOffSweep()
}

func (l *Leader) Stop() {
	l.mtx.Lock()
	if l.stopped {
		l.mtx.Unlock()
		return
	}
	l.stopped = true
	prepareTimer := l.prepareTimer
	logOffTimer := l.logOffTimer
	l.mtx.Unlock()

	if prepareTimer != nil {
		prepareTimer.Stop()
	}
	if logOffTimer != nil {
		logOffTimer.Stop()
	}

	l.net.Unregister(MethodRegister)
	l.net.Unregister(MethodChallengeRequest)
	l.net.Unregister(MethodChallengeResponse)
	l.net.Unregister(MethodPrepared)
	l.net.Unregister(MethodDisconnect)
}

func (l *Leader) scheduleLogOffSweep() {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.stopped {
		return
	}
	l.logOffTimer = l.clock.AfterFunc(LogOffCheckPeriod, func() {
		l.checkLogOffTimes()
		l.scheduleLogOffSweep()
	})
}

// checkLogOffTimes clears quarantine entries older than LogOffPeriod.
func (l *Leader) checkLogOffTimes() {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	cleared := l.clock.Now().Add(-LogOffPeriod)
	for id, when := range l.logOffTimes {
		if when.Before(cleared) {
			delete(l.logOffTimes, id)
		}
	}
}

// HandleChallengeRequest relays the authenticator's challenge material.
func (l *Leader) HandleChallengeRequest(req messaging.Request) {
	if !l.startedNow() {
		req.Failed(messaging.InvalidInput, "SessionLeader not started")
		return
	}
	if req.From.IsZero() {
		req.Failed(messaging.InvalidSender, "wrong sending type")
		return
	}

	var msg ChallengeMessage
	if err := protobuf.Decode(req.Data, &msg); err != nil {
		req.Failed(messaging.InvalidInput, "undecodable challenge request")
		return
	}

	ok, challenge := l.auth.RequestChallenge(req.From, msg.Data)
	if !ok {
		req.Failed(messaging.InvalidInput, "Failed to authenticate.")
		return
	}
	req.Respond(challenge)
}

// HandleChallengeResponse completes the 3-move authentication path.
func (l *Leader) HandleChallengeResponse(req messaging.Request) {
	l.verifyAndAdmit(req, func(msg []byte) []byte {
		var challenge ChallengeMessage
		if err := protobuf.Decode(msg, &challenge); err != nil {
			return nil
		}
		return challenge.Data
	})
}

// HandleRegister is the one-shot registration path used by authenticators
// without a challenge move.
func (l *Leader) HandleRegister(req messaging.Request) {
	l.verifyAndAdmit(req, func(msg []byte) []byte {
		var register RegisterMessage
		if err := protobuf.Decode(msg, &register); err != nil {
			return nil
		}
		return register.Ident
	})
}

func (l *Leader) verifyAndAdmit(req messaging.Request, extract func([]byte) []byte) {
	if !l.startedNow() {
		req.Failed(messaging.InvalidInput, "SessionLeader not started")
		return
	}
	if req.From.IsZero() {
		req.Failed(messaging.InvalidSender, "wrong sending type")
		return
	}

	data := extract(req.Data)
	if data == nil {
		req.Failed(messaging.InvalidInput, "undecodable registration")
		return
	}

	ok, ident := l.auth.VerifyResponse(req.From, data)
	if !ok {
		common.Logger.Debugf("leader %s: failed to authenticate %s", l.ident.Id, req.From)
		req.Failed(messaging.InvalidInput, "Failed to authenticate.")
		return
	}

	if !l.allowRegistration(ident.Id) {
		common.Logger.Debugf("leader %s: %s has connectivity problems, deferring registration",
			l.ident.Id, ident.Id)
		req.Failed(messaging.Other, "Unable to register at this time, try again later.")
		return
	}

	common.Logger.Debugf("leader %s: valid registration from %s", l.ident.Id, ident.Id)
	l.mtx.Lock()
	l.lastRegistration = l.clock.Now()
	l.addMember(ident)
	l.mtx.Unlock()

	req.Respond([]byte{1})

	l.checkRegistration()
}

// allowRegistration applies the log-off quarantine.
func (l *Leader) allowRegistration(id crypto.Id) bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.logOffMonitor {
		return true
	}
	_, quarantined := l.logOffTimes[id]
	return !quarantined
}

// checkRegistration arms the join-burst timer that eventually prepares a
// round.
func (l *Leader) checkRegistration() {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.checkRegistrationLocked()
}

func (l *Leader) checkRegistrationLocked() {
	if l.group.Count() < MinimumRoundSize {
		return
	}

	round := l.session.CurrentRound()
	var start time.Time
	switch {
	case round == nil || round.Stopped():
		start = l.lastRegistration.Add(InitialPeerJoinDelay)
	case !l.prepareTimerArmed:
		base := l.roundCreateTime
		if round.Started() {
			base = l.roundStartTime
		}
		start = base.Add(RoundRunningPeerJoinDelay)
	default:
		return
	}

	if l.prepareTimer != nil {
		l.prepareTimer.Stop()
	}
	next := start.Sub(l.clock.Now())
	// a past-due prepare still goes through the timer so back-to-back
	// rounds cannot re-enter the scheduler in the same tick
	if next < time.Second {
		next = time.Second
	}
	l.prepareTimerArmed = true
	l.prepareTimer = l.clock.AfterFunc(next, l.checkRegistrationCallback)
}

func (l *Leader) checkRegistrationCallback() {
	l.mtx.Lock()
	if l.stopped {
		l.mtx.Unlock()
		return
	}
	l.prepareTimerArmed = false
	l.mtx.Unlock()

	round := l.session.CurrentRound()
	if round == nil || !round.Started() || round.Stopped() {
		l.SendPrepare()
	} else {
		common.Logger.Debugf("leader %s: letting the current round know a peer joined", l.ident.Id)
		round.PeerJoined()
	}
}

// SendPrepare validates the group, assigns the next round id, and
// broadcasts the prepare. Skipped when the group is insufficient; the
// next registration retries it.
func (l *Leader) SendPrepare() bool {
	l.mtx.Lock()
	group := l.group
	l.mtx.Unlock()

	if !l.session.CheckGroup(group) {
		common.Logger.Debugf("leader %s: peers registered but group insufficient", l.ident.Id)
		return false
	}

	round := l.session.CurrentRound()
	interrupt := round == nil || round.Interrupted()

	groupBytes, err := group.Marshal()
	if err != nil {
		common.Logger.Errorf("leader %s: cannot serialize group: %v", l.ident.Id, err)
		return false
	}

	l.mtx.Lock()
	roundId := crypto.IdFromUint64(l.roundIdx)
	l.roundIdx++
	l.preparedPeers = nil
	l.unpreparedPeers = make(map[crypto.Id]bool, len(l.registeredPeers))
	for id := range l.registeredPeers {
		l.unpreparedPeers[id] = true
	}
	l.roundCreateTime = l.clock.Now()
	l.mtx.Unlock()

	msg, err := protobuf.Encode(&PrepareMessage{
		SessionId: l.SessionId().Bytes(),
		RoundId:   roundId.Bytes(),
		Interrupt: interrupt,
		Group:     groupBytes,
	})
	if err != nil {
		return false
	}

	common.Logger.Debugf("leader %s: sending prepare for round %s", l.ident.Id, roundId)
	l.session.GroupHolder().Update(group)
	l.net.Broadcast(MethodPrepare, msg)
	return true
}

// HandlePrepared records a member's acknowledgement; once none are
// missing, begin is broadcast. Acknowledgements are idempotent per round.
func (l *Leader) HandlePrepared(req messaging.Request) {
	if req.From.IsZero() {
		common.Logger.Warnf("leader %s: prepared from an unidentifiable sender", l.ident.Id)
		return
	}

	l.mtx.Lock()
	if !l.group.Contains(req.From) {
		l.mtx.Unlock()
		common.Logger.Warnf("leader %s: prepared from non-member %s", l.ident.Id, req.From)
		return
	}
	l.mtx.Unlock()

	round := l.session.CurrentRound()
	if round == nil {
		common.Logger.Warnf("leader %s: prepared without a current round", l.ident.Id)
		return
	}

	var msg PreparedMessage
	if err := protobuf.Decode(req.Data, &msg); err != nil {
		return
	}
	roundId, err := crypto.IdFromBytes(msg.RoundId)
	if err != nil || round.RoundId() != roundId {
		common.Logger.Debugf("leader %s: prepared for the wrong round from %s", l.ident.Id, req.From)
		return
	}

	l.mtx.Lock()
	if l.unpreparedPeers[req.From] {
		delete(l.unpreparedPeers, req.From)
		l.preparedPeers = append(l.preparedPeers, req.From)
	}
	l.mtx.Unlock()

	l.checkPrepares()
}

func (l *Leader) checkPrepares() {
	round := l.session.CurrentRound()
	if round == nil || round.Stopped() || round.Started() {
		return
	}

	l.mtx.Lock()
	waiting := len(l.unpreparedPeers)
	l.mtx.Unlock()
	if waiting > 0 {
		common.Logger.Debugf("leader %s: waiting on %d more prepared responses", l.ident.Id, waiting)
		return
	}

	msg, err := protobuf.Encode(&BeginMessage{
		SessionId: l.SessionId().Bytes(),
		RoundId:   round.RoundId().Bytes(),
	})
	if err != nil {
		return
	}

	l.mtx.Lock()
	l.roundStartTime = l.clock.Now()
	l.mtx.Unlock()

	l.net.Broadcast(MethodBegin, msg)
}

// handleRoundFinished evicts members the round blamed, then reschedules.
func (l *Leader) handleRoundFinished(round anonymity.Round) {
	bad := round.BadMembers()
	if len(bad) > 0 {
		common.Logger.Warnf("leader %s: round named %d bad members", l.ident.Id, len(bad))
		l.mtx.Lock()
		roundGroup := round.Group()
		for _, idx := range bad {
			l.removeMember(roundGroup.GetId(idx))
		}
		l.mtx.Unlock()
	}

	l.checkRegistration()
}

// LinkDisconnect processes a member's report that a neighbor vanished.
func (l *Leader) LinkDisconnect(req messaging.Request) {
	if req.From.IsZero() {
		common.Logger.Warnf("leader %s: link disconnect from an unidentifiable sender", l.ident.Id)
		return
	}

	l.mtx.Lock()
	group := l.group
	l.mtx.Unlock()
	if !group.Contains(req.From) {
		common.Logger.Warnf("leader %s: link disconnect from non-member %s", l.ident.Id, req.From)
		return
	}

	var msg DisconnectMessage
	if err := protobuf.Decode(req.Data, &msg); err != nil {
		return
	}
	remote, err := crypto.IdFromBytes(msg.RemoteId)
	if err != nil || !group.Contains(remote) {
		return
	}

	switch group.Policy() {
	case identity.FixedSubgroup, identity.ManagedSubgroup:
		// a sponsored link vanished; only subgroup members stay on report
		if !group.Subgroup().Contains(remote) {
			l.HandleDisconnect(remote)
		}
	}

	if round := l.session.CurrentRound(); round != nil {
		round.HandleDisconnect(remote)
	}
}

// HandleDisconnect quarantines and evicts a member that dropped off.
func (l *Leader) HandleDisconnect(remote crypto.Id) {
	l.mtx.Lock()
	if l.stopped || !l.group.Contains(remote) {
		l.mtx.Unlock()
		return
	}
	l.logOffTimes[remote] = l.clock.Now()
	l.removeMember(remote)
	l.mtx.Unlock()

	l.checkPrepares()
}

func (l *Leader) startedNow() bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.started && !l.stopped
}

// addMember admits the identity into the group. Call with the lock held.
func (l *Leader) addMember(ident identity.PublicIdentity) {
	if !l.group.Contains(ident.Id) {
		l.group = identity.AddGroupMember(l.group, ident, ident.SuperPeer)
	}
	l.registeredPeers[ident.Id] = true
}

// removeMember evicts id from the group. Call with the lock held.
func (l *Leader) removeMember(id crypto.Id) {
	l.group = identity.RemoveGroupMember(l.group, id)
	delete(l.registeredPeers, id)
	delete(l.unpreparedPeers, id)
}
