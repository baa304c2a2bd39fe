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
	"github.com/dedis/dissent/messaging"
)

// MinimumRoundSize is the smallest group that can run a round.
const MinimumRoundSize = 3

// Registration retry backoff: short for definite failures, long when the
// leader said "try again later".
const (
	RegisterRetryDelay      = 5 * time.Second
	RegisterRetryOtherDelay = 60 * time.Second
)

// Session runs the member side of the join -> round -> send cycle over a
// (variable) group of peers.
type Session struct {
	mtx sync.Mutex

	groupHolder *identity.GroupHolder
	ident       identity.PrivateIdentity
	sessionId   crypto.Id
	net         messaging.Network
	createRound anonymity.CreateRound
	clock       clockwork.Clock

	started bool
	stopped bool

	registering bool
	retryArmed  bool

	currentRound   anonymity.Round
	prepareWaiting bool
	prepareRequest messaging.Request

	sendQueue     [][]byte
	trimSendQueue int

	roundStarting []func(anonymity.Round)
	roundFinished []func(anonymity.Round)
	stopping      []func()
	onMessage     []func([]byte)
}

// Option customizes a Session.
type Option func(*Session)

// WithClock substitutes the wall clock, letting tests drive timers.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

func NewSession(groupHolder *identity.GroupHolder, ident identity.PrivateIdentity,
	sessionId crypto.Id, net messaging.Network, createRound anonymity.CreateRound,
	opts ...Option) *Session {
	s := &Session{
		groupHolder: groupHolder,
		ident:       ident,
		sessionId:   sessionId,
		net:         net,
		createRound: createRound,
		clock:       clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) SessionId() crypto.Id {
	return s.sessionId
}

func (s *Session) LocalId() crypto.Id {
	return s.ident.Id
}

func (s *Session) Group() identity.Group {
	return s.groupHolder.Group()
}

func (s *Session) GroupHolder() *identity.GroupHolder {
	return s.groupHolder
}

func (s *Session) CurrentRound() anonymity.Round {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.currentRound
}

func (s *Session) Stopped() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.stopped
}

// OnRoundStarting registers a callback fired right before a round starts.
func (s *Session) OnRoundStarting(cb func(anonymity.Round)) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.roundStarting = append(s.roundStarting, cb)
}

// OnRoundFinished registers a callback fired after each round finishes.
func (s *Session) OnRoundFinished(cb func(anonymity.Round)) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.roundFinished = append(s.roundFinished, cb)
}

// OnStopping registers a callback fired when the session stops.
func (s *Session) OnStopping(cb func()) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.stopping = append(s.stopping, cb)
}

// OnMessage registers a consumer of round cleartext output.
func (s *Session) OnMessage(cb func([]byte)) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.onMessage = append(s.onMessage, cb)
}

// Start installs the RPC handlers and registers with the leader when the
// node is eligible.
func (s *Session) Start() {
	s.mtx.Lock()
	if s.started || s.stopped {
		s.mtx.Unlock()
		return
	}
	s.started = true
	s.mtx.Unlock()

	common.Logger.Debugf("%s session started: %s", s.ident.Id, s.sessionId)

	s.net.Register(anonymity.MethodData, s.HandleData)
	s.net.Register(MethodPrepare, s.HandlePrepare)
	s.net.Register(MethodBegin, s.HandleBegin)

	if s.shouldRegister() {
		s.register()
	}
}

// Stop terminates the session: the active round is stopped, the RPC
// methods are unregistered, and the Stopping callbacks fire.
func (s *Session) Stop() {
	s.mtx.Lock()
	if s.stopped {
		s.mtx.Unlock()
		return
	}
	s.stopped = true
	round := s.currentRound
	stopping := append([]func(){}, s.stopping...)
	s.mtx.Unlock()

	if round != nil {
		round.Stop("Session stopped")
	}

	s.net.Unregister(anonymity.MethodData)
	s.net.Unregister(MethodPrepare)
	s.net.Unregister(MethodBegin)

	for _, cb := range stopping {
		cb()
	}
}

// Send queues data for anonymous transmission in an upcoming round.
func (s *Session) Send(data []byte) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.stopped {
		common.Logger.Warnf("%s: send on a stopped session", s.ident.Id)
		return
	}
	s.sendQueue = append(s.sendQueue, data)
}

// GetData returns the longest prefix of queued messages fitting max bytes
// and whether unsent messages remain. Messages consumed here are trimmed
// only once the round that took them finishes successfully. Oversize
// messages are dropped so they cannot block the queue head.
func (s *Session) GetData(max int) ([]byte, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.trimSendQueue > 0 {
		s.sendQueue = s.sendQueue[s.trimSendQueue:]
		s.trimSendQueue = 0
	}

	var data []byte
	idx := 0
	for idx < len(s.sendQueue) {
		if max < len(s.sendQueue[idx]) {
			common.Logger.Warnf("%s: dropping queued message larger than round capacity: %d/%d",
				s.ident.Id, len(s.sendQueue[idx]), max)
			idx++
			continue
		}
		if max < len(data)+len(s.sendQueue[idx]) {
			break
		}
		data = append(data, s.sendQueue[idx]...)
		idx++
	}
	s.trimSendQueue = idx

	more := idx < len(s.sendQueue)
	return data, more
}

// HandlePrepare runs the member prepare state machine.
func (s *Session) HandlePrepare(req messaging.Request) {
	s.mtx.Lock()
	s.prepareWaiting = false

	var msg PrepareMessage
	if err := protobuf.Decode(req.Data, &msg); err != nil {
		s.mtx.Unlock()
		common.Logger.Debugf("%s: undecodable prepare: %v", s.ident.Id, err)
		req.Failed(messaging.InvalidInput, "undecodable prepare")
		return
	}

	if s.currentRound != nil && s.currentRound.Started() && !s.currentRound.Stopped() {
		s.prepareWaiting = true
		s.prepareRequest = req
		round := s.currentRound
		s.mtx.Unlock()
		if msg.Interrupt {
			round.SetInterrupted()
			round.Stop("Round interrupted.")
		}
		return
	}

	roundId, err := crypto.IdFromBytes(msg.RoundId)
	if err != nil {
		s.mtx.Unlock()
		common.Logger.Debugf("%s: prepare with invalid round id", s.ident.Id)
		return
	}

	if len(msg.Group) > 0 {
		group, err := identity.UnmarshalGroup(msg.Group)
		if err != nil {
			s.mtx.Unlock()
			common.Logger.Debugf("%s: prepare with undecodable group: %v", s.ident.Id, err)
			return
		}
		common.Logger.Debugf("%s: prepare contains a new group, present: %t",
			s.ident.Id, group.Contains(s.ident.Id))
		s.groupHolder.Update(group)
	}

	// re-delivery of the prepare for the already-created round is a no-op
	// beyond re-acknowledging it
	if s.currentRound != nil && !s.currentRound.Stopped() && s.currentRound.RoundId() == roundId {
		s.mtx.Unlock()
		s.sendPrepared(roundId)
		req.Respond(roundId.Bytes())
		return
	}

	if !s.checkGroupLocked() {
		common.Logger.Debugf("%s: prepare received without sufficient peers", s.ident.Id)
		s.prepareWaiting = true
		s.prepareRequest = req
		s.mtx.Unlock()
		return
	}

	s.nextRoundLocked(roundId)
	s.mtx.Unlock()

	s.sendPrepared(roundId)
	req.Respond(roundId.Bytes())
}

// HandleBegin starts the prepared round when the leader says so.
func (s *Session) HandleBegin(req messaging.Request) {
	s.mtx.Lock()
	group := s.groupHolder.Group()
	if group.Leader() != req.From {
		s.mtx.Unlock()
		common.Logger.Warnf("%s: begin from someone other than the leader: %s", s.ident.Id, req.From)
		return
	}
	if s.currentRound == nil {
		s.mtx.Unlock()
		common.Logger.Warnf("%s: begin without a valid round", s.ident.Id)
		return
	}

	var msg BeginMessage
	if err := protobuf.Decode(req.Data, &msg); err != nil {
		s.mtx.Unlock()
		common.Logger.Debugf("%s: undecodable begin: %v", s.ident.Id, err)
		return
	}
	roundId, err := crypto.IdFromBytes(msg.RoundId)
	if err != nil || s.currentRound.RoundId() != roundId {
		expected := s.currentRound.RoundId()
		s.mtx.Unlock()
		common.Logger.Warnf("%s: begin for a different round, expected %s", s.ident.Id, expected)
		return
	}

	round := s.currentRound
	starting := append([]func(anonymity.Round){}, s.roundStarting...)
	s.mtx.Unlock()

	common.Logger.Debugf("%s: starting round %s", s.ident.Id, roundId)
	for _, cb := range starting {
		cb(round)
	}
	if err := round.Start(); err != nil {
		common.Logger.Errorf("%s: round start failed: %v", s.ident.Id, err)
	}
}

// HandleData forwards a round payload to the current round.
func (s *Session) HandleData(req messaging.Request) {
	s.mtx.Lock()
	round := s.currentRound
	s.mtx.Unlock()
	if round == nil {
		common.Logger.Warnf("%s: data message without a valid round", s.ident.Id)
		return
	}
	round.HandleData(req)
}

// HandleConnection reacts to a new link: it may make registration
// possible, or complete a deferred prepare.
func (s *Session) HandleConnection(remote crypto.Id) {
	if s.shouldRegister() {
		s.register()
	}

	s.mtx.Lock()
	waiting := s.prepareWaiting
	req := s.prepareRequest
	sufficient := s.checkGroupLocked()
	s.mtx.Unlock()

	if waiting && sufficient {
		s.HandlePrepare(req)
	}
}

// HandleDisconnect reacts to a lost link: the round is told, and the
// leader is notified per the subgroup policy.
func (s *Session) HandleDisconnect(remote crypto.Id) {
	s.mtx.Lock()
	if s.stopped {
		s.mtx.Unlock()
		return
	}
	round := s.currentRound
	group := s.groupHolder.Group()
	s.mtx.Unlock()

	if round != nil {
		round.HandleDisconnect(remote)
	}

	if group.Leader() == remote {
		s.mtx.Lock()
		s.registering = false
		s.mtx.Unlock()
		return
	}

	send := false
	switch group.Policy() {
	case identity.CompleteGroup, identity.FixedSubgroup:
		send = true
	case identity.ManagedSubgroup:
		if group.Subgroup().Contains(s.ident.Id) {
			send = true
		} else if !s.CheckGroup(group) {
			s.mtx.Lock()
			s.registering = false
			s.mtx.Unlock()
			return
		}
	}

	if send {
		msg, err := protobuf.Encode(&DisconnectMessage{
			SessionId:   s.sessionId.Bytes(),
			RemoteId:    remote.Bytes(),
			RoundClosed: false,
		})
		if err != nil {
			return
		}
		s.net.SendNotification(group.Leader(), MethodDisconnect, msg)
	}
}

// CheckGroup reports whether the group is formed well enough to run a
// round under its policy.
func (s *Session) CheckGroup(group identity.Group) bool {
	if group.Count() < MinimumRoundSize {
		common.Logger.Debugf("%s: not enough peers for an anonymous session, need %d more",
			s.ident.Id, MinimumRoundSize-group.Count())
		return false
	}

	switch group.Policy() {
	case identity.CompleteGroup, identity.FixedSubgroup:
		for _, ident := range group.Roster() {
			if !s.net.Connected(ident.Id) {
				common.Logger.Debugf("%s: missing a connection to %s", s.ident.Id, ident.Id)
				return false
			}
		}
		return true
	case identity.ManagedSubgroup:
		sub := group.Subgroup()
		if sub.Contains(s.ident.Id) {
			for _, ident := range sub.Roster() {
				if !s.net.Connected(ident.Id) {
					common.Logger.Debugf("%s: missing a subgroup connection to %s", s.ident.Id, ident.Id)
					return false
				}
			}
			return true
		}
		for _, ident := range sub.Roster() {
			if s.net.Connected(ident.Id) {
				return true
			}
		}
		common.Logger.Debugf("%s: missing a subgroup connection", s.ident.Id)
		return false
	default:
		return false
	}
}

func (s *Session) checkGroupLocked() bool {
	return s.CheckGroup(s.groupHolder.Group())
}

// shouldRegister applies the per-policy eligibility rule.
func (s *Session) shouldRegister() bool {
	s.mtx.Lock()
	registering := s.registering
	group := s.groupHolder.Group()
	s.mtx.Unlock()

	if registering {
		return false
	}

	switch group.Policy() {
	case identity.CompleteGroup, identity.FixedSubgroup:
		return s.net.Connected(group.Leader())
	case identity.ManagedSubgroup:
		if group.Subgroup().Contains(s.ident.Id) {
			return s.net.Connected(group.Leader())
		}
		return s.net.ConnectionCount() > 1
	default:
		return false
	}
}

func (s *Session) register() {
	s.mtx.Lock()
	if s.stopped {
		s.mtx.Unlock()
		return
	}
	s.registering = true
	group := s.groupHolder.Group()
	s.mtx.Unlock()

	common.Logger.Debugf("%s: registering", s.ident.Id)

	identBytes, err := s.ident.Public().Marshal()
	if err != nil {
		common.Logger.Errorf("%s: cannot serialize identity: %v", s.ident.Id, err)
		return
	}
	msg, err := protobuf.Encode(&RegisterMessage{
		SessionId: s.sessionId.Bytes(),
		Ident:     identBytes,
	})
	if err != nil {
		common.Logger.Errorf("%s: cannot serialize register: %v", s.ident.Id, err)
		return
	}
	s.net.SendRequest(group.Leader(), MethodRegister, msg, s.registered)
}

// registered handles the leader's response, arming at most one retry
// timer on failure.
func (s *Session) registered(resp messaging.Response) {
	s.mtx.Lock()
	if s.stopped {
		s.mtx.Unlock()
		return
	}
	if resp.Successful() {
		s.mtx.Unlock()
		common.Logger.Debugf("%s: registered and waiting to go", s.ident.Id)
		return
	}
	if s.retryArmed {
		s.mtx.Unlock()
		common.Logger.Debugf("%s: almost started two registration attempts simultaneously", s.ident.Id)
		return
	}

	delay := RegisterRetryDelay
	if resp.Type == messaging.Other {
		delay = RegisterRetryOtherDelay
	}
	s.retryArmed = true
	s.mtx.Unlock()

	common.Logger.Debugf("%s: unable to register: %s; trying again later", s.ident.Id, resp.Reason)
	s.clock.AfterFunc(delay, func() {
		s.mtx.Lock()
		s.retryArmed = false
		stopped := s.stopped
		s.mtx.Unlock()
		if stopped {
			return
		}
		s.register()
	})
}

// sendPrepared acknowledges the prepare back to the leader.
func (s *Session) sendPrepared(roundId crypto.Id) {
	msg, err := protobuf.Encode(&PreparedMessage{
		SessionId: s.sessionId.Bytes(),
		RoundId:   roundId.Bytes(),
	})
	if err != nil {
		return
	}
	s.net.SendNotification(s.groupHolder.Group().Leader(), MethodPrepared, msg)
}

// nextRoundLocked allocates the round for a prepare. Call with the lock
// held.
func (s *Session) nextRoundLocked(roundId crypto.Id) {
	round := s.createRound(s.groupHolder.Group(), s.ident, s.sessionId, roundId, s.net, s.GetData)
	round.SetSink(s.pushMessage)
	round.SetFinished(s.handleRoundFinished)
	s.currentRound = round
	common.Logger.Debugf("%s: preparing new round %s", s.ident.Id, roundId)
}

func (s *Session) pushMessage(data []byte) {
	s.mtx.Lock()
	cbs := append([]func([]byte){}, s.onMessage...)
	s.mtx.Unlock()
	for _, cb := range cbs {
		cb(data)
	}
}

// handleRoundFinished is the round's exactly-once completion callback.
func (s *Session) handleRoundFinished(round anonymity.Round) {
	s.mtx.Lock()
	if round != s.currentRound {
		s.mtx.Unlock()
		common.Logger.Warnf("%s: awry round finished notification", s.ident.Id)
		return
	}
	common.Logger.Debugf("%s: round %s finished due to %s",
		s.ident.Id, round.RoundId(), round.StopReason())

	if !round.Successful() {
		s.trimSendQueue = 0
	}
	finished := append([]func(anonymity.Round){}, s.roundFinished...)
	stopped := s.stopped
	s.mtx.Unlock()

	for _, cb := range finished {
		cb(round)
	}

	if stopped {
		common.Logger.Debugf("%s: session stopped", s.ident.Id)
		return
	}

	s.mtx.Lock()
	waiting := s.prepareWaiting
	req := s.prepareRequest
	s.mtx.Unlock()
	if waiting {
		s.HandlePrepare(req)
	}
}
