// Package anonymity contains the per-round protocol machinery: the round
// contract, the shared round state, and the data envelope exchanged inside
// SM::Data messages.
package anonymity

import (
	"sync"

	"go.dedis.ch/protobuf"

	"github.com/dedis/dissent/common"
	"github.com/dedis/dissent/crypto"
	"github.com/dedis/dissent/identity"
	"github.com/dedis/dissent/messaging"
)

// MethodData is the RPC method carrying round payloads between peers.
const MethodData = "SM::Data"

// GetDataFunc supplies the pending cleartext for a round: the longest
// prefix of queued messages fitting max bytes, and whether more remain.
type GetDataFunc func(max int) ([]byte, bool)

// CreateRound allocates a round instance for one prepare.
type CreateRound func(group identity.Group, ident identity.PrivateIdentity,
	sessionId, roundId crypto.Id, net messaging.Network, getData GetDataFunc) Round

// Round is a single anonymous-exchange protocol instance. A round moves
// monotonically through created -> started -> stopped, and fires its
// finished callback exactly once.
type Round interface {
	Start() error
	// Stop terminates the round with a descriptive reason.
	Stop(reason string)
	Started() bool
	Stopped() bool
	Successful() bool
	StopReason() string
	RoundId() crypto.Id
	Group() identity.Group
	// BadMembers lists roster indexes of members caught deviating.
	BadMembers() []int
	Interrupted() bool
	SetInterrupted()
	// PeerJoined lets a running round absorb membership growth; most
	// rounds ignore it.
	PeerJoined()
	HandleData(req messaging.Request)
	HandleDisconnect(id crypto.Id)
	// SetSink installs the consumer of the round's cleartext output.
	SetSink(func(data []byte))
	// SetFinished installs the exactly-once completion callback.
	SetFinished(func(Round))
}

// DataEnvelope is the wire form of an SM::Data payload.
type DataEnvelope struct {
	SessionId []byte
	RoundId   []byte
	Payload   []byte
}

// BaseRound carries the state and helpers shared by round variants.
type BaseRound struct {
	mtx sync.Mutex

	group     identity.Group
	ident     identity.PrivateIdentity
	sessionId crypto.Id
	roundId   crypto.Id
	net       messaging.Network
	getData   GetDataFunc

	started     bool
	stopped     bool
	successful  bool
	stopReason  string
	interrupted bool
	badMembers  []int

	sink     func([]byte)
	finished func(Round)
}

func NewBaseRound(group identity.Group, ident identity.PrivateIdentity,
	sessionId, roundId crypto.Id, net messaging.Network, getData GetDataFunc) BaseRound {
	return BaseRound{
		group:     group,
		ident:     ident,
		sessionId: sessionId,
		roundId:   roundId,
		net:       net,
		getData:   getData,
	}
}

func (r *BaseRound) Group() identity.Group  { return r.group }
func (r *BaseRound) RoundId() crypto.Id     { return r.roundId }
func (r *BaseRound) LocalId() crypto.Id     { return r.ident.Id }
func (r *BaseRound) Identity() identity.PrivateIdentity { return r.ident }
func (r *BaseRound) Network() messaging.Network         { return r.net }

func (r *BaseRound) Started() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.started
}

func (r *BaseRound) Stopped() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.stopped
}

func (r *BaseRound) Successful() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.successful
}

func (r *BaseRound) StopReason() string {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.stopReason
}

func (r *BaseRound) Interrupted() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.interrupted
}

func (r *BaseRound) SetInterrupted() {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.interrupted = true
}

func (r *BaseRound) BadMembers() []int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	out := make([]int, len(r.badMembers))
	copy(out, r.badMembers)
	return out
}

func (r *BaseRound) PeerJoined() {}

// MarkStarted flips the started flag, reporting whether this call won.
func (r *BaseRound) MarkStarted() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.started || r.stopped {
		return false
	}
	r.started = true
	return true
}

// MarkSuccessful records a clean finish; call before Stop.
func (r *BaseRound) MarkSuccessful() {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.successful = true
}

// AddBadMembers appends deviating roster indexes.
func (r *BaseRound) AddBadMembers(idxs ...int) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.badMembers = append(r.badMembers, idxs...)
}

func (r *BaseRound) SetSink(sink func([]byte)) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.sink = sink
}

func (r *BaseRound) SetFinished(finished func(Round)) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.finished = finished
}

// StopRound performs the terminal transition for round, firing the
// finished callback exactly once. Variants' Stop methods delegate here
// with themselves as round.
func (r *BaseRound) StopRound(round Round, reason string) {
	r.mtx.Lock()
	if r.stopped {
		r.mtx.Unlock()
		return
	}
	r.stopped = true
	r.stopReason = reason
	finished := r.finished
	r.mtx.Unlock()

	common.Logger.Debugf("round %s stopped: %s", r.roundId, reason)
	if finished != nil {
		finished(round)
	}
}

// PushData hands cleartext output to the installed sink.
func (r *BaseRound) PushData(data []byte) {
	r.mtx.Lock()
	sink := r.sink
	r.mtx.Unlock()
	if sink != nil && len(data) > 0 {
		sink(data)
	}
}

// GetData pulls pending cleartext from the session's send queue.
func (r *BaseRound) GetData(max int) ([]byte, bool) {
	if r.getData == nil {
		return nil, false
	}
	return r.getData(max)
}

// SendTo wraps payload in the data envelope and delivers it to one peer.
func (r *BaseRound) SendTo(to crypto.Id, payload []byte) error {
	env := DataEnvelope{
		SessionId: r.sessionId.Bytes(),
		RoundId:   r.roundId.Bytes(),
		Payload:   payload,
	}
	b, err := protobuf.Encode(&env)
	if err != nil {
		return err
	}
	r.net.SendNotification(to, MethodData, b)
	return nil
}

// BroadcastData delivers payload to every other roster member.
func (r *BaseRound) BroadcastData(payload []byte) error {
	for idx := 0; idx < r.group.Count(); idx++ {
		id := r.group.GetId(idx)
		if id == r.ident.Id {
			continue
		}
		if err := r.SendTo(id, payload); err != nil {
			return err
		}
	}
	return nil
}

// DecodeData unwraps an SM::Data request, rejecting wayward senders and
// payloads for other rounds.
func (r *BaseRound) DecodeData(req messaging.Request) ([]byte, bool) {
	if !r.group.Contains(req.From) {
		common.Logger.Debugf("round %s: wayward message from %s", r.roundId, req.From)
		return nil, false
	}
	var env DataEnvelope
	if err := protobuf.Decode(req.Data, &env); err != nil {
		common.Logger.Debugf("round %s: undecodable data from %s: %v", r.roundId, req.From, err)
		return nil, false
	}
	roundId, err := crypto.IdFromBytes(env.RoundId)
	if err != nil || roundId != r.roundId {
		common.Logger.Debugf("round %s: data for another round from %s", r.roundId, req.From)
		return nil, false
	}
	return env.Payload, true
}

// HandleDisconnect stops the round when a required member drops.
func (r *BaseRound) HandleDisconnect(round Round, id crypto.Id) {
	if r.group.Contains(id) {
		r.StopRound(round, id.String()+" disconnected")
	}
}
