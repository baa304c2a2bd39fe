package anonymity

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/dedis/dissent/common"
	"github.com/dedis/dissent/crypto"
	"github.com/dedis/dissent/identity"
	"github.com/dedis/dissent/messaging"
)

// NullRoundMaxData bounds how much queued cleartext one null round ships.
const NullRoundMaxData = 4096

// NullRound provides no anonymity: every member broadcasts its cleartext
// and the round finishes when a message from each member has arrived. It
// exists to exercise the session plumbing.
type NullRound struct {
	BaseRound

	mtx          sync.Mutex
	receivedFrom map[crypto.Id]bool
}

var _ Round = (*NullRound)(nil)

func NewNullRound(group identity.Group, ident identity.PrivateIdentity,
	sessionId, roundId crypto.Id, net messaging.Network, getData GetDataFunc) Round {
	return &NullRound{
		BaseRound:    NewBaseRound(group, ident, sessionId, roundId, net, getData),
		receivedFrom: make(map[crypto.Id]bool),
	}
}

func (r *NullRound) Start() error {
	if !r.MarkStarted() {
		return errors.New("called start on NullRound more than once")
	}

	data, _ := r.GetData(NullRoundMaxData)
	if err := r.BroadcastData(data); err != nil {
		return err
	}
	r.processData(r.LocalId(), data)
	return nil
}

func (r *NullRound) Stop(reason string) {
	r.StopRound(r, reason)
}

func (r *NullRound) HandleData(req messaging.Request) {
	payload, ok := r.DecodeData(req)
	if !ok {
		return
	}
	r.processData(req.From, payload)
}

func (r *NullRound) HandleDisconnect(id crypto.Id) {
	r.BaseRound.HandleDisconnect(r, id)
}

func (r *NullRound) processData(from crypto.Id, data []byte) {
	r.mtx.Lock()
	if r.receivedFrom[from] {
		r.mtx.Unlock()
		common.Logger.Warnf("null round %s: second message from %s", r.RoundId(), from)
		return
	}
	r.receivedFrom[from] = true
	done := len(r.receivedFrom) == r.Group().Count()
	r.mtx.Unlock()

	r.PushData(data)

	if done {
		r.MarkSuccessful()
		r.Stop("Round successfully finished.")
	}
}
