package tolerant

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"go.dedis.ch/protobuf"

	"github.com/dedis/dissent/anonymity"
	"github.com/dedis/dissent/common"
	"github.com/dedis/dissent/crypto"
	"github.com/dedis/dissent/identity"
	"github.com/dedis/dissent/messaging"
)

// SlotCapacity is the fixed per-slot width: a 2-byte length header plus
// payload and zero padding.
const SlotCapacity = 64

// SlotPayload is the usable cleartext per slot.
const SlotPayload = SlotCapacity - 2

// Round is a tolerant anonymous-exchange round: an xor-net between the
// roster (users) and the subgroup (servers) in which every share is
// witnessed, so a corrupted slot can be traced to the node that deviated.
//
// Slot i belongs to roster member i; phases count exchanges since the
// round started.
type Round struct {
	anonymity.BaseRound

	mtx sync.Mutex

	users   int
	servers int
	// userIdx/serverIdx are this node's positions, -1 when absent
	userIdx   int
	serverIdx int

	// pairwise cipher streams, seeded from the DH shared secrets
	userStreams   []*common.StreamRng // per server, user role
	serverStreams []*common.StreamRng // per user, server role

	phase       uint32
	userAlibi   *AlibiData
	serverAlibi *AlibiData
	history     *MessageHistory

	gotUser   map[int]bool
	gotServer map[int]bool

	blame          bool
	accusations    map[int]Accusation
	blameMatrices  map[int]*BlameMatrix
	gotBlameUser   map[int]bool
	gotBlameServer map[int]bool
	// blame messages from peers that detected the corruption first
	pendingBlame []pendingBlame
}

type pendingBlame struct {
	from crypto.Id
	msg  *blameMessage
}

var _ anonymity.Round = (*Round)(nil)

type exchangeMessage struct {
	Phase    uint32
	IsServer bool
	Slots    [][]byte
}

type blameMessage struct {
	Phase      uint32
	Slot       uint32
	Accusation []byte
	IsServer   bool
	Alibi      []byte
}

type roundPayload struct {
	Exchange *exchangeMessage
	Blame    *blameMessage
}

// NewRound allocates a tolerant round over the group's roster and
// subgroup.
func NewRound(group identity.Group, ident identity.PrivateIdentity,
	sessionId, roundId crypto.Id, net messaging.Network, getData anonymity.GetDataFunc) anonymity.Round {
	users := group.Count()
	servers := group.Subgroup().Count()
	r := &Round{
		BaseRound: anonymity.NewBaseRound(group, ident, sessionId, roundId, net, getData),
		users:     users,
		servers:   servers,
		userIdx:   group.GetIndex(ident.Id),
		serverIdx: group.Subgroup().GetIndex(ident.Id),

		userAlibi:   NewAlibiData(users, servers),
		serverAlibi: NewAlibiData(users, users),
		history:     NewMessageHistory(users, servers),

		gotUser:   make(map[int]bool),
		gotServer: make(map[int]bool),

		accusations:    make(map[int]Accusation),
		blameMatrices:  make(map[int]*BlameMatrix),
		gotBlameUser:   make(map[int]bool),
		gotBlameServer: make(map[int]bool),
	}
	return r
}

func (r *Round) Start() error {
	if !r.MarkStarted() {
		return errors.New("called start on tolerant round more than once")
	}
	if err := r.seedStreams(); err != nil {
		r.Stop("Key agreement failed")
		return anonymity.NewError(err, "tolerant", r.RoundId(), r.LocalId())
	}
	return r.runPhase()
}

func (r *Round) Stop(reason string) {
	r.StopRound(r, reason)
}

func (r *Round) HandleData(req messaging.Request) {
	payload, ok := r.DecodeData(req)
	if !ok {
		return
	}
	var msg roundPayload
	if err := protobuf.Decode(payload, &msg); err != nil {
		common.Logger.Debugf("tolerant round %s: undecodable payload from %s", r.RoundId(), req.From)
		return
	}
	switch {
	case msg.Exchange != nil:
		r.processExchange(req.From, msg.Exchange)
	case msg.Blame != nil:
		r.processBlame(req.From, msg.Blame)
	default:
		common.Logger.Debugf("tolerant round %s: empty payload from %s", r.RoundId(), req.From)
	}
}

func (r *Round) HandleDisconnect(id crypto.Id) {
	r.BaseRound.HandleDisconnect(r, id)
}

// seedStreams derives one deterministic byte stream per pairing from the
// DH shared secret and the round id. The same seed drives both ends of a
// pairing, so shares cancel in the combined output.
func (r *Round) seedStreams() error {
	group := r.Group()
	sub := group.Subgroup()
	ident := r.Identity()

	if r.userIdx >= 0 {
		r.userStreams = make([]*common.StreamRng, r.servers)
		for s := 0; s < r.servers; s++ {
			secret, err := ident.Dh.SharedSecret(sub.GetDhKey(sub.GetId(s)))
			if err != nil {
				return err
			}
			r.userStreams[s] = common.NewStreamRng(common.SeedDigest(secret, r.RoundId().Bytes()))
		}
	}
	if r.serverIdx >= 0 {
		r.serverStreams = make([]*common.StreamRng, r.users)
		for u := 0; u < r.users; u++ {
			secret, err := ident.Dh.SharedSecret(group.GetDhKey(group.GetId(u)))
			if err != nil {
				return err
			}
			r.serverStreams[u] = common.NewStreamRng(common.SeedDigest(secret, r.RoundId().Bytes()))
		}
	}
	return nil
}

// runPhase generates and broadcasts this node's contributions for the
// current phase.
func (r *Round) runPhase() error {
	r.mtx.Lock()
	phase := r.phase

	var userSlots, serverSlots [][]byte
	if r.userIdx >= 0 {
		r.userAlibi.StorePhaseRngByteIndex(r.rngOffset(r.userStreams))
		userSlots = r.buildSlots(phase, r.userStreams, r.userAlibi, true)
	}
	if r.serverIdx >= 0 {
		r.serverAlibi.StorePhaseRngByteIndex(r.rngOffset(r.serverStreams))
		serverSlots = r.buildSlots(phase, r.serverStreams, r.serverAlibi, false)
	}
	r.mtx.Unlock()

	if userSlots != nil {
		if err := r.broadcast(&roundPayload{Exchange: &exchangeMessage{
			Phase: phase, IsServer: false, Slots: userSlots}}); err != nil {
			return err
		}
		r.processExchange(r.LocalId(), &exchangeMessage{Phase: phase, IsServer: false, Slots: userSlots})
	}
	if serverSlots != nil {
		if err := r.broadcast(&roundPayload{Exchange: &exchangeMessage{
			Phase: phase, IsServer: true, Slots: serverSlots}}); err != nil {
			return err
		}
		r.processExchange(r.LocalId(), &exchangeMessage{Phase: phase, IsServer: true, Slots: serverSlots})
	}
	return nil
}

func (r *Round) rngOffset(streams []*common.StreamRng) uint32 {
	if len(streams) == 0 {
		return 0
	}
	return streams[0].Generated()
}

// buildSlots produces this node's per-slot contributions: the XOR of the
// pairwise streams, with the node's queued cleartext folded into its own
// slot when acting as a user. Every pairwise share is recorded for later
// alibis.
func (r *Round) buildSlots(phase uint32, streams []*common.StreamRng, alibi *AlibiData, asUser bool) [][]byte {
	slots := make([][]byte, r.users)
	for slot := 0; slot < r.users; slot++ {
		combined := make([]byte, SlotCapacity)
		for member, stream := range streams {
			share := make([]byte, SlotCapacity)
			stream.Read(share)
			alibi.StoreMessage(phase, slot, member, share)
			for idx := range combined {
				combined[idx] ^= share[idx]
			}
		}
		if asUser && slot == r.userIdx {
			data, _ := r.GetData(SlotPayload)
			for idx, b := range encodeSlot(data) {
				combined[idx] ^= b
			}
		}
		slots[slot] = combined
	}
	return slots
}

func encodeSlot(data []byte) []byte {
	out := make([]byte, SlotCapacity)
	binary.BigEndian.PutUint16(out, uint16(len(data)))
	copy(out[2:], data)
	return out
}

func (r *Round) broadcast(payload *roundPayload) error {
	b, err := protobuf.Encode(payload)
	if err != nil {
		return err
	}
	return r.BroadcastData(b)
}

func (r *Round) processExchange(from crypto.Id, msg *exchangeMessage) {
	r.mtx.Lock()
	if msg.Phase != r.phase || r.blame {
		r.mtx.Unlock()
		common.Logger.Debugf("tolerant round %s: exchange for phase %d from %s ignored",
			r.RoundId(), msg.Phase, from)
		return
	}
	if len(msg.Slots) != r.users {
		r.mtx.Unlock()
		common.Logger.Warnf("tolerant round %s: malformed exchange from %s", r.RoundId(), from)
		return
	}
	for _, slot := range msg.Slots {
		if len(slot) != SlotCapacity {
			r.mtx.Unlock()
			common.Logger.Warnf("tolerant round %s: bad slot width from %s", r.RoundId(), from)
			return
		}
	}

	group := r.Group()
	if msg.IsServer {
		idx := group.Subgroup().GetIndex(from)
		if idx < 0 || r.gotServer[idx] {
			r.mtx.Unlock()
			return
		}
		r.gotServer[idx] = true
		for slot, bytes := range msg.Slots {
			r.history.AddServerMessage(msg.Phase, slot, idx, bytes)
		}
	} else {
		idx := group.GetIndex(from)
		if idx < 0 || r.gotUser[idx] {
			r.mtx.Unlock()
			return
		}
		r.gotUser[idx] = true
		for slot, bytes := range msg.Slots {
			r.history.AddUserMessage(msg.Phase, slot, idx, bytes)
		}
	}

	done := len(r.gotUser) == r.users && len(r.gotServer) == r.servers
	r.mtx.Unlock()

	if done {
		r.finishPhase()
	}
}

// finishPhase combines all contributions; clean slots are delivered, a
// corrupted slot opens the blame sub-protocol.
func (r *Round) finishPhase() {
	r.mtx.Lock()
	phase := r.phase
	cleartexts := make([][]byte, r.users)
	var corrupted []int
	for slot := 0; slot < r.users; slot++ {
		combined := make([]byte, SlotCapacity)
		for u := 0; u < r.users; u++ {
			msg := r.history.userData[slot][phase][u]
			for idx := range combined {
				combined[idx] ^= msg[idx]
			}
		}
		for s := 0; s < r.servers; s++ {
			msg := r.history.serverData[slot][phase][s]
			for idx := range combined {
				combined[idx] ^= msg[idx]
			}
		}
		cleartexts[slot] = combined
		if binary.BigEndian.Uint16(combined) > SlotPayload {
			corrupted = append(corrupted, slot)
		}
	}

	if len(corrupted) == 0 {
		r.phase++
		r.userAlibi.NextPhase()
		r.serverAlibi.NextPhase()
		r.history.NextPhase()
		r.mtx.Unlock()

		for _, ct := range cleartexts {
			length := binary.BigEndian.Uint16(ct)
			if length > 0 {
				r.PushData(ct[2 : 2+length])
			}
		}
		r.MarkSuccessful()
		r.Stop("Round successfully finished.")
		return
	}

	r.blame = true
	var announcements []*blameMessage
	for _, slot := range corrupted {
		acc := accuse(phase, cleartexts[slot])
		r.accusations[slot] = acc
		r.blameMatrices[slot] = NewBlameMatrix(r.users, r.servers)
		r.userAlibi.MarkSlotCorrupted(slot)
		r.serverAlibi.MarkSlotCorrupted(slot)
		r.history.MarkSlotCorrupted(slot)
		common.Logger.Warnf("tolerant round %s: slot %d corrupted, %s", r.RoundId(), slot, acc)

		accBytes, err := acc.ToBytes()
		if err != nil {
			continue
		}
		if r.userIdx >= 0 {
			if alibi, err := r.userAlibi.AlibiBytes(slot, acc); err == nil {
				announcements = append(announcements, &blameMessage{
					Phase: phase, Slot: uint32(slot), Accusation: accBytes, Alibi: alibi})
			}
		}
		if r.serverIdx >= 0 {
			if alibi, err := r.serverAlibi.AlibiBytes(slot, acc); err == nil {
				announcements = append(announcements, &blameMessage{
					Phase: phase, Slot: uint32(slot), Accusation: accBytes, IsServer: true, Alibi: alibi})
			}
		}
	}
	pending := r.pendingBlame
	r.pendingBlame = nil
	r.mtx.Unlock()

	for _, msg := range announcements {
		if err := r.broadcast(&roundPayload{Blame: msg}); err != nil {
			common.Logger.Errorf("tolerant round %s: blame broadcast failed: %v", r.RoundId(), err)
		}
		r.processBlame(r.LocalId(), msg)
	}
	for _, held := range pending {
		r.processBlame(held.from, held.msg)
	}
}

// accuse pins the first evidencing bit of a malformed slot: the earliest
// nonzero byte of the length header.
func accuse(phase uint32, cleartext []byte) Accusation {
	var acc Accusation
	if cleartext[0] != 0 {
		acc.SetData(phase, 0, cleartext[0])
	} else {
		acc.SetData(phase, 1, cleartext[1])
	}
	return acc
}

func (r *Round) processBlame(from crypto.Id, msg *blameMessage) {
	r.mtx.Lock()
	if !r.blame {
		// a peer combined the phase before we did; hold its evidence until
		// our own corruption check runs
		if msg.Phase == r.phase {
			r.pendingBlame = append(r.pendingBlame, pendingBlame{from: from, msg: msg})
		}
		r.mtx.Unlock()
		return
	}
	slot := int(msg.Slot)
	acc, open := r.accusations[slot]
	if !open {
		r.mtx.Unlock()
		common.Logger.Debugf("tolerant round %s: blame for clean slot %d from %s",
			r.RoundId(), slot, from)
		return
	}
	wire, err := acc.ToBytes()
	if err != nil || string(wire) != string(msg.Accusation) {
		r.mtx.Unlock()
		common.Logger.Warnf("tolerant round %s: conflicting accusation from %s", r.RoundId(), from)
		return
	}

	group := r.Group()
	matrix := r.blameMatrices[slot]
	if msg.IsServer {
		idx := group.Subgroup().GetIndex(from)
		if idx < 0 || r.gotBlameServer[blameKey(slot, idx)] {
			r.mtx.Unlock()
			return
		}
		bits, err := AlibiBitsFromBytes(msg.Alibi, 0, r.users)
		if err != nil {
			r.mtx.Unlock()
			return
		}
		r.gotBlameServer[blameKey(slot, idx)] = true
		matrix.AddServerAlibi(idx, bits)
	} else {
		idx := group.GetIndex(from)
		if idx < 0 || r.gotBlameUser[blameKey(slot, idx)] {
			r.mtx.Unlock()
			return
		}
		bits, err := AlibiBitsFromBytes(msg.Alibi, 0, r.servers)
		if err != nil {
			r.mtx.Unlock()
			return
		}
		r.gotBlameUser[blameKey(slot, idx)] = true
		matrix.AddUserAlibi(idx, bits)
	}

	done := r.blameComplete()
	r.mtx.Unlock()

	if done {
		r.assignBlame()
	}
}

func blameKey(slot, idx int) int {
	return slot*1<<16 + idx
}

func (r *Round) blameComplete() bool {
	for slot := range r.accusations {
		for u := 0; u < r.users; u++ {
			if !r.gotBlameUser[blameKey(slot, u)] {
				return false
			}
		}
		for s := 0; s < r.servers; s++ {
			if !r.gotBlameServer[blameKey(slot, s)] {
				return false
			}
		}
	}
	return true
}

// assignBlame folds this node's recorded output bits into each matrix and
// names the deviators. The slot owner's own slot legitimately carries its
// plaintext, so the owner is exempt from the user verdict there.
func (r *Round) assignBlame() {
	r.mtx.Lock()
	group := r.Group()
	badSet := make(map[int]bool)
	for slot, acc := range r.accusations {
		matrix := r.blameMatrices[slot]
		for u := 0; u < r.users; u++ {
			if bit, err := r.history.UserOutputBit(slot, u, acc); err == nil {
				matrix.AddUserOutputBit(u, bit)
			}
		}
		for s := 0; s < r.servers; s++ {
			if bit, err := r.history.ServerOutputBit(slot, s, acc); err == nil {
				matrix.AddServerOutputBit(s, bit)
			}
		}

		for _, u := range matrix.BadUsers() {
			if u == slot {
				continue
			}
			badSet[u] = true
		}
		for _, s := range matrix.BadServers() {
			if idx := group.GetIndex(group.Subgroup().GetId(s)); idx >= 0 {
				badSet[idx] = true
			}
		}
		for _, conflict := range matrix.Conflicts(slot) {
			common.Logger.Warnf("tolerant round %s: conflict slot %d user %d (%t) vs server %d (%t)",
				r.RoundId(), conflict.Slot, conflict.UserIdx, conflict.UserBit,
				conflict.ServerIdx, conflict.ServerBit)
		}

		r.userAlibi.MarkSlotBlameFinished(slot)
		r.serverAlibi.MarkSlotBlameFinished(slot)
		r.history.MarkSlotBlameFinished(slot)
	}
	bad := make([]int, 0, len(badSet))
	for idx := range badSet {
		bad = append(bad, idx)
	}
	r.mtx.Unlock()

	if len(bad) > 0 {
		r.AddBadMembers(bad...)
	}
	r.Stop("Blame assigned to deviating members")
}
