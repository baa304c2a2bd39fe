package tolerant

import (
	"github.com/pkg/errors"

	"github.com/dedis/dissent/common"
)

// MessageHistory records the messages received from every user and server,
// clearing those no longer needed at each phase change.
type MessageHistory struct {
	corrupted  *common.BitVector
	userData   []map[uint32][][]byte
	serverData []map[uint32][][]byte
	numUsers   int
	numServers int
}

func NewMessageHistory(numUsers, numServers int) *MessageHistory {
	userData := make([]map[uint32][][]byte, numUsers)
	serverData := make([]map[uint32][][]byte, numUsers)
	for idx := range userData {
		userData[idx] = make(map[uint32][][]byte)
		serverData[idx] = make(map[uint32][][]byte)
	}
	return &MessageHistory{
		corrupted:  common.NewBitVector(numUsers),
		userData:   userData,
		serverData: serverData,
		numUsers:   numUsers,
		numServers: numServers,
	}
}

// AddUserMessage records what user member sent for the slot in the phase.
func (h *MessageHistory) AddUserMessage(phase uint32, slot, member int, message []byte) {
	msgs := h.userData[slot][phase]
	if msgs == nil {
		msgs = make([][]byte, h.numUsers)
		h.userData[slot][phase] = msgs
	}
	msgs[member] = message
}

// AddServerMessage records what server member sent for the slot in the
// phase.
func (h *MessageHistory) AddServerMessage(phase uint32, slot, member int, message []byte) {
	msgs := h.serverData[slot][phase]
	if msgs == nil {
		msgs = make([][]byte, h.numServers)
		h.serverData[slot][phase] = msgs
	}
	msgs[member] = message
}

// UserOutputBit returns the bit user userIdx transmitted at the accused
// position of the slot.
func (h *MessageHistory) UserOutputBit(slot, userIdx int, acc Accusation) (bool, error) {
	return outputBit(h.userData[slot], userIdx, acc)
}

// ServerOutputBit returns the bit server serverIdx transmitted at the
// accused position of the slot.
func (h *MessageHistory) ServerOutputBit(slot, serverIdx int, acc Accusation) (bool, error) {
	return outputBit(h.serverData[slot], serverIdx, acc)
}

func outputBit(byPhase map[uint32][][]byte, member int, acc Accusation) (bool, error) {
	msgs := byPhase[acc.Phase()]
	if msgs == nil || member >= len(msgs) {
		return false, errors.Errorf("no message recorded for member %d phase %d", member, acc.Phase())
	}
	msg := msgs[member]
	if uint32(len(msg)) <= acc.ByteIndex() {
		return false, errors.Errorf("accused byte %d beyond recorded message of %d bytes",
			acc.ByteIndex(), len(msg))
	}
	return msg[acc.ByteIndex()]&(1<<acc.BitIndex()) != 0, nil
}

// NextPhase reclaims history for every slot not marked corrupted.
func (h *MessageHistory) NextPhase() {
	for idx := 0; idx < h.numUsers; idx++ {
		if !h.corrupted.Get(idx) {
			h.userData[idx] = make(map[uint32][][]byte)
			h.serverData[idx] = make(map[uint32][][]byte)
		}
	}
}

// MarkSlotCorrupted retains the slot's messages as blame evidence.
func (h *MessageHistory) MarkSlotCorrupted(slot int) {
	h.corrupted.Set(slot, true)
}

// MarkSlotBlameFinished resumes reclaiming the slot's messages.
func (h *MessageHistory) MarkSlotBlameFinished(slot int) {
	h.corrupted.Set(slot, false)
}
