package tolerant

import (
	"github.com/pkg/errors"

	"github.com/dedis/dissent/common"
)

// slotData records one slot's XOR components for a single phase, plus the
// RNG offsets at which the slot's output began.
type slotData struct {
	// bytes drawn from the RNG in all phases before this one
	phaseRngByteIdx uint32
	// bytes drawn in this phase before this slot
	slotRngByteIdx uint32
	xorMessages    [][]byte
}

// AlibiData holds the byte strings this node XORed together to form its
// output in every slot. Entries for uncorrupted slots are reclaimed at
// each phase change; corrupted slots are retained until blame finishes.
type AlibiData struct {
	corrupted *common.BitVector
	nSlots    int
	nMembers  int
	data      []map[uint32]*slotData

	phaseRngByteIdx uint32
	phaseRngSet     bool
}

// NewAlibiData sizes the store. nMembers is the number of XOR components
// per slot: for users the server count, for servers the user count.
func NewAlibiData(nSlots, nMembers int) *AlibiData {
	data := make([]map[uint32]*slotData, nSlots)
	for idx := range data {
		data[idx] = make(map[uint32]*slotData)
	}
	return &AlibiData{
		corrupted: common.NewBitVector(nSlots),
		nSlots:    nSlots,
		nMembers:  nMembers,
		data:      data,
	}
}

// StorePhaseRngByteIndex records how many RNG bytes were drawn before the
// current phase started.
func (a *AlibiData) StorePhaseRngByteIndex(byteIdx uint32) {
	a.phaseRngByteIdx = byteIdx
	a.phaseRngSet = true
}

// StoreMessage records the XOR component derived from member's shared
// secret for the given phase and slot.
func (a *AlibiData) StoreMessage(phase uint32, slot, member int, message []byte) {
	sd := a.data[slot][phase]
	if sd == nil {
		sd = &slotData{xorMessages: make([][]byte, a.nMembers)}
		a.data[slot][phase] = sd
	}
	sd.xorMessages[member] = message

	// bytes generated before this slot equal the bytes generated in all
	// previous slots of the phase
	sd.phaseRngByteIdx = a.phaseRngByteIdx
	sd.slotRngByteIdx = 0
	if slot > 0 {
		if prev := a.data[slot-1][phase]; prev != nil {
			sd.slotRngByteIdx = prev.slotRngByteIdx + uint32(len(prev.xorMessages[0]))
		}
	}
}

// AlibiBytes produces the packed one-bit-per-member vector for the bit
// position named by the accusation.
func (a *AlibiData) AlibiBytes(slot int, acc Accusation) ([]byte, error) {
	return a.GetAlibiBytes(acc.Phase(), slot, acc.ByteIndex(), acc.BitIndex())
}

// GetAlibiBytes reports, for each member, the bit this node's share for
// that member carried at the accused position.
func (a *AlibiData) GetAlibiBytes(phase uint32, slot int, byteIdx uint32, bit uint8) ([]byte, error) {
	sd := a.data[slot][phase]
	if sd == nil {
		return nil, errors.Errorf("no alibi data for slot %d phase %d", slot, phase)
	}
	bits := common.NewBitVector(a.nMembers)
	for member := 0; member < a.nMembers; member++ {
		msg := sd.xorMessages[member]
		if uint32(len(msg)) <= byteIdx {
			return nil, errors.Errorf("alibi byte index %d out of range for slot %d member %d",
				byteIdx, slot, member)
		}
		bits.Set(member, msg[byteIdx]&(1<<bit) != 0)
	}
	return common.PackBits(bits), nil
}

// NextPhase reclaims the entries of every slot not marked corrupted.
func (a *AlibiData) NextPhase() {
	a.phaseRngSet = false
	for idx := 0; idx < a.nSlots; idx++ {
		if !a.corrupted.Get(idx) {
			a.data[idx] = make(map[uint32]*slotData)
		}
	}
}

// MarkSlotCorrupted retains the slot's shares across phases for the blame
// sub-protocol.
func (a *AlibiData) MarkSlotCorrupted(slot int) {
	a.corrupted.Set(slot, true)
}

// MarkSlotBlameFinished resumes reclaiming the slot's shares.
func (a *AlibiData) MarkSlotBlameFinished(slot int) {
	a.corrupted.Set(slot, false)
}

// SlotRngByteOffset is the total number of RNG bytes drawn before the
// start of the slot in the given phase.
func (a *AlibiData) SlotRngByteOffset(phase uint32, slot int) uint32 {
	sd := a.data[slot][phase]
	if sd == nil {
		return 0
	}
	return sd.phaseRngByteIdx + sd.slotRngByteIdx
}

// ExpectedAlibiLength is the packed byte length of an alibi covering the
// given number of members.
func ExpectedAlibiLength(members int) int {
	return common.BytesRequired(members)
}

// AlibiBitsFromBytes unpacks an alibi starting at byte offset.
func AlibiBitsFromBytes(in []byte, offset, members int) (*common.BitVector, error) {
	return common.UnpackBits(in, offset, members)
}
