package tolerant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlibiStoreAndExtract(t *testing.T) {
	a := NewAlibiData(2, 3)
	a.StorePhaseRngByteIndex(100)

	// member 1's share carries bit 2 of byte 0
	a.StoreMessage(0, 0, 0, []byte{0x00, 0xFF})
	a.StoreMessage(0, 0, 1, []byte{0x04, 0x00})
	a.StoreMessage(0, 0, 2, []byte{0x00, 0x00})

	alibi, err := a.GetAlibiBytes(0, 0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, ExpectedAlibiLength(3), len(alibi))

	bits, err := AlibiBitsFromBytes(alibi, 0, 3)
	require.NoError(t, err)
	assert.False(t, bits.Get(0))
	assert.True(t, bits.Get(1))
	assert.False(t, bits.Get(2))

	// bit 0 of the second byte
	alibi, err = a.GetAlibiBytes(0, 0, 1, 0)
	require.NoError(t, err)
	bits, _ = AlibiBitsFromBytes(alibi, 0, 3)
	assert.True(t, bits.Get(0))
	assert.False(t, bits.Get(1))
}

func TestAlibiRngOffsets(t *testing.T) {
	a := NewAlibiData(3, 2)
	a.StorePhaseRngByteIndex(64)

	a.StoreMessage(1, 0, 0, make([]byte, 16))
	a.StoreMessage(1, 0, 1, make([]byte, 16))
	a.StoreMessage(1, 1, 0, make([]byte, 16))
	a.StoreMessage(1, 1, 1, make([]byte, 16))
	a.StoreMessage(1, 2, 0, make([]byte, 16))

	assert.Equal(t, uint32(64), a.SlotRngByteOffset(1, 0))
	assert.Equal(t, uint32(64+16), a.SlotRngByteOffset(1, 1))
	assert.Equal(t, uint32(64+32), a.SlotRngByteOffset(1, 2))
}

func TestAlibiPhaseRetention(t *testing.T) {
	a := NewAlibiData(2, 1)
	a.StoreMessage(0, 0, 0, []byte{0x01})
	a.StoreMessage(0, 1, 0, []byte{0x02})

	a.MarkSlotCorrupted(1)
	a.NextPhase()

	// the clean slot was reclaimed, the corrupted one retained
	_, err := a.GetAlibiBytes(0, 0, 0, 0)
	assert.Error(t, err)
	alibi, err := a.GetAlibiBytes(0, 1, 0, 1)
	require.NoError(t, err)
	bits, _ := AlibiBitsFromBytes(alibi, 0, 1)
	assert.True(t, bits.Get(0))

	a.MarkSlotBlameFinished(1)
	a.NextPhase()
	_, err = a.GetAlibiBytes(0, 1, 0, 1)
	assert.Error(t, err)
}

func TestHistoryOutputBits(t *testing.T) {
	h := NewMessageHistory(2, 2)
	h.AddUserMessage(0, 0, 0, []byte{0x08})
	h.AddUserMessage(0, 0, 1, []byte{0x00})
	h.AddServerMessage(0, 0, 0, []byte{0x01})
	h.AddServerMessage(0, 0, 1, []byte{0x09})

	var acc Accusation
	require.NoError(t, acc.SetData(0, 0, 0x08))

	bit, err := h.UserOutputBit(0, 0, acc)
	require.NoError(t, err)
	assert.True(t, bit)
	bit, err = h.UserOutputBit(0, 1, acc)
	require.NoError(t, err)
	assert.False(t, bit)

	bit, err = h.ServerOutputBit(0, 1, acc)
	require.NoError(t, err)
	assert.True(t, bit)

	_, err = h.UserOutputBit(1, 0, acc)
	assert.Error(t, err, "nothing recorded for slot 1")
}

func TestHistoryPhaseRetention(t *testing.T) {
	h := NewMessageHistory(2, 1)
	h.AddUserMessage(0, 0, 0, []byte{0xFF})
	h.AddUserMessage(0, 1, 0, []byte{0xFF})

	var acc Accusation
	require.NoError(t, acc.SetData(0, 0, 0x01))

	h.MarkSlotCorrupted(0)
	h.NextPhase()

	_, err := h.UserOutputBit(0, 0, acc)
	assert.NoError(t, err, "corrupted slot retained")
	_, err = h.UserOutputBit(1, 0, acc)
	assert.Error(t, err, "clean slot reclaimed")
}
