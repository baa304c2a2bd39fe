package peerreview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedis/dissent/common"
	"github.com/dedis/dissent/crypto"
)

func newKey(t *testing.T) crypto.PrivKey {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func chainOf(t *testing.T, log *EntryLog, dest crypto.Id, payloads ...string) []*SendEntry {
	var out []*SendEntry
	for _, payload := range payloads {
		entry := NewSendEntry(log.NextSequenceId(), dest, log.PreviousHash(), []byte(payload))
		require.NoError(t, log.Append(entry))
		out = append(out, entry)
	}
	return out
}

func TestEntryLogContinuity(t *testing.T) {
	dest := crypto.NewId()
	log := NewEntryLog(common.Hash([]byte("base")))
	chainOf(t, log, dest, "a", "b", "c")

	for idx := 1; idx < log.Count(); idx++ {
		prev, cur := log.Entry(idx-1), log.Entry(idx)
		assert.Equal(t, prev.SequenceId()+1, cur.SequenceId())
		assert.Equal(t, prev.MessageHash(), cur.PreviousHash())
	}
}

func TestEntryLogRejectsBrokenChain(t *testing.T) {
	dest := crypto.NewId()
	log := NewEntryLog(nil)
	chainOf(t, log, dest, "a")

	// wrong sequence id
	bad := NewSendEntry(5, dest, log.PreviousHash(), []byte("x"))
	assert.Error(t, log.Append(bad))

	// wrong previous hash
	bad = NewSendEntry(log.NextSequenceId(), dest, common.Hash([]byte("wrong")), []byte("x"))
	assert.Error(t, log.Append(bad))

	assert.Equal(t, 1, log.Count())
}

func TestEntrySignVerify(t *testing.T) {
	key := newKey(t)
	entry := NewSendEntry(0, crypto.NewId(), nil, []byte("payload"))

	require.NoError(t, entry.Sign(key))
	assert.True(t, entry.Verify(key.Public()))

	other := newKey(t)
	assert.False(t, entry.Verify(other.Public()))

	// entries are immutable once signed
	assert.Error(t, entry.Sign(key))
}

func TestEntryVariantHashes(t *testing.T) {
	dest := crypto.NewId()
	send := NewSendEntry(0, dest, nil, []byte("payload"))
	assert.Equal(t, common.Hash([]byte("payload")), send.MessageHash())

	recv := NewReceiveEntry(0, dest, nil, send)
	assert.Equal(t, send.EntryHash(), recv.MessageHash())

	ack := NewAcknowledgementFromReceive(recv)
	assert.Equal(t, recv.MessageHash(), ack.MessageHash())
	assert.Equal(t, send.SequenceId(), ack.SentSequenceId())
}

func TestEntrySerializeParseRoundTrip(t *testing.T) {
	key := newKey(t)
	dest := crypto.NewId()

	send := NewSendEntry(3, dest, common.Hash([]byte("prev")), []byte("payload"))
	require.NoError(t, send.Sign(key))
	parsed, err := ParseEntry(send.Serialize())
	require.NoError(t, err)
	assert.True(t, send.Equal(parsed))

	recv := NewReceiveEntry(4, dest, common.Hash([]byte("prev2")), send)
	parsedRecv, err := ParseEntry(recv.Serialize())
	require.NoError(t, err)
	assert.True(t, recv.Equal(parsedRecv))

	ack := NewAcknowledgement(5, dest, common.Hash([]byte("prev3")), 3, send.EntryHash(), nil)
	parsedAck, err := ParseEntry(ack.Serialize())
	require.NoError(t, err)
	assert.True(t, ack.Equal(parsedAck))

	_, err = ParseEntry([]byte("bogus"))
	assert.Error(t, err)
}

func TestEntryLogSerializeRoundTrip(t *testing.T) {
	dest := crypto.NewId()
	log := NewEntryLog(common.Hash([]byte("base")))
	chainOf(t, log, dest, "a", "b")

	back, err := ParseEntryLog(log.Serialize())
	require.NoError(t, err)
	assert.Equal(t, log.Count(), back.Count())
	for idx := 0; idx < log.Count(); idx++ {
		assert.True(t, log.Entry(idx).Equal(back.Entry(idx)))
	}
}

func TestAckLogIdempotence(t *testing.T) {
	dest := crypto.NewId()
	send := NewSendEntry(0, dest, nil, []byte("payload"))
	recv := NewReceiveEntry(0, dest, nil, send)
	ack := NewAcknowledgementFromReceive(recv)

	log := NewAcknowledgementLog()
	require.NoError(t, log.Insert(ack))
	assert.Equal(t, 1, log.Count())

	// identical re-insert is a no-op
	require.NoError(t, log.Insert(ack))
	assert.Equal(t, 1, log.Count())

	// differing ack for the same sent seq id is rejected, log unchanged
	otherSend := NewSendEntry(0, dest, nil, []byte("different"))
	otherRecv := NewReceiveEntry(0, dest, nil, otherSend)
	conflicting := NewAcknowledgementFromReceive(otherRecv)
	assert.Error(t, log.Insert(conflicting))
	assert.Equal(t, 1, log.Count())
	got, ok := log.Get(0)
	assert.True(t, ok)
	assert.True(t, got.Equal(ack))

	assert.Error(t, log.Insert(nil))
}

func TestAckVerifySend(t *testing.T) {
	key := newKey(t)
	dest := crypto.NewId()

	send := NewSendEntry(7, dest, nil, []byte("payload"))
	recv := NewReceiveEntry(2, dest, common.Hash([]byte("rprev")), send)
	require.NoError(t, recv.Sign(key))

	ack := NewAcknowledgementFromReceive(recv)
	assert.True(t, ack.VerifySend(send, key.Public()))

	other := NewSendEntry(8, dest, nil, []byte("other"))
	assert.False(t, ack.VerifySend(other, key.Public()))
}

func TestAckLogSerializeRoundTrip(t *testing.T) {
	dest := crypto.NewId()
	log := NewAcknowledgementLog()
	for seq := uint32(0); seq < 3; seq++ {
		send := NewSendEntry(seq, dest, nil, []byte{byte(seq)})
		recv := NewReceiveEntry(seq, dest, nil, send)
		require.NoError(t, log.Insert(NewAcknowledgementFromReceive(recv)))
	}

	back, err := ParseAcknowledgementLog(log.Serialize())
	require.NoError(t, err)
	assert.Equal(t, log.Count(), back.Count())
}
