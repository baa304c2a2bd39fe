package peerreview

import (
	"github.com/dedis/dissent/common"
	"github.com/dedis/dissent/crypto"
)

// ReceiveEntry logs an incoming message by embedding the send entry it
// answers.
type ReceiveEntry struct {
	entryBase
	sendEntry *SendEntry
}

var _ Entry = (*ReceiveEntry)(nil)

func NewReceiveEntry(seqId uint32, dest crypto.Id, prevHash []byte, sendEntry *SendEntry) *ReceiveEntry {
	return &ReceiveEntry{
		entryBase: entryBase{seqId: seqId, typ: ReceiveType, dest: dest, prevHash: prevHash},
		sendEntry: sendEntry,
	}
}

func (e *ReceiveEntry) SendEntry() *SendEntry {
	return e.sendEntry
}

func (e *ReceiveEntry) Message() []byte {
	return e.sendEntry.Message()
}

func (e *ReceiveEntry) MessageHash() []byte {
	return e.sendEntry.EntryHash()
}

func (e *ReceiveEntry) EntryHash() []byte {
	return entryHash(e.prevHash, e.seqId, e.dest, e.MessageHash())
}

func (e *ReceiveEntry) Sign(key crypto.PrivKey) error {
	return e.sign(key, e.EntryHash())
}

func (e *ReceiveEntry) Verify(key crypto.PubKey) bool {
	return e.verify(key, e.EntryHash())
}

func (e *ReceiveEntry) Serialize() []byte {
	out := e.serializeBase()
	return common.WriteBytes(out, e.sendEntry.Serialize())
}

func (e *ReceiveEntry) Equal(other Entry) bool {
	return entriesEqual(e, other)
}

func ParseReceiveEntry(in []byte) (*ReceiveEntry, error) {
	base, rest, err := parseEntryBase(in)
	if err != nil {
		return nil, err
	}
	sendBytes, _, err := common.ReadBytes(rest)
	if err != nil {
		return nil, err
	}
	sendEntry, err := ParseSendEntry(sendBytes)
	if err != nil {
		return nil, err
	}
	return &ReceiveEntry{entryBase: base, sendEntry: sendEntry}, nil
}
