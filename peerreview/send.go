package peerreview

import (
	"github.com/dedis/dissent/common"
	"github.com/dedis/dissent/crypto"
)

// SendEntry logs an outgoing message.
type SendEntry struct {
	entryBase
	payload []byte
}

var _ Entry = (*SendEntry)(nil)

func NewSendEntry(seqId uint32, dest crypto.Id, prevHash, payload []byte) *SendEntry {
	return &SendEntry{
		entryBase: entryBase{seqId: seqId, typ: SendType, dest: dest, prevHash: prevHash},
		payload:   payload,
	}
}

func (e *SendEntry) Message() []byte {
	return e.payload
}

func (e *SendEntry) MessageHash() []byte {
	return common.Hash(e.payload)
}

func (e *SendEntry) EntryHash() []byte {
	return entryHash(e.prevHash, e.seqId, e.dest, e.MessageHash())
}

func (e *SendEntry) Sign(key crypto.PrivKey) error {
	return e.sign(key, e.EntryHash())
}

func (e *SendEntry) Verify(key crypto.PubKey) bool {
	return e.verify(key, e.EntryHash())
}

func (e *SendEntry) Serialize() []byte {
	out := e.serializeBase()
	return common.WriteBytes(out, e.payload)
}

func (e *SendEntry) Equal(other Entry) bool {
	return entriesEqual(e, other)
}

func ParseSendEntry(in []byte) (*SendEntry, error) {
	base, rest, err := parseEntryBase(in)
	if err != nil {
		return nil, err
	}
	payload, _, err := common.ReadBytes(rest)
	if err != nil {
		return nil, err
	}
	return &SendEntry{entryBase: base, payload: payload}, nil
}
