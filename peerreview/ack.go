package peerreview

import (
	"bytes"

	"github.com/dedis/dissent/common"
	"github.com/dedis/dissent/crypto"
)

// Acknowledgement answers a received message back to its sender.
type Acknowledgement struct {
	entryBase
	sentHash  []byte
	sentSeqId uint32
}

var _ Entry = (*Acknowledgement)(nil)

func NewAcknowledgement(seqId uint32, remote crypto.Id, prevHash []byte,
	sentSeqId uint32, sentHash, signature []byte) *Acknowledgement {
	return &Acknowledgement{
		entryBase: entryBase{seqId: seqId, typ: AckType, dest: remote,
			prevHash: prevHash, signature: signature},
		sentHash:  sentHash,
		sentSeqId: sentSeqId,
	}
}

// NewAcknowledgementFromReceive derives the ack for a logged receive.
func NewAcknowledgementFromReceive(entry *ReceiveEntry) *Acknowledgement {
	return &Acknowledgement{
		entryBase: entryBase{seqId: entry.SequenceId(), typ: AckType,
			dest: entry.Destination(), prevHash: entry.PreviousHash(),
			signature: entry.Signature()},
		sentHash:  entry.MessageHash(),
		sentSeqId: entry.SendEntry().SequenceId(),
	}
}

// SentSequenceId identifies the send this ack answers.
func (e *Acknowledgement) SentSequenceId() uint32 {
	return e.sentSeqId
}

func (e *Acknowledgement) Message() []byte {
	return e.sentHash
}

func (e *Acknowledgement) MessageHash() []byte {
	return e.sentHash
}

func (e *Acknowledgement) EntryHash() []byte {
	return entryHash(e.prevHash, e.seqId, e.dest, e.MessageHash())
}

func (e *Acknowledgement) Sign(key crypto.PrivKey) error {
	return e.sign(key, e.EntryHash())
}

func (e *Acknowledgement) Verify(key crypto.PubKey) bool {
	return e.verify(key, e.EntryHash())
}

// VerifySend checks that this ack answers the given send entry and that
// the receiver's signature binds it.
func (e *Acknowledgement) VerifySend(send *SendEntry, key crypto.PubKey) bool {
	if e.sentSeqId != send.SequenceId() {
		return false
	}
	expected := entryHash(e.prevHash, e.seqId, e.dest, send.EntryHash())
	if !bytes.Equal(e.sentHash, send.EntryHash()) {
		return false
	}
	return key.Verify(expected, e.signature)
}

func (e *Acknowledgement) Serialize() []byte {
	out := e.serializeBase()
	out = common.WriteBytes(out, e.sentHash)
	return common.WriteUint32(out, e.sentSeqId)
}

func (e *Acknowledgement) Equal(other Entry) bool {
	return entriesEqual(e, other)
}

func ParseAcknowledgement(in []byte) (*Acknowledgement, error) {
	base, rest, err := parseEntryBase(in)
	if err != nil {
		return nil, err
	}
	sentHash, rest, err := common.ReadBytes(rest)
	if err != nil {
		return nil, err
	}
	sentSeqId, _, err := common.ReadUint32(rest)
	if err != nil {
		return nil, err
	}
	return &Acknowledgement{entryBase: base, sentHash: sentHash, sentSeqId: sentSeqId}, nil
}
