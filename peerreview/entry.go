// Package peerreview maintains hash-chained, signed logs of sent and
// received messages together with per-message acknowledgements.
package peerreview

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/dedis/dissent/common"
	"github.com/dedis/dissent/crypto"
)

// EntryType tags the three log record variants.
type EntryType uint32

const (
	SendType    EntryType = 1
	ReceiveType EntryType = 2
	AckType     EntryType = 3
)

// Entry is one record of a peer-review log. Entries are immutable once
// signed.
type Entry interface {
	SequenceId() uint32
	Type() EntryType
	Destination() crypto.Id
	PreviousHash() []byte
	Signature() []byte
	// Message returns the variant's payload view.
	Message() []byte
	// MessageHash is variant-specific: H(payload) for sends, the send's
	// entry hash for receives, the sent message hash for acks.
	MessageHash() []byte
	// EntryHash chains the entry onto its predecessor.
	EntryHash() []byte
	Sign(key crypto.PrivKey) error
	Verify(key crypto.PubKey) bool
	Serialize() []byte
	Equal(other Entry) bool
}

// entryBase carries the fields shared by every entry variant.
type entryBase struct {
	seqId     uint32
	typ       EntryType
	dest      crypto.Id
	prevHash  []byte
	signature []byte
}

func (e *entryBase) SequenceId() uint32     { return e.seqId }
func (e *entryBase) Type() EntryType        { return e.typ }
func (e *entryBase) Destination() crypto.Id { return e.dest }
func (e *entryBase) PreviousHash() []byte   { return e.prevHash }
func (e *entryBase) Signature() []byte      { return e.signature }

// entryHash computes H(previous_hash || be32(seq_id) || destination ||
// message_hash).
func entryHash(prevHash []byte, seqId uint32, dest crypto.Id, msgHash []byte) []byte {
	seq := common.WriteUint32(nil, seqId)
	return common.Hash(prevHash, seq, dest.Bytes(), msgHash)
}

func (e *entryBase) sign(key crypto.PrivKey, hash []byte) error {
	if len(e.signature) != 0 {
		return errors.New("entry already signed")
	}
	sig, err := key.Sign(hash)
	if err != nil {
		return err
	}
	e.signature = sig
	return nil
}

func (e *entryBase) verify(key crypto.PubKey, hash []byte) bool {
	return key.Verify(hash, e.signature)
}

// serializeBase writes the shared envelope: u32 seq, u32 type, dest,
// length-prefixed previous hash and signature.
func (e *entryBase) serializeBase() []byte {
	out := common.WriteUint32(nil, e.seqId)
	out = common.WriteUint32(out, uint32(e.typ))
	out = append(out, e.dest.Bytes()...)
	out = common.WriteBytes(out, e.prevHash)
	out = common.WriteBytes(out, e.signature)
	return out
}

func parseEntryBase(in []byte) (entryBase, []byte, error) {
	var e entryBase
	seqId, rest, err := common.ReadUint32(in)
	if err != nil {
		return e, nil, err
	}
	typ, rest, err := common.ReadUint32(rest)
	if err != nil {
		return e, nil, err
	}
	if len(rest) < crypto.IdSize {
		return e, nil, errors.New("entry truncated before destination")
	}
	dest, err := crypto.IdFromBytes(rest[:crypto.IdSize])
	if err != nil {
		return e, nil, err
	}
	rest = rest[crypto.IdSize:]
	prevHash, rest, err := common.ReadBytes(rest)
	if err != nil {
		return e, nil, err
	}
	signature, rest, err := common.ReadBytes(rest)
	if err != nil {
		return e, nil, err
	}
	return entryBase{
		seqId:     seqId,
		typ:       EntryType(typ),
		dest:      dest,
		prevHash:  prevHash,
		signature: signature,
	}, rest, nil
}

func entriesEqual(a, b Entry) bool {
	return a.Type() == b.Type() &&
		bytes.Equal(a.EntryHash(), b.EntryHash()) &&
		bytes.Equal(a.Signature(), b.Signature())
}

// ParseEntry decodes any entry variant from its serialized form.
func ParseEntry(in []byte) (Entry, error) {
	if len(in) < 8 {
		return nil, errors.New("entry too short")
	}
	typ, _, err := common.ReadUint32(in[4:])
	if err != nil {
		return nil, err
	}
	switch EntryType(typ) {
	case SendType:
		return ParseSendEntry(in)
	case ReceiveType:
		return ParseReceiveEntry(in)
	case AckType:
		return ParseAcknowledgement(in)
	}
	return nil, errors.Errorf("unknown entry type %d", typ)
}
