package peerreview

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/dedis/dissent/common"
)

// EntryLog is an append-only hash chain of entries.
type EntryLog struct {
	baseHash []byte
	entries  []Entry
}

func NewEntryLog(baseHash []byte) *EntryLog {
	return &EntryLog{baseHash: baseHash}
}

func (l *EntryLog) Count() int {
	return len(l.entries)
}

func (l *EntryLog) Entry(idx int) Entry {
	return l.entries[idx]
}

func (l *EntryLog) BaseHash() []byte {
	return l.baseHash
}

// NextSequenceId is the sequence id the next appended entry must carry.
func (l *EntryLog) NextSequenceId() uint32 {
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].SequenceId() + 1
}

// PreviousHash is the hash the next appended entry must chain from: the
// last entry's message hash, or the base hash on an empty log.
func (l *EntryLog) PreviousHash() []byte {
	if len(l.entries) == 0 {
		return l.baseHash
	}
	return l.entries[len(l.entries)-1].MessageHash()
}

// Append admits entry only if it continues both the sequence-id chain and
// the hash chain.
func (l *EntryLog) Append(entry Entry) error {
	if entry.SequenceId() != l.NextSequenceId() {
		return errors.Errorf("entry log: sequence id %d does not follow %d",
			entry.SequenceId(), l.NextSequenceId())
	}
	if !bytes.Equal(entry.PreviousHash(), l.PreviousHash()) {
		return errors.New("entry log: previous hash does not chain")
	}
	l.entries = append(l.entries, entry)
	return nil
}

// Serialize writes the count, base hash, and every entry length-prefixed.
func (l *EntryLog) Serialize() []byte {
	out := common.WriteUint32(nil, uint32(len(l.entries)))
	out = common.WriteBytes(out, l.baseHash)
	for _, entry := range l.entries {
		out = common.WriteBytes(out, entry.Serialize())
	}
	return out
}

// ParseEntryLog rebuilds a log, revalidating the chain as it goes.
func ParseEntryLog(in []byte) (*EntryLog, error) {
	count, rest, err := common.ReadUint32(in)
	if err != nil {
		return nil, err
	}
	baseHash, rest, err := common.ReadBytes(rest)
	if err != nil {
		return nil, err
	}
	log := NewEntryLog(baseHash)
	for idx := uint32(0); idx < count; idx++ {
		var entryBytes []byte
		entryBytes, rest, err = common.ReadBytes(rest)
		if err != nil {
			return nil, errors.Wrap(err, "binary log lacks all entries")
		}
		entry, err := ParseEntry(entryBytes)
		if err != nil {
			return nil, err
		}
		if err := log.Append(entry); err != nil {
			return nil, err
		}
	}
	return log, nil
}
