package peerreview

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/dedis/dissent/common"
)

// AcknowledgementLog maps sent sequence ids to their acks. Re-inserting an
// identical ack is idempotent; a differing ack for a taken key is rejected
// and the log is unchanged.
type AcknowledgementLog struct {
	acks map[uint32]*Acknowledgement
}

func NewAcknowledgementLog() *AcknowledgementLog {
	return &AcknowledgementLog{acks: make(map[uint32]*Acknowledgement)}
}

func (l *AcknowledgementLog) Count() int {
	return len(l.acks)
}

func (l *AcknowledgementLog) Get(sentSeqId uint32) (*Acknowledgement, bool) {
	ack, ok := l.acks[sentSeqId]
	return ack, ok
}

func (l *AcknowledgementLog) Insert(ack *Acknowledgement) error {
	if ack == nil {
		return errors.New("tried to insert an empty ack")
	}
	seqId := ack.SentSequenceId()
	if existing, ok := l.acks[seqId]; ok {
		if existing.Equal(ack) {
			return nil
		}
		return errors.Errorf("conflicting ack for sent sequence id %d", seqId)
	}
	l.acks[seqId] = ack
	return nil
}

// Serialize writes acks ordered by sent sequence id.
func (l *AcknowledgementLog) Serialize() []byte {
	keys := make([]uint32, 0, len(l.acks))
	for seqId := range l.acks {
		keys = append(keys, seqId)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := common.WriteUint32(nil, uint32(len(keys)))
	for _, seqId := range keys {
		out = common.WriteBytes(out, l.acks[seqId].Serialize())
	}
	return out
}

// ParseAcknowledgementLog rebuilds an ack log from its serialized form.
func ParseAcknowledgementLog(in []byte) (*AcknowledgementLog, error) {
	count, rest, err := common.ReadUint32(in)
	if err != nil {
		return nil, err
	}
	log := NewAcknowledgementLog()
	for idx := uint32(0); idx < count; idx++ {
		var ackBytes []byte
		ackBytes, rest, err = common.ReadBytes(rest)
		if err != nil {
			return nil, err
		}
		ack, err := ParseAcknowledgement(ackBytes)
		if err != nil {
			return nil, err
		}
		if err := log.Insert(ack); err != nil {
			return nil, err
		}
	}
	return log, nil
}
