package anonymity

import (
	"github.com/pkg/errors"

	"github.com/dedis/dissent/common"
)

// Channel tags inside a round's per-peer payload.
const (
	// TagCleartext carries tunneled application cleartext.
	TagCleartext uint32 = 0
	// TagEntryTunnel carries the entry-tunnel IP channel.
	TagEntryTunnel uint32 = 1
)

// Record is one (length, tag, payload) unit of a round data payload.
// Unknown tags are preserved so newer peers can speak past older ones.
type Record struct {
	Tag     uint32
	Payload []byte
}

// EncodeRecords concatenates records as (u32 length, u32 tag, payload).
func EncodeRecords(records []Record) []byte {
	var out []byte
	for _, rec := range records {
		out = common.WriteUint32(out, uint32(len(rec.Payload)))
		out = common.WriteUint32(out, rec.Tag)
		out = append(out, rec.Payload...)
	}
	return out
}

// DecodeRecords splits a payload back into records, unknown tags included.
func DecodeRecords(in []byte) ([]Record, error) {
	var records []Record
	for len(in) > 0 {
		length, rest, err := common.ReadUint32(in)
		if err != nil {
			return nil, errors.Wrap(err, "record header truncated")
		}
		tag, rest, err := common.ReadUint32(rest)
		if err != nil {
			return nil, errors.Wrap(err, "record header truncated")
		}
		if uint32(len(rest)) < length {
			return nil, errors.Errorf("record truncated: need %d bytes, have %d", length, len(rest))
		}
		var payload []byte
		if length > 0 {
			payload = make([]byte, length)
			copy(payload, rest[:length])
		}
		records = append(records, Record{Tag: tag, Payload: payload})
		in = rest[length:]
	}
	return records, nil
}

// FilterRecords keeps the records carrying a known tag.
func FilterRecords(records []Record, tag uint32) []Record {
	var out []Record
	for _, rec := range records {
		if rec.Tag == tag {
			out = append(out, rec)
		}
	}
	return out
}
