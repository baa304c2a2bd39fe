package crypto

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/dedis/dissent/common"
)

// IdSize is the width of a node identifier in bytes (160 bits).
const IdSize = 20

// Id is a fixed-width opaque identifier with a total ordering. The zero
// value is the sentinel "zero id".
type Id [IdSize]byte

var ZeroId Id

// NewId provisions a fresh random identifier.
func NewId() Id {
	var id Id
	copy(id[:], common.MustGetRandomBytes(IdSize))
	return id
}

// IdFromBytes builds an Id from exactly IdSize bytes.
func IdFromBytes(b []byte) (Id, error) {
	var id Id
	if len(b) != IdSize {
		return id, errors.Errorf("invalid id length %d, want %d", len(b), IdSize)
	}
	copy(id[:], b)
	return id, nil
}

// IdFromUint64 builds the big-endian 160-bit representation of v. Used for
// sequentially assigned round ids.
func IdFromUint64(v uint64) Id {
	var id Id
	binary.BigEndian.PutUint64(id[IdSize-8:], v)
	return id
}

// IdFromString parses the base64 form produced by String.
func IdFromString(s string) (Id, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ZeroId, errors.Wrap(err, "invalid id encoding")
	}
	return IdFromBytes(b)
}

func (id Id) Bytes() []byte {
	out := make([]byte, IdSize)
	copy(out, id[:])
	return out
}

func (id Id) String() string {
	return base64.StdEncoding.EncodeToString(id[:])
}

func (id Id) Equal(other Id) bool {
	return id == other
}

// Compare orders ids lexicographically on their byte representation.
func (id Id) Compare(other Id) int {
	return bytes.Compare(id[:], other[:])
}

func (id Id) IsZero() bool {
	return id == ZeroId
}
