// Package tolerant implements the accountability machinery of tolerant
// rounds: per-bit alibis, received-message history, and the blame matrix
// that names protocol deviators.
package tolerant

import (
	"fmt"
	"math/bits"

	"github.com/pkg/errors"

	"github.com/dedis/dissent/common"
)

// AccusationLength is the wire size of a serialized accusation.
const AccusationLength = 9

// Accusation pins the location of a corrupted bit: the phase, the byte
// within the slot, and the bit within the byte.
type Accusation struct {
	phase       uint32
	byteIdx     uint32
	bitIdx      uint8
	initialized bool
}

// SetData fills the accusation from a corruption bitmask: the accused bit
// is the least-significant set bit of mask.
func (a *Accusation) SetData(phase, byteIdx uint32, mask byte) error {
	a.phase = phase
	a.byteIdx = byteIdx
	a.initialized = false
	if mask == 0 {
		return errors.New("accusation bitmask is empty")
	}
	bit := uint8(bits.TrailingZeros8(mask))
	if bit > 7 {
		return errors.Errorf("accusation bit index %d out of range", bit)
	}
	a.bitIdx = bit
	a.initialized = true
	return nil
}

// FromBytes parses the 9-byte wire form.
func (a *Accusation) FromBytes(in []byte) error {
	a.initialized = false
	if len(in) != AccusationLength {
		return errors.Errorf("accusation must be %d bytes, got %d", AccusationLength, len(in))
	}
	phase, rest, _ := common.ReadUint32(in)
	byteIdx, rest, _ := common.ReadUint32(rest)
	bitIdx := rest[0]
	if bitIdx > 7 {
		return errors.Errorf("accusation bit index %d out of range", bitIdx)
	}
	a.phase = phase
	a.byteIdx = byteIdx
	a.bitIdx = bitIdx
	a.initialized = true
	return nil
}

// ToBytes serializes the accusation: be32 phase, be32 byte index, one byte
// bit index.
func (a Accusation) ToBytes() ([]byte, error) {
	if !a.initialized {
		return nil, errors.New("cannot serialize an uninitialized accusation")
	}
	out := common.WriteUint32(nil, a.phase)
	out = common.WriteUint32(out, a.byteIdx)
	return append(out, a.bitIdx), nil
}

func (a Accusation) Initialized() bool { return a.initialized }
func (a Accusation) Phase() uint32     { return a.phase }
func (a Accusation) ByteIndex() uint32 { return a.byteIdx }
func (a Accusation) BitIndex() uint8   { return a.bitIdx }

func (a Accusation) String() string {
	status := "Invalid"
	if a.initialized {
		status = "OK"
	}
	return fmt.Sprintf("Accusation: %s Phase %d, Byte %d, Bit %d",
		status, a.phase, a.byteIdx, a.bitIdx)
}
