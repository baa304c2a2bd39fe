package common

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// WriteUint32 appends v to out in big-endian order.
func WriteUint32(out []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(out, buf[:]...)
}

// ReadUint32 consumes a big-endian u32 from in.
func ReadUint32(in []byte) (uint32, []byte, error) {
	if len(in) < 4 {
		return 0, nil, errors.Errorf("need 4 bytes to read a u32, have %d", len(in))
	}
	return binary.BigEndian.Uint32(in), in[4:], nil
}

// WriteBytes appends a length-prefixed byte string to out.
func WriteBytes(out, b []byte) []byte {
	out = WriteUint32(out, uint32(len(b)))
	return append(out, b...)
}

// ReadBytes consumes a length-prefixed byte string from in.
func ReadBytes(in []byte) ([]byte, []byte, error) {
	n, rest, err := ReadUint32(in)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(rest)) < n {
		return nil, nil, errors.Errorf("byte string truncated: need %d bytes, have %d", n, len(rest))
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], nil
}

// BytesRequired returns the packed byte length of an n-bit vector.
func BytesRequired(n int) int {
	return (n + 7) / 8
}

// PackBits packs a bit vector, bit i into byte i/8 at position i%8.
func PackBits(bv *BitVector) []byte {
	out := make([]byte, BytesRequired(bv.Len()))
	for i := 0; i < bv.Len(); i++ {
		if bv.Get(i) {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out
}

// UnpackBits reads n bits from in starting at byte offset.
func UnpackBits(in []byte, offset, n int) (*BitVector, error) {
	if len(in) < offset+BytesRequired(n) {
		return nil, errors.Errorf("bit vector truncated: need %d bytes at offset %d, have %d",
			BytesRequired(n), offset, len(in))
	}
	bv := NewBitVector(n)
	for i := 0; i < n; i++ {
		bv.Set(i, in[offset+i/8]&(1<<(uint(i)%8)) != 0)
	}
	return bv, nil
}
