package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitVectorBasics(t *testing.T) {
	bv := NewBitVector(70)
	assert.Equal(t, 70, bv.Len())
	assert.Equal(t, 0, bv.Count())

	bv.Set(0, true)
	bv.Set(63, true)
	bv.Set(69, true)
	assert.Equal(t, 3, bv.Count())
	assert.True(t, bv.Get(63))
	assert.False(t, bv.Get(64))

	bv.Set(63, false)
	assert.Equal(t, 2, bv.Count())
}

func TestBitVectorFilled(t *testing.T) {
	bv := NewBitVectorFilled(130, true)
	assert.Equal(t, 130, bv.Count())
	bv.Fill(false)
	assert.Equal(t, 0, bv.Count())
}

func TestBitVectorAndOr(t *testing.T) {
	a := NewBitVector(8)
	b := NewBitVector(8)
	a.Set(1, true)
	a.Set(2, true)
	b.Set(2, true)
	b.Set(3, true)

	assert.Equal(t, 1, a.And(b).Count())
	assert.True(t, a.And(b).Get(2))
	assert.Equal(t, 3, a.Or(b).Count())

	// inputs untouched
	assert.Equal(t, 2, a.Count())
	assert.Equal(t, 2, b.Count())
}

func TestBitVectorEqualClone(t *testing.T) {
	a := NewBitVector(20)
	a.Set(7, true)
	b := a.Clone()
	assert.True(t, a.Equal(b))
	b.Set(8, true)
	assert.False(t, a.Equal(b))
}

func TestBitMatrix(t *testing.T) {
	m := NewBitMatrixFilled(3, 5, true)
	assert.Equal(t, 5, m.RowCount(1))
	m.Set(1, 2, false)
	assert.Equal(t, 4, m.RowCount(1))
	assert.Equal(t, 5, m.RowCount(0))

	row := m.Row(1)
	assert.False(t, row.Get(2))
	assert.True(t, row.Get(0))

	clone := m.Clone()
	clone.Set(0, 0, false)
	assert.True(t, m.Get(0, 0))
}

func TestPackUnpackBits(t *testing.T) {
	bv := NewBitVector(11)
	bv.Set(0, true)
	bv.Set(8, true)
	bv.Set(10, true)

	packed := PackBits(bv)
	assert.Equal(t, 2, len(packed))
	assert.Equal(t, byte(0x01), packed[0])
	assert.Equal(t, byte(0x05), packed[1])

	back, err := UnpackBits(packed, 0, 11)
	assert.NoError(t, err)
	assert.True(t, bv.Equal(back))

	_, err = UnpackBits(packed[:1], 0, 11)
	assert.Error(t, err)
}

func TestSerializationRoundTrip(t *testing.T) {
	out := WriteUint32(nil, 0xDEADBEEF)
	out = WriteBytes(out, []byte("hello"))

	v, rest, err := ReadUint32(out)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), v)

	b, rest, err := ReadBytes(rest)
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)
	assert.Empty(t, rest)
}
