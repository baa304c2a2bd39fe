package tolerant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccusationParsing(t *testing.T) {
	// phase=7, byte=42, bit=3
	in := []byte{0x00, 0x00, 0x00, 0x07, 0x00, 0x00, 0x00, 0x2A, 0x03}

	var acc Accusation
	require.NoError(t, acc.FromBytes(in))
	assert.True(t, acc.Initialized())
	assert.Equal(t, uint32(7), acc.Phase())
	assert.Equal(t, uint32(42), acc.ByteIndex())
	assert.Equal(t, uint8(3), acc.BitIndex())

	out, err := acc.ToBytes()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestAccusationRejectsBadInput(t *testing.T) {
	var acc Accusation

	assert.Error(t, acc.FromBytes([]byte{0x00}))
	assert.Error(t, acc.FromBytes(make([]byte, 10)))

	// bit index beyond 7
	bad := []byte{0, 0, 0, 1, 0, 0, 0, 1, 0x08}
	assert.Error(t, acc.FromBytes(bad))
	assert.False(t, acc.Initialized())

	_, err := acc.ToBytes()
	assert.Error(t, err)
}

func TestAccusationSetData(t *testing.T) {
	var acc Accusation

	// least significant set bit of the mask names the bit
	require.NoError(t, acc.SetData(3, 9, 0x28))
	assert.Equal(t, uint8(3), acc.BitIndex())
	assert.Equal(t, uint32(3), acc.Phase())
	assert.Equal(t, uint32(9), acc.ByteIndex())

	require.NoError(t, acc.SetData(0, 0, 0x80))
	assert.Equal(t, uint8(7), acc.BitIndex())

	assert.Error(t, acc.SetData(0, 0, 0x00))
	assert.False(t, acc.Initialized())
}

func TestAccusationRoundTrip(t *testing.T) {
	for mask := 1; mask < 256; mask <<= 1 {
		var acc Accusation
		require.NoError(t, acc.SetData(99, 1234, byte(mask)))
		b, err := acc.ToBytes()
		require.NoError(t, err)

		var back Accusation
		require.NoError(t, back.FromBytes(b))
		assert.Equal(t, acc, back)
	}
}
