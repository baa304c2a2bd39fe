package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdRoundTrips(t *testing.T) {
	id := NewId()
	back, err := IdFromBytes(id.Bytes())
	assert.NoError(t, err)
	assert.True(t, id.Equal(back))

	fromStr, err := IdFromString(id.String())
	assert.NoError(t, err)
	assert.True(t, id.Equal(fromStr))

	_, err = IdFromBytes([]byte("short"))
	assert.Error(t, err)
}

func TestIdOrdering(t *testing.T) {
	a := IdFromUint64(1)
	b := IdFromUint64(2)
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestZeroId(t *testing.T) {
	assert.True(t, ZeroId.IsZero())
	assert.True(t, IdFromUint64(0).IsZero())
	assert.False(t, NewId().IsZero())
}

func TestKeySignVerify(t *testing.T) {
	key, err := GenerateKey()
	assert.NoError(t, err)

	msg := []byte("attributable message")
	sig, err := key.Sign(msg)
	assert.NoError(t, err)
	assert.True(t, key.Public().Verify(msg, sig))
	assert.False(t, key.Public().Verify([]byte("other"), sig))

	pub, err := UnmarshalPubKey(key.Public().Bytes())
	assert.NoError(t, err)
	assert.True(t, pub.Verify(msg, sig))
}

func TestDiffieHellmanAgreement(t *testing.T) {
	alice, err := NewDiffieHellman()
	assert.NoError(t, err)
	bob, err := NewDiffieHellman()
	assert.NoError(t, err)

	ab, err := alice.SharedSecret(bob.PublicComponent())
	assert.NoError(t, err)
	ba, err := bob.SharedSecret(alice.PublicComponent())
	assert.NoError(t, err)
	assert.Equal(t, ab, ba)

	_, err = alice.SharedSecret([]byte("short"))
	assert.Error(t, err)
}
