package auth

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedis/dissent/common"
	"github.com/dedis/dissent/crypto"
	"github.com/dedis/dissent/identity"
)

func newIdent(t *testing.T) identity.PrivateIdentity {
	ident, err := identity.NewPrivateIdentity(false)
	require.NoError(t, err)
	return ident
}

func TestNullAuthenticator(t *testing.T) {
	a := NewNullAuthenticator()
	member := newIdent(t)

	identBytes, err := member.Public().Marshal()
	require.NoError(t, err)

	ok, got := a.VerifyResponse(member.Id, identBytes)
	assert.True(t, ok)
	assert.Equal(t, member.Id, got.Id)

	// claimed identity must match the sending id
	ok, _ = a.VerifyResponse(crypto.NewId(), identBytes)
	assert.False(t, ok)

	ok, _ = a.VerifyResponse(member.Id, []byte("garbage"))
	assert.False(t, ok)
}

func TestTwoPhaseNullAuthenticator(t *testing.T) {
	a := NewTwoPhaseNullAuthenticator()
	member := newIdent(t)

	ok, nonce := a.RequestChallenge(member.Id, nil)
	require.True(t, ok)
	require.NotEmpty(t, nonce)

	identBytes, err := member.Public().Marshal()
	require.NoError(t, err)
	resp := common.WriteBytes(nil, nonce)
	resp = append(resp, identBytes...)

	ok, got := a.VerifyResponse(member.Id, resp)
	assert.True(t, ok)
	assert.Equal(t, member.Id, got.Id)

	// the nonce is single-use
	ok, _ = a.VerifyResponse(member.Id, resp)
	assert.False(t, ok)
}

func TestTwoPhaseNullRejectsBadNonce(t *testing.T) {
	a := NewTwoPhaseNullAuthenticator()
	member := newIdent(t)

	ok, _ := a.RequestChallenge(member.Id, nil)
	require.True(t, ok)

	identBytes, err := member.Public().Marshal()
	require.NoError(t, err)
	resp := common.WriteBytes(nil, bytes.Repeat([]byte{0xFF}, nonceLength))
	resp = append(resp, identBytes...)

	ok, _ = a.VerifyResponse(member.Id, resp)
	assert.False(t, ok)
}

func TestPreExchangedKeyHandshake(t *testing.T) {
	leader := newIdent(t)
	member := newIdent(t)

	keys := KeyShare{member.Id: member.SignKey.Public()}
	a := NewPreExchangedKeyAuthenticator(leader, keys)

	memberNonce := common.MustGetRandomBytes(NonceLength)
	ok, challenge := a.RequestChallenge(member.Id, memberNonce)
	require.True(t, ok)

	resp, err := Authenticate(member, leader.SignKey.Public(), memberNonce, challenge)
	require.NoError(t, err)

	ok, got := a.VerifyResponse(member.Id, resp)
	assert.True(t, ok)
	assert.Equal(t, member.Id, got.Id)
}

func TestPreExchangedKeyRejectsStrangers(t *testing.T) {
	leader := newIdent(t)
	stranger := newIdent(t)

	a := NewPreExchangedKeyAuthenticator(leader, KeyShare{})
	ok, _ := a.RequestChallenge(stranger.Id, common.MustGetRandomBytes(NonceLength))
	assert.False(t, ok)

	ok, _ = a.VerifyResponse(stranger.Id, []byte("unsolicited"))
	assert.False(t, ok)
}

func TestPreExchangedKeyRejectsForgedResponse(t *testing.T) {
	leader := newIdent(t)
	member := newIdent(t)
	forger := newIdent(t)

	keys := KeyShare{member.Id: member.SignKey.Public()}
	a := NewPreExchangedKeyAuthenticator(leader, keys)

	memberNonce := common.MustGetRandomBytes(NonceLength)
	ok, challenge := a.RequestChallenge(member.Id, memberNonce)
	require.True(t, ok)

	// forger signs with the wrong key; the leader must reject it
	resp, err := Authenticate(forger, leader.SignKey.Public(), memberNonce, challenge)
	require.NoError(t, err)
	ok, _ = a.VerifyResponse(member.Id, resp)
	assert.False(t, ok)
}

// fakeLRSVerifier accepts everything; the authenticator's own tag
// bookkeeping is under test.
type fakeLRSVerifier struct{}

func (fakeLRSVerifier) Verify([]byte, crypto.LRSSignature) bool { return true }

func TestLRSAuthenticatorTagReuse(t *testing.T) {
	a := NewLRSAuthenticator(fakeLRSVerifier{})
	member := newIdent(t)

	sig := crypto.LRSSignature{Tag: []byte("tag-1"), Data: []byte("sig")}
	resp, err := MakeLRSResponse(member.Public(), sig)
	require.NoError(t, err)

	ok, got := a.VerifyResponse(member.Id, resp)
	assert.True(t, ok)
	assert.Equal(t, member.Id, got.Id)

	// same linkage tag cannot join twice
	other := newIdent(t)
	resp2, err := MakeLRSResponse(other.Public(), sig)
	require.NoError(t, err)
	ok, _ = a.VerifyResponse(other.Id, resp2)
	assert.False(t, ok)

	// a fresh tag is fine
	resp3, err := MakeLRSResponse(other.Public(), crypto.LRSSignature{Tag: []byte("tag-2"), Data: []byte("sig")})
	require.NoError(t, err)
	ok, _ = a.VerifyResponse(other.Id, resp3)
	assert.True(t, ok)
}
