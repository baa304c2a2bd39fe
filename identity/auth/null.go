package auth

import (
	"bytes"

	"github.com/dedis/dissent/common"
	"github.com/dedis/dissent/crypto"
	"github.com/dedis/dissent/identity"
)

// NullAuthenticator admits anyone whose claimed identity parses and
// matches the sending id.
type NullAuthenticator struct{}

var _ Authenticator = (*NullAuthenticator)(nil)

func NewNullAuthenticator() *NullAuthenticator {
	return &NullAuthenticator{}
}

func (a *NullAuthenticator) RequestChallenge(crypto.Id, []byte) (bool, []byte) {
	return true, nil
}

func (a *NullAuthenticator) VerifyResponse(member crypto.Id, data []byte) (bool, identity.PublicIdentity) {
	ident, err := identity.UnmarshalPublicIdentity(data)
	if err != nil {
		common.Logger.Debugf("null auth: undecodable identity from %s: %v", member, err)
		return false, identity.PublicIdentity{}
	}
	if ident.Id != member {
		common.Logger.Debugf("null auth: id mismatch from %s", member)
		return false, identity.PublicIdentity{}
	}
	return true, ident
}

const nonceLength = 32

// TwoPhaseNullAuthenticator hands the member a nonce which the response
// must echo ahead of the serialized identity. It exercises the full
// challenge round-trip without any cryptography.
type TwoPhaseNullAuthenticator struct {
	nonces map[crypto.Id][]byte
}

var _ Authenticator = (*TwoPhaseNullAuthenticator)(nil)

func NewTwoPhaseNullAuthenticator() *TwoPhaseNullAuthenticator {
	return &TwoPhaseNullAuthenticator{nonces: make(map[crypto.Id][]byte)}
}

func (a *TwoPhaseNullAuthenticator) RequestChallenge(member crypto.Id, _ []byte) (bool, []byte) {
	nonce := common.MustGetRandomBytes(nonceLength)
	a.nonces[member] = nonce
	return true, nonce
}

func (a *TwoPhaseNullAuthenticator) VerifyResponse(member crypto.Id, data []byte) (bool, identity.PublicIdentity) {
	nonce, ok := a.nonces[member]
	if !ok {
		common.Logger.Debugf("two-phase null auth: response without challenge from %s", member)
		return false, identity.PublicIdentity{}
	}
	echoed, rest, err := common.ReadBytes(data)
	if err != nil || !bytes.Equal(echoed, nonce) {
		common.Logger.Debugf("two-phase null auth: bad nonce from %s", member)
		return false, identity.PublicIdentity{}
	}
	delete(a.nonces, member)

	ident, err := identity.UnmarshalPublicIdentity(rest)
	if err != nil || ident.Id != member {
		return false, identity.PublicIdentity{}
	}
	return true, ident
}
