package auth

import (
	"bytes"

	"github.com/pkg/errors"
	"go.dedis.ch/protobuf"

	"github.com/dedis/dissent/common"
	"github.com/dedis/dissent/crypto"
	"github.com/dedis/dissent/identity"
)

// NonceLength sizes the nonces exchanged in the pre-exchanged-key
// handshake.
const NonceLength = 32

var (
	errNotLeader     = errors.New("challenge not signed by the leader")
	errNonceMismatch = errors.New("challenge does not cover our nonce")
)

// KeyShare is the roster of pre-exchanged verification keys, by id.
type KeyShare map[crypto.Id]crypto.PubKey

func (ks KeyShare) Contains(id crypto.Id) bool {
	_, ok := ks[id]
	return ok
}

// challengePayload is what the leader signs: the member's nonce followed
// by the leader's.
type challengePayload struct {
	MemberNonce []byte
	LeaderNonce []byte
}

// responsePayload carries the member's signature over the challenge along
// with its serialized identity.
type responsePayload struct {
	Ident     []byte
	Challenge []byte
	Signature []byte
}

// PreExchangedKeyAuthenticator runs a 3-move mutual handshake of signed
// nonces against a fixed key roster.
type PreExchangedKeyAuthenticator struct {
	ident  identity.PrivateIdentity
	keys   KeyShare
	nonces map[crypto.Id][]byte
}

var _ Authenticator = (*PreExchangedKeyAuthenticator)(nil)

func NewPreExchangedKeyAuthenticator(ident identity.PrivateIdentity, keys KeyShare) *PreExchangedKeyAuthenticator {
	return &PreExchangedKeyAuthenticator{
		ident:  ident,
		keys:   keys,
		nonces: make(map[crypto.Id][]byte),
	}
}

// RequestChallenge signs (member nonce, leader nonce) so the member can
// verify the leader before revealing anything further.
func (a *PreExchangedKeyAuthenticator) RequestChallenge(member crypto.Id, data []byte) (bool, []byte) {
	if !a.keys.Contains(member) {
		common.Logger.Debugf("pre-exchanged auth: %s not in roster", member)
		return false, nil
	}
	if len(data) == 0 {
		common.Logger.Debugf("pre-exchanged auth: empty nonce from %s", member)
		return false, nil
	}

	leaderNonce := common.MustGetRandomBytes(NonceLength)
	payload, err := protobuf.Encode(&challengePayload{MemberNonce: data, LeaderNonce: leaderNonce})
	if err != nil {
		return false, nil
	}
	sig, err := a.ident.SignKey.Sign(payload)
	if err != nil {
		return false, nil
	}

	a.nonces[member] = leaderNonce
	out := common.WriteBytes(nil, payload)
	out = common.WriteBytes(out, sig)
	return true, out
}

// VerifyResponse checks the member's signature over the challenge and
// that the echoed leader nonce matches.
func (a *PreExchangedKeyAuthenticator) VerifyResponse(member crypto.Id, data []byte) (bool, identity.PublicIdentity) {
	nonce, ok := a.nonces[member]
	if !ok {
		common.Logger.Warnf("pre-exchanged auth: response for unknown member %s", member)
		return false, identity.PublicIdentity{}
	}

	var resp responsePayload
	if err := protobuf.Decode(data, &resp); err != nil {
		common.Logger.Debugf("pre-exchanged auth: undecodable response from %s", member)
		return false, identity.PublicIdentity{}
	}

	key := a.keys[member]
	signed := common.WriteBytes(nil, resp.Ident)
	signed = common.WriteBytes(signed, resp.Challenge)
	if !key.Verify(signed, resp.Signature) {
		common.Logger.Debugf("pre-exchanged auth: invalid signature from %s", member)
		return false, identity.PublicIdentity{}
	}

	var challenge challengePayload
	if err := protobuf.Decode(resp.Challenge, &challenge); err != nil {
		return false, identity.PublicIdentity{}
	}
	if !bytes.Equal(challenge.LeaderNonce, nonce) {
		common.Logger.Debugf("pre-exchanged auth: invalid nonce from %s", member)
		return false, identity.PublicIdentity{}
	}
	delete(a.nonces, member)

	ident, err := identity.UnmarshalPublicIdentity(resp.Ident)
	if err != nil || ident.Id != member {
		return false, identity.PublicIdentity{}
	}
	return true, ident
}

// Authenticate produces the member-side response to a leader challenge.
// The member verifies the leader's signature over its own nonce first.
func Authenticate(ident identity.PrivateIdentity, leaderKey crypto.PubKey,
	memberNonce, challenge []byte) ([]byte, error) {
	payload, rest, err := common.ReadBytes(challenge)
	if err != nil {
		return nil, err
	}
	sig, _, err := common.ReadBytes(rest)
	if err != nil {
		return nil, err
	}
	if !leaderKey.Verify(payload, sig) {
		return nil, errNotLeader
	}
	var decoded challengePayload
	if err := protobuf.Decode(payload, &decoded); err != nil {
		return nil, err
	}
	if !bytes.Equal(decoded.MemberNonce, memberNonce) {
		return nil, errNonceMismatch
	}

	identBytes, err := ident.Public().Marshal()
	if err != nil {
		return nil, err
	}
	signed := common.WriteBytes(nil, identBytes)
	signed = common.WriteBytes(signed, payload)
	ownSig, err := ident.SignKey.Sign(signed)
	if err != nil {
		return nil, err
	}
	return protobuf.Encode(&responsePayload{Ident: identBytes, Challenge: payload, Signature: ownSig})
}
