package auth

import (
	"go.dedis.ch/protobuf"

	"github.com/dedis/dissent/common"
	"github.com/dedis/dissent/crypto"
	"github.com/dedis/dissent/identity"
)

// lrsResponse carries the serialized identity and the ring signature over
// it.
type lrsResponse struct {
	Ident     []byte
	Signature []byte
}

// LRSAuthenticator admits members in one shot on a linkable ring
// signature over their identity. The linkage tag blocks double joins.
type LRSAuthenticator struct {
	verifier crypto.LRSVerifier
	tags     map[string]bool
}

var _ Authenticator = (*LRSAuthenticator)(nil)

func NewLRSAuthenticator(verifier crypto.LRSVerifier) *LRSAuthenticator {
	return &LRSAuthenticator{
		verifier: verifier,
		tags:     make(map[string]bool),
	}
}

func (a *LRSAuthenticator) RequestChallenge(crypto.Id, []byte) (bool, []byte) {
	return true, nil
}

func (a *LRSAuthenticator) VerifyResponse(member crypto.Id, data []byte) (bool, identity.PublicIdentity) {
	var resp lrsResponse
	if err := protobuf.Decode(data, &resp); err != nil {
		common.Logger.Debugf("lrs auth: undecodable response from %s", member)
		return false, identity.PublicIdentity{}
	}

	ident, err := identity.UnmarshalPublicIdentity(resp.Ident)
	if err != nil {
		common.Logger.Debugf("lrs auth: invalid identity from %s", member)
		return false, identity.PublicIdentity{}
	}
	if ident.Id != member {
		common.Logger.Debugf("lrs auth: id does not match member %s", member)
		return false, identity.PublicIdentity{}
	}
	if len(ident.DhKey) == 0 {
		common.Logger.Debugf("lrs auth: missing dh key from %s", member)
		return false, identity.PublicIdentity{}
	}

	sig, err := crypto.ParseLRSSignature(resp.Signature)
	if err != nil {
		common.Logger.Debugf("lrs auth: unparsable signature from %s", member)
		return false, identity.PublicIdentity{}
	}
	if a.tags[string(sig.Tag)] {
		common.Logger.Debugf("lrs auth: tag already registered for %s", member)
		return false, identity.PublicIdentity{}
	}
	a.tags[string(sig.Tag)] = true

	if !a.verifier.Verify(resp.Ident, sig) {
		common.Logger.Debugf("lrs auth: invalid signature from %s", member)
		return false, identity.PublicIdentity{}
	}
	return true, ident
}

// MakeLRSResponse builds the member-side one-shot response.
func MakeLRSResponse(ident identity.PublicIdentity, sig crypto.LRSSignature) ([]byte, error) {
	identBytes, err := ident.Marshal()
	if err != nil {
		return nil, err
	}
	return protobuf.Encode(&lrsResponse{Ident: identBytes, Signature: sig.Bytes()})
}
