package crypto

import (
	"crypto/ed25519"

	"github.com/pkg/errors"
)

// PubKey verifies signatures. Concrete primitives live behind this
// interface; the library itself never assumes a particular scheme beyond
// the default implementation below.
type PubKey interface {
	Verify(msg, sig []byte) bool
	Bytes() []byte
}

// PrivKey signs messages and never leaves its owner.
type PrivKey interface {
	Sign(msg []byte) ([]byte, error)
	Public() PubKey
}

type ed25519Pub struct {
	key ed25519.PublicKey
}

type ed25519Priv struct {
	key ed25519.PrivateKey
}

// GenerateKey provisions a fresh signing key pair.
func GenerateKey() (PrivKey, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, errors.Wrap(err, "key generation failed")
	}
	return &ed25519Priv{key: priv}, nil
}

// UnmarshalPubKey parses the serialized form produced by PubKey.Bytes.
func UnmarshalPubKey(b []byte) (PubKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, errors.Errorf("invalid public key length %d", len(b))
	}
	key := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(key, b)
	return &ed25519Pub{key: key}, nil
}

func (p *ed25519Pub) Verify(msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(p.key, msg, sig)
}

func (p *ed25519Pub) Bytes() []byte {
	out := make([]byte, len(p.key))
	copy(out, p.key)
	return out
}

func (p *ed25519Priv) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(p.key, msg), nil
}

func (p *ed25519Priv) Public() PubKey {
	return &ed25519Pub{key: p.key.Public().(ed25519.PublicKey)}
}
