package identity

import (
	"bytes"

	"go.dedis.ch/protobuf"

	"github.com/dedis/dissent/crypto"
)

// PublicIdentity is the shareable portion of a member's credentials.
type PublicIdentity struct {
	Id        crypto.Id
	VerKey    crypto.PubKey
	DhKey     []byte
	SuperPeer bool
}

// PrivateIdentity holds a member's secrets and never leaves its owner.
type PrivateIdentity struct {
	Id        crypto.Id
	SignKey   crypto.PrivKey
	Dh        crypto.DiffieHellman
	SuperPeer bool
}

// NewPrivateIdentity provisions a fresh identity with random id and keys.
func NewPrivateIdentity(superPeer bool) (PrivateIdentity, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return PrivateIdentity{}, err
	}
	dh, err := crypto.NewDiffieHellman()
	if err != nil {
		return PrivateIdentity{}, err
	}
	return PrivateIdentity{
		Id:        crypto.NewId(),
		SignKey:   key,
		Dh:        dh,
		SuperPeer: superPeer,
	}, nil
}

// Public derives the shareable identity.
func (p PrivateIdentity) Public() PublicIdentity {
	return PublicIdentity{
		Id:        p.Id,
		VerKey:    p.SignKey.Public(),
		DhKey:     p.Dh.PublicComponent(),
		SuperPeer: p.SuperPeer,
	}
}

// Compare orders identities by id, then serialized verification key, then
// DH public component.
func (p PublicIdentity) Compare(other PublicIdentity) int {
	if c := p.Id.Compare(other.Id); c != 0 {
		return c
	}
	if c := bytes.Compare(keyBytes(p.VerKey), keyBytes(other.VerKey)); c != 0 {
		return c
	}
	return bytes.Compare(p.DhKey, other.DhKey)
}

func (p PublicIdentity) Equal(other PublicIdentity) bool {
	return p.Compare(other) == 0 && p.SuperPeer == other.SuperPeer
}

func keyBytes(k crypto.PubKey) []byte {
	if k == nil {
		return nil
	}
	return k.Bytes()
}

// wireIdentity is the serialized form of a PublicIdentity.
type wireIdentity struct {
	Id        []byte
	VerKey    []byte
	DhKey     []byte
	SuperPeer bool
}

// Marshal serializes the identity for the wire.
func (p PublicIdentity) Marshal() ([]byte, error) {
	return protobuf.Encode(&wireIdentity{
		Id:        p.Id.Bytes(),
		VerKey:    keyBytes(p.VerKey),
		DhKey:     p.DhKey,
		SuperPeer: p.SuperPeer,
	})
}

// UnmarshalPublicIdentity parses the form produced by Marshal.
func UnmarshalPublicIdentity(b []byte) (PublicIdentity, error) {
	var w wireIdentity
	if err := protobuf.Decode(b, &w); err != nil {
		return PublicIdentity{}, err
	}
	id, err := crypto.IdFromBytes(w.Id)
	if err != nil {
		return PublicIdentity{}, err
	}
	key, err := crypto.UnmarshalPubKey(w.VerKey)
	if err != nil {
		return PublicIdentity{}, err
	}
	return PublicIdentity{
		Id:        id,
		VerKey:    key,
		DhKey:     w.DhKey,
		SuperPeer: w.SuperPeer,
	}, nil
}
