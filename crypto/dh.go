package crypto

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"

	"github.com/dedis/dissent/common"
)

// DiffieHellman derives pairwise shared secrets. The tolerant round uses
// these to seed the per-pair cipher streams.
type DiffieHellman interface {
	PublicComponent() []byte
	SharedSecret(remote []byte) ([]byte, error)
}

type x25519 struct {
	private []byte
	public  []byte
}

// NewDiffieHellman provisions a fresh X25519 key pair.
func NewDiffieHellman() (DiffieHellman, error) {
	private := common.MustGetRandomBytes(curve25519.ScalarSize)
	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, errors.Wrap(err, "dh keygen failed")
	}
	return &x25519{private: private, public: public}, nil
}

func (dh *x25519) PublicComponent() []byte {
	out := make([]byte, len(dh.public))
	copy(out, dh.public)
	return out
}

func (dh *x25519) SharedSecret(remote []byte) ([]byte, error) {
	if len(remote) != curve25519.PointSize {
		return nil, errors.Errorf("invalid dh public length %d", len(remote))
	}
	secret, err := curve25519.X25519(dh.private, remote)
	if err != nil {
		return nil, errors.Wrap(err, "dh agreement failed")
	}
	return secret, nil
}
