package common

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// MustGetRandomBytes panics if it is unable to gather entropy from the
// system source.
func MustGetRandomBytes(n int) []byte {
	out := make([]byte, n)
	if _, err := rand.Read(out); err != nil {
		panic(errors.Wrap(err, "unable to gather entropy"))
	}
	return out
}

// StreamRng is a deterministic byte stream expanded from a seed. Equal seeds
// produce equal streams on every node, which is what pairwise cipher
// generation and seeded shuffles rely on.
type StreamRng struct {
	shake     sha3.ShakeHash
	generated uint32
}

func NewStreamRng(seed []byte) *StreamRng {
	shake := sha3.NewShake256()
	shake.Write(seed)
	return &StreamRng{shake: shake}
}

func (r *StreamRng) Read(p []byte) (int, error) {
	n, err := r.shake.Read(p)
	r.generated += uint32(n)
	return n, err
}

// Generated returns the number of bytes drawn from the stream so far.
func (r *StreamRng) Generated() uint32 {
	return r.generated
}

func (r *StreamRng) uint32n(n uint32) uint32 {
	var buf [4]byte
	r.Read(buf[:])
	return binary.BigEndian.Uint32(buf[:]) % n
}

// RandomPermutation shuffles order in place using rng.
func RandomPermutation(order []int, rng *StreamRng) {
	for i := len(order) - 1; i > 0; i-- {
		j := int(rng.uint32n(uint32(i + 1)))
		order[i], order[j] = order[j], order[i]
	}
}
