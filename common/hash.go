package common

import (
	"crypto/sha256"

	"golang.org/x/crypto/sha3"
)

const HashSize = sha256.Size

// Hash returns the SHA-256 digest of the concatenation of its inputs.
func Hash(in ...[]byte) []byte {
	state := sha256.New()
	for _, bz := range in {
		state.Write(bz)
	}
	return state.Sum(nil)
}

// SeedDigest derives a 32-byte seed for deterministic shuffles.
func SeedDigest(in ...[]byte) []byte {
	state := sha3.New256()
	for _, bz := range in {
		state.Write(bz)
	}
	return state.Sum(nil)
}
