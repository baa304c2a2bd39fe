package crypto

import (
	"github.com/dedis/dissent/common"
)

// LRSSignature is a linkable ring signature together with its linkage tag.
// Two signatures by the same signer carry the same tag.
type LRSSignature struct {
	Tag  []byte
	Data []byte
}

// ParseLRSSignature splits the wire form (length-prefixed tag, then
// signature body).
func ParseLRSSignature(b []byte) (LRSSignature, error) {
	tag, rest, err := common.ReadBytes(b)
	if err != nil {
		return LRSSignature{}, err
	}
	return LRSSignature{Tag: tag, Data: rest}, nil
}

func (s LRSSignature) Bytes() []byte {
	out := common.WriteBytes(nil, s.Tag)
	return append(out, s.Data...)
}

// LRSVerifier verifies linkable ring signatures over a fixed ring. The
// concrete construction is supplied by the application.
type LRSVerifier interface {
	Verify(msg []byte, sig LRSSignature) bool
}
