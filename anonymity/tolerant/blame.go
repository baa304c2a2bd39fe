package tolerant

import (
	"github.com/pkg/errors"

	"github.com/dedis/dissent/common"
)

// Conflict is one (user, server) disagreement about a shared bit.
type Conflict struct {
	Slot      int
	UserIdx   int
	UserBit   bool
	ServerIdx int
	ServerBit bool
}

// bitPair holds the bit a user claims to have shared with a server and the
// bit the server claims for the same pairing.
type bitPair struct {
	userBit   bool
	serverBit bool
}

// BlameMatrix combines the alibis published by every node with this
// node's recorded outputs to name the nodes whose contributions disagree
// with what they transmitted.
type BlameMatrix struct {
	numUsers     int
	numServers   int
	data         [][]bitPair
	userOutput   *common.BitVector
	serverOutput *common.BitVector
}

func NewBlameMatrix(numUsers, numServers int) *BlameMatrix {
	data := make([][]bitPair, numUsers)
	for idx := range data {
		data[idx] = make([]bitPair, numServers)
	}
	return &BlameMatrix{
		numUsers:     numUsers,
		numServers:   numServers,
		data:         data,
		userOutput:   common.NewBitVector(numUsers),
		serverOutput: common.NewBitVector(numServers),
	}
}

// AddUserAlibi installs the bits user userIdx claims to have shared with
// each server.
func (m *BlameMatrix) AddUserAlibi(userIdx int, bits *common.BitVector) error {
	if userIdx < 0 || userIdx >= m.numUsers {
		return errors.Errorf("user index %d out of range", userIdx)
	}
	if bits.Len() != m.numServers {
		return errors.Errorf("user alibi covers %d servers, want %d", bits.Len(), m.numServers)
	}
	for serverIdx := 0; serverIdx < m.numServers; serverIdx++ {
		m.data[userIdx][serverIdx].userBit = bits.Get(serverIdx)
	}
	return nil
}

// AddServerAlibi installs the bits server serverIdx claims to have shared
// with each user.
func (m *BlameMatrix) AddServerAlibi(serverIdx int, bits *common.BitVector) error {
	if serverIdx < 0 || serverIdx >= m.numServers {
		return errors.Errorf("server index %d out of range", serverIdx)
	}
	if bits.Len() != m.numUsers {
		return errors.Errorf("server alibi covers %d users, want %d", bits.Len(), m.numUsers)
	}
	for userIdx := 0; userIdx < m.numUsers; userIdx++ {
		m.data[userIdx][serverIdx].serverBit = bits.Get(userIdx)
	}
	return nil
}

// AddUserOutputBit records the bit this node saw user userIdx transmit.
func (m *BlameMatrix) AddUserOutputBit(userIdx int, bit bool) {
	m.userOutput.Set(userIdx, bit)
}

// AddServerOutputBit records the bit this node saw server serverIdx
// transmit.
func (m *BlameMatrix) AddServerOutputBit(serverIdx int, bit bool) {
	m.serverOutput.Set(serverIdx, bit)
}

// BadUsers names every user whose alibi bits do not XOR to its transmitted
// output bit.
func (m *BlameMatrix) BadUsers() []int {
	var bad []int
	for userIdx := 0; userIdx < m.numUsers; userIdx++ {
		out := false
		for serverIdx := 0; serverIdx < m.numServers; serverIdx++ {
			out = out != m.data[userIdx][serverIdx].userBit
		}
		if out != m.userOutput.Get(userIdx) {
			bad = append(bad, userIdx)
		}
	}
	return bad
}

// BadServers names every server whose alibi bits do not XOR to its
// transmitted output bit.
func (m *BlameMatrix) BadServers() []int {
	var bad []int
	for serverIdx := 0; serverIdx < m.numServers; serverIdx++ {
		out := false
		for userIdx := 0; userIdx < m.numUsers; userIdx++ {
			out = out != m.data[userIdx][serverIdx].serverBit
		}
		if out != m.serverOutput.Get(serverIdx) {
			bad = append(bad, serverIdx)
		}
	}
	return bad
}

// Conflicts lists every (user, server) pair whose claimed bits disagree.
func (m *BlameMatrix) Conflicts(slot int) []Conflict {
	var conflicts []Conflict
	for userIdx := 0; userIdx < m.numUsers; userIdx++ {
		for serverIdx := 0; serverIdx < m.numServers; serverIdx++ {
			pair := m.data[userIdx][serverIdx]
			if pair.userBit != pair.serverBit {
				conflicts = append(conflicts, Conflict{
					Slot:      slot,
					UserIdx:   userIdx,
					UserBit:   pair.userBit,
					ServerIdx: serverIdx,
					ServerBit: pair.serverBit,
				})
			}
		}
	}
	return conflicts
}
