// Package auth contains the leader-side authenticators that admit members
// into a session, plus the member-side material they consume.
package auth

import (
	"github.com/dedis/dissent/crypto"
	"github.com/dedis/dissent/identity"
)

// Authenticator verifies joining members on behalf of the session leader.
type Authenticator interface {
	// RequestChallenge produces challenge material for the member, or
	// refuses with ok == false.
	RequestChallenge(member crypto.Id, data []byte) (ok bool, challenge []byte)
	// VerifyResponse checks the member's response; on success the member's
	// public identity is returned.
	VerifyResponse(member crypto.Id, data []byte) (ok bool, ident identity.PublicIdentity)
}

// Names accepted in the auth configuration option.
const (
	NameNull            = "null"
	NameTwoPhaseNull    = "two_phase_null"
	NameLRS             = "lrs"
	NamePreExchangedKey = "preexchanged_keys"
)
