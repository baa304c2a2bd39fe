package messaging

import (
	"fmt"

	"github.com/dedis/dissent/crypto"
)

// ErrorType classifies a failed request.
type ErrorType int

const (
	NotAnError ErrorType = iota
	// InvalidInput covers malformed payloads and messages arriving in the
	// wrong protocol state.
	InvalidInput
	// InvalidSender covers messages from the wrong type of sender or from
	// non-members.
	InvalidSender
	// Other covers transient conditions the sender may retry later.
	Other
)

func (t ErrorType) String() string {
	switch t {
	case NotAnError:
		return "NotAnError"
	case InvalidInput:
		return "InvalidInput"
	case InvalidSender:
		return "InvalidSender"
	case Other:
		return "Other"
	}
	return "Unknown"
}

// Response is the reply to a Request. A response with Type == NotAnError is
// successful and carries Data.
type Response struct {
	Type   ErrorType
	Reason string
	Data   []byte
}

func (r Response) Successful() bool {
	return r.Type == NotAnError
}

func (r Response) String() string {
	if r.Successful() {
		return fmt.Sprintf("response: %d bytes", len(r.Data))
	}
	return fmt.Sprintf("response: %s: %s", r.Type, r.Reason)
}

// Responder delivers the reply back to the requester. Nil for notifications.
type Responder func(Response)

// Request is an incoming message together with its response channel.
type Request struct {
	Method  string
	From    crypto.Id
	Data    []byte
	respond Responder
}

func NewRequest(method string, from crypto.Id, data []byte, respond Responder) Request {
	return Request{Method: method, From: from, Data: data, respond: respond}
}

// Respond delivers a successful reply. A no-op for notifications.
func (r Request) Respond(data []byte) {
	if r.respond != nil {
		r.respond(Response{Data: data})
	}
}

// Failed delivers an error reply. A no-op for notifications.
func (r Request) Failed(t ErrorType, reason string) {
	if r.respond != nil {
		r.respond(Response{Type: t, Reason: reason})
	}
}
