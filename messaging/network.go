package messaging

import (
	"github.com/dedis/dissent/crypto"
)

// Network is the narrow slice of the overlay consumed by sessions and
// rounds. The raw transport and connection table live behind it.
type Network interface {
	// LocalId identifies this endpoint on the overlay.
	LocalId() crypto.Id
	// SendRequest delivers a request to a peer; reply is invoked with the
	// peer's response.
	SendRequest(to crypto.Id, method string, data []byte, reply func(Response))
	// SendNotification delivers a one-way message to a peer.
	SendNotification(to crypto.Id, method string, data []byte)
	// Broadcast delivers a one-way message to every connected peer.
	Broadcast(method string, data []byte)
	// Connected reports whether a direct connection to the peer exists.
	Connected(to crypto.Id) bool
	// ConnectionCount returns the number of live connections, the local
	// endpoint included.
	ConnectionCount() int
	// Register installs the handler for an RPC method.
	Register(method string, handler func(Request))
	// Unregister removes a method handler.
	Unregister(method string)
}
