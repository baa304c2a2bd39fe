package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dedis/dissent/crypto"
)

func TestLocalHubRequestResponse(t *testing.T) {
	hub := NewLocalHub()
	a := hub.Join(crypto.NewId())
	b := hub.Join(crypto.NewId())

	b.Register("echo", func(req Request) {
		req.Respond(req.Data)
	})

	var got Response
	a.SendRequest(b.LocalId(), "echo", []byte("ping"), func(resp Response) {
		got = resp
	})
	assert.True(t, got.Successful())
	assert.Equal(t, []byte("ping"), got.Data)
}

func TestLocalHubSeverAndRestore(t *testing.T) {
	hub := NewLocalHub()
	a := hub.Join(crypto.NewId())
	b := hub.Join(crypto.NewId())

	var disconnects, connects int
	hub.OnDisconnection(func(crypto.Id, crypto.Id) { disconnects++ })
	hub.OnConnection(func(crypto.Id, crypto.Id) { connects++ })

	assert.True(t, a.Connected(b.LocalId()))
	assert.Equal(t, 2, a.ConnectionCount())

	hub.Sever(a.LocalId(), b.LocalId())
	assert.False(t, a.Connected(b.LocalId()))
	assert.Equal(t, 2, disconnects, "both endpoints observe the break")

	var delivered bool
	b.Register("probe", func(Request) { delivered = true })
	a.SendNotification(b.LocalId(), "probe", nil)
	assert.False(t, delivered, "severed links drop traffic")

	var failed Response
	a.SendRequest(b.LocalId(), "probe", nil, func(resp Response) { failed = resp })
	assert.Equal(t, Other, failed.Type)

	hub.Restore(a.LocalId(), b.LocalId())
	assert.Equal(t, 2, connects)
	a.SendNotification(b.LocalId(), "probe", nil)
	assert.True(t, delivered)
}

func TestLocalHubBroadcastIncludesSelf(t *testing.T) {
	hub := NewLocalHub()
	a := hub.Join(crypto.NewId())
	b := hub.Join(crypto.NewId())

	var seen []crypto.Id
	handler := func(node *LocalNode) func(Request) {
		return func(req Request) {
			seen = append(seen, node.LocalId())
		}
	}
	a.Register("tick", handler(a))
	b.Register("tick", handler(b))

	a.Broadcast("tick", nil)
	assert.Len(t, seen, 2)
	assert.Equal(t, a.LocalId(), seen[0], "loopback delivery comes first")
}

func TestLocalHubUnknownMethodFails(t *testing.T) {
	hub := NewLocalHub()
	a := hub.Join(crypto.NewId())
	b := hub.Join(crypto.NewId())

	var resp Response
	a.SendRequest(b.LocalId(), "nope", nil, func(r Response) { resp = r })
	assert.Equal(t, InvalidInput, resp.Type)

	b.Register("yes", func(req Request) { req.Respond(nil) })
	b.Unregister("yes")
	a.SendRequest(b.LocalId(), "yes", nil, func(r Response) { resp = r })
	assert.Equal(t, InvalidInput, resp.Type)
}
