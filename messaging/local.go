package messaging

import (
	"sync"

	"github.com/dedis/dissent/common"
	"github.com/dedis/dissent/crypto"
)

// LocalHub wires a set of in-process endpoints together. It backs the
// multi-node test harness and the local_nodes demo mode: delivery is
// synchronous and per-pair ordered, which matches the serializability
// model the sessions assume.
type LocalHub struct {
	mtx   sync.Mutex
	nodes map[crypto.Id]*LocalNode
	// severed holds explicitly broken links
	severed map[[2]crypto.Id]bool

	connectionCb    []func(a, b crypto.Id)
	disconnectionCb []func(a, b crypto.Id)
}

func NewLocalHub() *LocalHub {
	return &LocalHub{
		nodes:   make(map[crypto.Id]*LocalNode),
		severed: make(map[[2]crypto.Id]bool),
	}
}

// Join attaches a new endpoint to the hub.
func (h *LocalHub) Join(id crypto.Id) *LocalNode {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	node := &LocalNode{
		id:       id,
		hub:      h,
		handlers: make(map[string]func(Request)),
	}
	h.nodes[id] = node
	return node
}

// Leave detaches an endpoint; peers observe a disconnect.
func (h *LocalHub) Leave(id crypto.Id) {
	h.mtx.Lock()
	if _, ok := h.nodes[id]; !ok {
		h.mtx.Unlock()
		return
	}
	delete(h.nodes, id)
	peers := make([]crypto.Id, 0, len(h.nodes))
	for pid := range h.nodes {
		peers = append(peers, pid)
	}
	cbs := append([]func(a, b crypto.Id){}, h.disconnectionCb...)
	h.mtx.Unlock()

	for _, pid := range peers {
		for _, cb := range cbs {
			cb(pid, id)
		}
	}
}

// Sever breaks the link between a and b without detaching either.
func (h *LocalHub) Sever(a, b crypto.Id) {
	h.mtx.Lock()
	h.severed[linkKey(a, b)] = true
	cbs := append([]func(x, y crypto.Id){}, h.disconnectionCb...)
	h.mtx.Unlock()
	for _, cb := range cbs {
		cb(a, b)
		cb(b, a)
	}
}

// Restore re-establishes a severed link.
func (h *LocalHub) Restore(a, b crypto.Id) {
	h.mtx.Lock()
	delete(h.severed, linkKey(a, b))
	cbs := append([]func(x, y crypto.Id){}, h.connectionCb...)
	h.mtx.Unlock()
	for _, cb := range cbs {
		cb(a, b)
		cb(b, a)
	}
}

// OnConnection registers a callback fired for each endpoint of a restored
// link; the first argument is the observer, the second the remote.
func (h *LocalHub) OnConnection(cb func(observer, remote crypto.Id)) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.connectionCb = append(h.connectionCb, cb)
}

// OnDisconnection registers a callback fired for each endpoint of a broken
// link.
func (h *LocalHub) OnDisconnection(cb func(observer, remote crypto.Id)) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.disconnectionCb = append(h.disconnectionCb, cb)
}

func linkKey(a, b crypto.Id) [2]crypto.Id {
	if a.Compare(b) > 0 {
		a, b = b, a
	}
	return [2]crypto.Id{a, b}
}

func (h *LocalHub) connected(a, b crypto.Id) bool {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if _, ok := h.nodes[a]; !ok {
		return false
	}
	if _, ok := h.nodes[b]; !ok {
		return false
	}
	return !h.severed[linkKey(a, b)]
}

func (h *LocalHub) lookup(id crypto.Id) *LocalNode {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return h.nodes[id]
}

func (h *LocalHub) peersOf(id crypto.Id) []*LocalNode {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	out := make([]*LocalNode, 0, len(h.nodes))
	for pid, node := range h.nodes {
		if pid == id || h.severed[linkKey(id, pid)] {
			continue
		}
		out = append(out, node)
	}
	return out
}

// LocalNode is one endpoint of a LocalHub.
type LocalNode struct {
	id  crypto.Id
	hub *LocalHub

	mtx      sync.Mutex
	handlers map[string]func(Request)
}

var _ Network = (*LocalNode)(nil)

func (n *LocalNode) LocalId() crypto.Id {
	return n.id
}

func (n *LocalNode) SendRequest(to crypto.Id, method string, data []byte, reply func(Response)) {
	if !n.hub.connected(n.id, to) {
		common.Logger.Debugf("%s: no link to %s for %s", n.id, to, method)
		if reply != nil {
			reply(Response{Type: Other, Reason: "no connection"})
		}
		return
	}
	n.hub.lookup(to).dispatch(NewRequest(method, n.id, data, reply))
}

func (n *LocalNode) SendNotification(to crypto.Id, method string, data []byte) {
	if !n.hub.connected(n.id, to) {
		common.Logger.Debugf("%s: no link to %s for %s", n.id, to, method)
		return
	}
	n.hub.lookup(to).dispatch(NewRequest(method, n.id, data, nil))
}

// Broadcast reaches every connected peer, the local endpoint included:
// the overlay keeps a loopback connection, so a node hears its own
// broadcasts. Loopback delivery comes first, matching the overlay's
// behavior of servicing the local connection before remote ones.
func (n *LocalNode) Broadcast(method string, data []byte) {
	n.dispatch(NewRequest(method, n.id, data, nil))
	for _, peer := range n.hub.peersOf(n.id) {
		peer.dispatch(NewRequest(method, n.id, data, nil))
	}
}

func (n *LocalNode) Connected(to crypto.Id) bool {
	return n.hub.connected(n.id, to)
}

func (n *LocalNode) ConnectionCount() int {
	return len(n.hub.peersOf(n.id)) + 1
}

func (n *LocalNode) Register(method string, handler func(Request)) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.handlers[method] = handler
}

func (n *LocalNode) Unregister(method string) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	delete(n.handlers, method)
}

func (n *LocalNode) dispatch(req Request) {
	n.mtx.Lock()
	handler := n.handlers[req.Method]
	n.mtx.Unlock()
	if handler == nil {
		common.Logger.Debugf("%s: no handler for %s", n.id, req.Method)
		req.Failed(InvalidInput, "no handler for "+req.Method)
		return
	}
	handler(req)
}
