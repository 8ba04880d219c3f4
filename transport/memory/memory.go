// Package memory provides an in-process transport mesh for tests and local
// sessions: every peer sees every other peer, delivery is synchronous and
// ordered, and the first joiner holds host authority.
package memory

import (
	"fmt"
	"sync"

	"netplay/proto"
	"netplay/transport"
)

// Mesh connects in-process peers.
type Mesh struct {
	mu     sync.Mutex
	peers  map[string]*Peer
	order  []string
	hostID string

	// DropFilter, when set, silently drops matching deliveries. Tests use
	// it to simulate partitions and host failure.
	DropFilter func(msg proto.Message, from, to string) bool
}

func NewMesh() *Mesh {
	return &Mesh{peers: make(map[string]*Peer)}
}

// Join adds a peer to the mesh. The first peer becomes host.
func (m *Mesh) Join(id string) *Peer {
	m.mu.Lock()
	peer := &Peer{
		mesh:  m,
		id:    id,
		state: transport.StateConnected,
	}
	m.peers[id] = peer
	m.order = append(m.order, id)
	if m.hostID == "" {
		m.hostID = id
	}
	others := m.otherPeersLocked(id)
	m.mu.Unlock()

	for _, other := range others {
		other.notifyPeerJoin(id)
	}
	return peer
}

// Leave removes a peer, notifying the rest of the mesh.
func (m *Mesh) Leave(id string) {
	m.mu.Lock()
	peer, ok := m.peers[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.peers, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	others := m.otherPeersLocked("")
	m.mu.Unlock()

	peer.setState(transport.StateDisconnected)
	for _, other := range others {
		other.notifyPeerLeave(id)
	}
}

// HostID returns the peer the mesh considers host.
func (m *Mesh) HostID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hostID
}

func (m *Mesh) otherPeersLocked(except string) []*Peer {
	others := make([]*Peer, 0, len(m.peers))
	for id, peer := range m.peers {
		if id == except {
			continue
		}
		others = append(others, peer)
	}
	return others
}

func (m *Mesh) deliver(msg proto.Message, from, to string) error {
	m.mu.Lock()
	drop := m.DropFilter
	var targets []*Peer
	if to == transport.Broadcast {
		targets = m.otherPeersLocked(from)
	} else {
		peer, ok := m.peers[to]
		if !ok {
			m.mu.Unlock()
			return fmt.Errorf("memory transport: unknown peer %q", to)
		}
		targets = []*Peer{peer}
	}
	m.mu.Unlock()

	for _, target := range targets {
		if drop != nil && drop(msg, from, target.id) {
			continue
		}
		target.Deliver(msg, from)
	}
	return nil
}

// Peer is one mesh member's transport handle.
type Peer struct {
	mesh *Mesh
	id   string

	mu           sync.Mutex
	state        transport.ConnectionState
	msgHandlers  []transport.MessageHandler
	joinHandlers []func(string)
	leaveHandlers []func(string)
	stateHandlers []func(transport.ConnectionState)
	errHandlers  []func(error)
}

var _ transport.Transport = (*Peer)(nil)
var _ transport.Deliverer = (*Peer)(nil)

func (p *Peer) PlayerID() string {
	return p.id
}

func (p *Peer) PeerIDs() []string {
	p.mesh.mu.Lock()
	defer p.mesh.mu.Unlock()
	ids := make([]string, 0, len(p.mesh.order))
	for _, id := range p.mesh.order {
		if id != p.id {
			ids = append(ids, id)
		}
	}
	return ids
}

func (p *Peer) IsHost() bool {
	return p.mesh.HostID() == p.id
}

func (p *Peer) Send(msg proto.Message, targetID string) error {
	msg.SenderID = p.id
	return p.mesh.deliver(msg, p.id, targetID)
}

// Deliver pushes an inbound message through the registered handlers,
// synchronously on the caller's goroutine.
func (p *Peer) Deliver(msg proto.Message, senderID string) {
	p.mu.Lock()
	handlers := append([]transport.MessageHandler(nil), p.msgHandlers...)
	p.mu.Unlock()
	for _, handler := range handlers {
		handler(msg, senderID)
	}
}

func (p *Peer) OnMessage(handler transport.MessageHandler) transport.Unsubscribe {
	p.mu.Lock()
	p.msgHandlers = append(p.msgHandlers, handler)
	index := len(p.msgHandlers) - 1
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if index < len(p.msgHandlers) {
			p.msgHandlers[index] = func(proto.Message, string) {}
		}
	}
}

func (p *Peer) OnPeerJoin(handler func(string)) transport.Unsubscribe {
	p.mu.Lock()
	p.joinHandlers = append(p.joinHandlers, handler)
	index := len(p.joinHandlers) - 1
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if index < len(p.joinHandlers) {
			p.joinHandlers[index] = func(string) {}
		}
	}
}

func (p *Peer) OnPeerLeave(handler func(string)) transport.Unsubscribe {
	p.mu.Lock()
	p.leaveHandlers = append(p.leaveHandlers, handler)
	index := len(p.leaveHandlers) - 1
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if index < len(p.leaveHandlers) {
			p.leaveHandlers[index] = func(string) {}
		}
	}
}

func (p *Peer) ConnectionState() transport.ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) OnConnectionChange(handler func(transport.ConnectionState)) transport.Unsubscribe {
	p.mu.Lock()
	p.stateHandlers = append(p.stateHandlers, handler)
	index := len(p.stateHandlers) - 1
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if index < len(p.stateHandlers) {
			p.stateHandlers[index] = func(transport.ConnectionState) {}
		}
	}
}

func (p *Peer) OnError(handler func(error)) transport.Unsubscribe {
	p.mu.Lock()
	p.errHandlers = append(p.errHandlers, handler)
	index := len(p.errHandlers) - 1
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if index < len(p.errHandlers) {
			p.errHandlers[index] = func(error) {}
		}
	}
}

func (p *Peer) notifyPeerJoin(id string) {
	p.mu.Lock()
	handlers := append(([]func(string))(nil), p.joinHandlers...)
	p.mu.Unlock()
	for _, handler := range handlers {
		handler(id)
	}
}

func (p *Peer) notifyPeerLeave(id string) {
	p.mu.Lock()
	handlers := append(([]func(string))(nil), p.leaveHandlers...)
	p.mu.Unlock()
	for _, handler := range handlers {
		handler(id)
	}
}

func (p *Peer) setState(next transport.ConnectionState) {
	p.mu.Lock()
	p.state = next
	handlers := append(([]func(transport.ConnectionState))(nil), p.stateHandlers...)
	p.mu.Unlock()
	for _, handler := range handlers {
		handler(next)
	}
}
