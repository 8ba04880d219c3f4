// Package transport declares the only I/O boundary the sync engine depends
// on. Any backend, be it a hosted room server, a peer mesh, or an in-process
// test harness, need only satisfy this contract.
package transport

import "netplay/proto"

// ConnectionState follows connecting → connected → reconnecting →
// disconnected; only reconnecting ↔ connected may oscillate.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateDisconnected ConnectionState = "disconnected"
)

// Broadcast is the target id meaning "every peer".
const Broadcast = ""

// MessageHandler receives decoded envelopes with the sending peer's id.
type MessageHandler func(msg proto.Message, senderID string)

// Unsubscribe detaches a previously registered handler.
type Unsubscribe func()

// Transport is the engine's whole view of the network.
type Transport interface {
	// PlayerID is the local peer's identifier.
	PlayerID() string
	// PeerIDs lists the other peers currently in the session.
	PeerIDs() []string
	// IsHost reports whether the backend assigned this peer host authority
	// at join time. After a migration the engine's election state is
	// authoritative instead.
	IsHost() bool
	// Send delivers a message to targetID, or to every peer when targetID
	// is Broadcast.
	Send(msg proto.Message, targetID string) error
	OnMessage(handler MessageHandler) Unsubscribe
	OnPeerJoin(handler func(peerID string)) Unsubscribe
	OnPeerLeave(handler func(peerID string)) Unsubscribe
	ConnectionState() ConnectionState
	OnConnectionChange(handler func(ConnectionState)) Unsubscribe
	OnError(handler func(error)) Unsubscribe
}

// Deliverer is an optional extension for callback-driven backends that
// cannot register a persistent handler: the backend pushes inbound messages
// through Deliver instead.
type Deliverer interface {
	Deliver(msg proto.Message, senderID string)
}
