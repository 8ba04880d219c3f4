// Package election implements deterministic host failover: every peer
// observes heartbeats, counts misses, and on timeout runs the same lexical
// election so all survivors agree on the successor without negotiation.
package election

import "sort"

// Role is the peer's position in the session authority model.
type Role string

const (
	RoleHost     Role = "host"
	RoleClient   Role = "client"
	RoleElecting Role = "electing"
)

// DefaultMissedHeartbeatLimit is how many consecutive heartbeat intervals may
// elapse silently before a peer starts an election (~1.5s at the default
// 500ms interval).
const DefaultMissedHeartbeatLimit = 3

// Machine is one peer's election state machine.
type Machine struct {
	role      Role
	selfID    string
	sessionID string
	hostID    string
	missed    int
	limit     int
}

func NewMachine(selfID, sessionID string, isHost bool, missedLimit int) *Machine {
	if missedLimit <= 0 {
		missedLimit = DefaultMissedHeartbeatLimit
	}
	role := RoleClient
	if isHost {
		role = RoleHost
	}
	return &Machine{
		role:      role,
		selfID:    selfID,
		sessionID: sessionID,
		limit:     missedLimit,
	}
}

func (m *Machine) Role() Role {
	return m.role
}

func (m *Machine) SessionID() string {
	return m.sessionID
}

// HostID returns the peer currently trusted as host.
func (m *Machine) HostID() string {
	return m.hostID
}

// ObserveHeartbeat resets the miss counter. A heartbeat also settles an
// in-flight election: the sender is authoritative, so an electing peer drops
// back to client.
func (m *Machine) ObserveHeartbeat(fromID string) {
	m.missed = 0
	m.hostID = fromID
	if m.role == RoleElecting {
		m.role = RoleClient
	}
}

// MissHeartbeat increments the miss counter; it reports true exactly when
// the counter crosses the limit and the peer enters the electing role.
func (m *Machine) MissHeartbeat() bool {
	if m.role != RoleClient {
		return false
	}
	m.missed++
	if m.missed < m.limit {
		return false
	}
	m.role = RoleElecting
	return true
}

// Winner deterministically picks the host successor: the lexically lowest
// identifier among all known peers plus self. Every observer computes the
// same answer from the same peer set.
func Winner(peerIDs []string, selfID string) string {
	candidates := make([]string, 0, len(peerIDs)+1)
	candidates = append(candidates, peerIDs...)
	candidates = append(candidates, selfID)
	sort.Strings(candidates)
	for _, id := range candidates {
		if id != "" {
			return id
		}
	}
	return selfID
}

// SelfWins reports whether this peer should promote itself.
func (m *Machine) SelfWins(peerIDs []string) bool {
	return m.role == RoleElecting && Winner(peerIDs, m.selfID) == m.selfID
}

// Promote moves the peer to host after a successful election.
func (m *Machine) Promote() {
	m.role = RoleHost
	m.hostID = m.selfID
	m.missed = 0
}

// AdoptHost accepts another peer's migration announcement.
func (m *Machine) AdoptHost(hostID string) {
	m.hostID = hostID
	m.missed = 0
	if hostID == m.selfID {
		m.role = RoleHost
		return
	}
	m.role = RoleClient
}

// StandDown resolves a split brain: when two simultaneous winners announce
// themselves, every observer compares the announcements' session identifiers
// lexically and the higher one's own process steps back down to client. It
// reports true when the local peer must yield.
func (m *Machine) StandDown(remoteSessionID string) bool {
	if m.role != RoleHost {
		return false
	}
	if m.sessionID > remoteSessionID {
		m.role = RoleClient
		return true
	}
	return false
}
