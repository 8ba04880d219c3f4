// Package proto defines the wire protocol: a single JSON envelope
// discriminated by a kind tag, exhaustively dispatched at the transport
// boundary. All payloads are plain JSON-serializable values; patch paths are
// arrays of segments, never dotted strings.
package proto

import (
	"encoding/json"
	"fmt"

	"netplay/sim"
	"netplay/standby"
	"netplay/syncer"
)

// Version tracks the wire-protocol revision expected by peers.
const Version = 1

// Kind discriminates envelope payloads.
type Kind string

const (
	KindAction         Kind = "action"
	KindSnapshot       Kind = "snapshot"
	KindDiff           Kind = "diff"
	KindJoin           Kind = "join"
	KindLeave          Kind = "leave"
	KindHeartbeat      Kind = "heartbeat"
	KindHostMigration  Kind = "host_migration"
	KindResyncRequest  Kind = "resync_request"
	KindResyncResponse Kind = "resync_response"
	KindActionRejected Kind = "action_rejected"
	KindChecksum       Kind = "checksum"
)

// JoinPayload carries a full snapshot for the joiner, plus the session id of
// the welcoming host so the joiner seeds its predictions from the right
// tenure before the first heartbeat arrives.
type JoinPayload struct {
	PlayerID  string               `json:"playerId"`
	Snapshot  *syncer.WireSnapshot `json:"snapshot,omitempty"`
	HostTick  uint64               `json:"hostTick,omitempty"`
	SessionID string               `json:"sessionId,omitempty"`
}

// LeavePayload announces a departure.
type LeavePayload struct {
	PlayerID string `json:"playerId"`
	Reason   string `json:"reason"`
}

// MigrationPayload announces a new host along with the state it promoted
// from.
type MigrationPayload struct {
	NewHost     string               `json:"newHost"`
	SessionID   string               `json:"sessionId"`
	Snapshot    *syncer.WireSnapshot `json:"snapshot,omitempty"`
	ActionQueue []sim.QueuedAction   `json:"actionQueue,omitempty"`
}

// ResyncRequest asks the host for enough data to catch up.
type ResyncRequest struct {
	RequesterID      string `json:"requesterId"`
	LastKnownTick    uint64 `json:"lastKnownTick"`
	LastKnownRevision uint64 `json:"lastKnownRevision"`
	Reason           string `json:"reason"`
}

// ResyncResponse carries a snapshot, or the diffs that chain forward from
// the requester's revision when it is recent enough. A standby answering an
// election winner also includes its replicated action log so the winner can
// replay past the snapshot tick.
type ResyncResponse struct {
	Snapshot    *syncer.WireSnapshot `json:"snapshot,omitempty"`
	DiffsSince  []syncer.WireDiff    `json:"diffsSince,omitempty"`
	ActionQueue []sim.QueuedAction   `json:"actionQueue,omitempty"`
}

// ActionRejected tells the acting client its predicted action was refused.
type ActionRejected struct {
	PlayerID   string `json:"playerId"`
	ActionName string `json:"actionName"`
	Reason     string `json:"reason"`
	Tick       uint64 `json:"tick"`
}

// ChecksumPayload is the periodic desync probe.
type ChecksumPayload struct {
	Tick     uint64 `json:"tick"`
	Revision uint64 `json:"revision"`
	Checksum uint64 `json:"checksum"`
}

// Message is the wire envelope. Exactly one payload field is set, matching
// Kind.
type Message struct {
	Ver      int    `json:"ver,omitempty"`
	Kind     Kind   `json:"kind"`
	SenderID string `json:"senderId,omitempty"`

	Action         *sim.QueuedAction     `json:"action,omitempty"`
	Snapshot       *syncer.WireSnapshot  `json:"snapshot,omitempty"`
	Diff           *syncer.WireDiff      `json:"diff,omitempty"`
	Join           *JoinPayload          `json:"join,omitempty"`
	Leave          *LeavePayload         `json:"leave,omitempty"`
	Heartbeat      *standby.Heartbeat    `json:"heartbeat,omitempty"`
	Migration      *MigrationPayload     `json:"migration,omitempty"`
	ResyncRequest  *ResyncRequest        `json:"resyncRequest,omitempty"`
	ResyncResponse *ResyncResponse       `json:"resyncResponse,omitempty"`
	Rejected       *ActionRejected       `json:"rejected,omitempty"`
	Checksum       *ChecksumPayload      `json:"checksum,omitempty"`
}

// Encode renders the envelope after validating the kind/payload pairing.
func Encode(msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	msg.Ver = Version
	return json.Marshal(msg)
}

// Decode parses an envelope and validates it.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Validate checks that the payload matching Kind is present. The switch is
// exhaustive over every kind the protocol defines.
func (m Message) Validate() error {
	switch m.Kind {
	case KindAction:
		if m.Action == nil {
			return missingPayload(m.Kind)
		}
	case KindSnapshot:
		if m.Snapshot == nil {
			return missingPayload(m.Kind)
		}
	case KindDiff:
		if m.Diff == nil {
			return missingPayload(m.Kind)
		}
	case KindJoin:
		if m.Join == nil {
			return missingPayload(m.Kind)
		}
	case KindLeave:
		if m.Leave == nil {
			return missingPayload(m.Kind)
		}
	case KindHeartbeat:
		if m.Heartbeat == nil {
			return missingPayload(m.Kind)
		}
	case KindHostMigration:
		if m.Migration == nil {
			return missingPayload(m.Kind)
		}
	case KindResyncRequest:
		if m.ResyncRequest == nil {
			return missingPayload(m.Kind)
		}
	case KindResyncResponse:
		if m.ResyncResponse == nil {
			return missingPayload(m.Kind)
		}
	case KindActionRejected:
		if m.Rejected == nil {
			return missingPayload(m.Kind)
		}
	case KindChecksum:
		if m.Checksum == nil {
			return missingPayload(m.Kind)
		}
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return nil
}

func missingPayload(kind Kind) error {
	return fmt.Errorf("message kind %q missing payload", kind)
}
