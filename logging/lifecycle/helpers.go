package lifecycle

import (
	"context"

	"netplay/logging"
)

const (
	// EventPlayerJoined is emitted when a player joins the session.
	EventPlayerJoined logging.EventType = "lifecycle.player_joined"
	// EventPlayerLeft is emitted when a player leaves the session.
	EventPlayerLeft logging.EventType = "lifecycle.player_left"
	// EventActionRejected is emitted when the executor refuses an action.
	EventActionRejected logging.EventType = "lifecycle.action_rejected"
	// EventRollback is emitted when a client discards predicted state.
	EventRollback logging.EventType = "lifecycle.rollback"
	// EventElectionStarted is emitted when a peer stops trusting the host.
	EventElectionStarted logging.EventType = "election.started"
	// EventHostMigrated is emitted when a new host announces itself.
	EventHostMigrated logging.EventType = "election.host_migrated"
)

// LeavePayload captures the reason a player left.
type LeavePayload struct {
	Reason string `json:"reason"`
}

// RejectionPayload captures a refused action.
type RejectionPayload struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// RollbackPayload captures the scope of a rollback.
type RollbackPayload struct {
	FromTick uint64 `json:"fromTick"`
	Replayed int    `json:"replayed"`
	Dropped  int    `json:"dropped"`
}

// MigrationPayload captures a host change.
type MigrationPayload struct {
	NewHost string `json:"newHost"`
	OldHost string `json:"oldHost,omitempty"`
}

// PlayerJoined publishes a player join event.
func PlayerJoined(ctx context.Context, pub logging.Publisher, tick uint64, peer logging.PeerRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPlayerJoined,
		Tick:     tick,
		Peer:     peer,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
	})
}

// PlayerLeft publishes a player leave event.
func PlayerLeft(ctx context.Context, pub logging.Publisher, tick uint64, peer logging.PeerRef, payload LeavePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPlayerLeft,
		Tick:     tick,
		Peer:     peer,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// ActionRejected publishes an executor rejection.
func ActionRejected(ctx context.Context, pub logging.Publisher, tick uint64, peer logging.PeerRef, payload RejectionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventActionRejected,
		Tick:     tick,
		Peer:     peer,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// Rollback publishes a predicted-state rollback.
func Rollback(ctx context.Context, pub logging.Publisher, tick uint64, peer logging.PeerRef, payload RollbackPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRollback,
		Tick:     tick,
		Peer:     peer,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// ElectionStarted publishes a transition into the electing role.
func ElectionStarted(ctx context.Context, pub logging.Publisher, tick uint64, peer logging.PeerRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventElectionStarted,
		Tick:     tick,
		Peer:     peer,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryElection,
	})
}

// HostMigrated publishes a host change announcement.
func HostMigrated(ctx context.Context, pub logging.Publisher, tick uint64, peer logging.PeerRef, payload MigrationPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventHostMigrated,
		Tick:     tick,
		Peer:     peer,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryElection,
		Payload:  payload,
	})
}
