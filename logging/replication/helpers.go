package replication

import (
	"context"

	"netplay/logging"
)

const (
	// EventDiffBuffered is emitted when a diff arrives against the wrong base
	// revision and is parked for later application.
	EventDiffBuffered logging.EventType = "replication.diff_buffered"
	// EventPatchSkipped is emitted when an identity-addressed patch cannot
	// locate its element and is skipped.
	EventPatchSkipped logging.EventType = "replication.patch_skipped"
	// EventResyncRequested is emitted when a peer asks the host for a full
	// snapshot.
	EventResyncRequested logging.EventType = "replication.resync_requested"
	// EventResyncServed is emitted when the host answers a resync request.
	EventResyncServed logging.EventType = "replication.resync_served"
	// EventDesyncDetected is emitted when a state checksum disagrees with the
	// host broadcast.
	EventDesyncDetected logging.EventType = "replication.desync_detected"
	// EventQueueChecksumMismatch is emitted when a standby's replicated action
	// log diverges from the host's heartbeat checksum.
	EventQueueChecksumMismatch logging.EventType = "replication.queue_checksum_mismatch"
)

// ResyncPayload captures why a resync was requested or served.
type ResyncPayload struct {
	Reason        string `json:"reason"`
	RequesterID   string `json:"requesterId,omitempty"`
	LastKnownTick uint64 `json:"lastKnownTick,omitempty"`
}

// PatchSkipPayload captures the patch that failed identity resolution.
type PatchSkipPayload struct {
	Path []string `json:"path"`
	ID   string   `json:"id,omitempty"`
	Op   string   `json:"op"`
}

// ChecksumPayload captures both sides of a checksum comparison.
type ChecksumPayload struct {
	Local  uint64 `json:"local"`
	Remote uint64 `json:"remote"`
}

// DiffBuffered publishes a buffered-diff event.
func DiffBuffered(ctx context.Context, pub logging.Publisher, tick, localRevision, baseRevision uint64, peer logging.PeerRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDiffBuffered,
		Tick:     tick,
		Revision: localRevision,
		Peer:     peer,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryReplication,
		Extra:    map[string]any{"baseRevision": baseRevision},
	})
}

// PatchSkipped publishes an identity-miss patch skip.
func PatchSkipped(ctx context.Context, pub logging.Publisher, tick uint64, peer logging.PeerRef, payload PatchSkipPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPatchSkipped,
		Tick:     tick,
		Peer:     peer,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryReplication,
		Payload:  payload,
	})
}

// ResyncRequested publishes a resync request.
func ResyncRequested(ctx context.Context, pub logging.Publisher, tick uint64, peer logging.PeerRef, payload ResyncPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventResyncRequested,
		Tick:     tick,
		Peer:     peer,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryReplication,
		Payload:  payload,
	})
}

// ResyncServed publishes a served resync.
func ResyncServed(ctx context.Context, pub logging.Publisher, tick uint64, peer logging.PeerRef, payload ResyncPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventResyncServed,
		Tick:     tick,
		Peer:     peer,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryReplication,
		Payload:  payload,
	})
}

// DesyncDetected publishes a checksum divergence.
func DesyncDetected(ctx context.Context, pub logging.Publisher, tick uint64, peer logging.PeerRef, payload ChecksumPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDesyncDetected,
		Tick:     tick,
		Peer:     peer,
		Severity: logging.SeverityError,
		Category: logging.CategoryReplication,
		Payload:  payload,
	})
}

// QueueChecksumMismatch publishes a standby log divergence.
func QueueChecksumMismatch(ctx context.Context, pub logging.Publisher, tick uint64, peer logging.PeerRef, payload ChecksumPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventQueueChecksumMismatch,
		Tick:     tick,
		Peer:     peer,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryReplication,
		Payload:  payload,
	})
}
