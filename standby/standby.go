// Package standby replicates the host's pending-action log and periodic
// snapshots to warm-standby peers so one of them can promote itself with no
// data loss.
package standby

import (
	"hash/fnv"

	"netplay/sim"
	"netplay/state"
	"netplay/syncer"
)

// MaxReplicatedSnapshots is how many snapshots a replica retains.
const MaxReplicatedSnapshots = 3

// Heartbeat is the host-side replication beat. QueueTail holds every action
// confirmed since the previous beat; QueueChecksum hashes the full log so a
// replica can detect divergence it would otherwise replay blindly.
type Heartbeat struct {
	Tick          uint64             `json:"tick"`
	Revision      uint64             `json:"revision"`
	SessionID     string             `json:"sessionId"`
	QueueChecksum uint64             `json:"queueChecksum"`
	QueueTail     []sim.QueuedAction `json:"queueTail,omitempty"`
	SnapshotTick  uint64             `json:"snapshotTick"`
}

// ChecksumLog deterministically hashes an action log: each entry's canonical
// (sorted-key) rendering feeds one FNV-1a stream in log order.
func ChecksumLog(log []sim.QueuedAction) uint64 {
	h := fnv.New64a()
	for _, action := range log {
		h.Write(state.Canonical(action.CanonicalMap()))
	}
	return h.Sum64()
}

// Producer is the host-side half: it accumulates confirmed actions and cuts
// heartbeats carrying the tail since the last beat.
type Producer struct {
	sessionID    string
	log          []sim.QueuedAction
	sentThrough  int
	snapshotTick uint64
}

func NewProducer(sessionID string) *Producer {
	return &Producer{sessionID: sessionID}
}

// Append records confirmed actions, in authoritative order.
func (p *Producer) Append(actions ...sim.QueuedAction) {
	p.log = append(p.log, actions...)
}

// NoteSnapshot records the tick of the newest snapshot broadcast to
// standbys; the log before it can be trimmed on both ends.
func (p *Producer) NoteSnapshot(tick uint64) {
	p.snapshotTick = tick
	p.trim()
}

// Heartbeat cuts the next beat. The tail is everything appended since the
// previous call.
func (p *Producer) Heartbeat(tick, revision uint64) Heartbeat {
	tail := make([]sim.QueuedAction, len(p.log)-p.sentThrough)
	copy(tail, p.log[p.sentThrough:])
	p.sentThrough = len(p.log)
	return Heartbeat{
		Tick:          tick,
		Revision:      revision,
		SessionID:     p.sessionID,
		QueueChecksum: ChecksumLog(p.log),
		QueueTail:     tail,
		SnapshotTick:  p.snapshotTick,
	}
}

// LogLen reports the current replicated-log length.
func (p *Producer) LogLen() int {
	return len(p.log)
}

func (p *Producer) trim() {
	cut := 0
	for cut < p.sentThrough && cut < len(p.log) && p.log[cut].Tick < p.snapshotTick {
		cut++
	}
	if cut == 0 {
		return
	}
	p.log = append(p.log[:0], p.log[cut:]...)
	p.sentThrough -= cut
}

// Replica is the standby-side half: it appends heartbeat tails to a local
// log, verifies the checksum, and retains the most recent snapshots.
type Replica struct {
	log       []sim.QueuedAction
	snapshots []syncer.WireSnapshot
	diverged  bool
}

func NewReplica() *Replica {
	return &Replica{}
}

// ApplyHeartbeat appends the tail and recomputes the log checksum. A
// mismatch means the replicated log cannot be trusted; the replica flags
// itself diverged and the caller must request a full resync.
func (r *Replica) ApplyHeartbeat(hb Heartbeat) bool {
	r.log = append(r.log, hb.QueueTail...)
	if ChecksumLog(r.log) != hb.QueueChecksum {
		r.diverged = true
		return false
	}
	r.diverged = false
	return true
}

// StoreSnapshot retains a replicated snapshot, evicting beyond the retention
// bound, and trims the log to actions at or after the newest snapshot's tick.
func (r *Replica) StoreSnapshot(ws syncer.WireSnapshot) {
	ws.State = state.CloneTree(ws.State)
	r.snapshots = append(r.snapshots, ws)
	if len(r.snapshots) > MaxReplicatedSnapshots {
		r.snapshots = append(r.snapshots[:0], r.snapshots[len(r.snapshots)-MaxReplicatedSnapshots:]...)
	}
	newest := r.snapshots[len(r.snapshots)-1].Tick
	kept := r.log[:0]
	for _, action := range r.log {
		if action.Tick >= newest {
			kept = append(kept, action)
		}
	}
	r.log = kept
	// A fresh snapshot supersedes whatever divergence the log accumulated.
	r.diverged = false
}

// Reset discards all replicated data (after a resync replaces it).
func (r *Replica) Reset() {
	r.log = nil
	r.snapshots = nil
	r.diverged = false
}

// Ready reports whether the replica holds enough data to promote.
func (r *Replica) Ready() bool {
	return len(r.snapshots) > 0 && !r.diverged
}

// Diverged reports whether the last heartbeat checksum mismatched.
func (r *Replica) Diverged() bool {
	return r.diverged
}

// LoadWarmStandby returns the newest snapshot plus every replicated action
// after its tick, ready to be replayed by the new host.
func (r *Replica) LoadWarmStandby() (syncer.WireSnapshot, []sim.QueuedAction, bool) {
	if !r.Ready() {
		return syncer.WireSnapshot{}, nil, false
	}
	newest := r.snapshots[len(r.snapshots)-1]
	queue := make([]sim.QueuedAction, 0, len(r.log))
	for _, action := range r.log {
		if action.Tick > newest.Tick {
			queue = append(queue, action)
		}
	}
	return syncer.WireSnapshot{
		Tick:     newest.Tick,
		Revision: newest.Revision,
		State:    state.CloneTree(newest.State),
	}, queue, true
}
