// Package syncer tracks the revision-numbered replication stream: it
// produces diffs on the host, applies or buffers them on clients, and serves
// resync requests out of a bounded diff history.
package syncer

import (
	"netplay/diff"
	"netplay/state"
)

// DefaultMaxDiffGap is how many revisions a client may trail before it gets a
// full snapshot instead of cumulative diffs.
const DefaultMaxDiffGap = 32

// WireSnapshot is a full state capture at a tick/revision.
type WireSnapshot struct {
	Tick     uint64     `json:"tick"`
	Revision uint64     `json:"revision"`
	State    state.Tree `json:"state"`
}

// WireDiff carries the patches from BaseRevision to Revision. It is valid
// only against a receiver whose current revision equals BaseRevision.
type WireDiff struct {
	Tick         uint64       `json:"tick"`
	Revision     uint64       `json:"revision"`
	BaseRevision uint64       `json:"baseRevision"`
	Patches      []diff.Patch `json:"patches"`
}

// Outcome classifies what ApplyDiff did with an inbound diff.
type Outcome int

const (
	// OutcomeApplied means the diff matched the local revision and was
	// applied.
	OutcomeApplied Outcome = iota
	// OutcomeBuffered means the diff is ahead of the local revision; it was
	// parked and the caller should request a resync.
	OutcomeBuffered
	// OutcomeStale means the diff predates the local revision and was
	// discarded.
	OutcomeStale
)

// Synchronizer owns one replica's view of the canonical state. The host's
// synchronizer holds the last broadcast copy and produces diffs; a client's
// holds the confirmed state and consumes them.
type Synchronizer struct {
	revision   uint64
	tick       uint64
	current    state.Tree
	buffered   []WireDiff
	history    []WireDiff
	maxDiffGap int
	skips      int
}

func New(initial state.Tree, maxDiffGap int) *Synchronizer {
	if maxDiffGap <= 0 {
		maxDiffGap = DefaultMaxDiffGap
	}
	return &Synchronizer{
		current:    state.CloneTree(initial),
		maxDiffGap: maxDiffGap,
	}
}

func (s *Synchronizer) Revision() uint64 {
	return s.revision
}

func (s *Synchronizer) Tick() uint64 {
	return s.tick
}

// State returns the live confirmed tree. Callers must not retain it across
// Apply calls without cloning.
func (s *Synchronizer) State() state.Tree {
	return s.current
}

// SnapshotWire deep-copies the current state into a wire snapshot.
func (s *Synchronizer) SnapshotWire() WireSnapshot {
	return WireSnapshot{
		Tick:     s.tick,
		Revision: s.revision,
		State:    state.CloneTree(s.current),
	}
}

// Advance diffs the live host tree against the last broadcast copy, bumping
// the revision when anything changed. The returned diff is ready to
// broadcast; ok is false when the tick produced no changes.
func (s *Synchronizer) Advance(live state.Tree, tick uint64) (WireDiff, bool) {
	patches := diff.Generate(s.current, live)
	s.tick = tick
	if len(patches) == 0 {
		return WireDiff{}, false
	}
	wire := WireDiff{
		Tick:         tick,
		Revision:     s.revision + 1,
		BaseRevision: s.revision,
		Patches:      patches,
	}
	s.revision++
	s.current = state.CloneTree(live)
	s.recordHistory(wire)
	return wire, true
}

// ApplyDiff applies, buffers or discards an inbound diff. A non-nil error
// means patch application failed structurally and the caller must resync.
func (s *Synchronizer) ApplyDiff(d WireDiff) (Outcome, error) {
	switch {
	case d.BaseRevision == s.revision:
	case d.BaseRevision > s.revision:
		s.buffered = append(s.buffered, d)
		return OutcomeBuffered, nil
	default:
		return OutcomeStale, nil
	}
	result, err := diff.Apply(s.current, d.Patches)
	if err != nil {
		return OutcomeApplied, err
	}
	s.skips += len(result.Skipped)
	s.revision = d.Revision
	s.tick = d.Tick
	s.recordHistory(d)
	return OutcomeApplied, nil
}

// AdoptSnapshot replaces the state wholesale, then chains forward any
// buffered diffs that now fit, discarding the rest. It returns how many
// buffered diffs were applied.
func (s *Synchronizer) AdoptSnapshot(ws WireSnapshot) int {
	s.current = state.CloneTree(ws.State)
	s.revision = ws.Revision
	s.tick = ws.Tick
	s.history = nil
	s.skips = 0

	pending := s.buffered
	s.buffered = nil
	applied := 0
	for progressed := true; progressed; {
		progressed = false
		remaining := pending[:0]
		for _, d := range pending {
			if d.BaseRevision == s.revision {
				if _, err := diff.Apply(s.current, d.Patches); err == nil {
					s.revision = d.Revision
					s.tick = d.Tick
					applied++
					progressed = true
					continue
				}
			}
			if d.BaseRevision > s.revision {
				remaining = append(remaining, d)
			}
		}
		pending = remaining
	}
	return applied
}

// DiffsSince returns the chained diffs from the given revision up to the
// current one. ok is false when the requester is too far behind (beyond
// maxDiffGap) or the history no longer covers the span, in which case the
// caller must serve a full snapshot.
func (s *Synchronizer) DiffsSince(revision uint64) ([]WireDiff, bool) {
	if revision == s.revision {
		return nil, true
	}
	if revision > s.revision || s.revision-revision > uint64(s.maxDiffGap) {
		return nil, false
	}
	chain := make([]WireDiff, 0, s.revision-revision)
	next := revision
	for _, d := range s.history {
		if d.BaseRevision == next {
			chain = append(chain, d)
			next = d.Revision
		}
	}
	if next != s.revision {
		return nil, false
	}
	return chain, true
}

// Checksum hashes the confirmed state for desync detection.
func (s *Synchronizer) Checksum() uint64 {
	return state.Checksum(s.current)
}

// SkippedPatches reports how many identity-miss patches were skipped since
// the last snapshot adoption; the resync policy consumes it.
func (s *Synchronizer) SkippedPatches() int {
	return s.skips
}

func (s *Synchronizer) recordHistory(d WireDiff) {
	s.history = append(s.history, d)
	limit := 2 * s.maxDiffGap
	if len(s.history) > limit {
		s.history = append(s.history[:0], s.history[len(s.history)-limit:]...)
	}
}

// BufferedCount reports how many out-of-order diffs are parked.
func (s *Synchronizer) BufferedCount() int {
	return len(s.buffered)
}
