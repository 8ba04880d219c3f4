// Package predict runs a client's optimistic simulation: actions execute
// immediately against a private copy of the state, a bounded ring of
// snapshots remembers what was predicted, and server confirmations either
// validate the prediction or roll it back and replay.
package predict

import (
	"netplay/sim"
	"netplay/state"
)

// DefaultMaxRollbackTicks bounds the snapshot ring and therefore the replay
// depth.
const DefaultMaxRollbackTicks = 64

// Snapshot is one ring entry: the predicted state at the end of a tick.
type Snapshot struct {
	Tick  uint64
	State state.Tree
}

// Outcome reports what a reconciliation did.
type Outcome struct {
	// RolledBack is true when the predicted state diverged from the
	// confirmed state and was replaced.
	RolledBack bool
	// WindowExceeded is true when no snapshot covered the confirmed tick;
	// the confirmed state was adopted without comparison.
	WindowExceeded bool
	// Replayed counts predicted actions re-executed after a rollback.
	Replayed int
	// Dropped holds predicted actions that failed re-validation and were
	// removed from the pending set.
	Dropped []sim.QueuedAction
}

// Engine is the predict-rollback core. It performs no I/O and runs strictly
// synchronously; replay depth is bounded by the snapshot ring.
type Engine struct {
	exec          *sim.Executor
	maxTicks      int
	current       state.Tree
	ring          []Snapshot
	pending       []sim.QueuedAction
	confirmedTick uint64
}

func New(initial state.Tree, exec *sim.Executor, maxTicks int) *Engine {
	if maxTicks <= 0 {
		maxTicks = DefaultMaxRollbackTicks
	}
	return &Engine{
		exec:     exec,
		maxTicks: maxTicks,
		current:  state.CloneTree(initial),
	}
}

// State returns the live predicted tree.
func (e *Engine) State() state.Tree {
	return e.current
}

// ConfirmedTick returns the newest tick the server has confirmed.
func (e *Engine) ConfirmedTick() uint64 {
	return e.confirmedTick
}

// PendingCount reports how many predicted actions await confirmation.
func (e *Engine) PendingCount() int {
	return len(e.pending)
}

// PredictAction optimistically executes an action against the predicted
// copy. Accepted actions join the pending set for possible replay.
func (e *Engine) PredictAction(action sim.QueuedAction) sim.Result {
	result := e.exec.Execute(e.current, action)
	if result.Rejected() {
		return result
	}
	action.Predicted = true
	e.pending = append(e.pending, action)
	e.record(action.Tick)
	return result
}

// RunSystems executes predict-enabled systems for a tick on the predicted
// copy.
func (e *Engine) RunSystems(tick uint64) {
	e.exec.RunSystems(e.current, tick, true)
	if len(e.pending) > 0 {
		e.record(tick)
	}
}

// Reconcile checks the predicted timeline against the server-confirmed state
// for a tick. Matching predictions are simply acknowledged; divergence
// replaces the local state and replays (re-validating, not re-applying) every
// pending action past the confirmed tick. Replay failures are dropped, so a
// rollback can silently shrink the predicted action set.
func (e *Engine) Reconcile(tick uint64, confirmed state.Tree) Outcome {
	snap, found := e.snapshotAt(tick)
	e.confirmedTick = tick
	e.prune(tick)

	if !found {
		outcome := Outcome{WindowExceeded: len(e.pending) > 0}
		e.adoptAndReplay(tick, confirmed, &outcome)
		return outcome
	}

	if state.Equal(snap.State, confirmed) {
		return Outcome{}
	}

	outcome := Outcome{RolledBack: true}
	e.adoptAndReplay(tick, confirmed, &outcome)
	return outcome
}

// Adopt replaces the predicted state wholesale (snapshot resync) and clears
// all prediction bookkeeping.
func (e *Engine) Adopt(tick uint64, confirmed state.Tree) {
	e.current = state.CloneTree(confirmed)
	e.confirmedTick = tick
	e.ring = nil
	e.pending = nil
}

// DropRejected removes a host-rejected predicted action and rebuilds the
// predicted state from the confirmed base without it. The host may have
// clamped the action's tick forward, so an exact tick match falls back to
// the oldest pending action with the same name at or before the rejected
// tick.
func (e *Engine) DropRejected(name string, tick uint64, confirmed state.Tree) Outcome {
	drop := -1
	fallback := -1
	for i, action := range e.pending {
		if action.Name != name {
			continue
		}
		if action.Tick == tick {
			drop = i
			break
		}
		if fallback == -1 && action.Tick <= tick {
			fallback = i
		}
	}
	if drop == -1 {
		drop = fallback
	}
	if drop == -1 {
		return Outcome{}
	}
	e.pending = append(e.pending[:drop], e.pending[drop+1:]...)
	outcome := Outcome{RolledBack: true}
	e.adoptAndReplay(e.confirmedTick, confirmed, &outcome)
	return outcome
}

func (e *Engine) adoptAndReplay(tick uint64, confirmed state.Tree, outcome *Outcome) {
	e.current = state.CloneTree(confirmed)
	e.ring = nil

	replay := e.pending
	e.pending = nil
	for _, action := range replay {
		if action.Tick <= tick {
			continue
		}
		result := e.exec.Execute(e.current, action)
		if result.Rejected() {
			outcome.Dropped = append(outcome.Dropped, action)
			continue
		}
		e.pending = append(e.pending, action)
		e.record(action.Tick)
		outcome.Replayed++
	}
}

// record upserts the ring entry for a tick with the current predicted state,
// evicting the oldest entry past the ring bound.
func (e *Engine) record(tick uint64) {
	cloned := state.CloneTree(e.current)
	if n := len(e.ring); n > 0 && e.ring[n-1].Tick == tick {
		e.ring[n-1].State = cloned
		return
	}
	e.ring = append(e.ring, Snapshot{Tick: tick, State: cloned})
	if len(e.ring) > e.maxTicks {
		e.ring = append(e.ring[:0], e.ring[1:]...)
	}
}

func (e *Engine) snapshotAt(tick uint64) (Snapshot, bool) {
	for _, snap := range e.ring {
		if snap.Tick == tick {
			return snap, true
		}
	}
	return Snapshot{}, false
}

// prune drops snapshots and pending actions at or before the confirmed tick.
func (e *Engine) prune(tick uint64) {
	ring := e.ring[:0]
	for _, snap := range e.ring {
		if snap.Tick > tick {
			ring = append(ring, snap)
		}
	}
	e.ring = ring

	pending := e.pending[:0]
	for _, action := range e.pending {
		if action.Tick > tick {
			pending = append(pending, action)
		}
	}
	e.pending = pending
}
