// Package sim executes validated actions against the game state with a fully
// deterministic context: per-action RNG seeded from the authoritative action
// index and a clock derived from the tick.
package sim

import (
	"sort"

	"netplay/state"
)

// QueuedAction is one player intent captured for a tick. Clients propose
// ActionIndex 0; only the host assigns authoritative indices, and only
// host-assigned indices are persisted, replicated, or used to seed
// randomness.
type QueuedAction struct {
	Name        string         `json:"name"`
	Payload     map[string]any `json:"payload,omitempty"`
	PlayerID    string         `json:"playerId"`
	Tick        uint64         `json:"tick"`
	ActionIndex int            `json:"actionIndex"`
	Predicted   bool           `json:"predicted,omitempty"`
	// Timestamp is the client wall clock in unix milliseconds when the
	// action was issued. It orders actions within a tick.
	Timestamp int64 `json:"timestamp"`
}

// CanonicalMap renders the action as a plain tree for deterministic hashing.
func (a QueuedAction) CanonicalMap() map[string]any {
	m := map[string]any{
		"name":        a.Name,
		"playerId":    a.PlayerID,
		"tick":        float64(a.Tick),
		"actionIndex": float64(a.ActionIndex),
		"timestamp":   float64(a.Timestamp),
	}
	if len(a.Payload) > 0 {
		m["payload"] = state.Clone(a.Payload)
	}
	return m
}

// SortForTick orders actions by (tick, timestamp, playerId) and assigns the
// authoritative per-tick action index. The sort is stable, so two actions
// sharing all three keys keep their host arrival order; that is the
// tie-break, stable within one host's lifetime.
func SortForTick(actions []QueuedAction) {
	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Tick != actions[j].Tick {
			return actions[i].Tick < actions[j].Tick
		}
		if actions[i].Timestamp != actions[j].Timestamp {
			return actions[i].Timestamp < actions[j].Timestamp
		}
		return actions[i].PlayerID < actions[j].PlayerID
	})
	index := 0
	for i := range actions {
		if i > 0 && actions[i].Tick != actions[i-1].Tick {
			index = 0
		}
		actions[i].ActionIndex = index
		index++
	}
}

// RejectReason explains why an action was refused. Beyond the built-in
// reasons, an action's own error text travels as the reason.
type RejectReason string

const (
	RejectCooldown       RejectReason = "cooldown"
	RejectProximity      RejectReason = "proximity"
	RejectRateLimit      RejectReason = "rate_limit"
	RejectInvalidInput   RejectReason = "invalid_input"
	RejectPlayerNotFound RejectReason = "player_not_found"
	RejectUnknownAction  RejectReason = "unknown_action"
)

// Result is the typed outcome of an action attempt. Rejection is data, never
// a fault crossing the boundary.
type Result struct {
	OK     bool         `json:"success"`
	Reason RejectReason `json:"reason,omitempty"`
}

func Accepted() Result {
	return Result{OK: true}
}

func Reject(reason RejectReason) Result {
	return Result{Reason: reason}
}

func (r Result) Rejected() bool {
	return !r.OK
}
