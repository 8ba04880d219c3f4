// Package game describes a game to the sync engine: the initial-state
// factory, the actions players may invoke, the periodic systems the host
// runs, and the optional write schema. Definitions are pure data consumed
// read-only by the runtime.
package game

import (
	"math/rand"
	"sort"

	"netplay/state"
)

// Context is handed to every action and system invocation. All sources of
// nondeterminism are injected: the random generator is seeded from
// (session seed, tick, action index) and Time is derived from the tick, so
// replaying the same inputs reproduces the same state on every replica.
type Context struct {
	// State is the validating accessor over the canonical (or predicted)
	// tree. All writes must go through it.
	State *state.Accessor
	// PlayerID is the acting player, empty for systems.
	PlayerID string
	// Input is the validated action payload.
	Input map[string]any
	// Rand is the deterministic per-invocation generator.
	Rand *rand.Rand
	// Tick is the simulation step the invocation belongs to.
	Tick uint64
	// Time is the deterministic clock in milliseconds (tick * tick duration).
	Time float64
}

// Proximity rejects an action when the acting player is farther from the
// target player than MaxDistance. The target's id is read from the payload
// field named TargetField. Player coordinates are the "x"/"y" fields of the
// player's entry under the top-level "players" collection.
type Proximity struct {
	TargetField string
	MaxDistance float64
}

// RateLimit rejects the (Max+1)th invocation within a sliding window of
// WindowTicks ticks.
type RateLimit struct {
	Max         int
	WindowTicks int
}

// Requirements are the built-in guards checked before an action executes.
type Requirements struct {
	// CooldownMs rejects re-invocation before ceil(CooldownMs/tickDuration)
	// ticks have elapsed since the last successful run.
	CooldownMs float64
	Proximity  *Proximity
	RateLimit  *RateLimit
}

// Action is a player-invocable state mutation.
type Action struct {
	// Input maps payload field names to validation rules. Unknown payload
	// fields are dropped before execution.
	Input map[string]state.Rule
	// Requirements guard execution.
	Requirements Requirements
	// Predict marks the action safe to run optimistically on the client.
	Predict bool
	// Apply performs the mutation. A non-nil error rejects the action with
	// the error text as the reason.
	Apply func(*Context) error
}

// System is a periodic mutation not tied to player input. Systems run on the
// host; Predict additionally runs them on clients inside the prediction copy.
type System struct {
	// RateTicks runs the system every N ticks; 0 or 1 means every tick.
	RateTicks uint64
	Predict   bool
	Run       func(*Context)
}

// Definition is the complete game description.
type Definition struct {
	Name string
	// Setup builds the initial state. now is the deterministic clock at tick
	// zero. An error here is fatal to session initialization.
	Setup func(playerIDs []string, now float64) (state.Tree, error)
	// Actions by name.
	Actions map[string]Action
	// Systems by name. Iterated in sorted name order for determinism.
	Systems map[string]System
	// Schema guards writes; nil disables validation.
	Schema state.Schema
	// OnPlayerJoin runs on the host when a player joins, inside a validated
	// mutation context.
	OnPlayerJoin func(*Context)
	// OnPlayerLeave runs on the host when a player leaves.
	OnPlayerLeave func(*Context)
}

// ActionNames returns the sorted action names, for schema export tooling.
func (d *Definition) ActionNames() []string {
	names := make([]string, 0, len(d.Actions))
	for name := range d.Actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SystemNames returns the sorted system names.
func (d *Definition) SystemNames() []string {
	names := make([]string, 0, len(d.Systems))
	for name := range d.Systems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
