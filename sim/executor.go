package sim

import (
	"context"
	"math"
	"strings"
	"time"

	"netplay/game"
	"netplay/logging"
	"netplay/state"
)

const playersKey = "players"

// Executor runs the action pipeline: input validation, built-in guards, then
// the action's mutation under a deterministic context. One executor serves
// either the canonical state (host) or a predicted copy (client); all of its
// bookkeeping lives inside the tree it is handed, so it carries no state of
// its own between calls.
type Executor struct {
	def            *game.Definition
	table          *state.Table
	sessionSeed    int64
	tickDurationMs float64
	pub            logging.Publisher
	role           logging.PeerRole
}

func NewExecutor(def *game.Definition, sessionSeed int64, tickDuration time.Duration, pub logging.Publisher) *Executor {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &Executor{
		def:            def,
		table:          state.CompileSchema(def.Schema),
		sessionSeed:    sessionSeed,
		tickDurationMs: float64(tickDuration.Milliseconds()),
		pub:            pub,
	}
}

// SetRole tags the executor's diagnostic events with the authority role of
// the peer running it.
func (e *Executor) SetRole(role logging.PeerRole) {
	e.role = role
}

// SchemaTable exposes the compiled schema for callers building contexts of
// their own (join/leave hooks).
func (e *Executor) SchemaTable() *state.Table {
	return e.table
}

// TimeAt is the deterministic clock for a tick, in milliseconds.
func (e *Executor) TimeAt(tick uint64) float64 {
	return float64(tick) * e.tickDurationMs
}

// Execute runs one action against the tree. Guard rejections happen before
// any mutation. A non-nil error from the action's Apply becomes a rejection
// whose reason is the error text; a *state.Violation surfaced from a strict
// schema rule rejects the same way.
func (e *Executor) Execute(tree state.Tree, action QueuedAction) Result {
	act, ok := e.def.Actions[action.Name]
	if !ok {
		return Reject(RejectUnknownAction)
	}

	input, ok := e.validateInput(act, action.Payload)
	if !ok {
		return Reject(RejectInvalidInput)
	}

	if result := e.checkRequirements(tree, act, action, input); result.Rejected() {
		return result
	}

	accessor := state.NewAccessor(tree, e.table)
	ctx := &game.Context{
		State:    accessor,
		PlayerID: action.PlayerID,
		Input:    input,
		Rand:     newRand(e.sessionSeed, action.Tick, action.ActionIndex),
		Tick:     action.Tick,
		Time:     e.TimeAt(action.Tick),
	}
	if act.Apply != nil {
		if err := act.Apply(ctx); err != nil {
			return Reject(RejectReason(err.Error()))
		}
	}

	if act.Requirements.CooldownMs > 0 {
		recordCooldown(tree, action.PlayerID, action.Name, action.Tick)
	}
	if rl := act.Requirements.RateLimit; rl != nil {
		recordRateCall(tree, action.PlayerID, action.Name, action.Tick, rl.WindowTicks)
	}

	e.reportCrossEntityWrites(accessor, action)
	return Accepted()
}

func (e *Executor) validateInput(act game.Action, payload map[string]any) (map[string]any, bool) {
	input := make(map[string]any, len(act.Input))
	for field, rule := range act.Input {
		raw, present := payload[field]
		if !present {
			return nil, false
		}
		validated, err := state.ValidateValue(rule, []string{field}, raw)
		if err != nil {
			return nil, false
		}
		input[field] = validated
	}
	return input, true
}

func (e *Executor) checkRequirements(tree state.Tree, act game.Action, action QueuedAction, input map[string]any) Result {
	req := act.Requirements
	if cooldownBlocked(tree, action.PlayerID, action.Name, action.Tick, req.CooldownMs, e.tickDurationMs) {
		return Reject(RejectCooldown)
	}
	if req.Proximity != nil {
		if result := e.checkProximity(tree, req.Proximity, action, input); result.Rejected() {
			return result
		}
	}
	if req.RateLimit != nil && rateLimited(tree, action.PlayerID, action.Name, action.Tick, req.RateLimit.Max, req.RateLimit.WindowTicks) {
		return Reject(RejectRateLimit)
	}
	return Accepted()
}

func (e *Executor) checkProximity(tree state.Tree, rule *game.Proximity, action QueuedAction, input map[string]any) Result {
	accessor := state.NewAccessor(tree, nil)
	actorX, okX := accessor.GetNumber(playersKey, action.PlayerID, "x")
	actorY, okY := accessor.GetNumber(playersKey, action.PlayerID, "y")
	if !okX || !okY {
		return Reject(RejectPlayerNotFound)
	}
	targetID, _ := input[rule.TargetField].(string)
	if targetID == "" {
		return Reject(RejectInvalidInput)
	}
	targetX, okX := accessor.GetNumber(playersKey, targetID, "x")
	targetY, okY := accessor.GetNumber(playersKey, targetID, "y")
	if !okX || !okY {
		return Reject(RejectPlayerNotFound)
	}
	if math.Hypot(targetX-actorX, targetY-actorY) > rule.MaxDistance {
		return Reject(RejectProximity)
	}
	return Accepted()
}

// RunSystems executes the definition's systems due at tick, in sorted name
// order. When predicted is true only systems marked Predict run; the rest
// are host-only.
func (e *Executor) RunSystems(tree state.Tree, tick uint64, predicted bool) {
	names := e.def.SystemNames()
	for i, name := range names {
		sys := e.def.Systems[name]
		rate := sys.RateTicks
		if rate == 0 {
			rate = 1
		}
		if tick%rate != 0 {
			continue
		}
		if predicted && !sys.Predict {
			continue
		}
		if sys.Run == nil {
			continue
		}
		sys.Run(&game.Context{
			State: state.NewAccessor(tree, e.table),
			Rand:  newRand(e.sessionSeed, tick, systemActionIndex-i),
			Tick:  tick,
			Time:  e.TimeAt(tick),
		})
	}
}

// RunJoinHook executes the definition's join hook for a player.
func (e *Executor) RunJoinHook(tree state.Tree, playerID string, tick uint64) {
	if e.def.OnPlayerJoin == nil {
		return
	}
	e.def.OnPlayerJoin(&game.Context{
		State:    state.NewAccessor(tree, e.table),
		PlayerID: playerID,
		Rand:     newRand(e.sessionSeed, tick, systemActionIndex),
		Tick:     tick,
		Time:     e.TimeAt(tick),
	})
}

// RunLeaveHook executes the leave hook and clears the player's guard history.
func (e *Executor) RunLeaveHook(tree state.Tree, playerID string, tick uint64) {
	if e.def.OnPlayerLeave != nil {
		e.def.OnPlayerLeave(&game.Context{
			State:    state.NewAccessor(tree, e.table),
			PlayerID: playerID,
			Rand:     newRand(e.sessionSeed, tick, systemActionIndex),
			Tick:     tick,
			Time:     e.TimeAt(tick),
		})
	}
	clearPlayerGuards(tree, playerID)
}

// reportCrossEntityWrites emits a diagnostic when an action written by one
// player touched another player's entity. Diagnostic only; never blocks.
func (e *Executor) reportCrossEntityWrites(accessor *state.Accessor, action QueuedAction) {
	for _, touched := range accessor.Touched() {
		if !strings.HasPrefix(touched, playersKey+"/") {
			continue
		}
		entity := strings.TrimPrefix(touched, playersKey+"/")
		if entity == action.PlayerID {
			continue
		}
		e.pub.Publish(context.Background(), logging.Event{
			Type:     "sim.cross_entity_write",
			Tick:     action.Tick,
			Peer:     logging.PeerRef{ID: action.PlayerID, Role: e.role},
			Severity: logging.SeverityDebug,
			Category: logging.CategoryLifecycle,
			Extra:    map[string]any{"action": action.Name, "entity": entity},
		})
	}
}
