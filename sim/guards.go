package sim

import (
	"math"

	"netplay/state"
)

// Guard bookkeeping lives inside the state tree under a reserved key. Keeping
// it in-state means it is snapshotted, diffed, checksummed and rolled back
// together with the state it protects: a promoted standby or a rolled-back
// client reconstructs cooldown and rate-limit history for free.
const guardsKey = "_guards"

const (
	guardCooldowns = "cooldowns"
	guardRates     = "rates"
)

func guardBucket(tree state.Tree, bucket string) map[string]any {
	guards, _ := tree[guardsKey].(map[string]any)
	if guards == nil {
		guards = make(map[string]any)
		tree[guardsKey] = guards
	}
	entries, _ := guards[bucket].(map[string]any)
	if entries == nil {
		entries = make(map[string]any)
		guards[bucket] = entries
	}
	return entries
}

func guardKey(playerID, action string) string {
	return playerID + "|" + action
}

// cooldownBlocked reports whether the action is still cooling down at tick.
func cooldownBlocked(tree state.Tree, playerID, action string, tick uint64, cooldownMs, tickDurationMs float64) bool {
	if cooldownMs <= 0 {
		return false
	}
	entries := guardBucket(tree, guardCooldowns)
	raw, ok := entries[guardKey(playerID, action)]
	if !ok {
		return false
	}
	last, ok := raw.(float64)
	if !ok {
		return false
	}
	window := uint64(math.Ceil(cooldownMs / tickDurationMs))
	return tick-uint64(last) < window
}

func recordCooldown(tree state.Tree, playerID, action string, tick uint64) {
	entries := guardBucket(tree, guardCooldowns)
	entries[guardKey(playerID, action)] = float64(tick)
}

// rateLimited reports whether another call at tick would exceed max calls in
// the sliding window.
func rateLimited(tree state.Tree, playerID, action string, tick uint64, max, windowTicks int) bool {
	if max <= 0 || windowTicks <= 0 {
		return false
	}
	entries := guardBucket(tree, guardRates)
	raw, _ := entries[guardKey(playerID, action)].([]any)
	count := 0
	for _, item := range raw {
		at, ok := item.(float64)
		if !ok {
			continue
		}
		if tick < uint64(at)+uint64(windowTicks) {
			count++
		}
	}
	return count >= max
}

func recordRateCall(tree state.Tree, playerID, action string, tick uint64, windowTicks int) {
	entries := guardBucket(tree, guardRates)
	key := guardKey(playerID, action)
	raw, _ := entries[key].([]any)
	pruned := make([]any, 0, len(raw)+1)
	for _, item := range raw {
		at, ok := item.(float64)
		if !ok {
			continue
		}
		if windowTicks > 0 && tick >= uint64(at)+uint64(windowTicks) {
			continue
		}
		pruned = append(pruned, at)
	}
	pruned = append(pruned, float64(tick))
	entries[key] = pruned
}

// clearPlayerGuards drops all bookkeeping for a departed player.
func clearPlayerGuards(tree state.Tree, playerID string) {
	guards, _ := tree[guardsKey].(map[string]any)
	if guards == nil {
		return
	}
	prefix := playerID + "|"
	for _, bucket := range []string{guardCooldowns, guardRates} {
		entries, _ := guards[bucket].(map[string]any)
		for key := range entries {
			if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
				delete(entries, key)
			}
		}
	}
}
