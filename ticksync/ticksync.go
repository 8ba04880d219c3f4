// Package ticksync keeps a client's local tick aligned with the host's and
// bounds how far ahead the client may predict.
package ticksync

import (
	"math"
	"time"
)

// DefaultMaxPredictionFrames bounds client-side prediction ahead of the last
// known host tick.
const DefaultMaxPredictionFrames = 8

// hardResyncDriftTicks is the drift past which the local tick snaps to the
// expected tick instead of converging.
const hardResyncDriftTicks = 3

// Clock tracks local and host ticks for one client.
type Clock struct {
	tickDuration        time.Duration
	maxPredictionFrames int
	localTick           uint64
	hostTick            uint64
}

func NewClock(tickDuration time.Duration, maxPredictionFrames int) *Clock {
	if maxPredictionFrames <= 0 {
		maxPredictionFrames = DefaultMaxPredictionFrames
	}
	return &Clock{
		tickDuration:        tickDuration,
		maxPredictionFrames: maxPredictionFrames,
	}
}

func (c *Clock) LocalTick() uint64 {
	return c.localTick
}

func (c *Clock) HostTick() uint64 {
	return c.hostTick
}

// Advance steps the local tick unless it is already the full prediction
// window ahead of the last known host tick. It reports whether the tick
// advanced.
func (c *Clock) Advance() bool {
	if c.localTick >= c.hostTick+uint64(c.maxPredictionFrames) {
		return false
	}
	c.localTick++
	return true
}

// ObserveAuthoritative ingests the host tick carried by an authoritative
// message, recomputes the expected local tick from the one-way latency, and
// hard-resyncs when drift exceeds the tolerance. It reports whether a hard
// resync happened.
func (c *Clock) ObserveAuthoritative(hostTick uint64, halfLatency time.Duration) bool {
	if hostTick > c.hostTick {
		c.hostTick = hostTick
	}
	expected := c.hostTick + latencyTicks(halfLatency, c.tickDuration)
	drift := int64(c.localTick) - int64(expected)
	if drift < 0 {
		drift = -drift
	}
	if drift > hardResyncDriftTicks {
		c.localTick = expected
		return true
	}
	return false
}

func latencyTicks(halfLatency, tickDuration time.Duration) uint64 {
	if halfLatency <= 0 || tickDuration <= 0 {
		return 0
	}
	return uint64(math.Ceil(float64(halfLatency) / float64(tickDuration)))
}
