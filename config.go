// Package netplay wires the engine together: a host runtime that owns the
// authoritative simulation and a client runtime that predicts, reconciles,
// and stands by to take over.
package netplay

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"

	"netplay/logging"
	"netplay/predict"
	"netplay/syncer"
	"netplay/telemetry"
	"netplay/ticksync"
)

// Defaults applied by Options.withDefaults.
const (
	DefaultTickRate              = 15
	DefaultHeartbeatInterval     = 500 * time.Millisecond
	DefaultSnapshotIntervalTicks = 150
)

// Options configures both runtimes. The zero value is usable; every field
// falls back to its default.
type Options struct {
	// TickRate is simulation steps per second.
	TickRate int
	// HeartbeatInterval paces host heartbeats and the client watchdog.
	HeartbeatInterval time.Duration
	// MaxRollbackTicks bounds the client prediction snapshot ring.
	MaxRollbackTicks int
	// MaxDiffGap bounds the host diff history served to resyncing clients.
	MaxDiffGap int
	// MaxPredictionFrames caps how far a client tick may run ahead of the
	// host's.
	MaxPredictionFrames int
	// ChecksumIntervalTicks paces the host's desync probes.
	ChecksumIntervalTicks int
	// SnapshotIntervalTicks paces full snapshots broadcast to standbys.
	SnapshotIntervalTicks int
	// MissedHeartbeatLimit is how many consecutive silent intervals trigger
	// an election.
	MissedHeartbeatLimit int
	// SessionSeed feeds the deterministic per-action generators. Zero means
	// derive one from the session id.
	SessionSeed int64
	// SessionID identifies one host tenure. Empty means a fresh UUID.
	SessionID string

	// Publisher receives structured events; nil means discard.
	Publisher logging.Publisher
	// Telemetry receives counters; nil means a private set.
	Telemetry *telemetry.Counters
}

// EnvOptions is the environment surface, one variable per tunable.
type EnvOptions struct {
	TickRate              int           `env:"NETPLAY_TICK_RATE" envDefault:"15"`
	HeartbeatInterval     time.Duration `env:"NETPLAY_HEARTBEAT_INTERVAL" envDefault:"500ms"`
	MaxRollbackTicks      int           `env:"NETPLAY_MAX_ROLLBACK_TICKS" envDefault:"64"`
	MaxDiffGap            int           `env:"NETPLAY_MAX_DIFF_GAP" envDefault:"32"`
	MaxPredictionFrames   int           `env:"NETPLAY_MAX_PREDICTION_FRAMES" envDefault:"8"`
	ChecksumIntervalTicks int           `env:"NETPLAY_CHECKSUM_INTERVAL_TICKS" envDefault:"30"`
	SnapshotIntervalTicks int           `env:"NETPLAY_SNAPSHOT_INTERVAL_TICKS" envDefault:"150"`
	MissedHeartbeatLimit  int           `env:"NETPLAY_MISSED_HEARTBEAT_LIMIT" envDefault:"3"`
	SessionSeed           int64         `env:"NETPLAY_SESSION_SEED"`
}

// OptionsFromEnv reads Options from the process environment.
func OptionsFromEnv() (Options, error) {
	var eo EnvOptions
	if err := env.Parse(&eo); err != nil {
		return Options{}, fmt.Errorf("parse environment: %w", err)
	}
	return Options{
		TickRate:              eo.TickRate,
		HeartbeatInterval:     eo.HeartbeatInterval,
		MaxRollbackTicks:      eo.MaxRollbackTicks,
		MaxDiffGap:            eo.MaxDiffGap,
		MaxPredictionFrames:   eo.MaxPredictionFrames,
		ChecksumIntervalTicks: eo.ChecksumIntervalTicks,
		SnapshotIntervalTicks: eo.SnapshotIntervalTicks,
		MissedHeartbeatLimit:  eo.MissedHeartbeatLimit,
		SessionSeed:           eo.SessionSeed,
	}, nil
}

func (o Options) withDefaults() Options {
	if o.TickRate <= 0 {
		o.TickRate = DefaultTickRate
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.MaxRollbackTicks <= 0 {
		o.MaxRollbackTicks = predict.DefaultMaxRollbackTicks
	}
	if o.MaxDiffGap <= 0 {
		o.MaxDiffGap = syncer.DefaultMaxDiffGap
	}
	if o.MaxPredictionFrames <= 0 {
		o.MaxPredictionFrames = ticksync.DefaultMaxPredictionFrames
	}
	if o.ChecksumIntervalTicks <= 0 {
		o.ChecksumIntervalTicks = ticksync.DefaultChecksumInterval
	}
	if o.SnapshotIntervalTicks <= 0 {
		o.SnapshotIntervalTicks = DefaultSnapshotIntervalTicks
	}
	if o.MissedHeartbeatLimit <= 0 {
		o.MissedHeartbeatLimit = 3
	}
	if o.SessionID == "" {
		o.SessionID = uuid.NewString()
	}
	if o.SessionSeed == 0 {
		o.SessionSeed = seedFromSession(o.SessionID)
	}
	if o.Publisher == nil {
		o.Publisher = logging.NopPublisher()
	}
	if o.Telemetry == nil {
		o.Telemetry = telemetry.NewCounters()
	}
	return o
}

// TickDuration converts the rate into the step interval.
func (o Options) TickDuration() time.Duration {
	rate := o.TickRate
	if rate <= 0 {
		rate = DefaultTickRate
	}
	return time.Second / time.Duration(rate)
}

func seedFromSession(sessionID string) int64 {
	var seed int64
	for _, r := range sessionID {
		seed = seed*31 + int64(r)
	}
	if seed == 0 {
		seed = 1
	}
	return seed
}
