package telemetry

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// Counters aggregates operator-facing metrics for a sync session. All fields
// are updated with atomics so the simulation loop never blocks on telemetry.
type Counters struct {
	bytesSent          atomic.Uint64
	diffsSent          atomic.Uint64
	patchesSent        atomic.Uint64
	snapshotsSent      atomic.Uint64
	diffsBuffered      atomic.Uint64
	patchesSkipped     atomic.Uint64
	resyncsRequested   atomic.Uint64
	resyncsServed      atomic.Uint64
	rollbacks          atomic.Uint64
	actionsRejected    atomic.Uint64
	desyncs            atomic.Uint64
	checksumMismatches atomic.Uint64
	promotions         atomic.Uint64
	tickDurationMillis atomic.Int64
	debug              bool
}

// Snapshot is the JSON-friendly projection of the counters.
type Snapshot struct {
	BytesSent          uint64 `json:"bytesSent"`
	DiffsSent          uint64 `json:"diffsSent"`
	PatchesSent        uint64 `json:"patchesSent"`
	SnapshotsSent      uint64 `json:"snapshotsSent"`
	DiffsBuffered      uint64 `json:"diffsBuffered"`
	PatchesSkipped     uint64 `json:"patchesSkipped"`
	ResyncsRequested   uint64 `json:"resyncsRequested"`
	ResyncsServed      uint64 `json:"resyncsServed"`
	Rollbacks          uint64 `json:"rollbacks"`
	ActionsRejected    uint64 `json:"actionsRejected"`
	Desyncs            uint64 `json:"desyncs"`
	ChecksumMismatches uint64 `json:"checksumMismatches"`
	Promotions         uint64 `json:"promotions"`
	TickDuration       int64  `json:"tickDurationMillis"`
}

func NewCounters() *Counters {
	t := &Counters{}
	if os.Getenv("NETPLAY_DEBUG_TELEMETRY") == "1" {
		t.debug = true
	}
	return t
}

func (t *Counters) RecordBroadcast(bytes, patches int) {
	if bytes < 0 {
		bytes = 0
	}
	if patches < 0 {
		patches = 0
	}
	t.bytesSent.Add(uint64(bytes))
	t.diffsSent.Add(1)
	t.patchesSent.Add(uint64(patches))
}

func (t *Counters) RecordSnapshotSent(bytes int) {
	if bytes < 0 {
		bytes = 0
	}
	t.bytesSent.Add(uint64(bytes))
	t.snapshotsSent.Add(1)
}

func (t *Counters) RecordTickDuration(duration time.Duration) {
	millis := duration.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	t.tickDurationMillis.Store(millis)
	if t.debug {
		fmt.Printf("[telemetry] tick=%dms bytes=%d diffs=%d resyncs=%d\n",
			millis, t.bytesSent.Load(), t.diffsSent.Load(), t.resyncsServed.Load())
	}
}

func (t *Counters) IncrementDiffBuffered()      { t.diffsBuffered.Add(1) }
func (t *Counters) IncrementPatchSkipped()      { t.patchesSkipped.Add(1) }
func (t *Counters) IncrementResyncRequested()   { t.resyncsRequested.Add(1) }
func (t *Counters) IncrementResyncServed()      { t.resyncsServed.Add(1) }
func (t *Counters) IncrementRollback()          { t.rollbacks.Add(1) }
func (t *Counters) IncrementActionRejected()    { t.actionsRejected.Add(1) }
func (t *Counters) IncrementDesync()            { t.desyncs.Add(1) }
func (t *Counters) IncrementChecksumMismatch()  { t.checksumMismatches.Add(1) }
func (t *Counters) IncrementStandbyPromotion()  { t.promotions.Add(1) }

func (t *Counters) SnapshotCounters() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	return Snapshot{
		BytesSent:          t.bytesSent.Load(),
		DiffsSent:          t.diffsSent.Load(),
		PatchesSent:        t.patchesSent.Load(),
		SnapshotsSent:      t.snapshotsSent.Load(),
		DiffsBuffered:      t.diffsBuffered.Load(),
		PatchesSkipped:     t.patchesSkipped.Load(),
		ResyncsRequested:   t.resyncsRequested.Load(),
		ResyncsServed:      t.resyncsServed.Load(),
		Rollbacks:          t.rollbacks.Load(),
		ActionsRejected:    t.actionsRejected.Load(),
		Desyncs:            t.desyncs.Load(),
		ChecksumMismatches: t.checksumMismatches.Load(),
		Promotions:         t.promotions.Load(),
		TickDuration:       t.tickDurationMillis.Load(),
	}
}
