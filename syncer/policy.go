package syncer

// ResyncReason tags why the policy wants a resync.
type ResyncReason string

const (
	ReasonRevisionMismatch ResyncReason = "revision_mismatch"
	ReasonPatchFailure     ResyncReason = "patch_failure"
	ReasonSkippedPatches   ResyncReason = "skipped_patches"
	ReasonQueueChecksum    ResyncReason = "queue_checksum"
	ReasonDesync           ResyncReason = "desync"
	ReasonHostMigration    ResyncReason = "host_migration"
	ReasonStandbyNotReady  ResyncReason = "standby_not_ready"
)

// skippedPatchThresholdPerThousand triggers a precautionary resync once one
// in a thousand applied patches has been skipped on identity misses.
const skippedPatchThresholdPerThousand = 1

// ResyncPolicy decides when accumulated soft failures (skipped patches)
// justify requesting a full snapshot even though every individual skip was
// recoverable. Counters reset after each consumption.
type ResyncPolicy struct {
	totalPatches uint64
	skipped      uint64
	pending      bool
}

func NewResyncPolicy() *ResyncPolicy {
	return &ResyncPolicy{}
}

func (p *ResyncPolicy) NotePatches(applied, skipped int) {
	if p == nil {
		return
	}
	if p.totalPatches > (^uint64(0))/2 {
		p.totalPatches /= 2
		p.skipped /= 2
	}
	p.totalPatches += uint64(applied) + uint64(skipped)
	p.skipped += uint64(skipped)
	p.evaluate()
}

func (p *ResyncPolicy) evaluate() {
	if p.pending || p.skipped == 0 {
		return
	}
	total := p.totalPatches
	if total == 0 {
		total = 1
	}
	if p.skipped*1000 >= total*skippedPatchThresholdPerThousand {
		p.pending = true
	}
}

// Consume reports whether a resync is warranted, resetting the counters.
func (p *ResyncPolicy) Consume() (ResyncReason, bool) {
	if p == nil || !p.pending {
		return "", false
	}
	p.pending = false
	p.totalPatches = 0
	p.skipped = 0
	return ReasonSkippedPatches, true
}
