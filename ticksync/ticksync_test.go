package ticksync

import (
	"testing"
	"time"
)

const testTick = 66 * time.Millisecond

func TestAdvanceClampsToPredictionWindow(t *testing.T) {
	clock := NewClock(testTick, 4)
	for i := 0; i < 4; i++ {
		if !clock.Advance() {
			t.Fatalf("advance %d refused inside the window", i)
		}
	}
	if clock.Advance() {
		t.Fatalf("advance succeeded past the prediction window")
	}
	if clock.LocalTick() != 4 {
		t.Fatalf("expected local tick 4, got %d", clock.LocalTick())
	}
}

func TestObserveAuthoritativeReleasesTheClamp(t *testing.T) {
	clock := NewClock(testTick, 2)
	clock.Advance()
	clock.Advance()
	if clock.Advance() {
		t.Fatalf("expected clamp at full window")
	}
	clock.ObserveAuthoritative(2, 0)
	if !clock.Advance() {
		t.Fatalf("host progress should release the clamp")
	}
}

func TestObserveAuthoritativeHardResync(t *testing.T) {
	clock := NewClock(testTick, 8)
	// Local is still at 0; host reports 100 with one tick of latency.
	if !clock.ObserveAuthoritative(100, testTick) {
		t.Fatalf("expected a hard resync for large drift")
	}
	if clock.LocalTick() != 101 {
		t.Fatalf("expected local tick host+latency=101, got %d", clock.LocalTick())
	}
}

func TestObserveAuthoritativeSmallDriftConverges(t *testing.T) {
	clock := NewClock(testTick, 8)
	clock.ObserveAuthoritative(10, 0)
	for i := 0; i < 2; i++ {
		clock.Advance()
	}
	// Local 12 vs expected 10: within tolerance, no snap.
	if clock.ObserveAuthoritative(10, 0) {
		t.Fatalf("small drift must not hard-resync")
	}
	if clock.LocalTick() != 12 {
		t.Fatalf("local tick changed on soft observation: %d", clock.LocalTick())
	}
}

func TestHostTickNeverRegresses(t *testing.T) {
	clock := NewClock(testTick, 8)
	clock.ObserveAuthoritative(50, 0)
	clock.ObserveAuthoritative(40, 0)
	if clock.HostTick() != 50 {
		t.Fatalf("stale observation regressed the host tick: %d", clock.HostTick())
	}
}

func TestDetectorComparesOnlyMatchingKeys(t *testing.T) {
	det := NewDetector(30)
	det.NoteLocal(90, 1234)

	if desynced, comparable := det.Check(60, 999); comparable || desynced {
		t.Fatalf("a checksum for an unrecorded key must be inconclusive")
	}
	if desynced, comparable := det.Check(90, 1234); !comparable || desynced {
		t.Fatalf("matching checksum flagged as desync")
	}
	if desynced, comparable := det.Check(90, 999); !comparable || !desynced {
		t.Fatalf("differing checksum not flagged")
	}
}

func TestDetectorBroadcastCadence(t *testing.T) {
	det := NewDetector(30)
	if det.ShouldBroadcast(29) {
		t.Fatalf("tick 29 is off cadence")
	}
	if !det.ShouldBroadcast(30) {
		t.Fatalf("tick 30 is on cadence")
	}
	if !det.ShouldBroadcast(60) {
		t.Fatalf("tick 60 is on cadence")
	}
}

func TestZeroHardResyncWhenExpectedMatches(t *testing.T) {
	clock := NewClock(testTick, 8)
	clock.ObserveAuthoritative(10, 0)
	clock.Advance()
	// Drift of one tick: tolerated.
	if clock.ObserveAuthoritative(11, 0) {
		t.Fatalf("zero-drift observation triggered resync")
	}
}
