package ticksync

// DefaultChecksumInterval is how many ticks pass between host checksum
// broadcasts.
const DefaultChecksumInterval = 30

// Detector drives periodic checksum comparison between a replica and the
// host. The host asks ShouldBroadcast each tick; clients feed received
// checksums through Check.
type Detector struct {
	intervalTicks uint64
	lastTick      uint64
	lastLocal     uint64
	haveLocal     bool
}

func NewDetector(intervalTicks int) *Detector {
	if intervalTicks <= 0 {
		intervalTicks = DefaultChecksumInterval
	}
	return &Detector{intervalTicks: uint64(intervalTicks)}
}

// ShouldBroadcast reports whether the host should emit a checksum at tick.
func (d *Detector) ShouldBroadcast(tick uint64) bool {
	return tick > 0 && tick%d.intervalTicks == 0
}

// NoteLocal records the local checksum for a tick so a later host broadcast
// for the same tick can be compared.
func (d *Detector) NoteLocal(tick, checksum uint64) {
	d.lastTick = tick
	d.lastLocal = checksum
	d.haveLocal = true
}

// Check compares a host-broadcast checksum with the recorded local one.
// desynced is true only when the ticks line up and the sums differ; a
// checksum for a tick the replica never recorded is inconclusive and
// reported as comparable=false.
func (d *Detector) Check(tick, remote uint64) (desynced, comparable bool) {
	if !d.haveLocal || d.lastTick != tick {
		return false, false
	}
	return d.lastLocal != remote, true
}

// Local returns the last recorded local checksum.
func (d *Detector) Local() uint64 {
	return d.lastLocal
}
