package netplay

import (
	"testing"
	"time"

	"netplay/election"
	"netplay/game"
	"netplay/proto"
	"netplay/state"
	"netplay/telemetry"
	"netplay/transport/memory"
)

// duelDefinition is a small two-action game used to exercise the full
// host/client loop: a predictable move, a proximity-guarded strike, and a
// host-side system that mutates state every tick so every step produces a
// diff.
func duelDefinition() *game.Definition {
	return &game.Definition{
		Name: "duel",
		Setup: func(playerIDs []string, now float64) (state.Tree, error) {
			players := map[string]any{}
			for i, id := range playerIDs {
				players[id] = map[string]any{
					"x":      float64(i * 10),
					"y":      0.0,
					"health": 100.0,
				}
			}
			return state.Tree{
				"players": players,
				"world":   map[string]any{"ticks": 0.0},
			}, nil
		},
		Actions: map[string]game.Action{
			"move": {
				Input: map[string]state.Rule{
					"dx": {Type: state.KindNumber},
					"dy": {Type: state.KindNumber},
				},
				Predict: true,
				Apply: func(ctx *game.Context) error {
					x, _ := ctx.State.GetNumber("players", ctx.PlayerID, "x")
					y, _ := ctx.State.GetNumber("players", ctx.PlayerID, "y")
					if err := ctx.State.Set(x+ctx.Input["dx"].(float64), "players", ctx.PlayerID, "x"); err != nil {
						return err
					}
					return ctx.State.Set(y+ctx.Input["dy"].(float64), "players", ctx.PlayerID, "y")
				},
			},
			"strike": {
				Input: map[string]state.Rule{
					"target": {Type: state.KindString},
				},
				Requirements: game.Requirements{
					Proximity: &game.Proximity{TargetField: "target", MaxDistance: 50},
				},
				Predict: true,
				Apply: func(ctx *game.Context) error {
					target := ctx.Input["target"].(string)
					hp, _ := ctx.State.GetNumber("players", target, "health")
					return ctx.State.Set(hp-10, "players", target, "health")
				},
			},
		},
		Systems: map[string]game.System{
			"clock": {
				Run: func(ctx *game.Context) {
					ticks, _ := ctx.State.GetNumber("world", "ticks")
					ctx.State.Set(ticks+1, "world", "ticks")
				},
			},
		},
		OnPlayerJoin: func(ctx *game.Context) {
			if _, ok := ctx.State.GetNumber("players", ctx.PlayerID, "x"); ok {
				return
			}
			ctx.State.Set(0.0, "players", ctx.PlayerID, "x")
			ctx.State.Set(0.0, "players", ctx.PlayerID, "y")
			ctx.State.Set(100.0, "players", ctx.PlayerID, "health")
		},
		OnPlayerLeave: func(ctx *game.Context) {
			ctx.State.Delete("players", ctx.PlayerID)
		},
	}
}

func duelOptions(sessionID string) Options {
	return Options{
		TickRate:              15,
		HeartbeatInterval:     time.Millisecond,
		MaxRollbackTicks:      32,
		MaxDiffGap:            16,
		MaxPredictionFrames:   8,
		ChecksumIntervalTicks: 3,
		SnapshotIntervalTicks: 4,
		MissedHeartbeatLimit:  3,
		SessionID:             sessionID,
		Telemetry:             telemetry.NewCounters(),
	}
}

func TestClientReceivesWelcomeSnapshot(t *testing.T) {
	mesh := memory.NewMesh()
	hostPeer := mesh.Join("host")
	alicePeer := mesh.Join("alice")

	host, err := NewHost(duelDefinition(), hostPeer, duelOptions("session-1"))
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	alice, err := NewClient(duelDefinition(), alicePeer, duelOptions("session-1"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if alice.Joined() {
		t.Fatal("client joined before the host stepped")
	}

	host.Step()

	if !alice.Joined() {
		t.Fatal("client did not join after the welcome snapshot")
	}
	if got, want := alice.Revision(), host.Revision(); got != want {
		t.Fatalf("client revision = %d, host revision = %d", got, want)
	}
	if state.Checksum(alice.State()) != state.Checksum(host.State()) {
		t.Fatal("client state does not match host state after welcome")
	}
}

func TestDispatchPredictsAndConfirms(t *testing.T) {
	mesh := memory.NewMesh()
	hostPeer := mesh.Join("host")
	alicePeer := mesh.Join("alice")

	host, err := NewHost(duelDefinition(), hostPeer, duelOptions("session-1"))
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	alice, err := NewClient(duelDefinition(), alicePeer, duelOptions("session-1"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	var sawPrediction bool
	alice.OnChange(func(u Update) {
		if u.Predicted {
			sawPrediction = true
		}
	})
	host.Step()

	result := alice.Dispatch("move", map[string]any{"dx": 5.0, "dy": 0.0})
	if result.Rejected() {
		t.Fatalf("move rejected locally: %s", result.Reason)
	}
	if !sawPrediction {
		t.Fatal("no predicted update emitted")
	}
	if x, _ := treeNumber(alice.State(), "players", "alice", "x"); x != 5 {
		t.Fatalf("predicted x = %v, want 5", x)
	}

	for i := 0; i < 3; i++ {
		host.Step()
	}

	if x, _ := treeNumber(host.State(), "players", "alice", "x"); x != 5 {
		t.Fatalf("confirmed x = %v, want 5", x)
	}
	if alice.pred.PendingCount() != 0 {
		t.Fatalf("pending predictions = %d after confirmation", alice.pred.PendingCount())
	}
	if state.Checksum(alice.State()) != state.Checksum(host.State()) {
		t.Fatal("client diverged from host after confirmation")
	}
}

func TestHostRejectionRollsBackPrediction(t *testing.T) {
	mesh := memory.NewMesh()
	hostPeer := mesh.Join("host")
	alicePeer := mesh.Join("alice")
	bobPeer := mesh.Join("bob")

	host, err := NewHost(duelDefinition(), hostPeer, duelOptions("session-1"))
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	alice, err := NewClient(duelDefinition(), alicePeer, duelOptions("session-1"))
	if err != nil {
		t.Fatalf("NewClient alice: %v", err)
	}
	bobOpts := duelOptions("session-1")
	bob, err := NewClient(duelDefinition(), bobPeer, bobOpts)
	if err != nil {
		t.Fatalf("NewClient bob: %v", err)
	}
	host.Step()

	// Alice's move sorts before Bob's strike on the same tick, so by the
	// time the host validates the strike the target is out of range.
	if res := alice.Dispatch("move", map[string]any{"dx": 500.0, "dy": 0.0}); res.Rejected() {
		t.Fatalf("move rejected: %s", res.Reason)
	}
	res := bob.Dispatch("strike", map[string]any{"target": "alice"})
	if res.Rejected() {
		t.Fatalf("strike rejected locally: %s", res.Reason)
	}
	if hp, _ := treeNumber(bob.State(), "players", "alice", "health"); hp != 90 {
		t.Fatalf("predicted target health = %v, want 90", hp)
	}

	for i := 0; i < 4; i++ {
		host.Step()
	}

	if hp, _ := treeNumber(host.State(), "players", "alice", "health"); hp != 100 {
		t.Fatalf("host target health = %v, want 100 after rejection", hp)
	}
	if x, _ := treeNumber(host.State(), "players", "alice", "x"); x != 500 {
		t.Fatalf("host target x = %v, want 500", x)
	}
	if bob.pred.PendingCount() != 0 {
		t.Fatalf("bob still has %d pending predictions", bob.pred.PendingCount())
	}
	if got := bobOpts.Telemetry.SnapshotCounters().ActionsRejected; got == 0 {
		t.Fatal("bob never observed the rejection")
	}
	if state.Checksum(bob.State()) != state.Checksum(host.State()) {
		t.Fatal("bob diverged from host after rollback")
	}
	if state.Checksum(alice.State()) != state.Checksum(host.State()) {
		t.Fatal("alice diverged from host")
	}
}

func TestBufferedDiffTriggersResync(t *testing.T) {
	mesh := memory.NewMesh()
	hostPeer := mesh.Join("host")
	alicePeer := mesh.Join("alice")

	hostOpts := duelOptions("session-1")
	host, err := NewHost(duelDefinition(), hostPeer, hostOpts)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	aliceOpts := duelOptions("session-1")
	alice, err := NewClient(duelDefinition(), alicePeer, aliceOpts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	host.Step()

	mesh.DropFilter = func(msg proto.Message, from, to string) bool {
		return msg.Kind == proto.KindDiff && to == "alice"
	}
	host.Step()
	host.Step()
	mesh.DropFilter = nil

	// The next diff arrives two revisions ahead; the client parks it,
	// requests a resync, and the host answers with the missing chain.
	host.Step()

	if got, want := alice.Revision(), host.Revision(); got != want {
		t.Fatalf("client revision = %d, host revision = %d", got, want)
	}
	if state.Checksum(alice.sync.State()) != state.Checksum(host.State()) {
		t.Fatal("client confirmed state did not converge after resync")
	}
	counters := aliceOpts.Telemetry.SnapshotCounters()
	if counters.DiffsBuffered == 0 {
		t.Fatal("no diff was buffered")
	}
	if counters.ResyncsRequested == 0 {
		t.Fatal("no resync was requested")
	}
	if hostOpts.Telemetry.SnapshotCounters().ResyncsServed == 0 {
		t.Fatal("host served no resync")
	}
}

func TestChecksumProbeRepairsDesync(t *testing.T) {
	mesh := memory.NewMesh()
	hostPeer := mesh.Join("host")
	alicePeer := mesh.Join("alice")

	host, err := NewHost(duelDefinition(), hostPeer, duelOptions("session-1"))
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	aliceOpts := duelOptions("session-1")
	alice, err := NewClient(duelDefinition(), alicePeer, aliceOpts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	host.Step()

	// Corrupt an untouched field of the client's confirmed tree. Diffs keep
	// applying cleanly, so only the checksum probe can catch it.
	players := alice.sync.State()["players"].(map[string]any)
	players["alice"].(map[string]any)["y"] = 999.0

	host.Step()
	host.Step()

	counters := aliceOpts.Telemetry.SnapshotCounters()
	if counters.Desyncs == 0 {
		t.Fatal("checksum probe did not flag the desync")
	}
	if counters.ResyncsRequested == 0 {
		t.Fatal("desync did not request a resync")
	}
	if state.Checksum(alice.sync.State()) != state.Checksum(host.State()) {
		t.Fatal("snapshot resync did not repair the client")
	}
	if y, _ := treeNumber(alice.State(), "players", "alice", "y"); y != 0 {
		t.Fatalf("corrupted field survived the resync: y = %v", y)
	}
}

func TestWarmStandbyPromotion(t *testing.T) {
	mesh := memory.NewMesh()
	hostPeer := mesh.Join("host")
	alicePeer := mesh.Join("alice")
	bobPeer := mesh.Join("bob")

	opts := duelOptions("session-1")
	opts.HeartbeatInterval = time.Nanosecond
	host, err := NewHost(duelDefinition(), hostPeer, opts)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	aliceOpts := duelOptions("session-1")
	aliceOpts.HeartbeatInterval = time.Nanosecond
	alice, err := NewClient(duelDefinition(), alicePeer, aliceOpts)
	if err != nil {
		t.Fatalf("NewClient alice: %v", err)
	}
	bobOpts := duelOptions("session-1")
	bobOpts.HeartbeatInterval = time.Nanosecond
	bob, err := NewClient(duelDefinition(), bobPeer, bobOpts)
	if err != nil {
		t.Fatalf("NewClient bob: %v", err)
	}

	for i := 0; i < 10; i++ {
		host.Step()
	}
	lastTick := host.Tick()
	lastSum := state.Checksum(host.State())
	if !alice.StandbyReady() {
		t.Fatal("alice is not standby-ready despite snapshots and heartbeats")
	}

	var promoted *Host
	alice.OnPromote(func(h *Host) { promoted = h })

	host.Close()
	mesh.Leave("host")

	for i := 0; i < 2; i++ {
		if alice.CheckHeartbeat() {
			t.Fatalf("promoted after %d missed heartbeats", i+1)
		}
	}
	if !alice.CheckHeartbeat() {
		t.Fatal("alice did not promote at the missed-heartbeat limit")
	}
	if promoted == nil {
		t.Fatal("promotion callback not invoked")
	}
	if promoted.Tick() != lastTick {
		t.Fatalf("promoted host resumed at tick %d, want %d", promoted.Tick(), lastTick)
	}
	if state.Checksum(promoted.State()) != lastSum {
		t.Fatal("replayed state does not match the failed host's final state")
	}
	if aliceOpts.Telemetry.SnapshotCounters().Promotions != 1 {
		t.Fatal("promotion counter not recorded")
	}

	// Bob heard the migration broadcast and follows the new tenure.
	if bob.Role() != election.RoleClient {
		t.Fatalf("bob role = %s, want client", bob.Role())
	}
	if bob.machine.HostID() != "alice" {
		t.Fatalf("bob follows %q, want alice", bob.machine.HostID())
	}
	if state.Checksum(bob.State()) != lastSum {
		t.Fatal("bob did not adopt the migration snapshot")
	}

	promoted.Step()
	if got, want := bob.Revision(), promoted.Revision(); got != want {
		t.Fatalf("bob revision = %d, new host revision = %d", got, want)
	}
	if state.Checksum(bob.State()) != state.Checksum(promoted.State()) {
		t.Fatal("bob diverged from the promoted host")
	}
}

func TestWelcomeAdoptsHostSession(t *testing.T) {
	mesh := memory.NewMesh()
	hostPeer := mesh.Join("host")
	alicePeer := mesh.Join("alice")

	// Heartbeats are rare, so the welcome itself must carry the tenure.
	hostOpts := duelOptions("session-1")
	hostOpts.HeartbeatInterval = time.Second
	host, err := NewHost(duelDefinition(), hostPeer, hostOpts)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	aliceOpts := duelOptions("session-1")
	aliceOpts.HeartbeatInterval = time.Second
	alice, err := NewClient(duelDefinition(), alicePeer, aliceOpts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	host.Step()

	if alice.sessionID != host.SessionID() {
		t.Fatalf("client session %q after welcome, host session %q", alice.sessionID, host.SessionID())
	}

	if res := alice.Dispatch("move", map[string]any{"dx": 5.0, "dy": 0.0}); res.Rejected() {
		t.Fatalf("move rejected: %s", res.Reason)
	}
	pred := alice.pred

	// Step far enough to cross the first heartbeat; predictions made before
	// it must survive, since the tenure was already adopted at join.
	for i := 0; i < 16; i++ {
		host.Step()
	}

	if alice.pred != pred {
		t.Fatal("first heartbeat rebuilt the prediction engine")
	}
	if alice.pred.PendingCount() != 0 {
		t.Fatalf("pending predictions = %d, want 0", alice.pred.PendingCount())
	}
	if x, _ := treeNumber(host.State(), "players", "alice", "x"); x != 5 {
		t.Fatalf("host x = %v, want 5", x)
	}
	if state.Checksum(alice.State()) != state.Checksum(host.State()) {
		t.Fatal("client diverged from host")
	}
}

func TestPromotionRequestsPeerStateWhenReplicaNotReady(t *testing.T) {
	mesh := memory.NewMesh()
	hostPeer := mesh.Join("host")
	alicePeer := mesh.Join("alice")
	bobPeer := mesh.Join("bob")

	hostOpts := duelOptions("session-1")
	hostOpts.HeartbeatInterval = time.Nanosecond
	host, err := NewHost(duelDefinition(), hostPeer, hostOpts)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	aliceOpts := duelOptions("session-1")
	aliceOpts.HeartbeatInterval = time.Nanosecond
	alice, err := NewClient(duelDefinition(), alicePeer, aliceOpts)
	if err != nil {
		t.Fatalf("NewClient alice: %v", err)
	}
	bobOpts := duelOptions("session-1")
	bobOpts.HeartbeatInterval = time.Nanosecond
	bob, err := NewClient(duelDefinition(), bobPeer, bobOpts)
	if err != nil {
		t.Fatalf("NewClient bob: %v", err)
	}

	for i := 0; i < 8; i++ {
		host.Step()
	}

	// Alice stops seeing replication while Bob keeps a full replica. Bob's
	// confirmed move never reaches Alice's sync state, only his standby log.
	mesh.DropFilter = func(msg proto.Message, from, to string) bool {
		if to != "alice" {
			return false
		}
		return msg.Kind == proto.KindDiff || msg.Kind == proto.KindSnapshot || msg.Kind == proto.KindChecksum
	}
	if res := bob.Dispatch("move", map[string]any{"dx": 7.0, "dy": 0.0}); res.Rejected() {
		t.Fatalf("move rejected: %s", res.Reason)
	}
	for i := 0; i < 3; i++ {
		host.Step()
	}
	mesh.DropFilter = nil
	lastTick := host.Tick()
	lastSum := state.Checksum(host.State())

	host.Close()
	mesh.Leave("host")
	alice.replica.Reset()
	if alice.StandbyReady() {
		t.Fatal("alice replica should not be ready after reset")
	}

	var promoted *Host
	alice.OnPromote(func(h *Host) { promoted = h })

	// Two misses, then the winning check requests peer state instead of
	// promoting from stale local data.
	for i := 0; i < 3; i++ {
		if alice.CheckHeartbeat() {
			t.Fatalf("promoted on check %d before any peer answered", i+1)
		}
	}
	if aliceOpts.Telemetry.SnapshotCounters().ResyncsRequested == 0 {
		t.Fatal("winner never asked peers for state")
	}
	if bobOpts.Telemetry.SnapshotCounters().ResyncsServed == 0 {
		t.Fatal("bob never served his replica")
	}
	if !alice.CheckHeartbeat() {
		t.Fatal("alice did not promote after the peer answered")
	}
	if promoted == nil {
		t.Fatal("promotion callback not invoked")
	}
	if promoted.Tick() != lastTick {
		t.Fatalf("promoted host resumed at tick %d, want %d", promoted.Tick(), lastTick)
	}
	if state.Checksum(promoted.State()) != lastSum {
		t.Fatal("promoted state lost confirmed actions the peer replica held")
	}
}

func TestMalformedEnvelopesAreDropped(t *testing.T) {
	mesh := memory.NewMesh()
	hostPeer := mesh.Join("host")
	alicePeer := mesh.Join("alice")

	host, err := NewHost(duelDefinition(), hostPeer, duelOptions("session-1"))
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	alice, err := NewClient(duelDefinition(), alicePeer, duelOptions("session-1"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	host.Step()

	// Envelopes whose payload does not match the kind must be discarded at
	// the boundary, not dereferenced.
	host.handleMessage(proto.Message{Kind: proto.KindAction}, "alice")
	host.handleMessage(proto.Message{Kind: proto.KindHeartbeat}, "alice")
	host.handleMessage(proto.Message{Kind: proto.KindHostMigration}, "alice")
	alice.handleMessage(proto.Message{Kind: proto.KindDiff}, "host")
	alice.handleMessage(proto.Message{Kind: proto.KindSnapshot}, "host")
	alice.handleMessage(proto.Message{Kind: proto.KindHeartbeat}, "host")
	alice.handleMessage(proto.Message{Kind: "bogus"}, "host")

	host.Step()
	if host.Closed() {
		t.Fatal("host stopped serving after malformed input")
	}
	if state.Checksum(alice.State()) != state.Checksum(host.State()) {
		t.Fatal("runtimes diverged after malformed input")
	}
}

func TestRivalHostYieldsToOlderSession(t *testing.T) {
	mesh := memory.NewMesh()
	aPeer := mesh.Join("host-a")
	bPeer := mesh.Join("host-b")

	hostA, err := NewHost(duelDefinition(), aPeer, duelOptions("session-a"))
	if err != nil {
		t.Fatalf("NewHost a: %v", err)
	}
	hostB, err := NewHost(duelDefinition(), bPeer, duelOptions("session-b"))
	if err != nil {
		t.Fatalf("NewHost b: %v", err)
	}

	var deposedWinner string
	hostB.OnDeposed(func(winnerID string) { deposedWinner = winnerID })

	hostA.Step()

	if !hostB.Closed() {
		t.Fatal("host-b kept serving against an older tenure")
	}
	if deposedWinner != "host-a" {
		t.Fatalf("deposed winner = %q, want host-a", deposedWinner)
	}
	if hostA.Closed() {
		t.Fatal("host-a yielded to a younger tenure")
	}

	tick := hostB.Tick()
	hostB.Step()
	if hostB.Tick() != tick {
		t.Fatal("deposed host advanced its simulation")
	}
}

func treeNumber(tree state.Tree, path ...string) (float64, bool) {
	var node any = map[string]any(tree)
	for _, key := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return 0, false
		}
		node = m[key]
	}
	n, ok := node.(float64)
	return n, ok
}
