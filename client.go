package netplay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"netplay/election"
	"netplay/game"
	"netplay/logging"
	"netplay/logging/lifecycle"
	"netplay/logging/replication"
	"netplay/predict"
	"netplay/proto"
	"netplay/sim"
	"netplay/standby"
	"netplay/state"
	"netplay/syncer"
	"netplay/telemetry"
	"netplay/ticksync"
	"netplay/transport"
)

// Update describes one change to the client-visible state.
type Update struct {
	Tick       uint64
	Revision   uint64
	Predicted  bool
	RolledBack bool
	// Changed lists the patch paths a confirmed diff touched; nil for
	// predicted updates and snapshot adoptions, which replace wholesale.
	Changed [][]string
	State   state.Tree
}

// Client is the non-authoritative runtime: it predicts its own actions,
// reconciles against host diffs, replicates the host's queue as a warm
// standby, and promotes itself when an election says so. Like the host it
// queues outbound messages and callbacks under the lock and flushes them
// after release.
type Client struct {
	mu sync.Mutex

	opts Options
	def  *game.Definition
	tr   transport.Transport

	exec    *sim.Executor
	sync    *syncer.Synchronizer
	pred    *predict.Engine
	clock   *ticksync.Clock
	det     *ticksync.Detector
	machine *election.Machine
	replica *standby.Replica
	policy  *syncer.ResyncPolicy

	pub    logging.Publisher
	tel    *telemetry.Counters
	unsubs []transport.Unsubscribe

	joined        bool
	sessionID     string
	lastBeat      time.Time
	latency       time.Duration
	resyncPending bool
	resyncSentAt  time.Time
	joinSentAt    time.Time
	closed        bool

	promoPending  bool
	promoDeadline time.Time
	promoSnap     *syncer.WireSnapshot
	promoQueue    []sim.QueuedAction

	outbox  []outMsg
	updates []Update

	onChange  func(Update)
	onPromote func(*Host)
}

// NewClient joins the session: it announces itself to the host and waits
// for the welcome snapshot before predictions are accepted.
func NewClient(def *game.Definition, tr transport.Transport, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	pub := logging.WithFields(opts.Publisher, map[string]any{"peerId": tr.PlayerID()})
	c := &Client{
		opts:     opts,
		def:      def,
		tr:       tr,
		exec:     sim.NewExecutor(def, opts.SessionSeed, opts.TickDuration(), pub),
		sync:     syncer.New(state.Tree{}, opts.MaxDiffGap),
		clock:    ticksync.NewClock(opts.TickDuration(), opts.MaxPredictionFrames),
		det:      ticksync.NewDetector(opts.ChecksumIntervalTicks),
		machine:  election.NewMachine(tr.PlayerID(), "", false, opts.MissedHeartbeatLimit),
		replica:  standby.NewReplica(),
		policy:   syncer.NewResyncPolicy(),
		pub:      pub,
		tel:      opts.Telemetry,
		lastBeat: time.Now(),
	}
	c.exec.SetRole(logging.PeerRoleClient)
	c.pred = predict.New(state.Tree{}, c.exec, opts.MaxRollbackTicks)
	c.unsubs = append(c.unsubs, tr.OnMessage(c.handleMessage))

	c.joinSentAt = time.Now()
	if err := c.sendNow(proto.Message{
		Kind: proto.KindJoin,
		Join: &proto.JoinPayload{PlayerID: tr.PlayerID()},
	}, transport.Broadcast); err != nil {
		return nil, err
	}
	return c, nil
}

// OnChange registers the state-change callback, invoked with the predicted
// tree after every local prediction, applied diff, or rollback.
func (c *Client) OnChange(fn func(Update)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// OnPromote registers the callback invoked with the new Host when this peer
// wins an election. The client stops processing once promoted.
func (c *Client) OnPromote(fn func(*Host)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPromote = fn
}

// OnError forwards transport-level errors to fn.
func (c *Client) OnError(fn func(error)) transport.Unsubscribe {
	return c.tr.OnError(fn)
}

// Latency returns the last measured round trip to the host.
func (c *Client) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// Role reports this peer's current authority role.
func (c *Client) Role() election.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Role()
}

// State returns the predicted tree. Callers must treat it as read-only.
func (c *Client) State() state.Tree {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pred.State()
}

// Tick returns the local (possibly predicted-ahead) tick.
func (c *Client) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.LocalTick()
}

// Revision returns the confirmed replication revision.
func (c *Client) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sync.Revision()
}

// Joined reports whether the welcome snapshot has arrived.
func (c *Client) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

// StandbyReady reports whether this peer could promote without data loss.
func (c *Client) StandbyReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replica.Ready()
}

// Dispatch predicts an action locally and, when the prediction passes
// validation, sends it to the host. Rejections are immediate and local.
func (c *Client) Dispatch(name string, payload map[string]any) sim.Result {
	c.mu.Lock()
	if !c.joined || c.closed {
		c.mu.Unlock()
		return sim.Reject(sim.RejectPlayerNotFound)
	}
	action := sim.QueuedAction{
		Name:      name,
		Payload:   payload,
		PlayerID:  c.tr.PlayerID(),
		Tick:      c.clock.LocalTick() + 1,
		Timestamp: time.Now().UnixMilli(),
	}
	result := c.pred.PredictAction(action)
	if result.Rejected() {
		c.mu.Unlock()
		return result
	}
	c.queueLocked(proto.Message{Kind: proto.KindAction, Action: &action}, c.machine.HostID())
	c.emitLocked(Update{
		Tick:      action.Tick,
		Revision:  c.sync.Revision(),
		Predicted: true,
		State:     c.pred.State(),
	})
	c.unlockAndFlush()
	return result
}

// Run advances the local clock and watches host heartbeats until the
// context ends or the peer promotes.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.TickDuration())
	watchdog := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	defer watchdog.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.stepLocal()
		case <-watchdog.C:
			if c.CheckHeartbeat() {
				return nil
			}
		}
	}
}

// Close leaves the session politely.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	c.sendNow(proto.Message{
		Kind:  proto.KindLeave,
		Leave: &proto.LeavePayload{PlayerID: c.tr.PlayerID(), Reason: "leave"},
	}, transport.Broadcast)
	for _, unsub := range unsubs {
		unsub()
	}
}

// stepLocal runs one predicted frame: advance the clamped clock and run
// predict-enabled systems.
func (c *Client) stepLocal() {
	c.mu.Lock()
	if c.closed || !c.joined {
		c.mu.Unlock()
		return
	}
	if c.clock.Advance() {
		c.pred.RunSystems(c.clock.LocalTick())
		c.emitLocked(Update{
			Tick:      c.clock.LocalTick(),
			Revision:  c.sync.Revision(),
			Predicted: true,
			State:     c.pred.State(),
		})
	}
	c.unlockAndFlush()
}

// CheckHeartbeat runs the watchdog once; true means this peer promoted and
// the client loop should stop. Exposed so transports without a background
// Run loop can drive it.
func (c *Client) CheckHeartbeat() bool {
	c.mu.Lock()
	if c.machine.Role() == election.RoleHost {
		c.mu.Unlock()
		return true
	}
	if c.closed || !c.joined {
		c.mu.Unlock()
		return false
	}
	if c.promoPending {
		if c.promoSnap == nil && time.Now().Before(c.promoDeadline) {
			c.mu.Unlock()
			return false
		}
		return c.promoteLocked()
	}
	if time.Since(c.lastBeat) < c.opts.HeartbeatInterval {
		c.mu.Unlock()
		return false
	}
	if !c.machine.MissHeartbeat() {
		c.mu.Unlock()
		return false
	}
	lifecycle.ElectionStarted(context.Background(), c.pub, c.clock.HostTick(), c.selfRef())
	if !c.machine.SelfWins(c.tr.PeerIDs()) {
		// The winner announces itself; keep waiting for the migration.
		c.mu.Unlock()
		return false
	}
	if c.replica.Ready() {
		return c.promoteLocked()
	}
	c.beginPromotionLocked()
	return false
}

// beginPromotionLocked asks the surviving standbys for their replicated state
// before taking over without a ready replica of its own. Promotion proceeds
// once a response arrives, or from local confirmed state after the deadline.
// Called with the mutex held; releases it.
func (c *Client) beginPromotionLocked() {
	c.promoPending = true
	c.promoDeadline = time.Now().Add(c.opts.HeartbeatInterval)
	c.tel.IncrementResyncRequested()
	replication.ResyncRequested(context.Background(), c.pub, c.sync.Tick(), c.selfRef(), replication.ResyncPayload{
		Reason:        string(syncer.ReasonStandbyNotReady),
		RequesterID:   c.tr.PlayerID(),
		LastKnownTick: c.sync.Tick(),
	})
	c.queueLocked(proto.Message{
		Kind: proto.KindResyncRequest,
		ResyncRequest: &proto.ResyncRequest{
			RequesterID:       c.tr.PlayerID(),
			LastKnownTick:     c.sync.Tick(),
			LastKnownRevision: c.sync.Revision(),
			Reason:            string(syncer.ReasonStandbyNotReady),
		},
	}, transport.Broadcast)
	c.unlockAndFlush()
}

// promoteLocked rebuilds the authoritative state from the warm-standby
// replica, replays the confirmed queue, and announces the new host tenure.
// Called with the mutex held; releases it.
func (c *Client) promoteLocked() bool {
	snap, queue, ok := c.replica.LoadWarmStandby()
	if !ok && c.promoSnap != nil && c.promoSnap.Tick >= c.sync.Tick() {
		// A surviving standby answered with fresher replicated state.
		snap, queue, ok = *c.promoSnap, c.promoQueue, true
	}
	if !ok {
		// No trustworthy replica anywhere; fall back to the confirmed sync
		// state.
		snap = c.sync.SnapshotWire()
		queue = nil
	}
	c.clearPromotionLocked()
	through := c.clock.HostTick()
	tree, tick := replayConfirmed(c.exec, snap, queue, through)

	hostOpts := c.opts
	hostOpts.SessionID = uuid.NewString()
	hostOpts.SessionSeed = seedFromSession(hostOpts.SessionID)
	host, err := newHostWithState(c.def, c.tr, hostOpts, tree, tick)
	if err != nil {
		c.mu.Unlock()
		return false
	}
	oldHost := c.machine.HostID()
	// The new tenure's session id is what a split-brain comparison must use.
	c.sessionID = hostOpts.SessionID
	c.machine = election.NewMachine(c.tr.PlayerID(), hostOpts.SessionID, true, c.opts.MissedHeartbeatLimit)
	c.machine.AdoptHost(c.tr.PlayerID())
	c.closed = true
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
	c.tel.IncrementStandbyPromotion()
	lifecycle.HostMigrated(context.Background(), c.pub, tick,
		logging.PeerRef{ID: c.tr.PlayerID(), Role: logging.PeerRoleHost},
		lifecycle.MigrationPayload{NewHost: c.tr.PlayerID(), OldHost: oldHost})

	ws := host.sync.SnapshotWire()
	migration := proto.MigrationPayload{
		NewHost:     c.tr.PlayerID(),
		SessionID:   hostOpts.SessionID,
		Snapshot:    &ws,
		ActionQueue: queue,
	}
	onPromote := c.onPromote
	c.mu.Unlock()

	c.sendNow(proto.Message{Kind: proto.KindHostMigration, Migration: &migration}, transport.Broadcast)
	if onPromote != nil {
		onPromote(host)
	}
	return true
}

func (c *Client) handleMessage(msg proto.Message, senderID string) {
	if err := msg.Validate(); err != nil {
		c.pub.Publish(context.Background(), logging.Event{
			Type:     "proto.invalid_message",
			Severity: logging.SeverityWarn,
			Category: logging.CategoryReplication,
			Peer:     logging.PeerRef{ID: senderID, Role: logging.PeerRoleUnknown},
			Extra:    map[string]any{"error": err.Error(), "kind": string(msg.Kind)},
		})
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	switch msg.Kind {
	case proto.KindJoin:
		c.handleWelcomeLocked(*msg.Join, senderID)
	case proto.KindDiff:
		c.handleDiffLocked(*msg.Diff, senderID)
	case proto.KindSnapshot:
		c.replica.StoreSnapshot(*msg.Snapshot)
	case proto.KindHeartbeat:
		c.handleHeartbeatLocked(*msg.Heartbeat, senderID)
	case proto.KindChecksum:
		c.handleChecksumLocked(*msg.Checksum, senderID)
	case proto.KindActionRejected:
		c.handleRejectedLocked(*msg.Rejected)
	case proto.KindHostMigration:
		c.handleMigrationLocked(*msg.Migration, senderID)
	case proto.KindResyncRequest:
		c.handleResyncRequestLocked(*msg.ResyncRequest, senderID)
	case proto.KindResyncResponse:
		c.handleResyncResponseLocked(*msg.ResyncResponse)
	}
	c.unlockAndFlush()
}

func (c *Client) handleWelcomeLocked(join proto.JoinPayload, senderID string) {
	if join.PlayerID != c.tr.PlayerID() || join.Snapshot == nil {
		return
	}
	c.latency = time.Since(c.joinSentAt)
	// Seed from the welcoming tenure now; the first heartbeat then confirms
	// the same session instead of resetting predictions.
	c.adoptSessionLocked(join.SessionID, senderID)
	c.sync.AdoptSnapshot(*join.Snapshot)
	c.pred.Adopt(join.Snapshot.Tick, c.sync.State())
	c.clock.ObserveAuthoritative(join.HostTick, c.latency/2)
	c.det.NoteLocal(c.sync.Revision(), c.sync.Checksum())
	c.joined = true
	c.lastBeat = time.Now()
	c.emitLocked(Update{
		Tick:     join.HostTick,
		Revision: c.sync.Revision(),
		State:    c.pred.State(),
	})
}

func (c *Client) handleDiffLocked(d syncer.WireDiff, senderID string) {
	if !c.joined {
		return
	}
	skippedBefore := c.sync.SkippedPatches()
	outcome, err := c.sync.ApplyDiff(d)
	if err != nil {
		c.requestResyncLocked(syncer.ReasonPatchFailure)
		return
	}
	switch outcome {
	case syncer.OutcomeStale:
		return
	case syncer.OutcomeBuffered:
		c.tel.IncrementDiffBuffered()
		replication.DiffBuffered(context.Background(), c.pub, d.Tick, c.sync.Revision(), d.BaseRevision, c.peerRef(senderID))
		c.requestResyncLocked(syncer.ReasonRevisionMismatch)
		return
	}

	skipped := c.sync.SkippedPatches() - skippedBefore
	for i := 0; i < skipped; i++ {
		c.tel.IncrementPatchSkipped()
	}
	c.policy.NotePatches(len(d.Patches)-skipped, skipped)
	if reason, ok := c.policy.Consume(); ok {
		c.requestResyncLocked(reason)
	}
	c.det.NoteLocal(c.sync.Revision(), c.sync.Checksum())

	rec := c.pred.Reconcile(d.Tick, c.sync.State())
	rolled := rec.RolledBack || rec.WindowExceeded
	if rolled {
		c.tel.IncrementRollback()
		lifecycle.Rollback(context.Background(), c.pub, d.Tick, c.selfRef(), lifecycle.RollbackPayload{
			FromTick: d.Tick,
			Replayed: rec.Replayed,
			Dropped:  len(rec.Dropped),
		})
	}
	changed := make([][]string, 0, len(d.Patches))
	for _, patch := range d.Patches {
		changed = append(changed, patch.Path)
	}
	c.emitLocked(Update{
		Tick:       d.Tick,
		Revision:   c.sync.Revision(),
		RolledBack: rolled,
		Changed:    changed,
		State:      c.pred.State(),
	})
}

func (c *Client) handleHeartbeatLocked(hb standby.Heartbeat, senderID string) {
	c.lastBeat = time.Now()
	c.clearPromotionLocked()
	c.machine.ObserveHeartbeat(senderID)
	c.adoptSessionLocked(hb.SessionID, senderID)
	if !c.replica.ApplyHeartbeat(hb) {
		c.tel.IncrementChecksumMismatch()
		replication.QueueChecksumMismatch(context.Background(), c.pub, hb.Tick, c.peerRef(senderID), replication.ChecksumPayload{
			Remote: hb.QueueChecksum,
		})
	}
	if c.joined {
		c.clock.ObserveAuthoritative(hb.Tick, c.latency/2)
	}
}

func (c *Client) handleChecksumLocked(payload proto.ChecksumPayload, senderID string) {
	desynced, comparable := c.det.Check(payload.Revision, payload.Checksum)
	if !comparable || !desynced {
		return
	}
	c.tel.IncrementDesync()
	replication.DesyncDetected(context.Background(), c.pub, payload.Tick, c.peerRef(senderID), replication.ChecksumPayload{
		Local:  c.det.Local(),
		Remote: payload.Checksum,
	})
	c.requestResyncLocked(syncer.ReasonDesync)
}

func (c *Client) handleRejectedLocked(rej proto.ActionRejected) {
	c.tel.IncrementActionRejected()
	lifecycle.ActionRejected(context.Background(), c.pub, rej.Tick, c.selfRef(), lifecycle.RejectionPayload{
		Action: rej.ActionName,
		Reason: rej.Reason,
	})
	outcome := c.pred.DropRejected(rej.ActionName, rej.Tick, c.sync.State())
	if outcome.RolledBack {
		c.emitLocked(Update{
			Tick:       c.pred.ConfirmedTick(),
			Revision:   c.sync.Revision(),
			RolledBack: true,
			State:      c.pred.State(),
		})
	}
}

// handleMigrationLocked adopts the announced host, or resolves a split brain
// when this peer promoted concurrently: the older session keeps authority.
func (c *Client) handleMigrationLocked(m proto.MigrationPayload, senderID string) {
	if c.machine.Role() == election.RoleHost && !c.machine.StandDown(m.SessionID) {
		return
	}
	c.machine.AdoptHost(m.NewHost)
	c.adoptSessionLocked(m.SessionID, m.NewHost)
	c.replica.Reset()
	c.lastBeat = time.Now()
	c.resyncPending = false
	c.clearPromotionLocked()
	if m.Snapshot != nil {
		c.sync.AdoptSnapshot(*m.Snapshot)
		c.pred.Adopt(m.Snapshot.Tick, c.sync.State())
		c.clock.ObserveAuthoritative(m.Snapshot.Tick, 0)
		c.det.NoteLocal(c.sync.Revision(), c.sync.Checksum())
		c.joined = true
	}
	lifecycle.HostMigrated(context.Background(), c.pub, c.sync.Tick(),
		logging.PeerRef{ID: m.NewHost, Role: logging.PeerRoleHost},
		lifecycle.MigrationPayload{NewHost: m.NewHost})
	c.emitLocked(Update{
		Tick:     c.sync.Tick(),
		Revision: c.sync.Revision(),
		State:    c.pred.State(),
	})
}

// handleResyncRequestLocked answers an election winner whose own replica was
// not ready from this peer's warm standby. Every other resync reason is the
// host's to serve.
func (c *Client) handleResyncRequestLocked(req proto.ResyncRequest, senderID string) {
	if req.Reason != string(syncer.ReasonStandbyNotReady) {
		return
	}
	snap, queue, ok := c.replica.LoadWarmStandby()
	if !ok {
		return
	}
	c.tel.IncrementResyncServed()
	replication.ResyncServed(context.Background(), c.pub, snap.Tick, c.peerRef(senderID), replication.ResyncPayload{
		Reason:      req.Reason,
		RequesterID: req.RequesterID,
	})
	c.queueLocked(proto.Message{
		Kind:           proto.KindResyncResponse,
		ResyncResponse: &proto.ResyncResponse{Snapshot: &snap, ActionQueue: queue},
	}, senderID)
}

func (c *Client) handleResyncResponseLocked(resp proto.ResyncResponse) {
	if c.promoPending {
		// Keep the freshest standby answer for the pending takeover.
		if resp.Snapshot != nil && (c.promoSnap == nil || resp.Snapshot.Tick > c.promoSnap.Tick) {
			snap := *resp.Snapshot
			c.promoSnap = &snap
			c.promoQueue = resp.ActionQueue
		}
		return
	}
	c.resyncPending = false
	if !c.resyncSentAt.IsZero() {
		c.latency = time.Since(c.resyncSentAt)
	}
	if resp.Snapshot != nil {
		c.sync.AdoptSnapshot(*resp.Snapshot)
		c.pred.Adopt(c.sync.Tick(), c.sync.State())
		c.det.NoteLocal(c.sync.Revision(), c.sync.Checksum())
		c.emitLocked(Update{
			Tick:       c.sync.Tick(),
			Revision:   c.sync.Revision(),
			RolledBack: true,
			State:      c.pred.State(),
		})
		return
	}
	for _, d := range resp.DiffsSince {
		c.handleDiffLocked(d, c.machine.HostID())
	}
}

func (c *Client) requestResyncLocked(reason syncer.ResyncReason) {
	if c.resyncPending {
		return
	}
	c.resyncPending = true
	c.resyncSentAt = time.Now()
	c.tel.IncrementResyncRequested()
	replication.ResyncRequested(context.Background(), c.pub, c.sync.Tick(), c.selfRef(), replication.ResyncPayload{
		Reason:        string(reason),
		RequesterID:   c.tr.PlayerID(),
		LastKnownTick: c.sync.Tick(),
	})
	c.queueLocked(proto.Message{
		Kind: proto.KindResyncRequest,
		ResyncRequest: &proto.ResyncRequest{
			RequesterID:       c.tr.PlayerID(),
			LastKnownTick:     c.sync.Tick(),
			LastKnownRevision: c.sync.Revision(),
			Reason:            string(reason),
		},
	}, c.machine.HostID())
}

// adoptSessionLocked reseeds the deterministic executor when the host tenure
// changes. Pending predictions do not survive a tenure change.
func (c *Client) adoptSessionLocked(sessionID, hostID string) {
	if sessionID == "" || sessionID == c.sessionID {
		return
	}
	c.sessionID = sessionID
	c.machine = election.NewMachine(c.tr.PlayerID(), sessionID, false, c.opts.MissedHeartbeatLimit)
	c.machine.AdoptHost(hostID)
	c.exec = sim.NewExecutor(c.def, seedFromSession(sessionID), c.opts.TickDuration(), c.pub)
	c.exec.SetRole(logging.PeerRoleClient)
	c.pred = predict.New(c.sync.State(), c.exec, c.opts.MaxRollbackTicks)
}

func (c *Client) clearPromotionLocked() {
	c.promoPending = false
	c.promoSnap = nil
	c.promoQueue = nil
}

func (c *Client) queueLocked(msg proto.Message, target string) {
	c.outbox = append(c.outbox, outMsg{msg: msg, target: target})
}

func (c *Client) emitLocked(update Update) {
	if c.onChange != nil {
		c.updates = append(c.updates, update)
	}
}

// unlockAndFlush releases the mutex, then delivers queued messages and
// callbacks. Callbacks may re-enter the client freely.
func (c *Client) unlockAndFlush() {
	out := c.outbox
	updates := c.updates
	fn := c.onChange
	c.outbox = nil
	c.updates = nil
	c.mu.Unlock()
	for _, o := range out {
		c.sendNow(o.msg, o.target)
	}
	if fn != nil {
		for _, u := range updates {
			fn(u)
		}
	}
}

func (c *Client) sendNow(msg proto.Message, targetID string) error {
	msg.Ver = proto.Version
	msg.SenderID = c.tr.PlayerID()
	return c.tr.Send(msg, targetID)
}

func (c *Client) selfRef() logging.PeerRef {
	role := logging.PeerRoleClient
	switch c.machine.Role() {
	case election.RoleHost:
		role = logging.PeerRoleHost
	case election.RoleElecting:
		role = logging.PeerRoleStandby
	}
	return logging.PeerRef{ID: c.tr.PlayerID(), Role: role}
}

func (c *Client) peerRef(id string) logging.PeerRef {
	role := logging.PeerRoleClient
	if id == c.machine.HostID() {
		role = logging.PeerRoleHost
	}
	return logging.PeerRef{ID: id, Role: role}
}

// replayConfirmed rebuilds the authoritative tree from a snapshot plus the
// confirmed action log, running systems for every tick through the last one
// the failed host was known to reach. The replay uses the same ordering and
// seeding as the original host, so the result matches what it had.
func replayConfirmed(exec *sim.Executor, snap syncer.WireSnapshot, queue []sim.QueuedAction, through uint64) (state.Tree, uint64) {
	tree := state.CloneTree(snap.State)
	sim.SortForTick(queue)
	last := snap.Tick
	for _, action := range queue {
		if action.Tick > last {
			last = action.Tick
		}
	}
	if through > last {
		last = through
	}
	i := 0
	for tick := snap.Tick + 1; tick <= last; tick++ {
		for i < len(queue) && queue[i].Tick == tick {
			exec.Execute(tree, queue[i])
			i++
		}
		exec.RunSystems(tree, tick, false)
	}
	return tree, last
}
