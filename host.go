package netplay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"netplay/game"
	"netplay/logging"
	"netplay/logging/lifecycle"
	"netplay/logging/replication"
	"netplay/proto"
	"netplay/sim"
	"netplay/standby"
	"netplay/state"
	"netplay/syncer"
	"netplay/telemetry"
	"netplay/transport"
)

// Host owns the authoritative simulation: it validates and orders actions,
// steps systems, broadcasts diffs, replicates its queue to standbys, and
// serves resyncs. All state sits behind the mutex; outbound messages are
// queued under the lock and flushed after it is released, so a transport
// that delivers synchronously can never re-enter the runtime mid-step.
type Host struct {
	mu sync.Mutex

	opts Options
	def  *game.Definition
	tr   transport.Transport
	exec *sim.Executor
	sync *syncer.Synchronizer
	prod *standby.Producer

	tick    uint64
	queue   []sim.QueuedAction
	joins   []string
	leaves  []leaveNote
	welcome []string
	outbox  []outMsg

	pub       logging.Publisher
	tel       *telemetry.Counters
	unsubs    []transport.Unsubscribe
	hbTicks   int
	sinceBeat int
	closed    bool

	onDeposed func(winnerID string)
	yieldedTo string
	onJoin    func(playerID string)
	onLeave   func(playerID string)
	notify    []func()
}

type leaveNote struct {
	playerID string
	reason   string
}

type outMsg struct {
	msg     proto.Message
	target  string
	patches int
}

// NewHost sets the game up for the current room membership and starts
// serving as authority. Setup failure aborts creation; nothing is broadcast.
func NewHost(def *game.Definition, tr transport.Transport, opts Options) (*Host, error) {
	opts = opts.withDefaults()
	players := append(tr.PeerIDs(), tr.PlayerID())
	tree, err := def.Setup(players, 0)
	if err != nil {
		return nil, fmt.Errorf("setup %q: %w", def.Name, err)
	}
	return newHostWithState(def, tr, opts, tree, 0)
}

// newHostWithState resumes authority over an existing tree, used by standby
// promotion.
func newHostWithState(def *game.Definition, tr transport.Transport, opts Options, tree state.Tree, tick uint64) (*Host, error) {
	opts = opts.withDefaults()
	pub := logging.WithFields(opts.Publisher, map[string]any{"sessionId": opts.SessionID})
	h := &Host{
		opts: opts,
		def:  def,
		tr:   tr,
		exec: sim.NewExecutor(def, opts.SessionSeed, opts.TickDuration(), pub),
		sync: syncer.New(tree, opts.MaxDiffGap),
		prod: standby.NewProducer(opts.SessionID),
		tick: tick,
		pub:  pub,
		tel:  opts.Telemetry,
	}
	h.exec.SetRole(logging.PeerRoleHost)
	h.hbTicks = int(opts.HeartbeatInterval / opts.TickDuration())
	if h.hbTicks < 1 {
		h.hbTicks = 1
	}
	h.unsubs = append(h.unsubs,
		tr.OnMessage(h.handleMessage),
		tr.OnPeerLeave(h.notePeerLeave),
	)
	return h, nil
}

// SessionID identifies this host tenure.
func (h *Host) SessionID() string { return h.opts.SessionID }

// OnDeposed registers the callback invoked when this host yields authority
// to a concurrent tenure. The caller should rejoin the session as a client.
func (h *Host) OnDeposed(fn func(winnerID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDeposed = fn
}

// OnPlayerJoin registers a callback invoked after a player's join hook ran.
func (h *Host) OnPlayerJoin(fn func(playerID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onJoin = fn
}

// OnPlayerLeave registers a callback invoked after a player left.
func (h *Host) OnPlayerLeave(fn func(playerID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLeave = fn
}

// Closed reports whether this host has stopped serving.
func (h *Host) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Tick returns the last completed simulation step.
func (h *Host) Tick() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tick
}

// Revision returns the current replication revision.
func (h *Host) Revision() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sync.Revision()
}

// State returns the authoritative tree. Callers must treat it as read-only.
func (h *Host) State() state.Tree {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sync.State()
}

// Submit queues an action from the host's own player for the next tick.
func (h *Host) Submit(name string, payload map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enqueueLocked(sim.QueuedAction{
		Name:      name,
		Payload:   payload,
		PlayerID:  h.tr.PlayerID(),
		Tick:      h.tick + 1,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Run steps the simulation on the tick cadence until the context ends.
func (h *Host) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.TickDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.Step()
		}
	}
}

// Step advances the simulation by one tick: membership hooks, ordered action
// execution, systems, then replication.
func (h *Host) Step() {
	started := time.Now()
	h.mu.Lock()
	h.stepLocked()
	h.tel.RecordTickDuration(time.Since(started))
	out := h.outbox
	h.outbox = nil
	notify := h.notify
	h.notify = nil
	h.mu.Unlock()
	h.flush(out)
	for _, fn := range notify {
		fn()
	}
}

func (h *Host) stepLocked() {
	if h.closed {
		return
	}

	h.tick++
	tick := h.tick
	work := state.CloneTree(h.sync.State())

	for _, id := range h.joins {
		h.exec.RunJoinHook(work, id, tick)
		lifecycle.PlayerJoined(context.Background(), h.pub, tick, logging.PeerRef{ID: id, Role: logging.PeerRoleClient})
		if fn := h.onJoin; fn != nil {
			id := id
			h.notify = append(h.notify, func() { fn(id) })
		}
	}
	h.joins = nil
	for _, note := range h.leaves {
		h.exec.RunLeaveHook(work, note.playerID, tick)
		lifecycle.PlayerLeft(context.Background(), h.pub, tick, logging.PeerRef{ID: note.playerID, Role: logging.PeerRoleClient}, lifecycle.LeavePayload{Reason: note.reason})
		if fn := h.onLeave; fn != nil {
			id := note.playerID
			h.notify = append(h.notify, func() { fn(id) })
		}
	}
	h.leaves = nil

	due, future := splitByTick(h.queue, tick)
	h.queue = future
	sim.SortForTick(due)
	for _, action := range due {
		result := h.exec.Execute(work, action)
		if result.Rejected() {
			h.rejectLocked(action, result)
			continue
		}
		h.prod.Append(action)
	}
	h.exec.RunSystems(work, tick, false)

	if wire, changed := h.sync.Advance(work, tick); changed {
		h.queueLocked(proto.Message{Kind: proto.KindDiff, Diff: &wire}, transport.Broadcast, len(wire.Patches))
	}

	if tick%uint64(h.opts.SnapshotIntervalTicks) == 0 {
		snap := h.sync.SnapshotWire()
		h.queueLocked(proto.Message{Kind: proto.KindSnapshot, Snapshot: &snap}, transport.Broadcast, 0)
		h.prod.NoteSnapshot(tick)
	}
	h.sinceBeat++
	if h.sinceBeat >= h.hbTicks {
		h.sinceBeat = 0
		hb := h.prod.Heartbeat(tick, h.sync.Revision())
		h.queueLocked(proto.Message{Kind: proto.KindHeartbeat, Heartbeat: &hb}, transport.Broadcast, 0)
	}
	if tick%uint64(h.opts.ChecksumIntervalTicks) == 0 {
		payload := proto.ChecksumPayload{Tick: tick, Revision: h.sync.Revision(), Checksum: h.sync.Checksum()}
		h.queueLocked(proto.Message{Kind: proto.KindChecksum, Checksum: &payload}, transport.Broadcast, 0)
	}

	for _, id := range h.welcome {
		snap := h.sync.SnapshotWire()
		h.queueLocked(proto.Message{
			Kind: proto.KindJoin,
			Join: &proto.JoinPayload{PlayerID: id, Snapshot: &snap, HostTick: tick, SessionID: h.opts.SessionID},
		}, id, 0)
	}
	h.welcome = nil
}

// Close stops serving. It does not notify peers; the heartbeat silence does.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, unsub := range h.unsubs {
		unsub()
	}
	h.unsubs = nil
}

func (h *Host) handleMessage(msg proto.Message, senderID string) {
	// In-process transports hand over structs that never went through
	// Decode, so the kind/payload pairing is checked here too.
	if err := msg.Validate(); err != nil {
		h.pub.Publish(context.Background(), logging.Event{
			Type:     "proto.invalid_message",
			Severity: logging.SeverityWarn,
			Category: logging.CategoryReplication,
			Peer:     logging.PeerRef{ID: senderID, Role: logging.PeerRoleClient},
			Extra:    map[string]any{"error": err.Error(), "kind": string(msg.Kind)},
		})
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	switch msg.Kind {
	case proto.KindAction:
		action := *msg.Action
		action.PlayerID = senderID
		h.enqueueLocked(action)
	case proto.KindJoin:
		h.joins = append(h.joins, senderID)
		h.welcome = append(h.welcome, senderID)
	case proto.KindLeave:
		reason := "leave"
		if msg.Leave != nil && msg.Leave.Reason != "" {
			reason = msg.Leave.Reason
		}
		h.leaves = append(h.leaves, leaveNote{playerID: senderID, reason: reason})
	case proto.KindResyncRequest:
		h.serveResyncLocked(*msg.ResyncRequest, senderID)
	case proto.KindHeartbeat:
		h.maybeYieldLocked(msg.Heartbeat.SessionID, senderID)
	case proto.KindHostMigration:
		h.maybeYieldLocked(msg.Migration.SessionID, msg.Migration.NewHost)
	}
	out := h.outbox
	h.outbox = nil
	yielded := h.yieldedTo
	h.yieldedTo = ""
	onDeposed := h.onDeposed
	h.mu.Unlock()
	h.flush(out)
	if yielded != "" && onDeposed != nil {
		onDeposed(yielded)
	}
}

// maybeYieldLocked resolves a split brain: when another live host announces
// a tenure, the lexically smaller session id keeps authority and the other
// host stands down. Both sides apply the same rule, so exactly one yields.
func (h *Host) maybeYieldLocked(remoteSessionID, remoteHostID string) {
	if remoteSessionID == "" || remoteSessionID == h.opts.SessionID {
		return
	}
	if h.opts.SessionID < remoteSessionID {
		return
	}
	h.closed = true
	for _, unsub := range h.unsubs {
		unsub()
	}
	h.unsubs = nil
	h.yieldedTo = remoteHostID
	lifecycle.HostMigrated(context.Background(), h.pub, h.tick,
		logging.PeerRef{ID: remoteHostID, Role: logging.PeerRoleHost},
		lifecycle.MigrationPayload{NewHost: remoteHostID, OldHost: h.tr.PlayerID()})
}

func (h *Host) notePeerLeave(peerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.leaves = append(h.leaves, leaveNote{playerID: peerID, reason: "disconnected"})
}

// enqueueLocked clamps the requested tick into the window the host will
// still honor: never the past, never further ahead than the prediction cap.
func (h *Host) enqueueLocked(action sim.QueuedAction) {
	if action.Tick <= h.tick {
		action.Tick = h.tick + 1
	}
	if max := h.tick + uint64(h.opts.MaxPredictionFrames); action.Tick > max {
		action.Tick = max
	}
	action.Predicted = false
	h.queue = append(h.queue, action)
}

func (h *Host) rejectLocked(action sim.QueuedAction, result sim.Result) {
	h.tel.IncrementActionRejected()
	lifecycle.ActionRejected(context.Background(), h.pub, action.Tick,
		logging.PeerRef{ID: action.PlayerID, Role: logging.PeerRoleClient},
		lifecycle.RejectionPayload{Action: action.Name, Reason: string(result.Reason)})
	if action.PlayerID == h.tr.PlayerID() {
		return
	}
	h.queueLocked(proto.Message{
		Kind: proto.KindActionRejected,
		Rejected: &proto.ActionRejected{
			PlayerID:   action.PlayerID,
			ActionName: action.Name,
			Reason:     string(result.Reason),
			Tick:       action.Tick,
		},
	}, action.PlayerID, 0)
}

// serveResyncLocked answers with chained diffs when the requester's revision
// is close enough, otherwise a full snapshot.
func (h *Host) serveResyncLocked(req proto.ResyncRequest, senderID string) {
	peer := logging.PeerRef{ID: senderID, Role: logging.PeerRoleClient}
	replication.ResyncRequested(context.Background(), h.pub, h.tick, peer, replication.ResyncPayload{
		Reason:        req.Reason,
		RequesterID:   senderID,
		LastKnownTick: req.LastKnownTick,
	})

	resp := proto.ResyncResponse{}
	if diffs, ok := h.sync.DiffsSince(req.LastKnownRevision); ok && len(diffs) > 0 {
		resp.DiffsSince = diffs
	} else {
		snap := h.sync.SnapshotWire()
		resp.Snapshot = &snap
	}
	h.queueLocked(proto.Message{Kind: proto.KindResyncResponse, ResyncResponse: &resp}, senderID, 0)
	h.tel.IncrementResyncServed()
	replication.ResyncServed(context.Background(), h.pub, h.tick, peer, replication.ResyncPayload{
		Reason:      req.Reason,
		RequesterID: senderID,
	})
}

func (h *Host) queueLocked(msg proto.Message, target string, patches int) {
	h.outbox = append(h.outbox, outMsg{msg: msg, target: target, patches: patches})
}

// flush delivers queued messages with no lock held. Synchronous transports
// may re-enter handleMessage from here; by now the runtime state is settled.
func (h *Host) flush(out []outMsg) {
	for _, o := range out {
		o.msg.Ver = proto.Version
		o.msg.SenderID = h.tr.PlayerID()
		if raw, err := proto.Encode(o.msg); err == nil {
			switch {
			case o.msg.Kind == proto.KindResyncResponse && o.msg.ResyncResponse.Snapshot != nil:
				h.tel.RecordSnapshotSent(len(raw))
			case o.target == transport.Broadcast:
				h.tel.RecordBroadcast(len(raw), o.patches)
			}
		}
		if err := h.tr.Send(o.msg, o.target); err != nil {
			h.pub.Publish(context.Background(), logging.Event{
				Type:     "replication.send_failed",
				Severity: logging.SeverityWarn,
				Category: logging.CategoryReplication,
				Extra:    map[string]any{"error": err.Error(), "kind": string(o.msg.Kind)},
			})
		}
	}
}

func splitByTick(queue []sim.QueuedAction, tick uint64) (due, future []sim.QueuedAction) {
	for _, action := range queue {
		if action.Tick <= tick {
			due = append(due, action)
		} else {
			future = append(future, action)
		}
	}
	return due, future
}
