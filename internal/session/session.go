// Package session composes the sync components into one peer's frame loop.
// A Session is owned by a single goroutine: inbound messages are queued by
// the transport and applied at the start of each Update.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ProjectRStore/itemsync/internal/action"
	"github.com/ProjectRStore/itemsync/internal/cache"
	"github.com/ProjectRStore/itemsync/internal/config"
	"github.com/ProjectRStore/itemsync/internal/coordinator"
	"github.com/ProjectRStore/itemsync/internal/dispatcher"
	"github.com/ProjectRStore/itemsync/internal/holdstate"
	"github.com/ProjectRStore/itemsync/internal/identity"
	"github.com/ProjectRStore/itemsync/internal/latejoin"
	"github.com/ProjectRStore/itemsync/internal/pose"
	"github.com/ProjectRStore/itemsync/internal/registry"
	"github.com/ProjectRStore/itemsync/internal/scene"
	"github.com/ProjectRStore/itemsync/internal/transport"
	"github.com/ProjectRStore/itemsync/pkg/core"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

// grabEchoTimeout bounds how long a hand waits for its grab to come back
// from the relay before it may ask again.
const grabEchoTimeout = 2 * time.Second

// snapshotWaitTimeout bounds how long a joining peer holds back grabs and
// releases while waiting for the coordinator's snapshot set.
const snapshotWaitTimeout = 5 * time.Second

// destroyedCapacity bounds the memory of consumed object IDs.
const destroyedCapacity = 4096

// Dependencies holds everything a Session is built from.
type Dependencies struct {
	Transport transport.Transport
	Codec     streaming.Codec
	Setup     *scene.Setup
	Anchors   *Anchors
	Logger    *slog.Logger

	// DispatchLogger receives the per-envelope handler logs. Defaults to Logger.
	DispatchLogger dispatcher.Logger

	Now      func() time.Time
	Rand     *rand.Rand
	Feedback func(Feedback)
}

type pendingGrab struct {
	object core.ObjectID
	sent   time.Time
}

// Session is one peer's SessionSyncState.
type Session struct {
	cfg     config.SessionConfig
	deps    Dependencies
	logger  *slog.Logger
	metrics *metrics

	world      *scene.World
	table      *holdstate.Table
	registry   *registry.Registry
	driver     *pose.Driver
	mirror     *pose.Mirror
	tracker    *pose.Tracker
	actions    *action.Relay
	arbiter    *coordinator.Arbiter
	sell       *coordinator.SellMachine
	vending    *coordinator.Vending
	loot       *coordinator.LootSpawner
	seq        *identity.Sequencer
	wallet     *coordinator.Wallet
	pusher     *latejoin.Pusher
	reconciler *latejoin.Reconciler
	dispatcher *dispatcher.Dispatcher

	local       atomic.Int32
	coordinator atomic.Int32
	name        string
	peers       map[core.ActorID]struct{}
	presence    map[core.ActorID]mgl64.Vec3

	pending   map[core.Hand]pendingGrab
	catchUp   *latejoin.Gate[dispatcher.Event]
	destroyed *cache.Seen[core.ObjectID]
	issued    *cache.Seen[core.ObjectID]

	lastFrame    time.Time
	nextPoseSync time.Time
	nextPresence time.Time
}

// New builds a session around a scene. Nothing is sent until the relay's
// welcome has been processed by Update.
func New(cfg config.SessionConfig, deps Dependencies) (*Session, error) {
	if deps.Transport == nil {
		return nil, errors.New("session requires a transport")
	}
	if deps.Setup == nil || deps.Setup.World == nil {
		return nil, errors.New("session requires a scene")
	}
	if deps.Codec == nil {
		deps.Codec = streaming.JSONCodec{}
	}
	if deps.Anchors == nil {
		deps.Anchors = NewAnchors()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DispatchLogger == nil {
		deps.DispatchLogger = deps.Logger
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	m, err := newMetrics()
	if err != nil {
		return nil, err
	}
	d, err := dispatcher.New(deps.DispatchLogger)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	setup := deps.Setup
	s := &Session{
		cfg:        cfg,
		deps:       deps,
		logger:     deps.Logger,
		metrics:    m,
		world:      setup.World,
		table:      holdstate.NewTable(deps.Logger),
		mirror:     pose.NewMirror(0),
		tracker:    pose.NewTracker(),
		seq:        identity.NewSequencer(0),
		wallet:     coordinator.NewWallet(cfg.StartingBalance),
		dispatcher: d,
		peers:      make(map[core.ActorID]struct{}),
		presence:   make(map[core.ActorID]mgl64.Vec3),
		pending:    make(map[core.Hand]pendingGrab),
		catchUp:    latejoin.NewGate[dispatcher.Event](snapshotWaitTimeout),
		destroyed:  cache.NewSeen[core.ObjectID](destroyedCapacity),
		issued:     cache.NewSeen[core.ObjectID](destroyedCapacity),
	}

	regOpts := []registry.Option{registry.WithClock(deps.Now)}
	if cfg.RegistryRebuildInterval > 0 {
		regOpts = append(regOpts, registry.WithMinRebuildInterval(cfg.RegistryRebuildInterval))
	}
	s.registry = registry.New(s.world, regOpts...)
	s.driver = pose.NewDriver(s.table, s.registry, deps.Anchors, deps.Logger)
	s.actions = action.NewRelay(action.Dependencies{
		Holders:  s.table,
		Resolver: s.registry,
		Sender:   deps.Transport,
		Logger:   deps.Logger,
		Now:      deps.Now,
		Interval: cfg.ActionInterval,
	})

	s.arbiter = coordinator.NewArbiter(s, deps.Transport,
		coordinator.WithClock(deps.Now),
		coordinator.WithLogger(deps.Logger),
	)
	s.sell = coordinator.NewSellMachine(setup.SellCfg, s.world, s.table, deps.Rand, deps.Logger)
	s.vending = coordinator.NewVending(setup.Catalog, setup.SpawnAt, s.seq)
	s.loot = coordinator.NewLootSpawner(setup.LootCfg, setup.Loot, players{s}, s.world, deps.Rand, deps.Logger)
	s.arbiter.Register(streaming.RequestSell, s.sell)
	s.arbiter.Register(streaming.RequestPurchase, s.vending)
	s.arbiter.Register(streaming.RequestSpawnID, coordinator.NewSpawnIDs(s.seq))
	s.arbiter.AddTicker(s.loot)
	s.arbiter.OnResult(s.observeResult)
	s.arbiter.OnPrivate(s.applyPrivate)

	s.pusher = latejoin.NewPusher(s.world, s.table, deps.Transport, deps.Logger)
	s.reconciler = latejoin.NewReconciler(s.registry, s.table, deps.Logger)

	s.table.OnReject(func(r holdstate.Rejection) {
		s.metrics.grabsRejected.Add(context.Background(), 1)
		if r.Claimant == s.Local() {
			s.notify(Feedback{Kind: FeedbackGrabRejected, Object: r.Object, Hand: r.Hand, Err: r})
		}
	})

	s.registerHandlers()
	return s, nil
}

// Local returns the actor the relay assigned to this peer, NoActor before the welcome.
func (s *Session) Local() core.ActorID {
	return core.ActorID(s.local.Load())
}

// Coordinator returns the current coordinator.
func (s *Session) Coordinator() core.ActorID {
	return core.ActorID(s.coordinator.Load())
}

// IsCoordinator reports whether this peer currently arbitrates.
func (s *Session) IsCoordinator() bool {
	return s.arbiter.IsCoordinator()
}

// Name returns the session name from the welcome.
func (s *Session) Name() string {
	return s.name
}

// Peers returns the other connected actors in ascending order.
func (s *Session) Peers() []core.ActorID {
	out := make([]core.ActorID, 0, len(s.peers))
	for a := range s.peers {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// World returns the local scene.
func (s *Session) World() *scene.World {
	return s.world
}

// LogAttrs returns the roster facts attached to every log record.
// Safe to call from any goroutine.
func (s *Session) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Int("actor", int(s.Local())),
		slog.Int("coordinator", int(s.Coordinator())),
	}
}

// FrameReport summarises one Update.
type FrameReport struct {
	Dispatched int
	Failed     int
	Superseded int
	Retried    int
	Pose       pose.Report
	Mirrored   int
}

// Update runs one frame: apply everything received since the last frame,
// then drive held objects, step physics and coordinator timers, and send
// the periodic pose and presence messages.
func (s *Session) Update(now time.Time) FrameReport {
	var rep FrameReport
	dt := 0.0
	if !s.lastFrame.IsZero() {
		dt = now.Sub(s.lastFrame).Seconds()
	}
	s.lastFrame = now

	inbox := s.deps.Transport.Drain()
	events := make([]dispatcher.Event, len(inbox))
	for i, env := range inbox {
		events[i] = dispatcher.NewEvent(env, now)
	}
	sum := s.dispatcher.DispatchAll(events)
	rep.Dispatched = sum.Dispatched
	rep.Failed = sum.Failed
	rep.Superseded = sum.Superseded

	if s.catchUp.Expired(now) {
		s.logger.Warn("Snapshot set did not arrive, applying held messages", "held", s.catchUp.Len())
		s.openCatchUp()
	}

	for hand, p := range s.pending {
		if now.Sub(p.sent) >= grabEchoTimeout {
			s.logger.Warn("Grab echo timed out", "object", p.object, "hand", hand)
			delete(s.pending, hand)
		}
	}

	rep.Retried = s.reconciler.Retry()

	for _, hand := range core.Hands {
		p, ok := s.deps.Anchors.Anchor(hand)
		switch {
		case !ok:
			s.tracker.Reset(hand)
		case dt > 0:
			s.tracker.Observe(hand, p, dt)
		}
	}

	s.world.Step(dt)
	local := s.Local()
	if local != core.NoActor {
		rep.Pose = s.driver.Drive(local)
	}
	rep.Mirrored = s.mirror.Step(dt, s.registry, func(id core.ObjectID) bool {
		holder, ok := s.table.HolderOf(id)
		return !ok || holder == local
	})

	if local == core.NoActor {
		return rep
	}
	if err := s.arbiter.Tick(now); err != nil {
		s.logger.Warn("Coordinator tick failed", "error", err)
	}
	s.sendPeriodic(now)
	return rep
}

// openCatchUp applies the messages held while the snapshot set was pending.
func (s *Session) openCatchUp() {
	events := s.catchUp.Open()
	if len(events) == 0 {
		return
	}
	sum := s.dispatcher.DispatchAll(events)
	s.logger.Debug("Applied held messages", "dispatched", sum.Dispatched, "failed", sum.Failed)
}

func (s *Session) sendPeriodic(now time.Time) {
	if s.cfg.PoseSyncInterval > 0 && !now.Before(s.nextPoseSync) {
		s.nextPoseSync = now.Add(s.cfg.PoseSyncInterval)
		for _, rec := range s.table.HeldBy(s.Local()) {
			if err := s.sendPoseSync(rec.Object); err != nil {
				s.logger.Warn("Pose sync failed", "object", rec.Object, "error", err)
			}
		}
	}

	if s.cfg.PresenceInterval > 0 && !now.Before(s.nextPresence) {
		s.nextPresence = now.Add(s.cfg.PresenceInterval)
		if pos, ok := s.deps.Anchors.Avatar(); ok && len(s.peers) > 0 {
			msg := streaming.ToOthers(streaming.TypePresence, streaming.PresencePayload{Position: streaming.WireVec(pos)})
			if err := s.deps.Transport.Send(msg); err != nil {
				s.logger.Warn("Presence failed", "error", err)
			}
		}
	}
}

func (s *Session) sendPoseSync(id core.ObjectID) error {
	obj := s.table.Object(id)
	if !obj.Alive() || obj.Body == nil {
		return nil
	}
	pos, rot := streaming.WirePose(obj.Body.Pose())
	return s.deps.Transport.Send(streaming.ToOthers(streaming.TypePoseSync, streaming.PoseSyncPayload{
		ObjectID: id,
		Position: pos,
		Rotation: rot,
	}))
}

// Status is a point-in-time summary for the monitor.
type Status struct {
	Actor            core.ActorID
	Coordinator      core.ActorID
	Peers            int
	Objects          int
	Held             int
	Registry         int
	Mirrored         int
	PendingSnapshots int
	HeldBack         int
	PendingRequests  int
	Balance          int
	SellState        string
}

// Status reports the session's current sizes. Call it from the frame loop.
func (s *Session) Status() Status {
	return Status{
		Actor:            s.Local(),
		Coordinator:      s.Coordinator(),
		Peers:            len(s.peers),
		Objects:          s.world.Len(),
		Held:             s.table.Len(),
		Registry:         s.registry.Len(),
		Mirrored:         s.mirror.Len(),
		PendingSnapshots: s.reconciler.Pending(),
		HeldBack:         s.catchUp.Len(),
		PendingRequests:  s.arbiter.Pending(),
		Balance:          s.wallet.Balance(),
		SellState:        string(s.sell.State()),
	}
}

// Close leaves the session.
func (s *Session) Close() error {
	return s.deps.Transport.Close()
}

func (s *Session) notify(f Feedback) {
	if s.deps.Feedback != nil {
		s.deps.Feedback(f)
	}
}

// players feeds avatar positions to the loot spawner.
type players struct{ s *Session }

func (p players) Positions() []mgl64.Vec3 {
	out := make([]mgl64.Vec3, 0, len(p.s.presence)+1)
	if pos, ok := p.s.deps.Anchors.Avatar(); ok {
		out = append(out, pos)
	}
	for _, pos := range p.s.presence {
		out = append(out, pos)
	}
	return out
}
