package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ProjectRStore/itemsync/internal/action"
	"github.com/ProjectRStore/itemsync/internal/coordinator"
	"github.com/ProjectRStore/itemsync/internal/dispatcher"
	"github.com/ProjectRStore/itemsync/internal/holdstate"
	"github.com/ProjectRStore/itemsync/internal/latejoin"
	"github.com/ProjectRStore/itemsync/internal/scene"
	"github.com/ProjectRStore/itemsync/pkg/core"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

var (
	// ErrSpoofed means the relay-stamped sender does not match who the message claims to speak for.
	ErrSpoofed = errors.New("sender does not match claimed author")
	// ErrNotHoldable means the grabbed object cannot be carried.
	ErrNotHoldable = errors.New("object is not holdable")
	// ErrDestroyed means the object was consumed earlier in the session.
	ErrDestroyed = errors.New("object was destroyed")
)

// handle decodes the payload of an event before calling fn.
func handle[T any](s *Session, fn func(e dispatcher.Event, p T) error) dispatcher.HandlerFunc {
	return func(e dispatcher.Event) (any, error) {
		p, err := streaming.Open[T](s.deps.Codec, e.Envelope)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", e.Type, err)
		}
		return nil, fn(e, p)
	}
}

func (s *Session) registerHandlers() {
	d := s.dispatcher

	d.Register(streaming.TypeWelcome, handle(s, s.onWelcome), dispatcher.Logged())
	d.Register(streaming.TypePeerJoined, handle(s, s.onPeerJoined), dispatcher.Logged())
	d.Register(streaming.TypePeerLeft, handle(s, s.onPeerLeft), dispatcher.Logged())
	d.Register(streaming.TypeCoordinatorChanged, handle(s, s.onCoordinatorChanged), dispatcher.Logged())

	d.Register(streaming.TypeGrab, handle(s, s.onGrab), dispatcher.Logged())
	d.Register(streaming.TypeRelease, handle(s, s.onRelease), dispatcher.Logged())
	d.Register(streaming.TypeAction, handle(s, s.onAction), dispatcher.Logged())
	d.Register(streaming.TypePoseSync, handle(s, s.onPoseSync), dispatcher.Coalesce(s.poseSyncKey))
	d.Register(streaming.TypePresence, handle(s, s.onPresence), dispatcher.Coalesce(dispatcher.BySender))

	d.Register(streaming.TypeSpawnAssign, handle(s, s.onSpawnAssign), dispatcher.Logged())
	d.Register(streaming.TypeSnapshotPush, handle(s, s.onSnapshotPush), dispatcher.Logged())
	d.Register(streaming.TypeSnapshotDone, handle(s, s.onSnapshotDone), dispatcher.Logged())
	d.Register(streaming.TypeDestroy, handle(s, s.onDestroy), dispatcher.Logged())
	d.Register(streaming.TypeSellSnapshot, handle(s, s.onSellSnapshot), dispatcher.Logged())
	d.Register(streaming.TypeArbitrationRequest, handle(s, s.onArbitrationRequest), dispatcher.Logged())
	d.Register(streaming.TypeArbitrationResult, handle(s, s.onArbitrationResult), dispatcher.Logged())
}

// poseSyncKey lets only the newest pose of each object in a frame apply.
func (s *Session) poseSyncKey(e dispatcher.Event) string {
	p, err := streaming.Open[streaming.PoseSyncPayload](s.deps.Codec, e.Envelope)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%d/%d", e.From, p.ObjectID)
}

// fromRelay guards the session facts only the relay may announce.
func (s *Session) fromRelay(e dispatcher.Event) error {
	if e.From != core.NoActor {
		s.metrics.spoof(e.Type)
		return fmt.Errorf("%s from actor %d: %w", e.Type, e.From, ErrSpoofed)
	}
	return nil
}

// fromCoordinator accepts coordinator-authored state. Buffered replays keep
// the original author, who may no longer be the coordinator, so they are
// trusted when the relay stamped them as sent by the coordinator of the time.
func (s *Session) fromCoordinator(e dispatcher.Event) error {
	if e.From == s.Coordinator() || (e.Envelope.Replay && e.Envelope.ByCoordinator) {
		return nil
	}
	s.metrics.spoof(e.Type)
	return fmt.Errorf("%s from actor %d, coordinator is %d: %w", e.Type, e.From, s.Coordinator(), ErrSpoofed)
}

func (s *Session) onWelcome(e dispatcher.Event, p streaming.WelcomePayload) error {
	if err := s.fromRelay(e); err != nil {
		return err
	}

	if old := s.Local(); old != core.NoActor && old != p.Actor {
		// A reconnect: the relay has already told everyone the old actor left.
		s.dropActor(old)
		clear(s.pending)
		s.logger.Info("Rejoined session as new actor", "previous", old, "actor", p.Actor)
	}

	s.name = p.Session
	s.local.Store(int32(p.Actor))
	clear(s.peers)
	for _, a := range p.Peers {
		if a != p.Actor {
			s.peers[a] = struct{}{}
		}
	}
	for a := range s.presence {
		if _, ok := s.peers[a]; !ok {
			delete(s.presence, a)
		}
	}
	s.nextPresence = time.Time{}

	if p.Coordinator != p.Actor {
		s.catchUp.Close(e.Timestamp)
	} else {
		s.catchUp.Open()
	}

	s.logger.Info("Joined session", "session", p.Session, "actor", p.Actor, "coordinator", p.Coordinator, "peers", len(s.peers))
	return s.setCoordinator(e.Timestamp, p.Coordinator)
}

func (s *Session) onPeerJoined(e dispatcher.Event, p streaming.PeerPayload) error {
	if err := s.fromRelay(e); err != nil {
		return err
	}
	if p.Actor == s.Local() {
		return nil
	}
	s.peers[p.Actor] = struct{}{}
	s.nextPresence = time.Time{}

	if !s.IsCoordinator() {
		return nil
	}
	if _, err := s.pusher.PeerJoined(p.Actor); err != nil {
		return fmt.Errorf("late-join push to %d: %w", p.Actor, err)
	}
	return nil
}

func (s *Session) onPeerLeft(e dispatcher.Event, p streaming.PeerPayload) error {
	if err := s.fromRelay(e); err != nil {
		return err
	}
	delete(s.peers, p.Actor)
	s.dropActor(p.Actor)
	return nil
}

func (s *Session) onCoordinatorChanged(e dispatcher.Event, p streaming.CoordinatorChangedPayload) error {
	if err := s.fromRelay(e); err != nil {
		return err
	}
	s.logger.Info("Coordinator changed", "previous", s.Coordinator(), "coordinator", p.Coordinator)
	if err := s.setCoordinator(e.Timestamp, p.Coordinator); err != nil {
		return err
	}
	// The new coordinator never pushes the set the old one owed us.
	if s.catchUp.Waiting() {
		s.openCatchUp()
	}
	return nil
}

func (s *Session) setCoordinator(now time.Time, c core.ActorID) error {
	s.coordinator.Store(int32(c))
	if c == s.Local() {
		s.seq.Rebase(int(c))
	}
	return s.arbiter.OnCoordinatorChanged(now)
}

// dropActor frees everything a departed actor held where it is.
func (s *Session) dropActor(actor core.ActorID) {
	delete(s.presence, actor)
	for _, id := range s.table.DropActor(actor) {
		s.mirror.Clear(id)
		s.actions.Forget(id)
	}
}

func (s *Session) onGrab(e dispatcher.Event, p streaming.GrabPayload) error {
	if s.catchUp.Hold(e) {
		return nil
	}
	if e.From != p.Actor {
		s.metrics.spoof(e.Type)
		return fmt.Errorf("grab for actor %d sent by %d: %w", p.Actor, e.From, ErrSpoofed)
	}

	local := p.Actor == s.Local()
	if local {
		if pg, ok := s.pending[p.Hand]; ok && pg.object == p.ObjectID {
			delete(s.pending, p.Hand)
		}
	}

	if s.destroyed.Has(p.ObjectID) {
		return fmt.Errorf("grab of %d: %w", p.ObjectID, ErrDestroyed)
	}
	obj, ok := s.registry.Resolve(p.ObjectID)
	if ok && !obj.Holdable {
		return fmt.Errorf("grab of %d: %w", p.ObjectID, ErrNotHoldable)
	}
	if !ok {
		obj = nil
	}

	rec := core.HoldRecord{
		Object: p.ObjectID,
		Holder: p.Actor,
		Hand:   p.Hand,
		Offset: streaming.PoseOf(p.OffsetPos, p.OffsetRot),
	}
	if err := s.table.ApplyGrab(rec, obj); err != nil {
		if errors.Is(err, holdstate.ErrHeldByOther) {
			return nil
		}
		return err
	}

	s.metrics.grabsAccepted.Add(context.Background(), 1)
	if local {
		s.mirror.Clear(p.ObjectID)
		s.notify(Feedback{Kind: FeedbackGrabbed, Object: p.ObjectID, Hand: p.Hand})
	}
	return nil
}

func (s *Session) onRelease(e dispatcher.Event, p streaming.ReleasePayload) error {
	if s.catchUp.Hold(e) {
		return nil
	}
	holder, held := s.table.HolderOf(p.ObjectID)
	if !held {
		return nil
	}
	if holder != e.From {
		s.metrics.spoof(e.Type)
		return fmt.Errorf("release of %d held by %d sent by %d: %w", p.ObjectID, holder, e.From, ErrSpoofed)
	}

	if holder != s.Local() {
		if target, ok := s.mirror.Target(p.ObjectID); ok {
			if obj := s.table.Object(p.ObjectID); obj.Alive() && obj.Body != nil {
				obj.Body.SetPose(target)
			}
		}
	}

	rec, _ := s.table.ApplyRelease(p.ObjectID, p.Velocity.Vec(), p.AngularVelocity.Vec())
	s.mirror.Clear(p.ObjectID)
	s.actions.Forget(p.ObjectID)
	if holder == s.Local() {
		s.notify(Feedback{Kind: FeedbackReleased, Object: p.ObjectID, Hand: rec.Hand})
	}
	return nil
}

func (s *Session) onAction(e dispatcher.Event, p streaming.ActionPayload) error {
	if s.catchUp.Hold(e) {
		return nil
	}
	_, err := s.actions.Receive(e.From, p)
	if err != nil {
		s.metrics.actionsDropped.Add(context.Background(), 1)
		if errors.Is(err, action.ErrSpoofed) {
			s.metrics.spoof(e.Type)
		}
	}
	return err
}

func (s *Session) onPoseSync(e dispatcher.Event, p streaming.PoseSyncPayload) error {
	holder, held := s.table.HolderOf(p.ObjectID)
	if !held || holder == s.Local() {
		return nil
	}
	if holder != e.From {
		s.metrics.spoof(e.Type)
		return fmt.Errorf("pose of %d held by %d sent by %d: %w", p.ObjectID, holder, e.From, ErrSpoofed)
	}
	s.mirror.SetTarget(p.ObjectID, streaming.PoseOf(p.Position, p.Rotation))
	return nil
}

func (s *Session) onPresence(e dispatcher.Event, p streaming.PresencePayload) error {
	if _, ok := s.peers[e.From]; !ok {
		return nil
	}
	s.presence[e.From] = p.Position.Vec()
	return nil
}

func (s *Session) onSpawnAssign(e dispatcher.Event, p streaming.SpawnAssignPayload) error {
	if p.Source == coordinator.SourceSpawnID {
		// Peer-performed spawns are trusted only for IDs the coordinator issued.
		if !s.issued.Has(p.ObjectID) {
			s.metrics.spoof(e.Type)
			return fmt.Errorf("spawn of unissued id %d by %d: %w", p.ObjectID, e.From, ErrSpoofed)
		}
	} else if err := s.fromCoordinator(e); err != nil {
		return err
	}

	switch p.Source {
	case coordinator.SourceVending:
		s.seq.Observe(uint64(p.SpawnIndex))
	case coordinator.SourceLoot:
		s.loot.Observe(p)
	}

	if s.destroyed.Has(p.ObjectID) {
		return nil
	}
	if _, err := s.world.Spawn(p.Prefab, p.ObjectID, streaming.PoseOf(p.Position, p.Rotation)); err != nil {
		if errors.Is(err, scene.ErrExists) {
			return nil
		}
		return fmt.Errorf("spawning %d: %w", p.ObjectID, err)
	}
	s.registry.Rebuild(true)

	// A hold recorded before the object existed now gets its body.
	if obj, ok := s.registry.Peek(p.ObjectID); ok {
		s.table.Bind(p.ObjectID, obj)
	}
	return nil
}

func (s *Session) onSnapshotPush(e dispatcher.Event, p streaming.SnapshotPushPayload) error {
	if err := s.fromCoordinator(e); err != nil {
		return err
	}
	if s.destroyed.Has(p.ObjectID) {
		return nil
	}
	if err := s.reconciler.Apply(p); err != nil && !errors.Is(err, latejoin.ErrUnresolved) {
		return err
	}
	return nil
}

// onSnapshotDone ends the catch-up: held grabs and releases apply on top of
// the snapshots.
func (s *Session) onSnapshotDone(e dispatcher.Event, p streaming.SnapshotDonePayload) error {
	if err := s.fromCoordinator(e); err != nil {
		return err
	}
	if !s.catchUp.Waiting() {
		return nil
	}
	s.logger.Debug("Snapshot set complete", "objects", p.Objects, "held", s.catchUp.Len())
	s.openCatchUp()
	return nil
}

func (s *Session) onDestroy(e dispatcher.Event, p streaming.DestroyPayload) error {
	if err := s.fromCoordinator(e); err != nil {
		return err
	}
	for _, id := range p.ObjectIDs {
		s.destroyed.Mark(id)
		s.table.Forget(id)
		s.world.Destroy(id)
		s.registry.Forget(id)
		s.mirror.Clear(id)
		s.reconciler.Drop(id)
		s.actions.Forget(id)
		for hand, pg := range s.pending {
			if pg.object == id {
				delete(s.pending, hand)
			}
		}
	}
	return nil
}

func (s *Session) onSellSnapshot(e dispatcher.Event, p streaming.SellSnapshotPayload) error {
	if err := s.fromCoordinator(e); err != nil {
		return err
	}
	if s.IsCoordinator() {
		return nil
	}
	s.sell.Apply(p)
	return nil
}

func (s *Session) onArbitrationRequest(e dispatcher.Event, p streaming.ArbitrationRequestPayload) error {
	err := s.arbiter.HandleRequest(e.From, p)
	if errors.Is(err, coordinator.ErrNotCoordinator) {
		s.logger.Debug("Ignoring request addressed to a previous coordinator", "requestId", p.RequestID)
		return nil
	}
	if errors.Is(err, coordinator.ErrSpoofed) {
		s.metrics.spoof(e.Type)
	}
	return err
}

func (s *Session) onArbitrationResult(e dispatcher.Event, p streaming.ArbitrationResultPayload) error {
	if e.Envelope.Replay {
		if !e.Envelope.ByCoordinator || p.Private {
			s.metrics.spoof(e.Type)
			return fmt.Errorf("replayed result %s from %d: %w", p.RequestID, e.From, ErrSpoofed)
		}
		s.observeResult(p)
		return nil
	}
	err := s.arbiter.HandleResult(e.From, p)
	if errors.Is(err, coordinator.ErrSpoofed) {
		s.metrics.spoof(e.Type)
	}
	return err
}

// observeResult sees every public result so successors never reuse an
// issued sequence number.
func (s *Session) observeResult(res streaming.ArbitrationResultPayload) {
	if res.Outcome != streaming.OutcomeAccepted {
		return
	}
	if res.Params.Sequence > 0 {
		s.seq.Observe(res.Params.Sequence)
	}
	if res.Kind == streaming.RequestSpawnID {
		for _, id := range res.Params.ObjectIDs {
			s.issued.Mark(id)
		}
	}
}

func (s *Session) applyPrivate(res streaming.ArbitrationResultPayload) {
	applied, err := s.wallet.Apply(res)
	if err != nil {
		s.logger.Warn("Private result not applied", "requestId", res.RequestID, "error", err)
		return
	}
	if !applied {
		return
	}
	s.logger.Info("Balance changed", "kind", res.Kind, "amount", res.Params.Amount, "balance", s.wallet.Balance())
	s.notify(Feedback{Kind: FeedbackBalance, Result: &res})
}
