package session

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProjectRStore/itemsync/internal/action"
	"github.com/ProjectRStore/itemsync/internal/coordinator"
	"github.com/ProjectRStore/itemsync/internal/holdstate"
	"github.com/ProjectRStore/itemsync/internal/identity"
	"github.com/ProjectRStore/itemsync/internal/relay"
	"github.com/ProjectRStore/itemsync/internal/scene"
	"github.com/ProjectRStore/itemsync/pkg/core"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

func lastFeedback(t *testing.T, p *peer, kind FeedbackKind) Feedback {
	t.Helper()
	fs := p.feedbackOf(kind)
	require.NotEmpty(t, fs, "no %s feedback on actor %d", kind, p.Local())
	return fs[len(fs)-1]
}

func assertVec(t *testing.T, want, got mgl64.Vec3) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-6, "component %d of %v", i, got)
	}
}

func TestJoin_RosterAndCoordinator(t *testing.T) {
	h := newHarness(t)
	a := h.join()
	b := h.join()

	assert.Equal(t, core.ActorID(1), a.Local())
	assert.Equal(t, core.ActorID(2), b.Local())
	assert.True(t, a.IsCoordinator())
	assert.False(t, b.IsCoordinator())
	assert.Equal(t, core.ActorID(1), b.Coordinator())
	assert.Equal(t, []core.ActorID{2}, a.Peers())
	assert.Equal(t, []core.ActorID{1}, b.Peers())
	assert.Equal(t, "store", b.Name())

	assert.Equal(t, string(coordinator.SellOpen), b.Sell().State)
	assert.Equal(t, a.Sell(), b.Sell())

	st := b.Status()
	assert.Equal(t, 1, st.Peers)
	assert.Equal(t, 100, st.Balance)
	assert.Equal(t, 3, st.Objects)
}

func TestLogAttrs(t *testing.T) {
	h := newHarness(t)
	a := h.join()

	attrs := a.LogAttrs()
	require.Len(t, attrs, 2)
	assert.Equal(t, "actor", attrs[0].Key)
	assert.Equal(t, int64(1), attrs[0].Value.Int64())
	assert.Equal(t, int64(1), attrs[1].Value.Int64())
}

func TestGrab_ConflictConverges(t *testing.T) {
	h := newHarness(t)
	a := h.join()
	b := h.join()
	lamp := named(t, a, "Lamp").ID

	a.anchors.Set(core.HandRight, at(0.2, 0, 0))
	b.anchors.Set(core.HandRight, at(0.2, 0, 0))
	got, err := a.TryGrabNearest(core.HandRight)
	require.NoError(t, err)
	assert.Equal(t, lamp, got)
	_, err = b.TryGrabNearest(core.HandRight)
	require.NoError(t, err)
	h.pump()

	for _, p := range []*peer{a, b} {
		holder, ok := p.HolderOf(lamp)
		require.True(t, ok)
		assert.Equal(t, a.Local(), holder, "holder on actor %d", p.Local())
	}
	assert.True(t, b.IsHeldByOther(lamp))
	assert.False(t, a.IsHeldByOther(lamp))

	held, ok := a.Holding(core.HandRight)
	require.True(t, ok)
	assert.Equal(t, lamp, held)
	assert.Len(t, a.feedbackOf(FeedbackGrabbed), 1)
	assert.Empty(t, a.feedbackOf(FeedbackGrabRejected))

	rejected := lastFeedback(t, b, FeedbackGrabRejected)
	assert.Equal(t, lamp, rejected.Object)
	assert.ErrorIs(t, rejected.Err, holdstate.ErrHeldByOther)

	// The loser's hand is free again and the lamp is no longer a candidate.
	_, err = b.TryGrabNearest(core.HandRight)
	assert.ErrorIs(t, err, ErrNothingNearby)
}

func TestGrab_LocalPreconditions(t *testing.T) {
	h := newHarness(t)
	a := h.connect()

	_, err := a.TryGrabNearest(core.HandLeft)
	assert.ErrorIs(t, err, ErrNotJoined)
	h.pump()

	_, err = a.TryGrabNearest(core.HandLeft)
	assert.ErrorIs(t, err, ErrNoAnchor)

	a.anchors.Set(core.HandLeft, at(10, 0, 10))
	_, err = a.TryGrabNearest(core.HandLeft)
	assert.ErrorIs(t, err, ErrNothingNearby)

	a.anchors.Set(core.HandLeft, at(-2, 0, 0))
	_, err = a.TryGrabNearest(core.HandLeft)
	assert.ErrorIs(t, err, ErrNothingNearby, "crate is not holdable")

	a.anchors.Set(core.HandLeft, at(0.2, 0, 0))
	_, err = a.TryGrabNearest(core.HandLeft)
	require.NoError(t, err)
	_, err = a.TryGrabNearest(core.HandLeft)
	assert.ErrorIs(t, err, ErrGrabPending)

	h.pump()
	_, err = a.TryGrabNearest(core.HandLeft)
	assert.ErrorIs(t, err, ErrHandFull)

	_, err = a.ReleaseHeld(core.HandRight)
	assert.ErrorIs(t, err, ErrEmptyHand)
}

func TestGrab_PendingExpires(t *testing.T) {
	h := newHarness(t)
	a := h.join()
	a.anchors.Set(core.HandLeft, at(0.2, 0, 0))

	// Queue a claim without letting the echo through.
	a.pending[core.HandLeft] = pendingGrab{object: named(t, a, "Lamp").ID, sent: h.clock.Now()}
	_, err := a.TryGrabNearest(core.HandLeft)
	require.ErrorIs(t, err, ErrGrabPending)

	h.clock.Advance(grabEchoTimeout)
	a.Update(h.clock.Now())
	_, err = a.TryGrabNearest(core.HandLeft)
	assert.NoError(t, err)
}

func TestHeldObjectFollowsHolderAndThrows(t *testing.T) {
	h := newHarness(t)
	a := h.join()
	b := h.join()
	lamp := named(t, a, "Lamp").ID

	a.anchors.Set(core.HandRight, at(0.2, 0, 0))
	_, err := a.TryGrabNearest(core.HandRight)
	require.NoError(t, err)
	h.pump()

	obj, ok := b.World().Get(lamp)
	require.True(t, ok)
	assert.True(t, obj.Body.Kinematic(), "remote hold freezes the body")

	a.anchors.Set(core.HandRight, at(1, 1, 0))
	for i := 0; i < 15; i++ {
		h.step(100 * time.Millisecond)
	}
	assertVec(t, mgl64.Vec3{1, 1, 0}, position(t, a, lamp))
	assertVec(t, mgl64.Vec3{1, 1, 0}, position(t, b, lamp))

	// One last hand movement gives the throw its velocity.
	a.anchors.Set(core.HandRight, at(1.1, 1, 0))
	h.step(100 * time.Millisecond)
	released, err := a.ReleaseHeld(core.HandRight)
	require.NoError(t, err)
	assert.Equal(t, lamp, released)
	h.pump()

	for _, p := range []*peer{a, b} {
		_, held := p.HolderOf(lamp)
		assert.False(t, held)

		obj, ok := p.World().Get(lamp)
		require.True(t, ok)
		assertVec(t, mgl64.Vec3{1.1, 1, 0}, obj.Body.Pose().Position)
		lin, _ := obj.Body.Velocity()
		assertVec(t, mgl64.Vec3{1, 0, 0}, lin)
		assert.False(t, obj.Body.Kinematic())
	}
	assert.Len(t, a.feedbackOf(FeedbackReleased), 1)
	assert.Empty(t, b.feedbackOf(FeedbackReleased))
	assert.Zero(t, b.Status().Mirrored)
}

func TestAction_OnlyHolderActs(t *testing.T) {
	h := newHarness(t)
	a := h.join()
	b := h.join()
	can := named(t, a, "Can").ID

	a.anchors.Set(core.HandRight, at(2, 0, 0))
	_, err := a.TryGrabNearest(core.HandRight)
	require.NoError(t, err)
	h.pump()

	rep, err := a.SendAction(core.HandRight, core.ActionTrigger, 0.5, action.OnPress)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Invoked)
	h.pump()

	presses := func(p *peer) int {
		n, _ := named(t, p, "Can").Components[0].(*scene.Counter).Presses()
		return n
	}
	assert.Equal(t, 1, presses(a))
	assert.Equal(t, 1, presses(b))

	_, err = b.SendAction(core.HandRight, core.ActionTrigger, 1, action.OnPress)
	assert.ErrorIs(t, err, ErrEmptyHand)

	require.NoError(t, b.tr.Send(streaming.ToOthers(streaming.TypeAction,
		streaming.ActionPayload{ObjectID: can, Kind: core.ActionTrigger, Value: 1})))
	h.pump()
	assert.Equal(t, 1, presses(a), "action from a non-holder is dropped")

	_, err = a.SendAction(core.HandRight, core.ActionTrigger, 1, action.WhileHeld)
	require.NoError(t, err)
	_, err = a.SendAction(core.HandRight, core.ActionTrigger, 1, action.WhileHeld)
	assert.ErrorIs(t, err, action.ErrThrottled)

	h.step(100 * time.Millisecond)
	_, err = a.SendAction(core.HandRight, core.ActionTrigger, 1, action.WhileHeld)
	assert.NoError(t, err)
	h.pump()
	assert.Equal(t, 3, presses(b))
}

func TestSpoofedMessagesAreDropped(t *testing.T) {
	h := newHarness(t)
	a := h.join()
	b := h.join()
	lamp := named(t, a, "Lamp").ID

	send := func(msg streaming.Message) {
		t.Helper()
		require.NoError(t, b.tr.Send(msg))
	}

	send(streaming.Broadcast(streaming.TypeGrab, streaming.GrabPayload{ObjectID: lamp, Actor: a.Local()}))
	send(streaming.Broadcast(streaming.TypeDestroy, streaming.DestroyPayload{ObjectIDs: []core.ObjectID{lamp}}))
	send(streaming.Broadcast(streaming.TypeSellSnapshot, streaming.SellSnapshotPayload{State: string(coordinator.SellClosing)}))
	send(streaming.Broadcast(streaming.TypeSpawnAssign, streaming.SpawnAssignPayload{
		ObjectID: 4242, Prefab: "can", Source: coordinator.SourceSpawnID,
	}))
	send(streaming.Broadcast(streaming.TypeSpawnAssign, streaming.SpawnAssignPayload{
		ObjectID: 4343, Prefab: "can", Source: coordinator.SourceVending,
	}))
	h.pump()

	for _, p := range []*peer{a, b} {
		_, held := p.HolderOf(lamp)
		assert.False(t, held, "forged grab applied on actor %d", p.Local())
		_, ok := p.World().Get(lamp)
		assert.True(t, ok, "forged destroy applied on actor %d", p.Local())
		_, ok = p.World().Get(4242)
		assert.False(t, ok)
		_, ok = p.World().Get(4343)
		assert.False(t, ok)
		assert.Equal(t, string(coordinator.SellOpen), p.Sell().State)
	}

	a.anchors.Set(core.HandRight, at(0.2, 0, 0))
	_, err := a.TryGrabNearest(core.HandRight)
	require.NoError(t, err)
	h.pump()

	send(streaming.Broadcast(streaming.TypeRelease, streaming.ReleasePayload{ObjectID: lamp}))
	h.pump()
	holder, ok := b.HolderOf(lamp)
	require.True(t, ok)
	assert.Equal(t, a.Local(), holder)

	err = b.tr.Send(streaming.Broadcast(streaming.TypeCoordinatorChanged, streaming.CoordinatorChangedPayload{Coordinator: b.Local()}))
	assert.ErrorIs(t, err, relay.ErrRelayOnly)
	assert.False(t, b.IsCoordinator())
}

func TestPurchase_DebitsBuyerAndSpawnsEverywhere(t *testing.T) {
	h := newHarness(t)
	a := h.join()
	b := h.join()

	reqID, err := b.RequestPurchase(0)
	require.NoError(t, err)
	h.pump()

	assert.Equal(t, 60, b.Balance())
	assert.Equal(t, 100, a.Balance())

	res := lastFeedback(t, b, FeedbackArbitration)
	require.NoError(t, res.Err)
	assert.Equal(t, reqID, res.Result.RequestID)
	assert.Equal(t, streaming.OutcomeAccepted, res.Result.Outcome)
	debit := lastFeedback(t, b, FeedbackBalance)
	assert.Equal(t, -40, debit.Result.Params.Amount)

	bought := identity.SequenceID(1, 1)
	for _, p := range []*peer{a, b} {
		obj, ok := p.World().Get(bought)
		require.True(t, ok, "purchase missing on actor %d", p.Local())
		assert.Equal(t, "lamp", obj.Prefab)
		assertVec(t, mgl64.Vec3{6, 0, 6}, obj.Body.Pose().Position)
	}

	_, err = b.RequestPurchase(5)
	assert.ErrorIs(t, err, ErrUnknownItem)

	_, err = b.RequestPurchase(0)
	require.NoError(t, err)
	h.pump()
	assert.Equal(t, 20, b.Balance())
	_, ok := a.World().Get(identity.SequenceID(1, 2))
	assert.True(t, ok)

	_, err = b.RequestPurchase(0)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// The coordinator buys through the relay like everyone else.
	_, err = a.RequestPurchase(1)
	require.NoError(t, err)
	h.pump()
	assert.Equal(t, 80, a.Balance())
	assert.Equal(t, 20, b.Balance())
}

func TestSell_SettlesOnce(t *testing.T) {
	h := newHarness(t)
	a := h.join()
	b := h.join()

	_, err := b.RequestPurchase(0)
	require.NoError(t, err)
	h.pump()
	bought := identity.SequenceID(1, 1)
	require.Equal(t, 60, b.Balance())

	// Both press in the same frame; the relay orders b first.
	_, err = b.RequestSell(0)
	require.NoError(t, err)
	_, err = a.RequestSell(0)
	require.NoError(t, err)
	h.pump()

	won := lastFeedback(t, b, FeedbackArbitration)
	assert.Equal(t, streaming.OutcomeAccepted, won.Result.Outcome)
	assert.Equal(t, []core.ObjectID{bought}, won.Result.Params.ObjectIDs)
	lost := lastFeedback(t, a, FeedbackArbitration)
	assert.Equal(t, streaming.OutcomeRejected, lost.Result.Outcome)
	assert.Equal(t, "busy", lost.Result.Reason)

	assert.Equal(t, string(coordinator.SellClosing), b.Sell().State)
	assert.Equal(t, b.Local(), b.Sell().Seller)

	h.step(time.Second)
	for _, p := range []*peer{a, b} {
		_, ok := p.World().Get(bought)
		assert.False(t, ok, "sold object still present on actor %d", p.Local())
		assert.Equal(t, string(coordinator.SellSettled), p.Sell().State)
	}
	assert.Equal(t, 62, b.Balance())
	assert.Equal(t, 100, a.Balance())

	h.step(time.Second)
	assert.Equal(t, string(coordinator.SellOpen), b.Sell().State)
	assert.Equal(t, a.Sell().Cycle, b.Sell().Cycle)
	assert.Equal(t, 2, b.Sell().LastPayout)

	_, err = b.RequestSell(0)
	require.NoError(t, err)
	h.pump()
	empty := lastFeedback(t, b, FeedbackArbitration)
	assert.Equal(t, "empty", empty.Result.Reason)
	assert.Equal(t, 62, b.Balance())
}

func TestLateJoin_SeesSpawnsHoldsAndPoses(t *testing.T) {
	h := newHarness(t)
	a := h.join()
	b := h.join()
	lamp := named(t, a, "Lamp").ID

	_, err := b.RequestPurchase(1)
	require.NoError(t, err)
	h.pump()
	bought := identity.SequenceID(1, 1)

	a.anchors.Set(core.HandRight, at(0.2, 0, 0))
	_, err = a.TryGrabNearest(core.HandRight)
	require.NoError(t, err)
	h.pump()
	a.anchors.Set(core.HandRight, at(0.5, 1.5, 0))
	h.step(100 * time.Millisecond)

	c := h.join()
	assert.Equal(t, core.ActorID(3), c.Local())
	assert.Equal(t, []core.ActorID{1, 2}, c.Peers())

	obj, ok := c.World().Get(bought)
	require.True(t, ok)
	assert.Equal(t, "can", obj.Prefab)

	holder, ok := c.HolderOf(lamp)
	require.True(t, ok)
	assert.Equal(t, a.Local(), holder)
	assertVec(t, mgl64.Vec3{0.5, 1.5, 0}, position(t, c, lamp))
	assert.Equal(t, a.Sell(), c.Sell())
	assert.Zero(t, c.Status().PendingSnapshots)
}

func TestLateJoin_ReplaysDestroyAfterSpawn(t *testing.T) {
	h := newHarness(t)
	a := h.join()
	b := h.join()

	_, err := b.RequestPurchase(0)
	require.NoError(t, err)
	h.pump()
	_, err = b.RequestSell(0)
	require.NoError(t, err)
	h.pump()
	h.step(time.Second)

	bought := identity.SequenceID(1, 1)
	_, ok := a.World().Get(bought)
	require.False(t, ok)

	c := h.join()
	_, ok = c.World().Get(bought)
	assert.False(t, ok, "sold object came back for a late joiner")
	assert.Equal(t, a.World().Len(), c.World().Len())

	// A late grab of the consumed ID stays rejected.
	c.anchors.Set(core.HandLeft, at(6, 0, 6))
	_, err = c.TryGrabNearest(core.HandLeft)
	assert.ErrorIs(t, err, ErrNothingNearby)
}

func TestLateJoin_ReleaseRacingTheSnapshotSet(t *testing.T) {
	h := newHarness(t)
	a := h.join()
	b := h.join()
	lamp := named(t, a, "Lamp").ID

	b.anchors.Set(core.HandLeft, at(0.2, 0, 0))
	_, err := b.TryGrabNearest(core.HandLeft)
	require.NoError(t, err)
	h.pump()
	holder, ok := a.HolderOf(lamp)
	require.True(t, ok)
	require.Equal(t, b.Local(), holder)

	// The release reaches the joiner before the coordinator has snapshotted the hold.
	c := h.connect()
	_, err = b.ReleaseHeld(core.HandLeft)
	require.NoError(t, err)
	h.pump()

	for _, p := range []*peer{a, b, c} {
		_, held := p.HolderOf(lamp)
		assert.False(t, held, "stale hold on actor %d", p.Local())
	}
	assert.Zero(t, c.Status().HeldBack)
}

func TestLateJoin_GrabRacingTheSnapshotSet(t *testing.T) {
	h := newHarness(t)
	a := h.join()
	b := h.join()
	lamp := named(t, a, "Lamp").ID

	c := h.connect()
	b.anchors.Set(core.HandLeft, at(0.2, 0, 0))
	_, err := b.TryGrabNearest(core.HandLeft)
	require.NoError(t, err)
	h.pump()

	for _, p := range []*peer{a, b, c} {
		holder, ok := p.HolderOf(lamp)
		require.True(t, ok, "hold missing on actor %d", p.Local())
		assert.Equal(t, b.Local(), holder)
	}
}

func TestLateJoin_HeldMessagesApplyAfterTimeout(t *testing.T) {
	h := newHarness(t)
	a := h.join()
	b := h.join()
	lamp := named(t, a, "Lamp").ID

	// Only the joiner runs frames, so the snapshot set never comes.
	c := h.connect()
	c.Update(h.clock.Now())
	b.anchors.Set(core.HandLeft, at(0.2, 0, 0))
	_, err := b.TryGrabNearest(core.HandLeft)
	require.NoError(t, err)
	c.Update(h.clock.Now())
	assert.Equal(t, 1, c.Status().HeldBack)
	_, held := c.HolderOf(lamp)
	assert.False(t, held)

	h.clock.Advance(snapshotWaitTimeout)
	c.Update(h.clock.Now())
	assert.Zero(t, c.Status().HeldBack)
	holder, ok := c.HolderOf(lamp)
	require.True(t, ok)
	assert.Equal(t, b.Local(), holder)
}

func TestLateJoin_IgnoresStateBufferedByPeers(t *testing.T) {
	h := newHarness(t)
	a := h.join()
	b := h.join()
	lamp := named(t, a, "Lamp").ID

	forge := func(msg streaming.Message) {
		t.Helper()
		msg.Buffered = true
		require.NoError(t, b.tr.Send(msg))
	}
	forge(streaming.Broadcast(streaming.TypeDestroy, streaming.DestroyPayload{ObjectIDs: []core.ObjectID{lamp}}))
	forge(streaming.Broadcast(streaming.TypeSpawnAssign, streaming.SpawnAssignPayload{
		ObjectID: 4343, Prefab: "can", Source: coordinator.SourceVending,
	}))
	forge(streaming.Broadcast(streaming.TypeSpawnAssign, streaming.SpawnAssignPayload{
		ObjectID: 4242, Prefab: "can", Source: coordinator.SourceSpawnID,
	}))
	h.pump()

	c := h.join()
	for _, p := range []*peer{a, b, c} {
		_, ok := p.World().Get(lamp)
		assert.True(t, ok, "forged destroy applied on actor %d", p.Local())
		_, ok = p.World().Get(4343)
		assert.False(t, ok)
		_, ok = p.World().Get(4242)
		assert.False(t, ok, "unissued spawn replayed on actor %d", p.Local())
	}
}

func TestMigration_AbandonsRequestsAndFreesHolds(t *testing.T) {
	h := newHarness(t)
	a := h.join()
	b := h.join()
	c := h.join()
	lamp := named(t, a, "Lamp").ID
	can := named(t, a, "Can").ID

	_, err := b.RequestPurchase(1)
	require.NoError(t, err)
	h.pump()
	require.Equal(t, 80, b.Balance())

	a.anchors.Set(core.HandRight, at(0.2, 0, 0))
	b.anchors.Set(core.HandRight, at(2, 0, 0))
	_, err = a.TryGrabNearest(core.HandRight)
	require.NoError(t, err)
	_, err = b.TryGrabNearest(core.HandRight)
	require.NoError(t, err)
	h.pump()

	// The request reaches a, which leaves before answering.
	_, err = c.RequestPurchase(1)
	require.NoError(t, err)
	h.leave(a)

	assert.True(t, b.IsCoordinator())
	assert.Equal(t, b.Local(), c.Coordinator())
	assert.Equal(t, []core.ActorID{2}, c.Peers())

	abandoned := lastFeedback(t, c, FeedbackArbitration)
	assert.ErrorIs(t, abandoned.Err, coordinator.ErrAbandoned)
	assert.Equal(t, 100, c.Balance())

	for _, p := range []*peer{b, c} {
		_, held := p.HolderOf(lamp)
		assert.False(t, held, "departed holder still holds on actor %d", p.Local())
		holder, ok := p.HolderOf(can)
		require.True(t, ok)
		assert.Equal(t, b.Local(), holder)
	}
	assert.Equal(t, string(coordinator.SellOpen), c.Sell().State)
	assert.Equal(t, b.Sell(), c.Sell())

	_, err = c.RequestPurchase(1)
	require.NoError(t, err)
	h.pump()
	assert.Equal(t, 80, c.Balance())

	// The new coordinator continues past the sequence numbers already issued.
	bought := identity.SequenceID(2, 2)
	for _, p := range []*peer{b, c} {
		_, ok := p.World().Get(bought)
		assert.True(t, ok, "purchase missing on actor %d", p.Local())
	}

	h.leave(b)
	assert.True(t, c.IsCoordinator())
	_, held := c.HolderOf(can)
	assert.False(t, held)
}

func TestRequestSpawn_OnlyIssuedIDs(t *testing.T) {
	h := newHarness(t)
	a := h.join()
	b := h.join()

	_, err := b.RequestSpawn("can", at(4, 0, 4))
	require.NoError(t, err)
	h.pump()

	id := identity.SequenceID(1, 1)
	for _, p := range []*peer{a, b} {
		obj, ok := p.World().Get(id)
		require.True(t, ok, "spawn missing on actor %d", p.Local())
		assert.Equal(t, "can", obj.Prefab)
		assertVec(t, mgl64.Vec3{4, 0, 4}, obj.Body.Pose().Position)
	}

	c := h.join()
	_, ok := c.World().Get(id)
	assert.True(t, ok, "peer spawn is replayed to late joiners")
}

func TestLoot_SpawnsNearPlayersForEveryone(t *testing.T) {
	h := newHarness(t)
	a := h.join()
	b := h.join()

	setup, err := scene.Load("testdata/store.yaml")
	require.NoError(t, err)
	require.Len(t, setup.Loot, 1)
	id := identity.SpawnID(setup.Loot[0].Base, 0)

	h.step(200 * time.Millisecond)
	_, ok := a.World().Get(id)
	require.False(t, ok, "nobody is near the spawner yet")

	b.anchors.SetAvatar(mgl64.Vec3{19, 0, 0})
	for i := 0; i < 3; i++ {
		h.step(200 * time.Millisecond)
	}

	for _, p := range []*peer{a, b} {
		obj, ok := p.World().Get(id)
		require.True(t, ok, "loot missing on actor %d", p.Local())
		assert.Equal(t, "can", obj.Prefab)
		assert.Equal(t, 1, p.loot.Spawned(0))
	}
}
