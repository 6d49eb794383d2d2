package session

import (
	"errors"
	"fmt"

	"github.com/ProjectRStore/itemsync/internal/action"
	"github.com/ProjectRStore/itemsync/internal/coordinator"
	"github.com/ProjectRStore/itemsync/internal/pose"
	"github.com/ProjectRStore/itemsync/pkg/core"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

var (
	// ErrNotJoined means the relay has not welcomed this peer yet.
	ErrNotJoined = errors.New("not joined to a session")
	// ErrNoAnchor means the hand is not tracked.
	ErrNoAnchor = errors.New("hand is not tracked")
	// ErrNothingNearby means no free holdable object is within grab range.
	ErrNothingNearby = errors.New("nothing to grab nearby")
	// ErrGrabPending means the hand's previous grab has not come back from the relay.
	ErrGrabPending = errors.New("grab already pending for this hand")
	// ErrHandFull means the hand already holds something.
	ErrHandFull = errors.New("hand already holds an object")
	// ErrEmptyHand means the hand holds nothing.
	ErrEmptyHand = errors.New("hand holds nothing")
	// ErrUnknownItem means the catalog has no such entry.
	ErrUnknownItem = errors.New("unknown catalog item")
	// ErrInsufficientFunds means the wallet cannot cover the price.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// FeedbackKind names a user-facing signal.
type FeedbackKind string

const (
	FeedbackGrabbed       FeedbackKind = "grabbed"
	FeedbackGrabRejected  FeedbackKind = "grab_rejected"
	FeedbackReleased      FeedbackKind = "released"
	FeedbackActionRefused FeedbackKind = "action_refused"
	FeedbackArbitration   FeedbackKind = "arbitration"
	FeedbackBalance       FeedbackKind = "balance"
)

// Feedback is an explicit signal for the UI or haptics layer.
type Feedback struct {
	Kind   FeedbackKind
	Object core.ObjectID
	Hand   core.Hand
	Err    error
	Result *streaming.ArbitrationResultPayload
}

// TryGrabNearest asks to grab the closest free holdable object within reach
// of hand. The hold is only recorded when the relay echoes the grab back.
func (s *Session) TryGrabNearest(hand core.Hand) (core.ObjectID, error) {
	local := s.Local()
	if local == core.NoActor {
		return core.NoObject, ErrNotJoined
	}
	if _, ok := s.pending[hand]; ok {
		return core.NoObject, ErrGrabPending
	}
	if _, ok := s.table.InHand(local, hand); ok {
		return core.NoObject, ErrHandFull
	}
	anchor, ok := s.deps.Anchors.Anchor(hand)
	if !ok {
		return core.NoObject, ErrNoAnchor
	}

	obj, ok := s.world.Nearest(anchor.Position, s.cfg.GrabRadius, func(o *core.Interactable) bool {
		if !o.Holdable || !o.ID.Valid() {
			return false
		}
		_, held := s.table.HolderOf(o.ID)
		return !held
	})
	if !ok {
		return core.NoObject, ErrNothingNearby
	}

	offset := pose.OffsetFrom(anchor, obj.Body.Pose())
	pos, rot := streaming.WirePose(offset)
	msg := streaming.Broadcast(streaming.TypeGrab, streaming.GrabPayload{
		ObjectID:  obj.ID,
		Actor:     local,
		Hand:      hand,
		OffsetPos: pos,
		OffsetRot: rot,
	})
	if err := s.deps.Transport.Send(msg); err != nil {
		return core.NoObject, fmt.Errorf("sending grab: %w", err)
	}
	s.pending[hand] = pendingGrab{object: obj.ID, sent: s.deps.Now()}
	return obj.ID, nil
}

// ReleaseHeld lets go of whatever hand holds, throwing it with the hand's
// current velocity. A final pose sync precedes the release so every peer
// frees the object at the holder's pose.
func (s *Session) ReleaseHeld(hand core.Hand) (core.ObjectID, error) {
	local := s.Local()
	if local == core.NoActor {
		return core.NoObject, ErrNotJoined
	}
	rec, ok := s.table.InHand(local, hand)
	if !ok {
		return core.NoObject, ErrEmptyHand
	}

	if err := s.sendPoseSync(rec.Object); err != nil {
		s.logger.Warn("Final pose sync failed", "object", rec.Object, "error", err)
	}
	lin, ang := s.tracker.Velocity(hand)
	msg := streaming.Broadcast(streaming.TypeRelease, streaming.ReleasePayload{
		ObjectID:        rec.Object,
		Velocity:        streaming.WireVec(lin),
		AngularVelocity: streaming.WireVec(ang),
	})
	if err := s.deps.Transport.Send(msg); err != nil {
		return core.NoObject, fmt.Errorf("sending release: %w", err)
	}
	return rec.Object, nil
}

// SendAction activates the object in hand on every peer.
func (s *Session) SendAction(hand core.Hand, kind core.ActionKind, value float64, mode action.Mode) (action.Report, error) {
	local := s.Local()
	if local == core.NoActor {
		return action.Report{}, ErrNotJoined
	}
	rec, ok := s.table.InHand(local, hand)
	if !ok {
		return action.Report{}, ErrEmptyHand
	}
	rep, err := s.actions.Send(local, rec.Object, kind, value, mode)
	if errors.Is(err, action.ErrNotHolder) {
		s.notify(Feedback{Kind: FeedbackActionRefused, Object: rec.Object, Hand: hand, Err: err})
	}
	return rep, err
}

// RequestSell presses a sell machine button.
func (s *Session) RequestSell(button int) (string, error) {
	return s.request(streaming.RequestSell, streaming.ArbitrationParams{Button: button})
}

// RequestPurchase buys a catalog item. The balance is checked locally first;
// the debit arrives as a private result.
func (s *Session) RequestPurchase(index int) (string, error) {
	item, ok := s.vending.Item(index)
	if !ok {
		return "", fmt.Errorf("catalog index %d: %w", index, ErrUnknownItem)
	}
	if !s.wallet.CanAfford(item.Price) {
		return "", fmt.Errorf("%s costs %d, balance %d: %w", item.Prefab, item.Price, s.wallet.Balance(), ErrInsufficientFunds)
	}
	return s.request(streaming.RequestPurchase, streaming.ArbitrationParams{CatalogIndex: index, Prefab: item.Prefab})
}

// RequestSpawn asks the coordinator for a fresh ID and, once issued, spawns
// prefab at the given pose for every peer.
func (s *Session) RequestSpawn(prefab string, at core.Pose) (string, error) {
	return s.requestWith(streaming.RequestSpawnID, streaming.ArbitrationParams{Prefab: prefab},
		func(res streaming.ArbitrationResultPayload) {
			if res.Outcome != streaming.OutcomeAccepted || len(res.Params.ObjectIDs) == 0 {
				return
			}
			pos, rot := streaming.WirePose(at)
			msg := streaming.Broadcast(streaming.TypeSpawnAssign, streaming.SpawnAssignPayload{
				SpawnIndex: int(res.Params.Sequence),
				ObjectID:   res.Params.ObjectIDs[0],
				Prefab:     prefab,
				Source:     coordinator.SourceSpawnID,
				Position:   pos,
				Rotation:   rot,
			})
			msg.Buffered = true
			if err := s.deps.Transport.Send(msg); err != nil {
				s.logger.Warn("Spawn announce failed", "object", res.Params.ObjectIDs[0], "error", err)
			}
		})
}

func (s *Session) request(kind streaming.RequestKind, params streaming.ArbitrationParams) (string, error) {
	return s.requestWith(kind, params, nil)
}

func (s *Session) requestWith(kind streaming.RequestKind, params streaming.ArbitrationParams, then func(streaming.ArbitrationResultPayload)) (string, error) {
	if s.Local() == core.NoActor {
		return "", ErrNotJoined
	}
	return s.arbiter.Request(kind, params, func(res streaming.ArbitrationResultPayload, err error) {
		s.notify(Feedback{Kind: FeedbackArbitration, Err: err, Result: &res})
		if err == nil && then != nil {
			then(res)
		}
	})
}

// IsHeldByOther reports whether another actor holds id.
func (s *Session) IsHeldByOther(id core.ObjectID) bool {
	holder, ok := s.table.HolderOf(id)
	return ok && holder != s.Local()
}

// Holding returns the object in hand.
func (s *Session) Holding(hand core.Hand) (core.ObjectID, bool) {
	rec, ok := s.table.InHand(s.Local(), hand)
	return rec.Object, ok
}

// HolderOf returns who holds id in this peer's view.
func (s *Session) HolderOf(id core.ObjectID) (core.ActorID, bool) {
	return s.table.HolderOf(id)
}

// Balance returns the local wallet balance.
func (s *Session) Balance() int {
	return s.wallet.Balance()
}

// Sell returns the sell machine state as this peer sees it.
func (s *Session) Sell() streaming.SellSnapshotPayload {
	return s.sell.Snapshot()
}
