// Package latejoin brings newly joined peers up to date. The coordinator
// pushes one snapshot per object; the joiner applies them without ever
// overriding a hold it already knows about.
package latejoin

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ProjectRStore/itemsync/pkg/core"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

// ErrUnresolved means the snapshot's object does not exist locally yet; the
// snapshot stays pending until Retry finds it.
var ErrUnresolved = errors.New("snapshot target not resolvable")

// Objects lists every live object on this peer.
type Objects interface {
	Objects() []*core.Interactable
}

// Resolver finds live objects by ID.
type Resolver interface {
	Resolve(id core.ObjectID) (*core.Interactable, bool)
}

// Holds is the part of the hold table late-join needs.
type Holds interface {
	Get(id core.ObjectID) (core.HoldRecord, bool)
	ApplyGrab(rec core.HoldRecord, obj *core.Interactable) error
}

// Sender puts a message on the session channel.
type Sender interface {
	Send(msg streaming.Message) error
}

// Build returns the snapshot of one object.
func Build(obj *core.Interactable, holds Holds) streaming.SnapshotPushPayload {
	p := streaming.SnapshotPushPayload{ObjectID: obj.ID}
	if obj.Body != nil {
		p.Position, p.Rotation = streaming.WirePose(obj.Body.Pose())
		lin, ang := obj.Body.Velocity()
		p.Velocity = streaming.WireVec(lin)
		p.AngularVelocity = streaming.WireVec(ang)
		p.Kinematic = obj.Body.Kinematic()
	}
	if rec, ok := holds.Get(obj.ID); ok {
		p.HolderActor = rec.Holder
		p.Hand = rec.Hand
		p.OffsetPos, p.OffsetRot = streaming.WirePose(rec.Offset)
	}
	return p
}

// Pusher runs on the coordinator and answers joins with snapshots.
type Pusher struct {
	objects Objects
	holds   Holds
	sender  Sender
	logger  *slog.Logger
}

// NewPusher creates a pusher.
func NewPusher(objects Objects, holds Holds, sender Sender, logger *slog.Logger) *Pusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pusher{objects: objects, holds: holds, sender: sender, logger: logger}
}

// PeerJoined sends one SnapshotPush per live object to actor only, in ID
// order, then a SnapshotDone closing the set.
func (p *Pusher) PeerJoined(actor core.ActorID) (int, error) {
	objs := p.objects.Objects()
	sort.Slice(objs, func(i, j int) bool { return objs[i].ID < objs[j].ID })

	sent := 0
	for _, obj := range objs {
		if !obj.Alive() || !obj.ID.Valid() {
			continue
		}
		msg := streaming.ToActor(actor, streaming.TypeSnapshotPush, Build(obj, p.holds))
		if err := p.sender.Send(msg); err != nil {
			return sent, fmt.Errorf("pushing snapshot of %d to %d: %w", obj.ID, actor, err)
		}
		sent++
	}
	done := streaming.ToActor(actor, streaming.TypeSnapshotDone, streaming.SnapshotDonePayload{Objects: sent})
	if err := p.sender.Send(done); err != nil {
		return sent, fmt.Errorf("closing snapshot set for %d: %w", actor, err)
	}
	p.logger.Info("Pushed late-join snapshot", "actor", actor, "objects", sent)
	return sent, nil
}

// Reconciler applies snapshots on the joining peer.
type Reconciler struct {
	resolver Resolver
	holds    Holds
	logger   *slog.Logger
	pending  map[core.ObjectID]streaming.SnapshotPushPayload
}

// NewReconciler creates a reconciler.
func NewReconciler(resolver Resolver, holds Holds, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		resolver: resolver,
		holds:    holds,
		logger:   logger,
		pending:  make(map[core.ObjectID]streaming.SnapshotPushPayload),
	}
}

// Apply installs a snapshot. Unresolved objects are kept and retried.
func (r *Reconciler) Apply(p streaming.SnapshotPushPayload) error {
	obj, ok := r.resolver.Resolve(p.ObjectID)
	if !ok || !obj.Alive() {
		r.pending[p.ObjectID] = p
		return ErrUnresolved
	}
	delete(r.pending, p.ObjectID)
	return r.apply(obj, p)
}

// Retry re-applies pending snapshots whose objects now resolve and returns
// how many were applied.
func (r *Reconciler) Retry() int {
	if len(r.pending) == 0 {
		return 0
	}
	ids := make([]core.ObjectID, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	applied := 0
	for _, id := range ids {
		if err := r.Apply(r.pending[id]); err == nil {
			applied++
		} else if !errors.Is(err, ErrUnresolved) {
			r.logger.Debug("Pending snapshot not applied", "object", id, "error", err)
		}
	}
	return applied
}

// Drop forgets a pending snapshot, e.g. after the object was destroyed.
func (r *Reconciler) Drop(id core.ObjectID) {
	delete(r.pending, id)
}

// Pending returns the number of snapshots waiting for their object.
func (r *Reconciler) Pending() int {
	return len(r.pending)
}

func (r *Reconciler) apply(obj *core.Interactable, p streaming.SnapshotPushPayload) error {
	if rec, held := r.holds.Get(p.ObjectID); held {
		if rec.Holder != p.HolderActor {
			r.logger.Debug("Snapshot kept local hold",
				"object", p.ObjectID, "localHolder", rec.Holder, "snapshotHolder", p.HolderActor)
		}
		return nil
	}

	if obj.Body != nil {
		obj.Body.SetPose(streaming.PoseOf(p.Position, p.Rotation))
	}

	if p.HolderActor != core.NoActor {
		rec := core.HoldRecord{
			Object: p.ObjectID,
			Holder: p.HolderActor,
			Hand:   p.Hand,
			Offset: streaming.PoseOf(p.OffsetPos, p.OffsetRot),
		}
		if err := r.holds.ApplyGrab(rec, obj); err != nil {
			return fmt.Errorf("installing snapshot hold: %w", err)
		}
		return nil
	}

	if obj.Body != nil {
		obj.Body.SetKinematic(p.Kinematic)
		obj.Body.SetVelocity(p.Velocity.Vec(), p.AngularVelocity.Vec())
	}
	return nil
}
