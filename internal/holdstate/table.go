// Package holdstate keeps the per-peer table of who holds which object and
// applies the Free -> Held -> Free transitions with their physics side effects.
package holdstate

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ProjectRStore/itemsync/pkg/core"
)

var (
	// ErrMissingIdentity means the object has no assigned ID.
	ErrMissingIdentity = errors.New("object has no identity")
	// ErrHeldByOther means a different actor already holds the object.
	ErrHeldByOther = errors.New("object held by another actor")
)

// Rejection describes a grab that lost against an existing hold.
type Rejection struct {
	Object   core.ObjectID
	Holder   core.ActorID
	Claimant core.ActorID
	Hand     core.Hand
}

func (r Rejection) Error() string {
	return fmt.Sprintf("grab of %d by actor %d rejected: held by actor %d", r.Object, r.Claimant, r.Holder)
}

// Unwrap lets errors.Is match ErrHeldByOther.
func (r Rejection) Unwrap() error {
	return ErrHeldByOther
}

type physicsFlags struct {
	kinematic  bool
	useGravity bool
}

type entry struct {
	record core.HoldRecord
	object *core.Interactable
	prev   physicsFlags
	frozen bool
}

// Table is one peer's view of the session's holds. It is owned by the
// frame loop and is not safe for concurrent use.
type Table struct {
	entries  map[core.ObjectID]*entry
	logger   *slog.Logger
	onReject func(Rejection)
}

// NewTable creates an empty table.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		entries: make(map[core.ObjectID]*entry),
		logger:  logger,
	}
}

// OnReject registers a callback for grabs that lose to an existing holder.
func (t *Table) OnReject(fn func(Rejection)) {
	t.onReject = fn
}

// ApplyGrab moves an object to Held. A re-grab by the current holder updates
// the hand and offset. obj may be nil when the object is not resolvable yet;
// Bind freezes it once it appears.
func (t *Table) ApplyGrab(rec core.HoldRecord, obj *core.Interactable) error {
	if !rec.Object.Valid() {
		return ErrMissingIdentity
	}

	if e, ok := t.entries[rec.Object]; ok {
		if e.record.Holder != rec.Holder {
			rej := Rejection{Object: rec.Object, Holder: e.record.Holder, Claimant: rec.Holder, Hand: rec.Hand}
			t.logger.Debug("Grab rejected", "object", rec.Object, "holder", e.record.Holder, "claimant", rec.Holder)
			if t.onReject != nil {
				t.onReject(rej)
			}
			return rej
		}
		e.record = rec
		if obj != nil && e.object == nil {
			e.object = obj
		}
		t.freeze(e)
		return nil
	}

	e := &entry{record: rec, object: obj}
	t.entries[rec.Object] = e
	t.freeze(e)
	t.logger.Debug("Object held", "object", rec.Object, "holder", rec.Holder, "hand", rec.Hand)
	return nil
}

// ApplyRelease moves an object back to Free and launches it with the given
// velocities. Releasing a free object is a no-op, so duplicates are harmless.
func (t *Table) ApplyRelease(id core.ObjectID, linear, angular mgl64.Vec3) (core.HoldRecord, bool) {
	e, ok := t.entries[id]
	if !ok {
		return core.HoldRecord{}, false
	}
	delete(t.entries, id)
	t.unfreeze(e, linear, angular)
	t.logger.Debug("Object released", "object", id, "holder", e.record.Holder)
	return e.record, true
}

// DropActor releases everything the actor held, in place and without velocity.
func (t *Table) DropActor(actor core.ActorID) []core.ObjectID {
	var dropped []core.ObjectID
	for id, e := range t.entries {
		if e.record.Holder != actor {
			continue
		}
		delete(t.entries, id)
		t.unfreeze(e, mgl64.Vec3{}, mgl64.Vec3{})
		dropped = append(dropped, id)
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i] < dropped[j] })
	if len(dropped) > 0 {
		t.logger.Info("Cleared holds of departed actor", "actor", actor, "objects", len(dropped))
	}
	return dropped
}

// Forget removes a record without touching physics, for objects that were consumed.
func (t *Table) Forget(id core.ObjectID) bool {
	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}

// Bind attaches a late-resolved object to its record and freezes it.
func (t *Table) Bind(id core.ObjectID, obj *core.Interactable) bool {
	e, ok := t.entries[id]
	if !ok || obj == nil {
		return false
	}
	if e.object != obj {
		e.object = obj
		e.frozen = false
	}
	t.freeze(e)
	return true
}

// Get returns the record for id.
func (t *Table) Get(id core.ObjectID) (core.HoldRecord, bool) {
	e, ok := t.entries[id]
	if !ok {
		return core.HoldRecord{}, false
	}
	return e.record, true
}

// HolderOf returns the actor holding id.
func (t *Table) HolderOf(id core.ObjectID) (core.ActorID, bool) {
	e, ok := t.entries[id]
	if !ok {
		return core.NoActor, false
	}
	return e.record.Holder, true
}

// Object returns the bound object for id, nil if not bound yet.
func (t *Table) Object(id core.ObjectID) *core.Interactable {
	if e, ok := t.entries[id]; ok {
		return e.object
	}
	return nil
}

// InHand returns what the actor holds in the given hand.
func (t *Table) InHand(actor core.ActorID, hand core.Hand) (core.HoldRecord, bool) {
	for _, rec := range t.HeldBy(actor) {
		if rec.Hand == hand {
			return rec, true
		}
	}
	return core.HoldRecord{}, false
}

// HeldBy returns the actor's records ordered by object ID.
func (t *Table) HeldBy(actor core.ActorID) []core.HoldRecord {
	var out []core.HoldRecord
	for _, e := range t.entries {
		if e.record.Holder == actor {
			out = append(out, e.record)
		}
	}
	sortRecords(out)
	return out
}

// Records returns every record ordered by object ID.
func (t *Table) Records() []core.HoldRecord {
	out := make([]core.HoldRecord, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.record)
	}
	sortRecords(out)
	return out
}

// Len returns the number of held objects.
func (t *Table) Len() int {
	return len(t.entries)
}

func sortRecords(recs []core.HoldRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Object < recs[j].Object })
}

// freeze remembers the body's flags once and parks it: kinematic, no gravity, still.
func (t *Table) freeze(e *entry) {
	if e.object == nil || e.object.Body == nil {
		return
	}
	body := e.object.Body
	if !e.frozen {
		e.prev = physicsFlags{kinematic: body.Kinematic(), useGravity: body.UseGravity()}
		e.frozen = true
	}
	body.SetKinematic(true)
	body.SetUseGravity(false)
	body.SetVelocity(mgl64.Vec3{}, mgl64.Vec3{})
}

func (t *Table) unfreeze(e *entry, linear, angular mgl64.Vec3) {
	if e.object == nil || e.object.Body == nil || !e.frozen {
		return
	}
	body := e.object.Body
	body.SetKinematic(e.prev.kinematic)
	body.SetUseGravity(e.prev.useGravity)
	body.SetVelocity(linear, angular)
}
