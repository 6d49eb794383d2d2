// Package pose drives held objects from the holder's own tracked anchors.
// Nothing here touches the network: held objects are posed locally every frame.
package pose

import (
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ProjectRStore/itemsync/pkg/core"
)

// Compose places an offset expressed in the anchor's frame into world space.
func Compose(anchor, offset core.Pose) core.Pose {
	return core.Pose{
		Position: anchor.Position.Add(anchor.Rotation.Rotate(offset.Position)),
		Rotation: anchor.Rotation.Mul(offset.Rotation).Normalize(),
	}
}

// OffsetFrom is the inverse of Compose: where world sits in the anchor's frame.
func OffsetFrom(anchor, world core.Pose) core.Pose {
	inv := anchor.Rotation.Inverse()
	return core.Pose{
		Position: inv.Rotate(world.Position.Sub(anchor.Position)),
		Rotation: inv.Mul(world.Rotation).Normalize(),
	}
}

// AnchorSource yields the local peer's tracked hand poses.
type AnchorSource interface {
	Anchor(hand core.Hand) (core.Pose, bool)
}

// Resolver finds live objects by ID.
type Resolver interface {
	Resolve(id core.ObjectID) (*core.Interactable, bool)
}

// Holds is the subset of the hold table the driver needs.
type Holds interface {
	HeldBy(actor core.ActorID) []core.HoldRecord
	Object(id core.ObjectID) *core.Interactable
	Bind(id core.ObjectID, obj *core.Interactable) bool
}

// Report summarises one Drive pass.
type Report struct {
	Driven     int
	Unresolved int
	NoAnchor   int
}

// Driver poses the objects held by the local actor.
type Driver struct {
	holds    Holds
	resolver Resolver
	anchors  AnchorSource
	logger   *slog.Logger
}

// NewDriver creates a pose driver.
func NewDriver(holds Holds, resolver Resolver, anchors AnchorSource, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{holds: holds, resolver: resolver, anchors: anchors, logger: logger}
}

// Drive runs once per frame. Only records held by local are driven, and only
// from local's own anchors.
func (d *Driver) Drive(local core.ActorID) Report {
	var rep Report
	for _, rec := range d.holds.HeldBy(local) {
		obj := d.holds.Object(rec.Object)
		if !obj.Alive() {
			resolved, ok := d.resolver.Resolve(rec.Object)
			if !ok {
				rep.Unresolved++
				continue
			}
			// Bind re-freezes before the first driven frame so the object never free-falls.
			d.holds.Bind(rec.Object, resolved)
			obj = resolved
		}
		if obj.Body == nil {
			rep.Unresolved++
			continue
		}

		anchor, ok := d.anchors.Anchor(rec.Hand)
		if !ok {
			rep.NoAnchor++
			continue
		}
		obj.Body.SetPose(Compose(anchor, rec.Offset))
		rep.Driven++
	}
	return rep
}

// Lerp moves a fraction t of the way from a to b.
func Lerp(a, b core.Pose, t float64) core.Pose {
	t = mgl64.Clamp(t, 0, 1)
	return core.Pose{
		Position: a.Position.Add(b.Position.Sub(a.Position).Mul(t)),
		Rotation: mgl64.QuatNlerp(a.Rotation, b.Rotation, t),
	}
}
