// pkg/core/interactable.go
package core

import "github.com/go-gl/mathgl/mgl64"

// Body is the physics collaborator boundary. The sync core only freezes,
// unfreezes, poses and launches bodies; simulation happens elsewhere.
type Body interface {
	Pose() Pose
	SetPose(Pose)
	Kinematic() bool
	SetKinematic(bool)
	UseGravity() bool
	SetUseGravity(bool)
	Velocity() (linear, angular mgl64.Vec3)
	SetVelocity(linear, angular mgl64.Vec3)
}

// Interactable is a movable object every peer mirrors locally.
type Interactable struct {
	ID                ObjectID
	Name              string
	Prefab            string
	Holdable          bool
	BuyPrice          int
	SellPriceOverride int
	Body              Body

	// Components are the behaviours attached to the object. The action relay
	// dispatches to every component implementing the requested capability.
	Components []any

	destroyed bool
}

// SellPrice is the payout when the object is sold.
func (o *Interactable) SellPrice() int {
	if o.SellPriceOverride > 0 {
		return o.SellPriceOverride
	}
	if o.BuyPrice <= 0 {
		return 0
	}
	return max(1, o.BuyPrice/20)
}

// Alive reports whether the object still exists in the local scene.
func (o *Interactable) Alive() bool {
	return o != nil && !o.destroyed
}

// Destroy marks the object consumed. Cached handles to it become misses.
func (o *Interactable) Destroy() {
	o.destroyed = true
}
