package pose

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ProjectRStore/itemsync/pkg/core"
)

type sample struct {
	pose  core.Pose
	valid bool
}

// Tracker estimates each hand's linear and angular velocity from successive
// anchor samples. The release velocity of a thrown object comes from here.
type Tracker struct {
	prev    [len(core.Hands)]sample
	linear  [len(core.Hands)]mgl64.Vec3
	angular [len(core.Hands)]mgl64.Vec3
}

// NewTracker creates a tracker with no history.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe records the hand's pose dt seconds after the previous sample.
func (t *Tracker) Observe(hand core.Hand, p core.Pose, dt float64) {
	h := int(hand)
	if h >= len(t.prev) {
		return
	}
	prev := t.prev[h]
	t.prev[h] = sample{pose: p, valid: true}
	if !prev.valid || dt <= 0 {
		t.linear[h] = mgl64.Vec3{}
		t.angular[h] = mgl64.Vec3{}
		return
	}

	t.linear[h] = p.Position.Sub(prev.pose.Position).Mul(1 / dt)

	delta := p.Rotation.Mul(prev.pose.Rotation.Inverse()).Normalize()
	if delta.W < 0 {
		delta = delta.Scale(-1)
	}
	angle := 2 * math.Acos(mgl64.Clamp(delta.W, -1, 1))
	s := math.Sqrt(1 - delta.W*delta.W)
	if angle < 1e-9 || s < 1e-9 {
		t.angular[h] = mgl64.Vec3{}
		return
	}
	t.angular[h] = delta.V.Mul(angle / (s * dt))
}

// Reset forgets the hand's history, e.g. when tracking is lost.
func (t *Tracker) Reset(hand core.Hand) {
	h := int(hand)
	if h >= len(t.prev) {
		return
	}
	t.prev[h] = sample{}
	t.linear[h] = mgl64.Vec3{}
	t.angular[h] = mgl64.Vec3{}
}

// Velocity returns the hand's latest linear and angular velocity estimate.
func (t *Tracker) Velocity(hand core.Hand) (linear, angular mgl64.Vec3) {
	h := int(hand)
	if h >= len(t.prev) {
		return mgl64.Vec3{}, mgl64.Vec3{}
	}
	return t.linear[h], t.angular[h]
}
