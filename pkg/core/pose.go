// pkg/core/pose.go
package core

import "github.com/go-gl/mathgl/mgl64"

// Pose is a rigid transform: position plus rotation.
type Pose struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// IdentityPose is the origin with no rotation.
func IdentityPose() Pose {
	return Pose{Rotation: mgl64.QuatIdent()}
}

// At returns an unrotated pose at the given position.
func At(x, y, z float64) Pose {
	return Pose{Position: mgl64.Vec3{x, y, z}, Rotation: mgl64.QuatIdent()}
}

// ApproxEqual compares positions and rotations within eps.
// q and -q describe the same rotation and compare equal.
func (p Pose) ApproxEqual(o Pose, eps float64) bool {
	if !p.Position.ApproxEqualThreshold(o.Position, eps) {
		return false
	}
	if p.Rotation.ApproxEqualThreshold(o.Rotation, eps) {
		return true
	}
	return p.Rotation.Scale(-1).ApproxEqualThreshold(o.Rotation, eps)
}

// HoldRecord says which actor carries an object, in which hand, and where
// the object sits in that hand's anchor frame.
type HoldRecord struct {
	Object ObjectID
	Holder ActorID
	Hand   Hand
	Offset Pose
}
