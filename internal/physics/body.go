// Package physics provides a small rigid-body stand-in for peers that run
// without a game engine: headless peers, the relay's soak tests, unit tests.
package physics

import (
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ProjectRStore/itemsync/pkg/core"
)

// Gravity is the downward acceleration applied to non-kinematic bodies.
var Gravity = mgl64.Vec3{0, -9.81, 0}

// SimBody is an explicit-Euler body with a ground plane at y = 0.
type SimBody struct {
	pose       core.Pose
	linear     mgl64.Vec3
	angular    mgl64.Vec3
	kinematic  bool
	useGravity bool
}

var _ core.Body = (*SimBody)(nil)

// NewSimBody creates a dynamic, gravity-affected body at the given pose.
func NewSimBody(p core.Pose) *SimBody {
	return &SimBody{pose: p, useGravity: true}
}

func (b *SimBody) Pose() core.Pose      { return b.pose }
func (b *SimBody) SetPose(p core.Pose)  { b.pose = p }
func (b *SimBody) Kinematic() bool      { return b.kinematic }
func (b *SimBody) SetKinematic(k bool)  { b.kinematic = k }
func (b *SimBody) UseGravity() bool     { return b.useGravity }
func (b *SimBody) SetUseGravity(g bool) { b.useGravity = g }

func (b *SimBody) Velocity() (mgl64.Vec3, mgl64.Vec3) {
	return b.linear, b.angular
}

func (b *SimBody) SetVelocity(linear, angular mgl64.Vec3) {
	b.linear = linear
	b.angular = angular
}

// Step advances the body by dt seconds. Kinematic bodies only move when posed.
func (b *SimBody) Step(dt float64) {
	if b.kinematic || dt <= 0 {
		return
	}
	if b.useGravity {
		b.linear = b.linear.Add(Gravity.Mul(dt))
	}
	b.pose.Position = b.pose.Position.Add(b.linear.Mul(dt))
	if b.pose.Position[1] < 0 {
		b.pose.Position[1] = 0
		b.linear = mgl64.Vec3{b.linear[0] * 0.5, 0, b.linear[2] * 0.5}
		b.angular = b.angular.Mul(0.5)
	}

	if w := b.angular.Len(); w > 1e-9 {
		spin := mgl64.QuatRotate(w*dt, b.angular.Mul(1/w))
		b.pose.Rotation = spin.Mul(b.pose.Rotation).Normalize()
	}
}

// Resting reports whether the body is on the ground and nearly still.
func (b *SimBody) Resting() bool {
	return b.pose.Position[1] <= 0 && b.linear.Len() < 0.05 && math.Abs(b.angular.Len()) < 0.05
}

// World steps a set of bodies together.
type World struct {
	mu     sync.Mutex
	bodies []*SimBody
}

// NewWorld creates an empty world.
func NewWorld() *World {
	return &World{}
}

// Add registers a body and returns it.
func (w *World) Add(b *SimBody) *SimBody {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bodies = append(w.bodies, b)
	return b
}

// Remove unregisters a body.
func (w *World) Remove(b *SimBody) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, other := range w.bodies {
		if other == b {
			w.bodies = append(w.bodies[:i], w.bodies[i+1:]...)
			return
		}
	}
}

// Step advances every body.
func (w *World) Step(dt float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range w.bodies {
		b.Step(dt)
	}
}

// Len returns the number of bodies.
func (w *World) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.bodies)
}
