package pose

import (
	"math"

	"github.com/ProjectRStore/itemsync/pkg/core"
)

// DefaultMirrorRate is how quickly mirrored objects converge on the holder's reported pose, per second.
const DefaultMirrorRate = 12.0

// Mirror smooths objects held by remote actors toward the pose their holder
// last reported. Remote holders never stream poses per frame; targets arrive
// with the holder's low-rate pose sync.
type Mirror struct {
	targets map[core.ObjectID]core.Pose
	rate    float64
}

// NewMirror creates a mirror converging at rate per second. Zero means DefaultMirrorRate.
func NewMirror(rate float64) *Mirror {
	if rate <= 0 {
		rate = DefaultMirrorRate
	}
	return &Mirror{targets: make(map[core.ObjectID]core.Pose), rate: rate}
}

// SetTarget records the latest pose reported by the holder.
func (m *Mirror) SetTarget(id core.ObjectID, p core.Pose) {
	m.targets[id] = p
}

// Clear drops the target, typically on release.
func (m *Mirror) Clear(id core.ObjectID) {
	delete(m.targets, id)
}

// Target returns the pending target for id.
func (m *Mirror) Target(id core.ObjectID) (core.Pose, bool) {
	p, ok := m.targets[id]
	return p, ok
}

// Len returns the number of mirrored objects.
func (m *Mirror) Len() int {
	return len(m.targets)
}

// Step eases every mirrored body toward its target. skip reports objects the
// local peer drives itself; those are never mirrored.
func (m *Mirror) Step(dt float64, resolver Resolver, skip func(core.ObjectID) bool) int {
	if dt <= 0 {
		return 0
	}
	alpha := 1 - math.Exp(-m.rate*dt)
	moved := 0
	for id, target := range m.targets {
		if skip != nil && skip(id) {
			continue
		}
		obj, ok := resolver.Resolve(id)
		if !ok || obj.Body == nil {
			continue
		}
		obj.Body.SetPose(Lerp(obj.Body.Pose(), target, alpha))
		moved++
	}
	return moved
}
