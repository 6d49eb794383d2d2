package scene

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ProjectRStore/itemsync/internal/coordinator"
	"github.com/ProjectRStore/itemsync/internal/physics"
	"github.com/ProjectRStore/itemsync/pkg/core"
)

var (
	// ErrExists means an object with the same ID is already alive.
	ErrExists = errors.New("object already exists")
	// ErrUnknownPrefab means the prefab is not declared in the manifest.
	ErrUnknownPrefab = errors.New("unknown prefab")
)

// World is the local scene: every live object, simulated by SimBodies.
type World struct {
	mu      sync.RWMutex
	scene   string
	prefabs map[string]Prefab
	objects map[core.ObjectID]*core.Interactable
	bodies  map[core.ObjectID]*physics.SimBody
	physics *physics.World
}

// NewWorld creates an empty world.
func NewWorld(scene string, prefabs map[string]Prefab) *World {
	if prefabs == nil {
		prefabs = map[string]Prefab{}
	}
	return &World{
		scene:   scene,
		prefabs: prefabs,
		objects: make(map[core.ObjectID]*core.Interactable),
		bodies:  make(map[core.ObjectID]*physics.SimBody),
		physics: physics.NewWorld(),
	}
}

// Scene returns the scene name.
func (w *World) Scene() string {
	return w.scene
}

// Place instantiates a prefab under a fixed ID.
func (w *World) Place(prefab, name string, id core.ObjectID, at core.Pose) (*core.Interactable, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("placing %s: zero object id", prefab)
	}
	p, ok := w.prefabs[prefab]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownPrefab, prefab)
	}
	components, err := NewComponents(p.Components)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if existing, ok := w.objects[id]; ok && existing.Alive() {
		return nil, fmt.Errorf("%w: %d (%s)", ErrExists, id, existing.Name)
	}

	body := w.physics.Add(physics.NewSimBody(at))
	obj := &core.Interactable{
		ID:                id,
		Name:              name,
		Prefab:            prefab,
		Holdable:          p.Holdable,
		BuyPrice:          p.BuyPrice,
		SellPriceOverride: p.SellPrice,
		Body:              body,
		Components:        components,
	}
	w.objects[id] = obj
	w.bodies[id] = body
	return obj, nil
}

// Spawn instantiates a coordinator-assigned object. Spawning an ID that is
// already alive returns the existing object and ErrExists, so replays of
// buffered spawns are harmless.
func (w *World) Spawn(prefab string, id core.ObjectID, at core.Pose) (*core.Interactable, error) {
	w.mu.RLock()
	existing, ok := w.objects[id]
	w.mu.RUnlock()
	if ok && existing.Alive() {
		return existing, ErrExists
	}
	return w.Place(prefab, prefab, id, at)
}

// Destroy removes a consumed object.
func (w *World) Destroy(id core.ObjectID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	obj, ok := w.objects[id]
	if !ok {
		return false
	}
	obj.Destroy()
	if body, ok := w.bodies[id]; ok {
		w.physics.Remove(body)
	}
	delete(w.objects, id)
	delete(w.bodies, id)
	return true
}

// Get returns a live object.
func (w *World) Get(id core.ObjectID) (*core.Interactable, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	obj, ok := w.objects[id]
	return obj, ok && obj.Alive()
}

// Objects returns every live object in ID order.
func (w *World) Objects() []*core.Interactable {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*core.Interactable, 0, len(w.objects))
	for _, obj := range w.objects {
		if obj.Alive() {
			out = append(out, obj)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live objects.
func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.objects)
}

// Nearest returns the closest object within radius that accept admits.
// Ties go to the lower ID.
func (w *World) Nearest(center mgl64.Vec3, radius float64, accept func(*core.Interactable) bool) (*core.Interactable, bool) {
	var best *core.Interactable
	bestD := radius * radius
	for _, obj := range w.Objects() {
		if obj.Body == nil || (accept != nil && !accept(obj)) {
			continue
		}
		d := obj.Body.Pose().Position.Sub(center)
		if dd := d.Dot(d); dd <= bestD && (best == nil || dd < bestD) {
			best, bestD = obj, dd
		}
	}
	return best, best != nil
}

// AnyWithin reports whether any object sits within radius of center.
func (w *World) AnyWithin(center mgl64.Vec3, radius float64) bool {
	_, ok := w.Nearest(center, radius, nil)
	return ok
}

// InZone returns the live objects inside z.
func (w *World) InZone(z coordinator.Zone) []*core.Interactable {
	var out []*core.Interactable
	for _, obj := range w.Objects() {
		if obj.Body != nil && z.Contains(obj.Body.Pose().Position) {
			out = append(out, obj)
		}
	}
	return out
}

// Step advances the simulation.
func (w *World) Step(dt float64) {
	w.physics.Step(dt)
}
