// Package registry maps object IDs to the live local objects a peer has instantiated.
package registry

import (
	"sync"
	"time"

	"github.com/ProjectRStore/itemsync/pkg/core"
)

// DefaultMinRebuildInterval bounds how often a non-forced rebuild may rescan the scene.
const DefaultMinRebuildInterval = 500 * time.Millisecond

// Source enumerates the objects currently instantiated on this peer.
type Source interface {
	Objects() []*core.Interactable
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithMinRebuildInterval overrides DefaultMinRebuildInterval.
func WithMinRebuildInterval(d time.Duration) Option {
	return func(r *Registry) {
		r.minInterval = d
	}
}

// Registry caches ID to object lookups. A miss is never final: Resolve
// rescans the scene (time-gated, then forced) before reporting NotFound.
type Registry struct {
	mu          sync.Mutex
	source      Source
	objects     map[core.ObjectID]*core.Interactable
	lastRebuild time.Time
	minInterval time.Duration
	now         func() time.Time

	rebuilds   int
	duplicates int
}

// New creates a registry over the given source. The cache starts empty.
func New(source Source, opts ...Option) *Registry {
	r := &Registry{
		source:      source,
		objects:     make(map[core.ObjectID]*core.Interactable),
		minInterval: DefaultMinRebuildInterval,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the live object for id: cache hit, else a time-gated
// rebuild, else one forced rebuild.
func (r *Registry) Resolve(id core.ObjectID) (*core.Interactable, bool) {
	if !id.Valid() {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if obj, ok := r.lookup(id); ok {
		return obj, true
	}
	if r.rebuild(false) {
		if obj, ok := r.lookup(id); ok {
			return obj, true
		}
	}
	r.rebuild(true)
	return r.lookup(id)
}

// Peek returns a cached entry without rescanning.
func (r *Registry) Peek(id core.ObjectID) (*core.Interactable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(id)
}

// Rebuild rescans the source. Without force it is skipped when the last
// rebuild was less than the minimum interval ago. Reports whether it ran.
func (r *Registry) Rebuild(force bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rebuild(force)
}

// Forget drops a consumed object from the cache.
func (r *Registry) Forget(id core.ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, id)
}

// Len returns the number of cached objects.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}

// Rebuilds returns how many rescans have run.
func (r *Registry) Rebuilds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rebuilds
}

// Duplicates returns how many objects were skipped during the last rebuild
// because another live object already had their ID.
func (r *Registry) Duplicates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duplicates
}

func (r *Registry) lookup(id core.ObjectID) (*core.Interactable, bool) {
	obj, ok := r.objects[id]
	if !ok {
		return nil, false
	}
	if !obj.Alive() {
		delete(r.objects, id)
		return nil, false
	}
	return obj, true
}

func (r *Registry) rebuild(force bool) bool {
	now := r.now()
	if !force && !r.lastRebuild.IsZero() && now.Sub(r.lastRebuild) < r.minInterval {
		return false
	}

	objects := make(map[core.ObjectID]*core.Interactable, len(r.objects))
	duplicates := 0
	for _, obj := range r.source.Objects() {
		if !obj.Alive() || !obj.ID.Valid() {
			continue
		}
		// First wins so lookups stay stable across rebuilds.
		if _, exists := objects[obj.ID]; exists {
			duplicates++
			continue
		}
		objects[obj.ID] = obj
	}

	r.objects = objects
	r.duplicates = duplicates
	r.lastRebuild = now
	r.rebuilds++
	return true
}
