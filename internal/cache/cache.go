package cache

import (
	"sync"
)

// Bounded is a thread-safe map that keeps at most capacity entries,
// evicting the oldest insertion first.
type Bounded[K comparable, V any] struct {
	mu       sync.RWMutex
	items    map[K]V
	order    []K
	capacity int
}

// NewBounded creates a Bounded cache. A capacity below 1 is treated as 1.
func NewBounded[K comparable, V any](capacity int) *Bounded[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[K, V]{
		items:    make(map[K]V, capacity),
		order:    make([]K, 0, capacity),
		capacity: capacity,
	}
}

// Get retrieves a value by key
func (c *Bounded[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// Set stores a value. Overwriting an existing key keeps its original age.
func (c *Bounded[K, V]) Set(key K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, v)
}

func (c *Bounded[K, V]) setLocked(key K, v V) {
	if _, ok := c.items[key]; !ok {
		c.order = append(c.order, key)
	}
	c.items[key] = v
	for len(c.items) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
}

// Delete removes a key
func (c *Bounded[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		return
	}
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of entries.
func (c *Bounded[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Reset clears all entries
func (c *Bounded[K, V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]V, c.capacity)
	c.order = c.order[:0]
}

// Seen remembers which keys have already been handled.
type Seen[K comparable] struct {
	b *Bounded[K, struct{}]
}

// NewSeen creates a Seen set remembering up to capacity keys.
func NewSeen[K comparable](capacity int) *Seen[K] {
	return &Seen[K]{b: NewBounded[K, struct{}](capacity)}
}

// Mark records key and reports whether it was new.
func (s *Seen[K]) Mark(key K) bool {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if _, ok := s.b.items[key]; ok {
		return false
	}
	s.b.setLocked(key, struct{}{})
	return true
}

// Has reports whether key was marked.
func (s *Seen[K]) Has(key K) bool {
	_, ok := s.b.Get(key)
	return ok
}

// Reset forgets every key.
func (s *Seen[K]) Reset() {
	s.b.Reset()
}

// SafeCounter is a thread-safe counter
type SafeCounter struct {
	mu sync.Mutex
	v  int
}

func (c *SafeCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *SafeCounter) Set(v int) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

func (c *SafeCounter) Inc() {
	c.mu.Lock()
	c.v++
	c.mu.Unlock()
}
