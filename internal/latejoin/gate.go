package latejoin

import "time"

// Gate holds back hold-changing messages on a joining peer until the
// coordinator's snapshot set is complete. The relay routes them after the
// join, so they are newer than every snapshot and replay on top of it.
type Gate[T any] struct {
	timeout time.Duration
	waiting bool
	since   time.Time
	held    []T
}

// NewGate creates an open gate. A waiting gate gives up after timeout.
func NewGate[T any](timeout time.Duration) *Gate[T] {
	return &Gate[T]{timeout: timeout}
}

// Close starts waiting for a snapshot set and discards anything held.
func (g *Gate[T]) Close(now time.Time) {
	g.waiting = true
	g.since = now
	g.held = nil
}

// Hold keeps v while the gate is closed and reports whether it did.
func (g *Gate[T]) Hold(v T) bool {
	if !g.waiting {
		return false
	}
	g.held = append(g.held, v)
	return true
}

// Open stops waiting and returns what was held, oldest first.
func (g *Gate[T]) Open() []T {
	out := g.held
	g.waiting = false
	g.held = nil
	return out
}

func (g *Gate[T]) Waiting() bool {
	return g.waiting
}

// Expired reports whether a closed gate has waited longer than its timeout.
func (g *Gate[T]) Expired(now time.Time) bool {
	return g.waiting && g.timeout > 0 && now.Sub(g.since) >= g.timeout
}

// Len returns the number of held messages.
func (g *Gate[T]) Len() int {
	return len(g.held)
}
