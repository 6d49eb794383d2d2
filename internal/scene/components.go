package scene

import (
	"fmt"
	"sync"
)

// Toggle flips on every secondary action, like a lamp switch.
type Toggle struct {
	mu sync.Mutex
	on bool
}

func (t *Toggle) OnSecondary(float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.on = !t.on
	return nil
}

// On reports the current state.
func (t *Toggle) On() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.on
}

// Counter accumulates trigger presses, e.g. a spray can.
type Counter struct {
	mu      sync.Mutex
	presses int
	total   float64
}

func (c *Counter) OnTrigger(v float64) error {
	if v < 0 {
		return fmt.Errorf("counter: negative trigger value %v", v)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presses++
	c.total += v
	return nil
}

// Presses returns the number of accepted presses and the summed values.
func (c *Counter) Presses() (int, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presses, c.total
}

var componentFactories = map[string]func() any{
	"toggle":  func() any { return &Toggle{} },
	"counter": func() any { return &Counter{} },
}

// NewComponents builds fresh component instances by name.
func NewComponents(names []string) ([]any, error) {
	out := make([]any, 0, len(names))
	for _, name := range names {
		f, ok := componentFactories[name]
		if !ok {
			return nil, fmt.Errorf("unknown component %q", name)
		}
		out = append(out, f())
	}
	return out, nil
}
