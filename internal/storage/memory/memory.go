// Package memory keeps buffered messages in process memory. Everything is
// lost when the relay stops.
package memory

import (
	"sync"

	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

// Backend stores buffered messages per session.
type Backend struct {
	mu       sync.RWMutex
	sessions map[string][]streaming.Envelope
}

// New creates a new memory backend.
func New() *Backend {
	return &Backend{sessions: make(map[string][]streaming.Envelope)}
}

// Init initializes the backend.
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = make(map[string][]streaming.Envelope)
	return nil
}

// AppendBuffered stores env, replacing an earlier message with the same key.
func (b *Backend) AppendBuffered(session string, env streaming.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.sessions[session]
	if env.Key != "" {
		msgs = without(msgs, env.Key)
	}
	b.sessions[session] = append(msgs, env)
	return nil
}

// Buffered returns a copy of the session's messages.
func (b *Backend) Buffered(session string) ([]streaming.Envelope, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	msgs := b.sessions[session]
	out := make([]streaming.Envelope, len(msgs))
	copy(out, msgs)
	return out, nil
}

// ClearBuffered removes the keyed message.
func (b *Backend) ClearBuffered(session, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msgs, ok := b.sessions[session]; ok {
		b.sessions[session] = without(msgs, key)
	}
	return nil
}

// DropSession forgets a session.
func (b *Backend) DropSession(session string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, session)
	return nil
}

// Sessions returns the number of sessions with stored messages.
func (b *Backend) Sessions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

func without(msgs []streaming.Envelope, key string) []streaming.Envelope {
	out := msgs[:0]
	for _, m := range msgs {
		if m.Key != key {
			out = append(out, m)
		}
	}
	return out
}
