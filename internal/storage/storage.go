// Package storage persists the relay's buffered messages so a session's
// spawns and sell machine state survive for late joiners.
package storage

import "github.com/ProjectRStore/itemsync/pkg/streaming"

// Backend is the interface all storage implementations must satisfy.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// AppendBuffered stores env for replay. When env.Key is set it replaces
	// any earlier message with the same key in that session.
	AppendBuffered(session string, env streaming.Envelope) error
	// Buffered returns a session's messages in the order they were stored.
	Buffered(session string) ([]streaming.Envelope, error)
	// ClearBuffered removes the keyed message of a session.
	ClearBuffered(session, key string) error
	// DropSession forgets everything stored for a session.
	DropSession(session string) error
}
