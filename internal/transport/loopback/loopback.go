// Package loopback attaches a peer straight to an in-process relay hub.
// It runs whole sessions inside one process without sockets.
package loopback

import (
	"sync"

	"github.com/ProjectRStore/itemsync/internal/queue"
	"github.com/ProjectRStore/itemsync/internal/relay"
	"github.com/ProjectRStore/itemsync/internal/transport"
	"github.com/ProjectRStore/itemsync/pkg/core"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

// Transport is one peer's connection to a Hub.
type Transport struct {
	hub     *relay.Hub
	session string
	codec   streaming.Codec
	inbox   *queue.Queue[streaming.Envelope]

	mu     sync.Mutex
	actor  core.ActorID
	closed bool
}

var _ transport.Transport = (*Transport)(nil)

// Dial joins session on hub. The welcome is already in the inbox when it returns.
func Dial(hub *relay.Hub, session string, codec streaming.Codec) (*Transport, error) {
	if codec == nil {
		codec = streaming.JSONCodec{}
	}
	t := &Transport{hub: hub, session: session, codec: codec, inbox: queue.New[streaming.Envelope]()}
	actor, err := hub.Join(session, inboxPeer{t.inbox})
	if err != nil {
		return nil, err
	}
	t.actor = actor
	return t, nil
}

// Actor returns the actor number the hub assigned.
func (t *Transport) Actor() core.ActorID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.actor
}

// Send seals msg and routes it through the hub.
func (t *Transport) Send(msg streaming.Message) error {
	t.mu.Lock()
	closed, actor := t.closed, t.actor
	t.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	env, err := streaming.Seal(t.codec, msg)
	if err != nil {
		return err
	}
	_, err = t.hub.Route(t.session, actor, env)
	return err
}

// Drain returns everything delivered since the last call.
func (t *Transport) Drain() []streaming.Envelope {
	return t.inbox.Drain()
}

// Close leaves the session.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	actor := t.actor
	t.mu.Unlock()

	t.hub.Leave(t.session, actor)
	return nil
}

type inboxPeer struct {
	inbox *queue.Queue[streaming.Envelope]
}

func (p inboxPeer) Deliver(env streaming.Envelope) error {
	p.inbox.Push(env)
	return nil
}

func (p inboxPeer) Preload(envs []streaming.Envelope) error {
	p.inbox.Push(envs...)
	return nil
}
