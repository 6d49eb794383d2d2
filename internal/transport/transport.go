// Package transport is the peer side of the session channel. Outbound
// messages are sealed and sent right away; inbound envelopes wait in an
// inbox until the frame loop drains them.
package transport

import (
	"errors"

	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// Transport carries envelopes between a peer and the relay.
type Transport interface {
	// Send seals msg and hands it to the relay. It never blocks on the network.
	Send(msg streaming.Message) error
	// Drain returns every envelope received since the previous call, in
	// arrival order.
	Drain() []streaming.Envelope
	Close() error
}
