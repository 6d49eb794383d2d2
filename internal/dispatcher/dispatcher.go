package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ProjectRStore/itemsync/pkg/core"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

const instrumentationName = "github.com/ProjectRStore/itemsync/internal/dispatcher"

// Event is one inbound envelope and the actor the relay says sent it.
type Event struct {
	Type      string
	From      core.ActorID
	Envelope  streaming.Envelope
	Timestamp time.Time
}

// NewEvent wraps a received envelope.
func NewEvent(env streaming.Envelope, at time.Time) Event {
	return Event{Type: env.Type, From: env.From, Envelope: env, Timestamp: at}
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// KeyFunc names what an event updates. An empty key never coalesces.
type KeyFunc func(Event) string

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*route)

type route struct {
	handler  HandlerFunc
	logged   bool
	coalesce KeyFunc
}

// Logged adds debug logging around the handler and logs its errors.
func Logged() Option {
	return func(r *route) { r.logged = true }
}

// Coalesce keeps, within one batch, only the last event of this type per
// key. Use it for state that later events fully overwrite, like a pose.
func Coalesce(key KeyFunc) Option {
	return func(r *route) { r.coalesce = key }
}

// BySender coalesces per sending actor.
func BySender(e Event) string {
	return fmt.Sprint(e.From)
}

// Summary counts one DispatchAll.
type Summary struct {
	Dispatched int // handlers invoked
	Failed     int // of which returned an error
	Superseded int // skipped for a later event with the same key
	Unknown    int // no handler registered
}

// Dispatcher routes events to registered handlers by message type. It is
// used from a single goroutine, the peer's frame loop.
type Dispatcher struct {
	routes map[string]*route
	logger Logger

	processed  metric.Int64Counter
	failed     metric.Int64Counter
	superseded metric.Int64Counter
}

// New creates a Dispatcher. Metrics go to the global OTel meter, a no-op
// unless one is installed.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{routes: make(map[string]*route), logger: logger}
	m := otel.Meter(instrumentationName)

	var err error
	d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Envelopes handed to a handler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"dispatcher.events.failed",
		metric.WithDescription("Envelopes whose handler returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	d.superseded, err = m.Int64Counter(
		"dispatcher.events.superseded",
		metric.WithDescription("Envelopes skipped for a newer one in the same frame"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating superseded counter: %w", err)
	}
	return d, nil
}

// Register adds a handler for the given message type, replacing any earlier one.
func (d *Dispatcher) Register(typ string, h HandlerFunc, opts ...Option) {
	r := &route{handler: h}
	for _, opt := range opts {
		opt(r)
	}
	d.routes[typ] = r
}

// HasHandler returns true if a handler is registered for the message type.
func (d *Dispatcher) HasHandler(typ string) bool {
	_, ok := d.routes[typ]
	return ok
}

// Dispatch routes one event to its handler.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	r, ok := d.routes[e.Type]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", e.Type)
	}
	return d.run(r, e)
}

// DispatchAll handles a frame's events in arrival order. Events without a
// handler are skipped and coalesced types run only their last event per key.
func (d *Dispatcher) DispatchAll(events []Event) Summary {
	var sum Summary
	last := d.lastByKey(events)
	for i, e := range events {
		r, ok := d.routes[e.Type]
		if !ok {
			sum.Unknown++
			d.logger.Debug("no handler for envelope", "type", e.Type, "from", e.From)
			continue
		}
		if r.coalesce != nil {
			if k := r.coalesce(e); k != "" && last[e.Type+"\x00"+k] != i {
				sum.Superseded++
				d.superseded.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", e.Type)))
				continue
			}
		}
		sum.Dispatched++
		if _, err := d.run(r, e); err != nil {
			sum.Failed++
		}
	}
	return sum
}

func (d *Dispatcher) lastByKey(events []Event) map[string]int {
	var last map[string]int
	for i, e := range events {
		r, ok := d.routes[e.Type]
		if !ok || r.coalesce == nil {
			continue
		}
		k := r.coalesce(e)
		if k == "" {
			continue
		}
		if last == nil {
			last = make(map[string]int)
		}
		last[e.Type+"\x00"+k] = i
	}
	return last
}

func (d *Dispatcher) run(r *route, e Event) (any, error) {
	typeAttr := metric.WithAttributes(attribute.String("type", e.Type))
	start := time.Now()
	if r.logged {
		d.logger.Debug("handling envelope", "type", e.Type, "from", e.From, "bytes", len(e.Envelope.Payload))
	}

	result, err := r.handler(e)
	d.processed.Add(context.Background(), 1, typeAttr)

	switch {
	case err != nil:
		d.failed.Add(context.Background(), 1, typeAttr)
		if r.logged {
			d.logger.Error("envelope failed", "type", e.Type, "from", e.From, "duration", time.Since(start), "error", err)
		}
	case r.logged:
		d.logger.Debug("envelope complete", "type", e.Type, "from", e.From, "duration", time.Since(start))
	}
	return result, err
}
