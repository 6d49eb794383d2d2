// Package action relays discrete interactions (secondary, trigger) from an
// object's holder to every other peer, and refuses them from anyone else.
package action

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/ProjectRStore/itemsync/pkg/core"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

var (
	// ErrNotHolder means the local actor tried to act on an object it does not hold.
	ErrNotHolder = errors.New("local actor is not the holder")
	// ErrSpoofed means a received action came from someone other than the recorded holder.
	ErrSpoofed = errors.New("action sender is not the recorded holder")
	// ErrUnresolved means the target object is not instantiated locally.
	ErrUnresolved = errors.New("action target not resolvable")
	// ErrThrottled means a while-held action was sent faster than the configured interval.
	ErrThrottled = errors.New("action throttled")
)

// SecondaryActionable is implemented by components that react to the secondary action.
type SecondaryActionable interface {
	OnSecondary(value float64) error
}

// TriggerActionable is implemented by components that react to the trigger action.
type TriggerActionable interface {
	OnTrigger(value float64) error
}

// Mode controls how often an action may be sent.
type Mode int

const (
	// OnPress sends once per press, unthrottled.
	OnPress Mode = iota
	// WhileHeld repeats while the input is held, at most once per interval.
	WhileHeld
)

// Holders answers who holds an object.
type Holders interface {
	HolderOf(id core.ObjectID) (core.ActorID, bool)
}

// Resolver finds live objects by ID.
type Resolver interface {
	Resolve(id core.ObjectID) (*core.Interactable, bool)
}

// Sender puts a message on the session channel.
type Sender interface {
	Send(msg streaming.Message) error
}

// Dependencies holds all dependencies for the relay.
type Dependencies struct {
	Holders  Holders
	Resolver Resolver
	Sender   Sender
	Logger   *slog.Logger
	Now      func() time.Time

	// Interval is the minimum spacing of WhileHeld sends per object and kind.
	Interval time.Duration
}

// Report is the outcome of dispatching one action locally.
type Report struct {
	Invoked int
	Errors  []error
}

// Err joins the handler errors, nil if every handler succeeded.
func (r Report) Err() error {
	return errors.Join(r.Errors...)
}

type limiterKey struct {
	object core.ObjectID
	kind   core.ActionKind
}

// Relay sends and receives actions.
type Relay struct {
	deps     Dependencies
	limiters map[limiterKey]*rate.Limiter
}

// NewRelay creates a relay.
func NewRelay(deps Dependencies) *Relay {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Relay{
		deps:     deps,
		limiters: make(map[limiterKey]*rate.Limiter),
	}
}

// Send runs the action locally and then forwards it to the other peers.
// It is refused unless local is the recorded holder of id.
func (r *Relay) Send(local core.ActorID, id core.ObjectID, kind core.ActionKind, value float64, mode Mode) (Report, error) {
	holder, ok := r.deps.Holders.HolderOf(id)
	if !ok || holder != local {
		return Report{}, fmt.Errorf("action %s on %d: %w", kind, id, ErrNotHolder)
	}
	if mode == WhileHeld && !r.allow(id, kind) {
		return Report{}, ErrThrottled
	}

	var rep Report
	if obj, ok := r.deps.Resolver.Resolve(id); ok {
		rep = Dispatch(obj, kind, value)
		r.logFailures(id, kind, rep)
	}

	msg := streaming.ToOthers(streaming.TypeAction, streaming.ActionPayload{ObjectID: id, Kind: kind, Value: value})
	if err := r.deps.Sender.Send(msg); err != nil {
		return rep, fmt.Errorf("sending action: %w", err)
	}
	return rep, nil
}

// Receive applies an action broadcast by sender. Actions from anyone but
// the locally recorded holder are dropped without invoking any handler.
func (r *Relay) Receive(sender core.ActorID, p streaming.ActionPayload) (Report, error) {
	holder, ok := r.deps.Holders.HolderOf(p.ObjectID)
	if !ok || holder != sender {
		r.deps.Logger.Warn("Dropped action from non-holder",
			"object", p.ObjectID, "kind", p.Kind, "sender", sender, "holder", holder)
		return Report{}, ErrSpoofed
	}

	obj, ok := r.deps.Resolver.Resolve(p.ObjectID)
	if !ok {
		r.deps.Logger.Debug("Action target not resolvable", "object", p.ObjectID)
		return Report{}, ErrUnresolved
	}

	rep := Dispatch(obj, p.Kind, p.Value)
	r.logFailures(p.ObjectID, p.Kind, rep)
	return rep, nil
}

// Forget drops rate-limit state for an object, e.g. after release.
func (r *Relay) Forget(id core.ObjectID) {
	for key := range r.limiters {
		if key.object == id {
			delete(r.limiters, key)
		}
	}
}

func (r *Relay) allow(id core.ObjectID, kind core.ActionKind) bool {
	if r.deps.Interval <= 0 {
		return true
	}
	key := limiterKey{object: id, kind: kind}
	lim, ok := r.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(r.deps.Interval), 1)
		r.limiters[key] = lim
	}
	return lim.AllowN(r.deps.Now(), 1)
}

func (r *Relay) logFailures(id core.ObjectID, kind core.ActionKind, rep Report) {
	for _, err := range rep.Errors {
		r.deps.Logger.Error("Action handler failed", "object", id, "kind", kind, "error", err)
	}
}

// Dispatch invokes every component of obj that implements the capability for
// kind. A failing or panicking handler does not stop the others.
func Dispatch(obj *core.Interactable, kind core.ActionKind, value float64) Report {
	var rep Report
	for _, c := range obj.Components {
		var call func(float64) error
		switch kind {
		case core.ActionSecondary:
			if h, ok := c.(SecondaryActionable); ok {
				call = h.OnSecondary
			}
		case core.ActionTrigger:
			if h, ok := c.(TriggerActionable); ok {
				call = h.OnTrigger
			}
		}
		if call == nil {
			continue
		}
		rep.Invoked++
		if err := invoke(call, value); err != nil {
			rep.Errors = append(rep.Errors, err)
		}
	}
	return rep
}

func invoke(call func(float64) error, value float64) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return call(value)
}
