// Package coordinator resolves operations that must happen exactly once per
// session. Every peer runs an Arbiter; only the one whose actor is the
// current coordinator answers requests.
package coordinator

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ProjectRStore/itemsync/internal/cache"
	"github.com/ProjectRStore/itemsync/pkg/core"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

var (
	// ErrNoCoordinator means no coordinator is known yet.
	ErrNoCoordinator = errors.New("no coordinator elected")
	// ErrAbandoned is delivered to pending requests when the coordinator migrates.
	ErrAbandoned = errors.New("request abandoned by coordinator migration")
	// ErrNotCoordinator means a request reached a peer that is not the coordinator.
	ErrNotCoordinator = errors.New("local peer is not the coordinator")
	// ErrSpoofed means the claimed requester or result author does not match the sender.
	ErrSpoofed = errors.New("sender does not match claimed identity")
)

// servedCapacity bounds the de-duplication memory of served request IDs.
const servedCapacity = 512

// Roster reports the session facts arbitration consumes.
type Roster interface {
	Local() core.ActorID
	Coordinator() core.ActorID
}

// Sender puts a message on the session channel.
type Sender interface {
	Send(msg streaming.Message) error
}

// Decision is what a Resolver decided for one request.
type Decision struct {
	Outcome streaming.Outcome
	Reason  string
	Params  streaming.ArbitrationParams

	// Private, when set, is sent only to the requester after the public result.
	Private *streaming.ArbitrationParams

	// Effects are sent before the public result.
	Effects []streaming.Message

	// Buffered keeps the public result for late joiners.
	Buffered bool
}

// Accept builds an accepted decision.
func Accept(params streaming.ArbitrationParams) Decision {
	return Decision{Outcome: streaming.OutcomeAccepted, Params: params}
}

// Reject builds a rejected decision.
func Reject(reason string) Decision {
	return Decision{Outcome: streaming.OutcomeRejected, Reason: reason}
}

// Resolver decides requests of one kind on the coordinator.
type Resolver interface {
	Resolve(now time.Time, req streaming.ArbitrationRequestPayload) Decision
}

// Ticker is implemented by coordinator-side state machines that advance with time.
type Ticker interface {
	Tick(now time.Time) []streaming.Message
}

// Resetter is implemented by coordinator-side state that restarts when this
// peer takes over the coordinator role.
type Resetter interface {
	Reset(now time.Time) []streaming.Message
}

// Callback receives the public outcome of a request this peer made, or
// ErrAbandoned.
type Callback func(res streaming.ArbitrationResultPayload, err error)

type pendingRequest struct {
	kind streaming.RequestKind
	cb   Callback
	sent time.Time
}

// Arbiter sends this peer's requests and, while coordinator, serves everyone's.
type Arbiter struct {
	roster Roster
	sender Sender
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	resolvers map[streaming.RequestKind]Resolver
	tickers   []Ticker
	resetters []Resetter

	pending  map[string]pendingRequest
	served   *cache.Bounded[string, []streaming.ArbitrationResultPayload]
	observer func(streaming.ArbitrationResultPayload)
	private  func(streaming.ArbitrationResultPayload)

	servedCount   int
	rejectedCount int
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Arbiter) { a.now = now }
}

// WithIDs injects the request ID generator.
func WithIDs(newID func() string) Option {
	return func(a *Arbiter) { a.newID = newID }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Arbiter) { a.logger = l }
}

// NewArbiter creates an arbiter.
func NewArbiter(roster Roster, sender Sender, opts ...Option) *Arbiter {
	a := &Arbiter{
		roster:    roster,
		sender:    sender,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
		resolvers: make(map[streaming.RequestKind]Resolver),
		pending:   make(map[string]pendingRequest),
		served:    cache.NewBounded[string, []streaming.ArbitrationResultPayload](servedCapacity),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register installs the resolver for a request kind. Resolvers that also
// implement Ticker or Resetter are driven by Tick and OnCoordinatorChanged.
func (a *Arbiter) Register(kind streaming.RequestKind, r Resolver) {
	a.resolvers[kind] = r
	a.track(r)
}

// AddTicker drives a coordinator-only state machine that serves no requests.
func (a *Arbiter) AddTicker(t Ticker) {
	a.track(t)
}

func (a *Arbiter) track(v any) {
	if t, ok := v.(Ticker); ok && !a.hasTicker(t) {
		a.tickers = append(a.tickers, t)
	}
	if r, ok := v.(Resetter); ok && !a.hasResetter(r) {
		a.resetters = append(a.resetters, r)
	}
}

func (a *Arbiter) hasTicker(t Ticker) bool {
	for _, x := range a.tickers {
		if x == t {
			return true
		}
	}
	return false
}

func (a *Arbiter) hasResetter(r Resetter) bool {
	for _, x := range a.resetters {
		if x == r {
			return true
		}
	}
	return false
}

// OnResult registers an observer for every public result from the coordinator.
func (a *Arbiter) OnResult(fn func(streaming.ArbitrationResultPayload)) {
	a.observer = fn
}

// OnPrivate registers the handler for private follow-ups addressed to this peer.
func (a *Arbiter) OnPrivate(fn func(streaming.ArbitrationResultPayload)) {
	a.private = fn
}

// IsCoordinator reports whether the local peer currently serves requests.
func (a *Arbiter) IsCoordinator() bool {
	c := a.roster.Coordinator()
	return c != core.NoActor && c == a.roster.Local()
}

// Request asks the coordinator to decide once. The coordinator may be the
// local peer; the request still travels through the relay.
func (a *Arbiter) Request(kind streaming.RequestKind, params streaming.ArbitrationParams, cb Callback) (string, error) {
	if a.roster.Coordinator() == core.NoActor {
		return "", ErrNoCoordinator
	}

	id := a.newID()
	req := streaming.ArbitrationRequestPayload{
		RequestID: id,
		Kind:      kind,
		Requester: a.roster.Local(),
		Params:    params,
	}
	a.pending[id] = pendingRequest{kind: kind, cb: cb, sent: a.now()}

	if err := a.sender.Send(streaming.ToCoordinator(streaming.TypeArbitrationRequest, req)); err != nil {
		delete(a.pending, id)
		return "", fmt.Errorf("sending %s request: %w", kind, err)
	}
	return id, nil
}

// HandleRequest serves a request from the wire. Only the coordinator answers;
// a repeated request ID replays the earlier results to the requester instead
// of deciding again.
func (a *Arbiter) HandleRequest(from core.ActorID, req streaming.ArbitrationRequestPayload) error {
	if !a.IsCoordinator() {
		return ErrNotCoordinator
	}
	if req.Requester != from {
		a.logger.Warn("Dropped arbitration request with spoofed requester",
			"requestId", req.RequestID, "kind", req.Kind, "claimed", req.Requester, "sender", from)
		return ErrSpoofed
	}

	if results, ok := a.served.Get(req.RequestID); ok {
		a.logger.Debug("Replaying served arbitration request", "requestId", req.RequestID, "kind", req.Kind)
		for _, res := range results {
			if err := a.sender.Send(streaming.ToActor(from, streaming.TypeArbitrationResult, res)); err != nil {
				return fmt.Errorf("replaying result: %w", err)
			}
		}
		return nil
	}

	var dec Decision
	if r, ok := a.resolvers[req.Kind]; ok {
		dec = r.Resolve(a.now(), req)
	} else {
		dec = Reject("unsupported")
	}

	for _, eff := range dec.Effects {
		if err := a.sender.Send(eff); err != nil {
			return fmt.Errorf("sending %s effect: %w", eff.Type, err)
		}
	}

	public := streaming.ArbitrationResultPayload{
		RequestID: req.RequestID,
		Kind:      req.Kind,
		Requester: req.Requester,
		Outcome:   dec.Outcome,
		Reason:    dec.Reason,
		Params:    dec.Params,
	}
	results := []streaming.ArbitrationResultPayload{public}
	msg := streaming.Broadcast(streaming.TypeArbitrationResult, public)
	msg.Buffered = dec.Buffered
	if err := a.sender.Send(msg); err != nil {
		return fmt.Errorf("sending result: %w", err)
	}

	if dec.Private != nil {
		priv := public
		priv.Params = *dec.Private
		priv.Private = true
		results = append(results, priv)
		if err := a.sender.Send(streaming.ToActor(req.Requester, streaming.TypeArbitrationResult, priv)); err != nil {
			return fmt.Errorf("sending private result: %w", err)
		}
	}

	a.served.Set(req.RequestID, results)
	if dec.Outcome == streaming.OutcomeRejected {
		a.rejectedCount++
	} else {
		a.servedCount++
	}
	a.logger.Debug("Arbitration served",
		"requestId", req.RequestID, "kind", req.Kind, "requester", req.Requester,
		"outcome", dec.Outcome, "reason", dec.Reason)
	return nil
}

// HandleResult applies a result from the wire. Results are accepted only
// from the current coordinator.
func (a *Arbiter) HandleResult(from core.ActorID, res streaming.ArbitrationResultPayload) error {
	if from != a.roster.Coordinator() {
		a.logger.Warn("Dropped arbitration result from non-coordinator",
			"requestId", res.RequestID, "sender", from, "coordinator", a.roster.Coordinator())
		return ErrSpoofed
	}

	if res.Private {
		if res.Requester != a.roster.Local() {
			return nil
		}
		if a.private != nil {
			a.private(res)
		}
		return nil
	}

	if a.observer != nil {
		a.observer(res)
	}
	if res.Requester != a.roster.Local() {
		return nil
	}
	if p, ok := a.pending[res.RequestID]; ok {
		delete(a.pending, res.RequestID)
		if p.cb != nil {
			p.cb(res, nil)
		}
	}
	return nil
}

// Tick advances coordinator-side state machines. Non-coordinators do nothing.
func (a *Arbiter) Tick(now time.Time) error {
	if !a.IsCoordinator() {
		return nil
	}
	var errs []error
	for _, t := range a.tickers {
		for _, msg := range t.Tick(now) {
			if err := a.sender.Send(msg); err != nil {
				errs = append(errs, fmt.Errorf("sending %s: %w", msg.Type, err))
			}
		}
	}
	return errors.Join(errs...)
}

// OnCoordinatorChanged abandons every pending request; callers must
// re-observe the new coordinator and ask again. If the local peer took over,
// coordinator-side state restarts.
func (a *Arbiter) OnCoordinatorChanged(now time.Time) error {
	ids := make([]string, 0, len(a.pending))
	for id := range a.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := a.pending[id]
		delete(a.pending, id)
		a.logger.Info("Abandoned arbitration request", "requestId", id, "kind", p.kind)
		if p.cb != nil {
			p.cb(streaming.ArbitrationResultPayload{RequestID: id, Kind: p.kind}, ErrAbandoned)
		}
	}

	if !a.IsCoordinator() {
		return nil
	}
	var errs []error
	for _, r := range a.resetters {
		for _, msg := range r.Reset(now) {
			if err := a.sender.Send(msg); err != nil {
				errs = append(errs, fmt.Errorf("sending %s: %w", msg.Type, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Pending returns the number of requests awaiting a result.
func (a *Arbiter) Pending() int {
	return len(a.pending)
}

// Served returns how many requests this peer accepted and rejected as coordinator.
func (a *Arbiter) Served() (accepted, rejected int) {
	return a.servedCount, a.rejectedCount
}
