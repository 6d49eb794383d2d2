// Package relay is the session fan-out point. It numbers actors, elects the
// coordinator, stamps every envelope with its sender and routes it by target.
// All routing in a session happens under one lock, so every peer sees
// broadcasts in the same order.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ProjectRStore/itemsync/internal/storage"
	"github.com/ProjectRStore/itemsync/pkg/core"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

const instrumentationName = "github.com/ProjectRStore/itemsync/internal/relay"

var (
	// ErrRelayOnly means a peer tried to send a message only the relay may originate.
	ErrRelayOnly = errors.New("message type is reserved for the relay")
	// ErrUnknownSession means the session has no connected peers.
	ErrUnknownSession = errors.New("unknown session")
	// ErrUnknownActor means the addressed actor is not connected.
	ErrUnknownActor = errors.New("unknown actor")
)

var relayOnly = map[string]bool{
	streaming.TypeWelcome:            true,
	streaming.TypePeerJoined:         true,
	streaming.TypePeerLeft:           true,
	streaming.TypeCoordinatorChanged: true,
}

// Peer is the outbound side of one connection. Deliver must not block.
// Preload queues the join backlog, the welcome and every replayed message,
// ahead of anything delivered later. It must not block or drop.
type Peer interface {
	Deliver(env streaming.Envelope) error
	Preload(envs []streaming.Envelope) error
}

type room struct {
	name        string
	next        core.ActorID
	peers       map[core.ActorID]Peer
	coordinator core.ActorID

	// keys of buffered messages that only matter while the object exists
	keyed map[core.ObjectID][]string
}

func (r *room) actors() []core.ActorID {
	out := make([]core.ActorID, 0, len(r.peers))
	for a := range r.peers {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dependencies holds what a Hub needs.
type Dependencies struct {
	Store  storage.Backend
	Codec  streaming.Codec
	Logger *slog.Logger
}

// Hub routes envelopes between the peers of every session.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
	deps  Dependencies

	routed   metric.Int64Counter
	rejected metric.Int64Counter
}

// NewHub creates a hub. A nil store keeps nothing for late joiners.
func NewHub(deps Dependencies) (*Hub, error) {
	if deps.Codec == nil {
		deps.Codec = streaming.JSONCodec{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &Hub{rooms: make(map[string]*room), deps: deps}

	m := otel.Meter(instrumentationName)
	var err error
	h.routed, err = m.Int64Counter("relay.envelopes.routed",
		metric.WithDescription("Envelopes delivered to peers"))
	if err != nil {
		return nil, fmt.Errorf("creating routed counter: %w", err)
	}
	h.rejected, err = m.Int64Counter("relay.envelopes.rejected",
		metric.WithDescription("Envelopes refused by the relay"))
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}
	return h, nil
}

// Join adds a peer, assigns its actor number and sends it the welcome
// followed by every buffered message of the session.
func (h *Hub) Join(session string, p Peer) (core.ActorID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[session]
	if !ok {
		r = &room{name: session, peers: make(map[core.ActorID]Peer), keyed: make(map[core.ObjectID][]string)}
		h.rooms[session] = r
	}
	others := r.actors()
	r.next++
	actor := r.next
	r.peers[actor] = p
	if r.coordinator == core.NoActor {
		r.coordinator = actor
	}

	welcome, err := h.relayMessage(streaming.ToActor(actor, streaming.TypeWelcome, streaming.WelcomePayload{
		Session:     session,
		Actor:       actor,
		Coordinator: r.coordinator,
		Peers:       others,
	}))
	if err != nil {
		delete(r.peers, actor)
		return core.NoActor, err
	}

	backlog := []streaming.Envelope{welcome}
	if h.deps.Store != nil {
		buffered, err := h.deps.Store.Buffered(session)
		if err != nil {
			h.deps.Logger.Error("Loading buffered messages failed", "session", session, "error", err)
		}
		for _, env := range buffered {
			env.Replay = true
			backlog = append(backlog, env)
		}
	}
	if err := p.Preload(backlog); err != nil {
		delete(r.peers, actor)
		if len(r.peers) == 0 {
			delete(h.rooms, session)
		} else if r.coordinator == actor {
			r.coordinator = r.actors()[0]
		}
		return core.NoActor, fmt.Errorf("preloading join backlog: %w", err)
	}
	for _, env := range backlog {
		h.routed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", env.Type)))
	}
	if len(backlog) > 1 {
		h.deps.Logger.Debug("Replayed buffered messages", "session", session, "actor", actor, "count", len(backlog)-1)
	}

	joined, err := h.relayMessage(streaming.ToOthers(streaming.TypePeerJoined, streaming.PeerPayload{Actor: actor}))
	if err != nil {
		return actor, err
	}
	for _, a := range others {
		h.deliver(r, a, r.peers[a], joined)
	}

	h.deps.Logger.Info("Peer joined", "session", session, "actor", actor, "coordinator", r.coordinator, "peers", len(r.peers))
	return actor, nil
}

// Leave removes a peer. The lowest remaining actor takes over as
// coordinator when the coordinator leaves. The last peer leaving closes
// the session and drops its buffered messages.
func (h *Hub) Leave(session string, actor core.ActorID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[session]
	if !ok {
		return
	}
	if _, ok := r.peers[actor]; !ok {
		return
	}
	delete(r.peers, actor)

	if len(r.peers) == 0 {
		delete(h.rooms, session)
		if h.deps.Store != nil {
			if err := h.deps.Store.DropSession(session); err != nil {
				h.deps.Logger.Error("Dropping session storage failed", "session", session, "error", err)
			}
		}
		h.deps.Logger.Info("Session closed", "session", session)
		return
	}

	left, err := h.relayMessage(streaming.Broadcast(streaming.TypePeerLeft, streaming.PeerPayload{Actor: actor}))
	if err == nil {
		h.broadcast(r, left)
	}

	if r.coordinator == actor {
		r.coordinator = r.actors()[0]
		changed, err := h.relayMessage(streaming.Broadcast(streaming.TypeCoordinatorChanged,
			streaming.CoordinatorChangedPayload{Coordinator: r.coordinator}))
		if err == nil {
			h.broadcast(r, changed)
		}
		h.deps.Logger.Info("Coordinator migrated", "session", session, "from", actor, "to", r.coordinator)
	}
	h.deps.Logger.Info("Peer left", "session", session, "actor", actor, "peers", len(r.peers))
}

// Route stamps env with its sender, stores it when buffered and delivers
// it to its targets. It returns the number of peers reached.
func (h *Hub) Route(session string, from core.ActorID, env streaming.Envelope) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[session]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSession, session)
	}
	if _, ok := r.peers[from]; !ok {
		return 0, fmt.Errorf("%w: %d is not in %s", ErrUnknownActor, from, session)
	}
	if relayOnly[env.Type] {
		h.rejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", env.Type)))
		return 0, fmt.Errorf("%w: %s from %d", ErrRelayOnly, env.Type, from)
	}
	env.From = from
	env.Replay = false
	env.ByCoordinator = from == r.coordinator

	if env.Buffered && h.deps.Store != nil {
		h.buffer(r, env)
	}

	switch env.Target {
	case streaming.TargetAll, "":
		return h.broadcast(r, env), nil
	case streaming.TargetOthers:
		n := 0
		for _, a := range r.actors() {
			if a != from && h.deliver(r, a, r.peers[a], env) {
				n++
			}
		}
		return n, nil
	case streaming.TargetActor:
		p, ok := r.peers[env.To]
		if !ok {
			return 0, fmt.Errorf("%w: %d", ErrUnknownActor, env.To)
		}
		if h.deliver(r, env.To, p, env) {
			return 1, nil
		}
		return 0, nil
	case streaming.TargetCoordinator:
		env.To = r.coordinator
		if h.deliver(r, r.coordinator, r.peers[r.coordinator], env) {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown target %q", env.Target)
	}
}

// Coordinator returns the session's coordinator, or NoActor.
func (h *Hub) Coordinator(session string) core.ActorID {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[session]; ok {
		return r.coordinator
	}
	return core.NoActor
}

// Peers returns the connected actors of a session in ascending order.
func (h *Hub) Peers(session string) []core.ActorID {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[session]; ok {
		return r.actors()
	}
	return nil
}

// Sessions returns the number of open sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// buffer stores env for late joiners. Only the coordinator's messages are
// kept, except spawns peers perform with an issued ID. Keys are assigned
// here: spawns and ID issues are keyed per object and dropped together with
// the destroy that consumes the object.
func (h *Hub) buffer(r *room, env streaming.Envelope) {
	var object core.ObjectID
	switch env.Type {
	case streaming.TypeSpawnAssign:
		p, err := streaming.Open[streaming.SpawnAssignPayload](h.deps.Codec, env)
		if err != nil {
			h.refuse(r, env, err.Error())
			return
		}
		switch {
		case p.Source == streaming.SourceSpawnID:
			env.Key = fmt.Sprintf("spawn/%d/%d", env.From, p.ObjectID)
			object = p.ObjectID
		case !env.ByCoordinator:
			h.refuse(r, env, "spawn by non-coordinator")
			return
		case p.Source == streaming.SourceVending:
			env.Key = fmt.Sprintf("spawn/%d/%d", env.From, p.ObjectID)
			object = p.ObjectID
		default:
			// Loot spawns stay: their index carries the spawner's count.
			env.Key = ""
		}

	case streaming.TypeArbitrationResult:
		if !env.ByCoordinator {
			h.refuse(r, env, "result by non-coordinator")
			return
		}
		p, err := streaming.Open[streaming.ArbitrationResultPayload](h.deps.Codec, env)
		if err != nil || p.Private || len(p.Params.ObjectIDs) != 1 {
			h.refuse(r, env, "only single-object public results are kept")
			return
		}
		object = p.Params.ObjectIDs[0]
		env.Key = fmt.Sprintf("issue/%d", object)

	case streaming.TypeDestroy:
		if !env.ByCoordinator {
			h.refuse(r, env, "destroy by non-coordinator")
			return
		}
		p, err := streaming.Open[streaming.DestroyPayload](h.deps.Codec, env)
		if err != nil {
			h.refuse(r, env, err.Error())
			return
		}
		kept := h.compact(r, p.ObjectIDs)
		if len(kept) == 0 {
			return
		}
		if len(kept) < len(p.ObjectIDs) {
			sealed, err := streaming.Seal(h.deps.Codec, streaming.Broadcast(streaming.TypeDestroy, streaming.DestroyPayload{ObjectIDs: kept}))
			if err != nil {
				h.refuse(r, env, err.Error())
				return
			}
			env.Payload = sealed.Payload
		}
		env.Key = ""

	default:
		if !env.ByCoordinator {
			h.refuse(r, env, "buffered by non-coordinator")
			return
		}
	}

	if err := h.deps.Store.AppendBuffered(r.name, env); err != nil {
		h.deps.Logger.Error("Buffering message failed", "session", r.name, "type", env.Type, "error", err)
		return
	}
	if object != core.NoObject {
		r.keyed[object] = append(r.keyed[object], env.Key)
	}
}

// compact clears the stored spawn of every destroyed object and returns the
// IDs a late joiner still needs to hear about.
func (h *Hub) compact(r *room, ids []core.ObjectID) []core.ObjectID {
	var kept []core.ObjectID
	for _, id := range ids {
		keys, ok := r.keyed[id]
		if !ok {
			kept = append(kept, id)
			continue
		}
		delete(r.keyed, id)
		for _, k := range keys {
			if err := h.deps.Store.ClearBuffered(r.name, k); err != nil {
				h.deps.Logger.Error("Compacting buffered spawn failed", "session", r.name, "key", k, "error", err)
			}
		}
	}
	return kept
}

func (h *Hub) refuse(r *room, env streaming.Envelope, reason string) {
	h.rejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", env.Type)))
	h.deps.Logger.Warn("Not buffering message", "session", r.name, "type", env.Type, "from", env.From, "reason", reason)
}

func (h *Hub) broadcast(r *room, env streaming.Envelope) int {
	n := 0
	for _, a := range r.actors() {
		if h.deliver(r, a, r.peers[a], env) {
			n++
		}
	}
	return n
}

func (h *Hub) deliver(r *room, actor core.ActorID, p Peer, env streaming.Envelope) bool {
	if p == nil {
		return false
	}
	if err := p.Deliver(env); err != nil {
		h.deps.Logger.Warn("Delivery failed", "session", r.name, "actor", actor, "type", env.Type, "error", err)
		return false
	}
	h.routed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", env.Type)))
	return true
}

func (h *Hub) relayMessage(msg streaming.Message) (streaming.Envelope, error) {
	env, err := streaming.Seal(h.deps.Codec, msg)
	if err != nil {
		return streaming.Envelope{}, fmt.Errorf("sealing %s: %w", msg.Type, err)
	}
	env.From = core.NoActor
	return env, nil
}
