package session

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"

	"github.com/ProjectRStore/itemsync/internal/config"
	"github.com/ProjectRStore/itemsync/internal/relay"
	"github.com/ProjectRStore/itemsync/internal/scene"
	"github.com/ProjectRStore/itemsync/internal/storage/memory"
	"github.com/ProjectRStore/itemsync/internal/transport/loopback"
	"github.com/ProjectRStore/itemsync/pkg/core"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig() config.SessionConfig {
	return config.SessionConfig{
		Name:             "store",
		FrameRate:        60,
		ActionInterval:   100 * time.Millisecond,
		PoseSyncInterval: 100 * time.Millisecond,
		PresenceInterval: 200 * time.Millisecond,
		GrabRadius:       1,
		StartingBalance:  100,
	}
}

type peer struct {
	*Session
	anchors  *Anchors
	tr       *loopback.Transport
	feedback []Feedback
}

func (p *peer) feedbackOf(kind FeedbackKind) []Feedback {
	var out []Feedback
	for _, f := range p.feedback {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// harness runs several sessions against one in-process relay. Every peer
// shares the same clock and is updated in join order.
type harness struct {
	t     *testing.T
	hub   *relay.Hub
	clock *fakeClock
	peers []*peer
	seed  uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hub, err := relay.NewHub(relay.Dependencies{Store: memory.New(), Logger: quiet})
	require.NoError(t, err)
	return &harness{t: t, hub: hub, clock: &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}}
}

// connect attaches a new peer without running a frame.
func (h *harness) connect() *peer {
	h.t.Helper()
	setup, err := scene.Load("testdata/store.yaml")
	require.NoError(h.t, err)
	tr, err := loopback.Dial(h.hub, "store", streaming.JSONCodec{})
	require.NoError(h.t, err)

	h.seed++
	p := &peer{anchors: NewAnchors(), tr: tr}
	s, err := New(testConfig(), Dependencies{
		Transport: tr,
		Setup:     setup,
		Anchors:   p.anchors,
		Logger:    quiet,
		Now:       h.clock.Now,
		Rand:      rand.New(rand.NewPCG(h.seed, 7)),
		Feedback:  func(f Feedback) { p.feedback = append(p.feedback, f) },
	})
	require.NoError(h.t, err)
	p.Session = s
	h.peers = append(h.peers, p)
	return p
}

// join connects a peer and lets the whole session settle.
func (h *harness) join() *peer {
	p := h.connect()
	h.pump()
	return p
}

// pump runs frames at the current time until every relay round trip settles.
func (h *harness) pump() {
	for i := 0; i < 4; i++ {
		for _, p := range h.peers {
			p.Update(h.clock.Now())
		}
	}
}

func (h *harness) step(d time.Duration) {
	h.clock.Advance(d)
	h.pump()
}

func (h *harness) leave(p *peer) {
	h.t.Helper()
	require.NoError(h.t, p.Close())
	for i, q := range h.peers {
		if q == p {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			break
		}
	}
	h.pump()
}

func named(t *testing.T, p *peer, name string) *core.Interactable {
	t.Helper()
	for _, obj := range p.World().Objects() {
		if obj.Name == name {
			return obj
		}
	}
	t.Fatalf("no object named %s", name)
	return nil
}

func at(x, y, z float64) core.Pose {
	return core.At(x, y, z)
}

func position(t *testing.T, p *peer, id core.ObjectID) mgl64.Vec3 {
	t.Helper()
	obj, ok := p.World().Get(id)
	require.True(t, ok, "object %d missing on actor %d", id, p.Local())
	return obj.Body.Pose().Position
}
