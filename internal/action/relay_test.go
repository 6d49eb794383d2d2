package action

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProjectRStore/itemsync/pkg/core"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

type holders map[core.ObjectID]core.ActorID

func (h holders) HolderOf(id core.ObjectID) (core.ActorID, bool) {
	a, ok := h[id]
	return a, ok
}

type objects map[core.ObjectID]*core.Interactable

func (o objects) Resolve(id core.ObjectID) (*core.Interactable, bool) {
	obj, ok := o[id]
	return obj, ok
}

type recordingSender struct {
	sent []streaming.Message
	err  error
}

func (s *recordingSender) Send(msg streaming.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type counter struct {
	secondary []float64
	trigger   []float64
	fail      error
}

func (c *counter) OnSecondary(v float64) error {
	c.secondary = append(c.secondary, v)
	return c.fail
}

func (c *counter) OnTrigger(v float64) error {
	c.trigger = append(c.trigger, v)
	return c.fail
}

type secondaryOnly struct{ calls int }

func (s *secondaryOnly) OnSecondary(float64) error {
	s.calls++
	return nil
}

type panicky struct{}

func (panicky) OnTrigger(float64) error { panic("boom") }

type fixture struct {
	relay   *Relay
	sender  *recordingSender
	holders holders
	obj     *core.Interactable
	logs    *bytes.Buffer
	now     time.Time
}

func newFixture(components ...any) *fixture {
	f := &fixture{
		sender:  &recordingSender{},
		holders: holders{42: 1},
		obj:     &core.Interactable{ID: 42, Components: components},
		logs:    &bytes.Buffer{},
		now:     time.Unix(1000, 0),
	}
	f.relay = NewRelay(Dependencies{
		Holders:  f.holders,
		Resolver: objects{42: f.obj},
		Sender:   f.sender,
		Logger:   slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Now:      func() time.Time { return f.now },
		Interval: 100 * time.Millisecond,
	})
	return f
}

func TestSend_HolderRunsLocallyThenBroadcasts(t *testing.T) {
	c := &counter{}
	f := newFixture(c)

	rep, err := f.relay.Send(1, 42, core.ActionTrigger, 0.75, OnPress)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Invoked)
	assert.Equal(t, []float64{0.75}, c.trigger)

	require.Len(t, f.sender.sent, 1)
	msg := f.sender.sent[0]
	assert.Equal(t, streaming.TypeAction, msg.Type)
	assert.Equal(t, streaming.TargetOthers, msg.Target)
	assert.Equal(t, streaming.ActionPayload{ObjectID: 42, Kind: core.ActionTrigger, Value: 0.75}, msg.Payload)
}

func TestSend_NonHolderRefused(t *testing.T) {
	c := &counter{}
	f := newFixture(c)

	_, err := f.relay.Send(2, 42, core.ActionSecondary, 1, OnPress)
	assert.ErrorIs(t, err, ErrNotHolder)
	assert.Empty(t, f.sender.sent, "refused locally, nothing broadcast")
	assert.Empty(t, c.secondary)

	_, err = f.relay.Send(1, 99, core.ActionSecondary, 1, OnPress)
	assert.ErrorIs(t, err, ErrNotHolder)
}

func TestSend_WhileHeldThrottled(t *testing.T) {
	f := newFixture(&counter{})

	_, err := f.relay.Send(1, 42, core.ActionTrigger, 1, WhileHeld)
	require.NoError(t, err)

	f.now = f.now.Add(30 * time.Millisecond)
	_, err = f.relay.Send(1, 42, core.ActionTrigger, 1, WhileHeld)
	assert.ErrorIs(t, err, ErrThrottled)

	// kinds are limited independently
	_, err = f.relay.Send(1, 42, core.ActionSecondary, 1, WhileHeld)
	require.NoError(t, err)

	f.now = f.now.Add(100 * time.Millisecond)
	_, err = f.relay.Send(1, 42, core.ActionTrigger, 1, WhileHeld)
	require.NoError(t, err)

	// on-press is never throttled
	_, err = f.relay.Send(1, 42, core.ActionTrigger, 1, OnPress)
	require.NoError(t, err)

	assert.Len(t, f.sender.sent, 4)
}

func TestForget_ResetsThrottle(t *testing.T) {
	f := newFixture(&counter{})

	_, err := f.relay.Send(1, 42, core.ActionTrigger, 1, WhileHeld)
	require.NoError(t, err)
	f.relay.Forget(42)
	_, err = f.relay.Send(1, 42, core.ActionTrigger, 1, WhileHeld)
	assert.NoError(t, err)
}

func TestSend_TransportErrorWrapped(t *testing.T) {
	f := newFixture(&counter{})
	f.sender.err = errors.New("closed")

	rep, err := f.relay.Send(1, 42, core.ActionTrigger, 1, OnPress)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sending action")
	assert.Equal(t, 1, rep.Invoked, "local handlers still ran")
}

func TestReceive_FromHolder(t *testing.T) {
	c := &counter{}
	f := newFixture(c)

	rep, err := f.relay.Receive(1, streaming.ActionPayload{ObjectID: 42, Kind: core.ActionSecondary, Value: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Invoked)
	assert.Equal(t, []float64{1}, c.secondary)
}

func TestReceive_SpoofedDropped(t *testing.T) {
	c := &counter{}
	f := newFixture(c)

	_, err := f.relay.Receive(2, streaming.ActionPayload{ObjectID: 42, Kind: core.ActionTrigger, Value: 1})
	assert.ErrorIs(t, err, ErrSpoofed)
	assert.Empty(t, c.trigger, "handler never invoked")
	assert.Contains(t, f.logs.String(), "Dropped action from non-holder")

	// unheld objects have no holder to match
	delete(f.holders, 42)
	_, err = f.relay.Receive(1, streaming.ActionPayload{ObjectID: 42, Kind: core.ActionTrigger, Value: 1})
	assert.ErrorIs(t, err, ErrSpoofed)
}

func TestReceive_Unresolved(t *testing.T) {
	f := newFixture()
	f.holders[7] = 1

	_, err := f.relay.Receive(1, streaming.ActionPayload{ObjectID: 7, Kind: core.ActionTrigger})
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestDispatch_AllMatchingComponents(t *testing.T) {
	a, b := &counter{}, &counter{}
	s := &secondaryOnly{}
	obj := &core.Interactable{ID: 1, Components: []any{a, s, "not a component", b}}

	rep := Dispatch(obj, core.ActionSecondary, 2)
	assert.Equal(t, 3, rep.Invoked)
	assert.NoError(t, rep.Err())
	assert.Equal(t, 1, s.calls)

	rep = Dispatch(obj, core.ActionTrigger, 3)
	assert.Equal(t, 2, rep.Invoked, "secondaryOnly has no trigger capability")
}

func TestDispatch_FailureDoesNotBlockOthers(t *testing.T) {
	failing := &counter{fail: errors.New("jammed")}
	after := &counter{}
	obj := &core.Interactable{ID: 1, Components: []any{failing, panicky{}, after}}

	rep := Dispatch(obj, core.ActionTrigger, 1)
	assert.Equal(t, 3, rep.Invoked)
	require.Len(t, rep.Errors, 2)
	assert.Equal(t, []float64{1}, after.trigger)

	err := rep.Err()
	assert.ErrorContains(t, err, "jammed")
	assert.ErrorContains(t, err, "handler panic: boom")
}
