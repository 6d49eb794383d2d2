package coordinator

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ProjectRStore/itemsync/pkg/core"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

// SellState is the phase of the sell machine.
type SellState string

const (
	// SellOpen accepts one sell.
	SellOpen SellState = "open"
	// SellClosing waits for DestroyAt, then destroys and pays out.
	SellClosing SellState = "closing"
	// SellSettled waits for RevealAt, then reopens with a new button.
	SellSettled SellState = "settled"
)

// SnapshotKey is the buffer key of the sell machine snapshot; each snapshot
// replaces the previous one for late joiners.
const SnapshotKey = "sell_machine"

// Zone is an axis-aligned box.
type Zone struct {
	Min mgl64.Vec3
	Max mgl64.Vec3
}

// Contains reports whether p lies inside the zone, bounds included.
func (z Zone) Contains(p mgl64.Vec3) bool {
	for i := 0; i < 3; i++ {
		if p[i] < z.Min[i] || p[i] > z.Max[i] {
			return false
		}
	}
	return true
}

// Contents lists the live objects inside a zone.
type Contents interface {
	InZone(z Zone) []*core.Interactable
}

// HoldQuery reports whether an object is currently held.
type HoldQuery interface {
	HolderOf(id core.ObjectID) (core.ActorID, bool)
}

// SellConfig configures a SellMachine.
type SellConfig struct {
	Buttons      int
	DestroyDelay time.Duration
	// RevealDelay is measured from acceptance, not from destruction.
	RevealDelay time.Duration
	Zone        Zone
}

// DefaultSellConfig mirrors the machine shipped in the demo store.
func DefaultSellConfig() SellConfig {
	return SellConfig{
		Buttons:      11,
		DestroyDelay: 3 * time.Second,
		RevealDelay:  5 * time.Second,
	}
}

// SellMachine settles sales exactly once. It is a timed state machine driven
// by Tick: OpenIdle -> Closing -> Settled -> OpenIdle. While not open every
// press is rejected, so two sells in one frame can never both be paid.
type SellMachine struct {
	cfg      SellConfig
	contents Contents
	holds    HoldQuery
	rng      *rand.Rand
	logger   *slog.Logger

	state         SellState
	correctButton int
	cycle         uint64
	lastPayout    int

	requestID string
	seller    core.ActorID
	objects   []core.ObjectID
	amount    int
	destroyAt time.Time
	revealAt  time.Time
}

// NewSellMachine creates a machine in the open state.
func NewSellMachine(cfg SellConfig, contents Contents, holds HoldQuery, rng *rand.Rand, logger *slog.Logger) *SellMachine {
	if cfg.Buttons < 1 {
		cfg.Buttons = 1
	}
	if cfg.RevealDelay < cfg.DestroyDelay {
		cfg.RevealDelay = cfg.DestroyDelay
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &SellMachine{
		cfg:      cfg,
		contents: contents,
		holds:    holds,
		rng:      rng,
		logger:   logger,
		state:    SellOpen,
	}
	m.correctButton = m.rng.IntN(cfg.Buttons)
	return m
}

// Resolve handles a sell press on the coordinator.
func (m *SellMachine) Resolve(now time.Time, req streaming.ArbitrationRequestPayload) Decision {
	button := req.Params.Button
	switch {
	case m.state != SellOpen:
		return Reject("busy")
	case button < 0 || button >= m.cfg.Buttons:
		return Reject("invalid_button")
	case button != m.correctButton:
		return Reject("wrong_button")
	}

	var ids []core.ObjectID
	total := 0
	for _, obj := range m.contents.InZone(m.cfg.Zone) {
		if !obj.Alive() || !obj.ID.Valid() {
			continue
		}
		if m.holds != nil {
			if _, held := m.holds.HolderOf(obj.ID); held {
				continue
			}
		}
		ids = append(ids, obj.ID)
		total += obj.SellPrice()
	}
	if len(ids) == 0 {
		return Reject("empty")
	}

	m.state = SellClosing
	m.requestID = req.RequestID
	m.seller = req.Requester
	m.objects = ids
	m.amount = total
	m.destroyAt = now.Add(m.cfg.DestroyDelay)
	m.revealAt = now.Add(m.cfg.RevealDelay)

	m.logger.Info("Sell accepted", "seller", m.seller, "objects", len(ids), "amount", total)

	dec := Accept(streaming.ArbitrationParams{ObjectIDs: ids, Button: button, Amount: total})
	dec.Effects = []streaming.Message{m.snapshotMessage()}
	return dec
}

// Tick advances the machine. At DestroyAt the sold objects are destroyed, the
// settlement is broadcast and the seller alone is credited; at RevealAt the
// machine reopens with a fresh correct button.
func (m *SellMachine) Tick(now time.Time) []streaming.Message {
	var out []streaming.Message

	if m.state == SellClosing && !now.Before(m.destroyAt) {
		destroy := streaming.Broadcast(streaming.TypeDestroy, streaming.DestroyPayload{ObjectIDs: m.objects})
		destroy.Buffered = true
		out = append(out, destroy)

		settled := streaming.ArbitrationResultPayload{
			RequestID: m.requestID,
			Kind:      streaming.RequestSell,
			Requester: m.seller,
			Outcome:   streaming.OutcomeSettled,
			Params:    streaming.ArbitrationParams{ObjectIDs: m.objects, Amount: m.amount},
		}
		out = append(out, streaming.Broadcast(streaming.TypeArbitrationResult, settled))

		credit := settled
		credit.Private = true
		credit.Params = streaming.ArbitrationParams{Amount: m.amount}
		out = append(out, streaming.ToActor(m.seller, streaming.TypeArbitrationResult, credit))

		m.lastPayout = m.amount
		m.state = SellSettled
		m.logger.Info("Sell settled", "seller", m.seller, "amount", m.amount)
	}

	if m.state == SellSettled && !now.Before(m.revealAt) {
		m.open()
		out = append(out, m.snapshotMessage())
	}
	return out
}

// Reset reopens the machine with a fresh button, dropping any in-flight sale.
func (m *SellMachine) Reset(time.Time) []streaming.Message {
	if m.state != SellOpen {
		m.logger.Info("Dropped in-flight sell on coordinator change", "seller", m.seller)
	}
	m.open()
	return []streaming.Message{m.snapshotMessage()}
}

func (m *SellMachine) open() {
	m.state = SellOpen
	m.correctButton = m.rng.IntN(m.cfg.Buttons)
	m.cycle++
	m.requestID = ""
	m.seller = core.NoActor
	m.objects = nil
	m.amount = 0
}

// Apply mirrors a snapshot broadcast by the coordinator.
func (m *SellMachine) Apply(s streaming.SellSnapshotPayload) {
	m.state = SellState(s.State)
	m.correctButton = s.CorrectButton
	m.seller = s.Seller
	m.lastPayout = s.LastPayout
	m.cycle = s.Cycle
}

// Snapshot returns the observable state.
func (m *SellMachine) Snapshot() streaming.SellSnapshotPayload {
	return streaming.SellSnapshotPayload{
		State:         string(m.state),
		CorrectButton: m.correctButton,
		Seller:        m.seller,
		LastPayout:    m.lastPayout,
		Cycle:         m.cycle,
	}
}

// State returns the current phase.
func (m *SellMachine) State() SellState {
	return m.state
}

func (m *SellMachine) snapshotMessage() streaming.Message {
	msg := streaming.Broadcast(streaming.TypeSellSnapshot, m.Snapshot())
	msg.Buffered = true
	msg.Key = SnapshotKey
	return msg
}
