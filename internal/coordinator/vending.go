package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/ProjectRStore/itemsync/internal/cache"
	"github.com/ProjectRStore/itemsync/internal/identity"
	"github.com/ProjectRStore/itemsync/pkg/core"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

// Source labels for spawn assignments.
const (
	SourceVending = streaming.SourceVending
	SourceLoot    = streaming.SourceLoot
	SourceSpawnID = streaming.SourceSpawnID
)

// CatalogItem is one purchasable prefab.
type CatalogItem struct {
	Prefab string
	Price  int
}

// Vending sells catalog items. The coordinator issues the object ID from its
// sequencer, spawns it for everyone (buffered for late joiners) and debits
// the buyer privately. The buyer checks its own balance before asking.
type Vending struct {
	catalog []CatalogItem
	spawnAt core.Pose
	seq     *identity.Sequencer
}

// NewVending creates a vending resolver that spawns purchases at spawnAt.
func NewVending(catalog []CatalogItem, spawnAt core.Pose, seq *identity.Sequencer) *Vending {
	return &Vending{catalog: catalog, spawnAt: spawnAt, seq: seq}
}

// Item returns a catalog entry.
func (v *Vending) Item(index int) (CatalogItem, bool) {
	if index < 0 || index >= len(v.catalog) {
		return CatalogItem{}, false
	}
	return v.catalog[index], true
}

// Resolve handles a purchase on the coordinator.
func (v *Vending) Resolve(_ time.Time, req streaming.ArbitrationRequestPayload) Decision {
	idx := req.Params.CatalogIndex
	item, ok := v.Item(idx)
	if !ok {
		return Reject("unknown_item")
	}

	seq, id := v.seq.Next()
	pos, rot := streaming.WirePose(v.spawnAt)
	spawn := streaming.Broadcast(streaming.TypeSpawnAssign, streaming.SpawnAssignPayload{
		SpawnIndex: int(seq),
		ObjectID:   id,
		Prefab:     item.Prefab,
		Source:     SourceVending,
		Position:   pos,
		Rotation:   rot,
	})
	spawn.Buffered = true

	dec := Accept(streaming.ArbitrationParams{
		ObjectIDs:    []core.ObjectID{id},
		CatalogIndex: idx,
		Amount:       item.Price,
		Prefab:       item.Prefab,
		Sequence:     seq,
	})
	dec.Private = &streaming.ArbitrationParams{
		ObjectIDs:    []core.ObjectID{id},
		CatalogIndex: idx,
		Amount:       -item.Price,
	}
	dec.Effects = []streaming.Message{spawn}
	return dec
}

// SpawnIDs hands out fresh unique object IDs for spawns a peer performs itself.
type SpawnIDs struct {
	seq *identity.Sequencer
}

// NewSpawnIDs creates a spawn ID resolver sharing seq with Vending.
func NewSpawnIDs(seq *identity.Sequencer) *SpawnIDs {
	return &SpawnIDs{seq: seq}
}

// Resolve issues one ID. The result is buffered so late joiners know the
// ID was issued before they see the requester's spawn.
func (s *SpawnIDs) Resolve(_ time.Time, req streaming.ArbitrationRequestPayload) Decision {
	seq, id := s.seq.Next()
	dec := Accept(streaming.ArbitrationParams{
		ObjectIDs: []core.ObjectID{id},
		Prefab:    req.Params.Prefab,
		Sequence:  seq,
	})
	dec.Buffered = true
	return dec
}

// Wallet is this peer's local balance. Persistence is somebody else's job;
// the wallet only applies coordinator follow-ups exactly once each.
type Wallet struct {
	mu      sync.Mutex
	balance int
	applied *cache.Seen[string]
}

// NewWallet creates a wallet with an opening balance.
func NewWallet(balance int) *Wallet {
	return &Wallet{balance: balance, applied: cache.NewSeen[string](servedCapacity)}
}

// Balance returns the current balance.
func (w *Wallet) Balance() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance
}

// CanAfford reports whether the balance covers price.
func (w *Wallet) CanAfford(price int) bool {
	return w.Balance() >= price
}

// Apply credits or debits a private result. A result for a request already
// applied is ignored and reported as false.
func (w *Wallet) Apply(res streaming.ArbitrationResultPayload) (bool, error) {
	if !res.Private {
		return false, fmt.Errorf("result %s is not a private follow-up", res.RequestID)
	}
	if !w.applied.Mark(res.RequestID) {
		return false, nil
	}
	w.mu.Lock()
	w.balance += res.Params.Amount
	w.mu.Unlock()
	return true, nil
}
