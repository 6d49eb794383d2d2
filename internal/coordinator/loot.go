package coordinator

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ProjectRStore/itemsync/internal/identity"
	"github.com/ProjectRStore/itemsync/pkg/core"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

const minLootInterval = 50 * time.Millisecond

// LootPoint is one spawner placed in the scene.
type LootPoint struct {
	Base    core.ObjectID
	Prefabs []string
	At      core.Pose
	Once    bool
}

// LootConfig holds the ranges shared by all spawners.
type LootConfig struct {
	Interval     time.Duration
	PlayerRadius float64
	BlockRadius  float64
}

// DefaultLootConfig returns the stock spawner ranges.
func DefaultLootConfig() LootConfig {
	return LootConfig{
		Interval:     500 * time.Millisecond,
		PlayerRadius: 30,
		BlockRadius:  1.5,
	}
}

// Players reports where every peer's avatar is.
type Players interface {
	Positions() []mgl64.Vec3
}

// Occupancy reports whether any object already sits near a point.
type Occupancy interface {
	AnyWithin(center mgl64.Vec3, radius float64) bool
}

type lootState struct {
	LootPoint
	spawns int
}

// LootSpawner decides loot spawns on the coordinator. A spawner fires when a
// player is within PlayerRadius and nothing blocks its spawn point; the pick
// is broadcast as a buffered SpawnAssign so late joiners see the same loot.
type LootSpawner struct {
	cfg       LootConfig
	points    []*lootState
	players   Players
	occupancy Occupancy
	rng       *rand.Rand
	logger    *slog.Logger
	nextCheck time.Time
}

// NewLootSpawner creates a spawner set.
func NewLootSpawner(cfg LootConfig, points []LootPoint, players Players, occupancy Occupancy, rng *rand.Rand, logger *slog.Logger) *LootSpawner {
	if cfg.Interval < minLootInterval {
		cfg.Interval = minLootInterval
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &LootSpawner{cfg: cfg, players: players, occupancy: occupancy, rng: rng, logger: logger}
	for _, p := range points {
		l.points = append(l.points, &lootState{LootPoint: p})
	}
	return l
}

// Tick checks every spawner at most once per interval.
func (l *LootSpawner) Tick(now time.Time) []streaming.Message {
	if now.Before(l.nextCheck) {
		return nil
	}
	l.nextCheck = now.Add(l.cfg.Interval)

	var out []streaming.Message
	for _, p := range l.points {
		if len(p.Prefabs) == 0 || (p.Once && p.spawns > 0) {
			continue
		}
		if !l.playerNear(p.At.Position) {
			continue
		}
		if l.occupancy != nil && l.occupancy.AnyWithin(p.At.Position, l.cfg.BlockRadius) {
			continue
		}

		index := p.spawns*len(p.Prefabs) + l.rng.IntN(len(p.Prefabs))
		id := identity.SpawnID(p.Base, index)
		pos, rot := streaming.WirePose(p.At)
		msg := streaming.Broadcast(streaming.TypeSpawnAssign, streaming.SpawnAssignPayload{
			SpawnIndex: index,
			ObjectID:   id,
			Prefab:     p.Prefabs[index%len(p.Prefabs)],
			Source:     SourceLoot,
			Position:   pos,
			Rotation:   rot,
		})
		msg.Buffered = true
		out = append(out, msg)

		// Counted now so the next check does not fire again before the echo.
		p.spawns++
		l.logger.Debug("Loot spawned", "spawner", p.Base, "object", id, "prefab", p.Prefabs[index%len(p.Prefabs)])
	}
	return out
}

// Observe records a loot spawn seen on the wire so a successor coordinator
// continues where the previous one stopped.
func (l *LootSpawner) Observe(a streaming.SpawnAssignPayload) bool {
	if a.Source != SourceLoot {
		return false
	}
	for _, p := range l.points {
		if len(p.Prefabs) == 0 || identity.SpawnID(p.Base, a.SpawnIndex) != a.ObjectID {
			continue
		}
		if n := a.SpawnIndex/len(p.Prefabs) + 1; n > p.spawns {
			p.spawns = n
		}
		return true
	}
	return false
}

// Reset makes the new coordinator check on its first frame.
func (l *LootSpawner) Reset(now time.Time) []streaming.Message {
	l.nextCheck = now
	return nil
}

// Spawned returns how many times spawner i has fired.
func (l *LootSpawner) Spawned(i int) int {
	if i < 0 || i >= len(l.points) {
		return 0
	}
	return l.points[i].spawns
}

func (l *LootSpawner) playerNear(center mgl64.Vec3) bool {
	if l.players == nil {
		return false
	}
	r2 := l.cfg.PlayerRadius * l.cfg.PlayerRadius
	for _, pos := range l.players.Positions() {
		d := pos.Sub(center)
		if d.Dot(d) <= r2 {
			return true
		}
	}
	return false
}
