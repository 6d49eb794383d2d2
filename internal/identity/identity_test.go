package identity

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProjectRStore/itemsync/pkg/core"
)

func lampSeed() Seed {
	return Seed{
		Scene: "Shop",
		Path: []PathSegment{
			{SiblingIndex: 0, Name: "Root"},
			{SiblingIndex: 3, Name: "Shelf"},
			{SiblingIndex: 12, Name: "Lamp"},
		},
		Position: mgl64.Vec3{1.23456, -0.0004, 2},
	}
}

func TestSeedKey(t *testing.T) {
	assert.Equal(t, "Shop|0000:Root/0003:Shelf/0012:Lamp|pos=1.235,0.000,2.000", lampSeed().Key())
}

func TestDeriveStaticID_Golden(t *testing.T) {
	// FNV-1a 32 of the key above, masked to 31 bits.
	assert.Equal(t, core.ObjectID(595504271), DeriveStaticID(lampSeed()))
}

func TestDeriveStaticID_RoundingAbsorbsJitter(t *testing.T) {
	a := lampSeed()
	b := lampSeed()
	b.Position = b.Position.Add(mgl64.Vec3{0.0001, 0.0001, -0.0002})

	assert.Equal(t, DeriveStaticID(a), DeriveStaticID(b))
}

func TestDeriveStaticID_SiblingIndexMatters(t *testing.T) {
	a := lampSeed()
	b := lampSeed()
	b.Path = append([]PathSegment(nil), a.Path...)
	b.Path[2].SiblingIndex = 13

	assert.NotEqual(t, DeriveStaticID(a), DeriveStaticID(b))
}

func TestRound3_NegativeZero(t *testing.T) {
	r := Round3(-0.0001)
	assert.False(t, math.Signbit(r))
	assert.Equal(t, 1.5, Round3(1.4999999))
}

func TestSpawnerBaseID_IgnoresPosition(t *testing.T) {
	path := []PathSegment{{0, "Root"}, {1, "LootSpawner"}}
	assert.Equal(t, core.ObjectID(328239035), SpawnerBaseID("Shop", path))
}

func TestSpawnID_Golden(t *testing.T) {
	base := core.ObjectID(328239035)
	assert.Equal(t, core.ObjectID(1813064486), SpawnID(base, 0))
	assert.Equal(t, core.ObjectID(1829841589), SpawnID(base, 1))
	assert.Equal(t, core.ObjectID(1846618112), SpawnID(base, 2))
}

func TestSequenceID_UniquePerChannel(t *testing.T) {
	for _, channel := range []int{1, 2, 7} {
		seen := make(map[core.ObjectID]uint64, 10000)
		for seq := uint64(1); seq <= 10000; seq++ {
			id := SequenceID(channel, seq)
			prev, dup := seen[id]
			require.False(t, dup, "channel %d: seq %d and %d collide", channel, prev, seq)
			seen[id] = seq
		}
	}
}

func TestSequencer_ObserveAndRebase(t *testing.T) {
	s := NewSequencer(1)
	seq, id := s.Next()
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, core.ObjectID(506920721), id)

	s.Observe(10)
	s.Observe(4)
	assert.Equal(t, uint64(11), s.Peek())

	s.Rebase(2)
	seq, id = s.Next()
	assert.Equal(t, uint64(11), seq)
	assert.Equal(t, SequenceID(2, 11), id)
	assert.Equal(t, 2, s.Channel())
}

func TestDeriveStaticID_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	build := func(scene string, names []string, x, y, z float64) Seed {
		path := make([]PathSegment, len(names))
		for i, n := range names {
			path[i] = PathSegment{SiblingIndex: i * 7 % 10000, Name: n}
		}
		return Seed{Scene: scene, Path: path, Position: mgl64.Vec3{x, y, z}}
	}

	properties.Property("independently built seeds agree", prop.ForAll(
		func(scene string, names []string, x, y, z float64) bool {
			// Two peers load the same scene data into separate structures.
			a := build(scene, names, x, y, z)
			b := build(scene, append([]string(nil), names...), x, y, z)
			return DeriveStaticID(a) == DeriveStaticID(b)
		},
		gen.AlphaString(),
		gen.SliceOf(gen.AlphaString()),
		gen.Float64Range(-10000, 10000),
		gen.Float64Range(-10000, 10000),
		gen.Float64Range(-10000, 10000),
	))

	properties.Property("ids are positive 31-bit", prop.ForAll(
		func(scene string, names []string, x float64) bool {
			id := DeriveStaticID(build(scene, names, x, 0, 0))
			return id > 0 && id <= math.MaxInt32
		},
		gen.AnyString(),
		gen.SliceOf(gen.AnyString()),
		gen.Float64(),
	))

	properties.Property("spawn ids are positive 31-bit", prop.ForAll(
		func(base int64, index int) bool {
			id := SpawnID(core.ObjectID(base), index)
			return id > 0 && id <= math.MaxInt32
		},
		gen.Int64(),
		gen.IntRange(0, 1<<20),
	))

	properties.TestingRun(t)
}
