// Package identity derives object IDs that every peer computes identically
// without talking to anyone.
package identity

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ProjectRStore/itemsync/pkg/core"
)

const (
	positiveMask = 0x7FFFFFFF

	spawnBaseMul  = 486187739
	spawnIndexMul = 16777619
	spawnSalt     = 0x5F3759DF

	channelStride = 100000
	sequenceMul   = 2654435761
)

// PathSegment is one ancestor of a scene node: its index among its siblings and its name.
type PathSegment struct {
	SiblingIndex int    `yaml:"index"`
	Name         string `yaml:"name"`
}

// Seed is everything the static ID of a placed object is derived from.
type Seed struct {
	Scene    string
	Path     []PathSegment // root first, node last
	Position mgl64.Vec3
}

// Round3 rounds to three decimals. Negative zero is folded to zero so it
// formats the same on every peer.
func Round3(v float64) float64 {
	r := math.Round(v*1000) / 1000
	if r == 0 {
		return 0
	}
	return r
}

func pathKey(scene string, path []PathSegment) string {
	var b strings.Builder
	b.WriteString(scene)
	b.WriteByte('|')
	for i, seg := range path {
		if i > 0 {
			b.WriteByte('/')
		}
		fmt.Fprintf(&b, "%04d:%s", seg.SiblingIndex, seg.Name)
	}
	return b.String()
}

// Key is the canonical string that gets hashed.
func (s Seed) Key() string {
	return fmt.Sprintf("%s|pos=%.3f,%.3f,%.3f",
		pathKey(s.Scene, s.Path),
		Round3(s.Position[0]), Round3(s.Position[1]), Round3(s.Position[2]))
}

func hash31(key string) core.ObjectID {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return nonZero(int64(h.Sum32()))
}

func nonZero(v int64) core.ObjectID {
	v &= positiveMask
	if v == 0 {
		return 1
	}
	return core.ObjectID(v)
}

// DeriveStaticID hashes the seed with FNV-1a 32 into a positive 31-bit ID.
// Two identical subtrees placed at the same rounded position collide.
func DeriveStaticID(seed Seed) core.ObjectID {
	return hash31(seed.Key())
}

// SpawnerBaseID identifies a spawner by its hierarchy path alone.
func SpawnerBaseID(scene string, path []PathSegment) core.ObjectID {
	return hash31(pathKey(scene, path))
}

// SpawnID mixes a spawner base ID with the index of the prefab it spawns.
func SpawnID(base core.ObjectID, index int) core.ObjectID {
	v := int64(base)*spawnBaseMul ^ int64(index)*spawnIndexMul ^ spawnSalt
	return nonZero(v)
}

// SequenceID is the ID of the seq-th object issued by the coordinator on channel.
// For a fixed channel it is unique for the first 2^31 sequence numbers.
func SequenceID(channel int, seq uint64) core.ObjectID {
	v := int64(channel)*channelStride ^ int64(seq*sequenceMul)
	return nonZero(v)
}
