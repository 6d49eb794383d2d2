// Package scene loads the static scene a peer starts from: placed objects,
// loot spawners, the vending catalog and the sell machine.
package scene

import (
	"fmt"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"

	"github.com/ProjectRStore/itemsync/internal/coordinator"
	"github.com/ProjectRStore/itemsync/internal/identity"
	"github.com/ProjectRStore/itemsync/pkg/core"
)

// Manifest is the on-disk scene description.
type Manifest struct {
	Scene   string            `yaml:"scene"`
	Prefabs map[string]Prefab `yaml:"prefabs"`
	Nodes   []Node            `yaml:"nodes"`
	Vending VendingSpec       `yaml:"vending"`
	Sell    SellSpec          `yaml:"sellMachine"`
	Loot    LootSpec          `yaml:"loot"`
}

// Prefab describes a kind of object.
type Prefab struct {
	Holdable   bool     `yaml:"holdable"`
	BuyPrice   int      `yaml:"buyPrice"`
	SellPrice  int      `yaml:"sellPrice"`
	Components []string `yaml:"components"`
}

// Node is one entry of the scene hierarchy. Position is relative to the parent.
type Node struct {
	Name     string       `yaml:"name"`
	Position [3]float64   `yaml:"position"`
	Prefab   string       `yaml:"prefab"`
	Spawner  *SpawnerSpec `yaml:"spawner"`
	Children []Node       `yaml:"children"`
}

// SpawnerSpec turns a node into a loot spawner.
type SpawnerSpec struct {
	Prefabs []string `yaml:"prefabs"`
	Once    *bool    `yaml:"once"`
}

// VendingSpec is the purchasable catalog.
type VendingSpec struct {
	SpawnAt [3]float64 `yaml:"spawnAt"`
	Catalog []struct {
		Prefab string `yaml:"prefab"`
		Price  int    `yaml:"price"`
	} `yaml:"catalog"`
}

// SellSpec configures the sell machine.
type SellSpec struct {
	Buttons      int           `yaml:"buttons"`
	DestroyDelay time.Duration `yaml:"destroyDelay"`
	RevealDelay  time.Duration `yaml:"revealDelay"`
	Zone         struct {
		Min [3]float64 `yaml:"min"`
		Max [3]float64 `yaml:"max"`
	} `yaml:"zone"`
}

// LootSpec holds the ranges shared by all spawners.
type LootSpec struct {
	Interval     time.Duration `yaml:"interval"`
	PlayerRadius float64       `yaml:"playerRadius"`
	BlockRadius  float64       `yaml:"blockRadius"`
}

// Setup is everything a peer builds from a manifest.
type Setup struct {
	World   *World
	Loot    []coordinator.LootPoint
	LootCfg coordinator.LootConfig
	Catalog []coordinator.CatalogItem
	SpawnAt core.Pose
	SellCfg coordinator.SellConfig
}

// Load reads and builds a manifest file.
func Load(path string) (*Setup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scene manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Build(m)
}

// Parse decodes a manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding scene manifest: %w", err)
	}
	if m.Scene == "" {
		return nil, fmt.Errorf("scene manifest has no scene name")
	}
	return &m, nil
}

// Build instantiates the static scene. Object IDs come from each node's
// ancestor chain and world position, so every peer derives the same IDs.
func Build(m *Manifest) (*Setup, error) {
	w := NewWorld(m.Scene, m.Prefabs)
	s := &Setup{World: w}

	var walk func(nodes []Node, parent []identity.PathSegment, origin mgl64.Vec3) error
	walk = func(nodes []Node, parent []identity.PathSegment, origin mgl64.Vec3) error {
		for i, n := range nodes {
			path := append(append([]identity.PathSegment(nil), parent...), identity.PathSegment{SiblingIndex: i, Name: n.Name})
			pos := origin.Add(mgl64.Vec3(n.Position))

			if n.Prefab != "" {
				seed := identity.Seed{Scene: m.Scene, Path: path, Position: pos}
				if _, err := w.Place(n.Prefab, n.Name, identity.DeriveStaticID(seed), core.Pose{Position: pos, Rotation: mgl64.QuatIdent()}); err != nil {
					return fmt.Errorf("placing %s: %w", seed.Key(), err)
				}
			}
			if n.Spawner != nil {
				once := true
				if n.Spawner.Once != nil {
					once = *n.Spawner.Once
				}
				s.Loot = append(s.Loot, coordinator.LootPoint{
					Base:    identity.SpawnerBaseID(m.Scene, path),
					Prefabs: n.Spawner.Prefabs,
					At:      core.Pose{Position: pos, Rotation: mgl64.QuatIdent()},
					Once:    once,
				})
			}
			if err := walk(n.Children, path, pos); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(m.Nodes, nil, mgl64.Vec3{}); err != nil {
		return nil, err
	}

	for _, sp := range s.Loot {
		for _, p := range sp.Prefabs {
			if _, ok := m.Prefabs[p]; !ok {
				return nil, fmt.Errorf("loot spawner uses unknown prefab %q", p)
			}
		}
	}

	for _, c := range m.Vending.Catalog {
		if _, ok := m.Prefabs[c.Prefab]; !ok {
			return nil, fmt.Errorf("vending catalog uses unknown prefab %q", c.Prefab)
		}
		s.Catalog = append(s.Catalog, coordinator.CatalogItem{Prefab: c.Prefab, Price: c.Price})
	}
	s.SpawnAt = core.Pose{Position: mgl64.Vec3(m.Vending.SpawnAt), Rotation: mgl64.QuatIdent()}

	s.SellCfg = coordinator.DefaultSellConfig()
	if m.Sell.Buttons > 0 {
		s.SellCfg.Buttons = m.Sell.Buttons
	}
	if m.Sell.DestroyDelay > 0 {
		s.SellCfg.DestroyDelay = m.Sell.DestroyDelay
	}
	if m.Sell.RevealDelay > 0 {
		s.SellCfg.RevealDelay = m.Sell.RevealDelay
	}
	s.SellCfg.Zone = coordinator.Zone{Min: mgl64.Vec3(m.Sell.Zone.Min), Max: mgl64.Vec3(m.Sell.Zone.Max)}

	s.LootCfg = coordinator.DefaultLootConfig()
	if m.Loot.Interval > 0 {
		s.LootCfg.Interval = m.Loot.Interval
	}
	if m.Loot.PlayerRadius > 0 {
		s.LootCfg.PlayerRadius = m.Loot.PlayerRadius
	}
	if m.Loot.BlockRadius > 0 {
		s.LootCfg.BlockRadius = m.Loot.BlockRadius
	}
	return s, nil
}
