package gen

import (
	"math/rand/v2"

	"hillracer.ai/internal/sim/physics"
	"hillracer.ai/internal/sim/terrain/biome"
)

type EntityKind uint8

const (
	Coin EntityKind = iota + 1
	Fuel
	Rock
	Tree
	Crate
)

func (k EntityKind) Label() string {
	switch k {
	case Coin:
		return "coin"
	case Fuel:
		return "fuel"
	case Rock:
		return "obstacle"
	case Tree:
		return "tree_trunk"
	case Crate:
		return "crate"
	default:
		return "unknown"
	}
}

func (k EntityKind) String() string { return k.Label() }

// Collectible entities are sensors consumed on contact.
func (k EntityKind) Collectible() bool { return k == Coin || k == Fuel }

// Destructible entities are solid but break when struck.
func (k EntityKind) Destructible() bool { return k == Crate }

// KindFromLabel is the inverse of Label.
func KindFromLabel(label string) (EntityKind, bool) {
	for _, k := range []EntityKind{Coin, Fuel, Rock, Tree, Crate} {
		if k.Label() == label {
			return k, true
		}
	}
	return 0, false
}

type Range struct {
	Min, Max float64
}

type CollectibleRule struct {
	Stride    int
	Chance    float64
	FuelShare float64
	Offset    float64
	Radius    float64
}

type RockRule struct {
	Stride   int
	Chance   float64
	Radius   Range // integer bounds, inclusive
	Embed    float64
	Friction float64
}

type TreeRule struct {
	Stride   int
	Chance   float64
	Height   Range
	Width    Range
	Density  float64
	Friction float64
}

type CrateRule struct {
	Stride   int
	Chance   float64
	Size     float64
	Density  float64
	Friction float64
}

type PlacementRules struct {
	Collectibles CollectibleRule
	Rocks        RockRule
	Trees        TreeRule
	Crates       CrateRule
}

func DefaultRules() PlacementRules {
	return PlacementRules{
		Collectibles: CollectibleRule{Stride: 3, Chance: 0.7, FuelShare: 0.1, Offset: 40, Radius: 20},
		Rocks:        RockRule{Stride: 7, Chance: 0.3, Radius: Range{Min: 15, Max: 25}, Embed: 0.5, Friction: 1.0},
		Trees:        TreeRule{Stride: 4, Chance: 0.4, Height: Range{Min: 40, Max: 80}, Width: Range{Min: 10, Max: 20}, Density: 0.002, Friction: 0.5},
		Crates:       CrateRule{Stride: 10, Chance: 0.2, Size: 40, Density: 0.01, Friction: 0.5},
	}
}

// Placement is an entity decided by the scatter rules, not yet registered.
type Placement struct {
	Kind   EntityKind
	Anchor Sample
	Body   physics.EntityBodyDef
}

// ChunkRand derives the placement stream for one chunk so scattering depends
// on (seed, index) only, never on how many chunks were built before it.
func ChunkRand(seed int64, index int) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), hash2(seed, index, 0x7e77a1)))
}

func hit(rng *rand.Rand, i, stride int, chance float64) bool {
	if stride <= 0 || i%stride != 0 {
		return false
	}
	return rng.Float64() < chance
}

func between(rng *rand.Rand, r Range) float64 {
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

func betweenInt(rng *rand.Rand, r Range) float64 {
	lo, hi := int(r.Min), int(r.Max)
	if hi <= lo {
		return float64(lo)
	}
	return float64(lo + rng.IntN(hi-lo+1))
}

// Place scatters entities over a chunk's samples. Chunk 0 is left empty. The
// final sample is skipped: it is the first sample of the next chunk.
func Place(samples []Sample, index int, k biome.Kind, rng *rand.Rand, rules PlacementRules) []Placement {
	if index == 0 || len(samples) < 2 {
		return nil
	}
	prof := biome.ProfileOf(k)
	var out []Placement
	for i, p := range samples[:len(samples)-1] {
		if c := rules.Collectibles; hit(rng, i, c.Stride, c.Chance) {
			kind := Coin
			if rng.Float64() < c.FuelShare {
				kind = Fuel
			}
			out = append(out, Placement{
				Kind:   kind,
				Anchor: p,
				Body: physics.EntityBodyDef{
					Position: physics.Vec2{X: p.X, Y: p.Y - c.Offset},
					Shape:    physics.Shape{Kind: physics.Circle, Radius: c.Radius},
					Sensor:   true,
					Static:   true,
					Label:    kind.Label(),
				},
			})
		}

		if r := rules.Rocks; prof.Hazardous && hit(rng, i, r.Stride, r.Chance) {
			radius := betweenInt(rng, r.Radius)
			out = append(out, Placement{
				Kind:   Rock,
				Anchor: p,
				Body: physics.EntityBodyDef{
					Position: physics.Vec2{X: p.X, Y: p.Y - radius*r.Embed},
					Shape:    physics.Shape{Kind: physics.Circle, Radius: radius},
					Static:   true,
					Friction: r.Friction,
					Label:    Rock.Label(),
				},
			})
		}

		if t := rules.Trees; prof.Vegetated && hit(rng, i, t.Stride, t.Chance) {
			h := between(rng, t.Height)
			w := between(rng, t.Width)
			out = append(out, Placement{
				Kind:   Tree,
				Anchor: p,
				Body: physics.EntityBodyDef{
					Position: physics.Vec2{X: p.X, Y: p.Y - h/2},
					Shape:    physics.Shape{Kind: physics.Rect, Width: w, Height: h},
					Density:  t.Density,
					Friction: t.Friction,
					Label:    Tree.Label(),
				},
			})
		}

		if c := rules.Crates; hit(rng, i, c.Stride, c.Chance) {
			out = append(out, Placement{
				Kind:   Crate,
				Anchor: p,
				Body: physics.EntityBodyDef{
					Position: physics.Vec2{X: p.X, Y: p.Y - c.Size/2},
					Shape:    physics.Shape{Kind: physics.Rect, Width: c.Size, Height: c.Size},
					Density:  c.Density,
					Friction: c.Friction,
					Label:    Crate.Label(),
				},
			})
		}
	}
	return out
}
