package gen

import (
	"reflect"
	"testing"

	"hillracer.ai/internal/sim/terrain/biome"
)

func countKinds(ps []Placement) map[EntityKind]int {
	out := map[EntityKind]int{}
	for _, p := range ps {
		out[p.Kind]++
	}
	return out
}

func TestPlaceSkipsFirstChunk(t *testing.T) {
	p := DefaultParams()
	got := Place(SampleChunk(biome.Desert, 0, p), 0, biome.Desert, ChunkRand(1, 0), DefaultRules())
	if len(got) != 0 {
		t.Fatalf("chunk 0 placements=%d want 0", len(got))
	}
}

func TestPlaceIsReproducibleByChunk(t *testing.T) {
	p := DefaultParams()
	s := SampleChunk(biome.Forest, 5, p)
	a := Place(s, 5, biome.Forest, ChunkRand(42, 5), DefaultRules())
	b := Place(s, 5, biome.Forest, ChunkRand(42, 5), DefaultRules())
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("placements differ for same seed and index")
	}
	c := Place(s, 5, biome.Forest, ChunkRand(43, 5), DefaultRules())
	if reflect.DeepEqual(a, c) && len(a) > 0 {
		t.Fatalf("different seeds produced identical placements")
	}
}

func TestPlaceHonoursBiomeFlags(t *testing.T) {
	p := DefaultParams()
	rules := DefaultRules()
	for _, k := range biome.Kinds() {
		prof := biome.ProfileOf(k)
		total := map[EntityKind]int{}
		for idx := 1; idx < 40; idx++ {
			for kind, n := range countKinds(Place(SampleChunk(k, idx, p), idx, k, ChunkRand(7, idx), rules)) {
				total[kind] += n
			}
		}
		if !prof.Hazardous && total[Rock] != 0 {
			t.Fatalf("%s: %d rocks in non-hazardous biome", k, total[Rock])
		}
		if prof.Hazardous && total[Rock] == 0 {
			t.Fatalf("%s: no rocks across 39 chunks", k)
		}
		if !prof.Vegetated && total[Tree] != 0 {
			t.Fatalf("%s: %d trees in non-vegetated biome", k, total[Tree])
		}
		if prof.Vegetated && total[Tree] == 0 {
			t.Fatalf("%s: no trees across 39 chunks", k)
		}
		if total[Coin] <= total[Fuel] {
			t.Fatalf("%s: coins=%d fuel=%d, coins should dominate", k, total[Coin], total[Fuel])
		}
		if total[Crate] == 0 {
			t.Fatalf("%s: no crates across 39 chunks", k)
		}
	}
}

func TestPlaceBodiesFollowKind(t *testing.T) {
	p := DefaultParams()
	rules := DefaultRules()
	samples := SampleChunk(biome.Mars, 4, p)
	xs := map[float64]Sample{}
	for _, s := range samples[:len(samples)-1] {
		xs[s.X] = s
	}
	step := p.StepWidth()
	for _, pl := range Place(samples, 4, biome.Mars, ChunkRand(3, 4), rules) {
		anchor, ok := xs[pl.Body.Position.X]
		if !ok || anchor != pl.Anchor {
			t.Fatalf("%s not snapped to a sample x: %+v", pl.Kind, pl.Body.Position)
		}
		seg := int((anchor.X-samples[0].X)/step + 0.5)
		switch pl.Kind {
		case Coin, Fuel:
			if !pl.Body.Sensor || seg%rules.Collectibles.Stride != 0 {
				t.Fatalf("collectible body=%+v seg=%d", pl.Body, seg)
			}
			if pl.Body.Position.Y != anchor.Y-rules.Collectibles.Offset {
				t.Fatalf("collectible offset y=%v anchor=%v", pl.Body.Position.Y, anchor.Y)
			}
		case Rock:
			r := pl.Body.Shape.Radius
			if pl.Body.Sensor || !pl.Body.Static || r < 15 || r > 25 || seg%rules.Rocks.Stride != 0 {
				t.Fatalf("rock body=%+v seg=%d", pl.Body, seg)
			}
			if pl.Body.Position.Y != anchor.Y-r*0.5 {
				t.Fatalf("rock not half embedded: %v vs %v", pl.Body.Position.Y, anchor.Y)
			}
		case Crate:
			if pl.Body.Sensor || pl.Body.Static || pl.Body.Density != rules.Crates.Density || seg%rules.Crates.Stride != 0 {
				t.Fatalf("crate body=%+v seg=%d", pl.Body, seg)
			}
		default:
			t.Fatalf("unexpected %s in MARS", pl.Kind)
		}
	}
}

func TestPlaceNeverUsesBoundarySample(t *testing.T) {
	p := DefaultParams()
	rules := DefaultRules()
	rules.Crates.Chance = 1
	rules.Trees.Chance = 1
	samples := SampleChunk(biome.Forest, 2, p)
	last := samples[len(samples)-1].X
	for _, pl := range Place(samples, 2, biome.Forest, ChunkRand(1, 2), rules) {
		if pl.Anchor.X == last {
			t.Fatalf("%s placed on shared boundary sample", pl.Kind)
		}
	}
}

func TestKindFromLabel(t *testing.T) {
	for _, k := range []EntityKind{Coin, Fuel, Rock, Tree, Crate} {
		got, ok := KindFromLabel(k.Label())
		if !ok || got != k {
			t.Fatalf("label %q -> %v,%v", k.Label(), got, ok)
		}
	}
	if _, ok := KindFromLabel("ground_slice"); ok {
		t.Fatalf("ground_slice resolved to an entity kind")
	}
}
