package gen

import (
	"math"
	"testing"

	"hillracer.ai/internal/sim/terrain/biome"
)

func TestDifficultyGrowsAndCaps(t *testing.T) {
	if got := Difficulty(0); got != 1 {
		t.Fatalf("difficulty(0)=%v want 1", got)
	}
	if got := Difficulty(5); math.Abs(got-1.5) > 1e-12 {
		t.Fatalf("difficulty(5)=%v want 1.5", got)
	}
	for _, idx := range []int{20, 21, 100, 1 << 20} {
		if got := Difficulty(idx); got != 3 {
			t.Fatalf("difficulty(%d)=%v want cap 3", idx, got)
		}
	}
	if got := Difficulty(-4); got != 1 {
		t.Fatalf("difficulty(-4)=%v want 1", got)
	}
	p := DefaultParams()
	for idx := 0; idx < 30; idx++ {
		if got, want := DifficultyAt(float64(idx)*p.ChunkWidth, p.ChunkWidth), Difficulty(idx); math.Abs(got-want) > 1e-9 {
			t.Fatalf("difficultyAt(chunk %d start)=%v want %v", idx, got, want)
		}
	}
}

func TestSampleChunkBoundariesJoin(t *testing.T) {
	p := DefaultParams()
	for _, k := range biome.Kinds() {
		prev := SampleChunk(k, 0, p)
		for idx := 1; idx < 40; idx++ {
			cur := SampleChunk(k, idx, p)
			if len(cur) != p.Steps+1 {
				t.Fatalf("%s chunk %d: %d samples want %d", k, idx, len(cur), p.Steps+1)
			}
			last, first := prev[len(prev)-1], cur[0]
			if last.X != first.X || last.Y != first.Y {
				t.Fatalf("%s boundary %d/%d: %+v vs %+v", k, idx-1, idx, last, first)
			}
			prev = cur
		}
	}
}

func TestSampleChunkOrderedAndSpaced(t *testing.T) {
	p := DefaultParams()
	s := SampleChunk(biome.Desert, 3, p)
	if s[0].X != 3*p.ChunkWidth || s[len(s)-1].X != 4*p.ChunkWidth {
		t.Fatalf("span: first=%v last=%v", s[0].X, s[len(s)-1].X)
	}
	for i := 1; i < len(s); i++ {
		if math.Abs((s[i].X-s[i-1].X)-p.StepWidth()) > 1e-9 {
			t.Fatalf("spacing at %d: %v", i, s[i].X-s[i-1].X)
		}
	}
}

func TestHeightIsPure(t *testing.T) {
	p := DefaultParams()
	for _, k := range biome.Kinds() {
		for _, x := range []float64{-5000, 0, 123.25, 2000, 77777.5} {
			a := Height(k, 4, x, p)
			b := Height(k, 4, x, p)
			if a != b {
				t.Fatalf("%s x=%v: %v != %v", k, x, a, b)
			}
			if biome.Surface(k, 2.5, x) != biome.Surface(k, 2.5, x) {
				t.Fatalf("%s surface not repeatable at %v", k, x)
			}
		}
	}
}

func TestHeightMatchesSamples(t *testing.T) {
	p := DefaultParams()
	for _, k := range biome.Kinds() {
		for _, idx := range []int{0, 1, 7} {
			for _, s := range SampleChunk(k, idx, p) {
				if got := Height(k, idx, s.X, p); got != s.Y {
					t.Fatalf("%s chunk %d x=%v: height %v sample %v", k, idx, s.X, got, s.Y)
				}
			}
		}
	}
}

func TestLaunchPadIsFlat(t *testing.T) {
	p := DefaultParams()
	for _, k := range biome.Kinds() {
		s := SampleChunk(k, 0, p)
		for i := 0; i < p.LaunchPadSamples; i++ {
			if s[i].Y != p.Baseline {
				t.Fatalf("%s pad sample %d: y=%v want %v", k, i, s[i].Y, p.Baseline)
			}
		}
		for x := 0.0; x < p.PadDistance(); x += 37 {
			if got := Height(k, 0, x, p); got != p.Baseline {
				t.Fatalf("%s pad x=%v: y=%v", k, x, got)
			}
		}
	}
}

func TestSurfaceStaysAboveBottom(t *testing.T) {
	p := DefaultParams()
	for _, k := range biome.Kinds() {
		for idx := 0; idx < 60; idx++ {
			_, bad := Tessellate(SampleChunk(k, idx, p), p.Bottom)
			if len(bad) != 0 {
				t.Fatalf("%s chunk %d: degenerate %v", k, idx, bad)
			}
		}
	}
}

func TestChunkOfClampsHugeX(t *testing.T) {
	cases := []struct {
		x    float64
		want int
	}{
		{0, 0},
		{9.99, 0},
		{-0.01, -1},
		{25, 2},
		{1e300, MaxChunkIndex},
		{-1e300, -MaxChunkIndex},
		{math.NaN(), 0},
	}
	for _, c := range cases {
		if got := ChunkOf(c.x, 10); got != c.want {
			t.Errorf("ChunkOf(%v) = %d, want %d", c.x, got, c.want)
		}
	}
	if InRange(1e300, 10) || InRange(math.Inf(-1), 10) || !InRange(-1e9, 10) {
		t.Fatalf("InRange bounds wrong")
	}
}
