package gen

import (
	"fmt"
	"math"

	"hillracer.ai/internal/sim/physics"
)

// Slice is the ground quad under one segment of the surface curve.
// Vertex order: top-left, top-right, bottom-right, bottom-left.
type Slice struct {
	Segment int
	Polygon [4]physics.Vec2
}

func (s Slice) Vertices() []physics.Vec2 {
	return s.Polygon[:]
}

// Span returns the horizontal extent of the slice.
func (s Slice) Span() (lo, hi float64) {
	return s.Polygon[0].X, s.Polygon[1].X
}

type Degenerate struct {
	Segment int
	Reason  string
}

func (d Degenerate) String() string {
	return fmt.Sprintf("segment %d: %s", d.Segment, d.Reason)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Tessellate builds one slice per consecutive sample pair. Pairs that would
// yield a zero-area or inverted quad are skipped and reported.
func Tessellate(samples []Sample, bottom float64) ([]Slice, []Degenerate) {
	if len(samples) < 2 {
		return nil, nil
	}
	slices := make([]Slice, 0, len(samples)-1)
	var bad []Degenerate
	for i := 0; i+1 < len(samples); i++ {
		a, b := samples[i], samples[i+1]
		switch {
		case !finite(a.X) || !finite(a.Y) || !finite(b.X) || !finite(b.Y):
			bad = append(bad, Degenerate{Segment: i, Reason: "non-finite sample"})
			continue
		case b.X == a.X:
			bad = append(bad, Degenerate{Segment: i, Reason: "zero width"})
			continue
		case b.X < a.X:
			bad = append(bad, Degenerate{Segment: i, Reason: "inverted"})
			continue
		case a.Y >= bottom || b.Y >= bottom:
			bad = append(bad, Degenerate{Segment: i, Reason: "surface below bottom"})
			continue
		}
		slices = append(slices, Slice{
			Segment: i,
			Polygon: [4]physics.Vec2{
				{X: a.X, Y: a.Y},
				{X: b.X, Y: b.Y},
				{X: b.X, Y: bottom},
				{X: a.X, Y: bottom},
			},
		})
	}
	return slices, bad
}

// Outline is the closed visual outline of a chunk: the surface curve followed
// by the two bottom corners.
func Outline(samples []Sample, bottom float64) []physics.Vec2 {
	if len(samples) == 0 {
		return nil
	}
	out := make([]physics.Vec2, 0, len(samples)+2)
	for _, s := range samples {
		out = append(out, physics.Vec2{X: s.X, Y: s.Y})
	}
	out = append(out,
		physics.Vec2{X: samples[len(samples)-1].X, Y: bottom},
		physics.Vec2{X: samples[0].X, Y: bottom},
	)
	return out
}
