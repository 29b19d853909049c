package biome

import (
	"math"

	"github.com/ojrac/opensimplex-go"
)

const (
	// SurfaceLevel is the resting elevation most biomes oscillate around.
	SurfaceLevel = 600.0
	forestLevel  = 550.0

	grainSeed  = 0x5eed
	grainScale = 90.0
)

// grain is read-only after init; Eval2 keeps no state between calls.
var grain = opensimplex.New(grainSeed)

func grainAt(x float64) float64 {
	return grain.Eval2(x/grainScale, 0)
}

// Surface returns the elevation of biome k at absolute world x for the given
// difficulty multiplier. Elevations grow downward.
func Surface(k Kind, difficulty, x float64) float64 {
	p := ProfileOf(k).Noise
	d := difficulty
	primary := math.Sin(x*p.Frequency) * (p.Amplitude * d)

	switch k {
	case Desert:
		ripples := math.Sin(x*0.02) * (15 * d)
		return SurfaceLevel + primary + ripples
	case Moon:
		rims := math.Cos(x*0.05) * 20
		pits := grainAt(x) * (12 * d)
		return SurfaceLevel + primary + rims + pits
	case Mars:
		ridges := math.Abs(math.Sin(x*0.03)) * (40 * d)
		drift := math.Sin(x*0.01) * 10
		rubble := grainAt(x) * (6 * d)
		return SurfaceLevel + primary - ridges + drift + rubble
	case Forest:
		bumps := math.Sin(x*0.015) * (20 * d)
		roll := math.Cos(x*0.005) * (50 * d)
		return forestLevel + primary + bumps + roll
	default:
		hills := math.Sin(x*0.01) * (p.Amplitude * 0.3 * d)
		chatter := math.Sin(x*0.05) * (5 * d)
		swell := math.Sin(x*0.001) * (50 * d)
		return SurfaceLevel + primary + hills + chatter + swell
	}
}
