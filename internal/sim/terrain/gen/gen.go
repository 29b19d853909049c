// Package gen holds the pure parts of terrain synthesis: the height field,
// slice tessellation and entity placement. Nothing here touches the physics
// back end.
package gen

import (
	"math"

	"hillracer.ai/internal/sim/terrain/biome"
)

const maxDifficulty = 3.0

// Sample is one probe point on the ground curve. Y grows downward.
type Sample struct {
	X, Y float64
}

type Params struct {
	ChunkWidth float64
	Steps      int
	// Baseline is the launch pad elevation; Bottom is the deep edge every
	// slice extends down to.
	Baseline float64
	Bottom   float64
	// LaunchPadSamples samples at the start of chunk 0 are forced to Baseline.
	LaunchPadSamples int
}

func DefaultParams() Params {
	return Params{
		ChunkWidth:       2000,
		Steps:            40,
		Baseline:         biome.SurfaceLevel,
		Bottom:           2000,
		LaunchPadSamples: 11,
	}
}

func (p Params) StepWidth() float64 {
	return p.ChunkWidth / float64(p.Steps)
}

// PadDistance is the horizontal extent of the flat launch pad.
func (p Params) PadDistance() float64 {
	if p.LaunchPadSamples <= 0 {
		return 0
	}
	return float64(p.LaunchPadSamples-1) * p.StepWidth()
}

// Difficulty is the multiplier at the start of chunk index: it grows by a
// tenth per chunk and is capped at 3x.
func Difficulty(index int) float64 {
	if index < 0 {
		index = 0
	}
	return math.Min(maxDifficulty, 1+0.1*float64(index))
}

// DifficultyAt interpolates Difficulty across chunk spans so the multiplier,
// and with it the surface, has no step at chunk boundaries.
func DifficultyAt(x, chunkWidth float64) float64 {
	if !(x > 0) || chunkWidth <= 0 {
		return 1
	}
	return math.Min(maxDifficulty, 1+0.1*x/chunkWidth)
}

// MaxChunkIndex bounds the chunk indices a stream can address. It keeps
// index*Steps and the float to int conversion in ChunkOf well defined.
const MaxChunkIndex = 1<<31 - 1

// InRange reports whether x is finite and falls within ±MaxChunkIndex chunks.
func InRange(x, chunkWidth float64) bool {
	if math.IsNaN(x) || math.IsInf(x, 0) || chunkWidth <= 0 {
		return false
	}
	return math.Abs(x/chunkWidth) <= MaxChunkIndex
}

// ChunkOf returns the index of the chunk whose span holds x, clamped to
// ±MaxChunkIndex.
func ChunkOf(x, chunkWidth float64) int {
	q := math.Floor(x / chunkWidth)
	switch {
	case math.IsNaN(q):
		return 0
	case q > MaxChunkIndex:
		return MaxChunkIndex
	case q < -MaxChunkIndex:
		return -MaxChunkIndex
	}
	return int(q)
}

// Height is the elevation at absolute x for a sample belonging to chunk index.
func Height(k biome.Kind, index int, x float64, p Params) float64 {
	if index == 0 && p.LaunchPadSamples > 0 && x <= p.PadDistance() {
		return p.Baseline
	}
	return biome.Surface(k, DifficultyAt(x, p.ChunkWidth), x)
}

// SampleChunk probes Steps+1 evenly spaced points across chunk index. The
// last sample sits on the next chunk's first x and matches it exactly: both
// are computed from the same global step number.
func SampleChunk(k biome.Kind, index int, p Params) []Sample {
	step := p.StepWidth()
	out := make([]Sample, 0, p.Steps+1)
	for i := 0; i <= p.Steps; i++ {
		x := float64(index*p.Steps+i) * step
		y := biome.Surface(k, DifficultyAt(x, p.ChunkWidth), x)
		if index == 0 && i < p.LaunchPadSamples {
			y = p.Baseline
		}
		out = append(out, Sample{X: x, Y: y})
	}
	return out
}
