package store

import (
	"hillracer.ai/internal/sim/physics"
	"hillracer.ai/internal/sim/terrain/biome"
)

type VisualHandle uint64

// Renderer is the visual collaborator. The stream hands it chunk outlines and
// releases them on eviction.
type Renderer interface {
	SetBiomeTheme(k biome.Kind)
	DrawSurface(index int, outline []physics.Vec2, style biome.Style) VisualHandle
	Release(h VisualHandle)
}

type NopRenderer struct{}

func (NopRenderer) SetBiomeTheme(biome.Kind) {}
func (NopRenderer) DrawSurface(int, []physics.Vec2, biome.Style) VisualHandle {
	return 0
}
func (NopRenderer) Release(VisualHandle) {}
