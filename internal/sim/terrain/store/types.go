package store

import (
	"sort"

	"hillracer.ai/internal/sim/physics"
	"hillracer.ai/internal/sim/terrain/gen"
)

// GroundLabel tags every ground slice body; the vehicle's ground ray casts
// filter on it.
const GroundLabel = "ground_slice"

const groundFrictionStatic = 10

type GroundSlice struct {
	gen.Slice
	Body physics.BodyID
}

type Entity struct {
	ID     physics.BodyID
	Kind   gen.EntityKind
	Anchor gen.Sample
	Def    physics.EntityBodyDef
}

func (e *Entity) Position() physics.Vec2 { return e.Def.Position }

// Chunk owns everything generated for one span of terrain. Slices and
// entities live in the chunk's own arena, so evicting the chunk releases all
// of them and nothing else refers to them.
type Chunk struct {
	Index  int
	Lo, Hi float64

	Samples    []gen.Sample
	Slices     []GroundSlice
	Degenerate []gen.Degenerate
	// Failed counts slices the physics back end refused.
	Failed         int
	FailedEntities int

	Visual VisualHandle

	entities map[physics.BodyID]*Entity
}

func newChunk(index int, width float64, samples []gen.Sample) *Chunk {
	return &Chunk{
		Index:    index,
		Lo:       float64(index) * width,
		Hi:       float64(index+1) * width,
		Samples:  samples,
		entities: map[physics.BodyID]*Entity{},
	}
}

func (c *Chunk) Span() (lo, hi float64) { return c.Lo, c.Hi }

func (c *Chunk) EntityCount() int { return len(c.entities) }

func (c *Chunk) Entity(id physics.BodyID) (*Entity, bool) {
	e, ok := c.entities[id]
	return e, ok
}

// Entities returns the chunk's live entities ordered by x, then id.
func (c *Chunk) Entities() []*Entity {
	out := make([]*Entity, 0, len(c.entities))
	for _, e := range c.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Anchor.X != out[j].Anchor.X {
			return out[i].Anchor.X < out[j].Anchor.X
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Covers reports whether one of the chunk's registered slices spans x.
func (c *Chunk) Covers(x float64) bool {
	for _, s := range c.Slices {
		if lo, hi := s.Span(); x >= lo && x <= hi {
			return true
		}
	}
	return false
}

func (c *Chunk) release(phys physics.Backend, r Renderer) {
	for _, s := range c.Slices {
		phys.Unregister(s.Body)
	}
	for id := range c.entities {
		phys.Unregister(id)
	}
	r.Release(c.Visual)
	c.Slices = nil
	c.entities = map[physics.BodyID]*Entity{}
}
