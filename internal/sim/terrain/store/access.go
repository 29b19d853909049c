package store

import (
	"hillracer.ai/internal/sim/physics"
	"hillracer.ai/internal/sim/terrain/gen"
)

// Contact is what the gameplay side learns about an entity the agent touched.
type Contact struct {
	Entity   physics.BodyID
	Kind     gen.EntityKind
	Position physics.Vec2
	Chunk    int
}

// Contact resolves a body reported by the physics back end to a placed
// entity. Ground slices and unknown bodies resolve to false.
func (s *Stream) Contact(id physics.BodyID) (Contact, bool) {
	ch, ok := s.owner[id]
	if !ok {
		return Contact{}, false
	}
	e := ch.entities[id]
	return Contact{Entity: id, Kind: e.Kind, Position: e.Position(), Chunk: ch.Index}, true
}

// Remove drops a collected or destroyed entity from its chunk and from the
// physics back end.
func (s *Stream) Remove(id physics.BodyID) bool {
	ch, ok := s.owner[id]
	if !ok {
		return false
	}
	e := ch.entities[id]
	delete(ch.entities, id)
	delete(s.owner, id)
	s.phys.Unregister(id)
	pos := e.Position()
	s.emit(Event{
		Type:   EventEntityRemoved,
		Chunk:  ch.Index,
		Entity: e.Kind.Label(),
		Pos:    [2]float64{pos.X, pos.Y},
	})
	return true
}

// Resident lists the indices of resident chunks, oldest first.
func (s *Stream) Resident() []int {
	out := make([]int, len(s.chunks))
	for i, ch := range s.chunks {
		out[i] = ch.Index
	}
	return out
}

func (s *Stream) Chunks() []*Chunk {
	out := make([]*Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

func (s *Stream) Chunk(index int) (*Chunk, bool) {
	if len(s.chunks) == 0 {
		return nil, false
	}
	// Resident indices are contiguous.
	i := index - s.chunks[0].Index
	if i < 0 || i >= len(s.chunks) {
		return nil, false
	}
	return s.chunks[i], true
}

// Covers reports whether a registered ground slice spans x.
func (s *Stream) Covers(x float64) bool {
	ch, ok := s.Chunk(gen.ChunkOf(x, s.cfg.Params.ChunkWidth))
	if ok && ch.Covers(x) {
		return true
	}
	// x on a chunk's upper edge belongs to the next chunk but is also the
	// last slice edge of the previous one.
	if prev, ok := s.Chunk(gen.ChunkOf(x, s.cfg.Params.ChunkWidth) - 1); ok {
		return prev.Covers(x)
	}
	return false
}

// GroundBodies counts registered ground slices across the window.
func (s *Stream) GroundBodies() int {
	n := 0
	for _, ch := range s.chunks {
		n += len(ch.Slices)
	}
	return n
}

// EntityCount counts live entities across the window.
func (s *Stream) EntityCount() int {
	return len(s.owner)
}

// Height samples the height field of the active run at x. It does not need
// the chunk to be resident.
func (s *Stream) Height(x float64) float64 {
	return gen.Height(s.kind, gen.ChunkOf(x, s.cfg.Params.ChunkWidth), x, s.cfg.Params)
}
