package store

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"hillracer.ai/internal/persistence/snapshot"
	"hillracer.ai/internal/sim/physics"
	"hillracer.ai/internal/sim/terrain/biome"
	"hillracer.ai/internal/sim/terrain/gen"
)

var ErrSnapshot = errors.New("terrain snapshot rejected")

// ExportSnapshot captures the resident window. Entities already collected or
// destroyed are not part of it.
func (s *Stream) ExportSnapshot() snapshot.WindowV1 {
	p := s.cfg.Params
	out := snapshot.WindowV1{
		Header: snapshot.Header{Version: snapshot.Version, RunID: s.runID, Seq: s.seq},
		Biome:  s.kind.String(),
		Seed:   s.seed,
		Next:   s.next,
		Params: snapshot.ParamsV1{
			ChunkWidth:       p.ChunkWidth,
			Steps:            p.Steps,
			Baseline:         p.Baseline,
			Bottom:           p.Bottom,
			LaunchPadSamples: p.LaunchPadSamples,
		},
	}
	for _, ch := range s.chunks {
		cv := snapshot.ChunkV1{Index: ch.Index, Samples: make([][2]float64, len(ch.Samples))}
		for i, sm := range ch.Samples {
			cv.Samples[i] = [2]float64{sm.X, sm.Y}
		}
		for _, e := range ch.Entities() {
			cv.Entities = append(cv.Entities, entityV1(e))
		}
		out.Chunks = append(out.Chunks, cv)
	}
	out.Header.Chunks = len(out.Chunks)
	return out
}

func entityV1(e *Entity) snapshot.EntityV1 {
	d := e.Def
	return snapshot.EntityV1{
		Kind:    e.Kind.Label(),
		Anchor:  [2]float64{e.Anchor.X, e.Anchor.Y},
		Pos:     [2]float64{d.Position.X, d.Position.Y},
		Radius:  d.Shape.Radius,
		W:       d.Shape.Width,
		H:       d.Shape.Height,
		Sensor:  d.Sensor,
		Static:  d.Static,
		Density: d.Density,
		Fric:    d.Friction,
	}
}

func entityDef(ev snapshot.EntityV1, kind gen.EntityKind) physics.EntityBodyDef {
	def := physics.EntityBodyDef{
		Position: physics.Vec2{X: ev.Pos[0], Y: ev.Pos[1]},
		Sensor:   ev.Sensor,
		Static:   ev.Static,
		Density:  ev.Density,
		Friction: ev.Fric,
		Label:    kind.Label(),
	}
	if ev.Radius > 0 {
		def.Shape = physics.Shape{Kind: physics.Circle, Radius: ev.Radius}
	} else {
		def.Shape = physics.Shape{Kind: physics.Rect, Width: ev.W, Height: ev.H}
	}
	return def
}

// ImportSnapshot restores a window written by ExportSnapshot. The stream must
// be UNINITIALIZED and configured with the same chunk parameters. Slices are
// re-tessellated from the stored samples and entities re-registered.
func (s *Stream) ImportSnapshot(snap snapshot.WindowV1) error {
	if s.state != StateUninitialized {
		return ErrStreaming
	}
	if err := s.checkSnapshot(snap); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshot, err)
	}
	k, _ := biome.Parse(snap.Biome)
	id, err := uuid.Parse(snap.Header.RunID)
	if err != nil {
		id = uuid.New()
	}
	seed := snap.Seed
	if seed == 0 {
		seed = s.cfg.Seed
	}
	s.begin(k, id, seed)
	s.seq = snap.Header.Seq

	restored := 0
	for _, cv := range snap.Chunks {
		samples := make([]gen.Sample, len(cv.Samples))
		for i, p := range cv.Samples {
			samples[i] = gen.Sample{X: p[0], Y: p[1]}
		}
		ch := s.build(cv.Index, samples)
		for _, ev := range cv.Entities {
			kind, _ := gen.KindFromLabel(ev.Kind)
			s.addEntity(ch, kind, gen.Sample{X: ev.Anchor[0], Y: ev.Anchor[1]}, entityDef(ev, kind))
			restored++
		}
	}
	s.next = snap.Next
	s.state = StateStreaming
	s.emit(Event{Type: EventRunRestored, Chunk: s.next - 1, Entities: restored, Seed: s.seed})
	for _, ch := range s.chunks {
		ev := s.chunkEvent(EventChunkCreated, ch)
		ev.Restored = true
		s.emit(ev)
	}
	return nil
}

func (s *Stream) checkSnapshot(snap snapshot.WindowV1) error {
	p := s.cfg.Params
	sp := snap.Params
	if sp.ChunkWidth != p.ChunkWidth || sp.Steps != p.Steps || sp.Bottom != p.Bottom {
		return fmt.Errorf("chunk params %+v do not match stream", sp)
	}
	if _, ok := biome.Parse(snap.Biome); !ok {
		return fmt.Errorf("unknown biome %q", snap.Biome)
	}
	if len(snap.Chunks) == 0 {
		return errors.New("no chunks")
	}
	if len(snap.Chunks) > s.cfg.Retention {
		return fmt.Errorf("%d chunks exceed retention %d", len(snap.Chunks), s.cfg.Retention)
	}
	for i, cv := range snap.Chunks {
		if i > 0 && cv.Index != snap.Chunks[i-1].Index+1 {
			return fmt.Errorf("chunk %d does not follow %d", cv.Index, snap.Chunks[i-1].Index)
		}
		if len(cv.Samples) != p.Steps+1 {
			return fmt.Errorf("chunk %d: %d samples, want %d", cv.Index, len(cv.Samples), p.Steps+1)
		}
		for _, sm := range cv.Samples {
			if math.IsNaN(sm[0]) || math.IsNaN(sm[1]) {
				return fmt.Errorf("chunk %d: NaN sample", cv.Index)
			}
		}
		for _, ev := range cv.Entities {
			if _, ok := gen.KindFromLabel(ev.Kind); !ok {
				return fmt.Errorf("chunk %d: unknown entity %q", cv.Index, ev.Kind)
			}
		}
	}
	if last := snap.Chunks[len(snap.Chunks)-1].Index; snap.Next != last+1 {
		return fmt.Errorf("next index %d, want %d", snap.Next, last+1)
	}
	return nil
}
