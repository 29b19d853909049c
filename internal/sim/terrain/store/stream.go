package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/google/uuid"

	"hillracer.ai/internal/sim/physics"
	"hillracer.ai/internal/sim/terrain/biome"
	"hillracer.ai/internal/sim/terrain/gen"
)

var ErrStreaming = errors.New("terrain stream already streaming")

type State uint8

const (
	StateUninitialized State = iota
	StateStreaming
)

func (s State) String() string {
	if s == StateStreaming {
		return "STREAMING"
	}
	return "UNINITIALIZED"
}

// UpdateResult says what a single Update did. At most one chunk is built and
// at most one evicted per call.
type UpdateResult struct {
	Created bool
	Chunk   int

	Evicted bool
	Dropped int
}

// Stream is the sliding window of terrain chunks for one run. It is owned by
// the simulation loop and must only be used from that goroutine.
type Stream struct {
	cfg    Config
	phys   physics.Backend
	render Renderer
	log    *log.Logger
	sink   EventSink

	state   State
	kind    biome.Kind
	profile biome.Profile
	runID   string
	seed    int64

	ground physics.Category
	entity physics.Category
	chunks []*Chunk // oldest first
	next   int
	owner  map[physics.BodyID]*Chunk
	seq    uint64
}

type Option func(*Stream)

func WithRenderer(r Renderer) Option {
	return func(s *Stream) {
		if r != nil {
			s.render = r
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Stream) {
		if l != nil {
			s.log = l
		}
	}
}

func WithSink(sink EventSink) Option {
	return func(s *Stream) { s.sink = sink }
}

func NewStream(cfg Config, phys physics.Backend, opts ...Option) (*Stream, error) {
	if phys == nil {
		return nil, fmt.Errorf("terrain stream: nil physics backend")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("terrain stream: %w", err)
	}
	s := &Stream{
		cfg:    cfg,
		phys:   phys,
		render: NopRenderer{},
		log:    log.New(io.Discard, "", 0),
		owner:  map[physics.BodyID]*Chunk{},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Stream) Config() Config         { return s.cfg }
func (s *Stream) State() State           { return s.state }
func (s *Stream) Biome() biome.Kind      { return s.kind }
func (s *Stream) Profile() biome.Profile { return s.profile }
func (s *Stream) RunID() string          { return s.runID }
func (s *Stream) Seed() int64            { return s.seed }
func (s *Stream) NextIndex() int         { return s.next }
func (s *Stream) GroundCategory() physics.Category {
	return s.ground
}

// InitTag starts a run from a biome tag, falling back to the default biome
// for unknown tags.
func (s *Stream) InitTag(tag string) biome.Kind {
	k, ok := biome.Parse(tag)
	if !ok {
		s.log.Printf("terrain: unknown biome %q, using %s", tag, k)
	}
	s.Init(k)
	return k
}

// Init drains any previous window and pre-rolls the first chunks of a new
// run in biome k.
func (s *Stream) Init(k biome.Kind) {
	if s.state == StateStreaming || len(s.chunks) > 0 {
		s.Reset()
	}
	s.begin(k, uuid.New(), s.cfg.Seed)
	s.emit(Event{Type: EventRunStarted, Chunk: -1, Seed: s.seed})
	for i := 0; i < s.cfg.PreRoll; i++ {
		s.synthesize(s.next)
	}
	s.state = StateStreaming
}

func (s *Stream) begin(k biome.Kind, id uuid.UUID, seed int64) {
	s.kind = k
	s.profile = biome.ProfileOf(k)
	s.runID = id.String()
	if seed == 0 {
		seed = int64(binary.LittleEndian.Uint64(id[:8]))
	}
	s.seed = seed
	s.next = 0
	s.ground = s.phys.Category("ground")
	s.entity = s.phys.Category("default")
	s.render.SetBiomeTheme(k)
}

// Update advances the window for an agent at horizontal position agentX.
// Before Init it does nothing.
func (s *Stream) Update(agentX float64) UpdateResult {
	var res UpdateResult
	if s.state != StateStreaming {
		return res
	}
	if !gen.InRange(agentX, s.cfg.Params.ChunkWidth) {
		s.log.Printf("terrain: ignoring agent x %v outside the streamable range", agentX)
		return res
	}
	current := gen.ChunkOf(agentX, s.cfg.Params.ChunkWidth)
	if current+s.cfg.Lookahead < s.next {
		return res
	}
	res.Created = true
	res.Chunk = s.next
	s.synthesize(s.next)

	if len(s.chunks) > s.cfg.Retention {
		old := s.chunks[0]
		s.chunks[0] = nil
		s.chunks = s.chunks[1:]
		s.evict(old)
		res.Evicted = true
		res.Dropped = old.Index
	}
	return res
}

// Reset evicts every resident chunk and returns the stream to
// UNINITIALIZED. Init must be called again before Update has any effect.
func (s *Stream) Reset() {
	for _, ch := range s.chunks {
		s.evict(ch)
	}
	wasRunning := s.runID != ""
	s.chunks = nil
	s.next = 0
	s.state = StateUninitialized
	if wasRunning {
		s.emit(Event{Type: EventRunReset, Chunk: -1})
	}
	s.runID = ""
	s.owner = map[physics.BodyID]*Chunk{}
}

func (s *Stream) synthesize(index int) {
	samples := gen.SampleChunk(s.kind, index, s.cfg.Params)
	ch := s.build(index, samples)
	rng := gen.ChunkRand(s.seed, index)
	for _, pl := range gen.Place(samples, index, s.kind, rng, s.cfg.Rules) {
		s.addEntity(ch, pl.Kind, pl.Anchor, pl.Body)
	}
	s.emit(s.chunkEvent(EventChunkCreated, ch))
}

// build tessellates samples into registered ground slices and appends the
// chunk to the window. A refused slice leaves a hole in that chunk's
// collision but never stops the stream.
func (s *Stream) build(index int, samples []gen.Sample) *Chunk {
	p := s.cfg.Params
	ch := newChunk(index, p.ChunkWidth, samples)

	slices, bad := gen.Tessellate(samples, p.Bottom)
	for _, d := range bad {
		s.log.Printf("terrain: chunk %d: skipped %s", index, d)
	}
	ch.Degenerate = bad
	ch.Slices = make([]GroundSlice, 0, len(slices))
	for _, sl := range slices {
		poly := make([]physics.Vec2, len(sl.Polygon))
		copy(poly, sl.Polygon[:])
		id, err := s.phys.RegisterStatic(physics.StaticBodyDef{
			Polygon:        poly,
			Friction:       s.profile.Friction,
			FrictionStatic: groundFrictionStatic,
			Label:          GroundLabel,
			Category:       s.ground,
		})
		if err != nil {
			ch.Failed++
			s.log.Printf("terrain: chunk %d segment %d: register slice: %v", index, sl.Segment, err)
			continue
		}
		ch.Slices = append(ch.Slices, GroundSlice{Slice: sl, Body: id})
	}
	ch.Visual = s.render.DrawSurface(index, gen.Outline(samples, p.Bottom), s.profile.Style)

	s.chunks = append(s.chunks, ch)
	s.next = index + 1
	return ch
}

func (s *Stream) addEntity(ch *Chunk, kind gen.EntityKind, anchor gen.Sample, def physics.EntityBodyDef) {
	def.Category = s.entity
	id, err := s.phys.RegisterEntity(def)
	if err != nil {
		ch.FailedEntities++
		s.log.Printf("terrain: chunk %d: register %s at x=%.1f: %v", ch.Index, kind, anchor.X, err)
		return
	}
	ch.entities[id] = &Entity{ID: id, Kind: kind, Anchor: anchor, Def: def}
	s.owner[id] = ch
}

func (s *Stream) evict(ch *Chunk) {
	for id := range ch.entities {
		delete(s.owner, id)
	}
	ev := s.chunkEvent(EventChunkEvicted, ch)
	ev.Samples = nil
	ch.release(s.phys, s.render)
	s.emit(ev)
}

func (s *Stream) chunkEvent(t EventType, ch *Chunk) Event {
	ev := Event{
		Type:       t,
		Chunk:      ch.Index,
		Span:       [2]float64{ch.Lo, ch.Hi},
		Slices:     len(ch.Slices),
		Degenerate: len(ch.Degenerate),
		Failed:     ch.Failed,
		Entities:   len(ch.entities),
	}
	if t == EventChunkCreated {
		ev.Samples = make([][2]float64, len(ch.Samples))
		for i, p := range ch.Samples {
			ev.Samples[i] = [2]float64{p.X, p.Y}
		}
	}
	return ev
}

func (s *Stream) emit(ev Event) {
	if s.sink == nil {
		return
	}
	s.seq++
	ev.Seq = s.seq
	ev.RunID = s.runID
	ev.Biome = s.kind.String()
	s.sink.Emit(ev)
}
