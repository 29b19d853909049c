package store

import (
	"bytes"
	"errors"
	"log"
	"math"
	"reflect"
	"strings"
	"testing"

	"hillracer.ai/internal/sim/physics"
	"hillracer.ai/internal/sim/terrain/biome"
)

type recordingRenderer struct {
	theme    biome.Kind
	drawn    []int
	released []VisualHandle
	next     VisualHandle
}

func (r *recordingRenderer) SetBiomeTheme(k biome.Kind) { r.theme = k }

func (r *recordingRenderer) DrawSurface(index int, outline []physics.Vec2, _ biome.Style) VisualHandle {
	r.drawn = append(r.drawn, index)
	r.next++
	return r.next
}

func (r *recordingRenderer) Release(h VisualHandle) { r.released = append(r.released, h) }

type recorder struct{ events []Event }

func (r *recorder) Emit(ev Event) { r.events = append(r.events, ev) }

func (r *recorder) types() []EventType {
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	mem    *physics.Memory
	rend   *recordingRenderer
	rec    *recorder
	logBuf *bytes.Buffer
	s      *Stream
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Seed = 1
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{
		mem:    physics.NewMemory(),
		rend:   &recordingRenderer{},
		rec:    &recorder{},
		logBuf: &bytes.Buffer{},
	}
	s, err := NewStream(cfg, f.mem,
		WithRenderer(f.rend),
		WithSink(f.rec),
		WithLogger(log.New(f.logBuf, "", 0)),
	)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	f.s = s
	return f
}

func (f *fixture) width() float64 { return f.s.Config().Params.ChunkWidth }

// assertConsistent checks that the back end holds exactly the bodies the
// window accounts for.
func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()
	if got, want := f.mem.CountLabel(GroundLabel), f.s.GroundBodies(); got != want {
		t.Fatalf("ground bodies in back end=%d, window=%d", got, want)
	}
	if got, want := f.mem.Len(), f.s.GroundBodies()+f.s.EntityCount(); got != want {
		t.Fatalf("bodies in back end=%d, window=%d", got, want)
	}
}

func TestNewStreamRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreRoll = cfg.Lookahead
	if _, err := NewStream(cfg, physics.NewMemory()); err == nil {
		t.Fatalf("expected error for pre-roll <= lookahead")
	}
	if _, err := NewStream(DefaultConfig(), nil); err == nil {
		t.Fatalf("expected error for nil back end")
	}
}

func TestInitPreRollsFirstChunks(t *testing.T) {
	f := newFixture(t, nil)
	f.s.Init(biome.Desert)

	if f.s.State() != StateStreaming {
		t.Fatalf("state=%s", f.s.State())
	}
	if res := f.s.Update(0); res.Created || res.Evicted {
		t.Fatalf("update(0) changed the window: %+v", res)
	}
	if got := f.s.Resident(); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Fatalf("resident=%v", got)
	}
	ch0, _ := f.s.Chunk(0)
	if ch0.EntityCount() != 0 {
		t.Fatalf("chunk 0 has %d entities", ch0.EntityCount())
	}
	steps := f.s.Config().Params.Steps
	for _, ch := range f.s.Chunks() {
		if len(ch.Samples) != steps+1 {
			t.Fatalf("chunk %d: %d samples", ch.Index, len(ch.Samples))
		}
		if got := len(ch.Slices) + len(ch.Degenerate) + ch.Failed; got != steps {
			t.Fatalf("chunk %d: %d slices accounted for", ch.Index, got)
		}
	}
	if f.rend.theme != biome.Desert || !reflect.DeepEqual(f.rend.drawn, []int{0, 1, 2}) {
		t.Fatalf("renderer theme=%s drawn=%v", f.rend.theme, f.rend.drawn)
	}
	want := []EventType{EventRunStarted, EventChunkCreated, EventChunkCreated, EventChunkCreated}
	if got := f.rec.types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events=%v", got)
	}
	if ev := f.rec.events[1]; len(ev.Samples) != steps+1 || ev.Biome != "DESERT" || ev.RunID == "" {
		t.Fatalf("chunk event: %+v", ev)
	}
	f.assertConsistent(t)
}

func TestUpdateBuildsAheadAndEvictsOldest(t *testing.T) {
	f := newFixture(t, nil)
	f.s.Init(biome.Desert)
	w := f.width()

	res := f.s.Update(2*w - 1)
	if !res.Created || res.Chunk != 3 || res.Evicted {
		t.Fatalf("update(2w-1)=%+v", res)
	}
	if got := f.s.Resident(); !reflect.DeepEqual(got, []int{0, 1, 2, 3}) {
		t.Fatalf("resident=%v", got)
	}
	if res := f.s.Update(2*w - 1); res.Created {
		t.Fatalf("second update at same x built chunk %d", res.Chunk)
	}

	f.s.Update(2 * w)
	ch0, _ := f.s.Chunk(0)
	ch0Slices := append([]GroundSlice(nil), ch0.Slices...)
	groundBefore := f.mem.CountLabel(GroundLabel)

	res = f.s.Update(3 * w)
	if !res.Created || res.Chunk != 5 || !res.Evicted || res.Dropped != 0 {
		t.Fatalf("update(3w)=%+v", res)
	}
	if got := f.s.Resident(); !reflect.DeepEqual(got, []int{1, 2, 3, 4, 5}) {
		t.Fatalf("resident=%v", got)
	}
	for _, sl := range ch0Slices {
		if _, ok := f.mem.Body(sl.Body); ok {
			t.Fatalf("slice %d of evicted chunk still registered", sl.Segment)
		}
	}
	ch5, _ := f.s.Chunk(5)
	if got := f.mem.CountLabel(GroundLabel); got != groundBefore-len(ch0Slices)+len(ch5.Slices) {
		t.Fatalf("ground bodies=%d before=%d", got, groundBefore)
	}
	if len(f.rend.released) != 1 {
		t.Fatalf("released=%v", f.rend.released)
	}
	f.assertConsistent(t)
}

func TestWindowStaysBoundedAndCovered(t *testing.T) {
	f := newFixture(t, nil)
	f.s.Init(biome.Forest)
	cfg := f.s.Config()
	w := cfg.Params.ChunkWidth

	for x := 0.0; x < 40*w; x += w / 7 {
		f.s.Update(x)
		res := f.s.Resident()
		if len(res) > cfg.Retention {
			t.Fatalf("x=%v: %d chunks resident", x, len(res))
		}
		for i := 1; i < len(res); i++ {
			if res[i] != res[i-1]+1 {
				t.Fatalf("x=%v: gap in window %v", x, res)
			}
		}
		for ahead := 0.0; ahead <= float64(cfg.Lookahead); ahead++ {
			if !f.s.Covers(x + ahead*w) {
				t.Fatalf("x=%v: no ground %v chunks ahead (resident %v)", x, ahead, res)
			}
		}
	}
	f.assertConsistent(t)
}

func TestUpdateBeforeInitIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	if res := f.s.Update(12345); res.Created {
		t.Fatalf("update before init built chunk")
	}
	if f.mem.Len() != 0 || len(f.rec.events) != 0 {
		t.Fatalf("back end=%d events=%d", f.mem.Len(), len(f.rec.events))
	}
}

func TestResetDrainsWindow(t *testing.T) {
	f := newFixture(t, nil)
	f.s.Init(biome.Grass)
	w := f.width()
	f.s.Update(2 * w)
	f.s.Update(3 * w)

	f.s.Reset()
	if f.s.State() != StateUninitialized || f.s.RunID() != "" {
		t.Fatalf("state=%s run=%q", f.s.State(), f.s.RunID())
	}
	if f.mem.Len() != 0 {
		t.Fatalf("%d bodies left after reset", f.mem.Len())
	}
	if len(f.s.Resident()) != 0 || f.s.NextIndex() != 0 {
		t.Fatalf("resident=%v next=%d", f.s.Resident(), f.s.NextIndex())
	}
	if res := f.s.Update(4 * w); res.Created {
		t.Fatalf("update after reset built chunk %d", res.Chunk)
	}
	if last := f.rec.events[len(f.rec.events)-1]; last.Type != EventRunReset {
		t.Fatalf("last event=%s", last.Type)
	}

	n := len(f.rec.events)
	f.s.Reset()
	if len(f.rec.events) != n {
		t.Fatalf("second reset emitted events")
	}
}

func TestInitRestartsRun(t *testing.T) {
	f := newFixture(t, nil)
	f.s.Init(biome.Grass)
	first := f.s.RunID()
	f.s.Update(3 * f.width())

	f.s.Init(biome.Moon)
	if f.s.RunID() == first {
		t.Fatalf("run id reused")
	}
	if got := f.s.Resident(); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Fatalf("resident=%v", got)
	}
	if f.s.Profile().Kind != biome.Moon {
		t.Fatalf("profile=%v", f.s.Profile().Kind)
	}
	f.assertConsistent(t)
}

func TestInitTagFallsBack(t *testing.T) {
	f := newFixture(t, nil)
	if k := f.s.InitTag("venus"); k != biome.Grass {
		t.Fatalf("kind=%s", k)
	}
	if !strings.Contains(f.logBuf.String(), "unknown biome") {
		t.Fatalf("log=%q", f.logBuf.String())
	}
	if k := f.s.InitTag("mars"); k != biome.Mars || f.s.Biome() != biome.Mars {
		t.Fatalf("kind=%s", k)
	}
}

func TestRefusedRegistrationLeavesPartialChunk(t *testing.T) {
	f := newFixture(t, nil)
	f.s.Init(biome.Desert)
	f.mem.FailNext(2)

	res := f.s.Update(f.width())
	if !res.Created {
		t.Fatalf("chunk not built")
	}
	ch, _ := f.s.Chunk(res.Chunk)
	steps := f.s.Config().Params.Steps
	if ch.Failed != 2 || len(ch.Slices) != steps-2-len(ch.Degenerate) {
		t.Fatalf("failed=%d slices=%d", ch.Failed, len(ch.Slices))
	}
	if !strings.Contains(f.logBuf.String(), "register slice") {
		t.Fatalf("refusal not logged: %q", f.logBuf.String())
	}
	if res := f.s.Update(2 * f.width()); !res.Created {
		t.Fatalf("stream stalled after refusal")
	}
	f.assertConsistent(t)
}

func TestUpdateIgnoresNonFiniteX(t *testing.T) {
	f := newFixture(t, nil)
	f.s.Init(biome.Grass)
	for _, x := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 1e300, -1e300} {
		if res := f.s.Update(x); res.Created || res.Evicted {
			t.Fatalf("update(%v) changed the window", x)
		}
	}
	if got := f.s.Resident(); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Fatalf("resident = %v", got)
	}
	if !strings.Contains(f.logBuf.String(), "outside the streamable range") {
		t.Fatalf("rejection not logged: %q", f.logBuf.String())
	}
}

func firstEntity(t *testing.T, s *Stream) *Entity {
	t.Helper()
	for _, ch := range s.Chunks() {
		if es := ch.Entities(); len(es) > 0 {
			return es[0]
		}
	}
	t.Fatalf("no entities in window")
	return nil
}

func TestContactAndRemove(t *testing.T) {
	f := newFixture(t, nil)
	f.s.Init(biome.Desert)
	e := firstEntity(t, f.s)

	c, ok := f.s.Contact(e.ID)
	if !ok || c.Kind != e.Kind || c.Position != e.Position() || c.Chunk == 0 {
		t.Fatalf("contact=%+v ok=%v", c, ok)
	}
	ch0, _ := f.s.Chunk(0)
	if _, ok := f.s.Contact(ch0.Slices[0].Body); ok {
		t.Fatalf("ground slice resolved as entity")
	}

	if !f.s.Remove(e.ID) {
		t.Fatalf("remove failed")
	}
	if _, ok := f.mem.Body(e.ID); ok {
		t.Fatalf("removed body still registered")
	}
	if f.s.Remove(e.ID) {
		t.Fatalf("second remove succeeded")
	}
	last := f.rec.events[len(f.rec.events)-1]
	if last.Type != EventEntityRemoved || last.Entity != e.Kind.Label() || last.Chunk != c.Chunk {
		t.Fatalf("event=%+v", last)
	}
	f.assertConsistent(t)
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := newFixture(t, func(c *Config) { c.Seed = 9 })
	src.s.Init(biome.Forest)
	w := src.width()
	src.s.Update(2 * w)
	src.s.Update(3 * w)
	src.s.Remove(firstEntity(t, src.s).ID)

	snap := src.s.ExportSnapshot()
	if snap.Header.Chunks != len(src.s.Resident()) || snap.Next != src.s.NextIndex() {
		t.Fatalf("header=%+v next=%d", snap.Header, snap.Next)
	}

	dst := newFixture(t, func(c *Config) { c.Seed = 9 })
	if err := dst.s.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if dst.s.RunID() != src.s.RunID() || dst.s.Biome() != biome.Forest || dst.s.State() != StateStreaming {
		t.Fatalf("run=%q biome=%s state=%s", dst.s.RunID(), dst.s.Biome(), dst.s.State())
	}
	if !reflect.DeepEqual(dst.s.Resident(), src.s.Resident()) {
		t.Fatalf("resident=%v want %v", dst.s.Resident(), src.s.Resident())
	}
	if dst.s.EntityCount() != src.s.EntityCount() || dst.s.GroundBodies() != src.s.GroundBodies() {
		t.Fatalf("entities=%d/%d ground=%d/%d", dst.s.EntityCount(), src.s.EntityCount(), dst.s.GroundBodies(), src.s.GroundBodies())
	}
	var tail []Event
	for i, ev := range dst.rec.events {
		if ev.Type == EventRunRestored {
			tail = dst.rec.events[i+1:]
		}
	}
	if len(tail) != len(dst.s.Resident()) {
		t.Fatalf("restored chunk events=%d want %d", len(tail), len(dst.s.Resident()))
	}
	for i, ev := range tail {
		if ev.Type != EventChunkCreated || !ev.Restored || ev.Chunk != dst.s.Resident()[i] || ev.RunID != src.s.RunID() {
			t.Fatalf("restored event %d: %+v", i, ev)
		}
	}
	dst.assertConsistent(t)

	a, b := src.s.Update(4*w), dst.s.Update(4*w)
	if a != b {
		t.Fatalf("update diverged: %+v vs %+v", a, b)
	}
	ca, _ := src.s.Chunk(a.Chunk)
	cb, _ := dst.s.Chunk(b.Chunk)
	if !reflect.DeepEqual(ca.Samples, cb.Samples) || len(ca.Entities()) != len(cb.Entities()) {
		t.Fatalf("chunk %d diverged after restore", a.Chunk)
	}
	for i, e := range ca.Entities() {
		if o := cb.Entities()[i]; o.Kind != e.Kind || o.Def.Position != e.Def.Position {
			t.Fatalf("entity %d: %+v vs %+v", i, o, e)
		}
	}
}

func TestImportSnapshotRejects(t *testing.T) {
	src := newFixture(t, nil)
	src.s.Init(biome.Grass)
	good := src.s.ExportSnapshot()

	if err := src.s.ImportSnapshot(good); !errors.Is(err, ErrStreaming) {
		t.Fatalf("import while streaming: %v", err)
	}

	dst := newFixture(t, func(c *Config) { c.Params.Steps = 20 })
	if err := dst.s.ImportSnapshot(good); !errors.Is(err, ErrSnapshot) {
		t.Fatalf("mismatched params: %v", err)
	}

	gap := src.s.ExportSnapshot()
	gap.Chunks = append(gap.Chunks[:1], gap.Chunks[2:]...)
	other := newFixture(t, nil)
	if err := other.s.ImportSnapshot(gap); !errors.Is(err, ErrSnapshot) {
		t.Fatalf("gap: %v", err)
	}
	if other.s.State() != StateUninitialized || other.mem.Len() != 0 {
		t.Fatalf("rejected import touched the stream")
	}
}

func TestSinksFanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	sink := Sinks(a, nil, b)
	sink.Emit(Event{Type: EventRunReset})
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("a=%d b=%d", len(a.events), len(b.events))
	}
}
