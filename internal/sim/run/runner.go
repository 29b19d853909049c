package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"hillracer.ai/internal/observerproto"
	"hillracer.ai/internal/persistence/snapshot"
	"hillracer.ai/internal/sim/physics"
	"hillracer.ai/internal/sim/terrain/biome"
	"hillracer.ai/internal/sim/terrain/store"
)

// Prober is the part of the physics back end the headless agent needs: a
// downward ray cast against ground and an overlap query for contacts.
type Prober interface {
	GroundAt(x float64, cat physics.Category) (float64, bool)
	Overlapping(c physics.Vec2, r float64) []physics.BodyID
}

type RunnerConfig struct {
	TickRateHz int
	// AgentSpeed is horizontal world units per tick at full throttle.
	AgentSpeed  float64
	AgentRadius float64
	Biome       biome.Kind

	FuelUpgrades int
	// RestartAfterTicks starts a fresh run that many ticks after one ends.
	// Zero leaves the session over.
	RestartAfterTicks int
	// SnapshotEveryTicks exports the window through OnSnapshot. Zero disables.
	SnapshotEveryTicks int
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		TickRateHz:        60,
		AgentSpeed:        12,
		AgentRadius:       30,
		Biome:             biome.Default,
		RestartAfterTicks: 120,
	}
}

func (c RunnerConfig) Validate() error {
	if c.TickRateHz <= 0 {
		return fmt.Errorf("tick rate must be positive, got %d", c.TickRateHz)
	}
	if !(c.AgentSpeed > 0) || !(c.AgentRadius > 0) {
		return fmt.Errorf("agent speed and radius must be positive")
	}
	if c.RestartAfterTicks < 0 || c.SnapshotEveryTicks < 0 {
		return fmt.Errorf("tick intervals must not be negative")
	}
	return nil
}

// ObserverJoinRequest registers a read-only observer session. Out receives
// encoded TERRAIN and TICK messages and is closed when the session leaves.
type ObserverJoinRequest struct {
	SessionID string
	Out       chan []byte
	Samples   bool
	TickEvery int
}

type observerClient struct {
	id        string
	out       chan []byte
	samples   bool
	tickEvery int
	dropped   int
}

type bootstrapReq struct {
	resp chan observerproto.BootstrapResponse
}

type snapshotReq struct {
	resp chan snapshot.WindowV1
}

// Runner drives a Session from a ticker with a headless agent that holds the
// throttle down. All session and stream state is owned by the Run goroutine.
type Runner struct {
	cfg   RunnerConfig
	sess  *Session
	probe Prober
	log   *log.Logger

	tick   uint64
	x, y   float64
	overAt uint64

	pending []store.Event

	observerJoin  chan ObserverJoinRequest
	observerLeave chan string
	bootstrap     chan bootstrapReq
	snapReq       chan snapshotReq
	stop          chan struct{}

	observers map[string]*observerClient

	OnSnapshot func(snapshot.WindowV1)
}

func NewRunner(cfg RunnerConfig, sess *Session, probe Prober, logger *log.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	if sess == nil || probe == nil {
		return nil, errors.New("runner: nil session or prober")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Runner{
		cfg:           cfg,
		sess:          sess,
		probe:         probe,
		log:           logger,
		observerJoin:  make(chan ObserverJoinRequest, 64),
		observerLeave: make(chan string, 64),
		bootstrap:     make(chan bootstrapReq, 16),
		snapReq:       make(chan snapshotReq, 4),
		stop:          make(chan struct{}),
		observers:     map[string]*observerClient{},
	}, nil
}

// Sink collects stream events for the next observer fan-out. Install it on
// the stream the session drives.
func (r *Runner) Sink() store.EventSink {
	return store.SinkFunc(func(ev store.Event) { r.pending = append(r.pending, ev) })
}

func (r *Runner) Session() *Session { return r.sess }

func (r *Runner) ObserverJoin() chan<- ObserverJoinRequest { return r.observerJoin }
func (r *Runner) ObserverLeave() chan<- string             { return r.observerLeave }

func (r *Runner) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

func (r *Runner) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(r.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer r.closeObservers()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case req := <-r.observerJoin:
			r.handleObserverJoin(req)
		case id := <-r.observerLeave:
			r.handleObserverLeave(id)
		case req := <-r.bootstrap:
			req.resp <- r.bootstrapResponse()
		case req := <-r.snapReq:
			req.resp <- r.sess.Stream().ExportSnapshot()
		case <-ticker.C:
			r.Step(interval)
		}
	}
}

// Bootstrap asks the loop for the current window. It blocks until Run
// answers or ctx ends.
func (r *Runner) Bootstrap(ctx context.Context) (observerproto.BootstrapResponse, error) {
	req := bootstrapReq{resp: make(chan observerproto.BootstrapResponse, 1)}
	select {
	case r.bootstrap <- req:
	case <-ctx.Done():
		return observerproto.BootstrapResponse{}, ctx.Err()
	}
	select {
	case resp := <-req.resp:
		return resp, nil
	case <-ctx.Done():
		return observerproto.BootstrapResponse{}, ctx.Err()
	}
}

// Snapshot asks the loop to export the resident window.
func (r *Runner) Snapshot(ctx context.Context) (snapshot.WindowV1, error) {
	req := snapshotReq{resp: make(chan snapshot.WindowV1, 1)}
	select {
	case r.snapReq <- req:
	case <-ctx.Done():
		return snapshot.WindowV1{}, ctx.Err()
	}
	select {
	case w := <-req.resp:
		return w, nil
	case <-ctx.Done():
		return snapshot.WindowV1{}, ctx.Err()
	}
}

// Step runs one tick of dt. Run calls it from the ticker; tests call it
// directly.
func (r *Runner) Step(dt time.Duration) {
	r.tick++
	st := r.sess.Stream()

	if r.sess.Status().Over {
		if r.cfg.RestartAfterTicks == 0 || r.tick-r.overAt < uint64(r.cfg.RestartAfterTicks) {
			r.publish()
			return
		}
		r.start()
	}
	if st.State() != store.StateStreaming {
		r.start()
	}

	r.x += r.cfg.AgentSpeed
	if ground, ok := r.probe.GroundAt(r.x, st.GroundCategory()); ok {
		r.y = ground - r.cfg.AgentRadius
	} else {
		// Over a hole left by a refused slice: fall.
		r.y += st.Profile().Gravity * r.cfg.AgentRadius / 3
	}

	r.sess.Tick(r.x, true, dt)
	if r.sess.Status().Over {
		r.overAt = r.tick
		r.publish()
		return
	}
	for _, id := range r.probe.Overlapping(physics.Vec2{X: r.x, Y: r.y}, r.cfg.AgentRadius) {
		r.sess.HandleContact(id)
	}

	if n := r.cfg.SnapshotEveryTicks; n > 0 && r.OnSnapshot != nil && r.tick%uint64(n) == 0 {
		r.OnSnapshot(st.ExportSnapshot())
	}
	r.publish()
}

// Resume continues a saved window instead of starting fresh. Call it before
// Run. The agent is placed far enough back that the lookahead already holds.
func (r *Runner) Resume(snap snapshot.WindowV1) error {
	if err := r.sess.Resume(snap, r.cfg.FuelUpgrades); err != nil {
		return err
	}
	st := r.sess.Stream()
	cfg := st.Config()
	idx := st.NextIndex() - 1 - cfg.Lookahead
	if first := st.Resident()[0]; idx < first {
		idx = first
	}
	r.x = float64(idx) * cfg.Params.ChunkWidth
	r.y = st.Height(r.x) - r.cfg.AgentRadius
	return nil
}

func (r *Runner) start() {
	r.x, r.y = 0, 0
	r.sess.Start(r.cfg.Biome, r.cfg.FuelUpgrades)
}

// Agent returns the headless agent's position.
func (r *Runner) Agent() physics.Vec2 { return physics.Vec2{X: r.x, Y: r.y} }

func (r *Runner) agentState() observerproto.AgentState {
	s := r.sess.Status()
	return observerproto.AgentState{
		X:        r.x,
		Y:        r.y,
		Fuel:     s.Fuel,
		Coins:    s.Coins,
		Distance: s.Distance,
		Over:     s.Over,
		Reason:   string(s.Reason),
	}
}

func (r *Runner) bootstrapResponse() observerproto.BootstrapResponse {
	st := r.sess.Stream()
	cfg := st.Config()
	resp := observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		RunID:           st.RunID(),
		Biome:           st.Biome().String(),
		Tick:            r.tick,
		Params: observerproto.TerrainParams{
			TickRateHz: r.cfg.TickRateHz,
			ChunkWidth: cfg.Params.ChunkWidth,
			Steps:      cfg.Params.Steps,
			Baseline:   cfg.Params.Baseline,
			Bottom:     cfg.Params.Bottom,
			Lookahead:  cfg.Lookahead,
			Retention:  cfg.Retention,
			Gravity:    st.Profile().Gravity,
		},
		Agent:  r.agentState(),
		Chunks: []observerproto.ChunkState{},
	}
	for _, ch := range st.Chunks() {
		cs := observerproto.ChunkState{
			Index:   ch.Index,
			Span:    [2]float64{ch.Lo, ch.Hi},
			Samples: make([][2]float64, len(ch.Samples)),
			Slices:  len(ch.Slices),
			Failed:  ch.Failed,
		}
		for i, p := range ch.Samples {
			cs.Samples[i] = [2]float64{p.X, p.Y}
		}
		for _, e := range ch.Entities() {
			pos := e.Position()
			cs.Entities = append(cs.Entities, observerproto.EntityState{
				ID:    uint64(e.ID),
				Label: e.Kind.Label(),
				Pos:   [2]float64{pos.X, pos.Y},
			})
		}
		resp.Chunks = append(resp.Chunks, cs)
	}
	return resp
}
