package run

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"hillracer.ai/internal/observerproto"
	"hillracer.ai/internal/sim/physics"
	"hillracer.ai/internal/sim/terrain/biome"
	"hillracer.ai/internal/sim/terrain/store"
)

const frame = 16 * time.Millisecond

func newRunner(t *testing.T, cfg RunnerConfig, rules Rules) (*Runner, *physics.Memory) {
	t.Helper()
	scfg := store.DefaultConfig()
	scfg.Seed = 11
	mem := physics.NewMemory()

	var r *Runner
	st, err := store.NewStream(scfg, mem, store.WithSink(store.SinkFunc(func(ev store.Event) {
		r.Sink().Emit(ev)
	})))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	sess, err := NewSession(st, rules, nil)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	r, err = NewRunner(cfg, sess, mem, nil)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	return r, mem
}

func TestRunnerConfigValidate(t *testing.T) {
	cfg := DefaultRunnerConfig()
	cfg.TickRateHz = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for zero tick rate")
	}
	if err := DefaultRunnerConfig().Validate(); err != nil {
		t.Fatalf("defaults: %v", err)
	}
}

func TestStepDrivesAgentAlongGround(t *testing.T) {
	cfg := DefaultRunnerConfig()
	cfg.Biome = biome.Desert
	r, _ := newRunner(t, cfg, DefaultRules())

	r.Step(frame)
	st := r.Session().Stream()
	if st.State() != store.StateStreaming || st.Biome() != biome.Desert {
		t.Fatalf("run not started: state=%s biome=%s", st.State(), st.Biome())
	}
	// Launch pad: flat at the baseline.
	if got := r.Agent(); got.X != cfg.AgentSpeed || got.Y != 600-cfg.AgentRadius {
		t.Fatalf("agent=%+v", got)
	}

	w := st.Config().Params.ChunkWidth
	for i := 0; i < 600; i++ {
		r.Step(frame)
		cur := int(r.Agent().X / w)
		res := st.Resident()
		if res[len(res)-1] < cur+st.Config().Lookahead {
			t.Fatalf("tick %d: agent in chunk %d but window ends at %d", i, cur, res[len(res)-1])
		}
	}
	if r.Session().Status().Distance != r.Agent().X {
		t.Fatalf("distance=%v x=%v", r.Session().Status().Distance, r.Agent().X)
	}
	if r.Session().Status().Coins == 0 {
		t.Fatalf("agent drove %v units without collecting anything", r.Agent().X)
	}
}

func TestStepRestartsAfterGameOver(t *testing.T) {
	cfg := DefaultRunnerConfig()
	cfg.RestartAfterTicks = 5
	rules := DefaultRules()
	rules.StartFuel = 1
	r, mem := newRunner(t, cfg, rules)

	r.Step(frame)
	first := r.Session().Status().RunID
	ticks := 1
	for !r.Session().Status().Over {
		r.Step(frame)
		if ticks++; ticks > 100 {
			t.Fatalf("run never ran out of fuel")
		}
	}
	if mem.Len() != 0 {
		t.Fatalf("%d bodies left after game over", mem.Len())
	}
	for i := 0; i < 5; i++ {
		r.Step(frame)
	}
	st := r.Session().Status()
	if st.Over || st.RunID == first || st.RunID == "" {
		t.Fatalf("status after restart=%+v", st)
	}
	if r.Agent().X != cfg.AgentSpeed {
		t.Fatalf("agent not back at start: %+v", r.Agent())
	}
}

func TestObserversReceiveTerrainAndTicks(t *testing.T) {
	r, _ := newRunner(t, DefaultRunnerConfig(), DefaultRules())
	plain := make(chan []byte, 64)
	full := make(chan []byte, 64)
	r.handleObserverJoin(ObserverJoinRequest{SessionID: "O1", Out: plain})
	r.handleObserverJoin(ObserverJoinRequest{SessionID: "O2", Out: full, Samples: true})

	r.Step(frame)

	var types []string
	var sawSamples bool
	for len(plain) > 0 {
		var m observerproto.TerrainMsg
		if err := json.Unmarshal(<-plain, &m); err != nil {
			t.Fatal(err)
		}
		types = append(types, m.Type+":"+m.Event)
		if len(m.Samples) > 0 {
			t.Fatalf("plain observer got samples")
		}
	}
	want := []string{"TERRAIN:run_started", "TERRAIN:chunk_created", "TERRAIN:chunk_created", "TERRAIN:chunk_created", "TICK:"}
	if len(types) != len(want) {
		t.Fatalf("messages=%v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("messages=%v", types)
		}
	}
	for len(full) > 0 {
		var m observerproto.TerrainMsg
		_ = json.Unmarshal(<-full, &m)
		if m.Event == "chunk_created" && len(m.Samples) == 41 {
			sawSamples = true
		}
	}
	if !sawSamples {
		t.Fatalf("sampling observer got no samples")
	}

	r.handleObserverLeave("O1")
	if _, ok := <-plain; ok {
		t.Fatalf("channel not closed on leave")
	}
}

func TestFullObserverDropsInsteadOfBlocking(t *testing.T) {
	r, _ := newRunner(t, DefaultRunnerConfig(), DefaultRules())
	out := make(chan []byte, 1)
	r.handleObserverJoin(ObserverJoinRequest{SessionID: "slow", Out: out})
	r.Step(frame)
	r.Step(frame)
	if r.observers["slow"].dropped == 0 {
		t.Fatalf("expected drops")
	}
}

func TestRunServesBootstrapAndSnapshot(t *testing.T) {
	cfg := DefaultRunnerConfig()
	cfg.TickRateHz = 500
	r, _ := newRunner(t, cfg, DefaultRules())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	var boot observerproto.BootstrapResponse
	for boot.RunID == "" {
		var err error
		boot, err = r.Bootstrap(ctx)
		if err != nil {
			t.Fatalf("bootstrap: %v", err)
		}
	}
	if boot.ProtocolVersion != observerproto.Version || len(boot.Chunks) < 3 || boot.Params.ChunkWidth != 2000 {
		t.Fatalf("bootstrap=%+v", boot)
	}
	if len(boot.Chunks[0].Samples) != 41 {
		t.Fatalf("chunk 0 samples=%d", len(boot.Chunks[0].Samples))
	}

	snap, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Header.RunID != boot.RunID || len(snap.Chunks) < 3 {
		t.Fatalf("snapshot header=%+v chunks=%d", snap.Header, len(snap.Chunks))
	}

	r.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestResumeContinuesWindow(t *testing.T) {
	src, _ := newRunner(t, DefaultRunnerConfig(), DefaultRules())
	for i := 0; i < 500; i++ {
		src.Step(frame)
	}
	snap := src.Session().Stream().ExportSnapshot()

	dst, _ := newRunner(t, DefaultRunnerConfig(), DefaultRules())
	if err := dst.Resume(snap); err != nil {
		t.Fatalf("resume: %v", err)
	}
	st := dst.Session().Stream()
	if st.RunID() != snap.Header.RunID || st.NextIndex() != snap.Next {
		t.Fatalf("run=%q next=%d", st.RunID(), st.NextIndex())
	}
	next := st.NextIndex()
	dst.Step(frame)
	if st.NextIndex() != next {
		t.Fatalf("first step after resume built chunk %d", next)
	}
	if dst.Session().Status().Over {
		t.Fatalf("resumed run is over")
	}
}
