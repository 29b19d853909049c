package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"hillracer.ai/internal/persistence/indexdb"
	persistlog "hillracer.ai/internal/persistence/log"
	"hillracer.ai/internal/persistence/snapshot"
	"hillracer.ai/internal/sim/physics"
	"hillracer.ai/internal/sim/run"
	"hillracer.ai/internal/sim/terrain/store"
	"hillracer.ai/internal/sim/tuning"
	"hillracer.ai/internal/transport/observer"
)

func main() {
	var (
		addr        = flag.String("addr", "127.0.0.1:8080", "http listen address")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		tuningPath  = flag.String("tuning", "", "path or go-getter source of tuning.yaml (empty: built-in defaults)")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite read-model index")
		seed        = flag.Int64("seed", 0, "terrain seed override (0 keeps the tuning seed)")
		biomeTag    = flag.String("biome", "", "biome override (GRASS, DESERT, MOON, MARS, FOREST)")
		allowRemote = flag.Bool("allow_remote", false, "serve observer endpoints to non-loopback clients")

		snapPath   = flag.String("snapshot", "", "path to a terrain snapshot to resume (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", false, "resume from the newest snapshot in the data dir when -snapshot is empty")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signalContext()
	defer cancel()

	runDir := filepath.Join(*dataDir, "runs")
	_ = os.MkdirAll(runDir, 0o755)

	tune, err := tuning.LoadFrom(ctx, *tuningPath, filepath.Join(*dataDir, "tuning"))
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if *seed != 0 {
		tune.Seed = *seed
	}
	if tune.UnknownBiome != "" {
		logger.Printf("tuning: unknown biome %q, using %s", tune.UnknownBiome, tune.Biome)
	}
	if tag := strings.TrimSpace(*biomeTag); tag != "" {
		tune.Biome = tag
		if bad := tune.ResolveBiome(); bad != "" {
			logger.Printf("unknown biome %q, using %s", bad, tune.Biome)
		}
	}
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(runDir, "index.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
	}

	events := persistlog.NewEventLogger(runDir)
	defer events.Close()
	runs := persistlog.NewRunLogger(runDir)
	defer runs.Close()

	// The runner is built after the stream; its sink is bound late.
	var runner *run.Runner
	observe := store.SinkFunc(func(ev store.Event) {
		if runner != nil {
			runner.Sink().Emit(ev)
		}
	})
	sinks := []store.EventSink{events, observe}
	if idx != nil {
		sinks = append(sinks, idx)
	}

	phys := physics.NewMemory()
	stream, err := store.NewStream(tune.StoreConfig(), phys,
		store.WithLogger(logger),
		store.WithSink(store.Sinks(sinks...)),
	)
	if err != nil {
		logger.Fatalf("terrain stream: %v", err)
	}
	sess, err := run.NewSession(stream, tune.Rules(), logger)
	if err != nil {
		logger.Fatalf("session: %v", err)
	}
	sess.OnEnd(func(s run.Summary) {
		logger.Printf("run %s ended: reason=%s distance=%.1fm coins=%d", s.RunID, s.Reason, s.Meters(), s.Coins)
		if err := runs.WriteRun(persistlog.RunRecord{
			RunID:    s.RunID,
			Biome:    s.Biome,
			Reason:   string(s.Reason),
			Ticks:    s.Ticks,
			Distance: s.Distance,
			Coins:    s.Coins,
			Fuel:     s.Fuel,
			Ended:    time.Now().UTC(),
		}); err != nil {
			logger.Printf("run log: %v", err)
		}
	})
	runner, err = run.NewRunner(tune.RunnerConfig(), sess, phys, logger)
	if err != nil {
		logger.Fatalf("runner: %v", err)
	}

	snapDir := filepath.Join(runDir, "snapshots")
	toLoad := strings.TrimSpace(*snapPath)
	if toLoad == "" && *loadLatest {
		toLoad = latestSnapshot(snapDir)
	}
	if toLoad != "" {
		snap, err := snapshot.ReadSnapshot(toLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if err := runner.Resume(snap); err != nil {
			logger.Fatalf("resume snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s run=%s next_chunk=%d", filepath.Base(toLoad), snap.Header.RunID, snap.Next)
	}

	// Snapshot writer. The loop hands windows over; disk I/O stays off it.
	snapCh := make(chan snapshot.WindowV1, 2)
	writeSnap := func(snap snapshot.WindowV1) {
		path := filepath.Join(snapDir, snapshotName(snap.Header))
		if err := snapshot.WriteSnapshot(path, snap); err != nil {
			logger.Printf("snapshot write: %v", err)
			return
		}
		if idx != nil {
			idx.RecordSnapshot(path, snap)
		}
	}
	runner.OnSnapshot = func(snap snapshot.WindowV1) {
		select {
		case snapCh <- snap:
		default:
			logger.Printf("snapshot writer busy; dropping seq=%d", snap.Header.Seq)
		}
	}
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				writeSnap(snap)
			}
		}
	}()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("runner stopped: %v", err)
		}
	}()

	obsSrv := observer.NewServer(runner, logger)
	obsSrv.AllowRemote = *allowRemote

	mux := http.NewServeMux()
	mux.Handle("/", obsSrv.Routes())
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		ctx2, cancel2 := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel2()
		boot, err := runner.Bootstrap(ctx2)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		var slices, entities int
		for _, ch := range boot.Chunks {
			slices += ch.Slices
			entities += len(ch.Entities)
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP hillracer_tick Current runner tick.\n")
		fmt.Fprintf(rw, "# TYPE hillracer_tick gauge\n")
		fmt.Fprintf(rw, "hillracer_tick{biome=%q} %d\n", boot.Biome, boot.Tick)

		fmt.Fprintf(rw, "# HELP hillracer_resident_chunks Resident terrain chunks.\n")
		fmt.Fprintf(rw, "# TYPE hillracer_resident_chunks gauge\n")
		fmt.Fprintf(rw, "hillracer_resident_chunks{biome=%q} %d\n", boot.Biome, len(boot.Chunks))

		fmt.Fprintf(rw, "# HELP hillracer_ground_slices Registered ground slices across resident chunks.\n")
		fmt.Fprintf(rw, "# TYPE hillracer_ground_slices gauge\n")
		fmt.Fprintf(rw, "hillracer_ground_slices{biome=%q} %d\n", boot.Biome, slices)

		fmt.Fprintf(rw, "# HELP hillracer_entities Live entities across resident chunks.\n")
		fmt.Fprintf(rw, "# TYPE hillracer_entities gauge\n")
		fmt.Fprintf(rw, "hillracer_entities{biome=%q} %d\n", boot.Biome, entities)

		fmt.Fprintf(rw, "# HELP hillracer_agent_distance Distance covered this run in meters.\n")
		fmt.Fprintf(rw, "# TYPE hillracer_agent_distance gauge\n")
		fmt.Fprintf(rw, "hillracer_agent_distance{biome=%q} %.2f\n", boot.Biome, boot.Agent.Distance/100)

		fmt.Fprintf(rw, "# HELP hillracer_agent_fuel Remaining fuel.\n")
		fmt.Fprintf(rw, "# TYPE hillracer_agent_fuel gauge\n")
		fmt.Fprintf(rw, "hillracer_agent_fuel{biome=%q} %.3f\n", boot.Biome, boot.Agent.Fuel)

		if idx != nil {
			s := idx.Stats()
			fmt.Fprintf(rw, "# HELP hillracer_index_queue_depth Index writer backlog.\n")
			fmt.Fprintf(rw, "# TYPE hillracer_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "hillracer_index_queue_depth %d\n", s.QueueDepth)
			fmt.Fprintf(rw, "# HELP hillracer_index_dropped_total Index records dropped on a full queue.\n")
			fmt.Fprintf(rw, "# TYPE hillracer_index_dropped_total counter\n")
			fmt.Fprintf(rw, "hillracer_index_dropped_total{kind=%q} %d\n", "event", s.DropEventTotal)
			fmt.Fprintf(rw, "hillracer_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
		}
	})
	if envBool("HR_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s biome=%s seed=%d", *addr, tune.Biome, tune.Seed)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Run has returned once ctx is done, so the stream is ours again.
	<-runDone
	<-snapDone
	if stream.State() == store.StateStreaming {
		writeSnap(stream.ExportSnapshot())
	}
	if err := events.Err(); err != nil {
		logger.Printf("event log: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

const snapshotExt = ".snap.zst"

// snapshotName keys a snapshot by run as well as seq: seq restarts with every
// fresh process, so two runs can share one.
func snapshotName(h snapshot.Header) string {
	return fmt.Sprintf("%s-%d%s", h.RunID, h.Seq, snapshotExt)
}

// latestSnapshot returns the most recently written snapshot in dir.
func latestSnapshot(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestMod time.Time
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if best == "" || mod.After(bestMod) || (mod.Equal(bestMod) && e.Name() > filepath.Base(best)) {
			bestMod = mod
			best = filepath.Join(dir, e.Name())
		}
	}
	return best
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
