package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"hillracer.ai/internal/persistence/indexdb"
	persistlog "hillracer.ai/internal/persistence/log"
	"hillracer.ai/internal/persistence/snapshot"
	"hillracer.ai/internal/sim/physics"
	"hillracer.ai/internal/sim/terrain/store"
	"hillracer.ai/internal/sim/tuning"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst")
		eventsDir  = flag.String("events", "", "events dir containing events-*.jsonl.zst (optional)")
		indexPath  = flag.String("index", "", "index.sqlite to summarise (optional)")
		tuningPath = flag.String("tuning", "", "tuning.yaml the run used (empty: built-in defaults)")
		headerOnly = flag.Bool("header", false, "print the snapshot header and exit")
	)
	flag.Parse()

	if *snapPath == "" && *indexPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot or -index")
		os.Exit(2)
	}
	if *indexPath != "" {
		if err := summariseIndex(*indexPath); err != nil {
			fmt.Fprintln(os.Stderr, "index:", err)
			os.Exit(1)
		}
	}
	if *snapPath == "" {
		return
	}

	if *headerOnly {
		h, err := snapshot.ReadHeader(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read header:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d run=%s seq=%d chunks=%d\n", h.Version, h.RunID, h.Seq, h.Chunks)
		return
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	kinds := map[string]int{}
	for _, ch := range snap.Chunks {
		for _, e := range ch.Entities {
			kinds[e.Kind]++
		}
	}
	fmt.Printf("snapshot v%d run=%s seq=%d biome=%s seed=%d chunks=%d next=%d entities=%s\n",
		snap.Header.Version, snap.Header.RunID, snap.Header.Seq, snap.Biome, snap.Seed,
		len(snap.Chunks), snap.Next, formatCounts(kinds))

	if *eventsDir == "" {
		return
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	cfg := tune.StoreConfig()
	cfg.Seed = snap.Seed
	if len(snap.Chunks) > cfg.Retention {
		cfg.Retention = len(snap.Chunks)
	}

	stream, err := store.NewStream(cfg, physics.NewMemory())
	if err != nil {
		fmt.Fprintln(os.Stderr, "stream:", err)
		os.Exit(1)
	}
	if err := stream.ImportSnapshot(snap); err != nil {
		fmt.Fprintln(os.Stderr, "import snapshot:", err)
		os.Exit(1)
	}

	events, err := persistlog.ReadEvents(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read events:", err)
		os.Exit(1)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })

	counts := map[string]int{}
	var checked, mismatches int
	for _, ev := range events {
		counts[string(ev.Type)]++
		if ev.RunID != snap.Header.RunID || ev.Seq <= snap.Header.Seq || ev.Type != store.EventChunkCreated || ev.Restored {
			continue
		}
		if ev.Chunk != stream.NextIndex() {
			fmt.Printf("seq=%d: chunk %d out of order (next=%d); stopping\n", ev.Seq, ev.Chunk, stream.NextIndex())
			break
		}
		// Put the agent exactly far enough ahead to trigger this chunk.
		x := float64(ev.Chunk-cfg.Lookahead) * cfg.Params.ChunkWidth
		stream.Update(x)
		ch, ok := stream.Chunk(ev.Chunk)
		if !ok {
			fmt.Printf("seq=%d: chunk %d not rebuilt\n", ev.Seq, ev.Chunk)
			mismatches++
			continue
		}
		checked++
		if diff := compareChunk(ev, ch); diff != "" {
			mismatches++
			fmt.Printf("seq=%d chunk=%d mismatch: %s\n", ev.Seq, ev.Chunk, diff)
		}
	}

	fmt.Printf("events=%d %s\n", len(events), formatCounts(counts))
	fmt.Printf("verified chunks=%d mismatches=%d\n", checked, mismatches)
	if mismatches > 0 {
		os.Exit(1)
	}
}

func compareChunk(ev store.Event, ch *store.Chunk) string {
	var diffs []string
	if ev.Span != [2]float64{ch.Lo, ch.Hi} {
		diffs = append(diffs, fmt.Sprintf("span %v != %v", ev.Span, [2]float64{ch.Lo, ch.Hi}))
	}
	if ev.Slices+ev.Failed != len(ch.Slices)+ch.Failed {
		diffs = append(diffs, fmt.Sprintf("slices %d != %d", ev.Slices+ev.Failed, len(ch.Slices)+ch.Failed))
	}
	if ev.Degenerate != len(ch.Degenerate) {
		diffs = append(diffs, fmt.Sprintf("degenerate %d != %d", ev.Degenerate, len(ch.Degenerate)))
	}
	if ev.Entities != ch.EntityCount() {
		diffs = append(diffs, fmt.Sprintf("entities %d != %d", ev.Entities, ch.EntityCount()))
	}
	if len(ev.Samples) > 0 {
		if len(ev.Samples) != len(ch.Samples) {
			diffs = append(diffs, fmt.Sprintf("samples %d != %d", len(ev.Samples), len(ch.Samples)))
		} else {
			for i, p := range ch.Samples {
				if ev.Samples[i] != [2]float64{p.X, p.Y} {
					diffs = append(diffs, fmt.Sprintf("sample %d %v != %v", i, ev.Samples[i], [2]float64{p.X, p.Y}))
					break
				}
			}
		}
	}
	return strings.Join(diffs, "; ")
}

func summariseIndex(path string) error {
	r, err := indexdb.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()
	runs, err := r.Runs()
	if err != nil {
		return err
	}
	for _, run := range runs {
		removals, err := r.Removals(run.RunID)
		if err != nil {
			return err
		}
		fmt.Printf("run=%s biome=%s seed=%d restored=%t ended=%t chunks=%d removals=%s\n",
			run.RunID, run.Biome, run.Seed, run.Restored, run.Ended, run.Chunks, formatCounts(removals))
	}
	return nil
}

func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, m[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
