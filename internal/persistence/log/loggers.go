package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"hillracer.ai/internal/sim/terrain/store"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files. Each reopen of an
// hour's file appends a new zstd frame; readers decode frames back to back.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// EventLogger writes one JSONL entry per stream event (compressed). It is
// also a store.EventSink; write failures seen through Emit are kept for Err.
type EventLogger struct {
	w *JSONLZstdWriter

	mu  sync.Mutex
	err error
}

func NewEventLogger(runDir string) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "events"), "events")}
}

func (l *EventLogger) WriteEvent(ev store.Event) error { return l.w.Write(ev) }
func (l *EventLogger) Close() error                    { return l.w.Close() }

func (l *EventLogger) Emit(ev store.Event) {
	if err := l.w.Write(ev); err != nil {
		l.mu.Lock()
		if l.err == nil {
			l.err = err
		}
		l.mu.Unlock()
	}
}

// Err returns the first write error seen by Emit.
func (l *EventLogger) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// RunRecord summarises one finished run.
type RunRecord struct {
	RunID    string    `json:"run_id"`
	Biome    string    `json:"biome"`
	Reason   string    `json:"reason"`
	Ticks    uint64    `json:"ticks"`
	Distance float64   `json:"distance"`
	Coins    int       `json:"coins"`
	Fuel     float64   `json:"fuel"`
	Ended    time.Time `json:"ended"`
}

// RunLogger writes run summaries (compressed).
type RunLogger struct{ w *JSONLZstdWriter }

func NewRunLogger(runDir string) *RunLogger {
	return &RunLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "runs"), "runs")}
}

func (l *RunLogger) WriteRun(v RunRecord) error { return l.w.Write(v) }
func (l *RunLogger) Close() error               { return l.w.Close() }

// ReadEvents decodes every events-*.jsonl.zst file under dir in name (and so
// hour) order.
func ReadEvents(dir string) ([]store.Event, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "events-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	var out []store.Event
	for _, p := range paths {
		evs, err := readEventFile(p)
		if err != nil {
			return out, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, evs...)
	}
	return out, nil
}

func readEventFile(path string) ([]store.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []store.Event
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev store.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, sc.Err()
}
