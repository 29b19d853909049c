package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"hillracer.ai/internal/persistence/snapshot"
	"hillracer.ai/internal/sim/terrain/store"
)

// SQLiteIndex mirrors stream events into a queryable database. Writes are
// queued to a single writer goroutine and batched into transactions; the
// JSONL event log stays the source of truth, so a full queue drops rows.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	// maxWait bounds how long a written row stays in an open transaction.
	maxWait time.Duration

	dropEvent    atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	event    store.Event
	snapshot snapshotRow
}

type snapshotRow struct {
	RunID  string
	Seq    uint64
	Path   string
	Biome  string
	Seed   int64
	Next   int
	Chunks int
}

type Stats struct {
	DropEventTotal    uint64
	DropSnapshotTotal uint64
	QueueDepth        int
	QueueCapacity     int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 2*time.Second)
}

func openSQLite(path string, maxWait time.Duration) (*SQLiteIndex, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Chunk churn is bursty on restart (pre-roll) and snapshot restore.
		ch:      make(chan req, 16384),
		maxWait: maxWait,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			biome TEXT NOT NULL,
			seed INTEGER NOT NULL,
			started_seq INTEGER NOT NULL,
			restored INTEGER NOT NULL DEFAULT 0,
			ended_seq INTEGER,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			run_id TEXT NOT NULL,
			chunk INTEGER NOT NULL,
			lo REAL NOT NULL,
			hi REAL NOT NULL,
			slices INTEGER NOT NULL,
			degenerate INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			entities INTEGER NOT NULL,
			created_seq INTEGER NOT NULL,
			evicted_seq INTEGER,
			PRIMARY KEY (run_id, chunk)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_live ON chunks(run_id, evicted_seq);`,
		`CREATE TABLE IF NOT EXISTS removals (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			chunk INTEGER NOT NULL,
			entity TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_removals_entity ON removals(entity, run_id);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			path TEXT NOT NULL,
			biome TEXT NOT NULL,
			seed INTEGER NOT NULL,
			next_chunk INTEGER NOT NULL,
			chunks INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropEventTotal:    s.dropEvent.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
	}
}

// Emit makes the index a store.EventSink.
func (s *SQLiteIndex) Emit(ev store.Event) { s.RecordEvent(ev) }

func (s *SQLiteIndex) RecordEvent(ev store.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEvent, event: ev}:
	default:
		s.dropEvent.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.WindowV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		RunID:  snap.Header.RunID,
		Seq:    snap.Header.Seq,
		Path:   path,
		Biome:  snap.Biome,
		Seed:   snap.Seed,
		Next:   snap.Next,
		Chunks: len(snap.Chunks),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,biome,seed,started_seq,restored,started_at) VALUES(?,?,?,?,?,?)`)
	endRun, _ := s.db.Prepare(`UPDATE runs SET ended_seq=? WHERE run_id=?`)
	insertChunk, _ := s.db.Prepare(`INSERT OR REPLACE INTO chunks(run_id,chunk,lo,hi,slices,degenerate,failed,entities,created_seq) VALUES(?,?,?,?,?,?,?,?,?)`)
	evictChunk, _ := s.db.Prepare(`UPDATE chunks SET evicted_seq=? WHERE run_id=? AND chunk=?`)
	insertRemoval, _ := s.db.Prepare(`INSERT OR REPLACE INTO removals(run_id,seq,chunk,entity,x,y) VALUES(?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(run_id,seq,path,biome,seed,next_chunk,chunks) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRun, endRun, insertChunk, evictChunk, insertRemoval, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = s.maxWait
	)
	if commitMaxWait <= 0 {
		commitMaxWait = 2 * time.Second
	}

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	handle := func(r req) {
		begin()
		if tx == nil {
			return
		}
		switch r.kind {
		case reqEvent:
			ev := r.event
			seq := int64(ev.Seq)
			switch ev.Type {
			case store.EventRunStarted, store.EventRunRestored:
				restored := 0
				if ev.Type == store.EventRunRestored {
					restored = 1
				}
				exec(insertRun, ev.RunID, ev.Biome, ev.Seed, seq, restored, time.Now().UTC().Format(time.RFC3339Nano))
			case store.EventRunReset:
				exec(endRun, seq, ev.RunID)
			case store.EventChunkCreated:
				exec(insertChunk, ev.RunID, ev.Chunk, ev.Span[0], ev.Span[1], ev.Slices, ev.Degenerate, ev.Failed, ev.Entities, seq)
			case store.EventChunkEvicted:
				exec(evictChunk, seq, ev.RunID, ev.Chunk)
			case store.EventEntityRemoved:
				exec(insertRemoval, ev.RunID, seq, ev.Chunk, ev.Entity, ev.Pos[0], ev.Pos[1])
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, sn.RunID, int64(sn.Seq), sn.Path, sn.Biome, sn.Seed, sn.Next, sn.Chunks)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	// Idle flush: without it the last batch of a quiet stream would stay
	// uncommitted until Close.
	flush := time.NewTicker(commitMaxWait)
	defer flush.Stop()
	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			handle(r)
		case <-flush.C:
			commit()
		}
	}
}
