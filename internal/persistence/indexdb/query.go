package indexdb

import (
	"database/sql"
)

type RunRow struct {
	RunID      string
	Biome      string
	Seed       int64
	StartedSeq uint64
	Restored   bool
	Ended      bool
	Chunks     int
	Removals   int
}

type ChunkRow struct {
	Chunk      int
	Lo, Hi     float64
	Slices     int
	Degenerate int
	Failed     int
	Entities   int
	Evicted    bool
}

// Reader answers queries against an index database. Open it on a file no
// SQLiteIndex is writing to, or after the writer has been closed.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

// Runs lists indexed runs in the order they started.
func (r *Reader) Runs() ([]RunRow, error) {
	rows, err := r.db.Query(`
		SELECT r.run_id, r.biome, r.seed, r.started_seq, r.restored, r.ended_seq IS NOT NULL,
			(SELECT COUNT(*) FROM chunks c WHERE c.run_id = r.run_id),
			(SELECT COUNT(*) FROM removals m WHERE m.run_id = r.run_id)
		FROM runs r ORDER BY r.started_at, r.run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRow
	for rows.Next() {
		var row RunRow
		var started int64
		if err := rows.Scan(&row.RunID, &row.Biome, &row.Seed, &started, &row.Restored, &row.Ended, &row.Chunks, &row.Removals); err != nil {
			return nil, err
		}
		row.StartedSeq = uint64(started)
		out = append(out, row)
	}
	return out, rows.Err()
}

// Chunks lists every chunk built during a run, by index.
func (r *Reader) Chunks(runID string) ([]ChunkRow, error) {
	rows, err := r.db.Query(`
		SELECT chunk, lo, hi, slices, degenerate, failed, entities, evicted_seq IS NOT NULL
		FROM chunks WHERE run_id = ? ORDER BY chunk`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkRow
	for rows.Next() {
		var c ChunkRow
		if err := rows.Scan(&c.Chunk, &c.Lo, &c.Hi, &c.Slices, &c.Degenerate, &c.Failed, &c.Entities, &c.Evicted); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Removals counts collected or destroyed entities of a run by label.
func (r *Reader) Removals(runID string) (map[string]int, error) {
	rows, err := r.db.Query(`SELECT entity, COUNT(*) FROM removals WHERE run_id = ? GROUP BY entity`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		out[label] = n
	}
	return out, rows.Err()
}
