// Package indexdb keeps a sqlite read-model of cave jobs and library loads.
// Writes go through a single writer goroutine so callers never block on disk;
// the index is observability, not a source of truth.
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

	"cavecraft.ai/internal/caves/genjob"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropped atomic.Uint64
}

type reqKind int

const (
	reqJob reqKind = iota + 1
	reqLibraryLoad
)

type req struct {
	kind reqKind

	job  genjob.Record
	load libraryLoadRow
}

type libraryLoadRow struct {
	At      time.Time
	Sources int
	Samples int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
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
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-style workload; NORMAL is enough durability for
	// a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS jobs (
	job_id      TEXT PRIMARY KEY,
	state       TEXT NOT NULL,
	fail_reason TEXT NOT NULL DEFAULT '',
	anchor_x    INTEGER NOT NULL,
	anchor_y    INTEGER NOT NULL,
	anchor_z    INTEGER NOT NULL,
	placed      INTEGER NOT NULL DEFAULT 0,
	clipped     INTEGER NOT NULL DEFAULT 0,
	refused     INTEGER NOT NULL DEFAULT 0,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);

CREATE TABLE IF NOT EXISTS library_loads (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	at      TEXT NOT NULL,
	sources INTEGER NOT NULL,
	samples INTEGER NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

// RecordJob enqueues a terminal job summary. Safe from any goroutine; drops
// (counted) rather than blocks when the queue is full.
func (s *SQLiteIndex) RecordJob(rec genjob.Record) {
	s.enqueue(req{kind: reqJob, job: rec})
}

// RecordLibraryLoad enqueues the outcome of one sample library reload.
func (s *SQLiteIndex) RecordLibraryLoad(sources, loaded int) {
	s.enqueue(req{kind: reqLibraryLoad, load: libraryLoadRow{
		At:      time.Now().UTC(),
		Sources: sources,
		Samples: loaded,
	}})
}

func (s *SQLiteIndex) enqueue(r req) {
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports writes discarded because the queue was full.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqJob:
			s.insertJob(r.job)
		case reqLibraryLoad:
			s.insertLibraryLoad(r.load)
		}
	}
}

func (s *SQLiteIndex) insertJob(rec genjob.Record) {
	_, _ = s.db.Exec(`
INSERT INTO jobs (job_id, state, fail_reason, anchor_x, anchor_y, anchor_z,
	placed, clipped, refused, started_at, finished_at, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(job_id) DO UPDATE SET
	state=excluded.state,
	fail_reason=excluded.fail_reason,
	placed=excluded.placed,
	clipped=excluded.clipped,
	refused=excluded.refused,
	finished_at=excluded.finished_at,
	duration_ms=excluded.duration_ms
`,
		rec.JobID, string(rec.State), string(rec.Reason),
		rec.Anchor.X, rec.Anchor.Y, rec.Anchor.Z,
		rec.Placement.Placed, rec.Placement.Clipped, rec.Placement.Refused,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.Sub(rec.StartedAt).Milliseconds(),
	)
}

func (s *SQLiteIndex) insertLibraryLoad(row libraryLoadRow) {
	_, _ = s.db.Exec(`INSERT INTO library_loads (at, sources, samples) VALUES (?, ?, ?)`,
		row.At.Format(time.RFC3339Nano), row.Sources, row.Samples)
}

// Close drains pending writes and closes the database.
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

// JobRow is the queryable shape of one indexed job.
type JobRow struct {
	JobID      string
	State      string
	FailReason string
	AnchorX    int
	AnchorY    int
	AnchorZ    int
	Placed     int
	Clipped    int
	Refused    int
	DurationMs int64
}

func (s *SQLiteIndex) JobByID(ctx context.Context, jobID string) (JobRow, error) {
	var row JobRow
	err := s.db.QueryRowContext(ctx, `
SELECT job_id, state, fail_reason, anchor_x, anchor_y, anchor_z,
	placed, clipped, refused, duration_ms
FROM jobs WHERE job_id = ?`, jobID).Scan(
		&row.JobID, &row.State, &row.FailReason,
		&row.AnchorX, &row.AnchorY, &row.AnchorZ,
		&row.Placed, &row.Clipped, &row.Refused, &row.DurationMs,
	)
	return row, err
}

func (s *SQLiteIndex) CountJobs(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) CountLibraryLoads(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM library_loads`).Scan(&n)
	return n, err
}
