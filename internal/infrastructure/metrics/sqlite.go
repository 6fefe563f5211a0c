package metrics

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists recorded scalars to a SQLite database, one row per
// point, tagged with a run identifier.
type SQLiteSink struct {
	runID string

	mu      sync.Mutex
	db      *sql.DB
	lastErr error
}

// NewSQLiteSink opens (or creates) the database at path and prepares the
// schema. Every sink instance records under a fresh run ID.
func NewSQLiteSink(ctx context.Context, path string) (*SQLiteSink, error) {
	if path == "" {
		return nil, errors.New("metrics: sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS scalars (
			run_id      TEXT NOT NULL,
			name        TEXT NOT NULL,
			step        INTEGER NOT NULL,
			value       REAL NOT NULL,
			recorded_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_scalars_run_name ON scalars (run_id, name, step);
	`)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteSink{runID: uuid.New().String(), db: db}, nil
}

// RunID returns the identifier rows of this sink are tagged with.
func (s *SQLiteSink) RunID() string { return s.runID }

// Record inserts the scalar. Failures are swallowed (the sink contract is
// fire-and-forget) but retained for inspection via Err.
func (s *SQLiteSink) Record(name string, value float64, step int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO scalars (run_id, name, step, value, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		s.runID, name, step, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		s.lastErr = err
	}
}

// Err returns the most recent swallowed recording error, if any.
func (s *SQLiteSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Series reads back all points recorded under a name for this sink's run,
// ordered by step.
func (s *SQLiteSink) Series(ctx context.Context, name string) ([]Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value, step FROM scalars WHERE run_id = ? AND name = ? ORDER BY step`,
		s.runID, name,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Name, &p.Value, &p.Step); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Names lists the distinct scalar names recorded for this sink's run.
func (s *SQLiteSink) Names(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT name FROM scalars WHERE run_id = ? ORDER BY name`, s.runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// RunInfo summarizes one run stored in a metrics database.
type RunInfo struct {
	RunID  string `json:"runId"`
	Points int    `json:"points"`
}

// ListRuns reads the run identifiers of an existing metrics database with
// their point counts, newest first.
func ListRuns(ctx context.Context, path string) ([]RunInfo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT run_id, COUNT(*) FROM scalars
		GROUP BY run_id ORDER BY MAX(recorded_at) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var r RunInfo
		if err := rows.Scan(&r.RunID, &r.Points); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ReadSeries reads every point of one scalar under a run, ordered by step.
func ReadSeries(ctx context.Context, path, runID, name string) ([]Point, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT name, value, step FROM scalars WHERE run_id = ? AND name = ? ORDER BY step`,
		runID, name,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Name, &p.Value, &p.Step); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// ListNames reads the distinct scalar names recorded under a run.
func ListNames(ctx context.Context, path, runID string) ([]string, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT name FROM scalars WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
