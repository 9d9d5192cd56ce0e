// Package store persists evaluation runs and their per-example rows in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/ragtrust/internal/metrics"
	"github.com/ppiankov/ragtrust/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    task        TEXT NOT NULL,
    name        TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL,
    config      TEXT NOT NULL,
    summary     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS run_rows (
    run_id            TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    idx               INTEGER NOT NULL,
    example_id        TEXT NOT NULL,
    pred              TEXT NOT NULL,
    gold              TEXT NOT NULL,
    acc               REAL,
    hallucination     REAL,
    self_consistency  REAL,
    error             TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, idx)
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`

// timeLayout sorts lexically in time order
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a run ID is unknown
var ErrNotFound = errors.New("run not found")

// Run is one stored evaluation
type Run struct {
	ID        string          `json:"id" yaml:"id"`
	Task      string          `json:"task" yaml:"task"`
	Name      string          `json:"name,omitempty" yaml:"name,omitempty"` // ablation rule, if any
	CreatedAt time.Time       `json:"created_at" yaml:"created_at"`
	Config    model.Config    `json:"-" yaml:"-"`
	Summary   metrics.Summary `json:"summary" yaml:"summary"`
}

// Store manages the runs and run_rows tables
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database file at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New creates the tables on an open database
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores a run and its rows in one transaction. An empty ID is
// filled with a new UUID and a zero CreatedAt with the current time.
func (s *Store) SaveRun(ctx context.Context, run *Run, rows []model.BatchRow) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	cfg, err := yaml.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, task, name, created_at, config, summary) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Task, run.Name, run.CreatedAt.UTC().Format(timeLayout), string(cfg), string(summary),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_rows (run_id, idx, example_id, pred, gold, acc, hallucination, self_consistency, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range rows {
		if _, err := stmt.ExecContext(ctx, run.ID, i, r.ID, r.Pred, r.Gold,
			nullFloat(r.Acc), nullFloat(r.Hallucination), nullFloat(r.SelfConsistency), r.Err,
		); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, task, name, created_at, config, summary FROM runs ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run by ID
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, task, name, created_at, config, summary FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// Rows returns a run's rows in their original order
func (s *Store) Rows(ctx context.Context, runID string) ([]model.BatchRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT example_id, pred, gold, acc, hallucination, self_consistency, error
		 FROM run_rows WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.BatchRow{}
	for rows.Next() {
		var r model.BatchRow
		var acc, hall, sc sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.Pred, &r.Gold, &acc, &hall, &sc, &r.Err); err != nil {
			return nil, err
		}
		r.Acc, r.Hallucination, r.SelfConsistency = floatPtr(acc), floatPtr(hall), floatPtr(sc)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its rows
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_rows WHERE run_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var run Run
	var createdAt, cfg, summary string
	if err := sc.Scan(&run.ID, &run.Task, &run.Name, &createdAt, &cfg, &summary); err != nil {
		return Run{}, err
	}
	run.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	if err := yaml.Unmarshal([]byte(cfg), &run.Config); err != nil {
		return Run{}, fmt.Errorf("decode config of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return Run{}, fmt.Errorf("decode summary of run %s: %w", run.ID, err)
	}
	return run, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return model.Float(v.Float64)
}
