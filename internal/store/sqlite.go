package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"surveykit/internal/estimator"
)

// defaultListLimit caps ListRuns when the caller passes no limit.
const defaultListLimit = 50

// SQLite is the Store implementation over a single SQLite file. ":memory:"
// is supported for tests.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLite)(nil)

// Open opens or creates the database at path and ensures the schema.
func Open(path string, logger *slog.Logger) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("store: database path not set")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection: the driver serializes writers anyway, and a :memory:
	// database exists per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`PRAGMA foreign_keys=ON`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("run store opened", slog.String("path", path))
	return &SQLite{db: db, logger: logger}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			dataset TEXT NOT NULL,
			statistic TEXT NOT NULL,
			requested_method TEXT NOT NULL,
			method TEXT NOT NULL,
			row_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS run_results (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			group_key TEXT NOT NULL,
			estimate REAL,
			se REAL,
			ci_low REAL,
			ci_high REAL,
			deff REAL,
			n INTEGER NOT NULL,
			var_among REAL,
			var_within REAL,
			method TEXT NOT NULL,
			requested_method TEXT NOT NULL,
			diagnostics TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}

// SaveRun inserts the run or updates it in place when the id exists.
func (s *SQLite) SaveRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("store: run has no id")
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs(id, created_at, dataset, statistic, requested_method, method, row_count, status, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			dataset=excluded.dataset,
			statistic=excluded.statistic,
			requested_method=excluded.requested_method,
			method=excluded.method,
			row_count=excluded.row_count,
			status=excluded.status,
			error=excluded.error`,
		run.ID, createdAt.UnixNano(), run.Dataset, run.Statistic,
		run.RequestedMethod, run.Method, run.Rows, run.Status, run.Error)
	if err != nil {
		return fmt.Errorf("store: save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns one run by id.
func (s *SQLite) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, dataset, statistic, requested_method, method, row_count, status, error
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, fmt.Errorf("store: run %q: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("store: get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, dataset, statistic, requested_method, method, row_count, status, error
		FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list runs: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return out, nil
}

// SaveResults replaces the persisted result table of a run.
func (s *SQLite) SaveResults(ctx context.Context, runID string, results []estimator.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: save results %s: %w", runID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_results WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("store: save results %s: %w", runID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_results(run_id, seq, group_key, estimate, se, ci_low, ci_high, deff, n,
			var_among, var_within, method, requested_method, diagnostics)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: save results %s: %w", runID, err)
	}
	defer stmt.Close()

	for i, r := range results {
		key, err := json.Marshal(r.Key)
		if err != nil {
			return fmt.Errorf("store: save results %s: marshal key: %w", runID, err)
		}
		diags := []byte("[]")
		if len(r.Diagnostics) > 0 {
			diags, err = json.Marshal(r.Diagnostics)
			if err != nil {
				return fmt.Errorf("store: save results %s: marshal diagnostics: %w", runID, err)
			}
		}
		_, err = stmt.ExecContext(ctx, runID, i, string(key),
			toNull(r.Estimate), toNull(r.SE), toNull(r.CILow), toNull(r.CIHigh),
			toNull(r.Deff), r.N, toNull(r.VarAmong), toNull(r.VarWithin),
			r.Method.String(), r.RequestedMethod.String(), string(diags))
		if err != nil {
			return fmt.Errorf("store: save results %s row %d: %w", runID, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: save results %s: %w", runID, err)
	}
	return nil
}

// GetResults rehydrates a run's result table in its original row order.
func (s *SQLite) GetResults(ctx context.Context, runID string) ([]estimator.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_key, estimate, se, ci_low, ci_high, deff, n, var_among, var_within,
			method, requested_method, diagnostics
		FROM run_results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: get results %s: %w", runID, err)
	}
	defer rows.Close()

	var out []estimator.Result
	for rows.Next() {
		var key, method, requested, diags string
		var estimate, se, ciLow, ciHigh, deff, varAmong, varWithin sql.NullFloat64
		var n int
		if err := rows.Scan(&key, &estimate, &se, &ciLow, &ciHigh, &deff, &n,
			&varAmong, &varWithin, &method, &requested, &diags); err != nil {
			return nil, fmt.Errorf("store: get results %s: %w", runID, err)
		}

		var r estimator.Result
		if err := json.Unmarshal([]byte(key), &r.Key); err != nil {
			return nil, fmt.Errorf("store: get results %s: group key: %w", runID, err)
		}
		r.Estimate = fromNull(estimate)
		r.SE = fromNull(se)
		r.CILow = fromNull(ciLow)
		r.CIHigh = fromNull(ciHigh)
		r.Deff = fromNull(deff)
		r.N = n
		r.VarAmong = fromNull(varAmong)
		r.VarWithin = fromNull(varWithin)
		if r.Method, err = estimator.ParseMethod(method); err != nil {
			return nil, fmt.Errorf("store: get results %s: %w", runID, err)
		}
		if r.RequestedMethod, err = estimator.ParseMethod(requested); err != nil {
			return nil, fmt.Errorf("store: get results %s: %w", runID, err)
		}
		if err := json.Unmarshal([]byte(diags), &r.Diagnostics); err != nil {
			return nil, fmt.Errorf("store: get results %s: diagnostics: %w", runID, err)
		}
		if len(r.Diagnostics) == 0 {
			r.Diagnostics = nil
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get results %s: %w", runID, err)
	}
	return out, nil
}

// DeleteRun removes a run and its results.
func (s *SQLite) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete run %s: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_results WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete run %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete run %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete run %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("store: run %q: %w", id, ErrRunNotFound)
	}
	return tx.Commit()
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// scanner lets scanRun serve both QueryRow and Query rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var createdAt int64
	err := row.Scan(&run.ID, &createdAt, &run.Dataset, &run.Statistic,
		&run.RequestedMethod, &run.Method, &run.Rows, &run.Status, &run.Error)
	if err != nil {
		return Run{}, err
	}
	run.CreatedAt = time.Unix(0, createdAt).UTC()
	return run, nil
}

func toNull(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
