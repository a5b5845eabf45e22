package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ljwheeler/nmixsim/internal/harness"
)

// SQLiteStore implements ResultStore on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and initializes the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SaveRun stores the run and its result tables in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run Run, res *harness.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	run.Failed = len(res.Failures)
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, variant, level, replicates, failed, config)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.Format(time.RFC3339Nano), run.Variant,
		run.Level, run.Replicates, run.Failed, run.Config); err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	for _, r := range res.Rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO estimates (run_id, sim, parameter, truth, estimate, lower, upper, rhat, covered)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, r.Sim, r.Parameter, r.Truth, r.Estimate, r.Lower, r.Upper, r.Rhat, boolToInt(r.Covered)); err != nil {
			return fmt.Errorf("inserting estimate (sim %d, %s): %w", r.Sim, r.Parameter, err)
		}
	}

	for _, f := range res.Failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO failures (run_id, sim, err) VALUES (?, ?, ?)`,
			run.ID, f.Sim, f.Err); err != nil {
			return fmt.Errorf("inserting failure (sim %d): %w", f.Sim, err)
		}
	}

	for i, c := range res.Aggregate() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO calibration (run_id, parameter, ord, n, mean_estimate, mean_lower, mean_upper, coverage)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, c.Parameter, i, c.N, c.MeanEstimate, c.MeanLower, c.MeanUpper, c.Coverage); err != nil {
			return fmt.Errorf("inserting calibration (%s): %w", c.Parameter, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves one run record.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, variant, level, replicates, failed, config FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns all runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, variant, level, replicates, failed, config
		 FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// Rows returns the estimate rows of a run, in (sim, parameter) order.
func (s *SQLiteStore) Rows(ctx context.Context, id string) ([]harness.Row, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT sim, parameter, truth, estimate, lower, upper, rhat, covered
		 FROM estimates WHERE run_id = ? ORDER BY sim, rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("querying estimates for %s: %w", id, err)
	}
	defer rows.Close()

	var out []harness.Row
	for rows.Next() {
		var r harness.Row
		var covered int
		if err := rows.Scan(&r.Sim, &r.Parameter, &r.Truth, &r.Estimate, &r.Lower, &r.Upper, &r.Rhat, &covered); err != nil {
			return nil, fmt.Errorf("scanning estimate: %w", err)
		}
		r.Covered = covered != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Failures returns the recorded failures of a run.
func (s *SQLiteStore) Failures(ctx context.Context, id string) ([]harness.Failure, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT sim, err FROM failures WHERE run_id = ? ORDER BY sim`, id)
	if err != nil {
		return nil, fmt.Errorf("querying failures for %s: %w", id, err)
	}
	defer rows.Close()

	var out []harness.Failure
	for rows.Next() {
		var f harness.Failure
		if err := rows.Scan(&f.Sim, &f.Err); err != nil {
			return nil, fmt.Errorf("scanning failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Calibration returns the aggregated calibration table of a run, in the
// original monitor order.
func (s *SQLiteStore) Calibration(ctx context.Context, id string) ([]harness.Calibration, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT parameter, n, mean_estimate, mean_lower, mean_upper, coverage
		 FROM calibration WHERE run_id = ? ORDER BY ord`, id)
	if err != nil {
		return nil, fmt.Errorf("querying calibration for %s: %w", id, err)
	}
	defer rows.Close()

	var out []harness.Calibration
	for rows.Next() {
		var c harness.Calibration
		if err := rows.Scan(&c.Parameter, &c.N, &c.MeanEstimate, &c.MeanLower, &c.MeanUpper, &c.Coverage); err != nil {
			return nil, fmt.Errorf("scanning calibration: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(r rowScanner) (*Run, error) {
	var run Run
	var created string
	if err := r.Scan(&run.ID, &created, &run.Variant, &run.Level, &run.Replicates, &run.Failed, &run.Config); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	run.CreatedAt = t
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
