package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/ljwheeler/nmixsim/internal/harness"
)

// openStores builds one instance of every ResultStore implementation and
// registers cleanup.
func openStores(t *testing.T) map[string]ResultStore {
	t.Helper()
	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	stores := map[string]ResultStore{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
	for _, s := range stores {
		s := s
		t.Cleanup(func() { s.Close() })
	}
	return stores
}

func sampleResult() *harness.Result {
	return &harness.Result{
		Level:      0.95,
		Replicates: 3,
		Rows: []harness.Row{
			{Sim: 1, Parameter: "alpha[1]", Truth: 1.0, Estimate: 0.01, Lower: -0.09, Upper: 0.11, Rhat: 1.001, Covered: true},
			{Sim: 1, Parameter: "delta[1]", Truth: 0.3, Estimate: -0.02, Lower: -0.12, Upper: 0.08, Rhat: 1.002, Covered: true},
			{Sim: 3, Parameter: "alpha[1]", Truth: 1.0, Estimate: 0.15, Lower: 0.05, Upper: 0.25, Rhat: 1.003, Covered: false},
			{Sim: 3, Parameter: "delta[1]", Truth: 0.3, Estimate: 0.00, Lower: -0.10, Upper: 0.10, Rhat: 1.001, Covered: true},
		},
		Failures: []harness.Failure{
			{Sim: 2, Err: "sampler rejected initial values"},
		},
		Elapsed: 2 * time.Second,
	}
}

func sampleRun(id string) Run {
	return Run{
		ID:         id,
		CreatedAt:  time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC),
		Variant:    "poisson",
		Level:      0.95,
		Replicates: 3,
		Config:     `{"replicates":3}`,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			res := sampleResult()
			if err := s.SaveRun(ctx, sampleRun("run-1"), res); err != nil {
				t.Fatalf("SaveRun: %v", err)
			}

			run, err := s.GetRun(ctx, "run-1")
			if err != nil {
				t.Fatalf("GetRun: %v", err)
			}
			if run.Variant != "poisson" || run.Level != 0.95 || run.Replicates != 3 {
				t.Errorf("reloaded run = %+v", run)
			}
			if run.Failed != 1 {
				t.Errorf("Failed = %d, want 1", run.Failed)
			}
			if !run.CreatedAt.Equal(sampleRun("run-1").CreatedAt) {
				t.Errorf("CreatedAt = %v", run.CreatedAt)
			}
			if run.Config != `{"replicates":3}` {
				t.Errorf("Config = %q", run.Config)
			}

			rows, err := s.Rows(ctx, "run-1")
			if err != nil {
				t.Fatalf("Rows: %v", err)
			}
			if len(rows) != len(res.Rows) {
				t.Fatalf("rows = %d, want %d", len(rows), len(res.Rows))
			}
			for i, r := range rows {
				want := res.Rows[i]
				if r.Sim != want.Sim || r.Parameter != want.Parameter || r.Covered != want.Covered {
					t.Errorf("row %d = %+v, want %+v", i, r, want)
				}
				if math.Abs(r.Estimate-want.Estimate) > 1e-12 || math.Abs(r.Rhat-want.Rhat) > 1e-12 {
					t.Errorf("row %d values drifted: %+v", i, r)
				}
			}

			failures, err := s.Failures(ctx, "run-1")
			if err != nil {
				t.Fatalf("Failures: %v", err)
			}
			if len(failures) != 1 || failures[0].Sim != 2 {
				t.Errorf("failures = %+v", failures)
			}

			cal, err := s.Calibration(ctx, "run-1")
			if err != nil {
				t.Fatalf("Calibration: %v", err)
			}
			wantCal := res.Aggregate()
			if len(cal) != len(wantCal) {
				t.Fatalf("calibration rows = %d, want %d", len(cal), len(wantCal))
			}
			for i, c := range cal {
				if c.Parameter != wantCal[i].Parameter {
					t.Errorf("calibration order: got %q at %d, want %q", c.Parameter, i, wantCal[i].Parameter)
				}
				if c.N != wantCal[i].N || math.Abs(c.Coverage-wantCal[i].Coverage) > 1e-12 {
					t.Errorf("calibration %s = %+v, want %+v", c.Parameter, c, wantCal[i])
				}
			}
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.GetRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetRun: err = %v, want ErrNotFound", err)
			}
			if _, err := s.Rows(ctx, "nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Rows: err = %v, want ErrNotFound", err)
			}
			if _, err := s.Calibration(ctx, "nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Calibration: err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreDuplicateRun(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.SaveRun(ctx, sampleRun("dup"), sampleResult()); err != nil {
				t.Fatalf("first SaveRun: %v", err)
			}
			if err := s.SaveRun(ctx, sampleRun("dup"), sampleResult()); err == nil {
				t.Error("second SaveRun with same id succeeded, want error")
			}
		})
	}
}

func TestStoreListRunsNewestFirst(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
			for i, id := range []string{"old", "mid", "new"} {
				run := sampleRun(id)
				run.CreatedAt = base.Add(time.Duration(i) * time.Hour)
				if err := s.SaveRun(ctx, run, sampleResult()); err != nil {
					t.Fatalf("SaveRun %s: %v", id, err)
				}
			}
			runs, err := s.ListRuns(ctx)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(runs) != 3 {
				t.Fatalf("len = %d, want 3", len(runs))
			}
			if runs[0].ID != "new" || runs[1].ID != "mid" || runs[2].ID != "old" {
				t.Errorf("order = %s, %s, %s; want new, mid, old", runs[0].ID, runs[1].ID, runs[2].ID)
			}
		})
	}
}

func TestSQLiteStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.SaveRun(ctx, sampleRun("persist"), sampleResult()); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	run, err := reopened.GetRun(ctx, "persist")
	if err != nil {
		t.Fatalf("GetRun after reopen: %v", err)
	}
	if run.Variant != "poisson" {
		t.Errorf("Variant = %q after reopen", run.Variant)
	}
	rows, err := reopened.Rows(ctx, "persist")
	if err != nil {
		t.Fatalf("Rows after reopen: %v", err)
	}
	if len(rows) != 4 {
		t.Errorf("rows = %d after reopen, want 4", len(rows))
	}
}
