// Package store persists harness runs: the replicate-level estimate rows,
// recorded failures, and the aggregated calibration table, reloadable by run
// identifier.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ljwheeler/nmixsim/internal/harness"
)

// ErrNotFound indicates an unknown run identifier.
var ErrNotFound = errors.New("run not found")

// Run describes one persisted harness run.
type Run struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// Variant is the structural model short name ("poisson", "zinb", ...).
	Variant string `json:"variant"`

	Level      float64 `json:"level"`
	Replicates int     `json:"replicates"`
	Failed     int     `json:"failed"`

	// Config is the JSON-encoded study configuration, kept opaque so a
	// run remains reproducible from its stored record alone.
	Config string `json:"config,omitempty"`
}

// ResultStore persists harness results.
type ResultStore interface {
	// SaveRun stores the run record together with its rows, failures, and
	// aggregated calibration table.
	SaveRun(ctx context.Context, run Run, res *harness.Result) error

	// GetRun retrieves one run record. Returns ErrNotFound if absent.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns all run records, newest first.
	ListRuns(ctx context.Context) ([]Run, error)

	// Rows returns the per-parameter, per-replicate estimate rows of a run.
	Rows(ctx context.Context, id string) ([]harness.Row, error)

	// Failures returns the recorded replicate failures of a run.
	Failures(ctx context.Context, id string) ([]harness.Failure, error)

	// Calibration returns the aggregated calibration table of a run.
	Calibration(ctx context.Context, id string) ([]harness.Calibration, error)

	Close() error
}
