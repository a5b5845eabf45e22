// Package harness drives repeated generate → fit → diagnose cycles and
// aggregates estimator accuracy and interval coverage across replicates.
//
// Each replicate is seeded with its own index, so replicates share no mutable
// random state and run safely in parallel. A replicate whose fit fails is
// recorded and skipped; only configuration errors from the generator abort
// the whole run.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ljwheeler/nmixsim/internal/covariates"
	"github.com/ljwheeler/nmixsim/internal/diagnostics"
	"github.com/ljwheeler/nmixsim/internal/generator"
	"github.com/ljwheeler/nmixsim/internal/logging"
)

// Config drives one harness run.
type Config struct {
	// Replicates is the number of independent simulation cycles R.
	Replicates int

	// Workers bounds parallel replicates. Defaults to 1 (sequential).
	Workers int

	// Level is the credible-interval probability used for coverage.
	// Defaults to 0.95.
	Level float64

	// Warmup iterations discarded from each chain before diagnostics.
	Warmup int

	// Gen is the base generation config; Seed is overridden with the
	// replicate index for each cycle.
	Gen generator.Config

	// Fitter is the external model-fitting capability.
	Fitter Fitter

	// Logger receives operational output. Defaults to slog.Default().
	Logger *slog.Logger

	// Trace optionally records one JSONL event per replicate.
	Trace *logging.TraceLogger
}

// Row is one per-parameter, per-replicate calibration record. Estimates are
// centered on the truth, so a well-behaved estimator scatters around zero
// and Lower <= 0 <= Upper exactly when the interval covers.
type Row struct {
	Sim       int     `json:"sim"`
	Parameter string  `json:"parameter"`
	Truth     float64 `json:"truth"`
	Estimate  float64 `json:"estimate"` // posterior mean - truth
	Lower     float64 `json:"lower"`    // interval lower bound - truth
	Upper     float64 `json:"upper"`    // interval upper bound - truth
	Rhat      float64 `json:"rhat"`
	Covered   bool    `json:"covered"`
}

// Failure records a replicate that was skipped rather than aggregated.
type Failure struct {
	Sim int    `json:"sim"`
	Err string `json:"err"`
}

// Result is the append-only outcome of one harness run.
type Result struct {
	Level      float64   `json:"level"`
	Replicates int       `json:"replicates"`
	Rows       []Row     `json:"rows"`
	Failures   []Failure `json:"failures"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Calibration is the across-replicate aggregation for one parameter.
type Calibration struct {
	Parameter    string  `json:"parameter"`
	N            int     `json:"n"`
	MeanEstimate float64 `json:"mean_estimate"`
	MeanLower    float64 `json:"mean_lower"`
	MeanUpper    float64 `json:"mean_upper"`

	// Coverage is the empirical fraction of replicates whose interval
	// contained the truth; should approach Level as N grows.
	Coverage float64 `json:"coverage"`
}

// Harness runs replication experiments. Create with New; each Run owns its
// own result collection.
type Harness struct {
	cfg Config
}

// New validates the config and returns a harness.
func New(cfg Config) (*Harness, error) {
	if cfg.Replicates < 1 {
		return nil, fmt.Errorf("%w: replicates must be positive, got %d", covariates.ErrConfig, cfg.Replicates)
	}
	if cfg.Fitter == nil {
		return nil, fmt.Errorf("%w: a fitter is required", covariates.ErrConfig)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Level == 0 {
		cfg.Level = 0.95
	}
	if cfg.Level <= 0 || cfg.Level >= 1 {
		return nil, fmt.Errorf("%w: credible level must be in (0,1), got %v", covariates.ErrConfig, cfg.Level)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Harness{cfg: cfg}, nil
}

// Run executes all replicates and returns the collected result. Fit and
// diagnostics failures are isolated per replicate; generator configuration
// errors (and context cancellation) abort the run.
func (h *Harness) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	replicates := make([]*replicateOutcome, h.cfg.Replicates)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Workers)
	for sim := 1; sim <= h.cfg.Replicates; sim++ {
		g.Go(func() error {
			out, err := h.runReplicate(ctx, sim)
			if err != nil {
				return err
			}
			replicates[sim-1] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		Level:      h.cfg.Level,
		Replicates: h.cfg.Replicates,
		Elapsed:    time.Since(start),
	}
	for _, out := range replicates {
		if out.err != "" {
			res.Failures = append(res.Failures, Failure{Sim: out.sim, Err: out.err})
			continue
		}
		res.Rows = append(res.Rows, out.rows...)
	}
	h.cfg.Logger.Info("harness run complete",
		"replicates", h.cfg.Replicates,
		"failed", len(res.Failures),
		"elapsed", res.Elapsed)
	return res, nil
}

// replicateOutcome holds either rows or a recorded failure for one sim.
type replicateOutcome struct {
	sim  int
	rows []Row
	err  string
}

func (h *Harness) runReplicate(ctx context.Context, sim int) (*replicateOutcome, error) {
	if err := ctx.Err(); err != nil {
		// Abandoned replicate: no partial rows.
		return nil, err
	}
	started := time.Now()

	cfg := h.cfg.Gen
	cfg.Seed = uint64(sim)
	ds, err := generator.Simulate(cfg)
	if err != nil {
		// Wrong shapes or exceeded caps poison every replicate the same
		// way; surface immediately instead of recording R failures.
		return nil, fmt.Errorf("replicate %d: %w", sim, err)
	}

	spec := NewModelSpec(cfg.Variant, cfg.Params)
	data, constants := BuildFitInputs(ds)

	fail := func(cause error) *replicateOutcome {
		h.cfg.Logger.Debug("replicate failed", "sim", sim, "err", cause)
		h.cfg.Trace.Replicate(logging.ReplicateEvent{
			Sim:     sim,
			Status:  logging.StatusFailed,
			Err:     cause.Error(),
			Elapsed: time.Since(started).String(),
		})
		return &replicateOutcome{sim: sim, err: cause.Error()}
	}

	chains, err := h.cfg.Fitter.Fit(ctx, spec, data, constants)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return fail(fmt.Errorf("fit: %w", err)), nil
	}

	lo := (1 - h.cfg.Level) / 2
	hi := 1 - lo
	summaries, err := diagnostics.Summarize(chains, diagnostics.Options{
		Warmup: h.cfg.Warmup,
		Probs:  []float64{lo, 0.5, hi},
	})
	if err != nil {
		return fail(fmt.Errorf("diagnostics: %w", err)), nil
	}

	byName := make(map[string]diagnostics.Summary, len(summaries))
	for _, s := range summaries {
		byName[s.Parameter] = s
	}

	truth := TruthValues(cfg.Variant, cfg.Params)
	rows := make([]Row, 0, len(spec.Monitor))
	for _, name := range spec.Monitor {
		s, ok := byName[name]
		if !ok {
			return fail(fmt.Errorf("fit returned no samples for parameter %q", name)), nil
		}
		tv := truth[name]
		lower := s.Quantiles[lo]
		upper := s.Quantiles[hi]
		rows = append(rows, Row{
			Sim:       sim,
			Parameter: name,
			Truth:     tv,
			Estimate:  s.Mean - tv,
			Lower:     lower - tv,
			Upper:     upper - tv,
			Rhat:      s.Rhat,
			Covered:   lower <= tv && tv <= upper,
		})
	}

	h.cfg.Trace.Replicate(logging.ReplicateEvent{
		Sim:     sim,
		Status:  logging.StatusOK,
		Rows:    len(rows),
		Elapsed: time.Since(started).String(),
	})
	return &replicateOutcome{sim: sim, rows: rows}, nil
}

// Aggregate groups rows by parameter and computes mean centered estimates,
// mean bound offsets, and the empirical coverage rate.
func (r *Result) Aggregate() []Calibration {
	order := make([]string, 0)
	acc := make(map[string]*Calibration)
	for _, row := range r.Rows {
		c, ok := acc[row.Parameter]
		if !ok {
			c = &Calibration{Parameter: row.Parameter}
			acc[row.Parameter] = c
			order = append(order, row.Parameter)
		}
		c.N++
		c.MeanEstimate += row.Estimate
		c.MeanLower += row.Lower
		c.MeanUpper += row.Upper
		if row.Covered {
			c.Coverage++
		}
	}

	out := make([]Calibration, 0, len(order))
	for _, name := range order {
		c := acc[name]
		n := float64(c.N)
		c.MeanEstimate /= n
		c.MeanLower /= n
		c.MeanUpper /= n
		c.Coverage /= n
		out = append(out, *c)
	}
	return out
}
