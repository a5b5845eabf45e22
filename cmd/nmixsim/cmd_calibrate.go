package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ljwheeler/nmixsim/internal/config"
	"github.com/ljwheeler/nmixsim/internal/harness"
	"github.com/ljwheeler/nmixsim/internal/logging"
	"github.com/ljwheeler/nmixsim/internal/store"
)

func newCalibrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Run a replication study and report interval calibration",
		Long: `Run many simulate-fit replicates and aggregate how often the
credible intervals contain the generating parameters. With a
well-calibrated fitter the empirical coverage approaches the nominal
level.

Example:
  nmixsim calibrate --variant zinb --replicates 500 --workers 8 --db runs.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadStudyConfig(cmd)
			if err != nil {
				return err
			}
			applyGenFlags(cmd, &cfg.Generation)
			applyHarnessFlags(cmd, cfg)

			genCfg, err := buildGenConfig(cfg.Generation)
			if err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Logging.Level, os.Stderr)
			trace := logging.NewTraceLogger(cfg.Logging.Dir, cfg.Logging.Level)
			defer trace.Close()

			truth := harness.TruthValues(genCfg.Variant, genCfg.Params)
			h, err := harness.New(harness.Config{
				Replicates: cfg.Harness.Replicates,
				Workers:    cfg.Harness.Workers,
				Level:      cfg.Harness.Level,
				Warmup:     cfg.Fitting.Warmup,
				Gen:        genCfg,
				Fitter: &harness.CalibratedFitter{
					Truth:  truth,
					SD:     cfg.Fitting.SD,
					Chains: cfg.Fitting.Chains,
					Draws:  cfg.Fitting.Draws,
					Warmup: cfg.Fitting.Warmup,
				},
				Logger: logger,
				Trace:  trace,
			})
			if err != nil {
				return err
			}

			res, err := h.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("replication run failed: %w", err)
			}

			runID, _ := cmd.Flags().GetString("id")
			if runID == "" {
				runID = fmt.Sprintf("run-%d", time.Now().UnixNano())
			}

			if cfg.Store.Path != "" {
				if err := persistRun(cmd.Context(), cfg, runID, genCfg.Variant.String(), res); err != nil {
					return err
				}
				logger.Info("run persisted", "id", runID, "db", cfg.Store.Path)
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"id":          runID,
					"variant":     genCfg.Variant.String(),
					"level":       res.Level,
					"replicates":  res.Replicates,
					"failures":    res.Failures,
					"calibration": res.Aggregate(),
					"elapsed":     res.Elapsed.String(),
				})
			}

			printCalibration(runID, genCfg.Variant.String(), res)
			return nil
		},
	}

	addGenFlags(cmd)
	cmd.Flags().Int("replicates", 0, "Number of replicates (overrides config)")
	cmd.Flags().Int("workers", 0, "Concurrent replicates (overrides config)")
	cmd.Flags().Float64("level", 0, "Credible-interval level (overrides config)")
	cmd.Flags().String("db", "", "SQLite file to persist the run (overrides config)")
	cmd.Flags().String("id", "", "Run identifier (default: generated)")

	return cmd
}

func applyHarnessFlags(cmd *cobra.Command, cfg *config.StudyConfig) {
	if n, _ := cmd.Flags().GetInt("replicates"); n > 0 {
		cfg.Harness.Replicates = n
	}
	if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
		cfg.Harness.Workers = n
	}
	if l, _ := cmd.Flags().GetFloat64("level"); l > 0 {
		cfg.Harness.Level = l
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Store.Path = db
	}
}

func persistRun(ctx context.Context, cfg *config.StudyConfig, runID, variant string, res *harness.Result) error {
	s, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening result store: %w", err)
	}
	defer s.Close()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	run := store.Run{
		ID:         runID,
		Variant:    variant,
		Level:      res.Level,
		Replicates: res.Replicates,
		Config:     string(cfgJSON),
	}
	if err := s.SaveRun(ctx, run, res); err != nil {
		return fmt.Errorf("persisting run: %w", err)
	}
	return nil
}

func printCalibration(runID, variant string, res *harness.Result) {
	fmt.Printf("Replication study %s (variant: %s)\n\n", runID, variant)
	fmt.Printf("  Replicates: %d (%d failed)\n", res.Replicates, len(res.Failures))
	fmt.Printf("  Level:      %.0f%%\n", res.Level*100)
	fmt.Printf("  Elapsed:    %s\n\n", res.Elapsed.Round(time.Millisecond))

	fmt.Printf("%-12s %6s %10s %10s %10s %9s\n",
		"parameter", "n", "mean_est", "mean_lo", "mean_hi", "coverage")
	for _, c := range res.Aggregate() {
		fmt.Printf("%-12s %6d %10.4f %10.4f %10.4f %8.1f%%\n",
			c.Parameter, c.N, c.MeanEstimate, c.MeanLower, c.MeanUpper, c.Coverage*100)
	}

	if len(res.Failures) > 0 {
		fmt.Printf("\nFailed replicates (%d):\n", len(res.Failures))
		for _, f := range res.Failures {
			fmt.Printf("  sim %d: %s\n", f.Sim, f.Err)
		}
	}
}
