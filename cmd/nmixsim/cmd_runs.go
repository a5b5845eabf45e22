package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ljwheeler/nmixsim/internal/store"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List persisted replication runs",
		Long: `List the replication runs stored in the results database, or show
the calibration table of one run.

Examples:
  nmixsim runs --db runs.db
  nmixsim runs run-1756380000000000000 --db runs.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, _ := cmd.Flags().GetString("db")
			if dbPath == "" {
				cfg, err := loadStudyConfig(cmd)
				if err != nil {
					return err
				}
				dbPath = cfg.Store.Path
			}
			if dbPath == "" {
				return fmt.Errorf("no results database configured; pass --db or set store.path")
			}

			s, err := store.NewSQLiteStore(dbPath)
			if err != nil {
				return fmt.Errorf("opening result store: %w", err)
			}
			defer s.Close()

			jsonOut, _ := cmd.Flags().GetBool("json")

			if len(args) == 1 {
				return showRun(cmd, s, args[0], jsonOut)
			}

			runs, err := s.ListRuns(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"runs":  runs,
					"count": len(runs),
				})
			}

			if len(runs) == 0 {
				fmt.Println("No runs stored yet. Use 'nmixsim calibrate --db' to persist one.")
				return nil
			}

			fmt.Printf("Stored runs (%d):\n\n", len(runs))
			fmt.Printf("%-32s %-20s %-8s %6s %11s %7s\n",
				"id", "created", "variant", "level", "replicates", "failed")
			for _, r := range runs {
				fmt.Printf("%-32s %-20s %-8s %6.2f %11d %7d\n",
					r.ID, r.CreatedAt.Format(time.RFC3339), r.Variant, r.Level, r.Replicates, r.Failed)
			}
			return nil
		},
	}

	cmd.Flags().String("db", "", "SQLite results database (overrides config)")

	return cmd
}

func showRun(cmd *cobra.Command, s store.ResultStore, id string, jsonOut bool) error {
	ctx := cmd.Context()

	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	cal, err := s.Calibration(ctx, id)
	if err != nil {
		return err
	}
	failures, err := s.Failures(ctx, id)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"run":         run,
			"calibration": cal,
			"failures":    failures,
		})
	}

	fmt.Printf("Run %s\n", run.ID)
	fmt.Printf("  Created:    %s\n", run.CreatedAt.Format(time.RFC3339))
	fmt.Printf("  Variant:    %s\n", run.Variant)
	fmt.Printf("  Level:      %.0f%%\n", run.Level*100)
	fmt.Printf("  Replicates: %d (%d failed)\n\n", run.Replicates, run.Failed)

	fmt.Printf("%-12s %6s %10s %10s %10s %9s\n",
		"parameter", "n", "mean_est", "mean_lo", "mean_hi", "coverage")
	for _, c := range cal {
		fmt.Printf("%-12s %6d %10.4f %10.4f %10.4f %8.1f%%\n",
			c.Parameter, c.N, c.MeanEstimate, c.MeanLower, c.MeanUpper, c.Coverage*100)
	}

	if len(failures) > 0 {
		fmt.Printf("\nFailed replicates (%d):\n", len(failures))
		for _, f := range failures {
			fmt.Printf("  sim %d: %s\n", f.Sim, f.Err)
		}
	}
	return nil
}
