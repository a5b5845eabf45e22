package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ljwheeler/nmixsim/internal/config"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nmixsim",
		Short: "Simulation-based validation for N-mixture abundance models",
		Long: `nmixsim generates repeat-count survey data from known parameters,
fits the generating model, and checks that credible intervals recover
the truth at their nominal rate.

It covers Poisson and negative-binomial abundance with optional
zero-inflation, convergence diagnostics (split-Rhat, bulk and tail
ESS), and parallel replication studies.`,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Path to study config YAML (default: ~/.nmixsim/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log verbosity: info, debug, or trace")

	// Add subcommands
	rootCmd.AddCommand(
		newVersionCmd(),
		newSimulateCmd(),
		newDiagnoseCmd(),
		newCalibrateCmd(),
		newRunsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadStudyConfig resolves the effective config for a command: the --config
// file if given, the default locations otherwise, with --log-level winning
// over both.
func loadStudyConfig(cmd *cobra.Command) (*config.StudyConfig, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.StudyConfig
	var err error
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    date,
				})
			} else {
				fmt.Printf("nmixsim version %s (commit: %s, built: %s)\n", version, commit, date)
			}
		},
	}
}
