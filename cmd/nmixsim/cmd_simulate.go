package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ljwheeler/nmixsim/internal/config"
	"github.com/ljwheeler/nmixsim/internal/covariates"
	"github.com/ljwheeler/nmixsim/internal/generator"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate one synthetic survey dataset",
		Long: `Generate a single dataset from the configured generative model:
latent abundance per site, binomial detection per visit, and the
observed site/visit subsample.

Example:
  nmixsim simulate --variant zip --seed 42 --out dataset.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadStudyConfig(cmd)
			if err != nil {
				return err
			}
			applyGenFlags(cmd, &cfg.Generation)

			genCfg, err := buildGenConfig(cfg.Generation)
			if err != nil {
				return err
			}

			ds, err := generator.Simulate(genCfg)
			if err != nil {
				return fmt.Errorf("simulation failed: %w", err)
			}

			if out, _ := cmd.Flags().GetString("out"); out != "" {
				if err := writeDataset(out, ds); err != nil {
					return err
				}
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(ds)
			}

			printDatasetSummary(ds, genCfg)
			return nil
		},
	}

	addGenFlags(cmd)
	cmd.Flags().String("out", "", "Write the full dataset as JSON to this file")

	return cmd
}

// addGenFlags registers the generation overrides shared by simulate and
// calibrate.
func addGenFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64("seed", 0, "Random seed (overrides config)")
	cmd.Flags().String("variant", "", "Model variant: poisson, nb, zip, zinb (overrides config)")
	cmd.Flags().Int("sites", 0, "Synthetic site-pool size (overrides config)")
	cmd.Flags().Int("visits", 0, "Visits generated per pool site (overrides config)")
	cmd.Flags().Int("observe-sites", 0, "Observed site count (overrides config)")
	cmd.Flags().Int("observe-visits", 0, "Observed visits per site (overrides config)")
}

func applyGenFlags(cmd *cobra.Command, gc *config.GenerationConfig) {
	if cmd.Flags().Changed("seed") {
		gc.Seed, _ = cmd.Flags().GetUint64("seed")
	}
	if v, _ := cmd.Flags().GetString("variant"); v != "" {
		gc.Variant = v
	}
	if n, _ := cmd.Flags().GetInt("sites"); n > 0 {
		gc.Sites = n
	}
	if n, _ := cmd.Flags().GetInt("visits"); n > 0 {
		gc.VisitsPerSite = n
	}
	if n, _ := cmd.Flags().GetInt("observe-sites"); n > 0 {
		gc.ObserveSites = n
	}
	if n, _ := cmd.Flags().GetInt("observe-visits"); n > 0 {
		gc.ObserveVisits = n
	}
}

// buildGenConfig resolves a generation section into a generator config:
// covariate tables from CSV files or the synthetic pool, and the observed
// subsample sizes (zero means keep everything).
func buildGenConfig(gc config.GenerationConfig) (generator.Config, error) {
	variant, err := generator.ParseVariant(gc.Variant)
	if err != nil {
		return generator.Config{}, err
	}

	var sites, visits *covariates.Table
	if gc.SiteCSV != "" {
		sites, err = readCovariateCSV(gc.SiteCSV, covariates.SiteOrder)
		if err != nil {
			return generator.Config{}, err
		}
		visits, err = readCovariateCSV(gc.VisitCSV, covariates.VisitOrder)
		if err != nil {
			return generator.Config{}, err
		}
	} else {
		sites = covariates.SyntheticSites(gc.Sites, gc.Seed)
		visits = covariates.SyntheticVisits(sites, gc.VisitsPerSite, gc.Seed)
	}

	nSites := gc.ObserveSites
	if nSites == 0 {
		nSites = sites.Len()
	}
	nVisits := gc.ObserveVisits
	if nVisits == 0 {
		nVisits = minVisitsPerSite(sites, visits)
	}

	return generator.Config{
		Seed:    gc.Seed,
		Sites:   sites,
		Visits:  visits,
		Variant: variant,
		Params:  gc.Params,
		NSites:  nSites,
		NVisits: nVisits,
	}, nil
}

func readCovariateCSV(path string, order []string) (*covariates.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	t, err := covariates.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := covariates.Canonicalize(t, order); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func minVisitsPerSite(sites, visits *covariates.Table) int {
	counts := make(map[string]int, sites.Len())
	for _, parent := range visits.Parents {
		counts[parent]++
	}
	min := 0
	for _, id := range sites.IDs {
		if n := counts[id]; min == 0 || n < min {
			min = n
		}
	}
	return min
}

func writeDataset(path string, ds *generator.Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ds); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func printDatasetSummary(ds *generator.Dataset, cfg generator.Config) {
	fmt.Printf("Simulated dataset (variant: %s, seed: %d)\n\n", cfg.Variant, cfg.Seed)
	fmt.Printf("  Population: %d sites, %d visits\n", len(ds.Population.Sites), len(ds.Population.Visits))
	fmt.Printf("  Observed:   %d sites, %d visit rows\n", len(ds.Observed.Sites), len(ds.Observed.Visits))

	totalN, occupied := 0, 0
	for _, s := range ds.Observed.Sites {
		totalN += s.N
		if s.N > 0 {
			occupied++
		}
	}
	totalY := 0
	for _, v := range ds.Observed.Visits {
		totalY += v.Y
	}
	fmt.Printf("  Abundance:  total N = %d, %d/%d sites occupied\n", totalN, occupied, len(ds.Observed.Sites))
	fmt.Printf("  Detections: total y = %d\n", totalY)
}
