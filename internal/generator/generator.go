// Package generator simulates hierarchical N-mixture datasets: a latent
// ecological state per site (optional occupancy layer plus abundance) thinned
// by an imperfect binomial observation process per visit, followed by a
// seeded subsampling step that produces the observed dataset.
//
// All randomness is scoped to the seed in the Config; there is no package or
// process level random state, so simulations may run concurrently.
package generator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ljwheeler/nmixsim/internal/covariates"
)

// seedMix is the fixed second PCG word; simulation streams are distinguished
// purely by Config.Seed.
const seedMix = 0xda3e39cb94b95bdb

// Simulate generates a full synthetic population and an observed subsample
// under the configured structural variant. Identical Config (including Seed)
// yields bit-for-bit identical output.
func Simulate(cfg Config) (*Dataset, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	src := rand.NewPCG(cfg.Seed, seedMix)
	rng := rand.New(src)

	nSites := cfg.Sites.Len()
	nVisits := cfg.Visits.Len()

	// Layer 1: latent occupancy (zero-inflated variants only).
	var xOcc *mat.Dense
	var psi []float64
	z := make([]int, nSites)
	for i := range z {
		z[i] = 1
	}
	if cfg.Variant.ZeroInflated {
		var err error
		xOcc, err = covariates.Design(cfg.Sites, len(cfg.Params.Beta))
		if err != nil {
			return nil, fmt.Errorf("occupancy design: %w", err)
		}
		psi = logistic(linearPredictor(xOcc, cfg.Params.Beta))
		for i := range z {
			z[i] = int(distuv.Bernoulli{P: psi[i], Src: src}.Rand())
		}
	}

	// Layer 2: latent abundance per site.
	xAbund, err := covariates.Design(cfg.Sites, len(cfg.Params.Alpha))
	if err != nil {
		return nil, fmt.Errorf("abundance design: %w", err)
	}
	lambda := exponential(linearPredictor(xAbund, cfg.Params.Alpha))
	n := make([]int, nSites)
	for i := range n {
		// Hard zero: the mean is multiplied by Z exactly, so an unoccupied
		// site has structurally zero abundance.
		mean := lambda[i] * float64(z[i])
		n[i] = drawAbundance(cfg.Variant, mean, cfg.Params.Phi, src)
	}

	sites := make([]Site, nSites)
	siteIdx := make(map[string]int, nSites)
	for i, id := range cfg.Sites.IDs {
		sites[i] = Site{ID: id, Z: z[i], N: n[i], Lambda: lambda[i]}
		if psi != nil {
			sites[i].Psi = psi[i]
		}
		siteIdx[id] = i
	}

	// Layer 3: binomial detection per visit.
	xDet, err := covariates.Design(cfg.Visits, len(cfg.Params.Delta))
	if err != nil {
		return nil, fmt.Errorf("detection design: %w", err)
	}
	p := logistic(linearPredictor(xDet, cfg.Params.Delta))

	visits := make([]Visit, nVisits)
	visitSiteIdx := make([]int, nVisits)
	for i, id := range cfg.Visits.IDs {
		parent := cfg.Visits.Parents[i]
		si, ok := siteIdx[parent]
		if !ok {
			return nil, fmt.Errorf("%w: visit %q references unknown site %q", covariates.ErrConfig, id, parent)
		}
		y := 0
		if n[si] > 0 {
			y = int(distuv.Binomial{N: float64(n[si]), P: p[i], Src: src}.Rand())
		}
		visits[i] = Visit{ID: id, SiteID: parent, P: p[i], Y: y}
		visitSiteIdx[i] = si
	}

	// Layer 4: observed subsample, drawn from the same seeded stream.
	obs, err := subsample(cfg, rng, sites, visits, visitSiteIdx, xOcc, xAbund, xDet)
	if err != nil {
		return nil, err
	}

	return &Dataset{
		Seed:       cfg.Seed,
		Variant:    cfg.Variant,
		Params:     cfg.Params,
		Population: Population{Sites: sites, Visits: visits},
		Observed:   obs,
	}, nil
}

func validate(cfg Config) error {
	if cfg.Sites == nil || cfg.Visits == nil {
		return fmt.Errorf("%w: site and visit tables are required", covariates.ErrConfig)
	}
	if err := cfg.Sites.Validate(); err != nil {
		return fmt.Errorf("site table: %w", err)
	}
	if err := cfg.Visits.Validate(); err != nil {
		return fmt.Errorf("visit table: %w", err)
	}
	if cfg.Visits.Parents == nil {
		return fmt.Errorf("%w: visit table carries no parent site IDs", covariates.ErrConfig)
	}
	if err := cfg.Variant.Validate(); err != nil {
		return err
	}

	if cfg.Variant.ZeroInflated {
		if len(cfg.Params.Beta) < 1 || len(cfg.Params.Beta) > MaxSiteCoefs {
			return fmt.Errorf("%w: occupancy coefficients must have 1..%d entries, got %d",
				covariates.ErrConfig, MaxSiteCoefs, len(cfg.Params.Beta))
		}
	}
	if len(cfg.Params.Alpha) < 1 || len(cfg.Params.Alpha) > MaxSiteCoefs {
		return fmt.Errorf("%w: abundance coefficients must have 1..%d entries, got %d",
			covariates.ErrConfig, MaxSiteCoefs, len(cfg.Params.Alpha))
	}
	if len(cfg.Params.Delta) < 1 || len(cfg.Params.Delta) > MaxDetectionCoefs {
		return fmt.Errorf("%w: detection coefficients must have 1..%d entries, got %d",
			covariates.ErrConfig, MaxDetectionCoefs, len(cfg.Params.Delta))
	}
	if cfg.Variant.Family == FamilyNegBinomial && cfg.Params.Phi <= 0 {
		return fmt.Errorf("%w: negative-binomial family requires dispersion phi > 0, got %v",
			covariates.ErrConfig, cfg.Params.Phi)
	}

	if cfg.NSites < 1 || cfg.NVisits < 1 {
		return fmt.Errorf("%w: nsites and nvisits must be positive, got %d and %d",
			covariates.ErrConfig, cfg.NSites, cfg.NVisits)
	}
	if cfg.NSites > cfg.Sites.Len() {
		return fmt.Errorf("%w: requested %d sites but only %d available",
			ErrInsufficientData, cfg.NSites, cfg.Sites.Len())
	}
	return nil
}

// drawAbundance draws N for one site. A zero mean short-circuits to zero so
// the hard-zero structure never depends on sampler edge behavior.
func drawAbundance(v Variant, mean, phi float64, src rand.Source) int {
	if mean == 0 {
		return 0
	}
	if v.Family == FamilyNegBinomial {
		// Gamma-Poisson mixture: lambda ~ Gamma(phi, phi/mean) has mean
		// `mean` and variance mean^2/phi, giving NB(mean, size=phi).
		lam := distuv.Gamma{Alpha: phi, Beta: phi / mean, Src: src}.Rand()
		if lam <= 0 {
			return 0
		}
		return int(distuv.Poisson{Lambda: lam, Src: src}.Rand())
	}
	return int(distuv.Poisson{Lambda: mean, Src: src}.Rand())
}

// subsample selects NSites sites and NVisits visits per kept site, uniformly
// without replacement, then restores stable row order (input order).
func subsample(cfg Config, rng *rand.Rand, sites []Site, visits []Visit, visitSiteIdx []int,
	xOcc, xAbund, xDet *mat.Dense) (Observed, error) {

	keptSites := rng.Perm(len(sites))[:cfg.NSites]
	sort.Ints(keptSites)

	obsPos := make(map[int]int, len(keptSites)) // population site index -> observed position
	for i, si := range keptSites {
		obsPos[si] = i
	}

	// Visit indices per kept site, in input order.
	bySite := make(map[int][]int, len(keptSites))
	for vi, si := range visitSiteIdx {
		if _, ok := obsPos[si]; ok {
			bySite[si] = append(bySite[si], vi)
		}
	}

	var keptVisits []int
	for _, si := range keptSites {
		avail := bySite[si]
		if len(avail) < cfg.NVisits {
			return Observed{}, fmt.Errorf("%w: site %q has %d visits, requested %d",
				ErrInsufficientData, sites[si].ID, len(avail), cfg.NVisits)
		}
		perm := rng.Perm(len(avail))[:cfg.NVisits]
		sort.Ints(perm)
		for _, k := range perm {
			keptVisits = append(keptVisits, avail[k])
		}
	}
	sort.Ints(keptVisits)

	obs := Observed{
		Sites:     make([]Site, len(keptSites)),
		Visits:    make([]Visit, len(keptVisits)),
		SiteIndex: make([]int, len(keptVisits)),
	}
	for i, si := range keptSites {
		obs.Sites[i] = sites[si]
	}
	for i, vi := range keptVisits {
		obs.Visits[i] = visits[vi]
		obs.SiteIndex[i] = obsPos[visitSiteIdx[vi]]
	}

	if xOcc != nil {
		obs.XOcc = covariates.SubsetRows(xOcc, keptSites)
	}
	obs.XAbund = covariates.SubsetRows(xAbund, keptSites)
	obs.XDet = covariates.SubsetRows(xDet, keptVisits)
	return obs, nil
}

// linearPredictor computes X * coefs.
func linearPredictor(x *mat.Dense, coefs []float64) []float64 {
	r, _ := x.Dims()
	var eta mat.VecDense
	eta.MulVec(x, mat.NewVecDense(len(coefs), coefs))
	out := make([]float64, r)
	for i := range out {
		out[i] = eta.AtVec(i)
	}
	return out
}

func logistic(eta []float64) []float64 {
	out := make([]float64, len(eta))
	for i, e := range eta {
		out[i] = 1 / (1 + math.Exp(-e))
	}
	return out
}

func exponential(eta []float64) []float64 {
	out := make([]float64, len(eta))
	for i, e := range eta {
		out[i] = math.Exp(e)
	}
	return out
}
