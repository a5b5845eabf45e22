package harness

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/ljwheeler/nmixsim/internal/diagnostics"
)

// CalibratedFitter is a built-in reference engine that mimics a perfectly
// calibrated sampler: for each monitored parameter it draws a posterior
// centered at the truth plus one unit of sampling noise, so a central
// credible interval covers the truth at exactly its nominal level as the
// replicate count grows.
//
// It exists for calibration self-checks and as the default engine when no
// external sampler is wired in; it never looks at the counts beyond seeding
// its random stream from them, which keeps each replicate's draws
// independent and reproducible.
type CalibratedFitter struct {
	// Truth maps monitored parameter names to their true values.
	Truth map[string]float64

	// SD is the posterior standard deviation. Defaults to 0.05.
	SD float64

	// Chains and Draws size the output. Default 4 chains of 500 draws.
	Chains int
	Draws  int

	// Warmup, when positive, prepends that many transient draws per chain
	// that drift from a displaced start toward the posterior center, so
	// callers can exercise warmup discard end to end.
	Warmup int
}

// Fit implements Fitter.
func (f *CalibratedFitter) Fit(ctx context.Context, spec ModelSpec, data FitData, constants FitConstants) (*diagnostics.ChainSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sd := f.SD
	if sd == 0 {
		sd = 0.05
	}
	nChains := f.Chains
	if nChains == 0 {
		nChains = 4
	}
	nDraws := f.Draws
	if nDraws == 0 {
		nDraws = 500
	}

	rng := rand.New(rand.NewPCG(seedFromCounts(data.Counts), 0x2545f4914f6cdd1d))

	cs := &diagnostics.ChainSet{Parameters: append([]string(nil), spec.Monitor...)}
	centers := make([]float64, len(spec.Monitor))
	for j, name := range spec.Monitor {
		truth, ok := f.Truth[name]
		if !ok {
			return nil, fmt.Errorf("calibrated fitter has no truth for parameter %q", name)
		}
		// Sampling noise: the posterior centers near, not at, the truth.
		centers[j] = truth + sd*rng.NormFloat64()
	}

	for c := 0; c < nChains; c++ {
		m := mat.NewDense(f.Warmup+nDraws, len(spec.Monitor), nil)
		for j, center := range centers {
			start := center + 10*sd // displaced warmup start
			for i := 0; i < f.Warmup; i++ {
				frac := float64(i) / float64(f.Warmup)
				m.Set(i, j, start+(center-start)*frac+sd*rng.NormFloat64())
			}
			for i := 0; i < nDraws; i++ {
				m.Set(f.Warmup+i, j, center+sd*rng.NormFloat64())
			}
		}
		cs.Chains = append(cs.Chains, m)
	}
	return cs, nil
}

// seedFromCounts hashes the observed counts into a replicate-scoped seed.
func seedFromCounts(counts []int) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, c := range counts {
		v := uint64(c)
		for i := range buf {
			buf[i] = byte(v >> (8 * i))
		}
		h.Write(buf[:])
	}
	return h.Sum64()
}
