// Package diagnostics summarizes multi-chain posterior samples: per-parameter
// means and quantiles, rank-normalized split-Rhat, and bulk/tail effective
// sample sizes.
//
// All statistics are computed on post-warmup draws only; the warmup discard
// happens identically for every chain before anything else. The package is a
// pure aggregation over its inputs and is safe for concurrent use.
package diagnostics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientChains indicates fewer than two chains; Rhat is undefined
// for a single chain.
var ErrInsufficientChains = errors.New("at least two chains are required")

// ErrShape indicates chains of unequal shape, or a warmup discard that
// leaves too few draws to diagnose.
var ErrShape = errors.New("invalid chain shape")

// minDraws is the smallest post-warmup chain length the diagnostics accept.
const minDraws = 4

// ChainSet holds C independent chains of equal-shaped posterior sample
// matrices: rows are iterations, columns are the named parameters.
type ChainSet struct {
	Parameters []string
	Chains     []*mat.Dense
}

// Validate checks chain count and shape agreement.
func (cs *ChainSet) Validate() error {
	if len(cs.Chains) < 2 {
		return fmt.Errorf("%w: got %d", ErrInsufficientChains, len(cs.Chains))
	}
	r0, c0 := cs.Chains[0].Dims()
	if c0 != len(cs.Parameters) {
		return fmt.Errorf("%w: %d columns for %d parameter names", ErrShape, c0, len(cs.Parameters))
	}
	for i, ch := range cs.Chains[1:] {
		r, c := ch.Dims()
		if r != r0 || c != c0 {
			return fmt.Errorf("%w: chain %d is %dx%d, chain 0 is %dx%d", ErrShape, i+1, r, c, r0, c0)
		}
	}
	return nil
}

// Options configures Summarize.
type Options struct {
	// Warmup is the number of leading iterations discarded from every
	// chain before any statistic is computed.
	Warmup int

	// Probs are the quantiles to report. Defaults to {0.025, 0.5, 0.975}.
	Probs []float64
}

// DefaultProbs are the reported quantiles when Options.Probs is empty:
// a 95% central credible interval plus the median.
var DefaultProbs = []float64{0.025, 0.5, 0.975}

// Summary is one per-parameter row of the diagnostics table.
type Summary struct {
	Parameter string              `json:"parameter"`
	Mean      float64             `json:"mean"`
	SD        float64             `json:"sd"`
	Quantiles map[float64]float64 `json:"quantiles"`

	// Rhat is the rank-normalized split potential scale reduction
	// statistic (max of bulk and folded variants). Near 1.0 indicates
	// convergence; elevated values are surfaced here, never dropped.
	Rhat float64 `json:"rhat"`

	// ESSBulk and ESSTail are rank-based effective sample sizes for the
	// distribution's center and tails.
	ESSBulk float64 `json:"ess_bulk"`
	ESSTail float64 `json:"ess_tail"`
}

// Summarize computes the per-parameter summary table for a chain set.
func Summarize(cs *ChainSet, opts Options) ([]Summary, error) {
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	if opts.Warmup < 0 {
		return nil, fmt.Errorf("%w: negative warmup %d", ErrShape, opts.Warmup)
	}
	iters, _ := cs.Chains[0].Dims()
	n := iters - opts.Warmup
	if n < minDraws {
		return nil, fmt.Errorf("%w: %d iterations minus %d warmup leaves %d draws, need at least %d",
			ErrShape, iters, opts.Warmup, n, minDraws)
	}
	probs := opts.Probs
	if len(probs) == 0 {
		probs = DefaultProbs
	}

	out := make([]Summary, len(cs.Parameters))
	for j, name := range cs.Parameters {
		chains := make([][]float64, len(cs.Chains))
		for c, ch := range cs.Chains {
			col := make([]float64, n)
			for i := 0; i < n; i++ {
				col[i] = ch.At(opts.Warmup+i, j)
			}
			chains[c] = col
		}
		out[j] = summarizeParam(name, chains, probs)
	}
	return out, nil
}

// summarizeParam computes one summary row from post-warmup draws.
func summarizeParam(name string, chains [][]float64, probs []float64) Summary {
	pooled := flatten(chains)

	s := Summary{
		Parameter: name,
		Mean:      stat.Mean(pooled, nil),
		SD:        stat.StdDev(pooled, nil),
		Quantiles: make(map[float64]float64, len(probs)),
	}
	for _, p := range probs {
		s.Quantiles[p] = Quantile(pooled, p)
	}

	s.Rhat = SplitRhat(chains)
	s.ESSBulk = ESSBulk(chains)
	s.ESSTail = ESSTail(chains)
	return s
}

func flatten(chains [][]float64) []float64 {
	total := 0
	for _, c := range chains {
		total += len(c)
	}
	out := make([]float64, 0, total)
	for _, c := range chains {
		out = append(out, c...)
	}
	return out
}

// constant reports whether every draw across every chain equals the first.
func constant(chains [][]float64) bool {
	first := chains[0][0]
	for _, c := range chains {
		for _, v := range c {
			if v != first || math.IsNaN(v) {
				return false
			}
		}
	}
	return true
}
