package diagnostics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// SplitRhat computes the rank-normalized split potential scale reduction
// statistic: the maximum of the bulk variant (rank-normalized draws) and the
// folded variant (rank-normalized absolute deviations from the median, which
// catches chains agreeing in location but not in scale).
//
// Values near 1.0 indicate the chains have mixed to a common distribution;
// elevated values indicate non-convergence.
func SplitRhat(chains [][]float64) float64 {
	if constant(chains) {
		return 1
	}
	split := splitChains(chains)
	bulk := rhatOf(rankNormalize(split))
	folded := rhatOf(rankNormalize(fold(split)))
	return math.Max(bulk, folded)
}

// rhatOf computes classic Rhat over already-transformed sequences: the
// square root of the ratio of the pooled-variance estimate (within plus
// between) to the mean within-sequence variance.
func rhatOf(seqs [][]float64) float64 {
	n := float64(len(seqs[0]))

	means := make([]float64, len(seqs))
	vars := make([]float64, len(seqs))
	for i, s := range seqs {
		means[i] = stat.Mean(s, nil)
		vars[i] = stat.Variance(s, nil)
	}

	w := stat.Mean(vars, nil)
	if w == 0 {
		return 1
	}
	b := n * stat.Variance(means, nil) // between-sequence variance
	varPlus := (n-1)/n*w + b/n
	return math.Sqrt(varPlus / w)
}
