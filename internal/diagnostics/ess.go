package diagnostics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// ESSBulk computes the bulk effective sample size: the ESS of the
// rank-normalized split chains, measuring how many effectively independent
// draws the chains provide for the distribution's center.
func ESSBulk(chains [][]float64) float64 {
	if constant(chains) {
		return float64(totalDraws(chains))
	}
	return essOf(rankNormalize(splitChains(chains)))
}

// ESSTail computes the tail effective sample size: the smaller of the ESSs
// of the 5% and 95% quantile indicator sequences. Rank-based and robust to
// heavy-tailed posteriors.
func ESSTail(chains [][]float64) float64 {
	if constant(chains) {
		return float64(totalDraws(chains))
	}
	pooled := flatten(chains)
	lo := essIndicator(chains, Quantile(pooled, 0.05))
	hi := essIndicator(chains, Quantile(pooled, 0.95))
	return math.Min(lo, hi)
}

// essIndicator computes the split-chain ESS of I(x <= q).
func essIndicator(chains [][]float64, q float64) float64 {
	ind := make([][]float64, len(chains))
	for i, c := range chains {
		s := make([]float64, len(c))
		for j, v := range c {
			if v <= q {
				s[j] = 1
			}
		}
		ind[i] = s
	}
	if constant(ind) {
		return float64(totalDraws(chains))
	}
	return essOf(splitChains(ind))
}

func totalDraws(chains [][]float64) int {
	t := 0
	for _, c := range chains {
		t += len(c)
	}
	return t
}

// essOf estimates effective sample size from the combined autocorrelation of
// the sequences, truncated by Geyer's initial monotone positive sequence.
// Autocovariances are computed lag by lag; the truncation usually stops long
// before the maximum lag.
func essOf(seqs [][]float64) float64 {
	m := len(seqs)
	n := len(seqs[0])
	total := float64(m * n)

	means := make([]float64, m)
	vars := make([]float64, m)
	for i, s := range seqs {
		means[i] = stat.Mean(s, nil)
	}

	// acov computes the biased (1/n) autocovariance of sequence i at lag t.
	acov := func(i, t int) float64 {
		s := seqs[i]
		mean := means[i]
		sum := 0.0
		for k := 0; k+t < n; k++ {
			sum += (s[k] - mean) * (s[k+t] - mean)
		}
		return sum / float64(n)
	}

	for i := range seqs {
		vars[i] = acov(i, 0) * float64(n) / float64(n-1)
	}
	meanVar := stat.Mean(vars, nil)
	varPlus := meanVar * float64(n-1) / float64(n)
	if m > 1 {
		varPlus += stat.Variance(means, nil)
	}
	if varPlus == 0 {
		return total
	}

	// Combined autocorrelation at lag t across all sequences.
	rho := func(t int) float64 {
		sum := 0.0
		for i := 0; i < m; i++ {
			sum += acov(i, t)
		}
		return 1 - (meanVar-sum/float64(m))/varPlus
	}

	// Geyer pairs: accumulate while positive, enforcing monotone decrease.
	sumPairs := 0.0
	prevPair := math.Inf(1)
	for t := 0; t+1 < n; t += 2 {
		pair := rho(t) + rho(t+1)
		if pair < 0 {
			break
		}
		if pair > prevPair {
			pair = prevPair
		}
		sumPairs += pair
		prevPair = pair
	}

	tau := -1 + 2*sumPairs
	if tau < 1/math.Log10(total) {
		// Antithetic chains can push tau below zero; cap the resulting
		// ESS the way Stan does.
		tau = 1 / math.Log10(total)
	}
	return total / tau
}
