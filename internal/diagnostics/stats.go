package diagnostics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// Quantile returns the p-th quantile (0..1) of values using linear
// interpolation between closest ranks. The input is not modified.
func Quantile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	index := p * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// ranks converts values to 1-based ranks, assigning tied values their
// average rank.
func ranks(values []float64) []float64 {
	n := len(values)
	if n == 0 {
		return nil
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	out := make([]float64, n)
	i := 0
	for i < n {
		j := i
		for j < n && values[idx[j]] == values[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			out[idx[k]] = avg
		}
		i = j
	}
	return out
}

// rankNormalize pools all sequences, replaces each draw with the normal
// quantile of its fractional rank (Blom offsets), and returns the
// transformed sequences in the original layout.
func rankNormalize(seqs [][]float64) [][]float64 {
	pooled := flatten(seqs)
	r := ranks(pooled)
	total := float64(len(pooled))

	z := make([]float64, len(pooled))
	for i, rk := range r {
		z[i] = distuv.UnitNormal.Quantile((rk - 0.375) / (total + 0.25))
	}

	out := make([][]float64, len(seqs))
	pos := 0
	for s, seq := range seqs {
		out[s] = z[pos : pos+len(seq)]
		pos += len(seq)
	}
	return out
}

// splitChains halves every chain, doubling the chain count. An odd-length
// chain drops its middle draw.
func splitChains(chains [][]float64) [][]float64 {
	out := make([][]float64, 0, 2*len(chains))
	for _, c := range chains {
		half := len(c) / 2
		out = append(out, c[:half], c[len(c)-half:])
	}
	return out
}

// fold maps draws to absolute deviations from the pooled median, exposing
// scale (tail) differences between chains to the Rhat statistic.
func fold(chains [][]float64) [][]float64 {
	med := Quantile(flatten(chains), 0.5)
	out := make([][]float64, len(chains))
	for i, c := range chains {
		f := make([]float64, len(c))
		for j, v := range c {
			f[j] = math.Abs(v - med)
		}
		out[i] = f
	}
	return out
}
