package diagnostics

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// chainSet builds a ChainSet for one parameter from raw per-chain draws.
func chainSet(t *testing.T, name string, chains ...[]float64) *ChainSet {
	t.Helper()
	cs := &ChainSet{Parameters: []string{name}}
	for _, c := range chains {
		m := mat.NewDense(len(c), 1, nil)
		for i, v := range c {
			m.Set(i, 0, v)
		}
		cs.Chains = append(cs.Chains, m)
	}
	return cs
}

// noise returns n pseudo-normal draws centered at mu.
func noise(seed uint64, n int, mu, sigma float64) []float64 {
	rng := rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15))
	out := make([]float64, n)
	for i := range out {
		out[i] = mu + sigma*rng.NormFloat64()
	}
	return out
}

func TestSummarizeValidation(t *testing.T) {
	single := chainSet(t, "a", noise(1, 100, 0, 1))
	if _, err := Summarize(single, Options{}); !errors.Is(err, ErrInsufficientChains) {
		t.Errorf("one chain: err = %v, want ErrInsufficientChains", err)
	}

	uneven := chainSet(t, "a", noise(1, 100, 0, 1), noise(2, 90, 0, 1))
	if _, err := Summarize(uneven, Options{}); !errors.Is(err, ErrShape) {
		t.Errorf("uneven chains: err = %v, want ErrShape", err)
	}

	ok := chainSet(t, "a", noise(1, 100, 0, 1), noise(2, 100, 0, 1))
	if _, err := Summarize(ok, Options{Warmup: 98}); !errors.Is(err, ErrShape) {
		t.Errorf("warmup exhausting draws: err = %v, want ErrShape", err)
	}
	if _, err := Summarize(ok, Options{Warmup: -1}); !errors.Is(err, ErrShape) {
		t.Errorf("negative warmup: err = %v, want ErrShape", err)
	}
	if _, err := Summarize(ok, Options{Warmup: 50}); err != nil {
		t.Errorf("valid call: unexpected error %v", err)
	}
}

func TestRhatIdenticalChains(t *testing.T) {
	// Three byte-identical well-mixed chains: zero between-chain variance,
	// Rhat must sit at ~1.0.
	draws := noise(42, 400, 2.5, 1.0)
	cs := chainSet(t, "theta", draws, append([]float64(nil), draws...), append([]float64(nil), draws...))

	rows, err := Summarize(cs, Options{})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if r := rows[0].Rhat; r < 0.99 || r > 1.01 {
		t.Errorf("Rhat = %v, want ~1.0", r)
	}
}

func TestRhatDisjointChains(t *testing.T) {
	cs := chainSet(t, "theta",
		noise(1, 400, 0, 1),
		noise(2, 400, 10, 1),
		noise(3, 400, 20, 1),
	)
	rows, err := Summarize(cs, Options{})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if r := rows[0].Rhat; r < 1.5 {
		t.Errorf("Rhat = %v for disjoint chains, want visibly > 1", r)
	}
}

func TestWarmupDiscardedFirst(t *testing.T) {
	// Wild warmup segments must not leak into any statistic.
	warm := func(seed uint64) []float64 {
		return append(noise(seed, 100, 500, 50), noise(seed+10, 300, 1, 0.5)...)
	}
	cs := chainSet(t, "theta", warm(1), warm(2))

	rows, err := Summarize(cs, Options{Warmup: 100})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if m := rows[0].Mean; math.Abs(m-1) > 0.2 {
		t.Errorf("post-warmup mean = %v, want ~1", m)
	}
	if q := rows[0].Quantiles[0.975]; q > 3 {
		t.Errorf("97.5%% quantile = %v; warmup draws leaked into quantiles", q)
	}

	// Discarding warmup up front must equal summarizing pre-truncated chains.
	trunc := chainSet(t, "theta", warm(1)[100:], warm(2)[100:])
	want, err := Summarize(trunc, Options{})
	if err != nil {
		t.Fatalf("Summarize(truncated): %v", err)
	}
	if rows[0].Mean != want[0].Mean || rows[0].Rhat != want[0].Rhat || rows[0].ESSBulk != want[0].ESSBulk {
		t.Error("warmup discard is not equivalent to pre-truncated chains")
	}
}

func TestESSIndependentDraws(t *testing.T) {
	cs := chainSet(t, "theta",
		noise(1, 250, 0, 1),
		noise(2, 250, 0, 1),
		noise(3, 250, 0, 1),
		noise(4, 250, 0, 1),
	)
	rows, err := Summarize(cs, Options{})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	// Independent draws: ESS should be of the order of the total draw count.
	total := 1000.0
	if e := rows[0].ESSBulk; e < total/2 || e > total*math.Log10(total)*1.01 {
		t.Errorf("bulk ESS = %v for independent draws, want near %v", e, total)
	}
	if e := rows[0].ESSTail; e < total/4 {
		t.Errorf("tail ESS = %v for independent draws, want near %v", e, total)
	}
}

func TestESSAutocorrelatedChain(t *testing.T) {
	// AR(1) with strong positive correlation: far fewer effective draws
	// than nominal.
	ar1 := func(seed uint64, n int, rho float64) []float64 {
		rng := rand.New(rand.NewPCG(seed, 1))
		out := make([]float64, n)
		for i := 1; i < n; i++ {
			out[i] = rho*out[i-1] + math.Sqrt(1-rho*rho)*rng.NormFloat64()
		}
		return out
	}
	cs := chainSet(t, "theta", ar1(1, 500, 0.9), ar1(2, 500, 0.9))
	rows, err := Summarize(cs, Options{})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if e := rows[0].ESSBulk; e > 500 {
		t.Errorf("bulk ESS = %v for rho=0.9 chains, want well below the 1000 nominal draws", e)
	}
}

func TestSummaryQuantiles(t *testing.T) {
	// Uniform grid over [0,1]: quantiles are known exactly under linear
	// interpolation.
	grid := make([]float64, 101)
	for i := range grid {
		grid[i] = float64(i) / 100
	}
	cs := chainSet(t, "u", grid, append([]float64(nil), grid...))

	rows, err := Summarize(cs, Options{Probs: []float64{0.025, 0.5, 0.975}})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	q := rows[0].Quantiles
	if math.Abs(q[0.5]-0.5) > 1e-9 {
		t.Errorf("median = %v, want 0.5", q[0.5])
	}
	if math.Abs(q[0.025]-0.025) > 0.01 || math.Abs(q[0.975]-0.975) > 0.01 {
		t.Errorf("interval = [%v, %v], want ~[0.025, 0.975]", q[0.025], q[0.975])
	}
}

func TestQuantile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		p      float64
		want   float64
	}{
		{name: "median odd", values: []float64{3, 1, 2}, p: 0.5, want: 2},
		{name: "median even", values: []float64{1, 2, 3, 4}, p: 0.5, want: 2.5},
		{name: "min", values: []float64{5, 1, 9}, p: 0, want: 1},
		{name: "max", values: []float64{5, 1, 9}, p: 1, want: 9},
		{name: "interpolated", values: []float64{0, 10}, p: 0.25, want: 2.5},
		{name: "clamped", values: []float64{1, 2}, p: 1.5, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Quantile(tt.values, tt.p); got != tt.want {
				t.Errorf("Quantile(%v, %v) = %v, want %v", tt.values, tt.p, got, tt.want)
			}
		})
	}
	if !math.IsNaN(Quantile(nil, 0.5)) {
		t.Error("Quantile(nil) should be NaN")
	}
}

func TestRanksTies(t *testing.T) {
	got := ranks([]float64{10, 20, 20, 30})
	want := []float64{1, 2.5, 2.5, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ranks = %v, want %v", got, want)
		}
	}
}

func TestConstantChains(t *testing.T) {
	flat := make([]float64, 50)
	for i := range flat {
		flat[i] = 7
	}
	cs := chainSet(t, "c", flat, append([]float64(nil), flat...))
	rows, err := Summarize(cs, Options{})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if rows[0].Rhat != 1 {
		t.Errorf("constant chains Rhat = %v, want 1", rows[0].Rhat)
	}
	if rows[0].ESSBulk != 100 {
		t.Errorf("constant chains bulk ESS = %v, want 100", rows[0].ESSBulk)
	}
}
