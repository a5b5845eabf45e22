package covariates

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// syntheticStream returns the shared random source for synthetic tables.
// The second PCG word is a fixed domain separator so site and visit tables
// drawn from the same seed do not share a stream.
func syntheticStream(seed, domain uint64) rand.Source {
	return rand.NewPCG(seed, 0x9e3779b97f4a7c15^domain)
}

// SyntheticSites generates a site covariate table with plausible ranges for
// the canonical site covariates. Deterministic for a fixed seed.
func SyntheticSites(n int, seed uint64) *Table {
	src := syntheticStream(seed, 1)
	norm := func(mu, sigma float64) distuv.Normal {
		return distuv.Normal{Mu: mu, Sigma: sigma, Src: src}
	}
	unif := distuv.Uniform{Min: 0, Max: 1, Src: src}

	t := &Table{
		Names:   append([]string(nil), SiteOrder...),
		Columns: make([][]float64, len(SiteOrder)),
	}
	temp := norm(12, 4)
	precip := norm(900, 250)
	elev := norm(400, 180)
	slope := norm(8, 5)
	for i := 0; i < n; i++ {
		t.IDs = append(t.IDs, fmt.Sprintf("site%03d", i+1))
		// Land-cover fractions share the unit interval.
		forest := unif.Rand()
		wetland := (1 - forest) * unif.Rand()
		urban := (1 - forest - wetland) * unif.Rand()
		row := []float64{temp.Rand(), precip.Rand(), elev.Rand(), forest, wetland, urban, slope.Rand()}
		for j, v := range row {
			t.Columns[j] = append(t.Columns[j], v)
		}
	}
	return t
}

// SyntheticVisits generates a visit covariate table with perSite visits per
// site in sites, using the canonical visit covariates. Deterministic for a
// fixed seed.
func SyntheticVisits(sites *Table, perSite int, seed uint64) *Table {
	src := syntheticStream(seed, 2)
	effort := distuv.Normal{Mu: 3, Sigma: 0.8, Src: src}
	wind := distuv.Normal{Mu: 10, Sigma: 6, Src: src}
	noise := distuv.Normal{Mu: 45, Sigma: 12, Src: src}
	unif := distuv.Uniform{Min: 0, Max: 1, Src: src}

	t := &Table{
		Parents: []string{},
		Names:   append([]string(nil), VisitOrder...),
		Columns: make([][]float64, len(VisitOrder)),
	}
	for _, siteID := range sites.IDs {
		for v := 0; v < perSite; v++ {
			t.IDs = append(t.IDs, fmt.Sprintf("%s-v%02d", siteID, v+1))
			t.Parents = append(t.Parents, siteID)
			row := []float64{effort.Rand(), wind.Rand(), unif.Rand(), unif.Rand(), noise.Rand()}
			for j, val := range row {
				t.Columns[j] = append(t.Columns[j], val)
			}
		}
	}
	return t
}
