package harness

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ljwheeler/nmixsim/internal/diagnostics"
	"github.com/ljwheeler/nmixsim/internal/generator"
)

// ModelSpec identifies the declarative model artifact for one structural
// variant. The model description itself is opaque to this package: an
// external sampler interprets Ref; the harness only guarantees that the data
// and constants it supplies match the variant's expected shapes.
type ModelSpec struct {
	Variant generator.Variant `json:"variant"`

	// Ref names the external model artifact, e.g. "nmix/zinb".
	Ref string `json:"ref"`

	// Monitor lists the parameter names whose posteriors are summarized
	// and calibrated against truth.
	Monitor []string `json:"monitor"`
}

// NewModelSpec builds the spec for a variant and its parameter vectors.
func NewModelSpec(v generator.Variant, p generator.Params) ModelSpec {
	return ModelSpec{
		Variant: v,
		Ref:     "nmix/" + v.String(),
		Monitor: MonitorNames(v, p),
	}
}

// FitData carries the observations handed to the fitting engine.
type FitData struct {
	// Counts holds the observed count per observed visit, in row order.
	Counts []int `json:"counts"`
}

// FitConstants carries the fixed quantities the model needs: dimensions,
// the site index per visit, and the design matrices restricted to exactly
// the observed rows.
type FitConstants struct {
	NSites  int `json:"nsites"`
	NVisits int `json:"nvisits"` // observed visit rows in total

	// SiteIndex maps each observed visit to its 0-based observed site.
	SiteIndex []int `json:"site_index"`

	XOcc   *mat.Dense `json:"-"` // nil unless zero-inflated
	XAbund *mat.Dense `json:"-"`
	XDet   *mat.Dense `json:"-"`
}

// Fitter is the external model-fitting capability: given a model
// description, data, and constants it returns one posterior sample matrix
// per independent chain. Implementations may block for a long time; they
// must honor ctx cancellation and must not retain the inputs.
type Fitter interface {
	Fit(ctx context.Context, spec ModelSpec, data FitData, constants FitConstants) (*diagnostics.ChainSet, error)
}

// BuildFitInputs assembles the data and constants for a generated dataset.
func BuildFitInputs(ds *generator.Dataset) (FitData, FitConstants) {
	counts := make([]int, len(ds.Observed.Visits))
	for i, v := range ds.Observed.Visits {
		counts[i] = v.Y
	}
	return FitData{Counts: counts}, FitConstants{
		NSites:    len(ds.Observed.Sites),
		NVisits:   len(ds.Observed.Visits),
		SiteIndex: append([]int(nil), ds.Observed.SiteIndex...),
		XOcc:      ds.Observed.XOcc,
		XAbund:    ds.Observed.XAbund,
		XDet:      ds.Observed.XDet,
	}
}

// MonitorNames returns the monitored parameter names for a variant, in
// stable order: occupancy, abundance, detection coefficients (1-based
// bracket notation, matching BUGS-family samplers), then dispersion.
func MonitorNames(v generator.Variant, p generator.Params) []string {
	var names []string
	if v.ZeroInflated {
		for i := range p.Beta {
			names = append(names, fmt.Sprintf("beta[%d]", i+1))
		}
	}
	for i := range p.Alpha {
		names = append(names, fmt.Sprintf("alpha[%d]", i+1))
	}
	for i := range p.Delta {
		names = append(names, fmt.Sprintf("delta[%d]", i+1))
	}
	if v.Family == generator.FamilyNegBinomial {
		names = append(names, "phi")
	}
	return names
}

// TruthValues maps each monitored parameter name to its true value.
func TruthValues(v generator.Variant, p generator.Params) map[string]float64 {
	truth := make(map[string]float64)
	if v.ZeroInflated {
		for i, b := range p.Beta {
			truth[fmt.Sprintf("beta[%d]", i+1)] = b
		}
	}
	for i, a := range p.Alpha {
		truth[fmt.Sprintf("alpha[%d]", i+1)] = a
	}
	for i, d := range p.Delta {
		truth[fmt.Sprintf("delta[%d]", i+1)] = d
	}
	if v.Family == generator.FamilyNegBinomial {
		truth["phi"] = p.Phi
	}
	return truth
}
