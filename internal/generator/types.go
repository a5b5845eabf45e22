package generator

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ljwheeler/nmixsim/internal/covariates"
)

// ErrInsufficientData indicates a requested subsample larger than the
// available rows.
var ErrInsufficientData = errors.New("insufficient data")

// Family selects the abundance distribution.
type Family string

const (
	// FamilyPoisson draws site abundance from a Poisson distribution.
	FamilyPoisson Family = "poisson"

	// FamilyNegBinomial draws site abundance from a negative-binomial
	// distribution with dispersion Phi (size/mu parameterization).
	FamilyNegBinomial Family = "negbinomial"
)

// Coefficient-vector caps. These reflect the fixed canonical covariate
// orderings (intercept + covariates), not an arbitrary limit.
const (
	MaxSiteCoefs      = 8 // intercept + 7 site covariates
	MaxDetectionCoefs = 6 // intercept + 5 visit covariates
)

// Variant selects the structural model: abundance family plus an optional
// zero-inflation (latent occupancy) layer. A Variant is resolved once at
// simulation start; it determines which design matrices exist and which
// sampling formula applies to N.
type Variant struct {
	Family       Family `json:"family" yaml:"family"`
	ZeroInflated bool   `json:"zero_inflated" yaml:"zero_inflated"`
}

// Validate checks that the family is known.
func (v Variant) Validate() error {
	switch v.Family {
	case FamilyPoisson, FamilyNegBinomial:
		return nil
	default:
		return fmt.Errorf("%w: unknown abundance family %q", covariates.ErrConfig, v.Family)
	}
}

// ParseVariant resolves a conventional short name ("poisson", "nb", "zip",
// "zinb") into a Variant.
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "poisson":
		return Variant{Family: FamilyPoisson}, nil
	case "nb":
		return Variant{Family: FamilyNegBinomial}, nil
	case "zip":
		return Variant{Family: FamilyPoisson, ZeroInflated: true}, nil
	case "zinb":
		return Variant{Family: FamilyNegBinomial, ZeroInflated: true}, nil
	default:
		return Variant{}, fmt.Errorf("%w: unknown model variant %q (valid: poisson, nb, zip, zinb)", covariates.ErrConfig, s)
	}
}

// String returns the conventional short name: "poisson", "nb", "zip", "zinb".
func (v Variant) String() string {
	switch {
	case v.ZeroInflated && v.Family == FamilyNegBinomial:
		return "zinb"
	case v.ZeroInflated:
		return "zip"
	case v.Family == FamilyNegBinomial:
		return "nb"
	default:
		return "poisson"
	}
}

// Params holds the true parameter vectors for one simulation.
type Params struct {
	// Beta holds occupancy coefficients (logit scale). Used only when the
	// variant is zero-inflated. Max MaxSiteCoefs entries.
	Beta []float64 `json:"beta,omitempty" yaml:"beta,omitempty"`

	// Alpha holds abundance coefficients (log scale). Max MaxSiteCoefs.
	Alpha []float64 `json:"alpha" yaml:"alpha"`

	// Delta holds detection coefficients (logit scale). Max MaxDetectionCoefs.
	Delta []float64 `json:"delta" yaml:"delta"`

	// Phi is the negative-binomial dispersion. Required (> 0) only for
	// FamilyNegBinomial.
	Phi float64 `json:"phi,omitempty" yaml:"phi,omitempty"`
}

// Config drives one call to Simulate.
type Config struct {
	// Seed drives every random draw, including the subsampling step.
	// Identical seed and inputs reproduce the output bit for bit.
	Seed uint64

	// Sites and Visits are the full covariate tables. Visits join to Sites
	// through Visits.Parents.
	Sites  *covariates.Table
	Visits *covariates.Table

	Variant Variant
	Params  Params

	// NSites and NVisits size the observed subsample: NSites sites drawn
	// without replacement, then NVisits visits per kept site.
	NSites  int
	NVisits int
}

// Site is one simulated spatial unit.
type Site struct {
	ID string `json:"id"`

	// Z is the latent occupancy state. Always 1 for variants without
	// zero-inflation (no Z layer exists; the field is kept for joins).
	Z int `json:"z"`

	// N is the latent abundance available for capture.
	N int `json:"n"`

	// Psi is the occupancy probability (zero-inflated variants only).
	Psi float64 `json:"psi,omitempty"`

	// Lambda is the expected abundance exp(linear predictor), before the
	// zero-inflation multiplier.
	Lambda float64 `json:"lambda"`
}

// Visit is one simulated sampling occasion at a site.
type Visit struct {
	ID     string `json:"id"`
	SiteID string `json:"site_id"`

	// P is the detection probability for this visit.
	P float64 `json:"p"`

	// Y is the observed count, 0 <= Y <= N of the parent site.
	Y int `json:"y"`
}

// Population is the complete simulated state: every site and every visit.
type Population struct {
	Sites  []Site  `json:"sites"`
	Visits []Visit `json:"visits"`
}

// Observed is the subsampled dataset handed to a fitting engine, together
// with the design matrices restricted to exactly the rows it carries.
type Observed struct {
	Sites  []Site  `json:"sites"`
	Visits []Visit `json:"visits"`

	// SiteIndex maps each observed visit to the 0-based position of its
	// parent site within Sites.
	SiteIndex []int `json:"site_index"`

	// XOcc is the occupancy design for the observed sites. Nil unless the
	// variant is zero-inflated.
	XOcc *mat.Dense `json:"-"`

	// XAbund is the abundance design for the observed sites.
	XAbund *mat.Dense `json:"-"`

	// XDet is the detection design for the observed visits.
	XDet *mat.Dense `json:"-"`
}

// Dataset is the result of one Simulate call. It is immutable after
// creation.
type Dataset struct {
	Seed       uint64     `json:"seed"`
	Variant    Variant    `json:"variant"`
	Params     Params     `json:"params"`
	Population Population `json:"population"`
	Observed   Observed   `json:"observed"`
}
