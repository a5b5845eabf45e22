// Package covariates provides covariate tables and the standardized
// design-matrix builder used by the three linear predictors (occupancy,
// abundance, detection).
//
// Covariate columns follow fixed canonical orderings. Coefficient indices in
// downstream models are meaningless without them, so the orderings are part
// of the package contract and must not be reordered.
package covariates

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrConfig indicates an invalid design-matrix or table configuration, such
// as a coefficient-vector length exceeding the available covariates.
var ErrConfig = errors.New("invalid configuration")

// SiteOrder is the canonical ordering of site-level covariates. Occupancy
// and abundance design matrices select a prefix of this list.
var SiteOrder = []string{"temp", "precip", "elev", "forest", "wetland", "urban", "slope"}

// VisitOrder is the canonical ordering of visit-level covariates. Detection
// design matrices select a prefix of this list.
var VisitOrder = []string{"effort", "wind", "rain", "moon", "noise"}

// Table is a rectangular covariate table: one row per site or visit, one
// column per named covariate. Tables are treated as immutable once built.
type Table struct {
	// IDs holds the row identifiers (site IDs or visit IDs).
	IDs []string

	// Parents holds the parent site ID per row for visit tables.
	// Nil for site tables.
	Parents []string

	// Names holds the covariate names, in canonical order.
	Names []string

	// Columns holds raw covariate values, column-major:
	// Columns[j][i] is covariate Names[j] at row IDs[i].
	Columns [][]float64
}

// Len returns the number of rows in the table.
func (t *Table) Len() int {
	return len(t.IDs)
}

// Validate checks that the table is rectangular and, for visit tables, that
// every row carries a parent site ID.
func (t *Table) Validate() error {
	if len(t.Names) != len(t.Columns) {
		return fmt.Errorf("%w: %d column names for %d columns", ErrConfig, len(t.Names), len(t.Columns))
	}
	for j, col := range t.Columns {
		if len(col) != len(t.IDs) {
			return fmt.Errorf("%w: column %q has %d values for %d rows", ErrConfig, t.Names[j], len(col), len(t.IDs))
		}
	}
	if t.Parents != nil && len(t.Parents) != len(t.IDs) {
		return fmt.Errorf("%w: %d parent IDs for %d rows", ErrConfig, len(t.Parents), len(t.IDs))
	}
	return nil
}

// Column returns the raw values of the named covariate, or nil if absent.
func (t *Table) Column(name string) []float64 {
	for j, n := range t.Names {
		if n == name {
			return t.Columns[j]
		}
	}
	return nil
}

// Standardize returns a copy of values scaled to zero mean and unit variance
// (sample standard deviation). A constant column standardizes to all zeros.
func Standardize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) < 2 {
		return out
	}
	mean := stat.Mean(values, nil)
	sd := stat.StdDev(values, nil)
	if sd == 0 {
		return out
	}
	for i, v := range values {
		out[i] = (v - mean) / sd
	}
	return out
}

// Design builds a design matrix with k columns from the table: an intercept
// column of ones followed by the first k-1 canonical covariates, each
// standardized over the full table. Standardization always happens before
// any row subsetting, so a subsampled dataset keeps the full-table scale.
//
// Fails with ErrConfig if k < 1 or k exceeds the available covariates plus
// the intercept.
func Design(t *Table, k int) (*mat.Dense, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, fmt.Errorf("%w: design matrix needs at least the intercept column, got k=%d", ErrConfig, k)
	}
	if k > len(t.Names)+1 {
		return nil, fmt.Errorf("%w: k=%d exceeds %d available covariates plus intercept", ErrConfig, k, len(t.Names))
	}
	n := t.Len()
	if n == 0 {
		return nil, fmt.Errorf("%w: empty covariate table", ErrConfig)
	}

	x := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
	}
	for j := 0; j < k-1; j++ {
		std := Standardize(t.Columns[j])
		for i := 0; i < n; i++ {
			x.Set(i, j+1, std[i])
		}
	}
	return x, nil
}

// SubsetRows returns a new matrix holding the given rows of x, in order.
func SubsetRows(x *mat.Dense, rows []int) *mat.Dense {
	_, c := x.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		out.SetRow(i, x.RawRowView(r))
	}
	return out
}
