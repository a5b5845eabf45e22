package covariates

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"gonum.org/v1/gonum/stat"
)

func TestDesignShape(t *testing.T) {
	sites := SyntheticSites(200, 7)

	for k := 1; k <= len(SiteOrder)+1; k++ {
		x, err := Design(sites, k)
		if err != nil {
			t.Fatalf("Design(k=%d): %v", k, err)
		}
		r, c := x.Dims()
		if r != 200 || c != k {
			t.Fatalf("Design(k=%d): got %dx%d, want 200x%d", k, r, c, k)
		}
		for i := 0; i < r; i++ {
			if x.At(i, 0) != 1 {
				t.Fatalf("Design(k=%d): intercept at row %d is %v, want 1", k, i, x.At(i, 0))
			}
		}
		for j := 1; j < c; j++ {
			col := make([]float64, r)
			for i := 0; i < r; i++ {
				col[i] = x.At(i, j)
			}
			if mean := stat.Mean(col, nil); math.Abs(mean) > 1e-9 {
				t.Errorf("Design(k=%d): column %d mean = %v, want ~0", k, j, mean)
			}
			if sd := stat.StdDev(col, nil); math.Abs(sd-1) > 1e-9 {
				t.Errorf("Design(k=%d): column %d sd = %v, want ~1", k, j, sd)
			}
		}
	}
}

func TestDesignErrors(t *testing.T) {
	sites := SyntheticSites(10, 1)
	visits := SyntheticVisits(sites, 3, 1)

	tests := []struct {
		name  string
		table *Table
		k     int
	}{
		{name: "zero columns", table: sites, k: 0},
		{name: "negative columns", table: sites, k: -2},
		{name: "site table over cap", table: sites, k: len(SiteOrder) + 2},
		{name: "visit table over cap", table: visits, k: len(VisitOrder) + 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Design(tt.table, tt.k); !errors.Is(err, ErrConfig) {
				t.Errorf("Design(k=%d) error = %v, want ErrConfig", tt.k, err)
			}
		})
	}
}

func TestStandardize(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   []float64
	}{
		{
			name:   "symmetric pair",
			values: []float64{-1, 1},
			want:   nil, // checked by centering/scale properties below
		},
		{
			name:   "constant column",
			values: []float64{3, 3, 3, 3},
			want:   []float64{0, 0, 0, 0},
		},
		{
			name:   "single value",
			values: []float64{5},
			want:   []float64{0},
		},
		{
			name:   "empty",
			values: nil,
			want:   []float64{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Standardize(tt.values)
			if len(got) != len(tt.values) {
				t.Fatalf("Standardize() returned %d values for %d inputs", len(got), len(tt.values))
			}
			if tt.want == nil {
				if math.Abs(got[0]+got[1]) > 1e-12 {
					t.Errorf("Standardize() not centered: %v", got)
				}
				if sd := stat.StdDev(got, nil); math.Abs(sd-1) > 1e-12 {
					t.Errorf("Standardize() sd = %v, want 1", sd)
				}
				return
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Standardize()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestStandardizePrecedesSubsetting(t *testing.T) {
	// The design matrix is standardized over the full table; a row subset
	// must keep the full-table scale rather than re-standardizing.
	sites := SyntheticSites(100, 3)
	x, err := Design(sites, 3)
	if err != nil {
		t.Fatalf("Design: %v", err)
	}
	sub := SubsetRows(x, []int{0, 5, 10, 15, 20})
	r, c := sub.Dims()
	if r != 5 || c != 3 {
		t.Fatalf("SubsetRows: got %dx%d, want 5x3", r, c)
	}
	for i, src := range []int{0, 5, 10, 15, 20} {
		for j := 0; j < c; j++ {
			if sub.At(i, j) != x.At(src, j) {
				t.Errorf("SubsetRows: row %d col %d = %v, want %v", i, j, sub.At(i, j), x.At(src, j))
			}
		}
	}
}

func TestCanonicalize(t *testing.T) {
	tbl := &Table{
		IDs:     []string{"a", "b"},
		Names:   []string{"elev", "temp", "extra", "precip"},
		Columns: [][]float64{{1, 2}, {3, 4}, {9, 9}, {5, 6}},
	}
	if err := Canonicalize(tbl, []string{"temp", "precip", "elev"}); err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if !reflect.DeepEqual(tbl.Names, []string{"temp", "precip", "elev"}) {
		t.Errorf("Canonicalize names = %v", tbl.Names)
	}
	if !reflect.DeepEqual(tbl.Columns, [][]float64{{3, 4}, {5, 6}, {1, 2}}) {
		t.Errorf("Canonicalize columns = %v", tbl.Columns)
	}

	if err := Canonicalize(tbl, []string{"temp", "slope"}); !errors.Is(err, ErrConfig) {
		t.Errorf("Canonicalize with missing covariate: err = %v, want ErrConfig", err)
	}
}

func TestReadCSV(t *testing.T) {
	in := "id,site,effort,wind\nv1,s1,2.5,10\nv2,s1,3.0,4\nv3,s2,1.5,0\n"
	tbl, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if tbl.Len() != 3 {
		t.Fatalf("ReadCSV rows = %d, want 3", tbl.Len())
	}
	if !reflect.DeepEqual(tbl.Parents, []string{"s1", "s1", "s2"}) {
		t.Errorf("ReadCSV parents = %v", tbl.Parents)
	}
	if !reflect.DeepEqual(tbl.Names, []string{"effort", "wind"}) {
		t.Errorf("ReadCSV names = %v", tbl.Names)
	}
	if got := tbl.Column("effort"); !reflect.DeepEqual(got, []float64{2.5, 3.0, 1.5}) {
		t.Errorf("ReadCSV effort = %v", got)
	}

	if _, err := ReadCSV(strings.NewReader("name,temp\nx,1\n")); !errors.Is(err, ErrConfig) {
		t.Errorf("ReadCSV without id header: err = %v, want ErrConfig", err)
	}
	if _, err := ReadCSV(strings.NewReader("id,temp\nx,notanumber\n")); err == nil {
		t.Errorf("ReadCSV with bad numeric value: err = nil, want parse error")
	}
}

func TestSyntheticDeterminism(t *testing.T) {
	a := SyntheticSites(50, 42)
	b := SyntheticSites(50, 42)
	if !reflect.DeepEqual(a, b) {
		t.Error("SyntheticSites: same seed produced different tables")
	}
	c := SyntheticSites(50, 43)
	if reflect.DeepEqual(a, c) {
		t.Error("SyntheticSites: different seeds produced identical tables")
	}

	va := SyntheticVisits(a, 4, 42)
	vb := SyntheticVisits(b, 4, 42)
	if !reflect.DeepEqual(va, vb) {
		t.Error("SyntheticVisits: same seed produced different tables")
	}
	if va.Len() != 200 {
		t.Errorf("SyntheticVisits rows = %d, want 200", va.Len())
	}
	if va.Parents[0] != a.IDs[0] || va.Parents[len(va.Parents)-1] != a.IDs[len(a.IDs)-1] {
		t.Error("SyntheticVisits: parent ordering does not follow site ordering")
	}
}
