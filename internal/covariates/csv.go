package covariates

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// ReadCSV parses a covariate table from CSV. The first header column must be
// "id"; a column named "site" (any position) is treated as the parent-site
// foreign key; all other columns are numeric covariates in file order.
//
// Loading of raw geospatial source tables is out of scope; this reader only
// accepts already-flattened numeric tables.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading covariate header: %w", err)
	}
	if len(header) < 2 || header[0] != "id" {
		return nil, fmt.Errorf("%w: covariate CSV must start with an %q column", ErrConfig, "id")
	}

	siteCol := -1
	var names []string
	colIdx := make([]int, 0, len(header)-1) // CSV index per covariate column
	for i, h := range header[1:] {
		if h == "site" {
			siteCol = i + 1
			continue
		}
		names = append(names, h)
		colIdx = append(colIdx, i+1)
	}

	t := &Table{Names: names, Columns: make([][]float64, len(names))}
	if siteCol >= 0 {
		t.Parents = []string{}
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading covariate row: %w", err)
		}
		t.IDs = append(t.IDs, rec[0])
		if siteCol >= 0 {
			t.Parents = append(t.Parents, rec[siteCol])
		}
		for j, ci := range colIdx {
			v, err := strconv.ParseFloat(rec[ci], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %q: %w", line, names[j], err)
			}
			t.Columns[j] = append(t.Columns[j], v)
		}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Canonicalize reorders the table's covariate columns to the given canonical
// ordering. Every name in order must be present; extra columns are dropped.
func Canonicalize(t *Table, order []string) error {
	cols := make([][]float64, 0, len(order))
	for _, name := range order {
		col := t.Column(name)
		if col == nil {
			return fmt.Errorf("%w: covariate %q missing from table", ErrConfig, name)
		}
		cols = append(cols, col)
	}
	t.Names = append([]string(nil), order...)
	t.Columns = cols
	return nil
}
