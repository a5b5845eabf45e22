package diagnostics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// chainFile is the JSON interchange format for posterior draws: one entry per
// chain, each a draws x parameters matrix.
type chainFile struct {
	Parameters []string      `json:"parameters"`
	Chains     [][][]float64 `json:"chains"`
}

// LoadChains reads posterior chains from disk. A single .json file carries
// all chains; .csv files carry one chain each (header row of parameter names,
// one row per draw) and every file must share the same header.
func LoadChains(paths ...string) (*ChainSet, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no chain files given")
	}
	if strings.EqualFold(filepath.Ext(paths[0]), ".json") {
		if len(paths) != 1 {
			return nil, fmt.Errorf("a JSON chain file carries all chains; got %d files", len(paths))
		}
		return loadChainsJSON(paths[0])
	}
	return loadChainsCSV(paths)
}

func loadChainsJSON(path string) (*ChainSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cf chainFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cs := &ChainSet{Parameters: cf.Parameters}
	p := len(cf.Parameters)
	for i, chain := range cf.Chains {
		m := mat.NewDense(len(chain), p, nil)
		for j, row := range chain {
			if len(row) != p {
				return nil, fmt.Errorf("%s: chain %d draw %d has %d values, want %d", path, i+1, j+1, len(row), p)
			}
			m.SetRow(j, row)
		}
		cs.Chains = append(cs.Chains, m)
	}
	if err := cs.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cs, nil
}

func loadChainsCSV(paths []string) (*ChainSet, error) {
	cs := &ChainSet{}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		records, err := csv.NewReader(f).ReadAll()
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if len(records) < 2 {
			return nil, fmt.Errorf("%s: need a header row and at least one draw", path)
		}

		header := records[0]
		if cs.Parameters == nil {
			cs.Parameters = header
		} else if !equalStrings(cs.Parameters, header) {
			return nil, fmt.Errorf("%s: header %v does not match %v", path, header, cs.Parameters)
		}

		m := mat.NewDense(len(records)-1, len(header), nil)
		for j, rec := range records[1:] {
			if len(rec) != len(header) {
				return nil, fmt.Errorf("%s: row %d has %d values, want %d", path, j+2, len(rec), len(header))
			}
			for k, field := range rec {
				v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
				if err != nil {
					return nil, fmt.Errorf("%s: row %d column %q: %w", path, j+2, header[k], err)
				}
				m.Set(j, k, v)
			}
		}
		cs.Chains = append(cs.Chains, m)
	}
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	return cs, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
