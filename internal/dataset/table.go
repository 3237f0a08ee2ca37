package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ColumnKind says how a column's cells were interpreted.
type ColumnKind int

const (
	// KindNumeric marks a measure column. Missing cells are NaN.
	KindNumeric ColumnKind = iota
	// KindLabel marks a categorical column. Missing cells are "".
	KindLabel
)

// String returns the kind's wire name.
func (k ColumnKind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindLabel:
		return "label"
	default:
		return fmt.Sprintf("ColumnKind(%d)", int(k))
	}
}

// Column is one typed column of a loaded table. Exactly one of Numeric and
// Labels is populated, matching Kind.
type Column struct {
	Name    string
	Kind    ColumnKind
	Numeric []float64
	Labels  []string
}

// SampleValues returns up to max distinct non-missing values as strings, in
// row order. Used by the dataset inspection endpoint.
func (c *Column) SampleValues(max int) []string {
	if max <= 0 {
		return nil
	}
	seen := make(map[string]bool, max)
	var out []string
	n := len(c.Numeric)
	if c.Kind == KindLabel {
		n = len(c.Labels)
	}
	for i := 0; i < n && len(out) < max; i++ {
		var v string
		switch c.Kind {
		case KindNumeric:
			if math.IsNaN(c.Numeric[i]) {
				continue
			}
			v = strconv.FormatFloat(c.Numeric[i], 'g', -1, 64)
		case KindLabel:
			if c.Labels[i] == "" {
				continue
			}
			v = c.Labels[i]
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// missingCount returns how many cells of the column are missing.
func (c *Column) missingCount() int {
	n := 0
	switch c.Kind {
	case KindNumeric:
		for _, v := range c.Numeric {
			if math.IsNaN(v) {
				n++
			}
		}
	case KindLabel:
		for _, v := range c.Labels {
			if v == "" {
				n++
			}
		}
	}
	return n
}

// MissingCount returns how many cells of the column are missing.
func (c *Column) MissingCount() int { return c.missingCount() }

// Table is a decoded tabular dataset. Columns keep the file's order.
type Table struct {
	Name    string
	Columns []Column
	Rows    int
}

// Column returns the named column and whether it exists.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// ColumnNames returns all column names in file order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i := range t.Columns {
		names[i] = t.Columns[i].Name
	}
	return names
}

// cost approximates the table's in-memory size in bytes, for cache
// accounting.
func (t *Table) cost() int64 {
	var b int64
	for i := range t.Columns {
		c := &t.Columns[i]
		b += int64(len(c.Name))
		b += 8 * int64(len(c.Numeric))
		for _, s := range c.Labels {
			b += int64(len(s)) + 16
		}
	}
	if b == 0 {
		b = 1
	}
	return b
}

// tableFromRows builds a typed table from raw string cells, header first.
// A column is numeric when every non-missing cell parses as a number,
// otherwise it stays a label column. Short rows are padded with missing
// cells; rows wider than the header are an error.
func tableFromRows(rows [][]string) (*Table, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no header row")
	}

	header := rows[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}
	names := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for j, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			return nil, fmt.Errorf("empty column name at position %d", j+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate column name %q", name)
		}
		seen[name] = true
		names[j] = name
	}

	data := rows[1:]
	for i, row := range data {
		if len(row) > len(names) {
			return nil, fmt.Errorf("row %d has %d cells, want at most %d", i+2, len(row), len(names))
		}
	}

	t := &Table{
		Columns: make([]Column, len(names)),
		Rows:    len(data),
	}
	for j, name := range names {
		cells := make([]string, len(data))
		for i, row := range data {
			if j < len(row) {
				cells[i] = strings.TrimSpace(row[j])
			}
		}
		t.Columns[j] = inferColumn(name, cells)
	}
	return t, nil
}

// inferColumn types one column from its raw cells.
func inferColumn(name string, cells []string) Column {
	numeric := true
	for _, cell := range cells {
		if isMissingCell(cell) {
			continue
		}
		if _, ok := parseNumber(cell); !ok {
			numeric = false
			break
		}
	}

	if numeric {
		vals := make([]float64, len(cells))
		for i, cell := range cells {
			if isMissingCell(cell) {
				vals[i] = math.NaN()
				continue
			}
			v, _ := parseNumber(cell)
			vals[i] = v
		}
		return Column{Name: name, Kind: KindNumeric, Numeric: vals}
	}

	labels := make([]string, len(cells))
	for i, cell := range cells {
		if isMissingCell(cell) {
			continue
		}
		labels[i] = cell
	}
	return Column{Name: name, Kind: KindLabel, Labels: labels}
}

// parseNumber parses a cell as a float, tolerating thousands separators.
func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// isMissingCell reports whether a trimmed cell counts as a missing value.
func isMissingCell(s string) bool {
	switch strings.ToLower(s) {
	case "", "na", "n/a", "nan", "null":
		return true
	}
	return false
}
