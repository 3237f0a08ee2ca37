package design

import (
	"fmt"
	"math"
	"sort"
)

// Frame carries the raw inputs a Design is built from. All slices must have
// the same length as Weights; optional fields may be left nil.
type Frame struct {
	// Weights holds the sampling weight of each unit. Required, every value
	// finite and strictly positive.
	Weights []float64

	// Strata holds the stratum label of each unit. Optional; when nil the
	// whole sample forms a single stratum.
	Strata []string

	// Clusters holds the primary-sampling-unit label of each unit, scoped to
	// its stratum. Optional; when nil every unit is its own PSU.
	Clusters []string

	// FPC maps a stratum label to its sampling fraction n_h/N_h in [0, 1).
	// Optional; strata without an entry get no finite population correction.
	FPC map[string]float64

	// Numeric holds measure columns by name. NaN marks a missing value.
	Numeric map[string][]float64

	// Labels holds categorical columns by name, used for domain grouping.
	// The empty string marks a missing value and forms its own category.
	Labels map[string][]string

	// Replicates optionally attaches externally built replicate weights.
	Replicates *ReplicateScheme
}

// Design is the validated, immutable form of a Frame. Accessors that return
// slices return internal storage; callers must not modify the returned data.
type Design struct {
	n           int
	weights     []float64
	strata      []string
	clusters    []string
	fpc         map[string]float64
	numeric     map[string][]float64
	labels      map[string][]string
	replicates  *ReplicateScheme
	totalWeight float64
}

// New validates a Frame and builds a Design from it. Every slice in the
// frame is copied, so later changes to the frame do not affect the Design.
func New(f Frame) (*Design, error) {
	n := len(f.Weights)
	if n == 0 {
		return nil, fmt.Errorf("design: frame has no units")
	}

	total := 0.0
	for i, w := range f.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w <= 0 {
			return nil, fmt.Errorf("design: weight at row %d is %v, want finite and > 0", i, w)
		}
		total += w
	}

	if f.Strata != nil && len(f.Strata) != n {
		return nil, fmt.Errorf("design: strata length %d does not match %d units", len(f.Strata), n)
	}
	if f.Clusters != nil && len(f.Clusters) != n {
		return nil, fmt.Errorf("design: clusters length %d does not match %d units", len(f.Clusters), n)
	}
	for stratum, frac := range f.FPC {
		if math.IsNaN(frac) || frac < 0 || frac >= 1 {
			return nil, fmt.Errorf("design: fpc for stratum %q is %v, want a sampling fraction in [0, 1)", stratum, frac)
		}
	}

	seen := make(map[string]bool, len(f.Numeric)+len(f.Labels))
	for name, col := range f.Numeric {
		if name == "" {
			return nil, fmt.Errorf("design: numeric column with empty name")
		}
		if len(col) != n {
			return nil, fmt.Errorf("design: numeric column %q has %d values, want %d", name, len(col), n)
		}
		seen[name] = true
	}
	for name, col := range f.Labels {
		if name == "" {
			return nil, fmt.Errorf("design: label column with empty name")
		}
		if seen[name] {
			return nil, fmt.Errorf("design: column %q defined as both numeric and label", name)
		}
		if len(col) != n {
			return nil, fmt.Errorf("design: label column %q has %d values, want %d", name, len(col), n)
		}
	}

	if f.Replicates != nil {
		if err := f.Replicates.validate(n); err != nil {
			return nil, err
		}
	}

	d := &Design{
		n:           n,
		weights:     append([]float64(nil), f.Weights...),
		fpc:         copyFPC(f.FPC),
		numeric:     make(map[string][]float64, len(f.Numeric)),
		labels:      make(map[string][]string, len(f.Labels)),
		totalWeight: total,
	}
	if f.Strata != nil {
		d.strata = append([]string(nil), f.Strata...)
	}
	if f.Clusters != nil {
		d.clusters = append([]string(nil), f.Clusters...)
	}
	for name, col := range f.Numeric {
		d.numeric[name] = append([]float64(nil), col...)
	}
	for name, col := range f.Labels {
		d.labels[name] = append([]string(nil), col...)
	}
	if f.Replicates != nil {
		d.replicates = f.Replicates.clone()
	}
	return d, nil
}

// Len returns the number of units in the design.
func (d *Design) Len() int { return d.n }

// Weight returns the sampling weight of unit i.
func (d *Design) Weight(i int) float64 { return d.weights[i] }

// Weights returns the full weight vector. Read-only.
func (d *Design) Weights() []float64 { return d.weights }

// TotalWeight returns the sum of all sampling weights (the estimated
// population size N-hat).
func (d *Design) TotalWeight() float64 { return d.totalWeight }

// Stratum returns the stratum label of unit i, or the empty string when the
// design has no explicit strata.
func (d *Design) Stratum(i int) string {
	if d.strata == nil {
		return ""
	}
	return d.strata[i]
}

// Cluster returns the PSU label of unit i, or the empty string when the
// design has no explicit clusters.
func (d *Design) Cluster(i int) string {
	if d.clusters == nil {
		return ""
	}
	return d.clusters[i]
}

// HasStrata reports whether the design carries explicit stratum labels.
func (d *Design) HasStrata() bool { return d.strata != nil }

// HasClusters reports whether the design carries explicit PSU labels.
func (d *Design) HasClusters() bool { return d.clusters != nil }

// StratumFraction returns the sampling fraction attached to a stratum and
// whether one was supplied.
func (d *Design) StratumFraction(stratum string) (float64, bool) {
	frac, ok := d.fpc[stratum]
	return frac, ok
}

// Numeric returns the named measure column and whether it exists. Read-only.
func (d *Design) Numeric(name string) ([]float64, bool) {
	col, ok := d.numeric[name]
	return col, ok
}

// Labels returns the named label column and whether it exists. Read-only.
func (d *Design) Labels(name string) ([]string, bool) {
	col, ok := d.labels[name]
	return col, ok
}

// HasColumn reports whether any column (numeric or label) has this name.
func (d *Design) HasColumn(name string) bool {
	if _, ok := d.numeric[name]; ok {
		return true
	}
	_, ok := d.labels[name]
	return ok
}

// ColumnNames returns all column names in sorted order, for error messages.
func (d *Design) ColumnNames() []string {
	names := make([]string, 0, len(d.numeric)+len(d.labels))
	for name := range d.numeric {
		names = append(names, name)
	}
	for name := range d.labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replicates returns the attached replicate scheme, or nil.
func (d *Design) Replicates() *ReplicateScheme { return d.replicates }

// WithNumeric returns a new Design carrying one additional numeric column.
// The receiver is unchanged. Reusing an existing column name is an error,
// never a silent overwrite.
func (d *Design) WithNumeric(name string, values []float64) (*Design, error) {
	if name == "" {
		return nil, fmt.Errorf("design: numeric column with empty name")
	}
	if d.HasColumn(name) {
		return nil, fmt.Errorf("design: column %q already exists", name)
	}
	if len(values) != d.n {
		return nil, fmt.Errorf("design: numeric column %q has %d values, want %d", name, len(values), d.n)
	}

	out := *d
	out.numeric = make(map[string][]float64, len(d.numeric)+1)
	for k, v := range d.numeric {
		out.numeric[k] = v
	}
	out.numeric[name] = append([]float64(nil), values...)
	return &out, nil
}

// Subset returns a new Design restricted to the given rows, in the given
// order. Replicate weights are subset row-wise. Panics if an index is out of
// range, like slice indexing.
func (d *Design) Subset(idx []int) *Design {
	out := &Design{
		n:       len(idx),
		weights: make([]float64, len(idx)),
		fpc:     d.fpc,
		numeric: make(map[string][]float64, len(d.numeric)),
		labels:  make(map[string][]string, len(d.labels)),
	}
	for j, i := range idx {
		out.weights[j] = d.weights[i]
		out.totalWeight += d.weights[i]
	}
	if d.strata != nil {
		out.strata = make([]string, len(idx))
		for j, i := range idx {
			out.strata[j] = d.strata[i]
		}
	}
	if d.clusters != nil {
		out.clusters = make([]string, len(idx))
		for j, i := range idx {
			out.clusters[j] = d.clusters[i]
		}
	}
	for name, col := range d.numeric {
		sub := make([]float64, len(idx))
		for j, i := range idx {
			sub[j] = col[i]
		}
		out.numeric[name] = sub
	}
	for name, col := range d.labels {
		sub := make([]string, len(idx))
		for j, i := range idx {
			sub[j] = col[i]
		}
		out.labels[name] = sub
	}
	if d.replicates != nil {
		out.replicates = d.replicates.subset(idx)
	}
	return out
}

func copyFPC(src map[string]float64) map[string]float64 {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
