package estimator

import (
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"surveykit/internal/design"
)

// Decomposition splits the sampling variance of a per-unit total into the
// part driven by differences among primary units and the part driven by
// repeated measurement within them:
//
//	total = ((1-n/N)/n)*s2_among + (1/(2N))*s2_within
//
// where n primary units were sampled out of N, s2_among is the variance of
// primary-unit totals, and s2_within is the average sample variance of
// repeated measurements inside a unit. The split tells a planner whether to
// buy more units or more measurements per unit.
type Decomposition struct {
	// Total is the sum of the components below. NaN when neither component
	// could be computed.
	Total float64
	// Among is the among-unit component ((1-n/N)/n)*s2_among.
	Among float64
	// Within is the within-unit component (1/(2N))*s2_within.
	Within float64
	// AmongVariance is s2_among, the raw variance of primary-unit totals.
	AmongVariance float64
	// WithinVariance is s2_within, averaged over units with repeated
	// measurements.
	WithinVariance float64
	// SampledUnits is n, the number of primary units with usable data.
	SampledUnits int
	// PopulationUnits is N as supplied by the caller; zero means unknown.
	PopulationUnits float64
	// Diagnostics reports skipped measurements and uncomputable components.
	Diagnostics []Diagnostic
}

// Decompose splits the variance of the named value column over primary
// units. primaryUnit names a label column identifying the unit each record
// belongs to; empty means the design's cluster labels, or each record on its
// own when the design has none. populationUnits is the total number of
// primary units in the frame; zero means unknown.
//
// Uncomputable components are left NaN and explained by a diagnostic rather
// than failing the call. Only a misconfiguration returns an error.
func Decompose(d *design.Design, valueColumn, primaryUnit string, populationUnits float64) (Decomposition, error) {
	dec := Decomposition{
		Total:           math.NaN(),
		Among:           math.NaN(),
		Within:          math.NaN(),
		AmongVariance:   math.NaN(),
		WithinVariance:  math.NaN(),
		PopulationUnits: populationUnits,
	}

	values, ok := d.Numeric(valueColumn)
	if !ok {
		return dec, &ConfigError{
			Field:     "decompose.value",
			Message:   fmt.Sprintf("%q is not a numeric column of the design", valueColumn),
			Available: d.ColumnNames(),
		}
	}
	if math.IsNaN(populationUnits) || math.IsInf(populationUnits, 0) || populationUnits < 0 {
		return dec, newConfigError("decompose.population_units", "must be a non-negative finite count, got %v", populationUnits)
	}
	// Zero means the population unit count is unknown: the among component
	// loses its finite-population correction and the within component,
	// which needs N, is left missing.
	unknownN := populationUnits == 0
	unitAt, err := primaryUnitColumn(d, primaryUnit)
	if err != nil {
		return dec, err
	}

	type unitAgg struct {
		total float64
		vals  []float64
	}
	idx := make(map[string]int)
	var units []unitAgg
	missing := 0
	for i := 0; i < d.Len(); i++ {
		v := values[i]
		if math.IsNaN(v) {
			missing++
			continue
		}
		id := unitAt(i)
		ui, ok := idx[id]
		if !ok {
			ui = len(units)
			idx[id] = ui
			units = append(units, unitAgg{})
		}
		units[ui].total += v
		units[ui].vals = append(units[ui].vals, v)
	}
	if missing > 0 {
		dec.Diagnostics = append(dec.Diagnostics, Diagnostic{
			Kind:    DataQuality,
			Code:    CodeMissingValues,
			Message: fmt.Sprintf("%d measurement(s) missing, skipped", missing),
			Count:   missing,
		})
	}

	n := len(units)
	dec.SampledUnits = n
	if n == 0 {
		dec.Diagnostics = append(dec.Diagnostics, Diagnostic{
			Kind:    DataQuality,
			Code:    CodeDecomposition,
			Message: "no usable measurements in any primary unit",
		})
		return dec, nil
	}
	// Sampling more primary units than the population declares makes the
	// finite-population correction negative; the among term is meaningless
	// and stays missing.
	overSampled := !unknownN && float64(n) > populationUnits
	if overSampled {
		dec.Diagnostics = append(dec.Diagnostics, Diagnostic{
			Kind:    DataQuality,
			Code:    CodeDecomposition,
			Message: fmt.Sprintf("sampled %d primary units but population declares only %v; among-unit component omitted", n, populationUnits),
			Count:   n,
		})
	}

	if n >= 2 {
		totals := make([]float64, n)
		for i, u := range units {
			totals[i] = u.total
		}
		dec.AmongVariance = stat.Variance(totals, nil)
		switch {
		case overSampled:
			// s2_among stays reported; the corrected component does not.
		case unknownN:
			dec.Among = dec.AmongVariance / float64(n)
		default:
			dec.Among = (1 - float64(n)/populationUnits) / float64(n) * dec.AmongVariance
		}
	} else {
		dec.Diagnostics = append(dec.Diagnostics, Diagnostic{
			Kind:    DataQuality,
			Code:    CodeDecomposition,
			Message: "among-unit component needs at least two primary units",
			Count:   n,
		})
	}

	repeated := 0
	withinSum := 0.0
	for _, u := range units {
		if len(u.vals) < 2 {
			continue
		}
		withinSum += stat.Variance(u.vals, nil)
		repeated++
	}
	switch {
	case repeated == 0:
		dec.Diagnostics = append(dec.Diagnostics, Diagnostic{
			Kind:    DataQuality,
			Code:    CodeDecomposition,
			Message: "within-unit component needs repeated measurements inside a unit",
		})
	case unknownN:
		dec.WithinVariance = withinSum / float64(repeated)
		dec.Diagnostics = append(dec.Diagnostics, Diagnostic{
			Kind:    DataQuality,
			Code:    CodeDecomposition,
			Message: "population unit count unknown; within-unit component omitted",
		})
	default:
		dec.WithinVariance = withinSum / float64(repeated)
		dec.Within = dec.WithinVariance / (2 * populationUnits)
	}

	switch {
	case !math.IsNaN(dec.Among) && !math.IsNaN(dec.Within):
		dec.Total = dec.Among + dec.Within
	case !math.IsNaN(dec.Among):
		dec.Total = dec.Among
	case !math.IsNaN(dec.Within):
		dec.Total = dec.Within
	}
	return dec, nil
}

// primaryUnitColumn resolves how records map to primary units.
func primaryUnitColumn(d *design.Design, primaryUnit string) (func(int) string, error) {
	if primaryUnit != "" {
		labels, ok := d.Labels(primaryUnit)
		if !ok {
			return nil, &ConfigError{
				Field:     "decompose.primary_unit",
				Message:   fmt.Sprintf("%q is not a label column of the design", primaryUnit),
				Available: d.ColumnNames(),
			}
		}
		return func(i int) string { return labels[i] }, nil
	}
	if d.HasClusters() {
		return d.Cluster, nil
	}
	// No unit structure: every record is its own primary unit.
	return func(i int) string { return strconv.Itoa(i) }, nil
}

// applyDecomposition attaches the variance split to an already computed
// domain row. Component failures surface as diagnostics on the row.
func applyDecomposition(res *Result, sub *design.Design, s Statistic, opts *DecomposeOptions) {
	dec, err := Decompose(sub, s.Response, opts.PrimaryUnit, opts.PopulationUnits)
	if err != nil {
		res.addDiagnostic(DataQuality, CodeDecomposition, err.Error(), 0)
		return
	}
	res.VarAmong = dec.Among
	res.VarWithin = dec.Within
	res.Diagnostics = append(res.Diagnostics, dec.Diagnostics...)
}
