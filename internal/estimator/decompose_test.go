package estimator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveykit/internal/design"
)

func decHasCode(dec Decomposition, code string) bool {
	for _, d := range dec.Diagnostics {
		if d.Code == code {
			return true
		}
	}
	return false
}

func TestDecompose(t *testing.T) {
	d := mustDesign(t, design.Frame{
		Weights: []float64{1, 1, 1, 1},
		Labels:  map[string][]string{"day": {"d1", "d1", "d2", "d2"}},
		Numeric: map[string][]float64{"count": {3, 5, 7, 9}},
	})

	dec, err := Decompose(d, "count", "day", 10)
	require.NoError(t, err)

	assert.Equal(t, 2, dec.SampledUnits)
	// Unit totals 8 and 16.
	assert.InDelta(t, 32.0, dec.AmongVariance, 1e-12)
	assert.InDelta(t, 12.8, dec.Among, 1e-12)
	// Within-unit variances 2 and 2.
	assert.InDelta(t, 2.0, dec.WithinVariance, 1e-12)
	assert.InDelta(t, 0.1, dec.Within, 1e-12)
	assert.InDelta(t, 12.9, dec.Total, 1e-12)
	assert.Empty(t, dec.Diagnostics)
}

func TestDecomposeUnknownPopulation(t *testing.T) {
	d := mustDesign(t, design.Frame{
		Weights: []float64{1, 1, 1, 1},
		Labels:  map[string][]string{"day": {"d1", "d1", "d2", "d2"}},
		Numeric: map[string][]float64{"count": {3, 5, 7, 9}},
	})

	dec, err := Decompose(d, "count", "day", 0)
	require.NoError(t, err)

	// Without N the among component loses its correction and the within
	// component cannot be scaled at all.
	assert.InDelta(t, 16.0, dec.Among, 1e-12)
	assert.True(t, math.IsNaN(dec.Within))
	assert.InDelta(t, 2.0, dec.WithinVariance, 1e-12)
	assert.InDelta(t, 16.0, dec.Total, 1e-12)
	assert.True(t, decHasCode(dec, CodeDecomposition))
}

func TestDecomposeSingleUnit(t *testing.T) {
	d := mustDesign(t, design.Frame{
		Weights: []float64{1, 1},
		Labels:  map[string][]string{"day": {"d1", "d1"}},
		Numeric: map[string][]float64{"count": {3, 5}},
	})

	dec, err := Decompose(d, "count", "day", 10)
	require.NoError(t, err)

	assert.Equal(t, 1, dec.SampledUnits)
	assert.True(t, math.IsNaN(dec.Among), "one unit has no among-unit variance")
	assert.InDelta(t, 0.1, dec.Within, 1e-12)
	assert.InDelta(t, 0.1, dec.Total, 1e-12, "total falls back to the computable part")
	assert.True(t, decHasCode(dec, CodeDecomposition))
}

func TestDecomposeMissingMeasurements(t *testing.T) {
	d := mustDesign(t, design.Frame{
		Weights: []float64{1, 1, 1, 1},
		Labels:  map[string][]string{"day": {"d1", "d1", "d2", "d2"}},
		Numeric: map[string][]float64{"count": {3, math.NaN(), 7, 9}},
	})

	dec, err := Decompose(d, "count", "day", 10)
	require.NoError(t, err)

	// Unit totals 3 and 16; only d2 has repeated measurements.
	assert.InDelta(t, 84.5, dec.AmongVariance, 1e-12)
	assert.InDelta(t, 33.8, dec.Among, 1e-12)
	assert.InDelta(t, 0.1, dec.Within, 1e-12)
	assert.True(t, decHasCode(dec, CodeMissingValues))
}

func TestDecomposeDefaultsToClusters(t *testing.T) {
	d := mustDesign(t, design.Frame{
		Weights:  []float64{1, 1, 1, 1},
		Clusters: []string{"c1", "c1", "c2", "c2"},
		Numeric:  map[string][]float64{"count": {3, 5, 7, 9}},
	})

	dec, err := Decompose(d, "count", "", 10)
	require.NoError(t, err)
	assert.InDelta(t, 12.8, dec.Among, 1e-12)
}

func TestDecomposeEveryRecordItsOwnUnit(t *testing.T) {
	d := mustDesign(t, design.Frame{
		Weights: []float64{1, 1, 1, 1},
		Numeric: map[string][]float64{"count": {2, 4, 6, 8}},
	})

	dec, err := Decompose(d, "count", "", 0)
	require.NoError(t, err)

	assert.Equal(t, 4, dec.SampledUnits)
	assert.InDelta(t, 20.0/3.0/4.0, dec.Among, 1e-12)
	assert.True(t, math.IsNaN(dec.Within), "no repeated measurements anywhere")
}

func TestDecomposeMoreUnitsThanPopulation(t *testing.T) {
	d := mustDesign(t, design.Frame{
		Weights: []float64{1, 1, 1, 1},
		Labels:  map[string][]string{"day": {"d1", "d1", "d2", "d2"}},
		Numeric: map[string][]float64{"count": {3, 5, 7, 9}},
	})

	dec, err := Decompose(d, "count", "day", 1)
	require.NoError(t, err)
	assert.True(t, decHasCode(dec, CodeDecomposition))

	// A negative finite-population correction would make the among term
	// negative; it degrades to missing instead. The raw variance of unit
	// totals and the within component stay reported.
	assert.True(t, math.IsNaN(dec.Among))
	assert.InDelta(t, 32.0, dec.AmongVariance, 1e-12)
	assert.InDelta(t, 2.0, dec.WithinVariance, 1e-12)
	assert.InDelta(t, dec.Within, dec.Total, 1e-12, "total falls back to the computable component")
}

func TestDecomposeConfigErrors(t *testing.T) {
	d := mustDesign(t, design.Frame{
		Weights: []float64{1, 1},
		Labels:  map[string][]string{"day": {"d1", "d2"}},
		Numeric: map[string][]float64{"count": {3, 5}},
	})

	tests := []struct {
		name  string
		value string
		unit  string
		popN  float64
		field string
	}{
		{"unknown value column", "nope", "day", 10, "decompose.value"},
		{"unknown unit column", "count", "nope", 10, "decompose.primary_unit"},
		{"negative population", "count", "day", -1, "decompose.population_units"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decompose(d, tt.value, tt.unit, tt.popN)
			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}
