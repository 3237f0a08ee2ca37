package dataset

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveykit/internal/estimator"
)

func tableOf(t *testing.T, rows [][]string) *Table {
	t.Helper()
	table, err := tableFromRows(rows)
	require.NoError(t, err)
	table.Name = "test.csv"
	return table
}

func TestBuildDesign(t *testing.T) {
	table := tableOf(t, [][]string{
		{"weight", "stratum", "boat", "fpc", "catch", "zone"},
		{"2", "1", "b1", "0.5", "6", "north"},
		{"2", "1", "b2", "0.5", "4", "south"},
		{"3", "2", "b3", "", "8", "north"},
		{"3", "2", "b4", "", "0", "south"},
	})

	d, err := BuildDesign(table, DesignSpec{
		WeightColumn:  "weight",
		StratumColumn: "stratum",
		ClusterColumn: "boat",
		FPCColumn:     "fpc",
	})
	require.NoError(t, err)

	assert.Equal(t, 4, d.Len())
	assert.Equal(t, 2.0, d.Weight(0))
	assert.Equal(t, "1", d.Stratum(0))
	assert.Equal(t, "2", d.Stratum(3))
	assert.Equal(t, "b3", d.Cluster(2))

	frac, ok := d.StratumFraction("1")
	require.True(t, ok)
	assert.Equal(t, 0.5, frac)
	_, ok = d.StratumFraction("2")
	assert.False(t, ok)

	// Design-role columns stay available as ordinary columns.
	assert.True(t, d.HasColumn("weight"))
	assert.True(t, d.HasColumn("stratum"))
	catch, ok := d.Numeric("catch")
	require.True(t, ok)
	assert.Equal(t, []float64{6, 4, 8, 0}, catch)
	zone, ok := d.Labels("zone")
	require.True(t, ok)
	assert.Equal(t, []string{"north", "south", "north", "south"}, zone)
}

func TestBuildDesignDefaultWeights(t *testing.T) {
	table := tableOf(t, [][]string{
		{"catch"},
		{"6"},
		{"4"},
		{"8"},
	})

	d, err := BuildDesign(table, DesignSpec{})
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, 3.0, d.TotalWeight())
	assert.Equal(t, 1.0, d.Weight(2))
	assert.False(t, d.HasStrata())
	assert.False(t, d.HasClusters())
}

func TestBuildDesignLabelStratumColumn(t *testing.T) {
	table := tableOf(t, [][]string{
		{"stratum", "catch"},
		{"shore", "6"},
		{"boat", "4"},
	})

	d, err := BuildDesign(table, DesignSpec{StratumColumn: "stratum"})
	require.NoError(t, err)
	assert.Equal(t, "shore", d.Stratum(0))
	assert.Equal(t, "boat", d.Stratum(1))
}

func TestBuildDesignConflictingFPC(t *testing.T) {
	table := tableOf(t, [][]string{
		{"stratum", "fpc", "catch"},
		{"a", "0.5", "6"},
		{"a", "0.25", "4"},
	})

	_, err := BuildDesign(table, DesignSpec{StratumColumn: "stratum", FPCColumn: "fpc"})
	require.Error(t, err)
	var cfg *estimator.ConfigError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, "design.fpc_column", cfg.Field)
	assert.Contains(t, cfg.Message, "conflicting")
}

func TestBuildDesignConfigErrors(t *testing.T) {
	table := tableOf(t, [][]string{
		{"weight", "zone", "catch"},
		{"2", "north", "6"},
	})

	tests := []struct {
		name      string
		spec      DesignSpec
		wantField string
	}{
		{
			name:      "unknown weight column",
			spec:      DesignSpec{WeightColumn: "wt"},
			wantField: "design.weight_column",
		},
		{
			name:      "label weight column",
			spec:      DesignSpec{WeightColumn: "zone"},
			wantField: "design.weight_column",
		},
		{
			name:      "unknown stratum column",
			spec:      DesignSpec{StratumColumn: "region"},
			wantField: "design.stratum_column",
		},
		{
			name:      "unknown cluster column",
			spec:      DesignSpec{ClusterColumn: "boat"},
			wantField: "design.cluster_column",
		},
		{
			name:      "label fpc column",
			spec:      DesignSpec{FPCColumn: "zone"},
			wantField: "design.fpc_column",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildDesign(table, tt.spec)
			require.Error(t, err)
			var cfg *estimator.ConfigError
			require.ErrorAs(t, err, &cfg)
			assert.Equal(t, tt.wantField, cfg.Field)
		})
	}
}

func TestBuildDesignUnknownColumnListsAvailable(t *testing.T) {
	table := tableOf(t, [][]string{
		{"weight", "catch"},
		{"2", "6"},
	})

	_, err := BuildDesign(table, DesignSpec{WeightColumn: "wt"})
	var cfg *estimator.ConfigError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, []string{"weight", "catch"}, cfg.Available)
}

func TestBuildDesignInvalidWeightValue(t *testing.T) {
	table := tableOf(t, [][]string{
		{"weight", "catch"},
		{"0", "6"},
	})

	_, err := BuildDesign(table, DesignSpec{WeightColumn: "weight"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weight")
}

func TestBuildDesignMissingWeightValue(t *testing.T) {
	table := tableOf(t, [][]string{
		{"weight", "catch"},
		{"2", "6"},
		{"", "4"},
	})

	_, err := BuildDesign(table, DesignSpec{WeightColumn: "weight"})
	require.Error(t, err)
}

func TestBuildDesignEmptyTable(t *testing.T) {
	table := tableOf(t, [][]string{{"catch"}})
	_, err := BuildDesign(table, DesignSpec{})
	var cfg *estimator.ConfigError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, "design", cfg.Field)
}

func TestBuildDesignNumericStratumMissingValue(t *testing.T) {
	table := tableOf(t, [][]string{
		{"stratum", "catch"},
		{"1", "6"},
		{"", "4"},
	})

	d, err := BuildDesign(table, DesignSpec{StratumColumn: "stratum"})
	require.NoError(t, err)
	assert.Equal(t, "1", d.Stratum(0))
	assert.Equal(t, "", d.Stratum(1))

	stratumVals, ok := d.Numeric("stratum")
	require.True(t, ok)
	assert.True(t, math.IsNaN(stratumVals[1]))
}
