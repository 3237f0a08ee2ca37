package exporter

import (
	"bytes"
	"encoding/csv"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"surveykit/internal/estimator"
	"surveykit/internal/store"
)

func sampleResults() []estimator.Result {
	nan := math.NaN()
	return []estimator.Result{
		{
			Key:             estimator.GroupKey{Names: []string{"zone"}, Values: []string{"north"}},
			Estimate:        12.5,
			SE:              1.25,
			CILow:           10.05,
			CIHigh:          14.95,
			N:               42,
			Deff:            1.8,
			Method:          estimator.Linearization,
			RequestedMethod: estimator.Linearization,
			VarAmong:        nan,
			VarWithin:       nan,
		},
		{
			Key:             estimator.GroupKey{Names: []string{"zone"}, Values: []string{"south"}},
			Estimate:        8.1,
			SE:              nan,
			CILow:           nan,
			CIHigh:          nan,
			N:               1,
			Deff:            nan,
			Method:          estimator.Jackknife,
			RequestedMethod: estimator.Bootstrap,
			VarAmong:        nan,
			VarWithin:       nan,
			Diagnostics: []estimator.Diagnostic{
				{Kind: estimator.MethodFallback, Code: estimator.CodeMethodFallback, Message: "fell back", Count: 1},
				{Kind: estimator.DataQuality, Code: estimator.CodeSmallDomain, Message: "small", Count: 1},
			},
		},
	}
}

func TestBuildTable(t *testing.T) {
	table := BuildTable(sampleResults())

	assert.Equal(t, []string{
		"zone", "estimate", "se", "ci_low", "ci_high", "deff", "n",
		"method", "requested_method", "diagnostics",
	}, table.Headers)

	require.Len(t, table.Records, 2)
	assert.Equal(t, "north", table.Records[0][0])
	assert.Equal(t, "12.5", table.Records[0][1])
	assert.Equal(t, "linearization", table.Records[0][7])
	assert.Equal(t, "", table.Records[0][9])

	// Undefined cells stay empty, never zero
	assert.Equal(t, "", table.Records[1][2])
	assert.Equal(t, "jackknife", table.Records[1][7])
	assert.Equal(t, "bootstrap", table.Records[1][8])
	assert.Equal(t, "method_fallback;small_domain", table.Records[1][9])
}

func TestBuildTable_Decomposition(t *testing.T) {
	results := sampleResults()
	results[0].VarAmong = 3.2
	results[0].VarWithin = 0.9

	table := BuildTable(results)

	assert.Contains(t, table.Headers, "var_among")
	assert.Contains(t, table.Headers, "var_within")
	// Decomposition columns sit between requested_method and diagnostics
	assert.Equal(t, "diagnostics", table.Headers[len(table.Headers)-1])
	assert.Equal(t, "3.2", table.Records[0][9])
	assert.Equal(t, "0.9", table.Records[0][10])
	assert.Equal(t, "", table.Records[1][9])
}

func TestBuildTable_MultiKeyOrder(t *testing.T) {
	results := []estimator.Result{
		{
			Key:             estimator.GroupKey{Names: []string{"zone", "month"}, Values: []string{"north", "5"}},
			Estimate:        1,
			SE:              0.1,
			CILow:           0.8,
			CIHigh:          1.2,
			N:               10,
			Deff:            math.NaN(),
			Method:          estimator.Bootstrap,
			RequestedMethod: estimator.Bootstrap,
			VarAmong:        math.NaN(),
			VarWithin:       math.NaN(),
		},
	}

	table := BuildTable(results)
	assert.Equal(t, "zone", table.Headers[0])
	assert.Equal(t, "month", table.Headers[1])
	assert.Equal(t, "estimate", table.Headers[2])
	assert.Equal(t, []string{"north", "5"}, table.Records[0][:2])
}

func TestBuildTable_Ungrouped(t *testing.T) {
	results := []estimator.Result{
		{
			Estimate:        5.5,
			SE:              0.5,
			CILow:           4.5,
			CIHigh:          6.5,
			N:               100,
			Deff:            1.1,
			Method:          estimator.Linearization,
			RequestedMethod: estimator.Linearization,
			VarAmong:        math.NaN(),
			VarWithin:       math.NaN(),
		},
	}

	table := BuildTable(results)
	assert.Equal(t, "domain", table.Headers[0])
	assert.Equal(t, "(overall)", table.Records[0][0])
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, BuildTable(sampleResults()), CSVOptions{})
	require.NoError(t, err)

	reader := csv.NewReader(&buf)
	rows, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "zone", rows[0][0])
	assert.Equal(t, "north", rows[1][0])
}

func TestWriteCSV_BOM(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, BuildTable(sampleResults()), CSVOptions{BOMPrefix: true})
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte{0xEF, 0xBB, 0xBF}))
}

func TestStreamWriter(t *testing.T) {
	var buf bytes.Buffer
	sw, err := NewStreamWriter(&buf, []string{"a", "b"}, CSVOptions{})
	require.NoError(t, err)

	require.NoError(t, sw.WriteRecord([]string{"1", "2"}))
	require.NoError(t, sw.WriteRecord([]string{"3", "4"}))
	require.NoError(t, sw.Flush())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, "a,b", strings.TrimSpace(lines[0]))
}

func TestWriteXLSX(t *testing.T) {
	run := store.Run{
		ID:              "run-1",
		CreatedAt:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Dataset:         "survey.csv",
		Statistic:       "mean(catch_kg)",
		RequestedMethod: "linearization",
		Method:          "linearization",
		Rows:            2,
		Status:          store.StatusCompleted,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, run, sampleResults()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"Estimates", "Run"}, f.GetSheetList())

	header, err := f.GetCellValue("Estimates", "A1")
	require.NoError(t, err)
	assert.Equal(t, "zone", header)

	estimate, err := f.GetCellValue("Estimates", "B2")
	require.NoError(t, err)
	assert.Equal(t, "12.5", estimate)

	// Undefined SE exports as an empty cell
	se, err := f.GetCellValue("Estimates", "C3")
	require.NoError(t, err)
	assert.Equal(t, "", se)

	runID, err := f.GetCellValue("Run", "B1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)
}
