package exporter

import (
	"strings"

	"surveykit/internal/estimator"
)

// fixedColumns is the column order after the group-key columns.
var fixedColumns = []string{
	"estimate",
	"se",
	"ci_low",
	"ci_high",
	"deff",
	"n",
	"method",
	"requested_method",
	"diagnostics",
}

// decompositionColumns appear between requested_method and diagnostics when
// any row carries a variance decomposition.
var decompositionColumns = []string{"var_among", "var_within"}

// Table is a result table flattened for export: a header row plus string
// records ready for CSV or a workbook sheet.
type Table struct {
	Headers []string
	Records [][]string
}

// BuildTable flattens estimation results into export form. Group-key columns
// come first in caller-declared order, then the fixed statistic columns. The
// decomposition columns are included only when at least one row defines them.
func BuildTable(results []estimator.Result) Table {
	keyNames := keyColumns(results)
	withDecomp := hasDecomposition(results)

	headers := make([]string, 0, len(keyNames)+len(fixedColumns)+2)
	headers = append(headers, keyNames...)
	headers = append(headers, fixedColumns[:len(fixedColumns)-1]...)
	if withDecomp {
		headers = append(headers, decompositionColumns...)
	}
	headers = append(headers, "diagnostics")

	records := make([][]string, 0, len(results))
	for _, r := range results {
		rec := make([]string, 0, len(headers))
		rec = append(rec, keyValues(r.Key, keyNames)...)
		rec = append(rec,
			formatFloat(r.Estimate),
			formatFloat(r.SE),
			formatFloat(r.CILow),
			formatFloat(r.CIHigh),
			formatFloat(r.Deff),
			formatInt(int64(r.N)),
			r.Method.String(),
			r.RequestedMethod.String(),
		)
		if withDecomp {
			rec = append(rec, formatFloat(r.VarAmong), formatFloat(r.VarWithin))
		}
		rec = append(rec, formatDiagnostics(r.Diagnostics))
		records = append(records, rec)
	}

	return Table{Headers: headers, Records: records}
}

// keyColumns returns the grouping column names of the table. All rows of one
// run share the same grouping, so the first keyed row decides. An ungrouped
// table gets a single "domain" column so the overall row still labels itself.
func keyColumns(results []estimator.Result) []string {
	for _, r := range results {
		if len(r.Key.Names) > 0 {
			return append([]string(nil), r.Key.Names...)
		}
	}
	return []string{"domain"}
}

func keyValues(key estimator.GroupKey, keyNames []string) []string {
	if len(key.Values) == 0 {
		// Overall row: label the first key column, leave the rest blank.
		vals := make([]string, len(keyNames))
		vals[0] = key.String()
		return vals
	}
	vals := make([]string, len(keyNames))
	for i := range vals {
		if i < len(key.Values) {
			vals[i] = key.Values[i]
		}
	}
	return vals
}

func hasDecomposition(results []estimator.Result) bool {
	for _, r := range results {
		if !isMissing(r.VarAmong) || !isMissing(r.VarWithin) {
			return true
		}
	}
	return false
}

// formatDiagnostics joins diagnostic codes into a single cell, most severe
// conditions embedded in the code itself ("method_fallback", "lonely_psu").
func formatDiagnostics(diags []estimator.Diagnostic) string {
	if len(diags) == 0 {
		return ""
	}
	codes := make([]string, len(diags))
	for i, d := range diags {
		codes[i] = d.Code
	}
	return strings.Join(codes, ";")
}
