package services

import (
	"math"

	"surveykit/internal/estimator"
	"surveykit/internal/store"
	api "surveykit/pkg/contracts/api/v1"
)

// optional converts an in-process numeric value to its response form. NaN and
// Inf mark undefined values and render as JSON null.
func optional(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func toResultRow(r estimator.Result) api.ResultRow {
	row := api.ResultRow{
		Key: api.GroupKey{
			Names:  append([]string(nil), r.Key.Names...),
			Values: append([]string(nil), r.Key.Values...),
		},
		Domain:          r.Key.String(),
		Estimate:        optional(r.Estimate),
		SE:              optional(r.SE),
		CILow:           optional(r.CILow),
		CIHigh:          optional(r.CIHigh),
		Deff:            optional(r.Deff),
		N:               r.N,
		Method:          r.Method.String(),
		RequestedMethod: r.RequestedMethod.String(),
		VarAmong:        optional(r.VarAmong),
		VarWithin:       optional(r.VarWithin),
	}
	for _, d := range r.Diagnostics {
		row.Diagnostics = append(row.Diagnostics, api.Diagnostic{
			Kind:    d.Kind.String(),
			Code:    d.Code,
			Message: d.Message,
			Count:   d.Count,
		})
	}
	return row
}

func toResultRows(rows []estimator.Result) []api.ResultRow {
	out := make([]api.ResultRow, len(rows))
	for i, r := range rows {
		out[i] = toResultRow(r)
	}
	return out
}

func toRunSummary(r store.Run) api.RunSummary {
	return api.RunSummary{
		ID:              r.ID,
		CreatedAt:       r.CreatedAt,
		Dataset:         r.Dataset,
		Statistic:       r.Statistic,
		Method:          r.Method,
		RequestedMethod: r.RequestedMethod,
		Rows:            r.Rows,
		Status:          r.Status,
		Error:           r.Error,
	}
}

// tableMethod summarizes the variance methods of a result table for the run
// record. Domains may fall back individually, so a table can be mixed.
func tableMethod(rows []estimator.Result) string {
	if len(rows) == 0 {
		return ""
	}
	m := rows[0].Method
	for _, r := range rows[1:] {
		if r.Method != m {
			return "mixed"
		}
	}
	return m.String()
}

// tableRequestedMethod is tableMethod over the requested methods, used when
// a derived table has no single request of its own.
func tableRequestedMethod(rows []estimator.Result) string {
	if len(rows) == 0 {
		return ""
	}
	m := rows[0].RequestedMethod
	for _, r := range rows[1:] {
		if r.RequestedMethod != m {
			return "mixed"
		}
	}
	return m.String()
}

// countFallbacks counts rows whose executed method differs from the one
// requested.
func countFallbacks(rows []estimator.Result) int {
	n := 0
	for _, r := range rows {
		if r.Method != r.RequestedMethod {
			n++
		}
	}
	return n
}
