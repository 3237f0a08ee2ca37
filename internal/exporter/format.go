package exporter

import (
	"math"
	"strconv"
)

// formatFloat renders a numeric cell. Undefined values (NaN, Inf) render as
// an empty cell, never as a fabricated number.
func formatFloat(f float64) string {
	if isMissing(f) {
		return ""
	}
	return strconv.FormatFloat(f, 'g', 10, 64)
}

func formatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}

func isMissing(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}
