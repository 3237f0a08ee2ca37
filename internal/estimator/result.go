package estimator

import (
	"math"
	"strconv"
	"strings"
)

// keySep joins key components into a canonical map key. A unit separator
// cannot appear in real label data.
const keySep = "\x1f"

// GroupKey identifies one domain: the grouping column names in caller order
// and this domain's value for each. The zero value is the overall
// (ungrouped) domain.
type GroupKey struct {
	Names  []string `json:"names,omitempty"`
	Values []string `json:"values,omitempty"`
}

// IsZero reports whether the key is the overall domain.
func (k GroupKey) IsZero() bool { return len(k.Values) == 0 }

// String renders the key for logs and exports, "zone=north,month=5" style.
func (k GroupKey) String() string {
	if k.IsZero() {
		return "(overall)"
	}
	parts := make([]string, len(k.Values))
	for i, v := range k.Values {
		name := ""
		if i < len(k.Names) {
			name = k.Names[i]
		}
		if name == "" {
			parts[i] = v
		} else {
			parts[i] = name + "=" + v
		}
	}
	return strings.Join(parts, ",")
}

// id is the canonical join key. Alignment between independently computed
// per-domain values always goes through this, never through slice position.
// The arity prefix keeps the overall key distinct from a one-column key
// whose value is empty.
func (k GroupKey) id() string {
	if len(k.Values) == 0 {
		return ""
	}
	return strconv.Itoa(len(k.Values)) + keySep + strings.Join(k.Values, keySep)
}

// Result is one row of the tidy output table: a domain, its point estimate,
// and the uncertainty around it. Undefined numeric fields hold NaN, never a
// fabricated zero.
type Result struct {
	// Key identifies the domain. Zero for an ungrouped estimate.
	Key GroupKey
	// Estimate is the point value of the requested statistic.
	Estimate float64
	// SE is the standard error of the estimate.
	SE float64
	// CILow and CIHigh bound the two-sided confidence interval.
	CILow  float64
	CIHigh float64
	// N counts the input records whose group key matches this domain. It is
	// the true per-domain input count, independent of any exclusion the
	// variance computation applied internally.
	N int
	// Deff is the design effect. Defined for linearization only.
	Deff float64
	// Method is the variance method actually executed for this row.
	Method Method
	// RequestedMethod is what the caller asked for. Differs from Method
	// exactly when a fallback occurred.
	RequestedMethod Method
	// VarAmong and VarWithin hold the two-stage variance decomposition when
	// requested, NaN otherwise.
	VarAmong  float64
	VarWithin float64
	// Diagnostics lists every non-fatal condition hit on this row.
	Diagnostics []Diagnostic
}

// newResult returns a Result with every optional numeric field set to the
// missing sentinel.
func newResult(key GroupKey) Result {
	nan := math.NaN()
	return Result{
		Key:       key,
		Estimate:  nan,
		SE:        nan,
		CILow:     nan,
		CIHigh:    nan,
		Deff:      nan,
		VarAmong:  nan,
		VarWithin: nan,
	}
}

func (r *Result) addDiagnostic(kind DiagnosticKind, code, message string, count int) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		Kind:    kind,
		Code:    code,
		Message: message,
		Count:   count,
	})
}

// HasDiagnostic reports whether a diagnostic with this code is attached.
func (r Result) HasDiagnostic(code string) bool {
	for _, d := range r.Diagnostics {
		if d.Code == code {
			return true
		}
	}
	return false
}

// DiagnosticCount returns the affected-unit count of the first diagnostic
// with this code, or zero when none is attached.
func (r Result) DiagnosticCount(code string) int {
	for _, d := range r.Diagnostics {
		if d.Code == code {
			return d.Count
		}
	}
	return 0
}
