package estimator

import "fmt"

// DiagnosticKind classifies a non-fatal condition attached to a result row.
type DiagnosticKind int

const (
	// DataQuality marks degraded or excluded input data.
	DataQuality DiagnosticKind = iota
	// MethodFallback marks a variance method that could not be executed.
	MethodFallback
	// DomainMismatch marks key misalignment between combined result tables.
	DomainMismatch
)

// String returns the kind name.
func (k DiagnosticKind) String() string {
	switch k {
	case DataQuality:
		return "data_quality"
	case MethodFallback:
		return "method_fallback"
	case DomainMismatch:
		return "domain_mismatch"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k DiagnosticKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *DiagnosticKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "data_quality":
		*k = DataQuality
	case "method_fallback":
		*k = MethodFallback
	case "domain_mismatch":
		*k = DomainMismatch
	default:
		return fmt.Errorf("unknown diagnostic kind %q", text)
	}
	return nil
}

// Diagnostic codes. Stable strings: they are persisted with run results and
// matched by callers.
const (
	CodeEmptyDomain        = "empty_domain"
	CodeSmallDomain        = "small_domain"
	CodeZeroExposure       = "zero_exposure"
	CodeBelowMinExposure   = "below_min_exposure"
	CodeMissingValues      = "missing_values"
	CodeUndefinedStatistic = "undefined_statistic"
	CodeLonelyPSU          = "lonely_psu"
	CodeInsufficientDF     = "insufficient_df"
	CodeMethodFallback     = "method_fallback"
	CodeReplicateDropped   = "replicate_dropped"
	CodeDomainMismatch     = "domain_mismatch"
	CodeMethodMix          = "method_mix"
	CodeSampleDisparity    = "n_disparity"
	CodeDecomposition      = "decomposition_unavailable"
)

// Diagnostic records one non-fatal condition: what happened, how many units
// or replicates it affected, and on which row (implied by the carrying
// Result). Estimation never hides a degradation; it is always surfaced here.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Count   int            `json:"count,omitempty"`
}
