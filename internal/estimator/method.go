package estimator

import "fmt"

// Method selects how the variance of an estimate is computed.
type Method int

const (
	// Linearization is the closed-form Taylor-series variance. Always
	// available and the designated fallback for every other method.
	Linearization Method = iota
	// Bootstrap resamples PSUs within strata (Rao-Wu-Yue rescaling).
	Bootstrap
	// Jackknife deletes one PSU per replicate (JKn).
	Jackknife
	// CustomReplicate uses a replicate-weight scheme attached to the design.
	CustomReplicate
)

// String returns the wire name of the method.
func (m Method) String() string {
	switch m {
	case Linearization:
		return "linearization"
	case Bootstrap:
		return "bootstrap"
	case Jackknife:
		return "jackknife"
	case CustomReplicate:
		return "custom_replicate"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// ParseMethod maps a wire name to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "linearization", "":
		return Linearization, nil
	case "bootstrap":
		return Bootstrap, nil
	case "jackknife":
		return Jackknife, nil
	case "custom_replicate":
		return CustomReplicate, nil
	default:
		return Linearization, fmt.Errorf("unknown variance method %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Method) UnmarshalText(text []byte) error {
	parsed, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// usesReplicates reports whether the method estimates variance from
// replicate weights.
func (m Method) usesReplicates() bool {
	return m == Bootstrap || m == Jackknife || m == CustomReplicate
}
