package effort

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"surveykit/internal/estimator"
)

// CountSeries holds one sampling occasion's counts and the length of the
// window they expand to. Window and Waits share a time unit (usually
// minutes). Waits is used by the bus-route protocol only.
type CountSeries struct {
	Counts []float64
	Window float64
	Waits  []float64
}

// Expansion selects a protocol and its corrections.
type Expansion struct {
	Protocol Protocol
	// Coverage is the route fraction traversed during a progressive count,
	// in (0, 1].
	Coverage float64
	// Visibility corrects aerial counts for unseen units, >= 1.
	Visibility float64
}

// Instantaneous expands point counts: mean(count) x window.
func Instantaneous(s CountSeries) (float64, error) {
	if err := s.validate(); err != nil {
		return 0, err
	}
	return stat.Mean(s.Counts, nil) * s.Window, nil
}

// Progressive expands roving counts, dividing by the covered route fraction.
func Progressive(s CountSeries, coverage float64) (float64, error) {
	if err := s.validate(); err != nil {
		return 0, err
	}
	if math.IsNaN(coverage) || coverage <= 0 || coverage > 1 {
		return 0, &estimator.ConfigError{
			Field:   "effort.coverage",
			Message: fmt.Sprintf("coverage is %v, want a route fraction in (0, 1]", coverage),
		}
	}
	return stat.Mean(s.Counts, nil) * s.Window / coverage, nil
}

// BusRoute expands per-stop counts by the wait time spent at each stop:
// window x sum(count_i / wait_i).
func BusRoute(s CountSeries) (float64, error) {
	if err := s.validate(); err != nil {
		return 0, err
	}
	if len(s.Waits) != len(s.Counts) {
		return 0, &estimator.ConfigError{
			Field:   "effort.waits",
			Message: fmt.Sprintf("%d wait times for %d stop counts", len(s.Waits), len(s.Counts)),
		}
	}
	rate := 0.0
	for i, w := range s.Waits {
		if math.IsNaN(w) || math.IsInf(w, 0) || w <= 0 {
			return 0, &estimator.ConfigError{
				Field:   "effort.waits",
				Message: fmt.Sprintf("wait time at stop %d is %v, want finite and > 0", i, w),
			}
		}
		rate += s.Counts[i] / w
	}
	return s.Window * rate, nil
}

// Aerial expands overflight counts with a visibility correction.
func Aerial(s CountSeries, visibility float64) (float64, error) {
	if err := s.validate(); err != nil {
		return 0, err
	}
	if math.IsNaN(visibility) || math.IsInf(visibility, 0) || visibility < 1 {
		return 0, &estimator.ConfigError{
			Field:   "effort.visibility",
			Message: fmt.Sprintf("visibility correction is %v, want finite and >= 1", visibility),
		}
	}
	return stat.Mean(s.Counts, nil) * s.Window * visibility, nil
}

// Expand applies the configured protocol to one series.
func Expand(s CountSeries, exp Expansion) (float64, error) {
	switch exp.Protocol {
	case ProtocolInstantaneous:
		return Instantaneous(s)
	case ProtocolProgressive:
		return Progressive(s, exp.Coverage)
	case ProtocolBusRoute:
		return BusRoute(s)
	case ProtocolAerial:
		return Aerial(s, exp.Visibility)
	default:
		return 0, &estimator.ConfigError{
			Field:   "effort.protocol",
			Message: fmt.Sprintf("unknown protocol %v", exp.Protocol),
		}
	}
}

// ExpandSeries expands one series per sampling occasion into a numeric
// column ready for a Total estimate. Any invalid occasion fails the whole
// expansion, naming the occasion.
func ExpandSeries(occasions []CountSeries, exp Expansion) ([]float64, error) {
	if len(occasions) == 0 {
		return nil, &estimator.ConfigError{
			Field:   "effort.occasions",
			Message: "no count series supplied",
		}
	}
	out := make([]float64, len(occasions))
	for i, s := range occasions {
		v, err := Expand(s, exp)
		if err != nil {
			return nil, fmt.Errorf("occasion %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// validate checks the parts every protocol shares.
func (s CountSeries) validate() error {
	if len(s.Counts) == 0 {
		return &estimator.ConfigError{
			Field:   "effort.counts",
			Message: "no counts supplied",
		}
	}
	for i, c := range s.Counts {
		if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
			return &estimator.ConfigError{
				Field:   "effort.counts",
				Message: fmt.Sprintf("count %d is %v, want finite and >= 0", i, c),
			}
		}
	}
	if math.IsNaN(s.Window) || math.IsInf(s.Window, 0) || s.Window <= 0 {
		return &estimator.ConfigError{
			Field:   "effort.window",
			Message: fmt.Sprintf("window is %v, want finite and > 0", s.Window),
		}
	}
	return nil
}
