package estimator

import (
	"fmt"
	"math"
)

// StatKind identifies the statistic a Backend call computes.
type StatKind int

const (
	// Total is the weighted population total of the response column.
	Total StatKind = iota
	// Mean is the weighted population mean of the response column.
	Mean
	// Ratio is the weighted population ratio of the response column to the
	// denominator column.
	Ratio
)

// String returns the wire name of the statistic kind.
func (k StatKind) String() string {
	switch k {
	case Total:
		return "total"
	case Mean:
		return "mean"
	case Ratio:
		return "ratio"
	default:
		return fmt.Sprintf("stat(%d)", int(k))
	}
}

// ParseStatKind maps a wire name to a StatKind.
func ParseStatKind(s string) (StatKind, error) {
	switch s {
	case "total":
		return Total, nil
	case "mean":
		return Mean, nil
	case "ratio":
		return Ratio, nil
	default:
		return Total, fmt.Errorf("unknown statistic %q", s)
	}
}

// Statistic describes the point statistic to estimate. The backend knows
// nothing about what the columns mean; it is a weighted-statistic machine.
type Statistic struct {
	Kind        StatKind
	Response    string
	Denominator string // Ratio only
}

// String renders the statistic for logs and run records.
func (s Statistic) String() string {
	if s.Kind == Ratio {
		return fmt.Sprintf("ratio(%s/%s)", s.Response, s.Denominator)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.Response)
}

// Defaults applied by Options.withDefaults.
const (
	// DefaultConfidenceLevel is used when a request leaves the level unset.
	DefaultConfidenceLevel = 0.95
	// DefaultSmallDomainMin is the domain size below which variance
	// estimates are flagged as unstable. A reporting threshold, not a
	// statistical law; override per call via Options.SmallDomainMin.
	DefaultSmallDomainMin = 3
	// MinUsableReplicates is the fewest finite replicate estimates a
	// resampling variance may be built from.
	MinUsableReplicates = 2
)

// DecomposeOptions opts a domain estimation call into two-stage variance
// decomposition of the response column.
type DecomposeOptions struct {
	// PrimaryUnit names the label column identifying the primary sampling
	// unit of each measurement. Empty uses the design's cluster labels.
	PrimaryUnit string
	// PopulationUnits is the number of primary units in the population (N of
	// the two-stage identity). Zero means unknown: the among component
	// degrades to its infinite-population form and the within component is
	// left missing.
	PopulationUnits float64
}

// Options carries the recognized estimation settings. The zero value asks
// for linearization at the default confidence level, computed serially.
type Options struct {
	// Method selects the variance computation.
	Method Method
	// NumReplicates sizes generated bootstrap replicate sets. Ignored when
	// the design already carries a usable scheme, and by jackknife, whose
	// replicate count is the number of PSUs.
	NumReplicates int
	// ConfidenceLevel is the two-sided interval coverage in (0, 1).
	// Zero means DefaultConfidenceLevel.
	ConfidenceLevel float64
	// Seed makes generated bootstrap replicates reproducible.
	Seed int64
	// MaxParallel bounds how many domains are estimated concurrently.
	// Zero or one computes serially. Output is identical either way.
	MaxParallel int
	// SmallDomainMin overrides DefaultSmallDomainMin when positive.
	SmallDomainMin int
	// DomainUniverse optionally declares the full set of expected domains.
	// Declared domains absent from the data are surfaced as empty rows
	// rather than omitted.
	DomainUniverse []GroupKey
	// Decompose opts into per-domain variance decomposition.
	Decompose *DecomposeOptions
}

func (o Options) withDefaults() Options {
	if o.ConfidenceLevel == 0 {
		o.ConfidenceLevel = DefaultConfidenceLevel
	}
	if o.SmallDomainMin == 0 {
		o.SmallDomainMin = DefaultSmallDomainMin
	}
	return o
}

// Validate reports configuration mistakes that do not need the design at
// hand. Column references are checked separately against the design.
func (o Options) Validate() error {
	if math.IsNaN(o.ConfidenceLevel) || o.ConfidenceLevel <= 0 || o.ConfidenceLevel >= 1 {
		return newConfigError("confidence_level", "%v is not in (0, 1)", o.ConfidenceLevel)
	}
	if o.NumReplicates < 0 {
		return newConfigError("num_replicates", "%d is negative", o.NumReplicates)
	}
	if o.MaxParallel < 0 {
		return newConfigError("max_parallel", "%d is negative", o.MaxParallel)
	}
	if o.SmallDomainMin < 0 {
		return newConfigError("small_domain_min", "%d is negative", o.SmallDomainMin)
	}
	if o.Decompose != nil {
		if o.Decompose.PopulationUnits < 0 || math.IsNaN(o.Decompose.PopulationUnits) {
			return newConfigError("decompose.population_units", "%v is negative", o.Decompose.PopulationUnits)
		}
	}
	return nil
}
