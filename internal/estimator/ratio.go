package estimator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"surveykit/internal/design"
)

// ReservedColumnPrefix marks column names the estimator attaches internally
// to a design. Input columns must not use it; a collision is rejected before
// any computation runs.
const ReservedColumnPrefix = "_survey_"

const (
	reservedRatioNum = ReservedColumnPrefix + "ratio_num"
	reservedRatioDen = ReservedColumnPrefix + "ratio_den"
	reservedRatio    = ReservedColumnPrefix + "ratio"
)

// CombinationRule selects how paired observations combine into a ratio.
type CombinationRule int

const (
	// RatioOfSums divides the weighted numerator total by the weighted
	// denominator total. Records with large exposure carry more influence.
	RatioOfSums CombinationRule = iota
	// MeanOfRatios averages the per-record ratios, each record counting
	// once regardless of its exposure.
	MeanOfRatios
)

// String returns the rule's wire name.
func (r CombinationRule) String() string {
	switch r {
	case RatioOfSums:
		return "ratio_of_sums"
	case MeanOfRatios:
		return "mean_of_ratios"
	default:
		return fmt.Sprintf("rule(%d)", int(r))
	}
}

// ParseCombinationRule maps a wire name to a rule. Empty selects RatioOfSums.
func ParseCombinationRule(s string) (CombinationRule, error) {
	switch s {
	case "", "ratio_of_sums":
		return RatioOfSums, nil
	case "mean_of_ratios":
		return MeanOfRatios, nil
	default:
		return RatioOfSums, fmt.Errorf("unknown combination rule %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r CombinationRule) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *CombinationRule) UnmarshalText(text []byte) error {
	parsed, err := ParseCombinationRule(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// RatioConfig describes a rate of one numeric column over another, such as
// catch over hours fished.
type RatioConfig struct {
	// Numerator names the numeric column on top.
	Numerator string `json:"numerator"`
	// Denominator names the exposure column underneath.
	Denominator string `json:"denominator"`
	// Rule selects ratio-of-sums or mean-of-ratios.
	Rule CombinationRule `json:"rule"`
	// MinExposure excludes records whose exposure is positive but below
	// this value. Zero keeps every positive exposure.
	MinExposure float64 `json:"min_exposure,omitempty"`
}

// RatioEstimator estimates ratios per domain. Records whose exposure is
// missing, non-positive, or below the configured minimum never enter the
// arithmetic under either combination rule; each exclusion is counted on the
// affected domain's row.
type RatioEstimator struct {
	domains *DomainEstimator
	logger  *slog.Logger
}

// NewRatioEstimator returns a RatioEstimator over the given domain layer.
// A nil domains or logger falls back to defaults.
func NewRatioEstimator(domains *DomainEstimator, logger *slog.Logger) *RatioEstimator {
	if logger == nil {
		logger = slog.Default()
	}
	if domains == nil {
		domains = NewDomainEstimator(nil, logger)
	}
	return &RatioEstimator{domains: domains, logger: logger}
}

// exposureReason classifies why a record cannot enter a ratio.
type exposureReason int

const (
	exposureKeep exposureReason = iota
	exposureMissing
	exposureNonPositive
	exposureBelowMin
)

// exposureCounts tallies excluded records per domain, by reason.
type exposureCounts struct {
	missing  int
	zero     int
	belowMin int
}

// EstimateRatio estimates cfg's ratio for every domain discovered from the
// grouping columns. The returned rows carry exclusion diagnostics broken
// down by reason.
func (e *RatioEstimator) EstimateRatio(ctx context.Context, d *design.Design, cfg RatioConfig, groupBy []string, opts Options) ([]Result, error) {
	if err := validateRatioConfig(d, cfg); err != nil {
		return nil, err
	}
	for _, name := range d.ColumnNames() {
		if strings.HasPrefix(name, ReservedColumnPrefix) {
			return nil, newConfigError("design",
				"column %q collides with the reserved prefix %q", name, ReservedColumnPrefix)
		}
	}

	y, _ := d.Numeric(cfg.Numerator)
	x, _ := d.Numeric(cfg.Denominator)
	n := d.Len()

	// Classify every record once. Excluded records become NaN in the
	// derived columns so they drop out of the statistic without touching
	// the domain row counts.
	reasons := make([]exposureReason, n)
	for i := 0; i < n; i++ {
		switch {
		case math.IsNaN(y[i]) || math.IsNaN(x[i]):
			reasons[i] = exposureMissing
		case x[i] <= 0:
			reasons[i] = exposureNonPositive
		case cfg.MinExposure > 0 && x[i] < cfg.MinExposure:
			reasons[i] = exposureBelowMin
		}
	}

	var (
		stat    Statistic
		derived *design.Design
		err     error
	)
	switch cfg.Rule {
	case RatioOfSums:
		cleanY := make([]float64, n)
		cleanX := make([]float64, n)
		for i := 0; i < n; i++ {
			if reasons[i] != exposureKeep {
				cleanY[i] = math.NaN()
				cleanX[i] = math.NaN()
				continue
			}
			cleanY[i] = y[i]
			cleanX[i] = x[i]
		}
		derived, err = d.WithNumeric(reservedRatioNum, cleanY)
		if err == nil {
			derived, err = derived.WithNumeric(reservedRatioDen, cleanX)
		}
		stat = Statistic{Kind: Ratio, Response: reservedRatioNum, Denominator: reservedRatioDen}
	case MeanOfRatios:
		ratios := make([]float64, n)
		for i := 0; i < n; i++ {
			if reasons[i] != exposureKeep {
				ratios[i] = math.NaN()
				continue
			}
			ratios[i] = y[i] / x[i]
		}
		derived, err = d.WithNumeric(reservedRatio, ratios)
		stat = Statistic{Kind: Mean, Response: reservedRatio}
	default:
		return nil, newConfigError("rule", "unknown combination rule %d", int(cfg.Rule))
	}
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "estimating ratio",
		"numerator", cfg.Numerator,
		"denominator", cfg.Denominator,
		"rule", cfg.Rule.String(),
		"min_exposure", cfg.MinExposure,
	)

	results, err := e.domains.EstimateByDomain(ctx, derived, stat, groupBy, opts)
	if err != nil {
		return nil, err
	}

	// Per-domain exclusion tallies, joined to the rows by key. The backend
	// saw only the sentinel NaNs; its generic missing-value counts are
	// replaced with the reason breakdown here.
	countsByKey, totals := tallyExclusions(d, groupBy, reasons)
	for i := range results {
		res := &results[i]
		kept := res.Diagnostics[:0]
		for _, diag := range res.Diagnostics {
			if diag.Code != CodeMissingValues {
				kept = append(kept, diag)
			}
		}
		res.Diagnostics = kept

		c := countsByKey[res.Key.id()]
		if c.missing > 0 {
			res.addDiagnostic(DataQuality, CodeMissingValues,
				fmt.Sprintf("%d record(s) with missing numerator or exposure excluded", c.missing), c.missing)
		}
		if c.zero > 0 {
			res.addDiagnostic(DataQuality, CodeZeroExposure,
				fmt.Sprintf("%d record(s) with non-positive exposure excluded", c.zero), c.zero)
		}
		if c.belowMin > 0 {
			res.addDiagnostic(DataQuality, CodeBelowMinExposure,
				fmt.Sprintf("%d record(s) with exposure below %v excluded", c.belowMin, cfg.MinExposure), c.belowMin)
		}
	}

	if excluded := totals.missing + totals.zero + totals.belowMin; excluded > 0 {
		e.logger.WarnContext(ctx, "excluded records with unusable exposure",
			"missing", totals.missing,
			"non_positive", totals.zero,
			"below_min", totals.belowMin,
		)
	}
	return results, nil
}

func tallyExclusions(d *design.Design, groupBy []string, reasons []exposureReason) (map[string]exposureCounts, exposureCounts) {
	cols, _ := resolveGroupColumns(d, groupBy)
	parts := partitionByKey(d, groupBy, cols)
	byKey := make(map[string]exposureCounts, len(parts))
	var totals exposureCounts
	for _, p := range parts {
		var c exposureCounts
		for _, row := range p.rows {
			switch reasons[row] {
			case exposureMissing:
				c.missing++
			case exposureNonPositive:
				c.zero++
			case exposureBelowMin:
				c.belowMin++
			}
		}
		byKey[p.key.id()] = c
		totals.missing += c.missing
		totals.zero += c.zero
		totals.belowMin += c.belowMin
	}
	return byKey, totals
}

func validateRatioConfig(d *design.Design, cfg RatioConfig) error {
	var missing []string
	for _, name := range []string{cfg.Numerator, cfg.Denominator} {
		if name == "" {
			return newConfigError("ratio", "numerator and denominator column names are required")
		}
		if _, ok := d.Numeric(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Field:     "ratio",
			Message:   fmt.Sprintf("column(s) not numeric in the design: %s", strings.Join(missing, ", ")),
			Available: d.ColumnNames(),
		}
	}
	if math.IsNaN(cfg.MinExposure) || math.IsInf(cfg.MinExposure, 0) || cfg.MinExposure < 0 {
		return newConfigError("min_exposure", "must be a non-negative finite number, got %v", cfg.MinExposure)
	}
	return nil
}
