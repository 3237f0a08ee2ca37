package estimator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"surveykit/internal/design"
)

// Backend is the variance machine: it computes one weighted statistic and
// its variance under one method. It knows nothing about domains, ratios, or
// what the columns mean.
type Backend struct {
	logger *slog.Logger
}

// NewBackend returns a Backend logging through the given logger, or
// slog.Default when nil.
func NewBackend(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{logger: logger}
}

// Estimate computes the statistic over the whole design under the requested
// method. When a resampling method cannot be constructed the result is
// computed by linearization instead, Method records linearization,
// RequestedMethod keeps the caller's choice, and a method_fallback
// diagnostic explains why. A returned error is always a configuration
// mistake or a cancelled context, never a data problem.
func (b *Backend) Estimate(ctx context.Context, d *design.Design, s Statistic, opts Options) (Result, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	if err := validateStatistic(d, s); err != nil {
		return Result{}, err
	}
	return b.estimate(ctx, d, s, opts)
}

// validateStatistic fails fast when the statistic references columns the
// design does not have.
func validateStatistic(d *design.Design, s Statistic) error {
	if d == nil {
		return newConfigError("design", "no design supplied")
	}
	if s.Response == "" {
		return newConfigError("statistic.response", "no response column named")
	}
	if _, ok := d.Numeric(s.Response); !ok {
		return &ConfigError{
			Field:     "statistic.response",
			Message:   fmt.Sprintf("%q is not a numeric column of the design", s.Response),
			Available: d.ColumnNames(),
		}
	}
	if s.Kind == Ratio {
		if s.Denominator == "" {
			return newConfigError("statistic.denominator", "ratio statistic without a denominator column")
		}
		if _, ok := d.Numeric(s.Denominator); !ok {
			return &ConfigError{
				Field:     "statistic.denominator",
				Message:   fmt.Sprintf("%q is not a numeric column of the design", s.Denominator),
				Available: d.ColumnNames(),
			}
		}
	}
	return nil
}

// estimate assumes options and statistic were validated. Used directly by
// DomainEstimator, which validates once for all domains.
func (b *Backend) estimate(ctx context.Context, d *design.Design, s Statistic, opts Options) (Result, error) {
	if d.Len() == 0 {
		res := newResult(GroupKey{})
		res.Method = opts.Method
		res.RequestedMethod = opts.Method
		res.addDiagnostic(DataQuality, CodeEmptyDomain, "domain has no records", 0)
		return res, nil
	}

	requested := opts.Method
	res, err := b.run(ctx, d, s, opts, requested)
	if err != nil {
		var cerr *constructError
		if !errors.As(err, &cerr) || requested == Linearization {
			return Result{}, err
		}
		b.logger.WarnContext(ctx, "variance method unavailable, using linearization",
			"requested_method", requested.String(),
			"reason", cerr.reason,
		)
		res, err = b.run(ctx, d, s, opts, Linearization)
		if err != nil {
			return Result{}, err
		}
		res.addDiagnostic(MethodFallback, CodeMethodFallback,
			fmt.Sprintf("%s unavailable (%s); variance computed by linearization", requested, cerr.reason), 0)
	}
	res.RequestedMethod = requested
	return res, nil
}

func (b *Backend) run(ctx context.Context, d *design.Design, s Statistic, opts Options, m Method) (Result, error) {
	if m.usesReplicates() {
		return b.runReplicate(ctx, d, s, opts, m)
	}
	return b.runLinearization(d, s, opts), nil
}

func (b *Backend) runLinearization(d *design.Design, s Statistic, opts Options) Result {
	res := newResult(GroupKey{})
	res.Method = Linearization
	res.N = d.Len()

	comp := computeStatistic(d, s)
	if comp.excluded > 0 {
		res.addDiagnostic(DataQuality, CodeMissingValues,
			fmt.Sprintf("%d unit(s) with missing values excluded from the statistic", comp.excluded), comp.excluded)
	}
	if comp.undefined {
		res.addDiagnostic(DataQuality, CodeUndefinedStatistic, "estimated denominator total is zero", 0)
		return res
	}
	if comp.valid == 0 {
		return res
	}
	res.Estimate = comp.estimate

	info := totalVariance(d, comp.lin)
	if info.lonely > 0 {
		res.addDiagnostic(DataQuality, CodeLonelyPSU,
			fmt.Sprintf("%d stratum(s) with a single PSU contribute no variance", info.lonely), info.lonely)
	}
	if info.contributing() == 0 {
		// No stratum had two PSUs: there is no variance information at all.
		res.addDiagnostic(DataQuality, CodeInsufficientDF, "no stratum with two or more PSUs", 0)
		return res
	}

	res.SE = math.Sqrt(info.variance)
	if vsrs := srsVariance(d, comp.lin); vsrs > 0 {
		res.Deff = info.variance / vsrs
	}
	if t := tQuantile(info.df, opts.ConfidenceLevel); !math.IsNaN(t) {
		res.CILow = res.Estimate - t*res.SE
		res.CIHigh = res.Estimate + t*res.SE
	} else {
		res.addDiagnostic(DataQuality, CodeInsufficientDF, "no degrees of freedom for a confidence interval", 0)
	}
	return res
}

func (b *Backend) runReplicate(ctx context.Context, d *design.Design, s Statistic, opts Options, m Method) (Result, error) {
	src, err := b.buildSource(d, opts, m)
	if err != nil {
		return Result{}, err
	}

	res := newResult(GroupKey{})
	res.Method = m
	res.N = d.Len()

	comp := computeStatistic(d, s)
	if comp.excluded > 0 {
		res.addDiagnostic(DataQuality, CodeMissingValues,
			fmt.Sprintf("%d unit(s) with missing values excluded from the statistic", comp.excluded), comp.excluded)
	}
	if comp.undefined {
		res.addDiagnostic(DataQuality, CodeUndefinedStatistic, "estimated denominator total is zero", 0)
		return res, nil
	}
	if comp.valid == 0 {
		return res, nil
	}
	res.Estimate = comp.estimate

	variance, usable, dropped, rerr := replicateVariance(ctx, d, s, comp.estimate, src)
	if rerr != nil {
		if errors.Is(rerr, errInsufficientReplicates) {
			return Result{}, &constructError{
				method: m,
				reason: fmt.Sprintf("only %d of %d replicates produced a finite estimate", usable, src.count()),
			}
		}
		return Result{}, rerr
	}
	if dropped > 0 {
		res.addDiagnostic(DataQuality, CodeReplicateDropped,
			fmt.Sprintf("%d replicate(s) could not form a finite estimate and were dropped", dropped), dropped)
	}

	res.SE = math.Sqrt(variance)
	if t := tQuantile(usable-1, opts.ConfidenceLevel); !math.IsNaN(t) {
		res.CILow = res.Estimate - t*res.SE
		res.CIHigh = res.Estimate + t*res.SE
	}
	return res, nil
}

func (b *Backend) buildSource(d *design.Design, opts Options, m Method) (replicateSource, error) {
	scheme := d.Replicates()
	switch m {
	case Bootstrap:
		if scheme != nil && scheme.Kind == design.BootstrapReplicates {
			return &schemeSource{scheme: scheme}, nil
		}
		if opts.NumReplicates <= 0 {
			return nil, newConfigError("num_replicates",
				"bootstrap requested with no attached scheme and %d replicates", opts.NumReplicates)
		}
		return newBootstrapSource(d, opts.NumReplicates, opts.Seed)
	case Jackknife:
		if scheme != nil && scheme.Kind == design.JackknifeReplicates {
			return &schemeSource{scheme: scheme}, nil
		}
		return newJackknifeSource(d)
	case CustomReplicate:
		if scheme == nil {
			return nil, &constructError{method: m, reason: "design carries no replicate weights"}
		}
		return &schemeSource{scheme: scheme}, nil
	default:
		return nil, &constructError{method: m, reason: "method has no replicate form"}
	}
}
