package estimator

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ProductOptions controls how two per-domain tables combine into products.
type ProductOptions struct {
	// Correlation between the two inputs within a domain, in [-1, 1]. Nil
	// treats the inputs as independent.
	Correlation *float64 `json:"correlation,omitempty"`
	// PadUnmatched emits a flagged row with a missing estimate for domains
	// present in only one input. The default restricts the output to
	// domains both inputs cover.
	PadUnmatched bool `json:"pad_unmatched,omitempty"`
	// ConfidenceLevel for the product's interval. Zero means 0.95.
	ConfidenceLevel float64 `json:"confidence_level,omitempty"`
}

func (o ProductOptions) withDefaults() ProductOptions {
	if o.ConfidenceLevel == 0 {
		o.ConfidenceLevel = DefaultConfidenceLevel
	}
	return o
}

func (o ProductOptions) validate() error {
	if o.ConfidenceLevel <= 0 || o.ConfidenceLevel >= 1 {
		return newConfigError("confidence_level", "must be in (0, 1), got %v", o.ConfidenceLevel)
	}
	if o.Correlation != nil {
		c := *o.Correlation
		if math.IsNaN(c) || c < -1 || c > 1 {
			return newConfigError("correlation", "must be in [-1, 1], got %v", c)
		}
	}
	return nil
}

// ProductEstimator combines two independently estimated per-domain tables
// into per-domain products, effort times catch rate being the canonical
// case. Rows pair strictly by group key; a domain present in only one input
// is flagged, never matched by table position.
type ProductEstimator struct {
	logger *slog.Logger
}

// NewProductEstimator returns a ProductEstimator. A nil logger falls back to
// the default.
func NewProductEstimator(logger *slog.Logger) *ProductEstimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductEstimator{logger: logger}
}

// EstimateProduct multiplies matching rows of a and b. The variance of each
// product comes from the delta method,
//
//	var(ab) = a^2*var(b) + b^2*var(a) + 2ab*corr*se(a)*se(b)
//
// with corr zero unless opts.Correlation is set. Output order follows a,
// then any b-only domains. Domains missing from one side are dropped from
// the output (with a logged count) unless opts.PadUnmatched, which keeps
// them as rows with a missing estimate and a mismatch diagnostic.
func (e *ProductEstimator) EstimateProduct(ctx context.Context, a, b []Result, opts ProductOptions) ([]Result, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if _, err := indexResults("first", a); err != nil {
		return nil, err
	}
	bIndex, err := indexResults("second", b)
	if err != nil {
		return nil, err
	}

	z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(0.5 + opts.ConfidenceLevel/2)

	out := make([]Result, 0, len(a)+len(b))
	usedB := make(map[string]bool, len(b))
	matched, aOnly, bOnly := 0, 0, 0
	for _, ra := range a {
		rb, ok := bIndex[ra.Key.id()]
		if !ok {
			aOnly++
			if opts.PadUnmatched {
				out = append(out, unmatchedRow(ra, "second"))
			}
			continue
		}
		usedB[ra.Key.id()] = true
		matched++
		out = append(out, productRow(ra, rb, opts, z))
	}
	for _, rb := range b {
		if usedB[rb.Key.id()] {
			continue
		}
		bOnly++
		if opts.PadUnmatched {
			out = append(out, unmatchedRow(rb, "first"))
		}
	}

	if aOnly+bOnly > 0 {
		e.logger.WarnContext(ctx, "product inputs cover different domains",
			"matched", matched,
			"first_only", aOnly,
			"second_only", bOnly,
			"padded", opts.PadUnmatched,
		)
	}
	e.logger.InfoContext(ctx, "combined per-domain products",
		"domains", len(out),
		"matched", matched,
	)
	return out, nil
}

func productRow(a, b Result, opts ProductOptions, z float64) Result {
	row := newResult(a.Key)
	row.Method = a.Method
	row.RequestedMethod = a.RequestedMethod
	row.N = a.N
	if b.N < a.N {
		row.N = b.N
	}

	if a.Method != b.Method {
		row.addDiagnostic(MethodFallback, CodeMethodMix,
			fmt.Sprintf("inputs used different variance methods: %s and %s", a.Method, b.Method), 0)
	}
	if a.N > 0 && b.N > 0 {
		lo, hi := a.N, b.N
		if lo > hi {
			lo, hi = hi, lo
		}
		if hi > 10*lo {
			row.addDiagnostic(DataQuality, CodeSampleDisparity,
				fmt.Sprintf("input sample sizes differ widely: %d and %d", a.N, b.N), 0)
		}
	}

	if math.IsNaN(a.Estimate) || math.IsInf(a.Estimate, 0) || math.IsNaN(b.Estimate) || math.IsInf(b.Estimate, 0) {
		row.addDiagnostic(DataQuality, CodeUndefinedStatistic,
			"product undefined: an input estimate is missing", 0)
		return row
	}
	row.Estimate = a.Estimate * b.Estimate

	if math.IsNaN(a.SE) || math.IsInf(a.SE, 0) || math.IsNaN(b.SE) || math.IsInf(b.SE, 0) {
		row.addDiagnostic(DataQuality, CodeUndefinedStatistic,
			"product variance undefined: an input standard error is missing", 0)
		return row
	}
	v := a.Estimate*a.Estimate*b.SE*b.SE + b.Estimate*b.Estimate*a.SE*a.SE
	if opts.Correlation != nil {
		v += 2 * a.Estimate * b.Estimate * *opts.Correlation * a.SE * b.SE
	}
	if v < 0 {
		v = 0
	}
	row.SE = math.Sqrt(v)
	row.CILow = row.Estimate - z*row.SE
	row.CIHigh = row.Estimate + z*row.SE
	return row
}

// unmatchedRow surfaces a domain found in only one input. The side's own
// numbers are not carried over: a product with a missing factor has no
// estimate.
func unmatchedRow(side Result, missingFrom string) Result {
	row := newResult(side.Key)
	row.Method = side.Method
	row.RequestedMethod = side.RequestedMethod
	row.N = side.N
	row.addDiagnostic(DomainMismatch, CodeDomainMismatch,
		fmt.Sprintf("domain missing from the %s input table", missingFrom), 0)
	return row
}

func indexResults(which string, rows []Result) (map[string]Result, error) {
	idx := make(map[string]Result, len(rows))
	for _, r := range rows {
		id := r.Key.id()
		if _, dup := idx[id]; dup {
			return nil, newConfigError("tables", "duplicate domain %q in the %s input table", r.Key.String(), which)
		}
		idx[id] = r
	}
	return idx, nil
}
