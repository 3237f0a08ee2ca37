package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"surveykit/internal/dataset"
	"surveykit/internal/design"
	"surveykit/internal/effort"
	"surveykit/internal/estimator"
	"surveykit/internal/infrastructure"
	"surveykit/internal/store"
	api "surveykit/pkg/contracts/api/v1"
)

// DefaultRunListLimit bounds run history listings when the caller does not
// ask for a specific limit.
const DefaultRunListLimit = 50

// derivedEffortColumn is the internal name of the column an EffortSpec
// derives. The reserved prefix keeps it from colliding with dataset columns.
const derivedEffortColumn = estimator.ReservedColumnPrefix + "effort"

// EstimationService orchestrates estimations end to end: load the dataset,
// build the design, run the requested statistic, persist the run, and shape
// the response. It also serves run history and combines stored runs into
// products.
type EstimationService struct {
	loader   *dataset.Loader
	store    store.Store
	domains  *estimator.DomainEstimator
	ratios   *estimator.RatioEstimator
	products *estimator.ProductEstimator
	metrics  *infrastructure.BusinessMetrics
	logger   *slog.Logger
}

// NewEstimationService creates an estimation service. Metrics may be nil,
// which disables business metric emission.
func NewEstimationService(loader *dataset.Loader, st store.Store, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *EstimationService {
	if logger == nil {
		logger = slog.Default()
	}
	domains := estimator.NewDomainEstimator(estimator.NewBackend(logger), logger)
	return &EstimationService{
		loader:   loader,
		store:    st,
		domains:  domains,
		ratios:   estimator.NewRatioEstimator(domains, logger),
		products: estimator.NewProductEstimator(logger),
		metrics:  metrics,
		logger:   logger,
	}
}

// Estimate runs one estimation request and persists it as a completed run.
// Request mistakes return a *estimator.ConfigError or a dataset sentinel and
// persist nothing; failures during estimation are recorded as a failed run.
func (s *EstimationService) Estimate(ctx context.Context, req api.EstimateRequest) (resp *api.EstimateResponse, err error) {
	started := time.Now()
	runID := uuid.New().String()

	kind, err := requestKind(req)
	if err != nil {
		return nil, err
	}
	opts, err := buildOptions(req.Options, req.GroupBy, req.DomainUniverse, req.Decompose)
	if err != nil {
		return nil, err
	}

	s.addActive(ctx, 1)
	defer s.addActive(ctx, -1)

	var resultRows []estimator.Result
	defer func() {
		duration := time.Since(started)
		switch {
		case err == nil:
			s.record(ctx, kind, opts.Method.String(), "completed", duration, len(resultRows), countFallbacks(resultRows))
		case isRequestError(err):
			s.record(ctx, kind, opts.Method.String(), "rejected", duration, 0, 0)
		default:
			s.record(ctx, kind, opts.Method.String(), "failed", duration, 0, 0)
		}
	}()

	s.logger.InfoContext(ctx, "estimation requested",
		slog.String("run_id", runID),
		slog.String("dataset", req.Dataset),
		slog.String("kind", kind),
		slog.String("method", opts.Method.String()),
	)

	table, err := s.loader.Load(ctx, req.Dataset)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.DatasetLoads.Add(ctx, 1)
	}
	d, err := dataset.BuildDesign(table, dataset.DesignSpec{
		WeightColumn:  req.Design.WeightColumn,
		StratumColumn: req.Design.StratumColumn,
		ClusterColumn: req.Design.ClusterColumn,
		FPCColumn:     req.Design.FPCColumn,
	})
	if err != nil {
		return nil, err
	}

	var notes []string
	if req.Design.WeightColumn == "" {
		notes = append(notes, "weights defaulted to 1: no weight column specified")
	}

	var statLabel string
	switch {
	case req.Rate != nil:
		var cfg estimator.RatioConfig
		cfg, err = rateConfig(req.Rate)
		if err != nil {
			return nil, err
		}
		statLabel = fmt.Sprintf("rate(%s/%s, %s)", cfg.Numerator, cfg.Denominator, cfg.Rule)
		resultRows, err = s.ratios.EstimateRatio(ctx, d, cfg, req.GroupBy, opts)
	case req.Effort != nil:
		d, err = deriveEffort(d, req.Effort)
		if err != nil {
			return nil, err
		}
		notes = append(notes, fmt.Sprintf("effort expanded from column %q via the %s protocol", req.Effort.CountColumn, req.Effort.Protocol))
		statLabel = fmt.Sprintf("total(effort:%s(%s))", req.Effort.Protocol, req.Effort.CountColumn)
		stat := estimator.Statistic{Kind: estimator.Total, Response: derivedEffortColumn}
		resultRows, err = s.domains.EstimateByDomain(ctx, d, stat, req.GroupBy, opts)
	default:
		var stat estimator.Statistic
		stat, err = statisticOf(req.Statistic)
		if err != nil {
			return nil, err
		}
		statLabel = stat.String()
		resultRows, err = s.domains.EstimateByDomain(ctx, d, stat, req.GroupBy, opts)
	}
	if err != nil {
		if !isRequestError(err) {
			s.saveFailedRun(ctx, runID, req.Dataset, statLabel, opts.Method.String(), err)
		}
		return nil, err
	}

	run := store.Run{
		ID:              runID,
		CreatedAt:       time.Now().UTC(),
		Dataset:         req.Dataset,
		Statistic:       statLabel,
		RequestedMethod: opts.Method.String(),
		Method:          tableMethod(resultRows),
		Rows:            len(resultRows),
		Status:          store.StatusCompleted,
	}
	if err = s.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save run %s: %w", runID, err)
	}
	if err = s.store.SaveResults(ctx, runID, resultRows); err != nil {
		return nil, fmt.Errorf("save results for run %s: %w", runID, err)
	}

	duration := time.Since(started)
	s.logger.InfoContext(ctx, "estimation completed",
		slog.String("run_id", runID),
		slog.String("dataset", req.Dataset),
		slog.String("statistic", statLabel),
		slog.String("method", run.Method),
		slog.Int("rows", len(resultRows)),
		slog.Int("fallbacks", countFallbacks(resultRows)),
		slog.Int64("duration_ms", duration.Milliseconds()),
	)

	return &api.EstimateResponse{
		RunID:           runID,
		CreatedAt:       run.CreatedAt,
		Dataset:         run.Dataset,
		Statistic:       run.Statistic,
		Method:          run.Method,
		RequestedMethod: run.RequestedMethod,
		Rows:            toResultRows(resultRows),
		Notes:           notes,
		DurationMS:      duration.Milliseconds(),
	}, nil
}

// Product combines two stored runs into per-domain products and persists the
// derived table as a new run. Both inputs must be completed runs.
func (s *EstimationService) Product(ctx context.Context, req api.ProductRequest) (resp *api.EstimateResponse, err error) {
	started := time.Now()
	runID := uuid.New().String()

	s.addActive(ctx, 1)
	defer s.addActive(ctx, -1)

	var resultRows []estimator.Result
	defer func() {
		duration := time.Since(started)
		switch {
		case err == nil:
			s.record(ctx, "product", tableMethod(resultRows), "completed", duration, len(resultRows), 0)
		case isRequestError(err):
			s.record(ctx, "product", "", "rejected", duration, 0, 0)
		default:
			s.record(ctx, "product", "", "failed", duration, 0, 0)
		}
	}()

	runA, resultsA, err := s.completedRun(ctx, req.RunA, "run_a")
	if err != nil {
		return nil, err
	}
	runB, resultsB, err := s.completedRun(ctx, req.RunB, "run_b")
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "product requested",
		slog.String("run_id", runID),
		slog.String("run_a", req.RunA),
		slog.String("run_b", req.RunB),
	)

	resultRows, err = s.products.EstimateProduct(ctx, resultsA, resultsB, estimator.ProductOptions{
		Correlation:     req.Correlation,
		PadUnmatched:    req.PadUnmatched,
		ConfidenceLevel: req.ConfidenceLevel,
	})
	if err != nil {
		return nil, err
	}

	run := store.Run{
		ID:              runID,
		CreatedAt:       time.Now().UTC(),
		Dataset:         productDataset(runA, runB),
		Statistic:       fmt.Sprintf("product(%s, %s)", runA.Statistic, runB.Statistic),
		RequestedMethod: tableRequestedMethod(resultRows),
		Method:          tableMethod(resultRows),
		Rows:            len(resultRows),
		Status:          store.StatusCompleted,
	}
	if err = s.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save run %s: %w", runID, err)
	}
	if err = s.store.SaveResults(ctx, runID, resultRows); err != nil {
		return nil, fmt.Errorf("save results for run %s: %w", runID, err)
	}

	duration := time.Since(started)
	s.logger.InfoContext(ctx, "product completed",
		slog.String("run_id", runID),
		slog.String("statistic", run.Statistic),
		slog.Int("rows", len(resultRows)),
		slog.Int64("duration_ms", duration.Milliseconds()),
	)

	return &api.EstimateResponse{
		RunID:           runID,
		CreatedAt:       run.CreatedAt,
		Dataset:         run.Dataset,
		Statistic:       run.Statistic,
		Method:          run.Method,
		RequestedMethod: run.RequestedMethod,
		Rows:            toResultRows(resultRows),
		DurationMS:      duration.Milliseconds(),
	}, nil
}

// Runs lists stored runs, newest first.
func (s *EstimationService) Runs(ctx context.Context, limit int) (*api.RunListResponse, error) {
	if limit <= 0 {
		limit = DefaultRunListLimit
	}
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := &api.RunListResponse{
		Runs:  make([]api.RunSummary, len(runs)),
		Count: len(runs),
	}
	for i, r := range runs {
		out.Runs[i] = toRunSummary(r)
	}
	return out, nil
}

// Run returns one stored run with its full result table.
func (s *EstimationService) Run(ctx context.Context, id string) (*api.RunDetail, error) {
	run, results, err := s.RunTable(ctx, id)
	if err != nil {
		return nil, err
	}
	return &api.RunDetail{
		RunSummary: toRunSummary(run),
		Results:    toResultRows(results),
	}, nil
}

// RunTable returns a stored run and its result rows in their in-process
// form, for exporters that format the table themselves.
func (s *EstimationService) RunTable(ctx context.Context, id string) (store.Run, []estimator.Result, error) {
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return store.Run{}, nil, err
	}
	results, err := s.store.GetResults(ctx, id)
	if err != nil {
		return store.Run{}, nil, fmt.Errorf("load results for run %s: %w", id, err)
	}
	return run, results, nil
}

// DeleteRun removes a stored run and its results.
func (s *EstimationService) DeleteRun(ctx context.Context, id string) error {
	if err := s.store.DeleteRun(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "run deleted", slog.String("run_id", id))
	return nil
}

// completedRun loads one product input. The field name rides along so config
// errors point at the offending half of the request.
func (s *EstimationService) completedRun(ctx context.Context, id, field string) (store.Run, []estimator.Result, error) {
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return store.Run{}, nil, fmt.Errorf("%s: %w", field, err)
	}
	if run.Status != store.StatusCompleted {
		return store.Run{}, nil, &estimator.ConfigError{
			Field:   field,
			Message: fmt.Sprintf("run %s status is %q, want %q", id, run.Status, store.StatusCompleted),
		}
	}
	results, err := s.store.GetResults(ctx, id)
	if err != nil {
		return store.Run{}, nil, fmt.Errorf("%s: load results: %w", field, err)
	}
	return run, results, nil
}

// saveFailedRun records an estimation that ran and failed, so the history
// shows the attempt. Persistence is best effort and survives a canceled
// request context.
func (s *EstimationService) saveFailedRun(ctx context.Context, runID, dataset, statLabel, method string, cause error) {
	run := store.Run{
		ID:              runID,
		CreatedAt:       time.Now().UTC(),
		Dataset:         dataset,
		Statistic:       statLabel,
		RequestedMethod: method,
		Method:          method,
		Status:          store.StatusFailed,
		Error:           cause.Error(),
	}
	if err := s.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.ErrorContext(ctx, "failed to record failed run",
			slog.String("run_id", runID),
			slog.String("error", err.Error()))
	}
}

func (s *EstimationService) addActive(ctx context.Context, delta int64) {
	if s.metrics == nil {
		return
	}
	s.metrics.ActiveEstimations.Add(ctx, delta)
}

func (s *EstimationService) record(ctx context.Context, kind, method, status string, duration time.Duration, rows, fallbacks int) {
	if s.metrics == nil {
		return
	}
	if method == "" {
		method = estimator.Linearization.String()
	}
	attrs := metric.WithAttributes(
		attribute.String("statistic", kind),
		attribute.String("method", method),
		attribute.String("status", status),
	)
	s.metrics.EstimationsTotal.Add(ctx, 1, attrs)
	s.metrics.EstimationDuration.Record(ctx, duration.Seconds(), attrs)
	if rows > 0 {
		s.metrics.EstimationRows.Add(ctx, int64(rows))
	}
	if fallbacks > 0 {
		s.metrics.MethodFallbacks.Add(ctx, int64(fallbacks))
	}
}

// requestKind validates that exactly one statistic source is set and names
// it for logs and metrics.
func requestKind(req api.EstimateRequest) (string, error) {
	set := 0
	kind := ""
	if req.Statistic != nil {
		set++
		kind = req.Statistic.Kind
	}
	if req.Rate != nil {
		set++
		kind = "rate"
	}
	if req.Effort != nil {
		set++
		kind = "effort_total"
	}
	if set != 1 {
		return "", &estimator.ConfigError{
			Field:   "statistic",
			Message: "exactly one of statistic, rate, and effort must be set",
		}
	}
	return kind, nil
}

// isRequestError reports whether the error describes a mistake in the
// request rather than a failure inside the service.
func isRequestError(err error) bool {
	var cfgErr *estimator.ConfigError
	return errors.As(err, &cfgErr) ||
		errors.Is(err, dataset.ErrNotFound) ||
		errors.Is(err, dataset.ErrBadName) ||
		errors.Is(err, store.ErrRunNotFound)
}

func statisticOf(spec *api.StatisticSpec) (estimator.Statistic, error) {
	kind, err := estimator.ParseStatKind(spec.Kind)
	if err != nil {
		return estimator.Statistic{}, &estimator.ConfigError{Field: "statistic.kind", Message: err.Error()}
	}
	return estimator.Statistic{
		Kind:        kind,
		Response:    spec.Response,
		Denominator: spec.Denominator,
	}, nil
}

func rateConfig(spec *api.RateSpec) (estimator.RatioConfig, error) {
	rule, err := estimator.ParseCombinationRule(spec.Rule)
	if err != nil {
		return estimator.RatioConfig{}, &estimator.ConfigError{Field: "rate.rule", Message: err.Error()}
	}
	return estimator.RatioConfig{
		Numerator:   spec.Numerator,
		Denominator: spec.Denominator,
		Rule:        rule,
		MinExposure: spec.MinExposure,
	}, nil
}

func buildOptions(spec api.OptionsSpec, groupBy []string, universe [][]string, dec *api.DecomposeSpec) (estimator.Options, error) {
	method, err := estimator.ParseMethod(spec.Method)
	if err != nil {
		return estimator.Options{}, &estimator.ConfigError{Field: "options.method", Message: err.Error()}
	}
	opts := estimator.Options{
		Method:          method,
		NumReplicates:   spec.NumReplicates,
		ConfidenceLevel: spec.ConfidenceLevel,
		Seed:            spec.Seed,
		MaxParallel:     spec.MaxParallel,
		SmallDomainMin:  spec.SmallDomainMin,
	}
	for _, values := range universe {
		opts.DomainUniverse = append(opts.DomainUniverse, estimator.GroupKey{
			Names:  append([]string(nil), groupBy...),
			Values: append([]string(nil), values...),
		})
	}
	if dec != nil {
		opts.Decompose = &estimator.DecomposeOptions{
			PrimaryUnit:     dec.PrimaryUnit,
			PopulationUnits: dec.PopulationUnits,
		}
	}
	return opts, nil
}

// deriveEffort appends an expanded-effort column computed from the request's
// count protocol. Each record is one counting occasion. Records with a
// missing count, window, or wait produce a missing value; the estimator
// surfaces those through its usual diagnostics.
func deriveEffort(d *design.Design, spec *api.EffortSpec) (*design.Design, error) {
	protocol, err := effort.ParseProtocol(spec.Protocol)
	if err != nil {
		return nil, &estimator.ConfigError{Field: "effort.protocol", Message: err.Error()}
	}

	counts, err := effortColumn(d, spec.CountColumn, "effort.count_column")
	if err != nil {
		return nil, err
	}

	var window []float64
	switch {
	case spec.WindowColumn != "":
		window, err = effortColumn(d, spec.WindowColumn, "effort.window_column")
		if err != nil {
			return nil, err
		}
	case spec.Window > 0:
	default:
		return nil, &estimator.ConfigError{Field: "effort.window", Message: "either window or window_column must be set"}
	}

	var waits []float64
	if protocol == effort.ProtocolBusRoute {
		if spec.WaitColumn == "" {
			return nil, &estimator.ConfigError{Field: "effort.wait_column", Message: "required for the bus_route protocol"}
		}
		waits, err = effortColumn(d, spec.WaitColumn, "effort.wait_column")
		if err != nil {
			return nil, err
		}
	}

	exp := effort.Expansion{Protocol: protocol, Coverage: spec.Coverage, Visibility: spec.Visibility}
	values := make([]float64, d.Len())
	for i := range values {
		w := spec.Window
		if window != nil {
			w = window[i]
		}
		series := effort.CountSeries{Counts: []float64{counts[i]}, Window: w}
		if waits != nil {
			series.Waits = []float64{waits[i]}
		}
		if seriesHasMissing(series) {
			values[i] = math.NaN()
			continue
		}
		v, expandErr := effort.Expand(series, exp)
		if expandErr != nil {
			return nil, fmt.Errorf("record %d: %w", i, expandErr)
		}
		values[i] = v
	}
	return d.WithNumeric(derivedEffortColumn, values)
}

func effortColumn(d *design.Design, name, field string) ([]float64, error) {
	col, ok := d.Numeric(name)
	if !ok {
		if d.HasColumn(name) {
			return nil, &estimator.ConfigError{Field: field, Message: fmt.Sprintf("column %q is not numeric", name)}
		}
		return nil, &estimator.ConfigError{
			Field:     field,
			Message:   fmt.Sprintf("column %q not found", name),
			Available: d.ColumnNames(),
		}
	}
	return col, nil
}

func seriesHasMissing(s effort.CountSeries) bool {
	if math.IsNaN(s.Window) {
		return true
	}
	for _, c := range s.Counts {
		if math.IsNaN(c) {
			return true
		}
	}
	for _, w := range s.Waits {
		if math.IsNaN(w) {
			return true
		}
	}
	return false
}

func productDataset(a, b store.Run) string {
	if a.Dataset == b.Dataset {
		return a.Dataset
	}
	return a.Dataset + "*" + b.Dataset
}
