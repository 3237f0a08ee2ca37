package estimator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"surveykit/internal/design"
)

// MissingCategory is the group-key value given to records whose grouping
// column is missing. Missing values form their own domain, never a silent
// merge into another category and never a dropped record.
const MissingCategory = "<missing>"

// DomainEstimator drives the Backend once per domain and assembles the tidy
// per-domain result table. It owns the two guarantees the Backend cannot
// give: per-domain sample counts joined to estimates strictly by group key,
// and domain health surfaced before and after the numeric work.
type DomainEstimator struct {
	backend *Backend
	logger  *slog.Logger
}

// NewDomainEstimator returns a DomainEstimator over the given backend.
// A nil backend or logger falls back to defaults.
func NewDomainEstimator(backend *Backend, logger *slog.Logger) *DomainEstimator {
	if logger == nil {
		logger = slog.Default()
	}
	if backend == nil {
		backend = NewBackend(logger)
	}
	return &DomainEstimator{backend: backend, logger: logger}
}

// partition is one discovered domain: its key and the input rows bearing it.
type partition struct {
	key  GroupKey
	rows []int
}

// EstimateByDomain estimates the statistic once per domain discovered from
// the grouping columns, in first-appearance order. An empty groupBy computes
// a single overall row. Domains declared in opts.DomainUniverse but absent
// from the data are appended as empty rows in caller order.
func (e *DomainEstimator) EstimateByDomain(ctx context.Context, d *design.Design, s Statistic, groupBy []string, opts Options) ([]Result, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := validateStatistic(d, s); err != nil {
		return nil, err
	}
	cols, err := resolveGroupColumns(d, groupBy)
	if err != nil {
		return nil, err
	}
	if err := validateUniverse(opts.DomainUniverse, groupBy); err != nil {
		return nil, err
	}
	if opts.Decompose != nil {
		if err := validateDecompose(d, opts.Decompose); err != nil {
			return nil, err
		}
	}

	parts := partitionByKey(d, groupBy, cols)

	// Sample counts per domain, computed from the input records alone. The
	// final table joins these to the backend's rows by key, never by the
	// order either computation happened to visit domains in.
	counts := make(map[string]int, len(parts))
	for _, p := range parts {
		counts[p.key.id()] = len(p.rows)
	}

	start := time.Now()
	e.logger.InfoContext(ctx, "estimating by domain",
		"statistic", s.String(),
		"group_by", strings.Join(groupBy, ","),
		"method", opts.Method.String(),
		"domains", len(parts),
	)

	results := make([]Result, len(parts))
	if opts.MaxParallel > 1 && len(parts) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.MaxParallel)
		for i := range parts {
			g.Go(func() error {
				res, err := e.estimateDomain(gctx, d, s, parts[i], opts)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range parts {
			res, err := e.estimateDomain(ctx, d, s, parts[i], opts)
			if err != nil {
				return nil, err
			}
			results[i] = res
		}
	}

	byKey := make(map[string]*Result, len(results))
	for i := range results {
		byKey[results[i].Key.id()] = &results[i]
	}

	out := make([]Result, 0, len(parts)+len(opts.DomainUniverse))
	for _, p := range parts {
		res, ok := byKey[p.key.id()]
		if !ok {
			return nil, fmt.Errorf("estimator: no estimate computed for domain %q", p.key)
		}
		n, ok := counts[p.key.id()]
		if !ok {
			return nil, fmt.Errorf("estimator: no record count for domain %q", p.key)
		}
		res.N = n
		if n > 0 && n < opts.SmallDomainMin {
			res.addDiagnostic(DataQuality, CodeSmallDomain,
				fmt.Sprintf("domain has %d record(s), below the stability threshold of %d", n, opts.SmallDomainMin), n)
			e.logger.WarnContext(ctx, "small domain, variance estimate may be unstable",
				"domain", p.key.String(),
				"records", n,
				"threshold", opts.SmallDomainMin,
			)
		}
		out = append(out, *res)
	}

	// Requested domains the data never produced. Surfaced, never estimated.
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		seen[p.key.id()] = true
	}
	for _, key := range opts.DomainUniverse {
		norm := GroupKey{Names: append([]string(nil), groupBy...), Values: append([]string(nil), key.Values...)}
		if seen[norm.id()] {
			continue
		}
		seen[norm.id()] = true
		row := newResult(norm)
		row.Method = opts.Method
		row.RequestedMethod = opts.Method
		row.addDiagnostic(DataQuality, CodeEmptyDomain, "domain requested but has no records", 0)
		e.logger.WarnContext(ctx, "requested domain has no records", "domain", norm.String())
		out = append(out, row)
	}

	e.logger.InfoContext(ctx, "domain estimation completed",
		"domains", len(out),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (e *DomainEstimator) estimateDomain(ctx context.Context, d *design.Design, s Statistic, p partition, opts Options) (Result, error) {
	sub := d.Subset(p.rows)
	res, err := e.backend.estimate(ctx, sub, s, opts)
	if err != nil {
		return Result{}, err
	}
	res.Key = p.key
	if res.HasDiagnostic(CodeMethodFallback) {
		e.logger.WarnContext(ctx, "variance method fell back to linearization",
			"domain", p.key.String(),
			"requested_method", res.RequestedMethod.String(),
		)
	}
	if opts.Decompose != nil {
		applyDecomposition(&res, sub, s, opts.Decompose)
	}
	return res, nil
}

// keyColumn reads group-key components from a label column, or from a
// numeric column by formatting its values.
type keyColumn struct {
	labels  []string
	numeric []float64
}

func (c keyColumn) valueAt(i int) string {
	if c.labels != nil {
		if c.labels[i] == "" {
			return MissingCategory
		}
		return c.labels[i]
	}
	v := c.numeric[i]
	if math.IsNaN(v) {
		return MissingCategory
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func resolveGroupColumns(d *design.Design, groupBy []string) ([]keyColumn, error) {
	if len(groupBy) == 0 {
		return nil, nil
	}
	cols := make([]keyColumn, 0, len(groupBy))
	var missing []string
	for _, name := range groupBy {
		if name == "" {
			return nil, newConfigError("group_by", "empty column name")
		}
		if lab, ok := d.Labels(name); ok {
			cols = append(cols, keyColumn{labels: lab})
			continue
		}
		if num, ok := d.Numeric(name); ok {
			cols = append(cols, keyColumn{numeric: num})
			continue
		}
		missing = append(missing, name)
	}
	if len(missing) > 0 {
		return nil, &ConfigError{
			Field:     "group_by",
			Message:   fmt.Sprintf("column(s) not in the design: %s", strings.Join(missing, ", ")),
			Available: d.ColumnNames(),
		}
	}
	return cols, nil
}

func validateUniverse(universe []GroupKey, groupBy []string) error {
	if len(universe) == 0 {
		return nil
	}
	if len(groupBy) == 0 {
		return newConfigError("domain_universe", "declared without group_by columns")
	}
	for i, key := range universe {
		if len(key.Values) != len(groupBy) {
			return newConfigError("domain_universe",
				"entry %d has %d values for %d group_by column(s)", i, len(key.Values), len(groupBy))
		}
	}
	return nil
}

func validateDecompose(d *design.Design, opts *DecomposeOptions) error {
	if math.IsNaN(opts.PopulationUnits) || math.IsInf(opts.PopulationUnits, 0) || opts.PopulationUnits < 0 {
		return newConfigError("decompose.population_units", "must be a non-negative finite count, got %v", opts.PopulationUnits)
	}
	if opts.PrimaryUnit == "" {
		return nil
	}
	if _, ok := d.Labels(opts.PrimaryUnit); !ok {
		return &ConfigError{
			Field:     "decompose.primary_unit",
			Message:   fmt.Sprintf("%q is not a label column of the design", opts.PrimaryUnit),
			Available: d.ColumnNames(),
		}
	}
	return nil
}

func partitionByKey(d *design.Design, groupBy []string, cols []keyColumn) []partition {
	n := d.Len()
	if len(groupBy) == 0 {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		return []partition{{key: GroupKey{}, rows: rows}}
	}

	idx := make(map[string]int)
	var parts []partition
	for i := 0; i < n; i++ {
		values := make([]string, len(cols))
		for j, col := range cols {
			values[j] = col.valueAt(i)
		}
		id := strings.Join(values, keySep)
		pi, ok := idx[id]
		if !ok {
			pi = len(parts)
			idx[id] = pi
			parts = append(parts, partition{key: GroupKey{
				Names:  append([]string(nil), groupBy...),
				Values: values,
			}})
		}
		parts[pi].rows = append(parts[pi].rows, i)
	}
	return parts
}
