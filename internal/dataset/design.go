package dataset

import (
	"fmt"
	"math"
	"strconv"

	"surveykit/internal/design"
	"surveykit/internal/estimator"
)

// DesignSpec names the table columns that carry the sampling design roles.
// Every field is optional: without a weight column each record is
// self-representing with weight 1, without a stratum column the sample forms
// one stratum, and without a cluster column every record is its own PSU.
type DesignSpec struct {
	WeightColumn  string
	StratumColumn string
	ClusterColumn string
	FPCColumn     string
}

// BuildDesign assembles the estimation core's sample design from a loaded
// table. All table columns are carried into the design, so design-role
// columns stay available for grouping and measures.
func BuildDesign(t *Table, spec DesignSpec) (*design.Design, error) {
	if t == nil || t.Rows == 0 {
		return nil, &estimator.ConfigError{
			Field:   "design",
			Message: "dataset has no data rows",
		}
	}

	weights := make([]float64, t.Rows)
	if spec.WeightColumn == "" {
		for i := range weights {
			weights[i] = 1
		}
	} else {
		col, err := numericRole(t, spec.WeightColumn, "design.weight_column")
		if err != nil {
			return nil, err
		}
		copy(weights, col.Numeric)
	}

	var strata []string
	if spec.StratumColumn != "" {
		vals, err := labelRole(t, spec.StratumColumn, "design.stratum_column")
		if err != nil {
			return nil, err
		}
		strata = vals
	}

	var clusters []string
	if spec.ClusterColumn != "" {
		vals, err := labelRole(t, spec.ClusterColumn, "design.cluster_column")
		if err != nil {
			return nil, err
		}
		clusters = vals
	}

	var fpc map[string]float64
	if spec.FPCColumn != "" {
		col, err := numericRole(t, spec.FPCColumn, "design.fpc_column")
		if err != nil {
			return nil, err
		}
		fpc = make(map[string]float64)
		for i, v := range col.Numeric {
			if math.IsNaN(v) {
				continue
			}
			stratum := ""
			if strata != nil {
				stratum = strata[i]
			}
			prev, ok := fpc[stratum]
			if ok && prev != v {
				return nil, &estimator.ConfigError{
					Field: "design.fpc_column",
					Message: fmt.Sprintf("stratum %q has conflicting sampling fractions %v and %v",
						stratum, prev, v),
				}
			}
			fpc[stratum] = v
		}
	}

	numeric := make(map[string][]float64)
	labels := make(map[string][]string)
	for i := range t.Columns {
		c := &t.Columns[i]
		switch c.Kind {
		case KindNumeric:
			numeric[c.Name] = c.Numeric
		case KindLabel:
			labels[c.Name] = c.Labels
		}
	}

	d, err := design.New(design.Frame{
		Weights:  weights,
		Strata:   strata,
		Clusters: clusters,
		FPC:      fpc,
		Numeric:  numeric,
		Labels:   labels,
	})
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", t.Name, err)
	}
	return d, nil
}

// numericRole resolves a design-role column that must be numeric.
func numericRole(t *Table, name, field string) (*Column, error) {
	col, ok := t.Column(name)
	if !ok {
		return nil, &estimator.ConfigError{
			Field:     field,
			Message:   fmt.Sprintf("column %q not found", name),
			Available: t.ColumnNames(),
		}
	}
	if col.Kind != KindNumeric {
		return nil, &estimator.ConfigError{
			Field:   field,
			Message: fmt.Sprintf("column %q is not numeric", name),
		}
	}
	return col, nil
}

// labelRole resolves a design-role column holding category ids. A numeric
// column is accepted and formatted the way group keys format numbers.
func labelRole(t *Table, name, field string) ([]string, error) {
	col, ok := t.Column(name)
	if !ok {
		return nil, &estimator.ConfigError{
			Field:     field,
			Message:   fmt.Sprintf("column %q not found", name),
			Available: t.ColumnNames(),
		}
	}
	if col.Kind == KindLabel {
		return col.Labels, nil
	}
	vals := make([]string, len(col.Numeric))
	for i, v := range col.Numeric {
		if math.IsNaN(v) {
			continue
		}
		vals[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return vals, nil
}
