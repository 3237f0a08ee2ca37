// Package api contains API contract definitions for the surveykit estimation
// service. Version v1 represents the current stable API version.
package api

// Estimation API Requests

// DesignSpec names the dataset columns that carry the sample design. Every
// field is optional: an empty weight column means self-representing records
// with weight 1, an empty stratum column means a single stratum, an empty
// cluster column means each record is its own primary sampling unit.
type DesignSpec struct {
	WeightColumn  string `json:"weight_column,omitempty"`
	StratumColumn string `json:"stratum_column,omitempty"`
	ClusterColumn string `json:"cluster_column,omitempty"`
	FPCColumn     string `json:"fpc_column,omitempty"`
}

// StatisticSpec asks for a plain weighted statistic of one response column.
type StatisticSpec struct {
	Kind        string `json:"kind" validate:"required,oneof=total mean ratio"`
	Response    string `json:"response" validate:"required"`
	Denominator string `json:"denominator,omitempty" validate:"required_if=Kind ratio"`
}

// RateSpec asks for a rate of one column over an exposure column, with
// explicit control over how paired observations combine and which exposures
// are too small to trust.
type RateSpec struct {
	Numerator   string  `json:"numerator" validate:"required"`
	Denominator string  `json:"denominator" validate:"required"`
	Rule        string  `json:"rule,omitempty" validate:"omitempty,oneof=ratio_of_sums mean_of_ratios"`
	MinExposure float64 `json:"min_exposure,omitempty" validate:"min=0"`
}

// EffortSpec derives an expanded-effort column from raw counts before
// estimation. Each record is one counting occasion; the derived column is
// estimated as a total under the request's design.
type EffortSpec struct {
	Protocol     string  `json:"protocol" validate:"required,oneof=instantaneous progressive bus_route aerial"`
	CountColumn  string  `json:"count_column" validate:"required"`
	WaitColumn   string  `json:"wait_column,omitempty"`
	Window       float64 `json:"window,omitempty" validate:"omitempty,gt=0"`
	WindowColumn string  `json:"window_column,omitempty"`
	Coverage     float64 `json:"coverage,omitempty" validate:"omitempty,gt=0,lte=1"`
	Visibility   float64 `json:"visibility,omitempty" validate:"omitempty,gte=1"`
}

// OptionsSpec carries the variance and execution settings of an estimation
// request. Zero values select the service defaults.
type OptionsSpec struct {
	Method          string  `json:"method,omitempty" validate:"omitempty,oneof=linearization bootstrap jackknife custom_replicate"`
	NumReplicates   int     `json:"num_replicates,omitempty" validate:"min=0"`
	ConfidenceLevel float64 `json:"confidence_level,omitempty" validate:"omitempty,gt=0,lt=1"`
	Seed            int64   `json:"seed,omitempty"`
	MaxParallel     int     `json:"max_parallel,omitempty" validate:"min=0"`
	SmallDomainMin  int     `json:"small_domain_min,omitempty" validate:"min=0"`
}

// DecomposeSpec opts the request into two-stage variance decomposition.
type DecomposeSpec struct {
	PrimaryUnit     string  `json:"primary_unit,omitempty"`
	PopulationUnits float64 `json:"population_units,omitempty" validate:"min=0"`
}

// EstimateRequest represents a request to run one estimation over a dataset.
// Exactly one of Statistic, Rate, and Effort must be set; the service rejects
// requests that set none or more than one.
type EstimateRequest struct {
	Dataset        string         `json:"dataset" validate:"required"`
	Design         DesignSpec     `json:"design"`
	Statistic      *StatisticSpec `json:"statistic,omitempty"`
	Rate           *RateSpec      `json:"rate,omitempty"`
	Effort         *EffortSpec    `json:"effort,omitempty"`
	GroupBy        []string       `json:"group_by,omitempty"`
	DomainUniverse [][]string     `json:"domain_universe,omitempty"`
	Options        OptionsSpec    `json:"options"`
	Decompose      *DecomposeSpec `json:"decompose,omitempty"`
}

// ProductRequest represents a request to combine two stored runs into
// per-domain products, effort times catch rate being the canonical case.
type ProductRequest struct {
	RunA            string   `json:"run_a" validate:"required,uuid"`
	RunB            string   `json:"run_b" validate:"required,uuid"`
	Correlation     *float64 `json:"correlation,omitempty" validate:"omitempty,gte=-1,lte=1"`
	PadUnmatched    bool     `json:"pad_unmatched,omitempty"`
	ConfidenceLevel float64  `json:"confidence_level,omitempty" validate:"omitempty,gt=0,lt=1"`
}

// Run API Requests

// RunListRequest represents a request to list stored runs
type RunListRequest struct {
	Limit int `json:"limit" query:"limit" validate:"omitempty,min=1,max=500"`
}

// RunExportRequest represents a request to export a stored run
type RunExportRequest struct {
	RunID  string `json:"run_id" param:"id" validate:"required,uuid"`
	Format string `json:"format" query:"format" validate:"omitempty,oneof=csv xlsx"`
}
