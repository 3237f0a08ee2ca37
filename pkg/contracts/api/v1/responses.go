package api

import "time"

// Estimation API Responses

// GroupKey identifies one domain in a response row: the grouping column
// names in request order and this domain's value for each. Both empty for
// the overall (ungrouped) row.
type GroupKey struct {
	Names  []string `json:"names,omitempty"`
	Values []string `json:"values,omitempty"`
}

// Diagnostic reports one non-fatal condition attached to a result row.
type Diagnostic struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Count   int    `json:"count,omitempty"`
}

// ResultRow is one row of the tidy output table. Numeric fields are pointers
// so that undefined values render as JSON null rather than a fabricated zero.
type ResultRow struct {
	Key             GroupKey     `json:"key"`
	Domain          string       `json:"domain"`
	Estimate        *float64     `json:"estimate"`
	SE              *float64     `json:"se"`
	CILow           *float64     `json:"ci_low"`
	CIHigh          *float64     `json:"ci_high"`
	Deff            *float64     `json:"deff"`
	N               int          `json:"n"`
	Method          string       `json:"method"`
	RequestedMethod string       `json:"requested_method"`
	VarAmong        *float64     `json:"var_among,omitempty"`
	VarWithin       *float64     `json:"var_within,omitempty"`
	Diagnostics     []Diagnostic `json:"diagnostics,omitempty"`
}

// EstimateResponse represents a completed estimation run
type EstimateResponse struct {
	RunID           string      `json:"run_id"`
	CreatedAt       time.Time   `json:"created_at"`
	Dataset         string      `json:"dataset"`
	Statistic       string      `json:"statistic"`
	Method          string      `json:"method"`
	RequestedMethod string      `json:"requested_method"`
	Rows            []ResultRow `json:"rows"`
	Notes           []string    `json:"notes,omitempty"`
	DurationMS      int64       `json:"duration_ms"`
}

// Run API Responses

// RunSummary represents one stored run without its result rows
type RunSummary struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	Dataset         string    `json:"dataset"`
	Statistic       string    `json:"statistic"`
	Method          string    `json:"method"`
	RequestedMethod string    `json:"requested_method"`
	Rows            int       `json:"rows"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
}

// RunListResponse represents the stored run history
type RunListResponse struct {
	Runs  []RunSummary `json:"runs"`
	Count int          `json:"count"`
}

// RunDetail represents one stored run with its full result table
type RunDetail struct {
	RunSummary
	Results []ResultRow `json:"results"`
}

// Dataset API Responses

// DatasetSummary represents one loadable dataset file
type DatasetSummary struct {
	Name       string    `json:"name"`
	Format     string    `json:"format"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// DatasetListResponse represents the dataset directory listing
type DatasetListResponse struct {
	Datasets []DatasetSummary `json:"datasets"`
	Count    int              `json:"count"`
}

// ColumnInfo describes one dataset column for request building
type ColumnInfo struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Missing int      `json:"missing"`
	Sample  []string `json:"sample,omitempty"`
}

// DatasetDetail represents one dataset's inferred schema
type DatasetDetail struct {
	Name    string       `json:"name"`
	Format  string       `json:"format"`
	Rows    int          `json:"rows"`
	Columns []ColumnInfo `json:"columns"`
}
