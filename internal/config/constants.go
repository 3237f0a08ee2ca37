package config

import "time"

// Application constants shared across the surveykit binaries
const (
	// Application Info
	AppName = "surveykit"

	// HTTP Server
	DefaultPort = 8080

	// Rate Limiting
	DefaultRateLimitRPS   = 100.0
	DefaultRateLimitBurst = 50

	// Timeouts. Replicate estimation over large datasets can run for
	// minutes, so the per-request budget is generous.
	DefaultRequestTimeout  = 5 * time.Minute
	DefaultShutdownTimeout = 30 * time.Second

	// File Paths (relative to executable)
	DefaultDataDir   = "data"
	DefaultStoreFile = "data/runs.db"
	DefaultLogsDir   = "logs"

	// Log Settings
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// API Endpoints (internal)
const (
	APIBasePath       = "/api/v1"
	EstimatesEndpoint = "/api/v1/estimates"
	RunsEndpoint      = "/api/v1/runs"
	DatasetsEndpoint  = "/api/v1/datasets"
	HealthEndpoint    = "/api/v1/health"
	MetricsEndpoint   = "/metrics"
)
