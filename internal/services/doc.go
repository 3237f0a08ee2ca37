// Package services implements the business logic layer between the HTTP
// handlers and the estimation core. It owns request validation beyond field
// shape, dataset loading, design construction, run persistence, and the
// mapping between core result rows and API response rows.
//
// # Architecture
//
// Services follow these principles:
//
//	1. Context propagation for cancellation and tracing
//	2. Dependency injection for loose coupling
//	3. Structured logging and business metrics at operation boundaries
//	4. Error transformation into the shared config-error taxonomy
//
// # Available Services
//
//	- EstimationService: runs estimations, combines stored runs, run history
//	- DatasetService: dataset discovery and column inspection
//	- HealthService: liveness, readiness, and version information
//
// NaN is the in-process missing-value sentinel; it is converted to JSON null
// at this layer and never escapes into a response body.
package services
