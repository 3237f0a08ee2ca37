package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"surveykit/internal/store"
	"surveykit/pkg/contracts"
)

// HealthService provides liveness, readiness, and version information.
type HealthService struct {
	dataDir   string
	store     store.Store
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents a health or readiness response.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult represents one readiness check.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthService creates a health service over the service's two external
// dependencies: the dataset directory and the run store.
func NewHealthService(dataDir string, st store.Store, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		dataDir:   dataDir,
		store:     st,
		startTime: time.Now(),
		logger:    logger,
	}
}

// HealthCheck returns overall health status.
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	hs.logger.DebugContext(ctx, "health check",
		slog.String("uptime", time.Since(hs.startTime).String()))

	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   contracts.Version,
		Runtime: map[string]interface{}{
			"uptime_seconds": time.Since(hs.startTime).Seconds(),
			"go_version":     runtime.Version(),
			"goroutines":     runtime.NumGoroutine(),
		},
	}
}

// ReadinessCheck verifies the dependencies a request needs: a readable data
// directory and a reachable run store.
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   contracts.Version,
		Checks:    make(map[string]CheckResult),
	}

	status.Checks["data_dir"] = hs.checkDataDir()
	status.Checks["store"] = hs.checkStore(ctx)

	for name, check := range status.Checks {
		if check.Status != "ready" {
			status.Status = "not_ready"
			hs.logger.WarnContext(ctx, "readiness check failed",
				slog.String("check", name),
				slog.String("message", check.Message))
		}
	}
	return status
}

// LivenessCheck returns liveness status.
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   contracts.Version,
	}
}

// Version returns build and version information.
func (hs *HealthService) Version() contracts.VersionInfo {
	return contracts.GetVersionInfo()
}

func (hs *HealthService) checkDataDir() CheckResult {
	info, err := os.Stat(hs.dataDir)
	if err != nil {
		return CheckResult{
			Status:  "not_ready",
			Message: fmt.Sprintf("data directory: %v", err),
		}
	}
	if !info.IsDir() {
		return CheckResult{
			Status:  "not_ready",
			Message: fmt.Sprintf("data directory %q is not a directory", hs.dataDir),
		}
	}
	return CheckResult{Status: "ready"}
}

func (hs *HealthService) checkStore(ctx context.Context) CheckResult {
	if err := hs.store.Ping(ctx); err != nil {
		return CheckResult{
			Status:  "not_ready",
			Message: fmt.Sprintf("store: %v", err),
		}
	}
	return CheckResult{Status: "ready"}
}
