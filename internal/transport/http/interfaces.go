package http

import (
	"context"

	"surveykit/internal/estimator"
	"surveykit/internal/services"
	"surveykit/internal/store"
	"surveykit/pkg/contracts"
	api "surveykit/pkg/contracts/api/v1"
)

// EstimationService is the estimation surface the handlers need. Satisfied by
// *services.EstimationService; narrowed here so handler tests can stub it.
type EstimationService interface {
	Estimate(ctx context.Context, req api.EstimateRequest) (*api.EstimateResponse, error)
	Product(ctx context.Context, req api.ProductRequest) (*api.EstimateResponse, error)
	Runs(ctx context.Context, limit int) (*api.RunListResponse, error)
	Run(ctx context.Context, id string) (*api.RunDetail, error)
	RunTable(ctx context.Context, id string) (store.Run, []estimator.Result, error)
	DeleteRun(ctx context.Context, id string) error
}

// DatasetService is the dataset surface the handlers need.
type DatasetService interface {
	List(ctx context.Context) (*api.DatasetListResponse, error)
	Inspect(ctx context.Context, name string) (*api.DatasetDetail, error)
}

// HealthService is the health surface the handlers need.
type HealthService interface {
	HealthCheck(ctx context.Context) services.HealthStatus
	ReadinessCheck(ctx context.Context) services.HealthStatus
	LivenessCheck(ctx context.Context) services.HealthStatus
	Version() contracts.VersionInfo
}
