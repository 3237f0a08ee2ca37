package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "surveykit/internal/errors"
	"surveykit/internal/estimator"
	"surveykit/internal/middleware"
	"surveykit/internal/services"
	"surveykit/internal/store"
	"surveykit/pkg/contracts"
	api "surveykit/pkg/contracts/api/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubEstimationService implements EstimationService for handler tests.
type stubEstimationService struct {
	estimateFn  func(ctx context.Context, req api.EstimateRequest) (*api.EstimateResponse, error)
	productFn   func(ctx context.Context, req api.ProductRequest) (*api.EstimateResponse, error)
	runsFn      func(ctx context.Context, limit int) (*api.RunListResponse, error)
	runFn       func(ctx context.Context, id string) (*api.RunDetail, error)
	runTableFn  func(ctx context.Context, id string) (store.Run, []estimator.Result, error)
	deleteRunFn func(ctx context.Context, id string) error
}

func (s *stubEstimationService) Estimate(ctx context.Context, req api.EstimateRequest) (*api.EstimateResponse, error) {
	return s.estimateFn(ctx, req)
}

func (s *stubEstimationService) Product(ctx context.Context, req api.ProductRequest) (*api.EstimateResponse, error) {
	return s.productFn(ctx, req)
}

func (s *stubEstimationService) Runs(ctx context.Context, limit int) (*api.RunListResponse, error) {
	return s.runsFn(ctx, limit)
}

func (s *stubEstimationService) Run(ctx context.Context, id string) (*api.RunDetail, error) {
	return s.runFn(ctx, id)
}

func (s *stubEstimationService) RunTable(ctx context.Context, id string) (store.Run, []estimator.Result, error) {
	return s.runTableFn(ctx, id)
}

func (s *stubEstimationService) DeleteRun(ctx context.Context, id string) error {
	return s.deleteRunFn(ctx, id)
}

func newEstimateRouter(svc EstimationService) chi.Router {
	logger := testLogger()
	vm := middleware.NewValidationMiddleware(logger, apierrors.NewErrorHandler(logger, false))
	h := NewEstimateHandler(svc, vm, logger)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func validEstimateBody() string {
	return `{
		"dataset": "survey.csv",
		"design": {"weight_column": "w", "stratum_column": "stratum", "cluster_column": "psu"},
		"statistic": {"kind": "mean", "response": "catch_kg"},
		"group_by": ["zone"],
		"options": {"method": "linearization", "confidence_level": 0.95}
	}`
}

func TestEstimateHandler_Estimate(t *testing.T) {
	t.Run("success returns 201 with body", func(t *testing.T) {
		svc := &stubEstimationService{
			estimateFn: func(ctx context.Context, req api.EstimateRequest) (*api.EstimateResponse, error) {
				assert.Equal(t, "survey.csv", req.Dataset)
				assert.Equal(t, []string{"zone"}, req.GroupBy)
				return &api.EstimateResponse{
					RunID:     "6f0e3f9e-4b34-4d7e-9a11-000000000001",
					CreatedAt: time.Now(),
					Dataset:   req.Dataset,
					Statistic: "mean(catch_kg)",
					Method:    "linearization",
				}, nil
			},
		}

		req := httptest.NewRequest(http.MethodPost, "/estimates", strings.NewReader(validEstimateBody()))
		rec := httptest.NewRecorder()
		newEstimateRouter(svc).ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)
		var resp api.EstimateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "mean(catch_kg)", resp.Statistic)
	})

	t.Run("malformed JSON returns 400", func(t *testing.T) {
		svc := &stubEstimationService{}
		req := httptest.NewRequest(http.MethodPost, "/estimates", strings.NewReader("{nope"))
		rec := httptest.NewRecorder()
		newEstimateRouter(svc).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	})

	t.Run("missing dataset fails validation", func(t *testing.T) {
		svc := &stubEstimationService{}
		body := `{"statistic": {"kind": "mean", "response": "catch_kg"}}`
		req := httptest.NewRequest(http.MethodPost, "/estimates", strings.NewReader(body))
		rec := httptest.NewRecorder()
		newEstimateRouter(svc).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "dataset")
	})

	t.Run("unknown column maps to 400 with available columns", func(t *testing.T) {
		svc := &stubEstimationService{
			estimateFn: func(ctx context.Context, req api.EstimateRequest) (*api.EstimateResponse, error) {
				return nil, &estimator.ConfigError{
					Field:     "statistic.response",
					Message:   `column "catch_kg" not found`,
					Available: []string{"weight", "zone"},
				}
			},
		}

		req := httptest.NewRequest(http.MethodPost, "/estimates", strings.NewReader(validEstimateBody()))
		rec := httptest.NewRecorder()
		newEstimateRouter(svc).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "available_columns")
	})
}

func TestEstimateHandler_Product(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := &stubEstimationService{
			productFn: func(ctx context.Context, req api.ProductRequest) (*api.EstimateResponse, error) {
				return &api.EstimateResponse{RunID: "6f0e3f9e-4b34-4d7e-9a11-000000000003"}, nil
			},
		}

		body := `{
			"run_a": "6f0e3f9e-4b34-4d7e-9a11-000000000001",
			"run_b": "6f0e3f9e-4b34-4d7e-9a11-000000000002"
		}`
		req := httptest.NewRequest(http.MethodPost, "/estimates/product", strings.NewReader(body))
		rec := httptest.NewRecorder()
		newEstimateRouter(svc).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("non-uuid run id fails validation", func(t *testing.T) {
		svc := &stubEstimationService{}
		body := `{"run_a": "not-a-uuid", "run_b": "also-not"}`
		req := httptest.NewRequest(http.MethodPost, "/estimates/product", strings.NewReader(body))
		rec := httptest.NewRecorder()
		newEstimateRouter(svc).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown run maps to 404", func(t *testing.T) {
		svc := &stubEstimationService{
			productFn: func(ctx context.Context, req api.ProductRequest) (*api.EstimateResponse, error) {
				return nil, store.ErrRunNotFound
			},
		}

		body := `{
			"run_a": "6f0e3f9e-4b34-4d7e-9a11-000000000001",
			"run_b": "6f0e3f9e-4b34-4d7e-9a11-000000000002"
		}`
		req := httptest.NewRequest(http.MethodPost, "/estimates/product", strings.NewReader(body))
		rec := httptest.NewRecorder()
		newEstimateRouter(svc).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func newRunsRouter(svc EstimationService) chi.Router {
	h := NewRunsHandler(svc, nil, testLogger())
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestRunsHandler_List(t *testing.T) {
	t.Run("default limit", func(t *testing.T) {
		var gotLimit int
		svc := &stubEstimationService{
			runsFn: func(ctx context.Context, limit int) (*api.RunListResponse, error) {
				gotLimit = limit
				return &api.RunListResponse{Runs: []api.RunSummary{}, Count: 0}, nil
			},
		}

		req := httptest.NewRequest(http.MethodGet, "/runs", nil)
		rec := httptest.NewRecorder()
		newRunsRouter(svc).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, defaultRunListLimit, gotLimit)
	})

	t.Run("limit above cap rejected", func(t *testing.T) {
		svc := &stubEstimationService{}
		req := httptest.NewRequest(http.MethodGet, "/runs?limit=1000", nil)
		rec := httptest.NewRecorder()
		newRunsRouter(svc).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRunsHandler_Get(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		svc := &stubEstimationService{
			runFn: func(ctx context.Context, id string) (*api.RunDetail, error) {
				return &api.RunDetail{
					RunSummary: api.RunSummary{ID: id, Status: store.StatusCompleted},
				}, nil
			},
		}

		req := httptest.NewRequest(http.MethodGet, "/runs/abc", nil)
		rec := httptest.NewRecorder()
		newRunsRouter(svc).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var detail api.RunDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
		assert.Equal(t, "abc", detail.ID)
	})

	t.Run("not found maps to 404", func(t *testing.T) {
		svc := &stubEstimationService{
			runFn: func(ctx context.Context, id string) (*api.RunDetail, error) {
				return nil, store.ErrRunNotFound
			},
		}

		req := httptest.NewRequest(http.MethodGet, "/runs/missing", nil)
		rec := httptest.NewRecorder()
		newRunsRouter(svc).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	})
}

func TestRunsHandler_Delete(t *testing.T) {
	svc := &stubEstimationService{
		deleteRunFn: func(ctx context.Context, id string) error { return nil },
	}

	req := httptest.NewRequest(http.MethodDelete, "/runs/abc", nil)
	rec := httptest.NewRecorder()
	newRunsRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func exportStub() *stubEstimationService {
	return &stubEstimationService{
		runTableFn: func(ctx context.Context, id string) (store.Run, []estimator.Result, error) {
			run := store.Run{
				ID:        id,
				CreatedAt: time.Now(),
				Dataset:   "survey.csv",
				Statistic: "mean(catch_kg)",
				Method:    "linearization",
				Status:    store.StatusCompleted,
				Rows:      1,
			}
			results := []estimator.Result{{
				Key:             estimator.GroupKey{Names: []string{"zone"}, Values: []string{"north"}},
				Estimate:        12.5,
				SE:              1.25,
				CILow:           10.05,
				CIHigh:          14.95,
				N:               42,
				Deff:            1.8,
				Method:          estimator.Linearization,
				RequestedMethod: estimator.Linearization,
				VarAmong:        math.NaN(),
				VarWithin:       math.NaN(),
			}}
			return run, results, nil
		},
	}
}

func TestRunsHandler_Export(t *testing.T) {
	t.Run("csv default", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs/abc/export", nil)
		rec := httptest.NewRecorder()
		newRunsRouter(exportStub()).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "run-abc.csv")
		body := bytes.TrimPrefix(rec.Body.Bytes(), []byte{0xEF, 0xBB, 0xBF})
		assert.True(t, bytes.HasPrefix(body, []byte("zone,estimate")))
	})

	t.Run("xlsx", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs/abc/export?format=xlsx", nil)
		rec := httptest.NewRecorder()
		newRunsRouter(exportStub()).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "run-abc.xlsx")
	})

	t.Run("unknown format rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs/abc/export?format=pdf", nil)
		rec := httptest.NewRecorder()
		newRunsRouter(exportStub()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// stubDatasetService implements DatasetService for handler tests.
type stubDatasetService struct {
	listFn    func(ctx context.Context) (*api.DatasetListResponse, error)
	inspectFn func(ctx context.Context, name string) (*api.DatasetDetail, error)
}

func (s *stubDatasetService) List(ctx context.Context) (*api.DatasetListResponse, error) {
	return s.listFn(ctx)
}

func (s *stubDatasetService) Inspect(ctx context.Context, name string) (*api.DatasetDetail, error) {
	return s.inspectFn(ctx, name)
}

func newDatasetRouter(svc DatasetService) chi.Router {
	h := NewDatasetHandler(svc, testLogger())
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestDatasetHandler(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		svc := &stubDatasetService{
			listFn: func(ctx context.Context) (*api.DatasetListResponse, error) {
				return &api.DatasetListResponse{
					Datasets: []api.DatasetSummary{{Name: "survey.csv", Format: "csv"}},
					Count:    1,
				}, nil
			},
		}

		req := httptest.NewRequest(http.MethodGet, "/datasets", nil)
		rec := httptest.NewRecorder()
		newDatasetRouter(svc).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp api.DatasetListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
	})

	t.Run("inspect", func(t *testing.T) {
		svc := &stubDatasetService{
			inspectFn: func(ctx context.Context, name string) (*api.DatasetDetail, error) {
				return &api.DatasetDetail{
					Name:    name,
					Format:  "csv",
					Rows:    10,
					Columns: []api.ColumnInfo{{Name: "zone", Type: "string"}},
				}, nil
			},
		}

		req := httptest.NewRequest(http.MethodGet, "/datasets/survey.csv", nil)
		rec := httptest.NewRecorder()
		newDatasetRouter(svc).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var detail api.DatasetDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
		assert.Equal(t, "survey.csv", detail.Name)
	})
}

// stubHealthService implements HealthService for handler tests.
type stubHealthService struct {
	ready bool
}

func (s *stubHealthService) HealthCheck(ctx context.Context) services.HealthStatus {
	return services.HealthStatus{Status: "ok", Timestamp: time.Now(), Version: contracts.Version}
}

func (s *stubHealthService) ReadinessCheck(ctx context.Context) services.HealthStatus {
	status := "ready"
	if !s.ready {
		status = "not_ready"
	}
	return services.HealthStatus{Status: status, Timestamp: time.Now(), Version: contracts.Version}
}

func (s *stubHealthService) LivenessCheck(ctx context.Context) services.HealthStatus {
	return services.HealthStatus{Status: "alive", Timestamp: time.Now(), Version: contracts.Version}
}

func (s *stubHealthService) Version() contracts.VersionInfo {
	return contracts.GetVersionInfo()
}

func TestHealthHandler(t *testing.T) {
	newRouter := func(ready bool) chi.Router {
		h := NewHealthHandler(&stubHealthService{ready: ready}, testLogger())
		r := chi.NewRouter()
		h.RegisterRoutes(r)
		return r
	}

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newRouter(true).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"ok"`)
	})

	t.Run("ready", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newRouter(true).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("not ready returns 503", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newRouter(false).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("version", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newRouter(true).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), contracts.Version)
	})
}
