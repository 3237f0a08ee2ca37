package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apierrors "surveykit/internal/errors"
	"surveykit/internal/exporter"
	"surveykit/internal/infrastructure"
	"surveykit/internal/middleware"
)

const defaultRunListLimit = 50

// RunsHandler serves the stored run history: listing, inspection, export,
// and deletion.
type RunsHandler struct {
	service      EstimationService
	metrics      *infrastructure.BusinessMetrics
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
	queryParams  *middleware.QueryParamValidator
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(service EstimationService, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *RunsHandler {
	errorHandler := apierrors.NewErrorHandler(logger, false)
	return &RunsHandler{
		service:      service,
		metrics:      metrics,
		logger:       logger.With(slog.String("handler", "runs")),
		errorHandler: errorHandler,
		queryParams:  middleware.NewQueryParamValidator(logger, errorHandler),
	}
}

// RegisterRoutes registers the run routes.
func (h *RunsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Delete("/{id}", h.Delete)
		r.Get("/{id}/export", h.Export)
	})
}

// List handles GET /api/v1/runs.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, ok := h.queryParams.ValidateInt(w, r, "limit", 1, 500, defaultRunListLimit)
	if !ok {
		return
	}

	resp, err := h.service.Runs(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list runs",
			slog.String("error", err.Error()))
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, resp)
}

// Get handles GET /api/v1/runs/{id}.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	detail, err := h.service.Run(ctx, id)
	if err != nil {
		h.logger.WarnContext(ctx, "run lookup failed",
			slog.String("run_id", id),
			slog.String("error", err.Error()))
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, detail)
}

// Delete handles DELETE /api/v1/runs/{id}.
func (h *RunsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.service.DeleteRun(ctx, id); err != nil {
		h.logger.WarnContext(ctx, "run deletion failed",
			slog.String("run_id", id),
			slog.String("error", err.Error()))
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "run deleted", slog.String("run_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// Export handles GET /api/v1/runs/{id}/export?format=csv|xlsx.
func (h *RunsHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	format, ok := h.queryParams.ValidateEnum(w, r, "format", []string{"csv", "xlsx"}, "csv")
	if !ok {
		return
	}

	run, results, err := h.service.RunTable(ctx, id)
	if err != nil {
		h.logger.WarnContext(ctx, "run export lookup failed",
			slog.String("run_id", id),
			slog.String("error", err.Error()))
		h.errorHandler.HandleError(w, r, err)
		return
	}

	filename := fmt.Sprintf("run-%s.%s", run.ID, format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	switch format {
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		err = exporter.WriteXLSX(w, run, results)
	default:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		err = exporter.WriteCSV(w, exporter.BuildTable(results), exporter.CSVOptions{BOMPrefix: true})
	}
	if err != nil {
		// Headers are out by now; all that is left is logging the failure.
		h.logger.ErrorContext(ctx, "run export write failed",
			slog.String("run_id", id),
			slog.String("format", format),
			slog.String("error", err.Error()))
		return
	}

	if h.metrics != nil && h.metrics.RunExports != nil {
		h.metrics.RunExports.Add(ctx, 1,
			metric.WithAttributes(attribute.String("format", format)))
	}

	h.logger.InfoContext(ctx, "run exported",
		slog.String("run_id", id),
		slog.String("format", format),
		slog.Int("rows", len(results)))
}
