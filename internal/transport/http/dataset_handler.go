package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "surveykit/internal/errors"
)

// DatasetHandler serves the dataset directory: listing and schema inspection.
type DatasetHandler struct {
	service      DatasetService
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewDatasetHandler creates a new dataset handler.
func NewDatasetHandler(service DatasetService, logger *slog.Logger) *DatasetHandler {
	return &DatasetHandler{
		service:      service,
		logger:       logger.With(slog.String("handler", "dataset")),
		errorHandler: apierrors.NewErrorHandler(logger, false),
	}
}

// RegisterRoutes registers the dataset routes.
func (h *DatasetHandler) RegisterRoutes(r chi.Router) {
	r.Route("/datasets", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{name}", h.Inspect)
	})
}

// List handles GET /api/v1/datasets.
func (h *DatasetHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.service.List(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list datasets",
			slog.String("error", err.Error()))
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, resp)
}

// Inspect handles GET /api/v1/datasets/{name}.
func (h *DatasetHandler) Inspect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	detail, err := h.service.Inspect(ctx, name)
	if err != nil {
		h.logger.WarnContext(ctx, "dataset inspection failed",
			slog.String("dataset", name),
			slog.String("error", err.Error()))
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, detail)
}
