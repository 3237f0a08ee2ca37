package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "surveykit/internal/errors"
	"surveykit/internal/middleware"
	api "surveykit/pkg/contracts/api/v1"
)

// EstimateHandler handles estimation HTTP requests.
type EstimateHandler struct {
	service      EstimationService
	validator    *middleware.ValidationMiddleware
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewEstimateHandler creates a new estimation handler.
func NewEstimateHandler(service EstimationService, validator *middleware.ValidationMiddleware, logger *slog.Logger) *EstimateHandler {
	return &EstimateHandler{
		service:      service,
		validator:    validator,
		logger:       logger.With(slog.String("handler", "estimate")),
		errorHandler: apierrors.NewErrorHandler(logger, false),
	}
}

// RegisterRoutes registers the estimation routes.
func (h *EstimateHandler) RegisterRoutes(r chi.Router) {
	r.Route("/estimates", func(r chi.Router) {
		r.Post("/", h.Estimate)
		r.Post("/product", h.Product)
	})
}

// Estimate handles POST /api/v1/estimates.
func (h *EstimateHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.EstimateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.logger.WarnContext(ctx, "malformed estimate request",
			slog.String("error", err.Error()))
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "estimation requested",
		slog.String("dataset", req.Dataset),
		slog.String("method", req.Options.Method),
		slog.Int("group_by", len(req.GroupBy)))

	resp, err := h.service.Estimate(ctx, req)
	if err != nil {
		h.logger.ErrorContext(ctx, "estimation failed",
			slog.String("dataset", req.Dataset),
			slog.String("error", err.Error()))
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

// Product handles POST /api/v1/estimates/product.
func (h *EstimateHandler) Product(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.ProductRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.logger.WarnContext(ctx, "malformed product request",
			slog.String("error", err.Error()))
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "product estimation requested",
		slog.String("run_a", req.RunA),
		slog.String("run_b", req.RunB))

	resp, err := h.service.Product(ctx, req)
	if err != nil {
		h.logger.ErrorContext(ctx, "product estimation failed",
			slog.String("run_a", req.RunA),
			slog.String("run_b", req.RunB),
			slog.String("error", err.Error()))
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}
