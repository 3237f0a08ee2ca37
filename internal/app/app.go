package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"surveykit/internal/config"
	"surveykit/internal/dataset"
	apierrors "surveykit/internal/errors"
	"surveykit/internal/infrastructure"
	custommw "surveykit/internal/middleware"
	"surveykit/internal/services"
	"surveykit/internal/store"
	handlers "surveykit/internal/transport/http"
	"surveykit/pkg/contracts"
)

// Application is the composition root: configuration, the shared logger, the
// wired services, and the HTTP server around them.
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	Router        *chi.Mux
	Server        *http.Server
	OTelProviders *infrastructure.OTelProviders

	Store           store.Store
	Loader          *dataset.Loader
	Metrics         *infrastructure.BusinessMetrics
	SystemCollector *infrastructure.SystemMetricsCollector

	EstimationService *services.EstimationService
	DatasetService    *services.DatasetService
	HealthService     *services.HealthService
}

// NewApplication wires the full application. The order matters: config first,
// then logging, then telemetry, then storage, then services, then transport.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("name", config.AppName),
		slog.String("version", contracts.Version),
		slog.Int("port", cfg.Server.Port))

	if err := cfg.EnsurePaths(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Observability), logger)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	metrics, err := infrastructure.CreateBusinessMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("create business metrics: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		Metrics:       metrics,
	}

	if collector, err := infrastructure.NewSystemMetricsCollector(otelProviders.Meter, 15*time.Second); err != nil {
		logger.Warn("system metrics unavailable", slog.String("error", err.Error()))
	} else {
		app.SystemCollector = collector
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

func (a *Application) initializeServices() error {
	st, err := store.Open(a.Config.GetStorePath(), a.Logger)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	a.Store = st

	loader, err := dataset.NewLoader(a.Config.GetDataDir(), a.Logger)
	if err != nil {
		return fmt.Errorf("create dataset loader: %w", err)
	}
	a.Loader = loader

	if _, err := infrastructure.RegisterCacheMetrics(a.OTelProviders.Meter, loader.CacheStats); err != nil {
		a.Logger.Warn("cache metrics registration failed", slog.String("error", err.Error()))
	}

	a.EstimationService = services.NewEstimationService(loader, st, a.Metrics, a.Logger)
	a.DatasetService = services.NewDatasetService(loader, a.Metrics, a.Logger)
	a.HealthService = services.NewHealthService(a.Config.GetDataDir(), st, a.Logger)

	return nil
}

// setupRouter builds the middleware chain and mounts the API. Ordering:
// RequestID → RealIP → OTel → Logger → Recoverer → everything else. The
// /metrics endpoint stays outside the heavy middleware group.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle(config.MetricsEndpoint, a.OTelProviders.PrometheusHTTP)
	}

	r.Group(func(r chi.Router) {
		otelMiddleware, err := custommw.NewOTelMiddleware(a.OTelProviders, a.Metrics)
		if err != nil {
			a.Logger.Error("telemetry middleware unavailable", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}

		r.Use(custommw.StructuredLogger(a.Logger))
		r.Use(custommw.Recoverer(a.Logger))
		r.Use(custommw.SecurityHeaders)
		r.Use(custommw.Compress(5))

		if a.Config.Security.EnableCORS {
			r.Use(custommw.CORS(custommw.CORSConfig{
				AllowedOrigins: a.Config.Security.AllowedOrigins,
				Logger:         a.Logger,
			}))
		}

		if a.Config.Security.RateLimit.Enabled {
			r.Use(custommw.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		a.setupAPIRoutes(r)
	})

	errorHandler := apierrors.NewErrorHandler(a.Logger, false)
	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	a.Router = r
}

func (a *Application) setupAPIRoutes(r chi.Router) {
	errorHandler := apierrors.NewErrorHandler(a.Logger, false)
	validation := custommw.NewValidationMiddleware(a.Logger, errorHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(custommw.Timeout(a.Config.Server.RequestTimeout, a.Logger))
		r.Use(custommw.ContentTypeValidator("application/json"))
		r.Use(validation.ValidateRequest)

		handlers.NewEstimateHandler(a.EstimationService, validation, a.Logger).RegisterRoutes(r)
		handlers.NewRunsHandler(a.EstimationService, a.Metrics, a.Logger).RegisterRoutes(r)
		handlers.NewDatasetHandler(a.DatasetService, a.Logger).RegisterRoutes(r)
		handlers.NewHealthHandler(a.HealthService, a.Logger).RegisterRoutes(r)
	})
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or a
// termination signal arrives, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.SystemCollector != nil {
		go a.SystemCollector.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.Logger.Info("shutdown signal received")
	return a.Stop(context.Background())
}

// Stop shuts the application down in reverse dependency order.
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var firstErr error

	if a.Server != nil {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			firstErr = fmt.Errorf("server shutdown: %w", err)
		}
	}

	if a.Loader != nil {
		a.Loader.Close()
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close store: %w", err)
		}
	}

	if a.OTelProviders != nil {
		otelCtx, otelCancel := context.WithTimeout(ctx, 5*time.Second)
		defer otelCancel()
		if err := a.OTelProviders.Shutdown(otelCtx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("telemetry shutdown: %w", err)
		}
	}

	if err := infrastructure.CloseLogFile(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close log file: %w", err)
	}

	a.Logger.Info("application stopped")
	return firstErr
}
