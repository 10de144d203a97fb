package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/phrazzld/bulkgen/internal/api"
	"github.com/phrazzld/bulkgen/internal/api/middleware"
	"github.com/phrazzld/bulkgen/internal/bulk"
	"github.com/phrazzld/bulkgen/internal/config"
	"github.com/phrazzld/bulkgen/internal/events"
	"github.com/phrazzld/bulkgen/internal/platform/gemini"
	"github.com/phrazzld/bulkgen/internal/platform/metrics"
	"github.com/phrazzld/bulkgen/internal/platform/postgres"
	"github.com/phrazzld/bulkgen/internal/service/auth"
	"github.com/phrazzld/bulkgen/internal/store"
	"golang.org/x/time/rate"
)

// application holds the shared dependencies of a running server.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	jobStore    store.JobStore
	reviewStore store.ReviewStore

	jwtService auth.JWTService
	recorder   *metrics.Recorder
	emitter    *events.InMemoryEventEmitter
	scheduler  *bulk.Scheduler
	resumer    *bulk.ResumeManager
}

// newApplication wires stores, producers and the scheduler. It does not start
// anything.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	client, err := gemini.NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	return assemble(cfg, logger, db, client.Models)
}

// assemble builds the application around an already created model client.
func assemble(cfg *config.Config, logger *slog.Logger, db *sql.DB, models gemini.ContentGenerator) (*application, error) {
	app := &application{
		config:      cfg,
		logger:      logger,
		db:          db,
		jobStore:    postgres.NewPostgresJobStore(db),
		reviewStore: postgres.NewPostgresReviewStore(db),
	}

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	producers, err := gemini.NewProducers(models, app.reviewStore, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create producers: %w", err)
	}

	registry := bulk.NewRegistry()
	limit, burst := producerLimit(cfg.LLM.RequestsPerMinute)
	for category, p := range producers {
		registry.Register(category, p, limit, burst)
	}
	logger.Info("producers registered",
		"categories", registry.Categories(),
		"model", cfg.LLM.ModelName,
		"requests_per_minute", cfg.LLM.RequestsPerMinute)

	app.recorder = metrics.NewRecorder()
	app.emitter = events.NewInMemoryEventEmitter(logger)
	app.emitter.RegisterHandler(app.recorder)

	app.scheduler = bulk.NewScheduler(app.jobStore, registry, app.emitter, schedulerConfig(cfg.Bulk), logger)
	app.resumer = bulk.NewResumeManager(app.scheduler)
	return app, nil
}

// producerLimit converts a per-minute budget into a limiter setting. Zero
// disables limiting.
func producerLimit(perMinute int) (rate.Limit, int) {
	if perMinute <= 0 {
		return rate.Inf, 1
	}
	return rate.Every(time.Minute / time.Duration(perMinute)), 1
}

func schedulerConfig(cfg config.BulkConfig) bulk.Config {
	return bulk.Config{
		RetryBaseDelay:  cfg.RetryBaseDelay(),
		MaxItemsPerJob:  cfg.MaxItemsPerJob,
		Owner:           cfg.InstanceID,
		LeaseTTL:        cfg.LeaseTTL(),
		ReclaimInterval: cfg.ReclaimInterval(),
		JobRetention:    cfg.JobRetention(),
		CleanupInterval: cfg.CleanupInterval(),
	}
}

func (app *application) router() http.Handler {
	return api.NewRouter(api.RouterDeps{
		Jobs:    api.NewJobHandler(app.scheduler, app.config.Bulk, app.logger),
		Auth:    middleware.NewAuthMiddleware(app.jwtService),
		Metrics: app.recorder.Handler(),
		Health:  app.db.PingContext,
		Logger:  app.logger,
	})
}

// run resumes interrupted jobs, serves HTTP until ctx is cancelled and then
// shuts down: the listener first, then the workers at their next item
// boundary. Interrupted jobs stay running in the store and resume on the next
// start.
func (app *application) run(ctx context.Context) error {
	app.scheduler.Start()

	resumed, err := app.resumer.Resume(ctx)
	if err != nil {
		app.logger.Error("some jobs could not be resumed", "error", err)
	}
	app.logger.Info("resume complete", "resumed_jobs", resumed)
	app.resumer.Watch()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var result *multierror.Error
	select {
	case <-ctx.Done():
		app.logger.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("server failed: %w", err))
		}
	}

	timeout := time.Duration(app.config.Server.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("server shutdown failed", "error", err)
		result = multierror.Append(result, fmt.Errorf("server shutdown failed: %w", err))
	}
	if err := app.scheduler.Stop(shutdownCtx); err != nil {
		app.logger.Error("scheduler shutdown failed", "error", err)
		result = multierror.Append(result, err)
	}

	app.logger.Info("shutdown completed")
	return result.ErrorOrNil()
}
