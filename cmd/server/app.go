package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor/internal/config"
	"github.com/conveyorhq/conveyor/internal/heartbeat"
	"github.com/conveyorhq/conveyor/internal/platform/postgres"
	"github.com/conveyorhq/conveyor/internal/task"
	"github.com/conveyorhq/conveyor/internal/tasks"
	"github.com/conveyorhq/conveyor/internal/workflow"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	// Stores (using interfaces for proper abstraction)
	jobStore    task.JobStore
	dedupeStore task.DedupeStore
	stepStore   workflow.StepStore

	// Task system
	registry   *task.Registry
	client     *task.Client
	dispatcher *task.Dispatcher

	// Liveness
	reporter *heartbeat.Reporter
}

// newApplication creates a new application instance with all dependencies
// initialized. It accepts core dependencies like configuration, logger and
// database connection that must be established before application
// initialization.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	app.jobStore = postgres.NewPostgresJobStore(db, logger)
	app.dedupeStore = postgres.NewPostgresDedupeStore(db, logger)
	app.stepStore = postgres.NewPostgresStepStore(db, logger)

	app.registry = task.NewRegistry()
	app.client = task.NewClient(db, app.jobStore, app.dedupeStore, app.registry, task.ClientConfig{
		DefaultMaxAttempts: cfg.Worker.DefaultMaxAttempts,
		DefaultDedupeTTL:   time.Duration(cfg.Worker.DedupeTTLSeconds) * time.Second,
	}, logger)

	if err := app.registerTasks(); err != nil {
		return nil, fmt.Errorf("failed to register tasks: %w", err)
	}

	app.dispatcher = task.NewDispatcher(app.jobStore, app.registry, task.DispatcherConfig{
		WorkerCount:   cfg.Worker.Count,
		PollInterval:  time.Duration(cfg.Worker.PollIntervalMs) * time.Millisecond,
		LeaseDuration: time.Duration(cfg.Worker.LeaseSeconds) * time.Second,
		Retry: task.RetryPolicy{
			Base: time.Duration(cfg.Worker.BackoffBaseMs) * time.Millisecond,
			Max:  time.Duration(cfg.Worker.BackoffMaxMs) * time.Millisecond,
		},
	}, logger)

	app.reporter = heartbeat.NewReporter(heartbeat.Config{
		Path:     cfg.Heartbeat.Path,
		Endpoint: cfg.Heartbeat.Endpoint,
		Interval: time.Duration(cfg.Heartbeat.IntervalSeconds) * time.Second,
	}, logger)

	logger.Info("application initialized")
	return app, nil
}

// registerTasks declares every task and workflow this process can
// execute. Registration happens before the dispatcher starts; the
// registry freezes on Start.
func (app *application) registerTasks() error {
	if err := tasks.RegisterSendEmail(app.registry, newLogSender(app.logger)); err != nil {
		return err
	}

	sweepInterval := time.Duration(app.config.Worker.DedupeSweepMinutes) * time.Minute
	if err := task.RegisterDedupeSweep(
		app.registry, app.client, app.dedupeStore, sweepInterval, app.logger); err != nil {
		return err
	}

	return nil
}

// Run starts the worker pool, the heartbeat and the ops HTTP server,
// then blocks until shutdown completes.
func (app *application) Run(ctx context.Context) error {
	app.dispatcher.Start()
	app.reporter.Start()

	// Seed the periodic dedupe sweep. A no-op when one is already pending.
	sweepInterval := time.Duration(app.config.Worker.DedupeSweepMinutes) * time.Minute
	if err := task.KickDedupeSweep(ctx, app.client, sweepInterval); err != nil {
		app.logger.Warn("failed to kick dedupe sweep", "error", err)
	}

	router := app.setupRouter()
	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.dispatcher != nil {
		app.dispatcher.Stop()
	}
	if app.reporter != nil {
		app.reporter.Stop()
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
	app.logger.Info("application shutdown completed")
}
