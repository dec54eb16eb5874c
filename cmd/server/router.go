package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/conveyorhq/conveyor/internal/api"
	apimiddleware "github.com/conveyorhq/conveyor/internal/api/middleware"
)

// setupRouter creates and configures the ops router with all routes and
// middleware. Returns the configured router.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(apimiddleware.TraceMiddleware)

	// The heartbeat counts as dead after missing three beats.
	staleAfter := 3 * time.Duration(app.config.Heartbeat.IntervalSeconds) * time.Second
	healthHandler := api.NewHealthHandler(app.db, app.reporter, staleAfter, app.logger)
	jobHandler := api.NewJobHandler(app.jobStore, app.stepStore, app.logger)
	authMiddleware := apimiddleware.NewAuthMiddleware(app.config.Server.JWTSecret)

	r.Get("/healthz", healthHandler.Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)
		r.Get("/jobs", jobHandler.ListJobs)
		r.Get("/jobs/{id}", jobHandler.GetJob)
		r.Get("/jobs/{id}/steps", jobHandler.GetJobSteps)
		r.Post("/jobs/{id}/replay", jobHandler.ReplayJob)
	})

	return r
}
