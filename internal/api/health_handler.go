package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/conveyorhq/conveyor/internal/api/shared"
	"github.com/conveyorhq/conveyor/internal/platform/logger"
)

// Pinger checks database reachability. Satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// LivenessChecker reports worker loop liveness. Satisfied by
// heartbeat.Reporter.
type LivenessChecker interface {
	Healthy(staleAfter time.Duration) bool
}

// HealthResponse is the GET /healthz payload.
type HealthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Heartbeat string `json:"heartbeat"`
}

// HealthHandler handles GET /healthz requests: a database ping plus a
// heartbeat freshness check. Either failing makes the whole response 503
// so load balancers and orchestrators pull the instance.
type HealthHandler struct {
	db         Pinger
	liveness   LivenessChecker
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewHealthHandler creates a new HealthHandler. staleAfter is the age
// past which the worker heartbeat counts as dead.
func NewHealthHandler(db Pinger, liveness LivenessChecker, staleAfter time.Duration, log *slog.Logger) *HealthHandler {
	if log == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for HealthHandler")
	}
	return &HealthHandler{
		db:         db,
		liveness:   liveness,
		staleAfter: staleAfter,
		logger:     log.With(slog.String("component", "health_handler")),
	}
}

// Healthz handles GET /healthz requests.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	response := HealthResponse{Status: "ok", Database: "ok", Heartbeat: "ok"}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		log.Error("health check database ping failed", "error", err)
		response.Status = "degraded"
		response.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}

	if !h.liveness.Healthy(h.staleAfter) {
		log.Error("health check found stale heartbeat", "stale_after", h.staleAfter)
		response.Status = "degraded"
		response.Heartbeat = "stale"
		status = http.StatusServiceUnavailable
	}

	shared.RespondWithJSON(w, r, status, response)
}
