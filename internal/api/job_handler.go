// Package api provides HTTP handlers for the ops surface: health,
// job inspection and manual replay.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/conveyorhq/conveyor/internal/api/shared"
	"github.com/conveyorhq/conveyor/internal/platform/logger"
	"github.com/conveyorhq/conveyor/internal/task"
	"github.com/conveyorhq/conveyor/internal/workflow"
)

// defaultListLimit bounds job listings when the client does not pass one.
const defaultListLimit = 50

// maxListLimit is the hard ceiling on a single listing.
const maxListLimit = 500

// JobResponse represents the response data for a job.
type JobResponse struct {
	ID          string    `json:"id"`
	TaskName    string    `json:"task_name"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	RunAt       time.Time `json:"run_at"`
	DedupeKey   *string   `json:"dedupe_key,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StepResponse represents the response data for a workflow step record.
type StepResponse struct {
	StepID    string          `json:"step_id"`
	Status    string          `json:"status"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// JobHandler handles job inspection and replay HTTP requests.
type JobHandler struct {
	jobs   task.JobStore
	steps  workflow.StepStore
	logger *slog.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(jobs task.JobStore, steps workflow.StepStore, log *slog.Logger) *JobHandler {
	if log == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for JobHandler")
	}
	return &JobHandler{
		jobs:   jobs,
		steps:  steps,
		logger: log.With(slog.String("component", "job_handler")),
	}
}

// ListJobs handles GET /api/jobs?status=&limit= requests.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	status := task.Status(r.URL.Query().Get("status"))
	switch status {
	case task.StatusQueued, task.StatusRunning, task.StatusSucceeded, task.StatusFailed:
	case "":
		status = task.StatusFailed
	default:
		shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown status value")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit value")
			return
		}
		limit = parsed
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	jobs, err := h.jobs.ListJobsByStatus(r.Context(), status, limit)
	if err != nil {
		log.Error("failed to list jobs", "status", status, "error", err)
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), SafeErrorMessage(err), err)
		return
	}

	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, toJobResponse(job))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// GetJob handles GET /api/jobs/{id} requests.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.jobIDFromPath(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), SafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, toJobResponse(job))
}

// GetJobSteps handles GET /api/jobs/{id}/steps requests. For a workflow
// run it returns the per-step records; for a plain task job the list is
// empty.
func (h *JobHandler) GetJobSteps(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.jobIDFromPath(w, r)
	if !ok {
		return
	}

	// 404 for a job that does not exist at all.
	if _, err := h.jobs.GetJob(r.Context(), jobID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), SafeErrorMessage(err), err)
		return
	}

	records, err := h.steps.ListSteps(r.Context(), jobID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), SafeErrorMessage(err), err)
		return
	}

	responses := make([]StepResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, StepResponse{
			StepID:    record.StepID,
			Status:    string(record.Status),
			Output:    json.RawMessage(record.Output),
			Error:     record.Error,
			CreatedAt: record.CreatedAt,
			UpdatedAt: record.UpdatedAt,
		})
	}
	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// ReplayJob handles POST /api/jobs/{id}/replay requests. Only terminally
// failed jobs can be replayed; the job returns to queued with its attempt
// counter reset.
func (h *JobHandler) ReplayJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	jobID, ok := h.jobIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.jobs.RequeueJob(r.Context(), jobID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), SafeErrorMessage(err), err)
		return
	}

	log.Info("job requeued for replay", "job_id", jobID)
	w.WriteHeader(http.StatusAccepted)
}

// jobIDFromPath parses the {id} path parameter, responding with 400 on a
// malformed ID.
func (h *JobHandler) jobIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	jobID, err := uuid.Parse(raw)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID")
		return uuid.Nil, false
	}
	return jobID, true
}

func toJobResponse(job *task.Job) JobResponse {
	return JobResponse{
		ID:          job.ID.String(),
		TaskName:    job.TaskName,
		Status:      string(job.Status),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		RunAt:       job.RunAt,
		DedupeKey:   job.DedupeKey,
		LastError:   job.LastError,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}
