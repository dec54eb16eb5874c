package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/internal/task"
	"github.com/conveyorhq/conveyor/internal/workflow"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newJobRouter(jobs task.JobStore, steps workflow.StepStore) http.Handler {
	handler := NewJobHandler(jobs, steps, discardLogger())
	r := chi.NewRouter()
	r.Get("/api/jobs", handler.ListJobs)
	r.Get("/api/jobs/{id}", handler.GetJob)
	r.Get("/api/jobs/{id}/steps", handler.GetJobSteps)
	r.Post("/api/jobs/{id}/replay", handler.ReplayJob)
	return r
}

// seedFailedJob drives a job through claim and failure so it lands in
// the terminal failed state.
func seedFailedJob(t *testing.T, jobs *task.MockJobStore, taskName string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	jobID := uuid.New()
	require.NoError(t, jobs.CreateJob(ctx, &task.Job{
		ID:          jobID,
		TaskName:    taskName,
		Payload:     []byte(`{}`),
		MaxAttempts: 1,
		RunAt:       time.Now().Add(-time.Minute),
	}))

	workerID := uuid.New()
	claimed, err := jobs.ClaimNext(ctx, workerID, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, jobID, claimed.ID)
	require.NoError(t, jobs.MarkFailed(ctx, jobID, workerID, "relay timeout"))
	return jobID
}

func TestJobHandler_ListJobs(t *testing.T) {
	t.Parallel()

	t.Run("lists failed jobs by default", func(t *testing.T) {
		t.Parallel()
		jobs := task.NewMockJobStore()
		seedFailedJob(t, jobs, "send-email")
		router := newJobRouter(jobs, workflow.NewMockStepStore())

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var got []JobResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "send-email", got[0].TaskName)
		assert.Equal(t, "failed", got[0].Status)
		assert.Equal(t, "relay timeout", got[0].LastError)
	})

	t.Run("filters by status", func(t *testing.T) {
		t.Parallel()
		jobs := task.NewMockJobStore()
		require.NoError(t, jobs.CreateJob(context.Background(), &task.Job{
			ID:       uuid.New(),
			TaskName: "send-email",
			RunAt:    time.Now(),
		}))
		router := newJobRouter(jobs, workflow.NewMockStepStore())

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs?status=queued", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var got []JobResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Len(t, got, 1)
	})

	t.Run("rejects an unknown status", func(t *testing.T) {
		t.Parallel()
		router := newJobRouter(task.NewMockJobStore(), workflow.NewMockStepStore())

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs?status=bogus", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects a malformed limit", func(t *testing.T) {
		t.Parallel()
		router := newJobRouter(task.NewMockJobStore(), workflow.NewMockStepStore())

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs?limit=zero", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestJobHandler_GetJob(t *testing.T) {
	t.Parallel()

	t.Run("returns the job", func(t *testing.T) {
		t.Parallel()
		jobs := task.NewMockJobStore()
		jobID := seedFailedJob(t, jobs, "send-email")
		router := newJobRouter(jobs, workflow.NewMockStepStore())

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID.String(), nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var got JobResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, jobID.String(), got.ID)
		assert.Equal(t, 1, got.Attempts)
	})

	t.Run("404 for a missing job", func(t *testing.T) {
		t.Parallel()
		router := newJobRouter(task.NewMockJobStore(), workflow.NewMockStepStore())

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+uuid.NewString(), nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("400 for a malformed job ID", func(t *testing.T) {
		t.Parallel()
		router := newJobRouter(task.NewMockJobStore(), workflow.NewMockStepStore())

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/not-a-uuid", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestJobHandler_GetJobSteps(t *testing.T) {
	t.Parallel()

	jobs := task.NewMockJobStore()
	steps := workflow.NewMockStepStore()
	jobID := seedFailedJob(t, jobs, "provision-tenant")
	steps.SeedStep(&workflow.StepRecord{
		RunID:  jobID,
		StepID: "create-schema",
		Status: workflow.StepStatusCompleted,
		Output: []byte(`{"schema":"tenant_acme"}`),
	})
	steps.SeedStep(&workflow.StepRecord{
		RunID:  jobID,
		StepID: "send-welcome",
		Status: workflow.StepStatusFailed,
		Error:  "relay timeout",
	})
	router := newJobRouter(jobs, steps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID.String()+"/steps", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got []StepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
}

func TestJobHandler_ReplayJob(t *testing.T) {
	t.Parallel()

	t.Run("requeues a failed job", func(t *testing.T) {
		t.Parallel()
		jobs := task.NewMockJobStore()
		jobID := seedFailedJob(t, jobs, "send-email")
		router := newJobRouter(jobs, workflow.NewMockStepStore())

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/jobs/"+jobID.String()+"/replay", nil))

		require.Equal(t, http.StatusAccepted, rec.Code)

		job, err := jobs.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusQueued, job.Status)
		assert.Equal(t, 0, job.Attempts)
	})

	t.Run("404 for a missing job", func(t *testing.T) {
		t.Parallel()
		router := newJobRouter(task.NewMockJobStore(), workflow.NewMockStepStore())

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/jobs/"+uuid.NewString()+"/replay", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
