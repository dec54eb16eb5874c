package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/conveyorhq/conveyor/internal/platform/logger"
	"github.com/conveyorhq/conveyor/internal/store"
	"github.com/conveyorhq/conveyor/internal/task"
)

// jobColumns is the select list shared by every query that hydrates a
// full task.Job. Keep in sync with scanJob.
const jobColumns = `id, task_name, payload, status, attempts, max_attempts,
	run_at, locked_by, locked_until, dedupe_key, last_error, created_at, updated_at`

// PostgresJobStore implements the task.JobStore interface using
// PostgreSQL as the storage backend.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the
// JobStore interface. It accepts a database connection or transaction
// that should be initialized and managed by the caller.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// Ensure PostgresJobStore implements task.JobStore interface
var _ task.JobStore = (*PostgresJobStore)(nil)

// CreateJob implements task.JobStore.CreateJob
func (s *PostgresJobStore) CreateJob(ctx context.Context, job *task.Job) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO jobs (id, task_name, payload, status, attempts, max_attempts,
			run_at, dedupe_key, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.TaskName,
		job.Payload,
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		job.RunAt,
		job.DedupeKey,
		job.LastError,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create job",
			"job_id", job.ID,
			"task_name", job.TaskName,
			"error", err)
		return fmt.Errorf("failed to create job: %w", MapError(err))
	}

	return nil
}

// GetJob implements task.JobStore.GetJob
func (s *PostgresJobStore) GetJob(ctx context.Context, jobID uuid.UUID) (*task.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, jobID))
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, store.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", MapError(err))
	}
	return job, nil
}

// GetJobByDedupeKey implements task.JobStore.GetJobByDedupeKey
func (s *PostgresJobStore) GetJobByDedupeKey(ctx context.Context, key string) (*task.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE dedupe_key = $1
		ORDER BY created_at DESC
		LIMIT 1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, store.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job by dedupe key: %w", MapError(err))
	}
	return job, nil
}

// ClaimNext implements task.JobStore.ClaimNext
//
// The inner select takes the oldest dispatchable job under FOR UPDATE
// SKIP LOCKED, so concurrent workers skip rows already being claimed
// instead of blocking on them. Lease-expired running jobs are reclaimed
// through the same path as fresh queued jobs.
func (s *PostgresJobStore) ClaimNext(
	ctx context.Context,
	workerID uuid.UUID,
	lease time.Duration,
) (*task.Job, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE jobs
		SET status = $1,
			locked_by = $2,
			locked_until = $3,
			attempts = attempts + 1,
			updated_at = $4
		WHERE id = (
			SELECT id FROM jobs
			WHERE (status = $5 AND run_at <= $4)
			   OR (status = $1 AND locked_until <= $4)
			ORDER BY run_at ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns

	now := time.Now().UTC()
	job, err := scanJob(s.db.QueryRowContext(ctx, query,
		task.StatusRunning,
		workerID,
		now.Add(lease),
		now,
		task.StatusQueued,
	))
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			// No dispatchable job; the dispatcher sleeps and polls again.
			return nil, nil
		}
		log.Error("failed to claim job", "worker_id", workerID, "error", err)
		return nil, fmt.Errorf("failed to claim job: %w", MapError(err))
	}

	return job, nil
}

// MarkSucceeded implements task.JobStore.MarkSucceeded
func (s *PostgresJobStore) MarkSucceeded(ctx context.Context, jobID, workerID uuid.UUID) error {
	query := `
		UPDATE jobs
		SET status = $1, locked_by = NULL, locked_until = NULL, last_error = '', updated_at = $2
		WHERE id = $3 AND status = $4 AND locked_by = $5 AND locked_until > $2
	`
	return s.transition(ctx, "succeed", jobID, query,
		task.StatusSucceeded, time.Now().UTC(), jobID, task.StatusRunning, workerID)
}

// MarkFailed implements task.JobStore.MarkFailed
func (s *PostgresJobStore) MarkFailed(ctx context.Context, jobID, workerID uuid.UUID, errMsg string) error {
	query := `
		UPDATE jobs
		SET status = $1, locked_by = NULL, locked_until = NULL, last_error = $2, updated_at = $3
		WHERE id = $4 AND status = $5 AND locked_by = $6 AND locked_until > $3
	`
	return s.transition(ctx, "fail", jobID, query,
		task.StatusFailed, errMsg, time.Now().UTC(), jobID, task.StatusRunning, workerID)
}

// MarkRetry implements task.JobStore.MarkRetry
func (s *PostgresJobStore) MarkRetry(
	ctx context.Context,
	jobID, workerID uuid.UUID,
	nextRunAt time.Time,
	errMsg string,
) error {
	query := `
		UPDATE jobs
		SET status = $1, run_at = $2, locked_by = NULL, locked_until = NULL,
			last_error = $3, updated_at = $4
		WHERE id = $5 AND status = $6 AND locked_by = $7 AND locked_until > $4
	`
	return s.transition(ctx, "retry", jobID, query,
		task.StatusQueued, nextRunAt, errMsg, time.Now().UTC(), jobID, task.StatusRunning, workerID)
}

// transition runs a lease-guarded status update. Zero rows affected means
// the guard failed: the lease lapsed and another worker may own the job
// now, so the caller gets store.ErrLeaseExpired and must discard its
// result.
func (s *PostgresJobStore) transition(
	ctx context.Context,
	name string,
	jobID uuid.UUID,
	query string,
	args ...any,
) error {
	log := logger.FromContext(ctx)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to "+name+" job", "job_id", jobID, "error", err)
		return fmt.Errorf("failed to %s job: %w", name, MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("failed to %s job %s: %w", name, jobID, store.ErrLeaseExpired)
	}
	return nil
}

// RequeueJob implements task.JobStore.RequeueJob
func (s *PostgresJobStore) RequeueJob(ctx context.Context, jobID uuid.UUID) error {
	query := `
		UPDATE jobs
		SET status = $1, attempts = 0, run_at = $2, locked_by = NULL,
			locked_until = NULL, last_error = '', updated_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		task.StatusQueued, time.Now().UTC(), jobID, task.StatusFailed)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Either the job does not exist or it is not in the terminal
		// failed state; both refuse the replay.
		return store.ErrJobNotFound
	}
	return nil
}

// ListJobsByStatus implements task.JobStore.ListJobsByStatus
func (s *PostgresJobStore) ListJobsByStatus(
	ctx context.Context,
	status task.Status,
	limit int,
) ([]*task.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var jobs []*task.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", MapError(err))
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job rows: %w", MapError(err))
	}
	return jobs, nil
}

// WithTx implements task.JobStore.WithTx
func (s *PostgresJobStore) WithTx(tx *sql.Tx) task.JobStore {
	return &PostgresJobStore{
		db:     tx,
		logger: s.logger,
	}
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob hydrates one task.Job from a row selected with jobColumns.
func scanJob(row rowScanner) (*task.Job, error) {
	var (
		job         task.Job
		lockedBy    sql.NullString
		lockedUntil sql.NullTime
		dedupeKey   sql.NullString
	)

	err := row.Scan(
		&job.ID,
		&job.TaskName,
		&job.Payload,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.RunAt,
		&lockedBy,
		&lockedUntil,
		&dedupeKey,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lockedBy.Valid {
		id, err := uuid.Parse(lockedBy.String)
		if err != nil {
			return nil, fmt.Errorf("invalid locked_by value %q: %w", lockedBy.String, err)
		}
		job.LockedBy = &id
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		job.LockedUntil = &t
	}
	if dedupeKey.Valid {
		k := dedupeKey.String
		job.DedupeKey = &k
	}

	return &job, nil
}
