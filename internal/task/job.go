package task

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a job.
type Status string

// Possible job status values.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job represents one persisted unit of dispatchable work tied to a
// registered task. A job in running status always holds a non-expired
// lease; once LockedUntil passes, any worker may reclaim it.
type Job struct {
	ID          uuid.UUID
	TaskName    string
	Payload     []byte
	Status      Status
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	LockedBy    *uuid.UUID
	LockedUntil *time.Time
	DedupeKey   *string
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LeaseExpired reports whether the job's lease has lapsed as of now.
// Jobs without a lease are treated as expired.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.LockedUntil == nil || !j.LockedUntil.After(now)
}

// JobStore defines the persistence contract for jobs. All state
// transitions that end a lease (MarkSucceeded, MarkFailed, MarkRetry)
// are conditional on the caller still holding the lease and return
// store.ErrLeaseExpired otherwise; the caller must then discard its
// result.
// Version: 1.0
type JobStore interface {
	// CreateJob persists a new job in queued status.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by ID. Returns store.ErrJobNotFound if the
	// job does not exist.
	GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error)

	// GetJobByDedupeKey returns the most recent job enqueued with the
	// given dedupe key. Returns store.ErrJobNotFound if none exists.
	GetJobByDedupeKey(ctx context.Context, key string) (*Job, error)

	// ClaimNext atomically claims one dispatchable job: a queued job whose
	// RunAt has passed, or a running job whose lease has expired. Jobs are
	// ordered by RunAt ascending then CreatedAt ascending. The claimed job
	// is set to running with the lease assigned to workerID and its attempt
	// counter incremented. Returns (nil, nil) when no job is ready.
	//
	// Implementations must guarantee that two concurrent callers never
	// claim the same job.
	ClaimNext(ctx context.Context, workerID uuid.UUID, lease time.Duration) (*Job, error)

	// MarkSucceeded transitions a running job to succeeded.
	MarkSucceeded(ctx context.Context, jobID, workerID uuid.UUID) error

	// MarkFailed transitions a running job to its terminal failed state,
	// recording the last error for operator inspection.
	MarkFailed(ctx context.Context, jobID, workerID uuid.UUID, errMsg string) error

	// MarkRetry returns a running job to queued with the next dispatch
	// time, recording the error that caused the retry.
	MarkRetry(ctx context.Context, jobID, workerID uuid.UUID, nextRunAt time.Time, errMsg string) error

	// RequeueJob resets a terminally failed job for manual replay: status
	// queued, attempts zeroed, dispatchable immediately.
	RequeueJob(ctx context.Context, jobID uuid.UUID) error

	// ListJobsByStatus returns up to limit jobs with the given status,
	// most recently updated first.
	ListJobsByStatus(ctx context.Context, status Status, limit int) ([]*Job, error)

	// WithTx returns a JobStore bound to the provided transaction.
	WithTx(tx *sql.Tx) JobStore
}

// DedupeStore defines the persistence contract for the deduplication
// ledger: a set of keys with expiry used to suppress duplicate job
// creation within a time window.
// Version: 1.0
type DedupeStore interface {
	// TryReserve atomically inserts the key if it is absent or expired,
	// associating it with jobID. It returns true when this call owns the
	// reservation and false when an unexpired entry already exists.
	TryReserve(ctx context.Context, key string, jobID uuid.UUID, ttl time.Duration) (bool, error)

	// GetJobID returns the job associated with an unexpired entry.
	// Returns store.ErrNotFound if no unexpired entry exists.
	GetJobID(ctx context.Context, key string) (uuid.UUID, error)

	// Release removes the entry for key regardless of expiry. Used by a
	// job that reserved its own key and must free it before scheduling a
	// successor. Releasing an absent key is not an error.
	Release(ctx context.Context, key string) error

	// DeleteExpired purges expired entries and returns how many were
	// removed. Called by the periodic sweep task, not on the read path.
	DeleteExpired(ctx context.Context) (int64, error)

	// WithTx returns a DedupeStore bound to the provided transaction.
	WithTx(tx *sql.Tx) DedupeStore
}
