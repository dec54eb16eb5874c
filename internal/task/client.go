package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/conveyorhq/conveyor/internal/store"
)

// EnqueueOptions customizes a single enqueue call. The zero value uses
// the client defaults: no dedupe key, dispatch as soon as possible, the
// configured default attempt limit.
type EnqueueOptions struct {
	// DedupeKey suppresses duplicate job creation: while an unexpired
	// ledger entry for the key exists, Enqueue returns the original job's
	// ID without creating a new row.
	DedupeKey string

	// DedupeTTL overrides the client's default dedupe window. Only
	// meaningful together with DedupeKey.
	DedupeTTL time.Duration

	// RunAt is the earliest dispatch time. Zero means now.
	RunAt time.Time

	// MaxAttempts overrides the client's default attempt limit.
	MaxAttempts int
}

// ClientConfig holds the defaults applied to enqueues.
type ClientConfig struct {
	DefaultMaxAttempts int
	DefaultDedupeTTL   time.Duration
}

// Client is the producer-side API: it validates payloads against the
// registry, reserves dedupe keys and persists jobs, all within one
// transaction.
type Client struct {
	db       *sql.DB
	jobs     JobStore
	dedupe   DedupeStore
	registry *Registry
	config   ClientConfig
	logger   *slog.Logger
}

// NewClient creates a task client.
func NewClient(
	db *sql.DB,
	jobs JobStore,
	dedupe DedupeStore,
	registry *Registry,
	config ClientConfig,
	logger *slog.Logger,
) *Client {
	if config.DefaultMaxAttempts <= 0 {
		config.DefaultMaxAttempts = 5
	}
	if config.DefaultDedupeTTL <= 0 {
		config.DefaultDedupeTTL = time.Hour
	}
	return &Client{
		db:       db,
		jobs:     jobs,
		dedupe:   dedupe,
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// Enqueue persists a job for the named task. The payload is marshalled
// to JSON and checked against the task's input schema; a payload that
// does not conform fails with ErrInvalidPayload and no job is created.
//
// When a dedupe key is set and an unexpired ledger entry exists for it,
// Enqueue is an idempotent no-op returning the existing job's ID.
func (c *Client) Enqueue(
	ctx context.Context,
	taskName string,
	payload any,
	opts EnqueueOptions,
) (uuid.UUID, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: task %q: %v", ErrInvalidPayload, taskName, err)
	}

	if err := c.registry.ValidatePayload(taskName, raw); err != nil {
		return uuid.Nil, err
	}

	job := &Job{
		ID:          uuid.New(),
		TaskName:    taskName,
		Payload:     raw,
		Status:      StatusQueued,
		MaxAttempts: c.config.DefaultMaxAttempts,
		RunAt:       time.Now().UTC(),
	}
	if opts.MaxAttempts > 0 {
		job.MaxAttempts = opts.MaxAttempts
	}
	if !opts.RunAt.IsZero() {
		job.RunAt = opts.RunAt.UTC()
	}

	if opts.DedupeKey == "" {
		if err := c.jobs.CreateJob(ctx, job); err != nil {
			return uuid.Nil, fmt.Errorf("failed to create job: %w", err)
		}
		c.logger.Debug("job enqueued",
			"job_id", job.ID,
			"task_name", taskName,
			"run_at", job.RunAt)
		return job.ID, nil
	}

	key := opts.DedupeKey
	job.DedupeKey = &key

	ttl := c.config.DefaultDedupeTTL
	if opts.DedupeTTL > 0 {
		ttl = opts.DedupeTTL
	}

	// The reservation and the insert must be atomic: without the
	// transaction a concurrent duplicate could observe the reserved key
	// before the job row exists.
	existingID := uuid.Nil
	err = c.runInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		dedupe := c.dedupe.WithTx(tx)

		reserved, reserveErr := dedupe.TryReserve(ctx, key, job.ID, ttl)
		if reserveErr != nil {
			return fmt.Errorf("failed to reserve dedupe key: %w", reserveErr)
		}
		if !reserved {
			id, getErr := dedupe.GetJobID(ctx, key)
			if getErr != nil {
				return fmt.Errorf("failed to resolve deduplicated job: %w", getErr)
			}
			existingID = id
			return nil
		}

		if createErr := c.jobs.WithTx(tx).CreateJob(ctx, job); createErr != nil {
			return fmt.Errorf("failed to create job: %w", createErr)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	if existingID != uuid.Nil {
		c.logger.Debug("enqueue deduplicated",
			"job_id", existingID,
			"task_name", taskName,
			"dedupe_key", key)
		return existingID, nil
	}

	c.logger.Debug("job enqueued",
		"job_id", job.ID,
		"task_name", taskName,
		"dedupe_key", key,
		"run_at", job.RunAt)
	return job.ID, nil
}

// runInTransaction wraps store.RunInTransaction. A nil db means the
// client is backed by in-memory stores (tests), which ignore the tx.
func (c *Client) runInTransaction(ctx context.Context, fn store.TxFn) error {
	if c.db == nil {
		return fn(ctx, nil)
	}
	return store.RunInTransaction(ctx, c.db, fn)
}
