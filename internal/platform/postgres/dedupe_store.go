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

// PostgresDedupeStore implements the task.DedupeStore interface using
// PostgreSQL as the storage backend.
type PostgresDedupeStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresDedupeStore creates a new PostgreSQL implementation of the
// DedupeStore interface.
func NewPostgresDedupeStore(db store.DBTX, logger *slog.Logger) *PostgresDedupeStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresDedupeStore{
		db:     db,
		logger: logger.With(slog.String("component", "dedupe_store")),
	}
}

// Ensure PostgresDedupeStore implements task.DedupeStore interface
var _ task.DedupeStore = (*PostgresDedupeStore)(nil)

// TryReserve implements task.DedupeStore.TryReserve
//
// The reservation is a single upsert: the insert wins when the key is
// absent, and the conditional DO UPDATE takes over an expired entry.
// When an unexpired entry exists neither branch fires, zero rows come
// back and the caller does not own the key. Atomic under concurrent
// callers without explicit locking.
func (s *PostgresDedupeStore) TryReserve(
	ctx context.Context,
	key string,
	jobID uuid.UUID,
	ttl time.Duration,
) (bool, error) {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO dedupe_entries (key, job_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET job_id = EXCLUDED.job_id, expires_at = EXCLUDED.expires_at
		WHERE dedupe_entries.expires_at <= $4
	`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, key, jobID, now.Add(ttl), now)
	if err != nil {
		log.Error("failed to reserve dedupe key", "key", key, "error", err)
		return false, fmt.Errorf("failed to reserve dedupe key: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// GetJobID implements task.DedupeStore.GetJobID
func (s *PostgresDedupeStore) GetJobID(ctx context.Context, key string) (uuid.UUID, error) {
	query := `
		SELECT job_id FROM dedupe_entries
		WHERE key = $1 AND expires_at > $2
	`

	var jobID uuid.UUID
	err := s.db.QueryRowContext(ctx, query, key, time.Now().UTC()).Scan(&jobID)
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return uuid.Nil, fmt.Errorf("dedupe key %q: %w", key, store.ErrNotFound)
		}
		return uuid.Nil, fmt.Errorf("failed to get dedupe entry: %w", MapError(err))
	}
	return jobID, nil
}

// Release implements task.DedupeStore.Release
func (s *PostgresDedupeStore) Release(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM dedupe_entries WHERE key = $1`, key)
	if err != nil {
		logger.FromContext(ctx).Error("failed to release dedupe key", "key", key, "error", err)
		return fmt.Errorf("failed to release dedupe key: %w", MapError(err))
	}
	return nil
}

// DeleteExpired implements task.DedupeStore.DeleteExpired
func (s *PostgresDedupeStore) DeleteExpired(ctx context.Context) (int64, error) {
	log := logger.FromContext(ctx)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM dedupe_entries WHERE expires_at <= $1`, time.Now().UTC())
	if err != nil {
		log.Error("failed to delete expired dedupe entries", "error", err)
		return 0, fmt.Errorf("failed to delete expired dedupe entries: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// WithTx implements task.DedupeStore.WithTx
func (s *PostgresDedupeStore) WithTx(tx *sql.Tx) task.DedupeStore {
	return &PostgresDedupeStore{
		db:     tx,
		logger: s.logger,
	}
}
