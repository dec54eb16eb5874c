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
	"github.com/conveyorhq/conveyor/internal/workflow"
)

// PostgresStepStore implements the workflow.StepStore interface using
// PostgreSQL as the storage backend. Records are keyed by
// (run_id, step_id); SaveStep is an upsert so a re-run step replaces its
// earlier failed record.
type PostgresStepStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresStepStore creates a new PostgreSQL implementation of the
// StepStore interface.
func NewPostgresStepStore(db store.DBTX, logger *slog.Logger) *PostgresStepStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStepStore{
		db:     db,
		logger: logger.With(slog.String("component", "step_store")),
	}
}

// Ensure PostgresStepStore implements workflow.StepStore interface
var _ workflow.StepStore = (*PostgresStepStore)(nil)

// GetStep implements workflow.StepStore.GetStep
func (s *PostgresStepStore) GetStep(
	ctx context.Context,
	runID uuid.UUID,
	stepID string,
) (*workflow.StepRecord, error) {
	query := `
		SELECT run_id, step_id, status, output, error, created_at, updated_at
		FROM workflow_steps
		WHERE run_id = $1 AND step_id = $2
	`

	var (
		record workflow.StepRecord
		output []byte
		errMsg sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, runID, stepID).Scan(
		&record.RunID,
		&record.StepID,
		&record.Status,
		&output,
		&errMsg,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, store.ErrStepNotFound
		}
		return nil, fmt.Errorf("failed to get workflow step: %w", MapError(err))
	}

	record.Output = output
	if errMsg.Valid {
		record.Error = errMsg.String
	}
	return &record, nil
}

// SaveStep implements workflow.StepStore.SaveStep
func (s *PostgresStepStore) SaveStep(ctx context.Context, record *workflow.StepRecord) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO workflow_steps (run_id, step_id, status, output, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (run_id, step_id) DO UPDATE
		SET status = EXCLUDED.status,
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query,
		record.RunID,
		record.StepID,
		record.Status,
		record.Output,
		record.Error,
		now,
	)
	if err != nil {
		log.Error("failed to save workflow step",
			"run_id", record.RunID,
			"step_id", record.StepID,
			"error", err)
		return fmt.Errorf("failed to save workflow step: %w", MapError(err))
	}
	return nil
}

// ListSteps implements workflow.StepStore.ListSteps
func (s *PostgresStepStore) ListSteps(
	ctx context.Context,
	runID uuid.UUID,
) ([]*workflow.StepRecord, error) {
	query := `
		SELECT run_id, step_id, status, output, error, created_at, updated_at
		FROM workflow_steps
		WHERE run_id = $1
		ORDER BY created_at ASC, step_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow steps: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var records []*workflow.StepRecord
	for rows.Next() {
		var (
			record workflow.StepRecord
			output []byte
			errMsg sql.NullString
		)
		err := rows.Scan(
			&record.RunID,
			&record.StepID,
			&record.Status,
			&output,
			&errMsg,
			&record.CreatedAt,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow step row: %w", MapError(err))
		}
		record.Output = output
		if errMsg.Valid {
			record.Error = errMsg.String
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflow step rows: %w", MapError(err))
	}
	return records, nil
}

// WithTx implements workflow.StepStore.WithTx
func (s *PostgresStepStore) WithTx(tx *sql.Tx) workflow.StepStore {
	return &PostgresStepStore{
		db:     tx,
		logger: s.logger,
	}
}
