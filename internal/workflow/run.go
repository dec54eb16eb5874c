package workflow

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// StepStatus represents the state of one step within a run.
type StepStatus string

// Possible step status values.
const (
	StepStatusPending   StepStatus = "pending"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// StepRecord is the persisted outcome of a single step. StepID is unique
// within a run and stable across replays.
type StepRecord struct {
	RunID     uuid.UUID
	StepID    string
	Status    StepStatus
	Output    []byte
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepStore defines the persistence contract for step records. The
// workflow engine exclusively owns step lifecycle; the job store owns
// only the enclosing job's status.
// Version: 1.0
type StepStore interface {
	// GetStep retrieves one step record. Returns store.ErrStepNotFound
	// if the step has never been recorded.
	GetStep(ctx context.Context, runID uuid.UUID, stepID string) (*StepRecord, error)

	// SaveStep inserts or replaces a step record, keyed by (runID, stepID).
	SaveStep(ctx context.Context, record *StepRecord) error

	// ListSteps returns all recorded steps of a run, oldest first.
	ListSteps(ctx context.Context, runID uuid.UUID) ([]*StepRecord, error)

	// WithTx returns a StepStore bound to the provided transaction.
	WithTx(tx *sql.Tx) StepStore
}

// Run is the handle the driver function receives. It carries the run
// identity and the step store; all step primitives hang off it. Safe for
// concurrent use by fanned-out steps.
type Run struct {
	id     uuid.UUID
	name   string
	store  StepStore
	logger *slog.Logger
}

// ID returns the run's identifier, which is the enclosing job's ID.
func (r *Run) ID() uuid.UUID {
	return r.id
}

// Name returns the workflow name.
func (r *Run) Name() string {
	return r.name
}
