package workflow

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conveyorhq/conveyor/internal/store"
)

// MockStepStore is an in-memory StepStore for tests.
type MockStepStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]map[string]*StepRecord
}

// Compile-time check.
var _ StepStore = (*MockStepStore)(nil)

// NewMockStepStore creates an empty in-memory step store.
func NewMockStepStore() *MockStepStore {
	return &MockStepStore{
		records: make(map[uuid.UUID]map[string]*StepRecord),
	}
}

// GetStep implements StepStore.GetStep.
func (m *MockStepStore) GetStep(_ context.Context, runID uuid.UUID, stepID string) (*StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[runID][stepID]
	if !ok {
		return nil, store.ErrStepNotFound
	}
	copied := *record
	return &copied, nil
}

// SaveStep implements StepStore.SaveStep.
func (m *MockStepStore) SaveStep(_ context.Context, record *StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	copied := *record
	copied.UpdatedAt = now

	runSteps, ok := m.records[copied.RunID]
	if !ok {
		runSteps = make(map[string]*StepRecord)
		m.records[copied.RunID] = runSteps
	}
	if existing, ok := runSteps[copied.StepID]; ok {
		copied.CreatedAt = existing.CreatedAt
	} else {
		copied.CreatedAt = now
	}
	runSteps[copied.StepID] = &copied
	return nil
}

// ListSteps implements StepStore.ListSteps.
func (m *MockStepStore) ListSteps(_ context.Context, runID uuid.UUID) ([]*StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	steps := make([]*StepRecord, 0, len(m.records[runID]))
	for _, record := range m.records[runID] {
		copied := *record
		steps = append(steps, &copied)
	}
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].CreatedAt.Equal(steps[j].CreatedAt) {
			return steps[i].StepID < steps[j].StepID
		}
		return steps[i].CreatedAt.Before(steps[j].CreatedAt)
	})
	return steps, nil
}

// WithTx returns the store itself; the mock has no transaction scoping.
func (m *MockStepStore) WithTx(_ *sql.Tx) StepStore {
	return m
}

// SeedStep inserts a record directly, for test setup.
func (m *MockStepStore) SeedStep(record *StepRecord) {
	_ = m.SaveStep(context.Background(), record)
}
