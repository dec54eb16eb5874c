package task

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conveyorhq/conveyor/internal/store"
)

// MockJobStore is an in-memory JobStore for testing. The claim path takes
// a single lock, giving the same no-double-claim guarantee the SQL
// implementation gets from row locking.
type MockJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
}

// NewMockJobStore creates an empty in-memory job store.
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{
		jobs: make(map[uuid.UUID]*Job),
	}
}

// CreateJob persists a new job in queued status.
func (s *MockJobStore) CreateJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return store.ErrDuplicate
	}

	now := time.Now().UTC()
	copied := *job
	copied.Status = StatusQueued
	copied.CreatedAt = now
	copied.UpdatedAt = now
	s.jobs[job.ID] = &copied
	return nil
}

// GetJob retrieves a job by ID.
func (s *MockJobStore) GetJob(_ context.Context, jobID uuid.UUID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

// GetJobByDedupeKey returns the most recent job with the given dedupe key.
func (s *MockJobStore) GetJobByDedupeKey(_ context.Context, key string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *Job
	for _, job := range s.jobs {
		if job.DedupeKey == nil || *job.DedupeKey != key {
			continue
		}
		if newest == nil || job.CreatedAt.After(newest.CreatedAt) {
			newest = job
		}
	}
	if newest == nil {
		return nil, store.ErrJobNotFound
	}
	copied := *newest
	return &copied, nil
}

// ClaimNext atomically claims the next dispatchable job.
func (s *MockJobStore) ClaimNext(_ context.Context, workerID uuid.UUID, lease time.Duration) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	var candidates []*Job
	for _, job := range s.jobs {
		switch {
		case job.Status == StatusQueued && !job.RunAt.After(now):
			candidates = append(candidates, job)
		case job.Status == StatusRunning && job.LeaseExpired(now):
			candidates = append(candidates, job)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].RunAt.Equal(candidates[j].RunAt) {
			return candidates[i].RunAt.Before(candidates[j].RunAt)
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	job := candidates[0]
	job.Status = StatusRunning
	job.Attempts++
	worker := workerID
	until := now.Add(lease)
	job.LockedBy = &worker
	job.LockedUntil = &until
	job.UpdatedAt = now

	copied := *job
	return &copied, nil
}

// MarkSucceeded transitions a running job to succeeded.
func (s *MockJobStore) MarkSucceeded(_ context.Context, jobID, workerID uuid.UUID) error {
	return s.finish(jobID, workerID, func(job *Job) {
		job.Status = StatusSucceeded
		job.LastError = ""
	})
}

// MarkFailed transitions a running job to its terminal failed state.
func (s *MockJobStore) MarkFailed(_ context.Context, jobID, workerID uuid.UUID, errMsg string) error {
	return s.finish(jobID, workerID, func(job *Job) {
		job.Status = StatusFailed
		job.LastError = errMsg
	})
}

// MarkRetry returns a running job to queued with a future dispatch time.
func (s *MockJobStore) MarkRetry(_ context.Context, jobID, workerID uuid.UUID, nextRunAt time.Time, errMsg string) error {
	return s.finish(jobID, workerID, func(job *Job) {
		job.Status = StatusQueued
		job.RunAt = nextRunAt
		job.LastError = errMsg
	})
}

// finish applies a lease-guarded transition.
func (s *MockJobStore) finish(jobID, workerID uuid.UUID, apply func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return store.ErrJobNotFound
	}

	now := time.Now().UTC()
	if job.Status != StatusRunning || job.LockedBy == nil ||
		*job.LockedBy != workerID || job.LeaseExpired(now) {
		return store.ErrLeaseExpired
	}

	apply(job)
	job.LockedBy = nil
	job.LockedUntil = nil
	job.UpdatedAt = now
	return nil
}

// RequeueJob resets a failed job for manual replay.
func (s *MockJobStore) RequeueJob(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return store.ErrJobNotFound
	}

	now := time.Now().UTC()
	job.Status = StatusQueued
	job.Attempts = 0
	job.RunAt = now
	job.LockedBy = nil
	job.LockedUntil = nil
	job.UpdatedAt = now
	return nil
}

// ListJobsByStatus returns up to limit jobs with the given status.
func (s *MockJobStore) ListJobsByStatus(_ context.Context, status Status, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []*Job
	for _, job := range s.jobs {
		if job.Status == status {
			copied := *job
			jobs = append(jobs, &copied)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// WithTx returns the store itself; the mock has no transactions.
func (s *MockJobStore) WithTx(_ *sql.Tx) JobStore {
	return s
}

// CountByStatus returns how many jobs currently hold the given status.
// Test helper, not part of the JobStore contract.
func (s *MockJobStore) CountByStatus(status Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, job := range s.jobs {
		if job.Status == status {
			count++
		}
	}
	return count
}

// MockDedupeStore is an in-memory DedupeStore for testing.
type MockDedupeStore struct {
	mu      sync.Mutex
	entries map[string]dedupeEntry
}

type dedupeEntry struct {
	jobID     uuid.UUID
	expiresAt time.Time
}

// NewMockDedupeStore creates an empty in-memory dedupe ledger.
func NewMockDedupeStore() *MockDedupeStore {
	return &MockDedupeStore{
		entries: make(map[string]dedupeEntry),
	}
}

// TryReserve inserts the key if absent or expired.
func (s *MockDedupeStore) TryReserve(_ context.Context, key string, jobID uuid.UUID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if entry, ok := s.entries[key]; ok && entry.expiresAt.After(now) {
		return false, nil
	}
	s.entries[key] = dedupeEntry{jobID: jobID, expiresAt: now.Add(ttl)}
	return true, nil
}

// GetJobID returns the job behind an unexpired entry.
func (s *MockDedupeStore) GetJobID(_ context.Context, key string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !entry.expiresAt.After(time.Now().UTC()) {
		return uuid.Nil, store.ErrNotFound
	}
	return entry.jobID, nil
}

// Release removes the entry for key.
func (s *MockDedupeStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// DeleteExpired purges expired entries.
func (s *MockDedupeStore) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var purged int64
	for key, entry := range s.entries {
		if !entry.expiresAt.After(now) {
			delete(s.entries, key)
			purged++
		}
	}
	return purged, nil
}

// WithTx returns the store itself; the mock has no transactions.
func (s *MockDedupeStore) WithTx(_ *sql.Tx) DedupeStore {
	return s
}
