package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the
	// store. This is the generic version of the entity-specific not found
	// errors (e.g., ErrJobNotFound).
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity (e.g., a second dedupe entry for the same key).
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails a database constraint
	// before being stored. Check the wrapped error for details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrLeaseExpired is returned by job state transitions when the caller's
	// lease on the job is no longer valid: the lease timed out and another
	// worker may have reclaimed the job. The caller must discard its result
	// rather than retry the transition.
	ErrLeaseExpired = errors.New("job lease expired or held by another worker")

	// Entity-specific "not found" errors

	// ErrJobNotFound indicates that the requested job does not exist.
	ErrJobNotFound = fmt.Errorf("%w: job", ErrNotFound)

	// ErrStepNotFound indicates that the requested workflow step record
	// does not exist.
	ErrStepNotFound = fmt.Errorf("%w: workflow step", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflictError reports whether err means the caller lost its lease.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrLeaseExpired)
}
