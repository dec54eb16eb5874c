package task

import (
	"errors"
	"fmt"
)

// Common errors returned by the task subsystem.
var (
	// ErrDuplicateTask is returned when a task name is registered twice.
	// This is a programmer error and should be treated as fatal at startup.
	ErrDuplicateTask = errors.New("task already registered")

	// ErrUnknownTask is returned when no definition exists for a task name,
	// either at enqueue time or at dispatch time.
	ErrUnknownTask = errors.New("no task definition registered")

	// ErrInvalidPayload is returned when a payload does not conform to the
	// task's declared input schema. Jobs with invalid payloads are rejected
	// at enqueue and are not retried.
	ErrInvalidPayload = errors.New("invalid task payload")

	// ErrRegistryFrozen is returned when registration is attempted after
	// the dispatcher has started.
	ErrRegistryFrozen = errors.New("registry is frozen, register tasks before starting the dispatcher")
)

// PermanentError wraps a handler error that must not be retried. The
// dispatcher routes it straight to the terminal failed state regardless
// of remaining attempts.
type PermanentError struct {
	Err error
}

// Permanent marks err as non-retryable. A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err (or anything it wraps) was marked
// non-retryable with Permanent, or is a payload validation failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe) || errors.Is(err, ErrInvalidPayload)
}
