package api

import (
	"errors"
	"net/http"

	"github.com/conveyorhq/conveyor/internal/api/middleware"
	"github.com/conveyorhq/conveyor/internal/store"
	"github.com/conveyorhq/conveyor/internal/task"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status
// codes based on the error type. This prevents leaking internal error
// types or messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authentication errors
	case errors.Is(err, middleware.ErrInvalidToken),
		errors.Is(err, middleware.ErrExpiredToken):
		return http.StatusUnauthorized

	// Not found errors
	case store.IsNotFoundError(err):
		return http.StatusNotFound

	// Conflict errors
	case store.IsConflictError(err),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	// Validation errors
	case errors.Is(err, task.ErrInvalidPayload),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// SafeErrorMessage returns a client-safe message for the given error.
// Internal details stay in the logs.
func SafeErrorMessage(err error) string {
	switch MapErrorToStatusCode(err) {
	case http.StatusNotFound:
		return "Resource not found"
	case http.StatusConflict:
		return "Resource state conflict"
	case http.StatusBadRequest:
		return "Invalid request"
	case http.StatusUnauthorized:
		return "Unauthorized"
	default:
		return "Internal server error"
	}
}
