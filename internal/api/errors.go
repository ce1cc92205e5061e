package api

import (
	"errors"
	"net/http"

	"github.com/forgelight/imageforge/internal/store"
	"github.com/forgelight/imageforge/internal/task"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authorization errors
	case errors.Is(err, store.ErrNotOwner):
		return http.StatusForbidden

	// Not found errors
	case errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, store.ErrAlreadyTerminal):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, task.ErrNoVariants),
		errors.Is(err, task.ErrNoAngles):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, store.ErrNotOwner):
		return "You do not own this task"

	case errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrNotFound):
		return "Task not found"

	case errors.Is(err, store.ErrAlreadyTerminal):
		return "Task has already finished"

	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid task data"

	case errors.Is(err, task.ErrNoVariants):
		return "Batch must request at least one variant"

	case errors.Is(err, task.ErrNoAngles):
		return "Product shot must request at least one angle"

	default:
		return "An unexpected error occurred"
	}
}
