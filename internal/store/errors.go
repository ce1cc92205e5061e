package store

import (
	"errors"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrTaskNotFound indicates that the requested task does not exist in the store.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNotOwner is returned when an owner-checked operation is attempted
	// by a caller that does not own the task.
	ErrNotOwner = errors.New("task is not owned by the caller")

	// ErrAlreadyTerminal is returned when a cancellation targets a task
	// that has already completed or failed. This is a descriptive
	// non-success result, not a transport failure.
	ErrAlreadyTerminal = errors.New("task is already in a terminal state")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUpdateFailed is returned when an update operation affects no rows,
	// for example because the entity does not exist.
	ErrUpdateFailed = errors.New("update failed")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrTaskNotFound)
}
