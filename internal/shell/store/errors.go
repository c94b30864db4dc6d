// Package store provides persistence for stackup runs, so a later process
// knows the last successful start order of a stack.
package store

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotFound is returned when no run exists for a stack.
	ErrNotFound = errors.New("run not found")

	// ErrDuplicateID is returned when creating a run with an existing ID.
	ErrDuplicateID = errors.New("run with this ID already exists")

	// ErrConnectionFailed is returned when the database connection fails.
	ErrConnectionFailed = errors.New("database connection failed")

	// ErrMigrationFailed is returned when database migration fails.
	ErrMigrationFailed = errors.New("database migration failed")
)

// StoreError wraps errors with additional context.
type StoreError struct {
	Op      string // Operation that failed (e.g., "CreateRun")
	Stack   string // Stack name if applicable
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Stack != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Stack, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, stack, message string, err error) *StoreError {
	return &StoreError{
		Op:      op,
		Stack:   stack,
		Message: message,
		Err:     err,
	}
}
