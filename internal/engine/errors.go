// Package engine holds the error taxonomy shared by the shift and quota
// services. Callers match with errors.Is / errors.As; the HTTP layer maps
// each category onto a status code.
package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive is returned by start when the worker already has an
	// open shift of that work type.
	ErrAlreadyActive = errors.New("shift already active")

	// ErrInvalidState is returned when pause/resume/end is called from a
	// state that forbids the transition.
	ErrInvalidState = errors.New("invalid shift state for transition")

	// ErrNotFound is returned for unknown shifts, workers or quota rules.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for edits that would violate shift
	// arithmetic, such as removing more time than the shift holds.
	ErrValidation = errors.New("validation failed")

	// ErrStoreUnavailable marks transient store failures. Callers should
	// treat it as retryable, not fatal.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// AlreadyActiveError reports the shift that blocked a start attempt.
type AlreadyActiveError struct {
	WorkerID string
	WorkType string
	ShiftID  uint
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("worker %s already has an open %s shift (id %d)",
		e.WorkerID, e.WorkType, e.ShiftID)
}

func (e *AlreadyActiveError) Unwrap() error { return ErrAlreadyActive }

// InvalidStateError reports a forbidden transition.
type InvalidStateError struct {
	ShiftID    uint
	State      string
	Transition string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("shift %d: cannot %s from state %q", e.ShiftID, e.Transition, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ValidationError carries the reason a requested edit was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StoreError wraps a database failure as retryable.
func StoreError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
