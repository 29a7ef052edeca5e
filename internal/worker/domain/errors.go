package domain

import "errors"

var (
	// ErrHandlerNotFound is returned when no handler is registered for a command
	ErrHandlerNotFound = errors.New("no handler registered for command")

	// ErrJobTimeout is returned when a handler runs past the job timeout
	ErrJobTimeout = errors.New("job timed out")
)

// PermanentError marks a handler failure that retrying cannot fix.
// The job is recorded as failed instead of being released.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err so the worker stops retrying the job
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}
