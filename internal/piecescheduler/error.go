package piecescheduler

import "fmt"

// InputError is returned when a caller passes a value that violates the scheduler's preconditions.
// The scheduler state is not modified when an InputError is returned.
type InputError struct {
	err error
}

func newInputError(format string, args ...any) *InputError {
	return &InputError{err: fmt.Errorf(format, args...)}
}

// Error implements error interface.
func (e *InputError) Error() string {
	return "input error: " + e.err.Error()
}

// Unwrap returns the underlying error.
func (e *InputError) Unwrap() error {
	return e.err
}
