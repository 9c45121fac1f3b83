package penalty

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failed query.
type ErrorCode string

const (
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
)

// QueryError is returned by QueryViolation and FillOnly.
type QueryError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Sentinels for errors.Is; they match any QueryError with the same Code.
var (
	ErrInvalidInput     = &QueryError{Code: CodeInvalidInput}
	ErrRetriesExhausted = &QueryError{Code: CodeRetriesExhausted}
)

func (e *QueryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *QueryError) Unwrap() error {
	return e.Cause
}

func (e *QueryError) Is(target error) bool {
	var t *QueryError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func invalidInput(format string, args ...any) *QueryError {
	return &QueryError{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// AttemptError is a failed attempt. State is the last state the attempt
// reached before failing.
type AttemptError struct {
	State   State
	Message string
	Cause   error
}

func (e *AttemptError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (after %s): %v", e.Message, e.State, e.Cause)
	}
	return fmt.Sprintf("%s (after %s)", e.Message, e.State)
}

func (e *AttemptError) Unwrap() error {
	return e.Cause
}
