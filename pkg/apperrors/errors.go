// Package apperrors centralizes the error taxonomy shared by every layer.
//
// Four classes exist and each has a fixed propagation policy:
//
//   - ErrValidation: rejected before any mutation, never retried.
//   - ErrNotFound: absent or not-owned records, never retried.
//   - ErrOperationFailed: a storage mutation exhausted its retry budget.
//   - ErrDelivery: a notification send failed; logged and swallowed.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input that violates a business rule.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a record that is absent, already consumed, or owned
	// by someone else. The three cases are deliberately indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrOperationFailed marks a storage mutation that failed after the
	// bounded retry budget was spent.
	ErrOperationFailed = errors.New("operation failed")

	// ErrDelivery marks a notification send failure. It never propagates to
	// the command outcome.
	ErrDelivery = errors.New("delivery failed")
)

// ValidationError carries the specific rule that was violated.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Rule, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidation builds a ValidationError for the named rule.
func NewValidation(rule, format string, args ...interface{}) error {
	return &ValidationError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// OperationFailedError wraps the last error seen before the retry budget ran out.
type OperationFailedError struct {
	Op   string
	Last error
}

func (e *OperationFailedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted: %v", e.Op, e.Last)
}

func (e *OperationFailedError) Unwrap() error {
	return ErrOperationFailed
}

// TransientError tags an error as a transient storage failure
// (connection/timeout class) that is safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err may succeed on re-invocation. Validation,
// not-found and conflict errors are never transient.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsValidation reports whether err belongs to the validation class.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound reports whether err belongs to the not-found class.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
