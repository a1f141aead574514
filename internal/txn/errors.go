package txn

import (
	"errors"
	"fmt"
)

// Error represents a transaction failure or abort condition.
//
// Errors include:
//   - Validation: invalid or read-only target path, caught before queuing
//   - Overwritten: a non-transactional write landed on an overlapping path
//   - Disconnected: the session lost its server connection mid-flight
//   - Permission denied: the server refused the write
//   - Update panic: the caller's update function panicked
//
// Error includes structured fields for diagnostics.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Path identifies the affected tree path.
	Path string

	// Txn identifies the transaction token, when one was assigned.
	Txn string

	// Cause is the underlying error, if any.
	Cause error
}

// ErrorCode categorizes transaction errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates the target path is invalid or reserved.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeOverwritten indicates a raw write canceled the transaction.
	ErrCodeOverwritten ErrorCode = "OVERWRITTEN"

	// ErrCodeDisconnected indicates the session connection was lost.
	ErrCodeDisconnected ErrorCode = "DISCONNECTED"

	// ErrCodePermissionDenied indicates the server refused the write.
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrCodeUpdatePanic indicates the caller's update function panicked.
	ErrCodeUpdatePanic ErrorCode = "UPDATE_PANIC"

	// ErrCodeUnavailable indicates a non-retryable transport failure.
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" && e.Txn != "" {
		return fmt.Sprintf("%s: %s (path=%s, txn=%s)", e.Code, e.Message, e.Path, e.Txn)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path=%s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsValidationError returns true if the error is a path validation error.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == ErrCodeValidation
	}
	return false
}

// IsPermissionError returns true if the error is a permission denial.
// Uses errors.As to handle wrapped errors.
func IsPermissionError(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == ErrCodePermissionDenied
	}
	return false
}

// IsDisconnectedError returns true if the error reports connection loss.
// Uses errors.As to handle wrapped errors.
func IsDisconnectedError(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == ErrCodeDisconnected
	}
	return false
}

// AsError extracts the transaction error from an error chain.
func AsError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// NewValidationError creates an Error for an unusable target path.
func NewValidationError(path, reason string) *Error {
	return &Error{
		Code:    ErrCodeValidation,
		Message: reason,
		Path:    path,
	}
}

// newOverwriteCause creates the abort condition for a transaction
// canceled by a raw write on an overlapping path.
func newOverwriteCause(path, txn string) *Error {
	return &Error{
		Code:    ErrCodeOverwritten,
		Message: "transaction canceled by overlapping non-transactional write",
		Path:    path,
		Txn:     txn,
	}
}
