// Package errors defines the error taxonomy shared by the scheduler,
// workers, and operator tooling. Codes feed metric tags and alert routing,
// so producers pick the code that names the failing concern rather than the
// failing package.
package errors

import (
	"errors"
	"fmt"
)

// Code categorizes an application error.
type Code string

const (
	// CodeNotFound indicates a referenced entity does not exist.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a clash with existing data, usually a
	// unique constraint.
	CodeConflict Code = "conflict"
	// CodeValidation indicates malformed input (bad CIDR, unknown
	// schedule type, missing field).
	CodeValidation Code = "validation"
	// CodeTargeting indicates target resolution failed.
	CodeTargeting Code = "targeting"
	// CodeAdapter indicates a transient probe or port-call failure.
	CodeAdapter Code = "adapter"
	// CodeSink indicates a persistence or inventory write failure.
	CodeSink Code = "sink"
	// CodeEnqueue indicates the broker rejected a task.
	CodeEnqueue Code = "enqueue"
	// CodeForeignKey indicates a foreign key constraint violation.
	CodeForeignKey Code = "foreign_key"
	// CodeInternal indicates an internal error.
	CodeInternal Code = "internal"
	// CodeTimeout indicates a deadline was exceeded.
	CodeTimeout Code = "timeout"
	// CodeCanceled indicates the operation was canceled.
	CodeCanceled Code = "canceled"
)

// AppError is a structured error carrying a taxonomy code, an
// operator-readable message, and optionally the field at fault and the
// underlying cause. It participates in errors.Is and errors.As through
// Unwrap.
type AppError struct {
	Code    Code
	Message string
	Cause   error
	Field   string
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// from extracts the AppError in err's chain, or nil for plain errors.
func from(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// NotFound creates a NotFound error.
func NotFound(message string) *AppError { return &AppError{Code: CodeNotFound, Message: message} }

// NotFoundf creates a NotFound error with a formatted message.
func NotFoundf(format string, args ...any) *AppError { return newf(CodeNotFound, format, args...) }

// Conflictf creates a Conflict error with a formatted message.
func Conflictf(format string, args ...any) *AppError { return newf(CodeConflict, format, args...) }

// Validation creates a Validation error.
func Validation(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

// Validationf creates a Validation error with a formatted message.
func Validationf(format string, args ...any) *AppError {
	return newf(CodeValidation, format, args...)
}

// Targetingf creates a Targeting error with a formatted message.
func Targetingf(format string, args ...any) *AppError {
	return newf(CodeTargeting, format, args...)
}

// Wrap attaches a code and message to an existing error, preserving it as
// the cause. A nil err returns nil.
func Wrap(err error, code Code, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

func isCode(err error, code Code) bool {
	appErr := from(err)
	return appErr != nil && appErr.Code == code
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool { return isCode(err, CodeNotFound) }

// IsConflict reports whether err carries CodeConflict.
func IsConflict(err error) bool { return isCode(err, CodeConflict) }

// IsValidation reports whether err carries CodeValidation.
func IsValidation(err error) bool { return isCode(err, CodeValidation) }

// IsTargeting reports whether err carries CodeTargeting.
func IsTargeting(err error) bool { return isCode(err, CodeTargeting) }

// GetCode returns the taxonomy code of err, or "" for plain errors.
func GetCode(err error) Code {
	if appErr := from(err); appErr != nil {
		return appErr.Code
	}
	return ""
}

// GetField returns the field at fault, or "" when err names none.
func GetField(err error) string {
	if appErr := from(err); appErr != nil {
		return appErr.Field
	}
	return ""
}
