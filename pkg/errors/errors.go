// Package errors defines the coded errors tok reports to its callers. A code
// says which stage failed; the cause chain says why.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies the kind of failure.
type ErrorCode string

const (
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrCodeLocked     ErrorCode = "OUTPUT_LOCKED"
	ErrCodeBackend    ErrorCode = "STORE_ERROR"
	ErrCodeParse      ErrorCode = "PARSE_ERROR"
	ErrCodeRecordLoad ErrorCode = "RECORD_LOAD_ERROR"
)

// Error carries a code, a message and an optional cause. Details hold the
// values a caller may want to print or match on, such as the record id.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Details map[string]any
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error without a cause.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Details: map[string]any{}}
}

// Wrap creates an error around cause.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause, Details: map[string]any{}}
}

// WithDetail records a detail and returns e.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// ValidationError reports unusable input given by the caller.
func ValidationError(format string, args ...any) *Error {
	return New(ErrCodeValidation, fmt.Sprintf(format, args...))
}

// NotFoundError reports a missing record, object or other named thing.
func NotFoundError(kind, name string) *Error {
	return New(ErrCodeNotFound, fmt.Sprintf("%s %q not found", kind, name)).
		WithDetail("kind", kind).
		WithDetail("name", name)
}

// RecordLoadError reports a topic record that could not be read or turned
// into a node. It aborts the whole build.
func RecordLoadError(id string, err error) *Error {
	return Wrap(ErrCodeRecordLoad, "failed to load record "+id, err).WithDetail("id", id)
}

// ParseError reports a record that could not be decoded.
func ParseError(id string, err error) *Error {
	return Wrap(ErrCodeParse, "failed to parse "+id, err).WithDetail("id", id)
}

// StoreError reports a store operation that failed for a reason other than a
// missing object.
func StoreError(storeType, operation string, err error) *Error {
	return Wrap(ErrCodeBackend, fmt.Sprintf("%s store failed to %s", storeType, operation), err).
		WithDetail("store", storeType).
		WithDetail("operation", operation)
}

// OutputLocked reports a publish refused because another build holds the
// lock on the output.
func OutputLocked(path, who, operation string, since time.Time) *Error {
	msg := fmt.Sprintf("%s is locked by %s (%s since %s)", path, who, operation, since.Format(time.RFC3339))
	return New(ErrCodeLocked, msg).
		WithDetail("path", path).
		WithDetail("locked_by", who).
		WithDetail("operation", operation).
		WithDetail("created", since)
}

// Is reports whether err or any error it wraps carries code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// CodeOf returns the code of the outermost coded error in err's chain, or ""
// when there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}
