// Package apperror defines the error taxonomy shared by the HTTP layer,
// the task workers, and every service package in between. A single
// comparable struct type carries enough information for both a client
// response and a log line, generalizing the teacher's HTTP-only
// RequestError into one vocabulary that crosses layer boundaries.
package apperror

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Code is a stable, machine-comparable error identifier.
type Code string

const (
	CodeNotFound        Code = "not_found"
	CodeInvalidInput    Code = "invalid_input"
	CodeUnauthorized    Code = "unauthorized"
	CodeForbidden       Code = "forbidden"
	CodeConflict        Code = "conflict"
	CodePayloadTooLarge Code = "payload_too_large"
	CodeRateLimited     Code = "rate_limited"
	CodeDatabase        Code = "database"
	CodeStorage         Code = "storage"
	CodeInternal        Code = "internal"
	CodeUpstreamTimeout Code = "upstream_timeout"
)

// httpStatus maps each taxonomy code to its representative HTTP status.
var httpStatus = map[Code]int{
	CodeNotFound:        http.StatusNotFound,
	CodeInvalidInput:    http.StatusBadRequest,
	CodeUnauthorized:    http.StatusUnauthorized,
	CodeForbidden:       http.StatusForbidden,
	CodeConflict:        http.StatusConflict,
	CodePayloadTooLarge: http.StatusRequestEntityTooLarge,
	CodeRateLimited:     http.StatusTooManyRequests,
	CodeDatabase:        http.StatusInternalServerError,
	CodeStorage:         http.StatusInternalServerError,
	CodeInternal:        http.StatusInternalServerError,
	CodeUpstreamTimeout: http.StatusGatewayTimeout,
}

// defaultLogLevel maps each taxonomy code to the level it should be logged
// at when surfaced through the request logger or a worker handler.
var defaultLogLevel = map[Code]slog.Level{
	CodeNotFound:        slog.LevelInfo,
	CodeInvalidInput:    slog.LevelInfo,
	CodeUnauthorized:    slog.LevelWarn,
	CodeForbidden:       slog.LevelWarn,
	CodeConflict:        slog.LevelInfo,
	CodePayloadTooLarge: slog.LevelInfo,
	CodeRateLimited:     slog.LevelWarn,
	CodeDatabase:        slog.LevelError,
	CodeStorage:         slog.LevelError,
	CodeInternal:        slog.LevelError,
	CodeUpstreamTimeout: slog.LevelWarn,
}

// Error is the single error type every package returns for anything a
// caller might need to react to: an HTTP handler rendering a response, a
// worker deciding whether to retry a task, or a log statement choosing a
// level.
type Error struct {
	Code            Code
	Message         string // client-safe; never includes internal detail
	Detail          string // suppressed outside development mode
	Recoverable     bool   // true if retrying the operation may succeed
	SuggestedAction string
	Err             error // wrapped cause, for errors.Is/As and logging
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code representing this error's taxonomy
// code.
func (e *Error) Status() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// LogLevel returns the level this error should be logged at.
func (e *Error) LogLevel() slog.Level {
	if level, ok := defaultLogLevel[e.Code]; ok {
		return level
	}
	return slog.LevelError
}

// New builds an Error of the given code with a client-safe message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Recoverable: isRecoverable(code)}
}

// Wrap builds an Error of the given code, attaching cause as detail and as
// the wrapped error for errors.Is/As.
func Wrap(code Code, message string, cause error) *Error {
	e := New(code, message)
	e.Err = cause
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

func isRecoverable(code Code) bool {
	switch code {
	case CodeRateLimited, CodeUpstreamTimeout, CodeDatabase, CodeStorage:
		return true
	default:
		return false
	}
}

// WithAction sets the suggested action and returns the receiver for
// chaining at the construction site.
func (e *Error) WithAction(action string) *Error {
	e.SuggestedAction = action
	return e
}

// WithDetail overrides the detail field, used when the caller wants to
// surface something other than the wrapped error's message.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// As is a convenience wrapper over errors.As for the common case of testing
// whether an error in a chain is an *Error.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf extracts the taxonomy code from err, defaulting to CodeInternal
// when err is not (or does not wrap) an *Error.
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternal
}

// Convenience constructors for the common cases, matching the teacher's
// terse single-purpose error helpers.

func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

func InvalidInput(message string) *Error {
	return New(CodeInvalidInput, message)
}

func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, message)
}

func Forbidden(message string) *Error {
	return New(CodeForbidden, message)
}

func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

func PayloadTooLarge(message string) *Error {
	return New(CodePayloadTooLarge, message)
}

func RateLimited(message string) *Error {
	return New(CodeRateLimited, message).WithAction("retry after the window resets")
}

func Database(cause error) *Error {
	return Wrap(CodeDatabase, "a database error occurred", cause).WithAction("retry the request")
}

func Storage(cause error) *Error {
	return Wrap(CodeStorage, "a storage error occurred", cause).WithAction("retry the request")
}

func Internal(cause error) *Error {
	return Wrap(CodeInternal, "an internal error occurred", cause)
}

func UpstreamTimeout(cause error) *Error {
	return Wrap(CodeUpstreamTimeout, "an upstream service timed out", cause).WithAction("retry after a delay")
}
