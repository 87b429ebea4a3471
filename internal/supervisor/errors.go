package supervisor

import (
	"errors"
	"fmt"
)

// Sentinel errors used as causes inside structured supervisor errors.
// They can be checked with errors.Is().
var (
	// errProcessAlreadySpawned is returned when a ProcessController is
	// asked to spawn a second time.
	errProcessAlreadySpawned = errors.New("process already spawned")
)

// ErrorCode represents specific error codes for supervisor operations.
type ErrorCode string

// Supervisor error codes
const (
	ErrCodeDaemonNotFound   ErrorCode = "DAEMON_NOT_FOUND"
	ErrCodeDuplicateDaemon  ErrorCode = "DUPLICATE_DAEMON"
	ErrCodeSpawnFailed      ErrorCode = "SPAWN_FAILED"
	ErrCodeStopFailed       ErrorCode = "STOP_FAILED"
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeTimeout          ErrorCode = "TIMEOUT"
	ErrCodeClosed           ErrorCode = "SUPERVISOR_CLOSED"
)

// Error is a structured error for supervisor operations. It carries an
// error code for programmatic handling, the daemon the error relates to,
// an optional underlying cause, and free-form context for debugging.
type Error struct {
	Code       ErrorCode      // Error code for programmatic handling
	Message    string         // Human-readable error message
	Cause      error          // Underlying error (if any)
	DaemonName string         // Daemon the error relates to (if any)
	Context    map[string]any // Additional context for debugging
	Retryable  bool           // Whether the operation can be retried
}

// Error implements the error interface.
// Format: "[CODE] daemon=name message: cause".
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s]", e.Code)

	if e.DaemonName != "" {
		msg += fmt.Sprintf(" daemon=%s", e.DaemonName)
	}

	msg += fmt.Sprintf(" %s", e.Message)

	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}

	return msg
}

// Unwrap returns the underlying cause for error unwrapping chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error by error code.
// Returns true if target is a supervisor *Error with the same Code.
func (e *Error) Is(target error) bool {
	var supErr *Error
	if errors.As(target, &supErr) {
		return e.Code == supErr.Code
	}
	return false
}

// WithContext adds additional context to the error for debugging.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewDaemonNotFoundError creates an error for an unregistered daemon name.
func NewDaemonNotFoundError(name string) *Error {
	return &Error{
		Code:       ErrCodeDaemonNotFound,
		Message:    "daemon not registered",
		DaemonName: name,
		Retryable:  false,
	}
}

// NewDuplicateDaemonError creates an error for a spec name registered twice.
// Duplicate names are a configuration mistake and are fatal at
// initialization time.
func NewDuplicateDaemonError(name string) *Error {
	return &Error{
		Code:       ErrCodeDuplicateDaemon,
		Message:    "duplicate daemon name",
		DaemonName: name,
		Retryable:  false,
	}
}

// NewSpawnError creates an error for a process that could not be started.
func NewSpawnError(name string, cause error) *Error {
	return &Error{
		Code:       ErrCodeSpawnFailed,
		Message:    "failed to spawn process",
		Cause:      cause,
		DaemonName: name,
		Retryable:  true,
	}
}

// NewStopFailedError creates an error for a process that could not be
// signalled or killed.
func NewStopFailedError(name string, cause error) *Error {
	return &Error{
		Code:       ErrCodeStopFailed,
		Message:    "failed to stop process",
		Cause:      cause,
		DaemonName: name,
		Retryable:  true,
	}
}

// NewValidationError creates an error for malformed supervisor input.
func NewValidationError(message string, cause error) *Error {
	return &Error{
		Code:      ErrCodeValidationFailed,
		Message:   message,
		Cause:     cause,
		Retryable: false,
	}
}

// NewTimeoutError creates an error for an operation that exceeded its
// deadline.
func NewTimeoutError(name, operation string) *Error {
	return &Error{
		Code:       ErrCodeTimeout,
		Message:    fmt.Sprintf("%s timed out", operation),
		DaemonName: name,
		Retryable:  true,
	}
}

// NewClosedError creates an error for operations issued after the
// supervisor has been shut down.
func NewClosedError() *Error {
	return &Error{
		Code:      ErrCodeClosed,
		Message:   "supervisor is closed",
		Retryable: false,
	}
}

// IsDaemonNotFound reports whether err is a DAEMON_NOT_FOUND supervisor
// error. Route layers use this to translate to a not-found response.
func IsDaemonNotFound(err error) bool {
	var supErr *Error
	return errors.As(err, &supErr) && supErr.Code == ErrCodeDaemonNotFound
}

// DaemonNameFromError extracts the daemon name carried by a supervisor
// error, or "" if err is not a supervisor error.
func DaemonNameFromError(err error) string {
	var supErr *Error
	if errors.As(err, &supErr) {
		return supErr.DaemonName
	}
	return ""
}
