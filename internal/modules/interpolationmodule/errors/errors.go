// Package errors provides structured error handling for the interpolation
// module. Launch and contract failures travel as *InterpolationError values
// that wrap one of the sentinels below, so callers can branch with
// errors.Is regardless of how much context was added on the way up.
//
// Failures recognized in engine output are not represented here. They are
// turned into a notification and a cooperative cancel by the classifier.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies where an error originated.
type ErrorType string

const (
	// ErrorTypeLaunch indicates an engine could not be started
	ErrorTypeLaunch ErrorType = "launch"
	// ErrorTypeValidation indicates a bad request or plan
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeProcess indicates an engine exited abnormally
	ErrorTypeProcess ErrorType = "process"
	// ErrorTypeSession indicates lifecycle misuse
	ErrorTypeSession ErrorType = "session"
	// ErrorTypeStorage indicates checkpoint or filesystem errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeInternal indicates anything else
	ErrorTypeInternal ErrorType = "internal"
)

var (
	// ErrLaunchFailed indicates the engine executable is missing or could not be started
	ErrLaunchFailed = errors.New("engine launch failed")

	// ErrInvalidMultiplier indicates a multiplier other than 2, 4 or 8
	ErrInvalidMultiplier = errors.New("invalid multiplier")

	// ErrUnknownEngine indicates an engine kind with no descriptor
	ErrUnknownEngine = errors.New("unknown engine")

	// ErrCanceled indicates a run stopped cooperatively at a pass boundary
	ErrCanceled = errors.New("run canceled")

	// ErrProcessExited indicates the engine exited with a non-zero status
	ErrProcessExited = errors.New("engine exited with error")

	// ErrSessionActive indicates another run already holds the engine slot
	ErrSessionActive = errors.New("an interpolation run is already active")

	// ErrInvalidTransition indicates a run state change that is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrRunNotFound indicates an unknown run ID
	ErrRunNotFound = errors.New("run not found")

	// ErrStorage indicates the checkpoint store failed
	ErrStorage = errors.New("storage failure")
)

// InterpolationError provides structured error information with context
type InterpolationError struct {
	Type      ErrorType              // Error classification
	Op        string                 // Operation that failed (e.g. "launch", "rotate_staging")
	SessionID string                 // Related run ID if applicable
	Err       error                  // Underlying error
	Details   map[string]interface{} // Additional context
}

// Error implements the error interface
func (e *InterpolationError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s error in %s for session %s: %v", e.Type, e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Type, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *InterpolationError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for sentinel errors
func (e *InterpolationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New creates a new InterpolationError
func New(errType ErrorType, op string, err error) *InterpolationError {
	return &InterpolationError{
		Type:    errType,
		Op:      op,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithSession adds session context to the error
func (e *InterpolationError) WithSession(sessionID string) *InterpolationError {
	e.SessionID = sessionID
	return e
}

// WithDetail adds a key-value detail to the error
func (e *InterpolationError) WithDetail(key string, value interface{}) *InterpolationError {
	e.Details[key] = value
	return e
}

// IsTerminal reports whether the error ends a run without a retry making sense.
func (e *InterpolationError) IsTerminal() bool {
	return errors.Is(e.Err, ErrLaunchFailed) ||
		errors.Is(e.Err, ErrInvalidMultiplier) ||
		errors.Is(e.Err, ErrUnknownEngine)
}

// LaunchError creates an error for an engine that could not be started.
// The returned error matches ErrLaunchFailed.
func LaunchError(op string, cause error) *InterpolationError {
	if cause == nil || errors.Is(cause, ErrLaunchFailed) {
		return New(ErrorTypeLaunch, op, ErrLaunchFailed)
	}
	return New(ErrorTypeLaunch, op, fmt.Errorf("%w: %v", ErrLaunchFailed, cause))
}

// ValidationError creates a validation error
func ValidationError(op string, err error) *InterpolationError {
	return New(ErrorTypeValidation, op, err)
}

// ProcessError creates an error for an abnormal engine exit
func ProcessError(op string, exitCode int) *InterpolationError {
	return New(ErrorTypeProcess, op, ErrProcessExited).WithDetail("exit_code", exitCode)
}

// SessionError creates a session lifecycle error
func SessionError(op string, err error) *InterpolationError {
	return New(ErrorTypeSession, op, err)
}

// StorageError creates a storage error. The result matches ErrStorage as
// well as the wrapped cause.
func StorageError(op string, err error) *InterpolationError {
	return New(ErrorTypeStorage, op, fmt.Errorf("%w: %w", ErrStorage, err))
}

// InternalError creates an internal error
func InternalError(op string, err error) *InterpolationError {
	return New(ErrorTypeInternal, op, err)
}

// Wrap wraps an error with operation context if it's not already an InterpolationError
func Wrap(err error, errType ErrorType, op string) error {
	if err == nil {
		return nil
	}

	var iErr *InterpolationError
	if errors.As(err, &iErr) {
		return err
	}

	return New(errType, op, err)
}

// GetType extracts the error type from an error
func GetType(err error) ErrorType {
	var iErr *InterpolationError
	if errors.As(err, &iErr) {
		return iErr.Type
	}
	return ErrorTypeInternal
}

// GetOperation extracts the operation from an error
func GetOperation(err error) string {
	var iErr *InterpolationError
	if errors.As(err, &iErr) {
		return iErr.Op
	}
	return "unknown"
}

// GetSessionID extracts the session ID from an error
func GetSessionID(err error) string {
	var iErr *InterpolationError
	if errors.As(err, &iErr) {
		return iErr.SessionID
	}
	return ""
}

// GetDetails extracts error details
func GetDetails(err error) map[string]interface{} {
	var iErr *InterpolationError
	if errors.As(err, &iErr) {
		return iErr.Details
	}
	return nil
}
