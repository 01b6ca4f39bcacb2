package errors

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ErrorReporter collects errors from background work that must not fail the
// run itself, such as checkpoint writes or frame feed delivery.
type ErrorReporter interface {
	ReportError(ctx context.Context, err error)
	ReportPanic(ctx context.Context, recovered interface{}, stack []byte)
	GetErrors() []ReportedError
	ClearErrors()
}

// ReportedError contains error information from background operations
type ReportedError struct {
	Message   string    `json:"message"`
	Type      ErrorType `json:"type"`
	Operation string    `json:"operation"`
	SessionID string    `json:"sessionId,omitempty"`
	IsPanic   bool      `json:"isPanic"`
	Stack     string    `json:"stack,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	err error
}

// Err returns the original error.
func (r ReportedError) Err() error {
	return r.err
}

// DefaultErrorReporter logs through hclog and keeps the last maxErrors entries.
type DefaultErrorReporter struct {
	logger    hclog.Logger
	errors    []ReportedError
	errorsMux sync.RWMutex
	maxErrors int
}

// NewErrorReporter creates a new error reporter
func NewErrorReporter(logger hclog.Logger) *DefaultErrorReporter {
	return &DefaultErrorReporter{
		logger:    logger.Named("reporter"),
		maxErrors: 200,
	}
}

// ReportError reports a non-fatal error from a background operation
func (r *DefaultErrorReporter) ReportError(ctx context.Context, err error) {
	if err == nil {
		return
	}

	errType := GetType(err)
	op := GetOperation(err)
	sessionID := GetSessionID(err)

	r.logger.Warn("background operation error",
		"error", err,
		"type", errType,
		"operation", op,
		"session_id", sessionID,
		"details", GetDetails(err),
	)

	r.append(ReportedError{
		Message:   err.Error(),
		Type:      errType,
		Operation: op,
		SessionID: sessionID,
		Timestamp: timeNow(),
		err:       err,
	})
}

// ReportPanic reports a panic from a background operation
func (r *DefaultErrorReporter) ReportPanic(ctx context.Context, recovered interface{}, stack []byte) {
	r.logger.Error("panic in background operation",
		"panic", recovered,
		"stack", string(stack),
	)

	var err error
	switch v := recovered.(type) {
	case error:
		err = v
	case string:
		err = fmt.Errorf("panic: %s", v)
	default:
		err = fmt.Errorf("panic: %v", v)
	}

	r.append(ReportedError{
		Message:   err.Error(),
		Type:      ErrorTypeInternal,
		Operation: "panic",
		IsPanic:   true,
		Stack:     string(stack),
		Timestamp: timeNow(),
		err:       err,
	})
}

func (r *DefaultErrorReporter) append(e ReportedError) {
	r.errorsMux.Lock()
	defer r.errorsMux.Unlock()

	if len(r.errors) >= r.maxErrors {
		r.errors = r.errors[1:]
	}
	r.errors = append(r.errors, e)
}

// GetErrors returns all reported errors since last clear
func (r *DefaultErrorReporter) GetErrors() []ReportedError {
	r.errorsMux.RLock()
	defer r.errorsMux.RUnlock()

	result := make([]ReportedError, len(r.errors))
	copy(result, r.errors)
	return result
}

// ClearErrors clears the error history
func (r *DefaultErrorReporter) ClearErrors() {
	r.errorsMux.Lock()
	defer r.errorsMux.Unlock()

	r.errors = r.errors[:0]
}

// SafeGo runs fn in a goroutine, reporting its error or panic.
func SafeGo(reporter ErrorReporter, logger hclog.Logger, name string, fn func() error) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				reporter.ReportPanic(context.Background(), rec, debug.Stack())
			}
		}()

		if err := fn(); err != nil {
			reporter.ReportError(context.Background(), Wrap(err, ErrorTypeInternal, name))
		}
		logger.Debug("background operation finished", "name", name)
	}()
}

var timeNow = time.Now
