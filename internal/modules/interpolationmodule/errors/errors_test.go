package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
)

func TestInterpolationError(t *testing.T) {
	err := New(ErrorTypeSession, "start", errors.New("boom"))
	if err.Type != ErrorTypeSession {
		t.Errorf("expected type %s, got %s", ErrorTypeSession, err.Type)
	}

	err = err.WithSession("run-1").WithDetail("engine", "rife-ncnn")
	if err.Details["engine"] != "rife-ncnn" {
		t.Errorf("expected engine detail, got %v", err.Details["engine"])
	}

	expected := "session error in start for session run-1: boom"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
}

func TestLaunchErrorMatchesSentinel(t *testing.T) {
	tests := []struct {
		name  string
		cause error
	}{
		{"nil cause", nil},
		{"os error", errors.New("exec: permission denied")},
		{"already sentinel", ErrLaunchFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := LaunchError("launch", tt.cause)
			if !errors.Is(err, ErrLaunchFailed) {
				t.Errorf("expected %v to match ErrLaunchFailed", err)
			}
			if !err.IsTerminal() {
				t.Error("launch errors are terminal")
			}
			if GetType(err) != ErrorTypeLaunch {
				t.Errorf("expected launch type, got %s", GetType(err))
			}
		})
	}
}

func TestStorageErrorMatchesBoth(t *testing.T) {
	cause := errors.New("disk full")
	err := StorageError("record_pass", cause)
	if !errors.Is(err, ErrStorage) {
		t.Error("expected ErrStorage")
	}
	if !errors.Is(err, cause) {
		t.Error("expected underlying cause")
	}
}

func TestProcessErrorCarriesExitCode(t *testing.T) {
	err := ProcessError("pass_2", 3)
	if !errors.Is(err, ErrProcessExited) {
		t.Error("expected ErrProcessExited")
	}
	if err.Details["exit_code"] != 3 {
		t.Errorf("expected exit code 3, got %v", err.Details["exit_code"])
	}
	if err.IsTerminal() {
		t.Error("process exit is not a contract error")
	}
}

func TestWrapPreservesExisting(t *testing.T) {
	original := ValidationError("plan", ErrInvalidMultiplier)
	wrapped := Wrap(original, ErrorTypeInternal, "outer")
	if GetType(wrapped) != ErrorTypeValidation {
		t.Errorf("expected validation type to survive, got %s", GetType(wrapped))
	}
	if GetOperation(fmt.Errorf("ctx: %w", wrapped)) != "plan" {
		t.Error("expected operation to be reachable through fmt wrapping")
	}
	if Wrap(nil, ErrorTypeInternal, "noop") != nil {
		t.Error("wrapping nil must return nil")
	}
}

func TestReporterBoundsHistory(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return fixed }
	defer func() { timeNow = time.Now }()

	r := NewErrorReporter(hclog.NewNullLogger())
	r.maxErrors = 3
	for i := 0; i < 5; i++ {
		r.ReportError(context.Background(), StorageError("write", fmt.Errorf("err %d", i)).WithSession("s"))
	}
	r.ReportError(context.Background(), nil)

	got := r.GetErrors()
	if len(got) != 3 {
		t.Fatalf("expected 3 errors, got %d", len(got))
	}
	if got[0].Operation != "write" || got[0].SessionID != "s" {
		t.Errorf("unexpected entry %+v", got[0])
	}
	if !got[2].Timestamp.Equal(fixed) {
		t.Errorf("expected fixed timestamp, got %v", got[2].Timestamp)
	}
	if !errors.Is(got[2].Err(), ErrStorage) {
		t.Error("expected stored error to keep its chain")
	}

	r.ReportPanic(context.Background(), "kaboom", []byte("stack"))
	got = r.GetErrors()
	if !got[len(got)-1].IsPanic {
		t.Error("expected panic entry last")
	}

	r.ClearErrors()
	if len(r.GetErrors()) != 0 {
		t.Error("expected cleared history")
	}
}
