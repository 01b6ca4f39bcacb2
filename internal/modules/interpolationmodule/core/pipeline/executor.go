package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/autoencode"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/engine"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/process"
	ierrors "github.com/mantonx/frameflow/internal/modules/interpolationmodule/errors"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
)

// PassRunner runs a single engine invocation.
type PassRunner interface {
	Run(ctx context.Context, d *engine.Descriptor, spec types.InvocationSpec, sessionID string, observer types.LogObserver) (*process.Result, error)
}

// Session is the part of a run the executor reads and updates.
type Session interface {
	ID() string
	Canceled() bool
	BeginPass(index int)
	EndPass() time.Duration
}

// PassListener is told about every pass that ran to completion, whatever
// its exit code.
type PassListener interface {
	OnPassComplete(sessionID string, pass types.Pass, result *process.Result, elapsed time.Duration)
}

// PassListenerFunc adapts a function to PassListener.
type PassListenerFunc func(sessionID string, pass types.Pass, result *process.Result, elapsed time.Duration)

// OnPassComplete calls f.
func (f PassListenerFunc) OnPassComplete(sessionID string, pass types.Pass, result *process.Result, elapsed time.Duration) {
	f(sessionID, pass, result, elapsed)
}

// Run bundles everything needed to execute one plan.
type Run struct {
	Descriptor  *engine.Descriptor
	Plan        types.PassPlan
	Session     Session
	Observer    types.LogObserver
	Coordinator *autoencode.Coordinator
	Listeners   []PassListener
}

// Executor runs pass plans strictly sequentially.
type Executor struct {
	runner      PassRunner
	logger      hclog.Logger
	retryPolicy func() backoff.BackOff
}

// NewExecutor creates an executor that launches passes through runner.
func NewExecutor(runner PassRunner, logger hclog.Logger) *Executor {
	return &Executor{
		runner:      runner,
		logger:      logger.Named("pipeline"),
		retryPolicy: defaultRetryPolicy,
	}
}

// Execute runs every pass of run.Plan in order.
//
// Cancellation is checked before each pass; once observed no further pass
// is launched and ErrCanceled is returned, leaving the output directory as
// it is. A launch failure is returned as is and keeps the pass's staging
// directory, which then holds the last completed pass. A non-zero engine
// exit returns ErrProcessExited after the staging directory has been
// removed.
func (e *Executor) Execute(ctx context.Context, run Run) error {
	plan := run.Plan
	sessionID := run.Session.ID()
	log := e.logger.With("session_id", sessionID, "engine", plan.Engine)

	coordinator := run.Coordinator
	if coordinator == nil {
		coordinator = autoencode.NewCoordinator(nil, e.logger)
	}
	coordinator.OnPipelineStart(plan)

	if err := os.MkdirAll(plan.OutputDir, 0755); err != nil {
		return ierrors.StorageError("create_output_dir", err).WithSession(sessionID)
	}

	for _, pass := range plan.Passes {
		if run.Session.Canceled() {
			log.Info("cancellation observed, not starting pass", "pass", pass.Index, "of", plan.Len())
			return ierrors.SessionError("execute", ierrors.ErrCanceled).WithSession(sessionID)
		}

		if pass.StagingDir != "" {
			if err := rotate(plan.OutputDir, pass.StagingDir, e.retryPolicy); err != nil {
				return ierrors.StorageError("rotate_staging", err).
					WithSession(sessionID).
					WithDetail("staging_dir", pass.StagingDir)
			}
			log.Debug("rotated output into staging", "staging_dir", pass.StagingDir)
		}

		coordinator.OnPassStart(pass.Index)
		run.Session.BeginPass(pass.Index)
		log.Info("starting pass", "pass", pass.Index, "of", plan.Len(), "input", pass.Spec.InputDir)

		result, err := e.runner.Run(ctx, run.Descriptor, pass.Spec, sessionID, run.Observer)
		elapsed := run.Session.EndPass()

		if err != nil {
			if pass.StagingDir != "" {
				// the engine never ran; staging holds the last completed pass
				log.Warn("pass failed to launch, keeping staging directory", "staging_dir", pass.StagingDir)
			}
			return err
		}
		if pass.StagingDir != "" {
			if rmErr := os.RemoveAll(pass.StagingDir); rmErr != nil {
				log.Warn("failed to remove staging directory", "staging_dir", pass.StagingDir, "error", rmErr)
			}
		}

		coordinator.OnPassComplete(pass.Index)
		for _, l := range run.Listeners {
			l.OnPassComplete(sessionID, pass, result, elapsed)
		}

		if !result.Success() {
			log.Error("engine exited with error", "pass", pass.Index, "exit_code", result.ExitCode, "log", result.LogFile)
			return ierrors.ProcessError("execute", result.ExitCode).
				WithSession(sessionID).
				WithDetail("pass", pass.Index)
		}
		log.Info("pass complete", "pass", pass.Index, "elapsed", elapsed)
	}

	if err := removeStaging(plan.OutputDir); err != nil {
		return ierrors.StorageError("cleanup_staging", err).WithSession(sessionID)
	}
	return nil
}
