package interpolationmodule

import (
	"context"
	"errors"
	"time"

	"github.com/mantonx/frameflow/internal/database"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/checkpoint"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/pipeline"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/process"
	ierrors "github.com/mantonx/frameflow/internal/modules/interpolationmodule/errors"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
)

// checkpointTimeout bounds a single checkpoint write. Checkpoint failures
// are reported but never fail the run.
const checkpointTimeout = 5 * time.Second

// interruptedDetail marks runs failed by crash recovery.
const interruptedDetail = "interrupted"

func (m *Manager) checkpointStart(ctx context.Context, run *activeRun) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointTimeout)
	defer cancel()

	err := m.store.CreateRun(ctx, &database.InterpolationRun{
		ID:          run.session.ID(),
		Engine:      string(run.descriptor.Kind),
		Multiplier:  run.plan.Multiplier,
		InputDir:    run.req.InputDir,
		OutputDir:   run.req.OutputDir,
		Status:      database.RunStatusRunning,
		PassesTotal: run.plan.Len(),
		StartedAt:   run.session.Snapshot().StartedAt,
	})
	if err != nil {
		m.reporter.ReportError(ctx, err)
	}
}

// checkpointPass is a pipeline.PassListener.
func (m *Manager) checkpointPass(sessionID string, pass types.Pass, result *process.Result, elapsed time.Duration) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()

	row := &database.InterpolationPass{
		RunID:      sessionID,
		PassIndex:  pass.Index,
		InputDir:   pass.Spec.InputDir,
		OutputDir:  pass.Spec.OutputDir,
		StagingDir: pass.StagingDir,
		ElapsedMs:  elapsed.Milliseconds(),
	}
	if result != nil {
		row.ExitCode = result.ExitCode
	}
	if err := m.store.RecordPass(ctx, row); err != nil {
		m.reporter.ReportError(ctx, err)
	}
}

func (m *Manager) checkpointFinish(run *activeRun, result *types.InterpolationResult, cause error) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()

	outcome := checkpoint.Outcome{
		Status:  database.RunStatus(result.State),
		Elapsed: result.Elapsed,
	}
	if n := result.Notification; n != nil {
		outcome.ErrorCategory = string(n.Category)
		outcome.ErrorLine = n.Line
	}
	if cause != nil {
		outcome.Detail = cause.Error()
	}
	if err := m.store.FinishRun(ctx, run.session.ID(), outcome); err != nil {
		m.reporter.ReportError(ctx, err)
	}
}

// RecoverInterrupted finds runs a previous process left in the running
// state, removes their staging directories and marks them failed. It
// returns how many runs were recovered.
func (m *Manager) RecoverInterrupted(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	runs, err := m.store.ListInterrupted(ctx)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	var activeID string
	if m.active != nil {
		activeID = m.active.session.ID()
	}
	m.mu.Unlock()

	recovered := 0
	var errs []error
	for _, run := range runs {
		if run.ID == activeID {
			continue
		}
		if err := pipeline.CleanupStaging(run.OutputDir); err != nil {
			errs = append(errs, ierrors.StorageError("recover_staging", err).WithSession(run.ID))
			continue
		}
		if err := m.store.MarkInterrupted(ctx, run.ID, interruptedDetail); err != nil {
			errs = append(errs, err)
			continue
		}
		m.logger.Warn("recovered interrupted run",
			"session_id", run.ID,
			"engine", run.Engine,
			"passes_completed", run.PassesCompleted,
			"passes_total", run.PassesTotal,
			"output", run.OutputDir,
		)
		recovered++
	}
	return recovered, errors.Join(errs...)
}
