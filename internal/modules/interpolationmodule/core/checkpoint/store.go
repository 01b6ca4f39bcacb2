// Package checkpoint persists run progress at pass boundaries so a crashed
// process can be detected and cleaned up on the next start.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/frameflow/internal/database"
	ierrors "github.com/mantonx/frameflow/internal/modules/interpolationmodule/errors"
	"gorm.io/gorm"
)

// Outcome carries what is known about a run when it reaches a terminal state.
type Outcome struct {
	Status        database.RunStatus
	ErrorCategory string
	ErrorLine     string
	Detail        string
	Elapsed       time.Duration
}

// Store reads and writes run checkpoints.
type Store struct {
	db     *gorm.DB
	logger hclog.Logger
}

// NewStore creates a store on an already migrated database.
func NewStore(db *gorm.DB, logger hclog.Logger) *Store {
	return &Store{db: db, logger: logger.Named("checkpoint")}
}

// CreateRun inserts the row for a run that is starting.
func (s *Store) CreateRun(ctx context.Context, run *database.InterpolationRun) error {
	if run.Status == "" {
		run.Status = database.RunStatusRunning
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return ierrors.StorageError("create_run", err).WithSession(run.ID)
	}
	s.logger.Debug("run checkpoint created", "session_id", run.ID, "passes", run.PassesTotal)
	return nil
}

// RecordPass stores a finished pass and advances the run's pass counter
// in one transaction.
func (s *Store) RecordPass(ctx context.Context, pass *database.InterpolationPass) error {
	if pass.CompletedAt.IsZero() {
		pass.CompletedAt = time.Now()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(pass).Error; err != nil {
			return err
		}
		res := tx.Model(&database.InterpolationRun{}).
			Where("id = ?", pass.RunID).
			Update("passes_completed", pass.PassIndex)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ierrors.ErrRunNotFound
		}
		return nil
	})
	if errors.Is(err, ierrors.ErrRunNotFound) {
		return ierrors.SessionError("record_pass", err).WithSession(pass.RunID)
	}
	if err != nil {
		return ierrors.StorageError("record_pass", err).WithSession(pass.RunID).WithDetail("pass", pass.PassIndex)
	}
	return nil
}

// FinishRun writes the terminal status of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, outcome Outcome) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&database.InterpolationRun{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"status":         outcome.Status,
			"error_category": outcome.ErrorCategory,
			"error_line":     outcome.ErrorLine,
			"detail":         outcome.Detail,
			"elapsed_ms":     outcome.Elapsed.Milliseconds(),
			"ended_at":       &now,
		})
	if res.Error != nil {
		return ierrors.StorageError("finish_run", res.Error).WithSession(runID)
	}
	if res.RowsAffected == 0 {
		return ierrors.SessionError("finish_run", ierrors.ErrRunNotFound).WithSession(runID)
	}
	s.logger.Debug("run checkpoint finalized", "session_id", runID, "status", outcome.Status)
	return nil
}

// GetRun loads a run with its passes.
func (s *Store) GetRun(ctx context.Context, runID string) (*database.InterpolationRun, error) {
	var run database.InterpolationRun
	err := s.db.WithContext(ctx).
		Preload("Passes", func(db *gorm.DB) *gorm.DB { return db.Order("pass_index") }).
		Where("id = ?", runID).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ierrors.SessionError("get_run", ierrors.ErrRunNotFound).WithSession(runID)
	}
	if err != nil {
		return nil, ierrors.StorageError("get_run", err).WithSession(runID)
	}
	return &run, nil
}

// ListRuns returns the most recent runs first. A limit <= 0 means 50.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]database.InterpolationRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []database.InterpolationRun
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, ierrors.StorageError("list_runs", err)
	}
	return runs, nil
}

// ListInterrupted returns runs that were still marked running, which after
// a restart means the process died mid-run.
func (s *Store) ListInterrupted(ctx context.Context) ([]database.InterpolationRun, error) {
	var runs []database.InterpolationRun
	err := s.db.WithContext(ctx).
		Where("status = ?", database.RunStatusRunning).
		Order("started_at").
		Find(&runs).Error
	if err != nil {
		return nil, ierrors.StorageError("list_interrupted", err)
	}
	return runs, nil
}

// MarkInterrupted fails a run left behind by a crash.
func (s *Store) MarkInterrupted(ctx context.Context, runID, detail string) error {
	return s.FinishRun(ctx, runID, Outcome{
		Status: database.RunStatusFailed,
		Detail: detail,
	})
}
