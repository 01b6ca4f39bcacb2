package database

import (
	"time"
)

// RunStatus mirrors the run lifecycle for persisted checkpoints.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusCanceled  RunStatus = "canceled"
	RunStatusFailed    RunStatus = "failed"
)

// InterpolationRun is one row per run. It is written when the run starts,
// updated at each pass boundary and finalized at a terminal state.
type InterpolationRun struct {
	ID              string     `gorm:"primaryKey;type:varchar(64)"`
	Engine          string     `gorm:"type:varchar(32);not null;index"`
	Multiplier      int        `gorm:"not null"`
	InputDir        string     `gorm:"type:varchar(1024);not null"`
	OutputDir       string     `gorm:"type:varchar(1024);not null"`
	Status          RunStatus  `gorm:"type:varchar(16);not null;index"`
	PassesTotal     int        `gorm:"not null"`
	PassesCompleted int        `gorm:"not null;default:0"`
	ErrorCategory   string     `gorm:"type:varchar(32)"`
	ErrorLine       string     `gorm:"type:text"`
	Detail          string     `gorm:"type:text"`
	StartedAt       time.Time  `gorm:"not null;index"`
	EndedAt         *time.Time `gorm:"index"`
	ElapsedMs       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Passes []InterpolationPass `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM
func (InterpolationRun) TableName() string {
	return "interpolation_runs"
}

// InterpolationPass records a completed engine invocation.
type InterpolationPass struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       string `gorm:"type:varchar(64);not null;uniqueIndex:idx_run_pass"`
	PassIndex   int    `gorm:"not null;uniqueIndex:idx_run_pass"`
	InputDir    string `gorm:"type:varchar(1024)"`
	OutputDir   string `gorm:"type:varchar(1024)"`
	StagingDir  string `gorm:"type:varchar(1024)"`
	ExitCode    int
	ElapsedMs   int64
	CompletedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (InterpolationPass) TableName() string {
	return "interpolation_passes"
}

// AllModels lists the models to migrate.
func AllModels() []interface{} {
	return []interface{}{&InterpolationRun{}, &InterpolationPass{}}
}
