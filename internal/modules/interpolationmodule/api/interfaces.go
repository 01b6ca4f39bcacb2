package api

import (
	"context"

	"github.com/mantonx/frameflow/internal/database"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/metrics"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/system"
	ierrors "github.com/mantonx/frameflow/internal/modules/interpolationmodule/errors"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
)

// InterpolationService is what the HTTP layer needs from the module.
type InterpolationService interface {
	Start(ctx context.Context, req types.InterpolationRequest) (types.SessionSnapshot, error)
	Current() (types.SessionSnapshot, bool)
	Cancel(force bool) error
	Engines() []types.EngineInfo
	Runs(ctx context.Context, limit int) ([]database.InterpolationRun, error)
	GetRun(ctx context.Context, id string) (*database.InterpolationRun, error)
	System(ctx context.Context) system.Snapshot
	Metrics() *metrics.Recorder
	Reporter() ierrors.ErrorReporter
}
