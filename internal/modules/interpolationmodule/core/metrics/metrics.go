// Package metrics counts runs, passes and classified engine output in a
// go-metrics registry.
package metrics

import (
	"time"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/process"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
)

const (
	PassDuration    = "interpolation.pass.duration"
	PassesCompleted = "interpolation.passes.completed"
	PassesFailed    = "interpolation.passes.failed"
	RunDuration     = "interpolation.run.duration"
	RunsStarted     = "interpolation.runs.started"
	runsPrefix      = "interpolation.runs."
	classifiedPre   = "interpolation.classified."
	enginePrefix    = "interpolation.engine."
)

// Recorder writes run telemetry to a registry.
type Recorder struct {
	registry gometrics.Registry
}

// NewRecorder creates a recorder on registry, or on a fresh registry when
// nil.
func NewRecorder(registry gometrics.Registry) *Recorder {
	if registry == nil {
		registry = gometrics.NewRegistry()
	}
	return &Recorder{registry: registry}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() gometrics.Registry {
	return r.registry
}

// RunStarted counts a run start for engine.
func (r *Recorder) RunStarted(engine types.EngineKind) {
	gometrics.GetOrRegisterCounter(RunsStarted, r.registry).Inc(1)
	gometrics.GetOrRegisterCounter(enginePrefix+string(engine), r.registry).Inc(1)
}

// RunFinished counts a terminal state and times the run.
func (r *Recorder) RunFinished(state types.RunState, elapsed time.Duration) {
	gometrics.GetOrRegisterCounter(runsPrefix+string(state), r.registry).Inc(1)
	gometrics.GetOrRegisterTimer(RunDuration, r.registry).Update(elapsed)
}

// Classified counts one classified engine output line.
func (r *Recorder) Classified(category types.ErrorCategory) {
	gometrics.GetOrRegisterCounter(classifiedPre+string(category), r.registry).Inc(1)
}

// OnPassComplete times a finished pass.
func (r *Recorder) OnPassComplete(sessionID string, pass types.Pass, result *process.Result, elapsed time.Duration) {
	gometrics.GetOrRegisterTimer(PassDuration, r.registry).Update(elapsed)
	if result != nil && !result.Success() {
		gometrics.GetOrRegisterCounter(PassesFailed, r.registry).Inc(1)
		return
	}
	gometrics.GetOrRegisterCounter(PassesCompleted, r.registry).Inc(1)
}

// Count returns the value of counter name, or 0 if it was never touched.
func (r *Recorder) Count(name string) int64 {
	if c, ok := r.registry.Get(name).(gometrics.Counter); ok {
		return c.Count()
	}
	return 0
}

// RunCount returns how many runs ended in state.
func (r *Recorder) RunCount(state types.RunState) int64 {
	return r.Count(runsPrefix + string(state))
}

// ClassifiedCount returns how many lines were classified as category.
func (r *Recorder) ClassifiedCount(category types.ErrorCategory) int64 {
	return r.Count(classifiedPre + string(category))
}

// Snapshot returns every metric's current values keyed by name.
func (r *Recorder) Snapshot() map[string]map[string]interface{} {
	return r.registry.GetAll()
}
