package types

// RunState is the lifecycle state of an interpolation run.
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateSucceeded RunState = "succeeded"
	RunStateCanceled  RunState = "canceled"
	RunStateFailed    RunState = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateSucceeded, RunStateCanceled, RunStateFailed:
		return true
	default:
		return false
	}
}
