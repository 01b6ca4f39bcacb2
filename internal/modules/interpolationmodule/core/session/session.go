// Package session implements the lifecycle of a single interpolation run.
//
// A RunSession moves Idle -> Running -> {Succeeded, Canceled, Failed}. It
// owns the run's timing, its cooperative cancel flag and the "error already
// shown" flag used to debounce notifications. Those flags are per instance,
// so two sessions never share state even if they are created back to back.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	ierrors "github.com/mantonx/frameflow/internal/modules/interpolationmodule/errors"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
)

var transitions = map[types.RunState][]types.RunState{
	types.RunStateIdle: {
		types.RunStateRunning,
	},
	types.RunStateRunning: {
		types.RunStateSucceeded,
		types.RunStateCanceled,
		types.RunStateFailed,
	},
}

func isValidTransition(from, to types.RunState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Options describes the run a session is created for.
type Options struct {
	Engine          types.EngineKind
	EngineName      string
	Multiplier      int
	TotalPasses     int
	StartupEstimate time.Duration
}

// RunSession is the mutable aggregate for one interpolation request.
type RunSession struct {
	id   string
	opts Options

	mu             sync.RWMutex
	state          types.RunState
	startedAt      time.Time
	endedAt        time.Time
	passStartedAt  time.Time
	perPassElapsed time.Duration
	passEnded      bool
	currentPass    int
	errorRaised    bool
	notification   *types.Notification
	canceled       bool
	cancelHooks    []func()

	now func() time.Time
}

// New creates an idle session with a fresh ID.
func New(opts Options) *RunSession {
	return &RunSession{
		id:    uuid.New().String(),
		opts:  opts,
		state: types.RunStateIdle,
		now:   time.Now,
	}
}

// ID returns the session identifier.
func (s *RunSession) ID() string {
	return s.id
}

// Engine returns the engine this session runs.
func (s *RunSession) Engine() types.EngineKind {
	return s.opts.Engine
}

// EngineName returns the display name of the engine.
func (s *RunSession) EngineName() string {
	return s.opts.EngineName
}

// State returns the current state.
func (s *RunSession) State() types.RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Start moves the session to Running, starts the clock and clears the
// error flag.
func (s *RunSession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transitionLocked(types.RunStateRunning); err != nil {
		return err
	}
	s.startedAt = s.now()
	s.errorRaised = false
	s.notification = nil
	return nil
}

// BeginPass records that pass index (1-based) has started.
func (s *RunSession) BeginPass(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentPass = index
	s.passStartedAt = s.now()
	s.perPassElapsed = 0
	s.passEnded = false
}

// EndPass freezes the elapsed time of the current pass.
func (s *RunSession) EndPass() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.passStartedAt.IsZero() && !s.passEnded {
		s.perPassElapsed = s.now().Sub(s.passStartedAt)
		s.passEnded = true
	}
	return s.perPassElapsed
}

// OnCancel registers fn to run once when Cancel is first called. If the
// session is already canceled fn runs immediately.
func (s *RunSession) OnCancel(fn func()) {
	s.mu.Lock()
	if !s.canceled {
		s.cancelHooks = append(s.cancelHooks, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Cancel requests a cooperative stop. It is honoured at the next pass
// boundary and never kills a running engine. Safe to call repeatedly.
func (s *RunSession) Cancel() {
	s.mu.Lock()
	if s.canceled || s.state.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.canceled = true
	hooks := s.cancelHooks
	s.cancelHooks = nil
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Canceled reports whether cancellation was requested.
func (s *RunSession) Canceled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canceled
}

// MarkErrorRaised stores n as the session's notification if none was
// raised yet and reports whether it did.
func (s *RunSession) MarkErrorRaised(n types.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errorRaised {
		return false
	}
	s.errorRaised = true
	s.notification = &n
	return true
}

// ErrorRaised reports whether a notification has been raised.
func (s *RunSession) ErrorRaised() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errorRaised
}

// Notification returns the raised notification, or nil.
func (s *RunSession) Notification() *types.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.notification == nil {
		return nil
	}
	n := *s.notification
	return &n
}

// Succeed moves the session to Succeeded.
func (s *RunSession) Succeed() error {
	return s.finish(types.RunStateSucceeded)
}

// MarkCanceled moves the session to Canceled.
func (s *RunSession) MarkCanceled() error {
	return s.finish(types.RunStateCanceled)
}

// Fail moves the session to Failed.
func (s *RunSession) Fail() error {
	return s.finish(types.RunStateFailed)
}

func (s *RunSession) finish(to types.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transitionLocked(to); err != nil {
		return err
	}
	s.endedAt = s.now()
	s.cancelHooks = nil
	return nil
}

func (s *RunSession) transitionLocked(to types.RunState) error {
	if !isValidTransition(s.state, to) {
		return ierrors.SessionError("transition", ierrors.ErrInvalidTransition).
			WithSession(s.id).
			WithDetail("from", string(s.state)).
			WithDetail("to", string(to))
	}
	s.state = to
	return nil
}

// Elapsed returns wall-clock time since Start, frozen once terminal.
func (s *RunSession) Elapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.elapsedLocked()
}

func (s *RunSession) elapsedLocked() time.Duration {
	switch {
	case s.startedAt.IsZero():
		return 0
	case !s.endedAt.IsZero():
		return s.endedAt.Sub(s.startedAt)
	default:
		return s.now().Sub(s.startedAt)
	}
}

// PerPassElapsed returns the running time of the current pass, or the
// final time of the last pass once it ended.
func (s *RunSession) PerPassElapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.perPassElapsedLocked()
}

func (s *RunSession) perPassElapsedLocked() time.Duration {
	if s.passEnded || s.passStartedAt.IsZero() {
		return s.perPassElapsed
	}
	return s.now().Sub(s.passStartedAt)
}

// Snapshot returns a copy of the session's telemetry.
func (s *RunSession) Snapshot() types.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := types.SessionSnapshot{
		ID:              s.id,
		Engine:          s.opts.Engine,
		State:           s.state,
		Multiplier:      s.opts.Multiplier,
		CurrentPass:     s.currentPass,
		TotalPasses:     s.opts.TotalPasses,
		StartedAt:       s.startedAt,
		Elapsed:         s.elapsedLocked(),
		PerPassElapsed:  s.perPassElapsedLocked(),
		StartupEstimate: s.opts.StartupEstimate,
		ErrorRaised:     s.errorRaised,
		Canceled:        s.canceled,
	}
	if s.notification != nil {
		n := *s.notification
		snap.Notification = &n
	}
	return snap
}
