package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/autoencode"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/engine"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/process"
	ierrors "github.com/mantonx/frameflow/internal/modules/interpolationmodule/errors"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/utils/framepad"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu       sync.Mutex
	canceled bool
	passes   []int
}

func (s *fakeSession) ID() string { return "run-1" }
func (s *fakeSession) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}
func (s *fakeSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = true
}
func (s *fakeSession) BeginPass(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passes = append(s.passes, i)
}
func (s *fakeSession) EndPass() time.Duration { return time.Millisecond }

type callRecord struct {
	spec          types.InvocationSpec
	outputAtStart int
	staging       []string
}

// doublingRunner imitates an engine that writes two frames per input frame.
type doublingRunner struct {
	calls     []callRecord
	exitCodes map[int]int
	launchErr error
	beforeRun func(call int)
	afterRun  func(call int)
}

func (r *doublingRunner) Run(ctx context.Context, d *engine.Descriptor, spec types.InvocationSpec, sessionID string, observer types.LogObserver) (*process.Result, error) {
	call := len(r.calls) + 1
	if r.beforeRun != nil {
		r.beforeRun(call)
	}
	if r.launchErr != nil {
		return nil, r.launchErr
	}

	existing, _ := framepad.CountFrames(spec.OutputDir)
	staging, _ := filepath.Glob(filepath.Clean(spec.OutputDir) + "-run*")
	r.calls = append(r.calls, callRecord{spec: spec, outputAtStart: existing, staging: staging})

	frames, err := framepad.ListFrames(spec.InputDir)
	if err != nil {
		return nil, err
	}
	for i := range frames {
		for j := 1; j <= 2; j++ {
			name := filepath.Join(spec.OutputDir, fmt.Sprintf("%d.%s", i*2+j, spec.OutputExt))
			if err := os.WriteFile(name, []byte("frame"), 0644); err != nil {
				return nil, err
			}
		}
	}
	if observer != nil {
		observer.OnLogEvent(types.LogEvent{Line: fmt.Sprintf("pass %d done", call)})
	}
	if r.afterRun != nil {
		r.afterRun(call)
	}
	return &process.Result{ExitCode: r.exitCodes[call]}, nil
}

type env struct {
	in, out string
	runner  *doublingRunner
	exec    *Executor
	session *fakeSession
}

func newEnv(t *testing.T, frames int) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		in:      filepath.Join(root, "frames"),
		out:     filepath.Join(root, "interp"),
		runner:  &doublingRunner{exitCodes: map[int]int{}},
		session: &fakeSession{},
	}
	require.NoError(t, os.MkdirAll(e.in, 0755))
	for i := 1; i <= frames; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(e.in, fmt.Sprintf("%08d.png", i)), []byte("src"), 0644))
	}
	e.exec = NewExecutor(e.runner, hclog.NewNullLogger())
	e.exec.retryPolicy = func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1) }
	return e
}

func (e *env) plan(t *testing.T, multiplier int) (*engine.Descriptor, types.PassPlan) {
	d := descriptor(t, types.EngineRifeNcnn)
	plan, err := Plan(d, multiplier, types.InvocationSpec{InputDir: e.in, OutputDir: e.out, OutputExt: "png"})
	require.NoError(t, err)
	return d, plan
}

func TestExecuteFourX(t *testing.T) {
	e := newEnv(t, 10)
	d, plan := e.plan(t, 4)

	var completed []int
	err := e.exec.Execute(context.Background(), Run{
		Descriptor: d,
		Plan:       plan,
		Session:    e.session,
		Listeners: []PassListener{PassListenerFunc(func(_ string, p types.Pass, _ *process.Result, _ time.Duration) {
			completed = append(completed, p.Index)
		})},
	})
	require.NoError(t, err)

	require.Len(t, e.runner.calls, 2)
	assert.Equal(t, e.in, e.runner.calls[0].spec.InputDir)
	assert.Empty(t, e.runner.calls[0].staging)

	second := e.runner.calls[1]
	assert.Equal(t, e.out+"-run1", second.spec.InputDir)
	assert.Equal(t, []string{e.out + "-run1"}, second.staging)
	assert.Equal(t, 0, second.outputAtStart, "output dir is fresh when pass 2 starts")

	n, err := framepad.CountFrames(e.out)
	require.NoError(t, err)
	assert.Equal(t, 40, n)
	assert.NoDirExists(t, e.out+"-run1")
	assert.Equal(t, []int{1, 2}, completed)
	assert.Equal(t, []int{1, 2}, e.session.passes)
}

func TestExecuteEightXKeepsOneStagingDir(t *testing.T) {
	e := newEnv(t, 3)
	d, plan := e.plan(t, 8)

	require.NoError(t, e.exec.Execute(context.Background(), Run{Descriptor: d, Plan: plan, Session: e.session}))

	require.Len(t, e.runner.calls, 3)
	assert.Equal(t, []string{e.out + "-run2"}, e.runner.calls[2].staging)
	n, _ := framepad.CountFrames(e.out)
	assert.Equal(t, 24, n)
	assert.NoDirExists(t, e.out+"-run1")
	assert.NoDirExists(t, e.out+"-run2")
}

func TestExecuteCanceledBetweenPasses(t *testing.T) {
	e := newEnv(t, 10)
	d, plan := e.plan(t, 4)
	e.runner.afterRun = func(call int) {
		if call == 1 {
			e.session.Cancel()
		}
	}

	err := e.exec.Execute(context.Background(), Run{Descriptor: d, Plan: plan, Session: e.session})
	assert.True(t, errors.Is(err, ierrors.ErrCanceled))
	assert.Len(t, e.runner.calls, 1, "pass 2 must never launch")

	// no rollback: pass 1 output is left where it was
	n, _ := framepad.CountFrames(e.out)
	assert.Equal(t, 20, n)
	assert.NoDirExists(t, e.out+"-run1")
}

func TestExecuteCanceledBeforeFirstPass(t *testing.T) {
	e := newEnv(t, 2)
	d, plan := e.plan(t, 2)
	e.session.Cancel()

	err := e.exec.Execute(context.Background(), Run{Descriptor: d, Plan: plan, Session: e.session})
	assert.True(t, errors.Is(err, ierrors.ErrCanceled))
	assert.Empty(t, e.runner.calls)
}

func TestExecuteLaunchFailure(t *testing.T) {
	e := newEnv(t, 2)
	d, plan := e.plan(t, 4)
	e.runner.launchErr = ierrors.LaunchError("start", errors.New("exec format error"))

	err := e.exec.Execute(context.Background(), Run{Descriptor: d, Plan: plan, Session: e.session})
	assert.True(t, errors.Is(err, ierrors.ErrLaunchFailed))
}

func TestExecuteLaunchFailureKeepsPreviousPass(t *testing.T) {
	e := newEnv(t, 2)
	d, plan := e.plan(t, 4)
	e.runner.beforeRun = func(call int) {
		if call == 2 {
			e.runner.launchErr = ierrors.LaunchError("start", errors.New("exec format error"))
		}
	}

	err := e.exec.Execute(context.Background(), Run{Descriptor: d, Plan: plan, Session: e.session})
	assert.True(t, errors.Is(err, ierrors.ErrLaunchFailed))
	require.Len(t, e.runner.calls, 1)

	staging := e.out + "-run1"
	assert.DirExists(t, staging)
	n, err := framepad.CountFrames(staging)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "first pass output survives")
}

func TestExecuteNonZeroExitStops(t *testing.T) {
	e := newEnv(t, 2)
	d, plan := e.plan(t, 4)
	e.runner.exitCodes[1] = 1

	err := e.exec.Execute(context.Background(), Run{Descriptor: d, Plan: plan, Session: e.session})
	assert.True(t, errors.Is(err, ierrors.ErrProcessExited))
	assert.Len(t, e.runner.calls, 1)
	assert.Equal(t, 1, ierrors.GetDetails(err)["exit_code"])
}

func TestExecuteRemovesStaleStaging(t *testing.T) {
	e := newEnv(t, 2)
	d, plan := e.plan(t, 4)
	stale := e.out + "-run1"
	require.NoError(t, os.MkdirAll(stale, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "junk.png"), []byte("x"), 0644))

	require.NoError(t, e.exec.Execute(context.Background(), Run{Descriptor: d, Plan: plan, Session: e.session}))
	assert.NoDirExists(t, stale)
	n, _ := framepad.CountFrames(e.out)
	assert.Equal(t, 8, n)
}

func TestExecuteRotationFailure(t *testing.T) {
	e := newEnv(t, 2)
	d, plan := e.plan(t, 4)
	e.runner.afterRun = func(call int) {
		if call == 1 {
			os.RemoveAll(e.out)
		}
	}

	err := e.exec.Execute(context.Background(), Run{Descriptor: d, Plan: plan, Session: e.session})
	assert.True(t, errors.Is(err, ierrors.ErrStorage))
	assert.Len(t, e.runner.calls, 1)
}

type recordingEncoder struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEncoder) Pause()  { r.record("pause") }
func (r *recordingEncoder) Resume() { r.record("resume") }
func (r *recordingEncoder) HasPendingWork() bool {
	return false
}
func (r *recordingEncoder) record(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestExecuteDrivesCoordinator(t *testing.T) {
	e := newEnv(t, 2)
	d, plan := e.plan(t, 8)
	enc := &recordingEncoder{}
	coord := autoencode.NewCoordinator(enc, hclog.NewNullLogger())

	var pausedAt []bool
	e.runner.beforeRun = func(call int) {
		pausedAt = append(pausedAt, coord.Paused())
	}

	require.NoError(t, e.exec.Execute(context.Background(), Run{Descriptor: d, Plan: plan, Session: e.session, Coordinator: coord}))
	assert.Equal(t, []bool{true, true, false}, pausedAt)
	assert.Equal(t, []string{"pause", "resume"}, enc.events)
}

func TestExecuteForwardsObserver(t *testing.T) {
	e := newEnv(t, 1)
	d, plan := e.plan(t, 4)

	var lines []string
	obs := types.LogObserverFunc(func(ev types.LogEvent) { lines = append(lines, ev.Line) })
	require.NoError(t, e.exec.Execute(context.Background(), Run{Descriptor: d, Plan: plan, Session: e.session, Observer: obs}))
	assert.Equal(t, []string{"pass 1 done", "pass 2 done"}, lines)
}
