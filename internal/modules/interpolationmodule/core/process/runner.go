// Package process launches engine executables and supervises them until
// they exit.
//
// Both output pipes are drained continuously by dedicated goroutines so a
// chatty engine can never block on a full pipe buffer. Every line is
// appended to the engine's log file and handed to the registered observer
// in arrival order for its stream. Completion is detected by waiting on the
// process itself rather than by polling.
package process

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/engine"
	ierrors "github.com/mantonx/frameflow/internal/modules/interpolationmodule/errors"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
)

// CommandBuilder resolves a descriptor and spec into a command line.
type CommandBuilder interface {
	Command(d *engine.Descriptor, spec types.InvocationSpec) (*engine.Command, error)
}

// Result reports how an engine invocation ended.
type Result struct {
	PID      int           `json:"pid"`
	ExitCode int           `json:"exitCode"`
	Elapsed  time.Duration `json:"elapsed"`
	Command  []string      `json:"command"`
	LogFile  string        `json:"logFile"`
}

// Success reports whether the engine exited cleanly.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Runner runs one engine invocation at a time per call.
type Runner struct {
	commands CommandBuilder
	registry *Registry
	logDir   string
	logger   hclog.Logger
}

// NewRunner creates a runner writing engine logs below logDir.
func NewRunner(commands CommandBuilder, registry *Registry, logDir string, logger hclog.Logger) *Runner {
	return &Runner{
		commands: commands,
		registry: registry,
		logDir:   logDir,
		logger:   logger.Named("runner"),
	}
}

// Run launches the engine described by d with spec and blocks until it
// exits and both of its output streams are closed. observer may be nil.
//
// A missing or unstartable executable returns an error matching
// ErrLaunchFailed. A non-zero exit is not an error at this level; it is
// reported through Result.ExitCode. Once started the child is never killed
// because ctx ends; termination is left to the process registry.
func (r *Runner) Run(ctx context.Context, d *engine.Descriptor, spec types.InvocationSpec, sessionID string, observer types.LogObserver) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, ierrors.SessionError("run", ierrors.ErrCanceled).WithSession(sessionID)
	}

	command, err := r.commands.Command(d, spec)
	if err != nil {
		return nil, err
	}

	engineLog, err := OpenEngineLog(r.logDir, d.LogFile)
	if err != nil {
		return nil, ierrors.LaunchError("open_engine_log", err).WithSession(sessionID)
	}
	defer engineLog.Close()

	cmd := exec.Command(command.Program, command.Args...)
	cmd.Dir = command.Dir
	cmd.Env = append(os.Environ(), command.Env...)
	setProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, ierrors.LaunchError("stdout_pipe", err).WithSession(sessionID)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, ierrors.LaunchError("stderr_pipe", err).WithSession(sessionID)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, ierrors.LaunchError("start", err).
			WithSession(sessionID).
			WithDetail("program", command.Program)
	}

	pid := cmd.Process.Pid
	r.registry.Register(pid, sessionID, string(d.Kind))
	defer r.registry.Unregister(pid)

	r.logger.Info("engine started",
		"engine", d.Kind,
		"pid", pid,
		"input", spec.InputDir,
		"output", spec.OutputDir,
		"log", engineLog.Path(),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go r.drain(stdout, types.StreamStdout, engineLog, observer, &wg)
	go r.drain(stderr, types.StreamStderr, engineLog, observer, &wg)

	// Wait must not be called before the pipes are fully read.
	wg.Wait()
	waitErr := cmd.Wait()

	result := &Result{
		PID:      pid,
		Elapsed:  time.Since(start),
		Command:  append([]string{command.Program}, command.Args...),
		LogFile:  engineLog.Path(),
		ExitCode: 0,
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, ierrors.InternalError("wait", waitErr).WithSession(sessionID)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	r.logger.Info("engine exited",
		"engine", d.Kind,
		"pid", pid,
		"exit_code", result.ExitCode,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

func (r *Runner) drain(pipe io.Reader, stream types.Stream, engineLog *EngineLog, observer types.LogObserver, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if err := engineLog.WriteLine(stream, line); err != nil {
			r.logger.Debug("engine log write failed", "error", err)
		}
		if observer != nil {
			observer.OnLogEvent(types.LogEvent{
				Line:      line,
				Stream:    stream,
				Timestamp: time.Now(),
			})
		}
	}

	if err := scanner.Err(); err != nil {
		// keep the pipe empty so the child cannot block on a full buffer
		r.logger.Warn("engine output unreadable, discarding remainder", "stream", stream, "error", err)
		io.Copy(io.Discard, pipe)
	}
}
