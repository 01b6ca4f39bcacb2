package interpolationmodule

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/frameflow/internal/config"
	"github.com/mantonx/frameflow/internal/database"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/autoencode"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/checkpoint"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/classifier"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/encoder"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/engine"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/metrics"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/pipeline"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/process"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/session"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/system"
	ierrors "github.com/mantonx/frameflow/internal/modules/interpolationmodule/errors"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/utils/framepad"
)

// encoderDrainTimeout bounds how long a finished run waits for the frame
// feed to hand over its last frames.
const encoderDrainTimeout = 10 * time.Minute

// Options wires a Manager to its collaborators. Only Config and Logger are
// required.
type Options struct {
	Config   *config.Config
	Logger   hclog.Logger
	Store    *checkpoint.Store // nil disables checkpointing
	Sensor   system.GPUSensor
	Notifier types.Notifier
	Observer types.LogObserver
	Metrics  *metrics.Recorder
	Reporter ierrors.ErrorReporter
}

// Manager runs interpolation requests one at a time.
type Manager struct {
	cfg       *config.Config
	logger    hclog.Logger
	engines   *engine.Registry
	processes *process.Registry
	executor  *pipeline.Executor
	store     *checkpoint.Store
	sensor    system.GPUSensor
	notifier  types.Notifier
	observer  types.LogObserver
	metrics   *metrics.Recorder
	reporter  ierrors.ErrorReporter

	mu     sync.Mutex
	active *activeRun
	last   *activeRun
}

// activeRun is everything one request needs while it executes.
type activeRun struct {
	req        types.InterpolationRequest
	descriptor *engine.Descriptor
	plan       types.PassPlan
	session    *session.RunSession
	padWidth   int
	done       chan struct{}
	drained    chan struct{}
	result     *types.InterpolationResult
}

// NewManager creates a manager from opts.
func NewManager(opts Options) *Manager {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("interpolation")

	recorder := opts.Metrics
	if recorder == nil {
		recorder = metrics.NewRecorder(nil)
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = ierrors.NewErrorReporter(logger)
	}
	sensor := opts.Sensor
	if sensor == nil {
		sensor = system.NewNvidiaSMI(logger)
	}

	engines := engine.NewRegistry(cfg.Engines.PackagesDir, cfg.Engines.PythonPath, logger)
	processes := process.NewRegistry(logger)
	runner := process.NewRunner(engines, processes, cfg.Engines.LogDir, logger)

	return &Manager{
		cfg:       cfg,
		logger:    logger,
		engines:   engines,
		processes: processes,
		executor:  pipeline.NewExecutor(runner, logger),
		store:     opts.Store,
		sensor:    sensor,
		notifier:  opts.Notifier,
		observer:  opts.Observer,
		metrics:   recorder,
		reporter:  reporter,
	}
}

// Interpolate runs req to completion.
//
// Validation errors and ErrSessionActive are returned without a result.
// Otherwise the result carries the terminal state. A canceled run is not an
// error; a failed run returns the result together with the cause.
func (m *Manager) Interpolate(ctx context.Context, req types.InterpolationRequest) (*types.InterpolationResult, error) {
	run, err := m.prepare(req)
	if err != nil {
		return nil, err
	}
	return m.execute(ctx, run)
}

// Start validates req and runs it in the background. It returns the
// session snapshot once the run is accepted.
func (m *Manager) Start(ctx context.Context, req types.InterpolationRequest) (types.SessionSnapshot, error) {
	run, err := m.prepare(req)
	if err != nil {
		return types.SessionSnapshot{}, err
	}

	// the run outlives the request that started it
	runCtx := context.WithoutCancel(ctx)
	ierrors.SafeGo(m.reporter, m.logger, "interpolate", func() error {
		_, err := m.execute(runCtx, run)
		if errors.Is(err, ierrors.ErrLaunchFailed) || errors.Is(err, ierrors.ErrProcessExited) {
			return nil // already logged and recorded as the run's outcome
		}
		return err
	})
	return run.session.Snapshot(), nil
}

// prepare validates req, builds the plan and claims the active slot.
func (m *Manager) prepare(req types.InterpolationRequest) (*activeRun, error) {
	d, err := m.engines.Get(req.Engine)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.InputDir) == "" || strings.TrimSpace(req.OutputDir) == "" {
		return nil, ierrors.ValidationError("prepare", fmt.Errorf("input and output directories are required"))
	}
	if filepath.Clean(req.InputDir) == filepath.Clean(req.OutputDir) {
		return nil, ierrors.ValidationError("prepare", fmt.Errorf("input and output directories must differ"))
	}
	if _, err := pipeline.PassCount(req.Multiplier); err != nil {
		return nil, err
	}

	inputFrames := req.InputSize
	if inputFrames <= 0 {
		inputFrames, err = framepad.CountFrames(req.InputDir)
		if err != nil {
			return nil, ierrors.ValidationError("count_input_frames", err).WithDetail("input_dir", req.InputDir)
		}
	}

	icfg := m.cfg.Interpolation
	tile := icfg.TileSize
	if req.TileSize > 0 {
		tile = req.TileSize
	}
	gpus := icfg.NcnnGPUs
	if d.Interpreted {
		gpus = icfg.TorchGPUs
	}
	base := types.InvocationSpec{
		InputDir:     req.InputDir,
		OutputDir:    req.OutputDir,
		TileSize:     tile,
		GPUSelector:  gpus,
		ThreadSpec:   icfg.ThreadSpec(),
		OutputExt:    d.OutputExt(icfg.OutputExt()),
		TargetFrames: inputFrames * req.Multiplier,
	}
	plan, err := pipeline.Plan(d, req.Multiplier, base)
	if err != nil {
		return nil, err
	}

	padWidth := req.PadWidth
	if padWidth <= 0 {
		padWidth = icfg.FramePadding
	}
	if padWidth <= 0 {
		padWidth = framepad.Width(inputFrames * req.Multiplier)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, ierrors.SessionError("prepare", ierrors.ErrSessionActive).WithSession(m.active.session.ID())
	}

	sess := session.New(session.Options{
		Engine:          d.Kind,
		EngineName:      d.Name,
		Multiplier:      req.Multiplier,
		TotalPasses:     plan.Len(),
		StartupEstimate: d.EstimatedStartup,
	})
	if err := sess.Start(); err != nil {
		return nil, err
	}

	run := &activeRun{
		req:        req,
		descriptor: d,
		plan:       plan,
		session:    sess,
		padWidth:   padWidth,
		done:       make(chan struct{}),
		drained:    make(chan struct{}),
	}
	m.active = run
	return run, nil
}

func (m *Manager) execute(ctx context.Context, run *activeRun) (*types.InterpolationResult, error) {
	sess := run.session
	d := run.descriptor
	log := m.logger.With("session_id", sess.ID(), "engine", d.Kind)

	defer m.release(run)

	// a done context is a cancel request, honoured at the next pass boundary
	stop := context.AfterFunc(ctx, sess.Cancel)
	defer stop()

	log.Info("interpolation started",
		"multiplier", run.plan.Multiplier,
		"passes", run.plan.Len(),
		"input", run.req.InputDir,
		"output", run.req.OutputDir,
	)
	m.metrics.RunStarted(d.Kind)
	m.checkpointStart(ctx, run)
	m.publishState(sess)

	system.Preflight(ctx, m.sensor, log)

	monitor := classifier.NewMonitor(sess, classifier.MonitorOptions{
		Engine:        d.Kind,
		LogFile:       filepath.Join(m.cfg.Engines.LogDir, d.LogFile),
		Notifier:      m.notifier,
		Recorder:      m.metrics,
		CancelOnError: m.cfg.Interpolation.CancelOnError,
	}, m.logger)

	feed := m.startFeed(ctx, run)
	var enc autoencode.Encoder
	if feed != nil {
		enc = feed
	}
	coordinator := autoencode.NewCoordinator(enc, m.logger)

	execErr := m.executor.Execute(ctx, pipeline.Run{
		Descriptor:  d,
		Plan:        run.plan,
		Session:     sess,
		Observer:    types.MultiObserver{monitor, m.observer},
		Coordinator: coordinator,
		Listeners: []pipeline.PassListener{
			m.metrics,
			pipeline.PassListenerFunc(m.checkpointPass),
		},
	})

	if feed != nil {
		// frames whose events are still unread must count as pending work
		feed.Rescan()
	}
	result, err := m.finish(run, execErr, coordinator, log)
	m.stopFeed(run, feed, result.State == types.RunStateSucceeded, log)
	return result, err
}

// finish maps the pipeline outcome onto the session's terminal state.
func (m *Manager) finish(run *activeRun, execErr error, coordinator *autoencode.Coordinator, log hclog.Logger) (*types.InterpolationResult, error) {
	sess := run.session
	var err error

	switch {
	case errors.Is(execErr, ierrors.ErrCanceled):
		err = sess.MarkCanceled()
	case execErr != nil && sess.Canceled():
		// the engine died after a cancel request or a classified error
		err = sess.MarkCanceled()
	case execErr != nil:
		err = sess.Fail()
	case sess.Canceled():
		// a classified error during the final pass
		err = sess.MarkCanceled()
	case sess.ErrorRaised():
		execErr = ierrors.New(ierrors.ErrorTypeProcess, "classify", ierrors.ErrProcessExited).
			WithSession(sess.ID()).
			WithDetail("category", string(sess.Notification().Category))
		err = sess.Fail()
	default:
		if !coordinator.InUse() {
			if padErr := m.padFrames(run, log); padErr != nil {
				execErr = padErr
				err = sess.Fail()
				break
			}
		}
		err = sess.Succeed()
	}
	if err != nil {
		log.Error("invalid session transition", "error", err)
	}

	state := sess.State()
	result := &types.InterpolationResult{
		SessionID:    sess.ID(),
		Engine:       run.descriptor.Kind,
		State:        state,
		Multiplier:   run.plan.Multiplier,
		Passes:       run.plan.Len(),
		OutputDir:    run.req.OutputDir,
		Elapsed:      sess.Elapsed(),
		Notification: sess.Notification(),
	}

	switch state {
	case types.RunStateSucceeded:
		result.Summary = session.Summary(run.descriptor.Name, result.Elapsed, coordinator.HasPendingWork())
		log.Info(result.Summary)
	case types.RunStateCanceled:
		log.Info("interpolation canceled", "completed_passes", coordinator.CompletedPasses(), "elapsed", result.Elapsed)
		execErr = nil
	default:
		log.Error("interpolation failed", "error", execErr, "elapsed", result.Elapsed)
	}

	m.metrics.RunFinished(state, result.Elapsed)
	m.checkpointFinish(run, result, execErr)
	run.result = result
	m.publishState(sess)
	return result, execErr
}

func (m *Manager) padFrames(run *activeRun, log hclog.Logger) error {
	ext := run.plan.Passes[len(run.plan.Passes)-1].Spec.OutputExt
	renamed, err := framepad.ZeroPadDir(run.req.OutputDir, ext, run.padWidth)
	if err != nil {
		return ierrors.StorageError("pad_frames", err).WithSession(run.session.ID())
	}
	log.Debug("normalized frame names", "renamed", renamed, "width", run.padWidth)
	return nil
}

func (m *Manager) release(run *activeRun) {
	m.mu.Lock()
	if m.active == run {
		m.active = nil
	}
	m.last = run
	m.mu.Unlock()
	close(run.done)
}

// startFeed attaches the incremental frame feed when enabled.
func (m *Manager) startFeed(ctx context.Context, run *activeRun) *encoder.FrameFeed {
	if !m.cfg.Encoder.Enabled {
		return nil
	}
	out := filepath.Clean(run.req.OutputDir)
	list, err := encoder.NewConcatList(out + "-frames.txt")
	if err != nil {
		m.reporter.ReportError(ctx, ierrors.StorageError("frame_list", err).WithSession(run.session.ID()))
		return nil
	}
	feed := encoder.NewFrameFeed(out, m.cfg.Encoder, list.Append, m.reporter, m.logger)
	if err := feed.Start(context.WithoutCancel(ctx)); err != nil {
		m.reporter.ReportError(ctx, err)
		return nil
	}
	return feed
}

// stopFeed lets a successful run's feed drain in the background and stops
// any other feed immediately. run.drained is closed once the feed has
// stopped.
func (m *Manager) stopFeed(run *activeRun, feed *encoder.FrameFeed, drain bool, log hclog.Logger) {
	if feed == nil {
		close(run.drained)
		return
	}
	if !drain {
		feed.Stop()
		close(run.drained)
		return
	}
	go func() {
		defer close(run.drained)
		ctx, cancel := context.WithTimeout(context.Background(), encoderDrainTimeout)
		defer cancel()
		if err := feed.Wait(ctx); err != nil {
			log.Warn("frame feed did not drain", "error", err)
		}
		feed.Stop()
		log.Info("encoding input complete", "frames", feed.Delivered())
	}()
}

// Current returns the snapshot of the active run, or of the last finished
// one when nothing is running.
func (m *Manager) Current() (types.SessionSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.active != nil:
		return m.active.session.Snapshot(), true
	case m.last != nil:
		return m.last.session.Snapshot(), true
	default:
		return types.SessionSnapshot{}, false
	}
}

// Wait blocks until the active run, if any, finishes and its frame feed has
// drained, and returns its result.
func (m *Manager) Wait(ctx context.Context) (*types.InterpolationResult, error) {
	m.mu.Lock()
	run := m.active
	if run == nil {
		run = m.last
	}
	m.mu.Unlock()
	if run == nil {
		return nil, nil
	}
	select {
	case <-run.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case <-run.drained:
		return run.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel requests cancellation of the active run. With force the running
// engine process is also terminated.
func (m *Manager) Cancel(force bool) error {
	m.mu.Lock()
	run := m.active
	m.mu.Unlock()
	if run == nil {
		return ierrors.SessionError("cancel", ierrors.ErrRunNotFound)
	}

	run.session.Cancel()
	m.logger.Info("cancellation requested", "session_id", run.session.ID(), "force", force)
	m.publishState(run.session)
	if force {
		if err := m.processes.KillSession(run.session.ID()); err != nil {
			return ierrors.InternalError("force_cancel", err).WithSession(run.session.ID())
		}
	}
	return nil
}

// Engines lists the engines with their installation state.
func (m *Manager) Engines() []types.EngineInfo {
	return m.engines.Infos()
}

// Processes lists the engine processes currently running.
func (m *Manager) Processes() []process.Entry {
	return m.processes.Entries()
}

// System reads GPU and host state.
func (m *Manager) System(ctx context.Context) system.Snapshot {
	snap, err := system.Collect(ctx, m.sensor)
	if err != nil {
		m.logger.Debug("some host metrics unavailable", "error", err)
	}
	return snap
}

// Metrics returns the telemetry recorder.
func (m *Manager) Metrics() *metrics.Recorder {
	return m.metrics
}

// Reporter returns the background error reporter.
func (m *Manager) Reporter() ierrors.ErrorReporter {
	return m.reporter
}

// Runs lists checkpointed runs, newest first.
func (m *Manager) Runs(ctx context.Context, limit int) ([]database.InterpolationRun, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.ListRuns(ctx, limit)
}

// GetRun loads one checkpointed run.
func (m *Manager) GetRun(ctx context.Context, id string) (*database.InterpolationRun, error) {
	if m.store == nil {
		return nil, ierrors.SessionError("get_run", ierrors.ErrRunNotFound).WithSession(id)
	}
	return m.store.GetRun(ctx, id)
}

// Shutdown cancels the active run, terminates any engine still running and
// waits for a finished run's frame feed to drain until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.Cancel(false); err != nil && !errors.Is(err, ierrors.ErrRunNotFound) {
		return err
	}
	m.processes.KillAll()
	_, err := m.Wait(ctx)
	return err
}

func (m *Manager) publishState(sess *session.RunSession) {
	if p, ok := m.observer.(StatePublisher); ok {
		p.PublishState(sess.Snapshot())
	}
}

// StatePublisher is implemented by observers that also want session state
// changes, such as the websocket hub.
type StatePublisher interface {
	PublishState(snapshot types.SessionSnapshot)
}
