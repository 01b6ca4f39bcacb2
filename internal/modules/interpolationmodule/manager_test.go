package interpolationmodule

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/frameflow/internal/config"
	"github.com/mantonx/frameflow/internal/database"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/checkpoint"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/system"
	ierrors "github.com/mantonx/frameflow/internal/modules/interpolationmodule/errors"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/utils/framepad"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeEngine is a stand-in for rife-ncnn-vulkan: it writes two frames per
// input frame and records every invocation in $root/calls.
const fakeEngine = `
while [ $# -gt 0 ]; do
  case "$1" in
    -i) in="$2"; shift 2;;
    -o) out="$2"; shift 2;;
    -f) ext="$2"; shift 2;;
    *) shift;;
  esac
done
staging=$(ls -d "$out"-run* 2>/dev/null | wc -l | tr -d ' ')
echo "$in $staging" >> "%[1]s/calls"
%[2]s
n=0
for f in "$in"/*; do
  n=$((n+1))
  : > "$out/$((n*2-1)).$ext"
  : > "$out/$((n*2)).$ext"
done
echo "processed $n frames"
%[3]s
`

type harness struct {
	root     string
	in, out  string
	manager  *Manager
	store    *checkpoint.Store
	mu       sync.Mutex
	notified []types.Notification
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script engines are not supported on windows")
	}

	root := t.TempDir()
	h := &harness{
		root: root,
		in:   filepath.Join(root, "frames"),
		out:  filepath.Join(root, "interp"),
	}
	require.NoError(t, os.MkdirAll(h.in, 0755))
	for i := 1; i <= 10; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(h.in, fmt.Sprintf("%08d.png", i)), []byte("src"), 0644))
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	h.store = checkpoint.NewStore(db, hclog.NewNullLogger())

	cfg := config.DefaultConfig()
	cfg.Engines.PackagesDir = filepath.Join(root, "pkgs")
	cfg.Engines.LogDir = filepath.Join(root, "logs")
	cfg.Interpolation.FramePadding = 8

	h.manager = NewManager(Options{
		Config: cfg,
		Logger: hclog.NewNullLogger(),
		Store:  h.store,
		Sensor: system.StaticSensor{Name: "Test GPU", FreeGB: 8},
		Notifier: types.NotifierFunc(func(n types.Notification) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.notified = append(h.notified, n)
		}),
	})
	return h
}

// install writes the fake engine; before runs ahead of frame generation and
// after replaces the normal exit.
func (h *harness) install(t *testing.T, before, after string) {
	t.Helper()
	dir := filepath.Join(h.root, "pkgs", "rife-ncnn")
	require.NoError(t, os.MkdirAll(dir, 0755))
	script := "#!/bin/sh\n" + fmt.Sprintf(fakeEngine, h.root, before, after)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rife-ncnn-vulkan"), []byte(script), 0755))
}

func (h *harness) calls(t *testing.T) []string {
	data, err := os.ReadFile(filepath.Join(h.root, "calls"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func (h *harness) notifications() []types.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.Notification(nil), h.notified...)
}

func (h *harness) request(multiplier int) types.InterpolationRequest {
	return types.InterpolationRequest{
		Engine:     types.EngineRifeNcnn,
		InputDir:   h.in,
		OutputDir:  h.out,
		Multiplier: multiplier,
	}
}

func TestInterpolateRifeNcnnFourX(t *testing.T) {
	h := newHarness(t)
	h.install(t, "", "")

	result, err := h.manager.Interpolate(context.Background(), h.request(4))
	require.NoError(t, err)
	assert.Equal(t, types.RunStateSucceeded, result.State)
	assert.Equal(t, 2, result.Passes)
	assert.Contains(t, result.Summary, "Done running RIFE - Interpolation took ")
	assert.NotContains(t, result.Summary, "Waiting for encoding")

	calls := h.calls(t)
	require.Len(t, calls, 2)
	assert.Equal(t, h.in+" 0", calls[0])
	assert.Equal(t, h.out+"-run1 1", calls[1], "pass 2 reads the staging dir")
	assert.NoDirExists(t, h.out+"-run1")

	frames, err := framepad.ListFrames(h.out, "png")
	require.NoError(t, err)
	require.Len(t, frames, 40)
	assert.Equal(t, "00000001.png", frames[0])
	assert.Equal(t, "00000040.png", frames[39])

	assert.Empty(t, h.notifications())
	assert.Equal(t, int64(1), h.manager.Metrics().RunCount(types.RunStateSucceeded))

	run, err := h.store.GetRun(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, database.RunStatusSucceeded, run.Status)
	assert.Equal(t, 2, run.PassesCompleted)
	require.Len(t, run.Passes, 2)
	assert.Equal(t, h.out+"-run1", run.Passes[1].StagingDir)

	snap, ok := h.manager.Current()
	require.True(t, ok)
	assert.Equal(t, types.RunStateSucceeded, snap.State)
	assert.Equal(t, 2, snap.CurrentPass)
}

func TestInterpolateWithEncoderFourX(t *testing.T) {
	h := newHarness(t)
	h.install(t, "", "")
	h.manager.cfg.Encoder = config.EncoderConfig{
		Enabled:    true,
		Extensions: []string{"png"},
		SettleTime: 500 * time.Millisecond,
	}

	result, err := h.manager.Interpolate(context.Background(), h.request(4))
	require.NoError(t, err)
	assert.Equal(t, types.RunStateSucceeded, result.State)
	assert.True(t, strings.HasSuffix(result.Summary, " - Waiting for encoding to finish..."), result.Summary)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.manager.Shutdown(ctx))

	// the feed has drained by the time Shutdown returns
	data, err := os.ReadFile(h.out + "-frames.txt")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 40, "only the final pass is fed")
	seen := make(map[string]bool)
	for _, line := range lines {
		assert.False(t, seen[line], "delivered twice: %s", line)
		seen[line] = true
	}
	for i := 1; i <= 40; i++ {
		assert.True(t, seen[fmt.Sprintf("file '%s'", filepath.Join(h.out, fmt.Sprintf("%d.png", i)))], "frame %d", i)
	}

	// names stay as the engine wrote them while a feed consumes them
	assert.FileExists(t, filepath.Join(h.out, "1.png"))
	assert.NoFileExists(t, filepath.Join(h.out, "00000001.png"))

	assert.Len(t, h.calls(t), 2)
	assert.NoDirExists(t, h.out+"-run1")

	again, err := h.manager.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, result.SessionID, again.SessionID)
}

func TestInterpolateDerivedPadWidth(t *testing.T) {
	h := newHarness(t)
	h.install(t, "", "")
	h.manager.cfg.Interpolation.FramePadding = 0

	_, err := h.manager.Interpolate(context.Background(), h.request(2))
	require.NoError(t, err)

	frames, err := framepad.ListFrames(h.out, "png")
	require.NoError(t, err)
	require.Len(t, frames, 20)
	assert.Equal(t, "01.png", frames[0], "width of 10 x 2 frames")
}

func TestInterpolateRejectsBeforeLaunch(t *testing.T) {
	h := newHarness(t)
	h.install(t, "", "")

	_, err := h.manager.Interpolate(context.Background(), h.request(3))
	assert.True(t, errors.Is(err, ierrors.ErrInvalidMultiplier))

	req := h.request(4)
	req.Engine = "flowframes-magic"
	_, err = h.manager.Interpolate(context.Background(), req)
	assert.True(t, errors.Is(err, ierrors.ErrUnknownEngine))

	req = h.request(4)
	req.OutputDir = h.in
	_, err = h.manager.Interpolate(context.Background(), req)
	assert.Equal(t, ierrors.ErrorTypeValidation, ierrors.GetType(err))

	assert.Empty(t, h.calls(t))
	_, ok := h.manager.Current()
	assert.False(t, ok)
}

func TestInterpolateLaunchFailure(t *testing.T) {
	h := newHarness(t)

	result, err := h.manager.Interpolate(context.Background(), h.request(4))
	assert.True(t, errors.Is(err, ierrors.ErrLaunchFailed))
	require.NotNil(t, result)
	assert.Equal(t, types.RunStateFailed, result.State)

	run, getErr := h.store.GetRun(context.Background(), result.SessionID)
	require.NoError(t, getErr)
	assert.Equal(t, database.RunStatusFailed, run.Status)
	assert.Contains(t, run.Detail, "launch")
}

func TestInterpolateClassifiedErrorCancels(t *testing.T) {
	h := newHarness(t)
	h.install(t, `
for i in 1 2 3; do echo "RuntimeError: CUDA out of memory. Tried to allocate 2.00 GiB" >&2; done
echo "vkQueueSubmit failed" >&2`, "")

	result, err := h.manager.Interpolate(context.Background(), h.request(4))
	require.NoError(t, err, "cancellation is not an error")
	assert.Equal(t, types.RunStateCanceled, result.State)
	assert.Len(t, h.calls(t), 1, "pass 2 is never launched")

	notes := h.notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, types.CategoryOutOfVRAM, notes[0].Category)
	assert.Contains(t, notes[0].Line, "out of memory")
	require.NotNil(t, result.Notification)
	assert.Equal(t, types.CategoryOutOfVRAM, result.Notification.Category)

	run, getErr := h.store.GetRun(context.Background(), result.SessionID)
	require.NoError(t, getErr)
	assert.Equal(t, database.RunStatusCanceled, run.Status)
	assert.Equal(t, string(types.CategoryOutOfVRAM), run.ErrorCategory)
	assert.Equal(t, int64(4), h.manager.Metrics().ClassifiedCount(types.CategoryOutOfVRAM)+h.manager.Metrics().ClassifiedCount(types.CategoryVulkanFailure))
}

func TestInterpolateCPUFallbackIsHarmless(t *testing.T) {
	h := newHarness(t)
	h.install(t, `echo "ff:nocuda-cpu detected" >&2`, "")

	result, err := h.manager.Interpolate(context.Background(), h.request(2))
	require.NoError(t, err)
	assert.Equal(t, types.RunStateSucceeded, result.State)
	assert.Empty(t, h.notifications())
	assert.Equal(t, int64(1), h.manager.Metrics().ClassifiedCount(types.CategoryCPUFallbackWarning))
}

func TestInterpolateNonZeroExit(t *testing.T) {
	h := newHarness(t)
	h.install(t, "", "exit 3")

	result, err := h.manager.Interpolate(context.Background(), h.request(4))
	assert.True(t, errors.Is(err, ierrors.ErrProcessExited))
	assert.Equal(t, types.RunStateFailed, result.State)
	assert.Len(t, h.calls(t), 1)
	assert.NoDirExists(t, h.out+"-run1")
}

func TestSingleActiveSessionAndCooperativeCancel(t *testing.T) {
	h := newHarness(t)
	gate := filepath.Join(h.root, "gate")
	h.install(t, fmt.Sprintf(`while [ ! -f %q ]; do sleep 0.05; done`, gate), "")

	snap, err := h.manager.Start(context.Background(), h.request(4))
	require.NoError(t, err)
	assert.Equal(t, types.RunStateRunning, snap.State)

	_, err = h.manager.Interpolate(context.Background(), h.request(2))
	assert.True(t, errors.Is(err, ierrors.ErrSessionActive))

	require.Eventually(t, func() bool { return len(h.manager.Processes()) == 1 }, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, h.manager.Cancel(false))

	// the engine is not killed; pass 1 runs to completion
	require.NoError(t, os.WriteFile(gate, nil, 0644))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := h.manager.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, types.RunStateCanceled, result.State)
	assert.Len(t, h.calls(t), 1)

	n, _ := framepad.CountFrames(h.out)
	assert.Equal(t, 20, n, "pass 1 output is left as is")

	assert.True(t, errors.Is(h.manager.Cancel(false), ierrors.ErrRunNotFound))
}

func TestForceCancelKillsEngine(t *testing.T) {
	h := newHarness(t)
	h.install(t, `while true; do sleep 0.05; done`, "")

	_, err := h.manager.Start(context.Background(), h.request(4))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.manager.Processes()) == 1 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, h.manager.Cancel(true))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	result, err := h.manager.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.RunStateCanceled, result.State)
	assert.Empty(t, h.manager.Processes())
}

func TestRecoverInterrupted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	staging := h.out + "-run1"
	require.NoError(t, os.MkdirAll(staging, 0755))
	require.NoError(t, h.store.CreateRun(ctx, &database.InterpolationRun{
		ID:          "crashed",
		Engine:      string(types.EngineRifeNcnn),
		Multiplier:  4,
		InputDir:    h.in,
		OutputDir:   h.out,
		PassesTotal: 2,
		StartedAt:   time.Now().Add(-time.Minute),
	}))
	require.NoError(t, h.store.RecordPass(ctx, &database.InterpolationPass{RunID: "crashed", PassIndex: 1}))

	n, err := h.manager.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoDirExists(t, staging)

	run, err := h.store.GetRun(ctx, "crashed")
	require.NoError(t, err)
	assert.Equal(t, database.RunStatusFailed, run.Status)
	assert.Equal(t, "interrupted", run.Detail)

	n, err = h.manager.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
