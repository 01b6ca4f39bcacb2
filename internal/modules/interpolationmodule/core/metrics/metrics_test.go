package metrics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/process"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder(nil)

	r.RunStarted(types.EngineRifeNcnn)
	r.Classified(types.CategoryOutOfVRAM)
	r.Classified(types.CategoryOutOfVRAM)
	r.Classified(types.CategoryCPUFallbackWarning)
	r.OnPassComplete("s", types.Pass{Index: 1}, &process.Result{}, 2*time.Second)
	r.OnPassComplete("s", types.Pass{Index: 2}, &process.Result{ExitCode: 1}, time.Second)
	r.RunFinished(types.RunStateFailed, 3*time.Second)

	assert.Equal(t, int64(1), r.Count(RunsStarted))
	assert.Equal(t, int64(1), r.Count("interpolation.engine.rife-ncnn"))
	assert.Equal(t, int64(2), r.ClassifiedCount(types.CategoryOutOfVRAM))
	assert.Equal(t, int64(1), r.ClassifiedCount(types.CategoryCPUFallbackWarning))
	assert.Equal(t, int64(1), r.Count(PassesCompleted))
	assert.Equal(t, int64(1), r.Count(PassesFailed))
	assert.Equal(t, int64(1), r.RunCount(types.RunStateFailed))
	assert.Zero(t, r.RunCount(types.RunStateSucceeded))
}

func TestRecorderSnapshot(t *testing.T) {
	r := NewRecorder(nil)
	r.OnPassComplete("s", types.Pass{Index: 1}, &process.Result{}, 1500*time.Millisecond)

	snap := r.Snapshot()
	require.Contains(t, snap, PassDuration)
	assert.EqualValues(t, 1, snap[PassDuration]["count"])

	_, err := json.Marshal(snap)
	assert.NoError(t, err)
}
