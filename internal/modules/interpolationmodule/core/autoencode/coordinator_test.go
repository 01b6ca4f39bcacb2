package autoencode

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockEncoder struct {
	mock.Mock
}

func (m *mockEncoder) Pause()  { m.Called() }
func (m *mockEncoder) Resume() { m.Called() }
func (m *mockEncoder) HasPendingWork() bool {
	return m.Called().Bool(0)
}

func plan(multiplier, passes int) types.PassPlan {
	p := types.PassPlan{Multiplier: multiplier}
	for i := 1; i <= passes; i++ {
		p.Passes = append(p.Passes, types.Pass{Index: i})
	}
	return p
}

func TestEightXPausesUntilFinalPass(t *testing.T) {
	enc := &mockEncoder{}
	enc.On("Pause").Once()
	c := NewCoordinator(enc, hclog.NewNullLogger())

	c.OnPipelineStart(plan(8, 3))
	assert.True(t, c.Paused())

	c.OnPassStart(1)
	c.OnPassComplete(1)
	c.OnPassStart(2)
	c.OnPassComplete(2)
	assert.True(t, c.Paused(), "still paused after pass 2 completes")
	enc.AssertNotCalled(t, "Resume")

	enc.On("Resume").Once()
	c.OnPassStart(3)
	assert.False(t, c.Paused())
	c.OnPassComplete(3)
	assert.Equal(t, 3, c.CompletedPasses())

	enc.AssertNumberOfCalls(t, "Pause", 1)
	enc.AssertNumberOfCalls(t, "Resume", 1)
}

func TestTwoXNeverTouchesEncoder(t *testing.T) {
	enc := &mockEncoder{}
	c := NewCoordinator(enc, hclog.NewNullLogger())

	c.OnPipelineStart(plan(2, 1))
	c.OnPassStart(1)
	c.OnPassComplete(1)

	enc.AssertNotCalled(t, "Pause")
	enc.AssertNotCalled(t, "Resume")
	assert.False(t, c.Paused())
}

func TestSinglePassNativeMultiplier(t *testing.T) {
	enc := &mockEncoder{}
	c := NewCoordinator(enc, hclog.NewNullLogger())

	// engines that reach 4x in one invocation produce only final frames
	c.OnPipelineStart(plan(4, 1))
	c.OnPassStart(1)

	enc.AssertNotCalled(t, "Pause")
	enc.AssertNotCalled(t, "Resume")
}

func TestCanceledPipelineStaysPaused(t *testing.T) {
	enc := &mockEncoder{}
	enc.On("Pause").Once()
	c := NewCoordinator(enc, hclog.NewNullLogger())

	c.OnPipelineStart(plan(4, 2))
	c.OnPassStart(1)
	c.OnPassComplete(1)

	assert.True(t, c.Paused())
	enc.AssertNotCalled(t, "Resume")
}

func TestNoEncoder(t *testing.T) {
	c := NewCoordinator(nil, hclog.NewNullLogger())
	c.OnPipelineStart(plan(8, 3))
	c.OnPassStart(3)

	assert.False(t, c.InUse())
	assert.False(t, c.HasPendingWork())
	assert.False(t, c.Paused())
}

func TestHasPendingWorkDelegates(t *testing.T) {
	enc := &mockEncoder{}
	enc.On("HasPendingWork").Return(true)
	c := NewCoordinator(enc, hclog.NewNullLogger())

	assert.True(t, c.InUse())
	assert.True(t, c.HasPendingWork())
}
