// Package autoencode keeps an incrementally consuming encoder away from
// intermediate pass output.
package autoencode

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
)

// Encoder is the auxiliary encoder as seen by the pipeline.
type Encoder interface {
	Pause()
	Resume()
	HasPendingWork() bool
}

// Coordinator pauses the encoder for every pass but the last of a
// multi-pass plan and resumes it exactly once, when the final pass starts.
// Single-pass plans never touch the encoder.
type Coordinator struct {
	encoder Encoder
	logger  hclog.Logger

	mu        sync.Mutex
	paused    bool
	total     int
	completed int
}

// NewCoordinator creates a coordinator. A nil encoder means no auxiliary
// encoder is consuming frames and every call is a no-op.
func NewCoordinator(encoder Encoder, logger hclog.Logger) *Coordinator {
	return &Coordinator{
		encoder: encoder,
		logger:  logger.Named("autoencode"),
	}
}

// InUse reports whether an encoder is attached.
func (c *Coordinator) InUse() bool {
	return c.encoder != nil
}

// HasPendingWork reports whether the attached encoder still has frames to
// process.
func (c *Coordinator) HasPendingWork() bool {
	return c.encoder != nil && c.encoder.HasPendingWork()
}

// Paused reports whether the coordinator currently holds the encoder.
func (c *Coordinator) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// OnPipelineStart pauses the encoder when plan has more than one pass.
func (c *Coordinator) OnPipelineStart(plan types.PassPlan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total = plan.Len()
	c.completed = 0
	if c.encoder == nil || c.total <= 1 {
		return
	}

	c.encoder.Pause()
	c.paused = true
	c.logger.Debug("paused encoder for intermediate passes", "multiplier", plan.Multiplier, "passes", c.total)
}

// OnPassStart resumes the encoder when the final pass begins.
func (c *Coordinator) OnPassStart(passIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.paused || passIndex != c.total {
		return
	}
	c.encoder.Resume()
	c.paused = false
	c.logger.Debug("resumed encoder for final pass", "pass", passIndex)
}

// OnPassComplete records a finished pass. The encoder stays paused until
// the final pass starts.
func (c *Coordinator) OnPassComplete(passIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = passIndex
}

// CompletedPasses returns the index of the last completed pass.
func (c *Coordinator) CompletedPasses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}
