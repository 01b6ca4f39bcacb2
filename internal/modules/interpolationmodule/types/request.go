package types

import "time"

// InterpolationRequest asks for InputDir to be interpolated into OutputDir
// with Engine at Multiplier.
type InterpolationRequest struct {
	Engine     EngineKind `json:"engine" binding:"required"`
	InputDir   string     `json:"inputDir" binding:"required"`
	OutputDir  string     `json:"outputDir" binding:"required"`
	Multiplier int        `json:"multiplier" binding:"required"`

	// Optional overrides of configured values.
	TileSize  int `json:"tileSize,omitempty"`
	PadWidth  int `json:"padWidth,omitempty"`
	InputSize int `json:"inputFrames,omitempty"`
}

// InterpolationResult describes how a run ended.
type InterpolationResult struct {
	SessionID    string        `json:"sessionId"`
	Engine       EngineKind    `json:"engine"`
	State        RunState      `json:"state"`
	Multiplier   int           `json:"multiplier"`
	Passes       int           `json:"passes"`
	OutputDir    string        `json:"outputDir"`
	Elapsed      time.Duration `json:"elapsed"`
	Notification *Notification `json:"notification,omitempty"`
	Summary      string        `json:"summary,omitempty"`
}

// SessionSnapshot is a point-in-time view of a run for telemetry.
type SessionSnapshot struct {
	ID              string        `json:"id"`
	Engine          EngineKind    `json:"engine"`
	State           RunState      `json:"state"`
	Multiplier      int           `json:"multiplier"`
	CurrentPass     int           `json:"currentPass"`
	TotalPasses     int           `json:"totalPasses"`
	StartedAt       time.Time     `json:"startedAt"`
	Elapsed         time.Duration `json:"elapsed"`
	PerPassElapsed  time.Duration `json:"perPassElapsed"`
	StartupEstimate time.Duration `json:"startupEstimate"`
	ErrorRaised     bool          `json:"errorRaised"`
	Canceled        bool          `json:"canceled"`
	Notification    *Notification `json:"notification,omitempty"`
}
