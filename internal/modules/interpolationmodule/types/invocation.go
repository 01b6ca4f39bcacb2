package types

// InvocationSpec holds the parameters for a single engine invocation.
// It is built per pass and must not be modified after it has been handed
// to a runner.
type InvocationSpec struct {
	InputDir       string `json:"inputDir"`
	OutputDir      string `json:"outputDir"`
	TileSize       int    `json:"tileSize"`
	MultiplierHint int    `json:"multiplierHint"`
	GPUSelector    string `json:"gpuSelector"`
	ThreadSpec     string `json:"threadSpec"`
	OutputExt      string `json:"outputExt"`

	// TargetFrames is only consumed by engines that take an absolute
	// frame count instead of a factor.
	TargetFrames int `json:"targetFrames,omitempty"`
}

// Pass is one engine invocation within a plan.
type Pass struct {
	Index int            `json:"index"` // 1-based
	Spec  InvocationSpec `json:"spec"`

	// StagingDir is where the previous pass's output is rotated to before
	// this pass starts. Empty for the first pass.
	StagingDir string `json:"stagingDir,omitempty"`
}

// PassPlan is the ordered list of passes needed to reach Multiplier.
type PassPlan struct {
	Engine     EngineKind `json:"engine"`
	Multiplier int        `json:"multiplier"`
	OutputDir  string     `json:"outputDir"`
	Passes     []Pass     `json:"passes"`
}

// Len returns the number of passes in the plan.
func (p PassPlan) Len() int {
	return len(p.Passes)
}

// IsFinal reports whether passIndex is the last pass of the plan.
func (p PassPlan) IsFinal(passIndex int) bool {
	return passIndex == len(p.Passes)
}
