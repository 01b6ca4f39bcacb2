// Package pipeline turns a requested multiplier into a sequence of engine
// passes and runs them.
//
// Engines that only double the frame count per invocation reach 4x and 8x
// by chaining passes. Between passes the output directory is renamed to a
// staging directory ("<out>-run1", "<out>-run2") that becomes the next
// pass's input, and a fresh output directory is created. A staging
// directory is deleted as soon as the pass reading it has finished, so at
// most one exists at any time.
package pipeline

import (
	"fmt"
	"math/bits"
	"path/filepath"

	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/engine"
	ierrors "github.com/mantonx/frameflow/internal/modules/interpolationmodule/errors"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
)

// SupportedMultipliers lists the accepted multipliers.
var SupportedMultipliers = []int{2, 4, 8}

// PassCount returns log2(multiplier) for a supported multiplier.
func PassCount(multiplier int) (int, error) {
	for _, m := range SupportedMultipliers {
		if m == multiplier {
			return bits.TrailingZeros(uint(m)), nil
		}
	}
	return 0, ierrors.ValidationError("plan", ierrors.ErrInvalidMultiplier).
		WithDetail("multiplier", multiplier)
}

// StagingDir returns the staging directory that holds the output of pass
// (1-based) while the next pass reads it.
func StagingDir(outputDir string, pass int) string {
	return fmt.Sprintf("%s-run%d", filepath.Clean(outputDir), pass)
}

// Plan derives the passes for d at multiplier. base supplies the input and
// output directories and the engine parameters shared by all passes.
func Plan(d *engine.Descriptor, multiplier int, base types.InvocationSpec) (types.PassPlan, error) {
	count, err := PassCount(multiplier)
	if err != nil {
		return types.PassPlan{}, err
	}

	plan := types.PassPlan{
		Engine:     d.Kind,
		Multiplier: multiplier,
		OutputDir:  base.OutputDir,
	}

	if d.NativeMultiplier {
		spec := base
		spec.MultiplierHint = multiplier
		plan.Passes = []types.Pass{{Index: 1, Spec: spec}}
		return plan, nil
	}

	for i := 1; i <= count; i++ {
		spec := base
		spec.MultiplierHint = 2
		spec.TargetFrames = 0

		pass := types.Pass{Index: i}
		if i > 1 {
			pass.StagingDir = StagingDir(base.OutputDir, i-1)
			spec.InputDir = pass.StagingDir
		}
		pass.Spec = spec
		plan.Passes = append(plan.Passes, pass)
	}
	return plan, nil
}
