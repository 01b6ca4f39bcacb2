// Package classifier recognizes known failure signatures in engine output.
//
// Engines report problems only as free text, so each output line is matched
// against an ordered signature table. The first matching signature decides
// the category.
package classifier

import (
	"fmt"
	"strings"

	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
)

type signature struct {
	pattern       string
	caseSensitive bool
	category      types.ErrorCategory
}

// signatures is ordered; first match wins. Case-insensitive patterns are
// stored lower-case.
var signatures = []signature{
	{"ff:nocuda-cpu", true, types.CategoryCPUFallbackWarning},
	{"out of memory", false, types.CategoryOutOfVRAM},
	{"modulenotfounderror", false, types.CategoryMissingDependency},
	{"no longer supports this gpu", false, types.CategoryUnsupportedGPU},
	{"RuntimeError", true, types.CategoryRuntimeFailure},
	{"vkQueueSubmit failed", true, types.CategoryVulkanFailure},
}

// Classify returns the category of line, or false when no signature
// matches. Blank lines never match.
func Classify(line string) (types.ErrorCategory, bool) {
	if strings.TrimSpace(line) == "" {
		return types.CategoryNone, false
	}

	lower := strings.ToLower(line)
	for _, sig := range signatures {
		haystack := lower
		if sig.caseSensitive {
			haystack = line
		}
		if strings.Contains(haystack, sig.pattern) {
			return sig.category, true
		}
	}
	return types.CategoryNone, false
}

// Guidance returns the user-facing message for category. logFile is named
// where the user has to look at the full output.
func Guidance(category types.ErrorCategory, logFile string) string {
	switch category {
	case types.CategoryOutOfVRAM:
		return "Your GPU ran out of VRAM. Try a video with a lower resolution or lower the maximum video size setting."
	case types.CategoryMissingDependency:
		return fmt.Sprintf("A Python module is missing. Check %s for details. Reinstalling the engine's Python dependency package usually fixes this.", logFile)
	case types.CategoryUnsupportedGPU:
		return "Your GPU is too old and is not supported by this engine."
	case types.CategoryRuntimeFailure:
		return "An error occurred during interpolation."
	case types.CategoryVulkanFailure:
		return "A Vulkan error occurred during interpolation."
	case types.CategoryCPUFallbackWarning:
		return "CUDA-capable GPU device is not available, running on CPU instead."
	default:
		return ""
	}
}
