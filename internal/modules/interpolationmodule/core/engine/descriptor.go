// Package engine describes the supported interpolation engines and turns an
// invocation spec into a concrete command line for each of them.
package engine

import (
	"math/bits"
	"runtime"
	"strconv"
	"time"

	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
)

// Descriptor is the static description of one engine backend.
type Descriptor struct {
	Kind types.EngineKind
	Name string

	// PackageDir is the engine's folder below the packages root. It is also
	// the working directory of the child process.
	PackageDir string

	// Executables are candidate file names inside PackageDir, in order of
	// preference. The first one that exists is launched.
	Executables []string

	// Interpreted engines are scripts run through the configured Python.
	Interpreted bool

	DefaultOutputExt string
	EstimatedStartup time.Duration

	// NativeMultiplier engines reach any supported multiplier in a single
	// invocation. The others double the frame count per pass.
	NativeMultiplier bool

	LogFile string

	buildArgs func(executable string, spec types.InvocationSpec) []string
	buildEnv  func(spec types.InvocationSpec) []string
}

// Args renders the argument template for spec. executable is the resolved
// candidate name, which selects between script variants.
func (d *Descriptor) Args(executable string, spec types.InvocationSpec) []string {
	return d.buildArgs(executable, spec)
}

// Env returns extra environment entries for the child, or nil.
func (d *Descriptor) Env(spec types.InvocationSpec) []string {
	if d.buildEnv == nil {
		return nil
	}
	return d.buildEnv(spec)
}

// OutputExt returns override when set, else the engine default.
func (d *Descriptor) OutputExt(override string) string {
	if override != "" {
		return override
	}
	return d.DefaultOutputExt
}

// Info returns the serializable view of the descriptor.
func (d *Descriptor) Info() types.EngineInfo {
	return types.EngineInfo{
		Kind:             d.Kind,
		Name:             d.Name,
		Executables:      append([]string(nil), d.Executables...),
		PackageDir:       d.PackageDir,
		DefaultOutputExt: d.DefaultOutputExt,
		StartupMs:        d.EstimatedStartup.Milliseconds(),
		NativeMultiplier: d.NativeMultiplier,
		LogFile:          d.LogFile,
	}
}

func exe(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// doublings returns log2(m) for a power of two m.
func doublings(m int) int {
	if m <= 1 {
		return 0
	}
	return bits.TrailingZeros(uint(m))
}

func ncnnArgs(spec types.InvocationSpec) []string {
	return []string{
		"-v",
		"-i", spec.InputDir,
		"-o", spec.OutputDir,
		"-g", spec.GPUSelector,
		"-f", spec.OutputExt,
		"-j", spec.ThreadSpec,
	}
}

func builtinDescriptors() []*Descriptor {
	return []*Descriptor{
		{
			Kind:             types.EngineDainNcnn,
			Name:             "DAIN",
			PackageDir:       "dain-ncnn",
			Executables:      []string{exe("dain-ncnn-vulkan")},
			DefaultOutputExt: "png",
			EstimatedStartup: 1500 * time.Millisecond,
			NativeMultiplier: true,
			LogFile:          "dain-ncnn-log.txt",
			buildArgs: func(_ string, spec types.InvocationSpec) []string {
				return []string{
					"-v",
					"-i", spec.InputDir,
					"-o", spec.OutputDir,
					"-n", strconv.Itoa(spec.TargetFrames),
					"-t", strconv.Itoa(spec.TileSize),
					"-g", spec.GPUSelector,
					"-f", spec.OutputExt,
					"-j", spec.ThreadSpec,
				}
			},
		},
		{
			Kind:             types.EngineCainNcnn,
			Name:             "CAIN",
			PackageDir:       "cain-ncnn",
			Executables:      []string{exe("cain-ncnn-vulkan")},
			DefaultOutputExt: "png",
			EstimatedStartup: 1500 * time.Millisecond,
			LogFile:          "cain-ncnn-log.txt",
			buildArgs: func(_ string, spec types.InvocationSpec) []string {
				return ncnnArgs(spec)
			},
		},
		{
			Kind:             types.EngineRifeNcnn,
			Name:             "RIFE",
			PackageDir:       "rife-ncnn",
			Executables:      []string{exe("rife-ncnn-vulkan")},
			DefaultOutputExt: "png",
			EstimatedStartup: 1500 * time.Millisecond,
			LogFile:          "rife-ncnn-log.txt",
			buildArgs: func(_ string, spec types.InvocationSpec) []string {
				return ncnnArgs(spec)
			},
		},
		{
			Kind:             types.EngineRifeCuda,
			Name:             "RIFE",
			PackageDir:       "rife-cuda",
			Executables:      []string{"inference_video.py", "interp-parallel.py"},
			Interpreted:      true,
			DefaultOutputExt: "png",
			EstimatedStartup: 3250 * time.Millisecond,
			NativeMultiplier: true,
			LogFile:          "rife-cuda-log.txt",
			buildArgs: func(script string, spec types.InvocationSpec) []string {
				exp := strconv.Itoa(doublings(spec.MultiplierHint))
				if script == "interp-parallel.py" {
					return []string{script,
						"--input", spec.InputDir,
						"--times", exp,
						"--imgformat", spec.OutputExt,
						"--output", spec.OutputDir,
					}
				}
				return []string{script,
					"--img", spec.InputDir,
					"--exp", exp,
					"--imgformat", spec.OutputExt,
					"--output", spec.OutputDir,
				}
			},
			buildEnv: func(spec types.InvocationSpec) []string {
				return []string{"CUDA_VISIBLE_DEVICES=" + spec.GPUSelector}
			},
		},
	}
}
