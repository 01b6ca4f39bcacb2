// Package system reports the GPU and host state a run starts on.
package system

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// GPUSensor is a read-only view of the primary GPU. Implementations never
// fail: an unknown value is reported as 0 or "".
type GPUSensor interface {
	FreeVRAMGB() float64
	GPUName() string
}

// GPUInfo is a point-in-time sensor reading.
type GPUInfo struct {
	Name       string  `json:"name"`
	FreeVRAMGB float64 `json:"freeVramGb"`
}

// ReadGPU samples sensor.
func ReadGPU(sensor GPUSensor) GPUInfo {
	if sensor == nil {
		return GPUInfo{}
	}
	return GPUInfo{Name: sensor.GPUName(), FreeVRAMGB: sensor.FreeVRAMGB()}
}

type commandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// NvidiaSMI reads the first NVIDIA GPU through nvidia-smi. Machines
// without the tool or without an NVIDIA card read as unknown.
type NvidiaSMI struct {
	timeout time.Duration
	logger  hclog.Logger
	run     commandFunc

	once    sync.Once
	name    string
	missing bool
}

// NewNvidiaSMI creates the sensor.
func NewNvidiaSMI(logger hclog.Logger) *NvidiaSMI {
	return &NvidiaSMI{
		timeout: 3 * time.Second,
		logger:  logger.Named("gpu"),
		run:     runCommand,
	}
}

// FreeVRAMGB returns the free video memory of the first GPU in GB.
func (n *NvidiaSMI) FreeVRAMGB() float64 {
	free, _, ok := n.query()
	if !ok {
		return 0
	}
	return free
}

// GPUName returns the name of the first GPU. It is read once.
func (n *NvidiaSMI) GPUName() string {
	n.once.Do(func() {
		_, name, ok := n.query()
		if ok {
			n.name = name
		}
	})
	return n.name
}

func (n *NvidiaSMI) query() (float64, string, bool) {
	if n.missing {
		return 0, "", false
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	out, err := n.run(ctx, "nvidia-smi", "--query-gpu=memory.free,name", "--format=csv,noheader,nounits")
	if err != nil {
		if _, lookErr := exec.LookPath("nvidia-smi"); lookErr != nil {
			n.missing = true
		}
		n.logger.Debug("gpu query failed, ignore this without an nvidia gpu", "error", err)
		return 0, "", false
	}

	free, name, ok := parseNvidiaSMI(string(out))
	if !ok {
		n.logger.Debug("unexpected nvidia-smi output", "output", string(out))
	}
	return free, name, ok
}

// parseNvidiaSMI reads the first "<free MiB>, <name>" line.
func parseNvidiaSMI(out string) (float64, string, bool) {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	parts := strings.SplitN(line, ",", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	mib, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, "", false
	}
	return mib / 1024, strings.TrimSpace(parts[1]), true
}

// StaticSensor reports fixed values.
type StaticSensor struct {
	Name   string
	FreeGB float64
}

func (s StaticSensor) FreeVRAMGB() float64 { return s.FreeGB }
func (s StaticSensor) GPUName() string     { return s.Name }
