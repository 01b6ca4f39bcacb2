package system

import (
	"context"

	"github.com/hashicorp/go-hclog"
)

// VRAMLevel grades free video memory before a run.
type VRAMLevel int

const (
	VRAMUnknown VRAMLevel = iota
	VRAMOK
	VRAMLow
	VRAMCritical
)

func (l VRAMLevel) String() string {
	switch l {
	case VRAMOK:
		return "ok"
	case VRAMLow:
		return "low"
	case VRAMCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ClassifyVRAM grades free VRAM: below 2 GB is low, below 1 GB critical.
// Zero is the sensor's failure value and grades as unknown.
func ClassifyVRAM(freeGB float64) VRAMLevel {
	switch {
	case freeGB <= 0:
		return VRAMUnknown
	case freeGB < 1:
		return VRAMCritical
	case freeGB < 2:
		return VRAMLow
	default:
		return VRAMOK
	}
}

// Preflight logs the GPU and host state before an engine starts. It never
// blocks a run.
func Preflight(ctx context.Context, sensor GPUSensor, logger hclog.Logger) Snapshot {
	snap, err := Collect(ctx, sensor)
	if err != nil {
		logger.Debug("some host metrics unavailable", "error", err)
	}

	gpu := snap.GPU
	switch ClassifyVRAM(gpu.FreeVRAMGB) {
	case VRAMCritical:
		logger.Error("very little free VRAM, the engine will likely run out of memory",
			"gpu", gpu.Name, "free_vram_gb", round2(gpu.FreeVRAMGB))
	case VRAMLow:
		logger.Warn("low free VRAM, consider a smaller tile size",
			"gpu", gpu.Name, "free_vram_gb", round2(gpu.FreeVRAMGB))
	case VRAMOK:
		logger.Info("gpu", "name", gpu.Name, "free_vram_gb", round2(gpu.FreeVRAMGB))
	default:
		logger.Debug("gpu state unknown")
	}

	logger.Info("host",
		"cpu_cores", snap.Host.CPUCores,
		"cpu_percent", round2(snap.Host.CPUPercent),
		"memory_used_percent", round2(snap.Host.MemoryUsedPercent),
		"load1", snap.Host.Load1,
	)
	return snap
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
