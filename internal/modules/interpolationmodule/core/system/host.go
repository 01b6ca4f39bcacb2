package system

import (
	"context"
	"errors"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostInfo is a snapshot of host load.
type HostInfo struct {
	CPUCores          int     `json:"cpuCores"`
	CPUPercent        float64 `json:"cpuPercent"`
	MemoryUsedPercent float64 `json:"memoryUsedPercent"`
	MemoryAvailableMB uint64  `json:"memoryAvailableMb"`
	Load1             float64 `json:"load1"`
	Load5             float64 `json:"load5"`
	Load15            float64 `json:"load15"`
}

// Snapshot combines GPU and host readings.
type Snapshot struct {
	GPU       GPUInfo   `json:"gpu"`
	Host      HostInfo  `json:"host"`
	Timestamp time.Time `json:"timestamp"`
}

// cpuSampleInterval is how long CPU usage is measured for.
var cpuSampleInterval = 200 * time.Millisecond

// CollectHost gathers host metrics. Fields whose source fails stay zero and
// the failures are returned joined; the info is usable either way.
func CollectHost(ctx context.Context) (HostInfo, error) {
	var info HostInfo
	var errs []error

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUCores = n
	} else {
		errs = append(errs, err)
	}

	if percents, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false); err == nil && len(percents) > 0 {
		info.CPUPercent = percents[0]
	} else if err != nil {
		errs = append(errs, err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryUsedPercent = vm.UsedPercent
		info.MemoryAvailableMB = vm.Available / 1024 / 1024
	} else {
		errs = append(errs, err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		info.Load1, info.Load5, info.Load15 = avg.Load1, avg.Load5, avg.Load15
	} else {
		errs = append(errs, err)
	}

	return info, errors.Join(errs...)
}

// Collect reads the sensor and the host.
func Collect(ctx context.Context, sensor GPUSensor) (Snapshot, error) {
	host, err := CollectHost(ctx)
	return Snapshot{
		GPU:       ReadGPU(sensor),
		Host:      host,
		Timestamp: time.Now(),
	}, err
}
