package metrics

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource sample of one process.
type Usage struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
}

// RSSMB returns resident memory in megabytes.
func (u Usage) RSSMB() uint64 { return u.RSSBytes / 1024 / 1024 }

// Sampler reads resource usage for a pid.
type Sampler interface {
	Sample(ctx context.Context, pid int32) (Usage, error)
}

// ProcSampler samples through gopsutil.
type ProcSampler struct{}

func (ProcSampler) Sample(ctx context.Context, pid int32) (Usage, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return Usage{}, fmt.Errorf("process %d: %w", pid, err)
	}
	cpu, err := p.CPUPercentWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("cpu for %d: %w", pid, err)
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("memory for %d: %w", pid, err)
	}
	return Usage{PID: pid, CPUPercent: cpu, RSSBytes: mem.RSS}, nil
}

// Exceeds reports which limits u is over. Zero limits are ignored.
// maxRAM is in megabytes, maxCPU in percent.
func (u Usage) Exceeds(maxRAM, maxCPU uint64) []string {
	var over []string
	if maxRAM > 0 && u.RSSMB() > maxRAM {
		over = append(over, fmt.Sprintf("memory %dMB over limit %dMB", u.RSSMB(), maxRAM))
	}
	if maxCPU > 0 && u.CPUPercent > float64(maxCPU) {
		over = append(over, fmt.Sprintf("cpu %.1f%% over limit %d%%", u.CPUPercent, maxCPU))
	}
	return over
}
