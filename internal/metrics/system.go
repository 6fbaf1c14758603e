package metrics

import (
	"os"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// SystemSnapshot is a point-in-time sample of process resource usage,
// included in the periodic status report.
type SystemSnapshot struct {
	CPUPercent float64
	RSSMB      float64
	Goroutines int
}

var (
	procOnce sync.Once
	proc     *process.Process
)

// SampleSystem samples process CPU and memory via gopsutil. Errors fall
// back to zero values; the status report is best-effort.
func SampleSystem() SystemSnapshot {
	snap := SystemSnapshot{Goroutines: runtime.NumGoroutine()}

	procOnce.Do(func() {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err == nil {
			proc = p
		}
	})
	if proc == nil {
		return snap
	}

	if pct, err := proc.CPUPercent(); err == nil {
		snap.CPUPercent = pct
	}
	if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
		snap.RSSMB = float64(mi.RSS) / 1024 / 1024
	}
	return snap
}
