package monitoring

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

type ResourceUsage struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryUsedMB  float64 `json:"memoryUsedMb"`
	MemoryTotalMB float64 `json:"memoryTotalMb"`
	MemoryPercent float64 `json:"memoryPercent"`
	DiskUsedGB    float64 `json:"diskUsedGb"`
	DiskFreeGB    float64 `json:"diskFreeGb"`
	DiskPercent   float64 `json:"diskPercent"`
	NumGoroutines int     `json:"numGoroutines"`
}

// Monitor periodically samples process resource usage and keeps the
// latest sample available for the health endpoint.
type Monitor struct {
	storagePath string
	proc        *process.Process

	mu     sync.Mutex
	latest ResourceUsage
}

// NewMonitor creates a Monitor for the current process. storagePath is
// the mount whose disk usage is reported.
func NewMonitor(storagePath string) (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("error getting process: %v", err)
	}

	return &Monitor{
		storagePath: storagePath,
		proc:        proc,
	}, nil
}

// Start samples resource usage on the given interval
func (m *Monitor) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			usage, err := m.sample()
			if err != nil {
				log.Printf("[Monitor] Error getting resource usage: %v", err)
				continue
			}

			m.mu.Lock()
			m.latest = usage
			m.mu.Unlock()

			log.Printf("[Monitor] CPU: %.2f%%, Memory: %.2f/%.2f MB (%.2f%%), Disk: %.2f GB free, Goroutines: %d",
				usage.CPUPercent,
				usage.MemoryUsedMB,
				usage.MemoryTotalMB,
				usage.MemoryPercent,
				usage.DiskFreeGB,
				usage.NumGoroutines)
		}
	}()
}

// Snapshot returns the latest sample, taking a fresh one if none exists
func (m *Monitor) Snapshot() ResourceUsage {
	m.mu.Lock()
	latest := m.latest
	m.mu.Unlock()

	if latest.MemoryTotalMB == 0 {
		if usage, err := m.sample(); err == nil {
			return usage
		}
	}
	return latest
}

func (m *Monitor) sample() (ResourceUsage, error) {
	var usage ResourceUsage

	cpuPercent, err := m.proc.CPUPercent()
	if err != nil {
		return usage, fmt.Errorf("error getting CPU usage: %v", err)
	}
	usage.CPUPercent = cpuPercent

	virtualMem, err := mem.VirtualMemory()
	if err != nil {
		return usage, fmt.Errorf("error getting memory info: %v", err)
	}

	procMem, err := m.proc.MemoryInfo()
	if err != nil {
		return usage, fmt.Errorf("error getting process memory: %v", err)
	}

	usage.MemoryUsedMB = float64(procMem.RSS) / 1024 / 1024
	usage.MemoryTotalMB = float64(virtualMem.Total) / 1024 / 1024
	usage.MemoryPercent = float64(procMem.RSS) / float64(virtualMem.Total) * 100

	if du, err := disk.Usage(m.storagePath); err == nil {
		usage.DiskUsedGB = float64(du.Used) / 1024 / 1024 / 1024
		usage.DiskFreeGB = float64(du.Free) / 1024 / 1024 / 1024
		usage.DiskPercent = du.UsedPercent
	}

	usage.NumGoroutines = runtime.NumGoroutine()

	return usage, nil
}
