package metrics

import (
	"sync"
	"time"
)

// OperationMetrics tracks timing and outcome counters for media process
// operations: spawn latency, startup confirmation latency, probe and
// snapshot durations. All methods are safe on a nil receiver so callers
// can treat metrics as optional.
type OperationMetrics struct {
	mu sync.Mutex

	SpawnCount      int64
	SpawnTotal      time.Duration
	StartupCount    int64
	StartupTotal    time.Duration
	ProbeCount      int64
	ProbeSuccesses  int64
	ProbeTotal      time.Duration
	SnapshotCount   int64
	SnapshotFailed  int64
	SnapshotTotal   time.Duration
}

// NewOperationMetrics creates an empty collector.
func NewOperationMetrics() *OperationMetrics {
	return &OperationMetrics{}
}

// ObserveSpawn records the time taken to start one external process.
func (m *OperationMetrics) ObserveSpawn(d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SpawnCount++
	m.SpawnTotal += d
}

// ObserveStartup records the time from spawn to artifact confirmation.
func (m *OperationMetrics) ObserveStartup(d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartupCount++
	m.StartupTotal += d
}

// ObserveProbe records one connectivity probe and its outcome.
func (m *OperationMetrics) ObserveProbe(d time.Duration, accessible bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProbeCount++
	m.ProbeTotal += d
	if accessible {
		m.ProbeSuccesses++
	}
}

// ObserveSnapshot records one snapshot extraction and its outcome.
func (m *OperationMetrics) ObserveSnapshot(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SnapshotCount++
	m.SnapshotTotal += d
	if !ok {
		m.SnapshotFailed++
	}
}

// Snapshot returns the current counters with average durations in
// milliseconds, for the health endpoint.
func (m *OperationMetrics) Snapshot() map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	avg := func(total time.Duration, n int64) float64 {
		if n == 0 {
			return 0
		}
		return float64(total.Milliseconds()) / float64(n)
	}

	return map[string]interface{}{
		"spawn_count":        m.SpawnCount,
		"spawn_avg_ms":       avg(m.SpawnTotal, m.SpawnCount),
		"startup_count":      m.StartupCount,
		"startup_avg_ms":     avg(m.StartupTotal, m.StartupCount),
		"probe_count":        m.ProbeCount,
		"probe_successes":    m.ProbeSuccesses,
		"probe_avg_ms":       avg(m.ProbeTotal, m.ProbeCount),
		"snapshot_count":     m.SnapshotCount,
		"snapshot_failures":  m.SnapshotFailed,
		"snapshot_avg_ms":    avg(m.SnapshotTotal, m.SnapshotCount),
	}
}
