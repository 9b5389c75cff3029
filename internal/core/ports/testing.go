package ports

import (
	"sync"
	"time"
)

// MockStatsCollector provides a working implementation for faking the
// StatsCollector interface so selector and scheduler tests can observe the
// bookkeeping they drive.
type MockStatsCollector struct {
	activeJobs   map[string]int64
	gateFailures map[string]int64
	created      int64
	completed    int64
	failed       int64
	mu           sync.RWMutex
}

func NewMockStatsCollector() *MockStatsCollector {
	return &MockStatsCollector{
		activeJobs:   make(map[string]int64),
		gateFailures: make(map[string]int64),
	}
}

func (m *MockStatsCollector) RecordJobCreated(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}

func (m *MockStatsCollector) RecordJobCompleted(worker, kind string, processingTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
}

func (m *MockStatsCollector) RecordJobFailed(worker, kind, errorKind, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *MockStatsCollector) RecordDispatchGateFailure(worker string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gateFailures[worker]++
}

func (m *MockStatsCollector) RecordJobDelta(worker string, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.activeJobs[worker] + int64(delta)
	if next < 0 {
		next = 0
	}
	m.activeJobs[worker] = next
}

func (m *MockStatsCollector) GetActiveJobs() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]int64, len(m.activeJobs))
	for worker, count := range m.activeJobs {
		stats[worker] = count
	}
	return stats
}

func (m *MockStatsCollector) GetActiveJobCount(worker string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeJobs[worker]
}

func (m *MockStatsCollector) GetTotalActiveJobs() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, count := range m.activeJobs {
		total += count
	}
	return total
}

func (m *MockStatsCollector) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSnapshot{
		SavedAt: time.Now(),
		Global: GlobalJobStats{
			Created:   m.created,
			Completed: m.completed,
			Failed:    m.failed,
		},
	}
}

// GateFailures reports the recorded dispatch gate failures for a worker.
func (m *MockStatsCollector) GateFailures(worker string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gateFailures[worker]
}
