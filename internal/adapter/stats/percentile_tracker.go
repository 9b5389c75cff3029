package stats

import (
	"math/rand/v2"
	"sort"
	"sync"
)

// ReservoirSampler keeps a bounded, uniformly sampled window of processing
// times so percentiles stay cheap to estimate no matter how many jobs have
// run.
type ReservoirSampler struct {
	samples    []int64
	sampleSize int
	count      int64
	mu         sync.Mutex
}

func NewReservoirSampler(sampleSize int) *ReservoirSampler {
	if sampleSize <= 0 {
		sampleSize = MaxProcessingSamples
	}
	return &ReservoirSampler{
		sampleSize: sampleSize,
		samples:    make([]int64, 0, sampleSize),
	}
}

func (rs *ReservoirSampler) Add(value int64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.count++

	if len(rs.samples) < rs.sampleSize {
		rs.samples = append(rs.samples, value)
		return
	}

	// Classic reservoir sampling: every value ever seen has an equal chance
	// of being in the window.
	j := rand.Int64N(rs.count) //nolint:gosec // statistical sampling, not crypto
	if j < int64(rs.sampleSize) {
		rs.samples[j] = value
	}
}

// Percentiles returns the estimated p50/p90/p95/p99 over the current window,
// in the same unit values were added in.
func (rs *ReservoirSampler) Percentiles() (p50, p90, p95, p99 int64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if len(rs.samples) == 0 {
		return 0, 0, 0, 0
	}

	sorted := make([]int64, len(rs.samples))
	copy(sorted, rs.samples)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	return percentileOf(sorted, 50), percentileOf(sorted, 90), percentileOf(sorted, 95), percentileOf(sorted, 99)
}

func percentileOf(sorted []int64, pct int) int64 {
	idx := len(sorted) * pct / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Count returns how many values have been added in total, not just retained.
func (rs *ReservoirSampler) Count() int64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.count
}

func (rs *ReservoirSampler) Reset() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.samples = rs.samples[:0]
	rs.count = 0
}
