package stats

/*
	Job Metrics Collector

	Every component that touches a job reports here: the registry on create,
	the executor on completion/failure, the selector on active-job deltas and
	dispatch gate failures. The snapshot feeds the metrics endpoints and the
	periodic file saver.

	Hot paths (deltas, outcomes) are atomics over xsync map entries; the only
	locks sit on the bounded sample and error rings.
*/

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
)

const (
	MaxProcessingSamples = 100
	MaxRecentErrors      = 100
)

type Collector struct {
	workers *xsync.Map[string, *workerData]
	kinds   *xsync.Map[string, *kindData]

	samples      *ReservoirSampler
	recentErrors *errorRing

	created         int64
	completed       int64
	failed          int64
	totalProcessing int64
	minProcessing   int64
	maxProcessing   int64

	startedAt time.Time
}

type workerData struct {
	name            string
	activeJobs      int64
	completed       int64
	failed          int64
	gateFailures    int64
	totalProcessing int64
	minProcessing   int64
	maxProcessing   int64
	lastUsed        int64
}

type kindData struct {
	kind            string
	created         int64
	completed       int64
	failed          int64
	totalProcessing int64
}

func NewCollector() *Collector {
	return &Collector{
		workers:       xsync.NewMap[string, *workerData](),
		kinds:         xsync.NewMap[string, *kindData](),
		samples:       NewReservoirSampler(MaxProcessingSamples),
		recentErrors:  newErrorRing(MaxRecentErrors),
		minProcessing: -1,
		startedAt:     time.Now(),
	}
}

func (c *Collector) RecordJobCreated(kind string) {
	atomic.AddInt64(&c.created, 1)
	atomic.AddInt64(&c.getOrInitKind(kind).created, 1)
}

func (c *Collector) RecordJobCompleted(worker, kind string, processingTime time.Duration) {
	now := time.Now().UnixNano()
	processingMs := processingTime.Milliseconds()

	atomic.AddInt64(&c.completed, 1)
	atomic.AddInt64(&c.totalProcessing, processingMs)
	casMin(&c.minProcessing, processingMs)
	casMax(&c.maxProcessing, processingMs)
	c.samples.Add(processingMs)

	if worker != "" {
		data := c.getOrInitWorker(worker)
		atomic.AddInt64(&data.completed, 1)
		atomic.AddInt64(&data.totalProcessing, processingMs)
		casMin(&data.minProcessing, processingMs)
		casMax(&data.maxProcessing, processingMs)
		atomic.StoreInt64(&data.lastUsed, now)
	}

	kd := c.getOrInitKind(kind)
	atomic.AddInt64(&kd.completed, 1)
	atomic.AddInt64(&kd.totalProcessing, processingMs)
}

func (c *Collector) RecordJobFailed(worker, kind, errorKind, message string) {
	now := time.Now()

	atomic.AddInt64(&c.failed, 1)

	if worker != "" {
		data := c.getOrInitWorker(worker)
		atomic.AddInt64(&data.failed, 1)
		atomic.StoreInt64(&data.lastUsed, now.UnixNano())
	}

	atomic.AddInt64(&c.getOrInitKind(kind).failed, 1)

	c.recentErrors.add(ports.ErrorSample{
		Timestamp: now,
		Worker:    worker,
		Kind:      kind,
		ErrorKind: errorKind,
		Message:   message,
	})
}

func (c *Collector) RecordDispatchGateFailure(worker string) {
	atomic.AddInt64(&c.getOrInitWorker(worker).gateFailures, 1)
}

func (c *Collector) RecordJobDelta(worker string, delta int) {
	data := c.getOrInitWorker(worker)

	if delta > 0 {
		atomic.AddInt64(&data.activeJobs, int64(delta))
		return
	}

	// Decrements clamp at zero so a double release cannot poison placement.
	for {
		current := atomic.LoadInt64(&data.activeJobs)
		next := current + int64(delta)
		if next < 0 {
			next = 0
		}
		if atomic.CompareAndSwapInt64(&data.activeJobs, current, next) {
			return
		}
	}
}

func (c *Collector) GetActiveJobs() map[string]int64 {
	active := make(map[string]int64)
	c.workers.Range(func(name string, data *workerData) bool {
		active[name] = atomic.LoadInt64(&data.activeJobs)
		return true
	})
	return active
}

func (c *Collector) GetActiveJobCount(worker string) int64 {
	data, ok := c.workers.Load(worker)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(&data.activeJobs)
}

func (c *Collector) GetTotalActiveJobs() int64 {
	var total int64
	c.workers.Range(func(_ string, data *workerData) bool {
		total += atomic.LoadInt64(&data.activeJobs)
		return true
	})
	return total
}

func (c *Collector) GetSnapshot() ports.MetricsSnapshot {
	now := time.Now()

	completed := atomic.LoadInt64(&c.completed)
	totalProcessing := atomic.LoadInt64(&c.totalProcessing)

	var avgProcessing int64
	if completed > 0 {
		avgProcessing = totalProcessing / completed
	}

	minProcessing := atomic.LoadInt64(&c.minProcessing)
	if minProcessing == -1 {
		minProcessing = 0
	}

	p50, p90, p95, p99 := c.samples.Percentiles()

	workers := make(map[string]ports.WorkerJobStats)
	var totalActive, totalGateFailures int64

	c.workers.Range(func(name string, data *workerData) bool {
		stats := c.workerSnapshot(data)
		workers[name] = stats
		totalActive += stats.Active
		totalGateFailures += stats.GateFailures
		return true
	})

	kinds := make(map[string]ports.KindJobStats)
	c.kinds.Range(func(name string, data *kindData) bool {
		kinds[name] = kindSnapshot(data)
		return true
	})

	return ports.MetricsSnapshot{
		SavedAt:       now,
		UptimeSeconds: now.Sub(c.startedAt).Seconds(),
		Global: ports.GlobalJobStats{
			Created:      atomic.LoadInt64(&c.created),
			Completed:    completed,
			Failed:       atomic.LoadInt64(&c.failed),
			Active:       totalActive,
			GateFailures: totalGateFailures,
		},
		Workers: workers,
		Kinds:   kinds,
		ProcessingTime: ports.LatencyStats{
			Count: c.samples.Count(),
			MinMs: minProcessing,
			MaxMs: atomic.LoadInt64(&c.maxProcessing),
			AvgMs: avgProcessing,
			P50Ms: p50,
			P90Ms: p90,
			P95Ms: p95,
			P99Ms: p99,
		},
		RecentErrors: c.recentErrors.snapshot(),
	}
}

func (c *Collector) workerSnapshot(data *workerData) ports.WorkerJobStats {
	completed := atomic.LoadInt64(&data.completed)
	failed := atomic.LoadInt64(&data.failed)
	totalProcessing := atomic.LoadInt64(&data.totalProcessing)

	var avgProcessing int64
	if completed > 0 {
		avgProcessing = totalProcessing / completed
	}

	minProcessing := atomic.LoadInt64(&data.minProcessing)
	if minProcessing == -1 {
		minProcessing = 0
	}

	successRate := 0.0
	if total := completed + failed; total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	var lastUsed time.Time
	if nano := atomic.LoadInt64(&data.lastUsed); nano > 0 {
		lastUsed = time.Unix(0, nano)
	}

	return ports.WorkerJobStats{
		Name:            data.name,
		Completed:       completed,
		Failed:          failed,
		Active:          atomic.LoadInt64(&data.activeJobs),
		GateFailures:    atomic.LoadInt64(&data.gateFailures),
		AvgProcessingMs: avgProcessing,
		MinProcessingMs: minProcessing,
		MaxProcessingMs: atomic.LoadInt64(&data.maxProcessing),
		LastUsed:        lastUsed,
		SuccessRate:     successRate,
	}
}

func kindSnapshot(data *kindData) ports.KindJobStats {
	completed := atomic.LoadInt64(&data.completed)
	totalProcessing := atomic.LoadInt64(&data.totalProcessing)

	var avgProcessing int64
	if completed > 0 {
		avgProcessing = totalProcessing / completed
	}

	return ports.KindJobStats{
		Kind:            data.kind,
		Created:         atomic.LoadInt64(&data.created),
		Completed:       completed,
		Failed:          atomic.LoadInt64(&data.failed),
		AvgProcessingMs: avgProcessing,
	}
}

func (c *Collector) getOrInitWorker(name string) *workerData {
	data, _ := c.workers.LoadOrStore(name, &workerData{
		name:          name,
		minProcessing: -1,
	})
	return data
}

func (c *Collector) getOrInitKind(kind string) *kindData {
	data, _ := c.kinds.LoadOrStore(kind, &kindData{kind: kind})
	return data
}

func casMin(addr *int64, value int64) {
	for {
		current := atomic.LoadInt64(addr)
		if current != -1 && value >= current {
			return
		}
		if atomic.CompareAndSwapInt64(addr, current, value) {
			return
		}
	}
}

func casMax(addr *int64, value int64) {
	for {
		current := atomic.LoadInt64(addr)
		if value <= current {
			return
		}
		if atomic.CompareAndSwapInt64(addr, current, value) {
			return
		}
	}
}
