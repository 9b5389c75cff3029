package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/config"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
)

// HTTPHealthMonitor implements ports.HealthMonitor. A heap scheduler decides
// when each worker is probed next (with per-worker backoff), a small pool of
// goroutines runs the probes, and a transition tracker keeps the logs quiet.
type HTTPHealthMonitor struct {
	repository    domain.WorkerRepository
	probeClient   *ProbeClient
	scheduler     *ProbeScheduler
	pool          *ProbePool
	statusTracker *StatusTransitionTracker
	logger        logger.StyledLogger

	dispatchProbeTimeout time.Duration

	pruneTicker *time.Ticker
	pruneStop   chan struct{}
	pruneWG     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewHTTPHealthMonitor builds the monitor. The breaker registry may be nil;
// when present, half-open breakers are fed probe outcomes so a recovering
// worker can close its breaker without risking a real job.
func NewHTTPHealthMonitor(
	repository domain.WorkerRepository,
	healthCfg config.HealthConfig,
	breakers ports.BreakerRegistry,
	styledLogger logger.StyledLogger,
) *HTTPHealthMonitor {
	backgroundTimeout := healthCfg.BackgroundTimeout
	if backgroundTimeout <= 0 {
		backgroundTimeout = DefaultProbeTimeout
	}

	probeClient := NewProbeClient(&http.Client{Timeout: backgroundTimeout})
	statusTracker := NewStatusTransitionTracker()
	pool := NewProbePool(
		DefaultProbeWorkerCount,
		DefaultProbeQueueSize,
		probeClient,
		repository,
		statusTracker,
		breakers,
		styledLogger,
	)
	scheduler := NewProbeScheduler(pool.GetJobChannel())

	return &HTTPHealthMonitor{
		repository:           repository,
		probeClient:          probeClient,
		scheduler:            scheduler,
		pool:                 pool,
		statusTracker:        statusTracker,
		logger:               styledLogger,
		dispatchProbeTimeout: healthCfg.DispatchProbeTimeout,
	}
}

// SetRecoveryCallback registers a callback fired when a worker transitions
// back to an available status.
func (m *HTTPHealthMonitor) SetRecoveryCallback(callback RecoveryCallback) {
	m.pool.SetRecoveryCallback(callback)
}

// Check performs a single probe with the background timeout
func (m *HTTPHealthMonitor) Check(ctx context.Context, worker *domain.Worker) (domain.ProbeResult, error) {
	return m.probeClient.Check(ctx, worker)
}

// StartChecking seeds the schedule from the repository and starts the probe
// pool and scheduler loop.
func (m *HTTPHealthMonitor) StartChecking(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	m.pool.Start(m.scheduler)
	m.scheduler.Start(ctx, m.repository)

	m.pruneStop = make(chan struct{})
	m.pruneTicker = time.NewTicker(TrackerPruneInterval)
	m.pruneWG.Add(1)
	go m.pruneLoop(ctx)

	m.running = true

	m.logger.Info("Health monitor started",
		"probe_workers", m.pool.workerCount,
		"scheduled", m.scheduler.GetScheduledCount())

	return nil
}

// StopChecking stops the scheduler and waits for in-flight probes
func (m *HTTPHealthMonitor) StopChecking(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.scheduler.Stop()
	m.pool.Stop()

	m.pruneTicker.Stop()
	close(m.pruneStop)
	m.pruneWG.Wait()

	m.running = false

	m.logger.Info("Health monitor stopped")
	return nil
}

// pruneLoop reconciles the transition tracker against the repository on a
// slow cadence.
func (m *HTTPHealthMonitor) pruneLoop(ctx context.Context) {
	defer m.pruneWG.Done()

	for {
		select {
		case <-m.pruneStop:
			return
		case <-ctx.Done():
			return
		case <-m.pruneTicker.C:
			m.pruneTracker(ctx)
		}
	}
}

// pruneTracker forgets transition-log state for workers that have left the
// repository. An empty or failed listing prunes nothing.
func (m *HTTPHealthMonitor) pruneTracker(ctx context.Context) {
	workers, err := m.repository.GetAll(ctx)
	if err != nil || len(workers) == 0 {
		return
	}

	current := make(map[string]struct{}, len(workers))
	for _, worker := range workers {
		current[worker.Name] = struct{}{}
	}

	for _, name := range m.statusTracker.GetTrackedWorkers() {
		if _, live := current[name]; !live {
			m.statusTracker.CleanupWorker(name)
		}
	}
}

// IsHealthy answers from cache when the last probe is fresh; a stale cache
// falls through to a quick probe.
func (m *HTTPHealthMonitor) IsHealthy(ctx context.Context, workerName string) bool {
	worker, err := m.repository.Get(ctx, workerName)
	if err != nil {
		return false
	}
	return m.BeforeDispatch(ctx, worker)
}

// BeforeDispatch gates job placement. Fresh healthy cache short-circuits;
// otherwise a quick probe with the dispatch timeout decides. The probe result
// is written back so subsequent calls within the freshness window are free.
func (m *HTTPHealthMonitor) BeforeDispatch(ctx context.Context, worker *domain.Worker) bool {
	if worker == nil {
		return false
	}

	if worker.Status.IsAvailable() && time.Since(worker.LastProbe) < FreshnessWindow {
		return true
	}

	timeout := m.dispatchProbeTimeout
	if timeout <= 0 {
		timeout = FreshnessWindow
	}

	result, err := m.probeClient.CheckWithTimeout(ctx, worker, timeout)

	worker.Status = result.Status
	worker.LastProbe = time.Now()
	worker.LastLatency = result.Latency

	if repoErr := m.repository.UpdateStatus(ctx, worker.Name, result.Status); repoErr != nil {
		m.logger.Debug("Dispatch probe could not update worker status",
			"worker", worker.Name, "error", repoErr)
	}

	if err != nil {
		m.logger.WarnWithWorker("Dispatch probe failed for", worker.Name,
			"status", result.Status.String(),
			"latency", result.Latency,
			"error", err)
		return false
	}

	return result.Status.IsAvailable()
}

// MarkUnhealthy is called from the execution path on transport errors. The
// worker drops out of dispatch immediately and an urgent probe is scheduled
// so recovery is noticed without waiting out the regular interval.
func (m *HTTPHealthMonitor) MarkUnhealthy(ctx context.Context, workerName string, reason string) {
	worker, err := m.repository.Get(ctx, workerName)
	if err != nil {
		return
	}

	if uerr := m.repository.UpdateStatus(ctx, workerName, domain.StatusUnhealthy); uerr != nil {
		m.logger.Error("Failed to mark worker unhealthy", "worker", workerName, "error", uerr)
		return
	}

	m.logger.WarnWithWorker("Marked unhealthy:", workerName, "reason", reason)

	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	if running {
		worker.Status = domain.StatusUnhealthy
		m.scheduler.ScheduleProbe(ctx, worker, time.Now())
	}
}

// GetSchedulerStats returns statistics about probe scheduling for the
// status surface.
func (m *HTTPHealthMonitor) GetSchedulerStats() map[string]interface{} {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	if !running {
		return map[string]interface{}{
			"running": false,
		}
	}

	queueSize, queueCap, queueUsage := m.pool.GetQueueStats()

	return map[string]interface{}{
		"running":          running,
		"probe_workers":    m.pool.workerCount,
		"queue_size":       queueSize,
		"queue_cap":        queueCap,
		"queue_usage":      queueUsage,
		"scheduled_probes": m.scheduler.GetScheduledCount(),
	}
}
