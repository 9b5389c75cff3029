package health

import (
	"errors"
	"sync"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
)

// ProbePool runs health probes from the scheduler's queue on a fixed set of
// goroutines so one slow worker never delays another's probe.
type ProbePool struct {
	workerCount   int
	jobCh         chan probeJob
	stopCh        chan struct{}
	wg            sync.WaitGroup
	probeClient   *ProbeClient
	repository    domain.WorkerRepository
	statusTracker *StatusTransitionTracker
	breakers      ports.BreakerRegistry
	logger        logger.StyledLogger

	callbackMu       sync.RWMutex
	recoveryCallback RecoveryCallback
}

func NewProbePool(
	workerCount int,
	queueSize int,
	probeClient *ProbeClient,
	repository domain.WorkerRepository,
	statusTracker *StatusTransitionTracker,
	breakers ports.BreakerRegistry,
	logger logger.StyledLogger,
) *ProbePool {
	jobCh := make(chan probeJob, queueSize)

	return &ProbePool{
		workerCount:   workerCount,
		jobCh:         jobCh,
		stopCh:        make(chan struct{}),
		probeClient:   probeClient,
		repository:    repository,
		statusTracker: statusTracker,
		breakers:      breakers,
		logger:        logger,
	}
}

func (pp *ProbePool) Start(scheduler *ProbeScheduler) {
	for i := 0; i < pp.workerCount; i++ {
		pp.wg.Add(1)
		go pp.worker(scheduler)
	}
}

func (pp *ProbePool) Stop() {
	close(pp.stopCh)
	pp.wg.Wait()
}

func (pp *ProbePool) GetJobChannel() chan<- probeJob {
	return pp.jobCh
}

func (pp *ProbePool) GetQueueStats() (int, int, float64) {
	queueSize := len(pp.jobCh)
	queueCap := cap(pp.jobCh)
	queueUsage := float64(queueSize) / float64(queueCap)
	return queueSize, queueCap, queueUsage
}

func (pp *ProbePool) SetRecoveryCallback(callback RecoveryCallback) {
	pp.callbackMu.Lock()
	defer pp.callbackMu.Unlock()
	pp.recoveryCallback = callback
}

func (pp *ProbePool) worker(scheduler *ProbeScheduler) {
	defer pp.wg.Done()

	for {
		select {
		case <-pp.stopCh:
			return
		case job := <-pp.jobCh:
			pp.processProbe(job, scheduler)
		}
	}
}

func (pp *ProbePool) processProbe(job probeJob, scheduler *ProbeScheduler) {
	wasAvailable := job.worker.Status.IsAvailable()

	result, err := pp.probeClient.Check(job.ctx, job.worker)

	job.worker.Status = result.Status
	job.worker.LastProbe = time.Now()
	job.worker.LastLatency = result.Latency

	isSuccess := result.Status == domain.StatusHealthy
	nextInterval, newMultiplier := calculateBackoff(job.worker, isSuccess)

	if !isSuccess {
		job.worker.ConsecutiveFailures++
		job.worker.BackoffMultiplier = newMultiplier
	} else {
		job.worker.ConsecutiveFailures = 0
		job.worker.BackoffMultiplier = 1
	}

	job.worker.NextProbeTime = time.Now().Add(nextInterval)

	// Check if worker still exists before updating
	if !pp.repository.Exists(job.ctx, job.worker.Name) {
		pp.logger.Debug("Worker removed from configuration, stopping probes",
			"worker", job.worker.Name)
		return
	}

	if repoErr := pp.repository.UpdateWorker(job.ctx, job.worker); repoErr != nil {
		var notFoundErr *domain.ErrWorkerNotFound
		if errors.As(repoErr, &notFoundErr) {
			pp.logger.Debug("Worker not found during update, stopping probes",
				"worker", job.worker.Name)
			return
		}
		pp.logger.Error("Failed to update worker",
			"worker", job.worker.Name,
			"error", repoErr)
		return
	}

	// Only reschedule if repository update succeeded
	scheduler.ScheduleProbe(job.ctx, job.worker, job.worker.NextProbeTime)

	pp.reportToBreaker(job.worker.Name, isSuccess)

	if !wasAvailable && result.Status.IsAvailable() {
		pp.fireRecoveryCallback(job)
	}

	shouldLog, errorCount := pp.statusTracker.ShouldLog(
		job.worker.Name,
		result.Status,
		err != nil)

	if shouldLog {
		if errorCount > 0 ||
			(result.Status == domain.StatusOffline ||
				result.Status == domain.StatusBusy ||
				result.Status == domain.StatusUnhealthy) {
			logCtx := logger.LogContext{UserArgs: []any{
				"status", result.Status.String(),
				"consecutive_failures", errorCount,
				"latency", result.Latency,
				"next_probe_in", nextInterval,
			}}
			if err != nil {
				// The full probe error only belongs in the log file
				logCtx.DetailedArgs = []any{
					"error", domain.NewProbeError(job.worker, result.StatusCode, result.Latency, err),
				}
			}
			pp.logger.WarnWithContext("Worker health issues for", job.worker.Name, logCtx)
		} else {
			pp.logger.InfoHealthStatus("Worker status changed for",
				job.worker.Name,
				result.Status,
				"latency", result.Latency,
				"next_probe_in", nextInterval)
		}
	}
}

// reportToBreaker feeds probe outcomes into a worker's circuit breaker, but
// only while it is half-open. Successful probes drive recovery without
// risking a real job; in the closed state only real submissions count, so
// probe traffic never dilutes the rolling error window.
func (pp *ProbePool) reportToBreaker(workerName string, isSuccess bool) {
	if pp.breakers == nil {
		return
	}

	breaker, ok := pp.breakers.Get(workerName)
	if !ok || breaker.State() != domain.BreakerHalfOpen {
		return
	}

	if err := breaker.Allow(); err != nil {
		// Another half-open ticket is in flight
		return
	}

	if isSuccess {
		breaker.OnSuccess()
	} else {
		breaker.OnFailure()
	}
}

func (pp *ProbePool) fireRecoveryCallback(job probeJob) {
	pp.callbackMu.RLock()
	callback := pp.recoveryCallback
	pp.callbackMu.RUnlock()

	if callback == nil {
		return
	}

	workerCopy := *job.worker
	if err := callback.OnWorkerRecovered(job.ctx, &workerCopy); err != nil {
		pp.logger.WarnWithWorker("Recovery callback failed for", job.worker.Name,
			"error", err)
	}
}
