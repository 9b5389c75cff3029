package balancer

import (
	"context"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
)

// filterDispatchable narrows workers to those that may receive a new job
// right now: available status, below the per-worker job cap and with a
// circuit breaker that is not open.
func filterDispatchable(workers []*domain.Worker, statsCollector ports.StatsCollector, breakers ports.BreakerRegistry, maxJobsPerWorker int) []*domain.Worker {
	dispatchable := make([]*domain.Worker, 0, len(workers))

	for _, worker := range workers {
		if !worker.Status.IsAvailable() {
			continue
		}
		if maxJobsPerWorker > 0 && statsCollector.GetActiveJobCount(worker.Name) >= int64(maxJobsPerWorker) {
			continue
		}
		if breakers != nil {
			if breaker, ok := breakers.Get(worker.Name); ok && breaker.State() == domain.BreakerOpen {
				continue
			}
		}
		dispatchable = append(dispatchable, worker)
	}

	return dispatchable
}

// gateCandidates walks candidates in order and returns the first that passes
// the dispatch-time health gate. A gate failure is recorded against the
// worker and the next candidate is tried; the health monitor has already
// downgraded the worker's status as part of the failed gate.
func gateCandidates(ctx context.Context, candidates []*domain.Worker, health ports.HealthMonitor, statsCollector ports.StatsCollector) (*domain.Worker, error) {
	for _, worker := range candidates {
		if health == nil || health.BeforeDispatch(ctx, worker) {
			return worker, nil
		}
		statsCollector.RecordDispatchGateFailure(worker.Name)
	}
	return nil, domain.ErrNoWorkerAvailable
}
