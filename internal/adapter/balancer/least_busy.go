package balancer

import (
	"context"
	"sort"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
)

// LeastBusySelector picks the dispatchable worker with the fewest active
// jobs, breaking ties by worker name so placement stays deterministic.
type LeastBusySelector struct {
	statsCollector   ports.StatsCollector
	breakers         ports.BreakerRegistry
	health           ports.HealthMonitor
	maxJobsPerWorker int
}

func NewLeastBusySelector(statsCollector ports.StatsCollector, breakers ports.BreakerRegistry, health ports.HealthMonitor, maxJobsPerWorker int) *LeastBusySelector {
	return &LeastBusySelector{
		statsCollector:   statsCollector,
		breakers:         breakers,
		health:           health,
		maxJobsPerWorker: maxJobsPerWorker,
	}
}

func (l *LeastBusySelector) Name() string {
	return DefaultBalancerLeastBusy
}

func (l *LeastBusySelector) Select(ctx context.Context, workers []*domain.Worker) (*domain.Worker, error) {
	if len(workers) == 0 {
		return nil, domain.ErrNoWorkerAvailable
	}

	candidates := filterDispatchable(workers, l.statsCollector, l.breakers, l.maxJobsPerWorker)
	if len(candidates) == 0 {
		return nil, domain.ErrNoWorkerAvailable
	}

	activeJobs := l.statsCollector.GetActiveJobs()

	sort.SliceStable(candidates, func(i, j int) bool {
		left, right := activeJobs[candidates[i].Name], activeJobs[candidates[j].Name]
		if left != right {
			return left < right
		}
		return candidates[i].Name < candidates[j].Name
	})

	return gateCandidates(ctx, candidates, l.health, l.statsCollector)
}

func (l *LeastBusySelector) IncrementJobs(worker *domain.Worker) {
	l.statsCollector.RecordJobDelta(worker.Name, 1)
}

func (l *LeastBusySelector) DecrementJobs(worker *domain.Worker) {
	l.statsCollector.RecordJobDelta(worker.Name, -1)
}
