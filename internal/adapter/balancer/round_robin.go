package balancer

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
)

// RoundRobinSelector rotates dispatch across dispatchable workers in name
// order, regardless of how busy each one is.
type RoundRobinSelector struct {
	statsCollector   ports.StatsCollector
	breakers         ports.BreakerRegistry
	health           ports.HealthMonitor
	maxJobsPerWorker int
	counter          uint64
}

func NewRoundRobinSelector(statsCollector ports.StatsCollector, breakers ports.BreakerRegistry, health ports.HealthMonitor, maxJobsPerWorker int) *RoundRobinSelector {
	return &RoundRobinSelector{
		statsCollector:   statsCollector,
		breakers:         breakers,
		health:           health,
		maxJobsPerWorker: maxJobsPerWorker,
	}
}

func (r *RoundRobinSelector) Name() string {
	return DefaultBalancerRoundRobin
}

func (r *RoundRobinSelector) Select(ctx context.Context, workers []*domain.Worker) (*domain.Worker, error) {
	if len(workers) == 0 {
		return nil, domain.ErrNoWorkerAvailable
	}

	candidates := filterDispatchable(workers, r.statsCollector, r.breakers, r.maxJobsPerWorker)
	if len(candidates) == 0 {
		return nil, domain.ErrNoWorkerAvailable
	}

	// The rotation has to be over a stable ordering; callers hand workers in
	// repository iteration order, which is not.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Name < candidates[j].Name
	})

	current := atomic.AddUint64(&r.counter, 1) - 1
	start := int(current % uint64(len(candidates)))

	ring := make([]*domain.Worker, 0, len(candidates))
	ring = append(ring, candidates[start:]...)
	ring = append(ring, candidates[:start]...)

	return gateCandidates(ctx, ring, r.health, r.statsCollector)
}

func (r *RoundRobinSelector) IncrementJobs(worker *domain.Worker) {
	r.statsCollector.RecordJobDelta(worker.Name, 1)
}

func (r *RoundRobinSelector) DecrementJobs(worker *domain.Worker) {
	r.statsCollector.RecordJobDelta(worker.Name, -1)
}
