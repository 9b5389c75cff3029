package balancer

import (
	"fmt"
	"sync"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
)

const DefaultBalancerLeastBusy = "least-busy"
const DefaultBalancerRoundRobin = "round-robin"

// Dependencies carries the collaborators every selector needs: active-job
// counts and gate-failure recording from the stats collector, breaker state
// for the dispatchability filter and the dispatch-time health gate.
type Dependencies struct {
	StatsCollector   ports.StatsCollector
	Breakers         ports.BreakerRegistry
	Health           ports.HealthMonitor
	MaxJobsPerWorker int
}

type Factory struct {
	creators map[string]func(Dependencies) domain.WorkerSelector
	deps     Dependencies
	mu       sync.RWMutex
}

func NewFactory(deps Dependencies) *Factory {
	factory := &Factory{
		creators: make(map[string]func(Dependencies) domain.WorkerSelector),
		deps:     deps,
	}

	factory.Register(DefaultBalancerLeastBusy, func(d Dependencies) domain.WorkerSelector {
		return NewLeastBusySelector(d.StatsCollector, d.Breakers, d.Health, d.MaxJobsPerWorker)
	})
	factory.Register(DefaultBalancerRoundRobin, func(d Dependencies) domain.WorkerSelector {
		return NewRoundRobinSelector(d.StatsCollector, d.Breakers, d.Health, d.MaxJobsPerWorker)
	})

	return factory
}

func (f *Factory) Register(name string, creator func(Dependencies) domain.WorkerSelector) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[name] = creator
}

func (f *Factory) Create(name string) (domain.WorkerSelector, error) {
	f.mu.RLock()
	creator, exists := f.creators[name]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown load balancer strategy: %s", name)
	}

	return creator(f.deps), nil
}

func (f *Factory) GetAvailableStrategies() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	strategies := make([]string, 0, len(f.creators))
	for name := range f.creators {
		strategies = append(strategies, name)
	}
	return strategies
}
