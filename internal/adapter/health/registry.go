package health

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/config"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
)

// BreakerRegistry lazily creates one breaker per worker and serves the
// admin surface.
type BreakerRegistry struct {
	breakers *xsync.Map[string, *Breaker]
	cfg      config.BreakerConfig
	logger   logger.StyledLogger
}

func NewBreakerRegistry(cfg config.BreakerConfig, styledLogger logger.StyledLogger) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: xsync.NewMap[string, *Breaker](),
		cfg:      cfg,
		logger:   styledLogger,
	}
}

// ForWorker returns the worker's breaker, creating it on first use
func (r *BreakerRegistry) ForWorker(workerName string) ports.CircuitBreaker {
	if breaker, ok := r.breakers.Load(workerName); ok {
		return breaker
	}

	newBreaker := NewBreaker(workerName, r.cfg, r.logTransition)
	actual, _ := r.breakers.LoadOrStore(workerName, newBreaker)
	return actual
}

// Get returns the worker's breaker without creating one
func (r *BreakerRegistry) Get(workerName string) (ports.CircuitBreaker, bool) {
	breaker, ok := r.breakers.Load(workerName)
	if !ok {
		return nil, false
	}
	return breaker, true
}

// Snapshots returns every breaker's state sorted by worker name
func (r *BreakerRegistry) Snapshots() []domain.BreakerSnapshot {
	snapshots := make([]domain.BreakerSnapshot, 0, r.breakers.Size())
	r.breakers.Range(func(name string, breaker *Breaker) bool {
		snapshots = append(snapshots, breaker.Snapshot())
		return true
	})

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Worker < snapshots[j].Worker
	})

	return snapshots
}

func (r *BreakerRegistry) logTransition(worker string, from, to domain.BreakerState) {
	switch to {
	case domain.BreakerOpen:
		r.logger.WarnWithWorker("Circuit breaker opened for", worker,
			"from", from.String())
	case domain.BreakerHalfOpen:
		r.logger.InfoWithWorker("Circuit breaker half-open for", worker)
	default:
		r.logger.InfoWithWorker("Circuit breaker closed for", worker,
			"from", from.String())
	}
}
