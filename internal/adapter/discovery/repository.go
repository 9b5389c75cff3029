package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
)

type StaticWorkerRepository struct {
	workers               map[string]*domain.Worker
	mu                    sync.RWMutex
	cacheMu               sync.RWMutex
	cachedAvailableCopies []*domain.Worker
	cacheValid            bool
	lastModified          time.Time
	cacheHits             int64
	cacheMisses           int64
}

func NewStaticWorkerRepository() *StaticWorkerRepository {
	return &StaticWorkerRepository{
		workers: make(map[string]*domain.Worker),
	}
}

func (r *StaticWorkerRepository) invalidateCache() {
	r.cacheMu.Lock()
	r.cacheValid = false
	r.lastModified = time.Now()

	// Clear cached slices to prevent memory leaks
	r.cachedAvailableCopies = nil
	r.cacheMu.Unlock()
}

// rebuildCacheIfNeeded caches the actual copies, not just the filtering logic
func (r *StaticWorkerRepository) rebuildCacheIfNeeded() {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	if r.cacheValid {
		return
	}

	workerCount := len(r.workers)
	availableEstimate := workerCount / 2
	if availableEstimate < 4 {
		availableEstimate = 4
	}

	r.cachedAvailableCopies = make([]*domain.Worker, 0, availableEstimate)

	for _, worker := range r.workers {
		if worker.Status.IsAvailable() {
			availableCopy := *worker
			r.cachedAvailableCopies = append(r.cachedAvailableCopies, &availableCopy)
		}
	}

	r.cacheValid = true
	r.cacheMisses++
}

// GetAll returns all registered workers with fresh copies for mutation safety
func (r *StaticWorkerRepository) GetAll(ctx context.Context) ([]*domain.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.workers) == 0 {
		return []*domain.Worker{}, nil
	}

	// Always create fresh copies for GetAll - no caching since this changes frequently
	workers := make([]*domain.Worker, 0, len(r.workers))
	for _, worker := range r.workers {
		workerCopy := *worker
		workers = append(workers, &workerCopy)
	}
	return workers, nil
}

// GetAvailable returns workers that can accept new jobs (healthy or busy)
func (r *StaticWorkerRepository) GetAvailable(ctx context.Context) ([]*domain.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	r.rebuildCacheIfNeeded()

	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	src := r.cachedAvailableCopies
	result := make([]*domain.Worker, len(src))
	for i, worker := range src {
		workerCopy := *worker // mutation safety
		result[i] = &workerCopy
	}

	r.cacheHits++
	return result, nil
}

// Get returns a copy of the named worker
func (r *StaticWorkerRepository) Get(ctx context.Context, name string) (*domain.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	worker, exists := r.workers[name]
	if !exists {
		return nil, &domain.ErrWorkerNotFound{Name: name}
	}

	workerCopy := *worker
	return &workerCopy, nil
}

func (r *StaticWorkerRepository) UpdateStatus(ctx context.Context, name string, status domain.WorkerStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	worker, exists := r.workers[name]
	if !exists {
		return &domain.ErrWorkerNotFound{Name: name}
	}

	// Only invalidate if status actually changed
	if worker.Status != status {
		worker.Status = status
		worker.LastProbe = time.Now()
		r.invalidateCache()
	}

	return nil
}

func (r *StaticWorkerRepository) UpdateWorker(ctx context.Context, worker *domain.Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.workers[worker.Name]
	if !exists {
		return &domain.ErrWorkerNotFound{Name: worker.Name}
	}

	existing.Status = worker.Status
	existing.LastProbe = worker.LastProbe
	existing.LastLatency = worker.LastLatency
	existing.ConsecutiveFailures = worker.ConsecutiveFailures
	existing.BackoffMultiplier = worker.BackoffMultiplier
	existing.NextProbeTime = worker.NextProbeTime

	// Always invalidate when UpdateWorker is called; the prober wouldn't
	// call this unless something changed.
	// NOTE: we test this in the repository_test.go!
	r.invalidateCache()

	return nil
}

func (r *StaticWorkerRepository) Exists(ctx context.Context, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.workers[name]
	return exists
}

func (r *StaticWorkerRepository) Add(ctx context.Context, worker *domain.Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if worker.BackoffMultiplier == 0 {
		worker.BackoffMultiplier = 1
	}
	if worker.NextProbeTime.IsZero() {
		worker.NextProbeTime = time.Now()
	}
	if worker.Status == "" {
		worker.Status = domain.StatusUnknown
	}

	r.workers[worker.Name] = worker
	r.invalidateCache()
	return nil
}

// GetCacheStats returns cache performance statistics
func (r *StaticWorkerRepository) GetCacheStats() map[string]interface{} {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	totalAccesses := r.cacheHits + r.cacheMisses
	hitRate := float64(0)
	if totalAccesses > 0 {
		hitRate = float64(r.cacheHits) / float64(totalAccesses)
	}

	return map[string]interface{}{
		"cache_hits":        r.cacheHits,
		"cache_misses":      r.cacheMisses,
		"cache_hit_rate":    hitRate,
		"cache_valid":       r.cacheValid,
		"cached_available":  len(r.cachedAvailableCopies),
		"last_invalidation": r.lastModified,
	}
}
