package stream

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/config"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
)

// Manager implements ports.StreamLender over lazily created per-worker
// pools. Pools appear on first acquire and live until Close.
type Manager struct {
	cfg    config.PoolConfig
	logger logger.StyledLogger
	pools  *xsync.Map[string, *Pool]
	closed atomic.Bool
}

func NewManager(cfg config.PoolConfig, styledLogger logger.StyledLogger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: styledLogger,
		pools:  xsync.NewMap[string, *Pool](),
	}
}

// Acquire borrows a stream from the worker's pool, creating the pool on
// first use
func (m *Manager) Acquire(ctx context.Context, worker *domain.Worker) (ports.PooledStream, error) {
	if worker == nil {
		return nil, fmt.Errorf("stream acquire: nil worker")
	}
	if m.closed.Load() {
		return nil, ErrPoolClosed
	}

	pool, loaded := m.pools.LoadOrStore(worker.Name, NewPool(worker, m.cfg, m.logger))
	if !loaded {
		m.logger.Debug("Stream pool created",
			"worker", worker.Name, "max_streams", pool.cfg.MaxStreamsPerWorker)
	}

	// A pool stored while Close was running would otherwise be orphaned
	if m.closed.Load() {
		pool.Close()
		return nil, ErrPoolClosed
	}

	return pool.Acquire(ctx)
}

// Release returns a borrowed stream to its pool. Streams from an unknown
// pool are closed outright.
func (m *Manager) Release(stream ports.PooledStream) {
	if stream == nil {
		return
	}

	s, ok := stream.(*Stream)
	if !ok {
		return
	}

	pool, found := m.pools.Load(s.Worker())
	if !found {
		s.Close()
		return
	}

	pool.Release(s)
}

// Stats snapshots every pool, keyed by worker name
func (m *Manager) Stats() map[string]ports.PoolStats {
	stats := make(map[string]ports.PoolStats)
	m.pools.Range(func(worker string, pool *Pool) bool {
		stats[worker] = pool.Stats()
		return true
	})
	return stats
}

// Close tears down every pool. Queued acquires fail immediately; teardown
// itself does not block on the read pumps, so the context is only consulted
// for an already-expired deadline.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	count := 0
	m.pools.Range(func(worker string, pool *Pool) bool {
		pool.Close()
		count++
		return true
	})

	m.logger.Info("Stream pools closed", "pools", count)

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}
