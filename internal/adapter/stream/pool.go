package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/config"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/constants"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/util"
)

// Sentinels live in ports so the execution pipeline can classify acquire
// failures without depending on this package.
var (
	ErrPoolClosed     = ports.ErrPoolClosed
	ErrAcquireTimeout = ports.ErrAcquireTimeout
)

// Pool lends websocket streams for a single worker. Acquire prefers an idle
// stream, dials a new one while under the cap, and otherwise queues the
// caller FIFO until a release hands a stream over or the acquire timeout
// fires. Streams lost mid-flight are redialled with exponential backoff.
type Pool struct {
	worker *domain.Worker
	cfg    config.PoolConfig
	logger logger.StyledLogger

	mu      sync.Mutex
	idle    []*Stream
	lent    map[string]*Stream
	waiters []chan *Stream
	open    int
	closed  bool

	done chan struct{}

	redialBase time.Duration
	redialMax  time.Duration

	totalAcquires atomic.Int64
	totalTimeouts atomic.Int64
	reconnects    atomic.Int64
}

func NewPool(worker *domain.Worker, cfg config.PoolConfig, styledLogger logger.StyledLogger) *Pool {
	if cfg.MaxStreamsPerWorker <= 0 {
		cfg.MaxStreamsPerWorker = 3
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.HealthTick <= 0 {
		cfg.HealthTick = 30 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = constants.DefaultStreamRedialAttempts
	}

	return &Pool{
		worker:     worker,
		cfg:        cfg,
		logger:     styledLogger,
		lent:       make(map[string]*Stream),
		done:       make(chan struct{}),
		redialBase: constants.DefaultStreamRedialBase,
		redialMax:  constants.DefaultStreamRedialMax,
	}
}

// Acquire returns a connected stream for exclusive use. The caller must
// Release it exactly once, even after a mid-lease disconnect.
func (p *Pool) Acquire(ctx context.Context) (*Stream, error) {
	p.totalAcquires.Add(1)

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if s := p.popIdleLocked(); s != nil {
			p.lent[s.id] = s
			p.mu.Unlock()
			if s.beginLease() {
				return s, nil
			}
			// Died between pop and lease; accounting settles via the
			// pump's close notification
			p.forget(s)
			continue
		}

		if p.open < p.cfg.MaxStreamsPerWorker {
			p.open++
			p.mu.Unlock()
			return p.dialForLease(ctx)
		}

		waiter := make(chan *Stream, 1)
		p.waiters = append(p.waiters, waiter)
		p.mu.Unlock()
		return p.await(ctx, waiter)
	}
}

// Release returns a lent stream. Dead streams are dropped (their redial is
// already scheduled); live ones go to the eldest waiter or back to idle.
func (p *Pool) Release(s *Stream) {
	s.endLease()

	p.mu.Lock()
	delete(p.lent, s.id)

	if p.closed {
		p.mu.Unlock()
		s.Close()
		return
	}

	if !s.IsConnected() {
		p.mu.Unlock()
		return
	}

	if !p.handOffLocked(s) {
		p.idle = append(p.idle, s)
	}
	p.mu.Unlock()
}

// Close shuts the pool down. Idle and lent streams are torn down, queued
// waiters fail with ErrPoolClosed, and later acquires are refused.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	idle := p.idle
	p.idle = nil
	lent := make([]*Stream, 0, len(p.lent))
	for _, s := range p.lent {
		lent = append(lent, s)
	}
	for _, w := range p.waiters {
		w <- nil
	}
	waiters := len(p.waiters)
	p.waiters = nil
	p.mu.Unlock()

	close(p.done)

	for _, s := range idle {
		s.Close()
	}
	for _, s := range lent {
		s.Close()
	}

	p.logger.Debug("Stream pool closed",
		"worker", p.worker.Name, "torn_down", len(idle)+len(lent), "waiters_failed", waiters)
}

// Stats returns a point-in-time snapshot of the pool
func (p *Pool) Stats() ports.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ports.PoolStats{
		Worker:        p.worker.Name,
		Open:          p.open,
		Lent:          len(p.lent),
		Idle:          len(p.idle),
		Waiters:       len(p.waiters),
		MaxStreams:    p.cfg.MaxStreamsPerWorker,
		TotalAcquires: p.totalAcquires.Load(),
		TotalTimeouts: p.totalTimeouts.Load(),
		Reconnects:    p.reconnects.Load(),
	}
}

// dialForLease opens a fresh stream for an acquire that found capacity. The
// caller reserved the open slot; the slot is returned on dial failure and
// owned by the stream afterwards.
func (p *Pool) dialForLease(ctx context.Context) (*Stream, error) {
	s, err := dial(ctx, p.worker, p.cfg.ConnectTimeout, p.cfg.HealthTick, p.handleStreamClosed, p.logger)
	if err != nil {
		p.mu.Lock()
		p.open--
		p.mu.Unlock()
		return nil, domain.NewWorkerError("stream dial", p.worker.Name, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		s.Close()
		return nil, ErrPoolClosed
	}
	p.lent[s.id] = s
	p.mu.Unlock()

	if !s.beginLease() {
		p.forget(s)
		return nil, fmt.Errorf("worker %s: stream lost during handshake", p.worker.Name)
	}

	return s, nil
}

// await blocks until a released stream is handed over, the acquire timeout
// elapses, or the caller's context ends. A stream that was handed over just
// as the timer fired still wins.
func (p *Pool) await(ctx context.Context, waiter chan *Stream) (*Stream, error) {
	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case s := <-waiter:
		if s == nil {
			return nil, ErrPoolClosed
		}
		if !s.beginLease() {
			p.forget(s)
			return nil, fmt.Errorf("worker %s: stream lost during handoff", p.worker.Name)
		}
		return s, nil

	case <-timer.C:
		if s := p.cancelWait(waiter); s != nil && s.beginLease() {
			return s, nil
		}
		p.totalTimeouts.Add(1)
		return nil, fmt.Errorf("worker %s: %w after %s", p.worker.Name, ErrAcquireTimeout, p.cfg.AcquireTimeout)

	case <-ctx.Done():
		if s := p.cancelWait(waiter); s != nil && s.beginLease() {
			return s, nil
		}
		return nil, ctx.Err()
	}
}

// cancelWait removes the waiter from the queue. Handoffs happen under the
// pool lock, so once the waiter is gone from the queue any stream meant for
// it is already sitting in the channel buffer; it wins the race and is
// returned so the caller can still use it.
func (p *Pool) cancelWait(waiter chan *Stream) *Stream {
	p.mu.Lock()
	for i, w := range p.waiters {
		if w == waiter {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	select {
	case s := <-waiter:
		return s
	default:
		return nil
	}
}

// handOffLocked gives the stream to the eldest waiter, if any. The buffered
// send happens under the pool lock so cancelWait can never miss it. Caller
// holds p.mu.
func (p *Pool) handOffLocked(s *Stream) bool {
	waiter := p.popWaiterLocked()
	if waiter == nil {
		return false
	}
	p.lent[s.id] = s
	waiter <- s
	return true
}

// handleStreamClosed is the pump's close notification. It settles the open
// count exactly once per stream and schedules a redial for unexpected
// closes while the pool is still running.
func (p *Pool) handleStreamClosed(s *Stream, requested bool) {
	p.mu.Lock()
	p.removeIdleLocked(s)
	delete(p.lent, s.id)
	if s.evicted.CompareAndSwap(false, true) {
		p.open--
	}
	closed := p.closed
	waiting := len(p.waiters)
	p.mu.Unlock()

	if requested || closed {
		return
	}

	p.logger.Debug("Worker stream lost, scheduling redial",
		"worker", p.worker.Name, "stream", s.id,
		"idle_for", time.Since(s.LastActive()), "waiters", waiting)
	go p.redial()
}

// redial replaces a lost stream, backing off exponentially between
// attempts. It gives up once the pool is full again, closed, or out of
// attempts.
func (p *Pool) redial() {
	for attempt := 1; attempt <= p.cfg.MaxReconnectAttempts; attempt++ {
		delay := util.CalculateExponentialBackoff(attempt, p.redialBase, p.redialMax, 0)

		select {
		case <-time.After(delay):
		case <-p.done:
			return
		}

		p.mu.Lock()
		if p.closed || p.open >= p.cfg.MaxStreamsPerWorker {
			p.mu.Unlock()
			return
		}
		p.open++
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout)
		s, err := dial(ctx, p.worker, p.cfg.ConnectTimeout, p.cfg.HealthTick, p.handleStreamClosed, p.logger)
		cancel()
		if err != nil {
			p.mu.Lock()
			p.open--
			p.mu.Unlock()
			p.logger.Debug("Stream redial failed",
				"worker", p.worker.Name, "attempt", attempt, "error", err)
			continue
		}

		p.reconnects.Add(1)
		p.logger.Debug("Stream redialled",
			"worker", p.worker.Name, "attempt", attempt, "stream", s.id)
		p.adopt(s)
		return
	}

	p.logger.Warn("Stream redial abandoned",
		"worker", p.worker.Name, "attempts", p.cfg.MaxReconnectAttempts)
}

// adopt hands a fresh stream to the eldest waiter, or parks it idle
func (p *Pool) adopt(s *Stream) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		s.Close()
		return
	}

	if !p.handOffLocked(s) {
		p.idle = append(p.idle, s)
	}
	p.mu.Unlock()
}

// forget drops a stream that died before its lease could start. The pump's
// close notification has already settled (or will settle) the accounting.
func (p *Pool) forget(s *Stream) {
	p.mu.Lock()
	delete(p.lent, s.id)
	p.mu.Unlock()
}

// popIdleLocked pops the most recently parked live stream. Dead streams are
// skipped; their close notification removes them from the books.
func (p *Pool) popIdleLocked() *Stream {
	for len(p.idle) > 0 {
		n := len(p.idle) - 1
		s := p.idle[n]
		p.idle[n] = nil
		p.idle = p.idle[:n]
		if s.IsConnected() {
			return s
		}
	}
	return nil
}

func (p *Pool) popWaiterLocked() chan *Stream {
	if len(p.waiters) == 0 {
		return nil
	}
	w := p.waiters[0]
	p.waiters[0] = nil
	p.waiters = p.waiters[1:]
	return w
}

func (p *Pool) removeIdleLocked(s *Stream) {
	for i, candidate := range p.idle {
		if candidate == s {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return
		}
	}
}
