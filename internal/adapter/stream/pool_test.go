package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPool_ReusesIdleStream(t *testing.T) {
	server := newFakeWorkerServer(t)
	pool := NewPool(server.worker("worker-1"), testPoolConfig(), testStyledLogger())
	defer pool.Close()

	first, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	pool.Release(first)

	second, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	pool.Release(second)

	if first.ID() != second.ID() {
		t.Errorf("expected the idle stream to be reused, got %s then %s", first.ID(), second.ID())
	}
	if got := server.accepted(); got != 1 {
		t.Errorf("server accepted %d connections, expected 1", got)
	}

	stats := pool.Stats()
	if stats.TotalAcquires != 2 {
		t.Errorf("TotalAcquires = %d, expected 2", stats.TotalAcquires)
	}
	if stats.Open != 1 || stats.Idle != 1 || stats.Lent != 0 {
		t.Errorf("unexpected pool shape after release: %+v", stats)
	}
}

func TestPool_DialsUpToCapThenQueues(t *testing.T) {
	server := newFakeWorkerServer(t)
	cfg := testPoolConfig()
	cfg.MaxStreamsPerWorker = 2
	cfg.AcquireTimeout = 150 * time.Millisecond
	pool := NewPool(server.worker("worker-1"), cfg, testStyledLogger())
	defer pool.Close()

	ctx := context.Background()

	first, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	second, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if first.ID() == second.ID() {
		t.Fatalf("both acquires returned the same stream %s", first.ID())
	}
	if got := server.accepted(); got != 2 {
		t.Errorf("server accepted %d connections, expected 2", got)
	}

	// Pool is at capacity with nothing idle; this one must time out
	start := time.Now()
	_, err = pool.Acquire(ctx)
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < cfg.AcquireTimeout {
		t.Errorf("acquire returned after %v, before the %v timeout", elapsed, cfg.AcquireTimeout)
	}

	stats := pool.Stats()
	if stats.TotalTimeouts != 1 {
		t.Errorf("TotalTimeouts = %d, expected 1", stats.TotalTimeouts)
	}
	if stats.Open != 2 {
		t.Errorf("Open = %d, expected the cap of 2", stats.Open)
	}

	pool.Release(first)
	pool.Release(second)
}

func TestPool_ReleaseHandsToEldestWaiter(t *testing.T) {
	server := newFakeWorkerServer(t)
	cfg := testPoolConfig()
	cfg.MaxStreamsPerWorker = 1
	cfg.AcquireTimeout = 2 * time.Second
	pool := NewPool(server.worker("worker-1"), cfg, testStyledLogger())
	defer pool.Close()

	ctx := context.Background()

	held, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	type result struct {
		order int
		id    string
		err   error
	}
	results := make(chan result, 2)

	var wg sync.WaitGroup
	startWaiter := func(order int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := pool.Acquire(ctx)
			if err != nil {
				results <- result{order: order, err: err}
				return
			}
			results <- result{order: order, id: s.ID()}
			pool.Release(s)
		}()
	}

	startWaiter(1)
	waitFor(t, time.Second, "first waiter queued", func() bool {
		return pool.Stats().Waiters == 1
	})
	startWaiter(2)
	waitFor(t, time.Second, "second waiter queued", func() bool {
		return pool.Stats().Waiters == 2
	})

	pool.Release(held)

	firstServed := <-results
	secondServed := <-results
	wg.Wait()

	if firstServed.err != nil || secondServed.err != nil {
		t.Fatalf("waiters failed: %v / %v", firstServed.err, secondServed.err)
	}
	if firstServed.order != 1 {
		t.Errorf("waiter %d was served first, expected waiter 1", firstServed.order)
	}
	if secondServed.order != 2 {
		t.Errorf("waiter %d was served second, expected waiter 2", secondServed.order)
	}
	if firstServed.id != held.ID() || secondServed.id != held.ID() {
		t.Errorf("waiters got streams %s and %s, expected the released %s",
			firstServed.id, secondServed.id, held.ID())
	}
	if got := server.accepted(); got != 1 {
		t.Errorf("server accepted %d connections, expected the single pooled one", got)
	}
}

func TestPool_AcquireContextCancelled(t *testing.T) {
	server := newFakeWorkerServer(t)
	cfg := testPoolConfig()
	cfg.MaxStreamsPerWorker = 1
	cfg.AcquireTimeout = 5 * time.Second
	pool := NewPool(server.worker("worker-1"), cfg, testStyledLogger())
	defer pool.Close()

	held, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer pool.Release(held)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(ctx)
		errCh <- err
	}()

	waitFor(t, time.Second, "waiter queued", func() bool {
		return pool.Stats().Waiters == 1
	})
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("cancelled acquire did not return")
	}

	if got := pool.Stats().Waiters; got != 0 {
		t.Errorf("Waiters = %d after cancellation, expected 0", got)
	}
}

func TestPool_RedialsAfterUnexpectedClose(t *testing.T) {
	server := newFakeWorkerServer(t)
	cfg := testPoolConfig()
	cfg.MaxStreamsPerWorker = 1
	pool := NewPool(server.worker("worker-1"), cfg, testStyledLogger())
	pool.redialBase = 10 * time.Millisecond
	pool.redialMax = 50 * time.Millisecond
	defer pool.Close()

	s, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	server.dropConn(0)
	waitFor(t, time.Second, "stream marked disconnected", func() bool {
		return !s.IsConnected()
	})

	// Returning the dead stream must not park it back in the pool
	pool.Release(s)

	waitFor(t, 2*time.Second, "replacement stream dialled", func() bool {
		stats := pool.Stats()
		return stats.Reconnects == 1 && stats.Idle == 1
	})

	if got := server.accepted(); got != 2 {
		t.Errorf("server accepted %d connections, expected the original plus the redial", got)
	}

	replacement, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after redial failed: %v", err)
	}
	if replacement.ID() == s.ID() {
		t.Errorf("redial returned the dead stream %s", s.ID())
	}
	pool.Release(replacement)
}

func TestPool_CloseFailsQueuedWaiters(t *testing.T) {
	server := newFakeWorkerServer(t)
	cfg := testPoolConfig()
	cfg.MaxStreamsPerWorker = 1
	cfg.AcquireTimeout = 5 * time.Second
	pool := NewPool(server.worker("worker-1"), cfg, testStyledLogger())

	held, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background())
		errCh <- err
	}()
	waitFor(t, time.Second, "waiter queued", func() bool {
		return pool.Stats().Waiters == 1
	})

	pool.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrPoolClosed) {
			t.Errorf("queued waiter got %v, expected ErrPoolClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("queued waiter did not fail on close")
	}

	if _, err := pool.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("acquire after close got %v, expected ErrPoolClosed", err)
	}

	// Releasing after close just tears the stream down
	pool.Release(held)
	waitFor(t, time.Second, "held stream torn down", func() bool {
		return !held.IsConnected()
	})
}

func TestPool_DialFailureReleasesSlot(t *testing.T) {
	server := newFakeWorkerServer(t)
	worker := server.worker("worker-1")
	server.server.Close()

	cfg := testPoolConfig()
	cfg.MaxStreamsPerWorker = 1
	cfg.ConnectTimeout = 200 * time.Millisecond
	pool := NewPool(worker, cfg, testStyledLogger())
	defer pool.Close()

	if _, err := pool.Acquire(context.Background()); err == nil {
		t.Fatalf("expected acquire against a dead worker to fail")
	}

	stats := pool.Stats()
	if stats.Open != 0 {
		t.Errorf("Open = %d after failed dial, expected 0", stats.Open)
	}

	// The slot must be reusable once the dial fails
	if _, err := pool.Acquire(context.Background()); err == nil {
		t.Fatalf("expected second acquire against a dead worker to fail")
	}
	if got := pool.Stats().Open; got != 0 {
		t.Errorf("Open = %d after second failed dial, expected 0", got)
	}
}
