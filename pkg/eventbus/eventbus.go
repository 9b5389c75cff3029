// Package eventbus provides a small lock-free pub/sub bus used to fan out
// job lifecycle events. Subscribers that fall behind lose events rather than
// blocking publishers; waiters are expected to re-check authoritative state.
package eventbus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

type Bus[T any] struct {
	subscribers *xsync.Map[uint64, *subscriber[T]]
	closed      atomic.Bool
	seq         atomic.Uint64
	pruneTicker *time.Ticker
	stopPrune   chan struct{}
	bufferSize  int
}

type subscriber[T any] struct {
	ch         chan T
	lastActive atomic.Int64
	dropped    atomic.Uint64
	active     atomic.Bool
}

type Config struct {
	BufferSize      int
	PrunePeriod     time.Duration
	InactiveTimeout time.Duration
}

var DefaultConfig = Config{
	BufferSize:      100,
	PrunePeriod:     5 * time.Minute,
	InactiveTimeout: 10 * time.Minute,
}

func New[T any]() *Bus[T] {
	return NewWithConfig[T](DefaultConfig)
}

func NewWithConfig[T any](config Config) *Bus[T] {
	bus := &Bus[T]{
		subscribers: xsync.NewMap[uint64, *subscriber[T]](),
		bufferSize:  config.BufferSize,
		stopPrune:   make(chan struct{}),
	}

	if config.PrunePeriod > 0 {
		bus.pruneTicker = time.NewTicker(config.PrunePeriod)
		go bus.pruneLoop(config.InactiveTimeout)
	}

	return bus
}

// Subscribe returns a receive channel and a cleanup function. The channel is
// closed on unsubscribe or shutdown; cancelling ctx unsubscribes too.
func (b *Bus[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	if b.closed.Load() {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	id := b.seq.Add(1)
	sub := &subscriber[T]{
		ch: make(chan T, b.bufferSize),
	}
	sub.lastActive.Store(time.Now().UnixNano())
	sub.active.Store(true)

	b.subscribers.Store(id, sub)

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()

	return sub.ch, func() {
		b.unsubscribe(id)
	}
}

// Publish delivers the event to every active subscriber without blocking,
// returning the delivery count. Full subscriber buffers drop the event.
func (b *Bus[T]) Publish(event T) int {
	if b.closed.Load() {
		return 0
	}

	delivered := 0
	now := time.Now().UnixNano()

	b.subscribers.Range(func(id uint64, sub *subscriber[T]) bool {
		if !sub.active.Load() {
			return true
		}

		select {
		case sub.ch <- event:
			sub.lastActive.Store(now)
			delivered++
		default:
			sub.dropped.Add(1)
		}
		return true
	})

	return delivered
}

// Shutdown closes all subscriber channels. Publish becomes a no-op.
func (b *Bus[T]) Shutdown() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}

	if b.pruneTicker != nil {
		b.pruneTicker.Stop()
		close(b.stopPrune)
	}

	b.subscribers.Range(func(id uint64, sub *subscriber[T]) bool {
		if sub.active.CompareAndSwap(true, false) {
			close(sub.ch)
		}
		return true
	})

	b.subscribers.Clear()
}

type Stats struct {
	Subscribers int
	Dropped     uint64
}

func (b *Bus[T]) Stats() Stats {
	var stats Stats
	if b.closed.Load() {
		return stats
	}

	b.subscribers.Range(func(id uint64, sub *subscriber[T]) bool {
		if sub.active.Load() {
			stats.Subscribers++
		}
		stats.Dropped += sub.dropped.Load()
		return true
	})

	return stats
}

func (b *Bus[T]) unsubscribe(id uint64) {
	if sub, exists := b.subscribers.LoadAndDelete(id); exists {
		if sub.active.CompareAndSwap(true, false) {
			close(sub.ch)
		}
	}
}

func (b *Bus[T]) pruneLoop(inactiveTimeout time.Duration) {
	for {
		select {
		case <-b.stopPrune:
			return
		case <-b.pruneTicker.C:
			b.pruneInactive(inactiveTimeout)
		}
	}
}

// pruneInactive drops subscribers that have neither received nor been
// delivered anything for the timeout window.
func (b *Bus[T]) pruneInactive(timeout time.Duration) {
	cutoff := time.Now().Add(-timeout).UnixNano()
	var stale []uint64

	b.subscribers.Range(func(id uint64, sub *subscriber[T]) bool {
		if !sub.active.Load() || sub.lastActive.Load() < cutoff {
			stale = append(stale, id)
		}
		return true
	})

	for _, id := range stale {
		b.unsubscribe(id)
	}
}
