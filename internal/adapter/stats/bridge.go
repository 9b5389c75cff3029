package stats

import (
	"context"
	"sync"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
)

// Bridge feeds registry lifecycle events into the stats collector. Recording
// off the event stream instead of inside the executor means deadline-fired
// failures and recovered panics are counted through the same path as
// ordinary completions. Active-job deltas stay with the selectors, which
// already track dispatch and return.
type Bridge struct {
	registry  ports.JobRegistry
	collector ports.StatsCollector
	logger    logger.StyledLogger

	mu          sync.Mutex
	cancel      context.CancelFunc
	unsubscribe func()
	done        chan struct{}
}

func NewBridge(registry ports.JobRegistry, collector ports.StatsCollector, styledLogger logger.StyledLogger) *Bridge {
	return &Bridge{
		registry:  registry,
		collector: collector,
		logger:    styledLogger,
	}
}

func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done != nil {
		return
	}

	subCtx, cancel := context.WithCancel(ctx)
	events, unsubscribe := b.registry.Subscribe(subCtx)

	done := make(chan struct{})
	b.cancel = cancel
	b.unsubscribe = unsubscribe
	b.done = done

	go b.run(events, done)
}

func (b *Bridge) Stop() {
	b.mu.Lock()
	if b.done == nil {
		b.mu.Unlock()
		return
	}
	cancel := b.cancel
	unsubscribe := b.unsubscribe
	done := b.done
	b.cancel = nil
	b.unsubscribe = nil
	b.done = nil
	b.mu.Unlock()

	unsubscribe()
	cancel()
	<-done
}

func (b *Bridge) run(events <-chan domain.JobEvent, done chan struct{}) {
	defer close(done)

	for event := range events {
		if event.Job == nil {
			continue
		}
		b.record(event)
	}
}

func (b *Bridge) record(event domain.JobEvent) {
	job := event.Job

	switch event.Type {
	case domain.JobEventCreated:
		b.collector.RecordJobCreated(string(job.Kind))

	case domain.JobEventCompleted:
		b.collector.RecordJobCompleted(job.AssignedWorker, string(job.Kind), job.ProcessingDuration())

	case domain.JobEventFailed:
		errorKind := ""
		message := ""
		if job.Error != nil {
			errorKind = string(job.Error.Kind)
			message = job.Error.Message
		}
		b.collector.RecordJobFailed(job.AssignedWorker, string(job.Kind), errorKind, message)
	}
}
