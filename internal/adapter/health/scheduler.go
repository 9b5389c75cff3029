package health

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
)

// scheduledProbe is one pending probe in the heap, ordered by due time
type scheduledProbe struct {
	worker  *domain.Worker
	dueTime time.Time
	ctx     context.Context
}

type probeHeap []*scheduledProbe

func (h probeHeap) Len() int           { return len(h) }
func (h probeHeap) Less(i, j int) bool { return h[i].dueTime.Before(h[j].dueTime) }
func (h probeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *probeHeap) Push(x any)        { *h = append(*h, x.(*scheduledProbe)) }
func (h *probeHeap) Pop() any {
	old := *h
	last := len(old) - 1
	item := old[last]
	old[last] = nil
	*h = old[:last]
	return item
}

// ProbeScheduler owns the probe timetable. Workers sit in a min-heap keyed
// by their next due time; a short ticker drains whatever is due into the
// probe pool's job channel.
type ProbeScheduler struct {
	heap   *probeHeap
	heapMu sync.Mutex
	stopCh chan struct{}
	jobCh  chan<- probeJob
}

func NewProbeScheduler(jobCh chan<- probeJob) *ProbeScheduler {
	h := &probeHeap{}
	heap.Init(h)

	return &ProbeScheduler{
		heap:   h,
		jobCh:  jobCh,
		stopCh: make(chan struct{}),
	}
}

// Start seeds the heap from the repository and begins the scheduler loop
func (ps *ProbeScheduler) Start(ctx context.Context, repository domain.WorkerRepository) {
	if workers, err := repository.GetAll(ctx); err == nil {
		ps.heapMu.Lock()
		for _, worker := range workers {
			heap.Push(ps.heap, &scheduledProbe{
				worker:  worker,
				dueTime: worker.NextProbeTime,
				ctx:     ctx,
			})
		}
		ps.heapMu.Unlock()
	}

	go ps.schedulerLoop(ctx)
}

func (ps *ProbeScheduler) Stop() {
	close(ps.stopCh)
}

// ScheduleProbe queues a probe for the given due time. The context is held
// until the probe runs so in-flight probes die with their monitor.
func (ps *ProbeScheduler) ScheduleProbe(ctx context.Context, worker *domain.Worker, dueTime time.Time) {
	ps.heapMu.Lock()
	defer ps.heapMu.Unlock()

	heap.Push(ps.heap, &scheduledProbe{
		worker:  worker,
		dueTime: dueTime,
		ctx:     ctx,
	})
}

// GetScheduledCount returns the number of pending probes.
func (ps *ProbeScheduler) GetScheduledCount() int {
	ps.heapMu.Lock()
	defer ps.heapMu.Unlock()
	return ps.heap.Len()
}

func (ps *ProbeScheduler) schedulerLoop(ctx context.Context) {
	// 100ms resolution keeps probe timing tight without busy-waiting
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ps.stopCh:
			return
		case now := <-ticker.C:
			ps.dispatchDue(now)
		}
	}
}

// dispatchDue hands every due probe to the pool. When the pool's backlog is
// full the current probe is nudged a second into the future and the rest
// stay due for the next tick.
func (ps *ProbeScheduler) dispatchDue(now time.Time) {
	ps.heapMu.Lock()
	defer ps.heapMu.Unlock()

	for ps.heap.Len() > 0 && !(*ps.heap)[0].dueTime.After(now) {
		probe := heap.Pop(ps.heap).(*scheduledProbe)

		select {
		case ps.jobCh <- probeJob{worker: probe.worker, ctx: probe.ctx}:
		default:
			probe.dueTime = now.Add(time.Second)
			heap.Push(ps.heap, probe)
			return
		}
	}
}
