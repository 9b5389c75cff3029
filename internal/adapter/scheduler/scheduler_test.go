package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/adapter/balancer"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/adapter/discovery"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/adapter/jobs"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/config"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
)

func testStyledLogger() logger.StyledLogger {
	return logger.NewPlainStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeExecutor stands in for the execution pipeline: it records dispatch
// order, optionally blocks until released, and commits the terminal registry
// transition the way the real executor does.
type fakeExecutor struct {
	registry ports.JobRegistry

	mu      sync.Mutex
	calls   []string
	workers []string

	block     chan struct{}
	panicking atomic.Bool
	cancelled atomic.Int32
}

func (f *fakeExecutor) Execute(ctx context.Context, job *domain.Job, worker *domain.Worker) error {
	f.mu.Lock()
	f.calls = append(f.calls, job.ID)
	f.workers = append(f.workers, worker.Name)
	block := f.block
	f.mu.Unlock()

	if f.panicking.Load() {
		panic("executor exploded")
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			f.cancelled.Add(1)
			jobErr := domain.NewJobError(domain.ErrorKindTimeout, "execution cancelled", ctx.Err())
			_ = f.registry.Fail(context.Background(), job.ID, jobErr)
			return jobErr
		}
	}

	_ = f.registry.Complete(context.Background(), job.ID, &domain.JobResult{
		Image:       "data:image/png;base64,QQ==",
		ContentType: "image/png",
	})
	return nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeExecutor) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeExecutor) workersSeen() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]int)
	for _, name := range f.workers {
		seen[name]++
	}
	return seen
}

type harness struct {
	registry *jobs.Registry
	repo     *discovery.StaticWorkerRepository
	stats    *ports.MockStatsCollector
	executor *fakeExecutor
	sched    *Scheduler
}

func newHarness(t *testing.T, cfg config.SchedulerConfig, workerNames ...string) *harness {
	t.Helper()

	registry := jobs.NewRegistry(config.JobsConfig{}, testStyledLogger())
	t.Cleanup(registry.Close)

	repo := discovery.NewStaticWorkerRepository()
	for _, name := range workerNames {
		if err := repo.Add(context.Background(), &domain.Worker{Name: name, Status: domain.StatusHealthy}); err != nil {
			t.Fatalf("add worker: %v", err)
		}
	}

	statsCollector := ports.NewMockStatsCollector()
	executor := &fakeExecutor{registry: registry}
	selector := balancer.NewLeastBusySelector(statsCollector, nil, nil, cfg.MaxJobsPerWorker)
	sched := NewScheduler(cfg, registry, repo, selector, executor, testStyledLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Stop(ctx)
	})

	return &harness{
		registry: registry,
		repo:     repo,
		stats:    statsCollector,
		executor: executor,
		sched:    sched,
	}
}

func (h *harness) createJob(t *testing.T) *domain.Job {
	t.Helper()
	job, err := h.registry.Create(context.Background(), domain.JobKindRemoveBackground, domain.JobInput{Image: "aGVsbG8="})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return job
}

func (h *harness) jobState(t *testing.T, id string) domain.JobState {
	t.Helper()
	job, err := h.registry.Get(context.Background(), id)
	if err != nil {
		return ""
	}
	return job.State
}

func TestScheduler_DispatchesPendingJobsFIFO(t *testing.T) {
	h := newHarness(t, config.SchedulerConfig{
		MaxConcurrentGlobal: 4,
		TickInterval:        20 * time.Millisecond,
	}, "worker-1")

	first := h.createJob(t)
	second := h.createJob(t)
	third := h.createJob(t)

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, "all jobs to execute", func() bool {
		return h.executor.callCount() == 3
	})

	order := h.executor.callOrder()
	expected := []string{first.ID, second.ID, third.ID}
	for i, id := range expected {
		if order[i] != id {
			t.Fatalf("dispatch order = %v, expected %v", order, expected)
		}
	}

	waitFor(t, 2*time.Second, "jobs to complete", func() bool {
		return h.jobState(t, third.ID) == domain.JobStateCompleted
	})
	waitFor(t, 2*time.Second, "in-flight to drain", func() bool {
		return h.sched.InFlight() == 0
	})
}

func TestScheduler_CreationEventSkipsTheTickWait(t *testing.T) {
	h := newHarness(t, config.SchedulerConfig{
		MaxConcurrentGlobal: 4,
		TickInterval:        time.Minute,
	}, "worker-1")

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	job := h.createJob(t)

	waitFor(t, 2*time.Second, "event-driven dispatch", func() bool {
		return h.jobState(t, job.ID) == domain.JobStateCompleted
	})
}

func TestScheduler_HonoursGlobalCap(t *testing.T) {
	h := newHarness(t, config.SchedulerConfig{
		MaxConcurrentGlobal: 2,
		TickInterval:        20 * time.Millisecond,
	}, "worker-1")
	h.executor.block = make(chan struct{})

	for i := 0; i < 4; i++ {
		h.createJob(t)
	}

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, "cap to fill", func() bool {
		return h.sched.InFlight() == 2
	})

	// several ticks pass; the cap must hold
	time.Sleep(100 * time.Millisecond)
	if got := h.sched.InFlight(); got != 2 {
		t.Fatalf("in-flight = %d, expected the cap of 2", got)
	}
	if got := h.executor.callCount(); got != 2 {
		t.Fatalf("executor calls = %d, expected 2 while blocked", got)
	}

	close(h.executor.block)

	waitFor(t, 2*time.Second, "backlog to drain", func() bool {
		return h.executor.callCount() == 4 && h.sched.InFlight() == 0
	})
}

func TestScheduler_HonoursPerWorkerCap(t *testing.T) {
	h := newHarness(t, config.SchedulerConfig{
		MaxConcurrentGlobal: 4,
		MaxJobsPerWorker:    1,
		TickInterval:        20 * time.Millisecond,
	}, "worker-1", "worker-2")
	h.executor.block = make(chan struct{})

	for i := 0; i < 4; i++ {
		h.createJob(t)
	}

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, "both workers to saturate", func() bool {
		return h.sched.InFlight() == 2
	})

	time.Sleep(100 * time.Millisecond)
	if got := h.sched.InFlight(); got != 2 {
		t.Fatalf("in-flight = %d, expected 2 with one job per worker", got)
	}

	seen := h.executor.workersSeen()
	if seen["worker-1"] != 1 || seen["worker-2"] != 1 {
		t.Fatalf("placement = %v, expected one job on each worker", seen)
	}

	close(h.executor.block)

	waitFor(t, 2*time.Second, "backlog to drain", func() bool {
		return h.executor.callCount() == 4 && h.sched.InFlight() == 0
	})
}

func TestScheduler_NoWorkersLeavesJobsPending(t *testing.T) {
	h := newHarness(t, config.SchedulerConfig{
		MaxConcurrentGlobal: 4,
		TickInterval:        20 * time.Millisecond,
	})

	job := h.createJob(t)

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(120 * time.Millisecond)

	if got := h.executor.callCount(); got != 0 {
		t.Errorf("executor called %d times with no workers", got)
	}
	if state := h.jobState(t, job.ID); state != domain.JobStatePending {
		t.Errorf("state = %s, expected the job to stay pending", state)
	}
}

func TestScheduler_StopDrainsInFlight(t *testing.T) {
	h := newHarness(t, config.SchedulerConfig{
		MaxConcurrentGlobal: 2,
		TickInterval:        20 * time.Millisecond,
		ShutdownGrace:       5 * time.Second,
	}, "worker-1")
	h.executor.block = make(chan struct{})

	job := h.createJob(t)

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, 2*time.Second, "job to start", func() bool {
		return h.executor.callCount() == 1
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(h.executor.block)
	}()

	if err := h.sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if h.executor.cancelled.Load() != 0 {
		t.Errorf("in-flight job was cancelled inside the grace window")
	}
	if state := h.jobState(t, job.ID); state != domain.JobStateCompleted {
		t.Errorf("state = %s, expected completed", state)
	}
	if h.sched.IsRunning() {
		t.Errorf("scheduler still reports running")
	}
}

func TestScheduler_StopCancelsAfterGrace(t *testing.T) {
	h := newHarness(t, config.SchedulerConfig{
		MaxConcurrentGlobal: 2,
		TickInterval:        20 * time.Millisecond,
		ShutdownGrace:       40 * time.Millisecond,
	}, "worker-1")
	h.executor.block = make(chan struct{})

	job := h.createJob(t)

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, 2*time.Second, "job to start", func() bool {
		return h.executor.callCount() == 1
	})

	if err := h.sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if h.executor.cancelled.Load() != 1 {
		t.Errorf("blocked job was not cancelled after the grace window")
	}
	if state := h.jobState(t, job.ID); state != domain.JobStateFailed {
		t.Errorf("state = %s, expected failed", state)
	}
}

func TestScheduler_ExecutorPanicFailsJob(t *testing.T) {
	h := newHarness(t, config.SchedulerConfig{
		MaxConcurrentGlobal: 2,
		TickInterval:        20 * time.Millisecond,
	}, "worker-1")
	h.executor.panicking.Store(true)

	broken := h.createJob(t)

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, "panicked job to fail", func() bool {
		return h.jobState(t, broken.ID) == domain.JobStateFailed
	})

	failed, _ := h.registry.Get(context.Background(), broken.ID)
	if failed.Error == nil || failed.Error.Kind != domain.ErrorKindInternal {
		t.Fatalf("failure record = %+v, expected an internal error", failed.Error)
	}

	waitFor(t, 2*time.Second, "bookkeeping to unwind", func() bool {
		return h.sched.InFlight() == 0
	})

	// the loop survives the panic and keeps dispatching
	h.executor.panicking.Store(false)
	next := h.createJob(t)
	waitFor(t, 2*time.Second, "next job to complete", func() bool {
		return h.jobState(t, next.ID) == domain.JobStateCompleted
	})
}
