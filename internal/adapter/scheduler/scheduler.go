package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/config"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
)

// Scheduler owns the dispatch loop: every tick (or early kick) it matches
// pending jobs against dispatchable workers and spawns one executor task per
// job. The loop is the only goroutine that dispatches, so the global cap and
// the one-task-per-job guarantee hold without a dispatch lock.
//
// Two cancellation scopes: the loop context stops dispatching, the task
// context cancels in-flight executions. Stop cancels the loop first, waits
// out the shutdown grace, then cancels the tasks that remain.
type Scheduler struct {
	cfg      config.SchedulerConfig
	registry ports.JobRegistry
	workers  domain.WorkerRepository
	selector domain.WorkerSelector
	executor ports.JobExecutor
	logger   logger.StyledLogger

	kick chan struct{}

	mu         sync.Mutex
	running    bool
	loopCancel context.CancelFunc
	taskCtx    context.Context
	taskCancel context.CancelFunc
	loopDone   chan struct{}

	tasks         sync.WaitGroup
	inFlight      *xsync.Map[string, string] // job id -> worker name
	inFlightCount atomic.Int64
	maxConcurrent atomic.Int64
}

func NewScheduler(
	cfg config.SchedulerConfig,
	registry ports.JobRegistry,
	workers domain.WorkerRepository,
	selector domain.WorkerSelector,
	executor ports.JobExecutor,
	styledLogger logger.StyledLogger,
) *Scheduler {
	if cfg.MaxConcurrentGlobal <= 0 {
		cfg.MaxConcurrentGlobal = 4
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}

	s := &Scheduler{
		cfg:      cfg,
		registry: registry,
		workers:  workers,
		selector: selector,
		executor: executor,
		logger:   styledLogger,
		kick:     make(chan struct{}, 1),
		inFlight: xsync.NewMap[string, string](),
	}
	s.maxConcurrent.Store(int64(cfg.MaxConcurrentGlobal))
	return s
}

// UpdateConfig applies a reloaded global cap. The dispatch loop reads the cap
// every cycle, so the change lands on the next tick; a lower cap never aborts
// jobs already in flight.
func (s *Scheduler) UpdateConfig(cfg config.SchedulerConfig) {
	if cfg.MaxConcurrentGlobal <= 0 {
		return
	}
	previous := s.maxConcurrent.Swap(int64(cfg.MaxConcurrentGlobal))
	if previous != int64(cfg.MaxConcurrentGlobal) {
		s.Kick()
	}
}

// Start launches the dispatch loop. The loop also subscribes to registry
// events so a freshly created job is dispatched without waiting out the tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	loopCtx, loopCancel := context.WithCancel(ctx)
	taskCtx, taskCancel := context.WithCancel(context.Background())
	s.loopCancel = loopCancel
	s.taskCtx = taskCtx
	s.taskCancel = taskCancel
	s.loopDone = make(chan struct{})
	s.running = true

	events, unsubscribe := s.registry.Subscribe(loopCtx)
	go s.run(loopCtx, events, unsubscribe)

	s.logger.Info("Scheduler started",
		"max_concurrent", s.cfg.MaxConcurrentGlobal,
		"tick_interval", s.cfg.TickInterval,
		"strategy", s.selector.Name())
	return nil
}

// Stop halts dispatching, waits for in-flight executions up to the shutdown
// grace, then cancels whatever is still running. In-flight tasks deliberately
// outlive the Start context so a process signal does not abort jobs that
// could still finish inside the grace window.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	loopCancel := s.loopCancel
	taskCancel := s.taskCancel
	loopDone := s.loopDone
	s.mu.Unlock()

	loopCancel()
	<-loopDone

	drained := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(s.cfg.ShutdownGrace):
		s.logger.Warn("Shutdown grace expired, cancelling in-flight jobs",
			"in_flight", s.inFlightCount.Load())
		taskCancel()
		select {
		case <-drained:
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		taskCancel()
		return ctx.Err()
	}

	taskCancel()
	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Kick requests an early dispatch cycle. Safe from any goroutine; repeated
// kicks coalesce.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) InFlight() int64 {
	return s.inFlightCount.Load()
}

func (s *Scheduler) run(ctx context.Context, events <-chan domain.JobEvent, unsubscribe func()) {
	defer close(s.loopDone)
	defer unsubscribe()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Type != domain.JobEventCreated {
				continue
			}
		}
		s.dispatch(ctx)
	}
}

// dispatch runs one placement cycle: oldest pending jobs first, stopping when
// the global cap is reached or no worker can take another job.
func (s *Scheduler) dispatch(ctx context.Context) {
	free := s.maxConcurrent.Load() - s.inFlightCount.Load()
	if free <= 0 {
		return
	}

	pending, err := s.registry.PendingJobs(ctx)
	if err != nil || len(pending) == 0 {
		return
	}

	fleet, err := s.workers.GetAll(ctx)
	if err != nil {
		s.logger.Error("Worker fleet unavailable", "error", err)
		return
	}

	for _, job := range pending {
		if free <= 0 || ctx.Err() != nil {
			return
		}
		if _, dispatched := s.inFlight.Load(job.ID); dispatched {
			continue
		}

		worker, err := s.selector.Select(ctx, fleet)
		if err != nil {
			// nothing dispatchable right now; jobs stay pending for the next cycle
			return
		}

		s.selector.IncrementJobs(worker)
		if err := s.registry.MarkProcessing(ctx, job.ID, worker.Name); err != nil {
			// deleted or deadline-failed between listing and now
			s.selector.DecrementJobs(worker)
			s.logger.Debug("Dispatch skipped", "job_id", job.ID, "error", err)
			continue
		}

		s.inFlight.Store(job.ID, worker.Name)
		s.inFlightCount.Add(1)
		free--
		s.tasks.Add(1)
		go s.runJob(job, worker)

		s.logger.Debug("Job scheduled",
			"job_id", job.ID,
			"kind", job.Kind.String(),
			"worker", worker.Name,
			"in_flight", s.inFlightCount.Load())
	}
}

// runJob drives one execution on the task context. The executor owns the
// terminal registry transition; a returned error is purely for visibility.
func (s *Scheduler) runJob(job *domain.Job, worker *domain.Worker) {
	defer s.tasks.Done()
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("Executor panic", "job_id", job.ID, "worker", worker.Name, "panic", rec)
			jobErr := domain.NewJobError(domain.ErrorKindInternal,
				fmt.Sprintf("executor panic: %v", rec), nil)
			if failErr := s.registry.Fail(context.Background(), job.ID, jobErr); failErr != nil {
				s.logger.Debug("Panicked job already terminal", "job_id", job.ID, "error", failErr)
			}
		}
		s.inFlight.Delete(job.ID)
		s.inFlightCount.Add(-1)
		s.selector.DecrementJobs(worker)
		s.Kick()
	}()

	if err := s.executor.Execute(s.taskCtx, job, worker); err != nil {
		s.logger.Debug("Execution finished with failure",
			"job_id", job.ID,
			"worker", worker.Name,
			"error", err)
	}
}
