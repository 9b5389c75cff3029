package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/config"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
	"github.com/signmaster-com/ComfyExpressMiddleware/pkg/eventbus"
)

var (
	ErrRegistryClosed    = errors.New("job registry closed")
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// fingerprintIDLen is how much of the job id goes into the save-prefix
// fingerprint. Eight hex chars plus the millisecond stamp is unique enough
// to defeat upstream result caching.
const fingerprintIDLen = 8

// Registry is the in-memory source of truth for job lifecycle state. One
// RWMutex guards the job map and the per-job timer map; no operation performs
// I/O under the lock. Every lifecycle change is published on the event bus
// after the lock is released, carrying a clone of the job.
//
// Each job owns exactly one timer. While the job is live it is the deadline
// timer (job_timeout); a terminal transition reschedules it as the eviction
// timer (terminal_retention). The timer callback resolves which role it is
// playing from the job's state at fire time.
type Registry struct {
	cfg    config.JobsConfig
	logger logger.StyledLogger
	bus    *eventbus.Bus[domain.JobEvent]

	mu     sync.RWMutex
	jobs   map[string]*domain.Job
	timers map[string]*time.Timer
	closed bool
}

func NewRegistry(cfg config.JobsConfig, styledLogger logger.StyledLogger) *Registry {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.TerminalRetention <= 0 {
		cfg.TerminalRetention = 30 * time.Second
	}

	return &Registry{
		cfg:    cfg,
		logger: styledLogger,
		bus:    eventbus.New[domain.JobEvent](),
		jobs:   make(map[string]*domain.Job),
		timers: make(map[string]*time.Timer),
	}
}

// UpdateConfig applies reloaded lifetime windows. Timers already armed keep
// their old durations; jobs created or finishing after the swap use the new
// ones.
func (r *Registry) UpdateConfig(cfg config.JobsConfig) {
	if cfg.JobTimeout <= 0 || cfg.TerminalRetention <= 0 {
		return
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// Create registers a pending job and arms its deadline timer. The returned
// job is a clone; callers never hold registry-internal state.
func (r *Registry) Create(ctx context.Context, kind domain.JobKind, input domain.JobInput) (*domain.Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
	if input.Image == "" {
		return nil, fmt.Errorf("job input carries no image")
	}

	now := time.Now()
	id := uuid.NewString()
	job := &domain.Job{
		ID:            id,
		Kind:          kind,
		Input:         input,
		Fingerprint:   fingerprint(id, now),
		CreatedAt:     now,
		State:         domain.JobStatePending,
		LastTouchedAt: now,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	r.jobs[id] = job
	r.armTimerLocked(id, r.cfg.JobTimeout)
	snapshot := job.Clone()
	r.mu.Unlock()

	r.publish(domain.JobEventCreated, snapshot)
	r.logger.Debug("Job created", "job_id", id, "kind", kind.String())
	return snapshot, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, exists := r.jobs[id]
	if !exists {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns clones of every job matching the filter, oldest first.
func (r *Registry) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	r.mu.RLock()
	matched := make([]*domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if filter.Matches(job) {
			matched = append(matched, job.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

// PendingJobs returns the dispatch queue in FIFO order.
func (r *Registry) PendingJobs(ctx context.Context) ([]*domain.Job, error) {
	return r.List(ctx, domain.JobFilter{State: domain.JobStatePending})
}

// MarkProcessing moves a pending job to processing and records its worker.
func (r *Registry) MarkProcessing(ctx context.Context, id, worker string) error {
	snapshot, err := r.transition(id, domain.JobStateProcessing, func(job *domain.Job, now time.Time) {
		job.AssignedWorker = worker
		job.ProcessingStartedAt = &now
	})
	if err != nil {
		return err
	}

	r.publish(domain.JobEventScheduled, snapshot)
	r.logger.Debug("Job dispatched", "job_id", id, "worker", worker)
	return nil
}

// SetSubmissionID records the upstream prompt id once the graph is accepted.
func (r *Registry) SetSubmissionID(ctx context.Context, id, submissionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[id]
	if !exists {
		return domain.ErrJobNotFound
	}
	job.SubmissionID = submissionID
	job.LastTouchedAt = time.Now()
	return nil
}

// Complete commits a result. A job the deadline timer already failed rejects
// the commit with ErrInvalidTransition; the caller decides whether that is
// fatal.
func (r *Registry) Complete(ctx context.Context, id string, result *domain.JobResult) error {
	snapshot, err := r.transition(id, domain.JobStateCompleted, func(job *domain.Job, now time.Time) {
		job.Result = result
	})
	if err != nil {
		return err
	}

	r.publish(domain.JobEventCompleted, snapshot)
	r.logger.Debug("Job completed",
		"job_id", id,
		"worker", snapshot.AssignedWorker,
		"duration", snapshot.ProcessingDuration())
	return nil
}

// Fail moves the job to failed with the given error record.
func (r *Registry) Fail(ctx context.Context, id string, jobErr *domain.JobError) error {
	if jobErr == nil {
		jobErr = domain.NewJobError(domain.ErrorKindInternal, "unspecified failure", nil)
	}

	snapshot, err := r.transition(id, domain.JobStateFailed, func(job *domain.Job, now time.Time) {
		job.Error = jobErr
	})
	if err != nil {
		return err
	}

	r.publish(domain.JobEventFailed, snapshot)
	r.logger.Warn("Job failed",
		"job_id", id,
		"worker", snapshot.AssignedWorker,
		"kind", string(jobErr.Kind),
		"error", jobErr.Message)
	return nil
}

// Touch refreshes LastTouchedAt so observers can tell a live job from a
// wedged one.
func (r *Registry) Touch(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[id]
	if !exists {
		return domain.ErrJobNotFound
	}
	job.LastTouchedAt = time.Now()
	return nil
}

// Delete evicts a job in any state. Deleting an unknown id is a no-op.
func (r *Registry) Delete(ctx context.Context, id string) bool {
	r.mu.Lock()
	job, exists := r.jobs[id]
	if !exists {
		r.mu.Unlock()
		return false
	}
	snapshot := job.Clone()
	r.evictLocked(id)
	r.mu.Unlock()

	r.publish(domain.JobEventDeleted, snapshot)
	r.logger.Debug("Job deleted", "job_id", id, "state", string(snapshot.State))
	return true
}

// Cleanup sweeps every terminal job immediately instead of waiting out the
// retention window. Returns the number evicted.
func (r *Registry) Cleanup(ctx context.Context) int {
	r.mu.Lock()
	var evicted []*domain.Job
	for id, job := range r.jobs {
		if job.State.Terminal() {
			evicted = append(evicted, job.Clone())
			r.evictLocked(id)
		}
	}
	r.mu.Unlock()

	for _, job := range evicted {
		r.publish(domain.JobEventDeleted, job)
	}
	if len(evicted) > 0 {
		r.logger.Debug("Terminal jobs swept", "removed", len(evicted))
	}
	return len(evicted)
}

func (r *Registry) Stats(ctx context.Context) domain.JobStats {
	stats := domain.JobStats{
		ByState:  make(map[string]int),
		ByKind:   make(map[string]int),
		ByWorker: make(map[string]int),
	}
	for _, state := range []domain.JobState{
		domain.JobStatePending,
		domain.JobStateProcessing,
		domain.JobStateCompleted,
		domain.JobStateFailed,
	} {
		stats.ByState[state.String()] = 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	stats.Total = len(r.jobs)
	for _, job := range r.jobs {
		stats.ByState[job.State.String()]++
		stats.ByKind[job.Kind.String()]++
		if job.AssignedWorker != "" {
			stats.ByWorker[job.AssignedWorker]++
		}
	}
	return stats
}

// Subscribe attaches a lifecycle event listener. The returned cancel func
// must be called when the listener is done; cancelling ctx works too.
func (r *Registry) Subscribe(ctx context.Context) (<-chan domain.JobEvent, func()) {
	return r.bus.Subscribe(ctx)
}

// Close stops every timer and shuts the event bus down. Jobs still in the map
// are abandoned; a closed registry rejects all writes.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
	remaining := len(r.jobs)
	r.mu.Unlock()

	r.bus.Shutdown()
	r.logger.Debug("Job registry closed", "jobs_remaining", remaining)
}

// transition applies the pending->processing->terminal state machine. The
// patch runs under the lock and must not call out. Terminal transitions stamp
// FinishedAt and rearm the timer as the eviction timer.
func (r *Registry) transition(id string, next domain.JobState, patch func(*domain.Job, time.Time)) (*domain.Job, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	job, exists := r.jobs[id]
	if !exists {
		r.mu.Unlock()
		return nil, domain.ErrJobNotFound
	}
	if !job.State.CanTransitionTo(next) {
		from := job.State
		r.mu.Unlock()
		return nil, fmt.Errorf("job %s: %w: %s -> %s", id, ErrInvalidTransition, from, next)
	}

	now := time.Now()
	job.State = next
	job.LastTouchedAt = now
	if patch != nil {
		patch(job, now)
	}
	if next.Terminal() {
		job.FinishedAt = &now
		r.armTimerLocked(id, r.cfg.TerminalRetention)
	}
	snapshot := job.Clone()
	r.mu.Unlock()

	return snapshot, nil
}

// onTimer fires for both timer roles. A terminal job is evicted; a live job
// has exceeded its deadline and is failed in place, with the timer rearmed
// for eviction.
func (r *Registry) onTimer(id string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	job, exists := r.jobs[id]
	if !exists {
		r.mu.Unlock()
		return
	}

	if job.State.Terminal() {
		snapshot := job.Clone()
		r.evictLocked(id)
		r.mu.Unlock()

		r.publish(domain.JobEventDeleted, snapshot)
		r.logger.Debug("Job evicted", "job_id", id, "state", string(snapshot.State))
		return
	}

	now := time.Now()
	job.State = domain.JobStateFailed
	job.Error = domain.NewJobError(domain.ErrorKindTimeout,
		fmt.Sprintf("job stuck after %s", r.cfg.JobTimeout), nil)
	job.FinishedAt = &now
	job.LastTouchedAt = now
	r.armTimerLocked(id, r.cfg.TerminalRetention)
	snapshot := job.Clone()
	r.mu.Unlock()

	r.publish(domain.JobEventFailed, snapshot)
	r.logger.Warn("Job deadline expired",
		"job_id", id,
		"worker", snapshot.AssignedWorker,
		"timeout", r.cfg.JobTimeout)
}

// armTimerLocked replaces the job's timer. Caller holds r.mu.
func (r *Registry) armTimerLocked(id string, d time.Duration) {
	if timer, exists := r.timers[id]; exists {
		timer.Stop()
	}
	r.timers[id] = time.AfterFunc(d, func() {
		r.onTimer(id)
	})
}

// evictLocked removes the job and its timer. Caller holds r.mu.
func (r *Registry) evictLocked(id string) {
	if timer, exists := r.timers[id]; exists {
		timer.Stop()
		delete(r.timers, id)
	}
	delete(r.jobs, id)
}

func (r *Registry) publish(eventType domain.JobEventType, job *domain.Job) {
	r.bus.Publish(domain.JobEvent{
		Type: eventType,
		Job:  job,
		At:   time.Now(),
	})
}

func fingerprint(id string, now time.Time) string {
	short := id
	if len(short) > fingerprintIDLen {
		short = short[:fingerprintIDLen]
	}
	return fmt.Sprintf("job_%s_%d", short, now.UnixMilli())
}
