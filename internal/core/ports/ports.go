package ports

import (
	"context"
	"errors"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
)

var (
	// ErrPoolClosed is returned for stream acquires against a closed pool
	ErrPoolClosed = errors.New("stream pool closed")
	// ErrAcquireTimeout is returned when no stream frees up in time
	ErrAcquireTimeout = errors.New("stream acquire timed out")
)

// DiscoveryService exposes the configured worker fleet
type DiscoveryService interface {
	GetWorkers(ctx context.Context) ([]*domain.Worker, error)
	GetAvailableWorkers(ctx context.Context) ([]*domain.Worker, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HealthMonitor layers dispatch-time gating over the background prober
type HealthMonitor interface {
	domain.HealthChecker

	// IsHealthy answers from cache when the last probe is fresh
	IsHealthy(ctx context.Context, workerName string) bool

	// BeforeDispatch gates job placement: fresh healthy cache short-circuits,
	// otherwise a quick probe decides. A false return means do not dispatch.
	BeforeDispatch(ctx context.Context, worker *domain.Worker) bool

	// MarkUnhealthy is called from the execution path on transport errors
	MarkUnhealthy(ctx context.Context, workerName string, reason string)
}

// CircuitBreaker guards upstream calls for one worker
type CircuitBreaker interface {
	Allow() error
	OnSuccess()
	OnFailure()
	Execute(ctx context.Context, op func(ctx context.Context) error) error
	State() domain.BreakerState
	Snapshot() domain.BreakerSnapshot
	ForceOpen()
	ForceClose()
}

// BreakerRegistry hands out per-worker breakers and serves the admin surface
type BreakerRegistry interface {
	ForWorker(workerName string) CircuitBreaker
	Get(workerName string) (CircuitBreaker, bool)
	Snapshots() []domain.BreakerSnapshot
}

// PooledStream is a borrowed worker event stream, single-tenant for the
// duration of one submission
type PooledStream interface {
	ID() string
	ClientID() string
	Worker() string
	Events() <-chan []byte
	IsConnected() bool
}

// StreamLender lends pooled streams; Release must always follow a successful
// Acquire exactly once
type StreamLender interface {
	Acquire(ctx context.Context, worker *domain.Worker) (PooledStream, error)
	Release(stream PooledStream)
	Stats() map[string]PoolStats
	Close(ctx context.Context) error
}

// PoolStats describes one worker's stream pool
type PoolStats struct {
	Worker        string `json:"worker"`
	Open          int    `json:"open"`
	Lent          int    `json:"lent"`
	Idle          int    `json:"idle"`
	Waiters       int    `json:"waiters"`
	MaxStreams    int    `json:"max_streams"`
	TotalAcquires int64  `json:"total_acquires"`
	TotalTimeouts int64  `json:"total_timeouts"`
	Reconnects    int64  `json:"reconnects"`
}

// JobExecutor drives one job through submit, stream watch, result retrieval
// and commit
type JobExecutor interface {
	Execute(ctx context.Context, job *domain.Job, worker *domain.Worker) error
}

// Scheduler owns the dispatch loop
type Scheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	Kick()
	InFlight() int64
}

// JobRegistry is the source of truth for job lifecycle state
type JobRegistry interface {
	Create(ctx context.Context, kind domain.JobKind, input domain.JobInput) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error)
	PendingJobs(ctx context.Context) ([]*domain.Job, error)
	MarkProcessing(ctx context.Context, id, worker string) error
	SetSubmissionID(ctx context.Context, id, submissionID string) error
	Complete(ctx context.Context, id string, result *domain.JobResult) error
	Fail(ctx context.Context, id string, jobErr *domain.JobError) error
	Touch(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) bool
	Cleanup(ctx context.Context) int
	Stats(ctx context.Context) domain.JobStats
	Subscribe(ctx context.Context) (<-chan domain.JobEvent, func())
	Close()
}

// ResultSink optionally persists completed outputs to disk
type ResultSink interface {
	Save(ctx context.Context, submissionID, filename string, data []byte) error
}
