package domain

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

const (
	StatusStringHealthy   = "healthy"
	StatusStringBusy      = "busy"
	StatusStringOffline   = "offline"
	StatusStringUnhealthy = "unhealthy"
	StatusStringUnknown   = "unknown"
)

type Worker struct {
	Name                string
	URL                 *url.URL
	URLString           string
	WSURLString         string
	CheckInterval       time.Duration
	CheckTimeout        time.Duration
	Status              WorkerStatus
	LastProbe           time.Time
	LastLatency         time.Duration
	ConsecutiveFailures int
	BackoffMultiplier   int
	NextProbeTime       time.Time
}

func (w *Worker) GetURLString() string {
	return w.URLString
}

func (e *ErrWorkerNotFound) Error() string {
	return fmt.Sprintf("worker not found: %s", e.Name)
}

type WorkerStatus string

const (
	StatusHealthy   WorkerStatus = StatusStringHealthy
	StatusBusy      WorkerStatus = StatusStringBusy
	StatusOffline   WorkerStatus = StatusStringOffline
	StatusUnhealthy WorkerStatus = StatusStringUnhealthy
	StatusUnknown   WorkerStatus = StatusStringUnknown
)

// IsAvailable reports whether the worker can accept new jobs.
// Busy workers stay available; the per-worker job cap is enforced separately.
func (s WorkerStatus) IsAvailable() bool {
	switch s {
	case StatusHealthy, StatusBusy:
		return true
	default:
		return false
	}
}

func (s WorkerStatus) String() string {
	return string(s)
}

type ErrWorkerNotFound struct {
	Name string
}

type WorkerRepository interface {
	GetAll(ctx context.Context) ([]*Worker, error)
	GetAvailable(ctx context.Context) ([]*Worker, error)
	Get(ctx context.Context, name string) (*Worker, error)
	UpdateStatus(ctx context.Context, name string, status WorkerStatus) error
	UpdateWorker(ctx context.Context, worker *Worker) error
	Exists(ctx context.Context, name string) bool
}

type WorkerSelector interface {
	Select(ctx context.Context, workers []*Worker) (*Worker, error)
	Name() string
	IncrementJobs(worker *Worker)
	DecrementJobs(worker *Worker)
}
