package domain

import (
	"context"
	"time"
)

type ProbeResult struct {
	Error      error
	Status     WorkerStatus
	Latency    time.Duration
	ErrorType  ProbeErrorType
	StatusCode int
}

type ProbeErrorType int

const (
	ErrorTypeNone ProbeErrorType = iota
	ErrorTypeNetwork
	ErrorTypeTimeout
	ErrorTypeHTTPError
)

type HealthChecker interface {
	Check(ctx context.Context, worker *Worker) (ProbeResult, error)
	StartChecking(ctx context.Context) error
	StopChecking(ctx context.Context) error
}
