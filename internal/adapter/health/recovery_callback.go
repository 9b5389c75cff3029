package health

import (
	"context"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
)

// RecoveryCallback fires when a worker comes back from an unavailable state.
// The scheduler hooks this to kick dispatch the moment capacity returns.
type RecoveryCallback interface {
	OnWorkerRecovered(ctx context.Context, worker *domain.Worker) error
}

// RecoveryCallbackFunc adapts a plain function to the interface
type RecoveryCallbackFunc func(ctx context.Context, worker *domain.Worker) error

func (f RecoveryCallbackFunc) OnWorkerRecovered(ctx context.Context, worker *domain.Worker) error {
	return f(ctx, worker)
}

// NoOpRecoveryCallback ignores recoveries; used before wiring completes
type NoOpRecoveryCallback struct{}

func (n NoOpRecoveryCallback) OnWorkerRecovered(ctx context.Context, worker *domain.Worker) error {
	return nil
}
