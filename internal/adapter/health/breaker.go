package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/config"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
)

var (
	ErrBreakerOpen = errors.New("circuit breaker is open")
)

// TransitionListener observes breaker state changes. Listeners run under the
// breaker's lock and must not call back into it.
type TransitionListener func(worker string, from, to domain.BreakerState)

// breakerSample is one guarded-call outcome inside the rolling window
type breakerSample struct {
	at      time.Time
	failure bool
}

// Breaker guards one worker's submission path. It opens after consecutive
// failures or when the rolling error rate crosses the configured threshold,
// admits a single probe at a time while half-open, and grows its reset
// timeout on every reopen.
//
// One mutex covers state, counters and the rolling window; calls are short
// so contention stays negligible at this fleet size.
type Breaker struct {
	worker       string
	cfg          config.BreakerConfig
	onTransition TransitionListener

	mu                   sync.Mutex
	state                domain.BreakerState
	consecutiveFailures  int
	consecutiveSuccesses int
	currentResetTimeout  time.Duration
	nextAttemptAt        time.Time
	halfOpenInFlight     bool
	forced               bool
	lastTransitionAt     time.Time
	window               []breakerSample
}

func NewBreaker(worker string, cfg config.BreakerConfig, onTransition TransitionListener) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 15 * time.Second
	}
	if cfg.MaxResetTimeout < cfg.ResetTimeout {
		cfg.MaxResetTimeout = cfg.ResetTimeout
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 60 * time.Second
	}

	return &Breaker{
		worker:              worker,
		cfg:                 cfg,
		onTransition:        onTransition,
		state:               domain.BreakerClosed,
		currentResetTimeout: cfg.ResetTimeout,
		lastTransitionAt:    time.Now(),
	}
}

// Allow reports whether a guarded call may proceed. While half-open it hands
// out a single ticket; OnSuccess or OnFailure must follow to return it.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refreshLocked(time.Now())

	switch b.state {
	case domain.BreakerClosed:
		return nil
	case domain.BreakerHalfOpen:
		if b.halfOpenInFlight {
			return ErrBreakerOpen
		}
		b.halfOpenInFlight = true
		return nil
	default:
		return ErrBreakerOpen
	}
}

// OnSuccess records a successful guarded call
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case domain.BreakerHalfOpen:
		b.halfOpenInFlight = false
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.closeLocked(now)
		}
	case domain.BreakerClosed:
		b.consecutiveFailures = 0
		b.recordSampleLocked(now, false)
	default:
		// Stale result from a call admitted before the trip; ignore
	}
}

// OnFailure records a failed guarded call
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case domain.BreakerHalfOpen:
		b.halfOpenInFlight = false
		b.consecutiveSuccesses = 0
		// Any half-open failure reopens with a grown timeout
		b.growResetTimeoutLocked()
		b.tripLocked(now)
	case domain.BreakerClosed:
		b.consecutiveFailures++
		b.recordSampleLocked(now, true)
		if b.shouldTripLocked(now) {
			b.tripLocked(now)
		}
	default:
	}
}

// Execute runs op under the breaker with the per-call timeout applied
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	callCtx := ctx
	if b.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}

	if err := op(callCtx); err != nil {
		b.OnFailure()
		return err
	}

	b.OnSuccess()
	return nil
}

// State returns the current state, applying the open-to-half-open timer
func (b *Breaker) State() domain.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refreshLocked(time.Now())
	return b.state
}

// Snapshot returns a point-in-time view for the admin surface
func (b *Breaker) Snapshot() domain.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.refreshLocked(now)
	b.pruneWindowLocked(now)

	samples := len(b.window)
	failures := 0
	for _, s := range b.window {
		if s.failure {
			failures++
		}
	}
	errorRate := float64(0)
	if samples > 0 {
		errorRate = float64(failures) / float64(samples) * 100
	}

	snapshot := domain.BreakerSnapshot{
		Worker:              b.worker,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		WindowSamples:       samples,
		WindowErrorRate:     errorRate,
		ResetTimeoutMs:      b.currentResetTimeout.Milliseconds(),
		Forced:              b.forced,
		LastTransitionAt:    b.lastTransitionAt,
	}

	if b.state == domain.BreakerOpen && !b.nextAttemptAt.IsZero() {
		next := b.nextAttemptAt
		snapshot.NextAttemptAt = &next
	}

	return snapshot
}

// ForceOpen pins the breaker open until ForceClose. Counters are bypassed
// but the transition event still fires.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.forced = true
	b.halfOpenInFlight = false
	b.consecutiveSuccesses = 0
	b.nextAttemptAt = time.Time{}
	b.transitionLocked(domain.BreakerOpen, time.Now())
}

// ForceClose closes the breaker and resumes normal operation
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.forced = false
	b.closeLocked(time.Now())
}

// refreshLocked applies the open-to-half-open transition once the reset
// timeout has elapsed. Forced-open breakers stay pinned.
func (b *Breaker) refreshLocked(now time.Time) {
	if b.state != domain.BreakerOpen || b.forced {
		return
	}
	if !b.nextAttemptAt.IsZero() && !now.Before(b.nextAttemptAt) {
		b.consecutiveSuccesses = 0
		b.halfOpenInFlight = false
		b.transitionLocked(domain.BreakerHalfOpen, now)
	}
}

func (b *Breaker) shouldTripLocked(now time.Time) bool {
	if b.consecutiveFailures >= b.cfg.FailureThreshold {
		return true
	}

	if b.cfg.VolumeThreshold <= 0 || b.cfg.ErrorThresholdPct <= 0 {
		return false
	}

	b.pruneWindowLocked(now)
	samples := len(b.window)
	if samples < b.cfg.VolumeThreshold {
		return false
	}

	failures := 0
	for _, s := range b.window {
		if s.failure {
			failures++
		}
	}

	return float64(failures)/float64(samples)*100 >= b.cfg.ErrorThresholdPct
}

func (b *Breaker) tripLocked(now time.Time) {
	b.halfOpenInFlight = false
	b.consecutiveSuccesses = 0
	b.nextAttemptAt = now.Add(b.currentResetTimeout)
	b.transitionLocked(domain.BreakerOpen, now)
}

func (b *Breaker) closeLocked(now time.Time) {
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.halfOpenInFlight = false
	b.currentResetTimeout = b.cfg.ResetTimeout
	b.nextAttemptAt = time.Time{}
	b.window = nil
	b.transitionLocked(domain.BreakerClosed, now)
}

func (b *Breaker) growResetTimeoutLocked() {
	grown := time.Duration(float64(b.currentResetTimeout) * 1.5)
	if grown > b.cfg.MaxResetTimeout {
		grown = b.cfg.MaxResetTimeout
	}
	b.currentResetTimeout = grown
}

func (b *Breaker) recordSampleLocked(now time.Time, failure bool) {
	b.pruneWindowLocked(now)
	b.window = append(b.window, breakerSample{at: now, failure: failure})
}

func (b *Breaker) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.WindowSize)
	keep := 0
	for keep < len(b.window) && b.window[keep].at.Before(cutoff) {
		keep++
	}
	if keep > 0 {
		b.window = append(b.window[:0], b.window[keep:]...)
	}
}

func (b *Breaker) transitionLocked(to domain.BreakerState, now time.Time) {
	from := b.state
	if from == to {
		return
	}

	b.state = to
	b.lastTransitionAt = now

	if b.onTransition != nil {
		b.onTransition(b.worker, from, to)
	}
}
