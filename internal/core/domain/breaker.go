package domain

import "time"

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

func (s BreakerState) String() string {
	return string(s)
}

// BreakerSnapshot is a point-in-time view of one worker's circuit breaker,
// surfaced by the admin endpoints.
type BreakerSnapshot struct {
	Worker              string       `json:"worker"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	WindowSamples       int          `json:"window_samples"`
	WindowErrorRate     float64      `json:"window_error_rate_percent"`
	ResetTimeoutMs      int64        `json:"reset_timeout_ms"`
	NextAttemptAt       *time.Time   `json:"next_attempt_at,omitempty"`
	Forced              bool         `json:"forced"`
	LastTransitionAt    time.Time    `json:"last_transition_at"`
}
