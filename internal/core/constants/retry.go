package constants

import "time"

// Retry and backoff constants
const (
	// Maximum backoff multiplier for health probe backoff (1, 2, 4, 8)
	DefaultMaxBackoffMultiplier = 8

	// Maximum interval between health probes of a failing worker
	DefaultMaxProbeBackoff = 5 * time.Minute

	// Stream redial schedule: base * 2^(attempt-1), capped
	DefaultStreamRedialBase     = 1 * time.Second
	DefaultStreamRedialMax      = 30 * time.Second
	DefaultStreamRedialAttempts = 5
)
