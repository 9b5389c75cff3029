package util

import (
	"math"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/constants"
)

// CalculateExponentialBackoff returns baseDelay doubled per attempt and
// capped at maxDelay. A non-zero jitterPercent spreads the result across
// a window of that width centred on the computed delay, so simultaneous
// retriers drift apart.
func CalculateExponentialBackoff(attempt int, baseDelay time.Duration, maxDelay time.Duration, jitterPercent float64) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := math.Min(float64(baseDelay)*math.Pow(2, float64(attempt-1)), float64(maxDelay))

	if jitterPercent > 0 {
		// Wall-clock nanos stand in for math/rand here
		fraction := float64(time.Now().UnixNano()%1000)/1000.0 - 0.5
		delay += delay * jitterPercent * fraction
	}

	return time.Duration(delay)
}

// CalculateProbeBackoff computes the interval until the next health probe for
// a worker. Uses the worker's exponential multiplier (1, 2, 4, 8...) so
// persistently failing workers are probed less often.
func CalculateProbeBackoff(probeInterval time.Duration, backoffMultiplier int) time.Duration {
	if backoffMultiplier <= 0 {
		return probeInterval
	}

	backoffInterval := probeInterval * time.Duration(backoffMultiplier)

	if backoffInterval > constants.DefaultMaxProbeBackoff {
		backoffInterval = constants.DefaultMaxProbeBackoff
	}

	return backoffInterval
}
