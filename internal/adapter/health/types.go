package health

import (
	"context"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/constants"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
)

const (
	DefaultProbeWorkerCount = 4
	DefaultProbeQueueSize   = 64

	DefaultProbeTimeout   = 5 * time.Second
	SlowResponseThreshold = 10 * time.Second

	HealthyStatusRangeStart = 200
	HealthyStatusRangeEnd   = 300

	// Cached health younger than this is trusted at dispatch time
	FreshnessWindow = 2 * time.Second

	// Tracker state for departed workers is reclaimed on this cadence
	TrackerPruneInterval = 5 * time.Minute

	MaxBackoffMultiplier = constants.DefaultMaxBackoffMultiplier
)

// probeJob is one scheduled health probe
type probeJob struct {
	worker *domain.Worker
	ctx    context.Context
}
