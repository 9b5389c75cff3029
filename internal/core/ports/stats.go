package ports

import (
	"time"
)

type StatsCollector interface {
	RecordJobCreated(kind string)
	RecordJobCompleted(worker, kind string, processingTime time.Duration)
	RecordJobFailed(worker, kind, errorKind, message string)
	RecordDispatchGateFailure(worker string)
	RecordJobDelta(worker string, delta int) // +1 dispatch, -1 terminal

	GetActiveJobs() map[string]int64
	GetActiveJobCount(worker string) int64
	GetTotalActiveJobs() int64
	GetSnapshot() MetricsSnapshot
}

// MetricsSnapshot is the full metrics view served by the API and persisted
// periodically to disk.
type MetricsSnapshot struct {
	SavedAt        time.Time                 `json:"saved_at"`
	UptimeSeconds  float64                   `json:"uptime_seconds"`
	Global         GlobalJobStats            `json:"global"`
	Workers        map[string]WorkerJobStats `json:"workers"`
	Kinds          map[string]KindJobStats   `json:"kinds"`
	ProcessingTime LatencyStats              `json:"processing_time"`
	RecentErrors   []ErrorSample             `json:"recent_errors"`
}

type GlobalJobStats struct {
	Created      int64 `json:"created"`
	Completed    int64 `json:"completed"`
	Failed       int64 `json:"failed"`
	Active       int64 `json:"active"`
	GateFailures int64 `json:"dispatch_gate_failures"`
}

type WorkerJobStats struct {
	Name            string    `json:"name"`
	Completed       int64     `json:"completed"`
	Failed          int64     `json:"failed"`
	Active          int64     `json:"active"`
	GateFailures    int64     `json:"dispatch_gate_failures"`
	AvgProcessingMs int64     `json:"avg_processing_ms"`
	MinProcessingMs int64     `json:"min_processing_ms"`
	MaxProcessingMs int64     `json:"max_processing_ms"`
	LastUsed        time.Time `json:"last_used"`
	SuccessRate     float64   `json:"success_rate_percent"`
}

type KindJobStats struct {
	Kind            string `json:"kind"`
	Created         int64  `json:"created"`
	Completed       int64  `json:"completed"`
	Failed          int64  `json:"failed"`
	AvgProcessingMs int64  `json:"avg_processing_ms"`
}

type LatencyStats struct {
	Count int64 `json:"count"`
	MinMs int64 `json:"min_ms"`
	MaxMs int64 `json:"max_ms"`
	AvgMs int64 `json:"avg_ms"`
	P50Ms int64 `json:"p50_ms"`
	P90Ms int64 `json:"p90_ms"`
	P95Ms int64 `json:"p95_ms"`
	P99Ms int64 `json:"p99_ms"`
}

type ErrorSample struct {
	Timestamp time.Time `json:"timestamp"`
	Worker    string    `json:"worker"`
	Kind      string    `json:"kind"`
	ErrorKind string    `json:"error_kind"`
	Message   string    `json:"message"`
}
