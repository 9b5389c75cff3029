// Package nerdstats snapshots Go runtime counters for the process stats
// endpoint and the shutdown report: heap and stack usage, GC activity,
// goroutine counts and build metadata.
package nerdstats

import (
	"runtime"
	"runtime/debug"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/pkg/format"
)

// Pressure and goroutine thresholds behind GetMemoryPressure and
// GetGoroutineHealthStatus. Goroutine counts assume a few streams and
// probes per worker plus the HTTP pool.
const (
	heapPressureHigh   = 0.9
	heapPressureMedium = 0.7
	allocRatioHigh     = 1.5
	allocRatioMedium   = 1.2

	goroutinesConcerning = 1000
	goroutinesElevated   = 500
	goroutinesNormal     = 100
)

type NerdStats struct {
	// Heap and stack, bytes (see runtime.MemStats)
	HeapAlloc    uint64
	HeapSys      uint64
	HeapInuse    uint64
	HeapReleased uint64
	StackInuse   uint64
	StackSys     uint64
	TotalAlloc   uint64
	Mallocs      uint64
	Frees        uint64

	// Garbage collection
	NumGC         uint32
	LastGC        time.Time
	TotalGCTime   time.Duration
	GCCPUFraction float64

	// Scheduling
	NumGoroutines int
	NumCgoCall    int64

	// Process
	NumCPU     int
	GOMAXPROCS int
	GoVersion  string
	Uptime     time.Duration

	BuildInfo *debug.BuildInfo
}

func Snapshot(startTime time.Time) *NerdStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := &NerdStats{
		HeapAlloc:    m.HeapAlloc,
		HeapSys:      m.HeapSys,
		HeapInuse:    m.HeapInuse,
		HeapReleased: m.HeapReleased,
		StackInuse:   m.StackInuse,
		StackSys:     m.StackSys,
		TotalAlloc:   m.TotalAlloc,
		Mallocs:      m.Mallocs,
		Frees:        m.Frees,

		NumGC:         m.NumGC,
		GCCPUFraction: m.GCCPUFraction,

		NumGoroutines: runtime.NumGoroutine(),
		NumCgoCall:    runtime.NumCgoCall(),

		NumCPU:     runtime.NumCPU(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
		GoVersion:  runtime.Version(),
		Uptime:     time.Since(startTime),
	}

	// LastGC is zero until the first cycle; keep the time fields zero too so
	// callers can render "never"
	if m.LastGC > 0 {
		stats.LastGC = time.Unix(0, int64(m.LastGC))
		stats.TotalGCTime = time.Duration(m.PauseTotalNs)
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		stats.BuildInfo = info
	}

	return stats
}

// GetMemoryPressure classifies heap usage as LOW, MEDIUM or HIGH from the
// in-use/reserved ratio and the malloc/free balance.
func (ps *NerdStats) GetMemoryPressure() string {
	heapRatio := float64(ps.HeapInuse) / float64(ps.HeapSys)
	allocRatio := float64(ps.Mallocs) / float64(ps.Frees+1)

	switch {
	case heapRatio > heapPressureHigh && allocRatio > allocRatioHigh:
		return "HIGH"
	case heapRatio > heapPressureMedium || allocRatio > allocRatioMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// GetGoroutineHealthStatus buckets the goroutine count.
func (ps *NerdStats) GetGoroutineHealthStatus() string {
	switch {
	case ps.NumGoroutines > goroutinesConcerning:
		return "CONCERNING"
	case ps.NumGoroutines > goroutinesElevated:
		return "ELEVATED"
	case ps.NumGoroutines > goroutinesNormal:
		return "NORMAL"
	default:
		return "HEALTHY"
	}
}

// GetBuildInfoSummary extracts the module path, version and the build
// settings worth logging.
func (ps *NerdStats) GetBuildInfoSummary() map[string]string {
	summary := make(map[string]string)
	if ps.BuildInfo == nil {
		return summary
	}

	summary["path"] = ps.BuildInfo.Path
	summary["main_version"] = ps.BuildInfo.Main.Version

	for _, setting := range ps.BuildInfo.Settings {
		switch setting.Key {
		case "CGO_ENABLED", "GOARCH", "GOOS", "vcs.revision", "vcs.time":
			summary[setting.Key] = setting.Value
		}
	}

	return summary
}

func CalculateAverageGCPause(stats *NerdStats) string {
	if stats.NumGC == 0 {
		return "N/A"
	}
	return format.Duration(stats.TotalGCTime / time.Duration(stats.NumGC))
}
