package app

import (
	"net/http"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/util"
	"github.com/signmaster-com/ComfyExpressMiddleware/pkg/format"
	"github.com/signmaster-com/ComfyExpressMiddleware/pkg/nerdstats"
)

// ProcessStatsResponse is the GET /internal/process payload: runtime, memory,
// GC and goroutine figures, pre-formatted for a human reading curl output.
type ProcessStatsResponse struct {
	Timestamp         time.Time          `json:"timestamp"`
	Memory            processMemory      `json:"memory"`
	GarbageCollection processGC          `json:"garbage_collection"`
	Goroutines        processGoroutines  `json:"goroutines"`
	Runtime           processRuntime     `json:"runtime"`
	Allocations       processAllocations `json:"allocations"`
}

type processMemory struct {
	HeapAlloc      string `json:"heap_alloc"`
	HeapSys        string `json:"heap_sys"`
	HeapInuse      string `json:"heap_inuse"`
	HeapReleased   string `json:"heap_released"`
	StackInuse     string `json:"stack_inuse"`
	TotalAlloc     string `json:"total_alloc"`
	MemoryPressure string `json:"memory_pressure"`
}

type processGC struct {
	LastGC        string  `json:"last_gc"`
	TotalGCTime   string  `json:"total_gc_time"`
	AvgGCPause    string  `json:"avg_gc_pause"`
	GCCPUFraction float64 `json:"gc_cpu_fraction"`
	NumGC         uint32  `json:"num_gc_cycles"`
}

type processGoroutines struct {
	HealthStatus string `json:"health_status"`
	Count        int    `json:"count"`
	CgoCalls     int64  `json:"cgo_calls"`
}

type processRuntime struct {
	Uptime     string `json:"uptime"`
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`
	GOMAXPROCS int    `json:"gomaxprocs"`
}

type processAllocations struct {
	TotalMallocs uint64 `json:"total_mallocs"`
	TotalFrees   uint64 `json:"total_frees"`
	NetObjects   int64  `json:"net_objects"`
}

func (a *Application) processStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := nerdstats.Snapshot(a.StartTime)

	writeJSON(w, http.StatusOK, ProcessStatsResponse{
		Timestamp:         time.Now(),
		Memory:            memorySection(stats),
		GarbageCollection: gcSection(stats),
		Goroutines:        goroutineSection(stats),
		Runtime:           runtimeSection(stats),
		Allocations:       allocationSection(stats),
	})
}

func memorySection(stats *nerdstats.NerdStats) processMemory {
	return processMemory{
		HeapAlloc:      format.Bytes(stats.HeapAlloc),
		HeapSys:        format.Bytes(stats.HeapSys),
		HeapInuse:      format.Bytes(stats.HeapInuse),
		HeapReleased:   format.Bytes(stats.HeapReleased),
		StackInuse:     format.Bytes(stats.StackInuse),
		TotalAlloc:     format.Bytes(stats.TotalAlloc),
		MemoryPressure: stats.GetMemoryPressure(),
	}
}

func gcSection(stats *nerdstats.NerdStats) processGC {
	section := processGC{
		LastGC:        "never",
		AvgGCPause:    nerdstats.CalculateAverageGCPause(stats),
		GCCPUFraction: stats.GCCPUFraction,
		NumGC:         stats.NumGC,
	}
	if !stats.LastGC.IsZero() {
		section.LastGC = stats.LastGC.Format(time.RFC3339)
		section.TotalGCTime = format.Duration(stats.TotalGCTime)
	}
	return section
}

func goroutineSection(stats *nerdstats.NerdStats) processGoroutines {
	return processGoroutines{
		HealthStatus: stats.GetGoroutineHealthStatus(),
		Count:        stats.NumGoroutines,
		CgoCalls:     stats.NumCgoCall,
	}
}

func runtimeSection(stats *nerdstats.NerdStats) processRuntime {
	return processRuntime{
		Uptime:     format.Duration(stats.Uptime),
		GoVersion:  stats.GoVersion,
		NumCPU:     stats.NumCPU,
		GOMAXPROCS: stats.GOMAXPROCS,
	}
}

func allocationSection(stats *nerdstats.NerdStats) processAllocations {
	return processAllocations{
		TotalMallocs: stats.Mallocs,
		TotalFrees:   stats.Frees,
		NetObjects:   util.SafeInt64Diff(stats.Mallocs, stats.Frees),
	}
}
