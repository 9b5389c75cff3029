package app

import (
	"net/http"
	"sort"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/adapter/discovery"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/adapter/health"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
	"github.com/signmaster-com/ComfyExpressMiddleware/pkg/format"
)

type statusResponse struct {
	Status    string                   `json:"status"`
	Uptime    string                   `json:"uptime"`
	Workers   []workerHealthView       `json:"workers"`
	Scheduler map[string]any           `json:"scheduler"`
	Jobs      domain.JobStats          `json:"jobs"`
	Pools     []ports.PoolStats        `json:"pools"`
	Breakers  []domain.BreakerSnapshot `json:"breakers"`
	Prober    map[string]any           `json:"prober,omitempty"`
	Cache     map[string]any           `json:"cache,omitempty"`
}

// statusHandler is the operator's one-page overview of the whole pipeline.
func (a *Application) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workers, err := a.workers.GetAll(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, string(domain.ErrorKindInternal), err.Error())
		return
	}

	views := make([]workerHealthView, 0, len(workers))
	available := 0
	for _, worker := range workers {
		if worker.Status.IsAvailable() {
			available++
		}
		views = append(views, a.workerView(worker))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })

	status := "degraded"
	if available > 0 && a.scheduler.IsRunning() {
		status = "running"
	}

	pools := make([]ports.PoolStats, 0)
	for _, stats := range a.streams.Stats() {
		pools = append(pools, stats)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].Worker < pools[j].Worker })

	response := statusResponse{
		Status: status,
		Uptime: format.Duration(time.Since(a.StartTime)),
		Workers: views,
		Scheduler: map[string]any{
			"running":   a.scheduler.IsRunning(),
			"in_flight": a.scheduler.InFlight(),
		},
		Jobs:     a.registry.Stats(ctx),
		Pools:    pools,
		Breakers: a.breakers.Snapshots(),
	}

	if monitor, ok := a.monitor.(*health.HTTPHealthMonitor); ok {
		response.Prober = monitor.GetSchedulerStats()
	}
	if repo, ok := a.workers.(*discovery.StaticWorkerRepository); ok {
		response.Cache = repo.GetCacheStats()
	}

	writeJSON(w, http.StatusOK, response)
}

// statusMetricsHandler serves the latency view: counts, bounds, percentiles
// and the per-kind breakdown.
func (a *Application) statusMetricsHandler(w http.ResponseWriter, r *http.Request) {
	snapshot := a.collector.GetSnapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"processing_time": snapshot.ProcessingTime,
		"global":          snapshot.Global,
		"kinds":           snapshot.Kinds,
		"success_rate":    format.Percentage(successRate(snapshot.Global)),
	})
}

// successRate is completed over finished as a percentage; nothing finished
// reads as zero rather than NaN.
func successRate(global ports.GlobalJobStats) float64 {
	finished := global.Completed + global.Failed
	if finished == 0 {
		return 0
	}
	return float64(global.Completed) / float64(finished) * 100
}

// metricsHandler serves the full snapshot in the same shape the saver
// persists, so scraping the API and reading the file are interchangeable.
func (a *Application) metricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.collector.GetSnapshot())
}
