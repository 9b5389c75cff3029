package app

import (
	"net/http"
	"sort"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/pkg/format"
)

type workerHealthView struct {
	Name                string `json:"name"`
	URL                 string `json:"url"`
	Status              string `json:"status"`
	LastProbe           string `json:"last_probe"`
	Latency             string `json:"latency"`
	LatencyMs           int64  `json:"latency_ms"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Breaker             string `json:"breaker"`
}

type healthResponse struct {
	Status           string             `json:"status"`
	SchedulerRunning bool               `json:"scheduler_running"`
	WorkersAvailable int                `json:"workers_available"`
	WorkersTotal     int                `json:"workers_total"`
	WorkersSummary   string             `json:"workers_summary"`
	Workers          []workerHealthView `json:"workers"`
	Jobs             domain.JobStats    `json:"jobs"`
	InFlight         int64              `json:"in_flight"`
	UptimeSeconds    float64            `json:"uptime_seconds"`
}

// healthHandler reports readiness: 200 only while at least one worker can
// take jobs and the scheduler is dispatching. Everything else in the body is
// for the operator reading it.
func (a *Application) healthHandler(w http.ResponseWriter, r *http.Request) {
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

	schedulerRunning := a.scheduler.IsRunning()
	healthy := available >= 1 && schedulerRunning

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status:           status,
		SchedulerRunning: schedulerRunning,
		WorkersAvailable: available,
		WorkersTotal:     len(workers),
		WorkersSummary:   format.WorkersUp(available, len(workers)),
		Workers:          views,
		Jobs:             a.registry.Stats(ctx),
		InFlight:         a.scheduler.InFlight(),
		UptimeSeconds:    time.Since(a.StartTime).Seconds(),
	})
}

func (a *Application) workerView(worker *domain.Worker) workerHealthView {
	breakerState := domain.BreakerClosed
	if breaker, ok := a.breakers.Get(worker.Name); ok {
		breakerState = breaker.State()
	}

	lastProbe := "never"
	if !worker.LastProbe.IsZero() {
		lastProbe = format.TimeAgo(worker.LastProbe)
	}

	return workerHealthView{
		Name:                worker.Name,
		URL:                 worker.URLString,
		Status:              worker.Status.String(),
		LastProbe:           lastProbe,
		Latency:             format.Latency(worker.LastLatency.Milliseconds()),
		LatencyMs:           worker.LastLatency.Milliseconds(),
		ConsecutiveFailures: worker.ConsecutiveFailures,
		Breaker:             breakerState.String(),
	}
}
