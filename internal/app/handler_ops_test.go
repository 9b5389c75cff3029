package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/version"
)

func TestHealthHandler(t *testing.T) {
	t.Run("empty fleet is unhealthy", func(t *testing.T) {
		ta := newTestApp(t, nil)
		ta.startScheduler(t)

		var resp healthResponse
		code := getJSON(t, ta, "/health", &resp)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", resp.Status)
		assert.True(t, resp.SchedulerRunning)
		assert.Zero(t, resp.WorkersTotal)
	})

	t.Run("stopped scheduler is unhealthy", func(t *testing.T) {
		ta := newTestApp(t, nil)
		ta.addWorker(t, "worker-a")

		var resp healthResponse
		code := getJSON(t, ta, "/health", &resp)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.False(t, resp.SchedulerRunning)
		assert.Equal(t, 1, resp.WorkersAvailable)
	})

	t.Run("available worker and running scheduler", func(t *testing.T) {
		ta := newTestApp(t, nil)
		ta.addWorker(t, "worker-b")
		ta.addWorker(t, "worker-a")
		ta.startScheduler(t)

		var resp healthResponse
		code := getJSON(t, ta, "/health", &resp)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, 2, resp.WorkersAvailable)
		assert.Equal(t, "2/2", resp.WorkersSummary)
		require.Len(t, resp.Workers, 2)
		assert.Equal(t, "worker-a", resp.Workers[0].Name, "workers sorted by name")
		assert.Equal(t, "closed", resp.Workers[0].Breaker)
		assert.Equal(t, "0ms", resp.Workers[0].Latency, "unprobed worker has zero latency")
	})
}

func TestStatusHandler(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.addWorker(t, "worker-a")
	ta.startScheduler(t)

	var resp statusResponse
	code := getJSON(t, ta, "/status", &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "running", resp.Status)
	assert.NotEmpty(t, resp.Uptime)
	require.Len(t, resp.Workers, 1)
	assert.NotNil(t, resp.Scheduler["running"])
	assert.NotNil(t, resp.Prober, "real monitor exposes prober stats")
	assert.NotNil(t, resp.Cache, "repository cache stats ride along")
}

func TestMetricsEndpoints(t *testing.T) {
	ta := newTestApp(t, nil)

	job := seedJob(t, ta, domain.JobKindRemoveBackground)
	completeJob(t, ta, job.ID, "worker-a")

	// counters arrive via the stats bridge, not synchronously
	waitFor(t, 2*time.Second, "bridge to record the completion", func() bool {
		return ta.app.collector.GetSnapshot().Global.Completed == 1
	})

	var snapshot ports.MetricsSnapshot
	code := getJSON(t, ta, "/api/metrics", &snapshot)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(1), snapshot.Global.Created)
	assert.Equal(t, int64(1), snapshot.Global.Completed)
	assert.Contains(t, snapshot.Workers, "worker-a")
	assert.Contains(t, snapshot.Kinds, "remove-background")
	assert.False(t, snapshot.SavedAt.IsZero())

	var condensed struct {
		ProcessingTime ports.LatencyStats            `json:"processing_time"`
		Global         ports.GlobalJobStats          `json:"global"`
		Kinds          map[string]ports.KindJobStats `json:"kinds"`
		SuccessRate    string                        `json:"success_rate"`
	}
	code = getJSON(t, ta, "/status/metrics", &condensed)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(1), condensed.Global.Completed)
	assert.Equal(t, int64(1), condensed.ProcessingTime.Count)
	assert.Equal(t, "100%", condensed.SuccessRate)
}

func TestSuccessRate(t *testing.T) {
	assert.Zero(t, successRate(ports.GlobalJobStats{}))
	assert.Equal(t, float64(75), successRate(ports.GlobalJobStats{Completed: 3, Failed: 1}))
}

func TestBreakerEndpoints(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.addWorker(t, "worker-a")

	rec := ta.do(httptest.NewRequest(http.MethodPost, "/api/circuit-breakers/ghost/open", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ta.do(httptest.NewRequest(http.MethodPost, "/api/circuit-breakers/worker-a/open", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot domain.BreakerSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, domain.BreakerOpen, snapshot.State)
	assert.True(t, snapshot.Forced)

	var listing struct {
		Count    int                      `json:"count"`
		Tripped  int                      `json:"tripped"`
		Breakers []domain.BreakerSnapshot `json:"breakers"`
	}
	code := getJSON(t, ta, "/api/circuit-breakers", &listing)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, listing.Count)
	assert.Equal(t, 1, listing.Tripped)

	rec = ta.do(httptest.NewRequest(http.MethodPost, "/api/circuit-breakers/worker-a/close", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, domain.BreakerClosed, snapshot.State)
}

func TestVersionHandler(t *testing.T) {
	ta := newTestApp(t, nil)

	var resp VersionResponse
	code := getJSON(t, ta, "/version", &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, version.Name, resp.Name)
	assert.Equal(t, version.Version, resp.Version)
	assert.ElementsMatch(t, []string{"remove-background", "upscale-image", "upscale-remove-bg"}, resp.JobKinds)
	assert.Equal(t, "v1", resp.API.Version)
}

func TestProcessStatsHandler(t *testing.T) {
	ta := newTestApp(t, nil)

	var resp ProcessStatsResponse
	code := getJSON(t, ta, "/internal/process", &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Greater(t, resp.Goroutines.Count, 0)
	assert.NotEmpty(t, resp.Runtime.GoVersion)
	assert.NotEmpty(t, resp.Memory.HeapAlloc)
}
