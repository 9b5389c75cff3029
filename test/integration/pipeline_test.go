package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/adapter/balancer"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/adapter/comfy"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/adapter/discovery"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/adapter/executor"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/adapter/health"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/adapter/jobs"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/adapter/scheduler"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/adapter/stats"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/adapter/stream"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/adapter/workflow"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/config"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
)

var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func testStyledLogger() logger.StyledLogger {
	return logger.NewPlainStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// fakeComfyWorker emulates the worker API surface the middleware drives: the
// websocket event stream, prompt submission, history and image download, plus
// the stats endpoint health probes hit.
type fakeComfyWorker struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu            sync.Mutex
	conns         map[string]*websocket.Conn // client id -> event stream
	graphs        [][]byte                   // submitted graphs in arrival order
	failExecution bool
}

func newFakeComfyWorker(t *testing.T) *fakeComfyWorker {
	t.Helper()

	f := &fakeComfyWorker{t: t, conns: make(map[string]*websocket.Conn)}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", f.handleWS)
	mux.HandleFunc("/prompt", f.handlePrompt)
	mux.HandleFunc("/history/", f.handleHistory)
	mux.HandleFunc("/view", f.handleView)
	mux.HandleFunc("/system_stats", f.handleSystemStats)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeComfyWorker) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	f.mu.Lock()
	f.conns[clientID] = conn
	f.mu.Unlock()

	// keep reading so client pings get pongs back
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (f *fakeComfyWorker) handlePrompt(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	clientID := gjson.GetBytes(body, "client_id").String()

	f.mu.Lock()
	f.graphs = append(f.graphs, body)
	promptID := fmt.Sprintf("prompt-%d", len(f.graphs))
	fail := f.failExecution
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"prompt_id":%q,"number":1,"node_errors":{}}`, promptID)

	go f.finish(promptID, clientID, fail)
}

// finish pushes the execution events for a submission onto the websocket the
// submitting client holds.
func (f *fakeComfyWorker) finish(promptID, clientID string, fail bool) {
	frames := []string{
		fmt.Sprintf(`{"type":"execution_start","data":{"prompt_id":%q}}`, promptID),
		fmt.Sprintf(`{"type":"executing","data":{"node":"4","prompt_id":%q}}`, promptID),
		fmt.Sprintf(`{"type":"executing","data":{"node":null,"prompt_id":%q}}`, promptID),
	}
	if fail {
		frames = []string{
			fmt.Sprintf(`{"type":"execution_error","data":{"prompt_id":%q,"node_id":"4","node_type":"UpscaleModelLoader","exception_type":"RuntimeError","exception_message":"CUDA out of memory"}}`, promptID),
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	conn := f.conns[clientID]
	if conn == nil {
		return
	}
	for _, frame := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
	}
}

func (f *fakeComfyWorker) handleHistory(w http.ResponseWriter, r *http.Request) {
	promptID := strings.TrimPrefix(r.URL.Path, "/history/")
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{%q:{"outputs":{"9":{"images":[{"filename":"cmw_00001_.png","subfolder":"cmw","type":"output"}]}}}}`, promptID)
}

func (f *fakeComfyWorker) handleView(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(pngBytes)
}

func (f *fakeComfyWorker) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"system":{"os":"posix","comfyui_version":"0.3.0"},"devices":[{"name":"cuda:0"}]}`))
}

func (f *fakeComfyWorker) worker(name string) *domain.Worker {
	parsed, err := url.Parse(f.server.URL)
	if err != nil {
		f.t.Fatalf("parse server url: %v", err)
	}
	return &domain.Worker{
		Name:      name,
		URL:       parsed,
		URLString: f.server.URL,
		Status:    domain.StatusHealthy,
		LastProbe: time.Now(),
	}
}

func (f *fakeComfyWorker) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.graphs)
}

func (f *fakeComfyWorker) lastGraph() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.graphs) == 0 {
		return nil
	}
	return f.graphs[len(f.graphs)-1]
}

// pipeline wires the real components end to end: registry, stats bridge,
// breakers, health monitor, websocket stream pools, workflow library, upstream
// client, executor and scheduler. Only the workers are fake.
type pipeline struct {
	registry  *jobs.Registry
	repo      *discovery.StaticWorkerRepository
	monitor   *health.HTTPHealthMonitor
	breakers  *health.BreakerRegistry
	collector *stats.Collector
	streams   *stream.Manager
	sched     *scheduler.Scheduler
}

func startPipeline(t *testing.T, workers ...*domain.Worker) *pipeline {
	t.Helper()
	styled := testStyledLogger()
	ctx := context.Background()

	registry := jobs.NewRegistry(config.JobsConfig{
		JobTimeout:        10 * time.Second,
		TerminalRetention: time.Minute,
	}, styled)

	collector := stats.NewCollector()
	bridge := stats.NewBridge(registry, collector, styled)
	bridge.Start(ctx)

	breakers := health.NewBreakerRegistry(config.BreakerConfig{FailureThreshold: 2}, styled)
	repo := discovery.NewStaticWorkerRepository()
	monitor := health.NewHTTPHealthMonitor(repo, config.HealthConfig{
		DispatchProbeTimeout: time.Second,
	}, breakers, styled)

	for _, worker := range workers {
		require.NoError(t, repo.Add(ctx, worker))
	}

	streams := stream.NewManager(config.PoolConfig{
		MaxStreamsPerWorker:  2,
		AcquireTimeout:       2 * time.Second,
		ConnectTimeout:       2 * time.Second,
		HealthTick:           100 * time.Millisecond,
		MaxReconnectAttempts: 1,
	}, styled)

	library, err := workflow.NewLibrary("", styled)
	require.NoError(t, err)
	upstream, err := comfy.NewClient(nil, styled)
	require.NoError(t, err)

	exec := executor.NewExecutor(config.ExecutionConfig{
		ExecutionTimeout: 5 * time.Second,
		SettleDelay:      5 * time.Millisecond,
	}, streams, library, upstream, breakers, monitor, registry, nil, styled)

	selector := balancer.NewLeastBusySelector(collector, breakers, monitor, 2)
	sched := scheduler.NewScheduler(config.SchedulerConfig{
		MaxConcurrentGlobal: 4,
		MaxJobsPerWorker:    2,
		TickInterval:        20 * time.Millisecond,
		ShutdownGrace:       2 * time.Second,
	}, registry, repo, selector, exec, styled)
	require.NoError(t, sched.Start(ctx))

	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Stop(stopCtx)
		_ = streams.Close(stopCtx)
		bridge.Stop()
		registry.Close()
	})

	return &pipeline{
		registry:  registry,
		repo:      repo,
		monitor:   monitor,
		breakers:  breakers,
		collector: collector,
		streams:   streams,
		sched:     sched,
	}
}

func (p *pipeline) submit(t *testing.T, kind domain.JobKind) *domain.Job {
	t.Helper()
	job, err := p.registry.Create(context.Background(), kind, domain.JobInput{
		Image:  "aGVsbG8td29ybGQ=",
		Format: domain.ImageFormatPNG,
	})
	require.NoError(t, err)
	return job
}

func (p *pipeline) awaitTerminal(t *testing.T, id string) *domain.Job {
	t.Helper()
	var final *domain.Job
	require.Eventually(t, func() bool {
		job, err := p.registry.Get(context.Background(), id)
		if err != nil {
			return false
		}
		if !job.State.Terminal() {
			return false
		}
		final = job
		return true
	}, 8*time.Second, 10*time.Millisecond, "job %s never reached a terminal state", id)
	return final
}

func TestPipeline_JobRunsTheFullWorkerProtocol(t *testing.T) {
	worker := newFakeComfyWorker(t)
	p := startPipeline(t, worker.worker("worker-1"))

	job := p.submit(t, domain.JobKindRemoveBackground)
	final := p.awaitTerminal(t, job.ID)

	require.Equal(t, domain.JobStateCompleted, final.State)
	assert.Equal(t, "worker-1", final.AssignedWorker)
	assert.Equal(t, "prompt-1", final.SubmissionID)

	require.NotNil(t, final.Result)
	assert.True(t, strings.HasPrefix(final.Result.Image, "data:image/png;base64,"))
	assert.Equal(t, "cmw_00001_.png", final.Result.Filename)
	assert.Equal(t, len(pngBytes), final.Result.Bytes)

	require.Equal(t, 1, worker.submissions())
	graph := worker.lastGraph()
	assert.Equal(t, "aGVsbG8td29ybGQ=", gjson.GetBytes(graph, "prompt.1.inputs.image").String(),
		"uploaded image must be written into the workflow input node")
	assert.NotEmpty(t, gjson.GetBytes(graph, "client_id").String())

	// completion flows through the stats bridge
	require.Eventually(t, func() bool {
		return p.collector.GetSnapshot().Global.Completed == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), p.collector.GetTotalActiveJobs())
}

func TestPipeline_LoadSpreadsAcrossWorkers(t *testing.T) {
	workerOne := newFakeComfyWorker(t)
	workerTwo := newFakeComfyWorker(t)
	p := startPipeline(t, workerOne.worker("worker-1"), workerTwo.worker("worker-2"))

	ids := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		ids = append(ids, p.submit(t, domain.JobKindUpscaleImage).ID)
	}

	for _, id := range ids {
		final := p.awaitTerminal(t, id)
		assert.Equal(t, domain.JobStateCompleted, final.State, "job %s: %+v", id, final.Error)
	}

	// per-worker cap is 2, so 4 concurrent jobs cannot pile onto one worker
	assert.Equal(t, 4, workerOne.submissions()+workerTwo.submissions())
	assert.Greater(t, workerOne.submissions(), 0, "worker-1 never dispatched")
	assert.Greater(t, workerTwo.submissions(), 0, "worker-2 never dispatched")
}

func TestPipeline_ExecutionErrorFailsJobWithoutTrippingBreaker(t *testing.T) {
	worker := newFakeComfyWorker(t)
	worker.failExecution = true
	p := startPipeline(t, worker.worker("worker-1"))

	job := p.submit(t, domain.JobKindUpscaleRemoveBG)
	final := p.awaitTerminal(t, job.ID)

	require.Equal(t, domain.JobStateFailed, final.State)
	require.NotNil(t, final.Error)
	assert.Equal(t, domain.ErrorKindUpstreamExecution, final.Error.Kind)
	assert.Equal(t, "CUDA out of memory", final.Error.Message)
	assert.Equal(t, "4", final.Error.Details["node_id"])

	// the worker answered; only its workflow failed
	assert.Equal(t, domain.BreakerClosed, p.breakers.ForWorker("worker-1").State())
	current, err := p.repo.Get(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusHealthy, current.Status)
}

func TestPipeline_UnreachableWorkerFailsTransportAndIsFlagged(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	parsed, err := url.Parse(deadURL)
	require.NoError(t, err)

	p := startPipeline(t, &domain.Worker{
		Name:      "worker-1",
		URL:       parsed,
		URLString: deadURL,
		Status:    domain.StatusHealthy,
		LastProbe: time.Now(),
	})

	job := p.submit(t, domain.JobKindRemoveBackground)
	final := p.awaitTerminal(t, job.ID)

	require.Equal(t, domain.JobStateFailed, final.State)
	require.NotNil(t, final.Error)
	assert.Equal(t, domain.ErrorKindTransport, final.Error.Kind)

	current, err := p.repo.Get(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnhealthy, current.Status)
}
