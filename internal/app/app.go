package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

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
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/router"
)

// Application wires the whole pipeline together: job registry, scheduler,
// load balancer, health monitor, circuit breakers, stream pools, executor,
// metrics and the northbound HTTP surface.
type Application struct {
	configMu sync.RWMutex
	config   *config.Config

	logger        logger.StyledLogger
	server        *http.Server
	routeRegistry *router.RouteRegistry

	registry  *jobs.Registry
	scheduler *scheduler.Scheduler
	discovery *discovery.StaticDiscoveryService
	monitor   ports.HealthMonitor
	breakers  ports.BreakerRegistry
	streams   ports.StreamLender
	collector ports.StatsCollector
	workers   domain.WorkerRepository
	bridge    *stats.Bridge
	saver     *stats.Saver

	errCh     chan error
	StartTime time.Time
}

// New builds the application from configuration. Construction is wiring
// only; nothing probes or dials until Start.
func New(startTime time.Time, styledLogger logger.StyledLogger) (*Application, error) {
	app := &Application{
		logger:    styledLogger,
		errCh:     make(chan error, 1),
		StartTime: startTime,
	}

	cfg, err := config.Load(app.onConfigReload)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	app.setConfig(cfg)

	registry := jobs.NewRegistry(cfg.Jobs, styledLogger)
	collector := stats.NewCollector()
	bridge := stats.NewBridge(registry, collector, styledLogger)

	breakers := health.NewBreakerRegistry(cfg.Breaker, styledLogger)
	repository := discovery.NewStaticWorkerRepository()
	monitor := health.NewHTTPHealthMonitor(repository, cfg.Health, breakers, styledLogger)
	discoveryService := discovery.NewStaticDiscoveryService(repository, monitor, styledLogger.GetUnderlying())

	balancerFactory := balancer.NewFactory(balancer.Dependencies{
		StatsCollector:   collector,
		Breakers:         breakers,
		Health:           monitor,
		MaxJobsPerWorker: cfg.Scheduler.MaxJobsPerWorker,
	})
	selector, err := balancerFactory.Create(cfg.Scheduler.LoadBalancer)
	if err != nil {
		return nil, fmt.Errorf("failed to create load balancer: %w", err)
	}

	streams := stream.NewManager(cfg.Pool, styledLogger)

	library, err := workflow.NewLibrary(cfg.Execution.WorkflowDir, styledLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow templates: %w", err)
	}

	upstream, err := comfy.NewClient(nil, styledLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}

	var sink ports.ResultSink
	if cfg.Execution.OutputFiles {
		sink = executor.NewFileSink(cfg.Execution.OutputDir, styledLogger)
	}

	exec := executor.NewExecutor(cfg.Execution, streams, library, upstream,
		breakers, monitor, registry, sink, styledLogger)
	sched := scheduler.NewScheduler(cfg.Scheduler, registry, repository, selector, exec, styledLogger)

	// a recovered worker means capacity came back; pull pending jobs forward
	monitor.SetRecoveryCallback(health.RecoveryCallbackFunc(
		func(ctx context.Context, worker *domain.Worker) error {
			sched.Kick()
			return nil
		}))

	saver := stats.NewSaver(collector, cfg.Metrics.FilePath, cfg.Metrics.SaveInterval, styledLogger)

	app.registry = registry
	app.scheduler = sched
	app.discovery = discoveryService
	app.monitor = monitor
	app.breakers = breakers
	app.streams = streams
	app.collector = collector
	app.workers = repository
	app.bridge = bridge
	app.saver = saver
	app.routeRegistry = router.NewRouteRegistry(styledLogger)

	app.server = &http.Server{
		Addr:           cfg.Server.GetAddress(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: int(cfg.Server.RequestLimits.MaxHeaderSize),
	}

	return app, nil
}

// Start brings the pipeline up: metrics first so every event lands somewhere,
// then the fleet, then the scheduler, then the HTTP surface.
func (a *Application) Start(ctx context.Context) error {
	go func() {
		select {
		case err := <-a.errCh:
			a.logger.Error("Server startup error", "error", err)
		case <-ctx.Done():
			return
		}
	}()

	cfg := a.getConfig()

	a.bridge.Start(ctx)
	a.saver.Start()

	if err := a.discovery.SeedWorkers(ctx, cfg); err != nil {
		return fmt.Errorf("failed to seed workers: %w", err)
	}
	if err := a.discovery.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker discovery: %w", err)
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	a.startWebServer()

	a.logger.Info("Application started", "bind", a.server.Addr)
	return nil
}

// Stop tears the pipeline down in dependency order: stop accepting work,
// drain in-flight jobs, stop probing, close the stream pools, then flush
// metrics so the final snapshot includes everything that just drained.
func (a *Application) Stop(ctx context.Context) error {
	cfg := a.getConfig()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Error("Scheduler shutdown error", "error", err)
	}

	if err := a.discovery.Stop(shutdownCtx); err != nil {
		a.logger.Error("Worker discovery shutdown error", "error", err)
	}

	if err := a.streams.Close(shutdownCtx); err != nil {
		a.logger.Error("Stream pool shutdown error", "error", err)
	}

	a.bridge.Stop()
	a.saver.Stop(shutdownCtx)

	a.registry.Close()

	a.logger.Info("Application stopped")
	return nil
}
