package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/config"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/theme"
)

const (
	DefaultInitialProbeTimeout = 30 * time.Second
)

// WorkerRepositoryAdmin extends the read-side repository with the mutation
// seeding needs. Worker-list changes beyond the initial seed take a restart.
type WorkerRepositoryAdmin interface {
	domain.WorkerRepository
	Add(ctx context.Context, worker *domain.Worker) error
}

// StaticDiscoveryService seeds the worker fleet from configuration and owns
// the prober lifecycle. Workers are named worker-1..worker-n in config order
// so restarts keep stable identities.
type StaticDiscoveryService struct {
	repository          WorkerRepositoryAdmin
	checker             domain.HealthChecker
	logger              *slog.Logger
	initialProbeTimeout time.Duration
}

func NewStaticDiscoveryService(
	repository WorkerRepositoryAdmin,
	checker domain.HealthChecker,
	logger *slog.Logger,
) *StaticDiscoveryService {
	return &StaticDiscoveryService{
		repository:          repository,
		checker:             checker,
		logger:              logger,
		initialProbeTimeout: DefaultInitialProbeTimeout,
	}
}

// WorkerName returns the stable name for the nth configured host (1-based).
func WorkerName(n int) string {
	return fmt.Sprintf("worker-%d", n)
}

// BuildWorkers converts configured host entries into workers. Invalid hosts
// fail the whole build; a fleet with a phantom worker is worse than a
// startup error.
func BuildWorkers(cfg *config.Config) ([]*domain.Worker, error) {
	workers := make([]*domain.Worker, 0, len(cfg.Workers.Hosts))

	seen := make(map[string]struct{}, len(cfg.Workers.Hosts))
	for i, host := range cfg.Workers.Hosts {
		host = strings.TrimSpace(host)
		baseURL := cfg.WorkerBaseURL(host)

		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Host == "" {
			return nil, fmt.Errorf("invalid worker host %q: %w", host, err)
		}
		if _, dup := seen[parsed.Host]; dup {
			return nil, fmt.Errorf("duplicate worker host %q", host)
		}
		seen[parsed.Host] = struct{}{}

		wsURL := *parsed
		if wsURL.Scheme == "https" {
			wsURL.Scheme = "wss"
		} else {
			wsURL.Scheme = "ws"
		}
		wsURL.Path = "/ws"

		workers = append(workers, &domain.Worker{
			Name:              WorkerName(i + 1),
			URL:               parsed,
			URLString:         baseURL,
			WSURLString:       wsURL.String(),
			CheckInterval:     cfg.Health.ProbeInterval,
			CheckTimeout:      cfg.Health.BackgroundTimeout,
			Status:            domain.StatusUnknown,
			BackoffMultiplier: 1,
			NextProbeTime:     time.Now(),
		})
	}

	return workers, nil
}

// SeedWorkers registers the configured fleet in the repository.
func (s *StaticDiscoveryService) SeedWorkers(ctx context.Context, cfg *config.Config) error {
	workers, err := BuildWorkers(cfg)
	if err != nil {
		return err
	}

	for _, worker := range workers {
		if err := s.repository.Add(ctx, worker); err != nil {
			return fmt.Errorf("failed to add worker %s: %w", worker.Name, err)
		}
		s.logger.Info("Registered worker", "worker", worker.Name, "url", worker.URLString)
	}

	return nil
}

// GetWorkers returns all registered workers
func (s *StaticDiscoveryService) GetWorkers(ctx context.Context) ([]*domain.Worker, error) {
	return s.repository.GetAll(ctx)
}

// GetAvailableWorkers returns workers able to accept jobs
func (s *StaticDiscoveryService) GetAvailableWorkers(ctx context.Context) ([]*domain.Worker, error) {
	return s.repository.GetAvailable(ctx)
}

// performInitialProbes probes every worker synchronously on startup so the
// fleet view is populated before the scheduler starts dispatching.
func (s *StaticDiscoveryService) performInitialProbes(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, s.initialProbeTimeout)
	defer cancel()

	workers, err := s.repository.GetAll(probeCtx)
	if err != nil {
		return fmt.Errorf("failed to get workers for initial probe: %w", err)
	}

	workerCount := len(workers)
	if workerCount == 0 {
		s.logger.Warn("No workers configured for health probing")
		return nil
	}

	s.logger.Info(fmt.Sprintf("Probing %s workers",
		theme.Default().Counts.Sprintf("(%d)", workerCount)))

	var wg sync.WaitGroup
	probeResults := make(chan struct {
		worker *domain.Worker
		result domain.ProbeResult
		err    error
	}, len(workers))

	for _, worker := range workers {
		wg.Add(1)
		go func(w *domain.Worker) {
			defer wg.Done()

			result, perr := s.checker.Check(probeCtx, w)

			probeResults <- struct {
				worker *domain.Worker
				result domain.ProbeResult
				err    error
			}{w, result, perr}
		}(worker)
	}

	wg.Wait()
	close(probeResults)

	healthyCount := 0
	unhealthyCount := 0

	for result := range probeResults {
		if result.err != nil {
			s.logger.Warn("Initial probe failed",
				"worker", result.worker.Name,
				"url", result.worker.URLString,
				"error", result.err)
		}

		if err := s.repository.UpdateStatus(probeCtx, result.worker.Name, result.result.Status); err != nil {
			s.logger.Error("Failed to update worker status",
				"worker", result.worker.Name,
				"error", err)
			continue
		}

		if result.result.Status.IsAvailable() {
			healthyCount++
			s.logger.Info("Worker is healthy",
				"worker", result.worker.Name,
				"latency", result.result.Latency)
		} else {
			unhealthyCount++
			s.logger.Warn("Worker is unavailable",
				"worker", result.worker.Name,
				"status", result.result.Status.String())
		}
	}

	s.logger.Info("Initial probes complete",
		"healthy", healthyCount,
		"unavailable", unhealthyCount)

	return nil
}

// Start seeds nothing (seeding happens at construction time via SeedWorkers);
// it runs the initial probes and starts periodic checking. A fleet with no
// healthy workers is allowed: jobs queue as pending until one recovers.
func (s *StaticDiscoveryService) Start(ctx context.Context) error {
	s.logger.Info("Starting worker discovery...")

	if err := s.performInitialProbes(ctx); err != nil {
		s.logger.Warn("Initial probes failed, continuing with periodic checks",
			"error", err)
	}

	if err := s.checker.StartChecking(ctx); err != nil {
		return fmt.Errorf("failed to start health checking: %w", err)
	}

	s.logger.Info("Worker discovery started")
	return nil
}

// Stop stops periodic health checking
func (s *StaticDiscoveryService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping worker discovery...")

	if err := s.checker.StopChecking(ctx); err != nil {
		return fmt.Errorf("failed to stop health checking: %w", err)
	}

	s.logger.Info("Worker discovery stopped")
	return nil
}

// SetInitialProbeTimeout allows configuring the startup probe timeout
func (s *StaticDiscoveryService) SetInitialProbeTimeout(timeout time.Duration) {
	s.initialProbeTimeout = timeout
}
