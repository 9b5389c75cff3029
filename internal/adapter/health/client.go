package health

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/constants"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/util"
)

// HTTPClient lets tests stub the probe transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProbeClient issues health probes against a worker's stats endpoint
type ProbeClient struct {
	client HTTPClient
}

func NewProbeClient(client HTTPClient) *ProbeClient {
	if client == nil {
		client = &http.Client{Timeout: DefaultProbeTimeout}
	}
	return &ProbeClient{client: client}
}

// Check performs a single probe against a worker using the worker's own
// probe timeout.
func (pc *ProbeClient) Check(ctx context.Context, worker *domain.Worker) (domain.ProbeResult, error) {
	timeout := worker.CheckTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return pc.CheckWithTimeout(ctx, worker, timeout)
}

// CheckWithTimeout probes with an explicit deadline; dispatch-time probes run
// tighter than background probes.
func (pc *ProbeClient) CheckWithTimeout(ctx context.Context, worker *domain.Worker, timeout time.Duration) (domain.ProbeResult, error) {
	start := time.Now()

	probeURL := util.ResolveURLPath(worker.URLString, constants.ComfyPathSystemStats)

	result := domain.ProbeResult{
		Status: domain.StatusUnknown,
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, probeURL, nil)
	if err != nil {
		result.Latency = time.Since(start)
		result.Error = err
		result.ErrorType = classifyProbeError(err)
		result.Status = determineStatus(0, result.Latency, err, result.ErrorType)
		return result, err
	}

	resp, err := pc.client.Do(req)
	result.Latency = time.Since(start)

	if err != nil {
		result.Error = err
		result.ErrorType = classifyProbeError(err)
		result.Status = determineStatus(0, result.Latency, err, result.ErrorType)
		return result, err
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	result.StatusCode = resp.StatusCode
	result.Status = determineStatus(resp.StatusCode, result.Latency, nil, domain.ErrorTypeNone)

	return result, nil
}

// classifyProbeError buckets a transport error for status promotion
func classifyProbeError(err error) domain.ProbeErrorType {
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.ErrorTypeTimeout
		}
		return domain.ErrorTypeNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorTypeTimeout
	}

	return domain.ErrorTypeHTTPError
}

// determineStatus converts probe response info into a worker status.
// Network and timeout errors mean offline. A reachable worker that answers
// slowly (over SlowResponseThreshold) counts as busy whatever the status
// code, since saturated ComfyUI instances respond late long before they
// fail outright. Otherwise 2xx is healthy and anything else unhealthy.
func determineStatus(statusCode int, latency time.Duration, err error, errorType domain.ProbeErrorType) domain.WorkerStatus {
	if err != nil {
		switch errorType {
		case domain.ErrorTypeNetwork, domain.ErrorTypeTimeout:
			return domain.StatusOffline
		default:
			return domain.StatusUnhealthy
		}
	}

	if statusCode >= HealthyStatusRangeStart && statusCode < HealthyStatusRangeEnd {
		if latency > SlowResponseThreshold {
			return domain.StatusBusy
		}
		return domain.StatusHealthy
	}

	if latency > SlowResponseThreshold {
		return domain.StatusBusy
	}
	return domain.StatusUnhealthy
}

// calculateBackoff picks the next probe interval. Failures double the
// multiplier up to MaxBackoffMultiplier; a single success snaps back to
// the configured interval.
func calculateBackoff(worker *domain.Worker, success bool) (time.Duration, int) {
	if success {
		return worker.CheckInterval, 1
	}

	multiplier := worker.BackoffMultiplier * 2
	if multiplier > MaxBackoffMultiplier {
		multiplier = MaxBackoffMultiplier
	}

	return util.CalculateProbeBackoff(worker.CheckInterval, multiplier), multiplier
}
