package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/docker/go-units"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/app/middleware"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/constants"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/util"
)

func (a *Application) startWebServer() {
	configServer := a.getConfig().Server

	a.logger.Info("Starting HTTP server...",
		"host", configServer.Host,
		"port", configServer.Port,
		"read_timeout", configServer.ReadTimeout,
		"write_timeout", configServer.WriteTimeout)

	if configServer.WriteTimeout > 0 {
		a.logger.Warn("Write timeout is set, synchronous jobs longer than this will be cut off. (default: 0s)",
			"write_timeout", configServer.WriteTimeout)
	}

	if configServer.RequestLimits.MaxBodySize > 0 || configServer.RequestLimits.MaxHeaderSize > 0 {
		a.logger.Info("Request size limits enabled",
			"max_body_size", units.HumanSize(float64(configServer.RequestLimits.MaxBodySize)),
			"max_header_size", units.HumanSize(float64(configServer.RequestLimits.MaxHeaderSize)))
	}

	if configServer.TrustedProxies.TrustProxy && len(configServer.TrustedProxies.CIDRs) > 0 {
		a.logger.Info("Trusting proxy headers for client IPs",
			"trusted_cidrs", strings.Join(configServer.TrustedProxies.CIDRs, ", "))
	}

	mux := http.NewServeMux()
	a.registerRoutes()
	a.routeRegistry.WireUp(mux)

	var handler http.Handler = mux
	handler = a.bodyLimitMiddleware(handler)
	if configServer.RequestLogging {
		handler = middleware.RequestLogging(a.logger)(handler)
	}
	a.server.Handler = handler

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", "error", err)
			a.errCh <- err
		}
	}()

	a.logger.Info("Started HTTP server", "bind", a.server.Addr)
}

func (a *Application) registerRoutes() {
	a.routeRegistry.RegisterWithMethod("/api/remove-background", a.removeBackgroundHandler, "Remove image background", "POST")
	a.routeRegistry.RegisterWithMethod("/api/upscale-image", a.upscaleImageHandler, "Upscale image", "POST")
	a.routeRegistry.RegisterWithMethod("/api/upscale-remove-bg", a.upscaleRemoveBGHandler, "Upscale then remove background", "POST")
	a.routeRegistry.RegisterWithMethod("/api/async/{kind}", a.asyncSubmitHandler, "Submit any job kind asynchronously", "POST")

	a.routeRegistry.RegisterWithMethod("/api/jobs/{id}/status", a.jobStatusHandler, "Job status", "GET")
	a.routeRegistry.RegisterWithMethod("/api/jobs/{id}/result", a.jobResultHandler, "Job result", "GET")
	a.routeRegistry.RegisterWithMethod("/api/jobs/list", a.jobListHandler, "List jobs with optional filters", "GET")
	a.routeRegistry.RegisterWithMethod("/api/jobs/{id}", a.jobDeleteHandler, "Delete a job", "DELETE")
	a.routeRegistry.RegisterWithMethod("/api/jobs/cleanup", a.jobCleanupHandler, "Evict terminal jobs now", "POST")
	a.routeRegistry.RegisterWithMethod("/api/jobs/stats", a.jobStatsHandler, "Job registry statistics", "GET")

	a.routeRegistry.RegisterWithMethod("/health", a.healthHandler, "Fleet health", "GET")
	a.routeRegistry.RegisterWithMethod("/status", a.statusHandler, "System status summary", "GET")
	a.routeRegistry.RegisterWithMethod("/status/metrics", a.statusMetricsHandler, "Processing time statistics", "GET")
	a.routeRegistry.RegisterWithMethod("/api/metrics", a.metricsHandler, "Full metrics snapshot", "GET")
	a.routeRegistry.RegisterWithMethod("/api/circuit-breakers", a.breakersHandler, "Circuit breaker states", "GET")
	a.routeRegistry.RegisterWithMethod("/api/circuit-breakers/{name}/open", a.breakerOpenHandler, "Force a breaker open", "POST")
	a.routeRegistry.RegisterWithMethod("/api/circuit-breakers/{name}/close", a.breakerCloseHandler, "Force a breaker closed", "POST")
	a.routeRegistry.RegisterWithMethod("/internal/process", a.processStatsHandler, "Process runtime statistics", "GET")
	a.routeRegistry.RegisterWithMethod("/version", a.versionHandler, "Version information", "GET")
}

// clientIP resolves the caller address, honouring proxy headers only when the
// request source sits inside a trusted CIDR.
func (a *Application) clientIP(r *http.Request) string {
	proxies := a.getConfig().Server.TrustedProxies
	return util.GetClientIP(r, proxies.TrustProxy, proxies.CIDRsParsed)
}

// bodyLimitMiddleware caps request bodies so an oversized upload fails fast
// instead of buffering; multipart parsing surfaces the cut as a 400.
func (a *Application) bodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		maxBody := a.getConfig().Server.RequestLimits.MaxBodySize
		if maxBody > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set(constants.ContentTypeHeader, constants.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorResponse is the envelope for every northbound failure.
type errorResponse struct {
	Success bool           `json:"success"`
	Error   string         `json:"error"`
	Kind    string         `json:"kind,omitempty"`
	JobID   string         `json:"job_id,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Success: false, Error: message, Kind: kind})
}
