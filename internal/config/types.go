package config

import (
	"fmt"
	"net"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Filename  string          `yaml:"-"`
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
	Workers   WorkersConfig   `yaml:"workers"`
	Pool      PoolConfig      `yaml:"pool"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Health    HealthConfig    `yaml:"health"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Execution ExecutionConfig `yaml:"execution"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string              `yaml:"host"`
	RequestLimits   ServerRequestLimits `yaml:"request_limits"`
	TrustedProxies  TrustedProxyConfig  `yaml:"trusted_proxies"`
	Port            int                 `yaml:"port"`
	ReadTimeout     time.Duration       `yaml:"read_timeout"`
	WriteTimeout    time.Duration       `yaml:"write_timeout"`
	IdleTimeout     time.Duration       `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration       `yaml:"shutdown_timeout"`
	RequestLogging  bool                `yaml:"request_logging"`
}

// GetAddress returns the server address in host:port format
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ServerRequestLimits defines request size limits; uploads are multipart so
// the body limit bounds the image size too
type ServerRequestLimits struct {
	MaxBodySize   int64 `yaml:"max_body_size"`
	MaxHeaderSize int64 `yaml:"max_header_size"`
}

// TrustedProxyConfig controls client IP resolution behind proxies
type TrustedProxyConfig struct {
	CIDRs       []string     `yaml:"cidrs"`
	CIDRsParsed []*net.IPNet // to avoid parsing every time
	TrustProxy  bool         `yaml:"trust_proxy_headers"`
}

// WorkersConfig lists the ComfyUI fleet
type WorkersConfig struct {
	Hosts  []string `yaml:"hosts"` // host:port entries
	UseTLS bool     `yaml:"use_tls"`
}

// PoolConfig bounds the per-worker websocket stream pools
type PoolConfig struct {
	MaxStreamsPerWorker  int           `yaml:"max_streams_per_worker"`
	AcquireTimeout       time.Duration `yaml:"acquire_timeout"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	HealthTick           time.Duration `yaml:"health_tick"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

// SchedulerConfig bounds global and per-worker concurrency
type SchedulerConfig struct {
	MaxConcurrentGlobal int           `yaml:"max_concurrent_global"`
	MaxJobsPerWorker    int           `yaml:"max_jobs_per_worker"`
	TickInterval        time.Duration `yaml:"tick_interval"`
	ShutdownGrace       time.Duration `yaml:"shutdown_grace"`
	LoadBalancer        string        `yaml:"load_balancer"`
}

// JobsConfig controls job lifetime in the registry
type JobsConfig struct {
	JobTimeout        time.Duration `yaml:"job_timeout"`
	TerminalRetention time.Duration `yaml:"terminal_retention"`
}

// HealthConfig controls worker probing
type HealthConfig struct {
	ProbeInterval        time.Duration `yaml:"probe_interval"`
	DispatchProbeTimeout time.Duration `yaml:"dispatch_probe_timeout"`
	BackgroundTimeout    time.Duration `yaml:"bg_probe_timeout"`
}

// BreakerConfig tunes the per-worker circuit breakers
type BreakerConfig struct {
	FailureThreshold  int           `yaml:"failure_threshold"`
	SuccessThreshold  int           `yaml:"success_threshold"`
	ResetTimeout      time.Duration `yaml:"reset_timeout"`
	MaxResetTimeout   time.Duration `yaml:"max_reset_timeout"`
	VolumeThreshold   int           `yaml:"volume_threshold"`
	ErrorThresholdPct float64       `yaml:"error_threshold_pct"`
	WindowSize        time.Duration `yaml:"window_size"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
}

// ExecutionConfig controls the submission pipeline
type ExecutionConfig struct {
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	OutputFiles      bool          `yaml:"output_files"`
	OutputDir        string        `yaml:"output_dir"`
	WorkflowDir      string        `yaml:"workflow_dir"`
}

// MetricsConfig controls the periodic metrics snapshot file
type MetricsConfig struct {
	FilePath     string        `yaml:"file_path"`
	SaveInterval time.Duration `yaml:"save_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
	Theme string `yaml:"theme"`
}
