package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/util"
)

const (
	DefaultPort = 3000
	DefaultHost = "localhost"

	MinStreamsPerWorker = 1
	MaxStreamsPerWorker = 10
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second, // result payloads are whole images
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestLogging:  true,
			RequestLimits: ServerRequestLimits{
				MaxBodySize:   50 << 20, // 50MB uploads
				MaxHeaderSize: 1 << 20,
			},
		},
		Workers: WorkersConfig{
			Hosts: []string{"localhost:8188"},
		},
		Pool: PoolConfig{
			MaxStreamsPerWorker:  3,
			AcquireTimeout:       30 * time.Second,
			ConnectTimeout:       10 * time.Second,
			HealthTick:           30 * time.Second,
			MaxReconnectAttempts: 5,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentGlobal: 4,
			MaxJobsPerWorker:    2,
			TickInterval:        1 * time.Second,
			ShutdownGrace:       30 * time.Second,
			LoadBalancer:        "least-busy",
		},
		Jobs: JobsConfig{
			JobTimeout:        300 * time.Second,
			TerminalRetention: 30 * time.Second,
		},
		Health: HealthConfig{
			ProbeInterval:        30 * time.Second,
			DispatchProbeTimeout: 2 * time.Second,
			BackgroundTimeout:    5 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold:  3,
			SuccessThreshold:  2,
			ResetTimeout:      15 * time.Second,
			MaxResetTimeout:   120 * time.Second,
			VolumeThreshold:   10,
			ErrorThresholdPct: 50,
			WindowSize:        60 * time.Second,
			CallTimeout:       30 * time.Second,
		},
		Execution: ExecutionConfig{
			ExecutionTimeout: 60 * time.Second,
			SettleDelay:      1 * time.Second,
			OutputFiles:      false,
			OutputDir:        "./outputs",
		},
		Metrics: MetricsConfig{
			SaveInterval: 300 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
			Theme: "default",
		},
	}
}

// Load reads configuration from file and environment variables. When the
// config file changes on disk, onReload is invoked with a freshly parsed
// configuration; a nil onReload disables watching.
func Load(onReload func(*Config)) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("CMW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, check if we have CMW_CONFIG_FILE env var
		if configFile := os.Getenv("CMW_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	config, err := unmarshalAndValidate()
	if err != nil {
		return nil, err
	}

	if onReload != nil {
		viper.OnConfigChange(func(in fsnotify.Event) {
			reloaded, rerr := unmarshalAndValidate()
			if rerr != nil {
				// Keep running on the previous configuration
				return
			}
			reloaded.Filename = in.Name
			onReload(reloaded)
		})
		viper.WatchConfig()
	}

	config.Filename = viper.ConfigFileUsed()
	return config, nil
}

func unmarshalAndValidate() (*Config, error) {
	config := DefaultConfig()
	// The config structs carry yaml tags; the decoder matches on mapstructure
	// tags unless told otherwise
	if err := viper.Unmarshal(config, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate clamps out-of-range values and pre-parses derived fields. An empty
// worker list is allowed; the fleet is simply degraded until workers appear.
func (c *Config) Validate() error {
	if c.Pool.MaxStreamsPerWorker < MinStreamsPerWorker {
		c.Pool.MaxStreamsPerWorker = MinStreamsPerWorker
	}
	if c.Pool.MaxStreamsPerWorker > MaxStreamsPerWorker {
		c.Pool.MaxStreamsPerWorker = MaxStreamsPerWorker
	}

	if c.Scheduler.MaxConcurrentGlobal < 1 {
		return fmt.Errorf("scheduler.max_concurrent_global must be at least 1, got %d", c.Scheduler.MaxConcurrentGlobal)
	}
	if c.Scheduler.MaxJobsPerWorker < 1 {
		return fmt.Errorf("scheduler.max_jobs_per_worker must be at least 1, got %d", c.Scheduler.MaxJobsPerWorker)
	}

	if c.Breaker.ErrorThresholdPct < 0 || c.Breaker.ErrorThresholdPct > 100 {
		return fmt.Errorf("breaker.error_threshold_pct must be within [0, 100], got %v", c.Breaker.ErrorThresholdPct)
	}

	for _, host := range c.Workers.Hosts {
		if strings.TrimSpace(host) == "" {
			return fmt.Errorf("workers.hosts must not contain empty entries")
		}
	}

	parsed, err := util.ParseTrustedCIDRs(c.Server.TrustedProxies.CIDRs)
	if err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}
	c.Server.TrustedProxies.CIDRsParsed = parsed

	return nil
}

// WorkerBaseURL builds the http(s) base URL for a configured host entry
func (c *Config) WorkerBaseURL(host string) string {
	scheme := "http"
	if c.Workers.UseTLS {
		scheme = "https"
	}
	return util.NormaliseBaseURL(fmt.Sprintf("%s://%s", scheme, host))
}
