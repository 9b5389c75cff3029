package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/app"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/env"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/util"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/version"
	"github.com/signmaster-com/ComfyExpressMiddleware/pkg/format"
	"github.com/signmaster-com/ComfyExpressMiddleware/pkg/nerdstats"
)

func main() {
	startTime := time.Now()

	banner := log.New(os.Stderr, "", 0)
	versionOnly := len(os.Args) > 1 && os.Args[1] == "--version"
	version.PrintVersionInfo(versionOnly, banner)
	if versionOnly {
		os.Exit(0)
	}

	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(buildLoggerConfig())
	if err != nil {
		logger.Fatal("Failed to initialise logger", "error", err)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid())

	ctx, cancel := shutdownContext(context.Background(), styledLogger)
	defer cancel()

	application, err := app.New(startTime, styledLogger)
	if err != nil {
		logger.FatalWithLogger(logInstance, "Application setup failed", "error", err)
	}
	if err := application.Start(ctx); err != nil {
		logger.FatalWithLogger(logInstance, "Application start failed", "error", err)
	}

	<-ctx.Done()

	if err := application.Stop(context.Background()); err != nil {
		styledLogger.Error("Shutdown error", "error", err)
	}

	reportProcessStats(styledLogger, startTime)

	styledLogger.Info("cmw has shutdown")
}

// shutdownContext cancels on SIGINT or SIGTERM, logging which one arrived.
func shutdownContext(parent context.Context, styledLogger logger.StyledLogger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	return ctx, cancel
}

// reportProcessStats logs a shutdown snapshot of runtime internals. The
// forced GC beforehand settles the heap so the numbers describe live data.
func reportProcessStats(styledLogger logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	styledLogger.Info("Runtime summary",
		"uptime", format.Duration(stats.Uptime),
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
		"goroutines", stats.NumGoroutines,
		"goroutine_health", stats.GetGoroutineHealthStatus(),
		"cgo_calls", stats.NumCgoCall,
	)

	styledLogger.Info("Memory summary",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"heap_released", format.Bytes(stats.HeapReleased),
		"stack_inuse", format.Bytes(stats.StackInuse),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"net_objects", util.SafeInt64Diff(stats.Mallocs, stats.Frees),
		"memory_pressure", stats.GetMemoryPressure(),
	)

	if stats.NumGC > 0 {
		styledLogger.Info("GC summary",
			"cycles", stats.NumGC,
			"last_gc", stats.LastGC.Format(time.RFC3339),
			"total_gc_time", format.Duration(stats.TotalGCTime),
			"gc_cpu_fraction", fmt.Sprintf("%.4f%%", stats.GCCPUFraction*100),
			"avg_gc_pause", nerdstats.CalculateAverageGCPause(stats),
		)
	}

	if buildInfo := stats.GetBuildInfoSummary(); len(buildInfo) > 0 {
		args := make([]any, 0, len(buildInfo)*2)
		for key, value := range buildInfo {
			args = append(args, key, value)
		}
		styledLogger.Info("Build info", args...)
	}
}

// buildLoggerConfig reads the CMW_LOG_* environment before any config file
// is parsed; logging has to exist before everything else.
func buildLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      env.GetEnvOrDefault("CMW_LOG_LEVEL", "info"),
		FileOutput: env.GetEnvBoolOrDefault("CMW_LOG_FILE_OUTPUT", true),
		LogDir:     env.GetEnvOrDefault("CMW_LOG_DIR", "./logs"),
		MaxSize:    env.GetEnvIntOrDefault("CMW_LOG_MAX_SIZE", 100),
		MaxBackups: env.GetEnvIntOrDefault("CMW_LOG_MAX_BACKUPS", 5),
		MaxAge:     env.GetEnvIntOrDefault("CMW_LOG_MAX_AGE", 30),
		Theme:      env.GetEnvOrDefault("CMW_THEME", "default"),
	}
}
