package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/config"
)

func (a *Application) setConfig(cfg *config.Config) {
	a.configMu.Lock()
	defer a.configMu.Unlock()
	a.config = cfg
}

func (a *Application) getConfig() *config.Config {
	a.configMu.RLock()
	defer a.configMu.RUnlock()
	return a.config
}

// onConfigReload runs on viper's watch goroutine whenever the config file
// changes. Only the scheduler's global cap and the job lifetime windows apply
// live; everything else is logged as requiring a restart.
func (a *Application) onConfigReload(reloaded *config.Config) {
	previous := a.getConfig()
	if previous == nil {
		return
	}

	a.logger.Info("Configuration file changed", "file", reloaded.Filename)

	if previous.Scheduler.MaxConcurrentGlobal != reloaded.Scheduler.MaxConcurrentGlobal {
		a.logger.InfoConfigChange("scheduler.max_concurrent_global",
			fmt.Sprintf("%d", previous.Scheduler.MaxConcurrentGlobal),
			fmt.Sprintf("%d", reloaded.Scheduler.MaxConcurrentGlobal))
	}
	if previous.Jobs.JobTimeout != reloaded.Jobs.JobTimeout {
		a.logger.InfoConfigChange("jobs.job_timeout",
			previous.Jobs.JobTimeout.String(), reloaded.Jobs.JobTimeout.String())
	}
	if previous.Jobs.TerminalRetention != reloaded.Jobs.TerminalRetention {
		a.logger.InfoConfigChange("jobs.terminal_retention",
			previous.Jobs.TerminalRetention.String(), reloaded.Jobs.TerminalRetention.String())
	}

	if a.scheduler != nil {
		a.scheduler.UpdateConfig(reloaded.Scheduler)
	}
	if a.registry != nil {
		a.registry.UpdateConfig(reloaded.Jobs)
	}

	for _, setting := range restartOnlyChanges(previous, reloaded) {
		a.logger.Warn("Configuration change requires restart", "setting", setting)
	}

	a.setConfig(reloaded)
}

// restartOnlyChanges names the changed settings that cannot be applied to a
// running process.
func restartOnlyChanges(previous, reloaded *config.Config) []string {
	var changed []string

	if strings.Join(previous.Workers.Hosts, ",") != strings.Join(reloaded.Workers.Hosts, ",") {
		changed = append(changed, "workers.hosts")
	}
	if previous.Workers.UseTLS != reloaded.Workers.UseTLS {
		changed = append(changed, "workers.use_tls")
	}
	if previous.Server.GetAddress() != reloaded.Server.GetAddress() {
		changed = append(changed, "server.host/port")
	}
	if previous.Pool != reloaded.Pool {
		changed = append(changed, "pool")
	}
	if previous.Scheduler.MaxJobsPerWorker != reloaded.Scheduler.MaxJobsPerWorker {
		changed = append(changed, "scheduler.max_jobs_per_worker")
	}
	if previous.Scheduler.LoadBalancer != reloaded.Scheduler.LoadBalancer {
		changed = append(changed, "scheduler.load_balancer")
	}
	if previous.Health != reloaded.Health {
		changed = append(changed, "health")
	}
	if previous.Breaker != reloaded.Breaker {
		changed = append(changed, "breaker")
	}
	if previous.Execution != reloaded.Execution {
		changed = append(changed, "execution")
	}
	if previous.Metrics.FilePath != reloaded.Metrics.FilePath ||
		previous.Metrics.SaveInterval != reloaded.Metrics.SaveInterval {
		changed = append(changed, "metrics")
	}
	if previous.Logging != reloaded.Logging {
		changed = append(changed, "logging")
	}

	return changed
}

// requestTimeout bounds how long a synchronous handler waits for its job; the
// registry deadline fires first, this is the backstop when even that event
// goes missing.
func requestTimeout(cfg *config.Config) time.Duration {
	timeout := cfg.Jobs.JobTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return timeout + 10*time.Second
}
