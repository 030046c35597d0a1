package app

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"schedrun/internal/config"
	"schedrun/internal/errreport"
	"schedrun/internal/maintenance"
	"schedrun/internal/observability/metrics"
	"schedrun/internal/schedule"
	"schedrun/internal/scheduler"
	"schedrun/internal/storage"
	logx "schedrun/pkg/logx"
)

func mapLogConfig(cfg *config.Config, levelOverride string) logx.Config {
	lc := cfg.Logging
	console := true
	if lc.Console != nil {
		console = *lc.Console
	}
	level := lc.Level
	if strings.TrimSpace(levelOverride) != "" {
		level = levelOverride
	}
	return logx.Config{
		Level:       level,
		Console:     console,
		ConsoleJSON: lc.ConsoleJSON,
		File:        logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
	}
}

func mapStoreConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Store
	busy, err := config.ParseDurationField("store.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite", "sqlite3", "memory", "mem":
	case "redis":
		if strings.TrimSpace(sc.URL) == "" {
			return storage.Config{}, fmt.Errorf("store.url is required when store.driver=redis")
		}
	default:
		return storage.Config{}, fmt.Errorf("unknown store.driver: %s", sc.Driver)
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		URL:         strings.TrimSpace(sc.URL),
		Prefix:      sc.Prefix,
		BusyTimeout: busy,
	}, nil
}

func mapMaintenanceConfig(cfg *config.Config) maintenance.Config {
	return maintenance.Config{Driver: cfg.Maintenance.Driver, Path: cfg.Maintenance.Path}
}

func mapRunnerConfig(cfg *config.Config, finishCmd string) (scheduler.Config, error) {
	sc := cfg.Scheduler
	poll, err := config.ParseDurationOrDefault("scheduler.poll_interval", sc.PollInterval, scheduler.DefaultPollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	ttl, err := config.ParseDurationOrDefault("scheduler.lock_ttl", sc.LockTTL, scheduler.DefaultLockTTL)
	if err != nil {
		return scheduler.Config{}, err
	}
	if f := strings.TrimSpace(sc.FinishCommand); f != "" {
		finishCmd = f
	}
	return scheduler.Config{
		Env:           mapRunEnv(cfg),
		FinishCommand: finishCmd,
		PollInterval:  poll,
		LockTTL:       ttl,
	}, nil
}

func mapRunEnv(cfg *config.Config) schedule.RunEnv {
	keys := make([]string, 0, len(cfg.Scheduler.Env))
	for k := range cfg.Scheduler.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+cfg.Scheduler.Env[k])
	}
	return schedule.RunEnv{Shell: cfg.Scheduler.Shell, Dir: cfg.Scheduler.Dir, Env: env}
}

func mapMetricsConfig(cfg *config.Config) (metrics.Config, error) {
	mc := cfg.Metrics
	read, err := config.ParseDurationOrDefault("metrics.read_timeout", mc.ReadTimeout, 10*time.Second)
	if err != nil {
		return metrics.Config{}, err
	}
	// WriteTimeout stays 0 by default so /debug/pprof/profile can stream.
	write, err := config.ParseDurationField("metrics.write_timeout", mc.WriteTimeout)
	if err != nil {
		return metrics.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("metrics.idle_timeout", mc.IdleTimeout, 60*time.Second)
	if err != nil {
		return metrics.Config{}, err
	}
	return metrics.Config{
		Enabled:       mc.Enabled,
		Addr:          strings.TrimSpace(mc.Addr),
		Token:         strings.TrimSpace(mc.Token),
		AllowInsecure: mc.AllowInsecure,
		Pprof:         mc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// mapTelegram returns ok=false when alerts are not configured.
func mapTelegram(cfg *config.Config) (errreport.TelegramConfig, bool, error) {
	tg := cfg.Alerts.Telegram
	if tg == nil || !tg.Enabled {
		return errreport.TelegramConfig{}, false, nil
	}
	timeout, err := config.ParseDurationField("alerts.telegram.timeout", tg.Timeout)
	if err != nil {
		return errreport.TelegramConfig{}, false, err
	}
	if strings.TrimSpace(tg.Token) == "" {
		return errreport.TelegramConfig{}, false, fmt.Errorf("alerts.telegram.token is required (or set %s_TELEGRAM_TOKEN)", config.EnvPrefix)
	}
	if tg.ChatID == 0 {
		return errreport.TelegramConfig{}, false, fmt.Errorf("alerts.telegram.chat_id is required")
	}
	if tg.RatePerMin < 0 {
		return errreport.TelegramConfig{}, false, fmt.Errorf("alerts.telegram.rate_per_min must be >= 0")
	}
	return errreport.TelegramConfig{
		Token:      strings.TrimSpace(tg.Token),
		ChatID:     tg.ChatID,
		ThreadID:   tg.ThreadID,
		RatePerMin: tg.RatePerMin,
		Source:     tg.Source,
		Timeout:    timeout,
	}, true, nil
}

// defaultFinishCommand is what background wrappers call when they end:
// this binary's finish command bound to the same config file.
func defaultFinishCommand(cfgPath string) string {
	exe, err := os.Executable()
	if err != nil || exe == "" {
		exe = "schedrun"
	}
	return schedule.ShellQuote(exe) + " --config " + schedule.ShellQuote(cfgPath) + " finish"
}
