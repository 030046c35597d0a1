package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces environment overrides, e.g. SCHEDRUN_STORE_URL.
const EnvPrefix = "SCHEDRUN"

// envOverrides are applied on top of the file after every parse, so secrets
// can stay out of the config file. Empty values leave the file untouched.
type envOverrides struct {
	Timezone      string `envconfig:"TIMEZONE"`
	FinishCommand string `envconfig:"FINISH_COMMAND"`
	LogLevel      string `envconfig:"LOG_LEVEL"`

	StoreDriver string `envconfig:"STORE_DRIVER"`
	StorePath   string `envconfig:"STORE_PATH"`
	StoreURL    string `envconfig:"STORE_URL"`
	StorePrefix string `envconfig:"STORE_PREFIX"`

	MaintenanceDriver string `envconfig:"MAINTENANCE_DRIVER"`
	MaintenancePath   string `envconfig:"MAINTENANCE_PATH"`

	TelegramToken  string `envconfig:"TELEGRAM_TOKEN"`
	TelegramChatID int64  `envconfig:"TELEGRAM_CHAT_ID"`

	MetricsAddr  string `envconfig:"METRICS_ADDR"`
	MetricsToken string `envconfig:"METRICS_TOKEN"`
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays SCHEDRUN_* variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var ov envOverrides
	if err := envconfig.Process(EnvPrefix, &ov); err != nil {
		return err
	}

	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Scheduler.Timezone, ov.Timezone)
	set(&cfg.Scheduler.FinishCommand, ov.FinishCommand)
	set(&cfg.Logging.Level, ov.LogLevel)
	set(&cfg.Store.Driver, ov.StoreDriver)
	set(&cfg.Store.Path, ov.StorePath)
	set(&cfg.Store.URL, ov.StoreURL)
	set(&cfg.Store.Prefix, ov.StorePrefix)
	set(&cfg.Maintenance.Driver, ov.MaintenanceDriver)
	set(&cfg.Maintenance.Path, ov.MaintenancePath)
	set(&cfg.Metrics.Token, ov.MetricsToken)

	if ov.MetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = strings.TrimSpace(ov.MetricsAddr)
	}
	if ov.TelegramToken != "" || ov.TelegramChatID != 0 {
		if cfg.Alerts.Telegram == nil {
			cfg.Alerts.Telegram = &TelegramAlert{Enabled: true}
		}
		set(&cfg.Alerts.Telegram.Token, ov.TelegramToken)
		if ov.TelegramChatID != 0 {
			cfg.Alerts.Telegram.ChatID = ov.TelegramChatID
		}
	}
	return nil
}
