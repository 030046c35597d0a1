package config

// Config is the schedrun configuration file (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Store       StoreConfig       `json:"store"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Logging     LoggingConfig     `json:"logging"`
	Alerts      AlertsConfig      `json:"alerts"`
	Metrics     MetricsConfig     `json:"metrics"`
	Tasks       []TaskConfig      `json:"tasks"`
}

// SchedulerConfig controls passes and task execution.
//
// Defaults (when fields are omitted/zero):
//   - timezone: the host's local zone
//   - shell: /bin/sh
//   - poll_interval: "100ms"
//   - lock_ttl: "1h"
//   - finish_command: `'<schedrun binary>' --config '<file>' finish`
type SchedulerConfig struct {
	Timezone      string            `json:"timezone,omitempty"`
	Shell         string            `json:"shell,omitempty"`
	Dir           string            `json:"dir,omitempty"`
	PollInterval  string            `json:"poll_interval,omitempty"`
	LockTTL       string            `json:"lock_ttl,omitempty"`
	FinishCommand string            `json:"finish_command,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
}

// StoreConfig selects the shared flag store.
//
// Example:
//
//	store: { driver: redis, url: "redis://cache:6379/2", prefix: "billing:" }
type StoreConfig struct {
	Driver      string `json:"driver,omitempty"` // memory|sqlite|redis; default sqlite
	Path        string `json:"path,omitempty"`   // sqlite file
	URL         string `json:"url,omitempty"`    // redis URL (do not log)
	Prefix      string `json:"prefix,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type MaintenanceConfig struct {
	Driver string `json:"driver,omitempty"` // file|store; default file
	Path   string `json:"path,omitempty"`
}

type LoggingConfig struct {
	Level       string      `json:"level,omitempty"`
	Console     *bool       `json:"console,omitempty"` // default true
	ConsoleJSON bool        `json:"console_json,omitempty"`
	File        LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type AlertsConfig struct {
	Telegram *TelegramAlert `json:"telegram,omitempty"`
}

// TelegramAlert sends task failures to a chat.
type TelegramAlert struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"` // do not log
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	RatePerMin int    `json:"rate_per_min,omitempty"`
	Source     string `json:"source,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// MetricsConfig controls the HTTP endpoint of `schedrun work`.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9477").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

// TaskConfig declares one scheduled task. Exactly one of Command or Call
// must be set; Call names an in-process callback registered by the binary.
type TaskConfig struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Command     string `json:"command,omitempty"`
	Call        string `json:"call,omitempty"`

	// Cron is a five-field expression or a descriptor (@hourly). Default "* * * * *".
	Cron          string `json:"cron,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
	RepeatSeconds int    `json:"repeat_seconds,omitempty"`

	Background         bool   `json:"background,omitempty"`
	OneServer          bool   `json:"one_server,omitempty"`
	EvenInMaintenance  bool   `json:"even_in_maintenance,omitempty"`
	WithoutOverlapping bool   `json:"without_overlapping,omitempty"`
	OverlapExpires     string `json:"overlap_expires,omitempty"`
	Mutex              string `json:"mutex,omitempty"`

	Output       string `json:"output,omitempty"`
	AppendOutput bool   `json:"append_output,omitempty"`
	Timeout      string `json:"timeout,omitempty"`

	// Shell predicates; exit status 0 means true.
	WhenCommand string `json:"when_command,omitempty"`
	SkipCommand string `json:"skip_command,omitempty"`

	// "HH:MM-HH:MM" windows in the task's timezone.
	Between       string `json:"between,omitempty"`
	UnlessBetween string `json:"unless_between,omitempty"`
}
