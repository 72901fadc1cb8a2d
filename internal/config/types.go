package config

import "encoding/json"

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Schedules declares recurring enqueue triggers. Omitting the section
	// disables the trigger layer.
	Schedules *SchedulesConfig `json:"schedules,omitempty"`

	// Processors enables and configures the built-in job processors.
	Processors ProcessorsConfig `json:"processors"`

	// Archive records terminal jobs for post-mortem inspection.
	Archive *ArchiveConfig `json:"archive,omitempty"`

	// Alert sends Telegram messages for terminal job failures.
	Alert *AlertConfig `json:"alert,omitempty"`

	Ops OpsConfig `json:"ops,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the job execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - concurrency: 2
//   - poll_interval: "1s"
//   - default_max_attempts: 3
//   - default_backoff: "exponential"
//   - default_timeout: "5m"
//   - backoff_base: "1s"
//   - backoff_max: "30s"
//   - clean_interval: "5m" (use "0s" to disable the automatic sweep)
//   - clean_max_age: "24h"
type SchedulerConfig struct {
	Concurrency        int    `json:"concurrency,omitempty"`
	PollInterval       string `json:"poll_interval,omitempty"`
	DefaultMaxAttempts int    `json:"default_max_attempts,omitempty"`
	DefaultBackoff     string `json:"default_backoff,omitempty"` // "fixed" | "exponential"
	DefaultTimeout     string `json:"default_timeout,omitempty"`
	BackoffBase        string `json:"backoff_base,omitempty"`
	BackoffMax         string `json:"backoff_max,omitempty"`
	CleanInterval      string `json:"clean_interval,omitempty"`
	CleanMaxAge        string `json:"clean_max_age,omitempty"`

	// Paused starts (or hot-reloads) the scheduler with dispatch paused;
	// queued jobs are accepted but not run until it is cleared.
	Paused bool `json:"paused,omitempty"`
}

// SchedulesConfig declares the recurring enqueue triggers.
type SchedulesConfig struct {
	Enabled  bool            `json:"enabled"`
	Timezone string          `json:"timezone,omitempty"` // IANA TZ for cron/daily entries
	Entries  []ScheduleEntry `json:"entries,omitempty"`
}

// ScheduleEntry is one named trigger. Schedule accepts a cron expression
// ("*/5 * * * *", "@hourly"), a duration ("55m"), or daily HH:MM ("07:30");
// "cron:" and "interval:" prefixes force a kind.
type ScheduleEntry struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Job      string `json:"job"`

	// Payload is passed verbatim to every job the trigger enqueues.
	Payload json.RawMessage `json:"payload,omitempty"`

	Priority    int    `json:"priority,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Timeout     string `json:"timeout,omitempty"` // Go duration string
}

type ProcessorsConfig struct {
	AI      *AIProcessorConfig      `json:"ai,omitempty"`
	Filegen *FilegenProcessorConfig `json:"filegen,omitempty"`
	Email   *EmailProcessorConfig   `json:"email,omitempty"`
	Analyze *AnalyzeProcessorConfig `json:"analyze,omitempty"`
}

// AIProcessorConfig configures the "ai.completion" processor: a JSON-over-HTTP
// completion API client.
type AIProcessorConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"` // never logged
	Model   string `json:"model,omitempty"`

	// RatePerMin caps outbound requests (default 30).
	RatePerMin  int    `json:"rate_per_min,omitempty"`
	HTTPTimeout string `json:"http_timeout,omitempty"` // Go duration string, default "30s"
}

// FilegenProcessorConfig configures the "file.generate" processor.
type FilegenProcessorConfig struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir,omitempty"` // output directory, default "./out"
}

// EmailProcessorConfig configures the "email.send" processor (SMTP).
type EmailProcessorConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"` // default 587
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // never logged
	From     string `json:"from,omitempty"`

	// RatePerMin caps outbound sends (default 60).
	RatePerMin int `json:"rate_per_min,omitempty"`
}

// AnalyzeProcessorConfig configures the "data.analyze" processor.
type AnalyzeProcessorConfig struct {
	Enabled bool `json:"enabled"`
}

// ArchiveConfig controls the terminal-job archive.
//
// Example:
//
//	"archive": { "driver": "file", "path": "./jobmill_archive" }
type ArchiveConfig struct {
	Driver      string `json:"driver"` // "none" | "file" | "sqlite"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// AlertConfig controls Telegram alerts for terminal job failures.
type AlertConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"` // bot token (never logged)
	ChatID  int64  `json:"chat_id,omitempty"`

	// RatePerMin caps alert messages (default 6). Excess failures are
	// counted and summarized in the next alert.
	RatePerMin int `json:"rate_per_min,omitempty"`
}

// OpsConfig controls the optional ops HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8831").
//   - If you bind to a non-loopback address, set a token or explicitly
//     allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8831"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Pprof mounts net/http/pprof under /debug/pprof/ (default true).
	Pprof *bool `json:"pprof,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0
	// (disabled) so pprof profile captures (30s+) work reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
