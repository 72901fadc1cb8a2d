package app

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"jobmill/internal/alert"
	"jobmill/internal/archive"
	"jobmill/internal/config"
	"jobmill/internal/jobs"
	"jobmill/internal/ops"
	"jobmill/internal/processors"
	"jobmill/internal/schedule"
	logx "jobmill/pkg/logx"
)

// The map* helpers translate the file config into per-service configs. They
// double as the reload validator: any error here rejects the whole config
// before it is committed or published.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (jobs.Config, error) {
	sc := cfg.Scheduler
	var out jobs.Config

	if sc.Concurrency < 0 {
		return out, fmt.Errorf("scheduler.concurrency must be >= 0")
	}
	if sc.DefaultMaxAttempts < 0 {
		return out, fmt.Errorf("scheduler.default_max_attempts must be >= 0")
	}
	switch b := jobs.Backoff(strings.ToLower(strings.TrimSpace(sc.DefaultBackoff))); b {
	case "", jobs.BackoffFixed, jobs.BackoffExponential:
		out.DefaultBackoff = b
	default:
		return out, fmt.Errorf("scheduler.default_backoff must be %q or %q", jobs.BackoffFixed, jobs.BackoffExponential)
	}
	out.Concurrency = sc.Concurrency
	out.DefaultMaxAttempts = sc.DefaultMaxAttempts

	var err error
	if out.PollInterval, err = config.ParseDurationField("scheduler.poll_interval", sc.PollInterval); err != nil {
		return out, err
	}
	if out.DefaultTimeout, err = config.ParseDurationField("scheduler.default_timeout", sc.DefaultTimeout); err != nil {
		return out, err
	}
	if out.BackoffBase, err = config.ParseDurationField("scheduler.backoff_base", sc.BackoffBase); err != nil {
		return out, err
	}
	if out.BackoffMax, err = config.ParseDurationField("scheduler.backoff_max", sc.BackoffMax); err != nil {
		return out, err
	}

	// clean_interval: omitted keeps the default sweep; an explicit "0s"
	// disables it (the engine treats negative as disabled).
	ci, err := config.ParseDurationField("scheduler.clean_interval", sc.CleanInterval)
	if err != nil {
		return out, err
	}
	if strings.TrimSpace(sc.CleanInterval) != "" && ci == 0 {
		out.CleanInterval = -1
	} else {
		out.CleanInterval = ci
	}
	if out.CleanMaxAge, err = config.ParseDurationField("scheduler.clean_max_age", sc.CleanMaxAge); err != nil {
		return out, err
	}
	return out, nil
}

func mapScheduleConfig(cfg *config.Config) (schedule.Config, error) {
	var out schedule.Config
	sc := cfg.Schedules
	if sc == nil {
		return out, nil
	}
	tz := strings.TrimSpace(sc.Timezone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return out, fmt.Errorf("schedules.timezone: unknown location %q", tz)
		}
	}
	out.Enabled = sc.Enabled
	out.Timezone = tz
	return out, nil
}

func validateScheduleEntries(sc *config.SchedulesConfig) error {
	if sc == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(sc.Entries))
	for i, e := range sc.Entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return fmt.Errorf("schedules.entries[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("schedules.entries: duplicate name %q", name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(e.Job) == "" {
			return fmt.Errorf("schedules.entries[%q]: job is required", name)
		}
		if _, err := schedule.ParseSpec(e.Schedule); err != nil {
			return fmt.Errorf("schedules.entries[%q]: %w", name, err)
		}
		if _, err := entryPayload(e); err != nil {
			return fmt.Errorf("schedules.entries[%q]: %w", name, err)
		}
		if _, err := entryOptions(e); err != nil {
			return fmt.Errorf("schedules.entries[%q]: %w", name, err)
		}
	}
	return nil
}

// entryPayload decodes the raw JSON payload once so every fired job enqueues
// the same value.
func entryPayload(e config.ScheduleEntry) (any, error) {
	if len(e.Payload) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	return v, nil
}

func entryOptions(e config.ScheduleEntry) ([]jobs.Option, error) {
	var opts []jobs.Option
	if e.Priority != 0 {
		opts = append(opts, jobs.WithPriority(e.Priority))
	}
	if e.MaxAttempts < 0 {
		return nil, fmt.Errorf("max_attempts must be >= 0")
	}
	if e.MaxAttempts > 0 {
		opts = append(opts, jobs.WithMaxAttempts(e.MaxAttempts))
	}
	to, err := config.ParseDurationField("timeout", e.Timeout)
	if err != nil {
		return nil, err
	}
	if to > 0 {
		opts = append(opts, jobs.WithTimeout(to))
	}
	return opts, nil
}

func registerScheduleEntry(crons *schedule.Service, e config.ScheduleEntry) error {
	payload, err := entryPayload(e)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", e.Name, err)
	}
	opts, err := entryOptions(e)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", e.Name, err)
	}
	if _, err := crons.Add(e.Name, e.Schedule, e.Job, payload, opts...); err != nil {
		return fmt.Errorf("schedule %q: %w", e.Name, err)
	}
	return nil
}

func mapArchiveConfig(cfg *config.Config) (archive.Config, error) {
	var out archive.Config
	a := cfg.Archive
	if a == nil {
		return out, nil
	}
	driver := strings.ToLower(strings.TrimSpace(a.Driver))
	switch driver {
	case "", "none", "file", "sqlite", "sqlite3":
	default:
		return out, fmt.Errorf("archive.driver: unknown driver %q", a.Driver)
	}
	if driver != "" && driver != "none" && strings.TrimSpace(a.Path) == "" {
		return out, fmt.Errorf("archive.path is required for driver %q", driver)
	}
	busy, err := config.ParseDurationField("archive.busy_timeout", a.BusyTimeout)
	if err != nil {
		return out, err
	}
	out.Driver = driver
	out.Path = strings.TrimSpace(a.Path)
	out.BusyTimeout = busy
	return out, nil
}

func mapAlertConfig(cfg *config.Config) (alert.Config, error) {
	var out alert.Config
	a := cfg.Alert
	if a == nil {
		return out, nil
	}
	if a.RatePerMin < 0 {
		return out, fmt.Errorf("alert.rate_per_min must be >= 0")
	}
	out.Enabled = a.Enabled
	out.Token = strings.TrimSpace(a.Token)
	out.ChatID = a.ChatID
	out.RatePerMin = a.RatePerMin
	return out, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	var out ops.Config

	out.Enabled = oc.Enabled
	out.Addr = strings.TrimSpace(oc.Addr)
	out.Token = strings.TrimSpace(oc.Token)
	out.AllowInsecure = oc.AllowInsecure
	out.Pprof = true
	if oc.Pprof != nil {
		out.Pprof = *oc.Pprof
	}

	var err error
	if out.ReadTimeout, err = config.ParseDurationField("ops.read_timeout", oc.ReadTimeout); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("ops.write_timeout", oc.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationField("ops.idle_timeout", oc.IdleTimeout); err != nil {
		return out, err
	}
	if oc.MutexProfileFraction < 0 {
		return out, fmt.Errorf("ops.mutex_profile_fraction must be >= 0")
	}
	if oc.BlockProfileRate < 0 {
		return out, fmt.Errorf("ops.block_profile_rate must be >= 0")
	}
	out.MutexProfileFraction = oc.MutexProfileFraction
	out.BlockProfileRate = oc.BlockProfileRate
	return out, nil
}

// processorConfigs is the resolved processor set; a nil (or false) slot means
// the processor is disabled and gets unregistered.
type processorConfigs struct {
	ai      *processors.AIConfig
	filegen *processors.FilegenConfig
	email   *processors.EmailConfig
	analyze bool
}

// mapProcessorConfigs validates processor sections even when disabled so a
// broken block surfaces before someone flips enabled to true. Endpoint fields
// (base_url, host) stay optional here; an enabled but unconfigured processor
// fails its jobs with a clear non-retryable error instead of blocking the
// whole config.
func mapProcessorConfigs(cfg *config.Config) (processorConfigs, error) {
	var pc processorConfigs

	if c := cfg.Processors.AI; c != nil {
		httpTimeout, err := config.ParseDurationField("processors.ai.http_timeout", c.HTTPTimeout)
		if err != nil {
			return pc, err
		}
		if c.RatePerMin < 0 {
			return pc, fmt.Errorf("processors.ai.rate_per_min must be >= 0")
		}
		if c.Enabled {
			pc.ai = &processors.AIConfig{
				BaseURL:     strings.TrimSpace(c.BaseURL),
				APIKey:      c.APIKey,
				Model:       c.Model,
				RatePerMin:  c.RatePerMin,
				HTTPTimeout: httpTimeout,
			}
		}
	}

	if c := cfg.Processors.Filegen; c != nil && c.Enabled {
		pc.filegen = &processors.FilegenConfig{Dir: c.Dir}
	}

	if c := cfg.Processors.Email; c != nil {
		if c.Port < 0 {
			return pc, fmt.Errorf("processors.email.port must be >= 0")
		}
		if c.RatePerMin < 0 {
			return pc, fmt.Errorf("processors.email.rate_per_min must be >= 0")
		}
		if c.Enabled {
			pc.email = &processors.EmailConfig{
				Host:       strings.TrimSpace(c.Host),
				Port:       c.Port,
				Username:   c.Username,
				Password:   c.Password,
				From:       c.From,
				RatePerMin: c.RatePerMin,
			}
		}
	}

	pc.analyze = cfg.Processors.Analyze != nil && cfg.Processors.Analyze.Enabled

	return pc, nil
}

// applyProcessors registers enabled processors (replacing any previous
// registration, so config edits take effect) and unregisters disabled ones.
// In-flight jobs keep the processor they were dispatched with.
func applyProcessors(s *jobs.Scheduler, pc processorConfigs, base, log logx.Logger) {
	if pc.ai != nil {
		processors.NewAI(*pc.ai, base.With(logx.String("comp", "proc.ai"))).Register(s)
	} else {
		s.Unregister(processors.TypeAICompletion)
	}
	if pc.filegen != nil {
		processors.NewFilegen(*pc.filegen, base.With(logx.String("comp", "proc.filegen"))).Register(s)
	} else {
		s.Unregister(processors.TypeFileGenerate)
	}
	if pc.email != nil {
		processors.NewEmail(*pc.email, base.With(logx.String("comp", "proc.email"))).Register(s)
	} else {
		s.Unregister(processors.TypeEmailSend)
	}
	if pc.analyze {
		processors.NewAnalyze(base.With(logx.String("comp", "proc.analyze"))).Register(s)
	} else {
		s.Unregister(processors.TypeDataAnalyze)
	}

	log.Info("processors applied",
		logx.Bool("ai", pc.ai != nil),
		logx.Bool("filegen", pc.filegen != nil),
		logx.Bool("email", pc.email != nil),
		logx.Bool("analyze", pc.analyze),
	)
}
