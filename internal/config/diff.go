package config

import (
	"reflect"
	"sort"
	"strings"

	logx "jobmill/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections, (2) safe
// structured attrs for logging (never secrets like tokens or passwords), and
// (3) the names of schedule entries that changed.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Scheduler (execution engine)
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.concurrency", newCfg.Scheduler.Concurrency),
			logx.String("scheduler.default_backoff", strings.TrimSpace(newCfg.Scheduler.DefaultBackoff)),
			logx.String("scheduler.clean_interval", strings.TrimSpace(newCfg.Scheduler.CleanInterval)),
			logx.Bool("scheduler.paused", newCfg.Scheduler.Paused),
		)
	}

	// Schedules (trigger layer). Section-level flags plus per-entry diff.
	oldS, newS := derefSchedules(oldCfg.Schedules), derefSchedules(newCfg.Schedules)
	entryChanged := diffScheduleEntries(oldS.Entries, newS.Entries)
	if oldS.Enabled != newS.Enabled ||
		strings.TrimSpace(oldS.Timezone) != strings.TrimSpace(newS.Timezone) ||
		len(entryChanged) > 0 {
		changed = append(changed, "schedules")
		attrs = append(attrs,
			logx.Bool("schedules.enabled", newS.Enabled),
			logx.String("schedules.timezone", strings.TrimSpace(newS.Timezone)),
			logx.Int("schedules.entry_count", len(newS.Entries)),
			logx.Int("schedules.changed_count", len(entryChanged)),
		)
	}

	// Processors (never log api_key/password)
	if !reflect.DeepEqual(oldCfg.Processors, newCfg.Processors) {
		changed = append(changed, "processors")
		attrs = append(attrs,
			logx.Bool("processors.ai", newCfg.Processors.AI != nil && newCfg.Processors.AI.Enabled),
			logx.Bool("processors.filegen", newCfg.Processors.Filegen != nil && newCfg.Processors.Filegen.Enabled),
			logx.Bool("processors.email", newCfg.Processors.Email != nil && newCfg.Processors.Email.Enabled),
			logx.Bool("processors.analyze", newCfg.Processors.Analyze != nil && newCfg.Processors.Analyze.Enabled),
		)
	}

	// Archive. Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Archive != nil {
		oDriver = strings.TrimSpace(oldCfg.Archive.Driver)
		oBusy = strings.TrimSpace(oldCfg.Archive.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Archive.Path) != ""
	}
	if newCfg.Archive != nil {
		nDriver = strings.TrimSpace(newCfg.Archive.Driver)
		nBusy = strings.TrimSpace(newCfg.Archive.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Archive.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "archive")
		attrs = append(attrs,
			logx.String("archive.driver", nDriver),
			logx.Bool("archive.path_set", nPathSet),
		)
	}

	// Alert (never log token)
	oldA, newA := derefAlert(oldCfg.Alert), derefAlert(newCfg.Alert)
	if oldA.Enabled != newA.Enabled ||
		oldA.ChatID != newA.ChatID ||
		oldA.RatePerMin != newA.RatePerMin ||
		(strings.TrimSpace(oldA.Token) != "") != (strings.TrimSpace(newA.Token) != "") {
		changed = append(changed, "alert")
		attrs = append(attrs,
			logx.Bool("alert.enabled", newA.Enabled),
			logx.Bool("alert.token_set", strings.TrimSpace(newA.Token) != ""),
			logx.Int("alert.rate_per_min", newA.RatePerMin),
		)
	}

	// Ops (never log token)
	if oldCfg.Ops.Enabled != newCfg.Ops.Enabled ||
		strings.TrimSpace(oldCfg.Ops.Addr) != strings.TrimSpace(newCfg.Ops.Addr) ||
		oldCfg.Ops.AllowInsecure != newCfg.Ops.AllowInsecure ||
		derefBool(oldCfg.Ops.Pprof, true) != derefBool(newCfg.Ops.Pprof, true) ||
		strings.TrimSpace(oldCfg.Ops.ReadTimeout) != strings.TrimSpace(newCfg.Ops.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Ops.WriteTimeout) != strings.TrimSpace(newCfg.Ops.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Ops.IdleTimeout) != strings.TrimSpace(newCfg.Ops.IdleTimeout) ||
		oldCfg.Ops.MutexProfileFraction != newCfg.Ops.MutexProfileFraction ||
		oldCfg.Ops.BlockProfileRate != newCfg.Ops.BlockProfileRate ||
		(strings.TrimSpace(oldCfg.Ops.Token) != "") != (strings.TrimSpace(newCfg.Ops.Token) != "") {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
			logx.Bool("ops.allow_insecure", newCfg.Ops.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs, entryChanged
}

func derefSchedules(s *SchedulesConfig) SchedulesConfig {
	if s == nil {
		return SchedulesConfig{}
	}
	return *s
}

func derefAlert(a *AlertConfig) AlertConfig {
	if a == nil {
		return AlertConfig{}
	}
	return *a
}

func derefBool(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// diffScheduleEntries reports the names whose definition was added, removed,
// or modified. Payloads compare canonically so formatting-only edits don't
// count.
func diffScheduleEntries(oldE, newE []ScheduleEntry) []string {
	oldM := make(map[string]ScheduleEntry, len(oldE))
	for _, e := range oldE {
		oldM[e.Name] = e
	}
	newM := make(map[string]ScheduleEntry, len(newE))
	for _, e := range newE {
		newM[e.Name] = e
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, oOK := oldM[name]
		n, nOK := newM[name]
		if oOK != nOK {
			out = append(out, name)
			continue
		}
		if o.Schedule != n.Schedule || o.Job != n.Job ||
			o.Priority != n.Priority || o.MaxAttempts != n.MaxAttempts ||
			strings.TrimSpace(o.Timeout) != strings.TrimSpace(n.Timeout) ||
			canonicalHashJSON(o.Payload) != canonicalHashJSON(n.Payload) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
