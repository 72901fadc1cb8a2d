package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"jobmill/internal/alert"
	"jobmill/internal/archive"
	"jobmill/internal/config"
	"jobmill/internal/eventbus"
	"jobmill/internal/jobs"
	"jobmill/internal/ops"
	rtsup "jobmill/internal/runtime/supervisor"
	"jobmill/internal/schedule"
	logx "jobmill/pkg/logx"
)

// StopReason records why the daemon is shutting down. It only affects logs.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

// App wires the config manager, scheduler, trigger layer, and the optional
// archive/alert/ops services into one lifecycle.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	base logx.Logger
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	sched  *jobs.Scheduler
	crons  *schedule.Service
	store  archive.Store
	rec    *archive.Recorder
	alerts *alert.Service
	ops    *ops.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, base := logx.New(mapLogConfig(cfg))
	log := base.With(logx.String("comp", "app"))
	cfgm.SetLogger(base.With(logx.String("comp", "config")))

	bus := eventbus.New()

	jcfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := jobs.New(jcfg, base.With(logx.String("comp", "jobs")), bus)

	scfg, err := mapScheduleConfig(cfg)
	if err != nil {
		return nil, err
	}
	crons := schedule.New(scfg, sched, base.With(logx.String("comp", "schedule")), bus)
	if cfg.Schedules != nil {
		if err := validateScheduleEntries(cfg.Schedules); err != nil {
			return nil, err
		}
		for _, e := range cfg.Schedules.Entries {
			if err := registerScheduleEntry(crons, e); err != nil {
				return nil, err
			}
		}
	}

	acfg, err := mapArchiveConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := archive.Open(acfg, base.With(logx.String("comp", "archive")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("archive enabled", logx.String("driver", strings.ToLower(strings.TrimSpace(acfg.Driver))))
	}
	rec := archive.NewRecorder(store, bus, base.With(logx.String("comp", "archive")))

	alcfg, err := mapAlertConfig(cfg)
	if err != nil {
		return nil, err
	}
	alerts := alert.New(alcfg, base.With(logx.String("comp", "alert")), bus)

	ocfg, err := mapOpsConfig(cfg)
	if err != nil {
		return nil, err
	}
	opsSvc := ops.New(ocfg, ops.Deps{
		Scheduler: sched,
		Schedules: crons,
		Archive:   store,
		Alerts:    alerts,
		Bus:       bus,
	}, base.With(logx.String("comp", "ops")))

	pc, err := mapProcessorConfigs(cfg)
	if err != nil {
		return nil, err
	}
	applyProcessors(sched, pc, base, log)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		base:    base,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		sched:   sched,
		crons:   crons,
		store:   store,
		rec:     rec,
		alerts:  alerts,
		ops:     opsSvc,
	}, nil
}

// Scheduler exposes the job scheduler for embedding callers.
func (a *App) Scheduler() *jobs.Scheduler { return a.sched }

// Schedules exposes the trigger service for embedding callers.
func (a *App) Schedules() *schedule.Service { return a.crons }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapScheduleConfig(cfg); err != nil {
			return err
		}
		if err := validateScheduleEntries(cfg.Schedules); err != nil {
			return err
		}
		if _, err := mapArchiveConfig(cfg); err != nil {
			return err
		}
		if _, err := mapAlertConfig(cfg); err != nil {
			return err
		}
		if _, err := mapOpsConfig(cfg); err != nil {
			return err
		}
		if _, err := mapProcessorConfigs(cfg); err != nil {
			return err
		}
		return nil
	})

	cfg := a.cfgm.Get()

	a.sched.Start(a.sup.Context())
	if cfg != nil && cfg.Scheduler.Paused {
		a.log.Info("scheduler starting paused")
		a.sched.Pause()
	}
	a.crons.Start(a.sup.Context())
	a.rec.Start()
	a.alerts.Start(a.sup.Context())
	a.ops.Start(a.sup.Context())

	// Debug mirror of bus traffic; components subscribe themselves for real work.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyReload pushes one validated config into the running services.
func (a *App) applyReload(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, entryChanged := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	if changed["logging"] {
		a.logs.Apply(mapLogConfig(newCfg))
	}

	if changed["scheduler"] {
		jcfg, err := mapSchedulerConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Any("err", err))
		} else {
			a.sched.Apply(ctx, jcfg)
		}
		oldPaused := oldCfg != nil && oldCfg.Scheduler.Paused
		if newCfg.Scheduler.Paused != oldPaused {
			if newCfg.Scheduler.Paused {
				a.log.Info("scheduler paused via config")
				a.sched.Pause()
			} else {
				a.log.Info("scheduler resumed via config")
				a.sched.Resume()
			}
		}
	}

	if changed["schedules"] {
		scfg, err := mapScheduleConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid schedules config; keeping previous", logx.Any("err", err))
		} else {
			a.crons.Apply(scfg)
			a.resyncSchedules(entryChanged, newCfg)
		}
	}

	if changed["archive"] {
		// Reopening stores mid-flight risks losing records; keep the old one.
		a.log.Warn("archive config changed; restart required for changes to take effect")
	}

	if changed["alert"] {
		alcfg, err := mapAlertConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid alert config; keeping previous", logx.Any("err", err))
		} else {
			a.alerts.Apply(alcfg)
		}
	}

	if changed["ops"] {
		ocfg, err := mapOpsConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid ops config; keeping previous", logx.Any("err", err))
		} else {
			a.ops.Reconfigure(ctx, ocfg)
		}
	}

	if changed["processors"] {
		pc, err := mapProcessorConfigs(newCfg)
		if err != nil {
			a.log.Warn("invalid processors config; keeping previous", logx.Any("err", err))
		} else {
			applyProcessors(a.sched, pc, a.base, a.log)
		}
	}

	a.log.Info("config reloaded", fields...)
}

// resyncSchedules re-registers the changed trigger entries against the new
// config; names no longer present are removed.
func (a *App) resyncSchedules(changed []string, newCfg *config.Config) {
	entries := map[string]config.ScheduleEntry{}
	if newCfg.Schedules != nil {
		for _, e := range newCfg.Schedules.Entries {
			entries[e.Name] = e
		}
	}
	for _, name := range changed {
		e, ok := entries[name]
		if !ok {
			a.crons.Remove(name)
			continue
		}
		if err := registerScheduleEntry(a.crons, e); err != nil {
			a.log.Warn("trigger update failed", logx.String("name", name), logx.Any("err", err))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Triggers first so nothing new is enqueued while the scheduler drains.
	step("schedules", 2*time.Second, func(c context.Context) error { a.crons.Stop(c); return nil })
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Shutdown(c); return nil })
	step("ops", 2*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })

	// The recorder and alerts stop after the scheduler so the terminal events
	// of draining jobs are still captured.
	step("alerts", 2*time.Second, func(c context.Context) error { a.alerts.Stop(c); return nil })
	step("archive.recorder", 2*time.Second, func(c context.Context) error { return a.rec.Stop(c) })
	step("archive", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, event log).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
