package schedule

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"jobmill/internal/eventbus"
	"jobmill/internal/jobs"
	logx "jobmill/pkg/logx"
)

func New(cfg Config, target Enqueuer, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		target: target,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		once:        map[string]*onceDef{},
		lastEnqWarn: map[string]time.Time{},
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply installs a new config. Enabling or disabling takes effect immediately
// when the service has been started; a timezone change restarts cron with the
// new location and re-registers all definitions.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	switch {
	case s.started && cfg.Enabled && s.c == nil:
		s.startCronLocked()
	case s.c != nil && !cfg.Enabled:
		s.stopCronLocked()
	case s.c != nil && oldTZ != newTZ:
		s.stopCronLocked()
		s.startCronLocked()
	}
}

// Start begins trigger evaluation and arms one-time timers. Definitions
// registered before Start are picked up here; when the service is disabled
// the definitions are kept and triggering begins on the enabling Apply.
func (s *Service) Start(ctx context.Context) {
	_ = ctx // triggers are wall-clock driven; stop is explicit

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	if !s.cfg.Enabled {
		s.log.Debug("schedule service disabled")
		return
	}
	s.startCronLocked()
}

// Stop halts trigger evaluation and disarms one-time timers. Definitions
// remain registered so a later Start resumes them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	s.started = false
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}

	s.tmu.Lock()
	for _, od := range s.once {
		if od.timer != nil {
			od.timer.Stop()
			od.timer = nil
		}
	}
	s.tmu.Unlock()

	s.log.Info("schedule service stopped", logx.Duration("took", time.Since(start)))
}

// startCronLocked builds a fresh cron runner in the configured timezone,
// registers all definitions, and re-arms one-time timers. Call with s.mu held.
func (s *Service) startCronLocked() {
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		if err := s.addEntryLocked(&s.defs[i]); err != nil {
			s.log.Error("trigger register failed",
				logx.String("name", s.defs[i].name),
				logx.String("spec", s.defs[i].spec),
				logx.Any("err", err),
			)
		}
	}
	s.c.Start()
	s.rearmOnceLocked()
	s.log.Info("schedule service started", logx.String("tz", loc.String()), logx.Int("entries", len(s.defs)))
}

// stopCronLocked tears down the cron runner, keeping definitions. Call with
// s.mu held.
func (s *Service) stopCronLocked() {
	c := s.c
	s.c = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	if c != nil {
		<-c.Stop().Done()
	}

	s.tmu.Lock()
	for _, od := range s.once {
		if od.timer != nil {
			od.timer.Stop()
			od.timer = nil
		}
	}
	s.tmu.Unlock()

	s.log.Info("schedule triggering disabled", logx.Int("entries", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Any("err", err))
		return time.Local
	}
	return loc
}

// fire enqueues one job for a trigger.
func (s *Service) fire(name, jobType string, payload any, opts []jobs.Option) {
	if s.target == nil {
		return
	}
	job, err := s.target.Enqueue(jobType, payload, opts...)
	if err != nil {
		s.reportEnqueueError(name, err)
		return
	}
	s.log.Debug("trigger fired",
		logx.String("name", name),
		logx.String("job", jobType),
		logx.String("id", job.ID),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventFired, Data: FiredEvent{Name: name, JobType: jobType, JobID: job.ID}})
	}
}

// EventFired is published on the bus each time a trigger enqueues a job.
const EventFired = "schedule.fired"

type FiredEvent struct {
	Name    string `json:"name"`
	JobType string `json:"job_type"`
	JobID   string `json:"job_id"`
}
