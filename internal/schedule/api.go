package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"jobmill/internal/jobs"
	logx "jobmill/pkg/logx"
)

// Add parses spec and registers the matching trigger kind. The returned id is
// the trigger name; registering the same name again replaces the old trigger.
//
// Supported spec formats:
//   - Cron: "*/5 * * * *", "55 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Daily HH:MM: "07:30" (every day at 07:30 in the service timezone)
func (s *Service) Add(name, spec, jobType string, payload any, opts ...jobs.Option) (string, error) {
	ps, err := ParseSpec(spec)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case SpecCron:
		return s.AddCron(name, ps.Cron, jobType, payload, opts...)
	case SpecInterval:
		return s.AddInterval(name, ps.Every, jobType, payload, opts...)
	default:
		return "", fmt.Errorf("unsupported spec kind")
	}
}

// AddCron registers a trigger driven by a cron expression.
func (s *Service) AddCron(name, spec, jobType string, payload any, opts ...jobs.Option) (string, error) {
	return s.add(name, spec, "cron", jobType, payload, opts)
}

// AddInterval registers a trigger that fires every fixed duration. The first
// firing is spread out a little to avoid a thundering herd after start.
func (s *Service) AddInterval(name string, every time.Duration, jobType string, payload any, opts ...jobs.Option) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	spec := fmt.Sprintf("@every %s", every.String())
	return s.add(name, spec, "interval", jobType, payload, opts)
}

// AddDaily registers a trigger at HH:MM every day in the service timezone.
func (s *Service) AddDaily(name, atHHMM, jobType string, payload any, opts ...jobs.Option) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	spec := fmt.Sprintf("%d %d * * *", m, h)
	return s.add(name, spec, "cron", jobType, payload, opts)
}

// AddWeekly registers a trigger at HH:MM on the given weekday.
func (s *Service) AddWeekly(name string, weekday time.Weekday, atHHMM, jobType string, payload any, opts ...jobs.Option) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	spec := fmt.Sprintf("%d %d * * %d", m, h, int(weekday))
	return s.add(name, spec, "cron", jobType, payload, opts)
}

func (s *Service) add(name, spec, kind, jobType string, payload any, opts []jobs.Option) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if strings.TrimSpace(jobType) == "" {
		return "", errors.New("job type required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Upsert by name: drop any previous trigger with the same name so
	// hot-reloads and repeated registrations never duplicate.
	_ = s.removeEntryLocked(name)
	s.removeOnceByName(name)

	d := entryDef{
		id:      fmt.Sprintf("%s:%d", kind, time.Now().UnixNano()),
		name:    name,
		spec:    spec,
		jobType: jobType,
		payload: payload,
		opts:    opts,
	}
	s.defs = append(s.defs, d)

	if s.c == nil {
		// Not running (or disabled): keep the definition and register it
		// when triggering starts.
		return name, nil
	}

	err := s.addEntryLocked(&s.defs[len(s.defs)-1])
	if err != nil {
		s.log.Error("trigger register failed", logx.String("name", name), logx.String("spec", spec), logx.Any("err", err))
		return name, err
	}
	args := []logx.Field{
		logx.String("name", name),
		logx.String("spec", spec),
		logx.String("job", jobType),
	}
	if next := s.previewNextRunsLocked(spec, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("trigger registered", args...)
	return name, nil
}

// AddOnce registers a one-time trigger at a wall-clock instant. Instants in
// the past fire immediately.
func (s *Service) AddOnce(name string, at time.Time, jobType string, payload any, opts ...jobs.Option) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if at.IsZero() {
		return "", errors.New("at required")
	}
	if strings.TrimSpace(jobType) == "" {
		return "", errors.New("job type required")
	}

	s.mu.Lock()
	loc := s.loc
	running := s.c != nil
	_ = s.removeEntryLocked(name)
	s.mu.Unlock()
	if loc == nil {
		loc = time.Local
	}

	s.tmu.Lock()
	prev := s.once[name]
	var ver uint64 = 1
	if prev != nil {
		if prev.timer != nil {
			prev.timer.Stop()
		}
		ver = prev.ver + 1
	}
	od := &onceDef{
		at:      at.In(loc),
		jobType: jobType,
		payload: payload,
		opts:    opts,
		ver:     ver,
	}
	s.once[name] = od
	if running {
		s.armOnce(name, od)
	}
	s.tmu.Unlock()

	return name, nil
}

// armOnce starts the runtime timer for a once definition. Call with s.tmu
// held.
func (s *Service) armOnce(name string, od *onceDef) {
	delay := time.Until(od.at)
	if delay < 0 {
		delay = 0
	}
	ver := od.ver
	od.timer = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		cur := s.once[name]
		if cur == nil || cur.ver != ver {
			// Removed or replaced while the timer was pending.
			s.tmu.Unlock()
			return
		}
		// Drop the definition first so a concurrent Stop/Start cannot
		// double-fire it.
		delete(s.once, name)
		s.tmu.Unlock()

		s.fire(name, cur.jobType, cur.payload, cur.opts)
	})
}

// rearmOnceLocked recreates runtime timers for persisted once definitions.
// Call with s.mu held.
func (s *Service) rearmOnceLocked() {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for name, od := range s.once {
		if od.timer != nil {
			od.timer.Stop()
			od.timer = nil
		}
		od.ver++
		s.armOnce(name, od)
	}
}

// Remove unregisters all triggers with the given name. It reports whether
// anything was removed and works whether or not triggering is running.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}

	s.mu.Lock()
	removed := s.removeEntryLocked(name)
	s.mu.Unlock()

	removed = s.removeOnceByName(name) || removed

	if removed {
		s.log.Debug("trigger removed", logx.String("name", name))
	}
	return removed
}

// removeEntryLocked drops all cron/interval definitions matching name and
// unregisters them from the running cron. Call with s.mu held.
func (s *Service) removeEntryLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) removeOnceByName(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	od := s.once[name]
	if od == nil {
		return false
	}
	if od.timer != nil {
		od.timer.Stop()
	}
	delete(s.once, name)
	return true
}

// addEntryLocked registers one definition with the running cron. Call with
// s.mu held.
func (s *Service) addEntryLocked(d *entryDef) error {
	name, jobType, payload, opts := d.name, d.jobType, d.payload, d.opts
	job := cron.FuncJob(func() {
		s.fire(name, jobType, payload, opts)
	})

	// Interval entries get a startup spread so several @every triggers do
	// not all fire together right after start.
	spec := strings.TrimSpace(d.spec)
	if strings.HasPrefix(spec, "@every") {
		every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every")))
		if err == nil && every > 0 {
			loc := s.loc
			if loc == nil {
				loc = time.Local
			}
			sched, jitter := spreadIntervalSchedule(every, time.Now().In(loc), name)
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}

	d.startupSpread = 0
	eid, err := s.c.AddJob(d.spec, job)
	if err == nil {
		d.entryID = eid
	}
	return err
}

// previewNextRunsLocked renders a short list of upcoming run times for log
// output. Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
