package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobmill/internal/eventbus"
	rtsup "jobmill/internal/runtime/supervisor"
	logx "jobmill/pkg/logx"
)

// Config controls a Scheduler instance.
type Config struct {
	// Concurrency is the number of execution slots (default 2). All job
	// types share the same pool.
	Concurrency int

	// PollInterval bounds how long an idle slot waits before rechecking
	// the wait list (default 1s). Enqueues and timer firings wake slots
	// early; the poll is only the fallback.
	PollInterval time.Duration

	DefaultMaxAttempts int           // default 3
	DefaultBackoff     Backoff       // default exponential
	DefaultTimeout     time.Duration // default 5m

	// BackoffBase and BackoffMax shape the retry delays (defaults 1s/30s).
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// CleanInterval is the automatic cleanup period (default 5m).
	// Negative disables the sweep; on-demand Clean still works.
	CleanInterval time.Duration

	// CleanMaxAge is the terminal-job age used by the automatic sweep and
	// by Clean(0) (default 24h).
	CleanMaxAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = 3
	}
	if c.DefaultBackoff != BackoffFixed && c.DefaultBackoff != BackoffExponential {
		c.DefaultBackoff = BackoffExponential
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Minute
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.CleanInterval == 0 {
		c.CleanInterval = 5 * time.Minute
	}
	if c.CleanMaxAge <= 0 {
		c.CleanMaxAge = 24 * time.Hour
	}
	return c
}

// Scheduler owns the job table, wait list, delay timers, and execution
// slots. Instances are independent; tests run several side by side.
type Scheduler struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	jobs   map[string]*jobRecord
	wait   waitList
	active map[string]struct{}
	seq    uint64

	stats statsState

	paused   bool
	shutdown bool

	sup      *rtsup.Supervisor
	stopDone chan struct{}

	// wake nudges one idle slot; capacity 1 because slots re-nudge while
	// the wait list stays non-empty.
	wake chan struct{}

	procMu sync.RWMutex
	procs  map[string]ProcessorFunc
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Scheduler {
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		log:    log,
		bus:    bus,
		jobs:   make(map[string]*jobRecord),
		active: make(map[string]struct{}),
		wake:   make(chan struct{}, 1),
		procs:  make(map[string]ProcessorFunc),
	}
}

// Start launches the execution slots and the cleanup sweep. It is
// idempotent and a no-op after Shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.shutdown || s.sup != nil {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "jobs"))),
		// A failing slot restarts; it must not take the process down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.Concurrency; i++ {
		name := fmt.Sprintf("slot.%d", i)
		sup.GoRestart(name, func(c context.Context) error {
			s.runSlot(c)
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("slot exited unexpectedly")
		},
			rtsup.WithPublishFirstError(true),
		)
	}

	if cfg.CleanInterval > 0 {
		sup.GoRestart("cleaner", func(c context.Context) error {
			s.runCleaner(c)
			return c.Err()
		})
	}

	s.log.Info("scheduler started",
		logx.Int("concurrency", cfg.Concurrency),
		logx.Duration("poll", cfg.PollInterval),
		logx.Duration("clean_interval", cfg.CleanInterval),
	)
}

// Apply installs a new config. If execution settings changed while running,
// the slots are restarted between jobs; queued and delayed work is kept.
func (s *Scheduler) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.sup != nil && !s.shutdown
	s.mu.Unlock()

	if !running {
		return
	}
	if prev.Concurrency != cfg.Concurrency || prev.PollInterval != cfg.PollInterval || prev.CleanInterval != cfg.CleanInterval {
		s.restartSlots(ctx)
	}
}

func (s *Scheduler) restartSlots(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
		// Slots finish their in-flight job before exiting.
		_ = sup.Wait(ctx)
	}
	s.Start(ctx)
}

// Enqueue submits a job and returns its snapshot immediately. It fails only
// for structural reasons; processor behavior surfaces on the job itself.
func (s *Scheduler) Enqueue(jobType string, payload any, opts ...Option) (Job, error) {
	typ := strings.TrimSpace(jobType)
	if typ == "" {
		return Job{}, ErrEmptyType
	}

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return Job{}, ErrShutdown
	}
	o := resolveOptions(s.cfg, opts...)
	now := time.Now()
	rec := &jobRecord{
		id:        uuid.NewString(),
		typ:       typ,
		payload:   payload,
		opts:      o,
		createdAt: now,
		index:     -1,
	}
	if o.Delay > 0 {
		rec.status = StatusDelayed
		id := rec.id
		rec.timer = time.AfterFunc(o.Delay, func() { s.promote(id) })
	} else {
		rec.status = StatusWaiting
		s.seq++
		rec.seq = s.seq
		s.wait.push(rec)
	}
	s.jobs[rec.id] = rec
	view := rec.view()
	s.mu.Unlock()

	s.publish(EventAdded, eventFor(view))
	s.log.Debug("job added",
		logx.String("job", typ),
		logx.String("id", view.ID),
		logx.Int("priority", o.Priority),
		logx.Duration("delay", o.Delay),
	)
	if o.Delay <= 0 {
		s.wakeSlot()
	}
	return view, nil
}

// promote moves a delayed job into the wait list once its timer fires.
// Both enqueue delays and retry backoffs land here.
func (s *Scheduler) promote(id string) {
	s.mu.Lock()
	rec := s.jobs[id]
	if rec == nil || rec.status != StatusDelayed || s.shutdown {
		s.mu.Unlock()
		return
	}
	rec.timer = nil
	rec.status = StatusWaiting
	s.seq++
	rec.seq = s.seq
	s.wait.push(rec)
	s.mu.Unlock()

	s.wakeSlot()
}

// Job returns a snapshot of the job, if it is still resident.
func (s *Scheduler) Job(id string) (Job, bool) {
	s.mu.Lock()
	rec := s.jobs[id]
	if rec == nil {
		s.mu.Unlock()
		return Job{}, false
	}
	view := rec.view()
	s.mu.Unlock()
	return view, true
}

// Jobs lists resident jobs, optionally filtered by status, ordered by
// creation time.
func (s *Scheduler) Jobs(statuses ...Status) []Job {
	s.mu.Lock()
	out := make([]Job, 0, len(s.jobs))
	for _, rec := range s.jobs {
		if len(statuses) > 0 {
			match := false
			for _, st := range statuses {
				if rec.status == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, rec.view())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Remove drops a job that is not running: it cancels a pending delay or
// retry timer, pulls the job out of the wait list, and evicts it from the
// table. Active or unknown ids return false; removing an id twice returns
// true then false.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	rec := s.jobs[id]
	if rec == nil || rec.status == StatusActive {
		s.mu.Unlock()
		return false
	}
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	if rec.index >= 0 {
		s.wait.remove(rec)
	}
	delete(s.jobs, id)
	s.mu.Unlock()

	s.log.Debug("job removed", logx.String("job", rec.typ), logx.String("id", id))
	return true
}

// Pause stops dispatching new jobs. Active jobs run to completion and
// queued, delayed, and retrying work is kept.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	if s.shutdown || s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = true
	s.mu.Unlock()
	s.log.Info("scheduler paused")
}

// Resume restarts dispatch after Pause.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	if s.shutdown || !s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = false
	s.mu.Unlock()
	s.log.Info("scheduler resumed")
	s.wakeSlot()
}

// Shutdown stops dispatch, cancels all pending delay and retry timers, and
// waits (bounded by ctx) for active jobs to finish. Delayed jobs stay
// delayed forever: this scheduler does not persist, so a fresh process
// starts with a fresh instance. Shutdown is terminal; queries keep working
// but Enqueue fails afterwards.
func (s *Scheduler) Shutdown(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.shutdown {
		done := s.stopDone
		s.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
			}
		}
		return
	}
	s.shutdown = true
	for _, rec := range s.jobs {
		if rec.timer != nil {
			rec.timer.Stop()
			rec.timer = nil
		}
	}
	done := make(chan struct{})
	s.stopDone = done
	sup := s.sup
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}
	go func() {
		// Wait unbounded in background; the caller can still time out.
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler shutdown timed out", logx.Any("err", ctx.Err()))
	}
}

func (s *Scheduler) publish(topic string, ev JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: topic, Data: ev})
}

// wakeSlot nudges one idle slot. Slots re-nudge after each dispatch while
// work remains, so a single token fans out; the poll interval covers the
// rest.
func (s *Scheduler) wakeSlot() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
