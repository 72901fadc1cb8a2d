package alert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"jobmill/internal/eventbus"
	"jobmill/internal/jobs"
	logx "jobmill/pkg/logx"
)

const (
	sendTimeout  = 10 * time.Second
	maxErrorText = 500
)

// Service watches the bus for failed jobs and delivers rate-capped
// Telegram alerts. It is safe for concurrent use.
type Service struct {
	mu  sync.Mutex
	log logx.Logger
	bus eventbus.Bus

	cfg Config

	// dial builds the transport from a token; swapped out in tests.
	dial func(token string) (sender, error)

	started bool
	unsub   func()
	done    chan struct{}

	sent       atomic.Uint64
	backlog    atomic.Uint64 // failures awaiting the next alert's summary line
	suppressed atomic.Uint64
	sendErrors atomic.Uint64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:  log,
		bus:  bus,
		cfg:  cfg.withDefaults(),
		dial: dialTelegram,
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. Transport-affecting changes (token, chat,
// rate) restart the delivery loop.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = cfg
	if !s.started {
		return
	}
	running := s.unsub != nil
	switch {
	case cfg.Enabled && !running:
		s.startLocked()
	case !cfg.Enabled && running:
		s.stopLocked()
	case running && (cfg.Token != prev.Token || cfg.ChatID != prev.ChatID || cfg.RatePerMin != prev.RatePerMin):
		s.stopLocked()
		s.startLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	if !s.cfg.Enabled {
		s.log.Debug("failure alerts disabled")
		return
	}
	s.startLocked()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	unsub, done := s.unsub, s.done
	s.unsub, s.done = nil, nil
	s.mu.Unlock()

	if unsub == nil {
		return
	}
	unsub()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("alert stop cancelled; loop drains in background")
	}
}

func (s *Service) startLocked() {
	if s.unsub != nil || s.bus == nil {
		return
	}
	if strings.TrimSpace(s.cfg.Token) == "" || s.cfg.ChatID == 0 {
		s.log.Warn("failure alerts enabled but telegram token or chat_id missing")
		return
	}
	snd, err := s.dial(s.cfg.Token)
	if err != nil {
		s.log.Warn("alert transport init failed", logx.Any("err", err))
		return
	}

	perMin := s.cfg.RatePerMin
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin)

	ch, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	s.done = make(chan struct{})
	go s.run(ch, snd, s.cfg.ChatID, lim, s.done)
	s.log.Info("failure alerts enabled",
		logx.Int64("chat_id", s.cfg.ChatID),
		logx.Int("rate_per_min", perMin),
	)
}

// stopLocked tears down the delivery loop. The loop never takes s.mu, so
// waiting under the lock cannot deadlock.
func (s *Service) stopLocked() {
	if s.unsub == nil {
		return
	}
	s.unsub()
	done := s.done
	s.unsub, s.done = nil, nil

	t := time.NewTimer(5 * time.Second)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		s.log.Warn("alert loop drain timed out; continuing")
	}
}

func (s *Service) run(ch <-chan eventbus.Event, snd sender, chatID int64, lim *rate.Limiter, done chan struct{}) {
	defer close(done)
	for ev := range ch {
		if ev.Type != jobs.EventFailed {
			continue
		}
		je, ok := ev.Data.(jobs.JobEvent)
		if !ok {
			continue
		}
		s.deliver(snd, chatID, lim, je)
	}
}

func (s *Service) deliver(snd sender, chatID int64, lim *rate.Limiter, je jobs.JobEvent) {
	if !lim.Allow() {
		s.backlog.Add(1)
		s.suppressed.Add(1)
		s.log.Debug("failure alert suppressed",
			logx.String("job_id", je.ID),
			logx.String("type", je.Type),
		)
		return
	}
	backlog := s.backlog.Swap(0)

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	err := snd.send(ctx, chatID, failureText(je, backlog))
	cancel()
	if err != nil {
		s.sendErrors.Add(1)
		s.log.Warn("failure alert send failed",
			logx.Any("err", err),
			logx.String("job_id", je.ID),
		)
		return
	}
	s.sent.Add(1)
	s.bus.Publish(eventbus.Event{Type: EventSent, Data: SentEvent{
		JobID:      je.ID,
		JobType:    je.Type,
		Suppressed: backlog,
	}})
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	running := s.unsub != nil
	s.mu.Unlock()
	return Snapshot{
		Enabled:    enabled,
		Running:    running,
		Sent:       s.sent.Load(),
		Suppressed: s.suppressed.Load(),
		SendErrors: s.sendErrors.Load(),
	}
}

func failureText(je jobs.JobEvent, backlog uint64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\U0001F6A8 job failed: %s\n", je.Type)
	fmt.Fprintf(&b, "id: %s\n", je.ID)
	fmt.Fprintf(&b, "attempts: %d", je.Attempts)
	if je.Duration > 0 {
		fmt.Fprintf(&b, "\ntook: %s", je.Duration.Round(time.Millisecond))
	}
	if je.Error != "" {
		msg := je.Error
		if len(msg) > maxErrorText {
			msg = msg[:maxErrorText]
		}
		fmt.Fprintf(&b, "\nerror: %s", msg)
	}
	if backlog > 0 {
		fmt.Fprintf(&b, "\n(+%d earlier failures not shown)", backlog)
	}
	return b.String()
}
