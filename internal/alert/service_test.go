package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"jobmill/internal/eventbus"
	"jobmill/internal/jobs"
	logx "jobmill/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	err   error
	texts []string
	chats []int64
}

func (f *fakeSender) send(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	f.chats = append(f.chats, chatID)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestService(t *testing.T, cfg Config, bus eventbus.Bus) (*Service, *fakeSender) {
	t.Helper()
	fake := &fakeSender{}
	s := New(cfg, logx.Nop(), bus)
	s.dial = func(string) (sender, error) { return fake, nil }
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, fake
}

func failedEvent(id, typ, errText string) eventbus.Event {
	return eventbus.Event{Type: jobs.EventFailed, Data: jobs.JobEvent{
		ID: id, Type: typ, Status: jobs.StatusFailed, Attempts: 3, Error: errText,
	}}
}

func TestAlertOnFailureOnly(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	s, fake := newTestService(t, Config{Enabled: true, Token: "tok", ChatID: 42, RatePerMin: 60}, bus)
	s.Start(context.Background())

	bus.Publish(eventbus.Event{Type: jobs.EventCompleted, Data: jobs.JobEvent{ID: "ok", Type: "echo", Status: jobs.StatusCompleted}})
	bus.Publish(eventbus.Event{Type: jobs.EventStarted, Data: jobs.JobEvent{ID: "run", Type: "echo", Status: jobs.StatusActive}})
	bus.Publish(failedEvent("j1", "email.send", "smtp unreachable"))

	waitFor(t, 2*time.Second, "one alert", func() bool { return fake.count() == 1 })
	time.Sleep(30 * time.Millisecond)
	if fake.count() != 1 {
		t.Fatalf("sent %d alerts, want 1", fake.count())
	}

	text := fake.last()
	for _, want := range []string{"job failed: email.send", "id: j1", "attempts: 3", "error: smtp unreachable"} {
		if !strings.Contains(text, want) {
			t.Fatalf("alert %q missing %q", text, want)
		}
	}
	fake.mu.Lock()
	chat := fake.chats[0]
	fake.mu.Unlock()
	if chat != 42 {
		t.Fatalf("chat = %d, want 42", chat)
	}
	if got := s.Snapshot(); got.Sent != 1 || !got.Running || !got.Enabled {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestRateCapSummarizesBacklog(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	s, fake := newTestService(t, Config{Enabled: true, Token: "tok", ChatID: 1}, bus)

	exhausted := rate.NewLimiter(rate.Every(time.Hour), 1)
	s.deliver(fake, 1, exhausted, jobs.JobEvent{ID: "a", Type: "echo", Attempts: 1, Error: "x"})
	for i := 0; i < 3; i++ {
		s.deliver(fake, 1, exhausted, jobs.JobEvent{ID: "b", Type: "echo", Attempts: 1, Error: "x"})
	}
	if fake.count() != 1 {
		t.Fatalf("sent %d alerts under exhausted limiter, want 1", fake.count())
	}
	if got := s.Snapshot(); got.Suppressed != 3 {
		t.Fatalf("suppressed = %d, want 3", got.Suppressed)
	}

	fresh := rate.NewLimiter(rate.Every(time.Hour), 1)
	s.deliver(fake, 1, fresh, jobs.JobEvent{ID: "c", Type: "echo", Attempts: 2, Error: "y"})
	if fake.count() != 2 {
		t.Fatalf("sent %d alerts, want 2", fake.count())
	}
	if !strings.Contains(fake.last(), "(+3 earlier failures not shown)") {
		t.Fatalf("alert %q missing backlog summary", fake.last())
	}

	// Backlog was flushed; the next alert carries no summary line.
	s.deliver(fake, 1, rate.NewLimiter(rate.Every(time.Hour), 1), jobs.JobEvent{ID: "d", Type: "echo", Attempts: 1})
	if strings.Contains(fake.last(), "earlier failures") {
		t.Fatalf("alert %q should not repeat backlog", fake.last())
	}
}

func TestDisabledSendsNothing(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	s, fake := newTestService(t, Config{Enabled: false, Token: "tok", ChatID: 1}, bus)
	s.Start(context.Background())

	bus.Publish(failedEvent("j1", "echo", "boom"))
	time.Sleep(50 * time.Millisecond)
	if fake.count() != 0 {
		t.Fatalf("sent %d alerts while disabled", fake.count())
	}
	if got := s.Snapshot(); got.Running {
		t.Fatalf("snapshot = %+v, want not running", got)
	}
}

func TestApplyEnablesAndDisables(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	s, fake := newTestService(t, Config{Enabled: false, Token: "tok", ChatID: 7, RatePerMin: 60}, bus)
	s.Start(context.Background())

	s.Apply(Config{Enabled: true, Token: "tok", ChatID: 7, RatePerMin: 60})
	bus.Publish(failedEvent("j1", "echo", "boom"))
	waitFor(t, 2*time.Second, "alert after enable", func() bool { return fake.count() == 1 })

	s.Apply(Config{Enabled: false, Token: "tok", ChatID: 7, RatePerMin: 60})
	if got := s.Snapshot(); got.Running {
		t.Fatalf("snapshot = %+v, want stopped after disable", got)
	}
	bus.Publish(failedEvent("j2", "echo", "boom"))
	time.Sleep(50 * time.Millisecond)
	if fake.count() != 1 {
		t.Fatalf("sent %d alerts after disable, want 1", fake.count())
	}
}

func TestMissingTokenStaysStopped(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	s, _ := newTestService(t, Config{Enabled: true, ChatID: 7}, bus)
	s.Start(context.Background())
	if got := s.Snapshot(); got.Running {
		t.Fatalf("snapshot = %+v, want not running without token", got)
	}
}

func TestSendErrorCounted(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	s, fake := newTestService(t, Config{Enabled: true, Token: "tok", ChatID: 1, RatePerMin: 60}, bus)
	fake.err = errors.New("telegram 502")
	s.Start(context.Background())

	bus.Publish(failedEvent("j1", "echo", "boom"))
	waitFor(t, 2*time.Second, "send error counted", func() bool { return s.Snapshot().SendErrors == 1 })
	if got := s.Snapshot(); got.Sent != 0 {
		t.Fatalf("snapshot = %+v, want no successful sends", got)
	}
}

func TestEventSentPublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	s, _ := newTestService(t, Config{Enabled: true, Token: "tok", ChatID: 1, RatePerMin: 60}, bus)
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	s.Start(context.Background())

	bus.Publish(failedEvent("j1", "email.send", "boom"))
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type != EventSent {
				continue
			}
			se, ok := ev.Data.(SentEvent)
			if !ok || se.JobID != "j1" || se.JobType != "email.send" {
				t.Fatalf("sent event = %+v", ev.Data)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for alert.sent")
		}
	}
}

func TestFailureTextFormat(t *testing.T) {
	t.Parallel()
	je := jobs.JobEvent{ID: "id1", Type: "ai.completion", Attempts: 2, Duration: 1500 * time.Millisecond, Error: "rate limited"}
	text := failureText(je, 0)
	for _, want := range []string{"job failed: ai.completion", "id: id1", "attempts: 2", "took: 1.5s", "error: rate limited"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text %q missing %q", text, want)
		}
	}
	if strings.Contains(text, "earlier failures") {
		t.Fatal("unexpected backlog line")
	}

	long := strings.Repeat("e", maxErrorText+100)
	text = failureText(jobs.JobEvent{ID: "x", Type: "t", Error: long}, 2)
	if strings.Contains(text, long) {
		t.Fatal("error text not truncated")
	}
	if !strings.Contains(text, "(+2 earlier failures not shown)") {
		t.Fatalf("text %q missing backlog line", text)
	}
}
