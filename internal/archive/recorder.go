package archive

import (
	"context"
	"sync"
	"time"

	"jobmill/internal/eventbus"
	"jobmill/internal/jobs"
	logx "jobmill/pkg/logx"
)

const appendTimeout = 2 * time.Second

// Recorder consumes terminal job events from the bus and appends them to
// the store. With a nil store (archive disabled) it is a no-op.
type Recorder struct {
	log   logx.Logger
	bus   eventbus.Bus
	store Store

	mu      sync.Mutex
	started bool
	unsub   func()
	done    chan struct{}
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{log: log, bus: bus, store: store}
}

// Enabled reports whether a store is attached.
func (r *Recorder) Enabled() bool { return r != nil && r.store != nil }

func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.store == nil || r.bus == nil {
		return
	}
	r.started = true

	ch, unsub := r.bus.Subscribe(128)
	r.unsub = unsub
	r.done = make(chan struct{})
	go r.run(ch, r.done)
	r.log.Debug("archive recorder started")
}

// Stop unsubscribes and waits for buffered events to drain.
// Stop the scheduler first so in-flight terminal events are still captured.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	unsub, done := r.unsub, r.done
	r.unsub, r.done = nil, nil
	r.mu.Unlock()

	unsub()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run(ch <-chan eventbus.Event, done chan struct{}) {
	defer close(done)
	for ev := range ch {
		rec, ok := recordFromEvent(ev)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		err := r.store.AppendRecord(ctx, rec)
		cancel()
		if err != nil {
			r.log.Warn("archive append failed",
				logx.String("job_id", rec.JobID),
				logx.String("type", rec.Type),
				logx.Any("err", err),
			)
		}
	}
}

func recordFromEvent(ev eventbus.Event) (Record, bool) {
	if ev.Type != jobs.EventCompleted && ev.Type != jobs.EventFailed {
		return Record{}, false
	}
	je, ok := ev.Data.(jobs.JobEvent)
	if !ok {
		return Record{}, false
	}
	return Record{
		At:         ev.Time,
		JobID:      je.ID,
		Type:       je.Type,
		Status:     string(je.Status),
		Priority:   je.Priority,
		Attempts:   je.Attempts,
		DurationMS: je.Duration.Milliseconds(),
		Error:      je.Error,
	}, true
}
