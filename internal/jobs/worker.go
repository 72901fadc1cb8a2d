package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "jobmill/pkg/logx"
)

// runSlot is one execution slot: it pulls the highest-priority eligible
// job, runs its processor, and settles the outcome, until ctx is cancelled.
func (s *Scheduler) runSlot(ctx context.Context) {
	for {
		// Fast-exit check so cancellation wins over queued work.
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.dispatchOne() {
			continue
		}

		s.mu.Lock()
		poll := s.cfg.PollInterval
		s.mu.Unlock()

		t := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-s.wake:
			t.Stop()
		case <-t.C:
		}
	}
}

// dispatchOne pops and runs the head of the wait list. It returns false when
// nothing is dispatchable (empty list, paused, or shut down).
func (s *Scheduler) dispatchOne() bool {
	s.mu.Lock()
	if s.paused || s.shutdown {
		s.mu.Unlock()
		return false
	}
	rec := s.wait.pop()
	if rec == nil {
		s.mu.Unlock()
		return false
	}

	proc := s.processorFor(rec.typ)
	if proc == nil {
		// Dispatch error: immediately terminal, and it does not consume
		// an attempt.
		rec.status = StatusFailed
		rec.failedAt = time.Now()
		rec.errs = append(rec.errs, "no processor registered for job type: "+rec.typ)
		s.stats.totalFailed++
		view := rec.view()
		if !rec.opts.RetainOnFail {
			delete(s.jobs, rec.id)
		}
		more := s.wait.len() > 0
		s.mu.Unlock()

		s.publish(EventFailed, eventFor(view))
		s.log.Warn("job failed: no processor registered", logx.String("job", view.Type), logx.String("id", view.ID))
		if more {
			s.wakeSlot()
		}
		return true
	}

	now := time.Now()
	rec.status = StatusActive
	if rec.startedAt.IsZero() {
		rec.startedAt = now
	}
	rec.attempts++
	attempt := rec.attempts
	s.active[rec.id] = struct{}{}
	view := rec.view()
	more := s.wait.len() > 0
	s.mu.Unlock()

	// Pass the wake token on before blocking on the processor so other
	// slots pick up the remaining work immediately.
	if more {
		s.wakeSlot()
	}

	s.publish(EventStarted, eventFor(view))
	s.log.Debug("job started", logx.String("job", view.Type), logx.String("id", view.ID), logx.Int("attempt", attempt))

	s.execute(view, attempt, proc)
	return true
}

type outcome struct {
	result any
	err    error
}

// execute runs one attempt with its timeout and settles the result.
//
// The processor runs in its own goroutine. On timeout the slot records the
// failure and moves on; the attempt context is cancelled so cooperative
// work can stop, but the goroutine is never force-killed. A stuck processor
// therefore occupies only its own goroutine, not the slot. The attempt
// context deliberately does not derive from the slot context: shutdown
// waits for active jobs rather than cancelling them.
func (s *Scheduler) execute(job Job, attempt int, proc ProcessorFunc) {
	runCtx, cancel := context.WithTimeout(context.Background(), job.Options.Timeout)
	defer cancel()

	id := job.ID
	progress := func(pct int) { s.setProgress(id, attempt, pct) }

	done := make(chan outcome, 1)
	go func() {
		// Convert processor panics to errors so one bad job can't take
		// down a slot.
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("job panicked", logx.String("job", job.Type), logx.String("id", id), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := proc(runCtx, job, progress)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && runCtx.Err() != nil {
			out.err = errTimeout
		}
		s.settle(id, attempt, out)
	case <-runCtx.Done():
		// Prefer an outcome that raced the deadline.
		select {
		case out := <-done:
			if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
				out.err = errTimeout
			}
			s.settle(id, attempt, out)
		default:
			s.settle(id, attempt, outcome{err: errTimeout})
		}
	}
}

// settle routes an attempt outcome into job state. Outcomes from abandoned
// attempts (a timeout already recorded, or a later attempt already running)
// are dropped by the attempt guard.
func (s *Scheduler) settle(id string, attempt int, out outcome) {
	now := time.Now()

	s.mu.Lock()
	rec := s.jobs[id]
	if rec == nil || rec.status != StatusActive || rec.attempts != attempt {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)

	if out.err == nil {
		rec.result = out.result
		rec.progress = 100
		rec.status = StatusCompleted
		rec.completedAt = now
		s.stats.totalProcessed++
		s.stats.addSample(now.Sub(rec.startedAt))
		view := rec.view()
		if !rec.opts.RetainOnComplete {
			delete(s.jobs, id)
		}
		s.mu.Unlock()

		s.publish(EventCompleted, eventFor(view))
		dur := now.Sub(view.StartedAt)
		if dur >= 750*time.Millisecond {
			s.log.Info("job completed", logx.String("job", view.Type), logx.String("id", id), logx.Duration("dur", dur), logx.Int("attempts", attempt))
		} else {
			s.log.Debug("job completed", logx.String("job", view.Type), logx.String("id", id), logx.Duration("dur", dur), logx.Int("attempts", attempt))
		}
		return
	}

	rec.errs = append(rec.errs, out.err.Error())
	terminal := rec.attempts >= rec.opts.MaxAttempts || IsNoRetry(out.err)

	if !terminal {
		rec.status = StatusDelayed
		delay := backoffDelay(rec.opts.Backoff, s.cfg.BackoffBase, s.cfg.BackoffMax, rec.attempts)
		if !s.shutdown {
			rec.timer = time.AfterFunc(delay, func() { s.promote(id) })
		}
		view := rec.view()
		s.mu.Unlock()

		ev := eventFor(view)
		ev.NextRetryIn = delay
		s.publish(EventRetry, ev)
		s.log.Debug("job retry scheduled", logx.String("job", view.Type), logx.String("id", id), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Any("err", out.err))
		return
	}

	rec.status = StatusFailed
	rec.failedAt = now
	s.stats.totalFailed++
	view := rec.view()
	if !rec.opts.RetainOnFail {
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	s.publish(EventFailed, eventFor(view))
	s.log.Warn("job failed", logx.String("job", view.Type), logx.String("id", id), logx.Any("err", out.err), logx.Int("attempts", attempt))
}

// setProgress stores a progress report from the currently running attempt.
// Values are clamped to [0,100]; regressions and reports from abandoned
// attempts are ignored.
func (s *Scheduler) setProgress(id string, attempt, pct int) {
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}

	s.mu.Lock()
	rec := s.jobs[id]
	if rec == nil || rec.status != StatusActive || rec.attempts != attempt || pct <= rec.progress {
		s.mu.Unlock()
		return
	}
	rec.progress = pct
	view := rec.view()
	s.mu.Unlock()

	s.publish(EventProgress, eventFor(view))
}
