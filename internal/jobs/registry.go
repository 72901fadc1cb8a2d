package jobs

import (
	"context"
	"encoding/json"
	"fmt"
)

// ProgressFunc reports attempt progress as a percentage. Values are clamped
// to [0,100] and regressions are ignored; calls after the attempt has been
// settled or abandoned have no effect.
type ProgressFunc func(pct int)

// ProcessorFunc executes one attempt of a job and returns its result.
//
// The context carries the attempt timeout; it is cancelled when the
// scheduler stops waiting on the attempt. Returning an error schedules a
// retry unless the error is wrapped with NoRetry or attempts are exhausted.
type ProcessorFunc func(ctx context.Context, job Job, progress ProgressFunc) (any, error)

// Handle registers the processor for a job type, replacing any previous one.
//
// Registration is a configuration-time operation: it is safe to call
// concurrently with execution, but jobs already dispatched keep the
// processor they were dispatched with.
func (s *Scheduler) Handle(jobType string, fn ProcessorFunc) {
	if jobType == "" || fn == nil {
		return
	}
	s.procMu.Lock()
	s.procs[jobType] = fn
	s.procMu.Unlock()
}

// Unregister removes the processor for a job type. Jobs already dispatched
// keep the processor they were dispatched with; jobs dispatched afterwards
// fail as unregistered.
func (s *Scheduler) Unregister(jobType string) {
	s.procMu.Lock()
	delete(s.procs, jobType)
	s.procMu.Unlock()
}

// Register registers a processor that receives the payload as a concrete
// type. It is a free function because Go methods cannot introduce type
// parameters.
//
// The payload is shaped into P by direct assertion first and by a JSON
// round trip otherwise, so map payloads (config- or HTTP-originated) decode
// into struct processors. A payload that cannot take shape P fails the job
// terminally; retrying would never change the payload.
func Register[P any](s *Scheduler, jobType string, fn func(ctx context.Context, job Job, payload P, progress ProgressFunc) (any, error)) {
	if s == nil || jobType == "" || fn == nil {
		return
	}
	s.Handle(jobType, func(ctx context.Context, job Job, progress ProgressFunc) (any, error) {
		p, err := payloadAs[P](job.Payload)
		if err != nil {
			return nil, NoRetry(err)
		}
		return fn(ctx, job, p, progress)
	})
}

func payloadAs[P any](v any) (P, error) {
	if p, ok := v.(P); ok {
		return p, nil
	}
	var p P
	b, err := json.Marshal(v)
	if err != nil {
		return p, fmt.Errorf("payload does not fit %T: %w", p, err)
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("payload does not fit %T: %w", p, err)
	}
	return p, nil
}

func (s *Scheduler) processorFor(jobType string) ProcessorFunc {
	s.procMu.RLock()
	fn := s.procs[jobType]
	s.procMu.RUnlock()
	return fn
}

// Types returns the registered job types, unordered.
func (s *Scheduler) Types() []string {
	s.procMu.RLock()
	out := make([]string, 0, len(s.procs))
	for t := range s.procs {
		out = append(out, t)
	}
	s.procMu.RUnlock()
	return out
}
