package jobs

import (
	"context"
	"time"

	logx "jobmill/pkg/logx"
)

// Clean evicts terminal jobs whose completion or failure is older than
// maxAge and returns how many were dropped. maxAge <= 0 uses the configured
// CleanMaxAge.
//
// Jobs that did not ask to be retained were already evicted when they
// settled; the sweep is the backstop for jobs kept around for inspection.
func (s *Scheduler) Clean(maxAge time.Duration) int {
	now := time.Now()

	s.mu.Lock()
	if maxAge <= 0 {
		maxAge = s.cfg.CleanMaxAge
	}
	cutoff := now.Add(-maxAge)
	n := 0
	for id, rec := range s.jobs {
		switch rec.status {
		case StatusCompleted:
			if rec.completedAt.Before(cutoff) {
				delete(s.jobs, id)
				n++
			}
		case StatusFailed:
			if rec.failedAt.Before(cutoff) {
				delete(s.jobs, id)
				n++
			}
		}
	}
	s.mu.Unlock()

	if n > 0 {
		s.log.Info("cleaned terminal jobs", logx.Int("evicted", n), logx.Duration("max_age", maxAge))
	}
	return n
}

// runCleaner runs the automatic sweep until ctx is cancelled.
func (s *Scheduler) runCleaner(ctx context.Context) {
	s.mu.Lock()
	interval := s.cfg.CleanInterval
	s.mu.Unlock()
	if interval <= 0 {
		return
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Clean(0)
		}
	}
}
