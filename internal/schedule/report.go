package schedule

import (
	"errors"
	"time"

	"jobmill/internal/jobs"
	logx "jobmill/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// reportEnqueueError logs a failed trigger enqueue, at most once per throttle
// window per trigger. Triggers can fire every few seconds; without the
// throttle a shut-down scheduler would flood the log.
func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	if s.lastEnqWarn == nil {
		s.lastEnqWarn = make(map[string]time.Time)
	}
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	if errors.Is(err, jobs.ErrShutdown) {
		// Normal during process teardown.
		s.log.Debug("trigger enqueue skipped", logx.String("trigger", name), logx.Any("err", err))
		return
	}
	s.log.Warn("trigger failed to enqueue job", logx.String("trigger", name), logx.Any("err", err))
}
