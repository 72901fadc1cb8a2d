package jobs

import "time"

// Event bus topics published by the scheduler.
const (
	EventAdded     = "job.added"
	EventStarted   = "job.started"
	EventProgress  = "job.progress"
	EventRetry     = "job.retry"
	EventCompleted = "job.completed"
	EventFailed    = "job.failed"
)

// JobEvent is the payload published on the event bus for job lifecycle
// transitions. It carries enough to log, alert, or archive without a
// follow-up query; Result and Payload stay off the bus on purpose.
type JobEvent struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Status   Status `json:"status"`
	Priority int    `json:"priority"`
	Progress int    `json:"progress"`
	Attempts int    `json:"attempts"`

	// Duration is the first-start to settle time, set on terminal events.
	Duration time.Duration `json:"duration"`

	// NextRetryIn is the backoff wait, set on job.retry events.
	NextRetryIn time.Duration `json:"next_retry_in,omitempty"`

	Error string `json:"error,omitempty"`
}

func eventFor(j Job) JobEvent {
	ev := JobEvent{
		ID:       j.ID,
		Type:     j.Type,
		Status:   j.Status,
		Priority: j.Options.Priority,
		Progress: j.Progress,
		Attempts: j.Attempts,
	}
	if len(j.Errors) > 0 {
		ev.Error = j.Errors[len(j.Errors)-1]
	}
	switch {
	case !j.CompletedAt.IsZero() && !j.StartedAt.IsZero():
		ev.Duration = j.CompletedAt.Sub(j.StartedAt)
	case !j.FailedAt.IsZero() && !j.StartedAt.IsZero():
		ev.Duration = j.FailedAt.Sub(j.StartedAt)
	}
	return ev
}
