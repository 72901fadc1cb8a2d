package jobs

import (
	"time"
)

// Status is the externally visible lifecycle state of a job.
type Status string

const (
	StatusDelayed   Status = "delayed"
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is a point-in-time snapshot of a scheduled unit of work.
//
// Snapshots are value copies: mutating one has no effect on the scheduler.
// Payload and Result are shared references and must be treated as read-only.
type Job struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Payload  any     `json:"payload,omitempty"`
	Options  Options `json:"options"`
	Status   Status  `json:"status"`
	Progress int     `json:"progress"`
	Attempts int     `json:"attempts"`

	// Errors holds one message per failed attempt, oldest first.
	Errors []string `json:"errors,omitempty"`

	// Result is set only once the job has completed.
	Result any `json:"result,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	FailedAt    time.Time `json:"failed_at"`
}

// jobRecord is the scheduler-owned mutable state behind a Job snapshot.
// All fields are guarded by Scheduler.mu.
type jobRecord struct {
	id      string
	typ     string
	payload any
	opts    Options

	status   Status
	progress int
	attempts int
	errs     []string
	result   any

	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
	failedAt    time.Time

	// seq orders equal-priority jobs in the wait list. It is reassigned
	// every time the job (re-)enters the wait list so a promoted delayed
	// job competes by the time it became eligible.
	seq uint64

	// index is the wait-list heap slot, -1 while not queued.
	index int

	// timer is the pending delay or retry timer, nil otherwise.
	timer *time.Timer
}

func (r *jobRecord) view() Job {
	j := Job{
		ID:          r.id,
		Type:        r.typ,
		Payload:     r.payload,
		Options:     r.opts,
		Status:      r.status,
		Progress:    r.progress,
		Attempts:    r.attempts,
		Result:      r.result,
		CreatedAt:   r.createdAt,
		StartedAt:   r.startedAt,
		CompletedAt: r.completedAt,
		FailedAt:    r.failedAt,
	}
	if len(r.errs) > 0 {
		j.Errors = append([]string(nil), r.errs...)
	}
	return j
}
