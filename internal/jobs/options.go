package jobs

import "time"

// Backoff selects how retry delays grow between attempts.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// Options is the resolved per-job configuration.
//
// Callers never build this directly; Enqueue resolves it from the scheduler
// defaults plus any Option overrides.
type Options struct {
	// Priority orders waiting jobs; higher runs first. Equal priorities
	// dispatch in enqueue order.
	Priority int `json:"priority"`

	// Delay postpones eligibility after enqueue.
	Delay time.Duration `json:"delay"`

	// MaxAttempts bounds executions including the first.
	MaxAttempts int `json:"max_attempts"`

	Backoff Backoff `json:"backoff"`

	// Timeout bounds a single attempt. When exceeded the scheduler stops
	// waiting on the attempt and records a timeout failure; the underlying
	// work is signalled via context cancellation but never force-killed.
	Timeout time.Duration `json:"timeout"`

	// RetainOnComplete keeps the job queryable after success.
	RetainOnComplete bool `json:"retain_on_complete"`

	// RetainOnFail keeps the job queryable after terminal failure.
	RetainOnFail bool `json:"retain_on_fail"`
}

// Option overrides a single default when enqueueing.
type Option func(*Options)

func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

func WithBackoff(b Backoff) Option {
	return func(o *Options) { o.Backoff = b }
}

func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

func WithRetainOnComplete(retain bool) Option {
	return func(o *Options) { o.RetainOnComplete = retain }
}

func WithRetainOnFail(retain bool) Option {
	return func(o *Options) { o.RetainOnFail = retain }
}

func resolveOptions(cfg Config, opts ...Option) Options {
	o := Options{
		MaxAttempts:      cfg.DefaultMaxAttempts,
		Backoff:          cfg.DefaultBackoff,
		Timeout:          cfg.DefaultTimeout,
		RetainOnComplete: true,
		RetainOnFail:     false,
	}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.Backoff != BackoffFixed && o.Backoff != BackoffExponential {
		o.Backoff = BackoffExponential
	}
	if o.Timeout <= 0 {
		o.Timeout = cfg.DefaultTimeout
	}
	return o
}
