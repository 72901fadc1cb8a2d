package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyType = errors.New("job type is required")
	ErrShutdown  = errors.New("scheduler is shut down")
)

// errTimeout is recorded on a job when an attempt exceeds its timeout.
// The message is part of the public contract: callers match on "timeout".
var errTimeout = errors.New("job timeout exceeded")

// NoRetry marks an error as non-retryable.
//
// Processors can wrap validation errors or other permanent failures with
// NoRetry so the scheduler fails the job terminally instead of burning the
// remaining attempts.
//
// Example:
//
//	return nil, jobs.NoRetry(fmt.Errorf("bad input: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }
