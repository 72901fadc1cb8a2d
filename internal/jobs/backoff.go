package jobs

import "time"

// backoffDelay computes the wait before the next attempt, given the number
// of attempts already made.
//
// Fixed mode always waits base. Exponential mode doubles per retry starting
// from base, so after attempt 1 the wait is base, after attempt 2 it is
// 2*base, and so on, capped at maxDelay. No jitter: retry timing is part of
// the observable contract and stays deterministic.
func backoffDelay(mode Backoff, base, maxDelay time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if mode == BackoffFixed {
		if base > maxDelay {
			return maxDelay
		}
		return base
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}
