// Package schedule registers named triggers (cron, interval, daily, once)
// that enqueue job templates into the scheduler when they fire.
//
// This layer only computes trigger times and enqueues; execution, retry,
// and bookkeeping all live in internal/jobs.
package schedule
