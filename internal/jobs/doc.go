// Package jobs implements the process-local background job scheduler.
//
// A Scheduler accepts named units of work with an arbitrary payload, orders
// them by priority, defers delayed jobs until their delay elapses, executes a
// bounded number concurrently, retries failures with backoff, and exposes
// per-job state plus aggregate statistics to callers. It is a single-process,
// memory-resident component: nothing is persisted across restarts and there
// is no cross-process coordination.
//
// # Lifecycle
//
// Jobs move through delayed -> waiting -> active -> completed or failed.
// A failed attempt with retries remaining re-enters delayed while it waits
// out the backoff, then competes in the wait list again. Terminal jobs are
// either evicted immediately (retain flags off) or kept queryable until
// Remove or Clean drops them.
//
// # Processors
//
// Work is performed by processors registered per job type. Handle registers
// an untyped processor; the generic Register wraps it with payload shaping
// so a processor can receive a concrete payload type. The scheduler may
// invoke a processor more than once for the same job (retries); deduplicating
// side effects is the caller's responsibility.
//
// # Notifications
//
// Every lifecycle transition publishes a JobEvent on the event bus
// (job.added, job.started, job.progress, job.retry, job.completed,
// job.failed). Publishing is non-blocking and slow subscribers may miss
// events, so statistics are maintained internally rather than derived from
// the bus.
package jobs
