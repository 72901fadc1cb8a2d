// Package alert sends Telegram messages for terminal job failures.
//
// Delivery is rate-capped: failures beyond the cap are counted and
// summarized in the next message instead of being queued. Alerts are
// best-effort and never block the scheduler.
package alert
