// Package archive persists terminal job outcomes for post-mortem inspection.
//
// It currently supports:
//   - Record appends for completed and failed jobs (fed from the event bus)
//   - A bounded recent read-back for the ops endpoints
package archive
