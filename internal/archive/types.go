package archive

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("archive disabled")

// Config configures the archive.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", the archive is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one terminal job outcome.
// Keep it compact and schema-stable; payloads and results stay with the
// scheduler and are not archived.
type Record struct {
	At         time.Time `json:"at"`
	JobID      string    `json:"job_id"`
	Type       string    `json:"type"`
	Status     string    `json:"status"` // "completed" | "failed"
	Priority   int       `json:"priority,omitempty"`
	Attempts   int       `json:"attempts"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}
