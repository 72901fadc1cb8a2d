package alert

import "context"

// Config configures failure alerting. Disabled by default; Token and
// ChatID are both required to actually send.
type Config struct {
	Enabled bool
	Token   string
	ChatID  int64

	// RatePerMin caps outbound messages per minute (default 6). Failures
	// beyond the cap are counted and reported in the next alert.
	RatePerMin int
}

func (c Config) withDefaults() Config {
	if c.RatePerMin <= 0 {
		c.RatePerMin = 6
	}
	return c
}

// sender is the delivery seam; production uses Telegram.
type sender interface {
	send(ctx context.Context, chatID int64, text string) error
}

// Snapshot is a point-in-time view of the alerter for diagnostics.
type Snapshot struct {
	Enabled    bool   `json:"enabled"`
	Running    bool   `json:"running"`
	Sent       uint64 `json:"sent"`
	Suppressed uint64 `json:"suppressed"`
	SendErrors uint64 `json:"send_errors"`
}

// EventSent is published on the bus after a successful delivery.
const EventSent = "alert.sent"

// SentEvent is the payload for EventSent.
type SentEvent struct {
	JobID      string `json:"job_id"`
	JobType    string `json:"job_type"`
	Suppressed uint64 `json:"suppressed,omitempty"`
}
