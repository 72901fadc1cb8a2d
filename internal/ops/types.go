package ops

import (
	"errors"
	"time"

	"jobmill/internal/alert"
	"jobmill/internal/archive"
	"jobmill/internal/eventbus"
	"jobmill/internal/jobs"
	"jobmill/internal/schedule"
)

// ErrNotFound is returned by job lookups for unknown IDs.
var ErrNotFound = errors.New("job not found")

// Config controls the ops HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	// Pprof mounts the profiler under /debug/pprof/.
	Pprof bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
}

// Deps are the read-only views the endpoints serve. Scheduler is
// required; the rest may be nil when the matching feature is off.
type Deps struct {
	Scheduler *jobs.Scheduler
	Schedules *schedule.Service
	Archive   archive.Store
	Alerts    *alert.Service
	Bus       eventbus.Bus
}
