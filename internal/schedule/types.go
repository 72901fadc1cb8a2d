package schedule

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"jobmill/internal/eventbus"
	"jobmill/internal/jobs"
	logx "jobmill/pkg/logx"
)

// Config controls the schedule (trigger) service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means time.Local
}

// Enqueuer is the sink for fired triggers. *jobs.Scheduler satisfies it.
type Enqueuer interface {
	Enqueue(jobType string, payload any, opts ...jobs.Option) (jobs.Job, error)
}

// entryDef is a registered cron or interval trigger. Definitions persist
// across Stop/Start; entryID is only valid while cron is running.
type entryDef struct {
	id            string
	name          string
	spec          string // cron expression or "@every <dur>"
	jobType       string
	payload       any
	opts          []jobs.Option
	entryID       cron.EntryID
	startupSpread time.Duration // initial extra delay for @every entries
}

// onceDef is a one-time trigger at a wall-clock instant. The definition
// persists across Stop/Start until it fires or is removed; timer is runtime
// state and ver guards against callbacks from replaced timers.
type onceDef struct {
	at      time.Time
	jobType string
	payload any
	opts    []jobs.Option
	ver     uint64
	timer   *time.Timer
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	target Enqueuer

	parser  cron.Parser
	c       *cron.Cron
	started bool
	defs    []entryDef

	// Enqueue error throttling, keyed by trigger name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	tmu  sync.Mutex
	once map[string]*onceDef
}

type EntryInfo struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	JobType string    `json:"job_type"`
	Next    time.Time `json:"next,omitempty"`
	Prev    time.Time `json:"prev,omitempty"`
}

type OnceInfo struct {
	Name    string    `json:"name"`
	At      time.Time `json:"at"`
	JobType string    `json:"job_type"`
}

type Snapshot struct {
	Enabled  bool        `json:"enabled"`
	Running  bool        `json:"running"`
	Timezone string      `json:"timezone"`
	Entries  []EntryInfo `json:"entries"`
	Once     []OnceInfo  `json:"once,omitempty"`
}
