package jobs

import "sort"

// Snapshot is a lightweight diagnostic view for health and ops output.
type Snapshot struct {
	Running  bool `json:"running"`
	Paused   bool `json:"paused"`
	Shutdown bool `json:"shutdown"`

	Concurrency int `json:"concurrency"`

	// WaitLen is the current wait-list depth; Resident counts every job
	// still in the table, terminal retained ones included.
	WaitLen  int `json:"wait_len"`
	Resident int `json:"resident"`

	RegisteredTypes []string `json:"registered_types"`

	Stats Stats `json:"stats"`
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Running:     s.sup != nil && !s.shutdown,
		Paused:      s.paused,
		Shutdown:    s.shutdown,
		Concurrency: s.cfg.Concurrency,
		WaitLen:     s.wait.len(),
		Resident:    len(s.jobs),
	}
	s.mu.Unlock()

	types := s.Types()
	sort.Strings(types)
	snap.RegisteredTypes = types
	snap.Stats = s.Stats()
	return snap
}
