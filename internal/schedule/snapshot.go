package schedule

import (
	"sort"
	"time"
)

// Snapshot returns the registered triggers and their next/previous run times.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	tz := s.cfg.Timezone
	defs := make([]entryDef, len(s.defs))
	copy(defs, s.defs)
	c := s.c
	loc := s.loc
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	if tz == "" {
		tz = loc.String()
	}

	entries := make([]EntryInfo, 0, len(defs))
	for _, d := range defs {
		it := EntryInfo{ID: d.id, Name: d.name, Spec: d.spec, JobType: d.jobType}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		entries = append(entries, it)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	s.tmu.Lock()
	once := make([]OnceInfo, 0, len(s.once))
	for name, od := range s.once {
		once = append(once, OnceInfo{Name: name, At: od.at, JobType: od.jobType})
	}
	s.tmu.Unlock()
	sort.Slice(once, func(i, j int) bool { return once[i].Name < once[j].Name })

	return Snapshot{
		Enabled:  enabled,
		Running:  c != nil,
		Timezone: tz,
		Entries:  entries,
		Once:     once,
	}
}
