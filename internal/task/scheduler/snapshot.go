package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Snapshot is a diagnostic view of the trigger.
type Snapshot struct {
	Enabled  bool
	Running  bool
	Timezone string
	Entries  []Entry
}

// Snapshot returns entries with cron-computed next/prev times when armed.
func (s *Store) Snapshot() Snapshot {
	entries := s.List()

	s.mu.Lock()
	enabled := s.cfg.Enabled
	tz := s.cfg.Timezone
	c := s.c
	ids := make(map[string]cron.EntryID, len(s.cronIDs))
	for k, id := range s.cronIDs {
		ids[k] = id
	}
	s.mu.Unlock()

	if tz == "" {
		tz = s.location().String()
	}
	if c != nil {
		for i := range entries {
			id, ok := ids[entries[i].Key]
			if !ok {
				continue
			}
			ce := c.Entry(id)
			if !ce.Next.IsZero() {
				entries[i].NextRun = ce.Next
			}
			if !ce.Prev.IsZero() && ce.Prev.After(entries[i].Prev) {
				entries[i].Prev = ce.Prev
			}
		}
	}
	return Snapshot{Enabled: enabled, Running: c != nil, Timezone: tz, Entries: entries}
}

// Due reports entries whose next run is at or before now.
func (s Snapshot) Due(now time.Time) []Entry {
	var out []Entry
	for _, e := range s.Entries {
		if !e.NextRun.IsZero() && !e.NextRun.After(now) {
			out = append(out, e)
		}
	}
	return out
}
