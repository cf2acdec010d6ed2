package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "memory": process-local maps (tests, one-shot CLI runs)
//   - "file": JSON snapshot file, rewritten atomically on each mutation
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// JobRecord is one row of the job result ledger written for background work.
type JobRecord struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Func     string    `json:"func"`
	Args     string    `json:"args,omitempty"`
	Started  time.Time `json:"started"`
	Stopped  time.Time `json:"stopped"`
	Success  bool      `json:"success"`
	Result   string    `json:"result,omitempty"`
	Attempts int       `json:"attempts"`
}

// JobFilter selects ledger rows. Zero fields match everything.
type JobFilter struct {
	Func    string
	Success *bool
	// Before matches rows that stopped strictly before this time.
	Before time.Time
}

func (f JobFilter) match(r JobRecord) bool {
	if f.Func != "" && r.Func != f.Func {
		return false
	}
	if f.Success != nil && r.Success != *f.Success {
		return false
	}
	if !f.Before.IsZero() && !r.Stopped.Before(f.Before) {
		return false
	}
	return true
}

// ErrorEntry is one persisted error log line.
type ErrorEntry struct {
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Fields  string    `json:"fields,omitempty"`
}

// ScheduleRow is the persisted form of a recurring job definition.
// Func is the unique key.
type ScheduleRow struct {
	ID      string            `json:"id"`
	Func    string            `json:"func"`
	Kind    string            `json:"kind"`
	Minutes int               `json:"minutes,omitempty"`
	Cron    string            `json:"cron,omitempty"`
	RunAt   time.Time         `json:"run_at,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	NextRun time.Time         `json:"next_run,omitempty"`
	Created time.Time         `json:"created"`
	Updated time.Time         `json:"updated"`
}

// Bool returns a pointer to v, for JobFilter.Success.
func Bool(v bool) *bool { return &v }
