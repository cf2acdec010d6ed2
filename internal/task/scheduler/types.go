package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"arius/internal/storage"
	"arius/internal/task"
)

// Config controls the trigger side of the scheduler.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
}

type Kind string

const (
	// KindMinutes runs every Minutes minutes.
	KindMinutes Kind = "minutes"
	KindCron    Kind = "cron"
	KindOnce    Kind = "once"
)

// Known reports whether the trigger knows how to fire kind. Unknown kinds are
// stored as-is and never fire.
func (k Kind) Known() bool {
	switch k {
	case KindMinutes, KindCron, KindOnce:
		return true
	}
	return false
}

// Params are the mutable schedule parameters. Extra carries opaque values,
// including everything for kinds the trigger does not know.
type Params struct {
	Minutes int
	Cron    string
	RunAt   time.Time
	Extra   map[string]string
}

// Entry is one schedule. Key is the reference string and is unique.
type Entry struct {
	ID      string
	Key     string
	Ref     task.Ref
	Kind    Kind
	Minutes int
	Cron    string
	RunAt   time.Time
	Params  map[string]string
	NextRun time.Time
	Prev    time.Time
	Created time.Time
	Updated time.Time
}

// Dispatcher is the part of task.Dispatcher the trigger needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, ref task.Ref, mode task.Mode, args task.Args) error
}

// Persister stores schedule rows.
type Persister interface {
	UpsertSchedule(ctx context.Context, r storage.ScheduleRow) error
	Schedules(ctx context.Context) ([]storage.ScheduleRow, error)
}

// Validate checks that params make sense for kind. Unknown kinds always pass.
func Validate(kind Kind, p Params, parse func(string) error) error {
	switch kind {
	case KindMinutes:
		if p.Minutes <= 0 {
			return fmt.Errorf("minutes must be > 0")
		}
	case KindCron:
		if strings.TrimSpace(p.Cron) == "" {
			return fmt.Errorf("cron spec required")
		}
		if parse != nil {
			if err := parse(p.Cron); err != nil {
				return fmt.Errorf("invalid cron spec %q: %w", p.Cron, err)
			}
		}
	case KindOnce:
		if p.RunAt.IsZero() {
			return fmt.Errorf("run_at required")
		}
	case "":
		return fmt.Errorf("schedule kind required")
	}
	return nil
}

func (e Entry) row() storage.ScheduleRow {
	return storage.ScheduleRow{
		ID:      e.ID,
		Func:    e.Key,
		Kind:    string(e.Kind),
		Minutes: e.Minutes,
		Cron:    e.Cron,
		RunAt:   e.RunAt,
		Params:  copyMap(e.Params),
		NextRun: e.NextRun,
		Created: e.Created,
		Updated: e.Updated,
	}
}

func entryFromRow(r storage.ScheduleRow) Entry {
	return Entry{
		ID:      r.ID,
		Key:     r.Func,
		Ref:     task.Path(r.Func),
		Kind:    Kind(r.Kind),
		Minutes: r.Minutes,
		Cron:    r.Cron,
		RunAt:   r.RunAt,
		Params:  copyMap(r.Params),
		NextRun: r.NextRun,
		Created: r.Created,
		Updated: r.Updated,
	}
}

func copyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
