package tasks

import (
	"context"
	"errors"
	"fmt"

	"arius/internal/task"
	"arius/internal/task/scheduler"
)

// Upserter is the part of scheduler.Store used to install default schedules.
type Upserter interface {
	Upsert(ctx context.Context, ref task.Ref, kind scheduler.Kind, p scheduler.Params) (scheduler.Entry, error)
}

// DefaultHeartbeatMinutes is the heartbeat interval when none is configured.
const DefaultHeartbeatMinutes = 5

// maintenanceTasks run daily unless overridden.
var maintenanceTasks = []string{"delete_successful_tasks", "delete_failed_tasks", "delete_old_error_logs", "check_for_updates"}

// ScheduleDefaults registers the maintenance schedules. overrides maps a task
// name to a schedule string (see scheduler.KindFromSpec) and wins over
// heartbeatMinutes. Calling it again updates the existing entries.
func ScheduleDefaults(ctx context.Context, store Upserter, heartbeatMinutes int, overrides map[string]string) error {
	if heartbeatMinutes <= 0 {
		heartbeatMinutes = DefaultHeartbeatMinutes
	}
	plan := map[string]scheduleSpec{
		"heartbeat": {kind: scheduler.KindMinutes, params: scheduler.Params{Minutes: heartbeatMinutes}},
	}
	for _, name := range maintenanceTasks {
		plan[name] = scheduleSpec{kind: scheduler.KindCron, params: scheduler.Params{Cron: "@daily"}}
	}

	var errs []error
	for name, raw := range overrides {
		if _, ok := plan[name]; !ok {
			errs = append(errs, fmt.Errorf("schedule override %q: no such built-in task", name))
			continue
		}
		kind, p, err := scheduler.KindFromSpec(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule override %q: %w", name, err))
			continue
		}
		plan[name] = scheduleSpec{kind: kind, params: p}
	}

	for _, name := range append([]string{"heartbeat"}, maintenanceTasks...) {
		sp := plan[name]
		if _, err := store.Upsert(ctx, Ref(name), sp.kind, sp.params); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type scheduleSpec struct {
	kind   scheduler.Kind
	params scheduler.Params
}
