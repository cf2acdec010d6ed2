package plugin

import (
	"context"
	"errors"
	"fmt"

	"arius/internal/task"
	"arius/internal/task/scheduler"
	logx "arius/pkg/logx"
)

// ModulePrefix is the task module namespace plugin tasks live under.
const ModulePrefix = "plugin"

// TaskPath is the reference string for a plugin's scheduled task.
func TaskPath(slug, name string) string {
	return ModulePrefix + "." + slug + "." + name
}

// Upserter is the part of scheduler.Store used to register plugin schedules.
type Upserter interface {
	Upsert(ctx context.Context, ref task.Ref, kind scheduler.Kind, p scheduler.Params) (scheduler.Entry, error)
}

// RegisterSchedules exposes every SCHEDULE plugin's tasks in tbl and upserts
// their schedules. Modules are installed as loaders backed by the registry,
// so a task whose plugin disappears on a later reload stops resolving.
func RegisterSchedules(ctx context.Context, reg *Registry, tbl *task.Table, store Upserter, log logx.Logger) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	var errs []error
	for _, d := range reg.WithCapability(TagSchedule) {
		slug := d.Slug
		tbl.RegisterLoader(ModulePrefix+"."+slug, func(context.Context) (task.Module, error) {
			cur, ok := reg.Get(slug)
			if !ok || !cur.Has(TagSchedule) {
				return task.Module{}, fmt.Errorf("plugin %s not loaded", slug)
			}
			funcs := map[string]task.Func{}
			for _, st := range cur.Plugin().(ScheduleProvider).ScheduledTasks() {
				funcs[st.Name] = st.Func
			}
			return task.Module{Funcs: funcs}, nil
		})

		for _, st := range d.Plugin().(ScheduleProvider).ScheduledTasks() {
			ref := task.Path(TaskPath(slug, st.Name))
			if _, err := store.Upsert(ctx, ref, st.Kind, st.Params); err != nil {
				errs = append(errs, err)
				log.Warn("plugin schedule rejected", logx.String("plugin", slug), logx.String("task", st.Name), logx.Err(err))
				continue
			}
			log.Debug("plugin schedule registered", logx.String("plugin", slug), logx.String("ref", ref.String()))
		}
	}
	return errors.Join(errs...)
}
