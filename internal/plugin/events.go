package plugin

import (
	"context"
	"fmt"
	"runtime/debug"

	"arius/internal/eventbus"
	"arius/internal/task"
	"arius/internal/task/engine"
	logx "arius/pkg/logx"
)

// EventTaskOptions apply to every background event delivery. An event reaches
// each plugin once; a failed delivery is logged, not retried.
var EventTaskOptions = engine.TaskOptions{RetryMax: -1}

// Fanout delivers events to every plugin granted the EVENT capability.
type Fanout struct {
	reg  *Registry
	disp *task.Dispatcher
	log  logx.Logger
	bus  eventbus.Bus
}

func NewFanout(reg *Registry, disp *task.Dispatcher, log logx.Logger, bus eventbus.Bus) *Fanout {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fanout{reg: reg, disp: disp.WithOptions(EventTaskOptions), log: log, bus: bus}
}

// Fire dispatches event to each EVENT plugin, preferring the background pool.
// Each plugin is dispatched on its own: a failure is logged and the loop moves
// on to the next plugin.
func (f *Fanout) Fire(ctx context.Context, event string, payload ...any) {
	targets := f.reg.WithCapability(TagEvent)
	failed := 0
	for _, d := range targets {
		h := eventHandle(d, event, payload)
		args := task.Args{Positional: append([]any{event}, payload...)}
		if err := f.disp.Dispatch(ctx, task.Direct(h), task.Background, args); err != nil {
			failed++
			f.log.Warn("plugin event failed",
				logx.String("plugin", d.Slug),
				logx.String("event", event),
				logx.Err(err),
			)
		}
	}
	f.log.Debug("event fired", logx.String("event", event), logx.Int("plugins", len(targets)), logx.Int("failed", failed))
	if f.bus != nil {
		f.bus.Publish(eventbus.Event{Type: "plugin.event.fired", Data: pluginEvent{Event: event, Count: len(targets), Errors: failed}})
	}
}

// eventHandle wraps d's ProcessEvent in a task handle. Panics become errors.
func eventHandle(d *Descriptor, event string, payload []any) *task.Handle {
	eh := d.Plugin().(EventHandler)
	return task.NewHandle("plugin."+d.Slug+".process_event", func(ctx context.Context, _ task.Args) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("plugin %s panicked: %v\n%s", d.Slug, r, debug.Stack())
			}
		}()
		return eh.ProcessEvent(ctx, event, payload...)
	})
}
