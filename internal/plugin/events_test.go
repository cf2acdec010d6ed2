package plugin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arius/internal/eventbus"
	"arius/internal/task"
	"arius/internal/task/engine"
	logx "arius/pkg/logx"
)

type received struct {
	mu  sync.Mutex
	got map[string][]any
}

func (r *received) hook(slug string) func(string, ...any) error {
	return func(event string, payload ...any) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.got[slug] = append([]any{event}, payload...)
		return nil
	}
}

func TestFanoutIsolatesFailures(t *testing.T) {
	t.Parallel()

	rec := &received{got: map[string][]any{}}
	r := NewRegistry(WithSources(Static("test",
		factory(&eventPlugin{Base: named("first"), fn: rec.hook("first")}),
		factory(&eventPlugin{Base: named("raises"), fn: func(string, ...any) error { return errors.New("boom") }}),
		factory(&eventPlugin{Base: named("panics"), fn: func(string, ...any) error { panic("bad plugin") }}),
		factory(&eventPlugin{Base: named("last"), fn: rec.hook("last")}),
	)))
	reload(t, r)

	bus := eventbus.New()
	ch, unsub := bus.SubscribePrefix("plugin.event", 1)
	defer unsub()

	// No pool: Background falls back to inline, so delivery is synchronous.
	disp := task.NewDispatcher(task.NewTable())
	NewFanout(r, disp, logx.Nop(), bus).Fire(context.Background(), "order.created", 42, "x")

	assert.Equal(t, []any{"order.created", 42, "x"}, rec.got["first"])
	assert.Equal(t, []any{"order.created", 42, "x"}, rec.got["last"])

	e := <-ch
	ev := e.Data.(pluginEvent)
	assert.Equal(t, 4, ev.Count)
	assert.Equal(t, 2, ev.Errors)
}

func TestFanoutSkipsUngrantedPlugins(t *testing.T) {
	t.Parallel()

	rec := &received{got: map[string][]any{}}
	r := NewRegistry(
		WithSources(Static("test",
			factory(&eventPlugin{Base: named("on"), fn: rec.hook("on")}),
			factory(&eventPlugin{Base: named("off"), fn: rec.hook("off")}),
			factory(undeclared{Base: named("silent")}),
		)),
		WithDisabled("off"),
	)
	reload(t, r)

	NewFanout(r, task.NewDispatcher(task.NewTable()), logx.Nop(), nil).Fire(context.Background(), "ping")

	require.Contains(t, rec.got, "on")
	assert.NotContains(t, rec.got, "off")
	assert.Len(t, rec.got, 1)
}

func TestEventHandleName(t *testing.T) {
	t.Parallel()

	d := &Descriptor{Slug: "sampleevent", plugin: &eventPlugin{Base: named("x")}}
	h := eventHandle(d, "e", nil)
	assert.Equal(t, "plugin.sampleevent.process_event", h.Name)
	assert.Equal(t, "plugin.sampleevent.process_event", task.Direct(h).String())
}

func TestFanoutDeliversOncePerPluginInBackground(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := NewRegistry(WithSources(Static("test",
		factory(&eventPlugin{Base: named("fails"), fn: func(string, ...any) error {
			calls.Add(1)
			return errors.New("boom")
		}}),
	)))
	reload(t, r)

	pool := engine.New(engine.Config{Enabled: true, Workers: 1, RetryMax: 3}, logx.Nop(), nil, nil)
	pool.Start(context.Background())
	defer pool.Stop(context.Background())

	disp := task.NewDispatcher(task.NewTable(), task.WithPool(pool))
	NewFanout(r, disp, logx.Nop(), nil).Fire(context.Background(), "order.created")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, pool.WaitIdle(ctx))
	assert.Equal(t, int32(1), calls.Load())
}
