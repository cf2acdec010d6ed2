package plugin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arius/internal/eventbus"
	"arius/internal/task"
	"arius/internal/task/scheduler"
)

type eventPlugin struct {
	Base
	fn func(event string, payload ...any) error
}

func (p *eventPlugin) Mixins() []Tag { return []Tag{TagEvent} }

func (p *eventPlugin) ProcessEvent(_ context.Context, event string, payload ...any) error {
	if p.fn == nil {
		return nil
	}
	return p.fn(event, payload...)
}

// urlsNoMethod declares urls but never implements URLProvider.
type urlsNoMethod struct{ Base }

func (urlsNoMethod) Mixins() []Tag { return []Tag{TagURLs} }

type urlsEmpty struct{ Base }

func (urlsEmpty) Mixins() []Tag  { return []Tag{TagURLs} }
func (urlsEmpty) URLs() []Route { return nil }

// undeclared implements EventHandler but does not claim the mixin.
type undeclared struct{ Base }

func (undeclared) ProcessEvent(context.Context, string, ...any) error { return nil }

type scheduled struct {
	Base
	tasks []ScheduledTask
}

func (p *scheduled) Mixins() []Tag                  { return []Tag{TagSchedule} }
func (p *scheduled) ScheduledTasks() []ScheduledTask { return p.tasks }

func factory(p Plugin) Factory {
	return Factory{Name: p.Meta().Name, New: func() (Plugin, error) { return p, nil }}
}

func named(name string) Base { return Base{M: Meta{Name: name}} }

func reload(t *testing.T, r *Registry) map[string]*Descriptor {
	t.Helper()
	idx, err := r.Reload(context.Background())
	require.NoError(t, err)
	return idx
}

func TestCapabilityGating(t *testing.T) {
	t.Parallel()

	r := NewRegistry(WithSources(Static("test",
		factory(&eventPlugin{Base: named("Good Events")}),
		factory(urlsNoMethod{Base: named("WrongIntegrationPlugin")}),
		factory(urlsEmpty{Base: named("Empty Urls")}),
		factory(undeclared{Base: named("Undeclared")}),
	)))
	idx := reload(t, r)

	require.Len(t, idx, 4)
	wrong := idx["wrongintegrationplugin"]
	require.NotNil(t, wrong)
	assert.Empty(t, wrong.Granted)
	assert.Equal(t, []Tag{TagURLs}, wrong.Declared)
	require.Len(t, wrong.Errors, 1)
	assert.Contains(t, wrong.Errors[0], "URLs")

	assert.Empty(t, r.WithCapability(TagURLs))
	assert.Empty(t, idx["undeclared"].Granted)

	events := r.WithCapability(TagEvent)
	require.Len(t, events, 1)
	assert.Equal(t, "good-events", events[0].Slug)

	var kinds []ErrorKind
	for _, e := range r.Errors() {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []ErrorKind{MixinContractUnsatisfied, MixinContractUnsatisfied}, kinds)
}

func TestMissingIdentityExcluded(t *testing.T) {
	t.Parallel()

	r := NewRegistry(WithSources(Static("test",
		factory(&eventPlugin{Base: named("  ")}),
		factory(&eventPlugin{Base: named("ok")}),
	)))
	idx := reload(t, r)

	assert.Len(t, idx, 1)
	assert.Contains(t, idx, "ok")
	errs := r.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, Identity, errs[0].Kind)
}

func TestDuplicateSlugFirstWins(t *testing.T) {
	t.Parallel()

	first := &eventPlugin{Base: Base{M: Meta{Name: "One", Slug: "same"}}}
	second := &eventPlugin{Base: Base{M: Meta{Name: "Two", Slug: "SAME"}}}
	r := NewRegistry(WithSources(Static("test", factory(first), factory(second))))
	idx := reload(t, r)

	require.Len(t, idx, 1)
	assert.Same(t, first, idx["same"].Plugin())
	errs := r.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, DuplicateSlug, errs[0].Kind)
	assert.EqualError(t, errs[0], `plugin "same": duplicate slug`)
}

func TestInstantiationFailureIsolated(t *testing.T) {
	t.Parallel()

	r := NewRegistry(WithSources(Static("test",
		Factory{Name: "Exploding", New: func() (Plugin, error) { panic("kaboom") }},
		Factory{Name: "Failing", New: func() (Plugin, error) { return nil, errors.New("no config") }},
		Factory{Name: "Empty"},
		factory(&eventPlugin{Base: named("survivor")}),
	)))
	idx := reload(t, r)

	assert.Len(t, idx, 1)
	assert.Contains(t, idx, "survivor")

	failed := r.Failed()
	require.Len(t, failed, 3)
	assert.Equal(t, "exploding", failed[0].Slug)
	assert.Contains(t, failed[0].Errors[0], "panic: kaboom")
	assert.Contains(t, failed[1].Errors[0], "no config")
	for _, e := range r.Errors() {
		assert.Equal(t, InstantiationFailure, e.Kind)
	}
}

func TestSourceFailureStrictness(t *testing.T) {
	t.Parallel()

	good := Static("good", factory(&eventPlugin{Base: named("kept")}))
	broken := SourceFunc{ID: "broken", Fn: func(context.Context) ([]Factory, error) {
		return nil, errors.New("unreachable")
	}}

	t.Run("lenient", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry(WithSources(broken, good))
		idx := reload(t, r)
		assert.Contains(t, idx, "kept")
		errs := r.Errors()
		require.Len(t, errs, 1)
		assert.Equal(t, SourceFailure, errs[0].Kind)
		assert.Equal(t, "broken", errs[0].Source)
	})

	t.Run("strict keeps previous snapshot", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry(WithSources(good))
		reload(t, r)

		r.Configure(true, nil, good, broken)
		idx, err := r.Reload(context.Background())
		require.Error(t, err)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, SourceFailure, ve.Kind)
		assert.Contains(t, idx, "kept")
		assert.Len(t, r.Plugins(), 1)
	})
}

func TestDisabledSlugIndexedWithoutCapabilities(t *testing.T) {
	t.Parallel()

	r := NewRegistry(
		WithSources(Static("test", factory(&eventPlugin{Base: named("Quiet One")}))),
		WithDisabled("quiet one"),
	)
	idx := reload(t, r)

	d := idx["quiet-one"]
	require.NotNil(t, d)
	assert.True(t, d.Disabled)
	assert.Empty(t, d.Granted)
	assert.Empty(t, r.WithCapability(TagEvent))
}

func TestRegistrationOrderStable(t *testing.T) {
	t.Parallel()

	names := []string{"zeta", "alpha", "mid"}
	var fs []Factory
	for _, n := range names {
		fs = append(fs, factory(&eventPlugin{Base: named(n)}))
	}
	r := NewRegistry(WithSources(Static("test", fs...)))
	reload(t, r)

	var got []string
	for _, d := range r.WithCapability(TagEvent) {
		got = append(got, d.Slug)
	}
	assert.Equal(t, names, got)
}

func TestReloadSwapsCompleteSnapshot(t *testing.T) {
	t.Parallel()

	var gen atomic.Int32
	src := SourceFunc{ID: "gen", Fn: func(context.Context) ([]Factory, error) {
		gen.Add(1)
		return []Factory{
			factory(&eventPlugin{Base: named("a")}),
			factory(&eventPlugin{Base: named("b")}),
			factory(&eventPlugin{Base: named("c")}),
		}, nil
	}}
	r := NewRegistry(WithSources(src))
	reload(t, r)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	var bad atomic.Int32
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if n := len(r.WithCapability(TagEvent)); n != 3 {
					bad.Add(1)
				}
			}
		}()
	}
	for range 50 {
		reload(t, r)
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, bad.Load())
	assert.GreaterOrEqual(t, gen.Load(), int32(51))
}

func TestReloadPublishesEvent(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.SubscribePrefix("plugin.", 4)
	defer unsub()

	r := NewRegistry(WithRegistryBus(bus), WithSources(Static("test", factory(&eventPlugin{Base: named("x")}))))
	reload(t, r)

	e := <-ch
	assert.Equal(t, "plugin.registry.reloaded", e.Type)
	assert.Equal(t, 1, e.Data.(pluginEvent).Count)
}

func TestScheduleContract(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, task.Args) error { return nil }
	cases := []struct {
		name  string
		tasks []ScheduledTask
		ok    bool
	}{
		{"valid minutes", []ScheduledTask{{Name: "tick", Func: noop, Kind: scheduler.KindMinutes, Params: scheduler.Params{Minutes: 5}}}, true},
		{"valid cron", []ScheduledTask{{Name: "nightly", Func: noop, Kind: scheduler.KindCron, Params: scheduler.Params{Cron: "@daily"}}}, true},
		{"none", nil, false},
		{"dotted name", []ScheduledTask{{Name: "a.b", Func: noop, Kind: scheduler.KindMinutes, Params: scheduler.Params{Minutes: 1}}}, false},
		{"nil func", []ScheduledTask{{Name: "tick", Kind: scheduler.KindMinutes, Params: scheduler.Params{Minutes: 1}}}, false},
		{"zero minutes", []ScheduledTask{{Name: "tick", Func: noop, Kind: scheduler.KindMinutes}}, false},
		{"bad cron", []ScheduledTask{{Name: "tick", Func: noop, Kind: scheduler.KindCron, Params: scheduler.Params{Cron: "nope"}}}, false},
		{"opaque kind", []ScheduledTask{{Name: "tick", Func: noop, Kind: "hourly"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			granted, errs := Validate(&scheduled{Base: named("sched"), tasks: tc.tasks})
			if tc.ok {
				assert.Equal(t, []Tag{TagSchedule}, granted)
				assert.Empty(t, errs)
				return
			}
			assert.Empty(t, granted)
			require.Len(t, errs, 1)
			assert.Equal(t, "ScheduledTasks", errs[0].Member)
		})
	}
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"EventPlugin":      "eventplugin",
		"Triggered Events": "triggered-events",
		"  --Héllo  Wörld": "hello-world",
		"a_b.c":            "a-b-c",
		"!!!":              "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), "Slugify(%q)", in)
	}
}
