package plugin

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arius/internal/task"
	"arius/internal/task/scheduler"
	logx "arius/pkg/logx"
)

type upserts struct {
	mu   sync.Mutex
	keys map[string]scheduler.Params
}

func (u *upserts) Upsert(_ context.Context, ref task.Ref, kind scheduler.Kind, p scheduler.Params) (scheduler.Entry, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keys[ref.String()] = p
	return scheduler.Entry{Key: ref.String(), Kind: kind}, nil
}

func TestRegisterSchedules(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := &scheduled{Base: named("Net Probe"), tasks: []ScheduledTask{{
		Name:   "probe",
		Func:   func(context.Context, task.Args) error { calls.Add(1); return nil },
		Kind:   scheduler.KindMinutes,
		Params: scheduler.Params{Minutes: 15},
	}}}

	present := atomic.Bool{}
	present.Store(true)
	src := SourceFunc{ID: "dyn", Fn: func(context.Context) ([]Factory, error) {
		if !present.Load() {
			return nil, nil
		}
		return []Factory{factory(p)}, nil
	}}
	r := NewRegistry(WithSources(src))
	reload(t, r)

	tbl := task.NewTable()
	up := &upserts{keys: map[string]scheduler.Params{}}
	require.NoError(t, RegisterSchedules(context.Background(), r, tbl, up, logx.Nop()))

	assert.Equal(t, "plugin.net-probe.probe", TaskPath("net-probe", "probe"))
	require.Contains(t, up.keys, "plugin.net-probe.probe")
	assert.Equal(t, 15, up.keys["plugin.net-probe.probe"].Minutes)

	h, err := tbl.Lookup(context.Background(), "plugin.net-probe.probe")
	require.NoError(t, err)
	require.NoError(t, h.Fn(context.Background(), task.Args{}))
	assert.Equal(t, int32(1), calls.Load())

	// The plugin disappears on reload: its task stops resolving without
	// touching the table.
	present.Store(false)
	reload(t, r)
	_, err = tbl.Lookup(context.Background(), "plugin.net-probe.probe")
	var re *task.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, task.ModuleNotFound, re.Kind)
	assert.EqualError(t, err, "No module named 'plugin.net-probe'")
}
