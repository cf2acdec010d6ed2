package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"arius/internal/config"
	"arius/internal/plugin/samples"
	"arius/internal/task"
	"arius/internal/tasks"
)

type notifications struct {
	mu     sync.Mutex
	states []string
}

func (n *notifications) notify(_ bool, state string) (bool, error) {
	n.mu.Lock()
	n.states = append(n.states, state)
	n.mu.Unlock()
	return true, nil
}

func (n *notifications) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.states...)
}

func newTestApp(t *testing.T, body string) (*App, *notifications) {
	t.Helper()
	p := filepath.Join(t.TempDir(), "arius.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	n := &notifications{}
	a, err := New(p, WithEnviron(map[string]string{}), WithNotifier(n.notify))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, n
}

const testConfig = `
logging:
  level: error
storage:
  driver: memory
scheduler:
  enabled: true
tasks:
  testing: true
  plugin_testing: true
`

func TestStartWiresEverything(t *testing.T) {
	t.Parallel()

	a, n := newTestApp(t, testConfig)
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, ok := a.Plugins().Get("sampleevent"); !ok {
		t.Fatalf("sample plugins not loaded")
	}
	d, _ := a.Plugins().Get("sampleevent")
	// Testing mode runs the started event inline.
	seen := d.Plugin().(*samples.EventPlugin).Seen()
	if len(seen) != 1 || seen[0].Event != EventStarted {
		t.Fatalf("seen = %+v, want %s", seen, EventStarted)
	}

	if got := len(a.Schedules().List()); got != 5 {
		t.Fatalf("schedules = %d, want 5", got)
	}
	if err := a.Dispatcher().Run(ctx, tasks.Ref("heartbeat"), task.Args{}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if v, ok, _ := a.Store().GetSetting(ctx, tasks.SettingHeartbeat); !ok || v == "" {
		t.Fatalf("heartbeat setting missing")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	st := a.Stats()
	if st.Goroutines.Started == 0 || st.Goroutines.Active != 0 {
		t.Fatalf("goroutines = %+v, want started > 0 and none active", st.Goroutines)
	}
	if len(st.Panicked) != 0 {
		t.Fatalf("panicked = %v", st.Panicked)
	}
	states := n.all()
	if len(states) < 3 || states[0] != "READY=1" || states[len(states)-1] != "STOPPING=1" {
		t.Fatalf("notify states = %v", states)
	}
}

func TestApplyConfigTogglesBackground(t *testing.T) {
	t.Parallel()

	a, _ := newTestApp(t, testConfig)
	ctx := context.Background()
	if err := a.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer a.Stop(ctx, StopAppStop)
	if a.background.Load() {
		t.Fatalf("background allowed in testing mode")
	}

	next := *a.Config()
	next.Tasks.Testing = false
	next.Tasks.PluginTesting = false
	a.applyConfig(ctx, a.Config(), &next)

	if !a.background.Load() {
		t.Fatalf("background still gated after reload")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "arius.json")
	if err := os.WriteFile(p, []byte(`{"storage":{"driver":"redis"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(p, WithEnviron(map[string]string{})); err == nil {
		t.Fatalf("New accepted unknown storage driver")
	}
}

func TestMapTaskEngineRetryMax(t *testing.T) {
	t.Parallel()

	zero, two := 0, 2
	cases := []struct {
		name string
		te   *config.TaskEngineConfig
		want int
	}{
		{name: "section omitted", te: nil, want: 3},
		{name: "unset", te: &config.TaskEngineConfig{}, want: 3},
		{name: "explicit zero", te: &config.TaskEngineConfig{RetryMax: &zero}, want: 0},
		{name: "explicit", te: &config.TaskEngineConfig{RetryMax: &two}, want: 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := mapTaskEngineConfig(&config.Config{TaskEngine: tc.te})
			if err != nil {
				t.Fatalf("mapTaskEngineConfig: %v", err)
			}
			if got.RetryMax != tc.want {
				t.Fatalf("RetryMax = %d, want %d", got.RetryMax, tc.want)
			}
		})
	}
}
