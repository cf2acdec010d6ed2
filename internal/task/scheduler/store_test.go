package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"arius/internal/storage"
	"arius/internal/task"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []string
	modes []task.Mode
	fired chan string
}

func newRecorder() *recordingDispatcher {
	return &recordingDispatcher{fired: make(chan string, 16)}
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ref task.Ref, mode task.Mode, _ task.Args) error {
	d.mu.Lock()
	d.calls = append(d.calls, ref.String())
	d.modes = append(d.modes, mode)
	d.mu.Unlock()
	select {
	case d.fired <- ref.String():
	default:
	}
	return nil
}

func TestUpsertIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := New(Config{}, nil)
	ref := task.Path("arius.test_tasks.dummy")
	first, err := s.Upsert(ctx, ref, KindMinutes, Params{Minutes: 10})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := s.Upsert(ctx, ref, KindMinutes, Params{Minutes: 5})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	list := s.List()
	if len(list) != 1 {
		t.Fatalf("entries = %d, want 1", len(list))
	}
	if list[0].Minutes != 5 {
		t.Fatalf("minutes = %d, want 5", list[0].Minutes)
	}
	if second.ID != first.ID || !second.Created.Equal(first.Created) {
		t.Fatalf("identity changed: %s/%v -> %s/%v", first.ID, first.Created, second.ID, second.Created)
	}
}

func TestUpsertDirectHandleKey(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil)
	h := task.NewHandle("arius.test_tasks.direct", func(context.Context, task.Args) error { return nil })
	if _, err := s.Upsert(context.Background(), task.Direct(h), KindMinutes, Params{Minutes: 1}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	e, ok := s.Get("arius.test_tasks.direct")
	if !ok || !e.Ref.Equal(task.Direct(h)) {
		t.Fatalf("Get = %+v, %v", e, ok)
	}
}

func TestConcurrentUpsertSameKey(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, WithPersister(storage.NewMemory()))
	ref := task.Path("a.b")
	var wg sync.WaitGroup
	for i := 1; i <= 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = s.Upsert(context.Background(), ref, KindMinutes, Params{Minutes: n})
		}(i)
	}
	wg.Wait()
	if n := len(s.List()); n != 1 {
		t.Fatalf("entries = %d, want 1", n)
	}
}

func TestUpsertValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(Config{}, nil)

	cases := []struct {
		name string
		ref  task.Ref
		kind Kind
		p    Params
	}{
		{"empty ref", task.Path(""), KindMinutes, Params{Minutes: 1}},
		{"zero minutes", task.Path("a.b"), KindMinutes, Params{}},
		{"bad cron", task.Path("a.b"), KindCron, Params{Cron: "not cron"}},
		{"once without time", task.Path("a.b"), KindOnce, Params{}},
		{"no kind", task.Path("a.b"), "", Params{}},
	}
	for _, tc := range cases {
		if _, err := s.Upsert(ctx, tc.ref, tc.kind, tc.p); err == nil {
			t.Fatalf("%s: err = nil, want error", tc.name)
		}
	}
	if len(s.List()) != 0 {
		t.Fatalf("invalid upserts created entries")
	}
}

func TestUnknownKindIsOpaque(t *testing.T) {
	t.Parallel()

	disp := newRecorder()
	s := New(Config{Enabled: true}, disp)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	e, err := s.Upsert(context.Background(), task.Path("a.b"), "fortnightly", Params{Extra: map[string]string{"repeats": "-1"}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if e.Params["repeats"] != "-1" || !e.NextRun.IsZero() {
		t.Fatalf("entry = %+v", e)
	}
	if e.Kind.Known() {
		t.Fatalf("kind %q reported as known", e.Kind)
	}
}

func TestOnceFiresInBackground(t *testing.T) {
	t.Parallel()

	disp := newRecorder()
	s := New(Config{Enabled: true}, disp)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	ref := task.Path("arius.tasks.once")
	if _, err := s.Upsert(context.Background(), ref, KindOnce, Params{RunAt: time.Now().Add(20 * time.Millisecond)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	select {
	case got := <-disp.fired:
		if got != ref.String() {
			t.Fatalf("fired %q, want %q", got, ref.String())
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("once entry did not fire")
	}

	disp.mu.Lock()
	mode := disp.modes[0]
	disp.mu.Unlock()
	if mode != task.Background {
		t.Fatalf("mode = %v, want background", mode)
	}

	deadline := time.Now().Add(time.Second)
	for {
		e, _ := s.Get(ref.String())
		if e.NextRun.IsZero() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("next_run not cleared after firing: %v", e.NextRun)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOnceRearmReplacesTimer(t *testing.T) {
	t.Parallel()

	disp := newRecorder()
	s := New(Config{Enabled: true}, disp)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	ref := task.Path("a.once")
	_, _ = s.Upsert(context.Background(), ref, KindOnce, Params{RunAt: time.Now().Add(50 * time.Millisecond)})
	_, _ = s.Upsert(context.Background(), ref, KindOnce, Params{RunAt: time.Now().Add(time.Hour)})

	select {
	case got := <-disp.fired:
		t.Fatalf("replaced timer fired: %s", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCronNextRun(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "UTC"}, nil)
	e, err := s.Upsert(context.Background(), task.Path("a.daily"), KindCron, Params{Cron: "@daily"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if e.NextRun.IsZero() || !e.NextRun.After(time.Now()) {
		t.Fatalf("NextRun = %v, want future", e.NextRun)
	}
	if e.NextRun.Sub(time.Now()) > 24*time.Hour {
		t.Fatalf("NextRun too far: %v", e.NextRun)
	}
}

func TestLoadRestoresPersisted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := storage.NewMemory()
	s := New(Config{}, nil, WithPersister(st))
	for i := 0; i < 3; i++ {
		if _, err := s.Upsert(ctx, task.Path(fmt.Sprintf("mod.fn%d", i)), KindMinutes, Params{Minutes: i + 1}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	orig, _ := s.Get("mod.fn1")

	s2 := New(Config{}, nil, WithPersister(st))
	n, err := s2.Load(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Load = %d, %v; want 3", n, err)
	}
	got, ok := s2.Get("mod.fn1")
	if !ok || got.ID != orig.ID || got.Minutes != 2 || got.Ref.String() != "mod.fn1" {
		t.Fatalf("loaded = %+v", got)
	}

	n, _ = s2.Load(ctx)
	if n != 0 {
		t.Fatalf("second Load = %d, want 0", n)
	}
}

func TestSnapshotShowsArmedEntries(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, newRecorder())
	s.Start(context.Background())
	defer s.Stop(context.Background())
	_, _ = s.Upsert(context.Background(), task.Path("a.every"), KindMinutes, Params{Minutes: 5})

	snap := s.Snapshot()
	if !snap.Running || len(snap.Entries) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Entries[0].NextRun.IsZero() {
		t.Fatalf("armed entry has no next run")
	}
	if due := snap.Due(time.Now()); len(due) != 0 {
		t.Fatalf("due = %v, want none", due)
	}
}

func TestPanickingTaskDoesNotCrashTrigger(t *testing.T) {
	t.Parallel()

	tbl := task.NewTable()
	tbl.Register("pkg.mod", "boom", func(context.Context, task.Args) error { panic("task bug") })
	ran := make(chan struct{}, 1)
	tbl.Register("pkg.mod", "ok", func(context.Context, task.Args) error {
		ran <- struct{}{}
		return nil
	})
	// No pool: background dispatch runs inline on the trigger goroutine.
	s := New(Config{Enabled: true}, task.NewDispatcher(tbl))
	s.Start(context.Background())
	defer s.Stop(context.Background())

	boom := task.Path("pkg.mod.boom")
	if _, err := s.Upsert(context.Background(), boom, KindOnce, Params{RunAt: time.Now()}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		if e, _ := s.Get(boom.String()); e.NextRun.IsZero() && !e.Prev.IsZero() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("panicking entry never completed its firing")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := s.Upsert(context.Background(), task.Path("pkg.mod.ok"), KindOnce, Params{RunAt: time.Now()}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatalf("trigger stopped firing after a task panic")
	}
}

// gatedPersister blocks UpsertSchedule for one key until release is closed.
type gatedPersister struct {
	storage.Store
	key     string
	entered chan struct{}
	release chan struct{}
}

func (p *gatedPersister) UpsertSchedule(ctx context.Context, r storage.ScheduleRow) error {
	if r.Func == p.key {
		close(p.entered)
		<-p.release
	}
	return p.Store.UpsertSchedule(ctx, r)
}

func TestUpsertDifferentKeysDoNotBlock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := &gatedPersister{Store: storage.NewMemory(), key: "a.slow", entered: make(chan struct{}), release: make(chan struct{})}
	s := New(Config{}, nil, WithPersister(p))

	slowDone := make(chan error, 1)
	go func() {
		_, err := s.Upsert(ctx, task.Path("a.slow"), KindMinutes, Params{Minutes: 1})
		slowDone <- err
	}()
	<-p.entered

	fastDone := make(chan error, 1)
	go func() {
		_, err := s.Upsert(ctx, task.Path("a.fast"), KindMinutes, Params{Minutes: 1})
		fastDone <- err
	}()
	select {
	case err := <-fastDone:
		if err != nil {
			t.Fatalf("fast upsert: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("upsert on a.fast blocked behind a.slow")
	}
	if _, ok := s.Get("a.slow"); ok {
		t.Fatalf("a.slow stored before its persist finished")
	}

	close(p.release)
	if err := <-slowDone; err != nil {
		t.Fatalf("slow upsert: %v", err)
	}
	if n := len(s.List()); n != 2 {
		t.Fatalf("entries = %d, want 2", n)
	}
}

func TestDirectHandleEntriesAreNotPersisted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := storage.NewMemory()
	s := New(Config{}, nil, WithPersister(st))
	h := task.NewHandle("mod.direct", func(context.Context, task.Args) error { return nil })
	if _, err := s.Upsert(ctx, task.Direct(h), KindMinutes, Params{Minutes: 1}); err != nil {
		t.Fatalf("upsert direct: %v", err)
	}
	if _, err := s.Upsert(ctx, task.Path("mod.path"), KindMinutes, Params{Minutes: 1}); err != nil {
		t.Fatalf("upsert path: %v", err)
	}
	if _, ok := s.Get("mod.direct"); !ok {
		t.Fatalf("direct entry missing from store")
	}

	rows, err := st.Schedules(ctx)
	if err != nil {
		t.Fatalf("Schedules: %v", err)
	}
	if len(rows) != 1 || rows[0].Func != "mod.path" {
		t.Fatalf("persisted rows = %+v, want only mod.path", rows)
	}
}
