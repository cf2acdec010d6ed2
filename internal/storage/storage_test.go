package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "arius/pkg/logx"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{"memory": NewMemory()}

	fs, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "arius.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	out["file"] = fs

	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "arius.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	out["sqlite"] = sq

	t.Cleanup(func() {
		for _, st := range out {
			_ = st.Close()
		}
	})
	return out
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("Open(redis) err = nil, want error")
	}
}

func TestScheduleUpsertKeepsIdentity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, st := range openAll(t) {
		created := time.UnixMilli(time.Now().Add(-time.Hour).UnixMilli())
		first := ScheduleRow{ID: "id-1", Func: "arius.tasks.heartbeat", Kind: "minutes", Minutes: 10, Created: created, Updated: created}
		if err := st.UpsertSchedule(ctx, first); err != nil {
			t.Fatalf("%s: upsert: %v", name, err)
		}
		second := ScheduleRow{ID: "id-2", Func: "arius.tasks.heartbeat", Kind: "minutes", Minutes: 5,
			Params: map[string]string{"repeats": "-1"}, Created: time.Now(), Updated: time.Now()}
		if err := st.UpsertSchedule(ctx, second); err != nil {
			t.Fatalf("%s: upsert again: %v", name, err)
		}

		rows, err := st.Schedules(ctx)
		if err != nil {
			t.Fatalf("%s: schedules: %v", name, err)
		}
		if len(rows) != 1 {
			t.Fatalf("%s: rows = %d, want 1", name, len(rows))
		}
		got := rows[0]
		if got.Minutes != 5 {
			t.Fatalf("%s: minutes = %d, want 5", name, got.Minutes)
		}
		if got.ID != "id-1" {
			t.Fatalf("%s: id = %q, want id-1", name, got.ID)
		}
		if !got.Created.Equal(created) {
			t.Fatalf("%s: created = %v, want %v", name, got.Created, created)
		}
		if got.Params["repeats"] != "-1" {
			t.Fatalf("%s: params = %v", name, got.Params)
		}
	}
}

func TestJobLedgerFilterAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()
	old := now.Add(-31 * 24 * time.Hour)

	for name, st := range openAll(t) {
		recs := []JobRecord{
			{ID: "a", Name: "a", Func: "x.ok", Started: old, Stopped: old, Success: true, Attempts: 1},
			{ID: "b", Name: "b", Func: "x.fail", Started: old, Stopped: old, Success: false, Result: "boom", Attempts: 3},
			{ID: "c", Name: "c", Func: "x.ok", Started: now, Stopped: now, Success: true, Attempts: 1},
		}
		for _, r := range recs {
			if err := st.AppendJob(ctx, r); err != nil {
				t.Fatalf("%s: append: %v", name, err)
			}
		}

		failed, err := st.Jobs(ctx, JobFilter{Success: Bool(false)})
		if err != nil {
			t.Fatalf("%s: jobs: %v", name, err)
		}
		if len(failed) != 1 || failed[0].Result != "boom" || failed[0].Attempts != 3 {
			t.Fatalf("%s: failed = %+v", name, failed)
		}

		n, err := st.DeleteJobs(ctx, JobFilter{Success: Bool(true), Before: now.Add(-30 * 24 * time.Hour)})
		if err != nil {
			t.Fatalf("%s: delete: %v", name, err)
		}
		if n != 1 {
			t.Fatalf("%s: deleted = %d, want 1", name, n)
		}
		left, _ := st.Jobs(ctx, JobFilter{})
		if len(left) != 2 {
			t.Fatalf("%s: left = %d, want 2", name, len(left))
		}
	}
}

func TestErrorLogAndSettings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()

	for name, st := range openAll(t) {
		_ = st.AppendError(ctx, ErrorEntry{At: now.Add(-48 * time.Hour), Level: "warn", Message: "old"})
		_ = st.AppendError(ctx, ErrorEntry{At: now, Level: "error", Message: "new", Fields: `{"k":"v"}`})

		n, err := st.DeleteErrors(ctx, now.Add(-24*time.Hour))
		if err != nil || n != 1 {
			t.Fatalf("%s: DeleteErrors = %d, %v; want 1, nil", name, n, err)
		}
		errs, err := st.Errors(ctx)
		if err != nil || len(errs) != 1 || errs[0].Message != "new" {
			t.Fatalf("%s: Errors = %+v, %v", name, errs, err)
		}

		if _, ok, _ := st.GetSetting(ctx, "_ARIUS_LATEST_VERSION"); ok {
			t.Fatalf("%s: setting present before put", name)
		}
		_ = st.PutSetting(ctx, "_ARIUS_LATEST_VERSION", "1.0.0")
		_ = st.PutSetting(ctx, "_ARIUS_LATEST_VERSION", "1.1.0")
		v, ok, err := st.GetSetting(ctx, "_ARIUS_LATEST_VERSION")
		if err != nil || !ok || v != "1.1.0" {
			t.Fatalf("%s: GetSetting = %q, %v, %v", name, v, ok, err)
		}
	}
}

func TestFileStoreReloadsSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.UpsertSchedule(ctx, ScheduleRow{ID: "1", Func: "a.b", Kind: "cron", Cron: "@daily"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	_ = st.Close()

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	rows, err := st2.Schedules(ctx)
	if err != nil || len(rows) != 1 || rows[0].Cron != "@daily" {
		t.Fatalf("rows = %+v, %v", rows, err)
	}
}
