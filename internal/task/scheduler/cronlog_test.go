package scheduler

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	logx "arius/pkg/logx"
)

func TestCronLoggerLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := cronLogger{log: logx.NewJSON(&buf, "trace")}
	l.Info("wake", "now", "x")
	l.Error(errors.New("bad"), "panic", "job", "a.b")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	want := []struct{ level, msg, key string }{
		{"trace", "cron: wake", "now"},
		{"error", "cron: panic", "job"},
	}
	for i, w := range want {
		var rec map[string]any
		if err := json.Unmarshal([]byte(lines[i]), &rec); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if rec["level"] != w.level || rec["message"] != w.msg || rec[w.key] == nil {
			t.Fatalf("line %d = %v, want level %s message %q", i, rec, w.level, w.msg)
		}
	}

	var quiet bytes.Buffer
	cronLogger{log: logx.NewJSON(&quiet, "debug")}.Info("wake")
	if quiet.Len() != 0 {
		t.Fatalf("cron chatter logged at debug: %q", quiet.String())
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNewCronRecoversJobPanic(t *testing.T) {
	t.Parallel()

	out := &lockedBuffer{}
	c := newCron(cronParser, time.UTC, logx.NewJSON(out, "error"))
	var once sync.Once
	ran := make(chan struct{})
	c.Schedule(cron.Every(time.Second), cron.FuncJob(func() {
		once.Do(func() { close(ran) })
		panic("boom")
	}))
	c.Start()
	defer c.Stop()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "boom") {
		if time.Now().After(deadline) {
			t.Fatalf("panic not logged: %q", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
