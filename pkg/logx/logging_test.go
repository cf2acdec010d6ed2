package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type memSink struct {
	mu   sync.Mutex
	recs []ErrorRecord
}

func (m *memSink) WriteErrorLog(_ context.Context, rec ErrorRecord) error {
	m.mu.Lock()
	m.recs = append(m.recs, rec)
	m.mu.Unlock()
	return nil
}

func (m *memSink) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

func TestNewJSONWritesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(String("comp", "test"))
	log.Warn("hello", Int("n", 3))

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if m["message"] != "hello" {
		t.Fatalf("message = %v, want hello", m["message"])
	}
	if m["comp"] != "test" {
		t.Fatalf("comp = %v, want test", m["comp"])
	}
	if m["n"] != float64(3) {
		t.Fatalf("n = %v, want 3", m["n"])
	}
}

func TestNewJSONRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewJSON(&buf, "warn")
	log.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	if log.Enabled(LevelInfo) {
		t.Fatalf("Enabled(info) = true, want false")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var log Logger
	if !log.IsZero() {
		t.Fatalf("IsZero() = false, want true")
	}
	log.Error("dropped")
	if Nop().IsZero() {
		t.Fatalf("Nop().IsZero() = true, want false")
	}
}

func TestDecodeErrorRecord(t *testing.T) {
	t.Parallel()

	rec, ok := decodeErrorRecord([]byte(`{"level":"warn","message":"boom","time":"x","task":"a.b"}`))
	if !ok {
		t.Fatalf("decode failed")
	}
	if rec.Level != "warn" || rec.Message != "boom" {
		t.Fatalf("rec = %+v", rec)
	}
	if rec.Fields != `{"task":"a.b"}` {
		t.Fatalf("fields = %q, want task only", rec.Fields)
	}

	rec, ok = decodeErrorRecord([]byte("not json\n"))
	if !ok || rec.Message != "not json" {
		t.Fatalf("raw rec = %+v ok=%v", rec, ok)
	}
	if _, ok := decodeErrorRecord([]byte("  ")); ok {
		t.Fatalf("blank line decoded")
	}
}

func TestServiceForwardsWarningsToErrorSink(t *testing.T) {
	svc, log := New(Config{
		Level:    "debug",
		ErrorLog: ErrorLogConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	})
	defer svc.Close()

	sink := &memSink{}
	svc.SetErrorSink(sink)

	log.Info("not forwarded")
	log.Warn("forwarded", String("k", "v"))

	deadline := time.Now().Add(2 * time.Second)
	for sink.len() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink.len(); got != 1 {
		t.Fatalf("sink records = %d, want 1", got)
	}
	sink.mu.Lock()
	rec := sink.recs[0]
	sink.mu.Unlock()
	if rec.Message != "forwarded" || !strings.Contains(rec.Fields, `"k":"v"`) {
		t.Fatalf("rec = %+v", rec)
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{"": true, "debug": true, "WARNING": true, "loud": false}
	for in, want := range cases {
		if got := ValidLevel(in); got != want {
			t.Fatalf("ValidLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
