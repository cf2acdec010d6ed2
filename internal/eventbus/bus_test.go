package eventbus

import "testing"

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // dropped

	e := <-ch
	if e.Type != "a" {
		t.Fatalf("Type = %q, want a", e.Type)
	}
	if e.Time.IsZero() {
		t.Fatalf("Time not stamped")
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %q", extra.Type)
	default:
	}
}

func TestSubscribePrefixFilters(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.SubscribePrefix("task.", 4)
	defer unsub()

	b.Publish(Event{Type: "plugin.reloaded"})
	b.Publish(Event{Type: "task.not_started"})

	e := <-ch
	if e.Type != "task.not_started" {
		t.Fatalf("Type = %q, want task.not_started", e.Type)
	}
	if len(ch) != 0 {
		t.Fatalf("len = %d, want 0", len(ch))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open")
	}
	b.Publish(Event{Type: "after"})
}
