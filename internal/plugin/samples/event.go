package samples

import (
	"context"
	"sync"

	"arius/internal/plugin"
	logx "arius/pkg/logx"
)

// Received is one event seen by EventPlugin.
type Received struct {
	Event   string
	Payload []any
}

// EventPlugin responds to triggered events by recording them.
type EventPlugin struct {
	log logx.Logger

	mu   sync.Mutex
	seen []Received
}

func NewEventPlugin(log logx.Logger) *EventPlugin {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &EventPlugin{log: log}
}

func (p *EventPlugin) Meta() plugin.Meta {
	return plugin.Meta{
		Name:        "EventPlugin",
		Slug:        "sampleevent",
		Title:       "Triggered Events",
		Description: "A sample plugin which provides support for triggered events",
	}
}

func (p *EventPlugin) Mixins() []plugin.Tag { return []plugin.Tag{plugin.TagEvent} }

func (p *EventPlugin) ProcessEvent(_ context.Context, event string, payload ...any) error {
	p.mu.Lock()
	p.seen = append(p.seen, Received{Event: event, Payload: append([]any(nil), payload...)})
	p.mu.Unlock()
	p.log.Debug("sample plugin processed event", logx.String("event", event), logx.Int("payload", len(payload)))
	return nil
}

// Seen returns the events processed so far.
func (p *EventPlugin) Seen() []Received {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Received(nil), p.seen...)
}
