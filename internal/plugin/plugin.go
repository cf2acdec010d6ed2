package plugin

import (
	"context"

	"arius/internal/task"
	"arius/internal/task/scheduler"
)

// Tag names a capability contract a plugin can declare.
type Tag string

const (
	TagEvent    Tag = "event"
	TagURLs     Tag = "urls"
	TagSettings Tag = "settings"
	TagSchedule Tag = "schedule"
)

// Tags lists every known capability in display order.
var Tags = []Tag{TagEvent, TagURLs, TagSettings, TagSchedule}

func (t Tag) Known() bool {
	for _, k := range Tags {
		if k == t {
			return true
		}
	}
	return false
}

// Meta is a plugin's identity. Slug is optional and derived from Name when empty.
type Meta struct {
	Name        string
	Slug        string
	Title       string
	Description string
	Version     string
	Author      string
}

// Plugin is the base contract. Mixins declares which capability contracts the
// plugin claims; a claim is only granted if the plugin also implements the
// matching interface.
type Plugin interface {
	Meta() Meta
	Mixins() []Tag
}

// EventHandler is the EVENT contract.
type EventHandler interface {
	ProcessEvent(ctx context.Context, event string, payload ...any) error
}

type Route struct {
	Path string
	Name string
}

// URLProvider is the URLS contract.
type URLProvider interface {
	URLs() []Route
}

type Setting struct {
	Key         string
	Name        string
	Description string
	Default     string
}

// SettingsProvider is the SETTINGS contract.
type SettingsProvider interface {
	Settings() []Setting
}

// ScheduledTask is a recurring job a plugin wants registered. It is exposed
// as the task path "plugin.<slug>.<Name>".
type ScheduledTask struct {
	Name   string
	Func   task.Func
	Kind   scheduler.Kind
	Params scheduler.Params
}

// ScheduleProvider is the SCHEDULE contract.
type ScheduleProvider interface {
	ScheduledTasks() []ScheduledTask
}

// Factory builds one plugin instance. New may fail or panic; the registry
// records either as an instantiation failure.
type Factory struct {
	Name string
	New  func() (Plugin, error)
}

// Base is embeddable for plugins that only need an identity.
type Base struct {
	M Meta
}

func (b Base) Meta() Meta    { return b.M }
func (b Base) Mixins() []Tag { return nil }
