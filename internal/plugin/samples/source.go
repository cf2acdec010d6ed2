package samples

import (
	"arius/internal/plugin"
	logx "arius/pkg/logx"
)

// Deps carries what the sample plugins need from the host.
type Deps struct {
	Log      logx.Logger
	Prober   Prober
	Settings SettingStore
}

// Factories returns the sample plugins in registration order.
func Factories(d Deps) []plugin.Factory {
	return []plugin.Factory{
		{Name: "EventPlugin", New: func() (plugin.Plugin, error) { return NewEventPlugin(d.Log), nil }},
		{Name: "NoIntegrationPlugin", New: func() (plugin.Plugin, error) { return NewNoIntegrationPlugin(), nil }},
		{Name: "WrongIntegrationPlugin", New: func() (plugin.Plugin, error) { return NewWrongIntegrationPlugin(), nil }},
		{Name: "SampleIntegrationPlugin", New: func() (plugin.Plugin, error) { return NewIntegrationPlugin(), nil }},
	}
}

// Source exposes the sample plugins as a discovery source.
func Source(d Deps) plugin.Source { return plugin.Static("samples", Factories(d)...) }

// NetProbeFactory builds the netprobe plugin.
func NetProbeFactory(d Deps) plugin.Factory {
	return plugin.Factory{Name: "NetProbe", New: func() (plugin.Plugin, error) {
		return NewNetProbe(d.Prober, d.Settings, d.Log.With(logx.String("plugin", "netprobe"))), nil
	}}
}
