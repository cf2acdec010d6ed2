package samples

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"arius/internal/plugin"
	"arius/internal/task"
	"arius/internal/task/scheduler"
	logx "arius/pkg/logx"
	"arius/pkg/speedtest"
)

const (
	SettingProbeMinutes = "NETPROBE_INTERVAL_MINUTES"
	SettingLastResult   = "NETPROBE_LAST_RESULT"

	defaultProbeMinutes = 60
)

// Prober runs one latency probe.
type Prober interface {
	Probe(ctx context.Context) (*speedtest.Result, error)
}

// SettingStore is where netprobe keeps its results.
type SettingStore interface {
	PutSetting(ctx context.Context, key, value string) error
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

// NetProbe measures latency to the nearest speedtest server on a schedule
// and stores the last result as a setting.
type NetProbe struct {
	prober   Prober
	settings SettingStore
	log      logx.Logger
	minutes  int
}

func NewNetProbe(prober Prober, settings SettingStore, log logx.Logger) *NetProbe {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &NetProbe{prober: prober, settings: settings, log: log, minutes: defaultProbeMinutes}
}

func (p *NetProbe) Meta() plugin.Meta {
	return plugin.Meta{
		Name:        "NetProbe",
		Slug:        "netprobe",
		Title:       "Network Latency Probe",
		Description: "Pings the nearest speedtest servers and records the best latency",
	}
}

func (p *NetProbe) Mixins() []plugin.Tag {
	return []plugin.Tag{plugin.TagSchedule, plugin.TagSettings}
}

func (p *NetProbe) Settings() []plugin.Setting {
	return []plugin.Setting{
		{Key: SettingProbeMinutes, Name: "Probe interval", Description: "Minutes between probes", Default: strconv.Itoa(defaultProbeMinutes)},
		{Key: SettingLastResult, Name: "Last result", Description: "JSON of the most recent probe"},
	}
}

func (p *NetProbe) ScheduledTasks() []plugin.ScheduledTask {
	return []plugin.ScheduledTask{{
		Name:   "probe",
		Func:   p.run,
		Kind:   scheduler.KindMinutes,
		Params: scheduler.Params{Minutes: p.interval()},
	}}
}

// interval reads the configured probe interval, falling back to the default.
func (p *NetProbe) interval() int {
	if p.settings == nil {
		return p.minutes
	}
	v, ok, err := p.settings.GetSetting(context.Background(), SettingProbeMinutes)
	if err != nil || !ok {
		return p.minutes
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		p.log.Warn("invalid netprobe interval", logx.String("value", v))
		return p.minutes
	}
	return n
}

func (p *NetProbe) run(ctx context.Context, _ task.Args) error {
	if p.prober == nil {
		return fmt.Errorf("netprobe: no prober configured")
	}
	res, err := p.prober.Probe(ctx)
	if err != nil {
		return fmt.Errorf("netprobe: %w", err)
	}
	p.log.Info("netprobe finished",
		logx.String("server", res.ServerName),
		logx.String("country", res.ServerCountry),
		logx.Any("ping_ms", res.PingMs),
		logx.Int("reachable", res.Reachable),
	)
	if p.settings == nil {
		return nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return p.settings.PutSetting(ctx, SettingLastResult, string(b))
}
