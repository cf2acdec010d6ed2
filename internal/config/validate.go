package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"arius/internal/task/scheduler"
)

// Validate rejects configs that would fail at apply time, so a bad hot
// reload is dropped before anything changes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 {
			return fmt.Errorf("task_engine.workers must be >= 0")
		}
		if te.QueueSize < 0 {
			return fmt.Errorf("task_engine.queue_size must be >= 0")
		}
		if te.HistorySize < 0 {
			return fmt.Errorf("task_engine.history_size must be >= 0")
		}
		if te.RetryMax != nil && *te.RetryMax < 0 {
			return fmt.Errorf("task_engine.retry_max must be >= 0")
		}
		if _, err := ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
			return err
		}
		if _, err := ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if s := cfg.Storage; s != nil {
		switch d := strings.ToLower(strings.TrimSpace(s.Driver)); d {
		case "", "none", "memory":
		case "file", "sqlite":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("storage.path is required for driver %q", d)
			}
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	if _, err := ParseDurationField("tasks.retention", cfg.Tasks.Retention); err != nil {
		return err
	}
	if cfg.Tasks.HeartbeatMinutes < 0 {
		return fmt.Errorf("tasks.heartbeat_minutes must be >= 0")
	}
	names := make([]string, 0, len(cfg.Tasks.Schedules))
	for name := range cfg.Tasks.Schedules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, _, err := scheduler.KindFromSpec(cfg.Tasks.Schedules[name]); err != nil {
			return fmt.Errorf("tasks.schedules.%s: %w", name, err)
		}
	}
	if raw := strings.TrimSpace(cfg.Tasks.UpdateURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("tasks.update_url: invalid URL %q", raw)
		}
	}
	if cfg.Plugins.NetProbe.ServerCount < 0 || cfg.Plugins.NetProbe.PingConcurrency < 0 {
		return fmt.Errorf("plugins.netprobe: counts must be >= 0")
	}
	return nil
}
