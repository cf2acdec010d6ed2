package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	logx "arius/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Paths are reported as set/unset only.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.error_log", newCfg.Logging.ErrorLog.Enabled),
		)
	}

	oS, nS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if !reflect.DeepEqual(oS, nS) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	oTE, nTE := derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)
	if !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Bool("task_engine.enabled", nTE.Enabled == nil || *nTE.Enabled),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.Any("task_engine.retry_max", nTE.RetryMax),
		)
	}

	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if PluginsChanged(oldCfg, newCfg) {
		changed = append(changed, "plugins")
		attrs = append(attrs,
			logx.Bool("plugins.samples", SamplesEnabled(newCfg)),
			logx.Bool("plugins.strict", newCfg.Plugins.StrictDiscovery),
			logx.Int("plugins.disabled_count", len(newCfg.Plugins.Disabled)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Tasks, newCfg.Tasks) {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Bool("tasks.testing", newCfg.Tasks.Testing),
			logx.Bool("tasks.maintenance", newCfg.Tasks.Maintenance),
			logx.Int("tasks.heartbeat_minutes", newCfg.Tasks.HeartbeatMinutes),
			logx.Int("tasks.schedules", len(newCfg.Tasks.Schedules)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// SamplesEnabled reports whether the sample plugin source should load.
func SamplesEnabled(cfg *Config) bool {
	return cfg != nil && (cfg.Plugins.LoadSamples || cfg.Tasks.PluginTesting)
}

// PluginsChanged reports whether the plugin registry needs a reload.
func PluginsChanged(oldCfg, newCfg *Config) bool {
	if oldCfg == nil || newCfg == nil {
		return oldCfg != newCfg
	}
	o, n := oldCfg.Plugins, newCfg.Plugins
	return SamplesEnabled(oldCfg) != SamplesEnabled(newCfg) ||
		o.StrictDiscovery != n.StrictDiscovery ||
		o.NetProbe != n.NetProbe ||
		!slices.Equal(sortedCopy(o.Disabled), sortedCopy(n.Disabled))
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
