package config

// Config is the whole service configuration, loaded from one JSON or YAML
// file and then overridden from the environment.
type Config struct {
	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`

	// TaskEngine controls the background worker pool.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Scheduler  SchedulerConfig   `json:"scheduler"`

	Plugins PluginsConfig `json:"plugins"`
	Tasks   TasksConfig   `json:"tasks"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	ErrorLog LoggingErrorLog `json:"error_log"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingErrorLog forwards WARN+ log lines to the storage error log.
type LoggingErrorLog struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./arius.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Enabled is a pointer so we can distinguish "omitted" (default true)
// from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - enabled: true
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 3
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`

	// MaxQueueDelay drops tasks that have been queued longer than this duration.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	// RetryMax is a pointer so an explicit 0 turns retries off.
	RetryMax *int `json:"retry_max,omitempty"`
}

// SchedulerConfig controls the recurring trigger.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

type PluginsConfig struct {
	// LoadSamples registers the sample plugins even outside plugin-testing mode.
	LoadSamples bool `json:"load_samples,omitempty"`
	// StrictDiscovery aborts a registry reload when any discovery source fails.
	StrictDiscovery bool `json:"strict_discovery,omitempty"`
	// Disabled slugs are indexed but granted no capabilities.
	Disabled []string `json:"disabled,omitempty"`

	NetProbe NetProbeConfig `json:"netprobe"`
}

type NetProbeConfig struct {
	Enabled         bool `json:"enabled"`
	ServerCount     int  `json:"server_count,omitempty"`
	PingConcurrency int  `json:"ping_concurrency,omitempty"`
}

// TasksConfig controls task dispatch and the builtin maintenance tasks.
type TasksConfig struct {
	// Testing and Maintenance force BACKGROUND dispatch to run inline.
	Testing     bool `json:"testing,omitempty"`
	Maintenance bool `json:"maintenance,omitempty"`
	// PluginTesting loads the sample plugins.
	PluginTesting bool `json:"plugin_testing,omitempty"`

	UpdateURL string `json:"update_url,omitempty"`
	// Retention is a Go duration string. Default "720h".
	Retention        string `json:"retention,omitempty"`
	HeartbeatMinutes int    `json:"heartbeat_minutes,omitempty"`
	// Schedules overrides built-in task schedules by task name, e.g.
	// heartbeat: "10m" or delete_old_error_logs: "daily 03:00".
	Schedules map[string]string `json:"schedules,omitempty"`
}

// BackgroundAllowed reports whether BACKGROUND dispatch may use the pool.
func (t TasksConfig) BackgroundAllowed() bool { return !t.Testing && !t.Maintenance }
