package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides are the environment variables that win over the file.
// Unset variables leave the file value alone.
type envOverrides struct {
	Testing       *bool   `env:"ARIUS_TESTING"`
	Maintenance   *bool   `env:"ARIUS_MAINTENANCE"`
	PluginTesting *bool   `env:"ARIUS_PLUGIN_TESTING"`
	LogLevel      *string `env:"ARIUS_LOG_LEVEL"`
	StorageDriver *string `env:"ARIUS_STORAGE_DRIVER"`
	StoragePath   *string `env:"ARIUS_STORAGE_PATH"`
	UpdateURL     *string `env:"ARIUS_UPDATE_URL"`
}

// ApplyEnv overrides cfg from environ. A nil environ reads the process
// environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if o.Testing != nil {
		cfg.Tasks.Testing = *o.Testing
	}
	if o.Maintenance != nil {
		cfg.Tasks.Maintenance = *o.Maintenance
	}
	if o.PluginTesting != nil {
		cfg.Tasks.PluginTesting = *o.PluginTesting
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = strings.TrimSpace(*o.LogLevel)
	}
	if o.StorageDriver != nil || o.StoragePath != nil {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		if o.StorageDriver != nil {
			cfg.Storage.Driver = strings.TrimSpace(*o.StorageDriver)
		}
		if o.StoragePath != nil {
			cfg.Storage.Path = strings.TrimSpace(*o.StoragePath)
		}
	}
	if o.UpdateURL != nil {
		cfg.Tasks.UpdateURL = strings.TrimSpace(*o.UpdateURL)
	}
	return nil
}
