package config

import (
	"path/filepath"
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyFilesystemDefaults(&cfg.Filesystem)
	applyAttributesDefaults(&cfg.Attributes)
	applyFoldersDefaults(&cfg.Folders)
	applyTasksDefaults(&cfg.Tasks)
	applyGCDefaults(&cfg.GC)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyFilesystemDefaults sets filesystem and watcher defaults.
func applyFilesystemDefaults(cfg *FilesystemConfig) {
	if cfg.MIMETypes == nil {
		cfg.MIMETypes = make(map[string]string)
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 100 * time.Millisecond
	}
	if cfg.Watch.RefreshesPerSecond == 0 {
		cfg.Watch.RefreshesPerSecond = 5
	}
}

// applyAttributesDefaults sets attribute store defaults.
//
// The badger database lives in the config directory rather than below the
// filesystem root, where it would show up as ordinary files.
func applyAttributesDefaults(cfg *AttributesConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	// Initialize maps if nil
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	if cfg.Type == "badger" {
		if _, ok := cfg.Badger["db_path"]; !ok {
			cfg.Badger["db_path"] = filepath.Join(getConfigDir(), "attributes")
		}
	}
}

// applyFoldersDefaults sets folder list and view defaults.
func applyFoldersDefaults(cfg *FoldersConfig) {
	if cfg.OrderCacheSize == 0 {
		cfg.OrderCacheSize = 256
	}
	if cfg.RefreshDelay == 0 {
		cfg.RefreshDelay = 50 * time.Millisecond
	}
	if cfg.DelayedWaitRounds == 0 {
		cfg.DelayedWaitRounds = 3
	}
	if cfg.DelayedWaitTimeout == 0 {
		cfg.DelayedWaitTimeout = 2 * time.Second
	}
}

// applyTasksDefaults sets background processor defaults.
func applyTasksDefaults(cfg *TasksConfig) {
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.BlockWarning == 0 {
		cfg.BlockWarning = 10 * time.Second
	}
}

// applyGCDefaults sets attribute collector defaults.
func applyGCDefaults(cfg *GCConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":9090"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Attributes: AttributesConfig{
			Type:   "memory",
			Memory: make(map[string]any),
			Badger: make(map[string]any),
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
