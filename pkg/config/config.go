package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete dittoloaders configuration.
//
// This structure captures all configurable aspects of the loader engine:
//   - Logging configuration
//   - The virtual filesystem (backend root, MIME table, watching)
//   - Attribute storage selection and configuration (store-specific)
//   - Loader registration and ordering
//   - Folder view and background task tuning
//   - Orphaned attribute collection
//   - Metrics exposure
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOLOADERS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Filesystem configures the virtual filesystem the objects live in
	Filesystem FilesystemConfig `mapstructure:"filesystem"`

	// Attributes specifies the attribute store type and type-specific configuration
	Attributes AttributesConfig `mapstructure:"attributes"`

	// Loaders configures the loader pool
	Loaders LoadersConfig `mapstructure:"loaders"`

	// Folders tunes folder lists and folder views
	Folders FoldersConfig `mapstructure:"folders"`

	// Tasks tunes the background processor
	Tasks TasksConfig `mapstructure:"tasks"`

	// GC configures the orphaned attribute collector
	GC GCConfig `mapstructure:"gc"`

	// Metrics controls Prometheus metrics exposure
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// FilesystemConfig configures the virtual filesystem.
type FilesystemConfig struct {
	// Root is the directory on disk backing the filesystem.
	// Empty keeps the whole filesystem in memory.
	Root string `mapstructure:"root"`

	// ReadOnly rejects every mutation
	ReadOnly bool `mapstructure:"read_only"`

	// MIMETypes maps extensions to content types, overriding the built-in table
	MIMETypes map[string]string `mapstructure:"mime_types"`

	// SniffContent detects the type of files with unmapped extensions from their content
	SniffContent bool `mapstructure:"sniff_content"`

	// Watch mirrors changes made on disk by other programs
	Watch WatchConfig `mapstructure:"watch"`
}

// WatchConfig controls the on-disk change watcher.
type WatchConfig struct {
	// Enabled starts the watcher (requires filesystem.root)
	Enabled bool `mapstructure:"enabled"`

	// Debounce is the quiet period before a changed folder is refreshed
	Debounce time.Duration `mapstructure:"debounce" validate:"gte=0"`

	// RefreshesPerSecond caps refreshes per folder
	RefreshesPerSecond float64 `mapstructure:"refreshes_per_second" validate:"gte=0"`
}

// AttributesConfig specifies attribute store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type AttributesConfig struct {
	// Type specifies which attribute store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`
}

// LoadersConfig configures the loader pool.
type LoadersConfig struct {
	// Preferred names a declared loader consulted before every other one
	Preferred string `mapstructure:"preferred"`

	// DisabledModules lists modules whose loaders are ignored
	DisabledModules []string `mapstructure:"disabled_modules"`

	// ExcludedPaths lists settings files the instance loader never claims
	ExcludedPaths []string `mapstructure:"excluded_paths"`

	// Order moves the named loaders to the front of the module loaders
	Order []string `mapstructure:"order"`

	// Declared lists loaders built from configuration
	Declared []DeclaredLoaderConfig `mapstructure:"declared" validate:"dive"`
}

// DeclaredLoaderConfig describes a loader built from configuration.
//
// A loader recognizes files either by extension or by name pattern. With
// secondary extensions, the single extension names the primary file and
// files sharing its base name with a secondary extension join its object.
type DeclaredLoaderConfig struct {
	// Name identifies the loader in assignments and ordering
	Name string `mapstructure:"name" validate:"required"`

	// DisplayName is a human-readable name (default: Name)
	DisplayName string `mapstructure:"display_name"`

	// Module groups loaders for enabling and disabling
	Module string `mapstructure:"module"`

	// Extensions recognized by the loader (case-insensitive)
	Extensions []string `mapstructure:"extensions"`

	// Patterns are glob patterns matched against full file names
	Patterns []string `mapstructure:"patterns"`

	// SecondaryExtensions turn the loader into a multi-file loader
	SecondaryExtensions []string `mapstructure:"secondary_extensions"`

	// MIMETypes registers the loader as the factory for these content types
	// instead of as an ordinary module loader
	MIMETypes []string `mapstructure:"mime_types"`

	// Actions are the default actions, used until a list is persisted
	Actions []string `mapstructure:"actions"`
}

// FoldersConfig tunes folder lists and folder views.
type FoldersConfig struct {
	// OrderCacheSize bounds the folder order cache (-1 disables it)
	OrderCacheSize int `mapstructure:"order_cache_size" validate:"gte=-1"`

	// RefreshDelay coalesces folder events before a list is recomputed
	RefreshDelay time.Duration `mapstructure:"refresh_delay" validate:"gt=0"`

	// DelayedNodes shows placeholders for files that are still being recognized
	DelayedNodes bool `mapstructure:"delayed_nodes"`

	// DelayedWaitRounds bounds the rounds spent waiting for placeholders
	DelayedWaitRounds int `mapstructure:"delayed_wait_rounds" validate:"gt=0"`

	// DelayedWaitTimeout bounds one waiting round
	DelayedWaitTimeout time.Duration `mapstructure:"delayed_wait_timeout" validate:"gt=0"`
}

// TasksConfig tunes the background processor.
type TasksConfig struct {
	// Workers bounds concurrently running background tasks
	Workers int `mapstructure:"workers" validate:"gt=0"`

	// BlockWarning bounds waits on background work before they log and give up
	BlockWarning time.Duration `mapstructure:"block_warning" validate:"gt=0"`
}

// GCConfig configures garbage collection of attributes whose file vanished.
type GCConfig struct {
	// Enabled runs the collector periodically
	Enabled bool `mapstructure:"enabled"`

	// Interval between collections
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`

	// DryRun logs orphaned paths without deleting their attributes
	DryRun bool `mapstructure:"dry_run"`
}

// MetricsConfig controls Prometheus metrics exposure.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the HTTP endpoint
	Enabled bool `mapstructure:"enabled"`

	// Listen is the address of the metrics endpoint
	Listen string `mapstructure:"listen" validate:"required"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOLOADERS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use DITTOLOADERS_ prefix and underscores
	// Example: DITTOLOADERS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOLOADERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper knows about
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"filesystem.root", "filesystem.read_only", "filesystem.watch.enabled",
		"attributes.type", "tasks.workers", "gc.enabled", "metrics.enabled", "metrics.listen",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittoloaders/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is acceptable - use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittoloaders")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittoloaders")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the init command).
func GetConfigDir() string {
	return getConfigDir()
}
