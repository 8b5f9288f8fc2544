package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "warn"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected normalized log level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Expected default log output 'stderr', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_Filesystem(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Filesystem.MIMETypes == nil {
		t.Fatal("Expected MIMETypes map to be initialized")
	}
	if cfg.Filesystem.Watch.Debounce != 100*time.Millisecond {
		t.Errorf("Expected default debounce 100ms, got %v", cfg.Filesystem.Watch.Debounce)
	}
	if cfg.Filesystem.Watch.RefreshesPerSecond != 5 {
		t.Errorf("Expected default refreshes_per_second 5, got %v", cfg.Filesystem.Watch.RefreshesPerSecond)
	}
}

func TestApplyDefaults_Attributes(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Attributes.Type != "memory" {
		t.Errorf("Expected default attribute store 'memory', got %q", cfg.Attributes.Type)
	}
	if cfg.Attributes.Memory == nil || cfg.Attributes.Badger == nil {
		t.Fatal("Expected store maps to be initialized")
	}
	if _, ok := cfg.Attributes.Badger["db_path"]; ok {
		t.Error("Expected no badger db_path for the memory store")
	}
}

func TestApplyDefaults_BadgerPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg := &Config{Attributes: AttributesConfig{Type: "badger"}}
	ApplyDefaults(cfg)

	want := filepath.Join(dir, "dittoloaders", "attributes")
	if got := cfg.Attributes.Badger["db_path"]; got != want {
		t.Errorf("Expected default db_path %q, got %v", want, got)
	}

	// explicit values are preserved
	cfg = &Config{Attributes: AttributesConfig{Type: "badger", Badger: map[string]any{"db_path": "/data"}}}
	ApplyDefaults(cfg)
	if got := cfg.Attributes.Badger["db_path"]; got != "/data" {
		t.Errorf("Expected explicit db_path to be kept, got %v", got)
	}
}

func TestApplyDefaults_FoldersAndTasks(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Folders.OrderCacheSize != 256 {
		t.Errorf("Expected default order_cache_size 256, got %d", cfg.Folders.OrderCacheSize)
	}
	if cfg.Folders.DelayedWaitRounds != 3 {
		t.Errorf("Expected default delayed_wait_rounds 3, got %d", cfg.Folders.DelayedWaitRounds)
	}
	if cfg.Folders.DelayedWaitTimeout != 2*time.Second {
		t.Errorf("Expected default delayed_wait_timeout 2s, got %v", cfg.Folders.DelayedWaitTimeout)
	}
	if cfg.Tasks.Workers != 4 {
		t.Errorf("Expected default workers 4, got %d", cfg.Tasks.Workers)
	}
	if cfg.Tasks.BlockWarning != 10*time.Second {
		t.Errorf("Expected default block_warning 10s, got %v", cfg.Tasks.BlockWarning)
	}
	if cfg.GC.Enabled || cfg.GC.Interval != time.Hour {
		t.Errorf("Expected disabled hourly gc, got %+v", cfg.GC)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Folders: FoldersConfig{OrderCacheSize: -1, RefreshDelay: time.Second},
		Tasks:   TasksConfig{Workers: 16},
		Metrics: MetricsConfig{Listen: "127.0.0.1:9191"},
	}
	ApplyDefaults(cfg)

	if cfg.Folders.OrderCacheSize != -1 {
		t.Errorf("Expected disabled order cache to be kept, got %d", cfg.Folders.OrderCacheSize)
	}
	if cfg.Folders.RefreshDelay != time.Second {
		t.Errorf("Expected refresh_delay 1s, got %v", cfg.Folders.RefreshDelay)
	}
	if cfg.Tasks.Workers != 16 {
		t.Errorf("Expected workers 16, got %d", cfg.Tasks.Workers)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9191" {
		t.Errorf("Expected listen address to be kept, got %q", cfg.Metrics.Listen)
	}
}
