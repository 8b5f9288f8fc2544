package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// withHome points the default config location at a temporary home.
func withHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	return tmpDir
}

func TestInitConfig_Success(t *testing.T) {
	home := withHome(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if want := filepath.Join(home, ".config", "dittoloaders", "config.yaml"); configPath != want {
		t.Errorf("Expected config at %s, got %s", want, configPath)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	expectedSections := []string{
		"# dittoloaders configuration file",
		"logging:",
		"filesystem:",
		"attributes:",
		"loaders:",
		"folders:",
		"tasks:",
		"gc:",
		"metrics:",
	}

	for _, section := range expectedSections {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	// Verify the generated file is valid YAML
	var raw map[string]any
	if err := yaml.Unmarshal(content, &raw); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	withHome(t)

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}
}

func TestInitConfig_ForceOverwrite(t *testing.T) {
	withHome(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}
	if err := os.WriteFile(configPath, []byte("modified"), 0644); err != nil {
		t.Fatalf("Failed to modify config: %v", err)
	}

	if _, err := InitConfig(true); err != nil {
		t.Fatalf("InitConfig with force failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if string(content) == "modified" {
		t.Error("Config was not overwritten with force flag")
	}
}

func TestInitConfigToPath_Success(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatalf("Config file was not created at %s", configPath)
	}
}

func TestInitConfigToPath_AlreadyExists(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("existing"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := InitConfigToPath(configPath, false); err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if err := InitConfigToPath(configPath, true); err != nil {
		t.Fatalf("InitConfigToPath with force failed: %v", err)
	}
}

func TestGenerateYAMLWithComments_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	out, err := generateYAMLWithComments(cfg)
	if err != nil {
		t.Fatalf("generateYAMLWithComments failed: %v", err)
	}

	for _, want := range []string{
		"level: INFO",
		"type: memory",
		"refresh_delay: 50ms",
		"block_warning: 10s",
		"declared: []",
		"# -1 disables the cache",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Generated YAML missing %q:\n%s", want, out)
		}
	}
}

func TestGenerateYAMLWithComments_DeclaredLoaders(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Loaders.Declared = []DeclaredLoaderConfig{
		{Name: "java", Extensions: []string{"java"}, SecondaryExtensions: []string{"form"}},
	}

	out, err := generateYAMLWithComments(cfg)
	if err != nil {
		t.Fatalf("generateYAMLWithComments failed: %v", err)
	}

	var raw struct {
		Loaders struct {
			Declared []map[string]any `yaml:"declared"`
		} `yaml:"loaders"`
	}
	if err := yaml.Unmarshal([]byte(out), &raw); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
	if len(raw.Loaders.Declared) != 1 || raw.Loaders.Declared[0]["name"] != "java" {
		t.Errorf("Expected declared java loader, got %+v", raw.Loaders.Declared)
	}
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}

	if cfg.Folders.DelayedWaitTimeout != 2*time.Second {
		t.Errorf("Expected delayed_wait_timeout 2s, got %v", cfg.Folders.DelayedWaitTimeout)
	}
	if cfg.Filesystem.Watch.Debounce != 100*time.Millisecond {
		t.Errorf("Expected debounce 100ms, got %v", cfg.Filesystem.Watch.Debounce)
	}
	if cfg.Tasks.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", cfg.Tasks.Workers)
	}
}
