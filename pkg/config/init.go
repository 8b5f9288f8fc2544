package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// InitConfig writes a sample configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

type entry struct {
	key     string
	comment string
	value   *yaml.Node
}

func mapping(entries ...entry) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range entries {
		k := &yaml.Node{Kind: yaml.ScalarNode, Value: e.key, HeadComment: e.comment}
		n.Content = append(n.Content, k, e.value)
	}
	return n
}

func value(v any) *yaml.Node {
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		panic(err)
	}
	return &n
}

// generateYAMLWithComments renders cfg as commented YAML.
func generateYAMLWithComments(cfg *Config) (string, error) {
	f := cfg.Filesystem
	root := mapping(
		entry{"logging", "Logging", mapping(
			entry{"level", "DEBUG, INFO, WARN or ERROR", value(cfg.Logging.Level)},
			entry{"format", "text or json", value(cfg.Logging.Format)},
			entry{"output", "stdout, stderr or a file path", value(cfg.Logging.Output)},
		)},
		entry{"filesystem", "Virtual filesystem", mapping(
			entry{"root", "Directory backing the filesystem (empty keeps everything in memory)", value(f.Root)},
			entry{"read_only", "", value(f.ReadOnly)},
			entry{"mime_types", "Extension to content type overrides, e.g. java: text/x-java", value(f.MIMETypes)},
			entry{"sniff_content", "Detect the type of files with unknown extensions from their content", value(f.SniffContent)},
			entry{"watch", "Mirror changes made on disk by other programs (requires root)", mapping(
				entry{"enabled", "", value(f.Watch.Enabled)},
				entry{"debounce", "", value(f.Watch.Debounce.String())},
				entry{"refreshes_per_second", "", value(f.Watch.RefreshesPerSecond)},
			)},
		)},
		entry{"attributes", "Attribute storage: memory or badger", mapping(
			entry{"type", "", value(cfg.Attributes.Type)},
			entry{"badger", "Used when type is badger: db_path, block_cache_mb, index_cache_mb", value(cfg.Attributes.Badger)},
		)},
		entry{"loaders", "Loader pool", mapping(
			entry{"preferred", "Declared loader consulted before every other one", value(cfg.Loaders.Preferred)},
			entry{"disabled_modules", "", value(emptyIfNil(cfg.Loaders.DisabledModules))},
			entry{"excluded_paths", "Settings files the instance loader never claims", value(emptyIfNil(cfg.Loaders.ExcludedPaths))},
			entry{"order", "Loaders moved to the front, in this order", value(emptyIfNil(cfg.Loaders.Order))},
			entry{"declared", "Loaders built from configuration, e.g.\n- name: java\n  extensions: [java]\n  secondary_extensions: [form]", value(declaredValues(cfg.Loaders.Declared))},
		)},
		entry{"folders", "Folder lists and views", mapping(
			entry{"order_cache_size", "-1 disables the cache", value(cfg.Folders.OrderCacheSize)},
			entry{"refresh_delay", "", value(cfg.Folders.RefreshDelay.String())},
			entry{"delayed_nodes", "Show placeholders while files are recognized", value(cfg.Folders.DelayedNodes)},
			entry{"delayed_wait_rounds", "", value(cfg.Folders.DelayedWaitRounds)},
			entry{"delayed_wait_timeout", "", value(cfg.Folders.DelayedWaitTimeout.String())},
		)},
		entry{"tasks", "Background processor", mapping(
			entry{"workers", "", value(cfg.Tasks.Workers)},
			entry{"block_warning", "Waits on background work give up after this long", value(cfg.Tasks.BlockWarning.String())},
		)},
		entry{"gc", "Removes attributes of files deleted behind the filesystem's back", mapping(
			entry{"enabled", "", value(cfg.GC.Enabled)},
			entry{"interval", "", value(cfg.GC.Interval.String())},
			entry{"dry_run", "", value(cfg.GC.DryRun)},
		)},
		entry{"metrics", "Prometheus metrics", mapping(
			entry{"enabled", "", value(cfg.Metrics.Enabled)},
			entry{"listen", "", value(cfg.Metrics.Listen)},
		)},
	)

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "dittoloaders configuration file\n\nEnvironment variables (DITTOLOADERS_*) override the values below.",
		Content:     []*yaml.Node{root},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func declaredValues(s []DeclaredLoaderConfig) []map[string]any {
	out := make([]map[string]any, 0, len(s))
	for _, d := range s {
		m := map[string]any{"name": d.Name}
		if d.Module != "" {
			m["module"] = d.Module
		}
		if len(d.Extensions) > 0 {
			m["extensions"] = d.Extensions
		}
		if len(d.Patterns) > 0 {
			m["patterns"] = d.Patterns
		}
		if len(d.SecondaryExtensions) > 0 {
			m["secondary_extensions"] = d.SecondaryExtensions
		}
		out = append(out, m)
	}
	return out
}
