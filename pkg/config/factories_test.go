package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittoloaders/pkg/loaders"
	"github.com/spf13/afero"
)

func TestCreateBackend_Memory(t *testing.T) {
	backend, err := CreateBackend(&FilesystemConfig{})
	if err != nil {
		t.Fatalf("Failed to create memory backend: %v", err)
	}
	if _, ok := backend.(*afero.MemMapFs); !ok {
		t.Errorf("Expected MemMapFs without root, got %T", backend)
	}
}

func TestCreateBackend_Root(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tree")

	backend, err := CreateBackend(&FilesystemConfig{Root: root})
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Fatalf("Expected root directory to be created, got: %v", err)
	}

	if err := afero.WriteFile(backend, "/a.txt", []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write through backend: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "a.txt")); err != nil {
		t.Errorf("Expected file below root, got: %v", err)
	}
}

func TestCreateBackend_ReadOnly(t *testing.T) {
	root := t.TempDir()

	backend, err := CreateBackend(&FilesystemConfig{Root: root, ReadOnly: true})
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	if err := afero.WriteFile(backend, "/a.txt", []byte("x"), 0644); err == nil {
		t.Error("Expected write to a read-only backend to fail")
	}

	// a missing read-only root is never created
	if _, err := CreateBackend(&FilesystemConfig{Root: filepath.Join(root, "missing"), ReadOnly: true}); err == nil {
		t.Error("Expected missing read-only root to fail")
	}
}

func TestCreateBackend_NotDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := CreateBackend(&FilesystemConfig{Root: file})
	if err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Errorf("Expected 'not a directory' error, got: %v", err)
	}
}

func TestCreateAttributeStore_Memory(t *testing.T) {
	store, err := CreateAttributeStore(context.Background(), &AttributesConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("Failed to create memory attribute store: %v", err)
	}
	defer func() { _ = store.Close() }()

	if store == nil {
		t.Fatal("Expected non-nil store")
	}
}

func TestCreateAttributeStore_MemoryUnknownKey(t *testing.T) {
	cfg := &AttributesConfig{Type: "memory", Memory: map[string]any{"size": 10}}

	_, err := CreateAttributeStore(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Errorf("Expected 'unknown keys' error, got: %v", err)
	}
}

func TestCreateAttributeStore_Badger(t *testing.T) {
	ctx := context.Background()
	cfg := &AttributesConfig{
		Type: "badger",
		Badger: map[string]any{
			"db_path":        t.TempDir(),
			"block_cache_mb": "8",
		},
	}

	store, err := CreateAttributeStore(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to create badger attribute store: %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Set(ctx, "/a.txt", "label", "x"); err != nil {
		t.Fatalf("Failed to set attribute: %v", err)
	}
	v, ok, err := store.Get(ctx, "/a.txt", "label")
	if err != nil || !ok || v != "x" {
		t.Errorf("Expected stored attribute, got %v %v %v", v, ok, err)
	}
}

func TestCreateAttributeStore_UnknownType(t *testing.T) {
	_, err := CreateAttributeStore(context.Background(), &AttributesConfig{Type: "unknown"})
	if err == nil {
		t.Fatal("Expected error for unknown store type")
	}
	if !strings.Contains(err.Error(), "unknown attribute store type") {
		t.Errorf("Expected 'unknown attribute store type' error, got: %v", err)
	}
}

func TestCreateLoader(t *testing.T) {
	tests := []struct {
		name    string
		decl    DeclaredLoaderConfig
		wantErr bool
	}{
		{"extension", DeclaredLoaderConfig{Name: "java", Extensions: []string{"java"}}, false},
		{"pattern", DeclaredLoaderConfig{Name: "make", Patterns: []string{"Makefile*"}}, false},
		{"composite", DeclaredLoaderConfig{Name: "form", Extensions: []string{"java"}, SecondaryExtensions: []string{"form"}}, false},
		{"bad pattern", DeclaredLoaderConfig{Name: "bad", Patterns: []string{"[a-"}}, true},
		{"composite with two primaries", DeclaredLoaderConfig{Name: "bad", Extensions: []string{"a", "b"}, SecondaryExtensions: []string{"c"}}, true},
		{"empty", DeclaredLoaderConfig{Name: "empty"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := CreateLoader(tt.decl)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if l.Name() != tt.decl.Name {
				t.Errorf("Expected loader name %q, got %q", tt.decl.Name, l.Name())
			}
		})
	}
}

func newRuntime(t *testing.T, mutate func(*Config)) *Runtime {
	t.Helper()
	cfg := GetDefaultConfig()
	cfg.Tasks.BlockWarning = 2 * time.Second
	cfg.Folders.RefreshDelay = 5 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Invalid test config: %v", err)
	}

	rt, err := InitializeRuntime(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitializeRuntime failed: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func recognizedBy(t *testing.T, rt *Runtime, nameExt string) string {
	t.Helper()
	name, ext, _ := strings.Cut(nameExt, ".")
	if _, err := rt.FileSystem.Root().CreateData(name, ext); err != nil {
		t.Fatalf("Failed to create %s: %v", nameExt, err)
	}
	obj, err := rt.System.FindPath(context.Background(), "/"+nameExt)
	if err != nil {
		t.Fatalf("Failed to recognize %s: %v", nameExt, err)
	}
	return obj.Loader().Name()
}

func TestInitializeRuntime_Defaults(t *testing.T) {
	rt := newRuntime(t, nil)

	if rt.Metrics.Server != nil {
		t.Error("Expected no metrics server when metrics are disabled")
	}
	if got := recognizedBy(t, rt, "notes.txt"); got != loaders.DefaultLoaderName {
		t.Errorf("Expected default loader, got %q", got)
	}
	if _, err := rt.System.Root(context.Background()); err != nil {
		t.Errorf("Expected root folder object, got: %v", err)
	}
}

func TestInitializeRuntime_DeclaredLoaders(t *testing.T) {
	rt := newRuntime(t, func(cfg *Config) {
		cfg.Loaders.Declared = []DeclaredLoaderConfig{
			{Name: "java", Extensions: []string{"java"}, SecondaryExtensions: []string{"form"}},
			{Name: "make", Patterns: []string{"Makefile*"}},
		}
	})

	if got := recognizedBy(t, rt, "Main.java"); got != "java" {
		t.Errorf("Expected java loader, got %q", got)
	}
	if got := recognizedBy(t, rt, "Makefile.in"); got != "make" {
		t.Errorf("Expected make loader, got %q", got)
	}
	if rt.System.Loaders().Loader("java") == nil {
		t.Error("Expected java loader to be registered")
	}
}

func TestInitializeRuntime_PreferredLoader(t *testing.T) {
	rt := newRuntime(t, func(cfg *Config) {
		cfg.Loaders.Declared = []DeclaredLoaderConfig{
			{Name: "plain", Extensions: []string{"txt"}},
			{Name: "notes", Extensions: []string{"txt"}},
		}
		cfg.Loaders.Preferred = "notes"
	})

	if got := recognizedBy(t, rt, "todo.txt"); got != "notes" {
		t.Errorf("Expected preferred loader to win, got %q", got)
	}
}

func TestInitializeRuntime_Order(t *testing.T) {
	rt := newRuntime(t, func(cfg *Config) {
		cfg.Loaders.Declared = []DeclaredLoaderConfig{
			{Name: "plain", Extensions: []string{"txt"}},
			{Name: "notes", Extensions: []string{"txt"}},
		}
		cfg.Loaders.Order = []string{"notes", "plain"}
	})

	if got := recognizedBy(t, rt, "todo.txt"); got != "notes" {
		t.Errorf("Expected reordered loader to win, got %q", got)
	}
}

func TestInitializeRuntime_Factory(t *testing.T) {
	rt := newRuntime(t, func(cfg *Config) {
		cfg.Filesystem.MIMETypes = map[string]string{"jav": "text/x-java"}
		cfg.Loaders.Declared = []DeclaredLoaderConfig{
			{Name: "java", Extensions: []string{"jav"}, MIMETypes: []string{"text/x-java"}},
		}
	})

	if got := recognizedBy(t, rt, "Main.jav"); got != "java" {
		t.Errorf("Expected factory loader, got %q", got)
	}
}

func TestInitializeRuntime_UndeclaredPreferred(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Loaders.Preferred = "missing"

	if _, err := InitializeRuntime(context.Background(), cfg); err == nil {
		t.Fatal("Expected undeclared preferred loader to fail")
	}
}

func TestInitializeRuntime_Watch(t *testing.T) {
	root := t.TempDir()
	rt := newRuntime(t, func(cfg *Config) {
		cfg.Filesystem.Root = root
		cfg.Filesystem.Watch.Enabled = true
		cfg.Filesystem.Watch.Debounce = 10 * time.Millisecond
	})

	if err := os.WriteFile(filepath.Join(root, "outside.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for rt.FileSystem.FindResource("/outside.txt") == nil {
		if time.Now().After(deadline) {
			t.Fatal("Expected watcher to pick up the new file")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestInitializeRuntime_Collector(t *testing.T) {
	rt := newRuntime(t, nil)
	ctx := context.Background()

	if err := rt.FileSystem.Attributes().Set(ctx, "/gone.txt", "loader", "notes"); err != nil {
		t.Fatalf("Failed to set attribute: %v", err)
	}

	stats, err := rt.Collector.RunNow(ctx)
	if err != nil {
		t.Fatalf("Collection failed: %v", err)
	}
	if stats.DeletedCount != 1 {
		t.Errorf("Expected one orphaned path to be collected, got %s", stats.Summary())
	}
}

func TestRuntime_NodeOptions(t *testing.T) {
	rt := newRuntime(t, func(cfg *Config) {
		cfg.Folders.DelayedNodes = true
		cfg.Folders.DelayedWaitRounds = 5
	})

	opts := rt.NodeOptions()
	if !opts.Delayed {
		t.Error("Expected delayed nodes")
	}
	if opts.WaitRounds != 5 {
		t.Errorf("Expected 5 wait rounds, got %d", opts.WaitRounds)
	}
	if opts.WaitTimeout != 2*time.Second {
		t.Errorf("Expected default wait timeout, got %v", opts.WaitTimeout)
	}
}
