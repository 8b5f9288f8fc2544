package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/gc"
	"github.com/marmos91/dittoloaders/pkg/loaders"
	"github.com/marmos91/dittoloaders/pkg/nodes"
	"github.com/marmos91/dittoloaders/pkg/vfs"
	"github.com/marmos91/dittoloaders/pkg/vfs/watch"
)

// Runtime is a loader system assembled from configuration.
type Runtime struct {
	Config     *Config
	FileSystem *vfs.FileSystem
	System     *loaders.System
	Metrics    *MetricsResult
	Collector  *gc.Collector

	bridge   *watch.Bridge
	stop     context.CancelFunc
	finished chan struct{}
}

// InitializeRuntime creates a fully configured loader system from the
// provided configuration.
//
// This function orchestrates the complete initialization process:
//  1. Creates the metrics sink (no-op when metrics are disabled)
//  2. Creates the filesystem backend and attribute store
//  3. Builds the declared loaders and picks the preferred one
//  4. Creates the system and registers the remaining declared loaders
//  5. Applies the configured loader order
//  6. Starts the on-disk watcher when enabled
//  7. Starts the orphaned attribute collector when enabled
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	rt, err := config.InitializeRuntime(ctx, cfg)
//	if err != nil {
//	    log.Fatalf("Failed to initialize: %v", err)
//	}
//	defer rt.Close()
func InitializeRuntime(ctx context.Context, cfg *Config) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	logger.Debug("Initializing loader system from configuration")

	m := InitializeMetrics(cfg)

	fsys, err := CreateFileSystem(ctx, cfg)
	if err != nil {
		return nil, err
	}

	built, preferred, err := buildDeclaredLoaders(cfg.Loaders)
	if err != nil {
		_ = fsys.Close()
		return nil, err
	}

	opts := SystemOptions(cfg, fsys, preferred)
	opts.Metrics = m.LoaderMetrics
	sys, err := loaders.NewSystem(opts)
	if err != nil {
		_ = fsys.Close()
		return nil, fmt.Errorf("failed to create loader system: %w", err)
	}

	rt := &Runtime{Config: cfg, FileSystem: fsys, System: sys, Metrics: m}

	if err := registerDeclaredLoaders(ctx, sys, cfg.Loaders, built, preferred); err != nil {
		_ = rt.Close()
		return nil, err
	}

	if len(cfg.Loaders.Order) > 0 {
		if err := sys.Loaders().Reorder(cfg.Loaders.Order); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("failed to apply loader order: %w", err)
		}
	}

	if cfg.Filesystem.Watch.Enabled {
		if err := rt.startWatcher(); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	collector, err := gc.NewCollector(fsys, gc.Config{
		Enabled:  cfg.GC.Enabled,
		Interval: cfg.GC.Interval,
		DryRun:   cfg.GC.DryRun,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Collector = collector
	collector.Start()

	logger.Debug("Loader system ready with %d loader(s)", len(sys.Loaders().AllLoaders()))
	return rt, nil
}

// buildDeclaredLoaders creates every declared loader and separates the
// preferred one.
func buildDeclaredLoaders(cfg LoadersConfig) (map[string]*loaders.MultiFileLoader, loaders.Loader, error) {
	built := make(map[string]*loaders.MultiFileLoader, len(cfg.Declared))
	for _, d := range cfg.Declared {
		l, err := CreateLoader(d)
		if err != nil {
			return nil, nil, err
		}
		built[d.Name] = l
	}

	var preferred loaders.Loader
	if cfg.Preferred != "" {
		l, ok := built[cfg.Preferred]
		if !ok {
			return nil, nil, fmt.Errorf("preferred loader %q is not declared", cfg.Preferred)
		}
		preferred = l
	}
	return built, preferred, nil
}

// registerDeclaredLoaders installs the declared loaders in declaration
// order and restores their persisted action lists.
func registerDeclaredLoaders(ctx context.Context, sys *loaders.System, cfg LoadersConfig, built map[string]*loaders.MultiFileLoader, preferred loaders.Loader) error {
	for _, d := range cfg.Declared {
		l := built[d.Name]
		switch {
		case loaders.Loader(l) == preferred:
		case len(d.MIMETypes) > 0:
			for _, mt := range d.MIMETypes {
				sys.Loaders().RegisterFactory(mt, l)
			}
		default:
			if err := sys.Loaders().Register(l); err != nil {
				return fmt.Errorf("failed to register loader %q: %w", d.Name, err)
			}
		}

		if _, err := sys.LoadActions(ctx, l); err != nil {
			logger.Warn("Failed to load persisted actions of %s: %v", d.Name, err)
		}
		logger.Debug("Loader %q registered", d.Name)
	}
	return nil
}

func (rt *Runtime) startWatcher() error {
	fs := rt.Config.Filesystem
	b, err := watch.NewBridge(rt.FileSystem, fs.Root, watch.Options{
		Debounce:           fs.Watch.Debounce,
		RefreshesPerSecond: fs.Watch.RefreshesPerSecond,
	})
	if err != nil {
		return err
	}
	if err := b.AddTree("/"); err != nil {
		_ = b.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt.bridge, rt.stop, rt.finished = b, cancel, make(chan struct{})
	go func() {
		defer close(rt.finished)
		if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Watcher stopped: %v", err)
		}
	}()
	logger.Info("Watching %s for changes", fs.Root)
	return nil
}

// NodeOptions returns the folder view options of the configuration.
func (rt *Runtime) NodeOptions() nodes.Options {
	f := rt.Config.Folders
	return nodes.Options{
		Delayed:     f.DelayedNodes,
		WaitRounds:  f.DelayedWaitRounds,
		WaitTimeout: f.DelayedWaitTimeout,
	}
}

// Close stops the collector, the watcher and the loader system and closes
// the filesystem.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Collector != nil {
		ctx, cancel := context.WithTimeout(context.Background(), rt.Config.Tasks.BlockWarning)
		errs = append(errs, rt.Collector.Stop(ctx))
		cancel()
	}
	if rt.bridge != nil {
		rt.stop()
		errs = append(errs, rt.bridge.Close())
		<-rt.finished
	}
	errs = append(errs, rt.System.Close(), rt.FileSystem.Close())
	return errors.Join(errs...)
}
