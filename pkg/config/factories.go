package config

import (
	"context"
	"fmt"
	"os"

	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/loaders"
	"github.com/marmos91/dittoloaders/pkg/vfs"
	"github.com/spf13/afero"
)

// CreateBackend returns the afero backend of the filesystem: the directory
// tree below cfg.Root, or an in-memory tree when no root is set.
func CreateBackend(cfg *FilesystemConfig) (afero.Fs, error) {
	if cfg.Root == "" {
		return afero.NewMemMapFs(), nil
	}

	info, err := os.Stat(cfg.Root)
	switch {
	case os.IsNotExist(err) && !cfg.ReadOnly:
		if err := os.MkdirAll(cfg.Root, 0755); err != nil {
			return nil, fmt.Errorf("failed to create filesystem root %s: %w", cfg.Root, err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to access filesystem root %s: %w", cfg.Root, err)
	case !info.IsDir():
		return nil, fmt.Errorf("filesystem root %s is not a directory", cfg.Root)
	}

	var backend afero.Fs = afero.NewBasePathFs(afero.NewOsFs(), cfg.Root)
	if cfg.ReadOnly {
		backend = afero.NewReadOnlyFs(backend)
	}
	return backend, nil
}

// CreateFileSystem creates the virtual filesystem with its attribute store.
func CreateFileSystem(ctx context.Context, cfg *Config) (*vfs.FileSystem, error) {
	backend, err := CreateBackend(&cfg.Filesystem)
	if err != nil {
		return nil, err
	}

	attrs, err := CreateAttributeStore(ctx, &cfg.Attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to create attribute store: %w", err)
	}

	logger.Debug("Filesystem root %q (read-only: %v), attributes in %s store",
		cfg.Filesystem.Root, cfg.Filesystem.ReadOnly, cfg.Attributes.Type)

	return vfs.New(backend, attrs, vfs.Options{
		MIMETypes:    cfg.Filesystem.MIMETypes,
		ReadOnly:     cfg.Filesystem.ReadOnly,
		SniffContent: cfg.Filesystem.SniffContent,
	}), nil
}

// CreateLoader builds the loader described by d.
func CreateLoader(d DeclaredLoaderConfig) (*loaders.MultiFileLoader, error) {
	info := loaders.LoaderInfo{
		Name:        d.Name,
		DisplayName: d.DisplayName,
		Module:      d.Module,
		Actions:     d.Actions,
	}

	switch {
	case len(d.SecondaryExtensions) > 0:
		if len(d.Extensions) != 1 {
			return nil, fmt.Errorf("loader %s: secondary extensions require exactly one primary extension", d.Name)
		}
		return loaders.NewCompositeLoader(info, d.Extensions[0], d.SecondaryExtensions...), nil
	case len(d.Patterns) > 0:
		l, err := loaders.NewPatternLoader(info, d.Patterns...)
		if err != nil {
			return nil, fmt.Errorf("loader %s: %w", d.Name, err)
		}
		return l, nil
	case len(d.Extensions) > 0:
		return loaders.NewExtensionLoader(info, d.Extensions...), nil
	default:
		return nil, fmt.Errorf("loader %s: no extensions or patterns", d.Name)
	}
}

// SystemOptions translates the configuration into loader system options.
// The filesystem and the preferred loader are supplied by the caller.
func SystemOptions(cfg *Config, fsys *vfs.FileSystem, preferred loaders.Loader) loaders.SystemOptions {
	return loaders.SystemOptions{
		FileSystem:      fsys,
		Preferred:       preferred,
		DisabledModules: cfg.Loaders.DisabledModules,
		ExcludedPaths:   cfg.Loaders.ExcludedPaths,
		Workers:         cfg.Tasks.Workers,
		BlockWarning:    cfg.Tasks.BlockWarning,
		RefreshDelay:    cfg.Folders.RefreshDelay,
		OrderCacheSize:  cfg.Folders.OrderCacheSize,
	}
}
