// Package watch bridges fsnotify notifications from an on-disk root into
// vfs.FileSystem refreshes, so that changes made by other programs surface
// as regular filesystem events.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/internal/ratelimiter"
	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// Options configures a Bridge.
type Options struct {
	// Debounce is the quiet period after the last notification for a folder
	// before it is refreshed (default: 100ms)
	Debounce time.Duration

	// RefreshesPerSecond caps refreshes per folder (default: 5, 0 = default)
	RefreshesPerSecond float64
}

// Bridge watches the directory tree below RootDir, which must be the
// directory the filesystem's backend is rooted at.
type Bridge struct {
	fsys    *vfs.FileSystem
	rootDir string
	watcher *fsnotify.Watcher
	limiter *ratelimiter.KeyedLimiter
	opts    Options

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

// NewBridge creates a bridge. Call Run to start processing notifications.
func NewBridge(fsys *vfs.FileSystem, rootDir string, opts Options) (*Bridge, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	if opts.RefreshesPerSecond <= 0 {
		opts.RefreshesPerSecond = 5
	}

	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch root %s: %w", rootDir, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Bridge{
		fsys:    fsys,
		rootDir: abs,
		watcher: w,
		limiter: ratelimiter.New(opts.RefreshesPerSecond, 2),
		opts:    opts,
		pending: make(map[string]*time.Timer),
	}, nil
}

// AddTree watches dir (a virtual path) and every folder below it.
func (b *Bridge) AddTree(dir string) error {
	osDir := b.osPath(vfs.CleanPath(dir))
	return filepath.WalkDir(osDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := b.watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

// Run processes notifications until ctx is cancelled or the bridge is closed.
func (b *Bridge) Run(ctx context.Context) error {
	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return nil
			}
			b.handle(ev)
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error: %v", err)
		case <-sweep.C:
			b.limiter.Sweep()
		}
	}
}

// Close stops the watcher and cancels pending refreshes.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	for k, t := range b.pending {
		t.Stop()
		delete(b.pending, k)
	}
	b.mu.Unlock()
	return b.watcher.Close()
}

func (b *Bridge) handle(ev fsnotify.Event) {
	vpath, ok := b.virtualPath(ev.Name)
	if !ok {
		return
	}
	logger.Debug("watch: %s %s", ev.Op, vpath)

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := b.AddTree(vpath); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warn("watch: %v", err)
			}
		}
	}
	if vpath == "/" {
		return
	}
	b.schedule(path.Dir(vpath), b.opts.Debounce)
}

// schedule (re)arms the debounce timer of one folder.
func (b *Bridge) schedule(folder string, delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if t, ok := b.pending[folder]; ok {
		t.Reset(delay)
		return
	}
	b.pending[folder] = time.AfterFunc(delay, func() { b.fire(folder) })
}

func (b *Bridge) fire(folder string) {
	b.mu.Lock()
	delete(b.pending, folder)
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}

	if !b.limiter.Allow(folder) {
		b.schedule(folder, b.limiter.Delay(folder))
		return
	}

	f := b.fsys.FindResource(folder)
	if f == nil {
		// the folder itself is gone; its parent will report it
		if folder != "/" {
			b.schedule(path.Dir(folder), b.opts.Debounce)
		}
		return
	}
	if err := b.fsys.Refresh(f); err != nil {
		logger.Warn("watch: refresh of %s failed: %v", folder, err)
	}
}

func (b *Bridge) osPath(vpath string) string {
	return filepath.Join(b.rootDir, filepath.FromSlash(strings.TrimPrefix(vpath, "/")))
}

func (b *Bridge) virtualPath(osPath string) (string, bool) {
	rel, err := filepath.Rel(b.rootDir, osPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return vfs.CleanPath(filepath.ToSlash(rel)), true
}
