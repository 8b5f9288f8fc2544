// Package gc removes attributes left behind by files that no longer exist.
//
// Attributes outlive their file when another program deletes it while no
// watcher runs, or when a persistent store is reopened over a changed tree.
// A file created later at the same path would otherwise pick up the loader
// assignment, folder order or template flag of its predecessor.
package gc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// DefaultInterval is used when Config.Interval is zero.
const DefaultInterval = time.Hour

// runTimeout bounds one periodic run.
const runTimeout = 10 * time.Minute

// dryRunListed caps the paths a dry run logs.
const dryRunListed = 10

// Config tunes a Collector.
type Config struct {
	// Enabled starts the periodic worker on Start. RunNow works either way.
	Enabled bool

	// Interval between periodic runs.
	Interval time.Duration

	// DryRun reports orphaned paths without deleting anything.
	DryRun bool
}

// Collector sweeps the attribute store of a FileSystem, periodically or on
// demand. It is safe for concurrent use.
type Collector struct {
	fsys   *vfs.FileSystem
	config Config

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewCollector returns a stopped collector over the attributes of fsys.
func NewCollector(fsys *vfs.FileSystem, config Config) (*Collector, error) {
	if fsys == nil {
		return nil, fmt.Errorf("gc: filesystem is required")
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}

	return &Collector{
		fsys:   fsys,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the periodic worker. It does nothing when the collector
// is disabled or already started.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Debug("Attribute collection disabled")
		return
	}

	c.startOnce.Do(func() {
		c.started.Store(true)
		logger.Info("Attribute collection every %s (dry_run=%v)", c.config.Interval, c.config.DryRun)
		go c.loop()
	})
}

// Stop ends the periodic worker and waits for a run in progress, giving up
// with ctx.Err() when ctx expires first.
func (c *Collector) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if !c.started.Load() {
		return nil
	}

	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		logger.Warn("Attribute collection did not stop in time")
		return ctx.Err()
	}
}

// RunNow runs one collection synchronously.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	return c.collect(ctx)
}

func (c *Collector) loop() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		stats, err := c.collect(ctx)
		cancel()
		if err != nil {
			logger.Error("Attribute collection failed: %v", err)
			continue
		}
		logger.Info("Attribute collection: %s", stats.Summary())
	}
}

// collect performs a single collection run:
//  1. List every path carrying attributes
//  2. Keep the paths whose nearest missing ancestor is the path itself
//  3. Delete the attributes of those paths and their descendants
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	attrs := c.fsys.Attributes()

	paths, err := attrs.Paths(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list attributed paths: %w", err)
	}
	stats.ScannedCount = uint64(len(paths))

	// Sorted order visits parents first, so one Delete covers a whole
	// vanished subtree.
	sort.Strings(paths)
	var orphaned []string
	for _, p := range paths {
		if len(orphaned) > 0 && isBelow(p, orphaned[len(orphaned)-1]) {
			continue
		}
		if !c.fsys.Exists(p) {
			orphaned = append(orphaned, p)
		}
	}
	stats.OrphanedCount = uint64(len(orphaned))

	if len(orphaned) == 0 {
		stats.EndTime = time.Now()
		return stats, nil
	}

	if c.config.DryRun {
		for _, p := range orphaned[:min(len(orphaned), dryRunListed)] {
			logger.Info("Dry run: would drop attributes of %s", p)
		}
		if extra := len(orphaned) - dryRunListed; extra > 0 {
			logger.Info("Dry run: %d more paths not listed", extra)
		}
		stats.EndTime = time.Now()
		return stats, nil
	}

	for _, p := range orphaned {
		if err := ctx.Err(); err != nil {
			stats.EndTime = time.Now()
			return stats, err
		}
		if err := attrs.Delete(ctx, p); err != nil {
			logger.Debug("Dropping attributes of %s: %v", p, err)
			stats.FailedCount++
			continue
		}
		stats.DeletedCount++
	}

	stats.EndTime = time.Now()
	return stats, nil
}

func isBelow(p, dir string) bool {
	if dir == "/" {
		return true
	}
	return len(p) > len(dir) && p[:len(dir)] == dir && p[len(dir)] == '/'
}

// Stats describes one collection run. Orphaned paths are counted as
// subtree roots: a vanished folder counts once, whatever lies below it.
type Stats struct {
	StartTime     time.Time
	EndTime       time.Time
	ScannedCount  uint64
	OrphanedCount uint64
	DeletedCount  uint64
	FailedCount   uint64
}

// Duration of the run, or the time elapsed so far while it is running.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary formats the counters on one line.
func (s *Stats) Summary() string {
	return fmt.Sprintf("scanned=%d orphaned=%d deleted=%d failed=%d duration=%s",
		s.ScannedCount, s.OrphanedCount, s.DeletedCount, s.FailedCount, s.Duration())
}
