package loaders

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/tasks"
	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// ChangeReason tells why a children list changed.
type ChangeReason int

const (
	// ChildrenChanged means members were added or removed
	ChildrenChanged ChangeReason = iota

	// OrderChanged means the same members are in a different order
	OrderChanged
)

// ChildrenEvent carries the new children list of a folder.
type ChildrenEvent struct {
	Folder  *vfs.File
	Objects []DataObject
	Reason  ChangeReason
	Serial  uint64
}

// FolderList keeps the ordered object list of one folder in sync with
// filesystem events. Recomputations run on the list's sequencer, so they
// never overlap and apply in submission order.
type FolderList struct {
	sys    *System
	folder *vfs.File
	seq    *tasks.Sequencer

	mu        sync.Mutex
	objects   []DataObject
	computed  bool
	dirty     bool
	pending   bool
	serial    uint64
	listeners map[uint64]func(ChildrenEvent)
	nextID    uint64
}

func newFolderList(sys *System, folder *vfs.File) *FolderList {
	return &FolderList{
		sys:       sys,
		folder:    folder,
		seq:       tasks.NewSequencer(sys.proc),
		listeners: make(map[uint64]func(ChildrenEvent)),
	}
}

// Folder returns the listed folder.
func (l *FolderList) Folder() *vfs.File { return l.folder }

// Serial increases with every applied change.
func (l *FolderList) Serial() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.serial
}

// AddListener subscribes fn to list changes. Listeners run on the
// background processor.
func (l *FolderList) AddListener(fn func(ChildrenEvent)) (remove func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

// Objects returns the current list, recomputing it when it is stale. The
// wait for the background recomputation is bounded; past the bound the
// list is computed on the calling goroutine.
func (l *FolderList) Objects(ctx context.Context) ([]DataObject, error) {
	l.mu.Lock()
	if l.computed && !l.dirty {
		out := slices.Clone(l.objects)
		l.mu.Unlock()
		return out, nil
	}
	l.mu.Unlock()

	if tasks.InTask(ctx) {
		return l.compute(ctx)
	}

	t := l.Refresh()
	if !tasks.WaitBounded(ctx, t, l.sys.opts.BlockWarning, "children of "+l.folder.Path()) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return l.compute(ctx)
	}
	if err := t.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.objects), nil
}

// Refresh recomputes the list on the sequencer.
func (l *FolderList) Refresh() *tasks.Task {
	l.mu.Lock()
	l.pending = false
	l.mu.Unlock()

	return l.seq.Post(func(ctx context.Context) error {
		start := time.Now()
		l.mu.Lock()
		l.dirty = false
		l.mu.Unlock()

		objs, err := l.compute(ctx)
		if err != nil {
			return err
		}
		l.apply(objs)
		l.sys.metrics.ObserveFolderRefresh("list", time.Since(start))
		return nil
	})
}

// compute recognizes the children of the folder and sorts them.
func (l *FolderList) compute(ctx context.Context) ([]DataObject, error) {
	if !l.folder.IsValid() {
		return nil, nil
	}

	recognized := NewRecognizedSet()
	seen := make(map[DataObject]bool)
	var objs []DataObject
	for _, child := range l.folder.Children() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if recognized.Contains(child) {
			continue
		}
		obj, err := l.sys.loaders.FindDataObject(ctx, child, recognized)
		if err != nil {
			logger.WithFields(map[string]any{
				"folder": l.folder.Path(),
				"file":   child.NameExt(),
			}).Warnf("recognition failed: %v", err)
			continue
		}
		if obj == nil || !obj.IsValid() || seen[obj] {
			continue
		}
		seen[obj] = true
		objs = append(objs, obj)
	}

	l.sys.orders.get(l.folder).SortObjects(objs)
	return objs, nil
}

// apply installs objs and notifies listeners when the list changed.
func (l *FolderList) apply(objs []DataObject) {
	l.mu.Lock()
	old := l.objects
	first := !l.computed
	l.objects = objs
	l.computed = true
	if !first && slices.Equal(old, objs) {
		l.mu.Unlock()
		return
	}
	l.serial++
	ev := ChildrenEvent{
		Folder:  l.folder,
		Objects: slices.Clone(objs),
		Reason:  changeReason(old, objs),
		Serial:  l.serial,
	}
	ids := make([]uint64, 0, len(l.listeners))
	for id := range l.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ls := make([]func(ChildrenEvent), 0, len(ids))
	for _, id := range ids {
		ls = append(ls, l.listeners[id])
	}
	l.mu.Unlock()

	logger.Debug("folder %s: %d children (serial %d)", l.folder.Path(), len(objs), ev.Serial)
	for _, fn := range ls {
		fn(ev)
	}
}

func changeReason(old, cur []DataObject) ChangeReason {
	if len(old) != len(cur) {
		return ChildrenChanged
	}
	members := make(map[DataObject]bool, len(old))
	for _, o := range old {
		members[o] = true
	}
	for _, o := range cur {
		if !members[o] {
			return ChildrenChanged
		}
	}
	return OrderChanged
}

// invalidate marks the list stale. Observed lists are recomputed after
// the configured refresh delay; bursts of events coalesce into one
// recomputation.
func (l *FolderList) invalidate() {
	l.mu.Lock()
	l.dirty = true
	observed := l.computed || len(l.listeners) > 0
	schedule := observed && !l.pending
	if schedule {
		l.pending = true
	}
	l.mu.Unlock()

	if schedule {
		l.sys.proc.Schedule(max(l.sys.opts.RefreshDelay, 0), func(ctx context.Context) error {
			l.Refresh()
			return nil
		})
	}
}
