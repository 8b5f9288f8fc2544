package vfs

import (
	"fmt"
	"slices"

	"github.com/marmos91/dittoloaders/internal/logger"
)

// EventKind identifies what happened to a file.
type EventKind int

const (
	// FolderCreated is fired on the parent when a folder appears
	FolderCreated EventKind = iota

	// DataCreated is fired on the parent when a data file appears
	DataCreated

	// Deleted is fired when a file or folder disappears (including the old
	// location of a move)
	Deleted

	// Renamed is fired when a file keeps its identity but changes name
	Renamed

	// Changed is fired when the content of a data file changes
	Changed

	// AttributeChanged is fired when an attribute is set or removed
	AttributeChanged
)

func (k EventKind) String() string {
	switch k {
	case FolderCreated:
		return "folder-created"
	case DataCreated:
		return "data-created"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	case Changed:
		return "changed"
	case AttributeChanged:
		return "attribute-changed"
	default:
		return "unknown"
	}
}

// Event describes one change of the file tree.
type Event struct {
	Kind EventKind

	// File is the affected file. For Deleted it is already invalid.
	File *File

	// Parent is the folder containing File at the time of the event.
	Parent *File

	// Path is File's path at the time of the event.
	Path string

	// OldName and OldExt are set for Renamed.
	OldName string
	OldExt  string

	// OldPath is set for Renamed.
	OldPath string

	// Attribute, OldValue and NewValue are set for AttributeChanged.
	Attribute string
	OldValue  any
	NewValue  any
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Kind, e.Path)
}

// IsCreate reports whether the event announces a new file.
func (e Event) IsCreate() bool {
	return e.Kind == FolderCreated || e.Kind == DataCreated
}

// Listener receives filesystem events. Listeners run synchronously on the
// goroutine that completed the operation (or the outermost atomic action),
// after all filesystem locks were released.
type Listener func(Event)

// AddListener subscribes l to every event and returns a function removing
// the subscription.
func (fsys *FileSystem) AddListener(l Listener) (remove func()) {
	fsys.lsMu.Lock()
	id := fsys.nextListener
	fsys.nextListener++
	fsys.listeners[id] = l
	fsys.lsMu.Unlock()

	return func() {
		fsys.lsMu.Lock()
		delete(fsys.listeners, id)
		fsys.lsMu.Unlock()
	}
}

// RunAtomic runs fn as one atomic action: events produced while it runs (by
// any goroutine) are delivered once, in order, after the outermost atomic
// action returns.
func (fsys *FileSystem) RunAtomic(fn func() error) error {
	fsys.evMu.Lock()
	fsys.atomicDepth++
	fsys.evMu.Unlock()

	defer func() {
		fsys.evMu.Lock()
		fsys.atomicDepth--
		var batch []Event
		if fsys.atomicDepth == 0 {
			batch = fsys.pending
			fsys.pending = nil
		}
		fsys.evMu.Unlock()
		fsys.deliver(batch)
	}()

	return fn()
}

func (fsys *FileSystem) fire(events ...Event) {
	if len(events) == 0 {
		return
	}
	fsys.evMu.Lock()
	if fsys.atomicDepth > 0 {
		fsys.pending = append(fsys.pending, events...)
		fsys.evMu.Unlock()
		return
	}
	fsys.evMu.Unlock()
	fsys.deliver(events)
}

func (fsys *FileSystem) deliver(events []Event) {
	if len(events) == 0 {
		return
	}

	fsys.lsMu.RLock()
	ids := make([]uint64, 0, len(fsys.listeners))
	for id := range fsys.listeners {
		ids = append(ids, id)
	}
	fsys.lsMu.RUnlock()
	slices.Sort(ids)

	for _, ev := range events {
		for _, id := range ids {
			fsys.lsMu.RLock()
			l, ok := fsys.listeners[id]
			fsys.lsMu.RUnlock()
			if !ok {
				continue
			}
			notify(l, ev)
		}
	}
}

func notify(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("vfs listener panicked on %s: %v", ev, r)
		}
	}()
	l(ev)
}
