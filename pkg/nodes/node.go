package nodes

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/loaders"
	"github.com/marmos91/dittoloaders/pkg/tasks"
	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// maxResolveAttempts bounds how often background recognition of one
// delayed node is rerun after its result went stale.
const maxResolveAttempts = 3

// Node presents one child of a folder view.
//
// A delayed node is a placeholder for a file whose object is still being
// recognized. It carries the file name only; Object returns nil until
// Resolved is closed.
type Node struct {
	owner *FolderChildren
	file  *vfs.File

	resolving sync.Mutex
	resolved  chan struct{}
	attempts  int
	// gen is bumped whenever a running recognition becomes stale
	gen atomic.Uint64

	mu       sync.Mutex
	obj      loaders.DataObject
	err      error
	task     *tasks.Task
	children *FolderChildren
}

func newNode(owner *FolderChildren, obj loaders.DataObject) *Node {
	n := &Node{owner: owner, file: obj.PrimaryFile(), obj: obj, resolved: make(chan struct{})}
	close(n.resolved)
	return n
}

func newDelayedNode(owner *FolderChildren, file *vfs.File) *Node {
	return &Node{owner: owner, file: file, resolved: make(chan struct{})}
}

// Name is the file name of the node, extension included.
func (n *Node) Name() string {
	return n.file.NameExt()
}

// DisplayName is the object name, or the file name while delayed.
func (n *Node) DisplayName() string {
	if obj := n.Object(); obj != nil {
		return obj.Name()
	}
	return n.file.NameExt()
}

// File returns the primary file behind the node.
func (n *Node) File() *vfs.File { return n.file }

// Object returns the data object, nil while the node is delayed or when
// recognition failed.
func (n *Node) Object() loaders.DataObject {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.obj
}

// Err returns the recognition failure of a resolved delayed node.
func (n *Node) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Parent returns the folder node owning this node, nil at the top of a view.
func (n *Node) Parent() *Node {
	return n.owner.parent
}

// IsDelayed reports whether the node is still a placeholder.
func (n *Node) IsDelayed() bool {
	select {
	case <-n.resolved:
		return false
	default:
		return true
	}
}

// Resolved is closed once the object of the node is known.
func (n *Node) Resolved() <-chan struct{} {
	return n.resolved
}

// IsLeaf reports whether the node cannot have children.
func (n *Node) IsLeaf() bool {
	_, ok := n.Object().(*loaders.DataFolder)
	return !ok
}

// Children returns the view of a folder node's children, created on first
// use with the filter and options of the parent view. It returns nil for
// leaves.
func (n *Node) Children() *FolderChildren {
	df, ok := n.Object().(*loaders.DataFolder)
	if !ok {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.children == nil || n.children.folder != df {
		n.children = newFolderChildren(n.owner.sys, df, n.owner.currentFilter(), n.owner.opts, n)
	}
	return n.children
}

// startResolve posts the background recognition of a delayed node.
func (n *Node) startResolve() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.task = n.owner.sys.Processor().Post(func(ctx context.Context) error {
		n.resolve(ctx, true)
		n.owner.refreshLater()
		return nil
	})
}

// reschedule marks the recognition in flight as stale and runs the
// background task again.
func (n *Node) reschedule() {
	if !n.IsDelayed() {
		return
	}
	n.gen.Add(1)
	n.mu.Lock()
	t := n.task
	n.mu.Unlock()
	if t != nil {
		t.Schedule(0)
	}
}

// resolve recognizes the file of a delayed node. Concurrent callers block
// until the first one finishes. With retry set, a result that went stale
// during recognition is dropped and the node stays delayed until the
// rescheduled task runs, at most maxResolveAttempts times.
func (n *Node) resolve(ctx context.Context, retry bool) {
	n.resolving.Lock()
	defer n.resolving.Unlock()
	if !n.IsDelayed() {
		return
	}

	gen := n.gen.Load()
	n.attempts++
	obj, err := n.owner.sys.Loaders().FindDataObject(ctx, n.file, nil)
	if retry && n.attempts < maxResolveAttempts {
		if err == nil && obj != nil && !obj.IsValid() {
			n.reschedule()
		}
		if n.gen.Load() != gen {
			logger.Debug("delayed node %s: result went stale, rescheduled", n.file.Path())
			n.owner.sys.Metrics().RecordDelayedResolution("rescheduled")
			return
		}
	}

	outcome := "resolved"
	switch {
	case err != nil:
		logger.Debug("delayed node %s: %v", n.file.Path(), err)
		outcome = "failed"
	case obj == nil || !obj.IsValid():
		obj = nil
		outcome = "failed"
	}

	n.mu.Lock()
	n.obj, n.err = obj, err
	n.mu.Unlock()
	close(n.resolved)
	n.owner.sys.Metrics().RecordDelayedResolution(outcome)
}

// usable reports whether a resolved node can stay in the view.
func (n *Node) usable() bool {
	obj := n.Object()
	return obj != nil && obj.IsValid() && obj.PrimaryFile() == n.file
}

func (n *Node) String() string {
	if n.IsDelayed() {
		return n.file.Path() + " (delayed)"
	}
	return n.file.Path()
}
