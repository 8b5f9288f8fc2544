// Package nodes presents the children of a data folder as a live, ordered
// and filtered list of nodes.
//
// A FolderChildren view follows its folder while attached: list changes,
// order changes and filter changes are turned into refresh requests. All
// refreshes of one view run on a private sequencer, so they never overlap
// and apply in submission order. In delayed mode, files whose object is not
// known yet appear as placeholder nodes that are replaced once recognition
// finishes on the background processor.
package nodes

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/loaders"
	"github.com/marmos91/dittoloaders/pkg/tasks"
	"github.com/marmos91/dittoloaders/pkg/vfs"
	"github.com/sourcegraph/conc/pool"
)

// RefreshMode selects how a refresh recomputes the node list.
type RefreshMode int

const (
	// Shallow recomputes the visible order, reusing existing nodes
	Shallow RefreshMode = iota

	// ShallowImmediate is Shallow, waited for by the requester
	ShallowImmediate

	// Deep clears the list first so that every node is recreated
	Deep

	// DeepLater is the recompute phase of Deep
	DeepLater

	// Clear empties the list
	Clear
)

var modeNames = [...]string{"shallow", "shallow_immediate", "deep", "deep_later", "clear"}

func (m RefreshMode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "unknown"
}

// Options configures a FolderChildren view.
type Options struct {
	// Delayed shows placeholder nodes for files that are not recognized yet.
	Delayed bool

	// WaitRounds bounds the rounds WaitDelayed spends waiting for
	// background resolution before resolving on the caller (default: 3).
	WaitRounds int

	// WaitTimeout bounds one wait round (default: 2s).
	WaitTimeout time.Duration

	// FallbackWorkers bounds the goroutines of a synchronous fallback
	// (default: 4).
	FallbackWorkers int
}

// ApplyDefaults fills unset options.
func (o *Options) ApplyDefaults() {
	if o.WaitRounds <= 0 {
		o.WaitRounds = 3
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 2 * time.Second
	}
	if o.FallbackWorkers <= 0 {
		o.FallbackWorkers = 4
	}
}

// Snapshot is the node list as of one applied refresh.
type Snapshot struct {
	Serial uint64
	Nodes  []*Node
}

// FolderChildren is the node view of one folder's children.
//
// Thread safety:
// All methods are safe for concurrent use. Listeners run on the background
// processor, one refresh at a time.
type FolderChildren struct {
	sys    *loaders.System
	folder *loaders.DataFolder
	parent *Node
	opts   Options
	seq    *tasks.Sequencer
	queued atomic.Bool

	mu         sync.Mutex
	filter     Filter
	nodes      []*Node
	computed   bool
	serial     uint64
	applied    uint64
	failed     map[*vfs.File]struct{}
	attached   int
	stop       []func()
	stopFilter func()
	listeners  map[uint64]func(Snapshot)
	nextID     uint64
}

// New creates a detached view of folder. A nil filter accepts every
// object.
func New(sys *loaders.System, folder *loaders.DataFolder, filter Filter, opts Options) *FolderChildren {
	opts.ApplyDefaults()
	return newFolderChildren(sys, folder, filter, opts, nil)
}

func newFolderChildren(sys *loaders.System, folder *loaders.DataFolder, filter Filter, opts Options, parent *Node) *FolderChildren {
	if filter == nil {
		filter = acceptAll
	}
	return &FolderChildren{
		sys:       sys,
		folder:    folder,
		parent:    parent,
		opts:      opts,
		seq:       tasks.NewSequencer(sys.Processor()),
		filter:    filter,
		failed:    make(map[*vfs.File]struct{}),
		listeners: make(map[uint64]func(Snapshot)),
	}
}

// Folder returns the viewed folder.
func (fc *FolderChildren) Folder() *loaders.DataFolder { return fc.folder }

func (fc *FolderChildren) path() string { return fc.folder.PrimaryFile().Path() }

func (fc *FolderChildren) currentFilter() Filter {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.filter
}

// Attach starts following the folder. The first attach schedules a
// Shallow refresh and returns its task; nested attaches only count.
func (fc *FolderChildren) Attach() *tasks.Task {
	fc.mu.Lock()
	fc.attached++
	if fc.attached > 1 {
		fc.mu.Unlock()
		return fc.seq.Last()
	}
	fc.stop = []func(){
		fc.folder.AddChildrenListener(fc.onChildren),
		fc.folder.AddPropertyListener(fc.onProperty),
		fc.sys.Loaders().AddChangeListener(fc.onLoaders),
	}
	fc.watchFilterLocked()
	fc.mu.Unlock()

	return fc.Refresh(context.Background(), Shallow)
}

// Detach undoes one Attach. The last detach stops following the folder
// and clears the list.
func (fc *FolderChildren) Detach() {
	fc.mu.Lock()
	if fc.attached == 0 {
		fc.mu.Unlock()
		return
	}
	fc.attached--
	if fc.attached > 0 {
		fc.mu.Unlock()
		return
	}
	stop := fc.stop
	fc.stop = nil
	if fc.stopFilter != nil {
		stop = append(stop, fc.stopFilter)
		fc.stopFilter = nil
	}
	fc.mu.Unlock()

	for _, fn := range stop {
		fn()
	}
	fc.Refresh(context.Background(), Clear)
}

// IsAttached reports whether the view follows its folder.
func (fc *FolderChildren) IsAttached() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.attached > 0
}

func (fc *FolderChildren) watchFilterLocked() {
	if fc.stopFilter != nil {
		fc.stopFilter()
		fc.stopFilter = nil
	}
	if cf, ok := fc.filter.(ChangeableFilter); ok {
		fc.stopFilter = cf.AddChangeListener(func() {
			fc.Refresh(context.Background(), Deep)
		})
	}
}

// SetFilter replaces the filter and recreates every node.
func (fc *FolderChildren) SetFilter(filter Filter) *tasks.Task {
	if filter == nil {
		filter = acceptAll
	}
	fc.mu.Lock()
	fc.filter = filter
	if fc.attached > 0 {
		fc.watchFilterLocked()
	}
	fc.mu.Unlock()
	return fc.Refresh(context.Background(), Deep)
}

// AddListener subscribes fn to applied changes of the list.
func (fc *FolderChildren) AddListener(fn func(Snapshot)) (remove func()) {
	fc.mu.Lock()
	id := fc.nextID
	fc.nextID++
	fc.listeners[id] = fn
	fc.mu.Unlock()

	return func() {
		fc.mu.Lock()
		delete(fc.listeners, id)
		fc.mu.Unlock()
	}
}

func (fc *FolderChildren) onChildren(loaders.ChildrenEvent) {
	fc.Refresh(context.Background(), Shallow)
}

// onLoaders reruns the recognition of delayed nodes: a loader added or
// removed meanwhile may claim their files differently.
func (fc *FolderChildren) onLoaders(loaders.ChangeEvent) {
	for _, n := range delayedOf(fc.Snapshot().Nodes) {
		n.reschedule()
	}
}

func (fc *FolderChildren) onProperty(ev loaders.PropertyEvent) {
	switch ev.Name {
	case loaders.PropSortMode, loaders.PropOrder:
		fc.Refresh(context.Background(), ShallowImmediate)
	case loaders.PropValid:
		if valid, _ := ev.NewValue.(bool); !valid {
			fc.Refresh(context.Background(), Clear)
		}
	}
}

// Refresh requests a recomputation. Deep posts a Clear followed by a
// DeepLater and returns the latter. ShallowImmediate waits, bounded, for
// the refresh unless ctx belongs to a background task.
func (fc *FolderChildren) Refresh(ctx context.Context, mode RefreshMode) *tasks.Task {
	switch mode {
	case Deep:
		fc.mu.Lock()
		defer fc.mu.Unlock()
		fc.postLocked(Clear, nil)
		return fc.postLocked(DeepLater, nil)
	case ShallowImmediate:
		t := fc.post(ShallowImmediate, nil)
		if !tasks.InTask(ctx) {
			tasks.WaitBounded(ctx, t, fc.sys.BlockWarning(), "refresh of "+fc.path())
		}
		return t
	default:
		return fc.post(mode, nil)
	}
}

func (fc *FolderChildren) post(mode RefreshMode, onStart func()) *tasks.Task {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.postLocked(mode, onStart)
}

// postLocked numbers the request and chains it on the sequencer. Both
// happen under fc.mu so serials follow sequencer order.
func (fc *FolderChildren) postLocked(mode RefreshMode, onStart func()) *tasks.Task {
	fc.serial++
	serial := fc.serial
	return fc.seq.Post(func(ctx context.Context) error {
		if onStart != nil {
			onStart()
		}
		start := time.Now()
		var nodes []*Node
		if mode != Clear {
			var err error
			nodes, err = fc.compute(ctx, mode == DeepLater)
			if err != nil {
				return err
			}
		}
		fc.apply(serial, nodes, mode != Clear)
		fc.sys.Metrics().ObserveFolderRefresh(mode.String(), time.Since(start))
		return nil
	})
}

// refreshLater coalesces the refreshes requested by delayed resolutions.
func (fc *FolderChildren) refreshLater() {
	if fc.queued.Swap(true) {
		return
	}
	fc.post(Shallow, func() { fc.queued.Store(false) })
}

// compute builds the node list. Unless fresh, nodes of the current list
// are reused for unchanged objects.
func (fc *FolderChildren) compute(ctx context.Context, fresh bool) ([]*Node, error) {
	if !fc.folder.IsValid() {
		return nil, nil
	}

	fc.mu.Lock()
	filter := fc.filter
	old := make(map[*vfs.File]*Node, len(fc.nodes))
	if fresh {
		fc.failed = make(map[*vfs.File]struct{})
	} else {
		for _, n := range fc.nodes {
			old[n.file] = n
		}
	}
	fc.mu.Unlock()

	if fc.opts.Delayed {
		return fc.computeDelayed(ctx, filter, old)
	}

	objs, err := fc.folder.Children(ctx)
	if err != nil {
		if loaders.IsCode(err, loaders.ErrInvalidObject) {
			return nil, nil
		}
		return nil, err
	}
	nodes := make([]*Node, 0, len(objs))
	for _, obj := range objs {
		if !obj.IsValid() || !filter.Accept(obj) {
			continue
		}
		nodes = append(nodes, fc.nodeFor(old, obj))
	}
	return nodes, nil
}

// computeDelayed lists the folder's files in folder order. Files with a
// known object get a real node; the others get a placeholder whose
// resolution is posted to the processor.
func (fc *FolderChildren) computeDelayed(ctx context.Context, filter Filter, old map[*vfs.File]*Node) ([]*Node, error) {
	files := fc.folder.PrimaryFile().Children()
	fc.folder.FolderOrder().SortFiles(files)

	objects := fc.sys.Pool()
	seen := make(map[loaders.DataObject]bool)
	var nodes, pending []*Node
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if obj := objects.Find(f); obj != nil {
			if !obj.IsValid() || obj.PrimaryFile() != f || seen[obj] {
				continue
			}
			seen[obj] = true
			if filter.Accept(obj) {
				nodes = append(nodes, fc.nodeFor(old, obj))
			}
			continue
		}

		if fc.hasFailed(f) {
			continue
		}
		if n, ok := old[f]; ok {
			if n.IsDelayed() {
				nodes = append(nodes, n)
				continue
			}
			if n.Object() == nil {
				fc.markFailed(f)
				continue
			}
		}
		n := newDelayedNode(fc, f)
		nodes = append(nodes, n)
		pending = append(pending, n)
	}

	for _, n := range pending {
		n.startResolve()
	}
	return nodes, nil
}

func (fc *FolderChildren) nodeFor(old map[*vfs.File]*Node, obj loaders.DataObject) *Node {
	if n, ok := old[obj.PrimaryFile()]; ok && n.Object() == obj {
		return n
	}
	return newNode(fc, obj)
}

func (fc *FolderChildren) hasFailed(f *vfs.File) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	_, ok := fc.failed[f]
	return ok
}

func (fc *FolderChildren) markFailed(f *vfs.File) {
	fc.mu.Lock()
	fc.failed[f] = struct{}{}
	fc.mu.Unlock()
	logger.Debug("folder %s: skipping %s, recognition failed", fc.path(), f.NameExt())
}

// apply installs nodes unless a later request was applied already, and
// notifies listeners when the list changed.
func (fc *FolderChildren) apply(serial uint64, nodes []*Node, computed bool) {
	fc.mu.Lock()
	if serial < fc.applied {
		fc.mu.Unlock()
		return
	}
	fc.applied = serial
	fc.computed = computed
	if !computed {
		fc.failed = make(map[*vfs.File]struct{})
	}
	if slices.Equal(fc.nodes, nodes) {
		fc.mu.Unlock()
		return
	}
	fc.nodes = nodes
	snap := Snapshot{Serial: serial, Nodes: slices.Clone(nodes)}
	ids := make([]uint64, 0, len(fc.listeners))
	for id := range fc.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ls := make([]func(Snapshot), 0, len(ids))
	for _, id := range ids {
		ls = append(ls, fc.listeners[id])
	}
	fc.mu.Unlock()

	logger.Debug("folder view %s: %d nodes (serial %d)", fc.path(), len(nodes), serial)
	for _, fn := range ls {
		fn(snap)
	}
}

// Snapshot returns the current list without waiting.
func (fc *FolderChildren) Snapshot() Snapshot {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return Snapshot{Serial: fc.applied, Nodes: slices.Clone(fc.nodes)}
}

// settle waits, bounded, for the refreshes posted so far. Background tasks
// never wait: the refresh may be queued behind them.
func (fc *FolderChildren) settle(ctx context.Context) {
	if tasks.InTask(ctx) {
		return
	}
	tasks.WaitBounded(ctx, fc.seq.Last(), fc.sys.BlockWarning(), "refresh of "+fc.path())
}

// Nodes returns the node list, computing it when the view has none. With
// optimal set, delayed nodes are resolved first and only nodes with a
// usable object are returned.
func (fc *FolderChildren) Nodes(ctx context.Context, optimal bool) ([]*Node, error) {
	fc.mu.Lock()
	computed := fc.computed
	fc.mu.Unlock()

	var nodes []*Node
	switch {
	case !computed && tasks.InTask(ctx):
		var err error
		if nodes, err = fc.compute(ctx, false); err != nil {
			return nil, err
		}
	case !computed:
		fc.post(Shallow, nil)
		fallthrough
	default:
		fc.settle(ctx)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if optimal && !tasks.InTask(ctx) {
			if err := fc.WaitDelayed(ctx); err != nil {
				return nil, err
			}
		}
		nodes = fc.Snapshot().Nodes
	}

	if !optimal {
		return nodes, nil
	}
	if err := fc.resolveAll(ctx, delayedOf(nodes)); err != nil {
		return nil, err
	}
	filter := fc.currentFilter()
	seen := make(map[loaders.DataObject]bool, len(nodes))
	out := nodes[:0:0]
	for _, n := range nodes {
		if !n.usable() || seen[n.Object()] || !filter.Accept(n.Object()) {
			continue
		}
		seen[n.Object()] = true
		out = append(out, n)
	}
	return out, nil
}

// FindChild returns the node named name (file name or display name). When
// the node is missing and the caller may block, in-flight refreshes and
// delayed resolutions are waited for before giving up. It returns nil when
// no such child exists.
func (fc *FolderChildren) FindChild(ctx context.Context, name string) (*Node, error) {
	if n := lookup(fc.Snapshot().Nodes, name); n != nil {
		return n, nil
	}
	nodes, err := fc.Nodes(ctx, false)
	if err != nil {
		return nil, err
	}
	if n := lookup(nodes, name); n != nil || tasks.InTask(ctx) {
		return n, nil
	}
	if len(delayedOf(nodes)) == 0 {
		return nil, nil
	}
	if err := fc.WaitDelayed(ctx); err != nil {
		return nil, err
	}
	return lookup(fc.Snapshot().Nodes, name), nil
}

func lookup(nodes []*Node, name string) *Node {
	for _, n := range nodes {
		if n.Name() == name {
			return n
		}
	}
	for _, n := range nodes {
		if !n.IsDelayed() && n.DisplayName() == name {
			return n
		}
	}
	return nil
}

func delayedOf(nodes []*Node) []*Node {
	var out []*Node
	for _, n := range nodes {
		if n.IsDelayed() {
			out = append(out, n)
		}
	}
	return out
}

// WaitDelayed waits until the list holds no placeholder. Background
// resolution gets a bounded number of rounds; whatever is still pending
// afterwards is resolved on the calling goroutine, so WaitDelayed always
// terminates.
func (fc *FolderChildren) WaitDelayed(ctx context.Context) error {
	for round := 0; round < fc.opts.WaitRounds; round++ {
		pending := delayedOf(fc.Snapshot().Nodes)
		if len(pending) == 0 {
			return nil
		}
		rctx, cancel := context.WithTimeout(ctx, fc.opts.WaitTimeout)
		for _, n := range pending {
			if !tasks.WaitChan(rctx, n.Resolved(), 0, "") {
				break
			}
		}
		cancel()
		if err := ctx.Err(); err != nil {
			return err
		}
		fc.settle(ctx)
	}

	pending := delayedOf(fc.Snapshot().Nodes)
	if len(pending) == 0 {
		return nil
	}
	logger.Debug("folder view %s: resolving %d delayed nodes synchronously", fc.path(), len(pending))
	fc.sys.Metrics().RecordDelayedResolution("fallback")
	if err := fc.resolveAll(ctx, pending); err != nil {
		return err
	}
	fc.post(Shallow, nil)
	fc.settle(ctx)
	return ctx.Err()
}

func (fc *FolderChildren) resolveAll(ctx context.Context, pending []*Node) error {
	if len(pending) == 0 {
		return nil
	}
	p := pool.New().WithContext(ctx).WithMaxGoroutines(fc.opts.FallbackWorkers)
	for _, n := range pending {
		n := n
		p.Go(func(ctx context.Context) error {
			n.resolve(ctx, false)
			return nil
		})
	}
	return p.Wait()
}
