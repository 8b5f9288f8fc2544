package loaders

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/metrics"
	"github.com/marmos91/dittoloaders/pkg/registry"
	"github.com/marmos91/dittoloaders/pkg/tasks"
	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// SystemOptions configures a System.
type SystemOptions struct {
	// FileSystem is the filesystem the objects live in (required).
	FileSystem *vfs.FileSystem

	// Preferred is consulted before every other loader.
	Preferred Loader

	// DisabledModules lists modules whose loaders are ignored.
	DisabledModules []string

	// ExcludedPaths are settings files the instance loader never claims.
	ExcludedPaths []string

	// InstanceTypes are registered in addition to the built-in ones.
	InstanceTypes []InstanceType

	// Workers bounds the background processor (default: 4).
	Workers int

	// BlockWarning bounds waits for background work before falling back
	// or giving up (default: 10s).
	BlockWarning time.Duration

	// RefreshDelay coalesces folder events before a children list is
	// recomputed (default: 50ms, <0 recomputes on every event).
	RefreshDelay time.Duration

	// OrderCacheSize bounds the folder order cache (default: 256, <0
	// disables the cache).
	OrderCacheSize int

	// Metrics records loader metrics (default: no-op).
	Metrics metrics.LoaderMetrics
}

// ApplyDefaults fills unset options.
func (o *SystemOptions) ApplyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.BlockWarning <= 0 {
		o.BlockWarning = 10 * time.Second
	}
	if o.RefreshDelay == 0 {
		o.RefreshDelay = 50 * time.Millisecond
	}
	if o.OrderCacheSize == 0 {
		o.OrderCacheSize = 256
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNoopLoaderMetrics()
	}
}

// System wires the loader engine to one filesystem.
type System struct {
	fsys      *vfs.FileSystem
	opts      SystemOptions
	loaders   *LoaderPool
	pool      *ObjectPool
	shadows   *brokenShadows
	orders    *orderCache
	instances *registry.Registry[InstanceType]
	proc      *tasks.Processor
	notify    *tasks.Sequencer
	metrics   metrics.LoaderMetrics

	opMu        sync.Mutex
	opListeners map[uint64]func(OperationEvent)
	nextOp      uint64

	listMu sync.Mutex
	lists  map[*vfs.File]*FolderList

	stop      []func()
	closeOnce sync.Once
}

// NewSystem creates a system with the built-in loaders installed: the
// shadow and instance loaders as system loaders, the folder and default
// loaders as defaults.
func NewSystem(opts SystemOptions) (*System, error) {
	if opts.FileSystem == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	opts.ApplyDefaults()

	s := &System{
		fsys:        opts.FileSystem,
		opts:        opts,
		instances:   registry.New[InstanceType]("instance type"),
		proc:        tasks.NewProcessor("loaders", opts.Workers),
		metrics:     opts.Metrics,
		opListeners: make(map[uint64]func(OperationEvent)),
		lists:       make(map[*vfs.File]*FolderList),
	}
	s.notify = tasks.NewSequencer(s.proc)
	s.pool = newObjectPool(s, opts.BlockWarning)
	s.shadows = newBrokenShadows(s)

	orders, err := newOrderCache(s, opts.OrderCacheSize)
	if err != nil {
		return nil, err
	}
	s.orders = orders

	s.loaders = NewLoaderPool(LoaderPoolOptions{Preferred: opts.Preferred, DisabledModules: opts.DisabledModules})
	s.loaders.sys = s
	s.loaders.AddSystem(NewShadowLoader())
	s.loaders.AddSystem(NewInstanceLoader(opts.ExcludedPaths))
	s.loaders.AddDefault(NewFolderLoader())
	s.loaders.AddDefault(NewDefaultLoader())

	s.instances.Replace(ActionInstanceType, InstanceType{
		Name: ActionInstanceType,
		New:  func() any { return &ActionRef{} },
	})
	for _, it := range opts.InstanceTypes {
		if err := s.RegisterInstanceType(it); err != nil {
			return nil, err
		}
	}

	s.stop = append(s.stop,
		s.fsys.AddListener(s.onEvent),
		s.AddOperationListener(s.shadows.onOperation),
		s.loaders.AddChangeListener(s.onLoadersChanged),
	)
	return s, nil
}

// FileSystem returns the underlying filesystem.
func (s *System) FileSystem() *vfs.FileSystem { return s.fsys }

// Loaders returns the loader pool.
func (s *System) Loaders() *LoaderPool { return s.loaders }

// Pool returns the identity pool.
func (s *System) Pool() *ObjectPool { return s.pool }

// Processor returns the background processor.
func (s *System) Processor() *tasks.Processor { return s.proc }

// Metrics returns the metrics sink.
func (s *System) Metrics() metrics.LoaderMetrics { return s.metrics }

// BlockWarning returns the bound for waits on background work.
func (s *System) BlockWarning() time.Duration { return s.opts.BlockWarning }

// BrokenShadows returns the number of live broken links.
func (s *System) BrokenShadows() int { return s.shadows.Len() }

// RegisterInstanceType makes it available to instance objects. Objects
// that were broken for lack of the type are recognized again.
func (s *System) RegisterInstanceType(it InstanceType) error {
	if it.Name == "" || it.New == nil {
		return fmt.Errorf("instance type needs a name and a constructor")
	}
	if err := s.instances.Register(it.Name, it); err != nil {
		return err
	}
	for _, obj := range s.pool.Objects() {
		if inst, ok := obj.(*InstanceDataObject); ok && inst.IsBroken() && inst.TypeName() == it.Name {
			primary := inst.PrimaryFile()
			_ = inst.SetValid(false)
			s.proc.Post(func(ctx context.Context) error {
				_, err := s.loaders.FindDataObject(ctx, primary, nil)
				return err
			})
		}
	}
	return nil
}

// Find returns the object of file. It fails with ErrNotRecognized when no
// loader claims file.
func (s *System) Find(ctx context.Context, file *vfs.File) (DataObject, error) {
	if file == nil || !file.IsValid() {
		path := ""
		if file != nil {
			path = file.Path()
		}
		return nil, newLoaderError(ErrNotRecognized, path, fmt.Errorf("file is not valid"))
	}
	obj, err := s.loaders.FindDataObject(ctx, file, NewRecognizedSet())
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, newLoaderError(ErrNotRecognized, file.Path(), nil)
	}
	return obj, nil
}

// FindFolder returns the folder object of folder.
func (s *System) FindFolder(ctx context.Context, folder *vfs.File) (*DataFolder, error) {
	obj, err := s.Find(ctx, folder)
	if err != nil {
		return nil, err
	}
	df, ok := obj.(*DataFolder)
	if !ok {
		return nil, newLoaderError(ErrNotRecognized, folder.Path(), fmt.Errorf("recognized as %T, not a folder", obj))
	}
	return df, nil
}

// FindPath resolves p and returns its object.
func (s *System) FindPath(ctx context.Context, p string) (DataObject, error) {
	f := s.fsys.FindResource(p)
	if f == nil {
		return nil, newLoaderError(ErrNotRecognized, vfs.CleanPath(p), fmt.Errorf("no such file"))
	}
	return s.Find(ctx, f)
}

// Root returns the folder object of the filesystem root.
func (s *System) Root(ctx context.Context) (*DataFolder, error) {
	return s.FindFolder(ctx, s.fsys.Root())
}

// Close stops background work and invalidates every object. The
// filesystem stays open.
func (s *System) Close() error {
	var err error
	s.closeOnce.Do(func() {
		for _, stop := range s.stop {
			stop()
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.BlockWarning)
		defer cancel()
		err = s.proc.Shutdown(ctx)
		s.pool.Close()
		s.orders.close()
	})
	return err
}

// folderList returns the children list of folder, creating it on demand.
func (s *System) folderList(folder *vfs.File) *FolderList {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	l, ok := s.lists[folder]
	if !ok {
		l = newFolderList(s, folder)
		s.lists[folder] = l
	}
	return l
}

func (s *System) existingList(folder *vfs.File) *FolderList {
	if folder == nil {
		return nil
	}
	s.listMu.Lock()
	defer s.listMu.Unlock()
	return s.lists[folder]
}

// childInvalidated refreshes the list containing primary.
func (s *System) childInvalidated(primary *vfs.File) {
	if l := s.existingList(primary.Parent()); l != nil {
		l.invalidate()
	}
}

func (s *System) onEvent(ev vfs.Event) {
	s.pool.onEvent(ev)
	s.orders.onEvent(ev)

	switch ev.Kind {
	case vfs.AttributeChanged:
		switch ev.Attribute {
		case AttrFolderOrder, AttrFolderOrderLegacy, AttrSortMode:
			if l := s.existingList(ev.File); l != nil {
				l.invalidate()
			}
		}
	case vfs.FolderCreated, vfs.DataCreated, vfs.Deleted, vfs.Renamed, vfs.Changed:
		if l := s.existingList(ev.Parent); l != nil {
			l.invalidate()
		}
	}
	if ev.Kind == vfs.Deleted {
		s.dropLists()
	}

	s.shadows.onEvent(ev)
}

// dropLists forgets the lists of vanished folders.
func (s *System) dropLists() {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	for f := range s.lists {
		if !f.IsValid() {
			delete(s.lists, f)
		}
	}
}

// onLoadersChanged revalidates every object against the new loader order.
func (s *System) onLoadersChanged(ev ChangeEvent) {
	logger.Debug("loaders changed (%s), revalidating", ev.Kind)
	s.orders.invalidate()

	var primaries []*vfs.File
	for _, obj := range s.pool.Objects() {
		primaries = append(primaries, obj.PrimaryFile())
	}
	s.pool.Revalidate(context.Background(), primaries)

	s.listMu.Lock()
	lists := make([]*FolderList, 0, len(s.lists))
	for _, l := range s.lists {
		lists = append(lists, l)
	}
	s.listMu.Unlock()
	for _, l := range lists {
		l.invalidate()
	}
}

// classIndex ranks obj by the first loader whose representation type it
// has; generic types are not used for grouping.
func (s *System) classIndex(obj DataObject) int {
	all := s.loaders.AllLoaders()
	t := reflect.TypeOf(obj)
	for i, l := range all {
		rep := l.RepresentationType()
		if isGenericType(rep) {
			continue
		}
		if t.AssignableTo(rep) {
			return i
		}
	}
	for i, l := range all {
		if l == obj.Loader() {
			return i
		}
	}
	return len(all)
}
