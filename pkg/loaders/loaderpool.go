package loaders

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/registry"
	"github.com/marmos91/dittoloaders/pkg/vfs"
)

const (
	// AttrAssignedLoader names the loader a file should be recognized by first.
	AttrAssignedLoader = "dittoloaders.assignedLoader"

	// AttrAssignedLoaderModule names the module owning the assigned loader;
	// the assignment is ignored while that module is disabled.
	AttrAssignedLoaderModule = "dittoloaders.assignedLoaderModule"
)

// ChangeKind identifies a structural change of the loader pool.
type ChangeKind int

const (
	LoaderAdded ChangeKind = iota
	LoaderRemoved
	LoadersReordered
	ModulesChanged
)

func (k ChangeKind) String() string {
	switch k {
	case LoaderAdded:
		return "added"
	case LoaderRemoved:
		return "removed"
	case LoadersReordered:
		return "reordered"
	case ModulesChanged:
		return "modules-changed"
	default:
		return "unknown"
	}
}

// ChangeEvent describes a structural change of the loader pool.
type ChangeEvent struct {
	Kind ChangeKind

	// Loader is the affected loader name for LoaderAdded and LoaderRemoved.
	Loader string
}

// LoaderPoolOptions configures a LoaderPool.
type LoaderPoolOptions struct {
	// Preferred is consulted before every other loader.
	Preferred Loader

	// DisabledModules lists modules whose loaders and assignments are ignored.
	DisabledModules []string
}

// LoaderPool is the ordered registry of loaders.
//
// The effective order is: preferred loader, system loaders, module
// loaders (in registration order), then default loaders. For a specific
// file, a persisted loader assignment comes first and factories registered
// for the file's MIME type are interleaved before the defaults, with the
// factories for vfs.UnknownMIMEType appended last.
//
// Derived lists are cached. Every structural change increments a counter
// under the pool mutex and drops the cache; a list computed concurrently
// with a change is returned to its caller but never installed.
type LoaderPool struct {
	sys *System

	mu        sync.Mutex
	modCount  uint64
	preferred Loader
	system    []Loader
	modules   *registry.Registry[Loader]
	defaults  []Loader
	factories map[string][]Loader
	disabled  map[string]bool

	cached   []Loader
	cachedAt uint64

	lsMu      sync.Mutex
	listeners map[uint64]func(ChangeEvent)
	nextID    uint64
}

// NewLoaderPool creates an empty pool.
func NewLoaderPool(opts LoaderPoolOptions) *LoaderPool {
	p := &LoaderPool{
		preferred: opts.Preferred,
		modules:   registry.New[Loader]("loader"),
		factories: make(map[string][]Loader),
		disabled:  make(map[string]bool),
		listeners: make(map[uint64]func(ChangeEvent)),
	}
	for _, m := range opts.DisabledModules {
		p.disabled[m] = true
	}
	return p
}

// AddSystem appends a system loader. System loaders run before module
// loaders in the order they were added.
func (p *LoaderPool) AddSystem(l Loader) {
	p.mutate(ChangeEvent{Kind: LoaderAdded, Loader: l.Name()}, func() error {
		p.system = append(p.system, l)
		return nil
	})
}

// Register appends a module loader.
func (p *LoaderPool) Register(l Loader) error {
	return p.mutate(ChangeEvent{Kind: LoaderAdded, Loader: l.Name()}, func() error {
		return p.modules.Register(l.Name(), l)
	})
}

// Unregister removes a module loader, a MIME factory or a default loader.
func (p *LoaderPool) Unregister(name string) error {
	return p.mutate(ChangeEvent{Kind: LoaderRemoved, Loader: name}, func() error {
		removed := p.modules.Unregister(name)
		byName := func(l Loader) bool { return l.Name() == name }
		for mime, ls := range p.factories {
			kept := slices.DeleteFunc(ls, byName)
			removed = removed || len(kept) != len(ls)
			p.factories[mime] = kept
		}
		kept := slices.DeleteFunc(p.defaults, byName)
		removed = removed || len(kept) != len(p.defaults)
		p.defaults = kept
		if !removed {
			return fmt.Errorf("loader %q not registered", name)
		}
		return nil
	})
}

// Reorder moves the named module loaders to the front in the given order.
func (p *LoaderPool) Reorder(names []string) error {
	return p.mutate(ChangeEvent{Kind: LoadersReordered}, func() error {
		return p.modules.Reorder(names)
	})
}

// AddDefault appends a fallback loader.
func (p *LoaderPool) AddDefault(l Loader) {
	p.mutate(ChangeEvent{Kind: LoaderAdded, Loader: l.Name()}, func() error {
		p.defaults = append(p.defaults, l)
		return nil
	})
}

// RegisterFactory registers l for files of the given MIME type.
func (p *LoaderPool) RegisterFactory(mimeType string, l Loader) {
	p.mutate(ChangeEvent{Kind: LoaderAdded, Loader: l.Name()}, func() error {
		p.factories[mimeType] = append(p.factories[mimeType], l)
		return nil
	})
}

// SetModuleEnabled enables or disables a module.
func (p *LoaderPool) SetModuleEnabled(module string, enabled bool) {
	p.mutate(ChangeEvent{Kind: ModulesChanged}, func() error {
		if enabled {
			delete(p.disabled, module)
		} else {
			p.disabled[module] = true
		}
		return nil
	})
}

// ModuleEnabled reports whether loaders of module are consulted.
func (p *LoaderPool) ModuleEnabled(module string) bool {
	if module == "" {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.disabled[module]
}

// mutate applies fn under the pool mutex, invalidates the caches and
// notifies listeners asynchronously.
func (p *LoaderPool) mutate(ev ChangeEvent, fn func() error) error {
	p.mu.Lock()
	if err := fn(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.modCount++
	p.cached = nil
	p.mu.Unlock()

	logger.Debug("loader pool %s %s", ev.Kind, ev.Loader)
	p.fireChange(ev)
	return nil
}

// AddChangeListener subscribes to structural changes. Listeners run on a
// background processor, never on the goroutine that changed the pool.
func (p *LoaderPool) AddChangeListener(fn func(ChangeEvent)) (remove func()) {
	p.lsMu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.lsMu.Unlock()

	return func() {
		p.lsMu.Lock()
		delete(p.listeners, id)
		p.lsMu.Unlock()
	}
}

func (p *LoaderPool) fireChange(ev ChangeEvent) {
	p.lsMu.Lock()
	ls := make([]func(ChangeEvent), 0, len(p.listeners))
	ids := make([]uint64, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		ls = append(ls, p.listeners[id])
	}
	p.lsMu.Unlock()
	if len(ls) == 0 || p.sys == nil {
		return
	}

	p.sys.notify.Post(func(ctx context.Context) error {
		for _, fn := range ls {
			fn(ev)
		}
		return nil
	})
}

// AllLoaders returns the general recognition order.
func (p *LoaderPool) AllLoaders() []Loader {
	p.mu.Lock()
	if p.cached != nil && p.cachedAt == p.modCount {
		out := slices.Clone(p.cached)
		p.mu.Unlock()
		return out
	}
	mc := p.modCount
	p.mu.Unlock()

	var list orderedLoaders
	head, defaults := p.groups()
	list.add(p, head...)
	list.add(p, defaults...)

	p.mu.Lock()
	if p.modCount == mc {
		p.cached = list.loaders
		p.cachedAt = mc
	}
	p.mu.Unlock()
	return slices.Clone(list.loaders)
}

// LoadersFor returns the recognition order for one file.
func (p *LoaderPool) LoadersFor(file *vfs.File) []Loader {
	mime := file.MIMEType()

	p.mu.Lock()
	var typed []Loader
	if mime != vfs.UnknownMIMEType {
		typed = slices.Clone(p.factories[mime])
	}
	unknown := slices.Clone(p.factories[vfs.UnknownMIMEType])
	p.mu.Unlock()

	var list orderedLoaders
	head, defaults := p.groups()
	list.add(p, p.AssignedLoader(file))
	list.add(p, head...)
	list.add(p, typed...)
	list.add(p, defaults...)
	list.add(p, unknown...)
	return list.loaders
}

// groups snapshots the preferred, system and module loaders, and the
// default loaders.
func (p *LoaderPool) groups() (head, defaults []Loader) {
	p.mu.Lock()
	head = append(head, p.preferred)
	head = append(head, p.system...)
	defaults = slices.Clone(p.defaults)
	p.mu.Unlock()

	head = append(head, p.modules.Items()...)
	return head, defaults
}

// orderedLoaders builds a loader sequence without duplicates, skipping
// loaders of disabled modules.
type orderedLoaders struct {
	loaders []Loader
	seen    map[Loader]bool
}

func (o *orderedLoaders) add(p *LoaderPool, ls ...Loader) {
	if o.seen == nil {
		o.seen = make(map[Loader]bool)
	}
	for _, l := range ls {
		if l == nil || o.seen[l] || !p.ModuleEnabled(l.Module()) {
			continue
		}
		o.seen[l] = true
		o.loaders = append(o.loaders, l)
	}
}

// Loader returns the loader with the given name from any part of the pool.
func (p *LoaderPool) Loader(name string) Loader {
	if l, ok := p.modules.Get(name); ok {
		return l
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.preferred != nil && p.preferred.Name() == name {
		return p.preferred
	}
	for _, group := range [][]Loader{p.system, p.defaults} {
		for _, l := range group {
			if l.Name() == name {
				return l
			}
		}
	}
	for _, ls := range p.factories {
		for _, l := range ls {
			if l.Name() == name {
				return l
			}
		}
	}
	return nil
}

// FirstProducerOf returns the first loader whose objects are of type t.
func (p *LoaderPool) FirstProducerOf(t reflect.Type) Loader {
	for _, l := range p.AllLoaders() {
		if produces(l, t) {
			return l
		}
	}
	return nil
}

// ProducersOf returns every loader whose objects are of type t, in order.
func (p *LoaderPool) ProducersOf(t reflect.Type) []Loader {
	var out []Loader
	for _, l := range p.AllLoaders() {
		if produces(l, t) {
			out = append(out, l)
		}
	}
	return out
}

// AssignedLoader returns the loader persisted for file, or nil when there
// is none, it is unknown, or its module is disabled.
func (p *LoaderPool) AssignedLoader(file *vfs.File) Loader {
	name := file.StringAttribute(AttrAssignedLoader)
	if name == "" {
		return nil
	}
	if module := file.StringAttribute(AttrAssignedLoaderModule); !p.ModuleEnabled(module) {
		return nil
	}
	l := p.Loader(name)
	if l == nil {
		logger.Debug("ignoring unknown loader %q assigned to %s", name, file.Path())
		return nil
	}
	if !p.ModuleEnabled(l.Module()) {
		return nil
	}
	return l
}

// SetAssignedLoader persists l as the preferred loader for file; nil
// removes the assignment. The identity pool revalidates the file when the
// attribute changes.
func (p *LoaderPool) SetAssignedLoader(file *vfs.File, l Loader) error {
	fsys := file.FileSystem()
	return fsys.RunAtomic(func() error {
		if l == nil {
			if err := file.SetAttribute(AttrAssignedLoaderModule, nil); err != nil {
				return err
			}
			return file.SetAttribute(AttrAssignedLoader, nil)
		}
		var module any
		if l.Module() != "" {
			module = l.Module()
		}
		if err := file.SetAttribute(AttrAssignedLoaderModule, module); err != nil {
			return err
		}
		return file.SetAttribute(AttrAssignedLoader, l.Name())
	})
}

// FindDataObject asks the loaders for file in order and returns the first
// object produced. It returns (nil, nil) when no loader recognizes file or
// the file became invalid. A loader that panics or fails unexpectedly
// yields an ErrIO error for this file only.
func (p *LoaderPool) FindDataObject(ctx context.Context, file *vfs.File, recognized *RecognizedSet) (DataObject, error) {
	if !file.IsValid() {
		return nil, nil
	}
	if obj := p.sys.pool.Find(file); obj != nil {
		return obj, nil
	}

	for _, l := range p.LoadersFor(file) {
		start := time.Now()
		obj, err := p.consult(ctx, l, file, recognized)
		switch {
		case err != nil:
			if existing, ok := IsExists(err); ok {
				p.sys.metrics.ObserveRecognition(l.Name(), "exists", time.Since(start))
				return existing, nil
			}
			p.sys.metrics.ObserveRecognition(l.Name(), "error", time.Since(start))
			var le *LoaderError
			if errors.As(err, &le) {
				return nil, err
			}
			return nil, newLoaderError(ErrIO, file.Path(), fmt.Errorf("loader %s: %w", l.Name(), err))
		case obj != nil:
			p.sys.metrics.ObserveRecognition(l.Name(), "recognized", time.Since(start))
			recognized.Add(file)
			return obj, nil
		}
		p.sys.metrics.ObserveRecognition(l.Name(), "skipped", time.Since(start))
		if !file.IsValid() {
			return nil, nil
		}
	}
	return nil, nil
}

func (p *LoaderPool) consult(ctx context.Context, l Loader, file *vfs.File, recognized *RecognizedSet) (obj DataObject, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("loader %s panicked on %s: %v", l.Name(), file.Path(), r)
			obj, err = nil, newLoaderError(ErrIO, file.Path(), fmt.Errorf("loader %s panicked: %v", l.Name(), r))
		}
	}()
	return p.sys.pool.HandleFindDataObject(ctx, l, file, recognized)
}
