package loaders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/tasks"
	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// poolItem is the pool slot of one primary file. obj is nil while the
// object is being constructed; ready is closed once the construction was
// committed or aborted.
type poolItem struct {
	primary *vfs.File
	loader  Loader
	obj     DataObject
	ready   chan struct{}
}

// ObjectPool maps primary files to their single live DataObject.
//
// The existence check and the registration of a new object happen in one
// critical section (reserve), while construction itself runs outside the
// pool mutex so that constructors may recursively recognize other files.
// Keys are *vfs.File identities, which survive renames; moves re-key
// explicitly.
type ObjectPool struct {
	sys        *System
	blockLimit time.Duration

	mu          sync.Mutex
	items       map[*vfs.File]*poolItem
	secondaries map[*vfs.File]DataObject

	modMu    sync.Mutex
	modified map[DataObject]struct{}
	modLs    map[uint64]func(DataObject, bool)
	nextMod  uint64
}

func newObjectPool(sys *System, blockLimit time.Duration) *ObjectPool {
	return &ObjectPool{
		sys:         sys,
		blockLimit:  blockLimit,
		items:       make(map[*vfs.File]*poolItem),
		secondaries: make(map[*vfs.File]DataObject),
		modified:    make(map[DataObject]struct{}),
		modLs:       make(map[uint64]func(DataObject, bool)),
	}
}

type constructingKey struct{}

// withConstructing marks ctx as running the construction of item.
func withConstructing(ctx context.Context, item *poolItem) context.Context {
	parent, _ := ctx.Value(constructingKey{}).([]*poolItem)
	chain := append(slices.Clone(parent), item)
	return context.WithValue(ctx, constructingKey{}, chain)
}

func constructing(ctx context.Context, item *poolItem) bool {
	chain, _ := ctx.Value(constructingKey{}).([]*poolItem)
	return slices.Contains(chain, item)
}

// Find returns the live object owning file as primary or secondary file,
// or nil.
func (p *ObjectPool) Find(file *vfs.File) DataObject {
	p.mu.Lock()
	var obj DataObject
	if it, ok := p.items[file]; ok && it.obj != nil {
		obj = it.obj
	} else {
		obj = p.secondaries[file]
	}
	p.mu.Unlock()

	if obj != nil && obj.IsValid() {
		return obj
	}
	return nil
}

// primaryObject returns the committed object of a primary file.
func (p *ObjectPool) primaryObject(primary *vfs.File) DataObject {
	p.mu.Lock()
	defer p.mu.Unlock()
	if it, ok := p.items[primary]; ok {
		return it.obj
	}
	return nil
}

// HandleFindDataObject asks loader to recognize file. It is the single
// entry point through which recognition reaches loaders; an object found
// marks file as recognized in this pass.
func (p *ObjectPool) HandleFindDataObject(ctx context.Context, loader Loader, file *vfs.File, recognized *RecognizedSet) (DataObject, error) {
	obj, err := loader.FindDataObject(ctx, p.sys, file, recognized)
	if err != nil || obj == nil {
		return nil, err
	}
	recognized.Add(file)
	return obj, nil
}

// Create constructs the object of primary with build, unless one exists.
//
// Returns:
//   - the new object on success
//   - (nil, nil) when build recognized nothing or primary became invalid
//   - *ExistsError carrying the existing object
//   - ErrRecursion when the construction would wait for itself
//
// A panic in build aborts the reservation and is re-raised.
func (p *ObjectPool) Create(ctx context.Context, loader Loader, primary *vfs.File, build func(ctx context.Context) (DataObject, error)) (DataObject, error) {
	item, err := p.reserve(ctx, loader, primary)
	if err != nil {
		return nil, err
	}

	committed := false
	defer func() {
		if !committed {
			p.abort(item)
		}
	}()

	obj, err := build(withConstructing(ctx, item))
	if err != nil || obj == nil {
		return nil, err
	}
	if !primary.IsValid() {
		logger.Debug("pool: %s vanished during construction", primary.Path())
		return nil, nil
	}

	b := obj.base()
	b.self = obj
	if b.PrimaryFile() != primary {
		return nil, newLoaderError(ErrInconsistent, primary.Path(),
			fmt.Errorf("loader %s built an object for %s", loader.Name(), b.PrimaryFile().Path()))
	}

	n := p.commit(item, obj)
	committed = true

	p.sys.metrics.RecordConstruction(loader.Name())
	p.sys.metrics.SetPoolSize(n)
	logger.Debug("pool: %s -> %s (%s)", primary.Path(), loader.Name(), b.ID())
	return obj, nil
}

// reserve atomically checks for an existing object and claims the slot of
// primary. While another goroutine constructs the object, reserve waits
// outside the mutex, bounded by the pool's block limit.
func (p *ObjectPool) reserve(ctx context.Context, loader Loader, primary *vfs.File) (*poolItem, error) {
	for {
		p.mu.Lock()
		it, ok := p.items[primary]
		if !ok {
			it = &poolItem{primary: primary, loader: loader, ready: make(chan struct{})}
			p.items[primary] = it
			p.mu.Unlock()
			return it, nil
		}
		if it.obj != nil {
			obj := it.obj
			p.mu.Unlock()
			if obj.IsValid() {
				return nil, &ExistsError{Object: obj}
			}
			// invalidated but not yet removed
			p.removeItem(primary, obj)
			continue
		}
		p.mu.Unlock()

		if constructing(ctx, it) {
			return nil, newLoaderError(ErrRecursion, primary.Path(), nil)
		}
		if !tasks.WaitChan(ctx, it.ready, p.blockLimit, "construction of "+primary.Path()) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, newLoaderError(ErrRecursion, primary.Path(),
				errors.New("concurrent construction did not finish in time"))
		}
	}
}

func (p *ObjectPool) commit(item *poolItem, obj DataObject) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	item.obj = obj
	close(item.ready)
	return len(p.items)
}

func (p *ObjectPool) abort(item *poolItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.items[item.primary] == item {
		delete(p.items, item.primary)
	}
	close(item.ready)
}

// removeItem drops obj and its secondary files from the pool.
func (p *ObjectPool) removeItem(primary *vfs.File, obj DataObject) {
	p.mu.Lock()
	removed := false
	if it, ok := p.items[primary]; ok && it.obj == obj {
		delete(p.items, primary)
		removed = true
	}
	for f, o := range p.secondaries {
		if o == obj {
			delete(p.secondaries, f)
		}
	}
	n := len(p.items)
	p.mu.Unlock()

	if removed {
		p.sys.metrics.SetPoolSize(n)
	}
}

// registerSecondary records obj as owner of file. It fails with
// *ExistsError when another valid object owns file. The owner is claimed
// in the same critical section that found the slot free or held by an
// invalid object, so two objects never both succeed for one file.
func (p *ObjectPool) registerSecondary(file *vfs.File, obj DataObject) error {
	for {
		p.mu.Lock()
		owner := p.ownerLocked(file, obj)
		if owner == nil {
			p.secondaries[file] = obj
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		// validity is checked outside p.mu; an invalid object never
		// becomes valid again, so the claim below only has to see the
		// same owner
		if owner.IsValid() {
			return &ExistsError{Object: owner}
		}

		p.mu.Lock()
		if p.ownerLocked(file, obj) == owner {
			p.secondaries[file] = obj
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()
	}
}

// ownerLocked returns the object other than obj that holds file, if any.
func (p *ObjectPool) ownerLocked(file *vfs.File, obj DataObject) DataObject {
	if it, ok := p.items[file]; ok && it.obj != nil && it.obj != obj {
		return it.obj
	}
	if o, ok := p.secondaries[file]; ok && o != obj {
		return o
	}
	return nil
}

func (p *ObjectPool) unregisterSecondary(file *vfs.File, obj DataObject) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.secondaries[file] == obj {
		delete(p.secondaries, file)
	}
}

// rekey moves obj to new primary and secondary files after a move.
func (p *ObjectPool) rekey(obj DataObject, oldPrimary, newPrimary *vfs.File, moved map[*vfs.File]*vfs.File) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if it, ok := p.items[oldPrimary]; ok && it.obj == obj {
		delete(p.items, oldPrimary)
		it.primary = newPrimary
		p.items[newPrimary] = it
	}
	for oldF, newF := range moved {
		if p.secondaries[oldF] == obj {
			delete(p.secondaries, oldF)
			p.secondaries[newF] = obj
		}
	}
}

// Revalidate re-examines the objects of files: an object whose loader is no
// longer the first loader claiming its primary file is invalidated and the
// file is recognized again. It returns the files that were reconsidered.
func (p *ObjectPool) Revalidate(ctx context.Context, files []*vfs.File) []*vfs.File {
	var stale []*vfs.File
	for _, f := range files {
		obj := p.primaryObject(f)
		if obj == nil || !obj.IsValid() {
			continue
		}
		if p.recognizedBy(ctx, f, obj.Loader()) {
			continue
		}
		logger.Debug("revalidate: %s is no longer recognized by %s", f.Path(), obj.Loader().Name())
		_ = obj.SetValid(false)
		stale = append(stale, f)
	}
	p.sys.metrics.RecordRevalidation(len(stale))

	for _, f := range stale {
		if !f.IsValid() {
			continue
		}
		if _, err := p.sys.loaders.FindDataObject(ctx, f, NewRecognizedSet()); err != nil {
			logger.Warn("revalidate: recognizing %s failed: %v", f.Path(), err)
		}
	}
	return stale
}

// recognizedBy reports whether owner is the first loader claiming primary.
func (p *ObjectPool) recognizedBy(ctx context.Context, primary *vfs.File, owner Loader) bool {
	for _, l := range p.sys.loaders.LoadersFor(primary) {
		if l.FindPrimaryFile(ctx, p.sys, primary) == primary {
			return l == owner
		}
	}
	return false
}

// Objects returns the live objects sorted by primary path.
func (p *ObjectPool) Objects() []DataObject {
	p.mu.Lock()
	out := make([]DataObject, 0, len(p.items))
	for _, it := range p.items {
		if it.obj != nil {
			out = append(out, it.obj)
		}
	}
	p.mu.Unlock()

	out = slices.DeleteFunc(out, func(o DataObject) bool { return !o.IsValid() })
	slices.SortFunc(out, func(a, b DataObject) int {
		return strings.Compare(a.PrimaryFile().Path(), b.PrimaryFile().Path())
	})
	return out
}

// Len returns the number of committed objects.
func (p *ObjectPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, it := range p.items {
		if it.obj != nil {
			n++
		}
	}
	return n
}

// onEvent keeps the pool consistent with filesystem changes.
func (p *ObjectPool) onEvent(ev vfs.Event) {
	switch ev.Kind {
	case vfs.Deleted:
		p.dropInvalid()
	case vfs.Renamed:
		if ev.File.IsData() {
			p.revalidateLater(ev.File)
		}
	case vfs.AttributeChanged:
		if ev.Attribute == AttrAssignedLoader || ev.Attribute == AttrAssignedLoaderModule {
			p.revalidateLater(ev.File)
		}
	}
}

// dropInvalid invalidates objects whose primary file is gone and detaches
// vanished secondary files from their objects.
func (p *ObjectPool) dropInvalid() {
	type detached struct {
		file *vfs.File
		obj  DataObject
	}
	var dead []DataObject
	var gone []detached

	p.mu.Lock()
	for f, it := range p.items {
		if it.obj != nil && !f.IsValid() {
			dead = append(dead, it.obj)
		}
	}
	for f, o := range p.secondaries {
		if !f.IsValid() {
			gone = append(gone, detached{f, o})
		}
	}
	p.mu.Unlock()

	for _, obj := range dead {
		_ = obj.SetValid(false)
	}
	for _, d := range gone {
		d.obj.base().removeEntry(d.file)
	}
}

func (p *ObjectPool) revalidateLater(file *vfs.File) {
	if p.primaryObject(file) == nil {
		return
	}
	p.sys.proc.Post(func(ctx context.Context) error {
		p.Revalidate(ctx, []*vfs.File{file})
		return nil
	})
}

// Modified returns the objects currently marked modified.
func (p *ObjectPool) Modified() []DataObject {
	p.modMu.Lock()
	out := make([]DataObject, 0, len(p.modified))
	for o := range p.modified {
		out = append(out, o)
	}
	p.modMu.Unlock()

	slices.SortFunc(out, func(a, b DataObject) int {
		return strings.Compare(a.PrimaryFile().Path(), b.PrimaryFile().Path())
	})
	return out
}

// AddModifiedListener subscribes to changes of the modified set.
func (p *ObjectPool) AddModifiedListener(fn func(obj DataObject, modified bool)) (remove func()) {
	p.modMu.Lock()
	id := p.nextMod
	p.nextMod++
	p.modLs[id] = fn
	p.modMu.Unlock()

	return func() {
		p.modMu.Lock()
		delete(p.modLs, id)
		p.modMu.Unlock()
	}
}

func (p *ObjectPool) setModified(obj DataObject, modified bool) {
	p.modMu.Lock()
	_, was := p.modified[obj]
	if was == modified {
		p.modMu.Unlock()
		return
	}
	if modified {
		p.modified[obj] = struct{}{}
	} else {
		delete(p.modified, obj)
	}
	ids := make([]uint64, 0, len(p.modLs))
	for id := range p.modLs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ls := make([]func(DataObject, bool), 0, len(ids))
	for _, id := range ids {
		ls = append(ls, p.modLs[id])
	}
	p.modMu.Unlock()

	for _, fn := range ls {
		fn(obj, modified)
	}
}

// Close invalidates every live object and empties the pool.
func (p *ObjectPool) Close() {
	for _, obj := range p.Objects() {
		_ = obj.SetValid(false)
	}

	p.mu.Lock()
	clear(p.items)
	clear(p.secondaries)
	p.mu.Unlock()

	p.modMu.Lock()
	clear(p.modified)
	p.modMu.Unlock()
}
