package loaders

import (
	"context"
	"reflect"

	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// maxRestarts bounds how often recognition of one file starts over after
// the object changed underneath it.
const maxRestarts = 8

// MultiFileStrategy is the file-type specific part of a MultiFileLoader.
type MultiFileStrategy interface {
	// FindPrimaryFile maps file to the primary file of its object, or nil.
	FindPrimaryFile(ctx context.Context, sys *System, file *vfs.File) *vfs.File

	// CreateObject builds the object of primary. It runs at most once per
	// primary file at a time; returning (nil, nil) declines.
	CreateObject(ctx context.Context, sys *System, loader Loader, primary *vfs.File) (DataObject, error)
}

// SecondaryScanner is implemented by strategies whose objects own
// secondary files. The loader then attaches every file of the primary's
// folder that maps to the same primary.
type SecondaryScanner interface {
	OwnsSecondaries() bool
}

// CollisionResolver decides what to do when the primary file of file is
// already owned by an object of another loader. It returns the object
// that should own file, or nil to give up.
type CollisionResolver func(ctx context.Context, sys *System, existing DataObject, file *vfs.File) DataObject

// MultiFileLoader runs the generic recognition algorithm shared by every
// built-in loader:
//
//  1. map the file to its primary file
//  2. for a secondary file, defer to an earlier loader that claims the
//     primary file on its own
//  3. obtain the object of the primary file from the pool, resolving
//     collisions with foreign objects
//  4. return foreign objects unchanged
//  5. attach and mark the secondary files
//  6. register the file itself as a secondary entry
//  7. start over when the object was replaced or invalidated meanwhile
type MultiFileLoader struct {
	baseLoader
	strategy  MultiFileStrategy
	collision CollisionResolver
}

// NewMultiFileLoader creates a loader producing objects of type rep.
func NewMultiFileLoader(info LoaderInfo, rep reflect.Type, strategy MultiFileStrategy) *MultiFileLoader {
	return &MultiFileLoader{
		baseLoader: newBaseLoader(info, rep),
		strategy:   strategy,
		collision:  RevalidateCollision,
	}
}

// SetCollisionResolver replaces the collision hook.
func (l *MultiFileLoader) SetCollisionResolver(r CollisionResolver) {
	l.collision = r
}

func (l *MultiFileLoader) FindPrimaryFile(ctx context.Context, sys *System, file *vfs.File) *vfs.File {
	if file == nil || !file.IsValid() {
		return nil
	}
	return l.strategy.FindPrimaryFile(ctx, sys, file)
}

func (l *MultiFileLoader) FindDataObject(ctx context.Context, sys *System, file *vfs.File, recognized *RecognizedSet) (DataObject, error) {
	for attempt := 0; attempt < maxRestarts; attempt++ {
		obj, restart, err := l.findOnce(ctx, sys, file, recognized)
		if !restart {
			return obj, err
		}
		logger.Debug("loader %s: object of %s changed during recognition, restarting", l.Name(), file.Path())
	}
	return nil, newLoaderError(ErrInconsistent, file.Path(), nil)
}

func (l *MultiFileLoader) findOnce(ctx context.Context, sys *System, file *vfs.File, recognized *RecognizedSet) (DataObject, bool, error) {
	primary := l.FindPrimaryFile(ctx, sys, file)
	if primary == nil {
		return nil, false, nil
	}
	if primary != file && !l.authoritative(ctx, sys, primary) {
		return nil, false, nil
	}

	obj, err := sys.pool.Create(ctx, l, primary, func(ctx context.Context) (DataObject, error) {
		return l.strategy.CreateObject(ctx, sys, l, primary)
	})
	if err != nil {
		existing, ok := IsExists(err)
		if !ok {
			return nil, false, err
		}
		obj = existing
		if obj.Loader() != Loader(l) {
			resolved := l.resolveCollision(ctx, sys, existing, file)
			if resolved == nil {
				return nil, false, err
			}
			obj = resolved
		}
	}
	if obj == nil {
		return nil, false, nil
	}
	if obj.Loader() != Loader(l) {
		return obj, false, nil
	}

	m := obj.base()
	if l.scansSecondaries() {
		for _, f := range l.syncSecondaries(ctx, sys, m) {
			recognized.Add(f)
		}
	}
	if file != primary {
		if _, err := m.registerEntry(file); err != nil {
			return nil, false, err
		}
		recognized.Add(file)
	}

	if sys.pool.primaryObject(primary) != obj || !obj.IsValid() {
		return nil, true, nil
	}
	return obj, false, nil
}

// authoritative reports whether no loader ahead of l claims primary as
// its own primary file.
func (l *MultiFileLoader) authoritative(ctx context.Context, sys *System, primary *vfs.File) bool {
	for _, other := range sys.loaders.LoadersFor(primary) {
		if other == Loader(l) {
			return true
		}
		if other.FindPrimaryFile(ctx, sys, primary) == primary {
			return false
		}
	}
	return true
}

func (l *MultiFileLoader) resolveCollision(ctx context.Context, sys *System, existing DataObject, file *vfs.File) DataObject {
	if l.collision == nil {
		return nil
	}
	obj := l.collision(ctx, sys, existing, file)
	if obj == nil {
		return nil
	}
	if _, ok := obj.Loader().(*MultiFileLoader); !ok {
		return nil
	}
	return obj
}

// RevalidateCollision revalidates the primary file of existing against the
// current loader order and returns the object owning it afterwards.
func RevalidateCollision(ctx context.Context, sys *System, existing DataObject, file *vfs.File) DataObject {
	primary := existing.PrimaryFile()
	sys.pool.Revalidate(ctx, []*vfs.File{primary})
	if obj := sys.pool.primaryObject(primary); obj != nil && obj.IsValid() {
		return obj
	}
	obj, err := sys.loaders.FindDataObject(ctx, primary, nil)
	if err != nil {
		logger.Debug("collision on %s: %v", file.Path(), err)
		return nil
	}
	return obj
}

func (l *MultiFileLoader) scansSecondaries() bool {
	s, ok := l.strategy.(SecondaryScanner)
	return ok && s.OwnsSecondaries()
}

// syncSecondaries drops vanished secondary entries of m and attaches the
// files of the primary's folder that map to the same primary file. It
// returns the current secondary files.
func (l *MultiFileLoader) syncSecondaries(ctx context.Context, sys *System, m *MultiDataObject) []*vfs.File {
	primary := m.PrimaryFile()
	for _, e := range m.SecondaryEntries() {
		f := e.File()
		if !f.IsValid() || l.FindPrimaryFile(ctx, sys, f) != primary {
			m.removeEntry(f)
		}
	}

	if parent := primary.Parent(); parent != nil {
		for _, c := range parent.Children() {
			if c == primary || c.IsFolder() {
				continue
			}
			if l.FindPrimaryFile(ctx, sys, c) != primary {
				continue
			}
			if owner := sys.pool.Find(c); owner != nil && owner != m.self {
				continue
			}
			if _, err := m.registerEntry(c); err != nil {
				logger.Debug("loader %s: cannot attach %s: %v", l.Name(), c.Path(), err)
			}
		}
	}

	var out []*vfs.File
	for _, e := range m.SecondaryEntries() {
		out = append(out, e.File())
	}
	return out
}
