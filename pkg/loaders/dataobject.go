package loaders

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// Property names reported in PropertyEvent.Name.
const (
	PropValid       = "valid"
	PropModified    = "modified"
	PropName        = "name"
	PropPrimaryFile = "primaryFile"
	PropFiles       = "files"
	PropCookie      = "cookie"
	PropTemplate    = "template"
	PropChildren    = "children"
	PropSortMode    = "sortMode"
	PropOrder       = "order"
)

// AttrTemplate marks a primary file as a template.
const AttrTemplate = "template"

// PropertyEvent reports a property change of a data object.
type PropertyEvent struct {
	Object   DataObject
	Name     string
	OldValue any
	NewValue any
}

// DataObject is the typed, observable view of one primary file and its
// secondary files.
//
// All implementations embed *MultiDataObject; the interface is sealed.
type DataObject interface {
	base() *MultiDataObject

	// ID is unique for the life of the object; a re-created object for the
	// same file gets a new ID.
	ID() string
	Loader() Loader
	Name() string
	PrimaryFile() *vfs.File
	Files() []*vfs.File
	PrimaryEntry() *Entry
	SecondaryEntries() []*Entry
	Folder(ctx context.Context) (*DataFolder, error)

	IsValid() bool
	SetValid(valid bool) error
	IsModified() bool
	SetModified(modified bool)
	IsTemplate() bool
	SetTemplate(template bool) error

	Cookies() *CookieSet
	AddPropertyListener(fn func(PropertyEvent)) (remove func())

	IsCopyAllowed() bool
	IsMoveAllowed() bool
	IsRenameAllowed() bool
	IsDeleteAllowed() bool
	IsShadowAllowed() bool

	Copy(ctx context.Context, target *DataFolder) (DataObject, error)
	Move(ctx context.Context, target *DataFolder) error
	Rename(ctx context.Context, name string) error
	Delete(ctx context.Context) error
	CreateFromTemplate(ctx context.Context, target *DataFolder, name string, params map[string]any) (DataObject, error)
	CreateShadow(ctx context.Context, target *DataFolder) (*DataShadow, error)

	String() string
}

// MultiDataObject is the common implementation of DataObject. It owns a
// primary entry and any number of secondary entries in the same folder.
//
// Variants embed *MultiDataObject; self points at the outermost value so
// that listeners and the pool see the variant rather than the embedded
// base.
type MultiDataObject struct {
	sys    *System
	loader Loader
	self   DataObject
	id     uuid.UUID

	mu          sync.Mutex
	primary     *Entry
	secondaries map[*vfs.File]*Entry
	valid       bool
	modified    bool

	cookies *CookieSet

	lsMu      sync.Mutex
	listeners map[uint64]func(PropertyEvent)
	nextID    uint64
}

// NewMultiDataObject creates the object of primary, owned by loader. When
// the object is embedded in a variant, the pool records the variant as the
// outermost value on commit.
func NewMultiDataObject(sys *System, loader Loader, primary *vfs.File) *MultiDataObject {
	m := &MultiDataObject{
		sys:         sys,
		loader:      loader,
		id:          uuid.New(),
		secondaries: make(map[*vfs.File]*Entry),
		valid:       true,
		listeners:   make(map[uint64]func(PropertyEvent)),
	}
	m.self = m
	kind := PrimaryEntry
	if primary.IsFolder() {
		kind = FolderEntry
	}
	m.primary = newEntry(m, kind, primary)
	m.cookies = newCookieSet(func() { m.fire(PropCookie, nil, nil) })
	if strings.HasPrefix(primary.MIMEType(), "text/") {
		m.cookies.Add(&EditorSupport{obj: m})
	}
	return m
}

func (m *MultiDataObject) base() *MultiDataObject { return m }

func (m *MultiDataObject) ID() string     { return m.id.String() }
func (m *MultiDataObject) Loader() Loader { return m.loader }

// System returns the system the object belongs to.
func (m *MultiDataObject) System() *System { return m.sys }

// Name is the primary file name without extension, or the full name for
// folders.
func (m *MultiDataObject) Name() string {
	f := m.PrimaryFile()
	if f.IsFolder() {
		return f.NameExt()
	}
	return f.Name()
}

func (m *MultiDataObject) PrimaryFile() *vfs.File {
	return m.primary.File()
}

func (m *MultiDataObject) PrimaryEntry() *Entry {
	return m.primary
}

// SecondaryEntries returns the secondary entries sorted by path.
func (m *MultiDataObject) SecondaryEntries() []*Entry {
	m.mu.Lock()
	out := make([]*Entry, 0, len(m.secondaries))
	for _, e := range m.secondaries {
		out = append(out, e)
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b *Entry) int {
		return strings.Compare(a.File().Path(), b.File().Path())
	})
	return out
}

// Files returns the primary file followed by the secondary files.
func (m *MultiDataObject) Files() []*vfs.File {
	out := []*vfs.File{m.PrimaryFile()}
	for _, e := range m.SecondaryEntries() {
		out = append(out, e.File())
	}
	return out
}

// Folder returns the folder object containing the primary file, or nil
// for the root.
func (m *MultiDataObject) Folder(ctx context.Context) (*DataFolder, error) {
	parent := m.PrimaryFile().Parent()
	if parent == nil {
		return nil, nil
	}
	return m.sys.FindFolder(ctx, parent)
}

func (m *MultiDataObject) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valid
}

// SetValid(false) invalidates the object permanently and removes it from
// the pool. An invalid object cannot be made valid again.
func (m *MultiDataObject) SetValid(valid bool) error {
	m.mu.Lock()
	was := m.valid
	if valid {
		m.mu.Unlock()
		if !was {
			return newLoaderError(ErrNotAllowed, m.PrimaryFile().Path(), fmt.Errorf("invalid objects cannot be revalidated"))
		}
		return nil
	}
	m.valid = false
	m.mu.Unlock()
	if !was {
		return nil
	}

	m.sys.pool.removeItem(m.PrimaryFile(), m.self)
	m.sys.pool.setModified(m.self, false)
	m.fire(PropValid, true, false)
	m.sys.childInvalidated(m.PrimaryFile())
	return nil
}

func (m *MultiDataObject) IsModified() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modified
}

// SetModified marks the object as having unsaved changes and keeps the
// pool's modified registry in sync.
func (m *MultiDataObject) SetModified(modified bool) {
	m.mu.Lock()
	was := m.modified
	m.modified = modified
	valid := m.valid
	m.mu.Unlock()
	if was == modified {
		return
	}
	if valid || !modified {
		m.sys.pool.setModified(m.self, modified)
	}
	m.fire(PropModified, was, modified)
}

func (m *MultiDataObject) IsTemplate() bool {
	return m.PrimaryFile().BoolAttribute(AttrTemplate)
}

func (m *MultiDataObject) SetTemplate(template bool) error {
	was := m.IsTemplate()
	if was == template {
		return nil
	}
	var v any
	if template {
		v = true
	}
	if err := m.PrimaryFile().SetAttribute(AttrTemplate, v); err != nil {
		return err
	}
	m.fire(PropTemplate, was, template)
	return nil
}

func (m *MultiDataObject) Cookies() *CookieSet {
	return m.cookies
}

// AddPropertyListener subscribes fn to property changes. Listeners run
// synchronously on the goroutine that changed the property.
func (m *MultiDataObject) AddPropertyListener(fn func(PropertyEvent)) (remove func()) {
	m.lsMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.lsMu.Unlock()

	return func() {
		m.lsMu.Lock()
		delete(m.listeners, id)
		m.lsMu.Unlock()
	}
}

func (m *MultiDataObject) fire(name string, oldValue, newValue any) {
	m.lsMu.Lock()
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ls := make([]func(PropertyEvent), 0, len(ids))
	for _, id := range ids {
		ls = append(ls, m.listeners[id])
	}
	m.lsMu.Unlock()

	ev := PropertyEvent{Object: m.self, Name: name, OldValue: oldValue, NewValue: newValue}
	for _, fn := range ls {
		fn(ev)
	}
}

// registerEntry attaches file as a secondary entry. It fails with
// *ExistsError when file belongs to another object.
func (m *MultiDataObject) registerEntry(file *vfs.File) (*Entry, error) {
	if file == m.PrimaryFile() {
		return m.primary, nil
	}

	m.mu.Lock()
	if e, ok := m.secondaries[file]; ok {
		m.mu.Unlock()
		return e, nil
	}
	m.mu.Unlock()

	if err := m.sys.pool.registerSecondary(file, m.self); err != nil {
		return nil, err
	}

	m.mu.Lock()
	e, ok := m.secondaries[file]
	if !ok {
		e = newEntry(m, SecondaryEntry, file)
		m.secondaries[file] = e
	}
	m.mu.Unlock()

	if !ok {
		m.fire(PropFiles, nil, file)
	}
	return e, nil
}

// removeEntry detaches a secondary file.
func (m *MultiDataObject) removeEntry(file *vfs.File) {
	m.mu.Lock()
	_, ok := m.secondaries[file]
	delete(m.secondaries, file)
	m.mu.Unlock()

	if ok {
		m.sys.pool.unregisterSecondary(file, m.self)
		m.fire(PropFiles, file, nil)
	}
}

// setPrimary replaces the primary file after a move, re-keying
// the pool.
func (m *MultiDataObject) setPrimary(newPrimary *vfs.File, moved map[*vfs.File]*vfs.File) {
	oldPrimary := m.PrimaryFile()

	m.mu.Lock()
	m.primary.setFile(newPrimary)
	for oldF, newF := range moved {
		if e, ok := m.secondaries[oldF]; ok {
			delete(m.secondaries, oldF)
			e.setFile(newF)
			m.secondaries[newF] = e
		}
	}
	m.mu.Unlock()

	m.sys.pool.rekey(m.self, oldPrimary, newPrimary, moved)
	m.fire(PropPrimaryFile, oldPrimary, newPrimary)
}

func (m *MultiDataObject) checkValid() error {
	if !m.IsValid() {
		return newLoaderError(ErrInvalidObject, m.PrimaryFile().Path(), nil)
	}
	return nil
}

func (m *MultiDataObject) IsCopyAllowed() bool   { return true }
func (m *MultiDataObject) IsMoveAllowed() bool   { return !m.PrimaryFile().FileSystem().IsReadOnly() }
func (m *MultiDataObject) IsRenameAllowed() bool { return !m.PrimaryFile().FileSystem().IsReadOnly() }
func (m *MultiDataObject) IsDeleteAllowed() bool { return !m.PrimaryFile().FileSystem().IsReadOnly() }
func (m *MultiDataObject) IsShadowAllowed() bool { return true }

func (m *MultiDataObject) String() string {
	return fmt.Sprintf("%s[%s]", m.PrimaryFile().Path(), m.loader.Name())
}

// DefaultDataObject is built by the default loader for files no other
// loader recognizes.
type DefaultDataObject struct {
	*MultiDataObject
}
