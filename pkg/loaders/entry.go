package loaders

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"

	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// EntryKind tags the role of a file within its data object.
type EntryKind int

const (
	PrimaryEntry EntryKind = iota
	SecondaryEntry
	FolderEntry
)

func (k EntryKind) String() string {
	switch k {
	case PrimaryEntry:
		return "primary"
	case SecondaryEntry:
		return "secondary"
	case FolderEntry:
		return "folder"
	default:
		return "unknown"
	}
}

const (
	// AttrTemplateEngine selects content substitution when instantiating a
	// template; "gotemplate" renders the entry with text/template.
	AttrTemplateEngine = "templateEngine"

	templateEngineGo = "gotemplate"
)

// Entry is one file of a data object.
//
// Mutating operations take the file lock only when the entry does not
// already hold one (see TakeLock) and always release what they acquired.
type Entry struct {
	kind EntryKind
	obj  *MultiDataObject

	mu   sync.Mutex
	file *vfs.File
	held *vfs.Lock
}

func newEntry(obj *MultiDataObject, kind EntryKind, file *vfs.File) *Entry {
	return &Entry{kind: kind, obj: obj, file: file}
}

func (e *Entry) Kind() EntryKind { return e.kind }

func (e *Entry) File() *vfs.File {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file
}

// Object returns the data object owning the entry.
func (e *Entry) Object() DataObject {
	return e.obj.self
}

func (e *Entry) setFile(f *vfs.File) {
	e.mu.Lock()
	e.file = f
	e.mu.Unlock()
}

// TakeLock locks the file on behalf of the object, for example while it
// is being edited. The lock is reused by entry operations until
// ReleaseLock.
func (e *Entry) TakeLock() (*vfs.Lock, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.held != nil && e.held.IsValid() {
		return e.held, nil
	}
	l, err := e.file.Lock()
	if err != nil {
		return nil, err
	}
	e.held = l
	return l, nil
}

// IsLocked reports whether the entry holds the file lock.
func (e *Entry) IsLocked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.held != nil && e.held.IsValid()
}

// ReleaseLock releases a lock taken with TakeLock.
func (e *Entry) ReleaseLock() {
	e.mu.Lock()
	l := e.held
	e.held = nil
	e.mu.Unlock()
	if l != nil {
		l.Release()
	}
}

// withLock runs fn with the held lock, or with a fresh lock released
// afterwards.
func (e *Entry) withLock(fn func(f *vfs.File, lock *vfs.Lock) error) error {
	e.mu.Lock()
	f := e.file
	held := e.held
	e.mu.Unlock()

	if held != nil && held.IsValid() {
		return fn(f, held)
	}
	lock, err := f.Lock()
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn(f, lock)
}

// Write replaces the content of the entry's file.
func (e *Entry) Write(data []byte) error {
	return e.withLock(func(f *vfs.File, lock *vfs.Lock) error {
		return f.Write(lock, data)
	})
}

// Rename gives the file a new name, keeping its extension.
func (e *Entry) Rename(name string) error {
	return e.withLock(func(f *vfs.File, lock *vfs.Lock) error {
		return f.Rename(lock, name, f.Ext())
	})
}

// Move moves the file into target under name, keeping its extension, and
// returns the new file.
func (e *Entry) Move(target *vfs.File, name string) (*vfs.File, error) {
	var moved *vfs.File
	err := e.withLock(func(f *vfs.File, lock *vfs.Lock) error {
		var err error
		moved, err = f.Move(lock, target, name, f.Ext())
		return err
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.held = nil
	e.mu.Unlock()
	return moved, nil
}

// Copy copies the file into target under name, keeping its extension.
func (e *Entry) Copy(target *vfs.File, name string) (*vfs.File, error) {
	return e.File().Copy(target, name, e.File().Ext())
}

// Delete removes the file.
func (e *Entry) Delete() error {
	err := e.withLock(func(f *vfs.File, lock *vfs.Lock) error {
		return f.Delete(lock)
	})
	if err == nil {
		e.mu.Lock()
		e.held = nil
		e.mu.Unlock()
	}
	return err
}

// CreateFromTemplate copies the file into target under name and clears the
// template marks. Entries whose templateEngine attribute is "gotemplate"
// are rendered with params plus "name". On failure the copy is removed
// again.
func (e *Entry) CreateFromTemplate(target *vfs.File, name string, params map[string]any) (_ *vfs.File, err error) {
	src := e.File()
	created, err := src.Copy(target, name, src.Ext())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			discardFile(created)
		}
	}()

	if err := created.SetAttribute(AttrTemplate, nil); err != nil {
		return nil, err
	}

	if created.IsFolder() || src.StringAttribute(AttrTemplateEngine) != templateEngineGo {
		return created, nil
	}
	if err := created.SetAttribute(AttrTemplateEngine, nil); err != nil {
		return nil, err
	}

	raw, err := src.Read()
	if err != nil {
		return nil, err
	}
	tpl, err := template.New(src.NameExt()).Option("missingkey=zero").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", src.Path(), err)
	}
	data := make(map[string]any, len(params)+1)
	for k, v := range params {
		data[k] = v
	}
	data["name"] = name

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render template %s: %w", src.Path(), err)
	}

	lock, err := created.Lock()
	if err != nil {
		return nil, err
	}
	defer lock.Release()
	if err := created.Write(lock, buf.Bytes()); err != nil {
		return nil, err
	}
	return created, nil
}

// discardFile deletes a file left behind by a failed creation.
func discardFile(f *vfs.File) {
	if !f.IsValid() {
		return
	}
	lock, err := f.Lock()
	if err != nil {
		logger.Warn("Cannot remove %s: %v", f.Path(), err)
		return
	}
	defer lock.Release()
	if err := f.Delete(lock); err != nil {
		logger.Warn("Cannot remove %s: %v", f.Path(), err)
	}
}
