package vfs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/spf13/afero"
)

// File is the stable identity of one file or folder of a FileSystem.
type File struct {
	fs *FileSystem

	// guarded by fs.mu
	path     string
	nameExt  string
	name     string
	ext      string
	folder   bool
	parent   *File
	valid    bool
	children map[string]*File
	lock     *Lock
	modTime  time.Time
	size     int64
	sniffed  string
}

// FileSystem returns the owning filesystem.
func (f *File) FileSystem() *FileSystem {
	return f.fs
}

// Path returns the absolute virtual path ("/" for the root).
func (f *File) Path() string {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()
	return f.path
}

// NameExt returns the last path element.
func (f *File) NameExt() string {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()
	return f.nameExt
}

// Name returns the last path element without its extension.
func (f *File) Name() string {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()
	return f.name
}

// Ext returns the extension without the dot, or "".
func (f *File) Ext() string {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()
	return f.ext
}

// Parent returns the containing folder, or nil for the root.
func (f *File) Parent() *File {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()
	return f.parent
}

func (f *File) IsFolder() bool { return f.folder }
func (f *File) IsData() bool   { return !f.folder }
func (f *File) IsRoot() bool   { return f == f.fs.root }

// IsValid reports whether f still refers to a live file.
func (f *File) IsValid() bool {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()
	return f.valid
}

func (f *File) String() string {
	return f.Path()
}

func (f *File) backendPath() string {
	return f.fs.toBackend(f.Path())
}

// MIMEType returns the content type derived from the extension.
func (f *File) MIMEType() string {
	return f.fs.MIMEType(f)
}

// Size returns the content length of a data file.
func (f *File) Size() int64 {
	info, err := f.fs.backend.Stat(f.backendPath())
	if err != nil {
		return 0
	}
	return info.Size()
}

// ModTime returns the last modification time reported by the backend.
func (f *File) ModTime() time.Time {
	info, err := f.fs.backend.Stat(f.backendPath())
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Children lists a folder, sorted by name. Data files have no children.
func (f *File) Children() []*File {
	if !f.folder {
		return nil
	}

	f.fs.mu.RLock()
	loaded := f.children != nil
	valid := f.valid
	f.fs.mu.RUnlock()
	if !valid {
		return nil
	}

	if !loaded {
		entries, err := afero.ReadDir(f.fs.backend, f.backendPath())
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		f.fs.mu.Lock()
		if f.children == nil && f.valid {
			f.fs.loadChildrenLocked(f, entries)
		}
		f.fs.mu.Unlock()
	}

	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()
	out := make([]*File, 0, len(f.children))
	for _, c := range f.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].nameExt < out[j].nameExt })
	return out
}

// Child returns the direct child with the given name or nil.
func (f *File) Child(nameExt string) *File {
	if !f.folder {
		return nil
	}
	for _, c := range f.Children() {
		if c.NameExt() == nameExt {
			return c
		}
	}
	return nil
}

// Read returns the full content of a data file.
func (f *File) Read() ([]byte, error) {
	if f.folder {
		return nil, newError(ErrIsFolder, f.Path(), nil)
	}
	if !f.IsValid() {
		return nil, newError(ErrInvalidFile, f.Path(), nil)
	}
	data, err := afero.ReadFile(f.fs.backend, f.backendPath())
	if err != nil {
		return nil, newError(ErrIO, f.Path(), err)
	}
	return data, nil
}

// Write replaces the content of a data file. The caller must hold lock.
func (f *File) Write(lock *Lock, data []byte) error {
	if f.folder {
		return newError(ErrIsFolder, f.Path(), nil)
	}

	f.fs.mu.Lock()
	if err := f.checkMutableLocked(lock); err != nil {
		f.fs.mu.Unlock()
		return err
	}
	if err := afero.WriteFile(f.fs.backend, f.fs.toBackend(f.path), data, 0644); err != nil {
		f.fs.mu.Unlock()
		return newError(ErrIO, f.path, err)
	}
	if info, err := f.fs.backend.Stat(f.fs.toBackend(f.path)); err == nil {
		f.modTime, f.size = info.ModTime(), info.Size()
	}
	f.sniffed = ""
	ev := Event{Kind: Changed, File: f, Parent: f.parent, Path: f.path}
	f.fs.mu.Unlock()

	f.fs.fire(ev)
	return nil
}

// Attribute returns the value of an attribute, or nil when it is unset.
func (f *File) Attribute(name string) (any, error) {
	v, _, err := f.fs.attrs.Get(context.Background(), f.Path(), name)
	return v, err
}

// StringAttribute returns a string attribute or "" when unset or of
// another type.
func (f *File) StringAttribute(name string) string {
	v, err := f.Attribute(name)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// BoolAttribute returns a bool attribute, false when unset.
func (f *File) BoolAttribute(name string) bool {
	v, err := f.Attribute(name)
	if err != nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Attributes returns every attribute of f.
func (f *File) Attributes() (map[string]any, error) {
	return f.fs.attrs.List(context.Background(), f.Path())
}

// SetAttribute stores an attribute and fires AttributeChanged. A nil value
// removes the attribute. Attributes do not require a lock.
func (f *File) SetAttribute(name string, value any) error {
	p := f.Path()
	if err := f.fs.checkWritable(p); err != nil {
		return err
	}
	if !f.IsValid() {
		return newError(ErrInvalidFile, p, nil)
	}
	v, err := NormalizeValue(value)
	if err != nil {
		return err
	}

	ctx := context.Background()
	old, _, err := f.fs.attrs.Get(ctx, p, name)
	if err != nil {
		return newError(ErrIO, p, err)
	}
	if err := f.fs.attrs.Set(ctx, p, name, v); err != nil {
		return newError(ErrIO, p, err)
	}

	f.fs.fire(Event{
		Kind:      AttributeChanged,
		File:      f,
		Parent:    f.Parent(),
		Path:      p,
		Attribute: name,
		OldValue:  old,
		NewValue:  v,
	})
	return nil
}

// CreateData creates an empty data file in folder f.
func (f *File) CreateData(name, ext string) (*File, error) {
	return f.create(JoinNameExt(name, ext), false)
}

// CreateFolder creates a sub-folder of folder f.
func (f *File) CreateFolder(name string) (*File, error) {
	return f.create(name, true)
}

func (f *File) create(nameExt string, folder bool) (*File, error) {
	if !f.folder {
		return nil, newError(ErrNotFolder, f.Path(), nil)
	}
	if !validName(nameExt) {
		return nil, newError(ErrInvalidName, nameExt, nil)
	}

	f.fs.mu.Lock()
	if !f.valid {
		f.fs.mu.Unlock()
		return nil, newError(ErrInvalidFile, f.path, nil)
	}
	if err := f.fs.checkWritable(f.path); err != nil {
		f.fs.mu.Unlock()
		return nil, err
	}
	p := joinPath(f.path, nameExt)
	if f.fs.exists(p) {
		f.fs.mu.Unlock()
		return nil, newError(ErrAlreadyExists, p, nil)
	}

	var err error
	if folder {
		err = f.fs.backend.Mkdir(f.fs.toBackend(p), 0755)
	} else {
		var h afero.File
		h, err = f.fs.backend.OpenFile(f.fs.toBackend(p), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			err = h.Close()
		}
	}
	if err != nil {
		f.fs.mu.Unlock()
		return nil, newError(ErrIO, p, err)
	}

	if f.children == nil {
		if entries, lerr := afero.ReadDir(f.fs.backend, f.fs.toBackend(f.path)); lerr == nil {
			f.fs.loadChildrenLocked(f, entries)
		}
	}
	c := f.fs.internLocked(f, nameExt, folder)
	if info, serr := f.fs.backend.Stat(f.fs.toBackend(p)); serr == nil {
		c.modTime, c.size = info.ModTime(), info.Size()
	}
	ev := createdEvent(c)
	f.fs.mu.Unlock()

	f.fs.fire(ev)
	return c, nil
}

// Rename changes name and extension in place. The *File identity is kept.
func (f *File) Rename(lock *Lock, name, ext string) error {
	nameExt := JoinNameExt(name, ext)
	if !validName(nameExt) {
		return newError(ErrInvalidName, nameExt, nil)
	}

	f.fs.mu.Lock()
	if err := f.checkMutableLocked(lock); err != nil {
		f.fs.mu.Unlock()
		return err
	}
	if f == f.fs.root {
		f.fs.mu.Unlock()
		return newError(ErrInvalidName, "/", nil)
	}
	if nameExt == f.nameExt {
		f.fs.mu.Unlock()
		return nil
	}

	oldPath, oldName, oldExt, oldNameExt := f.path, f.name, f.ext, f.nameExt
	newPath := joinPath(f.parent.path, nameExt)
	if f.fs.exists(newPath) {
		f.fs.mu.Unlock()
		return newError(ErrAlreadyExists, newPath, nil)
	}
	if err := f.fs.backend.Rename(f.fs.toBackend(oldPath), f.fs.toBackend(newPath)); err != nil {
		f.fs.mu.Unlock()
		return newError(ErrIO, oldPath, err)
	}
	if err := f.fs.attrs.Rename(context.Background(), oldPath, newPath); err != nil {
		f.fs.mu.Unlock()
		return newError(ErrIO, oldPath, err)
	}

	f.fs.rekeyLocked(oldPath, newPath)
	if f.parent.children != nil {
		delete(f.parent.children, oldNameExt)
		f.parent.children[nameExt] = f
	}
	f.nameExt = nameExt
	f.name, f.ext = SplitNameExt(nameExt, f.folder)
	ev := Event{
		Kind:    Renamed,
		File:    f,
		Parent:  f.parent,
		Path:    newPath,
		OldName: oldName,
		OldExt:  oldExt,
		OldPath: oldPath,
	}
	f.fs.mu.Unlock()

	f.fs.fire(ev)
	return nil
}

// Delete removes the file (recursively for folders) and invalidates it.
func (f *File) Delete(lock *Lock) error {
	f.fs.mu.Lock()
	if err := f.checkMutableLocked(lock); err != nil {
		f.fs.mu.Unlock()
		return err
	}
	if f == f.fs.root {
		f.fs.mu.Unlock()
		return newError(ErrInvalidName, "/", nil)
	}

	p := f.path
	if err := f.fs.backend.RemoveAll(f.fs.toBackend(p)); err != nil {
		f.fs.mu.Unlock()
		return newError(ErrIO, p, err)
	}
	if err := f.fs.attrs.Delete(context.Background(), p); err != nil {
		f.fs.mu.Unlock()
		return newError(ErrIO, p, err)
	}
	if f.parent.children != nil {
		delete(f.parent.children, f.nameExt)
	}
	ev := f.fs.invalidateLocked(f)
	f.fs.mu.Unlock()

	f.fs.fire(ev)
	return nil
}

// Move relocates f into target under a new name. The returned *File is the
// new identity; f becomes invalid. Moving within the same folder is a
// rename and keeps the identity.
func (f *File) Move(lock *Lock, target *File, name, ext string) (*File, error) {
	if f.IsRoot() {
		return nil, newError(ErrInvalidName, "/", nil)
	}
	if target == f.Parent() {
		if err := f.Rename(lock, name, ext); err != nil {
			return nil, err
		}
		return f, nil
	}
	if !target.IsFolder() {
		return nil, newError(ErrNotFolder, target.Path(), nil)
	}
	nameExt := JoinNameExt(name, ext)
	if !validName(nameExt) {
		return nil, newError(ErrInvalidName, nameExt, nil)
	}

	// materialize the target listing before taking the write lock
	target.Children()

	f.fs.mu.Lock()
	if err := f.checkMutableLocked(lock); err != nil {
		f.fs.mu.Unlock()
		return nil, err
	}
	if !target.valid {
		f.fs.mu.Unlock()
		return nil, newError(ErrInvalidFile, target.path, nil)
	}
	if IsWithin(target.path, f.path) {
		f.fs.mu.Unlock()
		return nil, newError(ErrInvalidName, target.path, errors.New("cannot move a folder into itself"))
	}

	oldPath := f.path
	newPath := joinPath(target.path, nameExt)
	if f.fs.exists(newPath) {
		f.fs.mu.Unlock()
		return nil, newError(ErrAlreadyExists, newPath, nil)
	}
	if err := f.fs.backend.Rename(f.fs.toBackend(oldPath), f.fs.toBackend(newPath)); err != nil {
		f.fs.mu.Unlock()
		return nil, newError(ErrIO, oldPath, err)
	}
	if err := f.fs.attrs.Rename(context.Background(), oldPath, newPath); err != nil {
		f.fs.mu.Unlock()
		return nil, newError(ErrIO, oldPath, err)
	}

	if f.parent.children != nil {
		delete(f.parent.children, f.nameExt)
	}
	deleted := f.fs.invalidateLocked(f)
	moved := f.fs.internLocked(target, nameExt, f.folder)
	if info, err := f.fs.backend.Stat(f.fs.toBackend(newPath)); err == nil {
		moved.modTime, moved.size = info.ModTime(), info.Size()
	}
	created := createdEvent(moved)
	f.fs.mu.Unlock()

	f.fs.fire(deleted, created)
	return moved, nil
}

// Copy duplicates f (recursively for folders) into target.
func (f *File) Copy(target *File, name, ext string) (*File, error) {
	if !target.IsFolder() {
		return nil, newError(ErrNotFolder, target.Path(), nil)
	}
	nameExt := JoinNameExt(name, ext)
	if !validName(nameExt) {
		return nil, newError(ErrInvalidName, nameExt, nil)
	}

	target.Children()

	f.fs.mu.Lock()
	if !f.valid || !target.valid {
		f.fs.mu.Unlock()
		return nil, newError(ErrInvalidFile, f.path, nil)
	}
	if err := f.fs.checkWritable(target.path); err != nil {
		f.fs.mu.Unlock()
		return nil, err
	}
	src := f.path
	dst := joinPath(target.path, nameExt)
	if IsWithin(dst, src) {
		f.fs.mu.Unlock()
		return nil, newError(ErrInvalidName, dst, errors.New("cannot copy a folder into itself"))
	}
	if f.fs.exists(dst) {
		f.fs.mu.Unlock()
		return nil, newError(ErrAlreadyExists, dst, nil)
	}
	if err := f.fs.copyTree(src, dst); err != nil {
		f.fs.mu.Unlock()
		return nil, newError(ErrIO, src, err)
	}
	if err := f.fs.attrs.Copy(context.Background(), src, dst); err != nil {
		f.fs.mu.Unlock()
		return nil, newError(ErrIO, src, err)
	}
	c := f.fs.internLocked(target, nameExt, f.folder)
	if info, err := f.fs.backend.Stat(f.fs.toBackend(dst)); err == nil {
		c.modTime, c.size = info.ModTime(), info.Size()
	}
	ev := createdEvent(c)
	f.fs.mu.Unlock()

	f.fs.fire(ev)
	return c, nil
}

func (f *File) checkMutableLocked(lock *Lock) error {
	if !f.valid {
		return newError(ErrInvalidFile, f.path, nil)
	}
	if f.fs.ro {
		return newError(ErrReadOnly, f.path, nil)
	}
	if lock == nil || !lock.valid || lock.file != f || f.lock != lock {
		return newError(ErrNotLocked, f.path, nil)
	}
	return nil
}

// Lock acquires the exclusive lock of f. It fails with ErrLocked while
// another lock is held.
func (f *File) Lock() (*Lock, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if !f.valid {
		return nil, newError(ErrInvalidFile, f.path, nil)
	}
	if f.lock != nil {
		return nil, newError(ErrLocked, f.path, nil)
	}
	l := &Lock{file: f, valid: true}
	f.lock = l
	return l, nil
}

// IsLocked reports whether a lock is currently held on f.
func (f *File) IsLocked() bool {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()
	return f.lock != nil
}

// Lock is an exclusive-intent token required for mutating a file.
type Lock struct {
	file  *File
	valid bool
}

// File returns the locked file.
func (l *Lock) File() *File {
	return l.file
}

// IsValid reports whether the lock is still held.
func (l *Lock) IsValid() bool {
	if l == nil {
		return false
	}
	l.file.fs.mu.RLock()
	defer l.file.fs.mu.RUnlock()
	return l.valid
}

// Release gives the lock up. Releasing twice is harmless.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	l.file.fs.mu.Lock()
	defer l.file.fs.mu.Unlock()
	if !l.valid {
		return
	}
	l.valid = false
	if l.file.lock == l {
		l.file.lock = nil
	}
}
