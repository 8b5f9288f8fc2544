// Package vfs is the virtual filesystem consumed by the loader engine.
//
// A FileSystem layers stable file identities, typed attributes, exclusive
// locks, atomic actions and a change-event stream over an afero.Fs backend.
// File objects are interned by path: asking for the same path twice yields
// the same *File until the file is deleted or moved away. Renames keep the
// identity; moves produce a new *File and invalidate the old one.
package vfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

// UnknownMIMEType is returned for files whose extension has no mapping.
const UnknownMIMEType = "content/unknown"

// Options configures a FileSystem.
type Options struct {
	// MIMETypes maps lower-case extensions (without dot) to content types.
	// Entries override the built-in table.
	MIMETypes map[string]string

	// ReadOnly rejects every mutation with ErrReadOnly.
	ReadOnly bool

	// SniffContent detects the content type of data files whose extension
	// has no mapping from their first bytes.
	SniffContent bool
}

// FileSystem is a virtual filesystem over an afero backend.
//
// Thread safety:
// All methods are safe for concurrent use. Event listeners are always
// invoked without any filesystem lock held, so they may call back into the
// filesystem.
type FileSystem struct {
	backend afero.Fs
	attrs   AttributeStore
	mime    map[string]string
	ro      bool
	sniff   bool

	// mu guards the interned tree (files, children maps, validity, locks).
	mu    sync.RWMutex
	files map[string]*File
	root  *File

	evMu        sync.Mutex
	atomicDepth int
	pending     []Event

	lsMu         sync.RWMutex
	listeners    map[uint64]Listener
	nextListener uint64
}

// New creates a FileSystem over backend with attributes kept in attrs.
func New(backend afero.Fs, attrs AttributeStore, opts Options) *FileSystem {
	fsys := &FileSystem{
		backend:   backend,
		attrs:     attrs,
		mime:      defaultMIMETypes(),
		ro:        opts.ReadOnly,
		sniff:     opts.SniffContent,
		files:     make(map[string]*File),
		listeners: make(map[uint64]Listener),
	}
	for ext, mt := range opts.MIMETypes {
		fsys.mime[strings.ToLower(strings.TrimPrefix(ext, "."))] = mt
	}

	fsys.root = &File{fs: fsys, path: "/", folder: true, valid: true}
	fsys.files["/"] = fsys.root
	return fsys
}

// Root returns the root folder.
func (fsys *FileSystem) Root() *File {
	return fsys.root
}

// Backend returns the afero backend.
func (fsys *FileSystem) Backend() afero.Fs {
	return fsys.backend
}

// Attributes returns the attribute store.
func (fsys *FileSystem) Attributes() AttributeStore {
	return fsys.attrs
}

// IsReadOnly reports whether mutations are rejected.
func (fsys *FileSystem) IsReadOnly() bool {
	return fsys.ro
}

// Close releases the attribute store.
func (fsys *FileSystem) Close() error {
	return fsys.attrs.Close()
}

// CleanPath normalizes a virtual path to its absolute, slash-separated form.
func CleanPath(p string) string {
	return path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
}

// FindResource returns the file at p or nil when it does not exist.
func (fsys *FileSystem) FindResource(p string) *File {
	p = CleanPath(p)
	if p == "/" {
		return fsys.root
	}

	fsys.mu.RLock()
	f, ok := fsys.files[p]
	fsys.mu.RUnlock()
	if ok && f.IsValid() {
		return f
	}

	cur := fsys.root
	for _, part := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		cur = cur.Child(part)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// MIMEType returns the content type for the file's extension, falling
// back to content detection when enabled.
func (fsys *FileSystem) MIMEType(f *File) string {
	if f.IsFolder() {
		return UnknownMIMEType
	}
	if mt, ok := fsys.mime[strings.ToLower(f.Ext())]; ok {
		return mt
	}
	if !fsys.sniff {
		return UnknownMIMEType
	}
	return fsys.sniffType(f)
}

// sniffLimit is the number of leading bytes inspected by content detection.
const sniffLimit = 3072

func (fsys *FileSystem) sniffType(f *File) string {
	fsys.mu.RLock()
	cached := f.sniffed
	fsys.mu.RUnlock()
	if cached != "" {
		return cached
	}

	mt := UnknownMIMEType
	if r, err := fsys.backend.Open(f.backendPath()); err == nil {
		buf := make([]byte, sniffLimit)
		n, _ := io.ReadFull(r, buf)
		_ = r.Close()
		if n > 0 {
			mt, _, _ = strings.Cut(mimetype.Detect(buf[:n]).String(), ";")
			if mt == "application/octet-stream" {
				mt = UnknownMIMEType
			}
		}
	}

	fsys.mu.Lock()
	f.sniffed = mt
	fsys.mu.Unlock()
	return mt
}

// Refresh re-reads a folder from the backend and fires Created, Deleted and
// Changed events for every difference against the cached listing. Folders
// that were never listed are not compared.
func (fsys *FileSystem) Refresh(folder *File) error {
	if !folder.IsFolder() {
		return newError(ErrNotFolder, folder.Path(), nil)
	}

	entries, err := afero.ReadDir(fsys.backend, folder.backendPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !folder.IsRoot() {
			return fsys.vanish(folder)
		}
		return newError(ErrIO, folder.Path(), err)
	}

	var events []Event

	fsys.mu.Lock()
	if !folder.valid {
		fsys.mu.Unlock()
		return newError(ErrInvalidFile, folder.path, nil)
	}
	if folder.children == nil {
		fsys.loadChildrenLocked(folder, entries)
		fsys.mu.Unlock()
		return nil
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.Name()] = true
		if c, ok := folder.children[e.Name()]; ok {
			if c.folder != e.IsDir() {
				// type flipped on disk: report as delete + create
				events = append(events, fsys.invalidateLocked(c))
				delete(folder.children, e.Name())
			} else {
				if !c.folder && (!c.modTime.Equal(e.ModTime()) || c.size != e.Size()) {
					c.modTime, c.size = e.ModTime(), e.Size()
					c.sniffed = ""
					events = append(events, Event{Kind: Changed, File: c, Parent: folder, Path: c.path})
				}
				continue
			}
		}
		c := fsys.internLocked(folder, e.Name(), e.IsDir())
		c.modTime, c.size = e.ModTime(), e.Size()
		events = append(events, createdEvent(c))
	}
	for name, c := range folder.children {
		if !seen[name] {
			events = append(events, fsys.invalidateLocked(c))
			delete(folder.children, name)
		}
	}
	fsys.mu.Unlock()

	sort.SliceStable(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	fsys.fire(events...)
	return nil
}

// vanish handles a folder that disappeared from the backend.
func (fsys *FileSystem) vanish(folder *File) error {
	fsys.mu.Lock()
	if !folder.valid {
		fsys.mu.Unlock()
		return nil
	}
	parent := folder.parent
	ev := fsys.invalidateLocked(folder)
	if parent != nil && parent.children != nil {
		delete(parent.children, folder.nameExt)
	}
	fsys.mu.Unlock()
	fsys.fire(ev)
	return nil
}

func createdEvent(f *File) Event {
	kind := DataCreated
	if f.folder {
		kind = FolderCreated
	}
	return Event{Kind: kind, File: f, Parent: f.parent, Path: f.path}
}

// loadChildrenLocked populates folder.children from a backend listing.
func (fsys *FileSystem) loadChildrenLocked(folder *File, entries []os.FileInfo) {
	folder.children = make(map[string]*File, len(entries))
	for _, e := range entries {
		c := fsys.internLocked(folder, e.Name(), e.IsDir())
		c.modTime, c.size = e.ModTime(), e.Size()
	}
}

// internLocked returns the live *File for a child, creating it if needed.
func (fsys *FileSystem) internLocked(parent *File, nameExt string, folder bool) *File {
	p := joinPath(parent.path, nameExt)
	if f, ok := fsys.files[p]; ok && f.valid && f.folder == folder {
		if parent.children != nil {
			parent.children[nameExt] = f
		}
		return f
	}

	name, ext := SplitNameExt(nameExt, folder)
	f := &File{
		fs:      fsys,
		path:    p,
		nameExt: nameExt,
		name:    name,
		ext:     ext,
		folder:  folder,
		parent:  parent,
		valid:   true,
	}
	fsys.files[p] = f
	if parent.children != nil {
		parent.children[nameExt] = f
	}
	return f
}

// invalidateLocked marks f and its interned descendants invalid and returns
// the Deleted event for f.
func (fsys *FileSystem) invalidateLocked(f *File) Event {
	ev := Event{Kind: Deleted, File: f, Parent: f.parent, Path: f.path}
	for p, d := range fsys.files {
		if IsWithin(p, f.path) {
			d.valid = false
			if d.lock != nil {
				d.lock.valid = false
				d.lock = nil
			}
			delete(fsys.files, p)
		}
	}
	return ev
}

// rekeyLocked moves interned files below oldPath to newPath.
func (fsys *FileSystem) rekeyLocked(oldPath, newPath string) {
	moved := make(map[string]*File)
	for p, d := range fsys.files {
		if IsWithin(p, oldPath) {
			delete(fsys.files, p)
			d.path = Rebase(p, oldPath, newPath)
			moved[d.path] = d
		}
	}
	for p, d := range moved {
		fsys.files[p] = d
	}
}

// SplitNameExt splits "name.ext" at the last dot. Folders and names whose
// only dot is the first character have no extension.
func SplitNameExt(nameExt string, folder bool) (string, string) {
	if folder {
		return nameExt, ""
	}
	idx := strings.LastIndex(nameExt, ".")
	if idx <= 0 || idx == len(nameExt)-1 {
		return nameExt, ""
	}
	return nameExt[:idx], nameExt[idx+1:]
}

// JoinNameExt is the inverse of SplitNameExt.
func JoinNameExt(name, ext string) string {
	if ext == "" {
		return name
	}
	return name + "." + ext
}

func joinPath(dir, nameExt string) string {
	if dir == "/" {
		return "/" + nameExt
	}
	return dir + "/" + nameExt
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, "/\\")
}

func (fsys *FileSystem) toBackend(p string) string {
	return filepath.FromSlash(p)
}

func (fsys *FileSystem) checkWritable(p string) error {
	if fsys.ro {
		return newError(ErrReadOnly, p, nil)
	}
	return nil
}

// Exists reports whether p exists on the backend, bypassing the file cache.
func (fsys *FileSystem) Exists(p string) bool {
	return fsys.exists(CleanPath(p))
}

func (fsys *FileSystem) exists(p string) bool {
	_, err := fsys.backend.Stat(fsys.toBackend(p))
	return err == nil
}

// copyTree copies src (file or folder) to dst on the backend.
func (fsys *FileSystem) copyTree(src, dst string) error {
	info, err := fsys.backend.Stat(fsys.toBackend(src))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		data, err := afero.ReadFile(fsys.backend, fsys.toBackend(src))
		if err != nil {
			return err
		}
		return afero.WriteFile(fsys.backend, fsys.toBackend(dst), data, 0644)
	}

	if err := fsys.backend.MkdirAll(fsys.toBackend(dst), 0755); err != nil {
		return err
	}
	entries, err := afero.ReadDir(fsys.backend, fsys.toBackend(src))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := fsys.copyTree(joinPath(src, e.Name()), joinPath(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
