package loaders

import (
	"context"
	"fmt"
	"strconv"

	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// entries returns the primary entry followed by the secondary entries.
func (m *MultiDataObject) entries() []*Entry {
	return append([]*Entry{m.primary}, m.SecondaryEntries()...)
}

func (m *MultiDataObject) exts() []string {
	var out []string
	for _, e := range m.entries() {
		out = append(out, e.File().Ext())
	}
	return out
}

// freeName returns base, or base_N for the smallest N, such that no file
// named name.ext exists in folder for any of exts.
func freeName(folder *vfs.File, base string, exts []string) string {
	for i := 0; ; i++ {
		name := base
		if i > 0 {
			name = base + "_" + strconv.Itoa(i)
		}
		free := true
		for _, ext := range exts {
			if folder.Child(vfs.JoinNameExt(name, ext)) != nil {
				free = false
				break
			}
		}
		if free {
			return name
		}
	}
}

// createFile creates name.ext in folder holding data. Creation and write
// form one atomic action, so listeners never observe the file empty.
func createFile(folder *vfs.File, name, ext string, data []byte) (*vfs.File, error) {
	var f *vfs.File
	err := folder.FileSystem().RunAtomic(func() error {
		var err error
		f, err = folder.CreateData(name, ext)
		if err != nil || len(data) == 0 {
			return err
		}
		lock, err := f.Lock()
		if err != nil {
			return err
		}
		defer lock.Release()
		return f.Write(lock, data)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (m *MultiDataObject) notAllowed(op string) error {
	return newLoaderError(ErrNotAllowed, m.PrimaryFile().Path(), fmt.Errorf("%s not allowed", op))
}

// Copy copies every file of the object into target, choosing a free name,
// and returns the object recognized for the copy.
func (m *MultiDataObject) Copy(ctx context.Context, target *DataFolder) (DataObject, error) {
	if err := m.checkValid(); err != nil {
		return nil, err
	}
	if !m.self.IsCopyAllowed() {
		return nil, m.notAllowed("copy")
	}
	folder := target.PrimaryFile()
	if m.PrimaryFile().IsFolder() && (folder == m.PrimaryFile() || vfs.IsWithin(folder.Path(), m.PrimaryFile().Path())) {
		return nil, m.notAllowed("copy into itself")
	}

	var created *vfs.File
	err := folder.FileSystem().RunAtomic(func() error {
		name := freeName(folder, m.Name(), m.exts())
		for _, e := range m.entries() {
			f, err := e.Copy(folder, name)
			if err != nil {
				return err
			}
			if e == m.primary {
				created = f
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	obj, err := m.sys.Find(ctx, created)
	if err != nil {
		return nil, err
	}
	m.sys.fireOperation(OperationEvent{Kind: OpCopy, Object: obj, OriginalFile: m.PrimaryFile(), Original: m.self})
	return obj, nil
}

// Move moves every file of the object into target. The object keeps its
// identity and is re-keyed to the new primary file.
func (m *MultiDataObject) Move(ctx context.Context, target *DataFolder) error {
	if err := m.checkValid(); err != nil {
		return err
	}
	if !m.self.IsMoveAllowed() {
		return m.notAllowed("move")
	}
	folder := target.PrimaryFile()
	oldPrimary := m.PrimaryFile()
	if oldPrimary.Parent() == folder {
		return nil
	}
	if oldPrimary.IsFolder() && (folder == oldPrimary || vfs.IsWithin(folder.Path(), oldPrimary.Path())) {
		return m.notAllowed("move into itself")
	}

	err := folder.FileSystem().RunAtomic(func() error {
		name := freeName(folder, m.Name(), m.exts())
		var newPrimary *vfs.File
		moved := make(map[*vfs.File]*vfs.File)
		for _, e := range m.entries() {
			old := e.File()
			f, err := e.Move(folder, name)
			if err != nil {
				return err
			}
			if e == m.primary {
				newPrimary = f
			} else {
				moved[old] = f
			}
		}
		m.setPrimary(newPrimary, moved)
		return nil
	})
	if err != nil {
		return err
	}

	m.sys.fireOperation(OperationEvent{Kind: OpMove, Object: m.self, OriginalFile: oldPrimary})
	return nil
}

// Rename renames every file of the object to name, keeping extensions.
func (m *MultiDataObject) Rename(ctx context.Context, name string) error {
	if err := m.checkValid(); err != nil {
		return err
	}
	if !m.self.IsRenameAllowed() {
		return m.notAllowed("rename")
	}
	oldName := m.Name()
	if name == oldName {
		return nil
	}
	primary := m.PrimaryFile()
	if parent := primary.Parent(); parent != nil && freeName(parent, name, m.exts()) != name {
		return newLoaderError(ErrNotAllowed, primary.Path(), fmt.Errorf("name %q is taken", name))
	}

	err := primary.FileSystem().RunAtomic(func() error {
		for _, e := range m.entries() {
			if err := e.Rename(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.fire(PropName, oldName, name)
	m.sys.fireOperation(OperationEvent{Kind: OpRename, Object: m.self, OriginalFile: primary})
	return nil
}

// Delete removes every file of the object and invalidates it.
func (m *MultiDataObject) Delete(ctx context.Context) error {
	if err := m.checkValid(); err != nil {
		return err
	}
	if !m.self.IsDeleteAllowed() {
		return m.notAllowed("delete")
	}
	primary := m.PrimaryFile()

	err := primary.FileSystem().RunAtomic(func() error {
		for _, e := range m.SecondaryEntries() {
			if err := e.Delete(); err != nil {
				return err
			}
		}
		return m.primary.Delete()
	})
	if err != nil {
		return err
	}

	_ = m.SetValid(false)
	m.sys.fireOperation(OperationEvent{Kind: OpDelete, Object: m.self, OriginalFile: primary})
	return nil
}

// CreateFromTemplate instantiates the object in target. An empty name
// picks a free one derived from the template's name.
func (m *MultiDataObject) CreateFromTemplate(ctx context.Context, target *DataFolder, name string, params map[string]any) (DataObject, error) {
	if err := m.checkValid(); err != nil {
		return nil, err
	}
	folder := target.PrimaryFile()
	if name == "" {
		name = freeName(folder, m.Name(), m.exts())
	} else if freeName(folder, name, m.exts()) != name {
		return nil, newLoaderError(ErrNotAllowed, folder.Path(), fmt.Errorf("name %q is taken", name))
	}

	var created *vfs.File
	err := folder.FileSystem().RunAtomic(func() error {
		var done []*vfs.File
		for _, e := range m.entries() {
			f, err := e.CreateFromTemplate(folder, name, params)
			if err != nil {
				for _, d := range done {
					discardFile(d)
				}
				return err
			}
			done = append(done, f)
			if e == m.primary {
				created = f
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	obj, err := m.sys.Find(ctx, created)
	if err != nil {
		return nil, err
	}
	m.sys.fireOperation(OperationEvent{Kind: OpTemplate, Object: obj, OriginalFile: m.PrimaryFile(), Original: m.self})
	return obj, nil
}

// CreateShadow creates a link to the object in target.
func (m *MultiDataObject) CreateShadow(ctx context.Context, target *DataFolder) (*DataShadow, error) {
	if err := m.checkValid(); err != nil {
		return nil, err
	}
	if !m.self.IsShadowAllowed() {
		return nil, m.notAllowed("shadow")
	}
	folder := target.PrimaryFile()
	primary := m.PrimaryFile()

	f, err := writeShadowFile(folder, freeName(folder, primary.NameExt(), []string{ShadowExt}), ShadowURL(primary))
	if err != nil {
		return nil, err
	}
	obj, err := m.sys.Find(ctx, f)
	if err != nil {
		return nil, err
	}
	shadow, ok := obj.(*DataShadow)
	if !ok {
		return nil, newLoaderError(ErrInconsistent, f.Path(), fmt.Errorf("recognized as %T", obj))
	}
	m.sys.fireOperation(OperationEvent{Kind: OpShadow, Object: shadow, OriginalFile: primary, Original: m.self})
	return shadow, nil
}
