package loaders

import (
	"context"
	"fmt"
)

// DataFolder is the data object of a folder.
type DataFolder struct {
	*MultiDataObject
}

func (f *DataFolder) list() *FolderList {
	return f.sys.folderList(f.PrimaryFile())
}

// Children returns the objects of the folder in folder order, one per
// distinct primary object.
func (f *DataFolder) Children(ctx context.Context) ([]DataObject, error) {
	if err := f.checkValid(); err != nil {
		return nil, err
	}
	return f.list().Objects(ctx)
}

// AddChildrenListener subscribes fn to changes of the children list.
func (f *DataFolder) AddChildrenListener(fn func(ChildrenEvent)) (remove func()) {
	return f.list().AddListener(fn)
}

// Find returns the object owning the child named nameExt, or nil.
func (f *DataFolder) Find(ctx context.Context, nameExt string) (DataObject, error) {
	child := f.PrimaryFile().Child(nameExt)
	if child == nil {
		return nil, nil
	}
	return f.sys.loaders.FindDataObject(ctx, child, nil)
}

// CreateFolder creates a sub folder and returns its object.
func (f *DataFolder) CreateFolder(ctx context.Context, name string) (*DataFolder, error) {
	if err := f.checkValid(); err != nil {
		return nil, err
	}
	created, err := f.PrimaryFile().CreateFolder(name)
	if err != nil {
		return nil, err
	}
	df, err := f.sys.FindFolder(ctx, created)
	if err != nil {
		return nil, err
	}
	f.sys.fireOperation(OperationEvent{Kind: OpCreate, Object: df})
	return df, nil
}

// CreateData creates a data file holding content in the folder and returns the
// object recognized for it.
func (f *DataFolder) CreateData(ctx context.Context, name, ext string, content []byte) (DataObject, error) {
	if err := f.checkValid(); err != nil {
		return nil, err
	}
	created, err := createFile(f.PrimaryFile(), name, ext, content)
	if err != nil {
		return nil, err
	}
	obj, err := f.sys.Find(ctx, created)
	if err != nil {
		return nil, err
	}
	f.sys.fireOperation(OperationEvent{Kind: OpCreate, Object: obj})
	return obj, nil
}

// SortMode returns the persisted sort mode.
func (f *DataFolder) SortMode() SortMode {
	return readSortMode(f.PrimaryFile())
}

// SetSortMode persists mode and reorders the children.
func (f *DataFolder) SetSortMode(mode SortMode) error {
	old := f.SortMode()
	if old == mode {
		return nil
	}
	if err := SetSortMode(f.PrimaryFile(), mode); err != nil {
		return err
	}
	f.fire(PropSortMode, old, mode)
	return nil
}

// Order returns the explicitly ordered member names.
func (f *DataFolder) Order() []string {
	return f.sys.orders.get(f.PrimaryFile()).Explicit()
}

// FolderOrder returns the ordering in effect.
func (f *DataFolder) FolderOrder() *FolderOrder {
	return f.sys.orders.get(f.PrimaryFile())
}

// SetOrder persists objs as the explicit order. Every object must be a
// child of the folder.
func (f *DataFolder) SetOrder(ctx context.Context, objs []DataObject) error {
	for _, obj := range objs {
		if obj.PrimaryFile().Parent() != f.PrimaryFile() {
			return newLoaderError(ErrNotAllowed, obj.PrimaryFile().Path(),
				fmt.Errorf("not a child of %s", f.PrimaryFile().Path()))
		}
	}
	old := f.Order()
	if err := SetOrder(ctx, f.PrimaryFile(), objs); err != nil {
		return err
	}
	f.fire(PropOrder, old, f.Order())
	return nil
}

// SetOrderNames persists the explicit order by member name.
func (f *DataFolder) SetOrderNames(names []string) error {
	old := f.Order()
	if err := setOrderNames(f.PrimaryFile(), names); err != nil {
		return err
	}
	f.fire(PropOrder, old, f.Order())
	return nil
}

func (f *DataFolder) IsMoveAllowed() bool {
	return !f.PrimaryFile().IsRoot() && f.MultiDataObject.IsMoveAllowed()
}

func (f *DataFolder) IsRenameAllowed() bool {
	return !f.PrimaryFile().IsRoot() && f.MultiDataObject.IsRenameAllowed()
}

func (f *DataFolder) IsDeleteAllowed() bool {
	return !f.PrimaryFile().IsRoot() && f.MultiDataObject.IsDeleteAllowed()
}

func (f *DataFolder) IsCopyAllowed() bool {
	return !f.PrimaryFile().IsRoot()
}

// Walk visits the folder and its descendants depth-first in folder
// order. Returning a non-nil error from fn stops the walk.
func (f *DataFolder) Walk(ctx context.Context, fn func(obj DataObject, depth int) error) error {
	return f.walk(ctx, fn, 0)
}

func (f *DataFolder) walk(ctx context.Context, fn func(DataObject, int) error, depth int) error {
	children, err := f.Children(ctx)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(c, depth); err != nil {
			return err
		}
		if sub, ok := c.(*DataFolder); ok {
			if err := sub.walk(ctx, fn, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
