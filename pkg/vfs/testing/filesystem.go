package testing

import (
	"sync"
	"testing"

	"github.com/marmos91/dittoloaders/pkg/vfs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *AttributeStoreSuite) RunFileSystemTests(test *testing.T) {
	test.Run("Identity_Interned", suite.TestIdentity_Interned)
	test.Run("Rename_KeepsIdentityAndAttributes", suite.TestRename_KeepsIdentityAndAttributes)
	test.Run("Move_NewIdentity", suite.TestMove_NewIdentity)
	test.Run("Delete_InvalidatesSubtree", suite.TestDelete_InvalidatesSubtree)
	test.Run("Copy_CopiesAttributes", suite.TestCopy_CopiesAttributes)
	test.Run("Locks", suite.TestLocks)
	test.Run("RunAtomic_BatchesEvents", suite.TestRunAtomic_BatchesEvents)
	test.Run("Refresh_DetectsExternalChanges", suite.TestRefresh_DetectsExternalChanges)
}

// NewFileSystem builds a filesystem over a fresh in-memory backend and a
// fresh store from the suite.
func (suite *AttributeStoreSuite) NewFileSystem() *vfs.FileSystem {
	return vfs.New(afero.NewMemMapFs(), suite.NewStore(), vfs.Options{})
}

// Recorder collects events in delivery order.
type Recorder struct {
	mu     sync.Mutex
	events []vfs.Event
}

// Listen subscribes the recorder to fsys.
func (r *Recorder) Listen(fsys *vfs.FileSystem) func() {
	return fsys.AddListener(func(ev vfs.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
}

// Kinds returns the kinds of recorded events.
func (r *Recorder) Kinds() []vfs.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]vfs.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

// Events returns a copy of recorded events.
func (r *Recorder) Events() []vfs.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]vfs.Event(nil), r.events...)
}

func (suite *AttributeStoreSuite) TestIdentity_Interned(test *testing.T) {
	fsys := suite.NewFileSystem()
	defer fsys.Close()

	src, err := fsys.Root().CreateFolder("src")
	require.NoError(test, err)
	a, err := src.CreateData("a", "txt")
	require.NoError(test, err)

	assert.Same(test, a, fsys.FindResource("/src/a.txt"))
	assert.Same(test, a, src.Child("a.txt"))
	assert.Equal(test, "a", a.Name())
	assert.Equal(test, "txt", a.Ext())
	assert.Equal(test, "text/plain", a.MIMEType())
	assert.Same(test, src, a.Parent())
	assert.Nil(test, fsys.FindResource("/src/missing.txt"))

	_, err = src.CreateData("a", "txt")
	assert.True(test, vfs.IsCode(err, vfs.ErrAlreadyExists))
}

func (suite *AttributeStoreSuite) TestRename_KeepsIdentityAndAttributes(test *testing.T) {
	fsys := suite.NewFileSystem()
	defer fsys.Close()
	var rec Recorder
	defer rec.Listen(fsys)()

	dir, err := fsys.Root().CreateFolder("dir")
	require.NoError(test, err)
	inner, err := dir.CreateData("inner", "txt")
	require.NoError(test, err)
	require.NoError(test, inner.SetAttribute("template", true))

	err = dir.Rename(nil, "renamed", "")
	assert.True(test, vfs.IsCode(err, vfs.ErrNotLocked))

	lock, err := dir.Lock()
	require.NoError(test, err)
	require.NoError(test, dir.Rename(lock, "renamed", ""))
	lock.Release()

	assert.True(test, dir.IsValid())
	assert.Equal(test, "/renamed", dir.Path())
	assert.Equal(test, "/renamed/inner.txt", inner.Path())
	assert.Same(test, inner, fsys.FindResource("/renamed/inner.txt"))
	assert.True(test, inner.BoolAttribute("template"))

	events := rec.Events()
	last := events[len(events)-1]
	assert.Equal(test, vfs.Renamed, last.Kind)
	assert.Equal(test, "dir", last.OldName)
	assert.Equal(test, "/dir", last.OldPath)
}

func (suite *AttributeStoreSuite) TestMove_NewIdentity(test *testing.T) {
	fsys := suite.NewFileSystem()
	defer fsys.Close()

	a, err := fsys.Root().CreateFolder("a")
	require.NoError(test, err)
	b, err := fsys.Root().CreateFolder("b")
	require.NoError(test, err)
	f, err := a.CreateData("f", "txt")
	require.NoError(test, err)
	require.NoError(test, f.SetAttribute("loader", "text"))

	var rec Recorder
	defer rec.Listen(fsys)()

	lock, err := f.Lock()
	require.NoError(test, err)
	moved, err := f.Move(lock, b, "g", "txt")
	require.NoError(test, err)

	assert.False(test, f.IsValid())
	assert.False(test, lock.IsValid())
	assert.NotSame(test, f, moved)
	assert.Equal(test, "/b/g.txt", moved.Path())
	assert.Equal(test, "text", moved.StringAttribute("loader"))
	assert.Equal(test, []vfs.EventKind{vfs.Deleted, vfs.DataCreated}, rec.Kinds())
	assert.Empty(test, a.Children())
}

func (suite *AttributeStoreSuite) TestDelete_InvalidatesSubtree(test *testing.T) {
	fsys := suite.NewFileSystem()
	defer fsys.Close()

	dir, err := fsys.Root().CreateFolder("dir")
	require.NoError(test, err)
	f, err := dir.CreateData("x", "txt")
	require.NoError(test, err)
	require.NoError(test, f.SetAttribute("a", "1"))

	lock, err := dir.Lock()
	require.NoError(test, err)
	require.NoError(test, dir.Delete(lock))

	assert.False(test, dir.IsValid())
	assert.False(test, f.IsValid())
	assert.Nil(test, fsys.FindResource("/dir/x.txt"))

	again, err := fsys.Root().CreateFolder("dir")
	require.NoError(test, err)
	g, err := again.CreateData("x", "txt")
	require.NoError(test, err)
	assert.NotSame(test, f, g)
	v, err := g.Attribute("a")
	require.NoError(test, err)
	assert.Nil(test, v, "attributes of deleted files must not leak into new ones")
}

func (suite *AttributeStoreSuite) TestCopy_CopiesAttributes(test *testing.T) {
	fsys := suite.NewFileSystem()
	defer fsys.Close()

	src, err := fsys.Root().CreateData("tpl", "txt")
	require.NoError(test, err)
	lock, err := src.Lock()
	require.NoError(test, err)
	require.NoError(test, src.Write(lock, []byte("hello")))
	lock.Release()
	require.NoError(test, src.SetAttribute("template", true))

	dst, err := src.Copy(fsys.Root(), "copy", "txt")
	require.NoError(test, err)

	data, err := dst.Read()
	require.NoError(test, err)
	assert.Equal(test, "hello", string(data))
	assert.True(test, dst.BoolAttribute("template"))
	assert.Equal(test, int64(5), dst.Size())
}

func (suite *AttributeStoreSuite) TestLocks(test *testing.T) {
	fsys := suite.NewFileSystem()
	defer fsys.Close()

	f, err := fsys.Root().CreateData("f", "txt")
	require.NoError(test, err)

	l1, err := f.Lock()
	require.NoError(test, err)
	_, err = f.Lock()
	assert.True(test, vfs.IsCode(err, vfs.ErrLocked))
	assert.True(test, f.IsLocked())

	l1.Release()
	l1.Release()
	assert.False(test, f.IsLocked())
	assert.True(test, vfs.IsCode(f.Write(l1, []byte("x")), vfs.ErrNotLocked))

	l2, err := f.Lock()
	require.NoError(test, err)
	defer l2.Release()
	require.NoError(test, f.Write(l2, []byte("x")))
}

func (suite *AttributeStoreSuite) TestRunAtomic_BatchesEvents(test *testing.T) {
	fsys := suite.NewFileSystem()
	defer fsys.Close()

	var mu sync.Mutex
	var seen []vfs.EventKind
	delivered := 0
	defer fsys.AddListener(func(ev vfs.Event) {
		mu.Lock()
		seen = append(seen, ev.Kind)
		delivered++
		mu.Unlock()
	})()

	err := fsys.RunAtomic(func() error {
		f, err := fsys.Root().CreateData("a", "txt")
		if err != nil {
			return err
		}
		if err := f.SetAttribute("x", "1"); err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		assert.Zero(test, delivered, "events must wait for the atomic action to finish")
		return nil
	})
	require.NoError(test, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(test, []vfs.EventKind{vfs.DataCreated, vfs.AttributeChanged}, seen)
}

func (suite *AttributeStoreSuite) TestRefresh_DetectsExternalChanges(test *testing.T) {
	fsys := suite.NewFileSystem()
	defer fsys.Close()

	dir, err := fsys.Root().CreateFolder("dir")
	require.NoError(test, err)
	gone, err := dir.CreateData("gone", "txt")
	require.NoError(test, err)
	require.Len(test, dir.Children(), 1)

	backend := fsys.Backend()
	require.NoError(test, backend.Remove("/dir/gone.txt"))
	require.NoError(test, afero.WriteFile(backend, "/dir/new.txt", []byte("n"), 0644))

	var rec Recorder
	defer rec.Listen(fsys)()
	require.NoError(test, fsys.Refresh(dir))

	assert.False(test, gone.IsValid())
	assert.ElementsMatch(test, []vfs.EventKind{vfs.Deleted, vfs.DataCreated}, rec.Kinds())
	require.Len(test, dir.Children(), 1)
	assert.Equal(test, "new.txt", dir.Children()[0].NameExt())
}
