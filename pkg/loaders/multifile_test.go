package loaders

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/dittoloaders/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileNames(files []*vfs.File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.NameExt()
	}
	return out
}

func TestMultiFile_SecondaryFirst(t *testing.T) {
	sys := newTestSystem(t)
	require.NoError(t, sys.Loaders().Register(NewCompositeLoader(LoaderInfo{Name: "form"}, "java", "form")))
	root := sys.FileSystem().Root()
	java := mkfile(t, root, "Dialog.java", "")
	form := mkfile(t, root, "Dialog.form", "")

	obj := find(t, sys, form)
	assert.Equal(t, "form", obj.Loader().Name())
	assert.Same(t, java, obj.PrimaryFile())
	assert.ElementsMatch(t, []string{"Dialog.java", "Dialog.form"}, fileNames(obj.Files()))
	assert.Same(t, obj, find(t, sys, java))
	assert.Len(t, obj.SecondaryEntries(), 1)
	assert.Equal(t, SecondaryEntry, obj.SecondaryEntries()[0].Kind())
}

func TestMultiFile_OrphanSecondaryFallsThrough(t *testing.T) {
	sys := newTestSystem(t)
	require.NoError(t, sys.Loaders().Register(NewCompositeLoader(LoaderInfo{Name: "form"}, "java", "form")))
	orphan := mkfile(t, sys.FileSystem().Root(), "Lonely.form", "")

	obj := find(t, sys, orphan)
	assert.Equal(t, DefaultLoaderName, obj.Loader().Name())
	_, ok := obj.(*DefaultDataObject)
	assert.True(t, ok)
}

func TestMultiFile_SecondariesFollowFolder(t *testing.T) {
	sys := newTestSystem(t)
	require.NoError(t, sys.Loaders().Register(NewCompositeLoader(LoaderInfo{Name: "form"}, "java", "form", "properties")))
	root := sys.FileSystem().Root()
	java := mkfile(t, root, "Dialog.java", "")
	form := mkfile(t, root, "Dialog.form", "")

	obj := find(t, sys, java)
	require.Len(t, obj.Files(), 2)

	props := mkfile(t, root, "Dialog.properties", "")
	assert.Same(t, obj, find(t, sys, props))
	assert.Len(t, obj.Files(), 3)

	lock, err := form.Lock()
	require.NoError(t, err)
	require.NoError(t, form.Delete(lock))

	assert.True(t, obj.IsValid(), "losing a secondary file keeps the object")
	assert.ElementsMatch(t, []string{"Dialog.java", "Dialog.properties"}, fileNames(obj.Files()))
	assert.Nil(t, sys.Pool().Find(form))
}

func TestMultiFile_CollisionPrefersEarlierLoader(t *testing.T) {
	sys := newTestSystem(t)
	pool := sys.Loaders()
	l2 := NewCompositeLoader(LoaderInfo{Name: "l2"}, "java", "bak")
	require.NoError(t, pool.Register(l2))

	root := sys.FileSystem().Root()
	java := mkfile(t, root, "X.java", "")
	form := mkfile(t, root, "X.form", "")
	old := find(t, sys, java)
	require.Equal(t, "l2", old.Loader().Name())

	l1 := NewCompositeLoader(LoaderInfo{Name: "l1"}, "java", "form")
	require.NoError(t, pool.Register(l1))
	require.NoError(t, pool.Reorder([]string{"l1", "l2"}))

	// recognizing a file of l1 resolves the collision on X.java
	obj := find(t, sys, form)
	assert.Equal(t, "l1", obj.Loader().Name())
	assert.Same(t, java, obj.PrimaryFile())

	require.Eventually(t, func() bool { return !old.IsValid() }, 2*time.Second, 5*time.Millisecond)
	settle(t, sys)
	cur := find(t, sys, java)
	assert.Equal(t, "l1", cur.Loader().Name())
	assert.Same(t, cur, find(t, sys, form))
}

func TestMultiFile_CollisionIndependentOfTrigger(t *testing.T) {
	files := []string{"X.java", "X.form", "X.bak"}
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	for _, perm := range perms {
		sys := newTestSystem(t)
		require.NoError(t, sys.Loaders().Register(NewCompositeLoader(LoaderInfo{Name: "l1"}, "java", "form")))
		require.NoError(t, sys.Loaders().Register(NewCompositeLoader(LoaderInfo{Name: "l2"}, "java", "bak")))
		settle(t, sys)

		root := sys.FileSystem().Root()
		byName := map[string]*vfs.File{}
		for _, n := range files {
			byName[n] = mkfile(t, root, n, "")
		}

		for _, i := range perm {
			obj := find(t, sys, byName[files[i]])
			assert.NotEqual(t, "l2", obj.Loader().Name(), "perm %v: %s", perm, files[i])
		}
		owner := find(t, sys, byName["X.java"])
		assert.Equal(t, "l1", owner.Loader().Name(), "perm %v", perm)
		assert.Same(t, owner, find(t, sys, byName["X.form"]), "perm %v", perm)
		assert.Equal(t, DefaultLoaderName, find(t, sys, byName["X.bak"]).Loader().Name(), "perm %v", perm)
	}
}

func TestMultiFile_PatternLoader(t *testing.T) {
	sys := newTestSystem(t)
	l, err := NewPatternLoader(LoaderInfo{Name: "docker"}, "Dockerfile", "*.dockerfile")
	require.NoError(t, err)
	require.NoError(t, sys.Loaders().Register(l))

	root := sys.FileSystem().Root()
	assert.Equal(t, "docker", find(t, sys, mkfile(t, root, "Dockerfile", "")).Loader().Name())
	assert.Equal(t, "docker", find(t, sys, mkfile(t, root, "app.dockerfile", "")).Loader().Name())
	assert.Equal(t, DefaultLoaderName, find(t, sys, mkfile(t, root, "Makefile", "")).Loader().Name())

	_, err = NewPatternLoader(LoaderInfo{Name: "bad"}, "[")
	assert.Error(t, err)
}

func TestMultiFile_ExtensionCaseInsensitive(t *testing.T) {
	sys := newTestSystem(t)
	require.NoError(t, sys.Loaders().Register(NewExtensionLoader(LoaderInfo{Name: "img"}, ".PNG", "jpg")))
	root := sys.FileSystem().Root()

	assert.Equal(t, "img", find(t, sys, mkfile(t, root, "a.png", "")).Loader().Name())
	assert.Equal(t, "img", find(t, sys, mkfile(t, root, "b.JPG", "")).Loader().Name())

	dir := mkdir(t, root, "pics.png")
	obj := find(t, sys, dir)
	assert.Equal(t, FolderLoaderName, obj.Loader().Name())
}

// inconsistentStrategy builds an object for another file than asked.
type inconsistentStrategy struct {
	multiObjectStrategy
	other *vfs.File
}

func (inconsistentStrategy) FindPrimaryFile(ctx context.Context, sys *System, file *vfs.File) *vfs.File {
	if file.Ext() == "bad" {
		return file
	}
	return nil
}

func (s inconsistentStrategy) CreateObject(ctx context.Context, sys *System, loader Loader, primary *vfs.File) (DataObject, error) {
	return NewMultiDataObject(sys, loader, s.other), nil
}

func TestMultiFile_WrongPrimaryIsInconsistent(t *testing.T) {
	sys := newTestSystem(t)
	root := sys.FileSystem().Root()
	other := mkfile(t, root, "other.txt", "")
	require.NoError(t, sys.Loaders().Register(NewMultiFileLoader(LoaderInfo{Name: "bad"}, multiObjectType,
		inconsistentStrategy{other: other})))

	_, err := sys.Find(context.Background(), mkfile(t, root, "x.bad", ""))
	assert.True(t, IsCode(err, ErrInconsistent), "got %v", err)
	assert.Zero(t, sys.Pool().Len())
}
