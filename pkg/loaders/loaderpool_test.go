package loaders

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/marmos91/dittoloaders/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loaderNames(ls []Loader) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.Name()
	}
	return out
}

func TestLoaderPool_Order(t *testing.T) {
	preferred := NewExtensionLoader(LoaderInfo{Name: "preferred"}, "p")
	sys := newTestSystem(t, func(o *SystemOptions) { o.Preferred = preferred })
	pool := sys.Loaders()

	require.NoError(t, pool.Register(NewExtensionLoader(LoaderInfo{Name: "a"}, "a")))
	require.NoError(t, pool.Register(NewExtensionLoader(LoaderInfo{Name: "b"}, "b")))
	pool.RegisterFactory("text/plain", NewExtensionLoader(LoaderInfo{Name: "text"}, "txt"))
	pool.RegisterFactory(vfs.UnknownMIMEType, NewExtensionLoader(LoaderInfo{Name: "any"}, "bin"))

	assert.Equal(t, []string{"preferred", "shadow", "instance", "a", "b", "folder", "default"},
		loaderNames(pool.AllLoaders()))

	txt := mkfile(t, sys.FileSystem().Root(), "x.txt", "")
	assert.Equal(t, []string{"preferred", "shadow", "instance", "a", "b", "text", "folder", "default", "any"},
		loaderNames(pool.LoadersFor(txt)))

	bin := mkfile(t, sys.FileSystem().Root(), "x.bin", "")
	assert.Equal(t, []string{"preferred", "shadow", "instance", "a", "b", "folder", "default", "any"},
		loaderNames(pool.LoadersFor(bin)))

	require.NoError(t, pool.Reorder([]string{"b"}))
	assert.Equal(t, []string{"preferred", "shadow", "instance", "b", "a", "folder", "default"},
		loaderNames(pool.AllLoaders()))

	require.NoError(t, pool.Unregister("a"))
	require.NoError(t, pool.Unregister("text"))
	assert.Error(t, pool.Unregister("missing"))
	assert.Equal(t, []string{"preferred", "shadow", "instance", "b", "folder", "default", "any"},
		loaderNames(pool.LoadersFor(txt)))
}

func TestLoaderPool_CacheInvalidation(t *testing.T) {
	sys := newTestSystem(t)
	pool := sys.Loaders()

	first := pool.AllLoaders()
	again := pool.AllLoaders()
	assert.Equal(t, loaderNames(first), loaderNames(again))

	// callers own the returned slice
	first[0] = nil
	assert.NotNil(t, pool.AllLoaders()[0])

	require.NoError(t, pool.Register(NewExtensionLoader(LoaderInfo{Name: "late"}, "late")))
	assert.Contains(t, loaderNames(pool.AllLoaders()), "late")
}

func TestLoaderPool_DisabledModules(t *testing.T) {
	sys := newTestSystem(t)
	pool := sys.Loaders()
	ext := NewExtensionLoader(LoaderInfo{Name: "mod", Module: "plugin"}, "m")
	require.NoError(t, pool.Register(ext))

	f := mkfile(t, sys.FileSystem().Root(), "a.m", "")
	require.NoError(t, pool.SetAssignedLoader(f, ext))
	assert.Same(t, ext, pool.AssignedLoader(f))
	assert.Equal(t, "plugin", f.StringAttribute(AttrAssignedLoaderModule))

	pool.SetModuleEnabled("plugin", false)
	assert.False(t, pool.ModuleEnabled("plugin"))
	assert.Nil(t, pool.AssignedLoader(f))
	assert.NotContains(t, loaderNames(pool.AllLoaders()), "mod")

	pool.SetModuleEnabled("plugin", true)
	assert.Same(t, ext, pool.AssignedLoader(f))

	require.NoError(t, pool.SetAssignedLoader(f, nil))
	assert.Nil(t, pool.AssignedLoader(f))
	assert.Empty(t, f.StringAttribute(AttrAssignedLoaderModule))
}

func TestLoaderPool_UnknownAssignmentIgnored(t *testing.T) {
	sys := newTestSystem(t)
	f := mkfile(t, sys.FileSystem().Root(), "a.txt", "")
	require.NoError(t, f.SetAttribute(AttrAssignedLoader, "nobody"))

	assert.Nil(t, sys.Loaders().AssignedLoader(f))
	assert.IsType(t, &DefaultDataObject{}, find(t, sys, f))
}

func TestLoaderPool_Producers(t *testing.T) {
	sys := newTestSystem(t)
	pool := sys.Loaders()

	assert.Equal(t, FolderLoaderName, pool.FirstProducerOf(reflect.TypeOf((*DataFolder)(nil))).Name())
	assert.Equal(t, InstanceLoaderName, pool.FirstProducerOf(reflect.TypeOf((*InstanceDataObject)(nil))).Name())
	assert.Nil(t, pool.FirstProducerOf(reflect.TypeOf("")))

	all := pool.ProducersOf(dataObjectType)
	assert.Len(t, all, len(pool.AllLoaders()))
}

func TestLoaderPool_ChangeListenersAreAsync(t *testing.T) {
	sys := newTestSystem(t)
	pool := sys.Loaders()

	var mu sync.Mutex
	var got []ChangeEvent
	remove := pool.AddChangeListener(func(ev ChangeEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	defer remove()

	require.NoError(t, pool.Register(NewExtensionLoader(LoaderInfo{Name: "x"}, "x")))
	settle(t, sys)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, LoaderAdded, got[0].Kind)
	assert.Equal(t, "x", got[0].Loader)
}

type panickingStrategy struct{ multiObjectStrategy }

func (panickingStrategy) FindPrimaryFile(ctx context.Context, sys *System, file *vfs.File) *vfs.File {
	if file.Ext() == "boom" {
		panic("broken loader")
	}
	return nil
}

func TestLoaderPool_PanicBecomesIOError(t *testing.T) {
	sys := newTestSystem(t)
	require.NoError(t, sys.Loaders().Register(NewMultiFileLoader(LoaderInfo{Name: "panicky"}, multiObjectType, panickingStrategy{})))

	root := sys.FileSystem().Root()
	boom := mkfile(t, root, "x.boom", "")
	_, err := sys.Find(context.Background(), boom)
	assert.True(t, IsCode(err, ErrIO))

	// other files are unaffected
	assert.NotNil(t, find(t, sys, mkfile(t, root, "y.txt", "")))
}

func TestFind_InvalidFileNotRecognized(t *testing.T) {
	sys := newTestSystem(t)
	f := mkfile(t, sys.FileSystem().Root(), "gone.txt", "")
	lock, err := f.Lock()
	require.NoError(t, err)
	require.NoError(t, f.Delete(lock))

	_, err = sys.Find(context.Background(), f)
	assert.True(t, IsNotRecognized(err))

	obj, err := sys.Loaders().FindDataObject(context.Background(), f, nil)
	assert.NoError(t, err)
	assert.Nil(t, obj)

	_, err = sys.FindPath(context.Background(), "/nope.txt")
	assert.True(t, IsNotRecognized(err))
}
