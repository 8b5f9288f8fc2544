package loaders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/marmos91/dittoloaders/pkg/vfs"
	vfsbadger "github.com/marmos91/dittoloaders/pkg/vfs/badger"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sortedNames(sys *System, folder *vfs.File) []string {
	files := folder.Children()
	sys.orders.get(folder).SortFiles(files)
	return fileNames(files)
}

func TestParseSortMode(t *testing.T) {
	for _, m := range []SortMode{SortNone, SortNames, SortClass, SortFolderNames, SortLastModified, SortSize, SortExtensions, SortNatural} {
		byCode, err := ParseSortMode(m.Code())
		require.NoError(t, err)
		assert.Equal(t, m, byCode)

		byName, err := ParseSortMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, byName)
	}
	m, err := ParseSortMode("n")
	require.NoError(t, err)
	assert.Equal(t, SortNames, m)

	_, err = ParseSortMode("shuffle")
	assert.Error(t, err)
}

func TestFolderOrder_SortModes(t *testing.T) {
	sys := newTestSystem(t)
	root := sys.FileSystem().Root()
	dir := mkdir(t, root, "dir")
	mkdir(t, dir, "zsub")
	mkfile(t, dir, "b.md", "0123456789")
	mkfile(t, dir, "a.txt", "0")
	mkfile(t, dir, "c.go", "01234")

	backend := sys.FileSystem().Backend()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, backend.Chtimes("/dir/a.txt", base, base.Add(3*time.Hour)))
	require.NoError(t, backend.Chtimes("/dir/b.md", base, base.Add(1*time.Hour)))
	require.NoError(t, backend.Chtimes("/dir/c.go", base, base.Add(2*time.Hour)))

	cases := []struct {
		mode SortMode
		want []string
	}{
		{SortFolderNames, []string{"zsub", "a.txt", "b.md", "c.go"}},
		{SortNames, []string{"a.txt", "b.md", "c.go", "zsub"}},
		{SortLastModified, []string{"zsub", "a.txt", "c.go", "b.md"}},
		{SortSize, []string{"zsub", "b.md", "c.go", "a.txt"}},
		{SortExtensions, []string{"zsub", "c.go", "b.md", "a.txt"}},
		{SortNone, []string{"a.txt", "b.md", "c.go", "zsub"}},
	}
	for _, tc := range cases {
		t.Run(tc.mode.String(), func(t *testing.T) {
			require.NoError(t, SetSortMode(dir, tc.mode))
			assert.Equal(t, tc.want, sortedNames(sys, dir))
		})
	}

	require.NoError(t, SetSortMode(dir, DefaultSortMode))
	v, err := dir.Attribute(AttrSortMode)
	require.NoError(t, err)
	assert.Nil(t, v, "the default mode is not persisted")
}

func TestFolderOrder_Natural(t *testing.T) {
	sys := newTestSystem(t)
	dir := mkdir(t, sys.FileSystem().Root(), "dir")
	for _, n := range []string{"file10.txt", "file2.txt", "file1.txt", "file3.txt"} {
		mkfile(t, dir, n, "")
	}
	require.NoError(t, SetSortMode(dir, SortNatural))
	assert.Equal(t, []string{"file1.txt", "file2.txt", "file3.txt", "file10.txt"}, sortedNames(sys, dir))
}

func TestFolderOrder_Class(t *testing.T) {
	sys := newTestSystem(t)
	img := NewExtensionLoader(LoaderInfo{Name: "img"}, "png")
	require.NoError(t, sys.Loaders().Register(img))
	settle(t, sys)

	dir := mkdir(t, sys.FileSystem().Root(), "dir")
	mkfile(t, dir, "a.txt", "")
	mkfile(t, dir, "z.png", "")
	mkdir(t, dir, "sub")

	df, err := sys.FindFolder(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, df.SetSortMode(SortClass))

	children, err := df.Children(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"z.png", "sub", "a.txt"}, names(children))

	// raw files compare through their objects once recognized
	assert.Equal(t, []string{"z.png", "sub", "a.txt"}, sortedNames(sys, dir))
}

func TestFolderOrder_ExplicitOverlay(t *testing.T) {
	sys := newTestSystem(t)
	dir := mkdir(t, sys.FileSystem().Root(), "dir")
	for _, n := range []string{"a.txt", "b.txt", "c.txt", "d.txt"} {
		mkfile(t, dir, n, "")
	}
	df, err := sys.FindFolder(context.Background(), dir)
	require.NoError(t, err)

	var events []PropertyEvent
	defer df.AddPropertyListener(func(ev PropertyEvent) { events = append(events, ev) })()

	require.NoError(t, df.SetOrderNames([]string{"c.txt", "missing.txt", "a.txt", "c.txt"}))
	assert.Equal(t, []string{"c.txt", "missing.txt", "a.txt"}, df.Order())
	assert.Equal(t, []string{"c.txt", "a.txt", "b.txt", "d.txt"}, sortedNames(sys, dir))
	require.Len(t, events, 1)
	assert.Equal(t, PropOrder, events[0].Name)

	require.NoError(t, df.SetOrderNames(nil))
	assert.Empty(t, df.Order())
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt", "d.txt"}, sortedNames(sys, dir))
}

func TestFolderOrder_SetOrderRejectsStrangers(t *testing.T) {
	sys := newTestSystem(t)
	root := sys.FileSystem().Root()
	dir := mkdir(t, root, "dir")
	inside := find(t, sys, mkfile(t, dir, "in.txt", ""))
	outside := find(t, sys, mkfile(t, root, "out.txt", ""))

	df, err := sys.FindFolder(context.Background(), dir)
	require.NoError(t, err)
	err = df.SetOrder(context.Background(), []DataObject{inside, outside})
	assert.True(t, IsCode(err, ErrNotAllowed), "got %v", err)

	require.NoError(t, df.SetOrder(context.Background(), []DataObject{inside}))
	assert.Equal(t, []string{"in.txt"}, df.Order())
}

func TestFolderOrder_Legacy(t *testing.T) {
	sys := newTestSystem(t)
	dir := mkdir(t, sys.FileSystem().Root(), "dir")
	for _, n := range []string{"a.txt", "b.txt", "c.txt"} {
		mkfile(t, dir, n, "")
	}
	require.NoError(t, dir.SetAttribute(AttrFolderOrderLegacy, [][]string{{"c", "b"}, {"txt", "txt"}}))
	assert.Equal(t, []string{"c.txt", "b.txt", "a.txt"}, sortedNames(sys, dir))

	// writing an order replaces the legacy form
	require.NoError(t, setOrderNames(dir, []string{"a.txt"}))
	v, err := dir.Attribute(AttrFolderOrderLegacy)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, sortedNames(sys, dir))

	// malformed legacy rows are ignored
	require.NoError(t, setOrderNames(dir, nil))
	require.NoError(t, dir.SetAttribute(AttrFolderOrderLegacy, [][]string{{"c"}, {"txt", "txt"}}))
	assert.Empty(t, sys.orders.get(dir).Explicit())
}

func TestFolderOrder_ListFormAndCacheInvalidation(t *testing.T) {
	sys := newTestSystem(t)
	dir := mkdir(t, sys.FileSystem().Root(), "dir")
	mkfile(t, dir, "a.txt", "")
	mkfile(t, dir, "b.txt", "")

	before := sys.orders.get(dir)
	assert.Empty(t, before.Explicit())

	require.NoError(t, dir.SetAttribute(AttrFolderOrder, []string{"b.txt", "a.txt"}))
	after := sys.orders.get(dir)
	assert.NotSame(t, before, after)
	assert.Equal(t, []string{"b.txt", "a.txt"}, after.Explicit())
}

func TestFolderOrder_MixedOperands(t *testing.T) {
	sys := newTestSystem(t)
	dir := mkdir(t, sys.FileSystem().Root(), "dir")
	a := mkfile(t, dir, "a.txt", "")
	b := find(t, sys, mkfile(t, dir, "b.txt", ""))

	o := sys.orders.get(dir)
	assert.Negative(t, o.Compare(a, b))
	assert.Positive(t, o.Compare(b, a))
	assert.Positive(t, o.Compare(nil, a), "unknown operands sort last")
}

func TestFolderOrder_SurvivesReopen(t *testing.T) {
	backend := afero.NewMemMapFs()
	dbPath := t.TempDir()
	ctx := context.Background()

	open := func() (*System, *vfs.FileSystem) {
		store, err := vfsbadger.NewBadgerAttributeStore(ctx, vfsbadger.BadgerAttributeStoreConfig{DBPath: dbPath})
		require.NoError(t, err)
		fsys := vfs.New(backend, store, vfs.Options{})
		sys, err := NewSystem(SystemOptions{FileSystem: fsys, RefreshDelay: 5 * time.Millisecond})
		require.NoError(t, err)
		return sys, fsys
	}

	sys, fsys := open()
	dir := mkdir(t, fsys.Root(), "dir")
	for _, n := range []string{"a.txt", "b.txt", "c.txt"} {
		mkfile(t, dir, n, "")
	}
	df, err := sys.FindFolder(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, df.SetOrderNames([]string{"c.txt", "a.txt", "b.txt"}))
	require.NoError(t, df.SetSortMode(SortSize))
	require.NoError(t, sys.Close())
	require.NoError(t, fsys.Close())

	sys, fsys = open()
	defer func() {
		_ = sys.Close()
		_ = fsys.Close()
	}()
	df, err = sys.FindFolder(ctx, fsys.FindResource("/dir"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c.txt", "a.txt", "b.txt"}, df.Order())
	assert.Equal(t, SortSize, df.SortMode())

	children, err := df.Children(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.txt", "a.txt", "b.txt"}, names(children))
}

func TestOrderCache_HoldsConfiguredNumberOfFolders(t *testing.T) {
	sys := newTestSystem(t, func(o *SystemOptions) { o.OrderCacheSize = 64 })
	root := sys.FileSystem().Root()

	folders := make([]*vfs.File, 48)
	first := make([]*FolderOrder, len(folders))
	for i := range folders {
		folders[i] = mkdir(t, root, fmt.Sprintf("d%02d", i))
	}
	for i, f := range folders {
		first[i] = sys.orders.get(f)
	}
	sys.orders.cache.Wait()

	for i, f := range folders {
		assert.Same(t, first[i], sys.orders.get(f), "order of %s was evicted", f.Path())
	}
}

func TestOrderCache_Disabled(t *testing.T) {
	sys := newTestSystem(t, func(o *SystemOptions) { o.OrderCacheSize = -1 })
	folder := mkdir(t, sys.FileSystem().Root(), "d")

	require.Nil(t, sys.orders.cache)
	assert.NotSame(t, sys.orders.get(folder), sys.orders.get(folder))
}
