package loaders

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/dittoloaders/pkg/vfs"
	"github.com/marmos91/dittoloaders/pkg/vfs/memory"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestFileSystem() *vfs.FileSystem {
	return vfs.New(afero.NewMemMapFs(), memory.NewMemoryAttributeStore(), vfs.Options{})
}

func newTestSystem(t *testing.T, configure ...func(*SystemOptions)) *System {
	t.Helper()
	fsys := newTestFileSystem()
	opts := SystemOptions{
		FileSystem:   fsys,
		RefreshDelay: 5 * time.Millisecond,
		BlockWarning: 5 * time.Second,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	sys, err := NewSystem(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sys.Close()
		_ = fsys.Close()
	})
	return sys
}

func mkdir(t *testing.T, parent *vfs.File, name string) *vfs.File {
	t.Helper()
	f, err := parent.CreateFolder(name)
	require.NoError(t, err)
	return f
}

func mkfile(t *testing.T, parent *vfs.File, nameExt, content string) *vfs.File {
	t.Helper()
	name, ext := vfs.SplitNameExt(nameExt, false)
	f, err := parent.CreateData(name, ext)
	require.NoError(t, err)
	if content != "" {
		lock, err := f.Lock()
		require.NoError(t, err)
		require.NoError(t, f.Write(lock, []byte(content)))
		lock.Release()
	}
	return f
}

// settle waits for pending loader-change notifications.
func settle(t *testing.T, sys *System) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sys.notify.Flush(ctx))
}

func find(t *testing.T, sys *System, f *vfs.File) DataObject {
	t.Helper()
	obj, err := sys.Find(context.Background(), f)
	require.NoError(t, err)
	require.NotNil(t, obj)
	return obj
}

func names(objs []DataObject) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.PrimaryFile().NameExt()
	}
	return out
}
