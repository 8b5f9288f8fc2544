package vfs_test

import (
	"testing"

	"github.com/marmos91/dittoloaders/pkg/vfs"
	"github.com/marmos91/dittoloaders/pkg/vfs/memory"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitNameExt(t *testing.T) {
	tests := []struct {
		in        string
		folder    bool
		name, ext string
	}{
		{"a.txt", false, "a", "txt"},
		{"a.b.txt", false, "a.b", "txt"},
		{".hidden", false, ".hidden", ""},
		{"trailing.", false, "trailing.", ""},
		{"dir.d", true, "dir.d", ""},
	}
	for _, tt := range tests {
		name, ext := vfs.SplitNameExt(tt.in, tt.folder)
		assert.Equal(t, tt.name, name, tt.in)
		assert.Equal(t, tt.ext, ext, tt.in)
		assert.Equal(t, tt.in, vfs.JoinNameExt(name, ext))
	}
}

func TestIsWithinAndRebase(t *testing.T) {
	assert.True(t, vfs.IsWithin("/a/b", "/a"))
	assert.True(t, vfs.IsWithin("/a", "/a"))
	assert.False(t, vfs.IsWithin("/ab", "/a"))
	assert.True(t, vfs.IsWithin("/x", "/"))
	assert.Equal(t, "/c/b", vfs.Rebase("/a/b", "/a", "/c"))
	assert.Equal(t, "/b", vfs.Rebase("/a/b", "/a", "/"))
}

func TestMIMEType_ExtensionAndSniffing(t *testing.T) {
	backend := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(backend, "/page", []byte("<!DOCTYPE html><html><body>x</body></html>"), 0644))
	require.NoError(t, afero.WriteFile(backend, "/notes.txt", []byte("plain"), 0644))

	plain := vfs.New(backend, memory.NewMemoryAttributeStore(), vfs.Options{})
	assert.Equal(t, vfs.UnknownMIMEType, plain.FindResource("/page").MIMEType())
	assert.Equal(t, "text/plain", plain.FindResource("/notes.txt").MIMEType())

	sniffing := vfs.New(backend, memory.NewMemoryAttributeStore(), vfs.Options{
		SniffContent: true,
		MIMETypes:    map[string]string{".txt": "text/x-notes"},
	})
	assert.Equal(t, "text/html", sniffing.FindResource("/page").MIMEType())
	assert.Equal(t, "text/x-notes", sniffing.FindResource("/notes.txt").MIMEType())
	assert.Equal(t, vfs.UnknownMIMEType, sniffing.Root().MIMEType())
}

func TestReadOnly(t *testing.T) {
	fsys := vfs.New(afero.NewMemMapFs(), memory.NewMemoryAttributeStore(), vfs.Options{ReadOnly: true})
	_, err := fsys.Root().CreateData("a", "txt")
	assert.True(t, vfs.IsCode(err, vfs.ErrReadOnly))
}
