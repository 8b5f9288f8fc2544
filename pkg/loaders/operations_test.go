package loaders

import (
	"context"
	"testing"

	"github.com/marmos91/dittoloaders/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func folderObj(t *testing.T, sys *System, f *vfs.File) *DataFolder {
	t.Helper()
	df, err := sys.FindFolder(context.Background(), f)
	require.NoError(t, err)
	return df
}

func TestOperations_CompositeCopyMoveRenameDelete(t *testing.T) {
	sys := newTestSystem(t)
	require.NoError(t, sys.Loaders().Register(NewCompositeLoader(LoaderInfo{Name: "form"}, "java", "form")))
	settle(t, sys)
	ctx := context.Background()
	root := sys.FileSystem().Root()
	src := mkdir(t, root, "src")
	dst := mkdir(t, root, "dst")
	mkfile(t, src, "Dialog.java", "class Dialog {}")
	mkfile(t, src, "Dialog.form", "<form/>")
	obj := find(t, sys, src.Child("Dialog.java"))
	require.Len(t, obj.Files(), 2)

	var ops []OperationKind
	defer sys.AddOperationListener(func(ev OperationEvent) { ops = append(ops, ev.Kind) })()

	// copy keeps both files together and picks a free name on conflict
	c1, err := obj.Copy(ctx, folderObj(t, sys, dst))
	require.NoError(t, err)
	assert.Equal(t, "/dst/Dialog.java", c1.PrimaryFile().Path())
	assert.Len(t, c1.Files(), 2)
	c2, err := obj.Copy(ctx, folderObj(t, sys, dst))
	require.NoError(t, err)
	assert.Equal(t, "Dialog_1", c2.Name())
	assert.NotSame(t, c1, c2)

	// rename keeps identity and extensions
	var props []string
	defer obj.AddPropertyListener(func(ev PropertyEvent) { props = append(props, ev.Name) })()
	require.NoError(t, obj.Rename(ctx, "Main"))
	assert.Equal(t, "Main", obj.Name())
	assert.ElementsMatch(t, []string{"Main.java", "Main.form"}, fileNames(obj.Files()))
	assert.Contains(t, props, PropName)
	assert.True(t, IsCode(c2.Rename(ctx, "Dialog"), ErrNotAllowed), "the name is taken")

	// move keeps identity and re-keys the pool
	require.NoError(t, obj.Move(ctx, folderObj(t, sys, dst)))
	assert.True(t, obj.IsValid())
	assert.Equal(t, "/dst/Main.java", obj.PrimaryFile().Path())
	assert.Same(t, obj, sys.Pool().Find(dst.Child("Main.form")))
	assert.Nil(t, src.Child("Main.java"))
	assert.Contains(t, props, PropPrimaryFile)

	// delete removes every file
	require.NoError(t, obj.Delete(ctx))
	assert.False(t, obj.IsValid())
	assert.Nil(t, dst.Child("Main.java"))
	assert.Nil(t, dst.Child("Main.form"))
	assert.True(t, IsCode(obj.Delete(ctx), ErrInvalidObject))

	assert.Equal(t, []OperationKind{OpCopy, OpCopy, OpRename, OpMove, OpDelete}, ops)
}

func TestOperations_FolderIntoItself(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()
	root := sys.FileSystem().Root()
	outer := folderObj(t, sys, mkdir(t, root, "outer"))
	inner := folderObj(t, sys, mkdir(t, outer.PrimaryFile(), "inner"))

	assert.True(t, IsCode(outer.Move(ctx, inner), ErrNotAllowed))
	_, err := outer.Copy(ctx, inner)
	assert.True(t, IsCode(err, ErrNotAllowed))

	rootObj, err := sys.Root(ctx)
	require.NoError(t, err)
	assert.True(t, IsCode(rootObj.Delete(ctx), ErrNotAllowed))
	assert.True(t, IsCode(rootObj.Rename(ctx, "x"), ErrNotAllowed))
}

func TestOperations_MoveFolderInvalidatesDescendants(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()
	root := sys.FileSystem().Root()
	dir := mkdir(t, root, "dir")
	child := find(t, sys, mkfile(t, dir, "a.txt", ""))
	target := folderObj(t, sys, mkdir(t, root, "target"))

	df := folderObj(t, sys, dir)
	require.NoError(t, df.Move(ctx, target))
	assert.True(t, df.IsValid())
	assert.Equal(t, "/target/dir", df.PrimaryFile().Path())
	assert.False(t, child.IsValid())

	moved := find(t, sys, df.PrimaryFile().Child("a.txt"))
	assert.NotSame(t, child, moved)
}

func TestOperations_Template(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()
	root := sys.FileSystem().Root()
	tplFile := mkfile(t, root, "Class.txt", "package {{.pkg}}\n// {{.name}}\n")
	require.NoError(t, tplFile.SetAttribute(AttrTemplateEngine, "gotemplate"))
	tpl := find(t, sys, tplFile)
	require.NoError(t, tpl.SetTemplate(true))
	assert.True(t, tpl.IsTemplate())

	out := folderObj(t, sys, mkdir(t, root, "out"))
	obj, err := tpl.CreateFromTemplate(ctx, out, "Widget", map[string]any{"pkg": "ui"})
	require.NoError(t, err)
	assert.False(t, obj.IsTemplate())
	data, err := obj.PrimaryFile().Read()
	require.NoError(t, err)
	assert.Equal(t, "package ui\n// Widget\n", string(data))

	_, err = tpl.CreateFromTemplate(ctx, out, "Widget", nil)
	assert.True(t, IsCode(err, ErrNotAllowed))

	plain, err := tpl.CreateFromTemplate(ctx, out, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Class", plain.Name())
}

func TestOperations_FailedTemplateLeavesNothing(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()
	root := sys.FileSystem().Root()
	tplFile := mkfile(t, root, "Bad.txt", "{{.pkg")
	require.NoError(t, tplFile.SetAttribute(AttrTemplateEngine, "gotemplate"))
	tpl := find(t, sys, tplFile)

	out := folderObj(t, sys, mkdir(t, root, "out"))
	_, err := tpl.CreateFromTemplate(ctx, out, "Widget", nil)
	require.Error(t, err)
	assert.Empty(t, out.PrimaryFile().Children())
	assert.False(t, sys.FileSystem().Exists("/out/Widget.txt"))
}

func TestOperations_FailedCompositeTemplateLeavesNothing(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()
	require.NoError(t, sys.Loaders().Register(NewCompositeLoader(LoaderInfo{Name: "form"}, "java", "form")))
	root := sys.FileSystem().Root()
	mkfile(t, root, "Dialog.java", "class {{.name}} {}")
	form := mkfile(t, root, "Dialog.form", "<form {{end}}>")
	require.NoError(t, form.SetAttribute(AttrTemplateEngine, "gotemplate"))
	tpl := find(t, sys, form)
	require.Len(t, tpl.Files(), 2)

	out := folderObj(t, sys, mkdir(t, root, "out"))
	_, err := tpl.CreateFromTemplate(ctx, out, "Panel", nil)
	require.Error(t, err)
	assert.Empty(t, fileNames(out.PrimaryFile().Children()))
}

func TestOperations_PlainTemplateIsCopied(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()
	root := sys.FileSystem().Root()
	tpl := find(t, sys, mkfile(t, root, "raw.txt", "{{.kept}}"))
	require.NoError(t, tpl.SetTemplate(true))

	obj, err := tpl.CreateFromTemplate(ctx, folderObj(t, sys, root), "copy", nil)
	require.NoError(t, err)
	data, err := obj.PrimaryFile().Read()
	require.NoError(t, err)
	assert.Equal(t, "{{.kept}}", string(data))
}

func TestEntry_LockDiscipline(t *testing.T) {
	sys := newTestSystem(t)
	f := mkfile(t, sys.FileSystem().Root(), "a.txt", "")
	obj := find(t, sys, f)
	e := obj.PrimaryEntry()
	assert.Equal(t, PrimaryEntry, e.Kind())
	assert.Same(t, obj, e.Object())

	lock, err := e.TakeLock()
	require.NoError(t, err)
	assert.True(t, e.IsLocked())
	again, err := e.TakeLock()
	require.NoError(t, err)
	assert.Same(t, lock, again, "the entry reuses its held lock")

	// writes through the entry use the held lock
	require.NoError(t, e.Write([]byte("locked")))
	_, err = f.Lock()
	assert.True(t, vfs.IsCode(err, vfs.ErrLocked))

	e.ReleaseLock()
	assert.False(t, e.IsLocked())
	require.NoError(t, e.Write([]byte("free")))
	assert.False(t, f.IsLocked())

	data, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, "free", string(data))
}

func TestDataFolder_Create(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()
	rootObj, err := sys.Root(ctx)
	require.NoError(t, err)

	var ops []OperationEvent
	defer sys.AddOperationListener(func(ev OperationEvent) { ops = append(ops, ev) })()

	sub, err := rootObj.CreateFolder(ctx, "sub")
	require.NoError(t, err)
	obj, err := sub.CreateData(ctx, "notes", "txt", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "/sub/notes.txt", obj.PrimaryFile().Path())

	got, err := sub.Find(ctx, "notes.txt")
	require.NoError(t, err)
	assert.Same(t, obj, got)
	missing, err := sub.Find(ctx, "none.txt")
	require.NoError(t, err)
	assert.Nil(t, missing)

	folder, err := obj.Folder(ctx)
	require.NoError(t, err)
	assert.Same(t, sub, folder)

	require.Len(t, ops, 2)
	assert.Equal(t, OpCreate, ops[0].Kind)
	assert.Same(t, DataObject(sub), ops[0].Object)
}
