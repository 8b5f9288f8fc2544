package loaders

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeting struct {
	Text  string `mapstructure:"text"`
	Count int    `mapstructure:"count"`
}

var greetingType = InstanceType{Name: "greeting", New: func() any { return &greeting{} }}

func TestInstance_Resolved(t *testing.T) {
	sys := newTestSystem(t, func(o *SystemOptions) { o.InstanceTypes = []InstanceType{greetingType} })
	ctx := context.Background()
	f, err := WriteInstanceFile(sys.FileSystem().Root(), "hello", InstanceExt, "greeting", &greeting{Text: "hi", Count: 2})
	require.NoError(t, err)

	inst, ok := find(t, sys, f).(*InstanceDataObject)
	require.True(t, ok)
	assert.Equal(t, "greeting", inst.TypeName())
	assert.False(t, inst.IsBroken())
	assert.Equal(t, "hi", inst.Properties()["text"])

	cookie, ok := LookupCookie[InstanceCookie](inst)
	require.True(t, ok)
	v, err := cookie.Instance(ctx)
	require.NoError(t, err)
	assert.Equal(t, &greeting{Text: "hi", Count: 2}, v)

	again, err := inst.Instance(ctx)
	require.NoError(t, err)
	assert.Same(t, v, again)

	require.NoError(t, inst.Save("greeting", &greeting{Text: "bye"}))
	v, err = inst.Instance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bye", v.(*greeting).Text)
}

func TestInstance_TypeFallbacks(t *testing.T) {
	thing := InstanceType{Name: "com.example.Thing", New: func() any { return &greeting{} }}
	sys := newTestSystem(t, func(o *SystemOptions) { o.InstanceTypes = []InstanceType{greetingType, thing} })
	root := sys.FileSystem().Root()

	byName := mkfile(t, root, "com-example-Thing.settings", "properties:\n  text: named\n")
	inst := find(t, sys, byName).(*InstanceDataObject)
	assert.Equal(t, "com.example.Thing", inst.TypeName())
	assert.False(t, inst.IsBroken())

	byAttr := mkfile(t, root, "whatever.instance", "")
	require.NoError(t, byAttr.SetAttribute(AttrInstanceType, "greeting"))
	inst = find(t, sys, byAttr).(*InstanceDataObject)
	assert.Equal(t, "greeting", inst.TypeName())
	v, err := inst.Instance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &greeting{}, v)
}

func TestInstance_BrokenUntilTypeRegistered(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()
	f, err := WriteInstanceFile(sys.FileSystem().Root(), "late", InstanceExt, "greeting", &greeting{Text: "x"})
	require.NoError(t, err)

	broken := find(t, sys, f).(*InstanceDataObject)
	assert.True(t, broken.IsBroken())
	_, ok := LookupCookie[InstanceCookie](broken)
	assert.False(t, ok)
	_, err = broken.Instance(ctx)
	assert.True(t, IsCode(err, ErrClassResolution), "got %v", err)

	require.NoError(t, sys.RegisterInstanceType(greetingType))
	assert.Error(t, sys.RegisterInstanceType(greetingType), "types register once")
	assert.False(t, broken.IsValid())

	require.Eventually(t, func() bool {
		inst, ok := sys.Pool().Find(f).(*InstanceDataObject)
		return ok && !inst.IsBroken()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestInstance_InvalidDescriptor(t *testing.T) {
	sys := newTestSystem(t, func(o *SystemOptions) { o.InstanceTypes = []InstanceType{greetingType} })
	f := mkfile(t, sys.FileSystem().Root(), "greeting.instance", "type: [unterminated")

	inst := find(t, sys, f).(*InstanceDataObject)
	assert.True(t, inst.IsBroken())
	_, err := inst.Instance(context.Background())
	assert.True(t, IsCode(err, ErrIO), "got %v", err)
}

func TestInstance_ExcludedPaths(t *testing.T) {
	sys := newTestSystem(t, func(o *SystemOptions) { o.ExcludedPaths = []string{"skip.instance"} })
	root := sys.FileSystem().Root()

	assert.Equal(t, DefaultLoaderName, find(t, sys, mkfile(t, root, "skip.instance", "")).Loader().Name())
	assert.Equal(t, InstanceLoaderName, find(t, sys, mkfile(t, root, "keep.instance", "")).Loader().Name())
}

func TestInstance_RegisterRequiresConstructor(t *testing.T) {
	sys := newTestSystem(t)
	assert.Error(t, sys.RegisterInstanceType(InstanceType{Name: "x"}))
	assert.Error(t, sys.RegisterInstanceType(InstanceType{New: func() any { return nil }}))
}

func TestActions_RoundTrip(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()
	l := NewExtensionLoader(LoaderInfo{Name: "img", ActionsContext: "images", Actions: []string{"open", "edit/crop", "open"}}, "png")
	require.NoError(t, sys.Loaders().Register(l))

	found, err := sys.LoadActions(ctx, l)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, sys.SaveActions(l).Wait(ctx))
	folder := sys.FileSystem().FindResource("/Loaders/images/Actions")
	require.NotNil(t, folder)
	assert.Equal(t, []string{"open.instance", "edit-crop.instance", "open_1.instance"}, sys.orders.get(folder).Explicit())

	l.SetActions(nil)
	found, err = sys.LoadActions(ctx, l)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"open", "edit/crop", "open"}, l.Actions())

	// saving again replaces the previous entries
	l.SetActions([]string{"print"})
	require.NoError(t, sys.SaveActions(l).Wait(ctx))
	l.SetActions(nil)
	_, err = sys.LoadActions(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, []string{"print"}, l.Actions())
	assert.Len(t, folder.Children(), 1)
}

func TestInstance_CreateFindRemove(t *testing.T) {
	sys := newTestSystem(t, func(o *SystemOptions) { o.InstanceTypes = []InstanceType{greetingType} })
	ctx := context.Background()
	root, err := sys.Root(ctx)
	require.NoError(t, err)

	byType, err := CreateInstance(ctx, root, "", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "greeting.instance", byType.PrimaryFile().NameExt())
	assert.Equal(t, "greeting", byType.TypeName())
	assert.False(t, byType.IsBroken())

	again, err := CreateInstance(ctx, root, "", "greeting")
	require.NoError(t, err)
	assert.Same(t, byType, again, "an existing instance is returned")

	named, err := CreateInstance(ctx, root, "Hello: World.", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "Hello#003A World#002E.instance", named.PrimaryFile().NameExt())
	assert.NotSame(t, byType, named)

	found, err := FindInstance(ctx, root, "Hello: World.", "greeting")
	require.NoError(t, err)
	assert.Same(t, named, found)

	found, err = FindInstance(ctx, root, "Hello: World.", "other")
	require.NoError(t, err)
	assert.Nil(t, found, "the type must match too")

	removed, err := RemoveInstance(root, "Hello: World.", "greeting")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, named.IsValid())

	found, err = FindInstance(ctx, root, "Hello: World.", "greeting")
	require.NoError(t, err)
	assert.Nil(t, found)

	removed, err = RemoveInstance(root, "Hello: World.", "greeting")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = CreateInstance(ctx, root, "x", "")
	assert.Error(t, err)
}

func TestInstance_LongNameIsShortened(t *testing.T) {
	sys := newTestSystem(t, func(o *SystemOptions) { o.InstanceTypes = []InstanceType{greetingType} })
	ctx := context.Background()
	root, err := sys.Root(ctx)
	require.NoError(t, err)

	long := strings.Repeat("very long settings name. ", 6)
	inst, err := CreateInstance(ctx, root, long, "greeting")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(inst.PrimaryFile().Name()), 50)

	found, err := FindInstance(ctx, root, long, "greeting")
	require.NoError(t, err)
	assert.Same(t, inst, found)
}

func TestEscapeInstanceName(t *testing.T) {
	tests := []struct {
		name    string
		escaped string
	}{
		{"plain-name_1", "plain-name_1"},
		{"a.b", "a#002Eb"},
		{"x/y\\z", "x#002Fy#005Cz"},
		{"one two", "one two"},
		{"one  two", "one#0020#0020two"},
		{" lead", "#0020lead"},
		{"a#b", "a#0023b"},
		{"<?*|>", "#003C#003F#002A#007C#003E"},
		{"é", "#00E9"},
		{"😀", "#D83D#DE00"},
		{"tab\t", "tab#0009"},
	}

	for _, tt := range tests {
		t.Run(tt.escaped, func(t *testing.T) {
			assert.Equal(t, tt.escaped, EscapeInstanceName(tt.name))
			assert.Equal(t, tt.name, UnescapeInstanceName(tt.escaped))
		})
	}

	assert.Equal(t, "ab", UnescapeInstanceName("ab#00"), "truncated escape ends the name")
	assert.Equal(t, "ab", UnescapeInstanceName("a#zzzzb"), "invalid escape is dropped")
}

func TestInstance_InstanceOf(t *testing.T) {
	sys := newTestSystem(t, func(o *SystemOptions) { o.InstanceTypes = []InstanceType{greetingType} })
	root := sys.FileSystem().Root()

	f, err := WriteInstanceFile(root, "hello", InstanceExt, "greeting", &greeting{Text: "hi"})
	require.NoError(t, err)
	inst := find(t, sys, f).(*InstanceDataObject)
	assert.True(t, inst.InstanceOf(reflect.TypeOf(&greeting{})))
	assert.False(t, inst.InstanceOf(reflect.TypeOf("")))

	f, err = WriteInstanceFile(root, "lost", InstanceExt, "missing", nil)
	require.NoError(t, err)
	broken := find(t, sys, f).(*InstanceDataObject)
	assert.False(t, broken.InstanceOf(reflect.TypeOf(&greeting{})))
	assert.True(t, broken.InstanceOf(reflect.TypeOf(broken)))
}

func TestInstance_CookieFollowsContent(t *testing.T) {
	sys := newTestSystem(t, func(o *SystemOptions) { o.InstanceTypes = []InstanceType{greetingType} })
	ctx := context.Background()
	f, err := WriteInstanceFile(sys.FileSystem().Root(), "hello", InstanceExt, "greeting", &greeting{Text: "hi"})
	require.NoError(t, err)
	inst := find(t, sys, f).(*InstanceDataObject)

	rewrite := func(content string) {
		t.Helper()
		lock, err := f.Lock()
		require.NoError(t, err)
		defer lock.Release()
		require.NoError(t, f.Write(lock, []byte(content)))
	}
	hasCookie := func() bool {
		_, ok := LookupCookie[InstanceCookie](inst)
		return ok
	}
	require.True(t, hasCookie())

	rewrite("type: missing\n")
	_, err = inst.Instance(ctx)
	assert.True(t, IsCode(err, ErrClassResolution), "got %v", err)
	assert.False(t, hasCookie())

	rewrite("type: greeting\nproperties:\n  text: back\n")
	v, err := inst.Instance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "back", v.(*greeting).Text)
	assert.True(t, hasCookie())
}
