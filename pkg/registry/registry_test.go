package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := New[int]("number")

	require.NoError(t, reg.Register("one", 1))
	require.NoError(t, reg.Register("two", 2))

	v, ok := reg.Get("two")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = reg.Get("three")
	assert.False(t, ok)

	assert.Error(t, reg.Register("one", 11), "duplicate names must be rejected")
	assert.Error(t, reg.Register("", 0), "empty names must be rejected")
	assert.Equal(t, []int{1, 2}, reg.Items())
}

func TestRegistry_ReplaceKeepsPosition(t *testing.T) {
	reg := New[string]("loader")
	require.NoError(t, reg.Register("a", "first"))
	require.NoError(t, reg.Register("b", "second"))

	reg.Replace("a", "replaced")
	reg.Replace("c", "appended")

	assert.Equal(t, []string{"a", "b", "c"}, reg.Names())
	assert.Equal(t, []string{"replaced", "second", "appended"}, reg.Items())
}

func TestRegistry_Unregister(t *testing.T) {
	reg := New[int]("number")
	require.NoError(t, reg.Register("a", 1))
	require.NoError(t, reg.Register("b", 2))

	assert.True(t, reg.Unregister("a"))
	assert.False(t, reg.Unregister("a"))
	assert.Equal(t, []string{"b"}, reg.Names())
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_Reorder(t *testing.T) {
	reg := New[int]("number")
	for i, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, reg.Register(name, i))
	}

	require.NoError(t, reg.Reorder([]string{"c", "a"}))
	assert.Equal(t, []string{"c", "a", "b", "d"}, reg.Names())

	assert.Error(t, reg.Reorder([]string{"x"}))
	assert.Error(t, reg.Reorder([]string{"b", "b"}))
	assert.Equal(t, []string{"c", "a", "b", "d"}, reg.Names(), "failed reorder must not change anything")
}
