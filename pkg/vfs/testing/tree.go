package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *AttributeStoreSuite) RunTreeTests(test *testing.T) {
	test.Run("Delete_Subtree", suite.TestDelete_Subtree)
	test.Run("Rename_Subtree", suite.TestRename_Subtree)
	test.Run("Copy_Subtree", suite.TestCopy_Subtree)
	test.Run("Paths", suite.TestPaths)
}

func seedTree(t *testing.T, ctx context.Context, set func(path, name string, v any) error) {
	t.Helper()
	require.NoError(t, set("/src", "order", "a.txt/b.txt"))
	require.NoError(t, set("/src/a.txt", "template", true))
	require.NoError(t, set("/src/deep/x.txt", "loader", "text"))
	require.NoError(t, set("/srcx", "order", "sibling"))
}

// TestDelete_Subtree verifies Delete covers descendants but not siblings
// sharing a name prefix.
func (suite *AttributeStoreSuite) TestDelete_Subtree(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()
	seedTree(test, ctx, func(p, n string, v any) error { return store.Set(ctx, p, n, v) })

	require.NoError(test, store.Delete(ctx, "/src"))

	for _, p := range []string{"/src", "/src/a.txt", "/src/deep/x.txt"} {
		attrs, err := store.List(ctx, p)
		require.NoError(test, err)
		assert.Empty(test, attrs, p)
	}
	v, ok, err := store.Get(ctx, "/srcx", "order")
	require.NoError(test, err)
	require.True(test, ok)
	assert.Equal(test, "sibling", v)
}

func (suite *AttributeStoreSuite) TestRename_Subtree(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()
	seedTree(test, ctx, func(p, n string, v any) error { return store.Set(ctx, p, n, v) })

	require.NoError(test, store.Rename(ctx, "/src", "/lib"))

	v, ok, err := store.Get(ctx, "/lib/deep/x.txt", "loader")
	require.NoError(test, err)
	require.True(test, ok)
	assert.Equal(test, "text", v)

	v, ok, err = store.Get(ctx, "/lib", "order")
	require.NoError(test, err)
	require.True(test, ok)
	assert.Equal(test, "a.txt/b.txt", v)

	_, ok, err = store.Get(ctx, "/src/a.txt", "template")
	require.NoError(test, err)
	assert.False(test, ok)

	_, ok, err = store.Get(ctx, "/srcx", "order")
	require.NoError(test, err)
	assert.True(test, ok, "sibling must not move")
}

func (suite *AttributeStoreSuite) TestCopy_Subtree(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()
	seedTree(test, ctx, func(p, n string, v any) error { return store.Set(ctx, p, n, v) })

	require.NoError(test, store.Copy(ctx, "/src", "/copy"))

	for _, p := range []string{"/src/a.txt", "/copy/a.txt"} {
		v, ok, err := store.Get(ctx, p, "template")
		require.NoError(test, err)
		require.True(test, ok, p)
		assert.Equal(test, true, v)
	}

	// copies are independent
	require.NoError(test, store.Set(ctx, "/copy/a.txt", "template", false))
	v, _, err := store.Get(ctx, "/src/a.txt", "template")
	require.NoError(test, err)
	assert.Equal(test, true, v)
}

func (suite *AttributeStoreSuite) TestPaths(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()
	seedTree(test, ctx, func(p, n string, v any) error { return store.Set(ctx, p, n, v) })

	paths, err := store.Paths(ctx)
	require.NoError(test, err)
	assert.Equal(test, []string{"/src", "/src/a.txt", "/src/deep/x.txt", "/srcx"}, paths)
}
