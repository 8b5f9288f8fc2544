package testing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *AttributeStoreSuite) RunValueTests(test *testing.T) {
	test.Run("SetGet_AllTypes", suite.TestSetGet_AllTypes)
	test.Run("Get_Missing", suite.TestGet_Missing)
	test.Run("Set_NilRemoves", suite.TestSet_NilRemoves)
	test.Run("Set_UnsupportedType", suite.TestSet_UnsupportedType)
	test.Run("List", suite.TestList)
	test.Run("Values_AreCopies", suite.TestValues_AreCopies)
}

// TestSetGet_AllTypes verifies every supported value type survives a round trip.
func (suite *AttributeStoreSuite) TestSetGet_AllTypes(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	stamp := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	tests := []struct {
		name  string
		value any
		want  any
	}{
		{name: "string", value: "a.txt/b.txt", want: "a.txt/b.txt"},
		{name: "bool", value: true, want: true},
		{name: "int64", value: int64(42), want: int64(42)},
		{name: "int_widened", value: 7, want: int64(7)},
		{name: "list", value: []string{"x", "y"}, want: []string{"x", "y"}},
		{name: "table", value: [][]string{{"a", "b"}, {"txt", ""}}, want: [][]string{{"a", "b"}, {"txt", ""}}},
	}

	for _, tt := range tests {
		test.Run(tt.name, func(t *testing.T) {
			require.NoError(t, store.Set(ctx, "/folder", tt.name, tt.value))
			got, ok, err := store.Get(ctx, "/folder", tt.name)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	require.NoError(test, store.Set(ctx, "/folder", "stamp", stamp))
	got, ok, err := store.Get(ctx, "/folder", "stamp")
	require.NoError(test, err)
	require.True(test, ok)
	gotTime, isTime := got.(time.Time)
	require.True(test, isTime)
	assert.True(test, stamp.Equal(gotTime))
}

func (suite *AttributeStoreSuite) TestGet_Missing(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()

	v, ok, err := store.Get(context.Background(), "/nope", "attr")
	require.NoError(test, err)
	assert.False(test, ok)
	assert.Nil(test, v)
}

func (suite *AttributeStoreSuite) TestSet_NilRemoves(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(test, store.Set(ctx, "/f", "a", "1"))
	require.NoError(test, store.Set(ctx, "/f", "a", nil))

	_, ok, err := store.Get(ctx, "/f", "a")
	require.NoError(test, err)
	assert.False(test, ok)

	// removing a missing attribute is not an error
	require.NoError(test, store.Set(ctx, "/f", "never", nil))
}

func (suite *AttributeStoreSuite) TestSet_UnsupportedType(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()

	err := store.Set(context.Background(), "/f", "a", struct{}{})
	assert.Error(test, err)
}

func (suite *AttributeStoreSuite) TestList(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(test, store.Set(ctx, "/f", "a", "1"))
	require.NoError(test, store.Set(ctx, "/f", "b", true))
	require.NoError(test, store.Set(ctx, "/f/child", "c", "x"))
	require.NoError(test, store.Set(ctx, "/fx", "d", "y"))

	attrs, err := store.List(ctx, "/f")
	require.NoError(test, err)
	assert.Equal(test, map[string]any{"a": "1", "b": true}, attrs)

	empty, err := store.List(ctx, "/none")
	require.NoError(test, err)
	assert.Empty(test, empty)
}

func (suite *AttributeStoreSuite) TestValues_AreCopies(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	list := []string{"a", "b"}
	require.NoError(test, store.Set(ctx, "/f", "order", list))
	list[0] = "mutated"

	got, _, err := store.Get(ctx, "/f", "order")
	require.NoError(test, err)
	assert.Equal(test, []string{"a", "b"}, got)
}
