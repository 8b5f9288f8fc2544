package testing

import (
	"testing"

	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// AttributeStoreSuite is a conformance suite for vfs.AttributeStore
// implementations. It tests the interface contract only, so every store
// (memory, badger, ...) runs the same cases.
type AttributeStoreSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func() vfs.AttributeStore
}

// Run executes all tests in the suite.
func (suite *AttributeStoreSuite) Run(test *testing.T) {
	test.Run("Values", suite.RunValueTests)
	test.Run("Tree", suite.RunTreeTests)
	test.Run("FileSystem", suite.RunFileSystemTests)
}
