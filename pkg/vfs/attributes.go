package vfs

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AttributeStore persists typed per-file attributes keyed by virtual path.
//
// The filesystem keeps attributes in step with the file tree: renames and
// moves call Rename, deletes call Delete and copies call Copy, each covering
// the whole subtree below the given path.
//
// Supported value types are string, bool, int64, []string, [][]string and
// time.Time (see NormalizeValue). Implementations must return values of
// exactly those types.
//
// Thread safety:
// Implementations must be safe for concurrent use.
type AttributeStore interface {
	// Get returns the value of one attribute. The bool is false when the
	// attribute is not set.
	Get(ctx context.Context, path, name string) (any, bool, error)

	// Set stores a value. A nil value removes the attribute.
	Set(ctx context.Context, path, name string, value any) error

	// List returns all attributes of one path.
	List(ctx context.Context, path string) (map[string]any, error)

	// Paths returns every path that carries at least one attribute.
	Paths(ctx context.Context) ([]string, error)

	// Delete removes the attributes of path and of all its descendants.
	Delete(ctx context.Context, path string) error

	// Rename re-keys the attributes of oldPath and its descendants.
	Rename(ctx context.Context, oldPath, newPath string) error

	// Copy duplicates the attributes of src and its descendants under dst.
	Copy(ctx context.Context, src, dst string) error

	// Close releases backend resources.
	Close() error
}

// NormalizeValue converts an attribute value into one of the supported
// types. Integer kinds widen to int64 and []any of strings become []string.
func NormalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string, bool, int64, time.Time:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case []string:
		return append([]string(nil), x...), nil
	case [][]string:
		out := make([][]string, len(x))
		for i, row := range x {
			out[i] = append([]string(nil), row...)
		}
		return out, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, newError(ErrInvalidAttribute, "", fmt.Errorf("list element of type %T", e))
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, newError(ErrInvalidAttribute, "", fmt.Errorf("unsupported type %T", v))
	}
}

// IsWithin reports whether p equals root or lies below it.
func IsWithin(p, root string) bool {
	if root == "/" {
		return strings.HasPrefix(p, "/")
	}
	return p == root || strings.HasPrefix(p, root+"/")
}

// Rebase moves p from below oldRoot to below newRoot. p must satisfy
// IsWithin(p, oldRoot).
func Rebase(p, oldRoot, newRoot string) string {
	if p == oldRoot {
		return newRoot
	}
	rest := strings.TrimPrefix(p, oldRoot)
	if newRoot == "/" {
		return rest
	}
	return newRoot + rest
}
