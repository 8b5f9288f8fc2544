// Package memory provides an in-memory vfs.AttributeStore.
//
// Attributes are lost when the process exits. This store is the default for
// in-memory filesystems and for tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// MemoryAttributeStore keeps attributes in a map of maps.
//
// Thread safety:
// All methods take the store mutex; values are copied on the way in and on
// the way out so callers never share slices with the store.
type MemoryAttributeStore struct {
	mu    sync.RWMutex
	attrs map[string]map[string]any
}

// NewMemoryAttributeStore creates an empty store.
func NewMemoryAttributeStore() *MemoryAttributeStore {
	return &MemoryAttributeStore{attrs: make(map[string]map[string]any)}
}

func copyValue(v any) any {
	out, err := vfs.NormalizeValue(v)
	if err != nil {
		return v
	}
	return out
}

func (s *MemoryAttributeStore) Get(ctx context.Context, path, name string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.attrs[path][name]
	if !ok {
		return nil, false, nil
	}
	return copyValue(v), true, nil
}

func (s *MemoryAttributeStore) Set(ctx context.Context, path, name string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := vfs.NormalizeValue(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v == nil {
		if m, ok := s.attrs[path]; ok {
			delete(m, name)
			if len(m) == 0 {
				delete(s.attrs, path)
			}
		}
		return nil
	}
	m, ok := s.attrs[path]
	if !ok {
		m = make(map[string]any)
		s.attrs[path] = m
	}
	m[name] = v
	return nil
}

func (s *MemoryAttributeStore) List(ctx context.Context, path string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.attrs[path]))
	for k, v := range s.attrs[path] {
		out[k] = copyValue(v)
	}
	return out, nil
}

func (s *MemoryAttributeStore) Paths(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.attrs))
	for p := range s.attrs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryAttributeStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for p := range s.attrs {
		if vfs.IsWithin(p, path) {
			delete(s.attrs, p)
		}
	}
	return nil
}

func (s *MemoryAttributeStore) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	moved := make(map[string]map[string]any)
	for p, m := range s.attrs {
		if vfs.IsWithin(p, oldPath) {
			moved[vfs.Rebase(p, oldPath, newPath)] = m
			delete(s.attrs, p)
		}
	}
	for p, m := range moved {
		s.attrs[p] = m
	}
	return nil
}

func (s *MemoryAttributeStore) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make(map[string]map[string]any)
	for p, m := range s.attrs {
		if !vfs.IsWithin(p, src) {
			continue
		}
		c := make(map[string]any, len(m))
		for k, v := range m {
			c[k] = copyValue(v)
		}
		copied[vfs.Rebase(p, src, dst)] = c
	}
	for p, m := range copied {
		s.attrs[p] = m
	}
	return nil
}

func (s *MemoryAttributeStore) Close() error {
	return nil
}
