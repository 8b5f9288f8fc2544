// Package registry provides a thread-safe, ordered registry of named items.
//
// It backs the module loader list of the loader pool (where registration
// order is recognition order) and the table of instance types that
// descriptor files may name.
//
// Example usage:
//
//	reg := registry.New[loaders.Loader]("loader")
//	reg.Register("java", javaLoader)
//	reg.Register("form", formLoader)
//	reg.Reorder([]string{"form", "java"})
//
//	l, ok := reg.Get("form")
package registry

import (
	"fmt"
	"slices"
	"sync"
)

// Registry manages named items in registration order.
type Registry[T any] struct {
	kind string

	mu    sync.RWMutex
	items map[string]T
	order []string
}

// New creates an empty registry. kind names the items in error messages.
func New[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:  kind,
		items: make(map[string]T),
	}
}

// Register appends a named item.
// Returns an error if the name is empty or already registered.
func (r *Registry[T]) Register(name string, item T) error {
	if name == "" {
		return fmt.Errorf("cannot register %s with empty name", r.kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; exists {
		return fmt.Errorf("%s %q already registered", r.kind, name)
	}

	r.items[name] = item
	r.order = append(r.order, name)
	return nil
}

// Replace registers item under name, keeping the position of a previous
// registration if there was one.
func (r *Registry[T]) Replace(name string, item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; !exists {
		r.order = append(r.order, name)
	}
	r.items[name] = item
}

// Unregister removes a named item and reports whether it was present.
func (r *Registry[T]) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; !exists {
		return false
	}
	delete(r.items, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	return true
}

// Get returns the item registered under name.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[name]
	return item, ok
}

// Names returns the registered names in order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Items returns the registered items in order.
func (r *Registry[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.items[name])
	}
	return out
}

// Len returns the number of registered items.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Reorder moves the named items to the front in the given order. Names
// not mentioned keep their relative order after them.
// Returns an error if a name is unknown or repeated.
func (r *Registry[T]) Reorder(names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if _, exists := r.items[name]; !exists {
			return fmt.Errorf("%s %q not registered", r.kind, name)
		}
		if seen[name] {
			return fmt.Errorf("%s %q listed twice", r.kind, name)
		}
		seen[name] = true
	}

	order := slices.Clone(names)
	for _, name := range r.order {
		if !seen[name] {
			order = append(order, name)
		}
	}
	r.order = order
	return nil
}
