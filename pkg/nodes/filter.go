package nodes

import (
	"sync"

	"github.com/marmos91/dittoloaders/pkg/loaders"
)

// Filter decides which objects of a folder get a node.
type Filter interface {
	Accept(obj loaders.DataObject) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(obj loaders.DataObject) bool

// Accept calls f(obj).
func (f FilterFunc) Accept(obj loaders.DataObject) bool { return f(obj) }

// ChangeableFilter is a filter whose verdicts may change over time.
// FolderChildren recreates every node when it fires.
type ChangeableFilter interface {
	Filter
	AddChangeListener(fn func()) (remove func())
}

// acceptAll is used when no filter is given.
var acceptAll = FilterFunc(func(loaders.DataObject) bool { return true })

// SwitchFilter is a ChangeableFilter delegating to a replaceable function.
type SwitchFilter struct {
	mu        sync.RWMutex
	fn        FilterFunc
	listeners map[uint64]func()
	nextID    uint64
}

// NewSwitchFilter creates a filter delegating to fn (nil accepts all).
func NewSwitchFilter(fn FilterFunc) *SwitchFilter {
	if fn == nil {
		fn = acceptAll
	}
	return &SwitchFilter{fn: fn, listeners: make(map[uint64]func())}
}

// Accept implements Filter.
func (s *SwitchFilter) Accept(obj loaders.DataObject) bool {
	s.mu.RLock()
	fn := s.fn
	s.mu.RUnlock()
	return fn(obj)
}

// Set replaces the predicate and notifies listeners.
func (s *SwitchFilter) Set(fn FilterFunc) {
	if fn == nil {
		fn = acceptAll
	}
	s.mu.Lock()
	s.fn = fn
	ls := make([]func(), 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.Unlock()

	for _, l := range ls {
		l()
	}
}

// AddChangeListener implements ChangeableFilter.
func (s *SwitchFilter) AddChangeListener(fn func()) (remove func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}
