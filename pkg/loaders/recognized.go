package loaders

import (
	"sync"

	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// RecognizedSet collects the files claimed during one top-level
// recognition pass, so that a secondary file already attached to an object
// is not re-examined as an unrelated primary file later in the same pass.
//
// A nil *RecognizedSet is valid and records nothing.
type RecognizedSet struct {
	mu    sync.Mutex
	files map[*vfs.File]struct{}
}

// NewRecognizedSet creates an empty set.
func NewRecognizedSet() *RecognizedSet {
	return &RecognizedSet{files: make(map[*vfs.File]struct{})}
}

// Add marks file as recognized.
func (s *RecognizedSet) Add(file *vfs.File) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.files[file] = struct{}{}
	s.mu.Unlock()
}

// Contains reports whether file was recognized in this pass.
func (s *RecognizedSet) Contains(file *vfs.File) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[file]
	return ok
}

// Len returns the number of recognized files.
func (s *RecognizedSet) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}
