package loaders

import (
	"slices"
	"sync"
)

// CookieSet is the set of capabilities an object exposes. Cookies are
// compared by identity and should be pointers.
type CookieSet struct {
	mu       sync.Mutex
	cookies  []any
	onChange func()
}

func newCookieSet(onChange func()) *CookieSet {
	return &CookieSet{onChange: onChange}
}

// Add inserts cookie unless it is already present.
func (c *CookieSet) Add(cookie any) {
	c.mu.Lock()
	if slices.Contains(c.cookies, cookie) {
		c.mu.Unlock()
		return
	}
	c.cookies = append(c.cookies, cookie)
	c.mu.Unlock()
	c.changed()
}

// Remove deletes cookie and reports whether it was present.
func (c *CookieSet) Remove(cookie any) bool {
	c.mu.Lock()
	i := slices.Index(c.cookies, cookie)
	if i < 0 {
		c.mu.Unlock()
		return false
	}
	c.cookies = slices.Delete(c.cookies, i, i+1)
	c.mu.Unlock()
	c.changed()
	return true
}

// All returns the cookies in insertion order.
func (c *CookieSet) All() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.cookies)
}

func (c *CookieSet) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

// LookupCookie returns the first cookie of obj assignable to T.
func LookupCookie[T any](obj DataObject) (T, bool) {
	var zero T
	if obj == nil {
		return zero, false
	}
	for _, c := range obj.Cookies().All() {
		if v, ok := c.(T); ok {
			return v, true
		}
	}
	return zero, false
}

// EditorSupport edits the content of a text primary file in memory.
// Changing the text marks the object modified; Save writes it back and
// clears the mark.
type EditorSupport struct {
	obj *MultiDataObject

	mu     sync.Mutex
	text   string
	loaded bool
}

// Text returns the current text, loading it from the file on first use.
func (s *EditorSupport) Text() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return "", err
	}
	return s.text, nil
}

func (s *EditorSupport) loadLocked() error {
	if s.loaded {
		return nil
	}
	data, err := s.obj.PrimaryFile().Read()
	if err != nil {
		return err
	}
	s.text = string(data)
	s.loaded = true
	return nil
}

// SetText replaces the text and marks the object modified.
func (s *EditorSupport) SetText(text string) error {
	if err := s.obj.checkValid(); err != nil {
		return err
	}
	s.mu.Lock()
	s.text = text
	s.loaded = true
	s.mu.Unlock()
	s.obj.SetModified(true)
	return nil
}

// Save writes the text to the primary file.
func (s *EditorSupport) Save() error {
	if err := s.obj.checkValid(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return nil
	}
	data := []byte(s.text)
	s.mu.Unlock()

	if err := s.obj.PrimaryEntry().Write(data); err != nil {
		return err
	}
	s.obj.SetModified(false)
	return nil
}

// Revert drops unsaved text.
func (s *EditorSupport) Revert() {
	s.mu.Lock()
	s.loaded = false
	s.text = ""
	s.mu.Unlock()
	s.obj.SetModified(false)
}
