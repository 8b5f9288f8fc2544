package tasks

import (
	"context"
	"sync"
)

// Sequencer chains tasks on a processor so that each one starts only after
// the previously posted one finished. Tasks of one sequencer never overlap
// and run in submission order.
type Sequencer struct {
	p    *Processor
	mu   sync.Mutex
	last *Task
}

// NewSequencer creates a sequencer running on p.
func NewSequencer(p *Processor) *Sequencer {
	return &Sequencer{p: p}
}

// Post appends fn to the chain.
func (s *Sequencer) Post(fn Func) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.p.Create(fn)
	t.after = s.last
	s.last = t
	t.Schedule(0)
	return t
}

// Last returns the most recently posted task, or nil.
func (s *Sequencer) Last() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Flush waits until every task posted so far has finished.
func (s *Sequencer) Flush(ctx context.Context) error {
	last := s.Last()
	if last == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-last.Done():
		return nil
	}
}
