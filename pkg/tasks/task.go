// Package tasks runs work off the caller's goroutine: a bounded Processor,
// restartable Tasks, FIFO Sequencers and typed Futures.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittoloaders/internal/logger"
)

// ErrShutdown is the result of tasks that never ran because their processor
// was shut down.
var ErrShutdown = errors.New("processor shut down")

// Func is the body of a task. ctx is cancelled when the processor shuts down
// and reports InTask(ctx) == true.
type Func func(ctx context.Context) error

type state int

const (
	stateIdle state = iota
	stateScheduled
	stateQueued
	stateRunning
	stateFinished
)

// Task is one unit of work bound to a Processor. A task can be scheduled
// again after it finished, or rescheduled while it waits; a reschedule
// requested while it runs makes it run once more afterwards.
type Task struct {
	p     *Processor
	fn    Func
	after *Task

	mu         sync.Mutex
	st         state
	timer      *time.Timer
	done       chan struct{}
	err        error
	rerun      bool
	rerunDelay time.Duration
}

// Done returns a channel closed when the current run finishes.
func (t *Task) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Err returns the result of the last finished run.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// IsFinished reports whether the task has run and is not scheduled again.
func (t *Task) IsFinished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st == stateFinished
}

// Wait blocks until the task finished (including any rerun requested in
// the meantime) or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		done, st := t.done, t.st
		t.mu.Unlock()
		if st == stateIdle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}

		t.mu.Lock()
		again := t.done != done
		err := t.err
		t.mu.Unlock()
		if !again {
			return err
		}
	}
}

// WaitFor waits at most d and reports whether the task finished.
func (t *Task) WaitFor(d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return t.Wait(ctx) == nil || t.IsFinished()
}

// Schedule starts the task after delay. On a waiting task it moves the
// start; on a running one it requests another run once this one ends.
func (t *Task) Schedule(delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.st {
	case stateScheduled:
		if t.timer.Stop() {
			t.timer = time.AfterFunc(delay, t.fire)
			return
		}
		t.rerun, t.rerunDelay = true, delay
	case stateQueued, stateRunning:
		t.rerun, t.rerunDelay = true, delay
	default:
		t.armLocked(delay)
	}
}

func (t *Task) armLocked(delay time.Duration) {
	if !t.p.track(t) {
		t.st = stateFinished
		t.err = ErrShutdown
		select {
		case <-t.done:
		default:
			close(t.done)
		}
		return
	}
	if t.st == stateFinished {
		t.done = make(chan struct{})
	}
	t.st = stateScheduled
	t.timer = time.AfterFunc(delay, t.fire)
}

func (t *Task) fire() {
	t.mu.Lock()
	if t.st != stateScheduled {
		t.mu.Unlock()
		return
	}
	t.st = stateQueued
	after := t.after
	t.mu.Unlock()

	go t.run(after)
}

func (t *Task) run(after *Task) {
	p := t.p
	if after != nil {
		select {
		case <-after.Done():
		case <-p.ctx.Done():
		}
		t.mu.Lock()
		t.after = nil
		t.mu.Unlock()
	}

	if p.ctx.Err() != nil {
		t.finish(ErrShutdown)
		return
	}
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		t.finish(ErrShutdown)
		return
	}
	t.mu.Lock()
	t.st = stateRunning
	t.mu.Unlock()

	err := t.call(withTask(p.ctx, p.name))
	p.sem.Release(1)
	t.finish(err)
}

func (t *Task) call(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task on %s panicked: %v", t.p.name, r)
			logger.Error("%v", err)
		}
	}()
	return t.fn(ctx)
}

func (t *Task) finish(err error) {
	t.mu.Lock()
	t.err = err
	t.st = stateFinished
	close(t.done)
	rerun, delay := t.rerun, t.rerunDelay
	t.rerun = false
	if rerun && err != ErrShutdown {
		t.armLocked(delay)
	}
	t.mu.Unlock()

	t.p.untrack(t)
}
