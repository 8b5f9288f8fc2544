package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/dittoloaders/internal/logger"
	"golang.org/x/sync/semaphore"
)

// Processor executes tasks on background goroutines, at most `workers` at a
// time.
type Processor struct {
	name   string
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	pending map[*Task]int
	wg      sync.WaitGroup
}

// NewProcessor creates a processor. workers < 1 is treated as 1.
func NewProcessor(name string, workers int) *Processor {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		name:    name,
		sem:     semaphore.NewWeighted(int64(workers)),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[*Task]int),
	}
}

// Name returns the processor name used in log messages.
func (p *Processor) Name() string {
	return p.name
}

// Create returns a task that does not run until scheduled.
func (p *Processor) Create(fn Func) *Task {
	return &Task{p: p, fn: fn, done: make(chan struct{})}
}

// Post runs fn as soon as a worker is free.
func (p *Processor) Post(fn Func) *Task {
	return p.Schedule(0, fn)
}

// Schedule runs fn after delay.
func (p *Processor) Schedule(delay time.Duration, fn Func) *Task {
	t := p.Create(fn)
	t.Schedule(delay)
	return t
}

// Shutdown cancels waiting tasks, signals running ones through their
// context and waits for them to return or for ctx to expire.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	waiting := make([]*Task, 0, len(p.pending))
	for t := range p.pending {
		waiting = append(waiting, t)
	}
	p.mu.Unlock()

	for _, t := range waiting {
		t.mu.Lock()
		stopped := t.st == stateScheduled && t.timer.Stop()
		t.rerun = false
		t.mu.Unlock()
		if stopped {
			t.finish(ErrShutdown)
		}
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Debug("processor %s stopped", p.name)
		return nil
	case <-ctx.Done():
		logger.Warn("processor %s: shutdown timed out with tasks still running", p.name)
		return ctx.Err()
	}
}

// track registers an armed task; it fails after shutdown.
func (p *Processor) track(t *Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if p.pending[t] == 0 {
		p.wg.Add(1)
	}
	p.pending[t]++
	return true
}

func (p *Processor) untrack(t *Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.pending[t]
	if !ok {
		return
	}
	if n <= 1 {
		delete(p.pending, t)
		p.wg.Done()
		return
	}
	p.pending[t] = n - 1
}

type taskKey struct{}

func withTask(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, taskKey{}, name)
}

// InTask reports whether ctx belongs to a task running on a Processor.
func InTask(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	_, ok := ctx.Value(taskKey{}).(string)
	return ok
}
