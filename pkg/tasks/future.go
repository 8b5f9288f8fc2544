package tasks

import "context"

// Future is the typed result of a task.
type Future[T any] struct {
	task  *Task
	value T
}

// Submit runs fn on p and returns its future result.
func Submit[T any](p *Processor, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{}
	f.task = p.Post(func(ctx context.Context) error {
		v, err := fn(ctx)
		f.value = v
		return err
	})
	return f
}

// Task returns the underlying task.
func (f *Future[T]) Task() *Task {
	return f.task
}

// Get waits for the result.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	if err := f.task.Wait(ctx); err != nil {
		var zero T
		return zero, err
	}
	return f.value, nil
}
