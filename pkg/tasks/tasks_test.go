package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcessor(t *testing.T, workers int) *Processor {
	t.Helper()
	p := NewProcessor(t.Name(), workers)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func TestProcessor_PostRunsAndReportsError(t *testing.T) {
	p := newProcessor(t, 2)
	boom := errors.New("boom")

	var inTask atomic.Bool
	task := p.Post(func(ctx context.Context) error {
		inTask.Store(InTask(ctx))
		return boom
	})

	err := task.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, inTask.Load())
	assert.True(t, task.IsFinished())
	assert.False(t, InTask(context.Background()))
}

func TestProcessor_BoundsConcurrency(t *testing.T) {
	p := newProcessor(t, 2)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		p.Post(func(ctx context.Context) error {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestProcessor_PanicBecomesError(t *testing.T) {
	p := newProcessor(t, 1)
	task := p.Post(func(ctx context.Context) error {
		panic("bad loader")
	})
	err := task.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad loader")
}

func TestTask_ScheduleMovesStart(t *testing.T) {
	p := newProcessor(t, 1)

	var runs atomic.Int32
	task := p.Schedule(time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	task.Schedule(0)

	require.NoError(t, task.Wait(context.Background()))
	assert.Equal(t, int32(1), runs.Load())
}

func TestTask_ScheduleWhileRunningRunsAgain(t *testing.T) {
	p := newProcessor(t, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	task := p.Post(func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	})

	<-started
	task.Schedule(0)
	close(release)

	require.NoError(t, task.Wait(context.Background()))
	assert.Equal(t, int32(2), runs.Load())
}

func TestTask_ScheduleAfterFinish(t *testing.T) {
	p := newProcessor(t, 1)

	var runs atomic.Int32
	task := p.Post(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, task.Wait(context.Background()))

	task.Schedule(0)
	require.NoError(t, task.Wait(context.Background()))
	assert.Equal(t, int32(2), runs.Load())
}

func TestTask_WaitFor(t *testing.T) {
	p := newProcessor(t, 1)
	release := make(chan struct{})
	task := p.Post(func(ctx context.Context) error {
		<-release
		return nil
	})

	assert.False(t, task.WaitFor(20*time.Millisecond))
	close(release)
	assert.True(t, task.WaitFor(5*time.Second))
}

func TestSequencer_FIFO(t *testing.T) {
	p := newProcessor(t, 4)
	seq := NewSequencer(p)

	var mu sync.Mutex
	var order []int
	var active atomic.Int32
	for i := 0; i < 20; i++ {
		i := i
		seq.Post(func(ctx context.Context) error {
			assert.Equal(t, int32(1), active.Add(1), "sequenced tasks must not overlap")
			// earlier tasks sleep longer so racing workers would reorder
			time.Sleep(time.Duration(20-i) * time.Millisecond / 4)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			active.Add(-1)
			return nil
		})
	}

	require.NoError(t, seq.Flush(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 20)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestFuture_Get(t *testing.T) {
	p := newProcessor(t, 1)
	f := Submit(p, func(ctx context.Context) (string, error) {
		return "resolved", nil
	})
	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "resolved", v)
}

func TestWaitBounded_TimesOut(t *testing.T) {
	p := newProcessor(t, 1)
	release := make(chan struct{})
	defer close(release)
	task := p.Post(func(ctx context.Context) error {
		<-release
		return nil
	})

	assert.False(t, WaitBounded(context.Background(), task, 20*time.Millisecond, "slow task"))
	assert.True(t, WaitBounded(context.Background(), nil, time.Millisecond, "nothing"))
}

func TestProcessor_ShutdownCancelsWaiting(t *testing.T) {
	p := NewProcessor("shutdown", 1)

	delayed := p.Schedule(time.Hour, func(ctx context.Context) error { return nil })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	assert.ErrorIs(t, delayed.Err(), ErrShutdown)
	after := p.Post(func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, after.Wait(context.Background()), ErrShutdown)
}
