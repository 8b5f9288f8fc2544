package tasks

import (
	"context"
	"time"

	"github.com/marmos91/dittoloaders/internal/logger"
	"golang.org/x/time/rate"
)

// blocked throttles "waited too long" warnings so that a stuck queue does
// not flood the log.
var blocked = rate.Sometimes{First: 3, Interval: 10 * time.Second}

// WaitBounded waits for t at most limit. It returns false, logging a
// throttled warning, when the limit expires first. limit <= 0 waits until
// ctx is done.
func WaitBounded(ctx context.Context, t *Task, limit time.Duration, what string) bool {
	if t == nil {
		return true
	}
	return WaitChan(ctx, t.Done(), limit, what)
}

// WaitChan is WaitBounded for an arbitrary completion channel.
func WaitChan(ctx context.Context, done <-chan struct{}, limit time.Duration, what string) bool {
	if limit <= 0 {
		select {
		case <-done:
			return true
		case <-ctx.Done():
			return false
		}
	}

	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		blocked.Do(func() {
			logger.Warn("blocked for more than %s waiting for %s, giving up", limit, what)
		})
		return false
	}
}
