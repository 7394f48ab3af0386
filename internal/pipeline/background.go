package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hubenschmidt/voice-relay/internal/metrics"
)

// Task is a side effect run after a reply is known.
type Task func(ctx context.Context) error

// Background runs detached side-effect tasks. Callers never observe a
// task's outcome: failures are logged and counted only. Tasks keep running
// after the submitting connection goes away.
type Background struct {
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewBackground creates a runner that bounds every task by timeout.
func NewBackground(timeout time.Duration) *Background {
	return &Background{timeout: timeout}
}

// Go starts task detached from ctx's cancellation but keeping its values.
// It reports false when the runner is already shutting down.
func (b *Background) Go(ctx context.Context, name string, task Task) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		slog.Warn("background task dropped after shutdown", "task", name)
		metrics.BackgroundTasks.WithLabelValues(name, "dropped").Inc()
		return false
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()

		start := time.Now()
		if err := task(runCtx); err != nil {
			slog.Warn("background task failed", "task", name, "error", err, "elapsed", time.Since(start))
			metrics.BackgroundTasks.WithLabelValues(name, "error").Inc()
			return
		}
		metrics.BackgroundTasks.WithLabelValues(name, "ok").Inc()
	}()
	return true
}

// Wait stops accepting tasks and blocks until in-flight ones finish or ctx ends.
func (b *Background) Wait(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
