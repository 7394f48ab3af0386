package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackgroundOutlivesCallerContext(t *testing.T) {
	b := NewBackground(time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	var sawCancel atomic.Bool
	started := make(chan struct{})
	require.True(t, b.Go(ctx, "persist", func(taskCtx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		sawCancel.Store(taskCtx.Err() != nil)
		return nil
	}))
	<-started
	cancel()

	require.NoError(t, b.Wait(context.Background()))
	assert.False(t, sawCancel.Load())
}

func TestBackgroundTimeoutBoundsTask(t *testing.T) {
	b := NewBackground(10 * time.Millisecond)
	var got atomic.Value
	b.Go(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		got.Store(ctx.Err())
		return ctx.Err()
	})
	require.NoError(t, b.Wait(context.Background()))
	assert.ErrorIs(t, got.Load().(error), context.DeadlineExceeded)
}

func TestBackgroundFailureIsSwallowed(t *testing.T) {
	b := NewBackground(time.Second)
	assert.True(t, b.Go(context.Background(), "notify", func(context.Context) error { return errors.New("down") }))
	assert.NoError(t, b.Wait(context.Background()))
}

func TestBackgroundRejectsAfterWait(t *testing.T) {
	b := NewBackground(time.Second)
	require.NoError(t, b.Wait(context.Background()))
	assert.False(t, b.Go(context.Background(), "late", func(context.Context) error { return nil }))
}

func TestBackgroundWaitHonorsDeadline(t *testing.T) {
	b := NewBackground(time.Second)
	release := make(chan struct{})
	b.Go(context.Background(), "stuck", func(context.Context) error {
		<-release
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Wait(ctx), context.DeadlineExceeded)
	close(release)
}
