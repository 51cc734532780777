package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeGo_RunsAndRecovers(t *testing.T) {
	done := make(chan struct{})
	SafeGo(context.Background(), time.Second, "ok", func(ctx context.Context) error {
		close(done)
		return errors.New("logged, not returned")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SafeGo did not run the task")
	}

	recovered := make(chan struct{})
	SafeGo(context.Background(), time.Second, "panics", func(ctx context.Context) error {
		defer close(recovered)
		panic("boom")
	})
	<-recovered
}

func TestSafeGo_Timeout(t *testing.T) {
	cancelled := make(chan error, 1)
	SafeGo(context.Background(), 20*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		cancelled <- ctx.Err()
		return ctx.Err()
	})
	select {
	case err := <-cancelled:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("task context never expired")
	}
}

func TestWorkerPool_ProcessesAll(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 3, 10, "test", time.Second)
	var count atomic.Int32
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			count.Add(1)
			return nil
		}))
	}
	require.NoError(t, pool.Shutdown(time.Second))
	assert.Equal(t, int32(20), count.Load())

	assert.ErrorIs(t, pool.Submit(func(context.Context) error { return nil }), ErrPoolClosed)
	assert.ErrorIs(t, pool.TrySubmit(func(context.Context) error { return nil }), ErrPoolClosed)
	assert.NoError(t, pool.Shutdown(time.Second), "second shutdown is a no-op")
}

func TestWorkerPool_ErrorsAndPanics(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 4, "test", time.Second)
	require.NoError(t, pool.Submit(func(ctx context.Context) error { return errors.New("task failed") }))
	require.NoError(t, pool.Submit(func(ctx context.Context) error { panic("kaboom") }))
	require.NoError(t, pool.Shutdown(time.Second))

	var msgs []string
	for i := 0; i < 2; i++ {
		select {
		case err := <-pool.Errors():
			msgs = append(msgs, err.Error())
		case <-time.After(time.Second):
			t.Fatal("missing error")
		}
	}
	assert.ElementsMatch(t, []string{"task failed", "panic: kaboom"}, msgs)
}

func TestWorkerPool_TrySubmitQueueFull(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 1, "test", time.Second)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, pool.TrySubmit(func(ctx context.Context) error { return nil }))
	assert.Equal(t, 1, pool.QueueDepth())
	assert.ErrorIs(t, pool.TrySubmit(func(ctx context.Context) error { return nil }), ErrQueueFull)

	close(release)
	require.NoError(t, pool.Shutdown(time.Second))
}

func TestWorkerPool_ShutdownTimeout(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 1, "test", time.Minute)
	started := make(chan struct{})
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started
	err := pool.Shutdown(20 * time.Millisecond)
	assert.ErrorContains(t, err, "timed out")
}

func TestBatch(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6}
	var sum atomic.Int64
	errs := Batch(context.Background(), items, 2, time.Second, func(ctx context.Context, n int) error {
		sum.Add(int64(n))
		if n%3 == 0 {
			return errors.New("multiple of three")
		}
		if n == 5 {
			panic("five")
		}
		return nil
	})
	assert.Equal(t, int64(21), sum.Load())
	assert.Len(t, errs, 3)
}
