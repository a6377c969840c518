package preload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestQueueConcurrencyCeiling tests three tasks of differing delays under a limit of 2
func TestQueueConcurrencyCeiling(t *testing.T) {
	q := NewQueue(2)
	defer q.Close()

	var current, peak atomic.Int32
	delays := []time.Duration{30 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}

	futures := make([]*Future[int], len(delays))
	for i, d := range delays {
		futures[i] = Enqueue(q, func(ctx context.Context) (int, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(d)
			current.Add(-1)
			return i * 10, nil
		})
	}

	assert.Equal(t, 2, q.InFlight())
	assert.Equal(t, 1, q.Queued())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i, f := range futures {
		v, err := f.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, i*10, v)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))

	require.Eventually(t, func() bool { return q.InFlight() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, q.Queued())
}

// TestQueueFIFO tests that waiting tasks start in enqueue order
func TestQueueFIFO(t *testing.T) {
	q := NewQueue(1)
	defer q.Close()

	gate := make(chan struct{})
	var mu sync.Mutex
	var order []int

	futures := make([]*Future[int], 5)
	for i := range futures {
		futures[i] = Enqueue(q, func(ctx context.Context) (int, error) {
			if i == 0 {
				<-gate
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		})
	}
	close(gate)

	for _, f := range futures {
		_, err := f.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

// TestQueueErrorIsolation tests that a failing task only fails its own future
func TestQueueErrorIsolation(t *testing.T) {
	q := NewQueue(2)
	defer q.Close()

	boom := errors.New("boom")
	ok1 := Enqueue(q, func(ctx context.Context) (string, error) { return "a", nil })
	bad := Enqueue(q, func(ctx context.Context) (string, error) { return "", boom })
	ok2 := Enqueue(q, func(ctx context.Context) (string, error) { return "c", nil })
	panicky := Enqueue(q, func(ctx context.Context) (string, error) { panic("kaboom") })

	ctx := context.Background()
	v, err := ok1.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	_, err = bad.Wait(ctx)
	assert.ErrorIs(t, err, boom)

	v, err = ok2.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", v)

	_, err = panicky.Wait(ctx)
	assert.ErrorIs(t, err, ErrTaskPanicked)

	after := Enqueue(q, func(ctx context.Context) (string, error) { return "still running", nil })
	v, err = after.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "still running", v)
}

// TestFutureWaitContext tests abandoning a wait
func TestFutureWaitContext(t *testing.T) {
	q := NewQueue(1)
	defer q.Close()

	release := make(chan struct{})
	f := Enqueue(q, func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

// TestQueueClose tests cancellation of running and queued tasks
func TestQueueClose(t *testing.T) {
	q := NewQueue(1)

	started := make(chan struct{})
	running := Enqueue(q, func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	queued := Enqueue(q, func(ctx context.Context) (int, error) { return 1, nil })

	<-started
	q.Close()
	q.Close()

	_, err := running.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	_, err = queued.Wait(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)

	late := Enqueue(q, func(ctx context.Context) (int, error) { return 2, nil })
	_, err = late.Wait(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

// TestCacheSameFuture tests at-most-one load per key
func TestCacheSameFuture(t *testing.T) {
	q := NewQueue(DefaultMaxConcurrent)
	defer q.Close()
	c := NewCache[string](q)

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "profile", nil
	}

	first := c.Load("u-1", load)
	second := c.Load("u-1", load)
	other := c.Load("u-2", load)
	assert.Same(t, first, second)
	assert.NotSame(t, first, other)

	close(release)
	v, err := second.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "profile", v)
	_, err = other.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	assert.Same(t, first, c.Load("u-1", load), "resolved futures stay cached")
	assert.Equal(t, 2, c.Len())

	c.Forget("u-1")
	again := c.Load("u-1", load)
	assert.NotSame(t, first, again)
	_, err = again.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

// TestCacheEvictsFailures tests that a failed load is retried on the next call
func TestCacheEvictsFailures(t *testing.T) {
	q := NewQueue(DefaultMaxConcurrent)
	defer q.Close()
	c := NewCache[int](q)

	var attempt atomic.Int32
	load := func(ctx context.Context) (int, error) {
		n := attempt.Add(1)
		if n == 1 {
			return 0, fmt.Errorf("attempt %d failed", n)
		}
		return int(n), nil
	}

	failed := c.Load("leaderboard", load)
	_, err := failed.Wait(context.Background())
	require.Error(t, err)

	retried := c.Load("leaderboard", load)
	assert.NotSame(t, failed, retried)
	v, err := retried.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}
