package reconnect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/eventsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

// fakeClock records timers and fires them on demand
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) active() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// fireNext runs the oldest active timer synchronously
func (c *fakeClock) fireNext(t *testing.T) time.Duration {
	t.Helper()
	c.mu.Lock()
	var next *fakeTimer
	for _, tm := range c.timers {
		if !tm.stopped {
			next = tm
			break
		}
	}
	require.NotNil(t, next, "no pending timer")
	next.stopped = true
	c.mu.Unlock()

	next.fn()
	return next.delay
}

func testConfig(maxAttempts int) Config {
	return Config{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     25 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  maxAttempts,
	}
}

func waitState(t *testing.T, m *Machine, want types.ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, time.Second, time.Millisecond)
}

// TestConnectSuccess tests the idle to connected path
func TestConnectSuccess(t *testing.T) {
	m := New(testConfig(3), func(ctx context.Context) error { return nil }, WithClock(&fakeClock{}))

	var seen []types.ConnectionState
	var mu sync.Mutex
	m.OnTransition(func(tr Transition) {
		mu.Lock()
		seen = append(seen, tr.To)
		mu.Unlock()
	})

	assert.True(t, m.Connect())
	require.NoError(t, m.Wait(context.Background()))
	assert.Equal(t, types.ConnectionConnected, m.State())
	assert.False(t, m.Connect(), "connect while connected is a no-op")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []types.ConnectionState{types.ConnectionConnecting, types.ConnectionConnected}, seen)
}

// TestBackoffCapAndExhaustion tests delay growth, the delay cap and the attempt cap
func TestBackoffCapAndExhaustion(t *testing.T) {
	clock := &fakeClock{}
	var dials atomic.Int32
	m := New(testConfig(4), func(ctx context.Context) error {
		dials.Add(1)
		return errors.New("refused")
	}, WithClock(clock))

	m.Connect()
	waitState(t, m, types.ConnectionReconnecting)

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		delays = append(delays, clock.fireNext(t))
		if i < 2 {
			assert.Equal(t, types.ConnectionReconnecting, m.State())
		}
	}

	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}, delays)
	assert.Equal(t, types.ConnectionFailed, m.State())
	assert.Equal(t, int32(4), dials.Load())
	assert.Empty(t, clock.active(), "no retry is scheduled after exhaustion")

	err := m.Wait(context.Background())
	assert.ErrorIs(t, err, ErrReconnectExhausted)
}

// TestDisconnectCancelsPendingTimer tests cancellation mid-backoff
func TestDisconnectCancelsPendingTimer(t *testing.T) {
	clock := &fakeClock{}
	var dials atomic.Int32
	m := New(testConfig(5), func(ctx context.Context) error {
		dials.Add(1)
		return errors.New("refused")
	}, WithClock(clock))

	m.Connect()
	waitState(t, m, types.ConnectionReconnecting)

	timers := clock.active()
	require.Len(t, timers, 1)

	m.Disconnect()
	assert.Equal(t, types.ConnectionDisconnected, m.State())
	assert.True(t, timers[0].stopped)

	// a timer callback racing with Disconnect must not dial
	timers[0].fn()
	assert.Equal(t, int32(1), dials.Load())
	assert.Equal(t, types.ConnectionDisconnected, m.State())
	assert.ErrorIs(t, m.Wait(context.Background()), ErrStopped)
}

// TestConnectionLostRecovers tests the reconnect path and failure reset
func TestConnectionLostRecovers(t *testing.T) {
	clock := &fakeClock{}
	var fail atomic.Bool
	m := New(testConfig(5), func(ctx context.Context) error {
		if fail.Load() {
			return errors.New("refused")
		}
		return nil
	}, WithClock(clock))

	recovered := make(chan struct{}, 1)
	m.OnTransition(func(tr Transition) {
		if tr.To == types.ConnectionConnected && tr.Recovered {
			recovered <- struct{}{}
		}
	})

	m.Connect()
	waitState(t, m, types.ConnectionConnected)

	fail.Store(true)
	m.ConnectionLost(errors.New("socket closed"))
	assert.Equal(t, types.ConnectionReconnecting, m.State())

	clock.fireNext(t)
	assert.Equal(t, types.ConnectionReconnecting, m.State())
	assert.Equal(t, 1, m.Failures())

	fail.Store(false)
	clock.fireNext(t)
	assert.Equal(t, types.ConnectionConnected, m.State())
	assert.Equal(t, 0, m.Failures())

	select {
	case <-recovered:
	case <-time.After(time.Second):
		t.Fatal("expected a recovered transition")
	}
}

// TestUnsubscribeListener tests listener removal
func TestUnsubscribeListener(t *testing.T) {
	m := New(testConfig(1), func(ctx context.Context) error { return nil }, WithClock(&fakeClock{}))

	var calls atomic.Int32
	unsubscribe := m.OnTransition(func(Transition) { calls.Add(1) })
	unsubscribe()

	m.Connect()
	waitState(t, m, types.ConnectionConnected)
	assert.Equal(t, int32(0), calls.Load())
}
