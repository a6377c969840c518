package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/eventsync/pkg/reconnect"
	"github.com/cuemby/eventsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastReconnect(maxAttempts int) reconnect.Config {
	return reconnect.Config{
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  maxAttempts,
	}
}

type collector struct {
	mu   sync.Mutex
	msgs []*types.Message
}

func (c *collector) handle(msg *types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

type rejectAll struct{}

func (rejectAll) Validate(subject string, payload []byte) error {
	return errors.New("rejected")
}

// TestMockPublishRequiresConnection tests the TransportError path
func TestMockPublishRequiresConnection(t *testing.T) {
	m := NewMock(NewBus(), fastReconnect(3))

	err := m.Publish("round.created.v1", []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, m.Subscribe("round.created.v1"), ErrNotConnected)
}

// TestMockDeliversMatchingSubjects tests subscribe and dispatch
func TestMockDeliversMatchingSubjects(t *testing.T) {
	bus := NewBus()
	m := NewMock(bus, fastReconnect(3))
	c := &collector{}
	m.OnMessage(c.handle)

	require.NoError(t, m.Connect(context.Background(), "mock://bus"))
	require.NoError(t, m.Connect(context.Background(), "mock://bus"), "connect is idempotent")
	assert.Equal(t, 1, bus.ConnectionCount())

	require.NoError(t, m.Subscribe("round.*.v1"))
	require.NoError(t, bus.Publish("round.created.v1", []byte(`{"id":"r-1"}`)))
	require.NoError(t, bus.Publish("leaderboard.updated.v1", []byte(`{}`)))
	require.NoError(t, m.Publish("round.deleted.v1", []byte(`{"id":"r-1"}`)))

	require.Eventually(t, func() bool { return c.count() == 2 }, time.Second, time.Millisecond)
	c.mu.Lock()
	assert.Equal(t, "round.created.v1", c.msgs[0].Subject)
	assert.Equal(t, "round.deleted.v1", c.msgs[1].Subject)
	c.mu.Unlock()

	require.NoError(t, m.Unsubscribe("round.*.v1"))
	require.NoError(t, bus.Publish("round.created.v1", []byte(`{"id":"r-2"}`)))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 2, c.count())
}

// TestMockReconnectAfterDrop tests the reconnect notification and server-side subscription loss
func TestMockReconnectAfterDrop(t *testing.T) {
	bus := NewBus()
	m := NewMock(bus, fastReconnect(5))

	var reconnects atomic.Int32
	m.OnReconnect(func() { reconnects.Add(1) })

	var states []types.ConnectionState
	var mu sync.Mutex
	m.OnStateChange(func(from, to types.ConnectionState, err error) {
		mu.Lock()
		states = append(states, to)
		mu.Unlock()
	})

	require.NoError(t, m.Connect(context.Background(), "mock://bus"))
	require.NoError(t, m.Subscribe("round.created.v1"))
	require.Eventually(t, func() bool { return reconnects.Load() == 1 }, time.Second, time.Millisecond)

	m.Drop()
	require.Eventually(t, func() bool { return reconnects.Load() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, types.ConnectionConnected, m.State())

	c := &collector{}
	m.OnMessage(c.handle)
	require.NoError(t, bus.Publish("round.created.v1", []byte(`{}`)))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, c.count(), "a new connection starts without subscriptions")

	mu.Lock()
	assert.Contains(t, states, types.ConnectionReconnecting)
	mu.Unlock()
}

// TestMockConnectExhausted tests the terminal failure when the bus refuses connections
func TestMockConnectExhausted(t *testing.T) {
	bus := NewBus()
	bus.SetAvailable(false)
	m := NewMock(bus, fastReconnect(2))

	err := m.Connect(context.Background(), "mock://bus")
	assert.ErrorIs(t, err, reconnect.ErrReconnectExhausted)
	assert.Equal(t, types.ConnectionFailed, m.State())

	bus.SetAvailable(true)
	require.NoError(t, m.Connect(context.Background(), "mock://bus"), "connect restarts from failed")
}

// TestMockDisconnectCancelsReconnect tests that no reconnect fires after Disconnect
func TestMockDisconnectCancelsReconnect(t *testing.T) {
	bus := NewBus()
	m := NewMock(bus, reconnect.Config{
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   1,
		MaxAttempts:  5,
	})

	require.NoError(t, m.Connect(context.Background(), "mock://bus"))
	m.Drop()
	assert.Equal(t, types.ConnectionReconnecting, m.State())

	require.NoError(t, m.Disconnect())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, types.ConnectionDisconnected, m.State())
	assert.Equal(t, 0, bus.ConnectionCount())
}

// TestMockPublishValidation tests outbound contract validation
func TestMockPublishValidation(t *testing.T) {
	bus := NewBus()
	m := NewMock(bus, fastReconnect(3))
	m.SetValidator(rejectAll{})

	require.NoError(t, m.Connect(context.Background(), "mock://bus"))
	assert.Error(t, m.Publish("round.created.v1", []byte(`{}`)))
	assert.Empty(t, bus.Published())

	bus.SetValidator(rejectAll{})
	assert.Error(t, bus.Publish("round.created.v1", []byte(`{}`)))
}
