package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/eventsync/pkg/contract"
	"github.com/cuemby/eventsync/pkg/events"
	"github.com/cuemby/eventsync/pkg/loader"
	"github.com/cuemby/eventsync/pkg/mirror"
	"github.com/cuemby/eventsync/pkg/reconnect"
	"github.com/cuemby/eventsync/pkg/session"
	"github.com/cuemby/eventsync/pkg/transport"
	"github.com/cuemby/eventsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func fastReconnect(maxAttempts int) reconnect.Config {
	return reconnect.Config{
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  maxAttempts,
	}
}

func testIndex(t *testing.T) *contract.Index {
	t.Helper()
	catalog, err := contract.LoadCatalog("../../configs/contracts.yaml")
	require.NoError(t, err)
	idx, err := contract.NewIndex(catalog)
	require.NoError(t, err)
	return idx
}

// countingLoader serves fixed snapshots per stream and counts calls
type countingLoader struct {
	mu        sync.Mutex
	calls     map[string]int
	snapshots map[string][]json.RawMessage
}

func newCountingLoader() *countingLoader {
	return &countingLoader{
		calls: make(map[string]int),
		snapshots: map[string][]json.RawMessage{
			mirror.StreamLeaderboard: {
				json.RawMessage(`{"entries":[{"userId":"u1","points":10}]}`),
			},
			mirror.StreamRounds: {
				json.RawMessage(`{"type":"snapshot","schema":"round.snapshot.v1","version":3,"payload":{"id":"r1","title":"Sunday","state":"upcoming"}}`),
			},
		},
	}
}

func (l *countingLoader) LoadSnapshots(ctx context.Context, stream string) ([]json.RawMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[stream]++
	snaps, ok := l.snapshots[stream]
	if !ok {
		return nil, loader.ErrStreamNotFound
	}
	return snaps, nil
}

func (l *countingLoader) total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		n += c
	}
	return n
}

type fixture struct {
	bus    *transport.Bus
	mock   *transport.Mock
	loader *countingLoader
	broker *events.Broker
	app    *App
}

func newFixture(t *testing.T, sess session.Result, maxAttempts int) *fixture {
	t.Helper()
	f := &fixture{
		bus:    transport.NewBus(),
		loader: newCountingLoader(),
		broker: events.NewBroker(),
	}
	f.mock = transport.NewMock(f.bus, fastReconnect(maxAttempts))
	f.broker.Start()

	a, err := New(Options{
		URL:       "mock://bus",
		Scope:     "guild-1",
		Transport: f.mock,
		Session:   session.Static(sess),
		Index:     testIndex(t),
		Loader:    f.loader,
		Events:    f.broker,
	})
	require.NoError(t, err)
	f.app = a

	t.Cleanup(func() {
		_ = a.Destroy()
		f.broker.Stop()
	})
	return f
}

func authenticated() session.Result {
	return session.Result{Authenticated: true, UserID: "u1"}
}

func hasEvent(b *events.Broker, t events.EventType) bool {
	for _, e := range b.History() {
		if e.Type == t {
			return true
		}
	}
	return false
}

// TestNewRequiresCollaborators tests option validation
func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{Transport: transport.NewMock(transport.NewBus(), fastReconnect(1)), Session: session.Static{}})
	assert.ErrorIs(t, err, contract.ErrCatalogMissing)
}

// TestInitializeUnauthenticated tests that nothing connects without a session
func TestInitializeUnauthenticated(t *testing.T) {
	f := newFixture(t, session.Result{}, 3)

	err := f.app.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, 0, f.bus.ConnectionCount())
	assert.Equal(t, 0, f.loader.total())
	assert.Equal(t, PhaseIdle, f.app.Status().Phase)
	assert.Empty(t, f.app.Manager().Active())
}

// TestInitializeLoadsSnapshots tests the full startup sequence
func TestInitializeLoadsSnapshots(t *testing.T) {
	f := newFixture(t, authenticated(), 3)

	require.NoError(t, f.app.Initialize(context.Background()))

	status := f.app.Status()
	assert.Equal(t, PhaseReady, status.Phase)
	assert.Equal(t, types.ConnectionConnected, status.Connection)
	assert.Equal(t, "guild-1", status.Scope)
	assert.Contains(t, status.Subscriptions, "leaderboard.updated.v1.guild-1")
	assert.Contains(t, status.Subscriptions, "user.profile.*.v1")
	assert.False(t, status.LastLoad.IsZero())

	// one load per stream, the profile stream has none
	assert.Equal(t, 3, f.loader.total())

	board, ok := f.app.Leaderboard().Get("guild-1")
	require.True(t, ok)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, 10, board.Entries[0].Points)

	round, ok := f.app.Rounds().Get("r1")
	require.True(t, ok)
	assert.Equal(t, "Sunday", round.Title)
	assert.Equal(t, 0, f.app.Profiles().Len())

	assert.Eventually(t, func() bool {
		return hasEvent(f.broker, events.EventAppInitialized) && hasEvent(f.broker, events.EventSnapshotsLoaded)
	}, waitFor, tick)
}

// TestPushedEnvelopesUpdateMirrors tests live updates after startup
func TestPushedEnvelopesUpdateMirrors(t *testing.T) {
	f := newFixture(t, authenticated(), 3)
	require.NoError(t, f.app.Initialize(context.Background()))

	require.NoError(t, f.bus.PublishJSON("leaderboard.updated.v1.guild-1", map[string]any{
		"type":    "snapshot",
		"schema":  "leaderboard.updated.v1",
		"version": 5,
		"payload": map[string]any{"entries": []map[string]any{{"userId": "u2", "points": 42}}},
	}))
	require.NoError(t, f.bus.PublishJSON("round.updated.v1.guild-1", map[string]any{
		"type":    "delta",
		"schema":  "round.updated.v1",
		"version": 4,
		"payload": map[string]any{"id": "r1", "state": "in_progress"},
	}))
	require.NoError(t, f.bus.PublishJSON("user.profile.updated.v1", map[string]any{
		"userId": "u2", "displayName": "Ada",
	}))

	assert.Eventually(t, func() bool {
		board, _ := f.app.Leaderboard().Get("guild-1")
		round, _ := f.app.Rounds().Get("r1")
		profile, _ := f.app.Profiles().Get("u2")
		return len(board.Entries) == 1 && board.Entries[0].UserID == "u2" &&
			round.State == types.RoundStateInProgress && round.Title == "Sunday" &&
			profile.DisplayName == "Ada"
	}, waitFor, tick)

	require.NoError(t, f.bus.PublishJSON("round.deleted.v1.guild-1", map[string]any{
		"type":    "snapshot",
		"schema":  "round.deleted.v1",
		"version": 5,
		"payload": map[string]any{"id": "r1"},
	}))
	assert.Eventually(t, func() bool {
		_, ok := f.app.Rounds().Get("r1")
		return !ok
	}, waitFor, tick)
}

// TestViolationsAreCounted tests that invalid payloads never reach a mirror
func TestViolationsAreCounted(t *testing.T) {
	f := newFixture(t, authenticated(), 3)
	require.NoError(t, f.app.Initialize(context.Background()))

	require.NoError(t, f.bus.Publish("leaderboard.updated.v1.guild-1", []byte(`{"unexpected":true}`)))

	assert.Eventually(t, func() bool {
		return f.app.Status().Violations == 1 && hasEvent(f.broker, events.EventContractViolation)
	}, waitFor, tick)

	board, ok := f.app.Leaderboard().Get("guild-1")
	require.True(t, ok)
	assert.Equal(t, "u1", board.Entries[0].UserID)
}

// TestInitializeSwitchedContext tests that a preloaded session skips connect and load
func TestInitializeSwitchedContext(t *testing.T) {
	sess := authenticated()
	sess.SwitchedContextWithDataLoad = true
	f := newFixture(t, sess, 3)

	require.NoError(t, f.app.Initialize(context.Background()))
	assert.Equal(t, PhaseReady, f.app.Status().Phase)
	assert.Equal(t, 0, f.bus.ConnectionCount())
	assert.Equal(t, 0, f.loader.total())
	assert.Equal(t, types.ConnectionDisconnected, f.mock.State())

	// the next connection goes through the recovery path
	require.NoError(t, f.mock.Connect(context.Background(), "mock://bus"))
	assert.Eventually(t, func() bool {
		return f.loader.total() == 3
	}, waitFor, tick)
	assert.Contains(t, f.mock.SubscribeCalls(), "round.created.v1.guild-1")
}

// TestReconnectReloadsSnapshots tests resubscribe and reload after a drop
func TestReconnectReloadsSnapshots(t *testing.T) {
	f := newFixture(t, authenticated(), 5)
	require.NoError(t, f.app.Initialize(context.Background()))
	require.Equal(t, 3, f.loader.total())

	f.mock.ResetSubscribeCalls()
	f.mock.Drop()

	assert.Eventually(t, func() bool {
		return f.loader.total() == 6
	}, waitFor, tick)
	assert.Len(t, f.mock.SubscribeCalls(), len(f.app.routes()))
	assert.Equal(t, types.ConnectionConnected, f.mock.State())
}

// TestInitializeOffline tests the degraded state after reconnect exhaustion
func TestInitializeOffline(t *testing.T) {
	f := newFixture(t, authenticated(), 2)
	f.bus.SetAvailable(false)

	err := f.app.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, reconnect.ErrReconnectExhausted))
	assert.Equal(t, PhaseOffline, f.app.Status().Phase)
	assert.NotEmpty(t, f.app.Status().LastError)
	assert.Eventually(t, func() bool {
		return hasEvent(f.broker, events.EventAppOffline)
	}, waitFor, tick)

	// Initialize does not retry once offline
	require.NoError(t, f.app.Initialize(context.Background()))

	f.bus.SetAvailable(true)
	require.NoError(t, f.app.Reconnect(context.Background()))
	assert.Eventually(t, func() bool {
		return f.app.Status().Phase == PhaseReady && f.loader.total() == 3
	}, waitFor, tick)
}

// TestInitializeIsIdempotent tests repeated Initialize and Destroy
func TestInitializeIsIdempotent(t *testing.T) {
	f := newFixture(t, authenticated(), 3)

	require.NoError(t, f.app.Initialize(context.Background()))
	require.NoError(t, f.app.Initialize(context.Background()))
	assert.Equal(t, 1, f.bus.ConnectionCount())
	assert.Equal(t, 3, f.loader.total())

	require.NoError(t, f.app.Destroy())
	require.NoError(t, f.app.Destroy())
	assert.Equal(t, PhaseDestroyed, f.app.Status().Phase)
	assert.Equal(t, types.ConnectionDisconnected, f.mock.State())
	assert.Empty(t, f.app.Manager().Active())

	assert.ErrorIs(t, f.app.Initialize(context.Background()), ErrDestroyed)
}

// TestLoadSnapshotsRetriesFailures tests that a failed stream load is retried
func TestLoadSnapshotsRetriesFailures(t *testing.T) {
	bus := transport.NewBus()
	var mu sync.Mutex
	fail := true
	calls := 0
	load := loader.Func(func(ctx context.Context, stream string) ([]json.RawMessage, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if stream == mirror.StreamRounds && fail {
			return nil, errors.New("upstream unavailable")
		}
		return nil, nil
	})

	a, err := New(Options{
		Transport: transport.NewMock(bus, fastReconnect(3)),
		Session:   session.Static(authenticated()),
		Index:     testIndex(t),
		Loader:    load,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Destroy() })

	require.NoError(t, a.Initialize(context.Background()))
	assert.Contains(t, a.Status().LastError, "rounds")

	mu.Lock()
	fail = false
	mu.Unlock()

	require.NoError(t, a.LoadSnapshots(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	// only the failed stream is fetched again
	assert.Equal(t, 4, calls)
}

// TestLoadSnapshotsOutlivesCaller tests that a shared load keeps running
// when the caller that started it stops waiting
func TestLoadSnapshotsOutlivesCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	loadCtxErr := make(chan error, 1)
	var mu sync.Mutex
	calls := 0
	load := loader.Func(func(ctx context.Context, stream string) ([]json.RawMessage, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		if stream != mirror.StreamRounds {
			return nil, nil
		}
		close(started)
		<-release
		loadCtxErr <- ctx.Err()
		return nil, nil
	})

	a, err := New(Options{
		Transport: transport.NewMock(transport.NewBus(), fastReconnect(3)),
		Session:   session.Static(authenticated()),
		Index:     testIndex(t),
		Loader:    load,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Destroy() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.LoadSnapshots(ctx) }()

	<-started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	assert.NoError(t, <-loadCtxErr)

	require.NoError(t, a.LoadSnapshots(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	// the rounds load finished for both callers and was not fetched again
	assert.Equal(t, 3, calls)
}
