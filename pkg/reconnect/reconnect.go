package reconnect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cuemby/eventsync/pkg/log"
	"github.com/cuemby/eventsync/pkg/metrics"
	"github.com/cuemby/eventsync/pkg/types"
	"github.com/rs/zerolog"
)

var (
	// ErrReconnectExhausted is returned once the attempt cap is reached
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrStopped is returned by Wait when the machine was disconnected
	ErrStopped = errors.New("connection stopped")
)

// DialFunc establishes one connection. It must honour ctx cancellation.
type DialFunc func(ctx context.Context) error

// Config controls backoff growth and the attempt cap
type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
	MaxAttempts  int
}

// DefaultConfig returns the default backoff configuration
func DefaultConfig() Config {
	return Config{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       0.2,
		MaxAttempts:  10,
	}
}

// Stopper cancels a scheduled callback
type Stopper interface {
	Stop() bool
}

// Clock schedules delayed callbacks
type Clock interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// Transition describes a single state change
type Transition struct {
	From types.ConnectionState
	To   types.ConnectionState
	// Attempt is the number of consecutive failures so far
	Attempt int
	// Delay is set when a retry was scheduled
	Delay time.Duration
	// Recovered is set on a connected transition that follows a lost connection
	Recovered bool
	Err       error
}

// Listener observes transitions in the order they happen
type Listener func(Transition)

type listenerEntry struct {
	id int
	fn Listener
}

// Option configures a Machine
type Option func(*Machine)

// WithClock replaces the wall clock used for backoff timers
func WithClock(c Clock) Option {
	return func(m *Machine) {
		m.clock = c
	}
}

// WithAbandon registers a hook run when a dial succeeds after the machine
// was disconnected; the transport must close the orphaned connection.
func WithAbandon(fn func()) Option {
	return func(m *Machine) {
		m.abandon = fn
	}
}

// Machine drives connection attempts with bounded exponential backoff
type Machine struct {
	cfg     Config
	dial    DialFunc
	clock   Clock
	policy  *backoff.ExponentialBackOff
	abandon func()
	logger  zerolog.Logger

	mu        sync.Mutex
	state     types.ConnectionState
	failures  int
	lastErr   error
	gen       uint64
	timer     Stopper
	cancel    context.CancelFunc
	connected bool // at least one connection since the last Connect

	listeners []listenerEntry
	nextID    int
	pending   []Transition
	flushing  bool
}

// New creates a machine in the disconnected state
func New(cfg Config, dial DialFunc, opts ...Option) *Machine {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	m := &Machine{
		cfg:   cfg,
		dial:  dial,
		clock: realClock{},
		policy: &backoff.ExponentialBackOff{
			InitialInterval:     cfg.InitialDelay,
			RandomizationFactor: cfg.Jitter,
			Multiplier:          cfg.Multiplier,
			MaxInterval:         cfg.MaxDelay,
		},
		logger: log.WithComponent("reconnect"),
		state:  types.ConnectionDisconnected,
	}
	m.policy.Reset()
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state
func (m *Machine) State() types.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Failures returns the number of consecutive failed attempts
func (m *Machine) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// OnTransition registers a listener and returns its unsubscribe function
func (m *Machine) OnTransition(l Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: l})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, e := range m.listeners {
			if e.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// Connect starts connecting from the disconnected or failed state.
// It returns false when a connection is already established or in progress.
func (m *Machine) Connect() bool {
	m.mu.Lock()
	if m.state != types.ConnectionDisconnected && m.state != types.ConnectionFailed {
		m.mu.Unlock()
		return false
	}
	m.failures = 0
	m.lastErr = nil
	m.connected = false
	m.policy.Reset()
	gen := m.gen
	m.transitionLocked(Transition{To: types.ConnectionConnecting})
	m.mu.Unlock()

	m.flush()
	go m.attempt(gen)
	return true
}

// ConnectionLost reports an involuntary close of an established connection
func (m *Machine) ConnectionLost(err error) {
	m.mu.Lock()
	if m.state != types.ConnectionConnected {
		m.mu.Unlock()
		return
	}
	delay := m.nextDelayLocked()
	m.transitionLocked(Transition{To: types.ConnectionReconnecting, Delay: delay, Err: err})
	m.scheduleLocked(m.gen, delay)
	m.mu.Unlock()

	m.logger.Warn().Err(err).Dur("delay", delay).Msg("connection lost, scheduling reconnect")
	m.flush()
}

// Disconnect cancels any pending retry timer and in-flight dial and returns to disconnected
func (m *Machine) Disconnect() {
	m.mu.Lock()
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.state == types.ConnectionDisconnected {
		m.mu.Unlock()
		return
	}
	m.failures = 0
	m.connected = false
	m.transitionLocked(Transition{To: types.ConnectionDisconnected})
	m.mu.Unlock()

	m.flush()
}

// Wait blocks until the machine is connected, failed or disconnected
func (m *Machine) Wait(ctx context.Context) error {
	done := make(chan error, 1)
	var once sync.Once
	finish := func(err error) {
		once.Do(func() { done <- err })
	}

	unsubscribe := m.OnTransition(func(t Transition) {
		switch t.To {
		case types.ConnectionConnected:
			finish(nil)
		case types.ConnectionFailed:
			finish(t.Err)
		case types.ConnectionDisconnected:
			finish(ErrStopped)
		}
	})
	defer unsubscribe()

	m.mu.Lock()
	switch m.state {
	case types.ConnectionConnected:
		finish(nil)
	case types.ConnectionFailed:
		finish(m.lastErr)
	case types.ConnectionDisconnected:
		finish(ErrStopped)
	}
	m.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attempt performs one dial for generation gen
func (m *Machine) attempt(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != types.ConnectionConnecting {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	retry := m.failures > 0 || m.connected
	m.mu.Unlock()

	if retry {
		metrics.ReconnectAttemptsTotal.Inc()
	}
	err := m.dial(ctx)
	cancel()

	m.mu.Lock()
	if gen != m.gen || m.state != types.ConnectionConnecting {
		// disconnected while dialing
		abandon := m.abandon
		m.mu.Unlock()
		if err == nil && abandon != nil {
			abandon()
		}
		return
	}
	m.cancel = nil

	if err == nil {
		recovered := m.connected
		m.failures = 0
		m.lastErr = nil
		m.connected = true
		m.policy.Reset()
		m.transitionLocked(Transition{To: types.ConnectionConnected, Recovered: recovered})
		m.mu.Unlock()

		m.logger.Info().Bool("recovered", recovered).Msg("connected")
		m.flush()
		return
	}

	m.failures++
	if m.failures >= m.cfg.MaxAttempts {
		m.lastErr = fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, m.failures, err)
		m.transitionLocked(Transition{To: types.ConnectionFailed, Attempt: m.failures, Err: m.lastErr})
		m.mu.Unlock()

		metrics.ReconnectExhaustedTotal.Inc()
		m.logger.Error().Err(err).Int("attempts", m.cfg.MaxAttempts).Msg("reconnect attempts exhausted")
		m.flush()
		return
	}

	delay := m.nextDelayLocked()
	attempt := m.failures
	m.transitionLocked(Transition{To: types.ConnectionReconnecting, Attempt: attempt, Delay: delay, Err: err})
	m.scheduleLocked(gen, delay)
	m.mu.Unlock()

	m.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("connect failed, retrying")
	m.flush()
}

// fire runs when a backoff timer expires
func (m *Machine) fire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != types.ConnectionReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.transitionLocked(Transition{To: types.ConnectionConnecting, Attempt: m.failures})
	m.mu.Unlock()

	m.flush()
	m.attempt(gen)
}

func (m *Machine) nextDelayLocked() time.Duration {
	delay := m.policy.NextBackOff()
	if delay > m.cfg.MaxDelay && m.cfg.MaxDelay > 0 {
		delay = m.cfg.MaxDelay
	}
	return delay
}

// scheduleLocked keeps at most one pending timer
func (m *Machine) scheduleLocked(gen uint64, delay time.Duration) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = m.clock.AfterFunc(delay, func() { m.fire(gen) })
}

func (m *Machine) transitionLocked(t Transition) {
	t.From = m.state
	m.state = t.To
	m.pending = append(m.pending, t)
}

// flush delivers queued transitions in order. Only one goroutine flushes at
// a time; transitions raised from inside a listener are delivered by the
// active flusher once the listener returns.
func (m *Machine) flush() {
	m.mu.Lock()
	if m.flushing {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	for len(m.pending) > 0 {
		t := m.pending[0]
		m.pending = m.pending[1:]
		listeners := make([]listenerEntry, len(m.listeners))
		copy(listeners, m.listeners)
		m.mu.Unlock()

		metrics.SetConnectionState(string(t.To))
		for _, l := range listeners {
			l.fn(t)
		}

		m.mu.Lock()
	}
	m.flushing = false
	m.mu.Unlock()
}
