package subscription

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/eventsync/pkg/log"
	"github.com/cuemby/eventsync/pkg/metrics"
	"github.com/cuemby/eventsync/pkg/subject"
	"github.com/cuemby/eventsync/pkg/transport"
	"github.com/cuemby/eventsync/pkg/types"
	"github.com/rs/zerolog"
)

// ReadyListener is notified after every subject has been (re)issued.
// reconnected is false for the pass run by Start.
type ReadyListener func(reconnected bool)

type readyEntry struct {
	id int
	fn ReadyListener
}

// Manager owns the subscription set and keeps the transport in sync with it
type Manager struct {
	transport transport.Transport
	logger    zerolog.Logger

	mu       sync.Mutex
	subs     []*types.Subscription
	bySubj   map[string]*types.Subscription
	started  bool
	detach   []func()
	ready    []readyEntry
	nextID   int
	resyncMu sync.Mutex
}

// NewManager creates a manager for t
func NewManager(t transport.Transport) *Manager {
	return &Manager{
		transport: t,
		logger:    log.WithComponent("subscription"),
		bySubj:    make(map[string]*types.Subscription),
	}
}

// Subscribe activates subj with handler. It returns false without changing
// anything when subj is already active.
func (m *Manager) Subscribe(subj string, handler func(*types.Message)) (bool, error) {
	if !subject.Valid(subj) {
		return false, fmt.Errorf("invalid subject %q", subj)
	}
	if handler == nil {
		return false, errors.New("handler is required")
	}

	m.mu.Lock()
	sub, exists := m.bySubj[subj]
	if exists && sub.Active {
		m.mu.Unlock()
		return false, nil
	}
	if !exists {
		sub = &types.Subscription{Subject: subj, RegisteredAt: time.Now()}
		m.bySubj[subj] = sub
		m.subs = append(m.subs, sub)
	}
	sub.Handler = handler
	sub.Active = true
	started := m.started
	active := m.activeCountLocked()
	m.mu.Unlock()

	metrics.SubscriptionsActive.Set(float64(active))

	if !started || m.transport.State() != types.ConnectionConnected {
		return true, nil
	}
	if err := m.transport.Subscribe(subj); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		return true, fmt.Errorf("failed to subscribe %s: %w", subj, err)
	}
	return true, nil
}

// Unsubscribe deactivates subj and forgets it
func (m *Manager) Unsubscribe(subj string) error {
	m.mu.Lock()
	sub, exists := m.bySubj[subj]
	if !exists {
		m.mu.Unlock()
		return nil
	}
	delete(m.bySubj, subj)
	for i, s := range m.subs {
		if s == sub {
			m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
			break
		}
	}
	wasActive := sub.Active
	sub.Active = false
	started := m.started
	active := m.activeCountLocked()
	m.mu.Unlock()

	metrics.SubscriptionsActive.Set(float64(active))

	if !wasActive || !started || m.transport.State() != types.ConnectionConnected {
		return nil
	}
	if err := m.transport.Unsubscribe(subj); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		return fmt.Errorf("failed to unsubscribe %s: %w", subj, err)
	}
	return nil
}

// Start attaches to the transport. When the transport is already connected
// every active subject is issued immediately; otherwise the next connection
// issues them.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.detach = []func(){
		m.transport.OnMessage(m.dispatch),
		m.transport.OnReconnect(func() { m.resync(true) }),
	}
	m.mu.Unlock()

	m.logger.Info().Int("subjects", len(m.Active())).Msg("subscription manager started")

	if m.transport.State() == types.ConnectionConnected {
		return m.resync(false)
	}
	return nil
}

// Stop deactivates every subscription and detaches from the transport.
// It is safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	wasStarted := m.started
	m.started = false
	detach := m.detach
	m.detach = nil
	var subjects []string
	for _, sub := range m.subs {
		if sub.Active {
			subjects = append(subjects, sub.Subject)
		}
		sub.Active = false
	}
	m.mu.Unlock()

	if !wasStarted {
		return
	}
	for _, fn := range detach {
		fn()
	}
	metrics.SubscriptionsActive.Set(0)

	if m.transport.State() == types.ConnectionConnected {
		for _, subj := range subjects {
			_ = m.transport.Unsubscribe(subj)
		}
	}
	m.logger.Info().Msg("subscription manager stopped")
}

// Active returns the active subjects in first-registration order
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, sub := range m.subs {
		if sub.Active {
			out = append(out, sub.Subject)
		}
	}
	return out
}

// Subscriptions returns a copy of every known subscription
func (m *Manager) Subscriptions() []types.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.Subscription, len(m.subs))
	for i, sub := range m.subs {
		out[i] = *sub
	}
	return out
}

// OnReady registers a listener run after every successful (re)subscription pass
func (m *Manager) OnReady(fn ReadyListener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.ready = append(m.ready, readyEntry{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, e := range m.ready {
			if e.id == id {
				m.ready = append(m.ready[:i:i], m.ready[i+1:]...)
				return
			}
		}
	}
}

// resync issues subscribe for every active subject, one at a time and in
// registration order, then reports ready
func (m *Manager) resync(reconnected bool) error {
	m.resyncMu.Lock()
	defer m.resyncMu.Unlock()

	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	subjects := make([]string, 0, len(m.subs))
	for _, sub := range m.subs {
		if sub.Active {
			subjects = append(subjects, sub.Subject)
		}
	}
	m.mu.Unlock()

	for _, subj := range subjects {
		if err := m.transport.Subscribe(subj); err != nil {
			// the next connection runs resync again
			m.logger.Warn().Err(err).Str("subject", subj).Msg("resubscribe interrupted")
			return fmt.Errorf("failed to subscribe %s: %w", subj, err)
		}
		if reconnected {
			metrics.ResubscriptionsTotal.Inc()
		}
	}

	m.logger.Info().
		Int("subjects", len(subjects)).
		Bool("reconnected", reconnected).
		Msg("subscriptions ready")

	m.mu.Lock()
	listeners := make([]readyEntry, len(m.ready))
	copy(listeners, m.ready)
	m.mu.Unlock()

	for _, l := range listeners {
		l.fn(reconnected)
	}
	return nil
}

// dispatch runs on the transport dispatch loop
func (m *Manager) dispatch(msg *types.Message) {
	m.mu.Lock()
	var handlers []func(*types.Message)
	for _, sub := range m.subs {
		if sub.Active && subject.Match(sub.Subject, msg.Subject) {
			handlers = append(handlers, sub.Handler)
		}
	}
	m.mu.Unlock()

	if len(handlers) == 0 {
		m.logger.Debug().Str("subject", msg.Subject).Msg("no handler for message")
		return
	}
	for _, h := range handlers {
		h(msg)
	}
}

func (m *Manager) activeCountLocked() int {
	n := 0
	for _, sub := range m.subs {
		if sub.Active {
			n++
		}
	}
	return n
}
