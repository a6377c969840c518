package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/eventsync/pkg/log"
	"github.com/cuemby/eventsync/pkg/metrics"
	"github.com/cuemby/eventsync/pkg/reconnect"
	"github.com/cuemby/eventsync/pkg/subject"
	"github.com/cuemby/eventsync/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// errDropped is reported when a mock connection is dropped on purpose
var errDropped = errors.New("connection dropped")

// Bus is an in-process message bus that mock transports attach to
type Bus struct {
	mu         sync.RWMutex
	transports map[*Mock]bool
	available  bool
	validator  Validator
	history    []*types.Message
}

// NewBus creates a new bus that accepts connections
func NewBus() *Bus {
	return &Bus{
		transports: make(map[*Mock]bool),
		available:  true,
	}
}

// SetAvailable controls whether new connections succeed
func (b *Bus) SetAvailable(available bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.available = available
}

// SetValidator validates every payload published on the bus
func (b *Bus) SetValidator(v Validator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.validator = v
}

// Publish delivers a frame to every attached transport subscribed to a matching subject
func (b *Bus) Publish(subj string, payload []byte) error {
	return b.PublishWithHeaders(subj, payload, nil)
}

// PublishWithHeaders publishes a frame carrying headers
func (b *Bus) PublishWithHeaders(subj string, payload []byte, headers map[string]string) error {
	b.mu.RLock()
	validator := b.validator
	b.mu.RUnlock()

	if validator != nil {
		if err := validator.Validate(subj, payload); err != nil {
			metrics.ContractViolationsTotal.WithLabelValues("outbound").Inc()
			return err
		}
	}

	msg := &types.Message{
		ID:         uuid.NewString(),
		Subject:    subj,
		Payload:    payload,
		Headers:    headers,
		ReceivedAt: time.Now(),
	}

	b.mu.Lock()
	b.history = append(b.history, msg)
	targets := make([]*Mock, 0, len(b.transports))
	for t := range b.transports {
		targets = append(targets, t)
	}
	b.mu.Unlock()

	for _, t := range targets {
		t.deliver(msg)
	}
	return nil
}

// PublishJSON marshals v and publishes it
func (b *Bus) PublishJSON(subj string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return b.Publish(subj, data)
}

// Published returns every frame published on the bus
func (b *Bus) Published() []*types.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*types.Message, len(b.history))
	copy(out, b.history)
	return out
}

// ConnectionCount returns the number of attached transports
func (b *Bus) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.transports)
}

func (b *Bus) attach(m *Mock) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.available {
		return ErrBusUnavailable
	}
	b.transports[m] = true
	return nil
}

func (b *Bus) detach(m *Mock) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.transports, m)
}

// mockConn is one live attachment of a Mock to its bus
type mockConn struct {
	subs   map[string]bool
	inbox  chan *types.Message
	stopCh chan struct{}
}

// Mock implements Transport against an in-process Bus
type Mock struct {
	hub
	bus     *Bus
	machine *reconnect.Machine
	logger  zerolog.Logger

	mu             sync.Mutex
	url            string
	conn           *mockConn
	validator      Validator
	subscribeCalls []string
}

// NewMock creates a mock transport attached to bus
func NewMock(bus *Bus, cfg reconnect.Config, opts ...reconnect.Option) *Mock {
	m := &Mock{
		bus:    bus,
		logger: log.WithComponent("transport"),
	}
	opts = append(opts, reconnect.WithAbandon(func() { m.closeConn() }))
	m.machine = reconnect.New(cfg, m.dial, opts...)
	m.machine.OnTransition(m.hub.onTransition)
	return m
}

// SetValidator validates outbound payloads before publishing
func (m *Mock) SetValidator(v Validator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validator = v
}

// Connect attaches to the bus
func (m *Mock) Connect(ctx context.Context, url string) error {
	m.mu.Lock()
	m.url = url
	m.mu.Unlock()

	if !m.machine.Connect() {
		return nil
	}
	return m.machine.Wait(ctx)
}

// Disconnect detaches from the bus and cancels pending reconnects
func (m *Mock) Disconnect() error {
	m.machine.Disconnect()
	m.closeConn()
	return nil
}

// Drop simulates an involuntary close of the connection
func (m *Mock) Drop() {
	if m.closeConn() {
		m.machine.ConnectionLost(errDropped)
	}
}

// State returns the connection state
func (m *Mock) State() types.ConnectionState {
	return m.machine.State()
}

// Machine exposes the reconnect machine driving this transport
func (m *Mock) Machine() *reconnect.Machine {
	return m.machine
}

// Publish sends a frame through the bus
func (m *Mock) Publish(subj string, payload []byte) error {
	m.mu.Lock()
	connected := m.conn != nil
	validator := m.validator
	m.mu.Unlock()

	if !connected || m.State() != types.ConnectionConnected {
		return fmt.Errorf("publish %s: %w", subj, ErrNotConnected)
	}
	if validator != nil {
		if err := validator.Validate(subj, payload); err != nil {
			metrics.ContractViolationsTotal.WithLabelValues("outbound").Inc()
			return err
		}
	}

	metrics.MessagesPublishedTotal.WithLabelValues(subj).Inc()
	return m.bus.Publish(subj, payload)
}

// Subscribe registers interest in a subject on the current connection
func (m *Mock) Subscribe(subj string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return fmt.Errorf("subscribe %s: %w", subj, ErrNotConnected)
	}
	m.conn.subs[subj] = true
	m.subscribeCalls = append(m.subscribeCalls, subj)
	return nil
}

// Unsubscribe removes interest in a subject on the current connection
func (m *Mock) Unsubscribe(subj string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return fmt.Errorf("unsubscribe %s: %w", subj, ErrNotConnected)
	}
	delete(m.conn.subs, subj)
	return nil
}

// SubscribeCalls returns every subject passed to Subscribe, in call order
func (m *Mock) SubscribeCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.subscribeCalls))
	copy(out, m.subscribeCalls)
	return out
}

// ResetSubscribeCalls clears the recorded Subscribe calls
func (m *Mock) ResetSubscribeCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeCalls = nil
}

func (m *Mock) dial(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.bus.attach(m); err != nil {
		return err
	}

	conn := &mockConn{
		subs:   make(map[string]bool),
		inbox:  make(chan *types.Message, 256),
		stopCh: make(chan struct{}),
	}

	m.mu.Lock()
	m.conn = conn
	url := m.url
	m.mu.Unlock()

	go m.dispatchLoop(conn)

	m.logger.Debug().Str("url", url).Msg("attached to bus")
	return nil
}

// dispatchLoop is the single dispatch goroutine of one connection
func (m *Mock) dispatchLoop(conn *mockConn) {
	for {
		select {
		case msg := <-conn.inbox:
			metrics.MessagesReceivedTotal.WithLabelValues(msg.Subject).Inc()
			m.hub.dispatch(msg)
		case <-conn.stopCh:
			return
		}
	}
}

func (m *Mock) deliver(msg *types.Message) {
	m.mu.Lock()
	conn := m.conn
	matched := false
	if conn != nil {
		for pattern := range conn.subs {
			if subject.Match(pattern, msg.Subject) {
				matched = true
				break
			}
		}
	}
	m.mu.Unlock()

	if !matched {
		return
	}
	select {
	case conn.inbox <- msg:
	case <-conn.stopCh:
	}
}

// closeConn detaches the current connection and reports whether one existed
func (m *Mock) closeConn() bool {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn == nil {
		return false
	}
	m.bus.detach(m)
	close(conn.stopCh)
	return true
}
