package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/cuemby/eventsync/pkg/reconnect"
	"github.com/cuemby/eventsync/pkg/types"
)

var (
	// ErrNotConnected is returned when sending while the transport is not connected
	ErrNotConnected = errors.New("transport not connected")

	// ErrBusUnavailable is returned by the mock bus while it refuses connections
	ErrBusUnavailable = errors.New("bus unavailable")
)

// MessageHandler receives inbound frames on the transport's dispatch loop
type MessageHandler func(msg *types.Message)

// StateListener observes connection state changes
type StateListener func(from, to types.ConnectionState, err error)

// Validator checks outbound payloads before they are sent
type Validator interface {
	Validate(subject string, payload []byte) error
}

// Transport holds one connection to the message bus
type Transport interface {
	// Connect is idempotent while connecting or connected. It blocks until
	// the first connection succeeds, the reconnect cap is reached or ctx ends.
	Connect(ctx context.Context, url string) error
	Disconnect() error
	Publish(subject string, payload []byte) error
	Subscribe(subject string) error
	Unsubscribe(subject string) error
	OnMessage(h MessageHandler) (unsubscribe func())
	// OnReconnect listeners run every time the transport enters connected
	OnReconnect(l func()) (unsubscribe func())
	OnStateChange(l StateListener) (unsubscribe func())
	State() types.ConnectionState
}

type entry[F any] struct {
	id int
	fn F
}

// listeners is an ordered observer list
type listeners[F any] struct {
	mu      sync.RWMutex
	entries []entry[F]
	nextID  int
}

func (l *listeners[F]) add(fn F) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, entry[F]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, e := range l.entries {
				if e.id == id {
					l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *listeners[F]) snapshot() []F {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]F, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.fn
	}
	return out
}

// hub fans transport events out to registered listeners
type hub struct {
	handlers  listeners[MessageHandler]
	reconnect listeners[func()]
	states    listeners[StateListener]
}

func (h *hub) OnMessage(fn MessageHandler) func() {
	return h.handlers.add(fn)
}

func (h *hub) OnReconnect(fn func()) func() {
	return h.reconnect.add(fn)
}

func (h *hub) OnStateChange(fn StateListener) func() {
	return h.states.add(fn)
}

func (h *hub) dispatch(msg *types.Message) {
	for _, fn := range h.handlers.snapshot() {
		fn(msg)
	}
}

// onTransition is registered on the reconnect machine
func (h *hub) onTransition(t reconnect.Transition) {
	for _, fn := range h.states.snapshot() {
		fn(t.From, t.To, t.Err)
	}
	if t.To == types.ConnectionConnected {
		for _, fn := range h.reconnect.snapshot() {
			fn()
		}
	}
}
