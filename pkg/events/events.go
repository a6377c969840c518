package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of a lifecycle event
type EventType string

const (
	EventConnectionChanged  EventType = "connection.changed"
	EventSubscriptionsReady EventType = "subscriptions.ready"
	EventSnapshotsLoaded    EventType = "snapshots.loaded"
	EventSnapshotsFailed    EventType = "snapshots.failed"
	EventContractViolation  EventType = "contract.violation"
	EventAppInitialized     EventType = "app.initialized"
	EventAppOffline         EventType = "app.offline"
	EventAppDestroyed       EventType = "app.destroyed"
)

// Event is a client lifecycle event
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// DefaultHistorySize is the number of recent events the broker keeps
const DefaultHistorySize = 64

// Broker fans lifecycle events out to subscribers and keeps a short history
type Broker struct {
	subscribers map[Subscriber]bool
	history     []*Event
	historySize int
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	startOnce   sync.Once
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		historySize: DefaultHistorySize,
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	b.startOnce.Do(func() {
		go b.run()
	})
}

// Stop stops the broker. It is safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
}

// Subscribe creates a new subscription and returns its channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event for distribution. Events published after Stop are dropped.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-b.stopCh:
		return
	default:
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// Emit publishes an event built from its parts
func (b *Broker) Emit(t EventType, message string, metadata map[string]string) {
	b.Publish(&Event{Type: t, Message: message, Metadata: metadata})
}

// History returns the most recent events, oldest first
func (b *Broker) History() []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Event, len(b.history))
	copy(out, b.history)
	return out
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.Lock()
	b.history = append(b.history, event)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
