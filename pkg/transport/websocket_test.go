package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/eventsync/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBusServer is a minimal websocket bus: sub/unsub/pub frames, msg fan-out
type testBusServer struct {
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]map[string]bool
	auth   []string
	accept atomic.Int32
}

func newTestBusServer() *testBusServer {
	return &testBusServer{conns: make(map[*websocket.Conn]map[string]bool)}
}

func (s *testBusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.accept.Add(1)

	s.mu.Lock()
	s.conns[ws] = make(map[string]bool)
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, ws)
		s.mu.Unlock()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Op {
		case OpSubscribe:
			s.mu.Lock()
			s.conns[ws][f.Subject] = true
			s.mu.Unlock()
		case OpUnsubscribe:
			s.mu.Lock()
			delete(s.conns[ws], f.Subject)
			s.mu.Unlock()
		case OpPublish:
			s.broadcast(f.Subject, f.Payload)
		}
	}
}

func (s *testBusServer) broadcast(subject string, payload json.RawMessage) {
	data, _ := json.Marshal(Frame{Op: OpMessage, Subject: subject, Payload: payload})

	s.mu.Lock()
	defer s.mu.Unlock()
	for ws, subs := range s.conns {
		if subs[subject] {
			_ = ws.WriteMessage(websocket.TextMessage, data)
		}
	}
}

func (s *testBusServer) subscribed(subject string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, subs := range s.conns {
		if subs[subject] {
			return true
		}
	}
	return false
}

func (s *testBusServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ws := range s.conns {
		ws.Close()
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testSettings() WebSocketSettings {
	settings := DefaultWebSocketSettings()
	settings.Token = "token-123"
	settings.Reconnect = fastReconnect(5)
	return settings
}

// TestWebSocketPublishSubscribe tests a full round trip through the socket
func TestWebSocketPublishSubscribe(t *testing.T) {
	bus := newTestBusServer()
	server := httptest.NewServer(bus)
	defer server.Close()

	w := NewWebSocket(testSettings())
	defer w.Disconnect()

	received := make(chan *types.Message, 1)
	w.OnMessage(func(msg *types.Message) { received <- msg })

	assert.ErrorIs(t, w.Publish("round.created.v1", []byte(`{}`)), ErrNotConnected)

	require.NoError(t, w.Connect(context.Background(), wsURL(server)))
	require.NoError(t, w.Subscribe("round.created.v1"))
	require.Eventually(t, func() bool { return bus.subscribed("round.created.v1") }, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Publish("round.created.v1", []byte(`{"id":"r-1"}`)))

	select {
	case msg := <-received:
		assert.Equal(t, "round.created.v1", msg.Subject)
		assert.JSONEq(t, `{"id":"r-1"}`, string(msg.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	bus.mu.Lock()
	assert.Equal(t, "Bearer token-123", bus.auth[0])
	bus.mu.Unlock()

	assert.Error(t, w.Publish("round.created.v1", []byte(`not json`)))
}

// TestWebSocketReconnect tests recovery after the server drops the socket
func TestWebSocketReconnect(t *testing.T) {
	bus := newTestBusServer()
	server := httptest.NewServer(bus)
	defer server.Close()

	w := NewWebSocket(testSettings())
	defer w.Disconnect()

	var reconnects atomic.Int32
	w.OnReconnect(func() {
		reconnects.Add(1)
		_ = w.Subscribe("round.created.v1")
	})

	require.NoError(t, w.Connect(context.Background(), wsURL(server)))
	require.Eventually(t, func() bool { return bus.subscribed("round.created.v1") }, time.Second, 5*time.Millisecond)

	bus.dropAll()

	require.Eventually(t, func() bool {
		return reconnects.Load() == 2 && bus.accept.Load() == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return bus.subscribed("round.created.v1") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, types.ConnectionConnected, w.State())
}

// TestWebSocketDialFailure tests exhaustion against an unreachable endpoint
func TestWebSocketDialFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	settings := testSettings()
	settings.Reconnect = fastReconnect(2)
	w := NewWebSocket(settings)

	err := w.Connect(context.Background(), url)
	require.Error(t, err)
	assert.Equal(t, types.ConnectionFailed, w.State())
}
