package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/eventsync/pkg/log"
	"github.com/cuemby/eventsync/pkg/metrics"
	"github.com/cuemby/eventsync/pkg/reconnect"
	"github.com/cuemby/eventsync/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Frame operations on the socket
const (
	OpSubscribe   = "sub"
	OpUnsubscribe = "unsub"
	OpPublish     = "pub"
	OpMessage     = "msg"
)

// HeaderInstanceID carries the client instance id on the handshake
const HeaderInstanceID = "X-Eventsync-Instance"

// Frame is the JSON unit exchanged over the socket
type Frame struct {
	Op      string            `json:"op"`
	ID      string            `json:"id,omitempty"`
	Subject string            `json:"subject"`
	Payload json.RawMessage   `json:"payload,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// WebSocketSettings tunes socket timeouts
type WebSocketSettings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	SendBufferSize   int
	Token            string
	Reconnect        reconnect.Config
}

// DefaultWebSocketSettings returns the default socket settings
func DefaultWebSocketSettings() WebSocketSettings {
	return WebSocketSettings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      30 * time.Second,
		PingInterval:     10 * time.Second,
		SendBufferSize:   64,
		Reconnect:        reconnect.DefaultConfig(),
	}
}

// wsConn is one live socket and its goroutines
type wsConn struct {
	ws      *websocket.Conn
	send    chan Frame
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// WebSocket implements Transport over a single websocket connection
type WebSocket struct {
	hub
	settings   WebSocketSettings
	machine    *reconnect.Machine
	dialer     *websocket.Dialer
	instanceID string
	logger     zerolog.Logger

	mu        sync.Mutex
	url       string
	conn      *wsConn
	validator Validator
}

// NewWebSocket creates a websocket transport
func NewWebSocket(settings WebSocketSettings, opts ...reconnect.Option) *WebSocket {
	defaults := DefaultWebSocketSettings()
	if settings.SendBufferSize <= 0 {
		settings.SendBufferSize = defaults.SendBufferSize
	}
	if settings.PingInterval <= 0 {
		settings.PingInterval = defaults.PingInterval
	}
	if settings.ReadTimeout <= 0 {
		settings.ReadTimeout = defaults.ReadTimeout
	}
	if settings.WriteTimeout <= 0 {
		settings.WriteTimeout = defaults.WriteTimeout
	}
	w := &WebSocket{
		settings: settings,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: settings.HandshakeTimeout,
		},
		instanceID: uuid.NewString(),
		logger:     log.WithComponent("transport"),
	}
	opts = append(opts, reconnect.WithAbandon(func() { w.closeConn(false) }))
	w.machine = reconnect.New(settings.Reconnect, w.dial, opts...)
	w.machine.OnTransition(func(t reconnect.Transition) {
		if t.To == types.ConnectionConnected {
			w.startLoops()
		}
	})
	w.machine.OnTransition(w.hub.onTransition)
	return w
}

// SetValidator validates outbound payloads before publishing
func (w *WebSocket) SetValidator(v Validator) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.validator = v
}

// InstanceID returns the id sent on every handshake
func (w *WebSocket) InstanceID() string {
	return w.instanceID
}

// Connect dials url and blocks until connected, failed or ctx ends
func (w *WebSocket) Connect(ctx context.Context, url string) error {
	w.mu.Lock()
	w.url = url
	w.mu.Unlock()

	if !w.machine.Connect() {
		return nil
	}
	return w.machine.Wait(ctx)
}

// Disconnect closes the socket and cancels pending reconnects
func (w *WebSocket) Disconnect() error {
	w.machine.Disconnect()
	w.closeConn(true)
	return nil
}

// State returns the connection state
func (w *WebSocket) State() types.ConnectionState {
	return w.machine.State()
}

// Publish sends a payload on subject
func (w *WebSocket) Publish(subj string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("publish %s: payload is not valid JSON", subj)
	}

	w.mu.Lock()
	validator := w.validator
	w.mu.Unlock()

	if validator != nil {
		if err := validator.Validate(subj, payload); err != nil {
			metrics.ContractViolationsTotal.WithLabelValues("outbound").Inc()
			return err
		}
	}

	if err := w.enqueue(Frame{Op: OpPublish, ID: uuid.NewString(), Subject: subj, Payload: payload}); err != nil {
		return err
	}
	metrics.MessagesPublishedTotal.WithLabelValues(subj).Inc()
	return nil
}

// Subscribe asks the bus to deliver subject on this connection
func (w *WebSocket) Subscribe(subj string) error {
	return w.enqueue(Frame{Op: OpSubscribe, Subject: subj})
}

// Unsubscribe asks the bus to stop delivering subject
func (w *WebSocket) Unsubscribe(subj string) error {
	return w.enqueue(Frame{Op: OpUnsubscribe, Subject: subj})
}

func (w *WebSocket) enqueue(f Frame) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("%s %s: %w", f.Op, f.Subject, ErrNotConnected)
	}

	select {
	case conn.send <- f:
		return nil
	case <-conn.ctx.Done():
		return fmt.Errorf("%s %s: %w", f.Op, f.Subject, ErrNotConnected)
	}
}

func (w *WebSocket) dial(ctx context.Context) error {
	w.mu.Lock()
	url := w.url
	w.mu.Unlock()

	header := http.Header{}
	header.Set(HeaderInstanceID, w.instanceID)
	if w.settings.Token != "" {
		header.Set("Authorization", "Bearer "+w.settings.Token)
	}

	ws, resp, err := w.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to dial %s (status %d): %w", url, resp.StatusCode, err)
		}
		return fmt.Errorf("failed to dial %s: %w", url, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	conn := &wsConn{
		ws:     ws,
		send:   make(chan Frame, w.settings.SendBufferSize),
		ctx:    connCtx,
		cancel: cancel,
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	w.logger.Info().Str("url", url).Str("instance_id", w.instanceID).Msg("socket connected")
	return nil
}

// startLoops runs the socket goroutines once the machine reports connected,
// so a socket error can never precede the connected transition
func (w *WebSocket) startLoops() {
	w.mu.Lock()
	conn := w.conn
	if conn == nil || conn.started {
		w.mu.Unlock()
		return
	}
	conn.started = true
	w.mu.Unlock()

	go w.writeLoop(conn)
	go w.readLoop(conn)
}

// writeLoop is the only writer on the socket
func (w *WebSocket) writeLoop(conn *wsConn) {
	defer conn.cancel()

	ping := time.NewTicker(w.settings.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-conn.ctx.Done():
			return
		case f := <-conn.send:
			data, err := json.Marshal(f)
			if err != nil {
				w.logger.Error().Err(err).Str("subject", f.Subject).Msg("failed to encode frame")
				continue
			}
			_ = conn.ws.SetWriteDeadline(time.Now().Add(w.settings.WriteTimeout))
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				// a write deadline timeout cannot be recovered on websocket
				w.logger.Warn().Err(err).Str("subject", f.Subject).Msg("socket write failed")
				_ = conn.ws.Close()
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(w.settings.WriteTimeout)
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.ws.Close()
				return
			}
		}
	}
}

// readLoop is the single dispatch loop for inbound frames
func (w *WebSocket) readLoop(conn *wsConn) {
	defer conn.cancel()

	_ = conn.ws.SetReadDeadline(time.Now().Add(w.settings.ReadTimeout))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(w.settings.ReadTimeout))
	})

	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			w.connectionLost(conn, err)
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(w.settings.ReadTimeout))

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			w.logger.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		if f.Op != OpMessage {
			w.logger.Debug().Str("op", f.Op).Msg("ignoring frame")
			continue
		}

		metrics.MessagesReceivedTotal.WithLabelValues(f.Subject).Inc()
		w.hub.dispatch(&types.Message{
			ID:         f.ID,
			Subject:    f.Subject,
			Payload:    f.Payload,
			Headers:    f.Headers,
			ReceivedAt: time.Now(),
		})
	}
}

// connectionLost reports an involuntary close for the current connection only
func (w *WebSocket) connectionLost(conn *wsConn, err error) {
	w.mu.Lock()
	current := w.conn == conn
	if current {
		w.conn = nil
	}
	w.mu.Unlock()

	if !current {
		return
	}
	_ = conn.ws.Close()
	w.logger.Warn().Err(err).Msg("socket closed")
	w.machine.ConnectionLost(err)
}

// closeConn closes the current socket on purpose
func (w *WebSocket) closeConn(graceful bool) {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	if conn == nil {
		return
	}
	if graceful {
		deadline := time.Now().Add(w.settings.WriteTimeout)
		_ = conn.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	}
	conn.cancel()
	_ = conn.ws.Close()
}
