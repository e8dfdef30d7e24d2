package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"legalchat/internal/types"
)

// State is the connection manager's externally visible state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Local lifecycle events fired by the Manager itself, alongside whatever the
// relay pushes. Handlers register for them like any other event.
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
)

// Disconnect reasons, matching the classification the reconnect policy keys
// on: only server-initiated closes and transport failures are retried.
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonServerDisconnect = "io server disconnect"
	ReasonTransportClose   = "transport close"
)

// DisconnectInfo is the payload of a local disconnect event.
type DisconnectInfo struct {
	Reason string `json:"reason"`
}

// ConnectErrorInfo is the payload of a local connect_error event.
type ConnectErrorInfo struct {
	Error string `json:"error"`
}

// Handler consumes one event payload. Handlers for an event run in
// registration order on the connection's single reader goroutine, so inbound
// delivery is FIFO.
type Handler func(payload json.RawMessage)

// Config tunes the Manager. Two retry layers exist deliberately: the
// transport dials up to TransportMaxAttempts times within one connect cycle
// (mirroring the relay transport's own capped reconnection attempts), while
// the Manager retries whole cycles at ConnectRetryDelay intervals without
// bound. The Manager loop is the authoritative recovery mechanism; the
// transport cap only shortens individual cycles.
type Config struct {
	// URL of the relay realtime endpoint, e.g. http://host:3000/email.
	URL string

	// ConnectRetryDelay is the wait before retrying a failed connect cycle.
	ConnectRetryDelay time.Duration

	// ReconnectDelay is the wait before reconnecting after an unexpected
	// drop of an established connection.
	ReconnectDelay time.Duration

	// TransportMaxAttempts caps handshake attempts inside one cycle.
	TransportMaxAttempts int

	// TransportRetryDelay separates handshake attempts inside one cycle.
	TransportRetryDelay time.Duration
}

// Manager owns the single relay connection. Connect is idempotent while an
// attempt is in flight; an explicit Disconnect suppresses all automatic
// recovery until the next Connect.
type Manager struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger

	// afterFn schedules deferred reconnects; injectable for tests.
	afterFn func(d time.Duration, f func()) *time.Timer

	mu         sync.Mutex
	state      State
	connecting bool
	conn       Conn
	closed     bool // set by Disconnect; cleared by the next Connect
	gen        uint64
	retryTimer *time.Timer

	handlersMu sync.Mutex
	handlers   map[string][]Handler
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer overrides the production websocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithAfterFunc overrides reconnect scheduling. Intended for tests.
func WithAfterFunc(fn func(time.Duration, func()) *time.Timer) Option {
	return func(m *Manager) {
		m.afterFn = fn
	}
}

// NewManager creates a Manager in the Disconnected state. No connection is
// attempted until Connect is called.
func NewManager(cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TransportMaxAttempts < 1 {
		cfg.TransportMaxAttempts = 1
	}
	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		afterFn:  time.AfterFunc,
		state:    StateDisconnected,
		handlers: make(map[string][]Handler),
		dialer: &WebsocketDialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// On registers a handler for an event name. Multiple handlers per event are
// allowed and run in registration order.
func (m *Manager) On(event string, h Handler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers[event] = append(m.handlers[event], h)
}

// Connect runs one connect cycle: up to TransportMaxAttempts handshakes. If
// a cycle is already in flight, or the connection is already established,
// Connect returns nil immediately without a second handshake. On cycle
// failure the state stays Disconnected and a retry is scheduled after
// ConnectRetryDelay, unless Disconnect was called in the meantime.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.connecting || m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.connecting = true
	m.closed = false
	m.state = StateConnecting
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.mu.Unlock()

	conn, err := m.dialCycle(ctx)
	if err != nil {
		m.mu.Lock()
		m.connecting = false
		m.state = StateDisconnected
		suppressed := m.closed
		m.mu.Unlock()

		m.logger.Warn("relay connect cycle failed", "error", err)
		m.fire(EventConnectError, ConnectErrorInfo{Error: err.Error()})

		if !suppressed {
			m.scheduleConnect(m.cfg.ConnectRetryDelay)
		}
		return types.NewAppError(types.ErrCodeConnectionUnavailable,
			"failed to connect to relay", err)
	}

	m.mu.Lock()
	if m.closed {
		// Disconnect raced the handshake; drop the fresh connection.
		m.connecting = false
		m.state = StateDisconnected
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.conn = conn
	m.connecting = false
	m.state = StateConnected
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.logger.Info("relay connected", "url", m.cfg.URL)
	go m.readLoop(conn, gen)
	m.fire(EventConnect, nil)
	return nil
}

// dialCycle attempts the handshake up to the transport attempt cap.
func (m *Manager) dialCycle(ctx context.Context) (Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.TransportMaxAttempts; attempt++ {
		conn, err := m.dialer.Dial(ctx, m.cfg.URL)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		m.logger.Debug("relay handshake attempt failed",
			"attempt", attempt,
			"max_attempts", m.cfg.TransportMaxAttempts,
			"error", err,
		)

		if attempt == m.cfg.TransportMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.cfg.TransportRetryDelay):
		}
	}
	return nil, lastErr
}

// Disconnect tears down the connection if established and suppresses any
// scheduled or future automatic reconnects. Calling it while disconnected is
// a no-op.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closed = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	conn := m.conn
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		m.logger.Info("relay disconnected by client")
		conn.Close()
	}
}

// Emit sends an event to the relay. When not connected the event is dropped
// with a log line; callers needing guaranteed delivery must Connect first
// and wait for success.
func (m *Manager) Emit(event string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if state != StateConnected || conn == nil {
		m.logger.Warn("relay emit dropped; not connected", "event", event)
		return types.NewAppError(types.ErrCodeConnectionUnavailable,
			"cannot emit while disconnected", nil)
	}

	frame := Frame{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected,
				"failed to marshal emit payload", err)
		}
		frame.Payload = raw
	}

	if err := conn.WriteFrame(frame); err != nil {
		m.logger.Warn("relay emit failed", "event", event, "error", err)
		return types.NewAppError(types.ErrCodeConnectionUnavailable,
			"relay write failed", err)
	}
	return nil
}

// readLoop reads frames until the connection dies, dispatching each to its
// handlers. On exit it classifies the drop and schedules a reconnect when
// the reason is eligible.
func (m *Manager) readLoop(conn Conn, gen uint64) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			m.handleDrop(conn, gen, err)
			return
		}
		m.fireRaw(frame.Event, frame.Payload)
	}
}

// handleDrop transitions out of Connected after a read failure and applies
// the reconnect policy for the classified reason.
func (m *Manager) handleDrop(conn Conn, gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen {
		// A newer connection superseded this one; nothing to do.
		m.mu.Unlock()
		return
	}
	localClose := m.closed
	if m.conn == conn {
		m.conn = nil
	}
	m.state = StateDisconnected
	m.mu.Unlock()

	reason := classifyDrop(cause, localClose)
	m.logger.Info("relay connection dropped", "reason", reason, "cause", cause)
	m.fire(EventDisconnect, DisconnectInfo{Reason: reason})

	if !localClose && reconnectEligible(reason) {
		m.scheduleConnect(m.cfg.ReconnectDelay)
	}
}

// scheduleConnect arms a single deferred connect. A timer already pending
// is left in place so drops and failed cycles never stack retries.
func (m *Manager) scheduleConnect(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.retryTimer != nil {
		return
	}
	m.retryTimer = m.afterFn(d, func() {
		m.mu.Lock()
		m.retryTimer = nil
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		// Errors here feed back into scheduleConnect via Connect itself.
		_ = m.Connect(context.Background())
	})
}

// classifyDrop maps a read error to a disconnect reason.
func classifyDrop(err error, localClose bool) string {
	if localClose {
		return ReasonClientDisconnect
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return ReasonServerDisconnect
		}
		return ReasonTransportClose
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ReasonTransportClose
	}
	return ReasonTransportClose
}

// reconnectEligible reports whether a disconnect reason triggers automatic
// recovery. Client-initiated closes never do.
func reconnectEligible(reason string) bool {
	return reason == ReasonServerDisconnect || reason == ReasonTransportClose
}

// fire marshals a payload and dispatches it to the event's handlers.
func (m *Manager) fire(event string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			m.logger.Error("failed to marshal local event payload", "event", event, "error", err)
			return
		}
		raw = b
	}
	m.fireRaw(event, raw)
}

// fireRaw dispatches a payload to every handler registered for the event,
// in registration order.
func (m *Manager) fireRaw(event string, payload json.RawMessage) {
	m.handlersMu.Lock()
	hs := make([]Handler, len(m.handlers[event]))
	copy(hs, m.handlers[event])
	m.handlersMu.Unlock()

	for _, h := range hs {
		h(payload)
	}
}
