package connection

import (
	"errors"
	"fmt"
	"sync"
)

// Conn is a live transport connection owned by a Manager.
type Conn interface {
	// Close requests graceful shutdown. The transport must not report further
	// events for this connection once Close returns.
	Close() error
}

// Message is an inbound message delivered by a transport.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Events receives lifecycle notifications for one connection.
//
// Transports may call these from any goroutine, but never from inside Dial.
type Events interface {
	// Connected reports a completed handshake (initial or after a retry).
	Connected()

	// Reconnecting reports that the transport is starting a retry attempt.
	Reconnecting()

	// Failed reports a transport error. It does not imply the connection closed.
	Failed(err error)

	// Closed reports that the connection went down. err is nil for a graceful close.
	Closed(err error)

	// Message delivers an inbound message.
	Message(msg Message)
}

// Dialer starts transport connections of type C.
//
// Dial must return as soon as the handshake has been started. Handshake
// completion, failures and retries are reported through events.
type Dialer[C Conn] interface {
	Dial(cfg Config, events Events) (C, error)
}

// Logger is the optional logging interface used by the manager.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Manager owns the lifecycle of at most one transport connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Events from a replaced or closed connection are discarded.
type Manager[C Conn] struct {
	dialer Dialer[C]

	mu      sync.RWMutex
	state   State
	lastErr error
	cfg     Config
	conn    C
	hasConn bool
	// active is true between Connect and Disconnect.
	active bool
	// gen identifies the current connection; bumped on every Connect/Disconnect.
	gen uint64

	onConnect     func()
	onDisconnect  func(err error)
	onError       func(err error)
	onMessage     func(msg Message)
	onStateChange func(from, to State)
	callbackMu    sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewManager creates a disconnected manager that dials through dialer.
func NewManager[C Conn](dialer Dialer[C]) *Manager[C] {
	return &Manager[C]{dialer: dialer}
}

// Connect replaces any existing connection with a new one built from cfg.
//
// The configuration is validated first; an invalid configuration returns
// ErrInvalidConfig and leaves the manager untouched. Otherwise an existing
// connection is torn down, the state moves to connecting before any network
// I/O starts, and the transport is dialled. Handshake results arrive later
// through the observer callbacks.
//
// Returns:
//   - error: ErrInvalidConfig, or a wrapped ErrTransport if the transport
//     refused to start (the state is then error)
func (m *Manager[C]) Connect(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	old, hadConn := m.conn, m.hasConn
	prev := m.state
	wasActive := m.active

	var zero C
	m.gen++
	l := &link[C]{m: m, gen: m.gen, ready: make(chan struct{})}
	m.conn, m.hasConn = zero, false
	m.active = true
	m.cfg = cfg
	m.state = StateConnecting
	m.mu.Unlock()

	// Events for this connection wait until the dial outcome is recorded.
	defer close(l.ready)

	if hadConn {
		m.closeConn(old)
	}
	if wasActive && prev != StateDisconnected {
		m.notifyState(prev, StateDisconnected)
		m.notifyDisconnect(nil)
		prev = StateDisconnected
	}
	m.notifyState(prev, StateConnecting)

	conn, err := m.dialer.Dial(cfg, l)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrTransport, err)
		m.handleFailed(l.gen, err)
		return err
	}

	m.mu.Lock()
	if m.gen != l.gen {
		// Superseded by a concurrent Connect or Disconnect while dialling.
		m.mu.Unlock()
		m.closeConn(conn)
		return nil
	}
	m.conn, m.hasConn = conn, true
	m.mu.Unlock()

	return nil
}

// Disconnect closes the current connection and moves to disconnected.
//
// The previous error is cleared and OnDisconnect is invoked once. Calling
// Disconnect with no connection is a no-op.
//
// Returns:
//   - error: the transport's close error, if any
func (m *Manager[C]) Disconnect() error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return nil
	}
	conn, hadConn := m.conn, m.hasConn
	prev := m.state

	var zero C
	m.gen++
	m.conn, m.hasConn = zero, false
	m.active = false
	m.state = StateDisconnected
	m.lastErr = nil
	m.mu.Unlock()

	var err error
	if hadConn {
		err = m.closeConn(conn)
	}
	if prev != StateDisconnected {
		m.notifyState(prev, StateDisconnected)
		m.notifyDisconnect(nil)
	}
	return err
}

// Close releases the connection when the owner goes away. It is Disconnect
// under the name callers use with defer.
func (m *Manager[C]) Close() error {
	return m.Disconnect()
}

// State returns the current connection state.
func (m *Manager[C]) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether the state is connected.
func (m *Manager[C]) IsConnected() bool {
	return m.State() == StateConnected
}

// LastError returns the most recent transport error, or nil. Only the latest
// error is retained; a successful handshake or Disconnect clears it.
func (m *Manager[C]) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Config returns the configuration of the current (or last) connection.
func (m *Manager[C]) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Conn returns the live connection when the state is connected.
//
// Returns:
//   - C: the connection
//   - error: ErrNotConnected if there is no established connection
func (m *Manager[C]) Conn() (C, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateConnected || !m.hasConn {
		var zero C
		return zero, ErrNotConnected
	}
	return m.conn, nil
}

// SetOnConnect sets the callback invoked once per successful handshake.
func (m *Manager[C]) SetOnConnect(callback func()) {
	m.callbackMu.Lock()
	m.onConnect = callback
	m.callbackMu.Unlock()
}

// SetOnDisconnect sets the callback invoked when the connection goes down.
// err is nil for an explicit Disconnect.
func (m *Manager[C]) SetOnDisconnect(callback func(err error)) {
	m.callbackMu.Lock()
	m.onDisconnect = callback
	m.callbackMu.Unlock()
}

// SetOnError sets the callback invoked for every transport error.
func (m *Manager[C]) SetOnError(callback func(err error)) {
	m.callbackMu.Lock()
	m.onError = callback
	m.callbackMu.Unlock()
}

// SetOnMessage sets the callback invoked for every inbound message on the
// current connection.
func (m *Manager[C]) SetOnMessage(callback func(msg Message)) {
	m.callbackMu.Lock()
	m.onMessage = callback
	m.callbackMu.Unlock()
}

// SetOnStateChange sets the callback invoked on every state transition.
func (m *Manager[C]) SetOnStateChange(callback func(from, to State)) {
	m.callbackMu.Lock()
	m.onStateChange = callback
	m.callbackMu.Unlock()
}

// SetLogger sets a logger for lifecycle logging.
func (m *Manager[C]) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

func (m *Manager[C]) getLogger() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

// =============================================================================
// Transport event handling
// =============================================================================

// link binds one connection's events to the manager. Events carrying a stale
// generation are dropped.
type link[C Conn] struct {
	m     *Manager[C]
	gen   uint64
	ready chan struct{}
}

func (l *link[C]) Connected() {
	<-l.ready
	l.m.handleConnected(l.gen)
}

func (l *link[C]) Reconnecting() {
	<-l.ready
	l.m.transition(l.gen, StateConnecting)
}

func (l *link[C]) Failed(err error) {
	<-l.ready
	if err == nil {
		err = errors.New("unknown transport failure")
	}
	if !errors.Is(err, ErrTransport) {
		err = fmt.Errorf("%w: %w", ErrTransport, err)
	}
	l.m.handleFailed(l.gen, err)
}

func (l *link[C]) Closed(err error) {
	<-l.ready
	l.m.handleClosed(l.gen, err)
}

func (l *link[C]) Message(msg Message) {
	<-l.ready
	l.m.handleMessage(l.gen, msg)
}

func (m *Manager[C]) handleConnected(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = StateConnected
	m.lastErr = nil
	url := m.cfg.URL()
	m.mu.Unlock()

	if logger := m.getLogger(); logger != nil {
		logger.Debug("transport connected", "url", url)
	}
	m.notifyState(prev, StateConnected)

	m.callbackMu.RLock()
	callback := m.onConnect
	m.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (m *Manager[C]) handleFailed(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = StateError
	m.lastErr = err
	m.mu.Unlock()

	if logger := m.getLogger(); logger != nil {
		logger.Warn("transport error", "error", err)
	}
	m.notifyState(prev, StateError)

	m.callbackMu.RLock()
	callback := m.onError
	m.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (m *Manager[C]) handleClosed(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = StateDisconnected
	m.mu.Unlock()

	if logger := m.getLogger(); logger != nil {
		logger.Debug("transport closed", "error", err)
	}
	m.notifyState(prev, StateDisconnected)
	m.notifyDisconnect(err)
}

func (m *Manager[C]) handleMessage(gen uint64, msg Message) {
	m.mu.RLock()
	stale := gen != m.gen
	m.mu.RUnlock()
	if stale {
		return
	}

	m.callbackMu.RLock()
	callback := m.onMessage
	m.callbackMu.RUnlock()
	if callback != nil {
		callback(msg)
	}
}

// transition moves to state `to` for the given generation without other side effects.
func (m *Manager[C]) transition(gen uint64, to State) {
	m.mu.Lock()
	if gen != m.gen || m.state == to {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = to
	m.mu.Unlock()

	m.notifyState(prev, to)
}

func (m *Manager[C]) notifyState(from, to State) {
	if from == to {
		return
	}
	m.callbackMu.RLock()
	callback := m.onStateChange
	m.callbackMu.RUnlock()
	if callback != nil {
		callback(from, to)
	}
}

func (m *Manager[C]) notifyDisconnect(err error) {
	m.callbackMu.RLock()
	callback := m.onDisconnect
	m.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (m *Manager[C]) closeConn(conn C) error {
	if err := conn.Close(); err != nil {
		if logger := m.getLogger(); logger != nil {
			logger.Warn("closing transport", "error", err)
		}
		return fmt.Errorf("%w: close: %w", ErrTransport, err)
	}
	return nil
}
