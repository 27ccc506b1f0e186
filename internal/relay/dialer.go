package relay

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/labdash/internal/connection"
)

// Relay transport defaults.
const (
	DefaultPath           = "/api/v1/ws"
	DefaultReconnectDelay = 5 * time.Second
	DefaultHeartbeat      = 4 * time.Second

	// maxMessageSize bounds inbound relay messages.
	maxMessageSize = 64 * 1024
)

// Session is a live relay connection.
type Session interface {
	connection.Conn

	// Subscribe asks the relay to stream channel to this connection.
	Subscribe(channel string) error

	// Send delivers payload to a relay destination.
	Send(destination string, payload any) error
}

// TokenSource supplies the bearer token for the relay handshake.
// auth.TokenStore satisfies it.
type TokenSource interface {
	Token() (string, bool)
}

// WebSocketDialer connects to the relay server with gorilla/websocket.
//
// A session reconnects on its own: after a failed handshake or a dropped
// connection it waits cfg.ReconnectPeriod (default 5s) and tries again, until
// closed. A 401 from the relay is not retried. cfg.KeepAlive is the ping
// heartbeat (default 4s); a connection that answers nothing for three
// heartbeats is considered dead.
type WebSocketDialer struct {
	Tokens    TokenSource
	TLSConfig *tls.Config
	Logger    connection.Logger
}

// Dial starts a relay session for cfg. It returns immediately; handshake
// results arrive through events.
func (d *WebSocketDialer) Dial(cfg connection.Config, events connection.Events) (Session, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.ReconnectPeriod <= 0 {
		cfg.ReconnectPeriod = DefaultReconnectDelay
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultHeartbeat
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &wsSession{
		dialer: d,
		cfg:    cfg,
		events: events,
		ctx:    ctx,
		cancel: cancel,
	}
	go s.run()
	return s, nil
}

// wsSession owns one logical relay connection across reconnects.
type wsSession struct {
	dialer *WebSocketDialer
	cfg    connection.Config
	events connection.Events
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards conn and serialises writes; gorilla allows one concurrent writer.
	mu   sync.Mutex
	conn *websocket.Conn
}

// run connects, reads until the connection drops and reconnects until closed.
func (s *wsSession) run() {
	reconnecting := false
	for {
		op := func() error {
			if s.ctx.Err() != nil {
				return backoff.Permanent(s.ctx.Err())
			}
			if reconnecting {
				s.events.Reconnecting()
			}
			reconnecting = true
			return s.dialOnce()
		}
		notify := func(err error, wait time.Duration) {
			s.logDebug("relay handshake failed", "error", err, "retry_in", wait)
			s.events.Failed(err)
		}

		b := backoff.WithContext(backoff.NewConstantBackOff(s.cfg.ReconnectPeriod), s.ctx)
		if err := backoff.RetryNotify(op, b, notify); err != nil {
			if s.ctx.Err() == nil {
				s.events.Failed(err)
			}
			return
		}

		s.events.Connected()
		err := s.readLoop()
		if s.ctx.Err() != nil {
			return
		}
		s.events.Closed(err)

		select {
		case <-time.After(s.cfg.ReconnectPeriod):
		case <-s.ctx.Done():
			return
		}
	}
}

// dialOnce performs one handshake and installs the connection.
func (s *wsSession) dialOnce() error {
	header := http.Header{}
	if s.dialer.Tokens != nil {
		if token, ok := s.dialer.Tokens.Token(); ok {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	ws := websocket.Dialer{
		HandshakeTimeout: s.cfg.ConnectTimeout,
		TLSClientConfig:  s.dialer.TLSConfig,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, resp, err := ws.DialContext(s.ctx, s.cfg.URL(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrUnauthorized, err))
		}
		return err
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return backoff.Permanent(s.ctx.Err())
	}
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// readLoop dispatches inbound envelopes until the connection fails.
func (s *wsSession) readLoop() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}

	deadline := 3 * s.cfg.KeepAlive
	conn.SetReadLimit(maxMessageSize)
	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	stop := make(chan struct{})
	defer close(stop)
	go s.heartbeat(conn, stop)

	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		//nolint:errcheck // Any traffic proves liveness
		conn.SetReadDeadline(time.Now().Add(deadline))
		s.dispatch(data)
	}
}

// heartbeat pings the relay every KeepAlive until stop is closed.
func (s *wsSession) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.KeepAlive))
			s.mu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// dispatch turns event envelopes into connection messages.
func (s *wsSession) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logWarn("relay sent invalid JSON", "error", err)
		return
	}

	switch env.Type {
	case TypeEvent:
		s.events.Message(connection.Message{Topic: env.Channel, Payload: env.Payload})
	case TypeError:
		var p ErrorPayload
		_ = json.Unmarshal(env.Payload, &p) //nolint:errcheck // message is informational
		s.logWarn("relay reported error", "id", env.ID, "message", p.Message)
	case TypeResponse, TypePong:
	default:
		s.logDebug("ignoring relay message", "type", env.Type)
	}
}

func (s *wsSession) Subscribe(channel string) error {
	env, err := NewEnvelope(TypeSubscribe, SubscribePayload{Channels: []string{channel}})
	if err != nil {
		return err
	}
	env.Channel = channel
	return s.write(env)
}

func (s *wsSession) Send(destination string, payload any) error {
	env, err := NewEnvelope(TypeSend, payload)
	if err != nil {
		return err
	}
	env.Destination = destination
	return s.write(env)
}

func (s *wsSession) write(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return connection.ErrNotConnected
	}
	//nolint:errcheck // Best-effort deadline; write error caught below
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.KeepAlive))
	if err := s.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("%w: %w", connection.ErrTransport, err)
	}
	return nil
}

// Close stops reconnecting and closes the current connection.
func (s *wsSession) Close() error {
	s.cancel()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	//nolint:errcheck // Best-effort close frame
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *wsSession) logDebug(msg string, args ...any) {
	if s.dialer.Logger != nil {
		s.dialer.Logger.Debug(msg, args...)
	}
}

func (s *wsSession) logWarn(msg string, args ...any) {
	if s.dialer.Logger != nil {
		s.dialer.Logger.Warn(msg, args...)
	}
}
