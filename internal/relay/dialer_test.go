package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/labdash/internal/connection"
)

// staticToken is a TokenSource with a fixed token.
type staticToken string

func (s staticToken) Token() (string, bool) { return string(s), s != "" }

// relayStub is a minimal relay server that records what clients send.
type relayStub struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	auth     []string
	received []Envelope
	conns    []*websocket.Conn
	reject   bool
}

func newRelayStub(t *testing.T) (*relayStub, *httptest.Server) {
	stub := &relayStub{t: t}
	srv := httptest.NewServer(http.HandlerFunc(stub.serve))
	t.Cleanup(srv.Close)
	return stub, srv
}

func (s *relayStub) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	reject := s.reject
	s.mu.Unlock()

	if reject {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, env)
		s.mu.Unlock()

		if env.Type == TypeSend && env.Destination == "device/7" {
			frame, _ := json.Marshal(SensorFrame{ID: 42, Temperature: 19.5})
			//nolint:errcheck // test stub
			conn.WriteJSON(Envelope{Type: TypeEvent, Channel: "sensorData/7", Payload: frame})
		}
	}
}

func (s *relayStub) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *relayStub) snapshot() ([]string, []Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth...), append([]Envelope(nil), s.received...)
}

func stubConfig(t *testing.T, srv *httptest.Server) connection.Config {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	return connection.Config{
		Address:         u.Hostname(),
		Port:            u.Port(),
		Path:            "/ws",
		ReconnectPeriod: 20 * time.Millisecond,
		KeepAlive:       time.Second,
		ConnectTimeout:  time.Second,
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketDialerEndToEnd(t *testing.T) {
	stub, srv := newRelayStub(t)

	dialer := &WebSocketDialer{Tokens: staticToken("abc.def.ghi")}
	ch, err := Open(dialer, "7", stubConfig(t, srv), Options{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer ch.Close()

	waitUntil(t, "initial frame", func() bool { return ch.Frame().ID == 42 })

	auth, received := stub.snapshot()
	if len(auth) == 0 || auth[0] != "Bearer abc.def.ghi" {
		t.Errorf("Authorization = %v", auth)
	}
	if len(received) < 2 || received[0].Type != TypeSubscribe || received[1].Destination != "device/7" {
		t.Fatalf("received = %+v", received)
	}
	var sub SubscribePayload
	if err := json.Unmarshal(received[0].Payload, &sub); err != nil || len(sub.Channels) != 1 || sub.Channels[0] != "sensorData/7" {
		t.Errorf("subscribe payload = %s", received[0].Payload)
	}

	ch.ToggleFan()
	waitUntil(t, "command", func() bool {
		_, received := stub.snapshot()
		return len(received) == 3
	})
	_, received = stub.snapshot()
	cmd := received[2]
	if cmd.Destination != "publish/command/7" || string(cmd.Payload) != `{"deviceName":"node_7","fan":1}` {
		t.Errorf("command envelope = %+v (payload %s)", cmd, cmd.Payload)
	}
}

func TestWebSocketDialerReconnects(t *testing.T) {
	stub, srv := newRelayStub(t)

	var mu sync.Mutex
	connects, disconnects := 0, 0

	ch, err := NewChannel(&WebSocketDialer{}, "7", Options{})
	if err != nil {
		t.Fatalf("NewChannel() error = %v", err)
	}
	defer ch.Close()
	ch.SetOnConnect(func() { mu.Lock(); connects++; mu.Unlock() })
	ch.SetOnDisconnect(func(error) { mu.Lock(); disconnects++; mu.Unlock() })

	if err := ch.Connect(stubConfig(t, srv)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitUntil(t, "first handshake", func() bool { mu.Lock(); defer mu.Unlock(); return connects == 1 })

	stub.dropAll()

	waitUntil(t, "second handshake", func() bool { mu.Lock(); defer mu.Unlock(); return connects == 2 })
	mu.Lock()
	if disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", disconnects)
	}
	mu.Unlock()

	_, received := stub.snapshot()
	subs := 0
	for _, env := range received {
		if env.Type == TypeSubscribe {
			subs++
		}
	}
	if subs != 2 {
		t.Errorf("subscribe requests = %d, want one per connection", subs)
	}
}

func TestWebSocketDialerUnauthorizedNotRetried(t *testing.T) {
	stub, srv := newRelayStub(t)
	stub.reject = true

	ch, err := Open(&WebSocketDialer{Tokens: staticToken("expired")}, "7", stubConfig(t, srv), Options{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer ch.Close()

	waitUntil(t, "error state", func() bool { return ch.State() == connection.StateError })
	if !errors.Is(ch.LastError(), ErrUnauthorized) {
		t.Errorf("LastError() = %v, want ErrUnauthorized", ch.LastError())
	}

	time.Sleep(100 * time.Millisecond)
	if auth, _ := stub.snapshot(); len(auth) != 1 {
		t.Errorf("handshake attempts = %d, want 1", len(auth))
	}
}

func TestWebSocketDialerRetriesUnreachable(t *testing.T) {
	_, srv := newRelayStub(t)
	cfg := stubConfig(t, srv)
	srv.Close()

	var mu sync.Mutex
	var states []string

	ch, err := NewChannel(&WebSocketDialer{}, "7", Options{})
	if err != nil {
		t.Fatalf("NewChannel() error = %v", err)
	}
	defer ch.Close()
	ch.SetOnStateChange(func(from, to connection.State) {
		mu.Lock()
		states = append(states, from.String()+"->"+to.String())
		mu.Unlock()
	})

	if err := ch.Connect(cfg); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitUntil(t, "a retry", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return strings.Contains(strings.Join(states, ","), "error->connecting")
	})
}
