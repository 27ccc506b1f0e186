package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/labdash/internal/auth"
	"github.com/nerrad567/labdash/internal/device"
	"github.com/nerrad567/labdash/internal/relay"
)

// newTestClient creates a connectionless client registered with hub.
func newTestClient(hub *Hub) *WSClient {
	c := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 16),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(c)
	return c
}

func nextEnvelope(t *testing.T, c *WSClient) relay.Envelope {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var env relay.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("decoding envelope %s: %v", data, err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return relay.Envelope{}
}

func expectNoEnvelope(t *testing.T, c *WSClient) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected envelope %s", data)
	default:
	}
}

func sendJSON(t *testing.T, c *WSClient, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	c.handleMessage(data)
}

func errorMessage(t *testing.T, env relay.Envelope) string {
	t.Helper()
	if env.Type != relay.TypeError {
		t.Fatalf("envelope type = %q, want error (payload %s)", env.Type, env.Payload)
	}
	var p relay.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decoding error payload: %v", err)
	}
	return p.Message
}

// ─── Hub ───────────────────────────────────────────────────────────

func TestHub_BroadcastBySubscription(t *testing.T) {
	srv, _ := testServer(t)
	hub := srv.Hub()

	subscribed := newTestClient(hub)
	other := newTestClient(hub)
	sendJSON(t, subscribed, relay.Envelope{Type: relay.TypeSubscribe, ID: "s1", Channel: "sensorData/1"})
	if resp := nextEnvelope(t, subscribed); resp.Type != relay.TypeResponse || resp.ID != "s1" {
		t.Fatalf("subscribe reply = %+v", resp)
	}

	hub.Broadcast("sensorData/1", map[string]int{"led": 1})

	env := nextEnvelope(t, subscribed)
	if env.Type != relay.TypeEvent || env.Channel != "sensorData/1" || string(env.Payload) != `{"led":1}` {
		t.Errorf("event = %+v", env)
	}
	expectNoEnvelope(t, other)

	if n := hub.ClientCount(); n != 2 {
		t.Errorf("ClientCount() = %d, want 2", n)
	}
	hub.Unregister(other)
	hub.Unregister(other) // second unregister must not double-close
	if n := hub.ClientCount(); n != 1 {
		t.Errorf("ClientCount() after unregister = %d, want 1", n)
	}
}

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	srv, _ := testServer(t)
	c := newTestClient(srv.Hub())

	sendJSON(t, c, relay.Envelope{
		Type:    relay.TypeSubscribe,
		Payload: json.RawMessage(`{"channels":["sensorData/1","command-response/1"]}`),
	})
	resp := nextEnvelope(t, c)
	if !strings.Contains(string(resp.Payload), `"subscribed":["sensorData/1","command-response/1"]`) {
		t.Errorf("subscribe reply payload = %s", resp.Payload)
	}
	if !c.isSubscribed("command-response/1") {
		t.Error("expected subscription to command-response/1")
	}

	sendJSON(t, c, relay.Envelope{Type: relay.TypeUnsubscribe, Channel: "sensorData/1"})
	if resp := nextEnvelope(t, c); !strings.Contains(string(resp.Payload), "unsubscribed") {
		t.Errorf("unsubscribe reply payload = %s", resp.Payload)
	}
	srv.Hub().Broadcast("sensorData/1", 1)
	expectNoEnvelope(t, c)
}

func TestHub_MessageErrors(t *testing.T) {
	srv, _ := testServer(t)
	c := newTestClient(srv.Hub())

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"not json", `{`, "invalid JSON"},
		{"unknown type", `{"type":"shout"}`, "unknown message type"},
		{"subscribe without channel", `{"type":"subscribe"}`, "at least one channel"},
		{"subscribe bad payload", `{"type":"subscribe","payload":"x"}`, "invalid subscribe payload"},
		{"send without destination", `{"type":"send"}`, "cannot deliver"},
		{"unknown destination", `{"type":"send","destination":"elsewhere/1"}`, "unknown destination"},
		{"non numeric id", `{"type":"send","destination":"device/node_1"}`, "positive integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.handleMessage([]byte(tt.raw))
			if msg := errorMessage(t, nextEnvelope(t, c)); !strings.Contains(msg, tt.want) {
				t.Errorf("error = %q, want it to contain %q", msg, tt.want)
			}
		})
	}
}

func TestHub_Ping(t *testing.T) {
	srv, _ := testServer(t)
	c := newTestClient(srv.Hub())

	sendJSON(t, c, relay.Envelope{Type: relay.TypePing, ID: "hb-1"})
	if env := nextEnvelope(t, c); env.Type != relay.TypePong || env.ID != "hb-1" {
		t.Errorf("pong = %+v", env)
	}
}

func TestHub_RunClosesClients(t *testing.T) {
	srv, _ := testServer(t)
	hub := srv.Hub()
	c := newTestClient(hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if _, ok := <-c.send; ok {
		t.Error("send channel still open after Run returned")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
	c.trySend([]byte("late")) // must not panic
}

// ─── Relay send ────────────────────────────────────────────────────

func TestRelayFetch(t *testing.T) {
	srv, reg := testServer(t)
	d := seedDevice(t, reg, "node_7")
	c := newTestClient(srv.Hub())
	channel := relay.SensorTopic(fmt.Sprint(d.ID))

	sendJSON(t, c, relay.Envelope{Type: relay.TypeSubscribe, Channel: channel})
	nextEnvelope(t, c)

	fetch := relay.Envelope{Type: relay.TypeSend, ID: "f1", Destination: relay.FetchDestination(fmt.Sprint(d.ID))}
	sendJSON(t, c, fetch)
	if msg := errorMessage(t, nextEnvelope(t, c)); msg != "no sensor data for device" {
		t.Errorf("error = %q", msg)
	}

	if err := reg.RecordFrame(context.Background(), &device.Frame{DeviceID: d.ID, Temperature: 26.5, Led: 1}); err != nil {
		t.Fatalf("RecordFrame: %v", err)
	}
	sendJSON(t, c, fetch)

	event := nextEnvelope(t, c)
	if event.Type != relay.TypeEvent || event.Channel != channel {
		t.Fatalf("event = %+v", event)
	}
	var frame relay.SensorFrame
	if err := json.Unmarshal(event.Payload, &frame); err != nil {
		t.Fatalf("decoding frame: %v", err)
	}
	if frame.Temperature != 26.5 || frame.Led != 1 {
		t.Errorf("frame = %+v", frame)
	}
	if resp := nextEnvelope(t, c); resp.Type != relay.TypeResponse || resp.ID != "f1" {
		t.Errorf("response = %+v", resp)
	}

	sendJSON(t, c, relay.Envelope{Type: relay.TypeSend, Destination: relay.FetchDestination("404")})
	if msg := errorMessage(t, nextEnvelope(t, c)); msg != "device not found" {
		t.Errorf("error = %q", msg)
	}
}

func TestRelayHistory(t *testing.T) {
	srv, reg := testServer(t)
	d := seedDevice(t, reg, "node_7")
	for i := 1; i <= 3; i++ {
		if err := reg.RecordFrame(context.Background(), &device.Frame{
			DeviceID:    d.ID,
			Temperature: float64(20 + i),
			CreatedAt:   time.Date(2025, 5, 1, 10, 0, i, 0, time.UTC),
		}); err != nil {
			t.Fatalf("RecordFrame: %v", err)
		}
	}
	c := newTestClient(srv.Hub())
	channel := relay.HistoryTopic(fmt.Sprint(d.ID))

	sendJSON(t, c, relay.Envelope{Type: relay.TypeSubscribe, Channel: channel})
	nextEnvelope(t, c)

	sendJSON(t, c, relay.Envelope{
		Type:        relay.TypeSend,
		ID:          "h1",
		Destination: relay.HistoryDestination(fmt.Sprint(d.ID)),
		Payload:     json.RawMessage(`{"page":0,"size":2}`),
	})

	event := nextEnvelope(t, c)
	if event.Type != relay.TypeEvent || event.Channel != channel {
		t.Fatalf("event = %+v", event)
	}
	var page PageResponse[relay.SensorFrame]
	if err := json.Unmarshal(event.Payload, &page); err != nil {
		t.Fatalf("decoding page: %v", err)
	}
	if page.MetaData != (PageMeta{Page: 0, Size: 2, Total: 3, TotalPage: 2}) {
		t.Errorf("metaData = %+v", page.MetaData)
	}
	if len(page.Data) != 2 || page.Data[0].Temperature != 23 {
		t.Errorf("data = %+v, want newest first", page.Data)
	}
	if resp := nextEnvelope(t, c); resp.Type != relay.TypeResponse || resp.ID != "h1" {
		t.Errorf("response = %+v", resp)
	}

	// A send with no payload uses the default page.
	sendJSON(t, c, relay.Envelope{Type: relay.TypeSend, Destination: relay.HistoryDestination(fmt.Sprint(d.ID))})
	if err := json.Unmarshal(nextEnvelope(t, c).Payload, &page); err != nil {
		t.Fatalf("decoding default page: %v", err)
	}
	if page.MetaData.Size != device.DefaultPageSize || len(page.Data) != 3 {
		t.Errorf("default page = %+v", page.MetaData)
	}
	nextEnvelope(t, c)

	tests := []struct {
		name    string
		dest    string
		payload string
		want    string
	}{
		{"unknown device", relay.HistoryDestination("404"), "", "device not found"},
		{"negative page", relay.HistoryDestination(fmt.Sprint(d.ID)), `{"page":-1}`, "must be non-negative"},
		{"bad payload", relay.HistoryDestination(fmt.Sprint(d.ID)), `[1]`, "cannot unmarshal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := relay.Envelope{Type: relay.TypeSend, Destination: tt.dest}
			if tt.payload != "" {
				env.Payload = json.RawMessage(tt.payload)
			}
			sendJSON(t, c, env)
			if msg := errorMessage(t, nextEnvelope(t, c)); !strings.Contains(msg, tt.want) {
				t.Errorf("error = %q, want it to contain %q", msg, tt.want)
			}
		})
	}
	expectNoEnvelope(t, c)
}

func TestRelayCommand_Published(t *testing.T) {
	pub := newFakePublisher()
	srv, reg := testServer(t, withPublisher(pub))
	d := seedDevice(t, reg, "node_7")
	c := newTestClient(srv.Hub())

	sendJSON(t, c, relay.Envelope{
		Type:        relay.TypeSend,
		ID:          "cmd-1",
		Destination: relay.CommandDestination(fmt.Sprint(d.ID)),
		Payload:     json.RawMessage(`{"deviceName":"node_7","fan":1,"led":0}`),
	})

	resp := nextEnvelope(t, c)
	if resp.Type != relay.TypeResponse || resp.ID != "cmd-1" {
		t.Fatalf("response = %+v", resp)
	}
	var body struct {
		CommandID int64  `json:"commandId"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(resp.Payload, &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Status != string(device.CommandSent) || body.CommandID == 0 {
		t.Errorf("response body = %+v", body)
	}

	got, ok := pub.payload("node_7")
	if !ok {
		t.Fatal("command not published to hardware id node_7")
	}
	if got != `{"fan":1,"led":0}` {
		t.Errorf("published payload = %s, want deviceName stripped", got)
	}

	cmd, err := reg.AcknowledgeCommand(context.Background(), "node_7", "OK")
	if err != nil {
		t.Fatalf("AcknowledgeCommand: %v", err)
	}
	if cmd.ID != body.CommandID || cmd.Command != got {
		t.Errorf("audited command = %+v", cmd)
	}
}

func TestRelayCommand_Failures(t *testing.T) {
	tests := []struct {
		name    string
		pub     CommandPublisher
		payload string
		dest    string
		want    string
	}{
		{"no broker", nil, `{"led":1}`, "", "command not delivered: upstream broker unavailable"},
		{"publish error", &fakePublisher{err: errors.New("not connected")}, `{"led":1}`, "", "command not delivered: not connected"},
		{"unknown actuator", newFakePublisher(), `{"laser":1}`, "", "unknown actuator"},
		{"bad state", newFakePublisher(), `{"led":5}`, "", "must be 0 or 1"},
		{"unknown device", newFakePublisher(), `{"led":1}`, relay.CommandDestination("99"), "device not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, reg := testServer(t, withPublisher(tt.pub))
			d := seedDevice(t, reg, "node_7")
			c := newTestClient(srv.Hub())

			dest := tt.dest
			if dest == "" {
				dest = relay.CommandDestination(fmt.Sprint(d.ID))
			}
			sendJSON(t, c, relay.Envelope{Type: relay.TypeSend, Destination: dest, Payload: json.RawMessage(tt.payload)})

			if msg := errorMessage(t, nextEnvelope(t, c)); !strings.Contains(msg, tt.want) {
				t.Errorf("error = %q, want it to contain %q", msg, tt.want)
			}
			// Failed deliveries are audited as FAILED, never as outstanding.
			if _, err := reg.AcknowledgeCommand(context.Background(), "node_7", "OK"); !errors.Is(err, device.ErrCommandNotFound) {
				t.Errorf("AcknowledgeCommand() error = %v, want ErrCommandNotFound", err)
			}
		})
	}
}

// ─── WebSocket round trip ──────────────────────────────────────────

func dialRelay(t *testing.T, ts *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readRelay(t *testing.T, conn *websocket.Conn) relay.Envelope {
	t.Helper()
	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env relay.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("reading envelope: %v", err)
	}
	return env
}

func TestWebSocket_RoundTrip(t *testing.T) {
	srv, reg := testServer(t, withSecret(testSecret))
	d := seedDevice(t, reg, "node_7")
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	if _, resp, err := dialRelay(t, ts, ""); err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without token: err = %v, resp = %v", err, resp)
	}

	token, err := auth.IssueToken("dashboard", "", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	conn, _, err := dialRelay(t, ts, "?token="+token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	channel := relay.SensorTopic(fmt.Sprint(d.ID))
	if err := conn.WriteJSON(relay.Envelope{Type: relay.TypeSubscribe, ID: "sub", Channel: channel}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if env := readRelay(t, conn); env.Type != relay.TypeResponse || env.ID != "sub" {
		t.Fatalf("subscribe reply = %+v", env)
	}

	srv.Hub().Broadcast(channel, relay.SensorFrame{Temperature: 21})
	env := readRelay(t, conn)
	if env.Type != relay.TypeEvent || env.Channel != channel {
		t.Fatalf("event = %+v", env)
	}

	if err := conn.WriteJSON(relay.Envelope{Type: relay.TypePing, ID: "p"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if env := readRelay(t, conn); env.Type != relay.TypePong || env.ID != "p" {
		t.Errorf("pong = %+v", env)
	}
}
