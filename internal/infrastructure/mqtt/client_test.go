package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/labdash/internal/infrastructure/config"
)

func testTopics() config.MQTTTopicsConfig {
	return config.MQTTTopicsConfig{
		Data:            "iot/data",
		CommandResponse: "iot/command-response/#",
		CommandPrefix:   "iot/command/",
	}
}

// testConfig targets a local Mosquitto at 127.0.0.1:1883.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "labdash-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		Topics: testTopics(),
	}
}

// connectOrSkip returns a connected client or skips when no broker runs.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg)
	if err != nil {
		t.Skipf("MQTT broker not available: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopics(t *testing.T) {
	topics := NewTopics(testTopics())

	if got := topics.Data(); got != "iot/data" {
		t.Errorf("Data() = %q", got)
	}
	if got := topics.CommandResponses(); got != "iot/command-response/#" {
		t.Errorf("CommandResponses() = %q", got)
	}
	if got := topics.Command("node_7"); got != "iot/command/node_7" {
		t.Errorf("Command() = %q", got)
	}
}

func TestTopicsResponseDevice(t *testing.T) {
	topics := NewTopics(testTopics())

	tests := []struct {
		topic  string
		device string
		ok     bool
	}{
		{"iot/command-response/node_7", "node_7", true},
		{"iot/command-response/node_7/extra", "node_7", true},
		{"iot/command-response/", "", false},
		{"iot/data", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			device, ok := topics.ResponseDevice(tt.topic)
			if device != tt.device || ok != tt.ok {
				t.Errorf("ResponseDevice(%q) = %q, %v; want %q, %v", tt.topic, device, ok, tt.device, tt.ok)
			}
		})
	}

	exact := NewTopics(config.MQTTTopicsConfig{CommandResponse: "iot/command-response"})
	if _, ok := exact.ResponseDevice("iot/command-response"); ok {
		t.Error("ResponseDevice() matched a filter without a multi-level wildcard")
	}
}

// =============================================================================
// Option Tests
// =============================================================================

func TestBrokerURL(t *testing.T) {
	cfg := testConfig()
	if got := brokerURL(cfg); got != "tcp://127.0.0.1:1883" {
		t.Errorf("brokerURL() = %q", got)
	}
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	if got := brokerURL(cfg); got != "ssl://127.0.0.1:8883" {
		t.Errorf("brokerURL(tls) = %q", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "lab", Password: "secret"}
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if opts.ClientID != "labdash-test" || !opts.CleanSession || !opts.AutoReconnect {
		t.Errorf("options = id %q clean %v auto %v", opts.ClientID, opts.CleanSession, opts.AutoReconnect)
	}
	if opts.Username != "lab" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if opts.TLSConfig == nil {
		t.Error("TLS config not applied")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v", opts.MaxReconnectInterval)
	}
	if !opts.WillEnabled || opts.WillTopic != StatusTopic || !opts.WillRetained {
		t.Errorf("will = %v %q %v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
}

func TestStatusPayload(t *testing.T) {
	online := statusPayload("relay-1", "online", "")
	if !strings.Contains(online, `"status":"online"`) || strings.Contains(online, "reason") {
		t.Errorf("online payload = %s", online)
	}
	offline := statusPayload("relay-1", "offline", "graceful_shutdown")
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload = %s", offline)
	}
}

// =============================================================================
// Validation Tests (no broker)
// =============================================================================

func TestOperationsWithoutConnection(t *testing.T) {
	c := newClient(testConfig())
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", c.Publish("", nil, 1, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("t", nil, 3, false), ErrInvalidQoS},
		{"publish oversized", c.Publish("t", make([]byte, maxPayloadSize+1), 0, false), ErrPublishFailed},
		{"publish disconnected", c.Publish("t", []byte("x"), 1, false), ErrNotConnected},
		{"command empty device", c.PublishCommand("", nil), ErrInvalidTopic},
		{"subscribe empty", c.Subscribe("", 1, noop), ErrInvalidTopic},
		{"subscribe bad qos", c.Subscribe("t", 5, noop), ErrInvalidQoS},
		{"subscribe nil handler", c.Subscribe("t", 1, nil), ErrSubscribeFailed},
		{"subscribe disconnected", c.Subscribe("t", 1, noop), ErrNotConnected},
		{"unsubscribe empty", c.Unsubscribe(""), ErrInvalidTopic},
		{"unsubscribe disconnected", c.Unsubscribe("t"), ErrNotConnected},
		{"health", c.HealthCheck(context.Background()), ErrNotConnected},
	}

	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, tt.err, tt.want)
		}
	}
	if c.SubscriptionCount() != 0 {
		t.Error("failed subscribe left a tracked subscription")
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping dial test in short mode")
	}
	cfg := testConfig()
	cfg.Broker.Port = 1 // nothing listens here

	start := time.Now()
	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if elapsed := time.Since(start); elapsed > defaultConnectTimeout+5*time.Second {
		t.Errorf("Connect() took %v", elapsed)
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestPublishSubscribeRoundtrip(t *testing.T) {
	client := connectOrSkip(t, "labdash-test-roundtrip")

	var (
		mu       sync.Mutex
		received []string
	)
	done := make(chan struct{}, 1)
	err := client.Subscribe("labdash/test/command-response/#", 1, func(topic string, payload []byte) error {
		mu.Lock()
		received = append(received, topic+"="+string(payload))
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription("labdash/test/command-response/#") || client.SubscriptionCount() != 1 {
		t.Error("subscription not tracked")
	}

	if err := client.Publish("labdash/test/command-response/node_7", []byte(`{"led":1}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
	mu.Lock()
	defer mu.Unlock()
	if received[0] != `labdash/test/command-response/node_7={"led":1}` {
		t.Errorf("received = %v", received)
	}

	if err := client.Unsubscribe("labdash/test/command-response/#"); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Error("subscription still tracked after Unsubscribe")
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	client := connectOrSkip(t, "labdash-test-panic")

	logger := &recordingLogger{}
	client.SetLogger(logger)

	done := make(chan struct{})
	var once sync.Once
	err := client.Subscribe("labdash/test/panic", 1, func(string, []byte) error {
		defer once.Do(func() { close(done) })
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Publish("labdash/test/panic", []byte("x"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler not invoked")
	}
	deadline := time.Now().Add(2 * time.Second)
	for logger.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if logger.count() == 0 {
		t.Error("panic not logged")
	}
}

type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.add(msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add(msg) }

func (l *recordingLogger) add(msg string) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}
