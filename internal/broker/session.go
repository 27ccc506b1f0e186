package broker

import (
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/labdash/internal/connection"
)

const (
	// defaultAckTimeout bounds how long an operation waits for the broker.
	defaultAckTimeout = 5 * time.Second

	// disconnectQuiesceMs is how long paho may spend finishing in-flight work on close.
	disconnectQuiesceMs = 250
)

// Session is a live broker connection.
//
// Publish, Subscribe and Unsubscribe hand the request to the transport and
// return immediately; the broker's answer resolves the returned Ack.
// Inbound messages are reported through the connection.Events the session was
// dialled with, regardless of which subscription requested them.
type Session interface {
	connection.Conn
	Publish(topic string, payload []byte, qos byte) *Ack
	Subscribe(filter string, qos byte) *Ack
	Unsubscribe(filter string) *Ack
}

// PahoDialer dials broker sessions over MQTT-over-WebSocket using paho.
type PahoDialer struct {
	// TLSConfig is used for wss:// connections. Nil uses a TLS 1.2+ default.
	TLSConfig *tls.Config

	// AckTimeout bounds each publish/subscribe acknowledgement. Zero uses 5s.
	AckTimeout time.Duration
}

// NewPahoDialer creates a dialer with default settings.
func NewPahoDialer() *PahoDialer {
	return &PahoDialer{}
}

// Dial creates a paho client for cfg and starts connecting in the background.
//
// After the first successful handshake paho reconnects on its own, waiting at
// most cfg.ReconnectPeriod between attempts. If the initial handshake fails the
// session reports the failure and retries every cfg.ReconnectPeriod until
// closed.
func (d *PahoDialer) Dial(cfg connection.Config, events connection.Events) (Session, error) {
	s := &pahoSession{
		events:     events,
		retryEvery: cfg.ReconnectPeriod,
		ackTimeout: d.AckTimeout,
		closed:     make(chan struct{}),
	}
	if s.ackTimeout <= 0 {
		s.ackTimeout = defaultAckTimeout
	}

	opts := d.buildClientOptions(cfg)
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		events.Message(connection.Message{
			Topic:    msg.Topic(),
			Payload:  msg.Payload(),
			QoS:      msg.Qos(),
			Retained: msg.Retained(),
		})
	})
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		if !s.isClosed() {
			events.Connected()
		}
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if !s.isClosed() {
			events.Closed(err)
		}
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		if !s.isClosed() {
			events.Reconnecting()
		}
	})

	s.client = pahomqtt.NewClient(opts)
	go s.connectLoop()

	return s, nil
}

// buildClientOptions maps a connection.Config onto paho client options.
func (d *PahoDialer) buildClientOptions(cfg connection.Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.URL())
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	if cfg.Scheme.Secure() {
		tlsConfig := d.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetCleanSession(true)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	if cfg.ReconnectPeriod > 0 {
		opts.SetMaxReconnectInterval(cfg.ReconnectPeriod)
	}
	opts.SetOrderMatters(true)

	return opts
}

// pahoSession adapts a paho client to Session.
type pahoSession struct {
	client     pahomqtt.Client
	events     connection.Events
	retryEvery time.Duration
	ackTimeout time.Duration

	closed    chan struct{}
	closeOnce sync.Once
}

// connectLoop performs the initial handshake, retrying until it succeeds or
// the session is closed. Later reconnects are handled by paho.
func (s *pahoSession) connectLoop() {
	for {
		token := s.client.Connect()
		select {
		case <-token.Done():
		case <-s.closed:
			return
		}

		err := token.Error()
		if err == nil {
			// OnConnect handler reports Connected.
			return
		}
		if s.isClosed() {
			return
		}
		s.events.Failed(err)
		s.events.Closed(err)

		wait := s.retryEvery
		if wait <= 0 {
			return
		}
		select {
		case <-time.After(wait):
		case <-s.closed:
			return
		}
		s.events.Reconnecting()
	}
}

func (s *pahoSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Close disconnects from the broker. Safe to call more than once.
func (s *pahoSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.client.IsConnectionOpen() {
			s.client.Disconnect(disconnectQuiesceMs)
		}
	})
	return nil
}

func (s *pahoSession) Publish(topic string, payload []byte, qos byte) *Ack {
	return s.track(s.client.Publish(topic, qos, false, payload), ErrPublishFailed)
}

func (s *pahoSession) Subscribe(filter string, qos byte) *Ack {
	// A nil callback routes matching messages to the default publish handler.
	return s.track(s.client.Subscribe(filter, qos, nil), ErrSubscribeFailed)
}

func (s *pahoSession) Unsubscribe(filter string) *Ack {
	return s.track(s.client.Unsubscribe(filter), ErrUnsubscribeFailed)
}

// track resolves an Ack from a paho token without blocking the caller.
func (s *pahoSession) track(token pahomqtt.Token, kind error) *Ack {
	ack := newAck()
	go func() {
		if !token.WaitTimeout(s.ackTimeout) {
			ack.complete(fmt.Errorf("%w: %w after %v", kind, ErrTimeout, s.ackTimeout))
			return
		}
		if err := token.Error(); err != nil {
			ack.complete(fmt.Errorf("%w: %w", kind, err))
			return
		}
		ack.complete(nil)
	}()
	return ack
}
