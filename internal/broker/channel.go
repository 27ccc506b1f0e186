package broker

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/labdash/internal/connection"
	"github.com/nerrad567/labdash/internal/topic"
)

// Connection defaults applied by Channel.Connect when a field is left empty.
const (
	DefaultPath            = "/mqtt"
	DefaultKeepAlive       = 60 * time.Second
	DefaultReconnectPeriod = 1 * time.Second
	DefaultConnectTimeout  = 4 * time.Second
	DefaultClientIDPrefix  = "mqtt-client"

	// maxQoS is the highest MQTT QoS level.
	maxQoS = 2

	// clientIDSuffixLen is the number of random hex characters in a generated client ID.
	clientIDSuffixLen = 8
)

// schemePrefix matches a scheme an operator may paste in front of the address.
var schemePrefix = regexp.MustCompile(`(?i)^(mqtt|ws|wss)://`)

// Options configures a Channel.
type Options struct {
	// LogCapacity is the number of log entries kept. Zero uses DefaultLogCapacity.
	LogCapacity int

	// ClientIDPrefix prefixes generated client IDs. Empty uses DefaultClientIDPrefix.
	ClientIDPrefix string
}

// Channel is the direct broker channel: one operator-configured connection
// with manual publish/subscribe and a rolling message log.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are restored after the transport reconnects on its own.
//     Connect and Disconnect start from an empty subscription set.
type Channel struct {
	mgr            *connection.Manager[Session]
	router         *topic.Router
	log            *MessageLog
	clientIDPrefix string
	now            func() time.Time

	onConnect  func()
	onMessage  func(entry Entry)
	callbackMu sync.RWMutex

	logger   connection.Logger
	loggerMu sync.RWMutex
}

// NewChannel creates a disconnected channel that dials through dialer.
func NewChannel(dialer connection.Dialer[Session], opts Options) *Channel {
	prefix := opts.ClientIDPrefix
	if prefix == "" {
		prefix = DefaultClientIDPrefix
	}

	c := &Channel{
		mgr:            connection.NewManager(dialer),
		router:         topic.NewRouter(),
		log:            NewMessageLog(opts.LogCapacity),
		clientIDPrefix: prefix,
		now:            time.Now,
	}
	c.mgr.SetOnConnect(c.handleConnect)
	c.mgr.SetOnMessage(c.handleMessage)
	return c
}

// Connect replaces any current connection with one built from cfg.
//
// The address may carry a mqtt://, ws:// or wss:// prefix and a trailing
// slash; both are stripped. When the prefix is ws:// or wss:// and no scheme
// is set, the prefix selects the scheme. Empty fields take the package
// defaults and a client ID of the form "mqtt-client-1a2b3c4d" is generated
// when none is given.
//
// Returns:
//   - error: wraps connection.ErrInvalidConfig (state unchanged) or
//     connection.ErrTransport
func (c *Channel) Connect(cfg connection.Config) error {
	cfg = c.normalize(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.router.Clear()
	return c.mgr.Connect(cfg)
}

// normalize cleans operator input and fills defaults.
func (c *Channel) normalize(cfg connection.Config) connection.Config {
	addr := strings.TrimSpace(cfg.Address)
	if m := schemePrefix.FindStringSubmatch(addr); m != nil {
		if cfg.Scheme == "" {
			switch strings.ToLower(m[1]) {
			case "wss":
				cfg.Scheme = connection.SchemeWSS
			case "ws":
				cfg.Scheme = connection.SchemeWS
			}
		}
		addr = addr[len(m[0]):]
	}
	cfg.Address = strings.TrimRight(addr, "/")
	cfg.Port = strings.TrimSpace(cfg.Port)

	if cfg.Scheme == "" {
		cfg.Scheme = connection.SchemeWS
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.ReconnectPeriod == 0 {
		cfg.ReconnectPeriod = DefaultReconnectPeriod
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		cfg.ClientID = c.generateClientID()
	}
	return cfg
}

// generateClientID returns "<prefix>-<8 hex characters>".
func (c *Channel) generateClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return c.clientIDPrefix + "-" + id[:clientIDSuffixLen]
}

// Disconnect closes the connection and clears subscriptions and the log.
func (c *Channel) Disconnect() error {
	err := c.mgr.Disconnect()
	c.router.Clear()
	c.log.Clear()
	return err
}

// Close is Disconnect for use with defer.
func (c *Channel) Close() error {
	return c.Disconnect()
}

// Publish sends payload to topicName and logs it as sent.
//
// The entry is logged once the transport accepts the request; the broker's
// acknowledgement resolves the returned Ack.
//
// Parameters:
//   - topicName: concrete topic (wildcards are rejected)
//   - payload: message body
//   - qos: 0, 1 or 2
//
// Returns:
//   - *Ack: resolved when the broker acknowledges
//   - error: ErrInvalidTopic, ErrInvalidQoS or connection.ErrNotConnected;
//     nothing is sent or logged
func (c *Channel) Publish(topicName string, payload []byte, qos byte) (*Ack, error) {
	if topicName == "" || strings.ContainsAny(topicName, "+#") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopic, topicName)
	}
	if qos > maxQoS {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQoS, qos)
	}

	sess, err := c.mgr.Conn()
	if err != nil {
		return nil, fmt.Errorf("publish to %s: %w", topicName, err)
	}

	ack := sess.Publish(topicName, payload, qos)
	c.log.Add(Entry{
		Topic:     topicName,
		Payload:   string(payload),
		Time:      c.now(),
		Direction: DirectionSent,
		QoS:       qos,
	})
	return ack, nil
}

// Subscribe registers filter at qos. Subscribing to an existing filter
// replaces its QoS. Messages matching filter are logged as received from the
// moment Subscribe returns; if the broker rejects the subscription it is
// rolled back, unless the filter was changed again or the channel
// disconnected in the meantime.
//
// Returns:
//   - *Ack: resolved when the broker acknowledges
//   - error: ErrInvalidTopic, ErrInvalidQoS or connection.ErrNotConnected
func (c *Channel) Subscribe(filter string, qos byte) (*Ack, error) {
	if err := topic.Validate(filter); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	if qos > maxQoS {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQoS, qos)
	}

	sess, err := c.mgr.Conn()
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", filter, err)
	}

	change := c.router.Swap(filter, qos, c.deliver)

	ack := sess.Subscribe(filter, qos)
	go func() {
		<-ack.Done()
		if err := ack.Err(); err != nil {
			// A later Subscribe, Unsubscribe or Disconnect owns the filter now.
			if c.router.Revert(change, c.deliver) {
				c.logWarn("subscribe rejected", "topic", filter, "error", err)
			}
		}
	}()
	return ack, nil
}

// Unsubscribe removes filter. Unsubscribing from a filter that is not
// subscribed is a no-op that resolves immediately.
//
// Returns:
//   - *Ack: resolved when the broker acknowledges
//   - error: connection.ErrNotConnected
func (c *Channel) Unsubscribe(filter string) (*Ack, error) {
	sess, err := c.mgr.Conn()
	if err != nil {
		return nil, fmt.Errorf("unsubscribe from %s: %w", filter, err)
	}

	change := c.router.Take(filter)
	if !change.Existed {
		return completedAck(nil), nil
	}

	ack := sess.Unsubscribe(filter)
	go func() {
		<-ack.Done()
		if err := ack.Err(); err != nil {
			// A failure caused by losing sess is not a broker refusal; the
			// new session starts without the filter either way.
			if cur, connErr := c.mgr.Conn(); connErr != nil || cur != sess {
				return
			}
			if c.router.Revert(change, c.deliver) {
				c.logWarn("unsubscribe rejected", "topic", filter, "error", err)
			}
		}
	}()
	return ack, nil
}

// Subscriptions returns the active subscriptions sorted by filter.
func (c *Channel) Subscriptions() []topic.Subscription {
	return c.router.Subscriptions()
}

// Log returns the message log, most recent first.
func (c *Channel) Log() []Entry {
	return c.log.Entries()
}

// ClearLog empties the message log.
func (c *Channel) ClearLog() {
	c.log.Clear()
}

// State returns the connection state.
func (c *Channel) State() connection.State {
	return c.mgr.State()
}

// IsConnected reports whether the channel is connected.
func (c *Channel) IsConnected() bool {
	return c.mgr.IsConnected()
}

// LastError returns the most recent transport error, or nil.
func (c *Channel) LastError() error {
	return c.mgr.LastError()
}

// Config returns the normalised configuration of the current connection.
func (c *Channel) Config() connection.Config {
	return c.mgr.Config()
}

// SetOnConnect sets the callback invoked after each successful handshake.
func (c *Channel) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets the callback invoked when the connection goes down.
func (c *Channel) SetOnDisconnect(callback func(err error)) {
	c.mgr.SetOnDisconnect(callback)
}

// SetOnError sets the callback invoked for transport errors.
func (c *Channel) SetOnError(callback func(err error)) {
	c.mgr.SetOnError(callback)
}

// SetOnStateChange sets the callback invoked on every state transition.
func (c *Channel) SetOnStateChange(callback func(from, to connection.State)) {
	c.mgr.SetOnStateChange(callback)
}

// SetOnMessage sets the callback invoked for every received log entry.
// A message matching several subscriptions produces one entry per match.
func (c *Channel) SetOnMessage(callback func(entry Entry)) {
	c.callbackMu.Lock()
	c.onMessage = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for channel and connection logging.
func (c *Channel) SetLogger(logger connection.Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
	c.mgr.SetLogger(logger)
}

func (c *Channel) logWarn(msg string, args ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, args...)
	}
}

// handleConnect restores subscriptions after a transport-level reconnect.
func (c *Channel) handleConnect() {
	if subs := c.router.Subscriptions(); len(subs) > 0 {
		if sess, err := c.mgr.Conn(); err == nil {
			for _, sub := range subs {
				ack := sess.Subscribe(sub.Filter, sub.QoS)
				go func(filter string) {
					<-ack.Done()
					if err := ack.Err(); err != nil {
						c.logWarn("resubscribe failed", "topic", filter, "error", err)
					}
				}(sub.Filter)
			}
		}
	}

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Channel) handleMessage(msg connection.Message) {
	c.router.Route(msg.Topic, msg.Payload)
}

// deliver logs one routed message and notifies the observer.
func (c *Channel) deliver(d topic.Delivery) {
	entry := Entry{
		Topic:     d.Topic,
		Payload:   string(d.Payload),
		Time:      c.now(),
		Direction: DirectionReceived,
		QoS:       d.QoS,
		Filter:    d.Filter,
	}
	c.log.Add(entry)

	c.callbackMu.RLock()
	callback := c.onMessage
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(entry)
	}
}
