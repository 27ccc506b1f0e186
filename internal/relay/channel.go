package relay

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/nerrad567/labdash/internal/connection"
)

// TogglePolicy decides what happens to an optimistic toggle whose command
// could not be sent.
type TogglePolicy int

const (
	// KeepOptimistic leaves the flipped state in place even when the command
	// was dropped. The frame may show a state the device never confirmed.
	KeepOptimistic TogglePolicy = iota

	// RollbackOnDrop restores the previous state when the command was dropped.
	RollbackOnDrop
)

// String returns the policy name used in configuration.
func (p TogglePolicy) String() string {
	switch p {
	case KeepOptimistic:
		return "keep"
	case RollbackOnDrop:
		return "rollback"
	default:
		return "unknown"
	}
}

// ParseTogglePolicy reads "keep" or "rollback". Empty means KeepOptimistic.
func ParseTogglePolicy(s string) (TogglePolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keep":
		return KeepOptimistic, true
	case "rollback":
		return RollbackOnDrop, true
	}
	return KeepOptimistic, false
}

// Options configures a Channel.
type Options struct {
	Policy TogglePolicy
}

// Channel streams one device's telemetry through the relay and sends its
// commands.
//
// Commands are fire-and-forget: while the relay connection is down they are
// dropped without an error. Toggles update the local frame before the
// command is sent.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Channel struct {
	deviceID string
	topic    string
	policy   TogglePolicy
	mgr      *connection.Manager[Session]

	mu    sync.RWMutex
	frame SensorFrame

	onFrame    func(frame SensorFrame)
	onUpdate   func(frame SensorFrame)
	callbackMu sync.RWMutex

	logger   connection.Logger
	loggerMu sync.RWMutex
}

// NewChannel creates a disconnected channel for deviceID.
//
// Returns:
//   - error: ErrInvalidDevice if deviceID is blank
func NewChannel(dialer connection.Dialer[Session], deviceID string, opts Options) (*Channel, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, ErrInvalidDevice
	}

	c := &Channel{
		deviceID: deviceID,
		topic:    SensorTopic(deviceID),
		policy:   opts.Policy,
		mgr:      connection.NewManager(dialer),
	}
	c.mgr.SetOnConnect(c.handleConnect)
	c.mgr.SetOnMessage(c.handleMessage)
	return c, nil
}

// Open creates a channel for deviceID and connects it to the relay at cfg.
// The caller must Close the channel when done.
func Open(dialer connection.Dialer[Session], deviceID string, cfg connection.Config, opts Options) (*Channel, error) {
	c, err := NewChannel(dialer, deviceID, opts)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(cfg); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Connect opens the relay connection, replacing any existing one.
func (c *Channel) Connect(cfg connection.Config) error {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	return c.mgr.Connect(cfg)
}

// Close releases the relay connection.
func (c *Channel) Close() error {
	return c.mgr.Close()
}

// DeviceID returns the device this channel follows.
func (c *Channel) DeviceID() string {
	return c.deviceID
}

// Frame returns the most recent frame, including optimistic toggles.
// Before the first frame arrives every field is zero.
func (c *Channel) Frame() SensorFrame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frame.Clone()
}

// Sensors returns the readings of the current frame.
func (c *Channel) Sensors() Sensors {
	return c.Frame().Sensors()
}

// Status returns the actuator states of the current frame.
func (c *Channel) Status() Status {
	return c.Frame().Status()
}

// State returns the relay connection state.
func (c *Channel) State() connection.State {
	return c.mgr.State()
}

// LastError returns the most recent transport error, or nil.
func (c *Channel) LastError() error {
	return c.mgr.LastError()
}

// PublishCommand sends cmd to the device. If the relay is not connected the
// command is dropped silently.
func (c *Channel) PublishCommand(cmd DeviceCommand) {
	c.send(cmd)
}

// send delivers cmd and reports whether it was handed to the relay.
func (c *Channel) send(cmd DeviceCommand) bool {
	sess, err := c.mgr.Conn()
	if err != nil {
		c.logDebug("command dropped, relay not connected", "device_id", c.deviceID)
		return false
	}
	if err := sess.Send(CommandDestination(c.deviceID), cmd); err != nil {
		c.logDebug("command dropped", "device_id", c.deviceID, "error", err)
		return false
	}
	return true
}

// Toggle flips actuator a (0 becomes 1, anything else becomes 0), updates the
// local frame immediately and sends the command. What happens to the local
// state when the command is dropped depends on the TogglePolicy.
//
// Returns:
//   - int: the state requested
//   - error: ErrUnknownActuator
func (c *Channel) Toggle(a Actuator) (int, error) {
	if !a.Valid() {
		return 0, ErrUnknownActuator
	}

	c.mu.Lock()
	prev, _ := c.frame.State(a)
	next := 0
	if prev == 0 {
		next = 1
	}
	c.frame = c.frame.WithState(a, next)
	optimistic := c.frame.Clone()
	c.mu.Unlock()
	c.notifyUpdate(optimistic)

	if c.send(NewToggleCommand(c.deviceID, a, next)) || c.policy != RollbackOnDrop {
		return next, nil
	}

	c.mu.Lock()
	rolledBack := false
	// A frame that arrived meanwhile is authoritative; only undo our own change.
	if cur, _ := c.frame.State(a); cur == next {
		c.frame = c.frame.WithState(a, prev)
		rolledBack = true
	}
	current := c.frame.Clone()
	c.mu.Unlock()
	if rolledBack {
		c.notifyUpdate(current)
	}
	return next, nil
}

// ToggleLed flips the LED.
func (c *Channel) ToggleLed() { c.Toggle(ActuatorLed) } //nolint:errcheck // known actuator

// ToggleBuzzer flips the buzzer.
func (c *Channel) ToggleBuzzer() { c.Toggle(ActuatorBuzzer) } //nolint:errcheck // known actuator

// ToggleFan flips the fan.
func (c *Channel) ToggleFan() { c.Toggle(ActuatorFan) } //nolint:errcheck // known actuator

// ToggleAlertLed flips the alert LED.
func (c *Channel) ToggleAlertLed() { c.Toggle(ActuatorAlertLed) } //nolint:errcheck // known actuator

// ToggleServo flips the servo.
func (c *Channel) ToggleServo() { c.Toggle(ActuatorServo) } //nolint:errcheck // known actuator

// SetOnFrame sets the callback invoked for every frame received from the relay.
func (c *Channel) SetOnFrame(callback func(frame SensorFrame)) {
	c.callbackMu.Lock()
	c.onFrame = callback
	c.callbackMu.Unlock()
}

// SetOnUpdate sets the callback invoked whenever the local frame changes,
// whether from the relay or from a toggle.
func (c *Channel) SetOnUpdate(callback func(frame SensorFrame)) {
	c.callbackMu.Lock()
	c.onUpdate = callback
	c.callbackMu.Unlock()
}

// SetOnConnect sets the callback invoked after each handshake, once the
// subscription and fetch request have been sent.
func (c *Channel) SetOnConnect(callback func()) {
	c.mgr.SetOnConnect(func() {
		c.handleConnect()
		if callback != nil {
			callback()
		}
	})
}

// SetOnDisconnect sets the callback invoked when the relay connection goes down.
func (c *Channel) SetOnDisconnect(callback func(err error)) {
	c.mgr.SetOnDisconnect(callback)
}

// SetOnError sets the callback invoked for relay transport errors.
func (c *Channel) SetOnError(callback func(err error)) {
	c.mgr.SetOnError(callback)
}

// SetOnStateChange sets the callback invoked on every state transition.
func (c *Channel) SetOnStateChange(callback func(from, to connection.State)) {
	c.mgr.SetOnStateChange(callback)
}

// SetLogger sets a logger for channel and connection logging.
func (c *Channel) SetLogger(logger connection.Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
	c.mgr.SetLogger(logger)
}

func (c *Channel) logDebug(msg string, args ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, args...)
	}
}

func (c *Channel) logWarn(msg string, args ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, args...)
	}
}

// handleConnect subscribes to the device stream and asks for its current state.
func (c *Channel) handleConnect() {
	sess, err := c.mgr.Conn()
	if err != nil {
		return
	}
	if err := sess.Subscribe(c.topic); err != nil {
		c.logWarn("relay subscribe failed", "channel", c.topic, "error", err)
		return
	}
	if err := sess.Send(FetchDestination(c.deviceID), FetchRequest{ID: c.deviceID}); err != nil {
		c.logWarn("relay fetch request failed", "device_id", c.deviceID, "error", err)
	}
}

// handleMessage replaces the held frame with an inbound one.
func (c *Channel) handleMessage(msg connection.Message) {
	if msg.Topic != c.topic {
		return
	}

	var frame SensorFrame
	if err := json.Unmarshal(msg.Payload, &frame); err != nil {
		c.logWarn("dropping undecodable frame", "channel", msg.Topic, "error", err)
		return
	}

	c.mu.Lock()
	c.frame = frame
	c.mu.Unlock()

	c.callbackMu.RLock()
	onFrame, onUpdate := c.onFrame, c.onUpdate
	c.callbackMu.RUnlock()
	if onFrame != nil {
		onFrame(frame.Clone())
	}
	if onUpdate != nil {
		onUpdate(frame.Clone())
	}
}

func (c *Channel) notifyUpdate(frame SensorFrame) {
	c.callbackMu.RLock()
	callback := c.onUpdate
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(frame)
	}
}
