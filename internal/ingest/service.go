package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/labdash/internal/device"
	"github.com/nerrad567/labdash/internal/infrastructure/influxdb"
	"github.com/nerrad567/labdash/internal/infrastructure/mqtt"
	"github.com/nerrad567/labdash/internal/relay"
)

const (
	// dataQoS is the subscription QoS for node reports.
	dataQoS = 1

	// storeTimeout bounds the database work done for one message.
	storeTimeout = 5 * time.Second
)

// Subscriber is the upstream broker surface the Service needs.
// *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(filter string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(filter string) error
}

// Registry stores devices, frames and command acknowledgements.
// *device.Registry satisfies it.
type Registry interface {
	EnsureDevice(ctx context.Context, report device.Device) (*device.Device, bool, error)
	GetByDeviceID(ctx context.Context, deviceID string) (*device.Device, error)
	RecordFrame(ctx context.Context, f *device.Frame) error
	AcknowledgeCommand(ctx context.Context, deviceID, response string) (*device.Command, error)
}

// Broadcaster fans a payload out to relay clients subscribed to channel.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Archive receives every stored frame. *influxdb.Client satisfies it.
type Archive interface {
	WriteReading(r influxdb.Reading)
}

// Logger is the optional logging interface.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options holds the collaborators of a Service.
type Options struct {
	MQTT     Subscriber
	Topics   mqtt.Topics
	Registry Registry
	Hub      Broadcaster

	// Archive is optional; nil disables the InfluxDB copy.
	Archive Archive

	// ResponseQoS is the subscription QoS for command responses.
	ResponseQoS byte
}

// Stats counts processed upstream messages.
type Stats struct {
	Reports   uint64 `json:"reports"`
	Ignored   uint64 `json:"ignored"`
	Malformed uint64 `json:"malformed"`
	Failed    uint64 `json:"failed"`
	Responses uint64 `json:"responses"`
}

// Service consumes node reports and acknowledgements from the upstream
// broker.
//
// Thread Safety: handlers run on the MQTT delivery goroutines; all methods
// are safe for concurrent use.
type Service struct {
	opts Options

	ctx       context.Context
	ctxCancel context.CancelFunc
	started   atomic.Bool

	reports   atomic.Uint64
	ignored   atomic.Uint64
	malformed atomic.Uint64
	failed    atomic.Uint64
	responses atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a Service. MQTT, Registry and Hub are required.
func New(opts Options) (*Service, error) {
	switch {
	case opts.MQTT == nil:
		return nil, fmt.Errorf("%w: mqtt subscriber", ErrMissingDependency)
	case opts.Registry == nil:
		return nil, fmt.Errorf("%w: registry", ErrMissingDependency)
	case opts.Hub == nil:
		return nil, fmt.Errorf("%w: broadcaster", ErrMissingDependency)
	}
	return &Service{opts: opts, logger: noopLogger{}}, nil
}

// Start subscribes to the data and command response topics. ctx bounds the
// lifetime of the storage work done by the handlers.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	s.ctx, s.ctxCancel = context.WithCancel(ctx)

	if err := s.opts.MQTT.Subscribe(s.opts.Topics.Data(), dataQoS, s.HandleReport); err != nil {
		s.abortStart()
		return fmt.Errorf("subscribing to %s: %w", s.opts.Topics.Data(), err)
	}
	if err := s.opts.MQTT.Subscribe(s.opts.Topics.CommandResponses(), s.opts.ResponseQoS, s.HandleCommandResponse); err != nil {
		s.opts.MQTT.Unsubscribe(s.opts.Topics.Data()) //nolint:errcheck // Best effort rollback
		s.abortStart()
		return fmt.Errorf("subscribing to %s: %w", s.opts.Topics.CommandResponses(), err)
	}

	s.getLogger().Info("ingestion started",
		"data_topic", s.opts.Topics.Data(),
		"response_topic", s.opts.Topics.CommandResponses(),
		"archive", s.opts.Archive != nil)
	return nil
}

func (s *Service) abortStart() {
	s.ctxCancel()
	s.started.Store(false)
}

// Stop unsubscribes and cancels in-flight storage work.
func (s *Service) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	for _, filter := range []string{s.opts.Topics.Data(), s.opts.Topics.CommandResponses()} {
		if err := s.opts.MQTT.Unsubscribe(filter); err != nil {
			s.getLogger().Warn("unsubscribe failed", "topic", filter, "error", err)
		}
	}
	s.ctxCancel()
	s.getLogger().Info("ingestion stopped")
}

// Stats returns the message counters.
func (s *Service) Stats() Stats {
	return Stats{
		Reports:   s.reports.Load(),
		Ignored:   s.ignored.Load(),
		Malformed: s.malformed.Load(),
		Failed:    s.failed.Load(),
		Responses: s.responses.Load(),
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	defer s.loggerMu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

func (s *Service) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func (s *Service) opContext() (context.Context, context.CancelFunc) {
	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, storeTimeout)
}

// HandleReport processes one payload from the data topic. It never returns
// an error for bad input: the payload is logged and dropped.
func (s *Service) HandleReport(topic string, payload []byte) error {
	report, err := ParseReport(payload)
	if err != nil {
		s.malformed.Add(1)
		s.getLogger().Warn("dropping malformed report", "topic", topic, "error", err)
		return nil
	}
	if !report.FromNode() {
		s.ignored.Add(1)
		s.getLogger().Debug("ignoring report from non-node device", "id", report.ID)
		return nil
	}

	ctx, cancel := s.opContext()
	defer cancel()

	d, created, err := s.opts.Registry.EnsureDevice(ctx, report.Device())
	if err != nil {
		s.failed.Add(1)
		s.getLogger().Error("registering device failed", "device_id", report.ID, "error", err)
		return nil
	}
	if created {
		s.getLogger().Info("new node registered", "device_id", d.DeviceID, "id", d.ID)
	}

	frame := report.Frame(d.ID, payload)
	if err := s.opts.Registry.RecordFrame(ctx, frame); err != nil {
		s.failed.Add(1)
		s.getLogger().Error("storing frame failed", "device_id", d.DeviceID, "error", err)
		return nil
	}
	s.reports.Add(1)

	s.opts.Hub.Broadcast(sensorChannel(d), frame.SensorFrame())
	if s.opts.Archive != nil {
		s.opts.Archive.WriteReading(reading(d, frame))
	}
	s.getLogger().Debug("frame ingested", "device_id", d.DeviceID, "id", d.ID, "frame_id", frame.ID)
	return nil
}

// HandleCommandResponse broadcasts a node acknowledgement and closes the
// matching audited command.
func (s *Service) HandleCommandResponse(topic string, payload []byte) error {
	deviceID, ok := s.opts.Topics.ResponseDevice(topic)
	if !ok {
		s.malformed.Add(1)
		s.getLogger().Warn("dropping response on unexpected topic", "topic", topic)
		return nil
	}
	s.responses.Add(1)

	ctx, cancel := s.opContext()
	defer cancel()

	// Relay clients address devices by registry id; fall back to the
	// hardware id for nodes that never reported.
	channel := relay.CommandResponseTopic(deviceID)
	d, err := s.opts.Registry.GetByDeviceID(ctx, deviceID)
	switch {
	case err == nil:
		channel = relay.CommandResponseTopic(strconv.FormatInt(d.ID, 10))
	case !errors.Is(err, device.ErrDeviceNotFound):
		s.getLogger().Warn("resolving response device failed", "device_id", deviceID, "error", err)
	}
	s.opts.Hub.Broadcast(channel, responsePayload(payload))

	if err == nil {
		cmd, ackErr := s.opts.Registry.AcknowledgeCommand(ctx, deviceID, string(payload))
		switch {
		case ackErr == nil:
			s.getLogger().Debug("command acknowledged", "device_id", deviceID, "command_id", cmd.ID)
		case errors.Is(ackErr, device.ErrCommandNotFound):
			s.getLogger().Debug("response without outstanding command", "device_id", deviceID)
		default:
			s.getLogger().Warn("acknowledging command failed", "device_id", deviceID, "error", ackErr)
		}
	}
	s.getLogger().Info("command response relayed", "device_id", deviceID, "channel", channel)
	return nil
}
