package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/labdash/internal/audit"
	"github.com/nerrad567/labdash/internal/device"
	"github.com/nerrad567/labdash/internal/relay"
)

// relayOpTimeout bounds the registry and broker work of one send.
const relayOpTimeout = 5 * time.Second

// errUpstreamUnavailable is reported when no broker client is configured.
var errUpstreamUnavailable = errors.New("upstream broker unavailable")

// handleRelaySend dispatches a client's send envelope by destination.
func (s *Server) handleRelaySend(c *WSClient, env relay.Envelope) {
	kind, idStr := relay.ParseDestination(env.Destination)
	if kind == relay.DestinationUnknown {
		c.sendError(env.ID, "unknown destination: "+env.Destination)
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		c.sendError(env.ID, "device id must be a positive integer")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayOpTimeout)
	defer cancel()

	switch kind {
	case relay.DestinationFetch:
		s.relayFetch(ctx, c, env, id)
	case relay.DestinationCommand:
		s.relayCommand(ctx, c, env, id)
	case relay.DestinationHistory:
		s.relayHistory(ctx, c, env, id)
	}
}

// relayFetch re-broadcasts the latest stored frame of a device on its
// sensor channel.
func (s *Server) relayFetch(ctx context.Context, c *WSClient, env relay.Envelope, id int64) {
	frame, err := s.registry.LatestFrame(ctx, id)
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		c.sendError(env.ID, "device not found")
		return
	case errors.Is(err, device.ErrFrameNotFound):
		c.sendError(env.ID, "no sensor data for device")
		return
	case err != nil:
		s.logger.Error("fetching latest frame failed", "id", id, "error", err)
		c.sendError(env.ID, "failed to fetch device data")
		return
	}

	s.hub.Broadcast(relay.SensorTopic(strconv.FormatInt(id, 10)), frame.SensorFrame())
	c.sendEnvelope(env.ID, relay.TypeResponse, map[string]any{"destination": env.Destination})
}

// relayHistory broadcasts one page of a device's frames, newest first, on
// its history channel. The payload may select page and size.
func (s *Server) relayHistory(ctx context.Context, c *WSClient, env relay.Envelope, id int64) {
	var req relay.HistoryRequest
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			c.sendError(env.ID, err.Error())
			return
		}
	}
	if req.Page < 0 || req.Size < 0 {
		c.sendError(env.ID, "page and size must be non-negative")
		return
	}

	page, size := device.NormalizePage(req.Page, req.Size)
	frames, err := s.registry.FrameHistory(ctx, id, page, size)
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		c.sendError(env.ID, "device not found")
		return
	case err != nil:
		s.logger.Error("fetching frame history failed", "id", id, "error", err)
		c.sendError(env.ID, "failed to fetch frame history")
		return
	}

	s.hub.Broadcast(relay.HistoryTopic(strconv.FormatInt(id, 10)), newPageResponse(frames, device.Frame.SensorFrame))
	c.sendEnvelope(env.ID, relay.TypeResponse, map[string]any{"destination": env.Destination})
}

// relayCommand forwards an actuator command to the node's MQTT command
// topic at QoS 2 and records it. The deviceName field is not forwarded.
func (s *Server) relayCommand(ctx context.Context, c *WSClient, env relay.Envelope, id int64) {
	var cmd relay.DeviceCommand
	if err := json.Unmarshal(env.Payload, &cmd); err != nil {
		c.sendError(env.ID, err.Error())
		return
	}

	dev, err := s.registry.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			c.sendError(env.ID, "device not found")
			return
		}
		s.logger.Error("resolving command device failed", "id", id, "error", err)
		c.sendError(env.ID, "failed to resolve device")
		return
	}

	if cmd.DeviceName == "" {
		cmd.DeviceName = dev.DeviceID
	}
	if err := cmd.Validate(); err != nil {
		c.sendError(env.ID, err.Error())
		return
	}

	payload, err := json.Marshal(cmd.ActuatorStates())
	if err != nil {
		c.sendError(env.ID, "failed to encode command")
		return
	}

	record := &device.Command{DeviceID: dev.ID, Command: string(payload), Status: device.CommandSent}
	publishErr := s.publishCommand(dev.DeviceID, payload)
	if publishErr != nil {
		record.Status = device.CommandFailed
	}
	if err := s.registry.RecordCommand(ctx, record); err != nil {
		s.logger.Warn("recording command failed", "device_id", dev.DeviceID, "error", err)
	}
	details := map[string]any{
		"deviceId": dev.DeviceID,
		"command":  record.Command,
		"status":   string(record.Status),
	}
	if record.ID != 0 {
		details["commandId"] = record.ID
	}
	if publishErr != nil {
		details["error"] = publishErr.Error()
	}
	s.recordAudit(ctx, audit.Entry{
		Action:     audit.ActionCommandSend,
		EntityType: audit.EntityDevice,
		EntityID:   strconv.FormatInt(dev.ID, 10),
		Subject:    c.subject,
		Source:     audit.SourceRelay,
		Details:    details,
	})

	if publishErr != nil {
		s.logger.Warn("command not delivered", "device_id", dev.DeviceID, "error", publishErr)
		c.sendError(env.ID, fmt.Sprintf("command not delivered: %v", publishErr))
		return
	}

	s.logger.Info("command published",
		"device_id", dev.DeviceID,
		"command", record.Command,
		"subject", c.subject,
	)
	c.sendEnvelope(env.ID, relay.TypeResponse, map[string]any{
		"commandId": record.ID,
		"status":    record.Status,
	})
}

func (s *Server) publishCommand(deviceID string, payload []byte) error {
	if s.commands == nil {
		return errUpstreamUnavailable
	}
	return s.commands.PublishCommand(deviceID, payload)
}
