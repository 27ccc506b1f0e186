package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope types exchanged over the relay WebSocket.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeSend        = "send"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeEvent       = "event"
	TypeResponse    = "response"
	TypeError       = "error"
)

// Relay channel and destination prefixes.
const (
	sensorDataPrefix      = "sensorData/"
	commandResponsePrefix = "command-response/"
	historyPrefix         = "history/"
	fetchPrefix           = "device/"
	historyRequestPrefix  = "device/history/"
	commandPrefix         = "publish/command/"
)

// Envelope is one relay WebSocket message.
//
// Channel names the stream of an event or subscription; Destination names
// the server-side handler of a send.
type Envelope struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	Channel     string          `json:"channel,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload is the payload of subscribe and unsubscribe messages.
type SubscribePayload struct {
	Channels []string `json:"channels"`
}

// FetchRequest asks the relay to re-broadcast a device's latest frame.
type FetchRequest struct {
	ID string `json:"id"`
}

// HistoryRequest selects one page of a device's stored frames. Both fields
// are optional and normalized like the REST history route.
type HistoryRequest struct {
	Page int `json:"page"`
	Size int `json:"size"`
}

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEnvelope builds an envelope with a fresh ID and timestamp.
// A nil payload is omitted.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	env := Envelope{
		Type:      typ,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encoding %s payload: %w", typ, err)
		}
		env.Payload = data
	}
	return env, nil
}

// SensorTopic is the channel carrying a device's frames.
func SensorTopic(deviceID string) string {
	return sensorDataPrefix + deviceID
}

// CommandResponseTopic is the channel carrying a device's command responses.
func CommandResponseTopic(deviceID string) string {
	return commandResponsePrefix + deviceID
}

// HistoryTopic is the channel carrying pages of a device's frame history.
func HistoryTopic(deviceID string) string {
	return historyPrefix + deviceID
}

// HistoryDestination is where frame history pages are requested.
func HistoryDestination(deviceID string) string {
	return historyRequestPrefix + deviceID
}

// FetchDestination is where the initial "fetch current state" request is sent.
func FetchDestination(deviceID string) string {
	return fetchPrefix + deviceID
}

// CommandDestination is where device commands are sent.
func CommandDestination(deviceID string) string {
	return commandPrefix + deviceID
}

// DestinationKind classifies a send destination.
type DestinationKind int

// Destination kinds understood by the relay server.
const (
	DestinationUnknown DestinationKind = iota
	DestinationFetch
	DestinationCommand
	DestinationHistory
)

// ParseDestination splits a send destination into its kind and device ID.
func ParseDestination(dest string) (DestinationKind, string) {
	if id, ok := strings.CutPrefix(dest, commandPrefix); ok && id != "" && !strings.Contains(id, "/") {
		return DestinationCommand, id
	}
	if id, ok := strings.CutPrefix(dest, historyRequestPrefix); ok && id != "" && !strings.Contains(id, "/") {
		return DestinationHistory, id
	}
	if id, ok := strings.CutPrefix(dest, fetchPrefix); ok && id != "" && !strings.Contains(id, "/") {
		return DestinationFetch, id
	}
	return DestinationUnknown, ""
}
