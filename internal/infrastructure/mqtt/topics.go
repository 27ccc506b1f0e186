package mqtt

import (
	"strings"

	"github.com/nerrad567/labdash/internal/infrastructure/config"
)

// StatusTopic carries the relay server's retained online/offline status and
// its Last Will.
const StatusTopic = "labdash/relay/status"

// Topics builds the lab node topics from the mqtt.topics config section.
//
//	topics := mqtt.NewTopics(cfg.MQTT.Topics)
//	topics.Command("node_7") // "iot/command/node_7"
type Topics struct {
	cfg config.MQTTTopicsConfig
}

// NewTopics wraps the configured topic names.
func NewTopics(cfg config.MQTTTopicsConfig) Topics {
	return Topics{cfg: cfg}
}

// Data is the topic every node publishes its reports to.
func (t Topics) Data() string {
	return t.cfg.Data
}

// CommandResponses is the filter matching every node acknowledgement.
func (t Topics) CommandResponses() string {
	return t.cfg.CommandResponse
}

// Command returns the topic a node listens on for actuator commands.
func (t Topics) Command(deviceID string) string {
	return t.cfg.CommandPrefix + deviceID
}

// ResponseDevice extracts the device id from a command response topic
// such as "iot/command-response/node_7". It returns false when the topic
// does not sit under the configured response filter.
func (t Topics) ResponseDevice(topic string) (string, bool) {
	prefix := strings.TrimSuffix(t.cfg.CommandResponse, "#")
	if prefix == t.cfg.CommandResponse || !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(topic, prefix)
	device, _, _ := strings.Cut(rest, "/")
	if device == "" {
		return "", false
	}
	return device, true
}
