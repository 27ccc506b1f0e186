package device

import (
	"time"

	"github.com/nerrad567/labdash/internal/relay"
)

// Defaults applied to devices that register themselves through a report.
const (
	// NodePrefix marks hardware ids of lab nodes. Reports from other ids
	// are ignored.
	NodePrefix = "node_"

	DefaultType     = "node"
	DefaultLocation = "IoT Lab"
)

// Device is a registered lab node.
//
// ID is the registry id used by relay clients (sensorData/<ID>); DeviceID is
// the hardware id the node reports with and listens on (iot/command/<DeviceID>).
type Device struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"deviceId"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Location  string    `json:"location"`
	Wifi      string    `json:"wifi"`
	IP        string    `json:"ip"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Frame is one stored device report.
type Frame struct {
	ID          int64
	DeviceID    int64 // registry id
	Temperature float64
	Humidity    float64
	Light       float64
	Gas         float64
	Led         int
	Buzzer      int
	Fan         int
	AlertLed    int
	Servo       int
	Topic       string
	Broker      string
	Payload     string // raw report as received
	CreatedAt   time.Time
}

// SensorFrame renders the frame in the relay wire shape.
func (f Frame) SensorFrame() relay.SensorFrame {
	return relay.SensorFrame{
		ID:          f.ID,
		Temperature: f.Temperature,
		Humidity:    f.Humidity,
		Light:       f.Light,
		Gas:         f.Gas,
		AlertLed:    f.AlertLed,
		Buzzer:      f.Buzzer,
		Led:         f.Led,
		Fan:         f.Fan,
		Servo:       f.Servo,
		Broker:      f.Broker,
		Topic:       f.Topic,
		Payload:     f.Payload,
		CreatedAt:   relay.TimestampVector(f.CreatedAt),
	}
}

// Actuators returns the actuator states keyed by relay wire name.
func (f Frame) Actuators() map[string]int {
	return map[string]int{
		string(relay.ActuatorLed):      f.Led,
		string(relay.ActuatorBuzzer):   f.Buzzer,
		string(relay.ActuatorFan):      f.Fan,
		string(relay.ActuatorAlertLed): f.AlertLed,
		string(relay.ActuatorServo):    f.Servo,
	}
}

// CommandStatus tracks a command through delivery.
type CommandStatus string

// Command statuses.
const (
	CommandPending      CommandStatus = "PENDING"
	CommandSent         CommandStatus = "SENT"
	CommandFailed       CommandStatus = "FAILED"
	CommandAcknowledged CommandStatus = "ACKNOWLEDGED"
)

// Command is an audited actuator command.
type Command struct {
	ID        int64         `json:"id"`
	DeviceID  int64         `json:"deviceId"`
	Command   string        `json:"command"` // JSON body published to the node
	Status    CommandStatus `json:"status"`
	Response  string        `json:"response,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Page size bounds for List and FrameHistory.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page is one page of a paginated query. Page numbers start at 0.
type Page[T any] struct {
	Items []T
	Page  int
	Size  int
	Total int64
}

// TotalPages returns the number of pages needed for Total items.
func (p Page[T]) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return int((p.Total + int64(p.Size) - 1) / int64(p.Size))
}

// NormalizePage clamps page to >= 0 and size to 1..MaxPageSize, using
// DefaultPageSize for non-positive sizes.
func NormalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return page, size
}
