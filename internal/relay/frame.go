package relay

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DeviceNamePrefix prefixes the registry ID to form a device's name.
const DeviceNamePrefix = "node_"

// Actuator names an on/off output of a lab node.
type Actuator string

// Known actuators, named as they appear on the wire.
const (
	ActuatorLed      Actuator = "led"
	ActuatorBuzzer   Actuator = "buzzer"
	ActuatorFan      Actuator = "fan"
	ActuatorAlertLed Actuator = "alertLed"
	ActuatorServo    Actuator = "servo"
)

// Actuators lists every known actuator in display order.
func Actuators() []Actuator {
	return []Actuator{ActuatorLed, ActuatorBuzzer, ActuatorFan, ActuatorAlertLed, ActuatorServo}
}

// Valid reports whether a is a known actuator.
func (a Actuator) Valid() bool {
	switch a {
	case ActuatorLed, ActuatorBuzzer, ActuatorFan, ActuatorAlertLed, ActuatorServo:
		return true
	}
	return false
}

// ParseActuator accepts wire names case-insensitively, plus "alert_led".
func ParseActuator(s string) (Actuator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "led":
		return ActuatorLed, nil
	case "buzzer":
		return ActuatorBuzzer, nil
	case "fan":
		return ActuatorFan, nil
	case "alertled", "alert_led":
		return ActuatorAlertLed, nil
	case "servo":
		return ActuatorServo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownActuator, s)
}

// SensorFrame is one telemetry sample for a device.
//
// CreatedAt is a timestamp vector [year, month, day, hour, minute, second, nanos];
// trailing elements may be omitted.
type SensorFrame struct {
	ID          int64   `json:"id"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Light       float64 `json:"light"`
	Gas         float64 `json:"gas"`
	AlertLed    int     `json:"alertLed"`
	Buzzer      int     `json:"buzzer"`
	Led         int     `json:"led"`
	Fan         int     `json:"fan"`
	Servo       int     `json:"servo"`
	Broker      string  `json:"broker"`
	Topic       string  `json:"topic"`
	Payload     string  `json:"payload"`
	CreatedAt   []int   `json:"createdAt"`
}

// Sensors is the numeric reading view of a frame.
type Sensors struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Light       float64 `json:"light"`
	Gas         float64 `json:"gas"`
}

// Status is the actuator view of a frame.
type Status struct {
	Led      int `json:"led"`
	Buzzer   int `json:"buzzer"`
	Fan      int `json:"fan"`
	AlertLed int `json:"alert_led"`
	Servo    int `json:"servo"`
}

// Sensors returns the frame's readings.
func (f SensorFrame) Sensors() Sensors {
	return Sensors{Temperature: f.Temperature, Humidity: f.Humidity, Light: f.Light, Gas: f.Gas}
}

// Status returns the frame's actuator states.
func (f SensorFrame) Status() Status {
	return Status{Led: f.Led, Buzzer: f.Buzzer, Fan: f.Fan, AlertLed: f.AlertLed, Servo: f.Servo}
}

// State returns the state of actuator a.
func (f SensorFrame) State(a Actuator) (int, bool) {
	switch a {
	case ActuatorLed:
		return f.Led, true
	case ActuatorBuzzer:
		return f.Buzzer, true
	case ActuatorFan:
		return f.Fan, true
	case ActuatorAlertLed:
		return f.AlertLed, true
	case ActuatorServo:
		return f.Servo, true
	}
	return 0, false
}

// Clone returns a deep copy of the frame.
func (f SensorFrame) Clone() SensorFrame {
	f.CreatedAt = append([]int(nil), f.CreatedAt...)
	return f
}

// WithState returns a copy of the frame with actuator a set to v.
// Unknown actuators leave the copy unchanged.
func (f SensorFrame) WithState(a Actuator, v int) SensorFrame {
	f = f.Clone()
	switch a {
	case ActuatorLed:
		f.Led = v
	case ActuatorBuzzer:
		f.Buzzer = v
	case ActuatorFan:
		f.Fan = v
	case ActuatorAlertLed:
		f.AlertLed = v
	case ActuatorServo:
		f.Servo = v
	}
	return f
}

// Time converts CreatedAt to a time in loc. A vector with fewer than three
// elements yields the zero time.
func (f SensorFrame) Time(loc *time.Location) time.Time {
	if len(f.CreatedAt) < 3 {
		return time.Time{}
	}
	var parts [7]int
	copy(parts[:], f.CreatedAt)
	return time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], parts[6], loc)
}

// TimestampVector renders t as a CreatedAt vector.
func TimestampVector(t time.Time) []int {
	return []int{t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond()}
}

// DeviceName returns the device name used in commands, e.g. "node_7".
func DeviceName(deviceID string) string {
	return DeviceNamePrefix + deviceID
}

// DeviceCommand is a sparse actuator update for one device.
//
// On the wire the actuator states sit beside the device name:
//
//	{"deviceName":"node_7","led":1}
type DeviceCommand struct {
	DeviceName string
	States     map[Actuator]int
}

// NewToggleCommand builds a single-actuator command for deviceID.
func NewToggleCommand(deviceID string, a Actuator, state int) DeviceCommand {
	return DeviceCommand{
		DeviceName: DeviceName(deviceID),
		States:     map[Actuator]int{a: state},
	}
}

// Validate checks that the command names a device and carries at least one
// known actuator set to 0 or 1.
func (c DeviceCommand) Validate() error {
	if strings.TrimSpace(c.DeviceName) == "" {
		return fmt.Errorf("%w: deviceName is required", ErrInvalidCommand)
	}
	if len(c.States) == 0 {
		return fmt.Errorf("%w: no actuator states", ErrInvalidCommand)
	}
	for a, v := range c.States {
		if !a.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownActuator, a)
		}
		if v != 0 && v != 1 {
			return fmt.Errorf("%w: %s must be 0 or 1, got %d", ErrInvalidCommand, a, v)
		}
	}
	return nil
}

// ActuatorStates returns the states keyed by wire name, without the device name.
func (c DeviceCommand) ActuatorStates() map[string]int {
	out := make(map[string]int, len(c.States))
	for a, v := range c.States {
		out[string(a)] = v
	}
	return out
}

// MarshalJSON writes the flat wire form with actuators in sorted order.
func (c DeviceCommand) MarshalJSON() ([]byte, error) {
	name, err := json.Marshal(c.DeviceName)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(c.States))
	for a := range c.States {
		keys = append(keys, string(a))
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`{"deviceName":`)
	b.Write(name)
	for _, k := range keys {
		fmt.Fprintf(&b, ",%q:%d", k, c.States[Actuator(k)])
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// UnmarshalJSON reads the flat wire form. Every key other than deviceName
// must be a known actuator with an integer value.
func (c *DeviceCommand) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	cmd := DeviceCommand{States: make(map[Actuator]int, len(raw))}
	for key, value := range raw {
		if key == "deviceName" {
			if err := json.Unmarshal(value, &cmd.DeviceName); err != nil {
				return fmt.Errorf("%w: deviceName: %w", ErrInvalidCommand, err)
			}
			continue
		}
		a := Actuator(key)
		if !a.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownActuator, key)
		}
		var v int
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidCommand, key, err)
		}
		cmd.States[a] = v
	}

	*c = cmd
	return nil
}
