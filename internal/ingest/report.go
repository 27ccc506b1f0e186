package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/labdash/internal/device"
	"github.com/nerrad567/labdash/internal/infrastructure/influxdb"
	"github.com/nerrad567/labdash/internal/relay"
)

// Unknown fills string fields a node left out of its report.
const Unknown = "N/A"

// Report is the JSON a node publishes on the data topic.
type Report struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Wifi    string        `json:"w"`
	IP      string        `json:"i"`
	Broker  string        `json:"b"`
	Topic   string        `json:"t"`
	Sensors ReportSensors `json:"ss"`
	Status  ReportStatus  `json:"stt"`
}

// ReportSensors holds the numeric readings.
type ReportSensors struct {
	Temperature float64 `json:"temp"`
	Humidity    float64 `json:"hum"`
	Light       float64 `json:"lgt"`
	Gas         float64 `json:"gas"`
}

// ReportStatus holds actuator states. Firmware sometimes renders them as
// floats, so they are decoded as numbers and truncated.
type ReportStatus struct {
	Led      float64 `json:"led"`
	Fan      float64 `json:"fan"`
	AlertLed float64 `json:"alt"`
	Buzzer   float64 `json:"bzr"`
	Servo    float64 `json:"sv"`
}

// ParseReport decodes a node report and fills Unknown into missing
// connection details.
func ParseReport(payload []byte) (Report, error) {
	var r Report
	if err := json.Unmarshal(payload, &r); err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrMalformedReport, err)
	}
	r.ID = strings.TrimSpace(r.ID)
	for _, s := range []*string{&r.Wifi, &r.IP, &r.Broker, &r.Topic} {
		if *s == "" {
			*s = Unknown
		}
	}
	return r, nil
}

// FromNode reports whether the report comes from a lab node.
func (r Report) FromNode() bool {
	return device.IsNodeID(r.ID)
}

// Device returns the registration details carried by the report.
func (r Report) Device() device.Device {
	return device.Device{
		DeviceID: r.ID,
		Name:     r.Name,
		Wifi:     r.Wifi,
		IP:       r.IP,
	}
}

// Frame converts the report into a frame for the device with registry id.
func (r Report) Frame(id int64, payload []byte) *device.Frame {
	return &device.Frame{
		DeviceID:    id,
		Temperature: r.Sensors.Temperature,
		Humidity:    r.Sensors.Humidity,
		Light:       r.Sensors.Light,
		Gas:         r.Sensors.Gas,
		Led:         int(r.Status.Led),
		Buzzer:      int(r.Status.Buzzer),
		Fan:         int(r.Status.Fan),
		AlertLed:    int(r.Status.AlertLed),
		Servo:       int(r.Status.Servo),
		Topic:       r.Topic,
		Broker:      r.Broker,
		Payload:     string(payload),
	}
}

// reading renders a stored frame for the archive.
func reading(d *device.Device, f *device.Frame) influxdb.Reading {
	return influxdb.Reading{
		DeviceID:    d.DeviceID,
		Location:    d.Location,
		Temperature: f.Temperature,
		Humidity:    f.Humidity,
		Light:       f.Light,
		Gas:         f.Gas,
		Actuators:   f.Actuators(),
		At:          f.CreatedAt,
	}
}

// responsePayload keeps a JSON acknowledgement as JSON and wraps anything
// else as a string.
func responsePayload(payload []byte) any {
	if json.Valid(payload) {
		return json.RawMessage(append([]byte(nil), payload...))
	}
	return string(payload)
}

// sensorChannel is the relay channel for a stored device.
func sensorChannel(d *device.Device) string {
	return relay.SensorTopic(strconv.FormatInt(d.ID, 10))
}
