package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by labdash.
const (
	MeasurementSensors   = "lab_sensors"
	MeasurementActuators = "lab_actuators"
)

// Reading is one ingested device report.
type Reading struct {
	DeviceID    string // hardware id, e.g. "node_7"
	Location    string
	Temperature float64
	Humidity    float64
	Light       float64
	Gas         float64

	// Actuators maps actuator name (led, fan, ...) to its reported state.
	Actuators map[string]int

	At time.Time
}

// Points converts r into its sensor point and, when actuator states are
// present, its actuator point. Both carry the device_id and location tags.
func (r Reading) Points() []*write.Point {
	tags := map[string]string{"device_id": r.DeviceID}
	if r.Location != "" {
		tags["location"] = r.Location
	}
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}

	points := []*write.Point{
		write.NewPoint(MeasurementSensors, tags, map[string]any{
			"temperature": r.Temperature,
			"humidity":    r.Humidity,
			"light":       r.Light,
			"gas":         r.Gas,
		}, at),
	}

	if len(r.Actuators) > 0 {
		fields := make(map[string]any, len(r.Actuators))
		for name, state := range r.Actuators {
			fields[name] = int64(state)
		}
		points = append(points, write.NewPoint(MeasurementActuators, tags, fields, at))
	}
	return points
}

// WriteReading queues r's points. Dropped silently when not connected.
func (c *Client) WriteReading(r Reading) {
	for _, p := range r.Points() {
		c.queue(p)
	}
}

// WritePoint queues a custom point stamped now.
//
// Example:
//
//	client.WritePoint("relay_stats",
//	    map[string]string{"host": "lab-01"},
//	    map[string]any{"clients": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.queue(write.NewPoint(measurement, tags, fields, time.Now()))
}
