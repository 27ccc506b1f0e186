package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/labdash/internal/broker"
	"github.com/nerrad567/labdash/internal/history"
	"github.com/nerrad567/labdash/internal/relay"
)

// renderFrame formats one frame as a single status line.
func renderFrame(f relay.SensorFrame, loc *time.Location) string {
	at := "--:--:--"
	if len(f.CreatedAt) > 0 {
		at = f.Time(loc).Format("15:04:05")
	}
	s := f.Sensors()
	st := f.Status()
	return fmt.Sprintf("%s  temp=%.1f hum=%.1f light=%.0f gas=%.0f  led=%d fan=%d buzzer=%d alert=%d servo=%d",
		at, s.Temperature, s.Humidity, s.Light, s.Gas,
		st.Led, st.Fan, st.Buzzer, st.AlertLed, st.Servo)
}

// renderSeries prints each metric's points, oldest first.
func renderSeries(snapshot map[history.Metric][]history.Point) string {
	var b strings.Builder
	for _, m := range history.Metrics() {
		points := snapshot[m]
		fmt.Fprintf(&b, "  %-11s", m)
		for _, p := range points {
			fmt.Fprintf(&b, " %s=%g", p.Label, p.Value)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// renderEntry formats a broker log entry with its payload pretty-printed
// when it is JSON.
func renderEntry(e broker.Entry) string {
	arrow := "<-"
	if e.Direction == broker.DirectionSent {
		arrow = "->"
	}
	return fmt.Sprintf("%s %s %s qos=%d\n%s",
		e.Time.Format("15:04:05"), arrow, e.Topic, e.QoS, broker.FormatPayload(e.Payload))
}
