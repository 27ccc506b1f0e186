// Package history turns the latest-frame view of a device into short
// time series for charting.
//
// The Aggregator accepts every frame but commits a point only when at least
// the update interval has passed since the previous commit, so chart churn
// does not follow telemetry rate. Each metric keeps the most recent points up
// to a fixed capacity; older points are evicted first. Committed points are
// never modified.
package history

import (
	"sync"
	"time"

	"github.com/nerrad567/labdash/internal/relay"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultInterval = 2 * time.Second
	DefaultCapacity = 10

	// LabelLayout formats point timestamps.
	LabelLayout = "15:04:05"
)

// Metric names a charted reading.
type Metric string

// Charted metrics.
const (
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
	MetricLight       Metric = "light"
	MetricGas         Metric = "gas"
)

// Metrics lists the charted metrics in display order.
func Metrics() []Metric {
	return []Metric{MetricTemperature, MetricHumidity, MetricLight, MetricGas}
}

// Point is one committed sample.
type Point struct {
	Label string    `json:"time"`
	Value float64   `json:"value"`
	At    time.Time `json:"-"`
}

// Options configures an Aggregator.
type Options struct {
	// Interval is the minimum time between commits. Zero uses DefaultInterval.
	Interval time.Duration

	// Capacity is the number of points kept per metric. Zero uses DefaultCapacity.
	Capacity int

	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

// Aggregator keeps bounded per-metric series.
//
// Thread Safety: all methods are safe for concurrent use.
type Aggregator struct {
	interval time.Duration
	capacity int
	now      func() time.Time

	mu         sync.RWMutex
	series     map[Metric][]Point
	lastCommit time.Time
	committed  bool
}

// New creates an empty aggregator.
func New(opts Options) *Aggregator {
	a := &Aggregator{
		interval: opts.Interval,
		capacity: opts.Capacity,
		now:      opts.Now,
		series:   make(map[Metric][]Point, len(Metrics())),
	}
	if a.interval <= 0 {
		a.interval = DefaultInterval
	}
	if a.capacity <= 0 {
		a.capacity = DefaultCapacity
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// Add offers a frame. It returns true if a point was committed for every
// metric, false if the frame arrived within the update interval.
func (a *Aggregator) Add(frame relay.SensorFrame) bool {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.committed && now.Sub(a.lastCommit) < a.interval {
		return false
	}
	a.lastCommit = now
	a.committed = true

	label := now.Format(LabelLayout)
	values := map[Metric]float64{
		MetricTemperature: frame.Temperature,
		MetricHumidity:    frame.Humidity,
		MetricLight:       frame.Light,
		MetricGas:         frame.Gas,
	}
	for m, v := range values {
		a.series[m] = a.appendPoint(a.series[m], Point{Label: label, Value: v, At: now})
	}
	return true
}

// appendPoint appends p and trims the oldest points beyond capacity.
func (a *Aggregator) appendPoint(series []Point, p Point) []Point {
	series = append(series, p)
	if over := len(series) - a.capacity; over > 0 {
		series = append([]Point(nil), series[over:]...)
	}
	return series
}

// Series returns a copy of metric's points, oldest first.
func (a *Aggregator) Series(m Metric) []Point {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Point(nil), a.series[m]...)
}

// Snapshot returns a copy of every series.
func (a *Aggregator) Snapshot() map[Metric][]Point {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[Metric][]Point, len(a.series))
	for m, s := range a.series {
		out[m] = append([]Point(nil), s...)
	}
	return out
}

// Reset drops every point and the commit clock.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.series = make(map[Metric][]Point, len(Metrics()))
	a.committed = false
	a.lastCommit = time.Time{}
}

// Attach feeds every frame received by ch into the aggregator.
func (a *Aggregator) Attach(ch *relay.Channel) {
	ch.SetOnFrame(func(f relay.SensorFrame) { a.Add(f) })
}
