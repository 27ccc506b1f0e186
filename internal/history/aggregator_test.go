package history

import (
	"testing"
	"time"

	"github.com/nerrad567/labdash/internal/relay"
)

// fakeClock is a manually advanced clock.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestAggregator(capacity int) (*Aggregator, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}
	return New(Options{Interval: 2 * time.Second, Capacity: capacity, Now: clock.now}), clock
}

func TestAddThrottlesCommits(t *testing.T) {
	agg, clock := newTestAggregator(10)

	tests := []struct {
		name    string
		advance time.Duration
		want    bool
	}{
		{"first frame commits", 0, true},
		{"too soon", 500 * time.Millisecond, false},
		{"still too soon", 1 * time.Second, false},
		{"interval reached", 500 * time.Millisecond, true},
		{"just after commit", 1 * time.Millisecond, false},
		{"long gap", 10 * time.Second, true},
	}

	for _, tt := range tests {
		clock.advance(tt.advance)
		if got := agg.Add(relay.SensorFrame{Temperature: 20}); got != tt.want {
			t.Errorf("%s: Add() = %v, want %v", tt.name, got, tt.want)
		}
	}

	if n := len(agg.Series(MetricTemperature)); n != 3 {
		t.Errorf("Series len = %d, want 3", n)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	agg, clock := newTestAggregator(10)

	for i := 0; i <= 10; i++ {
		agg.Add(relay.SensorFrame{Temperature: float64(i), Gas: float64(100 + i)})
		clock.advance(2 * time.Second)
	}

	temps := agg.Series(MetricTemperature)
	if len(temps) != 10 {
		t.Fatalf("Series len = %d, want 10", len(temps))
	}
	if temps[0].Value != 1 || temps[9].Value != 10 {
		t.Errorf("Series = first %v last %v, want 1..10", temps[0].Value, temps[9].Value)
	}
	if gas := agg.Series(MetricGas); len(gas) != 10 || gas[0].Value != 101 {
		t.Errorf("gas series = %+v", gas)
	}
}

func TestPointLabels(t *testing.T) {
	agg, clock := newTestAggregator(3)
	clock.advance(3*time.Hour + 4*time.Minute + 5*time.Second)

	agg.Add(relay.SensorFrame{Humidity: 45.5, Light: 300})

	h := agg.Series(MetricHumidity)
	if len(h) != 1 || h[0].Label != "13:04:05" || h[0].Value != 45.5 {
		t.Errorf("humidity = %+v", h)
	}
	snap := agg.Snapshot()
	if len(snap) != len(Metrics()) {
		t.Errorf("Snapshot() metrics = %d, want %d", len(snap), len(Metrics()))
	}
}

func TestCommittedPointsAreStable(t *testing.T) {
	agg, clock := newTestAggregator(5)
	agg.Add(relay.SensorFrame{Temperature: 1})
	before := agg.Series(MetricTemperature)

	before[0].Value = 999
	clock.advance(time.Second)
	agg.Add(relay.SensorFrame{Temperature: 2})

	after := agg.Series(MetricTemperature)
	if len(after) != 1 || after[0].Value != 1 {
		t.Errorf("Series = %+v, want the original point untouched", after)
	}
}

func TestReset(t *testing.T) {
	agg, _ := newTestAggregator(5)
	agg.Add(relay.SensorFrame{Temperature: 1})
	agg.Reset()

	if len(agg.Series(MetricTemperature)) != 0 {
		t.Error("Reset() kept points")
	}
	if !agg.Add(relay.SensorFrame{Temperature: 2}) {
		t.Error("Add() after Reset was throttled")
	}
}

func TestDefaults(t *testing.T) {
	agg := New(Options{})
	if agg.interval != DefaultInterval || agg.capacity != DefaultCapacity {
		t.Errorf("defaults = %v/%d", agg.interval, agg.capacity)
	}
}
