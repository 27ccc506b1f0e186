package broker

import (
	"sync"
	"time"
)

// DefaultLogCapacity is the number of entries kept when no capacity is configured.
const DefaultLogCapacity = 3

// Direction tells whether a log entry was sent or received.
type Direction string

// Log entry directions.
const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Entry is one message in the activity log.
type Entry struct {
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	Time      time.Time `json:"time"`
	Direction Direction `json:"type"`

	// QoS is the publish QoS for sent entries and the matching
	// subscription's QoS for received entries.
	QoS byte `json:"qos"`

	// Filter is the subscription filter that matched a received entry.
	Filter string `json:"filter,omitempty"`
}

// MessageLog is a fixed-capacity ring buffer of entries, newest first.
//
// Thread Safety: all methods are safe for concurrent use.
type MessageLog struct {
	mu    sync.RWMutex
	buf   []Entry
	next  int // slot the next entry is written to
	count int
}

// NewMessageLog creates a log holding at most capacity entries.
// A capacity below one uses DefaultLogCapacity.
func NewMessageLog(capacity int) *MessageLog {
	if capacity < 1 {
		capacity = DefaultLogCapacity
	}
	return &MessageLog{buf: make([]Entry, capacity)}
}

// Add inserts e as the most recent entry, evicting the oldest when full.
func (l *MessageLog) Add(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf[l.next] = e
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
}

// Entries returns a copy of the log, most recent first.
func (l *MessageLog) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, l.count)
	for i := 1; i <= l.count; i++ {
		idx := (l.next - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}

// Clear removes every entry.
func (l *MessageLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	clear(l.buf)
	l.next = 0
	l.count = 0
}

// Len returns the number of entries held.
func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Cap returns the configured capacity.
func (l *MessageLog) Cap() int {
	return len(l.buf)
}
