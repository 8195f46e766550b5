package telemetry

import (
	"encoding/json"
	"time"
)

// DefaultEventLogCapacity bounds the raw event log.
const DefaultEventLogCapacity = 50

// EventLogEntry is one raw event with its arrival time.
type EventLogEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Event     json.RawMessage `json:"data"`
}

// EventLog is a fixed-capacity ring of raw events. Once full, each append
// overwrites the oldest entry.
type EventLog struct {
	entries []EventLogEntry
	next    int
	size    int
}

// NewEventLog creates a log holding at most capacity entries.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventLogCapacity
	}
	return &EventLog{entries: make([]EventLogEntry, capacity)}
}

// Capacity returns the maximum number of retained entries.
func (l *EventLog) Capacity() int { return len(l.entries) }

// Len returns the number of retained entries.
func (l *EventLog) Len() int { return l.size }

// Append stores an entry, evicting the oldest when full.
func (l *EventLog) Append(entry EventLogEntry) {
	l.entries[l.next] = entry
	l.next = (l.next + 1) % len(l.entries)
	if l.size < len(l.entries) {
		l.size++
	}
}

// Entries returns retained entries newest first.
func (l *EventLog) Entries() []EventLogEntry {
	out := make([]EventLogEntry, 0, l.size)
	for i := 1; i <= l.size; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}

// Clear drops every entry.
func (l *EventLog) Clear() {
	for i := range l.entries {
		l.entries[i] = EventLogEntry{}
	}
	l.next = 0
	l.size = 0
}

// restore loads entries given newest first, keeping at most Capacity.
func (l *EventLog) restore(newestFirst []EventLogEntry) {
	l.Clear()
	n := len(newestFirst)
	if n > len(l.entries) {
		n = len(l.entries)
	}
	for i := n - 1; i >= 0; i-- {
		l.Append(newestFirst[i])
	}
}
