// Package ingest turns raw push frames into deduplicated events held in a
// bounded, newest-first event log, and fans new events out to subscribers.
package ingest

import "github.com/UillB/appointmets-bot-sub003/internal/push"

// DefaultCapacity is the event log bound.
const DefaultCapacity = 100

// EventLog is a bounded, newest-first sequence of events with unique ids.
// It is not safe for concurrent use; Ingestor serializes access.
type EventLog struct {
	capacity int
	events   []push.Event
	ids      map[string]struct{}
}

// NewEventLog creates an empty log. Non-positive capacity means
// DefaultCapacity.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &EventLog{
		capacity: capacity,
		events:   make([]push.Event, 0, capacity),
		ids:      make(map[string]struct{}, capacity),
	}
}

// Add prepends ev unless its id is already logged, evicting the oldest
// event when full. It reports whether ev was added.
func (l *EventLog) Add(ev push.Event) bool {
	if _, dup := l.ids[ev.ID]; dup {
		return false
	}
	if len(l.events) == l.capacity {
		oldest := l.events[len(l.events)-1]
		delete(l.ids, oldest.ID)
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, push.Event{})
	copy(l.events[1:], l.events[:len(l.events)-1])
	l.events[0] = ev
	l.ids[ev.ID] = struct{}{}
	return true
}

// Contains reports whether id is logged.
func (l *EventLog) Contains(id string) bool {
	_, ok := l.ids[id]
	return ok
}

// Len returns the number of logged events.
func (l *EventLog) Len() int { return len(l.events) }

// Capacity returns the bound.
func (l *EventLog) Capacity() int { return l.capacity }

// Events returns a newest-first copy, truncated to limit when limit > 0.
func (l *EventLog) Events(limit int) []push.Event {
	n := len(l.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]push.Event, n)
	copy(out, l.events[:n])
	return out
}

// Reset empties the log.
func (l *EventLog) Reset() {
	l.events = l.events[:0]
	l.ids = make(map[string]struct{}, l.capacity)
}
