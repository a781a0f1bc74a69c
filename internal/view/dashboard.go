// Package view turns sync-core state into what the dashboard and the
// notification panel display. Builders are pure: same input, same view.
package view

import (
	"time"

	"github.com/UillB/appointmets-bot-sub003/internal/connection"
	"github.com/UillB/appointmets-bot-sub003/internal/push"
	"github.com/UillB/appointmets-bot-sub003/internal/stats"
)

// DefaultEventLimit is how many recent events the dashboard lists.
const DefaultEventLimit = 10

var counterLabels = map[string]string{
	stats.TodayAppointments:   "Today's appointments",
	stats.PendingAppointments: "Pending appointments",
	stats.ActiveUsers:         "Active users",
	stats.RealTimeEvents:      "Live events",
}

// CounterLine is one dashboard tile.
type CounterLine struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Value int    `json:"value"`
}

// EventLine is one entry in the recent activity feed.
type EventLine struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Category string      `json:"category"`
	Source   push.Source `json:"source"`
	At       time.Time   `json:"at"`
}

// Dashboard is the stats dashboard view state.
type Dashboard struct {
	Connection string        `json:"connection"`
	Live       bool          `json:"live"`
	Counters   []CounterLine `json:"counters"`
	LastUpdate time.Time     `json:"lastUpdate"`
	Events     []EventLine   `json:"events"`
	// Buffered is the number of events in the log, of which Events shows
	// the newest.
	Buffered int `json:"buffered"`
}

// BuildDashboard assembles the dashboard from a stats snapshot and the
// newest-first event log. A non-positive limit uses DefaultEventLimit.
func BuildDashboard(s stats.Stats, events []push.Event, state connection.State, limit int) Dashboard {
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	d := Dashboard{
		Connection: state.String(),
		Live:       state == connection.StateConnected,
		Counters:   make([]CounterLine, 0, len(stats.Counters)),
		LastUpdate: s.LastUpdate,
		Buffered:   len(events),
	}
	for _, name := range stats.Counters {
		d.Counters = append(d.Counters, CounterLine{Name: name, Label: counterLabels[name], Value: s.Get(name)})
	}

	if len(events) > limit {
		events = events[:limit]
	}
	d.Events = make([]EventLine, 0, len(events))
	for _, ev := range events {
		d.Events = append(d.Events, EventLine{
			ID:       ev.ID,
			Type:     ev.Type,
			Category: ev.Category(),
			Source:   ev.Source,
			At:       ev.Timestamp,
		})
	}
	return d
}
