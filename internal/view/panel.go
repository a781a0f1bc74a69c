package view

import (
	"time"

	"github.com/UillB/appointmets-bot-sub003/internal/notification"
)

// Group is a calendar bucket of the notification panel.
type Group string

const (
	GroupToday     Group = "today"
	GroupYesterday Group = "yesterday"
	GroupEarlier   Group = "earlier"
)

// Groups lists the buckets in display order.
var Groups = []Group{GroupToday, GroupYesterday, GroupEarlier}

// Section is the records of one group, newest first.
type Section struct {
	Group   Group                 `json:"group"`
	Records []notification.Record `json:"records"`
}

// Counts are the per-tab badges.
type Counts struct {
	All      int `json:"all"`
	Unread   int `json:"unread"`
	Archived int `json:"archived"`
}

// Panel is the notification panel view state.
type Panel struct {
	Tab      notification.Tab `json:"tab"`
	Sections []Section        `json:"sections"`
	Counts   Counts           `json:"counts"`
	Loaded   bool             `json:"loaded"`
}

// Empty reports whether the selected tab shows nothing.
func (p Panel) Empty() bool {
	for _, s := range p.Sections {
		if len(s.Records) > 0 {
			return false
		}
	}
	return true
}

// BuildPanel filters snap to tab and buckets the result by the calendar
// date of now in now's location. An empty tab uses the snapshot's default.
// Sections always come in Groups order and may be empty.
func BuildPanel(snap notification.Snapshot, tab notification.Tab, now time.Time) Panel {
	if tab == "" {
		tab = snap.DefaultTab
	}
	if tab == "" {
		tab = notification.TabAll
	}

	p := Panel{
		Tab:      tab,
		Sections: make([]Section, len(Groups)),
		Counts:   Counts{Unread: snap.Unread},
		Loaded:   snap.Loaded,
	}
	for i, g := range Groups {
		p.Sections[i].Group = g
	}

	today := startOfDay(now)
	yesterday := time.Date(today.Year(), today.Month(), today.Day()-1, 0, 0, 0, 0, today.Location())

	for _, r := range snap.Records {
		if r.IsArchived {
			p.Counts.Archived++
		} else {
			p.Counts.All++
		}
		if !tab.Includes(r) {
			continue
		}

		created := r.CreatedAt.In(now.Location())
		idx := 2
		switch {
		case !created.Before(today):
			idx = 0
		case !created.Before(yesterday):
			idx = 1
		}
		p.Sections[idx].Records = append(p.Sections[idx].Records, r)
	}
	return p
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
