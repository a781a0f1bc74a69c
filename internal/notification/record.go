// Package notification merges server-authoritative notifications with
// records synthesized from live push events, and keeps the read, unread
// and archived state consistent under optimistic local mutation.
package notification

import (
	"strings"
	"time"
)

// LocalPrefix marks ids of records synthesized from push events. The
// server never issues ids with this prefix.
const LocalPrefix = "event_"

// Record is one notification.
type Record struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	IsRead     bool           `json:"isRead"`
	IsArchived bool           `json:"isArchived"`
	CreatedAt  time.Time      `json:"createdAt"`
	ReadAt     *time.Time     `json:"readAt,omitempty"`
	ArchivedAt *time.Time     `json:"archivedAt,omitempty"`
}

// IsLocal reports whether r was synthesized locally.
func (r Record) IsLocal() bool {
	return strings.HasPrefix(r.ID, LocalPrefix)
}

// ServerStats is the server-reported summary.
type ServerStats struct {
	Total  int            `json:"total"`
	Unread int            `json:"unread"`
	ByType map[string]int `json:"byType,omitempty"`
	Recent int            `json:"recent"`
}

// Tab is a notification panel view.
type Tab string

const (
	TabAll      Tab = "all"
	TabUnread   Tab = "unread"
	TabArchived Tab = "archived"
)

// ParseTab maps a user-supplied name to a Tab.
func ParseTab(s string) (Tab, bool) {
	switch Tab(strings.ToLower(strings.TrimSpace(s))) {
	case TabAll:
		return TabAll, true
	case TabUnread:
		return TabUnread, true
	case TabArchived:
		return TabArchived, true
	default:
		return "", false
	}
}

// Includes reports whether r is shown on tab t.
func (t Tab) Includes(r Record) bool {
	switch t {
	case TabUnread:
		return !r.IsRead && !r.IsArchived
	case TabArchived:
		return r.IsArchived
	default:
		return !r.IsArchived
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
