package push

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Source identifies where an event originated.
type Source string

const (
	SourcePrimaryChannel Source = "primary-channel"
	SourceAdminPanel     Source = "admin-panel"
	SourceAPI            Source = "api"
	SourceSystem         Source = "system"
)

var sourceAliases = map[string]Source{
	"primary-channel": SourcePrimaryChannel,
	"telegram":        SourcePrimaryChannel,
	"admin-panel":     SourceAdminPanel,
	"admin":           SourceAdminPanel,
	"api":             SourceAPI,
	"system":          SourceSystem,
}

// ParseSource accepts dash or underscore spellings and a few aliases.
// Unknown values map to SourceSystem.
func ParseSource(s string) Source {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	if src, ok := sourceAliases[key]; ok {
		return src
	}
	return SourceSystem
}

// Event is an immutable PushEvent. Identity is ID.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	RawType   string         `json:"rawType,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	Source    Source         `json:"source"`
}

// Category is the first segment of the normalized type ("appointment").
func (e Event) Category() string {
	if i := strings.IndexByte(e.Type, '.'); i >= 0 {
		return e.Type[:i]
	}
	return e.Type
}

// PayloadString returns payload[key] rendered as a string, or "".
func (e Event) PayloadString(key string) string {
	v, ok := e.Payload[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// NormalizeType makes dot and underscore spellings equivalent:
// "APPOINTMENT_CREATED" and "appointment..created" both become
// "appointment.created".
func NormalizeType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", ".")
	parts := strings.Split(s, ".")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ".")
}

type wireEvent struct {
	ID        json.RawMessage `json:"id"`
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp"`
	Payload   map[string]any  `json:"payload"`
	Data      map[string]any  `json:"data"`
	Source    string          `json:"source"`
}

// DecodeEvent builds an Event from an "event" frame. The event id and type
// are required. A missing timestamp falls back to the frame timestamp and
// then to now.
func DecodeEvent(f Frame, now time.Time) (Event, error) {
	data := bytes.TrimSpace(f.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Event{}, protocolError("event frame has no data", nil)
	}
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, protocolError("malformed event data", err)
	}

	id, err := decodeID(w.ID)
	if err != nil {
		return Event{}, err
	}
	typ := NormalizeType(w.Type)
	if typ == "" {
		return Event{}, protocolError("event has no type", nil)
	}

	ts, err := decodeTimestamp(w.Timestamp)
	if err != nil {
		return Event{}, err
	}
	if ts.IsZero() && f.Timestamp != "" {
		if ts, err = parseTimeString(f.Timestamp); err != nil {
			return Event{}, err
		}
	}
	if ts.IsZero() {
		ts = now
	}

	payload := w.Payload
	if payload == nil {
		payload = w.Data
	}

	return Event{
		ID:        id,
		Type:      typ,
		RawType:   w.Type,
		Timestamp: ts,
		Payload:   payload,
		Source:    ParseSource(w.Source),
	}, nil
}

func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", protocolError("event has no id", nil)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s == "" {
			return "", protocolError("event has no id", nil)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", protocolError("event id is not a string or number", err)
	}
	return n.String(), nil
}

func decodeTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return time.Time{}, nil
		}
		return parseTimeString(s)
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, protocolError("invalid event timestamp", err)
	}
	return time.UnixMilli(ms), nil
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Time{}, protocolError("invalid timestamp "+strconv.Quote(s), nil)
}
