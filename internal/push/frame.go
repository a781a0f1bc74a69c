// Package push defines the wire protocol of the push channel: the tagged
// JSON frames the server sends and the PushEvent they carry.
package push

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/UillB/appointmets-bot-sub003/internal/pkg/errors"
)

// Frame types.
const (
	TypeEvent        = "event"
	TypeNotification = "notification"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeConnection   = "connection"
)

// Frame is one inbound or outbound JSON text frame.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// ParseFrame decodes raw. Malformed JSON or a missing type is a protocol
// error.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, protocolError("malformed frame", err)
	}
	f.Type = strings.ToLower(strings.TrimSpace(f.Type))
	if f.Type == "" {
		return Frame{}, protocolError("frame has no type", nil)
	}
	return f, nil
}

// PingFrame is the only frame the client sends.
func PingFrame() []byte {
	return []byte(`{"type":"ping"}`)
}

// Encode marshals f for the wire.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// NewFrame builds a frame carrying data.
func NewFrame(typ string, data any, at time.Time) (Frame, error) {
	f := Frame{Type: typ}
	if !at.IsZero() {
		f.Timestamp = at.UTC().Format(time.RFC3339Nano)
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Frame{}, fmt.Errorf("encode %s frame: %w", typ, err)
		}
		f.Data = raw
	}
	return f, nil
}

// IsProtocolError reports whether err came from frame or event decoding.
func IsProtocolError(err error) bool {
	return apperrors.HasCode(err, apperrors.CodeProtocol)
}

func protocolError(msg string, err error) error {
	if err == nil {
		return apperrors.BadRequest(apperrors.CodeProtocol, msg)
	}
	return apperrors.Wrap(err, apperrors.CodeProtocol, msg, http.StatusBadRequest)
}
