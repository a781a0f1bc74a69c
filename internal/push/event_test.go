package push

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
		wantErr  bool
	}{
		{"event", `{"type":"event","data":{"id":"a"}}`, TypeEvent, false},
		{"pong upper case", `{"type":"PONG"}`, TypePong, false},
		{"connection with message", `{"type":"connection","message":"welcome"}`, TypeConnection, false},
		{"malformed json", `{"type":`, "", true},
		{"not an object", `[1,2]`, "", true},
		{"missing type", `{"data":{}}`, "", true},
		{"blank type", `{"type":"  "}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsProtocolError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, f.Type)
		})
	}
}

func TestNormalizeType(t *testing.T) {
	tests := map[string]string{
		"appointment.created":   "appointment.created",
		"appointment_created":   "appointment.created",
		"APPOINTMENT_CREATED":   "appointment.created",
		"bot_booking.completed": "bot.booking.completed",
		" slot..released ":      "slot.released",
		"_service_deleted_":     "service.deleted",
		"":                      "",
		"custom":                "custom",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeType(in), "NormalizeType(%q)", in)
	}
}

func TestParseSource(t *testing.T) {
	tests := map[string]Source{
		"primary-channel": SourcePrimaryChannel,
		"primary_channel": SourcePrimaryChannel,
		"telegram":        SourcePrimaryChannel,
		"ADMIN_PANEL":     SourceAdminPanel,
		"admin":           SourceAdminPanel,
		"api":             SourceAPI,
		"system":          SourceSystem,
		"":                SourceSystem,
		"carrier-pigeon":  SourceSystem,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseSource(in), "ParseSource(%q)", in)
	}
}

func TestDecodeEvent(t *testing.T) {
	frame, err := ParseFrame([]byte(`{
		"type": "event",
		"data": {
			"id": "evt-1",
			"type": "APPOINTMENT_CREATED",
			"timestamp": "2026-03-01T10:15:00Z",
			"payload": {"clientName": "Ada", "slots": 2},
			"source": "telegram"
		}
	}`))
	require.NoError(t, err)

	ev, err := DecodeEvent(frame, now)
	require.NoError(t, err)

	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, "appointment.created", ev.Type)
	assert.Equal(t, "APPOINTMENT_CREATED", ev.RawType)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC), ev.Timestamp.UTC())
	assert.Equal(t, SourcePrimaryChannel, ev.Source)
	assert.Equal(t, "appointment", ev.Category())
	assert.Equal(t, "Ada", ev.PayloadString("clientName"))
	assert.Equal(t, "2", ev.PayloadString("slots"))
	assert.Equal(t, "", ev.PayloadString("missing"))
}

func TestDecodeEvent_Timestamps(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "unix millis",
			frame: `{"type":"event","data":{"id":"a","type":"x","timestamp":1772359200000}}`,
			want:  time.UnixMilli(1772359200000),
		},
		{
			name:  "missing falls back to frame timestamp",
			frame: `{"type":"event","timestamp":"2026-03-01T08:00:00Z","data":{"id":"a","type":"x"}}`,
			want:  time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		},
		{
			name:  "missing everywhere falls back to now",
			frame: `{"type":"event","data":{"id":"a","type":"x"}}`,
			want:  now,
		},
		{
			name:    "garbage",
			frame:   `{"type":"event","data":{"id":"a","type":"x","timestamp":"yesterday"}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame([]byte(tt.frame))
			require.NoError(t, err)
			ev, err := DecodeEvent(f, now)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsProtocolError(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(ev.Timestamp), "got %v want %v", ev.Timestamp, tt.want)
		})
	}
}

func TestDecodeEvent_RequiredFields(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"no data", `{"type":"event"}`},
		{"null data", `{"type":"event","data":null}`},
		{"data not object", `{"type":"event","data":"hi"}`},
		{"no id", `{"type":"event","data":{"type":"appointment.created"}}`},
		{"empty id", `{"type":"event","data":{"id":" ","type":"appointment.created"}}`},
		{"no type", `{"type":"event","data":{"id":"a"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame([]byte(tt.frame))
			require.NoError(t, err)
			_, err = DecodeEvent(f, now)
			require.Error(t, err)
			assert.True(t, IsProtocolError(err))
		})
	}
}

func TestDecodeEvent_NumericID(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"event","data":{"id":42,"type":"bot.message.received","data":{"chat":"c"}}}`))
	require.NoError(t, err)
	ev, err := DecodeEvent(f, now)
	require.NoError(t, err)
	assert.Equal(t, "42", ev.ID)
	assert.Equal(t, "c", ev.PayloadString("chat"))
	assert.Equal(t, SourceSystem, ev.Source)
}

func TestNewFrame(t *testing.T) {
	f, err := NewFrame(TypeEvent, map[string]string{"id": "a", "type": "slot.freed"}, now)
	require.NoError(t, err)
	raw, err := f.Encode()
	require.NoError(t, err)

	back, err := ParseFrame(raw)
	require.NoError(t, err)
	ev, err := DecodeEvent(back, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "slot.freed", ev.Type)
	assert.True(t, now.Equal(ev.Timestamp))

	assert.JSONEq(t, `{"type":"ping"}`, string(PingFrame()))
}
