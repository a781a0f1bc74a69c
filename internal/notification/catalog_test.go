package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UillB/appointmets-bot-sub003/internal/push"
)

func TestCatalog_IsNotifiable(t *testing.T) {
	c := DefaultCatalog()
	tests := map[string]bool{
		"appointment.created":   true,
		"APPOINTMENT_CANCELLED": true,
		"service.deleted":       true,
		"bot.message.received":  true,
		"slot.released":         true,
		"slot":                  true,
		"user.login":            false,
		"appointments.created":  false,
		"":                      false,
	}
	for typ, want := range tests {
		assert.Equal(t, want, c.IsNotifiable(typ), typ)
	}
}

func TestCatalog_Lookup(t *testing.T) {
	c := DefaultCatalog()
	tests := []struct {
		typ       string
		wantTitle string
	}{
		{"appointment.created", "New appointment"},
		{"appointment_created", "New appointment"},
		{"bot_booking_completed", "Booking completed in bot"},
		{"appointment.rescheduled", "Appointment update"},
		{"slot.blocked.manually", "Slot update"},
		{"weather.changed", "New event"},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			assert.Equal(t, tt.wantTitle, c.Lookup(tt.typ).Title)
		})
	}
}

func TestCatalog_RenderMissingFields(t *testing.T) {
	c := DefaultCatalog()
	title, message := c.Render(push.Event{ID: "1", Type: "appointment.cancelled"})
	assert.Equal(t, "Appointment cancelled", title)
	assert.Equal(t, "cancelled on", message)

	_, message = c.Render(push.Event{
		ID:      "2",
		Type:    "bot.message.received",
		Payload: map[string]any{"clientName": "Bo", "text": "Is 5pm free?"},
	})
	assert.Equal(t, "Bo wrote: Is 5pm free?", message)
}

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(`
notifiable: [order]
types:
  order_shipped:
    title: "Order {{ orderId }} shipped"
default:
  title: Fallback
`))
	require.NoError(t, err)
	assert.True(t, c.IsNotifiable("order.shipped"))
	assert.False(t, c.IsNotifiable("appointment.created"))

	title, _ := c.Render(push.Event{Type: "order.shipped", Payload: map[string]any{"orderId": float64(42)}})
	assert.Equal(t, "Order 42 shipped", title)

	title, _ = c.Render(push.Event{Type: "order.lost"})
	assert.Equal(t, "Fallback", title)

	_, err = ParseCatalog([]byte(`types: {}`))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte(`notifiable: [`))
	assert.Error(t, err)
}
