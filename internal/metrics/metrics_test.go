package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.SetConnectionState("connected")
	m.ReconnectScheduled()
	m.FrameReceived("event")
	m.FrameDropped("malformed")
	m.EventIngested()
	m.EventDuplicate()
	m.NotificationSynthesized()
	m.RESTFailure("list")
	m.ObserveResync(time.Now())
}

func TestNew_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.EventIngested()
	m.FrameReceived("event")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"realtime_events_ingested_total", "realtime_frames_received_total"} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}

	// A second session on its own registry must not panic.
	New(prometheus.NewRegistry())
	New(nil)
}

func TestSetConnectionState(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetConnectionState("connecting")
	m.SetConnectionState("connected")

	expected := `
		# HELP realtime_connection_state Current push connection state (1 = active state)
		# TYPE realtime_connection_state gauge
		realtime_connection_state{state="connected"} 1
		realtime_connection_state{state="connecting"} 0
		realtime_connection_state{state="disconnected"} 0
		realtime_connection_state{state="error"} 0
	`
	if err := testutil.CollectAndCompare(m.ConnectionState, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metric value: %v", err)
	}
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ReconnectScheduled()
	m.ReconnectScheduled()
	m.EventDuplicate()
	m.RESTFailure("mark_read")
	m.FrameReceived("")

	if got := testutil.ToFloat64(m.ReconnectsScheduled); got != 2 {
		t.Errorf("reconnects = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.EventsDuplicate); got != 1 {
		t.Errorf("duplicates = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RESTFailures.WithLabelValues("mark_read")); got != 1 {
		t.Errorf("rest failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FramesReceived.WithLabelValues("unknown")); got != 1 {
		t.Errorf("unknown frames = %v, want 1", got)
	}
}
