// Package metrics exposes Prometheus instrumentation for the realtime sync
// core.
//
// Metrics are registered on the Registerer passed to New so several
// sessions (and tests) never collide on the default registry. Every method
// is safe on a nil *Metrics, which is how components run uninstrumented.
//
// Usage:
//
//	m := metrics.New(prometheus.NewRegistry())
//	m.FrameReceived("event")
//	defer m.ObserveResync(time.Now())
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "realtime"

// ConnectionStates lists the label values of realtime_connection_state.
var ConnectionStates = []string{"disconnected", "connecting", "connected", "error"}

// Metrics holds every collector of the sync core.
type Metrics struct {
	// ConnectionState is 1 for the current state and 0 for the others.
	// Labels: state (disconnected|connecting|connected|error)
	ConnectionState *prometheus.GaugeVec

	// ReconnectsScheduled counts reconnect timers armed after abnormal
	// closes and dial failures.
	ReconnectsScheduled prometheus.Counter

	// FramesReceived counts inbound frames by frame type.
	// Labels: type (event|notification|ping|pong|connection|unknown)
	FramesReceived *prometheus.CounterVec

	// FramesDropped counts frames discarded by the ingestor.
	// Labels: reason (malformed|invalid_event)
	FramesDropped *prometheus.CounterVec

	// EventsIngested counts events appended to the event log.
	EventsIngested prometheus.Counter

	// EventsDuplicate counts re-delivered events discarded by id.
	EventsDuplicate prometheus.Counter

	// NotificationsSynthesized counts optimistic records built from events.
	NotificationsSynthesized prometheus.Counter

	// RESTFailures counts failed notification API calls.
	// Labels: op (list|stats|mark_read|mark_all_read|archive|delete|clear_all)
	RESTFailures *prometheus.CounterVec

	// ResyncDuration measures authoritative list+stats refreshes.
	// Buckets: 10ms .. 10s
	ResyncDuration prometheus.Histogram
}

// New creates the collectors and registers them on reg. A nil reg yields
// working but unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_state",
				Help:      "Current push connection state (1 = active state)",
			},
			[]string{"state"},
		),

		ReconnectsScheduled: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_scheduled_total",
				Help:      "Total number of reconnect attempts scheduled",
			},
		),

		FramesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_received_total",
				Help:      "Total number of inbound push frames by type",
			},
			[]string{"type"},
		),

		FramesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_dropped_total",
				Help:      "Total number of inbound frames dropped by reason",
			},
			[]string{"reason"},
		),

		EventsIngested: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Total number of distinct events appended to the event log",
			},
		),

		EventsDuplicate: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_duplicate_total",
				Help:      "Total number of re-delivered events discarded by id",
			},
		),

		NotificationsSynthesized: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_synthesized_total",
				Help:      "Total number of notifications synthesized from push events",
			},
		),

		RESTFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rest_failures_total",
				Help:      "Total number of failed notification API calls by operation",
			},
			[]string{"op"},
		),

		ResyncDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resync_duration_seconds",
				Help:      "Duration of authoritative notification refreshes in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
	}
}

// SetConnectionState marks state as the active connection state.
func (m *Metrics) SetConnectionState(state string) {
	if m == nil {
		return
	}
	for _, s := range ConnectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s).Set(v)
	}
}

// ReconnectScheduled records one armed reconnect timer.
func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.ReconnectsScheduled.Inc()
}

// FrameReceived records an inbound frame of frameType.
func (m *Metrics) FrameReceived(frameType string) {
	if m == nil {
		return
	}
	if frameType == "" {
		frameType = "unknown"
	}
	m.FramesReceived.WithLabelValues(frameType).Inc()
}

// FrameDropped records a discarded frame.
func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// EventIngested records a newly logged event.
func (m *Metrics) EventIngested() {
	if m == nil {
		return
	}
	m.EventsIngested.Inc()
}

// EventDuplicate records a discarded re-delivery.
func (m *Metrics) EventDuplicate() {
	if m == nil {
		return
	}
	m.EventsDuplicate.Inc()
}

// NotificationSynthesized records an optimistic notification insert.
func (m *Metrics) NotificationSynthesized() {
	if m == nil {
		return
	}
	m.NotificationsSynthesized.Inc()
}

// RESTFailure records a failed notification API call.
func (m *Metrics) RESTFailure(op string) {
	if m == nil {
		return
	}
	m.RESTFailures.WithLabelValues(op).Inc()
}

// ObserveResync records the duration of a refresh that began at start.
func (m *Metrics) ObserveResync(start time.Time) {
	if m == nil {
		return
	}
	m.ResyncDuration.Observe(time.Since(start).Seconds())
}
