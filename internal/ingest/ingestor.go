package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/UillB/appointmets-bot-sub003/internal/metrics"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/logger"
	"github.com/UillB/appointmets-bot-sub003/internal/push"
)

// EventHandler processes a newly ingested event.
type EventHandler func(event push.Event) error

// MessageHandler receives non-event frames (notification, connection)
// for the toast layer. Nothing is buffered.
type MessageHandler func(frame push.Frame)

// PongHandler is told when the server answers a heartbeat.
type PongHandler func(at time.Time)

// Ingestor parses frames, deduplicates events by id and owns the event log.
// Only the Ingestor writes the log; everyone else reads copies.
type Ingestor struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.Mutex
	events *EventLog

	hmu      sync.RWMutex
	handlers []EventHandler
	messages []MessageHandler
	pongs    []PongHandler
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Ingestor) { i.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Ingestor) { i.metrics = m }
}

// WithClock sets the time source used for events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// NewIngestor creates an Ingestor with an empty log of the given capacity.
func NewIngestor(capacity int, opts ...Option) *Ingestor {
	i := &Ingestor{
		log:    logger.Named("ingest"),
		now:    time.Now,
		events: NewEventLog(capacity),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Subscribe registers an event handler. Handlers run in subscription order
// after the log is updated, outside the log lock.
func (i *Ingestor) Subscribe(h EventHandler) {
	i.hmu.Lock()
	defer i.hmu.Unlock()
	i.handlers = append(i.handlers, h)
}

// OnMessage registers a handler for forwarded non-event frames.
func (i *Ingestor) OnMessage(h MessageHandler) {
	i.hmu.Lock()
	defer i.hmu.Unlock()
	i.messages = append(i.messages, h)
}

// OnPong registers a heartbeat acknowledgement handler.
func (i *Ingestor) OnPong(h PongHandler) {
	i.hmu.Lock()
	defer i.hmu.Unlock()
	i.pongs = append(i.pongs, h)
}

// Run feeds frames into OnFrame until ctx is done or frames is closed.
func (i *Ingestor) Run(ctx context.Context, frames <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-frames:
			if !ok {
				return
			}
			i.OnFrame(raw)
		}
	}
}

// OnFrame processes one raw frame. Protocol errors are logged and the
// frame is dropped; nothing is returned to the caller.
func (i *Ingestor) OnFrame(raw []byte) {
	frame, err := push.ParseFrame(raw)
	if err != nil {
		i.metrics.FrameDropped("malformed")
		i.log.Warn("Dropping malformed frame", zap.Error(err), zap.Int("bytes", len(raw)))
		return
	}
	i.metrics.FrameReceived(frame.Type)

	switch frame.Type {
	case push.TypeEvent:
		i.ingest(frame)
	case push.TypePong:
		at := i.now()
		for _, h := range i.pongHandlers() {
			h(at)
		}
	case push.TypePing:
		// Server-side liveness check; nothing to forward.
	default:
		for _, h := range i.messageHandlers() {
			h(frame)
		}
	}
}

func (i *Ingestor) ingest(frame push.Frame) {
	event, err := push.DecodeEvent(frame, i.now())
	if err != nil {
		i.metrics.FrameDropped("invalid_event")
		i.log.Warn("Dropping invalid event frame", zap.Error(err))
		return
	}

	i.mu.Lock()
	added := i.events.Add(event)
	i.mu.Unlock()

	if !added {
		i.metrics.EventDuplicate()
		i.log.Debug("Duplicate event discarded", zap.String("event_id", event.ID))
		return
	}
	i.metrics.EventIngested()
	i.dispatch(event)
}

// dispatch calls every handler; a failing handler is logged and the rest
// still run.
func (i *Ingestor) dispatch(event push.Event) {
	i.hmu.RLock()
	handlers := i.handlers
	i.hmu.RUnlock()

	for idx, h := range handlers {
		if err := safeCall(h, event); err != nil {
			i.log.Error("Event handler failed",
				zap.Int("handler", idx),
				zap.String("event_id", event.ID),
				zap.String("event_type", event.Type),
				zap.Error(err),
			)
		}
	}
}

func safeCall(h EventHandler, event push.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(event)
}

func (i *Ingestor) pongHandlers() []PongHandler {
	i.hmu.RLock()
	defer i.hmu.RUnlock()
	return i.pongs
}

func (i *Ingestor) messageHandlers() []MessageHandler {
	i.hmu.RLock()
	defer i.hmu.RUnlock()
	return i.messages
}

// Log returns a newest-first copy of the event log.
func (i *Ingestor) Log() []push.Event {
	return i.Recent(0)
}

// Recent returns up to limit newest events; limit <= 0 means all.
func (i *Ingestor) Recent(limit int) []push.Event {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.events.Events(limit)
}

// Len returns the number of logged events.
func (i *Ingestor) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.events.Len()
}

// Contains reports whether an event id is logged.
func (i *Ingestor) Contains(id string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.events.Contains(id)
}

// Reset clears the log. Reconnects never call this; only an explicit
// session reset does.
func (i *Ingestor) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.events.Reset()
}
