// Package stats folds push events into running dashboard counters, one
// event at a time, without rescanning history.
package stats

import (
	"sync"
	"time"

	"github.com/UillB/appointmets-bot-sub003/internal/push"
)

// Counter names.
const (
	TodayAppointments   = "todayAppointments"
	PendingAppointments = "pendingAppointments"
	ActiveUsers         = "activeUsers"
	RealTimeEvents      = "realTimeEvents"
)

// Counters lists every counter in display order.
var Counters = []string{TodayAppointments, PendingAppointments, ActiveUsers, RealTimeEvents}

// Stats is a snapshot of the aggregate counters.
type Stats struct {
	Counters   map[string]int `json:"counters"`
	LastUpdate time.Time      `json:"lastUpdate"`
}

// Get returns a counter value (0 when absent).
func (s Stats) Get(name string) int {
	return s.Counters[name]
}

// effect is a per-counter delta. Negative deltas floor at zero.
type effect map[string]int

// effects is keyed by normalized event type. Every event, listed or not,
// also bumps RealTimeEvents.
var effects = map[string]effect{
	"appointment.created":   {TodayAppointments: +1},
	"appointment.cancelled": {TodayAppointments: -1},
	"appointment.confirmed": {PendingAppointments: -1},
	"bot.booking.completed": {ActiveUsers: +1},
	"bot.message.received":  {ActiveUsers: +1},
}

// Listener observes snapshots after each update.
type Listener func(Stats)

// Projector holds the counters. Apply must be called exactly once per
// newly ingested event, in observed order.
type Projector struct {
	now func() time.Time

	mu         sync.Mutex
	counters   map[string]int
	lastUpdate time.Time
	listeners  []Listener
}

// NewProjector creates a projector with all counters at zero.
func NewProjector(now func() time.Time) *Projector {
	if now == nil {
		now = time.Now
	}
	p := &Projector{now: now}
	p.counters = zeroCounters()
	return p
}

func zeroCounters() map[string]int {
	c := make(map[string]int, len(Counters))
	for _, name := range Counters {
		c[name] = 0
	}
	return c
}

// Apply folds one event into the counters.
func (p *Projector) Apply(event push.Event) {
	p.mu.Lock()
	for name, delta := range effects[push.NormalizeType(event.Type)] {
		next := p.counters[name] + delta
		if next < 0 {
			next = 0
		}
		p.counters[name] = next
	}
	p.counters[RealTimeEvents]++
	p.lastUpdate = p.now()
	snap := p.snapshotLocked()
	listeners := p.listeners
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// Handle adapts Apply to the ingest handler signature.
func (p *Projector) Handle(event push.Event) error {
	p.Apply(event)
	return nil
}

// OnChange registers a snapshot listener.
func (p *Projector) OnChange(fn Listener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (p *Projector) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Get returns one counter.
func (p *Projector) Get(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters[name]
}

// Reset zeroes every counter, including RealTimeEvents. Only an explicit
// session reset calls this.
func (p *Projector) Reset() {
	p.mu.Lock()
	p.counters = zeroCounters()
	p.lastUpdate = p.now()
	snap := p.snapshotLocked()
	listeners := p.listeners
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

func (p *Projector) snapshotLocked() Stats {
	c := make(map[string]int, len(p.counters))
	for k, v := range p.counters {
		c[k] = v
	}
	return Stats{Counters: c, LastUpdate: p.lastUpdate}
}
