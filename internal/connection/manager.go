package connection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/UillB/appointmets-bot-sub003/internal/metrics"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/logger"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/scheduler"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/worker"
	"github.com/UillB/appointmets-bot-sub003/internal/push"
)

// StateListener observes state transitions. Listeners run after the
// manager's lock is released, in registration order.
type StateListener func(from, to State)

// Manager maintains at most one live push connection.
//
// Every socket belongs to a generation. Disconnect and Connect bump the
// generation, and dial results, read-loop exits, heartbeat ticks and
// reconnect timers carrying an older generation are ignored. That is what
// keeps a stray callback from resurrecting a connection the caller tore
// down.
type Manager struct {
	cfg     Config
	dialer  Dialer
	sched   scheduler.Scheduler
	pool    *worker.Pool
	log     *zap.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	creds      *Credentials
	state      State
	conn       Conn
	gen        uint64
	heartbeat  scheduler.Timer
	reconnect  scheduler.Timer
	dialCancel context.CancelFunc
	listeners  []StateListener
	lastPing   time.Time
	lastPong   time.Time
	attempts   int
	closed     bool

	writeMu   sync.Mutex
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a manager in StateDisconnected. Dials and read loops
// run on pool.
func NewManager(cfg Config, dialer Dialer, sched scheduler.Scheduler, pool *worker.Pool, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:    cfg,
		dialer: dialer,
		sched:  sched,
		pool:   pool,
		log:    logger.Named("connection"),
		state:  StateDisconnected,
		frames: make(chan []byte, cfg.FrameBuffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics.SetConnectionState(m.state.String())
	return m
}

// Frames delivers inbound frames in arrival order. The read loop blocks
// when the buffer is full.
func (m *Manager) Frames() <-chan []byte {
	return m.frames
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers a transition listener.
func (m *Manager) OnStateChange(fn StateListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// SetCredentials installs new credentials. A change forces a disconnect
// followed by a connect when c is non-nil; nil logs out. Installing the
// same credentials again only ensures a connection is up.
func (m *Manager) SetCredentials(c *Credentials) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if sameCredentials(m.creds, c) {
		m.mu.Unlock()
		if c != nil {
			m.Connect()
		}
		return
	}
	if c != nil {
		cp := *c
		m.creds = &cp
	} else {
		m.creds = nil
	}
	tr, conn := m.disconnectLocked()
	m.mu.Unlock()

	m.closeConn(conn)
	m.notify(tr)
	m.log.Info("Credentials changed", zap.Bool("authenticated", c != nil))

	if c != nil {
		m.Connect()
	}
}

// Connect opens the push channel. It is a no-op while already connecting
// or connected, and when no credentials are installed.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed || m.creds == nil || m.state.Active() {
		m.mu.Unlock()
		return
	}

	stale := m.conn
	m.conn = nil
	m.stopTimersLocked()
	m.gen++
	gen := m.gen
	uri, uriErr := m.creds.URI()
	ctx, cancel := context.WithCancel(m.pool.Context())
	m.dialCancel = cancel
	tr := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.closeConn(stale)
	m.notify(tr)

	if uriErr != nil {
		m.onDialResult(gen, nil, uriErr)
		return
	}

	err := m.pool.SubmitDetached(func(context.Context) {
		dialCtx, dialCancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
		defer dialCancel()
		conn, err := m.dialer.Dial(dialCtx, uri)
		if m.onDialResult(gen, conn, err) {
			m.readLoop(gen, conn)
		}
	})
	if err != nil {
		m.onDialResult(gen, nil, err)
	}
}

// Disconnect cancels the heartbeat and any pending reconnect, closes the
// socket with a normal-closure code and moves to StateDisconnected. It is
// the only path that suppresses auto-reconnect. Timers are stopped before
// it returns.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	tr, conn := m.disconnectLocked()
	m.mu.Unlock()

	m.closeConn(conn)
	m.notify(tr)
}

// Close disconnects and stops frame delivery. Idempotent.
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.closeOnce.Do(func() { close(m.done) })
}

// AckHeartbeat records a pong. Pongs feed Diagnostics only; liveness is
// decided by the transport's close and error events.
func (m *Manager) AckHeartbeat(at time.Time) {
	m.mu.Lock()
	m.lastPong = at
	m.mu.Unlock()
}

// Diagnostics returns heartbeat and reconnect bookkeeping.
func (m *Manager) Diagnostics() Diagnostics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Diagnostics{
		State:             m.state,
		Generation:        m.gen,
		LastPingSent:      m.lastPing,
		LastPongReceived:  m.lastPong,
		ReconnectAttempts: m.attempts,
		ReconnectPending:  m.reconnect != nil,
	}
}

// --- Internals ---

type transition struct {
	from, to  State
	listeners []StateListener
}

func (m *Manager) setStateLocked(to State) *transition {
	if m.state == to {
		return nil
	}
	tr := &transition{from: m.state, to: to, listeners: append([]StateListener(nil), m.listeners...)}
	m.state = to
	m.metrics.SetConnectionState(to.String())
	return tr
}

func (m *Manager) notify(tr *transition) {
	if tr == nil {
		return
	}
	m.log.Debug("Connection state changed",
		zap.String("from", tr.from.String()),
		zap.String("state", tr.to.String()),
	)
	for _, fn := range tr.listeners {
		fn(tr.from, tr.to)
	}
}

func (m *Manager) stopTimersLocked() {
	m.heartbeat = scheduler.Stop(m.heartbeat)
	m.reconnect = scheduler.Stop(m.reconnect)
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
}

func (m *Manager) disconnectLocked() (*transition, Conn) {
	m.gen++
	m.stopTimersLocked()
	conn := m.conn
	m.conn = nil
	m.attempts = 0
	return m.setStateLocked(StateDisconnected), conn
}

func (m *Manager) closeConn(conn Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(NormalClosure, ""); err != nil {
		m.log.Debug("Socket close failed", zap.Error(err))
	}
}

// onDialResult applies a dial outcome. It reports whether conn became the
// live socket and a read loop should start.
func (m *Manager) onDialResult(gen uint64, conn Conn, err error) bool {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		m.closeConn(conn)
		return false
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}

	if err != nil {
		tr := m.setStateLocked(StateError)
		attempt := m.scheduleReconnectLocked(gen)
		m.mu.Unlock()
		m.log.Warn("Push channel dial failed",
			zap.Error(err),
			zap.Int("attempt", attempt),
		)
		m.notify(tr)
		return false
	}

	m.conn = conn
	m.attempts = 0
	tr := m.setStateLocked(StateConnected)
	m.heartbeat = m.sched.After(m.cfg.HeartbeatInterval, func() { m.onHeartbeat(gen) })
	m.mu.Unlock()

	m.log.Info("Push channel connected", zap.Uint64("generation", gen))
	m.notify(tr)
	return true
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.onReadError(gen, conn, err)
			return
		}
		if !m.current(gen) {
			return
		}
		select {
		case m.frames <- data:
		case <-m.done:
			return
		}
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// onReadError releases a socket the peer dropped and decides whether to
// reconnect. The socket is closed on every path, stale generations included.
func (m *Manager) onReadError(gen uint64, conn Conn, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.closeConn(conn)
		return
	}
	m.conn = nil
	m.heartbeat = scheduler.Stop(m.heartbeat)

	var tr *transition
	attempt := 0
	code, isClose := closeCode(err)
	switch {
	case isClose && code == NormalClosure:
		tr = m.setStateLocked(StateDisconnected)
	case isClose:
		tr = m.setStateLocked(StateDisconnected)
		attempt = m.scheduleReconnectLocked(gen)
	default:
		tr = m.setStateLocked(StateError)
		attempt = m.scheduleReconnectLocked(gen)
	}
	m.mu.Unlock()
	m.closeConn(conn)

	fields := []zap.Field{zap.Error(err), zap.Int("attempt", attempt)}
	if isClose {
		fields = append(fields, zap.Int("close_code", code))
	}
	if isClose && code == NormalClosure {
		m.log.Info("Push channel closed by server", fields...)
	} else {
		m.log.Warn("Push channel lost", fields...)
	}
	m.notify(tr)
}

// scheduleReconnectLocked arms the single reconnect timer and returns the
// attempt number, or 0 when a reconnect is already pending.
func (m *Manager) scheduleReconnectLocked(gen uint64) int {
	if m.reconnect != nil || m.creds == nil {
		return 0
	}
	m.attempts++
	m.reconnect = m.sched.After(m.cfg.ReconnectDelay, func() { m.onReconnectTimer(gen) })
	m.metrics.ReconnectScheduled()
	return m.attempts
}

func (m *Manager) onReconnectTimer(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.reconnect = nil
	m.mu.Unlock()

	m.log.Info("Reconnecting push channel", zap.Duration("delay", m.cfg.ReconnectDelay))
	m.Connect()
}

func (m *Manager) onHeartbeat(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.lastPing = m.sched.Now()
	m.heartbeat = m.sched.After(m.cfg.HeartbeatInterval, func() { m.onHeartbeat(gen) })
	m.mu.Unlock()

	m.writeMu.Lock()
	err := conn.WriteMessage(push.PingFrame())
	m.writeMu.Unlock()
	if err != nil {
		m.log.Warn("Heartbeat ping failed", zap.Error(err))
	}
}
