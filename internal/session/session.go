// Package session is the composition root of the realtime sync core. A
// Session owns one authenticated sync state: the push connection, the
// event log, the dashboard counters and the notification collection.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/UillB/appointmets-bot-sub003/internal/auth"
	"github.com/UillB/appointmets-bot-sub003/internal/connection"
	"github.com/UillB/appointmets-bot-sub003/internal/ingest"
	"github.com/UillB/appointmets-bot-sub003/internal/metrics"
	"github.com/UillB/appointmets-bot-sub003/internal/notification"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/logger"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/scheduler"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/worker"
	"github.com/UillB/appointmets-bot-sub003/internal/push"
	"github.com/UillB/appointmets-bot-sub003/internal/stats"
	"github.com/UillB/appointmets-bot-sub003/internal/view"
)

// Deps are the session's external collaborators. Zero values pick the
// production implementation.
type Deps struct {
	// Dialer opens push sockets. Default: connection.WebsocketDialer.
	Dialer connection.Dialer
	// Store is the notification backend. Default: notification.HTTPStore
	// on Config.API, authenticated with the session token.
	Store notification.Store
	// Scheduler drives every timer. Default: scheduler.Real().
	Scheduler scheduler.Scheduler
	// Registerer receives the sync-core collectors. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer
	// TokenSource, when set, is watched for refreshes and logouts.
	TokenSource auth.TokenSource
}

// Session wires the sync-core components together.
type Session struct {
	cfg Config
	log *zap.Logger

	pool       *worker.Pool
	metrics    *metrics.Metrics
	manager    *connection.Manager
	ingestor   *ingest.Ingestor
	projector  *stats.Projector
	reconciler *notification.Reconciler
	watcher    *auth.Watcher

	mu         sync.Mutex
	token      string
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	syncing    bool
	closed     bool
	ingestDone chan struct{}
}

// New builds a session. Nothing connects until Start.
func New(cfg Config, deps Deps) (*Session, error) {
	s := &Session{
		cfg:        cfg,
		log:        logger.Named("session"),
		ingestDone: make(chan struct{}),
	}

	if deps.Scheduler == nil {
		deps.Scheduler = scheduler.Real()
	}
	if deps.Dialer == nil {
		deps.Dialer = connection.WebsocketDialer{}
	}
	if deps.Store == nil {
		store, err := notification.NewHTTPStore(cfg.API, s.Token)
		if err != nil {
			return nil, fmt.Errorf("notification store: %w", err)
		}
		deps.Store = store
	}

	pool, err := worker.NewPool(context.Background(), "realtime", cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}
	s.pool = pool
	s.metrics = metrics.New(deps.Registerer)

	s.manager = connection.NewManager(cfg.Connection, deps.Dialer, deps.Scheduler, pool,
		connection.WithMetrics(s.metrics))
	s.ingestor = ingest.NewIngestor(cfg.EventCapacity,
		ingest.WithMetrics(s.metrics),
		ingest.WithClock(deps.Scheduler.Now))
	s.projector = stats.NewProjector(deps.Scheduler.Now)
	s.reconciler = notification.NewReconciler(cfg.Notifications, deps.Store, deps.Scheduler,
		notification.WithMetrics(s.metrics),
		notification.WithPool(pool))

	// frames -> ingestor -> {projector, reconciler}; pongs -> heartbeat diagnostics
	s.ingestor.Subscribe(s.projector.Handle)
	s.ingestor.Subscribe(s.reconciler.OnEvent)
	s.ingestor.OnPong(s.manager.AckHeartbeat)

	if deps.TokenSource != nil {
		s.watcher = auth.NewWatcher(deps.TokenSource, deps.Scheduler, cfg.RefreshSkew)
		s.watcher.OnChange(s.SetCredentials)
	}
	return s, nil
}

// Start runs the ingest loop and the token watcher, then connects and
// performs the initial notification load when a token is installed.
// The returned error is the initial load's; the session keeps running and
// the periodic resync retries.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.ctx, s.cancel = runCtx, cancel
	s.mu.Unlock()

	frames := s.manager.Frames()
	if err := s.pool.SubmitDetached(func(context.Context) {
		defer close(s.ingestDone)
		s.ingestor.Run(runCtx, frames)
	}); err != nil {
		close(s.ingestDone)
		return fmt.Errorf("start ingest loop: %w", err)
	}

	if s.watcher != nil {
		s.watcher.Start(runCtx)
	}

	s.mu.Lock()
	s.started = true
	token := s.token
	authed := token != "" && !s.syncing
	if authed {
		s.syncing = true
	}
	s.mu.Unlock()

	s.log.Info("Realtime session started", zap.Bool("authenticated", authed))
	if !authed {
		return nil
	}
	s.manager.SetCredentials(&connection.Credentials{URL: s.cfg.PushURL, Token: token})
	return s.reconciler.Start(runCtx)
}

// SetCredentials installs a bearer token for the push channel and the
// REST store. A changed token reconnects; an empty one logs out. Before
// Start the token is only remembered.
func (s *Session) SetCredentials(token string) {
	if token == "" {
		s.Logout()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.token = token
	if !s.started {
		s.mu.Unlock()
		return
	}
	resume := !s.syncing
	if resume {
		s.syncing = true
	}
	ctx := s.ctx
	s.mu.Unlock()

	s.manager.SetCredentials(&connection.Credentials{URL: s.cfg.PushURL, Token: token})
	if resume {
		s.startSyncAsync(ctx)
	}
}

// Logout disconnects and pauses notification sync. Event history and
// counters stay until Reset or Close.
func (s *Session) Logout() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.token = ""
	wasSyncing := s.syncing
	s.syncing = false
	s.mu.Unlock()

	s.manager.SetCredentials(nil)
	if wasSyncing {
		s.reconciler.Stop()
	}
	s.log.Info("Realtime session logged out")
}

// Token returns the current bearer token.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Reset clears the event log and the dashboard counters.
func (s *Session) Reset() {
	s.ingestor.Reset()
	s.projector.Reset()
}

// Close tears the session down: the socket is closed and every timer is
// stopped before Close returns. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.manager.Close()
	s.reconciler.Stop()
	if cancel != nil {
		cancel()
		<-s.ingestDone
	}
	s.pool.Shutdown()
	s.log.Info("Realtime session closed")
}

func (s *Session) startSyncAsync(ctx context.Context) {
	err := s.pool.SubmitDetached(func(context.Context) {
		if err := s.reconciler.Start(ctx); err != nil {
			s.log.Warn("Notification sync start failed", zap.Error(err))
		}
	})
	if err != nil {
		s.log.Warn("Notification sync not started", zap.Error(err))
	}
}

// --- Accessors ---

// State returns the connection state.
func (s *Session) State() connection.State { return s.manager.State() }

// Diagnostics returns heartbeat and reconnect bookkeeping.
func (s *Session) Diagnostics() connection.Diagnostics { return s.manager.Diagnostics() }

// Events returns the event log, newest first.
func (s *Session) Events() []push.Event { return s.ingestor.Log() }

// Stats returns the dashboard counters.
func (s *Session) Stats() stats.Stats { return s.projector.Snapshot() }

// Notifications returns the merged notification collection.
func (s *Session) Notifications() notification.Snapshot { return s.reconciler.Snapshot() }

// Metrics returns the session's collectors.
func (s *Session) Metrics() *metrics.Metrics { return s.metrics }

// PoolMetrics reports worker pool usage.
func (s *Session) PoolMetrics() map[string]int { return s.pool.Metrics() }

// Dashboard builds the dashboard view with up to limit recent events.
func (s *Session) Dashboard(limit int) view.Dashboard {
	return view.BuildDashboard(s.projector.Snapshot(), s.ingestor.Log(), s.manager.State(), limit)
}

// Panel builds the notification panel for tab. An empty tab uses the
// default chosen at the first load.
func (s *Session) Panel(tab notification.Tab, now time.Time) view.Panel {
	return view.BuildPanel(s.reconciler.Snapshot(), tab, now)
}

// OnChange registers fn for any change the views depend on: connection
// state, counters or notifications. fn may run on any goroutine.
func (s *Session) OnChange(fn func()) {
	s.manager.OnStateChange(func(_, _ connection.State) { fn() })
	s.projector.OnChange(func(stats.Stats) { fn() })
	s.reconciler.OnChange(func(notification.Snapshot) { fn() })
}

// OnMessage registers fn for forwarded non-event frames (notification
// toasts, connection greetings).
func (s *Session) OnMessage(fn ingest.MessageHandler) { s.ingestor.OnMessage(fn) }

// --- Notification operations ---

// Refresh fetches the authoritative notification list now.
func (s *Session) Refresh(ctx context.Context) error { return s.reconciler.Refresh(ctx) }

// MarkRead marks one notification read.
func (s *Session) MarkRead(ctx context.Context, id string) error {
	return s.reconciler.MarkRead(ctx, id)
}

// MarkAllRead marks every notification read.
func (s *Session) MarkAllRead(ctx context.Context) error { return s.reconciler.MarkAllRead(ctx) }

// Archive archives one notification.
func (s *Session) Archive(ctx context.Context, id string) error {
	return s.reconciler.Archive(ctx, id)
}

// Delete removes one notification.
func (s *Session) Delete(ctx context.Context, id string) error {
	return s.reconciler.Delete(ctx, id)
}

// ClearAll removes every notification and zeroes the counts.
func (s *Session) ClearAll(ctx context.Context) error { return s.reconciler.ClearAll(ctx) }
