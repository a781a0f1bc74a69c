package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/UillB/appointmets-bot-sub003/internal/pkg/logger"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/scheduler"
)

// DefaultRefreshSkew is how long before expiry the watcher asks for a
// fresh token.
const DefaultRefreshSkew = 30 * time.Second

// TokenSource yields the current bearer token. An empty token means the
// user is logged out.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenSourceFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken is a TokenSource that never changes.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// ChangeFunc receives the new token. An empty token means logout.
type ChangeFunc func(token string)

// Watcher polls a TokenSource shortly before the current token expires and
// reports changes.
type Watcher struct {
	source TokenSource
	sched  scheduler.Scheduler
	skew   time.Duration
	log    *zap.Logger

	mu        sync.Mutex
	ctx       context.Context
	current   string
	polled    bool
	timer     scheduler.Timer
	stopped   bool
	listeners []ChangeFunc
}

// NewWatcher creates a Watcher. A non-positive skew uses DefaultRefreshSkew.
func NewWatcher(source TokenSource, sched scheduler.Scheduler, skew time.Duration) *Watcher {
	if skew <= 0 {
		skew = DefaultRefreshSkew
	}
	return &Watcher{
		source: source,
		sched:  sched,
		skew:   skew,
		log:    logger.Named("auth.watcher"),
		ctx:    context.Background(),
	}
}

// OnChange registers fn for token changes.
func (w *Watcher) OnChange(fn ChangeFunc) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Token returns the last token read from the source.
func (w *Watcher) Token() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Start reads the source once and arms the refresh timer. Listeners fire
// for the first token only if it is non-empty.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	w.ctx = ctx
	w.stopped = false
	w.mu.Unlock()
	w.Poll()
}

// Stop cancels the refresh timer.
func (w *Watcher) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.timer = scheduler.Stop(w.timer)
	w.mu.Unlock()
}

// Poll reads the source now and re-arms the timer.
func (w *Watcher) Poll() {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()

	token, err := w.source.Token(ctx)

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if err != nil {
		w.log.Warn("Token refresh failed", zap.Error(err))
		w.timer = scheduler.Stop(w.timer)
		w.timer = w.sched.After(w.skew, w.Poll)
		w.mu.Unlock()
		return
	}

	changed := token != w.current && (w.polled || token != "")
	w.current = token
	w.polled = true
	w.timer = scheduler.Stop(w.timer)
	w.timer = w.sched.After(w.nextPoll(token), w.Poll)
	listeners := append([]ChangeFunc(nil), w.listeners...)
	w.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(token)
	}
}

func (w *Watcher) nextPoll(token string) time.Duration {
	exp, ok := TokenExpiry(token)
	if !ok {
		return 2 * w.skew
	}
	d := exp.Sub(w.sched.Now()) - w.skew
	if d <= 0 {
		return w.skew
	}
	return d
}
