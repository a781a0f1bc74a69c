package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/UillB/appointmets-bot-sub003/internal/metrics"
	apperrors "github.com/UillB/appointmets-bot-sub003/internal/pkg/errors"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/logger"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/scheduler"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/worker"
	"github.com/UillB/appointmets-bot-sub003/internal/push"
)

// Config holds reconciler tuning.
type Config struct {
	// PageSize is the list limit of every authoritative fetch.
	PageSize int
	// RefetchDebounce coalesces refetches triggered by bursts of events.
	RefetchDebounce time.Duration
	// ResyncInterval is the period of the authoritative resync after Start.
	// Zero disables it.
	ResyncInterval time.Duration
}

// DefaultConfig returns production tuning.
func DefaultConfig() Config {
	return Config{
		PageSize:        50,
		RefetchDebounce: 300 * time.Millisecond,
		ResyncInterval:  60 * time.Second,
	}
}

// Snapshot is the merged notification view.
type Snapshot struct {
	// Records holds authoritative and optimistic records, newest first,
	// with unique ids.
	Records []Record
	// Unread is the server-reported unread count plus optimistic unread
	// records.
	Unread int
	Stats  ServerStats
	// DefaultTab is fixed at the first authoritative list.
	DefaultTab Tab
	Loaded     bool
}

// Listener observes snapshots after each change.
type Listener func(Snapshot)

type optimistic struct {
	Record
	seq uint64
}

// Reconciler presents one consistent notification list built from the
// server collection (authoritative) and records synthesized from push
// events (optimistic, ids prefixed with LocalPrefix).
//
// Every authoritative fetch carries a watermark: optimistic records
// inserted before the fetch was issued are superseded when it lands, later
// ones survive until the next refresh. Local mutations are applied before
// the server call and are not rolled back when it fails.
type Reconciler struct {
	cfg     Config
	store   Store
	sched   scheduler.Scheduler
	pool    *worker.Pool
	catalog *Catalog
	log     *zap.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	base       []Record
	local      []optimistic
	stats      ServerStats
	seq        uint64
	fetchSeq   uint64
	appliedSeq uint64
	defaultTab Tab
	loaded     bool
	refetch    scheduler.Timer
	resync     scheduler.Timer
	running    bool
	listeners  []Listener
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithCatalog replaces the built-in catalog.
func WithCatalog(c *Catalog) Option {
	return func(r *Reconciler) { r.catalog = c }
}

// WithPool runs timer-driven refreshes on pool. Without a pool they run on
// the timer's goroutine.
func WithPool(p *worker.Pool) Option {
	return func(r *Reconciler) { r.pool = p }
}

// NewReconciler creates an empty, unloaded reconciler.
func NewReconciler(cfg Config, store Store, sched scheduler.Scheduler, opts ...Option) *Reconciler {
	d := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = d.PageSize
	}
	if cfg.RefetchDebounce <= 0 {
		cfg.RefetchDebounce = d.RefetchDebounce
	}
	r := &Reconciler{
		cfg:     cfg,
		store:   store,
		sched:   sched,
		catalog: DefaultCatalog(),
		log:     logger.Named("notification"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnChange registers a snapshot listener.
func (r *Reconciler) OnChange(fn Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Snapshot returns the merged view.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Start performs the initial authoritative load and arms the periodic
// resync. The resync is armed even when the initial load fails.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	r.running = true
	r.armResyncLocked()
	r.mu.Unlock()

	return r.Refresh(ctx)
}

// Stop cancels the pending refetch and resync. Timer callbacks that are
// already running become no-ops.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	r.running = false
	r.refetch = scheduler.Stop(r.refetch)
	r.resync = scheduler.Stop(r.resync)
	r.mu.Unlock()
}

// OnServerList replaces the authoritative collection and supersedes every
// optimistic record.
func (r *Reconciler) OnServerList(records []Record, stats ServerStats) {
	r.mu.Lock()
	r.fetchSeq++
	seq := r.fetchSeq
	watermark := r.seq
	r.mu.Unlock()

	r.applyServerList(seq, watermark, records, stats)
}

// Refresh fetches the list and stats and applies them.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.mu.Lock()
	r.fetchSeq++
	seq := r.fetchSeq
	watermark := r.seq
	limit := r.cfg.PageSize
	r.mu.Unlock()

	start := time.Now()
	records, err := r.store.List(ctx, limit)
	if err != nil {
		return r.persistenceError(err, OpList)
	}
	stats, err := r.store.Stats(ctx)
	if err != nil {
		return r.persistenceError(err, OpStats)
	}
	r.metrics.ObserveResync(start)

	r.applyServerList(seq, watermark, records, stats)
	return nil
}

// OnEvent synthesizes an optimistic unread record for notifiable events
// and schedules a debounced authoritative refetch.
func (r *Reconciler) OnEvent(event push.Event) error {
	if !r.catalog.IsNotifiable(event.Type) {
		return nil
	}
	title, message := r.catalog.Render(event)
	created := event.Timestamp
	if created.IsZero() {
		created = r.sched.Now()
	}
	rec := Record{
		ID:        LocalPrefix + event.ID,
		Type:      event.Type,
		Title:     title,
		Message:   message,
		Data:      event.Payload,
		CreatedAt: created,
	}

	r.mu.Lock()
	if r.indexLocal(rec.ID) >= 0 {
		r.mu.Unlock()
		return nil
	}
	r.seq++
	r.local = append([]optimistic{{Record: rec, seq: r.seq}}, r.local...)
	r.scheduleRefetchLocked()
	snap, listeners := r.snapshotLocked(), r.listeners
	r.mu.Unlock()

	r.metrics.NotificationSynthesized()
	r.log.Debug("Notification synthesized",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
	)
	notify(listeners, snap)
	return nil
}

// MarkRead marks one notification read. Optimistic records are updated
// locally only; the server has never seen their ids.
func (r *Reconciler) MarkRead(ctx context.Context, id string) error {
	now := r.sched.Now()
	r.mu.Lock()
	if isLocalID(id) {
		i := r.indexLocal(id)
		if i < 0 {
			r.mu.Unlock()
			return notFound(id)
		}
		if !r.local[i].IsRead {
			r.local[i].IsRead = true
			r.local[i].ReadAt = timePtr(now)
		}
		r.commitLocked()
		return nil
	}

	i := r.indexBase(id)
	if i < 0 || !r.base[i].IsRead {
		r.stats.Unread = floor(r.stats.Unread - 1)
	}
	if i >= 0 && !r.base[i].IsRead {
		r.base[i].IsRead = true
		r.base[i].ReadAt = timePtr(now)
	}
	r.commitLocked()

	return r.call(ctx, OpMarkRead, id, func(ctx context.Context) error { return r.store.MarkRead(ctx, id) })
}

// MarkAllRead marks every record read and zeroes unread.
func (r *Reconciler) MarkAllRead(ctx context.Context) error {
	now := r.sched.Now()
	r.mu.Lock()
	for i := range r.local {
		if !r.local[i].IsRead {
			r.local[i].IsRead = true
			r.local[i].ReadAt = timePtr(now)
		}
	}
	for i := range r.base {
		if !r.base[i].IsRead {
			r.base[i].IsRead = true
			r.base[i].ReadAt = timePtr(now)
		}
	}
	r.stats.Unread = 0
	r.commitLocked()

	return r.call(ctx, OpMarkAllRead, "", r.store.MarkAllRead)
}

// Archive moves one notification to the archived tab. Unread counts are
// unchanged.
func (r *Reconciler) Archive(ctx context.Context, id string) error {
	now := r.sched.Now()
	r.mu.Lock()
	if isLocalID(id) {
		i := r.indexLocal(id)
		if i < 0 {
			r.mu.Unlock()
			return notFound(id)
		}
		if !r.local[i].IsArchived {
			r.local[i].IsArchived = true
			r.local[i].ArchivedAt = timePtr(now)
		}
		r.commitLocked()
		return nil
	}

	if i := r.indexBase(id); i >= 0 && !r.base[i].IsArchived {
		r.base[i].IsArchived = true
		r.base[i].ArchivedAt = timePtr(now)
	}
	r.commitLocked()

	return r.call(ctx, OpArchive, id, func(ctx context.Context) error { return r.store.Archive(ctx, id) })
}

// Delete removes one notification.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	if isLocalID(id) {
		i := r.indexLocal(id)
		if i < 0 {
			r.mu.Unlock()
			return notFound(id)
		}
		r.local = append(r.local[:i], r.local[i+1:]...)
		r.commitLocked()
		return nil
	}

	if i := r.indexBase(id); i >= 0 {
		if !r.base[i].IsRead {
			r.stats.Unread = floor(r.stats.Unread - 1)
		}
		r.stats.Total = floor(r.stats.Total - 1)
		r.base = append(r.base[:i], r.base[i+1:]...)
	}
	r.commitLocked()

	return r.call(ctx, OpDelete, id, func(ctx context.Context) error { return r.store.Delete(ctx, id) })
}

// ClearAll empties the collection and zeroes every counter. Fetches issued
// before the clear are discarded when they land.
func (r *Reconciler) ClearAll(ctx context.Context) error {
	r.mu.Lock()
	r.base = nil
	r.local = nil
	r.stats = ServerStats{}
	r.appliedSeq = r.fetchSeq
	r.refetch = scheduler.Stop(r.refetch)
	r.commitLocked()

	return r.call(ctx, OpClearAll, "", r.store.ClearAll)
}

// --- Internals ---

func (r *Reconciler) applyServerList(seq, watermark uint64, records []Record, stats ServerStats) {
	r.mu.Lock()
	if seq <= r.appliedSeq {
		r.mu.Unlock()
		r.log.Debug("Discarding stale notification list", zap.Uint64("fetch", seq))
		return
	}
	r.appliedSeq = seq

	seen := make(map[string]struct{}, len(records))
	base := make([]Record, 0, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.ID]; dup || rec.ID == "" {
			continue
		}
		seen[rec.ID] = struct{}{}
		base = append(base, rec)
	}
	r.base = base

	kept := r.local[:0]
	for _, o := range r.local {
		if o.seq > watermark {
			kept = append(kept, o)
		}
	}
	r.local = kept

	r.stats = stats
	r.stats.Unread = floor(stats.Unread)
	if !r.loaded {
		r.loaded = true
		r.defaultTab = TabAll
		if r.unreadLocked() > 0 {
			r.defaultTab = TabUnread
		}
	}
	r.commitLocked()
}

// commitLocked snapshots, releases the lock and notifies listeners.
func (r *Reconciler) commitLocked() {
	snap, listeners := r.snapshotLocked(), r.listeners
	r.mu.Unlock()
	notify(listeners, snap)
}

func notify(listeners []Listener, snap Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}

func (r *Reconciler) snapshotLocked() Snapshot {
	records := make([]Record, 0, len(r.local)+len(r.base))
	seen := make(map[string]struct{}, cap(records))
	for _, rec := range r.base {
		seen[rec.ID] = struct{}{}
		records = append(records, rec)
	}
	for _, o := range r.local {
		if _, dup := seen[o.ID]; dup {
			continue
		}
		seen[o.ID] = struct{}{}
		records = append(records, o.Record)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	stats := r.stats
	if r.stats.ByType != nil {
		stats.ByType = make(map[string]int, len(r.stats.ByType))
		for k, v := range r.stats.ByType {
			stats.ByType[k] = v
		}
	}
	return Snapshot{
		Records:    records,
		Unread:     r.unreadLocked(),
		Stats:      stats,
		DefaultTab: r.defaultTab,
		Loaded:     r.loaded,
	}
}

func (r *Reconciler) unreadLocked() int {
	n := r.stats.Unread
	for _, o := range r.local {
		if !o.IsRead {
			n++
		}
	}
	return n
}

func (r *Reconciler) scheduleRefetchLocked() {
	scheduler.Stop(r.refetch)
	r.refetch = r.sched.After(r.cfg.RefetchDebounce, func() { r.onTimer("refetch", false) })
}

func (r *Reconciler) armResyncLocked() {
	if r.cfg.ResyncInterval <= 0 {
		return
	}
	scheduler.Stop(r.resync)
	r.resync = r.sched.After(r.cfg.ResyncInterval, func() { r.onTimer("resync", true) })
}

func (r *Reconciler) onTimer(reason string, periodic bool) {
	r.mu.Lock()
	if periodic {
		if !r.running {
			r.mu.Unlock()
			return
		}
		r.armResyncLocked()
	} else {
		r.refetch = nil
	}
	r.mu.Unlock()

	task := func(ctx context.Context) {
		if err := r.Refresh(ctx); err != nil {
			r.log.Warn("Notification refresh failed", zap.String("reason", reason), zap.Error(err))
		}
	}
	if r.pool == nil {
		task(context.Background())
		return
	}
	if err := r.pool.SubmitDetached(task); err != nil {
		r.log.Warn("Notification refresh not scheduled", zap.String("reason", reason), zap.Error(err))
	}
}

func (r *Reconciler) call(ctx context.Context, op, id string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		return r.persistenceError(err, op, zap.String("notification_id", id))
	}
	return nil
}

func (r *Reconciler) persistenceError(err error, op string, fields ...zap.Field) error {
	r.metrics.RESTFailure(op)
	r.log.Error("Notification store call failed",
		append([]zap.Field{zap.String("op", op), zap.Error(err)}, fields...)...,
	)
	return apperrors.Persistence(err, op)
}

func (r *Reconciler) indexLocal(id string) int {
	for i, o := range r.local {
		if o.ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) indexBase(id string) int {
	for i, rec := range r.base {
		if rec.ID == id {
			return i
		}
	}
	return -1
}

func isLocalID(id string) bool {
	return Record{ID: id}.IsLocal()
}

func notFound(id string) error {
	return apperrors.NotFound(apperrors.CodeNotificationNotFound, "notification not found").
		WithParams(map[string]interface{}{"id": id})
}

func floor(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
