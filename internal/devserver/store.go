package devserver

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/UillB/appointmets-bot-sub003/internal/notification"
	apperrors "github.com/UillB/appointmets-bot-sub003/internal/pkg/errors"
	"github.com/UillB/appointmets-bot-sub003/internal/push"
)

// recentWindow bounds ServerStats.Recent.
const recentWindow = 24 * time.Hour

// MemoryStore is an in-process notification store. It satisfies
// notification.Store so tests can skip HTTP entirely.
type MemoryStore struct {
	now func() time.Time

	mu      sync.Mutex
	records []notification.Record // newest first
}

var _ notification.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now}
}

// Add inserts r, assigning an id and creation time when missing.
func (s *MemoryStore) Add(r notification.Record) notification.Record {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	r.Type = push.NormalizeType(r.Type)

	s.mu.Lock()
	defer s.mu.Unlock()
	i := 0
	for i < len(s.records) && s.records[i].CreatedAt.After(r.CreatedAt) {
		i++
	}
	s.records = append(s.records, notification.Record{})
	copy(s.records[i+1:], s.records[i:])
	s.records[i] = r
	return r
}

// List implements notification.Store.
func (s *MemoryStore) List(_ context.Context, limit int) ([]notification.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]notification.Record, n)
	copy(out, s.records[:n])
	return out, nil
}

// Stats implements notification.Store. Unread counts every unread record,
// archived or not.
func (s *MemoryStore) Stats(context.Context) (notification.ServerStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := notification.ServerStats{Total: len(s.records), ByType: make(map[string]int)}
	cutoff := s.now().Add(-recentWindow)
	for _, r := range s.records {
		if !r.IsRead {
			stats.Unread++
		}
		if r.CreatedAt.After(cutoff) {
			stats.Recent++
		}
		stats.ByType[r.Type]++
	}
	return stats, nil
}

// MarkRead implements notification.Store.
func (s *MemoryStore) MarkRead(_ context.Context, id string) error {
	return s.update(id, func(r *notification.Record, now time.Time) {
		if !r.IsRead {
			r.IsRead = true
			r.ReadAt = &now
		}
	})
}

// MarkAllRead implements notification.Store.
func (s *MemoryStore) MarkAllRead(context.Context) error {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if !s.records[i].IsRead {
			s.records[i].IsRead = true
			s.records[i].ReadAt = &now
		}
	}
	return nil
}

// Archive implements notification.Store.
func (s *MemoryStore) Archive(_ context.Context, id string) error {
	return s.update(id, func(r *notification.Record, now time.Time) {
		if !r.IsArchived {
			r.IsArchived = true
			r.ArchivedAt = &now
		}
	})
}

// Delete implements notification.Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return nil
		}
	}
	return notificationNotFound(id)
}

// ClearAll implements notification.Store.
func (s *MemoryStore) ClearAll(context.Context) error {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) update(id string, fn func(*notification.Record, time.Time)) error {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			fn(&s.records[i], now)
			return nil
		}
	}
	return notificationNotFound(id)
}

func notificationNotFound(id string) error {
	return apperrors.NotFound(apperrors.CodeNotificationNotFound, "notification "+id+" not found").
		WithParams(map[string]interface{}{"id": id})
}
