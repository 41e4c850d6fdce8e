package submission

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careconnect/evv/internal/platform/apperr"
	"github.com/careconnect/evv/internal/platform/db"
)

type MemoryRepo struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{entries: make(map[uuid.UUID]*Entry)}
}

func (r *MemoryRepo) Create(ctx context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.ID]; ok {
		return apperr.Conflict("outbox entry %s already exists", e.ID)
	}
	r.entries[e.ID] = e.Clone()
	id := e.ID
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.entries, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, apperr.NotFound("outbox entry", id)
	}
	return e.Clone(), nil
}

func (r *MemoryRepo) Update(_ context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.entries[e.ID]
	if !ok || stored.Status == StatusSent {
		return apperr.Conflict("outbox entry %s is missing or already sent", e.ID)
	}
	next, in := stored.Clone(), e.Clone()
	next.Status = in.Status
	next.Attempts = in.Attempts
	next.LastError = in.LastError
	next.NextAttemptAt = in.NextAttemptAt
	next.SentAt = in.SentAt
	next.UpdatedAt = in.UpdatedAt
	r.entries[e.ID] = next
	return nil
}

func (r *MemoryRepo) List(_ context.Context, f ListFilter) ([]*Entry, int, error) {
	items := r.filter(func(e *Entry) bool {
		return (f.Status == "" || e.Status == f.Status) && (f.RecordID == nil || e.RecordID == *f.RecordID)
	})
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })

	total := len(items)
	if f.Offset >= total {
		return nil, total, nil
	}
	items = items[f.Offset:]
	if f.Limit > 0 && f.Limit < len(items) {
		items = items[:f.Limit]
	}
	return items, total, nil
}

func (r *MemoryRepo) ListDispatchable(_ context.Context, now time.Time, maxAttempts, limit int) ([]*Entry, error) {
	items := r.filter(func(e *Entry) bool {
		return e.Status != StatusSent && e.Attempts < maxAttempts && !e.NextAttemptAt.After(now)
	})
	sort.Slice(items, func(i, j int) bool {
		if !items[i].NextAttemptAt.Equal(items[j].NextAttemptAt) {
			return items[i].NextAttemptAt.Before(items[j].NextAttemptAt)
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items, nil
}

func (r *MemoryRepo) filter(keep func(*Entry) bool) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for _, e := range r.entries {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}
