package offline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careconnect/evv/internal/platform/apperr"
)

type MemoryRepo struct {
	mu    sync.RWMutex
	seq   int64
	items map[uuid.UUID]*Item
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[uuid.UUID]*Item)}
}

func (r *MemoryRepo) Create(_ context.Context, item *Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[item.ID]; ok {
		return apperr.Conflict("offline queue item %s already exists", item.ID)
	}
	r.seq++
	item.Seq = r.seq
	r.items[item.ID] = item.Clone()
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound("offline queue item", id)
	}
	return item.Clone(), nil
}

func (r *MemoryRepo) Update(_ context.Context, item *Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[item.ID]
	if !ok {
		return apperr.NotFound("offline queue item", item.ID)
	}
	next, in := stored.Clone(), item.Clone()
	next.SyncStatus = in.SyncStatus
	next.SyncAttempts = in.SyncAttempts
	next.LastSyncAttempt = in.LastSyncAttempt
	next.LastError = in.LastError
	next.UpdatedAt = in.UpdatedAt
	r.items[item.ID] = next
	return nil
}

func (r *MemoryRepo) Claim(_ context.Context, id uuid.UUID, now time.Time) (*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound("offline queue item", id)
	}
	if stored.SyncStatus != SyncPending {
		return nil, ErrNotClaimed
	}
	stored.SyncStatus = SyncSyncing
	stored.SyncAttempts++
	stored.LastSyncAttempt = &now
	stored.UpdatedAt = now
	return stored.Clone(), nil
}

func (r *MemoryRepo) ListPending(_ context.Context, maxAttempts, limit int, caregiverID *uuid.UUID) ([]*Item, error) {
	items := r.filter(func(i *Item) bool {
		return i.SyncStatus == SyncPending && i.SyncAttempts < maxAttempts &&
			(caregiverID == nil || i.CaregiverID == *caregiverID)
	})
	sort.Slice(items, func(a, b int) bool {
		if items[a].Priority != items[b].Priority {
			return items[a].Priority > items[b].Priority
		}
		return items[a].Seq < items[b].Seq
	})
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items, nil
}

func (r *MemoryRepo) HasUnsyncedBefore(_ context.Context, recordID uuid.UUID, seq int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, i := range r.items {
		if i.RecordID == recordID && i.Seq < seq && i.SyncStatus != SyncSynced {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepo) ResetStale(_ context.Context, maxAttempts int, cutoff, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reset := 0
	for _, i := range r.items {
		if i.LastSyncAttempt == nil || !i.LastSyncAttempt.Before(cutoff) {
			continue
		}
		switch {
		case i.SyncStatus == SyncSyncing:
			if i.LastError == nil {
				msg := "sync interrupted"
				i.LastError = &msg
			}
		case i.SyncStatus == SyncFailed && i.SyncAttempts < maxAttempts:
		default:
			continue
		}
		i.UpdatedAt = now
		if i.SyncAttempts < maxAttempts {
			i.SyncStatus = SyncPending
			reset++
		} else {
			i.SyncStatus = SyncFailed
		}
	}
	return reset, nil
}

func (r *MemoryRepo) List(_ context.Context, f StatusFilter, limit int) ([]*Item, error) {
	items := r.filter(func(i *Item) bool {
		return (f.CaregiverID == nil || i.CaregiverID == *f.CaregiverID) &&
			(f.DeviceID == "" || i.DeviceID == f.DeviceID)
	})
	sort.Slice(items, func(a, b int) bool { return items[a].Seq < items[b].Seq })
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items, nil
}

func (r *MemoryRepo) CountByStatus(_ context.Context, f StatusFilter) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, i := range r.items {
		if (f.CaregiverID == nil || i.CaregiverID == *f.CaregiverID) &&
			(f.DeviceID == "" || i.DeviceID == f.DeviceID) {
			counts[i.SyncStatus]++
		}
	}
	return counts, nil
}

func (r *MemoryRepo) filter(keep func(*Item) bool) []*Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Item
	for _, i := range r.items {
		if keep(i) {
			out = append(out, i.Clone())
		}
	}
	return out
}
