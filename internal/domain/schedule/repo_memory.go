package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careconnect/evv/internal/platform/apperr"
	"github.com/careconnect/evv/internal/platform/db"
)

type Visit struct {
	ID          uuid.UUID
	Status      string
	CompletedAt *time.Time
}

type MemoryRepo struct {
	mu     sync.Mutex
	visits map[uuid.UUID]*Visit
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{visits: make(map[uuid.UUID]*Visit)}
}

func (r *MemoryRepo) Put(v *Visit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *v
	r.visits[v.ID] = &cp
}

func (r *MemoryRepo) Get(id uuid.UUID) (*Visit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.visits[id]
	if !ok {
		return nil, false
	}
	cp := *v
	return &cp, true
}

func (r *MemoryRepo) MarkCompleted(ctx context.Context, visitID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.visits[visitID]
	if !ok {
		return apperr.NotFound("scheduled visit", visitID)
	}
	prev := *v
	v.Status = StatusCompleted
	v.CompletedAt = &at
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		*v = prev
		r.mu.Unlock()
	})
	return nil
}
