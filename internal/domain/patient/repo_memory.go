package patient

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/careconnect/evv/internal/platform/apperr"
)

type MemoryRepo struct {
	mu    sync.RWMutex
	store map[uuid.UUID]*Patient
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{store: make(map[uuid.UUID]*Patient)}
}

// Put seeds or replaces a patient.
func (r *MemoryRepo) Put(p *Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.store[p.ID] = &cp
}

func (r *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.store[id]
	if !ok {
		return nil, apperr.NotFound("patient", id)
	}
	cp := *p
	return &cp, nil
}
