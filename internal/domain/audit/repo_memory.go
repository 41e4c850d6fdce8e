package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepo keeps events in process memory.
type MemoryRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID][]*Event
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{events: make(map[uuid.UUID][]*Event)}
}

func (r *MemoryRepo) Append(_ context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := r.events[e.RecordID]
	prev := ""
	if len(chain) > 0 {
		prev = chain[len(chain)-1].Hash
	}
	e.PrevHash = prev
	e.Hash = ComputeHash(prev, e)

	stored := *e
	r.events[e.RecordID] = append(chain, &stored)
	return nil
}

func (r *MemoryRepo) ListByRecord(_ context.Context, recordID uuid.UUID) ([]*Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := r.events[recordID]
	out := make([]*Event, len(chain))
	for i, e := range chain {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}
