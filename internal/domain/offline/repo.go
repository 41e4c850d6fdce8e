package offline

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Create stores a new item and assigns its enqueue sequence.
	Create(ctx context.Context, item *Item) error
	GetByID(ctx context.Context, id uuid.UUID) (*Item, error)
	Update(ctx context.Context, item *Item) error
	// Claim moves a PENDING item to SYNCING and counts the attempt in one
	// step. It returns ErrNotClaimed when the item is no longer PENDING.
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (*Item, error)
	// ListPending returns PENDING items with fewer than maxAttempts
	// attempts, highest priority first and FIFO within a priority.
	ListPending(ctx context.Context, maxAttempts, limit int, caregiverID *uuid.UUID) ([]*Item, error)
	// HasUnsyncedBefore reports whether recordID has an item enqueued
	// before seq that has not synced.
	HasUnsyncedBefore(ctx context.Context, recordID uuid.UUID, seq int64) (bool, error)
	// ResetStale moves FAILED items, and SYNCING items abandoned mid-sync,
	// whose last attempt is before cutoff back to PENDING when they have
	// attempts left. Abandoned items without attempts left become FAILED.
	// It returns the number of items made PENDING.
	ResetStale(ctx context.Context, maxAttempts int, cutoff, now time.Time) (int, error)
	List(ctx context.Context, f StatusFilter, limit int) ([]*Item, error)
	CountByStatus(ctx context.Context, f StatusFilter) (map[string]int, error)
}
