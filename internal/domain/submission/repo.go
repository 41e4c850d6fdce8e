package submission

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	// Update writes the delivery state of an entry that has not been sent.
	// A SENT entry is terminal and yields a ConflictError.
	Update(ctx context.Context, e *Entry) error
	List(ctx context.Context, f ListFilter) ([]*Entry, int, error)
	// ListDispatchable returns unsent entries with attempts below
	// maxAttempts that are due at now, oldest due first.
	ListDispatchable(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*Entry, error)
}
