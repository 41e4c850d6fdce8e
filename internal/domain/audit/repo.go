package audit

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Append links e to the record's chain, setting PrevHash and Hash, and
	// persists it.
	Append(ctx context.Context, e *Event) error
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*Event, error)
}
