package visit

import (
	"context"

	"github.com/google/uuid"
)

// RecordRepository persists visit records. Update is optimistic: it succeeds
// only when the stored version equals rec.Version and then bumps it.
type RecordRepository interface {
	Create(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	Update(ctx context.Context, rec *Record) error
	Search(ctx context.Context, f SearchFilter) ([]*Record, int, error)
	ListPendingEOR(ctx context.Context, limit, offset int) ([]*Record, int, error)
	ListByCaregiver(ctx context.Context, caregiverID uuid.UUID, limit, offset int) ([]*Record, int, error)
}

// CorrectionRepository persists corrections. Update only succeeds while the
// stored correction is still PENDING.
type CorrectionRepository interface {
	Create(ctx context.Context, c *Correction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Correction, error)
	GetByOriginal(ctx context.Context, originalID uuid.UUID) (*Correction, error)
	GetByCorrected(ctx context.Context, correctedID uuid.UUID) (*Correction, error)
	Update(ctx context.Context, c *Correction) error
	ListPending(ctx context.Context, limit, offset int) ([]*Correction, int, error)
}
