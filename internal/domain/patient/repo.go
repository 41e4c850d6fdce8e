package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository looks up patients owned by the profile service. GetByID returns
// an apperr.NotFoundError for unknown ids.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
}
