// Package schedule is the EVV core's view of the visit scheduling service:
// it only marks a scheduled visit completed once a visit record fulfils it.
package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const StatusCompleted = "COMPLETED"

type Repository interface {
	MarkCompleted(ctx context.Context, visitID uuid.UUID, at time.Time) error
}
