package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careconnect/evv/internal/platform/apperr"
)

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) MarkCompleted(ctx context.Context, visitID uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_visit SET status = $2, completed_at = $3, updated_at = NOW()
		WHERE id = $1`, visitID, StatusCompleted, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("scheduled visit", visitID)
	}
	return nil
}
