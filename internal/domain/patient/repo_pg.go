package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careconnect/evv/internal/platform/apperr"
	"github.com/careconnect/evv/internal/platform/db"
)

type queryable interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	var line1, line2, city, state, zip *string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, first_name, last_name, address_line1, address_line2, city, state, zip
		FROM patient WHERE id = $1`, id,
	).Scan(&p.ID, &p.FirstName, &p.LastName, &line1, &line2, &city, &state, &zip)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient", id)
	}
	if err != nil {
		return nil, err
	}
	if line1 != nil {
		p.Address = &Address{Line1: *line1, Line2: deref(line2), City: deref(city), State: deref(state), Zip: deref(zip)}
	}
	return &p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
