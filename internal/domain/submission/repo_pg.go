package submission

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careconnect/evv/internal/platform/apperr"
	"github.com/careconnect/evv/internal/platform/db"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
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

const entryCols = `id, record_id, destination, payload, status, attempts, last_error,
	next_attempt_at, sent_at, created_at, updated_at`

func (r *RepoPG) Create(ctx context.Context, e *Entry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO outbox_entry (`+entryCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.RecordID, e.Destination, e.Payload, e.Status, e.Attempts, e.LastError,
		e.NextAttemptAt, e.SentAt, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM outbox_entry WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("outbox entry", id)
	}
	return e, err
}

func (r *RepoPG) Update(ctx context.Context, e *Entry) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE outbox_entry SET
			status=$2, attempts=$3, last_error=$4, next_attempt_at=$5, sent_at=$6, updated_at=$7
		WHERE id = $1 AND status <> 'SENT'`,
		e.ID, e.Status, e.Attempts, e.LastError, e.NextAttemptAt, e.SentAt, e.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("outbox entry %s is missing or already sent", e.ID)
	}
	return nil
}

func (r *RepoPG) List(ctx context.Context, f ListFilter) ([]*Entry, int, error) {
	qb := db.NewSearchQuery("outbox_entry", entryCols)
	if f.Status != "" {
		qb.Eq("status", f.Status)
	}
	if f.RecordID != nil {
		qb.Eq("record_id", *f.RecordID)
	}
	qb.OrderBy("created_at DESC, id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.query(ctx, qb.DataSQL(), qb.DataArgs(f.Limit, f.Offset)...)
	return items, total, err
}

func (r *RepoPG) ListDispatchable(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*Entry, error) {
	qb := db.NewSearchQuery("outbox_entry", entryCols)
	qb.Where("status <> 'SENT'")
	qb.Less("attempts", maxAttempts)
	qb.OnOrBefore("next_attempt_at", now)
	qb.OrderBy("next_attempt_at ASC, created_at ASC")
	return r.query(ctx, qb.DataSQL(), qb.DataArgs(limit, 0)...)
}

func (r *RepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.RecordID, &e.Destination, &e.Payload, &e.Status, &e.Attempts, &e.LastError,
		&e.NextAttemptAt, &e.SentAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
