package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

const eventCols = `id, record_id, actor_id, event_type, device_info, details, occurred_at, prev_hash, hash`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.RecordID, &e.ActorID, &e.EventType, &e.DeviceInfo, &e.Details,
		&e.OccurredAt, &e.PrevHash, &e.Hash)
	return &e, err
}

// Append runs in its own transaction, independent of any caller transaction,
// and serializes writers of one record's chain with an advisory lock.
func (r *RepoPG) Append(ctx context.Context, e *Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin audit append: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, e.RecordID.String()); err != nil {
		return fmt.Errorf("lock audit chain: %w", err)
	}

	var prev string
	err = tx.QueryRow(ctx,
		`SELECT hash FROM audit_event WHERE record_id = $1 ORDER BY seq DESC LIMIT 1`, e.RecordID,
	).Scan(&prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("read audit chain head: %w", err)
	}

	e.PrevHash = prev
	e.Hash = ComputeHash(prev, e)

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_event (id, record_id, actor_id, event_type, device_info, details, occurred_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.RecordID, e.ActorID, e.EventType, e.DeviceInfo, e.Details, e.OccurredAt, e.PrevHash, e.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *RepoPG) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*Event, error) {
	q := fmt.Sprintf(`SELECT %s FROM audit_event WHERE record_id = $1 ORDER BY seq ASC`, eventCols)
	rows, err := r.pool.Query(ctx, q, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
