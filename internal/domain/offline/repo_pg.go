package offline

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

const itemCols = `id, seq, operation_type, record_id, caregiver_id, device_id, priority,
	sync_status, sync_attempts, last_sync_attempt, last_error, record_data, queued_at, updated_at`

func (r *RepoPG) Create(ctx context.Context, item *Item) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO offline_queue_item (id, operation_type, record_id, caregiver_id, device_id, priority,
			sync_status, sync_attempts, last_sync_attempt, last_error, record_data, queued_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING seq`,
		item.ID, item.Operation, item.RecordID, item.CaregiverID, item.DeviceID, item.Priority,
		item.SyncStatus, item.SyncAttempts, item.LastSyncAttempt, item.LastError, item.RecordData,
		item.QueuedAt, item.UpdatedAt,
	).Scan(&item.Seq)
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Item, error) {
	item, err := scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM offline_queue_item WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("offline queue item", id)
	}
	return item, err
}

func (r *RepoPG) Update(ctx context.Context, item *Item) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE offline_queue_item SET
			sync_status=$2, sync_attempts=$3, last_sync_attempt=$4, last_error=$5, updated_at=$6
		WHERE id = $1`,
		item.ID, item.SyncStatus, item.SyncAttempts, item.LastSyncAttempt, item.LastError, item.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("offline queue item", item.ID)
	}
	return nil
}

func (r *RepoPG) Claim(ctx context.Context, id uuid.UUID, now time.Time) (*Item, error) {
	item, err := scanItem(r.conn(ctx).QueryRow(ctx, `
		UPDATE offline_queue_item SET
			sync_status = 'SYNCING', sync_attempts = sync_attempts + 1, last_sync_attempt = $2, updated_at = $2
		WHERE id = $1 AND sync_status = 'PENDING'
		RETURNING `+itemCols, id, now))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gErr := r.GetByID(ctx, id); gErr != nil {
			return nil, gErr
		}
		return nil, ErrNotClaimed
	}
	return item, err
}

func (r *RepoPG) ListPending(ctx context.Context, maxAttempts, limit int, caregiverID *uuid.UUID) ([]*Item, error) {
	qb := db.NewSearchQuery("offline_queue_item", itemCols)
	qb.Eq("sync_status", SyncPending)
	qb.Less("sync_attempts", maxAttempts)
	if caregiverID != nil {
		qb.Eq("caregiver_id", *caregiverID)
	}
	qb.OrderBy("priority DESC, seq ASC")
	return r.query(ctx, qb.DataSQL(), qb.DataArgs(limit, 0)...)
}

func (r *RepoPG) HasUnsyncedBefore(ctx context.Context, recordID uuid.UUID, seq int64) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM offline_queue_item
			WHERE record_id = $1 AND seq < $2 AND sync_status <> 'SYNCED'
		)`, recordID, seq).Scan(&exists)
	return exists, err
}

func (r *RepoPG) ResetStale(ctx context.Context, maxAttempts int, cutoff, now time.Time) (int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE offline_queue_item SET
			sync_status = CASE WHEN sync_attempts < $1 THEN 'PENDING' ELSE 'FAILED' END,
			last_error = CASE WHEN sync_status = 'SYNCING' THEN COALESCE(last_error, 'sync interrupted') ELSE last_error END,
			updated_at = $3
		WHERE last_sync_attempt < $2
		  AND (sync_status = 'SYNCING' OR (sync_status = 'FAILED' AND sync_attempts < $1))
		RETURNING sync_status`, maxAttempts, cutoff, now)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	reset := 0
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return 0, err
		}
		if status == SyncPending {
			reset++
		}
	}
	return reset, rows.Err()
}

func (r *RepoPG) List(ctx context.Context, f StatusFilter, limit int) ([]*Item, error) {
	qb := db.NewSearchQuery("offline_queue_item", itemCols)
	if f.CaregiverID != nil {
		qb.Eq("caregiver_id", *f.CaregiverID)
	}
	if f.DeviceID != "" {
		qb.Eq("device_id", f.DeviceID)
	}
	qb.OrderBy("seq ASC")
	return r.query(ctx, qb.DataSQL(), qb.DataArgs(limit, 0)...)
}

func (r *RepoPG) CountByStatus(ctx context.Context, f StatusFilter) (map[string]int, error) {
	qb := db.NewSearchQuery("offline_queue_item", itemCols)
	if f.CaregiverID != nil {
		qb.Eq("caregiver_id", *f.CaregiverID)
	}
	if f.DeviceID != "" {
		qb.Eq("device_id", f.DeviceID)
	}
	rows, err := r.conn(ctx).Query(ctx, qb.GroupCountSQL("sync_status"), qb.CountArgs()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *RepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Item, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(row pgx.Row) (*Item, error) {
	var (
		item   Item
		device *string
	)
	err := row.Scan(&item.ID, &item.Seq, &item.Operation, &item.RecordID, &item.CaregiverID, &device, &item.Priority,
		&item.SyncStatus, &item.SyncAttempts, &item.LastSyncAttempt, &item.LastError, &item.RecordData,
		&item.QueuedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if device != nil {
		item.DeviceID = *device
	}
	return &item, nil
}
