package visit

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careconnect/evv/internal/platform/apperr"
	"github.com/careconnect/evv/internal/platform/db"
)

const uniqueViolation = "23505"

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// -- Records --

type RecordRepoPG struct {
	pool *pgxpool.Pool
}

func NewRecordRepoPG(pool *pgxpool.Pool) *RecordRepoPG {
	return &RecordRepoPG{pool: pool}
}

const recordCols = `id, patient_id, individual_name, caregiver_id, service_type, scheduled_visit_id,
	date_of_service, time_in, time_out, check_in, check_out, state_code, status, device_info,
	reviewed_by, reviewed_at, review_comment,
	is_offline, sync_status, last_sync_attempt,
	eor_approval_required, eor_approved_by, eor_approved_at, eor_approval_comment,
	is_corrected, original_record_id, correction_reason_code, correction_explanation,
	corrected_by, corrected_at, version, created_at, updated_at`

func (r *RecordRepoPG) Create(ctx context.Context, rec *Record) error {
	rec.Version = 1
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO visit_record (`+recordCols+`) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,
			$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,
			$31,$32,$33
		)`,
		rec.ID, rec.PatientID, rec.IndividualName, rec.CaregiverID, rec.ServiceType, rec.ScheduledVisitID,
		rec.DateOfService, rec.TimeIn, rec.TimeOut, rec.CheckIn, rec.CheckOut, rec.StateCode, rec.Status, rec.DeviceInfo,
		rec.ReviewedBy, rec.ReviewedAt, rec.ReviewComment,
		rec.IsOffline, rec.SyncStatus, rec.LastSyncAttempt,
		rec.EORApprovalRequired, rec.EORApprovedBy, rec.EORApprovedAt, rec.EORApprovalComment,
		rec.IsCorrected, rec.OriginalRecordID, rec.CorrectionReasonCode, rec.CorrectionExplanation,
		rec.CorrectedBy, rec.CorrectedAt, rec.Version, rec.CreatedAt, rec.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("visit record %s already exists", rec.ID)
	}
	return err
}

func (r *RecordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := scanRecord(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+recordCols+` FROM visit_record WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("visit record", id)
	}
	return rec, err
}

// Update writes the mutable workflow columns. Identity and visit data are
// never rewritten; a correction creates a new record instead.
func (r *RecordRepoPG) Update(ctx context.Context, rec *Record) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE visit_record SET
			status=$3, reviewed_by=$4, reviewed_at=$5, review_comment=$6,
			sync_status=$7, last_sync_attempt=$8,
			eor_approved_by=$9, eor_approved_at=$10, eor_approval_comment=$11,
			version=version+1, updated_at=$12
		WHERE id = $1 AND version = $2`,
		rec.ID, rec.Version, rec.Status, rec.ReviewedBy, rec.ReviewedAt, rec.ReviewComment,
		rec.SyncStatus, rec.LastSyncAttempt,
		rec.EORApprovedBy, rec.EORApprovedAt, rec.EORApprovalComment,
		rec.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("visit record %s was modified concurrently", rec.ID)
	}
	rec.Version++
	return nil
}

func (r *RecordRepoPG) Search(ctx context.Context, f SearchFilter) ([]*Record, int, error) {
	qb := db.NewSearchQuery("visit_record", recordCols)
	if f.PatientName != "" {
		qb.Contains("individual_name", f.PatientName)
	}
	if f.ServiceType != "" {
		qb.Eq("service_type", f.ServiceType)
	}
	if f.CaregiverID != nil {
		qb.Eq("caregiver_id", *f.CaregiverID)
	}
	if f.StartDate != nil {
		qb.OnOrAfter("date_of_service", *f.StartDate)
	}
	if f.EndDate != nil {
		qb.OnOrBefore("date_of_service", *f.EndDate)
	}
	if f.StateCode != "" {
		qb.Eq("state_code", f.StateCode)
	}
	if f.Status != "" {
		qb.Eq("status", f.Status)
	}
	qb.OrderBy(f.sortColumn() + " " + f.SortDirection + ", id")
	return r.query(ctx, qb, f.Size, f.offset())
}

func (r *RecordRepoPG) ListPendingEOR(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	qb := db.NewSearchQuery("visit_record", recordCols)
	qb.Where("eor_approval_required AND eor_approved_by IS NULL")
	qb.Where("status <> 'REJECTED'")
	qb.OrderBy("created_at ASC, id")
	return r.query(ctx, qb, limit, offset)
}

func (r *RecordRepoPG) ListByCaregiver(ctx context.Context, caregiverID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	qb := db.NewSearchQuery("visit_record", recordCols)
	qb.Eq("caregiver_id", caregiverID)
	qb.OrderBy("date_of_service DESC, time_in DESC")
	return r.query(ctx, qb, limit, offset)
}

func (r *RecordRepoPG) query(ctx context.Context, qb *db.SearchQuery, limit, offset int) ([]*Record, int, error) {
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn(ctx, r.pool).Query(ctx, qb.DataSQL(), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.PatientID, &rec.IndividualName, &rec.CaregiverID, &rec.ServiceType, &rec.ScheduledVisitID,
		&rec.DateOfService, &rec.TimeIn, &rec.TimeOut, &rec.CheckIn, &rec.CheckOut, &rec.StateCode, &rec.Status, &rec.DeviceInfo,
		&rec.ReviewedBy, &rec.ReviewedAt, &rec.ReviewComment,
		&rec.IsOffline, &rec.SyncStatus, &rec.LastSyncAttempt,
		&rec.EORApprovalRequired, &rec.EORApprovedBy, &rec.EORApprovedAt, &rec.EORApprovalComment,
		&rec.IsCorrected, &rec.OriginalRecordID, &rec.CorrectionReasonCode, &rec.CorrectionExplanation,
		&rec.CorrectedBy, &rec.CorrectedAt, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// -- Corrections --

type CorrectionRepoPG struct {
	pool *pgxpool.Pool
}

func NewCorrectionRepoPG(pool *pgxpool.Pool) *CorrectionRepoPG {
	return &CorrectionRepoPG{pool: pool}
}

const correctionCols = `id, original_record_id, corrected_record_id, reason_code, explanation,
	corrected_by, corrected_at, approval_required, resolution,
	approved_by, approved_at, approval_comment,
	original_values, corrected_values, created_at, updated_at`

func (r *CorrectionRepoPG) Create(ctx context.Context, c *Correction) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO correction (`+correctionCols+`) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
		)`,
		c.ID, c.OriginalRecordID, c.CorrectedRecordID, c.ReasonCode, c.Explanation,
		c.CorrectedBy, c.CorrectedAt, c.ApprovalRequired, c.Resolution,
		c.ApprovedBy, c.ApprovedAt, c.ApprovalComment,
		c.OriginalValues, c.CorrectedValues, c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("visit record %s has already been superseded", c.OriginalRecordID)
	}
	return err
}

func (r *CorrectionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Correction, error) {
	return r.getBy(ctx, "id", id)
}

func (r *CorrectionRepoPG) GetByOriginal(ctx context.Context, originalID uuid.UUID) (*Correction, error) {
	return r.getBy(ctx, "original_record_id", originalID)
}

func (r *CorrectionRepoPG) GetByCorrected(ctx context.Context, correctedID uuid.UUID) (*Correction, error) {
	return r.getBy(ctx, "corrected_record_id", correctedID)
}

func (r *CorrectionRepoPG) getBy(ctx context.Context, column string, id uuid.UUID) (*Correction, error) {
	c, err := scanCorrection(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+correctionCols+` FROM correction WHERE `+column+` = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("correction", id)
	}
	return c, err
}

func (r *CorrectionRepoPG) Update(ctx context.Context, c *Correction) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE correction SET
			approval_required=$2, resolution=$3, approved_by=$4, approved_at=$5,
			approval_comment=$6, updated_at=$7
		WHERE id = $1 AND resolution = 'PENDING'`,
		c.ID, c.ApprovalRequired, c.Resolution, c.ApprovedBy, c.ApprovedAt,
		c.ApprovalComment, c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("correction %s is already resolved", c.ID)
	}
	return nil
}

func (r *CorrectionRepoPG) ListPending(ctx context.Context, limit, offset int) ([]*Correction, int, error) {
	qb := db.NewSearchQuery("correction", correctionCols)
	qb.Eq("resolution", ResolutionPending)
	qb.OrderBy("corrected_at ASC, id")

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx, qb.DataSQL(), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Correction
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func scanCorrection(row pgx.Row) (*Correction, error) {
	var c Correction
	err := row.Scan(
		&c.ID, &c.OriginalRecordID, &c.CorrectedRecordID, &c.ReasonCode, &c.Explanation,
		&c.CorrectedBy, &c.CorrectedAt, &c.ApprovalRequired, &c.Resolution,
		&c.ApprovedBy, &c.ApprovedAt, &c.ApprovalComment,
		&c.OriginalValues, &c.CorrectedValues, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
