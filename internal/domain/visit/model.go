// Package visit owns EVV visit records: creation, the review state machine,
// secondary (EOR) approval and the correction workflow that supersedes a
// record with an amended copy.
package visit

import (
	"time"

	"github.com/google/uuid"

	"github.com/careconnect/evv/internal/domain/location"
)

// Record review statuses. APPROVED and REJECTED are terminal.
const (
	StatusUnderReview = "UNDER_REVIEW"
	StatusApproved    = "APPROVED"
	StatusRejected    = "REJECTED"
)

// Sync statuses of a record captured offline.
const (
	SyncPending = "PENDING"
	SyncSynced  = "SYNCED"
	SyncFailed  = "FAILED"
)

// Correction resolutions.
const (
	ResolutionPending  = "PENDING"
	ResolutionApproved = "APPROVED"
	ResolutionRejected = "REJECTED"
)

const dateLayout = "2006-01-02"

// Record is a single EVV visit.
type Record struct {
	ID               uuid.UUID              `json:"id"`
	PatientID        uuid.UUID              `json:"patient_id"`
	IndividualName   string                 `json:"individual_name"`
	CaregiverID      uuid.UUID              `json:"caregiver_id"`
	ServiceType      string                 `json:"service_type"`
	ScheduledVisitID *uuid.UUID             `json:"scheduled_visit_id,omitempty"`
	DateOfService    time.Time              `json:"date_of_service"`
	TimeIn           time.Time              `json:"time_in"`
	TimeOut          time.Time              `json:"time_out"`
	CheckIn          *location.Snapshot     `json:"check_in,omitempty"`
	CheckOut         *location.Snapshot     `json:"check_out,omitempty"`
	StateCode        string                 `json:"state_code"`
	Status           string                 `json:"status"`
	DeviceInfo       map[string]interface{} `json:"device_info,omitempty"`

	ReviewedBy    *uuid.UUID `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	ReviewComment *string    `json:"review_comment,omitempty"`

	IsOffline       bool       `json:"is_offline"`
	SyncStatus      *string    `json:"sync_status,omitempty"`
	LastSyncAttempt *time.Time `json:"last_sync_attempt,omitempty"`

	EORApprovalRequired bool       `json:"eor_approval_required"`
	EORApprovedBy       *uuid.UUID `json:"eor_approved_by,omitempty"`
	EORApprovedAt       *time.Time `json:"eor_approved_at,omitempty"`
	EORApprovalComment  *string    `json:"eor_approval_comment,omitempty"`

	IsCorrected           bool       `json:"is_corrected"`
	OriginalRecordID      *uuid.UUID `json:"original_record_id,omitempty"`
	CorrectionReasonCode  *string    `json:"correction_reason_code,omitempty"`
	CorrectionExplanation *string    `json:"correction_explanation,omitempty"`
	CorrectedBy           *uuid.UUID `json:"corrected_by,omitempty"`
	CorrectedAt           *time.Time `json:"corrected_at,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EORCleared reports whether the secondary approval gate is satisfied.
func (r *Record) EORCleared() bool {
	return !r.EORApprovalRequired || r.EORApprovedBy != nil
}

// ReadyForSubmission reports whether every approval gate has cleared.
func (r *Record) ReadyForSubmission() bool {
	return r.Status == StatusApproved && r.EORCleared()
}

// Clone returns a deep copy of r so callers can mutate it without touching
// shared state.
func (r *Record) Clone() *Record {
	cp := *r
	cp.ScheduledVisitID = cloneUUID(r.ScheduledVisitID)
	cp.CheckIn = r.CheckIn.Clone()
	cp.CheckOut = r.CheckOut.Clone()
	cp.DeviceInfo = cloneMap(r.DeviceInfo)
	cp.ReviewedBy = cloneUUID(r.ReviewedBy)
	cp.ReviewedAt = cloneTime(r.ReviewedAt)
	cp.ReviewComment = cloneString(r.ReviewComment)
	cp.SyncStatus = cloneString(r.SyncStatus)
	cp.LastSyncAttempt = cloneTime(r.LastSyncAttempt)
	cp.EORApprovedBy = cloneUUID(r.EORApprovedBy)
	cp.EORApprovedAt = cloneTime(r.EORApprovedAt)
	cp.EORApprovalComment = cloneString(r.EORApprovalComment)
	cp.OriginalRecordID = cloneUUID(r.OriginalRecordID)
	cp.CorrectionReasonCode = cloneString(r.CorrectionReasonCode)
	cp.CorrectionExplanation = cloneString(r.CorrectionExplanation)
	cp.CorrectedBy = cloneUUID(r.CorrectedBy)
	cp.CorrectedAt = cloneTime(r.CorrectedAt)
	return &cp
}

// Values returns the correctable fields of r, used for the before and after
// snapshots stored on a Correction.
func (r *Record) Values() map[string]interface{} {
	v := map[string]interface{}{
		"service_type":    r.ServiceType,
		"individual_name": r.IndividualName,
		"date_of_service": r.DateOfService.Format(dateLayout),
		"time_in":         r.TimeIn.UTC().Format(time.RFC3339),
		"time_out":        r.TimeOut.UTC().Format(time.RFC3339),
		"state_code":      r.StateCode,
	}
	if r.CheckIn != nil {
		v["check_in"] = r.CheckIn
	}
	if r.CheckOut != nil {
		v["check_out"] = r.CheckOut
	}
	if r.DeviceInfo != nil {
		v["device_info"] = r.DeviceInfo
	}
	return v
}

// Correction links a superseded record to the amended record replacing it.
type Correction struct {
	ID                uuid.UUID              `json:"id"`
	OriginalRecordID  uuid.UUID              `json:"original_record_id"`
	CorrectedRecordID uuid.UUID              `json:"corrected_record_id"`
	ReasonCode        string                 `json:"reason_code"`
	Explanation       string                 `json:"explanation"`
	CorrectedBy       uuid.UUID              `json:"corrected_by"`
	CorrectedAt       time.Time              `json:"corrected_at"`
	ApprovalRequired  bool                   `json:"approval_required"`
	Resolution        string                 `json:"resolution"`
	ApprovedBy        *uuid.UUID             `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time             `json:"approved_at,omitempty"`
	ApprovalComment   *string                `json:"approval_comment,omitempty"`
	OriginalValues    map[string]interface{} `json:"original_values"`
	CorrectedValues   map[string]interface{} `json:"corrected_values"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

func (c *Correction) Clone() *Correction {
	cp := *c
	cp.ApprovedBy = cloneUUID(c.ApprovedBy)
	cp.ApprovedAt = cloneTime(c.ApprovedAt)
	cp.ApprovalComment = cloneString(c.ApprovalComment)
	cp.OriginalValues = cloneMap(c.OriginalValues)
	cp.CorrectedValues = cloneMap(c.CorrectedValues)
	return &cp
}

func cloneUUID(p *uuid.UUID) *uuid.UUID {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	cp := make(map[string]interface{}, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func uuidPtr(id uuid.UUID) *uuid.UUID { return &id }
