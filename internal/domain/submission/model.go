// Package submission queues approved visit records for delivery and hands
// them to the jurisdiction's integration adapter.
package submission

import (
	"time"

	"github.com/google/uuid"

	"github.com/careconnect/evv/internal/domain/visit"
	"github.com/careconnect/evv/internal/integration"
)

const (
	StatusPending = "PENDING"
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
)

// Entry is a durable intent to deliver one record to one destination.
type Entry struct {
	ID            uuid.UUID         `json:"id"`
	RecordID      uuid.UUID         `json:"record_id"`
	Destination   string            `json:"destination"`
	Payload       integration.Visit `json:"payload"`
	Status        string            `json:"status"`
	Attempts      int               `json:"attempts"`
	LastError     *string           `json:"last_error,omitempty"`
	NextAttemptAt time.Time         `json:"next_attempt_at"`
	SentAt        *time.Time        `json:"sent_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func (e *Entry) Clone() *Entry {
	cp := *e
	cp.Payload = e.Payload.Clone()
	if e.LastError != nil {
		s := *e.LastError
		cp.LastError = &s
	}
	if e.SentAt != nil {
		t := *e.SentAt
		cp.SentAt = &t
	}
	return &cp
}

// ListFilter narrows an outbox listing. Zero values match everything.
type ListFilter struct {
	Status   string
	RecordID *uuid.UUID
	Limit    int
	Offset   int
}

// snapshot copies the fields a destination needs out of rec.
func snapshot(rec *visit.Record) integration.Visit {
	v := integration.Visit{
		RecordID:         rec.ID,
		PatientID:        rec.PatientID,
		IndividualName:   rec.IndividualName,
		CaregiverID:      rec.CaregiverID,
		ServiceType:      rec.ServiceType,
		DateOfService:    rec.DateOfService.Format("2006-01-02"),
		TimeIn:           rec.TimeIn,
		TimeOut:          rec.TimeOut,
		CheckIn:          rec.CheckIn,
		CheckOut:         rec.CheckOut,
		StateCode:        rec.StateCode,
		IsCorrected:      rec.IsCorrected,
		OriginalRecordID: rec.OriginalRecordID,
		ReviewedBy:       rec.ReviewedBy,
		ReviewedAt:       rec.ReviewedAt,
		EORApprovedBy:    rec.EORApprovedBy,
		EORApprovedAt:    rec.EORApprovedAt,
	}
	return v.Clone()
}
