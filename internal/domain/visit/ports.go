package visit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/careconnect/evv/internal/domain/audit"
	"github.com/careconnect/evv/internal/domain/location"
	"github.com/careconnect/evv/internal/domain/patient"
)

// PatientDirectory resolves the patient a visit is recorded against.
type PatientDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// LocationResolver turns device location input into a stored snapshot.
type LocationResolver interface {
	Resolve(role string, in *location.Input, addr *patient.Address) (*location.Snapshot, error)
}

// VisitCompleter marks the scheduled visit a record fulfils as completed.
type VisitCompleter interface {
	MarkCompleted(ctx context.Context, visitID uuid.UUID, at time.Time) error
}

// JurisdictionSet reports which state codes can be routed for submission.
type JurisdictionSet interface {
	Supports(code string) bool
}

// JurisdictionFunc adapts a plain function to JurisdictionSet.
type JurisdictionFunc func(code string) bool

func (f JurisdictionFunc) Supports(code string) bool { return f(code) }

// ApprovalListener is notified, inside the approving transaction, when a
// record has cleared every approval gate.
type ApprovalListener interface {
	RecordApproved(ctx context.Context, rec *Record, actorID uuid.UUID) error
}

// AuditSink receives lifecycle events.
type AuditSink interface {
	Log(ctx context.Context, e audit.Event)
}

type nopAudit struct{}

func (nopAudit) Log(context.Context, audit.Event) {}
