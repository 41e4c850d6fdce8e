package visit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careconnect/evv/internal/domain/audit"
	"github.com/careconnect/evv/internal/domain/location"
	"github.com/careconnect/evv/internal/domain/patient"
	"github.com/careconnect/evv/internal/platform/apperr"
	"github.com/careconnect/evv/internal/platform/db"
)

// Service creates visit records and drives them through review and
// secondary approval.
type Service struct {
	records       RecordRepository
	corrections   CorrectionRepository
	patients      PatientDirectory
	jurisdictions JurisdictionSet

	tx        db.Transactor
	locations LocationResolver
	visits    VisitCompleter
	audit     AuditSink
	listener  ApprovalListener
	logger    zerolog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithTransactor(tx db.Transactor) Option {
	return func(s *Service) { s.tx = tx }
}

func WithAudit(sink AuditSink) Option {
	return func(s *Service) { s.audit = sink }
}

func WithLocationResolver(r LocationResolver) Option {
	return func(s *Service) { s.locations = r }
}

func WithVisitCompleter(v VisitCompleter) Option {
	return func(s *Service) { s.visits = v }
}

// WithApprovalListener registers the component notified when a record
// clears every approval gate.
func WithApprovalListener(l ApprovalListener) Option {
	return func(s *Service) { s.listener = l }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(records RecordRepository, corrections CorrectionRepository, patients PatientDirectory, jurisdictions JurisdictionSet, opts ...Option) *Service {
	s := &Service{
		records:       records,
		corrections:   corrections,
		patients:      patients,
		jurisdictions: jurisdictions,
		tx:            db.NoopTransactor{},
		locations:     location.NewResolver(),
		audit:         nopAudit{},
		logger:        zerolog.Nop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// origin describes where a record was captured.
type origin struct {
	Offline  bool
	DeviceID string
}

// CreateRecord validates and persists a newly captured visit.
func (s *Service) CreateRecord(ctx context.Context, req *CreateRequest, actorID uuid.UUID) (*Record, error) {
	rec, _, err := s.create(ctx, req, actorID, origin{})
	return rec, err
}

// ReplayCreate persists a visit captured offline. A record whose id already
// exists is returned unchanged with replayed set, so a replay is idempotent.
func (s *Service) ReplayCreate(ctx context.Context, req *CreateRequest, actorID uuid.UUID, deviceID string) (rec *Record, replayed bool, err error) {
	if req.ID == nil {
		return nil, false, apperr.Validation("id", "is required for offline records")
	}
	return s.create(ctx, req, actorID, origin{Offline: true, DeviceID: deviceID})
}

func (s *Service) create(ctx context.Context, req *CreateRequest, actorID uuid.UUID, from origin) (*Record, bool, error) {
	if err := req.Validate(s.jurisdictions); err != nil {
		return nil, false, err
	}

	var rec *Record
	replayed := false
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if from.Offline {
			existing, err := s.records.GetByID(ctx, *req.ID)
			if err == nil {
				rec, replayed = existing, true
				return nil
			}
			if !errors.Is(err, apperr.ErrNotFound) {
				return err
			}
		}

		built, err := s.build(ctx, req)
		if err != nil {
			return err
		}
		if from.Offline {
			built.IsOffline = true
			built.SyncStatus = strPtr(SyncSynced)
			built.LastSyncAttempt = timePtr(built.CreatedAt)
		}
		if err := s.records.Create(ctx, built); err != nil {
			return err
		}
		rec = built

		eventType := audit.EventCreated
		details := map[string]interface{}{"state_code": rec.StateCode, "service_type": rec.ServiceType}
		if from.Offline {
			eventType = audit.EventOfflineSynced
			details["device_id"] = from.DeviceID
		}
		s.audit.Log(ctx, audit.Event{
			RecordID:   rec.ID,
			ActorID:    actorID,
			EventType:  eventType,
			DeviceInfo: rec.DeviceInfo,
			Details:    details,
		})
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !replayed {
		s.completeScheduledVisit(ctx, rec)
	}
	return rec, replayed, nil
}

// build resolves collaborators and assembles an UNDER_REVIEW record.
func (s *Service) build(ctx context.Context, req *CreateRequest) (*Record, error) {
	p, err := s.patients.GetByID(ctx, req.PatientID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Validation("patient_id", "patient %s does not exist", req.PatientID)
	}
	if err != nil {
		return nil, err
	}

	checkIn, err := s.resolveLocation(location.RoleCheckIn, req.CheckIn, p)
	if err != nil {
		return nil, err
	}
	checkOut, err := s.resolveLocation(location.RoleCheckOut, req.CheckOut, p)
	if err != nil {
		return nil, err
	}
	dos, _ := parseDate(req.DateOfService)

	now := s.now().UTC()
	id := uuid.New()
	if req.ID != nil {
		id = *req.ID
	}
	return &Record{
		ID:                  id,
		PatientID:           p.ID,
		IndividualName:      p.FullName(),
		CaregiverID:         req.CaregiverID,
		ServiceType:         req.ServiceType,
		ScheduledVisitID:    req.ScheduledVisitID,
		DateOfService:       dos,
		TimeIn:              req.TimeIn.UTC(),
		TimeOut:             req.TimeOut.UTC(),
		CheckIn:             checkIn,
		CheckOut:            checkOut,
		StateCode:           req.StateCode,
		Status:              StatusUnderReview,
		DeviceInfo:          req.DeviceInfo,
		EORApprovalRequired: req.EORApprovalRequired,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

func (s *Service) resolveLocation(role string, in *location.Input, p *patient.Patient) (*location.Snapshot, error) {
	if in == nil {
		return nil, nil
	}
	return s.locations.Resolve(role, in, p.Address)
}

func (s *Service) completeScheduledVisit(ctx context.Context, rec *Record) {
	if rec.ScheduledVisitID == nil || s.visits == nil {
		return
	}
	if err := s.visits.MarkCompleted(ctx, *rec.ScheduledVisitID, rec.TimeOut); err != nil {
		s.logger.Warn().Err(err).
			Str("record", rec.ID.String()).
			Str("scheduled_visit", rec.ScheduledVisitID.String()).
			Msg("failed to mark scheduled visit completed")
	}
}

// Review approves or rejects an UNDER_REVIEW record.
func (s *Service) Review(ctx context.Context, id uuid.UUID, approve bool, actorID uuid.UUID, comment string) (*Record, error) {
	if len(comment) > maxComment {
		return nil, apperr.Validation("comment", "must be at most %d characters", maxComment)
	}

	var rec *Record
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		r, err := s.records.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusUnderReview {
			return apperr.Conflict("visit record %s is %s; only %s records can be reviewed", id, r.Status, StatusUnderReview)
		}
		if r.IsCorrected {
			c, err := s.corrections.GetByCorrected(ctx, r.ID)
			if err != nil && !errors.Is(err, apperr.ErrNotFound) {
				return err
			}
			if c != nil && c.Resolution == ResolutionPending {
				return apperr.Conflict("visit record %s awaits resolution of correction %s", id, c.ID)
			}
		}

		now := s.now().UTC()
		r.Status = StatusRejected
		eventType := audit.EventRejected
		if approve {
			r.Status = StatusApproved
			eventType = audit.EventApproved
		}
		r.ReviewedBy = uuidPtr(actorID)
		r.ReviewedAt = timePtr(now)
		r.ReviewComment = optional(comment)
		r.UpdatedAt = now
		if err := s.records.Update(ctx, r); err != nil {
			return err
		}

		s.audit.Log(ctx, audit.Event{
			RecordID:  r.ID,
			ActorID:   actorID,
			EventType: eventType,
			Details:   map[string]interface{}{"comment": comment},
		})
		if approve {
			if err := s.notifyApproved(ctx, r, actorID); err != nil {
				return err
			}
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ApproveSecondary records the EOR approval for a flagged record.
func (s *Service) ApproveSecondary(ctx context.Context, id uuid.UUID, approverID uuid.UUID, comment string) (*Record, error) {
	if len(comment) > maxComment {
		return nil, apperr.Validation("comment", "must be at most %d characters", maxComment)
	}

	var rec *Record
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		r, err := s.records.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !r.EORApprovalRequired {
			return apperr.Conflict("visit record %s does not require secondary approval", id)
		}
		if r.EORApprovedBy != nil {
			if *r.EORApprovedBy == approverID {
				rec = r
				return nil
			}
			return apperr.Conflict("visit record %s already has secondary approval from %s", id, *r.EORApprovedBy)
		}
		if r.Status == StatusRejected {
			return apperr.Conflict("visit record %s is %s", id, r.Status)
		}

		now := s.now().UTC()
		r.EORApprovedBy = uuidPtr(approverID)
		r.EORApprovedAt = timePtr(now)
		r.EORApprovalComment = optional(comment)
		r.UpdatedAt = now
		if err := s.records.Update(ctx, r); err != nil {
			return err
		}

		s.audit.Log(ctx, audit.Event{
			RecordID:  r.ID,
			ActorID:   approverID,
			EventType: audit.EventEORApproved,
			Details:   map[string]interface{}{"comment": comment},
		})
		if err := s.notifyApproved(ctx, r, approverID); err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// notifyApproved hands a record to the approval listener once every gate
// has cleared. It runs inside the approving transaction.
func (s *Service) notifyApproved(ctx context.Context, rec *Record, actorID uuid.UUID) error {
	if s.listener == nil || !rec.ReadyForSubmission() {
		return nil
	}
	return s.listener.RecordApproved(ctx, rec.Clone(), actorID)
}

func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.records.GetByID(ctx, id)
}

func (s *Service) Search(ctx context.Context, f SearchFilter) ([]*Record, int, error) {
	if err := f.Normalize(); err != nil {
		return nil, 0, err
	}
	return s.records.Search(ctx, f)
}

func (s *Service) ListPendingSecondaryApprovals(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	return s.records.ListPendingEOR(ctx, limit, offset)
}

func (s *Service) ListByCaregiver(ctx context.Context, caregiverID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return s.records.ListByCaregiver(ctx, caregiverID, limit, offset)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
