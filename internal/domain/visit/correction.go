package visit

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/careconnect/evv/internal/domain/audit"
	"github.com/careconnect/evv/internal/domain/location"
	"github.com/careconnect/evv/internal/platform/apperr"
)

// CorrectionService supersedes records with amended copies. A correction
// must be approved before the amended record can be submitted.
type CorrectionService struct {
	svc *Service
}

func NewCorrectionService(svc *Service) *CorrectionService {
	return &CorrectionService{svc: svc}
}

// Correct creates an amended copy of the original record, supersedes the
// original and opens a pending correction, all in one transaction.
func (c *CorrectionService) Correct(ctx context.Context, req *CorrectionRequest, actorID uuid.UUID) (*Record, error) {
	rec, _, err := c.correct(ctx, req, actorID)
	return rec, err
}

// ReplayCorrect applies a correction captured offline. If the original was
// already superseded by the record the device named, the existing corrected
// record is returned with replayed set.
func (c *CorrectionService) ReplayCorrect(ctx context.Context, req *CorrectionRequest, actorID uuid.UUID) (rec *Record, replayed bool, err error) {
	if req.CorrectedRecordID == nil {
		return nil, false, apperr.Validation("corrected_record_id", "is required for offline corrections")
	}
	return c.correct(ctx, req, actorID)
}

func (c *CorrectionService) correct(ctx context.Context, req *CorrectionRequest, actorID uuid.UUID) (*Record, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	s := c.svc
	var corrected *Record
	replayed := false
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		orig, err := s.records.GetByID(ctx, req.OriginalRecordID)
		if err != nil {
			return err
		}

		existing, err := s.corrections.GetByOriginal(ctx, orig.ID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		if existing != nil {
			if req.CorrectedRecordID != nil && existing.CorrectedRecordID == *req.CorrectedRecordID {
				corrected, err = s.records.GetByID(ctx, existing.CorrectedRecordID)
				replayed = err == nil
				return err
			}
			return apperr.Conflict("visit record %s has already been superseded by %s", orig.ID, existing.CorrectedRecordID)
		}
		if orig.IsCorrected {
			own, err := s.corrections.GetByCorrected(ctx, orig.ID)
			if err != nil && !errors.Is(err, apperr.ErrNotFound) {
				return err
			}
			if own != nil && own.Resolution == ResolutionPending {
				return apperr.Conflict("visit record %s awaits resolution of correction %s", orig.ID, own.ID)
			}
		}

		next, err := c.amend(ctx, orig, &req.Overrides)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		next.ID = uuid.New()
		if req.CorrectedRecordID != nil {
			next.ID = *req.CorrectedRecordID
		}
		next.IsCorrected = true
		next.OriginalRecordID = uuidPtr(orig.ID)
		next.CorrectionReasonCode = strPtr(req.ReasonCode)
		next.CorrectionExplanation = strPtr(req.Explanation)
		next.CorrectedBy = uuidPtr(actorID)
		next.CorrectedAt = timePtr(now)
		next.CreatedAt = now
		next.UpdatedAt = now
		if err := s.records.Create(ctx, next); err != nil {
			return err
		}

		// Supersede: the only transition allowed out of APPROVED.
		origStatus := orig.Status
		orig.Status = StatusRejected
		orig.UpdatedAt = now
		if err := s.records.Update(ctx, orig); err != nil {
			return err
		}

		corr := &Correction{
			ID:                uuid.New(),
			OriginalRecordID:  orig.ID,
			CorrectedRecordID: next.ID,
			ReasonCode:        req.ReasonCode,
			Explanation:       req.Explanation,
			CorrectedBy:       actorID,
			CorrectedAt:       now,
			ApprovalRequired:  true,
			Resolution:        ResolutionPending,
			OriginalValues:    orig.Values(),
			CorrectedValues:   next.Values(),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.corrections.Create(ctx, corr); err != nil {
			return err
		}

		s.audit.Log(ctx, audit.Event{
			RecordID:   next.ID,
			ActorID:    actorID,
			EventType:  audit.EventCorrected,
			DeviceInfo: next.DeviceInfo,
			Details: map[string]interface{}{
				"correction_id":      corr.ID.String(),
				"original_record_id": orig.ID.String(),
				"reason_code":        req.ReasonCode,
				"explanation":        req.Explanation,
			},
		})
		s.audit.Log(ctx, audit.Event{
			RecordID:  orig.ID,
			ActorID:   actorID,
			EventType: audit.EventSuperseded,
			Details: map[string]interface{}{
				"correction_id":       corr.ID.String(),
				"corrected_record_id": next.ID.String(),
				"previous_status":     origStatus,
			},
		})
		corrected = next
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return corrected, replayed, nil
}

// amend copies the visit data of orig, applies the overrides and validates
// the result with the creation rules. Workflow state starts over.
func (c *CorrectionService) amend(ctx context.Context, orig *Record, o *Overrides) (*Record, error) {
	s := c.svc
	next := &Record{
		PatientID:           orig.PatientID,
		IndividualName:      orig.IndividualName,
		CaregiverID:         orig.CaregiverID,
		ServiceType:         orig.ServiceType,
		ScheduledVisitID:    cloneUUID(orig.ScheduledVisitID),
		DateOfService:       orig.DateOfService,
		TimeIn:              orig.TimeIn,
		TimeOut:             orig.TimeOut,
		CheckIn:             orig.CheckIn.Clone(),
		CheckOut:            orig.CheckOut.Clone(),
		StateCode:           orig.StateCode,
		Status:              StatusUnderReview,
		DeviceInfo:          cloneMap(orig.DeviceInfo),
		IsOffline:           orig.IsOffline,
		SyncStatus:          cloneString(orig.SyncStatus),
		LastSyncAttempt:     cloneTime(orig.LastSyncAttempt),
		EORApprovalRequired: orig.EORApprovalRequired,
	}

	if o.ServiceType != nil {
		next.ServiceType = strings.TrimSpace(*o.ServiceType)
		if err := validateServiceType(next.ServiceType); err != nil {
			return nil, err
		}
	}
	if o.IndividualName != nil {
		next.IndividualName = strings.TrimSpace(*o.IndividualName)
		if next.IndividualName == "" {
			return nil, apperr.Validation("individual_name", "must not be blank")
		}
	}
	if o.DateOfService != nil {
		d, err := parseDate(*o.DateOfService)
		if err != nil {
			return nil, err
		}
		next.DateOfService = d
	}
	if o.TimeIn != nil {
		next.TimeIn = o.TimeIn.UTC()
	}
	if o.TimeOut != nil {
		next.TimeOut = o.TimeOut.UTC()
	}
	if err := validateWindow(next.TimeIn, next.TimeOut); err != nil {
		return nil, err
	}
	if o.StateCode != nil {
		next.StateCode = strings.ToUpper(strings.TrimSpace(*o.StateCode))
		if err := validateStateCode(next.StateCode, s.jurisdictions); err != nil {
			return nil, err
		}
	}
	if o.DeviceInfo != nil {
		next.DeviceInfo = cloneMap(o.DeviceInfo)
	}

	if o.CheckIn != nil || o.CheckOut != nil {
		p, err := s.patients.GetByID(ctx, orig.PatientID)
		if err != nil {
			return nil, err
		}
		if o.CheckIn != nil {
			if next.CheckIn, err = s.locations.Resolve(location.RoleCheckIn, o.CheckIn, p.Address); err != nil {
				return nil, err
			}
		}
		if o.CheckOut != nil {
			if next.CheckOut, err = s.locations.Resolve(location.RoleCheckOut, o.CheckOut, p.Address); err != nil {
				return nil, err
			}
		}
	}
	return next, nil
}

// ApproveCorrection accepts a pending correction and approves the amended
// record with it.
func (c *CorrectionService) ApproveCorrection(ctx context.Context, id uuid.UUID, approverID uuid.UUID, comment string) (*Correction, error) {
	return c.resolve(ctx, id, true, approverID, comment)
}

// RejectCorrection declines a pending correction and rejects the amended
// record with it.
func (c *CorrectionService) RejectCorrection(ctx context.Context, id uuid.UUID, approverID uuid.UUID, comment string) (*Correction, error) {
	return c.resolve(ctx, id, false, approverID, comment)
}

func (c *CorrectionService) resolve(ctx context.Context, id uuid.UUID, approve bool, approverID uuid.UUID, comment string) (*Correction, error) {
	if len(comment) > maxComment {
		return nil, apperr.Validation("comment", "must be at most %d characters", maxComment)
	}

	s := c.svc
	var result *Correction
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		corr, err := s.corrections.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if corr.Resolution != ResolutionPending {
			return apperr.Conflict("correction %s is already %s", id, corr.Resolution)
		}
		rec, err := s.records.GetByID(ctx, corr.CorrectedRecordID)
		if err != nil {
			return err
		}
		if rec.Status != StatusUnderReview {
			return apperr.Conflict("corrected record %s is %s", rec.ID, rec.Status)
		}

		now := s.now().UTC()
		corr.ApprovedBy = uuidPtr(approverID)
		corr.ApprovedAt = timePtr(now)
		corr.ApprovalComment = optional(comment)
		corr.UpdatedAt = now
		rec.Status = StatusApproved
		corr.Resolution = ResolutionApproved
		eventType := audit.EventCorrectionApproved
		if !approve {
			rec.Status = StatusRejected
			corr.Resolution = ResolutionRejected
			corr.ApprovalRequired = false
			eventType = audit.EventCorrectionRejected
		}
		if err := s.corrections.Update(ctx, corr); err != nil {
			return err
		}

		rec.ReviewedBy = uuidPtr(approverID)
		rec.ReviewedAt = timePtr(now)
		rec.ReviewComment = optional(comment)
		rec.UpdatedAt = now
		if err := s.records.Update(ctx, rec); err != nil {
			return err
		}

		s.audit.Log(ctx, audit.Event{
			RecordID:  rec.ID,
			ActorID:   approverID,
			EventType: eventType,
			Details: map[string]interface{}{
				"correction_id":      corr.ID.String(),
				"original_record_id": corr.OriginalRecordID.String(),
				"comment":            comment,
			},
		})
		if approve {
			if err := s.notifyApproved(ctx, rec, approverID); err != nil {
				return err
			}
		}
		result = corr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *CorrectionService) GetCorrection(ctx context.Context, id uuid.UUID) (*Correction, error) {
	return c.svc.corrections.GetByID(ctx, id)
}

func (c *CorrectionService) ListPendingCorrections(ctx context.Context, limit, offset int) ([]*Correction, int, error) {
	return c.svc.corrections.ListPending(ctx, limit, offset)
}
