package visit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careconnect/evv/internal/platform/apperr"
	"github.com/careconnect/evv/internal/platform/db"
)

// MemoryRecordRepo keeps records in process memory. It copies on every read
// and write so callers never share state with the store.
type MemoryRecordRepo struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Record
}

func NewMemoryRecordRepo() *MemoryRecordRepo {
	return &MemoryRecordRepo{records: make(map[uuid.UUID]*Record)}
}

func (r *MemoryRecordRepo) Create(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.ID]; ok {
		return apperr.Conflict("visit record %s already exists", rec.ID)
	}
	rec.Version = 1
	r.records[rec.ID] = rec.Clone()
	id := rec.ID
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.records, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryRecordRepo) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, apperr.NotFound("visit record", id)
	}
	return rec.Clone(), nil
}

func (r *MemoryRecordRepo) Update(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.records[rec.ID]
	if !ok || stored.Version != rec.Version {
		return apperr.Conflict("visit record %s was modified concurrently", rec.ID)
	}
	next := stored.Clone()
	next.Status = rec.Status
	next.ReviewedBy = cloneUUID(rec.ReviewedBy)
	next.ReviewedAt = cloneTime(rec.ReviewedAt)
	next.ReviewComment = cloneString(rec.ReviewComment)
	next.SyncStatus = cloneString(rec.SyncStatus)
	next.LastSyncAttempt = cloneTime(rec.LastSyncAttempt)
	next.EORApprovedBy = cloneUUID(rec.EORApprovedBy)
	next.EORApprovedAt = cloneTime(rec.EORApprovedAt)
	next.EORApprovalComment = cloneString(rec.EORApprovalComment)
	next.UpdatedAt = rec.UpdatedAt
	next.Version++
	r.records[rec.ID] = next
	rec.Version = next.Version
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		r.records[stored.ID] = stored
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryRecordRepo) Search(_ context.Context, f SearchFilter) ([]*Record, int, error) {
	name := strings.ToLower(f.PatientName)
	return r.list(func(rec *Record) bool {
		switch {
		case name != "" && !strings.Contains(strings.ToLower(rec.IndividualName), name):
			return false
		case f.ServiceType != "" && rec.ServiceType != f.ServiceType:
			return false
		case f.CaregiverID != nil && rec.CaregiverID != *f.CaregiverID:
			return false
		case f.StartDate != nil && rec.DateOfService.Before(*f.StartDate):
			return false
		case f.EndDate != nil && rec.DateOfService.After(*f.EndDate):
			return false
		case f.StateCode != "" && rec.StateCode != f.StateCode:
			return false
		case f.Status != "" && rec.Status != f.Status:
			return false
		}
		return true
	}, sortKey(f.sortColumn()), f.SortDirection == "DESC", f.Size, f.offset())
}

func (r *MemoryRecordRepo) ListPendingEOR(_ context.Context, limit, offset int) ([]*Record, int, error) {
	return r.list(func(rec *Record) bool {
		return rec.EORApprovalRequired && rec.EORApprovedBy == nil && rec.Status != StatusRejected
	}, sortKey("created_at"), false, limit, offset)
}

func (r *MemoryRecordRepo) ListByCaregiver(_ context.Context, caregiverID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return r.list(func(rec *Record) bool {
		return rec.CaregiverID == caregiverID
	}, sortKey("time_in"), true, limit, offset)
}

func (r *MemoryRecordRepo) list(match func(*Record) bool, key func(*Record) time.Time, desc bool, limit, offset int) ([]*Record, int, error) {
	r.mu.RLock()
	var matched []*Record
	for _, rec := range r.records {
		if match(rec) {
			matched = append(matched, rec.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := key(matched[i]), key(matched[j])
		if a.Equal(b) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		if desc {
			return a.After(b)
		}
		return a.Before(b)
	})
	return page(matched, limit, offset), len(matched), nil
}

func sortKey(column string) func(*Record) time.Time {
	switch column {
	case "date_of_service":
		return func(r *Record) time.Time { return r.DateOfService }
	case "time_in":
		return func(r *Record) time.Time { return r.TimeIn }
	case "updated_at":
		return func(r *Record) time.Time { return r.UpdatedAt }
	default:
		return func(r *Record) time.Time { return r.CreatedAt }
	}
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// MemoryCorrectionRepo keeps corrections in process memory.
type MemoryCorrectionRepo struct {
	mu          sync.RWMutex
	corrections map[uuid.UUID]*Correction
}

func NewMemoryCorrectionRepo() *MemoryCorrectionRepo {
	return &MemoryCorrectionRepo{corrections: make(map[uuid.UUID]*Correction)}
}

func (r *MemoryCorrectionRepo) Create(ctx context.Context, c *Correction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.corrections {
		if existing.OriginalRecordID == c.OriginalRecordID {
			return apperr.Conflict("visit record %s has already been superseded", c.OriginalRecordID)
		}
	}
	r.corrections[c.ID] = c.Clone()
	id := c.ID
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.corrections, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryCorrectionRepo) GetByID(_ context.Context, id uuid.UUID) (*Correction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.corrections[id]
	if !ok {
		return nil, apperr.NotFound("correction", id)
	}
	return c.Clone(), nil
}

func (r *MemoryCorrectionRepo) GetByOriginal(_ context.Context, originalID uuid.UUID) (*Correction, error) {
	return r.find(originalID, func(c *Correction) uuid.UUID { return c.OriginalRecordID })
}

func (r *MemoryCorrectionRepo) GetByCorrected(_ context.Context, correctedID uuid.UUID) (*Correction, error) {
	return r.find(correctedID, func(c *Correction) uuid.UUID { return c.CorrectedRecordID })
}

func (r *MemoryCorrectionRepo) find(id uuid.UUID, field func(*Correction) uuid.UUID) (*Correction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.corrections {
		if field(c) == id {
			return c.Clone(), nil
		}
	}
	return nil, apperr.NotFound("correction", id)
}

func (r *MemoryCorrectionRepo) Update(ctx context.Context, c *Correction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.corrections[c.ID]
	if !ok || stored.Resolution != ResolutionPending {
		return apperr.Conflict("correction %s is already resolved", c.ID)
	}
	r.corrections[c.ID] = c.Clone()
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		r.corrections[stored.ID] = stored
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryCorrectionRepo) ListPending(_ context.Context, limit, offset int) ([]*Correction, int, error) {
	r.mu.RLock()
	var pending []*Correction
	for _, c := range r.corrections {
		if c.Resolution == ResolutionPending {
			pending = append(pending, c.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CorrectedAt.Before(pending[j].CorrectedAt)
	})
	return page(pending, limit, offset), len(pending), nil
}
