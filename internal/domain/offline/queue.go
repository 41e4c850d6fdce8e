package offline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careconnect/evv/internal/domain/audit"
	"github.com/careconnect/evv/internal/domain/visit"
	"github.com/careconnect/evv/internal/platform/apperr"
)

// statusLimit caps the per-item list returned by Status. Counts cover the
// whole queue.
const statusLimit = 500

// ErrNotClaimed reports that another sync pass already took the item.
var ErrNotClaimed = errors.New("offline item is no longer pending")

// AuditSink receives offline capture events.
type AuditSink interface {
	Log(ctx context.Context, e audit.Event)
}

type nopAudit struct{}

func (nopAudit) Log(context.Context, audit.Event) {}

// Queue is the durable holding area for operations captured offline.
type Queue struct {
	repo          Repository
	jurisdictions visit.JurisdictionSet
	audit         AuditSink
	logger        zerolog.Logger
	now           func() time.Time
}

type Option func(*Queue)

func WithAudit(sink AuditSink) Option {
	return func(q *Queue) { q.audit = sink }
}

func WithLogger(l zerolog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func NewQueue(repo Repository, jurisdictions visit.JurisdictionSet, opts ...Option) *Queue {
	q := &Queue{
		repo:          repo,
		jurisdictions: jurisdictions,
		audit:         nopAudit{},
		logger:        zerolog.Nop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a PENDING item with no attempts.
func (q *Queue) Enqueue(ctx context.Context, req *EnqueueRequest) (*Item, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := q.now().UTC()
	item := &Item{
		ID:          uuid.New(),
		Operation:   req.Operation,
		RecordID:    req.RecordID,
		CaregiverID: req.CaregiverID,
		DeviceID:    req.DeviceID,
		Priority:    req.Priority,
		SyncStatus:  SyncPending,
		RecordData:  req.Snapshot,
		QueuedAt:    now,
		UpdatedAt:   now,
	}
	if err := q.repo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("enqueue offline item: %w", err)
	}
	q.logger.Debug().
		Str("item", item.ID.String()).
		Str("record", item.RecordID.String()).
		Str("operation", item.Operation).
		Int("priority", item.Priority).
		Msg("offline item queued")
	return item, nil
}

// CreateOfflineRecord validates a visit captured on a device and holds it
// for the next sync. The record id is assigned here when the device did not
// supply one, so every replay of the item creates the same record.
func (q *Queue) CreateOfflineRecord(ctx context.Context, req *visit.CreateRequest, actorID uuid.UUID, deviceID string, priority int) (*Item, error) {
	if err := req.Validate(q.jurisdictions); err != nil {
		return nil, err
	}
	if req.ID == nil {
		id := uuid.New()
		req.ID = &id
	}

	item, err := q.Enqueue(ctx, &EnqueueRequest{
		Operation:   OpCreate,
		RecordID:    *req.ID,
		CaregiverID: req.CaregiverID,
		DeviceID:    deviceID,
		Priority:    priority,
		Snapshot:    Snapshot{Create: req},
	})
	if err != nil {
		return nil, err
	}

	q.audit.Log(ctx, audit.Event{
		RecordID:   item.RecordID,
		ActorID:    actorID,
		EventType:  audit.EventOfflineCreated,
		DeviceInfo: req.DeviceInfo,
		Details: map[string]interface{}{
			"device_id":     deviceID,
			"queue_item_id": item.ID.String(),
			"priority":      item.Priority,
		},
	})
	return item, nil
}

func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	return q.repo.GetByID(ctx, id)
}

// PeekPending returns up to limit PENDING items that still have attempts
// left, highest priority first.
func (q *Queue) PeekPending(ctx context.Context, maxAttempts, limit int) ([]*Item, error) {
	return q.repo.ListPending(ctx, maxAttempts, limit, nil)
}

func (q *Queue) PeekPendingForCaregiver(ctx context.Context, caregiverID uuid.UUID, maxAttempts, limit int) ([]*Item, error) {
	return q.repo.ListPending(ctx, maxAttempts, limit, &caregiverID)
}

// MarkSyncing claims item for a sync attempt and refreshes it from the
// stored row. Only one caller can claim a PENDING item; the others get
// ErrNotClaimed.
func (q *Queue) MarkSyncing(ctx context.Context, item *Item) error {
	claimed, err := q.repo.Claim(ctx, item.ID, q.now().UTC())
	if err != nil {
		return err
	}
	*item = *claimed
	return nil
}

func (q *Queue) MarkSynced(ctx context.Context, item *Item) error {
	item.SyncStatus = SyncSynced
	item.LastError = nil
	item.UpdatedAt = q.now().UTC()
	return q.repo.Update(ctx, item)
}

func (q *Queue) MarkFailed(ctx context.Context, item *Item, cause error) error {
	msg := cause.Error()
	item.SyncStatus = SyncFailed
	item.LastError = &msg
	item.UpdatedAt = q.now().UTC()
	return q.repo.Update(ctx, item)
}

// ResetFailed makes failed items whose last attempt is older than olderThan
// eligible again. Items abandoned mid-sync are reclaimed the same way.
func (q *Queue) ResetFailed(ctx context.Context, maxAttempts int, olderThan time.Duration) (int, error) {
	now := q.now().UTC()
	n, err := q.repo.ResetStale(ctx, maxAttempts, now.Add(-olderThan), now)
	if err != nil {
		return 0, fmt.Errorf("reset failed offline items: %w", err)
	}
	return n, nil
}

// Requeue resolves a failed item by hand: its attempts start over.
func (q *Queue) Requeue(ctx context.Context, id uuid.UUID) (*Item, error) {
	item, err := q.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.SyncStatus != SyncFailed {
		return nil, apperr.Conflict("offline item %s is %s; only %s items can be requeued", id, item.SyncStatus, SyncFailed)
	}
	item.SyncStatus = SyncPending
	item.SyncAttempts = 0
	item.UpdatedAt = q.now().UTC()
	if err := q.repo.Update(ctx, item); err != nil {
		return nil, err
	}
	q.logger.Info().Str("item", id.String()).Str("record", item.RecordID.String()).Msg("offline item requeued")
	return item, nil
}

// Status reports per-status counts and the matching items. Items that used
// up maxAttempts are flagged with the reason they need attention.
func (q *Queue) Status(ctx context.Context, f StatusFilter, maxAttempts int) (*QueueStatus, error) {
	counts, err := q.repo.CountByStatus(ctx, f)
	if err != nil {
		return nil, err
	}
	items, err := q.repo.List(ctx, f, statusLimit)
	if err != nil {
		return nil, err
	}

	st := &QueueStatus{
		Counts: map[string]int{SyncPending: 0, SyncSyncing: 0, SyncSynced: 0, SyncFailed: 0},
		Items:  make([]ItemStatus, 0, len(items)),
	}
	for status, n := range counts {
		st.Counts[status] = n
	}
	for _, item := range items {
		is := ItemStatus{Item: item}
		if item.OutOfAttempts(maxAttempts) {
			is.Exhausted = true
			is.Problem = exhausted(item).Error()
		}
		st.Items = append(st.Items, is)
	}
	return st, nil
}

func exhausted(item *Item) *apperr.SyncExhaustedError {
	e := &apperr.SyncExhaustedError{ItemID: item.ID.String(), Attempts: item.SyncAttempts}
	if item.LastError != nil {
		e.LastError = *item.LastError
	}
	return e
}
