package submission

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careconnect/evv/internal/domain/audit"
	"github.com/careconnect/evv/internal/domain/visit"
	"github.com/careconnect/evv/internal/platform/apperr"
)

// AuditSink receives submission events.
type AuditSink interface {
	Log(ctx context.Context, e audit.Event)
}

type nopAudit struct{}

func (nopAudit) Log(context.Context, audit.Event) {}

// Outbox stores delivery intents. Entries are written in the transaction
// that approves the record, so an approval and its submission intent commit
// together.
type Outbox struct {
	repo   Repository
	router *Router
	audit  AuditSink
	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Outbox)

func WithAudit(sink AuditSink) Option {
	return func(o *Outbox) { o.audit = sink }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Outbox) { o.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *Outbox) { o.now = now }
}

func NewOutbox(repo Repository, router *Router, opts ...Option) *Outbox {
	o := &Outbox{
		repo:   repo,
		router: router,
		audit:  nopAudit{},
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enqueue snapshots rec into a PENDING entry for destination.
func (o *Outbox) Enqueue(ctx context.Context, rec *visit.Record, destination string, actorID uuid.UUID) (*Entry, error) {
	now := o.now().UTC()
	e := &Entry{
		ID:            uuid.New(),
		RecordID:      rec.ID,
		Destination:   destination,
		Payload:       snapshot(rec),
		Status:        StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.repo.Create(ctx, e); err != nil {
		return nil, err
	}

	o.audit.Log(ctx, audit.Event{
		RecordID:  rec.ID,
		ActorID:   actorID,
		EventType: audit.EventSubmissionQueued,
		Details: map[string]interface{}{
			"entry_id":    e.ID.String(),
			"destination": destination,
		},
	})
	return e, nil
}

// RecordApproved routes rec and enqueues it. It runs inside the approving
// transaction, so a routing or storage failure undoes the approval.
func (o *Outbox) RecordApproved(ctx context.Context, rec *visit.Record, actorID uuid.UUID) error {
	dest, err := o.router.DestinationFor(rec.StateCode)
	if err != nil {
		return err
	}
	_, err = o.Enqueue(ctx, rec, dest, actorID)
	return err
}

// MarkSent records a successful delivery. SENT is terminal.
func (o *Outbox) MarkSent(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status == StatusSent {
		return nil, apperr.Conflict("outbox entry %s is already sent", id)
	}
	now := o.now().UTC()
	e.Status = StatusSent
	e.Attempts++
	e.LastError = nil
	e.SentAt = &now
	e.UpdatedAt = now
	if err := o.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// MarkFailed records a failed delivery and when it may be tried again.
func (o *Outbox) MarkFailed(ctx context.Context, id uuid.UUID, cause error, nextAttemptAt time.Time) (*Entry, error) {
	e, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status == StatusSent {
		return nil, apperr.Conflict("outbox entry %s is already sent", id)
	}
	msg := cause.Error()
	e.Status = StatusFailed
	e.Attempts++
	e.LastError = &msg
	e.NextAttemptAt = nextAttemptAt.UTC()
	e.UpdatedAt = o.now().UTC()
	if err := o.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (o *Outbox) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return o.repo.GetByID(ctx, id)
}

func (o *Outbox) List(ctx context.Context, f ListFilter) ([]*Entry, int, error) {
	if f.Status != "" && f.Status != StatusPending && f.Status != StatusSent && f.Status != StatusFailed {
		return nil, 0, apperr.Validation("status", "must be one of PENDING, SENT, FAILED")
	}
	return o.repo.List(ctx, f)
}

// ListDispatchable returns entries due for delivery now.
func (o *Outbox) ListDispatchable(ctx context.Context, maxAttempts, limit int) ([]*Entry, error) {
	return o.repo.ListDispatchable(ctx, o.now(), maxAttempts, limit)
}
