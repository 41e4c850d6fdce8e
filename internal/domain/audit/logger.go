package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careconnect/evv/internal/platform/db"
	"github.com/careconnect/evv/internal/platform/metrics"
)

// Logger appends audit events on a best-effort basis. A failed write is
// logged and counted but never returned, so it cannot undo the transition
// that produced it. Events logged inside a unit of work are written after it
// commits and dropped if it rolls back.
type Logger struct {
	repo    Repository
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// WriteTimeout bounds each append. The write runs detached from the
	// caller's cancellation so a finished request still leaves its trail.
	WriteTimeout time.Duration
}

func NewLogger(repo Repository, logger zerolog.Logger, m *metrics.Metrics) *Logger {
	return &Logger{
		repo:         repo,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
		WriteTimeout: 5 * time.Second,
	}
}

func (l *Logger) Log(ctx context.Context, e Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = l.now()
	}
	// Postgres keeps microseconds; truncate so the stored row hashes the same.
	e.OccurredAt = e.OccurredAt.UTC().Truncate(time.Microsecond)

	db.AfterCommit(ctx, func(ctx context.Context) { l.write(ctx, e) })
}

func (l *Logger) write(ctx context.Context, e Event) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.WriteTimeout)
	defer cancel()

	if err := l.repo.Append(wctx, &e); err != nil {
		l.metrics.IncAuditFailure()
		l.logger.Error().Err(err).
			Str("record", e.RecordID.String()).
			Str("event_type", e.EventType).
			Str("actor", e.ActorID.String()).
			Msg("failed to write audit event")
		return
	}
	l.metrics.IncRecordEvent(e.EventType)
}

func (l *Logger) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*Event, error) {
	return l.repo.ListByRecord(ctx, recordID)
}

func (l *Logger) Verify(ctx context.Context, recordID uuid.UUID) (*Verification, error) {
	events, err := l.repo.ListByRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return VerifyChain(recordID, events), nil
}
