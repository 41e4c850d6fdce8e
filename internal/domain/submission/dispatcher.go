package submission

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/careconnect/evv/internal/domain/audit"
	"github.com/careconnect/evv/internal/integration"
	"github.com/careconnect/evv/internal/platform/apperr"
	"github.com/careconnect/evv/internal/platform/metrics"
)

type DispatcherConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	BatchSize   int
	Concurrency int
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Timeout:     15 * time.Second,
		MaxAttempts: 10,
		BatchSize:   50,
		Concurrency: 8,
	}
}

// SweepBudget is the longest one sweep can take: every wave of concurrent
// deliveries runs to the timeout.
func (c DispatcherConfig) SweepBudget() time.Duration {
	waves := c.BatchSize
	if c.Concurrency > 1 {
		waves = (c.BatchSize + c.Concurrency - 1) / c.Concurrency
	}
	return time.Duration(waves) * c.Timeout
}

// SweepResult summarises one dispatch pass.
type SweepResult struct {
	Considered int `json:"considered"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
}

// Dispatcher delivers outbox entries through the adapter registered for
// their destination.
type Dispatcher struct {
	outbox   *Outbox
	adapters *integration.Registry
	cfg      DispatcherConfig
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewDispatcher(outbox *Outbox, adapters *integration.Registry, cfg DispatcherConfig, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &Dispatcher{outbox: outbox, adapters: adapters, cfg: cfg, metrics: m, logger: logger}
}

func (d *Dispatcher) SweepBudget() time.Duration { return d.cfg.SweepBudget() }

// Dispatch makes one delivery attempt for e and records the outcome. The
// returned error is the delivery failure, after it has been recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, e *Entry) error {
	start := time.Now()
	err := d.submit(ctx, e)
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	d.metrics.ObserveDispatch(e.Destination, outcome, time.Since(start))

	if err == nil {
		if _, mErr := d.outbox.MarkSent(ctx, e.ID); mErr != nil {
			return fmt.Errorf("mark entry %s sent: %w", e.ID, mErr)
		}
		d.outbox.audit.Log(ctx, audit.Event{
			RecordID:  e.RecordID,
			ActorID:   uuid.Nil,
			EventType: audit.EventSubmissionSent,
			Details: map[string]interface{}{
				"entry_id":    e.ID.String(),
				"destination": e.Destination,
				"attempt":     e.Attempts + 1,
			},
		})
		d.logger.Info().Str("entry", e.ID.String()).Str("destination", e.Destination).Msg("submission sent")
		return nil
	}

	next := d.outbox.now().Add(retryBackoff(e.Attempts + 1))
	failed, mErr := d.outbox.MarkFailed(ctx, e.ID, err, next)
	if mErr != nil {
		d.logger.Error().Err(mErr).Str("entry", e.ID.String()).Msg("failed to record submission failure")
		return err
	}

	var te *apperr.TransportError
	d.outbox.audit.Log(ctx, audit.Event{
		RecordID:  e.RecordID,
		ActorID:   uuid.Nil,
		EventType: audit.EventSubmissionFailed,
		Details: map[string]interface{}{
			"entry_id":        e.ID.String(),
			"destination":     e.Destination,
			"attempt":         failed.Attempts,
			"error":           err.Error(),
			"timeout":         errors.As(err, &te) && te.Timeout,
			"next_attempt_at": failed.NextAttemptAt.Format(time.RFC3339),
		},
	})

	ev := d.logger.Warn()
	if failed.Attempts >= d.cfg.MaxAttempts {
		ev = d.logger.Error()
	}
	ev.Err(err).
		Str("entry", e.ID.String()).
		Str("destination", e.Destination).
		Int("attempts", failed.Attempts).
		Bool("exhausted", failed.Attempts >= d.cfg.MaxAttempts).
		Msg("submission failed")
	return err
}

func (d *Dispatcher) submit(ctx context.Context, e *Entry) error {
	adapter, ok := d.adapters.Lookup(e.Destination)
	if !ok {
		return &apperr.TransportError{Destination: e.Destination, Err: errors.New("no adapter registered")}
	}

	cctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	err := adapter.Submit(cctx, &integration.Submission{
		EntryID:     e.ID,
		Destination: e.Destination,
		Attempt:     e.Attempts + 1,
		Visit:       e.Payload.Clone(),
	})
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		var te *apperr.TransportError
		if !errors.As(err, &te) {
			return &apperr.TransportError{Destination: e.Destination, Timeout: true, Err: err}
		}
		te.Timeout = true
	}
	return err
}

// Sweep delivers every due entry, at most cfg.Concurrency at a time.
func (d *Dispatcher) Sweep(ctx context.Context) (SweepResult, error) {
	entries, err := d.outbox.ListDispatchable(ctx, d.cfg.MaxAttempts, d.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list dispatchable entries: %w", err)
	}

	var sent, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		e := e
		g.Go(func() error {
			if err := d.Dispatch(ctx, e); err != nil {
				failed.Add(1)
			} else {
				sent.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return SweepResult{Considered: len(entries), Sent: int(sent.Load()), Failed: int(failed.Load())}, ctx.Err()
}

// retryBackoff returns the delay before the given attempt number (1-indexed)
// may be retried.
// Schedule: 30s, 1m, 5m, 15m, 1h
func retryBackoff(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 30 * time.Second
	case 2:
		return 1 * time.Minute
	case 3:
		return 5 * time.Minute
	case 4:
		return 15 * time.Minute
	default:
		return 1 * time.Hour
	}
}
