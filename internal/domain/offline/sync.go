package offline

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
	"github.com/careconnect/evv/internal/domain/visit"
	"github.com/careconnect/evv/internal/platform/apperr"
	"github.com/careconnect/evv/internal/platform/metrics"
)

const defaultVoidReason = "voided on device"

type SyncConfig struct {
	MaxAttempts   int
	Workers       int
	BatchSize     int
	RetryCooldown time.Duration
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		MaxAttempts:   3,
		Workers:       4,
		BatchSize:     100,
		RetryCooldown: 30 * time.Minute,
	}
}

// SyncResult summarises one sync pass.
type SyncResult struct {
	Considered int `json:"considered"`
	Synced     int `json:"synced"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Syncer replays queued offline operations into the record lifecycle.
type Syncer struct {
	queue       *Queue
	records     *visit.Service
	corrections *visit.CorrectionService
	cfg         SyncConfig
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

func NewSyncer(queue *Queue, records *visit.Service, corrections *visit.CorrectionService, cfg SyncConfig, m *metrics.Metrics, logger zerolog.Logger) *Syncer {
	def := DefaultSyncConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RetryCooldown <= 0 {
		cfg.RetryCooldown = def.RetryCooldown
	}
	return &Syncer{queue: queue, records: records, corrections: corrections, cfg: cfg, metrics: m, logger: logger}
}

// SyncPending replays every pending item with attempts left.
func (s *Syncer) SyncPending(ctx context.Context) (SyncResult, error) {
	items, err := s.queue.PeekPending(ctx, s.cfg.MaxAttempts, s.cfg.BatchSize)
	if err != nil {
		return SyncResult{}, fmt.Errorf("peek pending offline items: %w", err)
	}
	return s.sync(ctx, items)
}

// SyncCaregiver replays the pending items of one caregiver, typically when
// their device reconnects.
func (s *Syncer) SyncCaregiver(ctx context.Context, caregiverID uuid.UUID) (SyncResult, error) {
	items, err := s.queue.PeekPendingForCaregiver(ctx, caregiverID, s.cfg.MaxAttempts, s.cfg.BatchSize)
	if err != nil {
		return SyncResult{}, fmt.Errorf("peek pending offline items for caregiver %s: %w", caregiverID, err)
	}
	return s.sync(ctx, items)
}

// RetryFailed returns failed items that cooled down to the pending pool.
func (s *Syncer) RetryFailed(ctx context.Context) (int, error) {
	n, err := s.queue.ResetFailed(ctx, s.cfg.MaxAttempts, s.cfg.RetryCooldown)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int("items", n).Msg("failed offline items reset for retry")
	}
	return n, nil
}

func (s *Syncer) Status(ctx context.Context, f StatusFilter) (*QueueStatus, error) {
	return s.queue.Status(ctx, f, s.cfg.MaxAttempts)
}

func (s *Syncer) sync(ctx context.Context, items []*Item) (SyncResult, error) {
	var synced, failed, skipped atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, group := range groupByRecord(items) {
		if ctx.Err() != nil {
			skipped.Add(int64(len(group)))
			continue
		}
		group := group
		g.Go(func() error {
			for i, item := range group {
				blocked, err := s.queue.repo.HasUnsyncedBefore(ctx, item.RecordID, item.Seq)
				if err != nil || blocked {
					if err != nil {
						s.logger.Error().Err(err).Str("record", item.RecordID.String()).Msg("failed to check offline item order")
					}
					skipped.Add(int64(len(group) - i))
					return nil
				}
				if err := s.syncItem(ctx, item); err != nil {
					if errors.Is(err, ErrNotClaimed) {
						skipped.Add(int64(len(group) - i))
						return nil
					}
					failed.Add(1)
					skipped.Add(int64(len(group) - i - 1))
					return nil
				}
				synced.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return SyncResult{
		Considered: len(items),
		Synced:     int(synced.Load()),
		Failed:     int(failed.Load()),
		Skipped:    int(skipped.Load()),
	}, ctx.Err()
}

// groupByRecord keeps each record's items in enqueue order and orders the
// groups by their first item.
func groupByRecord(items []*Item) [][]*Item {
	index := make(map[uuid.UUID]int)
	var groups [][]*Item
	for _, item := range items {
		i, ok := index[item.RecordID]
		if !ok {
			i = len(groups)
			index[item.RecordID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], item)
	}
	for _, g := range groups {
		for a := 1; a < len(g); a++ {
			for b := a; b > 0 && g[b].Seq < g[b-1].Seq; b-- {
				g[b], g[b-1] = g[b-1], g[b]
			}
		}
	}
	return groups
}

func (s *Syncer) syncItem(ctx context.Context, item *Item) error {
	if err := s.queue.MarkSyncing(ctx, item); err != nil {
		if errors.Is(err, ErrNotClaimed) {
			s.logger.Debug().Str("item", item.ID.String()).Msg("offline item taken by another sync pass")
		} else {
			s.logger.Error().Err(err).Str("item", item.ID.String()).Msg("failed to claim offline item")
		}
		return err
	}

	err := s.replay(ctx, item)
	if err == nil {
		if mErr := s.queue.MarkSynced(ctx, item); mErr != nil {
			s.logger.Error().Err(mErr).Str("item", item.ID.String()).Msg("failed to mark offline item synced")
			return mErr
		}
		s.metrics.IncOfflineSync(item.Operation, "synced")
		s.logger.Debug().
			Str("item", item.ID.String()).
			Str("record", item.RecordID.String()).
			Str("operation", item.Operation).
			Msg("offline item synced")
		return nil
	}

	if mErr := s.queue.MarkFailed(ctx, item, err); mErr != nil {
		s.logger.Error().Err(mErr).Str("item", item.ID.String()).Msg("failed to record offline sync failure")
		return err
	}
	s.queue.audit.Log(ctx, audit.Event{
		RecordID:  item.RecordID,
		ActorID:   item.CaregiverID,
		EventType: audit.EventOfflineSyncFailed,
		Details: map[string]interface{}{
			"queue_item_id": item.ID.String(),
			"operation":     item.Operation,
			"device_id":     item.DeviceID,
			"attempt":       item.SyncAttempts,
			"error":         err.Error(),
		},
	})

	if item.SyncAttempts >= s.cfg.MaxAttempts {
		s.metrics.IncOfflineSync(item.Operation, "exhausted")
		s.logger.Error().
			Err(exhausted(item)).
			Str("record", item.RecordID.String()).
			Str("caregiver", item.CaregiverID.String()).
			Msg("offline item needs manual resolution")
		return err
	}
	s.metrics.IncOfflineSync(item.Operation, "failed")
	s.logger.Warn().
		Err(err).
		Str("item", item.ID.String()).
		Str("record", item.RecordID.String()).
		Int("attempts", item.SyncAttempts).
		Msg("offline sync failed")
	return err
}

func (s *Syncer) replay(ctx context.Context, item *Item) error {
	switch item.Operation {
	case OpCreate:
		req := item.RecordData.Create
		if req == nil {
			return apperr.Validation("record_data.create", "is missing")
		}
		_, replayed, err := s.records.ReplayCreate(ctx, req, item.CaregiverID, item.DeviceID)
		if err == nil && replayed {
			s.logger.Info().Str("record", item.RecordID.String()).Msg("offline record already synced")
		}
		return err

	case OpUpdate:
		req := item.RecordData.Correction
		if req == nil {
			return apperr.Validation("record_data.correction", "is missing")
		}
		_, _, err := s.corrections.ReplayCorrect(ctx, req, item.CaregiverID)
		return err

	case OpDelete:
		rec, err := s.records.GetRecord(ctx, item.RecordID)
		if err != nil {
			return err
		}
		if rec.Status == visit.StatusRejected {
			return nil
		}
		reason := item.RecordData.Reason
		if reason == "" {
			reason = defaultVoidReason
		}
		_, err = s.records.Review(ctx, item.RecordID, false, item.CaregiverID, reason)
		return err
	}
	return errors.New("unknown offline operation " + item.Operation)
}
