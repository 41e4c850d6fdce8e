// Package scheduler owns the fixed-interval background jobs of the process.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/careconnect/evv/internal/platform/lock"
	"github.com/careconnect/evv/internal/platform/metrics"
)

// Job is one periodic unit of background work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	// RunOnStart executes the job once immediately instead of waiting a full
	// interval.
	RunOnStart bool
	// LockTTL is how long the job lock outlives its holder between refreshes.
	// Zero means Interval.
	LockTTL time.Duration
}

func (j Job) lockTTL() time.Duration {
	switch {
	case j.LockTTL > 0:
		return j.LockTTL
	case j.Interval > 0:
		return j.Interval
	}
	return time.Minute
}

type Scheduler struct {
	logger  zerolog.Logger
	locker  lock.Locker
	metrics *metrics.Metrics
	jobs    []Job

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

func New(logger zerolog.Logger, locker lock.Locker, m *metrics.Metrics) *Scheduler {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Scheduler{logger: logger, locker: locker, metrics: m}
}

// Add registers a job. Jobs must be added before Start.
func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start launches one goroutine per job and returns immediately. Calling
// Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	s.cancel = cancel
	s.group = g

	for _, job := range s.jobs {
		job := job
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop cancels every job and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, g := s.cancel, s.group
	s.cancel, s.group = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	_ = g.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	if job.RunOnStart {
		s.RunOnce(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, job)
		}
	}
}

// RunOnce executes job under its distributed lock. A run that cannot obtain
// the lock is skipped because another replica is already doing the work.
// The lock is refreshed while the job runs; losing it cancels the run.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) {
	start := time.Now()
	log := s.logger.With().Str("job", job.Name).Logger()

	ttl := job.lockTTL()
	lk, err := s.locker.Obtain(ctx, "job:"+job.Name, ttl)
	if errors.Is(err, lock.ErrNotObtained) {
		log.Debug().Msg("job held by another worker, skipping")
		s.metrics.ObserveJob(job.Name, "skipped", time.Since(start))
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to obtain job lock")
		s.metrics.ObserveJob(job.Name, "error", time.Since(start))
		return
	}
	defer func() {
		if err := lk.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("failed to release job lock")
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	wait := keepAlive(runCtx, cancel, lk, ttl, log)
	defer func() {
		cancel()
		wait()
	}()

	if err := job.Run(runCtx); err != nil {
		log.Error().Err(err).Dur("latency", time.Since(start)).Msg("job failed")
		s.metrics.ObserveJob(job.Name, "error", time.Since(start))
		return
	}
	s.metrics.ObserveJob(job.Name, "ok", time.Since(start))
}

// keepAlive refreshes lk every half ttl until ctx ends. If a refresh fails the
// lock may already belong to another replica, so the run is cancelled. The
// returned func waits for the refresher to exit.
func keepAlive(ctx context.Context, cancel context.CancelFunc, lk lock.Lock, ttl time.Duration, log zerolog.Logger) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		every := ttl / 2
		if every <= 0 {
			every = ttl
		}
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lk.Refresh(ctx, ttl); err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Warn().Err(err).Msg("job lock lost, cancelling run")
					cancel()
					return
				}
			}
		}
	}()
	return func() { <-done }
}
