package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"hotel-rate-shadow/internal/collector"
	"hotel-rate-shadow/internal/metrics"
	"hotel-rate-shadow/internal/scheduler"
	"hotel-rate-shadow/internal/storage"
)

const jobName = "reference_sweep"

// Sweeper runs one sweep over a plan.
type Sweeper interface {
	RunScheduledSweep(ctx context.Context, plan collector.Plan) collector.SweepReport
}

// Evictor removes expired observations.
type Evictor interface {
	EvictExpired(ctx context.Context) int64
}

// Service keeps the reference cache warm: every tick it sweeps the plan and
// then evicts what has expired.
type Service struct {
	scheduler *scheduler.Scheduler
	sweeper   Sweeper
	evictor   Evictor
	plan      collector.Plan
	locker    storage.AdvisoryLocker
	lockKey   int64
	logger    zerolog.Logger
}

// New constructs the sweep service. locker may be nil.
func New(sched *scheduler.Scheduler, sweeper Sweeper, evictor Evictor, plan collector.Plan, locker storage.AdvisoryLocker, lockKey int64, logger zerolog.Logger) *Service {
	return &Service{
		scheduler: sched,
		sweeper:   sweeper,
		evictor:   evictor,
		plan:      plan,
		locker:    locker,
		lockKey:   lockKey,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the scheduled sweep loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 执行单次刷新: 先采集再清理过期记录。
// Sweeping first keeps the just-expired previous reading available to the
// cache's price comparison.
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) error {
	started := time.Now()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		metrics.UpdateJobMetrics(jobName, started, err)
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	report := s.sweeper.RunScheduledSweep(ctx, s.plan)
	evicted := s.evictor.EvictExpired(ctx)

	var runErr error
	if report.Windows > 0 && report.Failed == report.Windows {
		runErr = fmt.Errorf("all %d sweep windows failed", report.Windows)
	}
	metrics.UpdateJobMetrics(jobName, started, runErr)

	s.logger.Info().Time("tick", tick).
		Int("collected", report.Collected).
		Int("failed", report.Failed).
		Int64("evicted", evicted).
		Msg("tick processed")
	return runErr
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
