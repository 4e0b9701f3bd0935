package sync

import (
	"context"
	stdsync "sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// BatchFunc runs one full sync batch
type BatchFunc func(ctx context.Context) (Report, error)

// Scheduler runs a batch immediately and then on every tick. A tick that fires while the
// previous batch is still running is skipped.
type Scheduler struct {
	batch    BatchFunc
	interval time.Duration
	logger   *zap.Logger

	running atomic.Bool
	skipped atomic.Int64
	wg      stdsync.WaitGroup
}

func NewScheduler(batch BatchFunc, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		batch:    batch,
		interval: interval,
		logger:   logger.Named("scheduler"),
	}
}

// Run blocks until ctx is cancelled, then waits for the in-flight batch to return.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Starting sync scheduler", zap.Duration("interval", s.interval))

	s.trigger(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("Sync scheduler stopped")
			return
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

// Skipped counts ticks dropped because a batch was still running.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

func (s *Scheduler) trigger(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Debug("Previous sync batch still running, skipping tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		if _, err := s.batch(ctx); err != nil {
			s.logger.Error("Sync batch failed", zap.Error(err))
		}
	}()
}
