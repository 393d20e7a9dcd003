package transaction_monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs the worker on a fixed interval. SkipIfStillRunning
// guarantees cycles never overlap even when one runs long.
type Scheduler struct {
	worker   *Worker
	interval time.Duration
	logger   *zap.Logger

	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler that sweeps every interval
func NewScheduler(worker *Worker, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		worker:   worker,
		interval: interval,
		logger:   logger,
	}
}

// Start registers the cron entry and begins sweeping. The first cycle fires
// after one full interval.
func (s *Scheduler) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() {
		if _, err := s.worker.RunCycle(ctx); err != nil {
			s.logger.Error("Reconciliation cycle failed", zap.Error(err))
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("failed to schedule reconciliation cycle: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Reconciliation scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop cancels the in-flight cycle and waits for the cron runner to drain
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Reconciliation scheduler stopped")
}
