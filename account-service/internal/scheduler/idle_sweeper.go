package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sweeper deactivates accounts that have been idle longer than a threshold.
type Sweeper interface {
	SweepIdleAccounts(ctx context.Context, idleAfter time.Duration) ([]uuid.UUID, error)
}

// IdleAccountSweeper runs Sweeper on a fixed interval.
type IdleAccountSweeper struct {
	sweeper   Sweeper
	interval  time.Duration
	idleAfter time.Duration
	logger    *zap.Logger
}

func NewIdleAccountSweeper(sweeper Sweeper, interval, idleAfter time.Duration, logger *zap.Logger) *IdleAccountSweeper {
	return &IdleAccountSweeper{
		sweeper:   sweeper,
		interval:  interval,
		idleAfter: idleAfter,
		logger:    logger.Named("idle_sweeper"),
	}
}

// Run sweeps once per interval until ctx is cancelled.
func (s *IdleAccountSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("idle account sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("idle_after", s.idleAfter),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("idle account sweeper stopping")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass and returns the number of accounts deactivated.
func (s *IdleAccountSweeper) SweepOnce(ctx context.Context) int {
	ids, err := s.sweeper.SweepIdleAccounts(ctx, s.idleAfter)
	if err != nil {
		s.logger.Error("idle account sweep failed", zap.Error(err))
		return 0
	}
	if len(ids) > 0 {
		s.logger.Info("idle account sweep done", zap.Int("deactivated", len(ids)))
	}
	return len(ids)
}
