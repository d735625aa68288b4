package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type AttemptSweeper interface {
	SweepStaleAttempts(ctx context.Context, before time.Time, limit int) (int, error)
}

// PENDINGのまま止まった決済試行を定期的に拾う
type Sweeper struct {
	attempts   AttemptSweeper
	staleAfter time.Duration
	interval   time.Duration
	batchSize  int
	logger     *zap.Logger
	now        func() time.Time
}

func NewSweeper(attempts AttemptSweeper, staleAfter, interval time.Duration, batchSize int, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		attempts:   attempts,
		staleAfter: staleAfter,
		interval:   interval,
		batchSize:  batchSize,
		logger:     logger.With(zap.String("component", "attempt_sweeper")),
		now:        time.Now,
	}
}

// ctxが終わるまでブロックする
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Starting checkout attempt sweeper",
		zap.Duration("stale_after", s.staleAfter),
		zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Checkout attempt sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("Failed to sweep checkout attempts", zap.Error(err))
			}
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	n, err := s.attempts.SweepStaleAttempts(ctx, s.now().Add(-s.staleAfter), s.batchSize)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("Flagged stale checkout attempts", zap.Int("count", n))
	}
	return n, nil
}
