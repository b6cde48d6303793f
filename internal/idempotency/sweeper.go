package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/mohamaddakhiliuad/tenantorders/internal/clock"
)

// Sweeper deletes records past their expiry, Completed or not.
type Sweeper struct {
	store    Store
	clock    clock.Clock
	interval time.Duration
	options
}

func NewSweeper(store Store, clk clock.Clock, interval time.Duration, opts ...Option) *Sweeper {
	return &Sweeper{
		store:    store,
		clock:    clk,
		interval: interval,
		options:  buildOptions("idempotency_sweeper", opts),
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	s.metrics.Swept(n)
	if n > 0 {
		s.log.Info("swept expired idempotency records", "count", n)
	}
	return n, nil
}

// Run sweeps every interval until ctx is done. Sweep failures are logged and
// retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", s.interval)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("idempotency sweep failed", "error", err)
			}
		}
	}
}
