package jobs

import (
	"context"
	"log/slog"
	"time"
)

// Promoter opens stale associated-only bookings to the whole market.
type Promoter interface {
	PromoteStale(ctx context.Context, after time.Duration) (int, error)
}

// VisibilityPromotion runs Promoter on a fixed interval.
type VisibilityPromotion struct {
	Promoter Promoter
	After    time.Duration
	Interval time.Duration
	Logger   *slog.Logger
}

// Run blocks until ctx is done. A non-positive Interval disables the job so an
// external scheduler can own promotion.
func (j VisibilityPromotion) Run(ctx context.Context) error {
	if j.Interval <= 0 || j.After <= 0 {
		j.Logger.Info("visibility promotion job disabled")
		return nil
	}
	j.Logger.Info("visibility promotion job started", "after", j.After.String(), "interval", j.Interval.String())

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.Logger.Info("visibility promotion job stopped")
			return nil
		case <-ticker.C:
			j.Tick(ctx)
		}
	}
}

// Tick runs one promotion pass. Failures are logged and retried on the next tick.
func (j VisibilityPromotion) Tick(ctx context.Context) int {
	n, err := j.Promoter.PromoteStale(ctx, j.After)
	if err != nil {
		j.Logger.Error("promote stale bookings", "err", err)
		return 0
	}
	return n
}
