package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunJanitor deletes expired records every interval until ctx is cancelled.
func RunJanitor(ctx context.Context, store Store, interval time.Duration, batch int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.CleanupExpired(ctx, now.UTC(), batch)
			if err != nil {
				logger.Warn("idempotency cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		}
	}
}
