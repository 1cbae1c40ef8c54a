package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// runEvery runs fn once immediately and then on every tick until ctx is done.
// Errors are logged; the loop only stops on cancellation.
func runEvery(ctx context.Context, interval time.Duration, logger *zap.Logger, name string, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := fn(ctx); err != nil && ctx.Err() == nil {
		logger.Error(name+" initial run failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error(name+" run failed", zap.Error(err))
			}
		}
	}
}
