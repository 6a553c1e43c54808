package limiter

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunSweeper periodically drops expired counters until ctx is done.
func RunSweeper(ctx context.Context, l Limiter, every time.Duration, log *zap.Logger) {
	if every <= 0 {
		every = 5 * time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := l.Cleanup(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("rate limit cleanup failed", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				log.Debug("rate limit cleanup", zap.Int64("removed", n))
			}
		}
	}
}
