package jobqueue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-reports/platform/go/metrics"
)

// RunSweeper calls s.Sweep every interval until ctx is done.
func RunSweeper(ctx context.Context, s Sweeper, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := s.Sweep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("render queue sweep failed", zap.Error(err))
			continue
		}
		if n > 0 {
			metrics.RenderJobsReclaimed.Add(float64(n))
			logger.Warn("reclaimed render jobs from lost workers", zap.Int("jobs", n))
		}
	}
}
