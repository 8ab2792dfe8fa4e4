package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/fieldforce-service/internal/auth"
	"github.com/spec-kit/fieldforce-service/internal/observability"
)

// StartRevocationSweeper purges expired revocations every interval until ctx is done.
// The returned channel closes once the loop has exited.
func StartRevocationSweeper(ctx context.Context, store *auth.RevocationStore, interval time.Duration, metrics *observability.Metrics, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		store.Run(ctx, interval, func(removed, remaining int) {
			metrics.SetRevocationStoreSize(remaining)
			if removed > 0 {
				logger.Debug("revocation sweep", zap.Int("removed", removed), zap.Int("remaining", remaining))
			}
		})
		logger.Info("revocation sweeper stopped")
	}()
	return done
}
