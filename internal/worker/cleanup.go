package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/messaging-api/internal/repository"
	"github.com/jwalitptl/messaging-api/pkg/logger"
)

// CleanupWorker periodically prunes expired idempotency keys and processed
// outbox rows past the retention window. Dead-lettered rows are retained
// indefinitely for audit and replay.
type CleanupWorker struct {
	outboxRepo      repository.OutboxRepository
	idempotencyRepo repository.IdempotencyRepository
	retention       time.Duration
	interval        time.Duration
	logger          *logger.Logger
}

func NewCleanupWorker(
	outboxRepo repository.OutboxRepository,
	idempotencyRepo repository.IdempotencyRepository,
	retention time.Duration,
	interval time.Duration,
	logger *logger.Logger,
) *CleanupWorker {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupWorker{
		outboxRepo:      outboxRepo,
		idempotencyRepo: idempotencyRepo,
		retention:       retention,
		interval:        interval,
		logger:          logger,
	}
}

func (w *CleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *CleanupWorker) cleanup(ctx context.Context) {
	if n, err := w.idempotencyRepo.CleanupExpired(ctx); err != nil {
		w.logger.Error(err, "failed to cleanup idempotency keys")
	} else if n > 0 {
		w.logger.Info("cleaned up expired idempotency keys", "count", n)
	}

	cutoff := time.Now().Add(-w.retention)
	if n, err := w.outboxRepo.DeleteProcessedBefore(ctx, cutoff); err != nil {
		w.logger.Error(err, "failed to prune processed outbox items")
	} else if n > 0 {
		w.logger.Info("pruned processed outbox items", "count", n, "cutoff", cutoff)
	}
}
