package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/ferrous-erp/ferrous/internal/jobs"
	"github.com/ferrous-erp/ferrous/internal/shared"
)

// IdempotencyCleaner expires old double-submit guard keys so the table
// stays small. Keys younger than the retention window stay, keeping recent
// finalizations guarded.
type IdempotencyCleaner struct {
	store     *shared.IdempotencyStore
	retention time.Duration
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleaner constructs the cleaner.
func NewIdempotencyCleaner(store *shared.IdempotencyStore, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleaner {
	return &IdempotencyCleaner{store: store, retention: retention, logger: logger, metrics: metrics}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (c *IdempotencyCleaner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := c.metrics.Track(TaskIdempotencyCleanup)
	retention := payload.Retention
	if retention <= 0 {
		retention = c.retention
	}
	if err := c.store.Cleanup(ctx, retention); err != nil {
		return tracker.End(err)
	}
	c.logger.Info("idempotency keys cleaned", slog.Duration("retention", retention))
	return tracker.End(nil)
}
