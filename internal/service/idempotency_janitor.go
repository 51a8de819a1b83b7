package service

import (
	"context"
	"log/slog"
	"time"
)

type expiredRecordStore interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// IdempotencyJanitor periodically purges expired idempotency records so the
// cache table does not grow without bound.
type IdempotencyJanitor struct {
	store    expiredRecordStore
	logger   *slog.Logger
	interval time.Duration
}

func NewIdempotencyJanitor(store expiredRecordStore, logger *slog.Logger, interval time.Duration) *IdempotencyJanitor {
	return &IdempotencyJanitor{
		store:    store,
		logger:   logger,
		interval: interval,
	}
}

// Start blocks until ctx is done.
func (j *IdempotencyJanitor) Start(ctx context.Context) {
	j.logger.Info("idempotency janitor started", "interval", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("idempotency janitor stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *IdempotencyJanitor) sweep(ctx context.Context) {
	n, err := j.store.DeleteExpired(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		j.logger.Error("failed to purge expired idempotency records", "error", err)
		return
	}
	if n > 0 {
		j.logger.Info("purged expired idempotency records", "count", n)
	}
}
