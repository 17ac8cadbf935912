package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lilninoo/learnpress-offline-app-sub000/internal/client"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/models"
)

const (
	// sweepBatchSize bounds how many outbox entries one sweep submits
	sweepBatchSize = 50
	// retryBackoffBase is the first retry hold-off; it doubles per attempt
	retryBackoffBase = 30 * time.Second
	// retryBackoffMax caps the retry hold-off
	retryBackoffMax = 30 * time.Minute
)

// OutboxStore defines the outbox methods the sync service needs
type OutboxStore interface {
	// PendingBatch returns up to limit entries eligible for a sweep
	PendingBatch(ctx context.Context, now time.Time, limit int) ([]models.OutboxEntry, error)
	// MarkSynced marks entries as transmitted
	MarkSynced(ctx context.Context, ids []int64, at time.Time) error
	// MarkFailed bumps the retry counter and sets the next retry time
	MarkFailed(ctx context.Context, id int64, nextRetryAt time.Time) error
}

// ProgressPusher defines the remote push method the sync service needs
type ProgressPusher interface {
	// SyncProgress submits a batch of pending changes to the server
	SyncProgress(ctx context.Context, entries []models.OutboxEntry) ([]client.SyncResult, error)
}

// SyncService drains the outbox to the server in the background. A failed
// batch holds its entries back with exponential backoff; accepted entries
// are marked synced and never resubmitted.
type SyncService struct {
	outbox OutboxStore
	pusher ProgressPusher
	log    *zap.Logger
}

// NewSyncService creates a new sync service
func NewSyncService(outbox OutboxStore, pusher ProgressPusher, log *zap.Logger) *SyncService {
	return &SyncService{outbox: outbox, pusher: pusher, log: log}
}

// SweepOnce submits one batch of eligible outbox entries. It returns how
// many entries the server accepted.
func (s *SyncService) SweepOnce(ctx context.Context) (int, error) {
	now := time.Now()
	entries, err := s.outbox.PendingBatch(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	results, err := s.pusher.SyncProgress(ctx, entries)
	if err != nil {
		// the whole batch failed in transit; hold every entry back
		for _, e := range entries {
			if markErr := s.outbox.MarkFailed(ctx, e.ID, now.Add(backoffFor(e.Attempts))); markErr != nil {
				s.log.Warn("failed to record outbox failure",
					zap.Int64("entryId", e.ID), zap.Error(markErr))
			}
		}
		return 0, err
	}

	verdicts := make(map[int64]client.SyncResult, len(results))
	for _, r := range results {
		verdicts[r.ID] = r
	}

	var accepted []int64
	for _, e := range entries {
		verdict, ok := verdicts[e.ID]
		if ok && verdict.Accepted {
			accepted = append(accepted, e.ID)
			continue
		}
		if markErr := s.outbox.MarkFailed(ctx, e.ID, now.Add(backoffFor(e.Attempts))); markErr != nil {
			s.log.Warn("failed to record outbox rejection",
				zap.Int64("entryId", e.ID), zap.Error(markErr))
		}
		if ok {
			s.log.Warn("server rejected outbox entry",
				zap.Int64("entryId", e.ID),
				zap.String("message", verdict.Message))
		}
	}

	if len(accepted) > 0 {
		if err := s.outbox.MarkSynced(ctx, accepted, time.Now()); err != nil {
			return 0, err
		}
	}

	s.log.Debug("outbox sweep finished",
		zap.Int("submitted", len(entries)),
		zap.Int("accepted", len(accepted)))
	return len(accepted), nil
}

// Run sweeps the outbox on the given interval until ctx is cancelled
func (s *SyncService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("outbox sweep failed", zap.Error(err))
			}
		}
	}
}

// backoffFor returns the retry hold-off for an entry that has already
// failed attempts times.
func backoffFor(attempts int) time.Duration {
	backoff := retryBackoffBase
	for i := 0; i < attempts && backoff < retryBackoffMax; i++ {
		backoff *= 2
	}
	if backoff > retryBackoffMax {
		backoff = retryBackoffMax
	}
	return backoff
}
