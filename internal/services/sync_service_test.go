package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lilninoo/learnpress-offline-app-sub000/internal/client"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/models"
)

// mockOutboxStore is a mock implementation of OutboxStore
type mockOutboxStore struct {
	entries   []models.OutboxEntry
	synced    []int64
	failed    []int64
	retryAt   map[int64]time.Time
	err       error
	syncedErr error
}

func (m *mockOutboxStore) PendingBatch(ctx context.Context, now time.Time, limit int) ([]models.OutboxEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.entries) > limit {
		return m.entries[:limit], nil
	}
	return m.entries, nil
}

func (m *mockOutboxStore) MarkSynced(ctx context.Context, ids []int64, at time.Time) error {
	if m.syncedErr != nil {
		return m.syncedErr
	}
	m.synced = append(m.synced, ids...)
	return nil
}

func (m *mockOutboxStore) MarkFailed(ctx context.Context, id int64, nextRetryAt time.Time) error {
	if m.retryAt == nil {
		m.retryAt = make(map[int64]time.Time)
	}
	m.failed = append(m.failed, id)
	m.retryAt[id] = nextRetryAt
	return nil
}

// mockPusher is a mock implementation of ProgressPusher
type mockPusher struct {
	results []client.SyncResult
	err     error
	batches [][]models.OutboxEntry
}

func (m *mockPusher) SyncProgress(ctx context.Context, entries []models.OutboxEntry) ([]client.SyncResult, error) {
	m.batches = append(m.batches, entries)
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

func TestSyncService_SweepOnce(t *testing.T) {
	t.Run("accepted entries are marked synced", func(t *testing.T) {
		outbox := &mockOutboxStore{entries: []models.OutboxEntry{
			{ID: 1, EntityType: "lesson", Action: models.OutboxActionProgress},
			{ID: 2, EntityType: "lesson", Action: models.OutboxActionComplete},
		}}
		pusher := &mockPusher{results: []client.SyncResult{
			{ID: 1, Accepted: true},
			{ID: 2, Accepted: true},
		}}

		svc := NewSyncService(outbox, pusher, zap.NewNop())
		accepted, err := svc.SweepOnce(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 2, accepted)
		assert.ElementsMatch(t, []int64{1, 2}, outbox.synced)
		assert.Empty(t, outbox.failed)
	})

	t.Run("rejected entries are held back for retry", func(t *testing.T) {
		outbox := &mockOutboxStore{entries: []models.OutboxEntry{
			{ID: 1, Attempts: 0},
			{ID: 2, Attempts: 3},
		}}
		pusher := &mockPusher{results: []client.SyncResult{
			{ID: 1, Accepted: true},
			{ID: 2, Accepted: false, Message: "lesson unknown"},
		}}

		svc := NewSyncService(outbox, pusher, zap.NewNop())
		accepted, err := svc.SweepOnce(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, accepted)
		assert.Equal(t, []int64{1}, outbox.synced)
		assert.Equal(t, []int64{2}, outbox.failed)
	})

	t.Run("transport failure holds the whole batch back", func(t *testing.T) {
		outbox := &mockOutboxStore{entries: []models.OutboxEntry{{ID: 1}, {ID: 2}}}
		pusher := &mockPusher{err: errors.New("connection refused")}

		svc := NewSyncService(outbox, pusher, zap.NewNop())
		accepted, err := svc.SweepOnce(context.Background())

		assert.Error(t, err)
		assert.Zero(t, accepted)
		assert.ElementsMatch(t, []int64{1, 2}, outbox.failed)
		assert.Empty(t, outbox.synced)
	})

	t.Run("empty outbox sweeps to nothing", func(t *testing.T) {
		outbox := &mockOutboxStore{}
		pusher := &mockPusher{}

		svc := NewSyncService(outbox, pusher, zap.NewNop())
		accepted, err := svc.SweepOnce(context.Background())

		require.NoError(t, err)
		assert.Zero(t, accepted)
		assert.Empty(t, pusher.batches, "no batch must be sent for an empty outbox")
	})
}

func TestBackoffFor(t *testing.T) {
	tests := []struct {
		attempts int
		expected time.Duration
	}{
		{attempts: 0, expected: 30 * time.Second},
		{attempts: 1, expected: time.Minute},
		{attempts: 2, expected: 2 * time.Minute},
		{attempts: 6, expected: 30 * time.Minute},
		{attempts: 20, expected: 30 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, backoffFor(tt.attempts), "attempts=%d", tt.attempts)
	}
}
