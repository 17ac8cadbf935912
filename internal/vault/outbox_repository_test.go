package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lilninoo/learnpress-offline-app-sub000/internal/models"
)

// setupOutboxTestRepository creates an outbox repository with a mock database
func setupOutboxTestRepository(t *testing.T) (*OutboxRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewOutboxRepository(NewStore(db))

	cleanup := func() {
		db.Close()
	}

	return repo, mock, cleanup
}

var outboxRowColumns = []string{
	"id", "entity_type", "entity_id", "action", "payload", "priority",
	"attempts", "next_retry_at", "synced", "created_at", "synced_at",
}

func TestOutboxRepository_Enqueue(t *testing.T) {
	repo, mock, cleanup := setupOutboxTestRepository(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO sync_outbox`).
		WithArgs("lesson", int64(10), "progress", `{"progress":40}`, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	entry := &models.OutboxEntry{
		EntityType: "lesson",
		EntityID:   10,
		Action:     models.OutboxActionProgress,
		Payload:    []byte(`{"progress":40}`),
	}
	err := repo.Enqueue(context.Background(), entry)

	require.NoError(t, err)
	assert.Equal(t, int64(7), entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_PendingBatch(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name          string
		setupMock     func(sqlmock.Sqlmock)
		expectedLen   int
		errorContains string
	}{
		{
			name: "returns eligible entries ordered by priority then age",
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(outboxRowColumns).
					AddRow(3, "lesson", 10, "complete", `{}`, 1, 0, nil, false, now.Add(-time.Minute), nil).
					AddRow(1, "lesson", 11, "progress", `{}`, 0, 2, now.Add(-time.Second), false, now.Add(-time.Hour), nil)
				mock.ExpectQuery(`SELECT.*FROM sync_outbox.*WHERE synced = 0 AND \(next_retry_at IS NULL OR next_retry_at <= \?\)`).
					WithArgs(sqlmock.AnyArg(), 50).
					WillReturnRows(rows)
			},
			expectedLen: 2,
		},
		{
			name: "empty sweep",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT.*FROM sync_outbox`).
					WithArgs(sqlmock.AnyArg(), 50).
					WillReturnRows(sqlmock.NewRows(outboxRowColumns))
			},
			expectedLen: 0,
		},
		{
			name: "database error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT.*FROM sync_outbox`).
					WithArgs(sqlmock.AnyArg(), 50).
					WillReturnError(errors.New("database error"))
			},
			errorContains: "failed to query outbox",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, cleanup := setupOutboxTestRepository(t)
			defer cleanup()

			tt.setupMock(mock)

			entries, err := repo.PendingBatch(context.Background(), now, 50)

			if tt.errorContains != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				return
			}
			require.NoError(t, err)
			require.Len(t, entries, tt.expectedLen)
			if tt.expectedLen == 2 {
				assert.Equal(t, int64(3), entries[0].ID)
				assert.Equal(t, models.OutboxActionComplete, entries[0].Action)
				assert.Equal(t, 1, entries[0].Priority)
				assert.Nil(t, entries[0].NextRetryAt)
				assert.NotNil(t, entries[1].NextRetryAt)
				assert.Equal(t, 2, entries[1].Attempts)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestOutboxRepository_MarkSynced(t *testing.T) {
	repo, mock, cleanup := setupOutboxTestRepository(t)
	defer cleanup()

	at := time.Now().UTC()
	mock.ExpectExec(`UPDATE sync_outbox SET synced = 1, synced_at = \?, next_retry_at = NULL\s+WHERE id IN \(\?,\?,\?\)`).
		WithArgs(at, int64(1), int64(2), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	err := repo.MarkSynced(context.Background(), []int64{1, 2, 3}, at)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_MarkSynced_Empty(t *testing.T) {
	repo, mock, cleanup := setupOutboxTestRepository(t)
	defer cleanup()

	err := repo.MarkSynced(context.Background(), nil, time.Now())

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_MarkFailed(t *testing.T) {
	tests := []struct {
		name          string
		setupMock     func(sqlmock.Sqlmock)
		expectedError error
	}{
		{
			name: "success",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE sync_outbox SET attempts = attempts \+ 1, next_retry_at = \?`).
					WithArgs(sqlmock.AnyArg(), int64(5)).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "already synced or missing",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE sync_outbox SET attempts = attempts \+ 1, next_retry_at = \?`).
					WithArgs(sqlmock.AnyArg(), int64(5)).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			expectedError: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, cleanup := setupOutboxTestRepository(t)
			defer cleanup()

			tt.setupMock(mock)

			err := repo.MarkFailed(context.Background(), 5, time.Now().Add(time.Minute))

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestOutboxEntry_Eligible(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Minute)

	tests := []struct {
		name     string
		entry    models.OutboxEntry
		expected bool
	}{
		{name: "pending with no hold-off", entry: models.OutboxEntry{}, expected: true},
		{name: "already synced", entry: models.OutboxEntry{Synced: true}, expected: false},
		{name: "retry in the future", entry: models.OutboxEntry{NextRetryAt: &later}, expected: false},
		{name: "retry elapsed", entry: models.OutboxEntry{NextRetryAt: &now}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.entry.Eligible(now))
		})
	}
}
