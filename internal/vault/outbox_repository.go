package vault

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lilninoo/learnpress-offline-app-sub000/internal/models"
)

// OutboxRepository manages the durable queue of not-yet-synchronized
// local changes
type OutboxRepository struct {
	store *Store
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(store *Store) *OutboxRepository {
	return &OutboxRepository{store: store}
}

// Enqueue inserts a pending change
func (r *OutboxRepository) Enqueue(ctx context.Context, entry *models.OutboxEntry) error {
	return r.store.InTx(ctx, func(tx *sql.Tx) error {
		return insertOutboxTx(ctx, tx, entry)
	})
}

// insertOutboxTx inserts an outbox row inside an existing transaction so
// entity writes and their pending sync commit atomically
func insertOutboxTx(ctx context.Context, tx execer, entry *models.OutboxEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	payload := entry.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sync_outbox (entity_type, entity_id, action, payload,
			priority, attempts, next_retry_at, synced, created_at)
		VALUES (?, ?, ?, ?, ?, 0, NULL, 0, ?)`,
		entry.EntityType, entry.EntityID, string(entry.Action),
		string(payload), entry.Priority, createdAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox entry: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// PendingBatch returns up to limit entries eligible for a sync sweep:
// unsynced and past any retry hold-off, highest priority first, oldest first
// within a priority.
func (r *OutboxRepository) PendingBatch(ctx context.Context, now time.Time, limit int) ([]models.OutboxEntry, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, action, payload, priority,
			attempts, next_retry_at, synced, created_at, synced_at
		FROM sync_outbox
		WHERE synced = 0 AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var entries []models.OutboxEntry
	for rows.Next() {
		var e models.OutboxEntry
		var action, payload string
		var nextRetryAt, syncedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &action, &payload,
			&e.Priority, &e.Attempts, &nextRetryAt, &e.Synced, &e.CreatedAt,
			&syncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		e.Action = models.OutboxAction(action)
		e.Payload = []byte(payload)
		if nextRetryAt.Valid {
			t := nextRetryAt.Time
			e.NextRetryAt = &t
		}
		if syncedAt.Valid {
			t := syncedAt.Time
			e.SyncedAt = &t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox: %w", err)
	}
	return entries, nil
}

// MarkSynced marks the given entries as transmitted
func (r *OutboxRepository) MarkSynced(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, at.UTC())
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := r.store.db.ExecContext(ctx,
		`UPDATE sync_outbox SET synced = 1, synced_at = ?, next_retry_at = NULL
		 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to mark outbox entries synced: %w", err)
	}
	return nil
}

// MarkFailed bumps the retry counter and sets the next-eligible-retry time
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, nextRetryAt time.Time) error {
	res, err := r.store.db.ExecContext(ctx,
		`UPDATE sync_outbox SET attempts = attempts + 1, next_retry_at = ?
		 WHERE id = ? AND synced = 0`, nextRetryAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeSynced removes synced entries older than the cutoff
func (r *OutboxRepository) PurgeSynced(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.store.db.ExecContext(ctx,
		`DELETE FROM sync_outbox WHERE synced = 1 AND synced_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge outbox: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check purge result: %w", err)
	}
	return n, nil
}
