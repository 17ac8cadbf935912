package models

import (
	"encoding/json"
	"time"
)

// OutboxAction represents the kind of pending change in the sync outbox
type OutboxAction string

const (
	OutboxActionCreate   OutboxAction = "create"
	OutboxActionUpdate   OutboxAction = "update"
	OutboxActionDelete   OutboxAction = "delete"
	OutboxActionComplete OutboxAction = "complete"
	OutboxActionProgress OutboxAction = "progress"
)

// OutboxEntry represents one local change awaiting transmission to the
// remote API. Entries are created by the vault write paths, never by UI code.
type OutboxEntry struct {
	ID          int64           `json:"id"`
	EntityType  string          `json:"entityType"`
	EntityID    int64           `json:"entityId"`
	Action      OutboxAction    `json:"action"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	NextRetryAt *time.Time      `json:"nextRetryAt,omitempty"`
	Synced      bool            `json:"synced"`
	CreatedAt   time.Time       `json:"createdAt"`
	SyncedAt    *time.Time      `json:"syncedAt,omitempty"`
}

// Eligible reports whether the entry is visible to a sync sweep at the
// given instant: not yet synced and past any retry hold-off.
func (e *OutboxEntry) Eligible(now time.Time) bool {
	if e.Synced {
		return false
	}
	return e.NextRetryAt == nil || !e.NextRetryAt.After(now)
}

// ProgressPayload is the outbox payload for lesson progress changes
type ProgressPayload struct {
	LessonID         int64 `json:"lessonId"`
	CourseID         int64 `json:"courseId"`
	Progress         int   `json:"progress"`
	Completed        bool  `json:"completed"`
	PlaybackPosition int   `json:"playbackPosition,omitempty"`
}
