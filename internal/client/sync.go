package client

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/lilninoo/learnpress-offline-app-sub000/internal/models"
)

// SyncChange is one outbox entry on the wire
type SyncChange struct {
	ID         int64           `json:"id"`
	EntityType string          `json:"entityType"`
	EntityID   int64           `json:"entityId"`
	Action     string          `json:"action"`
	Payload    json.RawMessage `json:"payload"`
}

// SyncResult reports the server's verdict per submitted change
type SyncResult struct {
	ID       int64  `json:"id"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// SyncProgress pushes a batch of pending local changes to the server and
// returns its per-change verdicts. A transport or server failure fails the
// whole batch; per-change rejections come back in the results.
func (c *Client) SyncProgress(ctx context.Context, entries []models.OutboxEntry) ([]SyncResult, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	changes := make([]SyncChange, 0, len(entries))
	for _, e := range entries {
		changes = append(changes, SyncChange{
			ID:         e.ID,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Action:     string(e.Action),
			Payload:    e.Payload,
		})
	}

	var resp struct {
		Results []SyncResult `json:"results"`
	}
	body := map[string]any{"changes": changes}
	if err := c.doJSON(ctx, http.MethodPost, "/wp-json/course-vault/v1/sync/progress", nil, body, &resp); err != nil {
		return nil, err
	}

	c.log.Debug("progress batch synced",
		zap.Int("submitted", len(changes)),
		zap.Int("results", len(resp.Results)))
	return resp.Results, nil
}
