package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// WebhookEventRepository handles the append-only inbound delivery log.
type WebhookEventRepository struct {
	db *sqlx.DB
}

func NewWebhookEventRepository(db *sqlx.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Insert logs one inbound delivery and returns the row id. The id is
// captured before background processing starts so the outcome can be
// written back without re-matching the payload.
func (r *WebhookEventRepository) Insert(ctx context.Context, channelID, eventType string, payload json.RawMessage) (int64, error) {
	query := `
		INSERT INTO webhook_events (channel_id, event_type, payload)
		VALUES (?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query, channelID, eventType, []byte(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to insert webhook event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return id, nil
}

// MarkProcessed records the processing outcome by the captured id.
// processErr nil means success.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id int64, processedAt time.Time, processErr error) error {
	var errText *string
	if processErr != nil {
		s := processErr.Error()
		errText = &s
	}

	query := `
		UPDATE webhook_events
		SET processed_at = ?, error = ?
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, processedAt, errText, id); err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}

	return nil
}
