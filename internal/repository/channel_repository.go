package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/relaywire/messaging-relay/internal/domain"
)

// ChannelRepository handles database operations for channels.
type ChannelRepository struct {
	db *sqlx.DB
}

func NewChannelRepository(db *sqlx.DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

func (r *ChannelRepository) GetByID(ctx context.Context, id string) (*domain.Channel, error) {
	query := `
		SELECT id, workspace_id, name, status, health_status, api_token_enc, webhook_secret, created_at, updated_at
		FROM channels
		WHERE id = ?
	`

	var channel domain.Channel
	if err := r.db.GetContext(ctx, &channel, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	return &channel, nil
}

// GetCheckable returns every non-stopped channel for the health probe.
func (r *ChannelRepository) GetCheckable(ctx context.Context) ([]domain.Channel, error) {
	query := `
		SELECT id, workspace_id, name, status, health_status, api_token_enc, webhook_secret, created_at, updated_at
		FROM channels
		WHERE status != 'stopped'
		ORDER BY created_at ASC
	`

	var channels []domain.Channel
	if err := r.db.SelectContext(ctx, &channels, query); err != nil {
		return nil, fmt.Errorf("failed to get checkable channels: %w", err)
	}

	return channels, nil
}

// UpdateStatus records a new lifecycle status together with its health
// snapshot.
func (r *ChannelRepository) UpdateStatus(
	ctx context.Context,
	id string,
	status domain.ChannelStatus,
	snapshot domain.HealthSnapshot,
) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal health snapshot: %w", err)
	}

	query := `
		UPDATE channels
		SET status = ?, health_status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, status, data, id); err != nil {
		return fmt.Errorf("failed to update channel status: %w", err)
	}

	return nil
}
