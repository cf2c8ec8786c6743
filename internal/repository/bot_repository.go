package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/relaywire/messaging-relay/internal/domain"
)

const mysqlErrDuplicateEntry = 1062

// BotRepository handles bot configuration, idempotency markers and the
// learning log.
type BotRepository struct {
	db *sqlx.DB
}

func NewBotRepository(db *sqlx.DB) *BotRepository {
	return &BotRepository{db: db}
}

func (r *BotRepository) GetConfig(ctx context.Context, channelID string) (*domain.BotConfig, error) {
	query := `
		SELECT channel_id, mode, service_url, api_key_enc, provider_id, window_start,
		       window_end, timezone, auto_pause_on_escalate, reply_delay_ms
		FROM bot_configs
		WHERE channel_id = ?
	`

	var cfg domain.BotConfig
	if err := r.db.GetContext(ctx, &cfg, query, channelID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get bot config: %w", err)
	}

	return &cfg, nil
}

// TryMarkProcessing inserts the processing marker for a message. Returns
// false on a live collision, meaning another invocation holds the message.
// Expired markers are cleaned up first so stuck messages can retry.
func (r *BotRepository) TryMarkProcessing(
	ctx context.Context,
	channelID, providerMessageID string,
	ttl time.Duration,
) (bool, error) {
	cleanup := `
		DELETE FROM bot_processed_messages
		WHERE channel_id = ? AND provider_message_id = ?
		  AND status = 'processing' AND expires_at < NOW()
	`
	if _, err := r.db.ExecContext(ctx, cleanup, channelID, providerMessageID); err != nil {
		return false, fmt.Errorf("failed to clean expired marker: %w", err)
	}

	insert := `
		INSERT INTO bot_processed_messages (channel_id, provider_message_id, status, expires_at)
		VALUES (?, ?, 'processing', ?)
	`

	_, err := r.db.ExecContext(ctx, insert, channelID, providerMessageID, time.Now().Add(ttl))
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert marker: %w", err)
	}

	return true, nil
}

// MarkCompleted finalizes the marker after a successful routing pass.
func (r *BotRepository) MarkCompleted(ctx context.Context, channelID, providerMessageID string) error {
	query := `
		UPDATE bot_processed_messages
		SET status = 'completed'
		WHERE channel_id = ? AND provider_message_id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, channelID, providerMessageID); err != nil {
		return fmt.Errorf("failed to complete marker: %w", err)
	}

	return nil
}

// RemoveMarker deletes the marker so the next delivery attempt can retry.
func (r *BotRepository) RemoveMarker(ctx context.Context, channelID, providerMessageID string) error {
	query := `
		DELETE FROM bot_processed_messages
		WHERE channel_id = ? AND provider_message_id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, channelID, providerMessageID); err != nil {
		return fmt.Errorf("failed to remove marker: %w", err)
	}

	return nil
}

// InsertLearning logs one routed interaction.
func (r *BotRepository) InsertLearning(ctx context.Context, entry domain.BotLearningEntry) error {
	query := `
		INSERT INTO bot_learning_log
			(channel_id, chat_id, provider_message_id, inbound_text, intent, confidence, action, reply_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ChannelID, entry.ChatID, entry.ProviderMessageID, entry.InboundText,
		entry.Intent, entry.Confidence, entry.Action, entry.ReplyText,
	)
	if err != nil {
		return fmt.Errorf("failed to insert learning entry: %w", err)
	}

	return nil
}
