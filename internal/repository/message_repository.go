package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/relaywire/messaging-relay/internal/domain"
)

// MessageRepository handles database operations for messages.
type MessageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, channel_id, chat_id, provider_message_id, direction, type, body,
	media_url, media_path, media_meta, status, view_once, sent_at, created_at, updated_at`

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`

	var message domain.Message
	if err := r.db.GetContext(ctx, &message, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &message, nil
}

// InsertInbound creates an inbound message keyed on
// (channel_id, provider_message_id). A duplicate delivery inserts nothing
// and returns inserted=false so callers can skip first-time side effects.
func (r *MessageRepository) InsertInbound(ctx context.Context, msg *domain.Message) (int64, bool, error) {
	query := `
		INSERT IGNORE INTO messages
			(channel_id, chat_id, provider_message_id, direction, type, body,
			 media_url, media_meta, status, view_once, sent_at)
		VALUES (?, ?, ?, 'inbound', ?, ?, ?, ?, 'sent', ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		msg.ChannelID, msg.ChatID, msg.ProviderMessageID, msg.Type, msg.Body,
		msg.MediaURL, msg.MediaMeta, msg.ViewOnce, msg.SentAt,
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert inbound message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return 0, false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return id, true, nil
}

// CreateOutboundPending inserts the placeholder row for a message the
// dispatcher will send later.
func (r *MessageRepository) CreateOutboundPending(
	ctx context.Context,
	channelID string,
	chatID int64,
	msgType domain.MessageType,
	body string,
) (*domain.Message, error) {
	query := `
		INSERT INTO messages (channel_id, chat_id, direction, type, body, status)
		VALUES (?, ?, 'outbound', ?, ?, 'pending')
	`

	result, err := r.db.ExecContext(ctx, query, channelID, chatID, msgType, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create outbound message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return r.GetByID(ctx, id)
}

// UpdateBodyByProviderID applies a message-edit event.
func (r *MessageRepository) UpdateBodyByProviderID(ctx context.Context, channelID, providerMessageID, body string) (bool, error) {
	query := `
		UPDATE messages
		SET body = ?, updated_at = CURRENT_TIMESTAMP
		WHERE channel_id = ? AND provider_message_id = ?
	`

	result, err := r.db.ExecContext(ctx, query, body, channelID, providerMessageID)
	if err != nil {
		return false, fmt.Errorf("failed to update message body: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}

// UpdateStatusByProviderID applies a delivery-status event. A missing
// target is reported, not fatal.
func (r *MessageRepository) UpdateStatusByProviderID(
	ctx context.Context,
	channelID, providerMessageID string,
	status domain.MessageStatus,
) (bool, error) {
	query := `
		UPDATE messages
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE channel_id = ? AND provider_message_id = ?
	`

	result, err := r.db.ExecContext(ctx, query, status, channelID, providerMessageID)
	if err != nil {
		return false, fmt.Errorf("failed to update message status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}

// MarkDeletedByProviderID applies a message-delete event by blanking the
// body; the row stays for audit.
func (r *MessageRepository) MarkDeletedByProviderID(ctx context.Context, channelID, providerMessageID string) (bool, error) {
	query := `
		UPDATE messages
		SET body = '', updated_at = CURRENT_TIMESTAMP
		WHERE channel_id = ? AND provider_message_id = ?
	`

	result, err := r.db.ExecContext(ctx, query, channelID, providerMessageID)
	if err != nil {
		return false, fmt.Errorf("failed to mark message deleted: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}

// AttachProviderID stamps the provider message id and sent status onto the
// most recent pending outbound message of a chat. The recency heuristic is
// the accepted imprecision of the send pipeline.
func (r *MessageRepository) AttachProviderID(
	ctx context.Context,
	chatID int64,
	providerMessageID string,
	sentAt time.Time,
) error {
	query := `
		UPDATE messages
		SET provider_message_id = ?, status = 'sent', sent_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE chat_id = ? AND status = 'pending' AND direction = 'outbound'
		ORDER BY created_at DESC
		LIMIT 1
	`

	if _, err := r.db.ExecContext(ctx, query, providerMessageID, sentAt, chatID); err != nil {
		return fmt.Errorf("failed to attach provider message id: %w", err)
	}

	return nil
}

// FailPendingOutbound marks the most recent pending outbound message of a
// chat as failed, mirroring a terminally failed outbox entry.
func (r *MessageRepository) FailPendingOutbound(ctx context.Context, chatID int64) error {
	query := `
		UPDATE messages
		SET status = 'failed', updated_at = CURRENT_TIMESTAMP
		WHERE chat_id = ? AND status = 'pending' AND direction = 'outbound'
		ORDER BY created_at DESC
		LIMIT 1
	`

	if _, err := r.db.ExecContext(ctx, query, chatID); err != nil {
		return fmt.Errorf("failed to fail pending outbound message: %w", err)
	}

	return nil
}

// UpdateMedia records the resolved media location on a message.
func (r *MessageRepository) UpdateMedia(ctx context.Context, id int64, media domain.ResolvedMedia) error {
	var meta []byte
	if media.MimeType != "" || media.SizeBytes > 0 {
		var err error
		meta, err = json.Marshal(map[string]any{
			"mimeType":  media.MimeType,
			"sizeBytes": media.SizeBytes,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal media meta: %w", err)
		}
	}

	query := `
		UPDATE messages
		SET media_url = ?,
		    media_path = NULLIF(?, ''),
		    media_meta = COALESCE(?, media_meta),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, media.URL, media.StoragePath, meta, id); err != nil {
		return fmt.Errorf("failed to update message media: %w", err)
	}

	return nil
}

func (r *MessageRepository) GetAll(
	ctx context.Context,
	status *domain.MessageStatus,
	page, pageSize int,
) ([]domain.Message, int64, error) {
	offset := (page - 1) * pageSize
	var totalCount int64
	var messages []domain.Message

	if status != nil {
		countQuery := "SELECT COUNT(*) FROM messages WHERE status = ?"
		if err := r.db.GetContext(ctx, &totalCount, countQuery, *status); err != nil {
			return nil, 0, fmt.Errorf("failed to count messages: %w", err)
		}

		query := `SELECT ` + messageColumns + `
			FROM messages
			WHERE status = ?
			ORDER BY created_at DESC
			LIMIT ? OFFSET ?`
		if err := r.db.SelectContext(ctx, &messages, query, *status, pageSize, offset); err != nil {
			return nil, 0, fmt.Errorf("failed to get messages: %w", err)
		}
	} else {
		countQuery := "SELECT COUNT(*) FROM messages"
		if err := r.db.GetContext(ctx, &totalCount, countQuery); err != nil {
			return nil, 0, fmt.Errorf("failed to count messages: %w", err)
		}

		query := `SELECT ` + messageColumns + `
			FROM messages
			ORDER BY created_at DESC
			LIMIT ? OFFSET ?`
		if err := r.db.SelectContext(ctx, &messages, query, pageSize, offset); err != nil {
			return nil, 0, fmt.Errorf("failed to get messages: %w", err)
		}
	}

	return messages, totalCount, nil
}

// GetStats returns message counts by status.
func (r *MessageRepository) GetStats(ctx context.Context) (pending, sent, failed int64, err error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END), 0)    AS sent,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)  AS failed
		FROM messages
	`

	var stats struct {
		Pending int64 `db:"pending"`
		Sent    int64 `db:"sent"`
		Failed  int64 `db:"failed"`
	}

	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to get stats: %w", err)
	}

	return stats.Pending, stats.Sent, stats.Failed, nil
}
