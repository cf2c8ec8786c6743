package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/relaywire/messaging-relay/internal/domain"
)

// ChatRepository handles database operations for chats.
type ChatRepository struct {
	db *sqlx.DB
}

func NewChatRepository(db *sqlx.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

const chatColumns = `id, channel_id, provider_chat_id, is_group, name, last_preview,
	last_message_at, unread_count, bot_paused, created_at, updated_at`

func (r *ChatRepository) GetByID(ctx context.Context, id int64) (*domain.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = ?`

	var chat domain.Chat
	if err := r.db.GetContext(ctx, &chat, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}

	return &chat, nil
}

// GetOrCreate resolves a provider chat id to a chat row, creating it on
// first sight. Concurrent creators race on the unique key; the loser just
// re-reads.
func (r *ChatRepository) GetOrCreate(
	ctx context.Context,
	channelID, providerChatID, name string,
	isGroup bool,
) (*domain.Chat, error) {
	chat, err := r.getByProviderID(ctx, channelID, providerChatID)
	if err != nil {
		return nil, err
	}
	if chat != nil {
		return chat, nil
	}

	insert := `
		INSERT INTO chats (channel_id, provider_chat_id, name, is_group)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE updated_at = CURRENT_TIMESTAMP
	`

	if _, err := r.db.ExecContext(ctx, insert, channelID, providerChatID, name, isGroup); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	chat, err = r.getByProviderID(ctx, channelID, providerChatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, fmt.Errorf("chat %s/%s missing after insert", channelID, providerChatID)
	}

	return chat, nil
}

func (r *ChatRepository) getByProviderID(ctx context.Context, channelID, providerChatID string) (*domain.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE channel_id = ? AND provider_chat_id = ?`

	var chat domain.Chat
	if err := r.db.GetContext(ctx, &chat, query, channelID, providerChatID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get chat by provider id: %w", err)
	}

	return &chat, nil
}

// TouchPreview updates the chat's last-message preview and bumps the unread
// counter for inbound traffic.
func (r *ChatRepository) TouchPreview(
	ctx context.Context,
	id int64,
	preview string,
	at time.Time,
	incrementUnread bool,
) error {
	query := `
		UPDATE chats
		SET last_preview = ?,
		    last_message_at = ?,
		    unread_count = unread_count + ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	inc := 0
	if incrementUnread {
		inc = 1
	}

	if _, err := r.db.ExecContext(ctx, query, preview, at, inc, id); err != nil {
		return fmt.Errorf("failed to update chat preview: %w", err)
	}

	return nil
}

// UpdateMeta applies a chat-update event (last write wins).
func (r *ChatRepository) UpdateMeta(ctx context.Context, channelID, providerChatID string, name *string, isGroup *bool) error {
	query := `
		UPDATE chats
		SET name = COALESCE(?, name),
		    is_group = COALESCE(?, is_group),
		    updated_at = CURRENT_TIMESTAMP
		WHERE channel_id = ? AND provider_chat_id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, name, isGroup, channelID, providerChatID); err != nil {
		return fmt.Errorf("failed to update chat meta: %w", err)
	}

	return nil
}

func (r *ChatRepository) SetBotPaused(ctx context.Context, id int64, paused bool) error {
	query := `UPDATE chats SET bot_paused = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	if _, err := r.db.ExecContext(ctx, query, paused, id); err != nil {
		return fmt.Errorf("failed to set chat bot pause: %w", err)
	}

	return nil
}
