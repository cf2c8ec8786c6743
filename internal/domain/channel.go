package domain

import (
	"encoding/json"
	"time"
)

type ChannelStatus string

const (
	ChannelInitializing ChannelStatus = "initializing"
	ChannelPendingQR    ChannelStatus = "pending_qr"
	ChannelActive       ChannelStatus = "active"
	ChannelDegraded     ChannelStatus = "degraded"
	ChannelNeedsReauth  ChannelStatus = "needs_reauth"
	ChannelSyncError    ChannelStatus = "sync_error"
	ChannelStopped      ChannelStatus = "stopped"
	ChannelDisconnected ChannelStatus = "disconnected"
)

// Channel is one connected provider account. The API token is stored
// encrypted and only decrypted transiently at send/probe time.
type Channel struct {
	ID            string          `db:"id" json:"id"`
	WorkspaceID   string          `db:"workspace_id" json:"workspaceId"`
	Name          string          `db:"name" json:"name"`
	Status        ChannelStatus   `db:"status" json:"status"`
	HealthStatus  json.RawMessage `db:"health_status" json:"healthStatus,omitempty"`
	APITokenEnc   string          `db:"api_token_enc" json:"-"`
	WebhookSecret string          `db:"webhook_secret" json:"-"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

// HealthSnapshot is the free-form diagnostic payload stored in
// Channel.HealthStatus.
type HealthSnapshot struct {
	Status      ChannelStatus `json:"status"`
	Detail      string        `json:"detail,omitempty"`
	PauseReason string        `json:"pauseReason,omitempty"`
	PausedAt    *time.Time    `json:"pausedAt,omitempty"`
	CheckedAt   time.Time     `json:"checkedAt"`
}

type Chat struct {
	ID             int64      `db:"id" json:"id"`
	ChannelID      string     `db:"channel_id" json:"channelId"`
	ProviderChatID string     `db:"provider_chat_id" json:"providerChatId"`
	IsGroup        bool       `db:"is_group" json:"isGroup"`
	Name           string     `db:"name" json:"name"`
	LastPreview    string     `db:"last_preview" json:"lastPreview"`
	LastMessageAt  *time.Time `db:"last_message_at" json:"lastMessageAt,omitempty"`
	UnreadCount    int        `db:"unread_count" json:"unreadCount"`
	BotPaused      bool       `db:"bot_paused" json:"botPaused"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}
