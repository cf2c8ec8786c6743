package domain

import "time"

type BotMode string

const (
	BotOff      BotMode = "off"
	BotWatching BotMode = "watching"
	BotSemi     BotMode = "semi"
	BotFull     BotMode = "full"
)

type BotAction string

const (
	ActionReply    BotAction = "REPLY"
	ActionEscalate BotAction = "ESCALATE"
	ActionIgnore   BotAction = "IGNORE"
	ActionWait     BotAction = "WAIT"
)

// BotConfig is the per-channel auto-reply configuration, one-to-one with
// Channel and read-only to the router.
type BotConfig struct {
	ChannelID           string  `db:"channel_id" json:"channelId"`
	Mode                BotMode `db:"mode" json:"mode"`
	ServiceURL          string  `db:"service_url" json:"serviceUrl"`
	APIKeyEnc           string  `db:"api_key_enc" json:"-"`
	ProviderID          string  `db:"provider_id" json:"providerId"`
	WindowStart         *string `db:"window_start" json:"windowStart,omitempty"` // "HH:MM"
	WindowEnd           *string `db:"window_end" json:"windowEnd,omitempty"`     // "HH:MM"
	Timezone            string  `db:"timezone" json:"timezone"`
	AutoPauseOnEscalate bool    `db:"auto_pause_on_escalate" json:"autoPauseOnEscalate"`
	ReplyDelayMs        int     `db:"reply_delay_ms" json:"replyDelayMs"`
}

type BotMarkerStatus string

const (
	MarkerProcessing BotMarkerStatus = "processing"
	MarkerCompleted  BotMarkerStatus = "completed"
)

// BotProcessedMessage is the idempotency marker keyed on
// (channel_id, provider_message_id). A processing marker expires after a
// short TTL so stuck messages can be retried.
type BotProcessedMessage struct {
	ChannelID         string          `db:"channel_id" json:"channelId"`
	ProviderMessageID string          `db:"provider_message_id" json:"providerMessageId"`
	Status            BotMarkerStatus `db:"status" json:"status"`
	ExpiresAt         time.Time       `db:"expires_at" json:"expiresAt"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
}

// BotLearningEntry records every routed interaction for later analysis,
// in every non-off mode including watching.
type BotLearningEntry struct {
	ID                int64     `db:"id" json:"id"`
	ChannelID         string    `db:"channel_id" json:"channelId"`
	ChatID            int64     `db:"chat_id" json:"chatId"`
	ProviderMessageID string    `db:"provider_message_id" json:"providerMessageId"`
	InboundText       string    `db:"inbound_text" json:"inboundText"`
	Intent            *string   `db:"intent" json:"intent,omitempty"`
	Confidence        *float64  `db:"confidence" json:"confidence,omitempty"`
	Action            BotAction `db:"action" json:"action"`
	ReplyText         *string   `db:"reply_text" json:"replyText,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
}

// BotDecision is the external reply service's classification of one
// inbound message.
type BotDecision struct {
	Action         BotAction `json:"action"`
	ReplyText      string    `json:"reply_text,omitempty"`
	Intent         string    `json:"intent,omitempty"`
	Confidence     float64   `json:"confidence,omitempty"`
	ReplyDelayMs   int       `json:"reply_delay_ms,omitempty"`
	EscalateReason string    `json:"escalate_reason,omitempty"`
}

// ReplyDraft is a chat-scoped suggested reply awaiting human approval
// (semi mode), kept with a 24h expiry.
type ReplyDraft struct {
	ChannelID string    `json:"channelId"`
	ChatID    int64     `json:"chatId"`
	ReplyText string    `json:"replyText"`
	Intent    string    `json:"intent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// BotOutcome reports what the router did with one inbound message.
type BotOutcome struct {
	Handled bool      `json:"handled"`
	Action  BotAction `json:"action,omitempty"`
}
