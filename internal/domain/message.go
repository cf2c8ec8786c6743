package domain

import (
	"encoding/json"
	"time"
)

type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
)

// Message is one inbound or outbound message instance. The
// (channel_id, provider_message_id) pair is the sole dedup key for inbound
// deliveries; the provider's webhook event id is deliberately not used
// because the same message can arrive under different event ids.
type Message struct {
	ID                int64            `db:"id" json:"id"`
	ChannelID         string           `db:"channel_id" json:"channelId"`
	ChatID            int64            `db:"chat_id" json:"chatId"`
	ProviderMessageID *string          `db:"provider_message_id" json:"providerMessageId,omitempty"`
	Direction         MessageDirection `db:"direction" json:"direction"`
	Type              MessageType      `db:"type" json:"type"`
	Body              string           `db:"body" json:"body"`
	MediaURL          *string          `db:"media_url" json:"mediaUrl,omitempty"`
	MediaPath         *string          `db:"media_path" json:"mediaPath,omitempty"`
	MediaMeta         json.RawMessage  `db:"media_meta" json:"mediaMeta,omitempty"`
	Status            MessageStatus    `db:"status" json:"status"`
	ViewOnce          bool             `db:"view_once" json:"viewOnce"`
	SentAt            *time.Time       `db:"sent_at" json:"sentAt,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updatedAt"`
}
