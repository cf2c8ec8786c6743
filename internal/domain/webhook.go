package domain

import (
	"encoding/json"
	"time"
)

// WebhookEvent is the append-only audit record of one inbound delivery.
// Only processed_at and error are ever filled in after insert.
type WebhookEvent struct {
	ID          int64           `db:"id" json:"id"`
	ChannelID   string          `db:"channel_id" json:"channelId"`
	EventType   string          `db:"event_type" json:"eventType"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	ReceivedAt  time.Time       `db:"received_at" json:"receivedAt"`
	ProcessedAt *time.Time      `db:"processed_at" json:"processedAt,omitempty"`
	Error       *string         `db:"error" json:"error,omitempty"`
}

// Provider event types we route on. Anything else is logged and ignored.
const (
	EventMessages      = "messages"
	EventMessageEdit   = "message_edit"
	EventMessageDelete = "message_delete"
	EventStatuses      = "statuses"
	EventChats         = "chats"
)

// EventEnvelope is the provider's webhook body. Either "event" or "type"
// names the event; the rest is event-specific.
type EventEnvelope struct {
	Event string `json:"event,omitempty"`
	Type  string `json:"type,omitempty"`

	Message *EventMessage `json:"message,omitempty"`
	Status  *EventStatus  `json:"status,omitempty"`
	Chat    *EventChat    `json:"chat,omitempty"`
}

// EventType returns the declared event name, defaulting to "unknown".
func (e *EventEnvelope) EventType() string {
	if e.Event != "" {
		return e.Event
	}
	if e.Type != "" {
		return e.Type
	}
	return "unknown"
}

type EventMessage struct {
	ID        string     `json:"id"`
	ChatID    string     `json:"chat_id"`
	FromMe    bool       `json:"from_me"`
	Type      string     `json:"type"`
	Timestamp int64      `json:"timestamp"`
	Text      *EventText `json:"text,omitempty"`
	Media     *EventMedia `json:"media,omitempty"`
	ViewOnce  bool       `json:"view_once"`
	ChatName  string     `json:"chat_name,omitempty"`
	IsGroup   bool       `json:"is_group,omitempty"`
}

type EventText struct {
	Body string `json:"body"`
}

type EventMedia struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type EventStatus struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type EventChat struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	IsGroup  *bool  `json:"is_group,omitempty"`
	Archived *bool  `json:"archived,omitempty"`
}
