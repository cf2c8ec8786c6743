package domain

import (
	"encoding/json"
	"time"
)

type OutboxStatus string

const (
	OutboxQueued  OutboxStatus = "queued"
	OutboxSending OutboxStatus = "sending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
	OutboxPaused  OutboxStatus = "paused"
)

// OutboxEntry is one queued send request. The payload is opaque to the
// queue itself and interpreted by the gateway client.
type OutboxEntry struct {
	ID                int64           `db:"id" json:"id"`
	ChannelID         string          `db:"channel_id" json:"channelId"`
	ChatID            int64           `db:"chat_id" json:"chatId"`
	MessageType       MessageType     `db:"message_type" json:"messageType"`
	Payload           json.RawMessage `db:"payload" json:"payload"`
	Status            OutboxStatus    `db:"status" json:"status"`
	Attempts          int             `db:"attempts" json:"attempts"`
	MaxAttempts       int             `db:"max_attempts" json:"maxAttempts"`
	NextAttemptAt     time.Time       `db:"next_attempt_at" json:"nextAttemptAt"`
	Priority          int             `db:"priority" json:"priority"`
	LastError         *string         `db:"last_error" json:"lastError,omitempty"`
	ProviderMessageID *string         `db:"provider_message_id" json:"providerMessageId,omitempty"`
	SentAt            *time.Time      `db:"sent_at" json:"sentAt,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updatedAt"`
}

// SendPayload is the interpreted form of OutboxEntry.Payload.
type SendPayload struct {
	To       string `json:"to"`
	Body     string `json:"body,omitempty"`
	MediaURL string `json:"mediaUrl,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Backoff returns the retry delay after the given attempt count
// (1, 2, 4, 8, ... minutes).
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(1<<(attempts-1)) * time.Minute
}

// SendResult reports the outcome of one dispatched outbox entry.
type SendResult struct {
	EntryID           int64  `json:"entryId"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	Success           bool   `json:"success"`
	Error             string `json:"error,omitempty"`
}

// BatchResult summarizes one worker run.
type BatchResult struct {
	Processed int          `json:"processed"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Results   []SendResult `json:"results"`
}

// HealthReport summarizes one channel health-check sweep.
type HealthReport struct {
	Checked int      `json:"checked"`
	Updated int      `json:"updated"`
	Errors  []string `json:"errors"`
}
