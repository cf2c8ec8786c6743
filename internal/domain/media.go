package domain

import "time"

type MediaJobStatus string

const (
	MediaPending    MediaJobStatus = "pending"
	MediaProcessing MediaJobStatus = "processing"
	MediaCompleted  MediaJobStatus = "completed"
	MediaFailed     MediaJobStatus = "failed"
)

// MediaFetchJob is one pending resolution of a message's remote media.
// Claimed with the same lock discipline as OutboxEntry.
type MediaFetchJob struct {
	ID                int64          `db:"id" json:"id"`
	MessageID         int64          `db:"message_id" json:"messageId"`
	ChannelID         string         `db:"channel_id" json:"channelId"`
	ProviderMediaID   *string        `db:"provider_media_id" json:"providerMediaId,omitempty"`
	ProviderMessageID *string        `db:"provider_message_id" json:"providerMessageId,omitempty"`
	MediaType         MessageType    `db:"media_type" json:"mediaType"`
	Status            MediaJobStatus `db:"status" json:"status"`
	Attempts          int            `db:"attempts" json:"attempts"`
	MaxAttempts       int            `db:"max_attempts" json:"maxAttempts"`
	NextAttemptAt     time.Time      `db:"next_attempt_at" json:"nextAttemptAt"`
	LastError         *string        `db:"last_error" json:"lastError,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updatedAt"`
}

// ResolvedMedia is the outcome of a successful media resolution strategy.
type ResolvedMedia struct {
	URL         string `json:"url"`
	StoragePath string `json:"storagePath,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
}
