package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/relaywire/messaging-relay/internal/domain"
	"github.com/relaywire/messaging-relay/pkg/logger"
)

var (
	// ErrUnauthorized covers a missing channel, a stopped channel, or a
	// secret mismatch. Deliberately indistinguishable to the caller.
	ErrUnauthorized = errors.New("webhook authorization failed")

	// ErrInvalidPayload is a structurally invalid event body.
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

type webhookEventLog interface {
	Insert(ctx context.Context, channelID, eventType string, payload json.RawMessage) (int64, error)
	MarkProcessed(ctx context.Context, id int64, processedAt time.Time, processErr error) error
}

type webhookChatStore interface {
	GetOrCreate(ctx context.Context, channelID, providerChatID, name string, isGroup bool) (*domain.Chat, error)
	TouchPreview(ctx context.Context, id int64, preview string, at time.Time, incrementUnread bool) error
	UpdateMeta(ctx context.Context, channelID, providerChatID string, name *string, isGroup *bool) error
}

type webhookMessageStore interface {
	InsertInbound(ctx context.Context, msg *domain.Message) (int64, bool, error)
	UpdateBodyByProviderID(ctx context.Context, channelID, providerMessageID, body string) (bool, error)
	UpdateStatusByProviderID(ctx context.Context, channelID, providerMessageID string, status domain.MessageStatus) (bool, error)
	MarkDeletedByProviderID(ctx context.Context, channelID, providerMessageID string) (bool, error)
}

type mediaEnqueuer interface {
	Enqueue(ctx context.Context, messageID int64, channelID string,
		providerMediaID, providerMessageID *string, mediaType domain.MessageType, maxAttempts int) (int64, error)
}

type botRouter interface {
	MaybeRespond(ctx context.Context, channelID string, chat *domain.Chat, msg *domain.Message) (*domain.BotOutcome, error)
}

// HandleResult is returned to the provider once the event is authenticated
// and logged; processing continues in the background.
type HandleResult struct {
	Status    string `json:"status"`
	ChannelID string `json:"channel_id"`
	EventType string `json:"event_type"`
}

// WebhookService authenticates, logs, and routes inbound provider events.
type WebhookService struct {
	channels channelReader
	events   webhookEventLog
	chats    webhookChatStore
	messages webhookMessageStore
	media    mediaEnqueuer
	bot      botRouter

	mediaMaxAttempts int

	// spawn runs background processing; replaced in tests to run inline.
	spawn func(fn func())
}

func NewWebhookService(
	channels channelReader,
	events webhookEventLog,
	chats webhookChatStore,
	messages webhookMessageStore,
	media mediaEnqueuer,
	bot botRouter,
	mediaMaxAttempts int,
) *WebhookService {
	return &WebhookService{
		channels:         channels,
		events:           events,
		chats:            chats,
		messages:         messages,
		media:            media,
		bot:              bot,
		mediaMaxAttempts: mediaMaxAttempts,
		spawn:            func(fn func()) { go fn() },
	}
}

// Authenticate resolves the channel and verifies the shared secret. Used
// by both the event handler and the health probe.
func (s *WebhookService) Authenticate(ctx context.Context, channelID, providedSecret string) (*domain.Channel, error) {
	channel, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up channel: %w", err)
	}

	if channel == nil || channel.Status == domain.ChannelStopped {
		return nil, ErrUnauthorized
	}

	if subtle.ConstantTimeCompare([]byte(providedSecret), []byte(channel.WebhookSecret)) != 1 {
		return nil, ErrUnauthorized
	}

	return channel, nil
}

// Handle accepts one inbound delivery. The event is audited synchronously;
// side effects run in the background so the provider's delivery never
// waits on them.
func (s *WebhookService) Handle(ctx context.Context, channelID, providedSecret string, rawPayload []byte) (*HandleResult, error) {
	channel, err := s.Authenticate(ctx, channelID, providedSecret)
	if err != nil {
		return nil, err
	}

	var envelope domain.EventEnvelope
	if len(rawPayload) == 0 || json.Unmarshal(rawPayload, &envelope) != nil {
		return nil, ErrInvalidPayload
	}

	eventType := envelope.EventType()

	eventID, err := s.events.Insert(ctx, channel.ID, eventType, rawPayload)
	if err != nil {
		// Audit failure never blocks ingestion; it is operator-visible only.
		logger.Errorf("Failed to log webhook event for channel %s: %v", channel.ID, err)
		eventID = 0
	}

	s.spawn(func() {
		// Detached from the request context: the HTTP response has already
		// been promised by the time this runs.
		bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		processErr := s.process(bgCtx, channel, eventType, &envelope)

		if eventID != 0 {
			if err := s.events.MarkProcessed(bgCtx, eventID, time.Now(), processErr); err != nil {
				logger.Errorf("Failed to record webhook outcome for event %d: %v", eventID, err)
			}
		}

		if processErr != nil {
			logger.Errorf("Webhook event %d (%s) processing failed: %v", eventID, eventType, processErr)
		}
	})

	return &HandleResult{
		Status:    "accepted",
		ChannelID: channel.ID,
		EventType: eventType,
	}, nil
}

func (s *WebhookService) process(ctx context.Context, channel *domain.Channel, eventType string, envelope *domain.EventEnvelope) error {
	switch eventType {
	case domain.EventMessages:
		return s.processNewMessage(ctx, channel, envelope)
	case domain.EventMessageEdit:
		return s.processEdit(ctx, channel, envelope)
	case domain.EventMessageDelete:
		return s.processDelete(ctx, channel, envelope)
	case domain.EventStatuses:
		return s.processStatus(ctx, channel, envelope)
	case domain.EventChats:
		return s.processChatUpdate(ctx, channel, envelope)
	default:
		logger.Infof("Ignoring unrecognized webhook event type %q for channel %s", eventType, channel.ID)
		return nil
	}
}

func (s *WebhookService) processNewMessage(ctx context.Context, channel *domain.Channel, envelope *domain.EventEnvelope) error {
	m := envelope.Message
	if m == nil || m.ID == "" || m.ChatID == "" {
		return fmt.Errorf("message event missing message body")
	}

	chat, err := s.chats.GetOrCreate(ctx, channel.ID, m.ChatID, m.ChatName, m.IsGroup)
	if err != nil {
		return err
	}

	msg := buildInboundMessage(channel.ID, chat.ID, m)

	id, inserted, err := s.messages.InsertInbound(ctx, msg)
	if err != nil {
		return err
	}

	// Duplicate delivery of the same provider message id: the row already
	// exists and every first-time side effect must stay suppressed.
	if !inserted {
		logger.Debugf("Duplicate delivery of message %s on channel %s", m.ID, channel.ID)
		return nil
	}
	msg.ID = id

	at := time.Unix(m.Timestamp, 0)
	if m.Timestamp == 0 {
		at = time.Now()
	}

	if err := s.chats.TouchPreview(ctx, chat.ID, preview(msg), at, !m.FromMe); err != nil {
		logger.Warnf("Failed to update chat preview for chat %d: %v", chat.ID, err)
	}

	if m.Media != nil && msg.Type != domain.TypeText {
		var mediaID, messageID *string
		if m.Media.ID != "" {
			mediaID = &m.Media.ID
		}
		if m.ID != "" {
			v := m.ID
			messageID = &v
		}
		if _, err := s.media.Enqueue(ctx, id, channel.ID, mediaID, messageID, msg.Type, s.mediaMaxAttempts); err != nil {
			logger.Warnf("Failed to enqueue media job for message %d: %v", id, err)
		}
	}

	if msg.Type == domain.TypeText && !m.FromMe {
		if _, err := s.bot.MaybeRespond(ctx, channel.ID, chat, msg); err != nil {
			return fmt.Errorf("bot routing failed: %w", err)
		}
	}

	return nil
}

func (s *WebhookService) processEdit(ctx context.Context, channel *domain.Channel, envelope *domain.EventEnvelope) error {
	m := envelope.Message
	if m == nil || m.ID == "" {
		return fmt.Errorf("edit event missing message body")
	}

	body := ""
	if m.Text != nil {
		body = m.Text.Body
	}

	found, err := s.messages.UpdateBodyByProviderID(ctx, channel.ID, m.ID, body)
	if err != nil {
		return err
	}
	if !found {
		logger.Warnf("Edit for unknown message %s on channel %s", m.ID, channel.ID)
	}

	return nil
}

func (s *WebhookService) processDelete(ctx context.Context, channel *domain.Channel, envelope *domain.EventEnvelope) error {
	m := envelope.Message
	if m == nil || m.ID == "" {
		return fmt.Errorf("delete event missing message body")
	}

	found, err := s.messages.MarkDeletedByProviderID(ctx, channel.ID, m.ID)
	if err != nil {
		return err
	}
	if !found {
		logger.Warnf("Delete for unknown message %s on channel %s", m.ID, channel.ID)
	}

	return nil
}

func (s *WebhookService) processStatus(ctx context.Context, channel *domain.Channel, envelope *domain.EventEnvelope) error {
	st := envelope.Status
	if st == nil || st.MessageID == "" {
		return fmt.Errorf("status event missing status body")
	}

	status := mapProviderStatus(st.Status)

	found, err := s.messages.UpdateStatusByProviderID(ctx, channel.ID, st.MessageID, status)
	if err != nil {
		return err
	}
	if !found {
		// Not fatal: status updates can outlive or precede our copy.
		logger.Warnf("Status update for unknown message %s on channel %s", st.MessageID, channel.ID)
	}

	return nil
}

func (s *WebhookService) processChatUpdate(ctx context.Context, channel *domain.Channel, envelope *domain.EventEnvelope) error {
	c := envelope.Chat
	if c == nil || c.ID == "" {
		return fmt.Errorf("chat event missing chat body")
	}

	var name *string
	if c.Name != "" {
		name = &c.Name
	}

	return s.chats.UpdateMeta(ctx, channel.ID, c.ID, name, c.IsGroup)
}

func buildInboundMessage(channelID string, chatID int64, m *domain.EventMessage) *domain.Message {
	msg := &domain.Message{
		ChannelID:         channelID,
		ChatID:            chatID,
		ProviderMessageID: &m.ID,
		Direction:         domain.DirectionInbound,
		Type:              mapMessageType(m.Type),
		Status:            domain.StatusSent,
		ViewOnce:          m.ViewOnce,
	}

	if m.Text != nil {
		msg.Body = m.Text.Body
	}

	if m.Media != nil {
		if msg.Body == "" {
			msg.Body = m.Media.Caption
		}
		if m.Media.URL != "" {
			url := m.Media.URL
			msg.MediaURL = &url
		}
		if meta, err := json.Marshal(m.Media); err == nil {
			msg.MediaMeta = meta
		}
	}

	if m.Timestamp > 0 {
		at := time.Unix(m.Timestamp, 0)
		msg.SentAt = &at
	}

	return msg
}

func mapMessageType(t string) domain.MessageType {
	switch domain.MessageType(t) {
	case domain.TypeImage, domain.TypeVideo, domain.TypeAudio, domain.TypeDocument:
		return domain.MessageType(t)
	default:
		return domain.TypeText
	}
}

func mapProviderStatus(s string) domain.MessageStatus {
	switch s {
	case "failed":
		return domain.StatusFailed
	case "pending":
		return domain.StatusPending
	default:
		// sent, delivered, read all resolve to sent.
		return domain.StatusSent
	}
}

func preview(msg *domain.Message) string {
	if msg.Body != "" {
		body := msg.Body
		if len(body) > 120 {
			body = body[:120]
		}
		return body
	}
	return "[" + string(msg.Type) + "]"
}
