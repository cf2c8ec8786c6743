package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaywire/messaging-relay/internal/domain"
)

type messageRepository interface {
	CreateOutboundPending(ctx context.Context, channelID string, chatID int64,
		msgType domain.MessageType, body string) (*domain.Message, error)
	GetAll(ctx context.Context, status *domain.MessageStatus, page, pageSize int) ([]domain.Message, int64, error)
	GetStats(ctx context.Context) (pending, sent, failed int64, err error)
}

type sendQueue interface {
	Enqueue(ctx context.Context, channelID string, chatID int64, msgType domain.MessageType,
		payload []byte, maxAttempts, priority int, delay time.Duration) (int64, error)
	ReplayFailed(ctx context.Context) (int64, error)
}

type chatResolver interface {
	GetByID(ctx context.Context, id int64) (*domain.Chat, error)
}

// MessageService is the send API surface: it creates the pending Message
// placeholder and its outbox entry. Actual delivery belongs to the
// dispatcher.
type MessageService struct {
	messages    messageRepository
	outbox      sendQueue
	chats       chatResolver
	maxAttempts int
}

func NewMessageService(
	messages messageRepository,
	outbox sendQueue,
	chats chatResolver,
	maxAttempts int,
) *MessageService {
	return &MessageService{
		messages:    messages,
		outbox:      outbox,
		chats:       chats,
		maxAttempts: maxAttempts,
	}
}

// EnqueueMessage validates the target chat, creates the pending outbound
// Message, and queues the send.
func (s *MessageService) EnqueueMessage(
	ctx context.Context,
	chatID int64,
	msgType domain.MessageType,
	payload domain.SendPayload,
	priority int,
) (*domain.Message, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, fmt.Errorf("chat %d not found", chatID)
	}

	if payload.To == "" {
		payload.To = chat.ProviderChatID
	}

	body := payload.Body
	if body == "" {
		body = payload.Caption
	}

	message, err := s.messages.CreateOutboundPending(ctx, chat.ChannelID, chat.ID, msgType, body)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	if _, err := s.outbox.Enqueue(ctx, chat.ChannelID, chat.ID, msgType, data, s.maxAttempts, priority, 0); err != nil {
		return nil, err
	}

	return message, nil
}

func (s *MessageService) GetAllMessages(
	ctx context.Context,
	status *domain.MessageStatus,
	page,
	pageSize int,
) ([]domain.Message, int64, error) {
	return s.messages.GetAll(ctx, status, page, pageSize)
}

func (s *MessageService) GetStats(ctx context.Context) (pending, sent, failed int64, err error) {
	return s.messages.GetStats(ctx)
}

func (s *MessageService) ReplayFailedEntries(ctx context.Context) (int64, error) {
	return s.outbox.ReplayFailed(ctx)
}
