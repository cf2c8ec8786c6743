package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/relaywire/messaging-relay/internal/domain"
)

//
// Test fakes – only for this file.
//

type fakeMessageAPIStore struct {
	created []createdOutbound
}

type createdOutbound struct {
	channelID string
	chatID    int64
	body      string
}

func (s *fakeMessageAPIStore) CreateOutboundPending(ctx context.Context, channelID string, chatID int64,
	msgType domain.MessageType, body string) (*domain.Message, error) {
	s.created = append(s.created, createdOutbound{channelID: channelID, chatID: chatID, body: body})
	return &domain.Message{ID: int64(len(s.created)), ChannelID: channelID, ChatID: chatID, Body: body, Status: domain.StatusPending}, nil
}

func (s *fakeMessageAPIStore) GetAll(ctx context.Context, status *domain.MessageStatus, page, pageSize int) ([]domain.Message, int64, error) {
	return nil, 0, nil
}

func (s *fakeMessageAPIStore) GetStats(ctx context.Context) (pending, sent, failed int64, err error) {
	return 1, 2, 3, nil
}

type fakeSendQueue struct {
	enqueued      []queuedSend
	replayCalls   int
	replayedCount int64
}

type queuedSend struct {
	channelID   string
	chatID      int64
	payload     []byte
	maxAttempts int
	priority    int
}

func (q *fakeSendQueue) Enqueue(ctx context.Context, channelID string, chatID int64, msgType domain.MessageType,
	payload []byte, maxAttempts, priority int, delay time.Duration) (int64, error) {
	q.enqueued = append(q.enqueued, queuedSend{
		channelID:   channelID,
		chatID:      chatID,
		payload:     payload,
		maxAttempts: maxAttempts,
		priority:    priority,
	})
	return int64(len(q.enqueued)), nil
}

func (q *fakeSendQueue) ReplayFailed(ctx context.Context) (int64, error) {
	q.replayCalls++
	return q.replayedCount, nil
}

type fakeChatLookup struct {
	chat *domain.Chat
}

func (s *fakeChatLookup) GetByID(ctx context.Context, id int64) (*domain.Chat, error) {
	return s.chat, nil
}

//
// Tests
//

func TestEnqueueMessage_CreatesPendingAndQueues(t *testing.T) {
	ctx := context.Background()

	messages := &fakeMessageAPIStore{}
	outbox := &fakeSendQueue{}
	chats := &fakeChatLookup{chat: &domain.Chat{ID: 10, ChannelID: "ch-1", ProviderChatID: "123@s.whatsapp.net"}}

	svc := NewMessageService(messages, outbox, chats, 5)

	msg, err := svc.EnqueueMessage(ctx, 10, domain.TypeText, domain.SendPayload{Body: "hello"}, 2)
	if err != nil {
		t.Fatalf("EnqueueMessage returned error: %v", err)
	}

	if msg.Status != domain.StatusPending {
		t.Errorf("expected pending message, got %s", msg.Status)
	}

	if len(outbox.enqueued) != 1 {
		t.Fatalf("expected one queued send, got %d", len(outbox.enqueued))
	}
	q := outbox.enqueued[0]
	if q.channelID != "ch-1" || q.chatID != 10 || q.maxAttempts != 5 || q.priority != 2 {
		t.Errorf("unexpected queue call: %+v", q)
	}

	// The recipient defaults to the chat's provider id.
	var payload domain.SendPayload
	if err := json.Unmarshal(q.payload, &payload); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if payload.To != "123@s.whatsapp.net" {
		t.Errorf("expected recipient filled from chat, got %q", payload.To)
	}
}

func TestEnqueueMessage_UnknownChatFails(t *testing.T) {
	ctx := context.Background()

	svc := NewMessageService(&fakeMessageAPIStore{}, &fakeSendQueue{}, &fakeChatLookup{}, 5)

	if _, err := svc.EnqueueMessage(ctx, 99, domain.TypeText, domain.SendPayload{Body: "hi"}, 0); err == nil {
		t.Fatalf("expected error for unknown chat")
	}
}

func TestReplayFailedEntries(t *testing.T) {
	ctx := context.Background()

	outbox := &fakeSendQueue{replayedCount: 4}
	svc := NewMessageService(&fakeMessageAPIStore{}, outbox, &fakeChatLookup{}, 5)

	count, err := svc.ReplayFailedEntries(ctx)
	if err != nil {
		t.Fatalf("ReplayFailedEntries returned error: %v", err)
	}
	if count != 4 || outbox.replayCalls != 1 {
		t.Fatalf("expected 4 replayed via one call, got count=%d calls=%d", count, outbox.replayCalls)
	}
}
