package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/relaywire/messaging-relay/internal/domain"
)

//
// Test fakes – only for this file.
//

type fakeEventLog struct {
	nextID int64

	inserts   []insertedEvent
	processed []processedEvent
}

type insertedEvent struct {
	channelID string
	eventType string
}

type processedEvent struct {
	id  int64
	err error
}

func (l *fakeEventLog) Insert(ctx context.Context, channelID, eventType string, payload json.RawMessage) (int64, error) {
	l.nextID++
	l.inserts = append(l.inserts, insertedEvent{channelID: channelID, eventType: eventType})
	return l.nextID, nil
}

func (l *fakeEventLog) MarkProcessed(ctx context.Context, id int64, processedAt time.Time, processErr error) error {
	l.processed = append(l.processed, processedEvent{id: id, err: processErr})
	return nil
}

type fakeChatStore struct {
	chats map[string]*domain.Chat

	touchCalls []touchCall
	metaCalls  []metaCall
}

type touchCall struct {
	id              int64
	preview         string
	incrementUnread bool
}

type metaCall struct {
	providerChatID string
	name           *string
}

func (s *fakeChatStore) GetOrCreate(ctx context.Context, channelID, providerChatID, name string, isGroup bool) (*domain.Chat, error) {
	if s.chats == nil {
		s.chats = make(map[string]*domain.Chat)
	}
	if chat, ok := s.chats[providerChatID]; ok {
		return chat, nil
	}
	chat := &domain.Chat{
		ID:             int64(len(s.chats) + 1),
		ChannelID:      channelID,
		ProviderChatID: providerChatID,
		Name:           name,
		IsGroup:        isGroup,
	}
	s.chats[providerChatID] = chat
	return chat, nil
}

func (s *fakeChatStore) TouchPreview(ctx context.Context, id int64, preview string, at time.Time, incrementUnread bool) error {
	s.touchCalls = append(s.touchCalls, touchCall{id: id, preview: preview, incrementUnread: incrementUnread})
	return nil
}

func (s *fakeChatStore) UpdateMeta(ctx context.Context, channelID, providerChatID string, name *string, isGroup *bool) error {
	s.metaCalls = append(s.metaCalls, metaCall{providerChatID: providerChatID, name: name})
	return nil
}

type fakeInboundStore struct {
	// seen maps provider message ids already inserted.
	seen   map[string]bool
	nextID int64

	inserted      []*domain.Message
	bodyUpdates   []string
	statusUpdates []statusUpdate
	deletes       []string

	known map[string]bool
}

type statusUpdate struct {
	providerMessageID string
	status            domain.MessageStatus
}

func (s *fakeInboundStore) InsertInbound(ctx context.Context, msg *domain.Message) (int64, bool, error) {
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if msg.ProviderMessageID != nil && s.seen[*msg.ProviderMessageID] {
		return 0, false, nil
	}
	if msg.ProviderMessageID != nil {
		s.seen[*msg.ProviderMessageID] = true
	}
	s.nextID++
	s.inserted = append(s.inserted, msg)
	return s.nextID, true, nil
}

func (s *fakeInboundStore) UpdateBodyByProviderID(ctx context.Context, channelID, providerMessageID, body string) (bool, error) {
	s.bodyUpdates = append(s.bodyUpdates, body)
	return s.known[providerMessageID], nil
}

func (s *fakeInboundStore) UpdateStatusByProviderID(ctx context.Context, channelID, providerMessageID string, status domain.MessageStatus) (bool, error) {
	s.statusUpdates = append(s.statusUpdates, statusUpdate{providerMessageID: providerMessageID, status: status})
	return s.known[providerMessageID], nil
}

func (s *fakeInboundStore) MarkDeletedByProviderID(ctx context.Context, channelID, providerMessageID string) (bool, error) {
	s.deletes = append(s.deletes, providerMessageID)
	return s.known[providerMessageID], nil
}

type fakeMediaQueue struct {
	jobs []mediaJobCall
}

type mediaJobCall struct {
	messageID int64
	mediaType domain.MessageType
}

func (q *fakeMediaQueue) Enqueue(ctx context.Context, messageID int64, channelID string,
	providerMediaID, providerMessageID *string, mediaType domain.MessageType, maxAttempts int) (int64, error) {
	q.jobs = append(q.jobs, mediaJobCall{messageID: messageID, mediaType: mediaType})
	return int64(len(q.jobs)), nil
}

type fakeBotRouter struct {
	calls []string
	err   error
}

func (b *fakeBotRouter) MaybeRespond(ctx context.Context, channelID string, chat *domain.Chat, msg *domain.Message) (*domain.BotOutcome, error) {
	if msg.ProviderMessageID != nil {
		b.calls = append(b.calls, *msg.ProviderMessageID)
	}
	return &domain.BotOutcome{}, b.err
}

func webhookChannel() *domain.Channel {
	return &domain.Channel{
		ID:            "ch-1",
		Name:          "support line",
		Status:        domain.ChannelActive,
		WebhookSecret: "s3cret",
	}
}

func newTestWebhookService(
	channels *fakeChannelStore,
	events *fakeEventLog,
	chats *fakeChatStore,
	messages *fakeInboundStore,
	media *fakeMediaQueue,
	bot *fakeBotRouter,
) *WebhookService {
	svc := NewWebhookService(channels, events, chats, messages, media, bot, 3)
	svc.spawn = func(fn func()) { fn() } // run background work inline
	return svc
}

func textEventPayload(messageID, body string) []byte {
	payload, _ := json.Marshal(map[string]any{
		"event": "messages",
		"message": map[string]any{
			"id":        messageID,
			"chat_id":   "123@s.whatsapp.net",
			"from_me":   false,
			"type":      "text",
			"timestamp": 1700000000,
			"text":      map[string]any{"body": body},
		},
	})
	return payload
}

//
// Tests
//

func TestHandle_RejectsBadSecret(t *testing.T) {
	ctx := context.Background()

	channels := &fakeChannelStore{channels: map[string]*domain.Channel{"ch-1": webhookChannel()}}
	svc := newTestWebhookService(channels, &fakeEventLog{}, &fakeChatStore{}, &fakeInboundStore{}, &fakeMediaQueue{}, &fakeBotRouter{})

	_, err := svc.Handle(ctx, "ch-1", "wrong", textEventPayload("m1", "hi"))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestHandle_RejectsUnknownAndStoppedChannels(t *testing.T) {
	ctx := context.Background()

	stopped := webhookChannel()
	stopped.Status = domain.ChannelStopped

	channels := &fakeChannelStore{channels: map[string]*domain.Channel{"ch-1": stopped}}
	svc := newTestWebhookService(channels, &fakeEventLog{}, &fakeChatStore{}, &fakeInboundStore{}, &fakeMediaQueue{}, &fakeBotRouter{})

	if _, err := svc.Handle(ctx, "ch-1", "s3cret", textEventPayload("m1", "hi")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stopped channel: expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.Handle(ctx, "ghost", "s3cret", textEventPayload("m1", "hi")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown channel: expected ErrUnauthorized, got %v", err)
	}
}

func TestHandle_RejectsMalformedPayload(t *testing.T) {
	ctx := context.Background()

	channels := &fakeChannelStore{channels: map[string]*domain.Channel{"ch-1": webhookChannel()}}
	svc := newTestWebhookService(channels, &fakeEventLog{}, &fakeChatStore{}, &fakeInboundStore{}, &fakeMediaQueue{}, &fakeBotRouter{})

	for _, payload := range [][]byte{nil, []byte("{not json")} {
		if _, err := svc.Handle(ctx, "ch-1", "s3cret", payload); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("payload %q: expected ErrInvalidPayload, got %v", payload, err)
		}
	}
}

func TestHandle_NewTextMessageFlow(t *testing.T) {
	ctx := context.Background()

	channels := &fakeChannelStore{channels: map[string]*domain.Channel{"ch-1": webhookChannel()}}
	events := &fakeEventLog{}
	chats := &fakeChatStore{}
	messages := &fakeInboundStore{}
	media := &fakeMediaQueue{}
	bot := &fakeBotRouter{}

	svc := newTestWebhookService(channels, events, chats, messages, media, bot)

	result, err := svc.Handle(ctx, "ch-1", "s3cret", textEventPayload("m1", "hello there"))
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if result.Status != "accepted" || result.EventType != "messages" {
		t.Fatalf("unexpected result: %+v", result)
	}

	if len(messages.inserted) != 1 {
		t.Fatalf("expected one inserted message, got %d", len(messages.inserted))
	}
	msg := messages.inserted[0]
	if msg.Direction != domain.DirectionInbound || msg.Body != "hello there" {
		t.Errorf("unexpected message: %+v", msg)
	}

	if len(chats.touchCalls) != 1 {
		t.Fatalf("expected one preview update, got %d", len(chats.touchCalls))
	}
	if !chats.touchCalls[0].incrementUnread {
		t.Errorf("inbound contact message should increment unread")
	}

	if len(bot.calls) != 1 || bot.calls[0] != "m1" {
		t.Fatalf("expected bot routed once for m1, got %+v", bot.calls)
	}

	if len(media.jobs) != 0 {
		t.Fatalf("text message must not enqueue media jobs")
	}

	if len(events.processed) != 1 || events.processed[0].err != nil {
		t.Fatalf("expected event marked processed without error, got %+v", events.processed)
	}
}

func TestHandle_DuplicateDeliveryIsNoOp(t *testing.T) {
	ctx := context.Background()

	channels := &fakeChannelStore{channels: map[string]*domain.Channel{"ch-1": webhookChannel()}}
	events := &fakeEventLog{}
	chats := &fakeChatStore{}
	messages := &fakeInboundStore{}
	media := &fakeMediaQueue{}
	bot := &fakeBotRouter{}

	svc := newTestWebhookService(channels, events, chats, messages, media, bot)

	for i := 0; i < 2; i++ {
		if _, err := svc.Handle(ctx, "ch-1", "s3cret", textEventPayload("m1", "hello")); err != nil {
			t.Fatalf("delivery %d returned error: %v", i+1, err)
		}
	}

	// Both deliveries are audited, but every first-time side effect fires once.
	if len(events.inserts) != 2 {
		t.Fatalf("expected both deliveries logged, got %d", len(events.inserts))
	}
	if len(messages.inserted) != 1 {
		t.Fatalf("expected a single message row, got %d", len(messages.inserted))
	}
	if len(chats.touchCalls) != 1 {
		t.Fatalf("duplicate must not touch the preview again, got %d calls", len(chats.touchCalls))
	}
	if len(bot.calls) != 1 {
		t.Fatalf("duplicate must not reach the bot again, got %d calls", len(bot.calls))
	}
}

func TestHandle_MediaMessageEnqueuesFetchJob(t *testing.T) {
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]any{
		"event": "messages",
		"message": map[string]any{
			"id":      "m-img",
			"chat_id": "123@s.whatsapp.net",
			"type":    "image",
			"media": map[string]any{
				"id":        "media-9",
				"mime_type": "image/jpeg",
				"caption":   "look at this",
			},
		},
	})

	channels := &fakeChannelStore{channels: map[string]*domain.Channel{"ch-1": webhookChannel()}}
	messages := &fakeInboundStore{}
	media := &fakeMediaQueue{}
	bot := &fakeBotRouter{}

	svc := newTestWebhookService(channels, &fakeEventLog{}, &fakeChatStore{}, messages, media, bot)

	if _, err := svc.Handle(ctx, "ch-1", "s3cret", payload); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if len(media.jobs) != 1 || media.jobs[0].mediaType != domain.TypeImage {
		t.Fatalf("expected one image fetch job, got %+v", media.jobs)
	}
	if messages.inserted[0].Body != "look at this" {
		t.Errorf("caption should become the message body, got %q", messages.inserted[0].Body)
	}

	// Media messages are not routed to the bot.
	if len(bot.calls) != 0 {
		t.Fatalf("media message must not reach the bot, got %+v", bot.calls)
	}
}

func TestHandle_OwnMessagesSkipBot(t *testing.T) {
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]any{
		"event": "messages",
		"message": map[string]any{
			"id":      "m-own",
			"chat_id": "123@s.whatsapp.net",
			"from_me": true,
			"type":    "text",
			"text":    map[string]any{"body": "sent from phone"},
		},
	})

	channels := &fakeChannelStore{channels: map[string]*domain.Channel{"ch-1": webhookChannel()}}
	chats := &fakeChatStore{}
	bot := &fakeBotRouter{}

	svc := newTestWebhookService(channels, &fakeEventLog{}, chats, &fakeInboundStore{}, &fakeMediaQueue{}, bot)

	if _, err := svc.Handle(ctx, "ch-1", "s3cret", payload); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if len(bot.calls) != 0 {
		t.Fatalf("own message must not reach the bot")
	}
	if len(chats.touchCalls) != 1 || chats.touchCalls[0].incrementUnread {
		t.Fatalf("own message must not increment unread, got %+v", chats.touchCalls)
	}
}

func TestHandle_StatusUpdateForKnownMessage(t *testing.T) {
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]any{
		"event": "statuses",
		"status": map[string]any{
			"message_id": "m1",
			"status":     "delivered",
		},
	})

	channels := &fakeChannelStore{channels: map[string]*domain.Channel{"ch-1": webhookChannel()}}
	messages := &fakeInboundStore{known: map[string]bool{"m1": true}}
	events := &fakeEventLog{}

	svc := newTestWebhookService(channels, events, &fakeChatStore{}, messages, &fakeMediaQueue{}, &fakeBotRouter{})

	if _, err := svc.Handle(ctx, "ch-1", "s3cret", payload); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if len(messages.statusUpdates) != 1 {
		t.Fatalf("expected one status update, got %d", len(messages.statusUpdates))
	}
	if messages.statusUpdates[0].status != domain.StatusSent {
		t.Errorf("delivered should map to sent, got %s", messages.statusUpdates[0].status)
	}
}

func TestHandle_StatusForUnknownMessageIsNotAnError(t *testing.T) {
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]any{
		"event": "statuses",
		"status": map[string]any{
			"message_id": "never-seen",
			"status":     "read",
		},
	})

	channels := &fakeChannelStore{channels: map[string]*domain.Channel{"ch-1": webhookChannel()}}
	events := &fakeEventLog{}

	svc := newTestWebhookService(channels, events, &fakeChatStore{}, &fakeInboundStore{}, &fakeMediaQueue{}, &fakeBotRouter{})

	if _, err := svc.Handle(ctx, "ch-1", "s3cret", payload); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if len(events.processed) != 1 || events.processed[0].err != nil {
		t.Fatalf("unknown target must not fail processing, got %+v", events.processed)
	}
}

func TestHandle_UnrecognizedEventIsLoggedAndIgnored(t *testing.T) {
	ctx := context.Background()

	channels := &fakeChannelStore{channels: map[string]*domain.Channel{"ch-1": webhookChannel()}}
	events := &fakeEventLog{}

	svc := newTestWebhookService(channels, events, &fakeChatStore{}, &fakeInboundStore{}, &fakeMediaQueue{}, &fakeBotRouter{})

	result, err := svc.Handle(ctx, "ch-1", "s3cret", []byte(`{"event":"presences","data":{}}`))
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if result.EventType != "presences" {
		t.Errorf("expected event type echoed back, got %q", result.EventType)
	}
	if len(events.inserts) != 1 {
		t.Fatalf("unrecognized event must still be audited")
	}
	if len(events.processed) != 1 || events.processed[0].err != nil {
		t.Fatalf("unrecognized event must not fail, got %+v", events.processed)
	}
}

func TestHandle_BotFailureIsRecordedOnEvent(t *testing.T) {
	ctx := context.Background()

	channels := &fakeChannelStore{channels: map[string]*domain.Channel{"ch-1": webhookChannel()}}
	events := &fakeEventLog{}
	bot := &fakeBotRouter{err: errors.New("classifier unavailable")}

	svc := newTestWebhookService(channels, events, &fakeChatStore{}, &fakeInboundStore{}, &fakeMediaQueue{}, bot)

	// The delivery itself still succeeds; the failure is recorded on the
	// audit row for the operator.
	if _, err := svc.Handle(ctx, "ch-1", "s3cret", textEventPayload("m1", "hi")); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if len(events.processed) != 1 || events.processed[0].err == nil {
		t.Fatalf("expected processing error recorded, got %+v", events.processed)
	}
}
