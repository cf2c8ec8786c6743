package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/relaywire/messaging-relay/internal/domain"
	"github.com/relaywire/messaging-relay/internal/service"
)

// Minimal stubs so a real WebhookService can back the handler. Only the
// synchronous path (auth, audit, response) is exercised here; pipeline
// behavior is covered by the service tests.

type stubChannels struct {
	channel *domain.Channel
}

func (s *stubChannels) GetByID(ctx context.Context, id string) (*domain.Channel, error) {
	if s.channel != nil && s.channel.ID == id {
		return s.channel, nil
	}
	return nil, nil
}

func (s *stubChannels) UpdateStatus(ctx context.Context, id string, status domain.ChannelStatus, snapshot domain.HealthSnapshot) error {
	return nil
}

type stubEventLog struct{}

func (stubEventLog) Insert(ctx context.Context, channelID, eventType string, payload json.RawMessage) (int64, error) {
	return 1, nil
}

func (stubEventLog) MarkProcessed(ctx context.Context, id int64, processedAt time.Time, processErr error) error {
	return nil
}

type stubChats struct{}

func (stubChats) GetOrCreate(ctx context.Context, channelID, providerChatID, name string, isGroup bool) (*domain.Chat, error) {
	return &domain.Chat{ID: 1, ChannelID: channelID, ProviderChatID: providerChatID}, nil
}

func (stubChats) TouchPreview(ctx context.Context, id int64, preview string, at time.Time, incrementUnread bool) error {
	return nil
}

func (stubChats) UpdateMeta(ctx context.Context, channelID, providerChatID string, name *string, isGroup *bool) error {
	return nil
}

type stubMessages struct{}

func (stubMessages) InsertInbound(ctx context.Context, msg *domain.Message) (int64, bool, error) {
	return 1, true, nil
}

func (stubMessages) UpdateBodyByProviderID(ctx context.Context, channelID, providerMessageID, body string) (bool, error) {
	return true, nil
}

func (stubMessages) UpdateStatusByProviderID(ctx context.Context, channelID, providerMessageID string, status domain.MessageStatus) (bool, error) {
	return true, nil
}

func (stubMessages) MarkDeletedByProviderID(ctx context.Context, channelID, providerMessageID string) (bool, error) {
	return true, nil
}

type stubMediaQueue struct{}

func (stubMediaQueue) Enqueue(ctx context.Context, messageID int64, channelID string,
	providerMediaID, providerMessageID *string, mediaType domain.MessageType, maxAttempts int) (int64, error) {
	return 1, nil
}

type stubBot struct{}

func (stubBot) MaybeRespond(ctx context.Context, channelID string, chat *domain.Chat, msg *domain.Message) (*domain.BotOutcome, error) {
	return &domain.BotOutcome{}, nil
}

func newWebhookHandlerFixture() *WebhookHandler {
	channels := &stubChannels{channel: &domain.Channel{
		ID:            "ch-1",
		Name:          "support line",
		Status:        domain.ChannelActive,
		WebhookSecret: "s3cret",
	}}

	svc := service.NewWebhookService(channels, stubEventLog{}, stubChats{}, stubMessages{}, stubMediaQueue{}, stubBot{}, 3)
	return NewWebhookHandler(svc)
}

func webhookRequest(t *testing.T, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	c := e.NewContext(req, rec)
	c.SetParamNames("channelId")
	c.SetParamValues("ch-1")
	return c, rec
}

func TestReceive_ValidSecretAccepted(t *testing.T) {
	handler := newWebhookHandlerFixture()

	body := `{"event":"messages","message":{"id":"m1","chat_id":"123@s.whatsapp.net","type":"text","text":{"body":"hi"}}}`
	c, rec := webhookRequest(t, "/webhooks/ch-1?secret=s3cret", body)

	if err := handler.Receive(c); err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var result service.HandleResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response body: %v", err)
	}
	if result.Status != "accepted" || result.ChannelID != "ch-1" || result.EventType != "messages" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestReceive_SecretViaHeader(t *testing.T) {
	handler := newWebhookHandlerFixture()

	body := `{"event":"messages","message":{"id":"m1","chat_id":"123@s.whatsapp.net","type":"text","text":{"body":"hi"}}}`
	c, rec := webhookRequest(t, "/webhooks/ch-1", body)
	c.Request().Header.Set(SecretHeader, "s3cret")

	if err := handler.Receive(c); err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestReceive_BadSecretReturns401(t *testing.T) {
	handler := newWebhookHandlerFixture()

	c, rec := webhookRequest(t, "/webhooks/ch-1?secret=wrong", `{"event":"messages"}`)

	if err := handler.Receive(c); err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestReceive_MalformedBodyReturns400(t *testing.T) {
	handler := newWebhookHandlerFixture()

	c, rec := webhookRequest(t, "/webhooks/ch-1?secret=s3cret", `{not json`)

	if err := handler.Receive(c); err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestProbe_ReturnsChannelIdentity(t *testing.T) {
	handler := newWebhookHandlerFixture()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/webhooks/ch-1?secret=s3cret", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("channelId")
	c.SetParamValues("ch-1")

	if err := handler.Probe(c); err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response body: %v", err)
	}
	if body["channel_id"] != "ch-1" || body["name"] != "support line" {
		t.Fatalf("unexpected body: %+v", body)
	}
}
