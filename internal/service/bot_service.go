package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaywire/messaging-relay/internal/domain"
	"github.com/relaywire/messaging-relay/pkg/botapi"
	"github.com/relaywire/messaging-relay/pkg/logger"
)

type botRepository interface {
	GetConfig(ctx context.Context, channelID string) (*domain.BotConfig, error)
	TryMarkProcessing(ctx context.Context, channelID, providerMessageID string, ttl time.Duration) (bool, error)
	MarkCompleted(ctx context.Context, channelID, providerMessageID string) error
	RemoveMarker(ctx context.Context, channelID, providerMessageID string) error
	InsertLearning(ctx context.Context, entry domain.BotLearningEntry) error
}

type botChatStore interface {
	GetByID(ctx context.Context, id int64) (*domain.Chat, error)
	SetBotPaused(ctx context.Context, id int64, paused bool) error
}

// DraftStore holds unapproved reply drafts for semi mode. A nil store
// disables drafts.
type DraftStore interface {
	UpsertDraft(ctx context.Context, draft domain.ReplyDraft) error
}

type replyClassifier interface {
	Classify(ctx context.Context, serviceURL, apiKey string, req botapi.ClassifyRequest) (*domain.BotDecision, error)
}

type replyEnqueuer interface {
	Enqueue(ctx context.Context, channelID string, chatID int64, msgType domain.MessageType,
		payload []byte, maxAttempts, priority int, delay time.Duration) (int64, error)
}

type outboundMessageCreator interface {
	CreateOutboundPending(ctx context.Context, channelID string, chatID int64,
		msgType domain.MessageType, body string) (*domain.Message, error)
}

// BotService decides whether and how to auto-respond to an inbound text
// message. Invoked synchronously from the webhook pipeline.
type BotService struct {
	bots     botRepository
	chats    botChatStore
	drafts   DraftStore // nil disables semi-mode drafts
	replies  replyClassifier
	outbox   replyEnqueuer
	messages outboundMessageCreator
	cipher   tokenCipher

	callTimeout time.Duration
	markerTTL   time.Duration
	maxAttempts int

	now func() time.Time
}

func NewBotService(
	bots botRepository,
	chats botChatStore,
	drafts DraftStore,
	replies replyClassifier,
	outbox replyEnqueuer,
	messages outboundMessageCreator,
	cipher tokenCipher,
	callTimeout, markerTTL time.Duration,
	maxAttempts int,
) *BotService {
	return &BotService{
		bots:        bots,
		chats:       chats,
		drafts:      drafts,
		replies:     replies,
		outbox:      outbox,
		messages:    messages,
		cipher:      cipher,
		callTimeout: callTimeout,
		markerTTL:   markerTTL,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// MaybeRespond routes one persisted inbound text message. Errors after the
// idempotency marker is taken remove the marker so the next delivery can
// retry; the error is surfaced but never thrown further up the webhook
// pipeline.
func (s *BotService) MaybeRespond(
	ctx context.Context,
	channelID string,
	chat *domain.Chat,
	msg *domain.Message,
) (*domain.BotOutcome, error) {
	outcome := &domain.BotOutcome{}

	if msg.ProviderMessageID == nil || *msg.ProviderMessageID == "" {
		return outcome, nil
	}

	cfg, err := s.bots.GetConfig(ctx, channelID)
	if err != nil {
		return outcome, err
	}
	if cfg == nil || cfg.Mode == domain.BotOff {
		return outcome, nil
	}

	if chat.BotPaused {
		logger.Debugf("Bot paused for chat %d, skipping", chat.ID)
		return outcome, nil
	}

	if !s.withinWindow(cfg) {
		logger.Debugf("Outside reply window for channel %s, skipping", channelID)
		return outcome, nil
	}

	providerMessageID := *msg.ProviderMessageID

	acquired, err := s.bots.TryMarkProcessing(ctx, channelID, providerMessageID, s.markerTTL)
	if err != nil {
		return outcome, err
	}
	if !acquired {
		logger.Debugf("Message %s already being handled, skipping", providerMessageID)
		return outcome, nil
	}

	decision, err := s.classify(ctx, cfg, channelID, chat, msg)
	if err != nil {
		s.releaseMarker(ctx, channelID, providerMessageID)
		return outcome, err
	}

	s.logInteraction(ctx, channelID, chat.ID, providerMessageID, msg.Body, decision)

	if err := s.act(ctx, cfg, chat, decision); err != nil {
		s.releaseMarker(ctx, channelID, providerMessageID)
		return outcome, err
	}

	if err := s.bots.MarkCompleted(ctx, channelID, providerMessageID); err != nil {
		logger.Warnf("Failed to complete marker for %s: %v", providerMessageID, err)
	}

	outcome.Handled = true
	outcome.Action = decision.Action
	return outcome, nil
}

func (s *BotService) classify(
	ctx context.Context,
	cfg *domain.BotConfig,
	channelID string,
	chat *domain.Chat,
	msg *domain.Message,
) (*domain.BotDecision, error) {
	if cfg.ServiceURL == "" {
		return nil, fmt.Errorf("bot service URL not configured for channel %s", channelID)
	}

	apiKey := ""
	if cfg.APIKeyEnc != "" {
		var err error
		apiKey, err = s.cipher.Decrypt(cfg.APIKeyEnc)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt bot service key: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	ts := s.now().Unix()
	if msg.SentAt != nil {
		ts = msg.SentAt.Unix()
	}

	return s.replies.Classify(callCtx, cfg.ServiceURL, apiKey, botapi.ClassifyRequest{
		ChannelID:   channelID,
		ChatID:      chat.ID,
		ContactID:   chat.ProviderChatID,
		MessageID:   *msg.ProviderMessageID,
		MessageText: msg.Body,
		MessageType: string(msg.Type),
		Timestamp:   ts,
		ProviderID:  cfg.ProviderID,
	})
}

// act applies the mode-dependent effect of the decision.
func (s *BotService) act(
	ctx context.Context,
	cfg *domain.BotConfig,
	chat *domain.Chat,
	decision *domain.BotDecision,
) error {
	switch decision.Action {
	case domain.ActionReply:
		return s.actReply(ctx, cfg, chat, decision)

	case domain.ActionEscalate:
		if cfg.AutoPauseOnEscalate {
			if err := s.chats.SetBotPaused(ctx, chat.ID, true); err != nil {
				return fmt.Errorf("failed to pause chat on escalation: %w", err)
			}
			logger.Infof("Escalation paused bot for chat %d (%s)", chat.ID, decision.EscalateReason)
		}
		return nil

	case domain.ActionIgnore, domain.ActionWait:
		return nil

	default:
		logger.Warnf("Unknown bot action %q, ignoring", decision.Action)
		return nil
	}
}

func (s *BotService) actReply(
	ctx context.Context,
	cfg *domain.BotConfig,
	chat *domain.Chat,
	decision *domain.BotDecision,
) error {
	switch cfg.Mode {
	case domain.BotWatching:
		// Watching only observes; the learning log entry is the whole effect.
		return nil

	case domain.BotSemi:
		if s.drafts == nil {
			logger.Warnf("Draft store unavailable, dropping suggested reply for chat %d", chat.ID)
			return nil
		}
		return s.drafts.UpsertDraft(ctx, domain.ReplyDraft{
			ChannelID: cfg.ChannelID,
			ChatID:    chat.ID,
			ReplyText: decision.ReplyText,
			Intent:    decision.Intent,
			CreatedAt: s.now(),
		})

	case domain.BotFull:
		// Re-read the pause flag: a human may have paused the bot while the
		// classification call was in flight.
		fresh, err := s.chats.GetByID(ctx, chat.ID)
		if err != nil {
			return err
		}
		if fresh == nil || fresh.BotPaused {
			logger.Infof("Chat %d paused mid-call, dropping reply", chat.ID)
			return nil
		}

		delay := time.Duration(decision.ReplyDelayMs) * time.Millisecond
		if decision.ReplyDelayMs == 0 {
			delay = time.Duration(cfg.ReplyDelayMs) * time.Millisecond
		}

		if _, err := s.messages.CreateOutboundPending(ctx, cfg.ChannelID, chat.ID, domain.TypeText, decision.ReplyText); err != nil {
			return err
		}

		payload, err := json.Marshal(domain.SendPayload{
			To:   chat.ProviderChatID,
			Body: decision.ReplyText,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal reply payload: %w", err)
		}

		_, err = s.outbox.Enqueue(ctx, cfg.ChannelID, chat.ID, domain.TypeText, payload, s.maxAttempts, 0, delay)
		return err
	}

	return nil
}

// withinWindow reports whether the current channel-local time falls inside
// the configured auto-reply window. Absent bounds mean always-on; a window
// with start > end wraps past midnight.
func (s *BotService) withinWindow(cfg *domain.BotConfig) bool {
	if cfg.WindowStart == nil && cfg.WindowEnd == nil {
		return true
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warnf("Invalid timezone %q, treating window as always-on", cfg.Timezone)
		return true
	}

	now := s.now().In(loc)
	minute := now.Hour()*60 + now.Minute()

	start, startOK := parseClock(cfg.WindowStart)
	end, endOK := parseClock(cfg.WindowEnd)

	switch {
	case startOK && endOK:
		if start <= end {
			return minute >= start && minute < end
		}
		// Overnight range, e.g. 22:00-06:00.
		return minute >= start || minute < end
	case startOK:
		return minute >= start
	case endOK:
		return minute < end
	default:
		return true
	}
}

func parseClock(v *string) (int, bool) {
	if v == nil || *v == "" {
		return 0, false
	}

	t, err := time.Parse("15:04", *v)
	if err != nil {
		return 0, false
	}

	return t.Hour()*60 + t.Minute(), true
}

func (s *BotService) releaseMarker(ctx context.Context, channelID, providerMessageID string) {
	if err := s.bots.RemoveMarker(ctx, channelID, providerMessageID); err != nil {
		logger.Warnf("Failed to release marker for %s: %v", providerMessageID, err)
	}
}

func (s *BotService) logInteraction(
	ctx context.Context,
	channelID string,
	chatID int64,
	providerMessageID, inboundText string,
	decision *domain.BotDecision,
) {
	entry := domain.BotLearningEntry{
		ChannelID:         channelID,
		ChatID:            chatID,
		ProviderMessageID: providerMessageID,
		InboundText:       inboundText,
		Action:            decision.Action,
	}
	if decision.Intent != "" {
		entry.Intent = &decision.Intent
	}
	if decision.Confidence > 0 {
		entry.Confidence = &decision.Confidence
	}
	if decision.ReplyText != "" {
		entry.ReplyText = &decision.ReplyText
	}

	if err := s.bots.InsertLearning(ctx, entry); err != nil {
		logger.Warnf("Failed to log bot interaction for %s: %v", providerMessageID, err)
	}
}
