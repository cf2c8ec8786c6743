package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/relaywire/messaging-relay/internal/domain"
	"github.com/relaywire/messaging-relay/pkg/gateway"
	"github.com/relaywire/messaging-relay/pkg/logger"
)

// Small internal interfaces so the dispatcher can be tested with fakes.
type outboxRepository interface {
	ClaimDue(ctx context.Context, limit int) ([]domain.OutboxEntry, error)
	MarkSent(ctx context.Context, id int64, providerMessageID string, sentAt time.Time) error
	Reschedule(ctx context.Context, id int64, nextAttemptAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
	PauseChannelEntries(ctx context.Context, channelID string) (int64, error)
}

type channelReader interface {
	GetByID(ctx context.Context, id string) (*domain.Channel, error)
	UpdateStatus(ctx context.Context, id string, status domain.ChannelStatus, snapshot domain.HealthSnapshot) error
}

type outboundMessageStore interface {
	AttachProviderID(ctx context.Context, chatID int64, providerMessageID string, sentAt time.Time) error
	FailPendingOutbound(ctx context.Context, chatID int64) error
}

type sendGateway interface {
	Send(ctx context.Context, token string, msgType domain.MessageType, payload domain.SendPayload) (string, error)
}

type tokenCipher interface {
	Decrypt(ciphertext string) (string, error)
}

// OutboxService drains the outbound send queue.
type OutboxService struct {
	outbox   outboxRepository
	channels channelReader
	messages outboundMessageStore
	gateway  sendGateway
	cipher   tokenCipher
}

func NewOutboxService(
	outbox outboxRepository,
	channels channelReader,
	messages outboundMessageStore,
	gw sendGateway,
	cipher tokenCipher,
) *OutboxService {
	return &OutboxService{
		outbox:   outbox,
		channels: channels,
		messages: messages,
		gateway:  gw,
		cipher:   cipher,
	}
}

// RunBatch claims up to limit due entries and dispatches them. Claimed
// entries are independent, so they are sent concurrently; every per-entry
// error is recorded on that entry and never fails the batch.
func (s *OutboxService) RunBatch(ctx context.Context, limit int) (*domain.BatchResult, error) {
	entries, err := s.outbox.ClaimDue(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox entries: %w", err)
	}

	if len(entries) == 0 {
		logger.Debugf("No due outbox entries to process")
		return &domain.BatchResult{}, nil
	}

	logger.Infof("Dispatching %d outbox entries", len(entries))

	results := make([]domain.SendResult, len(entries))

	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry domain.OutboxEntry) {
			defer wg.Done()
			results[i] = s.dispatch(ctx, &entry)
		}(i, entry)
	}
	wg.Wait()

	batch := &domain.BatchResult{Results: results}
	for _, r := range results {
		batch.Processed++
		if r.Success {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
	}

	logger.Infof("Outbox batch done: %d processed, %d sent, %d failed",
		batch.Processed, batch.Succeeded, batch.Failed)

	return batch, nil
}

func (s *OutboxService) dispatch(ctx context.Context, entry *domain.OutboxEntry) domain.SendResult {
	result := domain.SendResult{EntryID: entry.ID}

	// The token is fetched at send time, never cached; it may have rotated
	// since the entry was queued.
	channel, err := s.channels.GetByID(ctx, entry.ChannelID)
	if err != nil {
		return s.retryOrFail(ctx, entry, result, err)
	}
	if channel == nil {
		return s.fail(ctx, entry, result, fmt.Errorf("channel %s not found", entry.ChannelID))
	}
	if channel.Status == domain.ChannelStopped {
		return s.fail(ctx, entry, result, fmt.Errorf("channel %s is stopped", entry.ChannelID))
	}

	token, err := s.cipher.Decrypt(channel.APITokenEnc)
	if err != nil {
		return s.fail(ctx, entry, result, fmt.Errorf("failed to decrypt channel token: %w", err))
	}

	var payload domain.SendPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return s.fail(ctx, entry, result, fmt.Errorf("invalid payload: %w", err))
	}

	providerMessageID, err := s.gateway.Send(ctx, token, entry.MessageType, payload)
	if err != nil {
		if gateway.IsRateLimited(err) {
			s.pauseChannel(ctx, entry.ChannelID, err)
			// The failing entry itself is rescheduled like any retryable
			// failure so it runs again once the channel recovers.
		}
		if gateway.IsRetryable(err) {
			return s.retryOrFail(ctx, entry, result, err)
		}
		return s.fail(ctx, entry, result, err)
	}

	sentAt := time.Now()

	if err := s.outbox.MarkSent(ctx, entry.ID, providerMessageID, sentAt); err != nil {
		logger.Errorf("Failed to mark entry %d sent: %v", entry.ID, err)
		result.Error = err.Error()
		return result
	}

	// Recency heuristic: the provider id lands on the newest pending
	// outbound message of the chat.
	if err := s.messages.AttachProviderID(ctx, entry.ChatID, providerMessageID, sentAt); err != nil {
		logger.Warnf("Failed to attach provider id to message for chat %d: %v", entry.ChatID, err)
	}

	logger.Infof("Sent outbox entry %d (provider message %s)", entry.ID, providerMessageID)

	result.Success = true
	result.ProviderMessageID = providerMessageID
	return result
}

// retryOrFail reschedules with exponential backoff while the attempt budget
// lasts, then fails terminally.
func (s *OutboxService) retryOrFail(
	ctx context.Context,
	entry *domain.OutboxEntry,
	result domain.SendResult,
	cause error,
) domain.SendResult {
	if entry.Attempts >= entry.MaxAttempts {
		return s.fail(ctx, entry, result, fmt.Errorf("attempt limit reached: %w", cause))
	}

	nextAt := time.Now().Add(domain.Backoff(entry.Attempts))

	if err := s.outbox.Reschedule(ctx, entry.ID, nextAt, cause.Error()); err != nil {
		logger.Errorf("Failed to reschedule entry %d: %v", entry.ID, err)
	} else {
		logger.Warnf("Entry %d attempt %d/%d failed, retrying at %s: %v",
			entry.ID, entry.Attempts, entry.MaxAttempts, nextAt.Format(time.RFC3339), cause)
	}

	result.Error = cause.Error()
	return result
}

func (s *OutboxService) fail(
	ctx context.Context,
	entry *domain.OutboxEntry,
	result domain.SendResult,
	cause error,
) domain.SendResult {
	logger.Errorf("Entry %d failed terminally: %v", entry.ID, cause)

	if err := s.outbox.MarkFailed(ctx, entry.ID, cause.Error()); err != nil {
		logger.Errorf("Failed to mark entry %d failed: %v", entry.ID, err)
	}

	if err := s.messages.FailPendingOutbound(ctx, entry.ChatID); err != nil {
		logger.Warnf("Failed to fail pending message for chat %d: %v", entry.ChatID, err)
	}

	result.Error = cause.Error()
	return result
}

// pauseChannel reacts to a provider 429: the channel goes degraded with a
// recorded pause reason and all of its queued entries are parked.
func (s *OutboxService) pauseChannel(ctx context.Context, channelID string, cause error) {
	now := time.Now()
	snapshot := domain.HealthSnapshot{
		Status:      domain.ChannelDegraded,
		PauseReason: cause.Error(),
		PausedAt:    &now,
		CheckedAt:   now,
	}

	if err := s.channels.UpdateStatus(ctx, channelID, domain.ChannelDegraded, snapshot); err != nil {
		logger.Errorf("Failed to degrade channel %s: %v", channelID, err)
	}

	paused, err := s.outbox.PauseChannelEntries(ctx, channelID)
	if err != nil {
		logger.Errorf("Failed to pause entries for channel %s: %v", channelID, err)
		return
	}

	logger.Warnf("Channel %s rate-limited: paused %d queued entries", channelID, paused)
}
