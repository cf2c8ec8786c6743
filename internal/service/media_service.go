package service

import (
	"context"
	"fmt"
	"time"

	"github.com/relaywire/messaging-relay/internal/domain"
	"github.com/relaywire/messaging-relay/pkg/gateway"
	"github.com/relaywire/messaging-relay/pkg/logger"
)

type mediaRepository interface {
	ClaimDue(ctx context.Context, limit int) ([]domain.MediaFetchJob, error)
	MarkCompleted(ctx context.Context, id int64) error
	Reschedule(ctx context.Context, id int64, nextAttemptAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
}

type mediaMessageStore interface {
	UpdateMedia(ctx context.Context, id int64, media domain.ResolvedMedia) error
}

type mediaGateway interface {
	GetMedia(ctx context.Context, token, mediaID string) (*gateway.MediaInfo, error)
	GetMessage(ctx context.Context, token, messageID string) (*gateway.ProviderMessage, error)
	DownloadMedia(ctx context.Context, token, mediaID string) ([]byte, string, error)
}

type objectStorage interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

type mediaChannelReader interface {
	GetByID(ctx context.Context, id string) (*domain.Channel, error)
}

// MediaService resolves remote media for inbound messages into durable
// URLs, trying strategies in order until one yields a result.
type MediaService struct {
	jobs     mediaRepository
	messages mediaMessageStore
	channels mediaChannelReader
	gateway  mediaGateway
	storage  objectStorage
	cipher   tokenCipher
}

func NewMediaService(
	jobs mediaRepository,
	messages mediaMessageStore,
	channels mediaChannelReader,
	gw mediaGateway,
	storage objectStorage,
	cipher tokenCipher,
) *MediaService {
	return &MediaService{
		jobs:     jobs,
		messages: messages,
		channels: channels,
		gateway:  gw,
		storage:  storage,
		cipher:   cipher,
	}
}

// RunBatch claims up to limit due jobs and resolves them. Per-job errors
// are recorded on the job and never fail the batch.
func (s *MediaService) RunBatch(ctx context.Context, limit int) (*domain.BatchResult, error) {
	jobs, err := s.jobs.ClaimDue(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim media jobs: %w", err)
	}

	if len(jobs) == 0 {
		logger.Debugf("No due media jobs to process")
		return &domain.BatchResult{}, nil
	}

	logger.Infof("Resolving %d media jobs", len(jobs))

	batch := &domain.BatchResult{}

	for _, job := range jobs {
		result := s.resolve(ctx, &job)
		batch.Processed++
		if result.Success {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
		batch.Results = append(batch.Results, result)
	}

	logger.Infof("Media batch done: %d processed, %d resolved, %d failed",
		batch.Processed, batch.Succeeded, batch.Failed)

	return batch, nil
}

func (s *MediaService) resolve(ctx context.Context, job *domain.MediaFetchJob) domain.SendResult {
	result := domain.SendResult{EntryID: job.ID}

	channel, err := s.channels.GetByID(ctx, job.ChannelID)
	if err != nil || channel == nil {
		return s.retryOrFailJob(ctx, job, result, fmt.Errorf("channel %s unavailable: %v", job.ChannelID, err))
	}

	token, err := s.cipher.Decrypt(channel.APITokenEnc)
	if err != nil {
		s.failJob(ctx, job, fmt.Errorf("failed to decrypt channel token: %w", err))
		result.Error = "failed to decrypt channel token"
		return result
	}

	media := s.tryStrategies(ctx, token, channel.WorkspaceID, job)
	if media == nil {
		return s.retryOrFailJob(ctx, job, result, fmt.Errorf("all media strategies failed"))
	}

	if err := s.messages.UpdateMedia(ctx, job.MessageID, *media); err != nil {
		return s.retryOrFailJob(ctx, job, result, err)
	}

	if err := s.jobs.MarkCompleted(ctx, job.ID); err != nil {
		logger.Errorf("Failed to mark media job %d completed: %v", job.ID, err)
		result.Error = err.Error()
		return result
	}

	logger.Infof("Resolved media for message %d (job %d)", job.MessageID, job.ID)

	result.Success = true
	return result
}

// tryStrategies walks the resolution chain: metadata lookup, message
// lookup, raw download + storage upload. A strategy failure falls through
// silently to the next.
func (s *MediaService) tryStrategies(
	ctx context.Context,
	token, workspaceID string,
	job *domain.MediaFetchJob,
) *domain.ResolvedMedia {
	if media := s.fromMediaMetadata(ctx, token, job); media != nil {
		return media
	}
	if media := s.fromMessageLookup(ctx, token, job); media != nil {
		return media
	}
	return s.fromRawDownload(ctx, token, workspaceID, job)
}

func (s *MediaService) fromMediaMetadata(ctx context.Context, token string, job *domain.MediaFetchJob) *domain.ResolvedMedia {
	if job.ProviderMediaID == nil || *job.ProviderMediaID == "" {
		return nil
	}

	info, err := s.gateway.GetMedia(ctx, token, *job.ProviderMediaID)
	if err != nil {
		logger.Debugf("Media metadata strategy failed for job %d: %v", job.ID, err)
		return nil
	}
	if info == nil || info.DirectURL() == "" {
		return nil
	}

	return &domain.ResolvedMedia{
		URL:       info.DirectURL(),
		MimeType:  info.MimeType,
		SizeBytes: info.FileSize,
	}
}

func (s *MediaService) fromMessageLookup(ctx context.Context, token string, job *domain.MediaFetchJob) *domain.ResolvedMedia {
	if job.ProviderMessageID == nil || *job.ProviderMessageID == "" {
		return nil
	}

	msg, err := s.gateway.GetMessage(ctx, token, *job.ProviderMessageID)
	if err != nil {
		logger.Debugf("Message lookup strategy failed for job %d: %v", job.ID, err)
		return nil
	}
	if msg == nil {
		return nil
	}

	info := msg.MediaOfType(job.MediaType)
	if info == nil || info.DirectURL() == "" {
		return nil
	}

	return &domain.ResolvedMedia{
		URL:       info.DirectURL(),
		MimeType:  info.MimeType,
		SizeBytes: info.FileSize,
	}
}

func (s *MediaService) fromRawDownload(
	ctx context.Context,
	token, workspaceID string,
	job *domain.MediaFetchJob,
) *domain.ResolvedMedia {
	if job.ProviderMediaID == nil || *job.ProviderMediaID == "" {
		return nil
	}

	data, contentType, err := s.gateway.DownloadMedia(ctx, token, *job.ProviderMediaID)
	if err != nil {
		logger.Debugf("Raw download strategy failed for job %d: %v", job.ID, err)
		return nil
	}
	if len(data) == 0 {
		return nil
	}

	path := fmt.Sprintf("%s/%s/%s", workspaceID, job.MediaType, *job.ProviderMediaID)

	url, err := s.storage.Put(ctx, path, data, contentType)
	if err != nil {
		logger.Warnf("Storage upload failed for job %d: %v", job.ID, err)
		return nil
	}

	return &domain.ResolvedMedia{
		URL:         url,
		StoragePath: path,
		MimeType:    contentType,
		SizeBytes:   int64(len(data)),
	}
}

func (s *MediaService) retryOrFailJob(
	ctx context.Context,
	job *domain.MediaFetchJob,
	result domain.SendResult,
	cause error,
) domain.SendResult {
	if job.Attempts >= job.MaxAttempts {
		s.failJob(ctx, job, cause)
		result.Error = cause.Error()
		return result
	}

	nextAt := time.Now().Add(domain.Backoff(job.Attempts))

	if err := s.jobs.Reschedule(ctx, job.ID, nextAt, cause.Error()); err != nil {
		logger.Errorf("Failed to reschedule media job %d: %v", job.ID, err)
	} else {
		logger.Warnf("Media job %d attempt %d/%d failed, retrying at %s: %v",
			job.ID, job.Attempts, job.MaxAttempts, nextAt.Format(time.RFC3339), cause)
	}

	result.Error = cause.Error()
	return result
}

func (s *MediaService) failJob(ctx context.Context, job *domain.MediaFetchJob, cause error) {
	logger.Errorf("Media job %d failed terminally: %v", job.ID, cause)

	if err := s.jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		logger.Errorf("Failed to mark media job %d failed: %v", job.ID, err)
	}
}
