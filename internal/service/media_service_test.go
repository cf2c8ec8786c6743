package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaywire/messaging-relay/internal/domain"
	"github.com/relaywire/messaging-relay/pkg/gateway"
)

//
// Test fakes – only for this file.
//

type fakeMediaRepo struct {
	due []domain.MediaFetchJob

	completed       []int64
	rescheduleCalls []rescheduleCall
	failedCalls     []outboxMarkFailedCall
}

func (r *fakeMediaRepo) ClaimDue(ctx context.Context, limit int) ([]domain.MediaFetchJob, error) {
	if len(r.due) <= limit {
		return r.due, nil
	}
	return r.due[:limit], nil
}

func (r *fakeMediaRepo) MarkCompleted(ctx context.Context, id int64) error {
	r.completed = append(r.completed, id)
	return nil
}

func (r *fakeMediaRepo) Reschedule(ctx context.Context, id int64, nextAttemptAt time.Time, lastError string) error {
	r.rescheduleCalls = append(r.rescheduleCalls, rescheduleCall{id: id, nextAttemptAt: nextAttemptAt, lastError: lastError})
	return nil
}

func (r *fakeMediaRepo) MarkFailed(ctx context.Context, id int64, lastError string) error {
	r.failedCalls = append(r.failedCalls, outboxMarkFailedCall{id: id, lastError: lastError})
	return nil
}

type fakeMediaMessages struct {
	updates []mediaUpdate
	err     error
}

type mediaUpdate struct {
	messageID int64
	media     domain.ResolvedMedia
}

func (s *fakeMediaMessages) UpdateMedia(ctx context.Context, id int64, media domain.ResolvedMedia) error {
	if s.err != nil {
		return s.err
	}
	s.updates = append(s.updates, mediaUpdate{messageID: id, media: media})
	return nil
}

type fakeMediaGateway struct {
	mediaInfo  *gateway.MediaInfo
	mediaErr   error
	message    *gateway.ProviderMessage
	messageErr error
	download   []byte
	mimeType   string
	downErr    error

	getMediaCalls   int
	getMessageCalls int
	downloadCalls   int
}

func (g *fakeMediaGateway) GetMedia(ctx context.Context, token, mediaID string) (*gateway.MediaInfo, error) {
	g.getMediaCalls++
	return g.mediaInfo, g.mediaErr
}

func (g *fakeMediaGateway) GetMessage(ctx context.Context, token, messageID string) (*gateway.ProviderMessage, error) {
	g.getMessageCalls++
	return g.message, g.messageErr
}

func (g *fakeMediaGateway) DownloadMedia(ctx context.Context, token, mediaID string) ([]byte, string, error) {
	g.downloadCalls++
	return g.download, g.mimeType, g.downErr
}

type fakeStorage struct {
	puts []storagePut
	err  error
}

type storagePut struct {
	path        string
	size        int
	contentType string
}

func (s *fakeStorage) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.puts = append(s.puts, storagePut{path: path, size: len(data), contentType: contentType})
	return "https://cdn.example.com/" + path, nil
}

func mediaJob(id int64, attempts, maxAttempts int) domain.MediaFetchJob {
	mediaID := "media-1"
	messageID := "m-1"
	return domain.MediaFetchJob{
		ID:                id,
		MessageID:         100,
		ChannelID:         "ch-1",
		ProviderMediaID:   &mediaID,
		ProviderMessageID: &messageID,
		MediaType:         domain.TypeImage,
		Status:            domain.MediaProcessing,
		Attempts:          attempts,
		MaxAttempts:       maxAttempts,
	}
}

func mediaChannels() *fakeChannelStore {
	ch := activeChannel("ch-1")
	ch.WorkspaceID = "ws-1"
	return &fakeChannelStore{channels: map[string]*domain.Channel{"ch-1": ch}}
}

//
// Tests
//

func TestMediaRunBatch_MetadataStrategyWins(t *testing.T) {
	ctx := context.Background()

	repo := &fakeMediaRepo{due: []domain.MediaFetchJob{mediaJob(1, 1, 3)}}
	messages := &fakeMediaMessages{}
	gw := &fakeMediaGateway{
		mediaInfo: &gateway.MediaInfo{ID: "media-1", URL: "https://media.example.com/x.jpg", MimeType: "image/jpeg", FileSize: 1234},
	}
	store := &fakeStorage{}

	svc := NewMediaService(repo, messages, mediaChannels(), gw, store, plainCipher{})

	batch, err := svc.RunBatch(ctx, 10)
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}

	if batch.Succeeded != 1 {
		t.Fatalf("expected success, got %+v", batch)
	}

	if len(messages.updates) != 1 {
		t.Fatalf("expected one media update, got %d", len(messages.updates))
	}
	update := messages.updates[0]
	if update.messageID != 100 || update.media.URL != "https://media.example.com/x.jpg" {
		t.Errorf("unexpected update: %+v", update)
	}

	// The cheaper strategy won; nothing further runs.
	if gw.getMessageCalls != 0 || gw.downloadCalls != 0 {
		t.Fatalf("later strategies must not run after a hit")
	}
	if len(repo.completed) != 1 || repo.completed[0] != 1 {
		t.Fatalf("expected job 1 completed, got %+v", repo.completed)
	}
}

func TestMediaRunBatch_FallsThroughToMessageLookup(t *testing.T) {
	ctx := context.Background()

	repo := &fakeMediaRepo{due: []domain.MediaFetchJob{mediaJob(1, 1, 3)}}
	messages := &fakeMediaMessages{}
	gw := &fakeMediaGateway{
		mediaErr: errors.New("metadata endpoint down"),
		message: &gateway.ProviderMessage{
			Image: &gateway.MediaInfo{Link: "https://media.example.com/from-message.jpg", MimeType: "image/jpeg"},
		},
	}

	svc := NewMediaService(repo, messages, mediaChannels(), gw, &fakeStorage{}, plainCipher{})

	if _, err := svc.RunBatch(ctx, 10); err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}

	if gw.getMessageCalls != 1 {
		t.Fatalf("expected message lookup fallback")
	}
	if len(messages.updates) != 1 || messages.updates[0].media.URL != "https://media.example.com/from-message.jpg" {
		t.Fatalf("expected link from message lookup, got %+v", messages.updates)
	}
}

func TestMediaRunBatch_RawDownloadUploadsToStorage(t *testing.T) {
	ctx := context.Background()

	repo := &fakeMediaRepo{due: []domain.MediaFetchJob{mediaJob(1, 1, 3)}}
	messages := &fakeMediaMessages{}
	gw := &fakeMediaGateway{
		mediaErr:   errors.New("no metadata"),
		messageErr: errors.New("no message"),
		download:   []byte("jpeg bytes"),
		mimeType:   "image/jpeg",
	}
	store := &fakeStorage{}

	svc := NewMediaService(repo, messages, mediaChannels(), gw, store, plainCipher{})

	if _, err := svc.RunBatch(ctx, 10); err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}

	if len(store.puts) != 1 {
		t.Fatalf("expected one storage upload, got %d", len(store.puts))
	}
	put := store.puts[0]
	if put.path != "ws-1/image/media-1" {
		t.Errorf("unexpected storage path %q", put.path)
	}
	if put.contentType != "image/jpeg" {
		t.Errorf("unexpected content type %q", put.contentType)
	}

	if len(messages.updates) != 1 {
		t.Fatalf("expected media update, got %d", len(messages.updates))
	}
	media := messages.updates[0].media
	if media.StoragePath != "ws-1/image/media-1" || media.SizeBytes != int64(len("jpeg bytes")) {
		t.Errorf("unexpected resolved media: %+v", media)
	}
}

func TestMediaRunBatch_AllStrategiesFailReschedules(t *testing.T) {
	ctx := context.Background()

	repo := &fakeMediaRepo{due: []domain.MediaFetchJob{mediaJob(1, 1, 3)}}
	messages := &fakeMediaMessages{}
	gw := &fakeMediaGateway{
		mediaErr:   errors.New("down"),
		messageErr: errors.New("down"),
		downErr:    errors.New("down"),
	}

	svc := NewMediaService(repo, messages, mediaChannels(), gw, &fakeStorage{}, plainCipher{})

	before := time.Now()
	batch, err := svc.RunBatch(ctx, 10)
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}

	if batch.Failed != 1 {
		t.Fatalf("expected failure counted, got %+v", batch)
	}
	if len(repo.rescheduleCalls) != 1 {
		t.Fatalf("expected one reschedule, got %d", len(repo.rescheduleCalls))
	}

	delay := repo.rescheduleCalls[0].nextAttemptAt.Sub(before)
	if delay < time.Minute || delay > time.Minute+5*time.Second {
		t.Errorf("first retry should back off ~1m, got %s", delay)
	}
	if len(messages.updates) != 0 {
		t.Fatalf("message must stay untouched on failure")
	}
}

func TestMediaRunBatch_AttemptLimitFailsTerminally(t *testing.T) {
	ctx := context.Background()

	repo := &fakeMediaRepo{due: []domain.MediaFetchJob{mediaJob(9, 3, 3)}}
	gw := &fakeMediaGateway{
		mediaErr:   errors.New("down"),
		messageErr: errors.New("down"),
		downErr:    errors.New("down"),
	}

	svc := NewMediaService(repo, &fakeMediaMessages{}, mediaChannels(), gw, &fakeStorage{}, plainCipher{})

	if _, err := svc.RunBatch(ctx, 10); err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}

	if len(repo.rescheduleCalls) != 0 {
		t.Fatalf("expected no reschedule past the limit")
	}
	if len(repo.failedCalls) != 1 || repo.failedCalls[0].id != 9 {
		t.Fatalf("expected job 9 failed terminally, got %+v", repo.failedCalls)
	}
	if repo.failedCalls[0].lastError == "" {
		t.Errorf("expected last error recorded")
	}
}

func TestMediaRunBatch_UndecryptableTokenFailsWithoutRetry(t *testing.T) {
	ctx := context.Background()

	repo := &fakeMediaRepo{due: []domain.MediaFetchJob{mediaJob(1, 1, 3)}}
	gw := &fakeMediaGateway{}

	svc := NewMediaService(repo, &fakeMediaMessages{}, mediaChannels(), gw, &fakeStorage{}, brokenCipher{})

	if _, err := svc.RunBatch(ctx, 10); err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}

	if len(repo.failedCalls) != 1 {
		t.Fatalf("expected terminal failure on bad token, got %+v", repo.failedCalls)
	}
	if len(repo.rescheduleCalls) != 0 {
		t.Fatalf("bad token must not be retried")
	}
	if gw.getMediaCalls != 0 {
		t.Fatalf("gateway must not be called without a token")
	}
}
