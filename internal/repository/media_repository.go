package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/relaywire/messaging-relay/internal/domain"
)

// MediaRepository handles database operations for the media-fetch queue.
// Same claim discipline as the outbox.
type MediaRepository struct {
	db *sqlx.DB
}

func NewMediaRepository(db *sqlx.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

const mediaColumns = `id, message_id, channel_id, provider_media_id, provider_message_id,
	media_type, status, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at`

func (r *MediaRepository) Enqueue(
	ctx context.Context,
	messageID int64,
	channelID string,
	providerMediaID, providerMessageID *string,
	mediaType domain.MessageType,
	maxAttempts int,
) (int64, error) {
	query := `
		INSERT INTO media_fetch_jobs
			(message_id, channel_id, provider_media_id, provider_message_id, media_type, status, max_attempts)
		VALUES (?, ?, ?, ?, ?, 'pending', ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		messageID, channelID, providerMediaID, providerMessageID, mediaType, maxAttempts,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue media job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return id, nil
}

// ClaimDue atomically claims up to limit due jobs with SKIP LOCKED and
// flips them to processing with attempts bumped.
func (r *MediaRepository) ClaimDue(ctx context.Context, limit int) ([]domain.MediaFetchJob, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	selectQuery := `
		SELECT ` + mediaColumns + `
		FROM media_fetch_jobs
		WHERE status = 'pending' AND next_attempt_at <= NOW()
		ORDER BY created_at ASC
		LIMIT ?
		FOR UPDATE SKIP LOCKED
	`

	var jobs []domain.MediaFetchJob
	if err := tx.SelectContext(ctx, &jobs, selectQuery, limit); err != nil {
		return nil, fmt.Errorf("failed to select due jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]int64, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}

	updateQuery, args, err := sqlx.In(
		`UPDATE media_fetch_jobs
		 SET status = 'processing', attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id IN (?)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build claim update: %w", err)
	}

	if _, err := tx.ExecContext(ctx, r.db.Rebind(updateQuery), args...); err != nil {
		return nil, fmt.Errorf("failed to mark jobs processing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	for i := range jobs {
		jobs[i].Status = domain.MediaProcessing
		jobs[i].Attempts++
	}

	return jobs, nil
}

func (r *MediaRepository) MarkCompleted(ctx context.Context, id int64) error {
	query := `
		UPDATE media_fetch_jobs
		SET status = 'completed', last_error = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	return nil
}

func (r *MediaRepository) Reschedule(ctx context.Context, id int64, nextAttemptAt time.Time, lastError string) error {
	query := `
		UPDATE media_fetch_jobs
		SET status = 'pending', next_attempt_at = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, nextAttemptAt, lastError, id); err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}

	return nil
}

func (r *MediaRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	query := `
		UPDATE media_fetch_jobs
		SET status = 'failed', last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, lastError, id); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	return nil
}
