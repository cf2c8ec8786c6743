package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/relaywire/messaging-relay/internal/domain"
)

// OutboxRepository handles database operations for the outbound send queue.
type OutboxRepository struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

const outboxColumns = `id, channel_id, chat_id, message_type, payload, status, attempts,
	max_attempts, next_attempt_at, priority, last_error, provider_message_id, sent_at,
	created_at, updated_at`

// Enqueue inserts a new queued entry. delay shifts next_attempt_at for
// deferred sends (bot reply delay).
func (r *OutboxRepository) Enqueue(
	ctx context.Context,
	channelID string,
	chatID int64,
	msgType domain.MessageType,
	payload []byte,
	maxAttempts, priority int,
	delay time.Duration,
) (int64, error) {
	query := `
		INSERT INTO outbox_entries
			(channel_id, chat_id, message_type, payload, status, max_attempts, priority, next_attempt_at)
		VALUES (?, ?, ?, ?, 'queued', ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		channelID, chatID, msgType, payload, maxAttempts, priority, time.Now().Add(delay),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue outbox entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return id, nil
}

// ClaimDue atomically claims up to limit due entries. The selected rows are
// locked with SKIP LOCKED so concurrent workers never pick the same entry,
// then flipped to sending with attempts bumped in the same transaction.
func (r *OutboxRepository) ClaimDue(ctx context.Context, limit int) ([]domain.OutboxEntry, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	selectQuery := `
		SELECT ` + outboxColumns + `
		FROM outbox_entries
		WHERE status = 'queued' AND next_attempt_at <= NOW()
		ORDER BY priority DESC, created_at ASC
		LIMIT ?
		FOR UPDATE SKIP LOCKED
	`

	var entries []domain.OutboxEntry
	if err := tx.SelectContext(ctx, &entries, selectQuery, limit); err != nil {
		return nil, fmt.Errorf("failed to select due entries: %w", err)
	}

	if len(entries) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}

	updateQuery, args, err := sqlx.In(
		`UPDATE outbox_entries
		 SET status = 'sending', attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id IN (?)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build claim update: %w", err)
	}

	if _, err := tx.ExecContext(ctx, r.db.Rebind(updateQuery), args...); err != nil {
		return nil, fmt.Errorf("failed to mark entries sending: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	for i := range entries {
		entries[i].Status = domain.OutboxSending
		entries[i].Attempts++
	}

	return entries, nil
}

// MarkSent finishes a successfully delivered entry.
func (r *OutboxRepository) MarkSent(ctx context.Context, id int64, providerMessageID string, sentAt time.Time) error {
	query := `
		UPDATE outbox_entries
		SET status = 'sent', provider_message_id = ?, sent_at = ?, last_error = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, providerMessageID, sentAt, id); err != nil {
		return fmt.Errorf("failed to mark entry sent: %w", err)
	}

	return nil
}

// Reschedule puts a retryable entry back in the queue at nextAttemptAt.
func (r *OutboxRepository) Reschedule(ctx context.Context, id int64, nextAttemptAt time.Time, lastError string) error {
	query := `
		UPDATE outbox_entries
		SET status = 'queued', next_attempt_at = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, nextAttemptAt, lastError, id); err != nil {
		return fmt.Errorf("failed to reschedule entry: %w", err)
	}

	return nil
}

// MarkFailed terminally fails an entry.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	query := `
		UPDATE outbox_entries
		SET status = 'failed', last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, lastError, id); err != nil {
		return fmt.Errorf("failed to mark entry failed: %w", err)
	}

	return nil
}

// PauseChannelEntries parks every queued entry of a rate-limited channel.
// Other channels' entries are untouched.
func (r *OutboxRepository) PauseChannelEntries(ctx context.Context, channelID string) (int64, error) {
	query := `
		UPDATE outbox_entries
		SET status = 'paused', updated_at = CURRENT_TIMESTAMP
		WHERE channel_id = ? AND status = 'queued'
	`

	result, err := r.db.ExecContext(ctx, query, channelID)
	if err != nil {
		return 0, fmt.Errorf("failed to pause channel entries: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}

// ResumeChannelEntries releases paused entries once a channel recovers.
func (r *OutboxRepository) ResumeChannelEntries(ctx context.Context, channelID string) (int64, error) {
	query := `
		UPDATE outbox_entries
		SET status = 'queued', updated_at = CURRENT_TIMESTAMP
		WHERE channel_id = ? AND status = 'paused'
	`

	result, err := r.db.ExecContext(ctx, query, channelID)
	if err != nil {
		return 0, fmt.Errorf("failed to resume channel entries: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}

// ReplayFailed requeues terminally failed entries with a fresh attempt
// budget.
func (r *OutboxRepository) ReplayFailed(ctx context.Context) (int64, error) {
	query := `
		UPDATE outbox_entries
		SET status = 'queued',
		    attempts = 0,
		    next_attempt_at = CURRENT_TIMESTAMP,
		    last_error = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE status = 'failed'
	`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to replay failed entries: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}
