package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/relaywire/messaging-relay/environments"
	"github.com/relaywire/messaging-relay/internal/domain"
	"github.com/relaywire/messaging-relay/pkg/logger"
)

// Client stores chat-scoped bot reply drafts as TTL keys. Drafts expire on
// their own after draftTTL, which is the whole approval contract in semi
// mode: an unapproved draft simply disappears.
type Client struct {
	client   valkey.Client
	draftTTL time.Duration
}

const draftKeyPrefix = "bot_draft:"

func NewRedisClient(cfg environments.RedisConfig, draftTTL time.Duration) (*Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Valkey client: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infof("Connected to Redis (via Valkey client)")

	return &Client{client: client, draftTTL: draftTTL}, nil
}

func draftKey(channelID string, chatID int64) string {
	return fmt.Sprintf("%s%s:%d", draftKeyPrefix, channelID, chatID)
}

// UpsertDraft stores (or replaces) the suggested reply for a chat. The key
// carries the expiry so repeated suggestions keep refreshing the window.
func (c *Client) UpsertDraft(ctx context.Context, draft domain.ReplyDraft) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("failed to marshal draft: %w", err)
	}

	key := draftKey(draft.ChannelID, draft.ChatID)

	err = c.client.Do(ctx, c.client.B().Set().Key(key).Value(string(data)).Ex(c.draftTTL).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to store draft: %w", err)
	}

	logger.Debugf("Stored reply draft for chat %d on channel %s", draft.ChatID, draft.ChannelID)

	return nil
}

// GetDraft returns the pending draft for a chat, or nil when none exists.
func (c *Client) GetDraft(ctx context.Context, channelID string, chatID int64) (*domain.ReplyDraft, error) {
	result := c.client.Do(ctx, c.client.B().Get().Key(draftKey(channelID, chatID)).Build())
	if result.Error() != nil {
		if valkey.IsValkeyNil(result.Error()) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get draft: %w", result.Error())
	}

	data, err := result.ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to read draft: %w", err)
	}

	var draft domain.ReplyDraft
	if err := json.Unmarshal([]byte(data), &draft); err != nil {
		return nil, fmt.Errorf("failed to unmarshal draft: %w", err)
	}

	return &draft, nil
}

// DeleteDraft removes a chat's draft, for when a human approves or discards it.
func (c *Client) DeleteDraft(ctx context.Context, channelID string, chatID int64) error {
	return c.client.Do(ctx, c.client.B().Del().Key(draftKey(channelID, chatID)).Build()).Error()
}

func (c *Client) Close() error {
	c.client.Close()
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}
