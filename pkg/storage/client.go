package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/relaywire/messaging-relay/environments"
)

// Client uploads media bytes into durable object storage over its HTTP API
// and returns the public URL. The storage service itself is an external
// collaborator; this is just its put contract.
type Client struct {
	httpClient *resty.Client
	publicURL  string
}

func NewClient(cfg environments.StorageConfig) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.AuthToken)

	return &Client{
		httpClient: client,
		publicURL:  strings.TrimRight(cfg.PublicURL, "/"),
	}
}

// Put stores the bytes under path and returns the public URL to serve them.
func (c *Client) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(data).
		Put("/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return "", fmt.Errorf("storage upload failed: %w", err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", fmt.Errorf("storage upload returned status %d", resp.StatusCode())
	}

	return c.publicURL + "/" + strings.TrimLeft(path, "/"), nil
}
